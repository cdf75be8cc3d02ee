package detectors

import (
	"fmt"
	"sort"

	"github.com/Terrxnce/DEVI-sub000/internal/logger"
	"github.com/Terrxnce/DEVI-sub000/internal/structure"
)

// Activity is the per-detector observability counter pair. Both values only
// grow; a detector that never fires on real data is a correctness signal.
type Activity struct {
	BarsEvaluated   uint64 `json:"bars_evaluated"`
	StructuresFired uint64 `json:"structures_fired"`
}

// ManagerConfig bounds the merged structure set.
type ManagerConfig struct {
	// CapPerType limits concurrently active (unfilled/partial) structures
	// per type. Zero falls back to DefaultCapPerType.
	CapPerType map[structure.Type]int `mapstructure:"cap_per_type"`
}

// DefaultCapPerType is applied when a type has no explicit cap.
const DefaultCapPerType = 4

// Outcome is the per-bar result of running every detector.
type Outcome struct {
	// Ranked is the surviving active set, overlap-deduplicated within each
	// type and ordered by quality descending.
	Ranked []*structure.Structure
	// Fired lists structures newly admitted this bar.
	Fired []*structure.Structure
	// Transitions lists every lifecycle change applied this bar.
	Transitions []Transition
}

// Manager runs all registered detectors for each bar, applies lifecycle
// advances, deduplicates and caps candidates, and maintains the read/rank
// view keyed by id. Detector failures are isolated: one broken detector
// never stops the bar.
type Manager struct {
	detectors []Detector
	cfg       ManagerConfig

	active   map[structure.Type][]*structure.Structure
	byID     map[string]*structure.Structure
	activity map[string]*Activity
}

// NewManager registers the closed detector set. Registration order is fixed
// by the caller and determines evaluation order, which keeps runs replayable.
func NewManager(cfg ManagerConfig, dets ...Detector) (*Manager, error) {
	if len(dets) == 0 {
		return nil, fmt.Errorf("manager: no detectors registered")
	}
	m := &Manager{
		detectors: dets,
		cfg:       cfg,
		active:    make(map[structure.Type][]*structure.Structure),
		byID:      make(map[string]*structure.Structure),
		activity:  make(map[string]*Activity, len(dets)),
	}
	for _, d := range dets {
		if _, dup := m.activity[d.Name()]; dup {
			return nil, fmt.Errorf("manager: duplicate detector %q", d.Name())
		}
		m.activity[d.Name()] = &Activity{}
	}
	return m, nil
}

func (m *Manager) capFor(t structure.Type) int {
	if c, ok := m.cfg.CapPerType[t]; ok && c > 0 {
		return c
	}
	return DefaultCapPerType
}

// ByID resolves a structure from the read view.
func (m *Manager) ByID(id string) (*structure.Structure, bool) {
	s, ok := m.byID[id]
	return s, ok
}

// DetectorActivity returns a copy of the per-detector counters.
func (m *Manager) DetectorActivity() map[string]Activity {
	out := make(map[string]Activity, len(m.activity))
	for name, a := range m.activity {
		out[name] = *a
	}
	return out
}

// ProcessBar advances lifecycles, collects new candidates from every
// detector, admits them under dedup and caps, and returns the ranked view.
func (m *Manager) ProcessBar(ctx Context) Outcome {
	var outcome Outcome
	ctx.Zones = m.snapshotActive()

	for _, det := range m.detectors {
		act := m.activity[det.Name()]
		act.BarsEvaluated++

		// Lifecycle first, so expiry precedes this bar's admissions.
		outcome.Transitions = append(outcome.Transitions,
			m.safeAdvance(det, ctx, m.active[det.Type()])...)

		candidates := m.safeDetect(det, ctx)
		if len(candidates) == 0 {
			continue
		}
		admitted := m.admit(det.Type(), candidates)
		act.StructuresFired += uint64(len(admitted))
		outcome.Fired = append(outcome.Fired, admitted...)
	}

	m.compactTerminal()
	outcome.Ranked = m.rankedView()
	return outcome
}

// safeDetect isolates detector panics and errors (taxonomy: detector errors
// are logged and the bar continues with the remaining detectors).
func (m *Manager) safeDetect(det Detector, ctx Context) (out []*structure.Structure) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("detector %s panicked at bar %d: %v", det.Name(), ctx.LastIndex, r)
			out = nil
		}
	}()
	candidates, err := det.Detect(ctx)
	if err != nil {
		logger.Warnf("detector %s failed at bar %d: %v", det.Name(), ctx.LastIndex, err)
		return nil
	}
	return candidates
}

func (m *Manager) safeAdvance(det Detector, ctx Context, active []*structure.Structure) (out []Transition) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("detector %s lifecycle panicked at bar %d: %v", det.Name(), ctx.LastIndex, r)
			out = nil
		}
	}()
	return det.Advance(ctx, active)
}

// admit applies same-direction overlap dedup against both existing actives
// and sibling candidates, then the per-type cap. Candidates losing dedup or
// capacity are dropped, never stored.
func (m *Manager) admit(t structure.Type, candidates []*structure.Structure) []*structure.Structure {
	sortByQuality(candidates)
	existing := m.active[t]
	var admitted []*structure.Structure

	activeCount := 0
	for _, s := range existing {
		if s.Active() {
			activeCount++
		}
	}
	limit := m.capFor(t)

	for _, cand := range candidates {
		if _, dup := m.byID[cand.ID]; dup {
			continue
		}
		if beatenByOverlap(cand, existing) || beatenByOverlap(cand, admitted) {
			continue
		}
		if activeCount+len(admitted) >= limit {
			logger.Debugf("structure cap reached for %s, dropping %s (q=%.3f)", t, cand.ID, cand.Quality)
			continue
		}
		admitted = append(admitted, cand)
	}
	for _, s := range admitted {
		m.active[t] = append(m.active[t], s)
		m.byID[s.ID] = s
	}
	return admitted
}

// beatenByOverlap reports whether cand loses the overlap tie-break against
// any same-direction member of set: highest quality wins, ties go to the
// earliest origin.
func beatenByOverlap(cand *structure.Structure, set []*structure.Structure) bool {
	for _, s := range set {
		if !s.Active() || s.Direction != cand.Direction {
			continue
		}
		if !s.Geometry.Overlaps(cand.Geometry) {
			continue
		}
		if s.Quality > cand.Quality {
			return true
		}
		if s.Quality == cand.Quality && s.Geometry.OriginIndex <= cand.Geometry.OriginIndex {
			return true
		}
	}
	return false
}

// compactTerminal trims terminal structures out of the active pools. They
// stay reachable by id for audit.
func (m *Manager) compactTerminal() {
	for t, pool := range m.active {
		kept := pool[:0]
		for _, s := range pool {
			if !s.State.Terminal() {
				kept = append(kept, s)
			}
		}
		m.active[t] = kept
	}
}

// snapshotActive flattens the active pools in fixed type order.
func (m *Manager) snapshotActive() []*structure.Structure {
	var out []*structure.Structure
	for _, t := range structure.AllTypes() {
		out = append(out, m.active[t]...)
	}
	return out
}

// rankedView applies the intra-type overlap filter and global quality
// ordering over currently active structures.
func (m *Manager) rankedView() []*structure.Structure {
	var out []*structure.Structure
	for _, t := range structure.AllTypes() {
		pool := m.active[t]
		sorted := make([]*structure.Structure, 0, len(pool))
		for _, s := range pool {
			if s.Active() {
				sorted = append(sorted, s)
			}
		}
		sortByQuality(sorted)
		var survivors []*structure.Structure
		for _, s := range sorted {
			if !beatenByOverlap(s, survivors) {
				survivors = append(survivors, s)
			}
		}
		out = append(out, survivors...)
	}
	sortByQuality(out)
	return out
}

// sortByQuality orders by quality descending, then earliest origin, then id,
// so equal inputs always rank identically across runs.
func sortByQuality(set []*structure.Structure) {
	sort.SliceStable(set, func(i, j int) bool {
		if set[i].Quality != set[j].Quality {
			return set[i].Quality > set[j].Quality
		}
		if set[i].Geometry.OriginIndex != set[j].Geometry.OriginIndex {
			return set[i].Geometry.OriginIndex < set[j].Geometry.OriginIndex
		}
		return set[i].ID < set[j].ID
	})
}
