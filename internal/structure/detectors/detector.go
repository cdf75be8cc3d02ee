// Package detectors implements the six price-action structure recognizers.
// Each detector is a pure function of the bar window and volatility context
// apart from a small per-direction debounce memory.
package detectors

import (
	"fmt"
	"math"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/Terrxnce/DEVI-sub000/internal/analysis/trend"
	"github.com/Terrxnce/DEVI-sub000/internal/analysis/volatility"
	"github.com/Terrxnce/DEVI-sub000/internal/market"
	"github.com/Terrxnce/DEVI-sub000/internal/pkg/decmath"
	"github.com/Terrxnce/DEVI-sub000/internal/structure"
)

// Context is everything a detector may look at for one bar. Bars is the
// trailing window with the current bar last; LastIndex is the current bar's
// absolute index in the series.
type Context struct {
	Symbol    string
	Timeframe string
	SessionID string
	Bars      []market.Bar
	LastIndex int
	Vol       volatility.Context
	Trend     trend.Snapshot
	// Zones is a read-only snapshot of currently active zone structures
	// (order blocks and fair value gaps), used by context-aware detectors.
	Zones []*structure.Structure
	Tiers structure.TierThresholds
}

// Current returns the bar under evaluation.
func (c Context) Current() market.Bar { return c.Bars[len(c.Bars)-1] }

// BarAt translates an absolute index into the window, ok=false if outside.
func (c Context) BarAt(abs int) (market.Bar, bool) {
	rel := abs - (c.LastIndex - len(c.Bars) + 1)
	if rel < 0 || rel >= len(c.Bars) {
		return market.Bar{}, false
	}
	return c.Bars[rel], true
}

// Transition records one lifecycle change for event emission.
type Transition struct {
	Structure *structure.Structure
	From      structure.Lifecycle
	To        structure.Lifecycle
}

// Detector is the closed contract shared by all six variants. Detect returns
// zero or more new candidates; Advance applies lifecycle rules to the
// detector's own previously accepted structures, once per bar, forward only.
type Detector interface {
	Name() string
	Type() structure.Type
	Detect(ctx Context) ([]*structure.Structure, error)
	Advance(ctx Context, active []*structure.Structure) []Transition
}

// debounce suppresses rapid re-signaling: one fire per direction per window.
type debounce struct {
	bars int
	last map[structure.Direction]int
}

func newDebounce(bars int) debounce {
	return debounce{bars: bars, last: make(map[structure.Direction]int, 2)}
}

func (d *debounce) allow(dir structure.Direction, index int) bool {
	if d.bars <= 0 {
		return true
	}
	prev, ok := d.last[dir]
	return !ok || index-prev >= d.bars
}

func (d *debounce) mark(dir structure.Direction, index int) {
	d.last[dir] = index
}

// weights is a named component weighting that must sum to 1.
type weights map[string]float64

func (w weights) validate(name string, required []string) error {
	if len(w) == 0 {
		return fmt.Errorf("%s: weights missing", name)
	}
	sum := 0.0
	for _, k := range required {
		v, ok := w[k]
		if !ok {
			return fmt.Errorf("%s: weight %q missing", name, k)
		}
		if v < 0 {
			return fmt.Errorf("%s: weight %q negative", name, k)
		}
		sum += v
	}
	if len(w) != len(required) {
		return fmt.Errorf("%s: unexpected weight keys (want %v)", name, required)
	}
	if math.Abs(sum-1.0) > 1e-6 {
		return fmt.Errorf("%s: weights sum to %.6f, want 1.0", name, sum)
	}
	return nil
}

// score clamps every component to [0,1] and applies the weights. Components
// are returned untouched so callers can copy them into metadata. Keys are
// summed in sorted order: float addition is order-sensitive and map order is
// randomized, so a ranged sum would make quality drift between runs.
func (w weights) score(components map[string]float64) float64 {
	keys := make([]string, 0, len(w))
	for k := range w {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	total := 0.0
	for _, k := range keys {
		total += w[k] * decmath.Clamp01(components[k])
	}
	return decmath.Clamp01(total)
}

// expireByAge is the shared max-age lifecycle rule.
func expireByAge(ctx Context, active []*structure.Structure, maxAge int) []Transition {
	if maxAge <= 0 {
		return nil
	}
	var out []Transition
	for _, s := range active {
		if s.State.Terminal() {
			continue
		}
		if s.AgeBars(ctx.LastIndex) > maxAge {
			from := s.State
			if err := s.Transition(structure.LifecycleExpired); err == nil {
				out = append(out, Transition{Structure: s, From: from, To: structure.LifecycleExpired})
			}
		}
	}
	return out
}

// NearestZoneDistanceATR returns the distance from price to the closest active
// zone edge in ATR multiples, ok=false when no zone or ATR is unusable.
func NearestZoneDistanceATR(vol volatility.Context, zones []*structure.Structure, price decimal.Decimal) (float64, bool) {
	if !vol.Ready() || len(zones) == 0 {
		return 0, false
	}
	best := math.MaxFloat64
	for _, z := range zones {
		if !z.Active() {
			continue
		}
		d := 0.0
		switch {
		case z.Geometry.Contains(price):
			d = 0
		case price.Cmp(z.Geometry.High) > 0:
			d = decmath.Ratio(price.Sub(z.Geometry.High), vol.Value)
		default:
			d = decmath.Ratio(z.Geometry.Low.Sub(price), vol.Value)
		}
		if d < best {
			best = d
		}
	}
	if best == math.MaxFloat64 {
		return 0, false
	}
	return best, true
}
