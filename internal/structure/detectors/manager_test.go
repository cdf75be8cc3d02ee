package detectors

import (
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/Terrxnce/DEVI-sub000/internal/structure"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// stubDetector emits a scripted candidate set per bar index.
type stubDetector struct {
	name       string
	typ        structure.Type
	byIndex    map[int][]*structure.Structure
	transition []Transition
}

func (d *stubDetector) Name() string         { return d.name }
func (d *stubDetector) Type() structure.Type { return d.typ }

func (d *stubDetector) Detect(ctx Context) ([]*structure.Structure, error) {
	return d.byIndex[ctx.LastIndex], nil
}

func (d *stubDetector) Advance(Context, []*structure.Structure) []Transition {
	out := d.transition
	d.transition = nil
	return out
}

func mkStruct(name string, dir structure.Direction, low, high string, origin int, quality float64) *structure.Structure {
	geo := structure.Geometry{Low: dec(low), High: dec(high), OriginIndex: origin}
	ts := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC).Add(time.Duration(origin) * 15 * time.Minute)
	return &structure.Structure{
		ID:         structure.NewID(name, structure.TypeOrderBlock, "BTCUSDT", "15m", dir, geo, ts),
		Detector:   name,
		Type:       structure.TypeOrderBlock,
		Symbol:     "BTCUSDT",
		Timeframe:  "15m",
		Direction:  dir,
		Geometry:   geo,
		OriginTime: ts,
		Quality:    quality,
		State:      structure.LifecycleUnfilled,
	}
}

func TestManagerOverlapDedupKeepsBest(t *testing.T) {
	weak := mkStruct("ob", structure.Bullish, "100", "110", 1, 0.5)
	strong := mkStruct("ob", structure.Bullish, "105", "115", 2, 0.8)
	separate := mkStruct("ob", structure.Bullish, "200", "210", 3, 0.4)
	opposite := mkStruct("ob", structure.Bearish, "100", "110", 4, 0.3)

	det := &stubDetector{
		name: "ob", typ: structure.TypeOrderBlock,
		byIndex: map[int][]*structure.Structure{
			5: {weak, strong, separate, opposite},
		},
	}
	m, err := NewManager(ManagerConfig{}, det)
	assert.NoError(t, err)

	out := m.ProcessBar(Context{LastIndex: 5})
	// The overlapping same-direction pair collapses to the higher quality;
	// disjoint and opposite-direction candidates are untouched.
	assert.Len(t, out.Fired, 3)
	assert.Len(t, out.Ranked, 3)
	assert.Equal(t, strong.ID, out.Ranked[0].ID)

	_, ok := m.ByID(weak.ID)
	assert.False(t, ok, "losing candidate must not be stored")
}

func TestManagerCapPerType(t *testing.T) {
	var cands []*structure.Structure
	for i := 0; i < 6; i++ {
		cands = append(cands, mkStruct("ob", structure.Bullish,
			fmt.Sprintf("%d", 100+20*i), fmt.Sprintf("%d", 110+20*i), i, 0.5+float64(i)*0.05))
	}
	det := &stubDetector{
		name: "ob", typ: structure.TypeOrderBlock,
		byIndex: map[int][]*structure.Structure{7: cands},
	}
	m, err := NewManager(ManagerConfig{CapPerType: map[structure.Type]int{structure.TypeOrderBlock: 4}}, det)
	assert.NoError(t, err)

	out := m.ProcessBar(Context{LastIndex: 7})
	assert.Len(t, out.Fired, 4)
	// The cap admits the best-quality candidates.
	for _, s := range out.Fired {
		assert.GreaterOrEqual(t, s.Quality, 0.6)
	}
}

func TestManagerRankingIsDeterministic(t *testing.T) {
	build := func() *Manager {
		a := mkStruct("ob", structure.Bullish, "100", "110", 1, 0.7)
		b := mkStruct("ob", structure.Bearish, "300", "310", 2, 0.7)
		c := mkStruct("ob", structure.Bullish, "500", "510", 3, 0.9)
		det := &stubDetector{
			name: "ob", typ: structure.TypeOrderBlock,
			byIndex: map[int][]*structure.Structure{4: {a, b, c}},
		}
		m, err := NewManager(ManagerConfig{}, det)
		assert.NoError(t, err)
		return m
	}

	first := build().ProcessBar(Context{LastIndex: 4})
	second := build().ProcessBar(Context{LastIndex: 4})
	assert.Equal(t, len(first.Ranked), len(second.Ranked))
	for i := range first.Ranked {
		assert.Equal(t, first.Ranked[i].ID, second.Ranked[i].ID)
	}
	// Quality descending; equal quality breaks by earliest origin.
	assert.Equal(t, 0.9, first.Ranked[0].Quality)
	assert.Equal(t, 1, first.Ranked[1].Geometry.OriginIndex)
}

func TestManagerTerminalCompaction(t *testing.T) {
	s := mkStruct("ob", structure.Bullish, "100", "110", 1, 0.7)
	det := &stubDetector{
		name: "ob", typ: structure.TypeOrderBlock,
		byIndex: map[int][]*structure.Structure{2: {s}},
	}
	m, err := NewManager(ManagerConfig{}, det)
	assert.NoError(t, err)

	out := m.ProcessBar(Context{LastIndex: 2})
	assert.Len(t, out.Ranked, 1)

	// Expire it through the owning detector on the next bar.
	assert.NoError(t, s.Transition(structure.LifecycleExpired))
	det.transition = []Transition{{Structure: s, From: structure.LifecycleUnfilled, To: structure.LifecycleExpired}}

	out = m.ProcessBar(Context{LastIndex: 3})
	assert.Len(t, out.Transitions, 1)
	assert.Empty(t, out.Ranked)

	// Terminal structures stay reachable for audit.
	got, ok := m.ByID(s.ID)
	assert.True(t, ok)
	assert.Equal(t, structure.LifecycleExpired, got.State)
}

func TestManagerRequiresDetectors(t *testing.T) {
	_, err := NewManager(ManagerConfig{})
	assert.Error(t, err)
}

func TestLifecycleForwardOnly(t *testing.T) {
	s := mkStruct("ob", structure.Bullish, "100", "110", 1, 0.7)
	assert.NoError(t, s.Transition(structure.LifecyclePartial))
	assert.Error(t, s.Transition(structure.LifecycleUnfilled))
	assert.NoError(t, s.Transition(structure.LifecycleFilled))
	assert.NoError(t, s.Transition(structure.LifecycleExpired))
	assert.Error(t, s.Transition(structure.LifecycleFilled))
}
