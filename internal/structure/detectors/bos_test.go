package detectors

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Terrxnce/DEVI-sub000/internal/market"
	"github.com/Terrxnce/DEVI-sub000/internal/structure"
)

func bosConfig() BOSConfig {
	return BOSConfig{
		MinBreakATR:   0.5,
		PivotLookback: 5,
		MaxAgeBars:    48,
		DebounceBars:  4,
		Weights:       map[string]float64{"break_strength": 1.0},
	}
}

// rangeBars is a flat 100-105 range; the prior pivot high is 105, the prior
// pivot low 100.
func rangeBars(t *testing.T) []market.Bar {
	t.Helper()
	return []market.Bar{
		barAt(t, 101, 104, 100, 103, 1000, 0),
		barAt(t, 103, 105, 101, 102, 1100, 1),
		barAt(t, 102, 104.5, 100.5, 103.5, 900, 2),
		barAt(t, 103.5, 104, 100, 101, 1000, 3),
		barAt(t, 101, 103, 100.5, 102, 950, 4),
	}
}

func TestBOSDetectsBullishBreak(t *testing.T) {
	d, err := NewBOS(bosConfig())
	assert.NoError(t, err)

	// Close 108 clears the 105 pivot by 3 points against a 2-point minimum
	// (0.5 * ATR 4).
	bars := append(rangeBars(t), barAt(t, 102, 108.5, 101.5, 108, 2400, 5))
	out, err := d.Detect(detectContext(t, bars))
	assert.NoError(t, err)
	assert.Len(t, out, 1)

	s := out[0]
	assert.Equal(t, structure.Bullish, s.Direction)
	assert.Equal(t, structure.TypeBreakOfStructure, s.Type)
	assert.Equal(t, "105", s.Geometry.Low.String())
	assert.Equal(t, "108", s.Geometry.High.String())
	assert.Equal(t, 5, s.Geometry.OriginIndex)
	// break_strength = (3/2)/2 with a unit weight.
	assert.InDelta(t, 0.75, s.Quality, 1e-9)
}

func TestBOSDetectsBearishBreak(t *testing.T) {
	d, err := NewBOS(bosConfig())
	assert.NoError(t, err)

	bars := append(rangeBars(t), barAt(t, 101, 101.5, 97, 97.5, 2200, 5))
	out, err := d.Detect(detectContext(t, bars))
	assert.NoError(t, err)
	assert.Len(t, out, 1)
	assert.Equal(t, structure.Bearish, out[0].Direction)
	assert.Equal(t, "97.5", out[0].Geometry.Low.String())
	assert.Equal(t, "100", out[0].Geometry.High.String())
}

func TestBOSIgnoresSubMinimumBreak(t *testing.T) {
	d, err := NewBOS(bosConfig())
	assert.NoError(t, err)

	// 1.5 points past the pivot, below the 2-point minimum.
	bars := append(rangeBars(t), barAt(t, 102, 107, 101.5, 106.5, 1800, 5))
	out, err := d.Detect(detectContext(t, bars))
	assert.NoError(t, err)
	assert.Empty(t, out)
}

func TestBOSDebouncesSameDirection(t *testing.T) {
	d, err := NewBOS(bosConfig())
	assert.NoError(t, err)

	bars := append(rangeBars(t), barAt(t, 102, 108.5, 101.5, 108, 2400, 5))
	out, err := d.Detect(detectContext(t, bars))
	assert.NoError(t, err)
	assert.Len(t, out, 1)

	// The very next bar breaks again; inside the debounce window it is
	// suppressed.
	bars = append(bars, barAt(t, 108, 112, 107.5, 111.5, 2600, 6))
	out, err = d.Detect(detectContext(t, bars))
	assert.NoError(t, err)
	assert.Empty(t, out)
}

func TestBOSAdvanceConfirmsHeldBreak(t *testing.T) {
	d, err := NewBOS(bosConfig())
	assert.NoError(t, err)

	bars := append(rangeBars(t), barAt(t, 102, 108.5, 101.5, 108, 2400, 5))
	out, err := d.Detect(detectContext(t, bars))
	assert.NoError(t, err)
	assert.Len(t, out, 1)
	brk := out[0]

	// The next close holds above the broken pivot: the break confirms.
	bars = append(bars, barAt(t, 108, 109, 106, 107, 1200, 6))
	trs := d.Advance(detectContext(t, bars), []*structure.Structure{brk})
	assert.Len(t, trs, 1)
	assert.Equal(t, structure.LifecycleUnfilled, trs[0].From)
	assert.Equal(t, structure.LifecycleFilled, trs[0].To)
}

func TestBOSAdvanceLeavesFailedBreakPending(t *testing.T) {
	d, err := NewBOS(bosConfig())
	assert.NoError(t, err)

	bars := append(rangeBars(t), barAt(t, 102, 108.5, 101.5, 108, 2400, 5))
	out, err := d.Detect(detectContext(t, bars))
	assert.NoError(t, err)
	brk := out[0]

	// Close back under the pivot: not held, the break stays unfilled until
	// max age expires it.
	bars = append(bars, barAt(t, 108, 108.2, 103, 104, 1400, 6))
	assert.Empty(t, d.Advance(detectContext(t, bars), []*structure.Structure{brk}))
	assert.Equal(t, structure.LifecycleUnfilled, brk.State)
}
