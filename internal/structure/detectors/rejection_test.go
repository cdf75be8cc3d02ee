package detectors

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/Terrxnce/DEVI-sub000/internal/market"
	"github.com/Terrxnce/DEVI-sub000/internal/structure"
)

func rejectionConfig() RejectionConfig {
	return RejectionConfig{
		ZoneBufferATR:      0.1,
		MinReactionATR:     0.5,
		MinContinuationATR: 0.5,
		LookaheadBars:      5,
		MaxAgeBars:         48,
		Weights: map[string]float64{
			"reaction_body":     0.30,
			"follow_through":    0.30,
			"penetration_depth": 0.20,
			"context":           0.20,
		},
	}
}

// supportZone is an active bullish order block spanning 100-102.
func supportZone() *structure.Structure {
	return &structure.Structure{
		ID:        "ob-support",
		Type:      structure.TypeOrderBlock,
		Direction: structure.Bullish,
		Geometry: structure.Geometry{
			Low:         decimal.NewFromInt(100),
			High:        decimal.NewFromInt(102),
			OriginIndex: 1,
		},
		State: structure.LifecycleUnfilled,
	}
}

func rejectionContext(t *testing.T, bars []market.Bar, zones ...*structure.Structure) Context {
	t.Helper()
	ctx := detectContext(t, bars)
	ctx.Zones = zones
	return ctx
}

func TestRejectionDetectsBullishBounce(t *testing.T) {
	d, err := NewRejection(rejectionConfig())
	assert.NoError(t, err)

	// The bar dips halfway into the support zone and closes back above it
	// with a 3-point reaction body (minimum 2 = 0.5 * ATR 4).
	bars := []market.Bar{
		barAt(t, 103, 104, 102.5, 103.5, 1000, 0),
		barAt(t, 101.5, 105, 101, 104.5, 2200, 1),
	}
	zone := supportZone()
	out, err := d.Detect(rejectionContext(t, bars, zone))
	assert.NoError(t, err)
	assert.Len(t, out, 1)

	s := out[0]
	assert.Equal(t, structure.Bullish, s.Direction)
	assert.Equal(t, structure.TypeZoneRejection, s.Type)
	assert.Equal(t, []string{zone.ID}, s.Links)
	// The rejection inherits the zone's bounds but originates here.
	assert.Equal(t, "100", s.Geometry.Low.String())
	assert.Equal(t, "102", s.Geometry.High.String())
	assert.Equal(t, 1, s.Geometry.OriginIndex)
	assert.InDelta(t, 0.5, s.Metadata["penetration_depth"], 1e-9)
	assert.Equal(t, 0.0, s.Metadata["follow_through"])
}

func TestRejectionRequiresReactionBody(t *testing.T) {
	d, err := NewRejection(rejectionConfig())
	assert.NoError(t, err)

	// Touches the zone but the 1-point body is below the reaction minimum.
	bars := []market.Bar{
		barAt(t, 103, 104, 102.5, 103.5, 1000, 0),
		barAt(t, 101.5, 103, 101, 102.5, 1200, 1),
	}
	out, err := d.Detect(rejectionContext(t, bars, supportZone()))
	assert.NoError(t, err)
	assert.Empty(t, out)
}

func TestRejectionIgnoresInactiveZone(t *testing.T) {
	d, err := NewRejection(rejectionConfig())
	assert.NoError(t, err)

	zone := supportZone()
	zone.State = structure.LifecycleFilled
	bars := []market.Bar{
		barAt(t, 103, 104, 102.5, 103.5, 1000, 0),
		barAt(t, 101.5, 105, 101, 104.5, 2200, 1),
	}
	out, err := d.Detect(rejectionContext(t, bars, zone))
	assert.NoError(t, err)
	assert.Empty(t, out)
}

func TestRejectionAdvancePartialThenFilled(t *testing.T) {
	d, err := NewRejection(rejectionConfig())
	assert.NoError(t, err)

	bars := []market.Bar{
		barAt(t, 103, 104, 102.5, 103.5, 1000, 0),
		barAt(t, 101.5, 105, 101, 104.5, 2200, 1),
	}
	out, err := d.Detect(rejectionContext(t, bars, supportZone()))
	assert.NoError(t, err)
	rej := out[0] // bullish over 100-102

	// Holds above the zone without the 2-point continuation: partial.
	bars = append(bars, barAt(t, 104.5, 104.8, 102.8, 103, 1100, 2))
	trs := d.Advance(rejectionContext(t, bars), []*structure.Structure{rej})
	assert.Len(t, trs, 1)
	assert.Equal(t, structure.LifecyclePartial, trs[0].To)

	// Continuation clears the zone top by the minimum: filled.
	bars = append(bars, barAt(t, 103, 105.5, 102.9, 105, 1600, 3))
	trs = d.Advance(rejectionContext(t, bars), []*structure.Structure{rej})
	assert.Len(t, trs, 1)
	assert.Equal(t, structure.LifecyclePartial, trs[0].From)
	assert.Equal(t, structure.LifecycleFilled, trs[0].To)
}

func TestRejectionAdvanceInvalidatesThroughZone(t *testing.T) {
	d, err := NewRejection(rejectionConfig())
	assert.NoError(t, err)

	bars := []market.Bar{
		barAt(t, 103, 104, 102.5, 103.5, 1000, 0),
		barAt(t, 101.5, 105, 101, 104.5, 2200, 1),
	}
	out, err := d.Detect(rejectionContext(t, bars, supportZone()))
	assert.NoError(t, err)
	rej := out[0]

	// A close below the zone floor kills the rejection outright.
	bars = append(bars, barAt(t, 104.5, 104.6, 99, 99.5, 2500, 2))
	trs := d.Advance(rejectionContext(t, bars), []*structure.Structure{rej})
	assert.Len(t, trs, 1)
	assert.Equal(t, structure.LifecycleInvalidated, trs[0].To)
}

func TestRejectionAdvanceExpiresPastLookahead(t *testing.T) {
	d, err := NewRejection(rejectionConfig())
	assert.NoError(t, err)

	bars := []market.Bar{
		barAt(t, 103, 104, 102.5, 103.5, 1000, 0),
		barAt(t, 101.5, 105, 101, 104.5, 2200, 1),
	}
	out, err := d.Detect(rejectionContext(t, bars, supportZone()))
	assert.NoError(t, err)
	rej := out[0]

	// Price chops inside the zone band for the whole lookahead window.
	for i := 2; i <= 7; i++ {
		bars = append(bars, barAt(t, 101.5, 102, 100.5, 101.5, 900, i))
	}
	trs := d.Advance(rejectionContext(t, bars), []*structure.Structure{rej})
	assert.Len(t, trs, 1)
	assert.Equal(t, structure.LifecycleExpired, trs[0].To)
}
