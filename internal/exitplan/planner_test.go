package exitplan

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/Terrxnce/DEVI-sub000/internal/analysis/volatility"
	"github.com/Terrxnce/DEVI-sub000/internal/structure"
	"github.com/Terrxnce/DEVI-sub000/internal/venue"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func testCons() venue.Constraints {
	return venue.Constraints{
		Symbol:          "BTCUSDT",
		InstrumentClass: "crypto_perp",
		TickSize:        dec("0.25"),
		ContractSize:    dec("1"),
		MinStopDistance: dec("5"),
		VolumeMin:       dec("0.01"),
		VolumeMax:       dec("120"),
		VolumeStep:      dec("0.01"),
	}
}

func bullishZone(low, high string) *structure.Structure {
	return &structure.Structure{
		ID:        "test-ob",
		Detector:  "order_block",
		Type:      structure.TypeOrderBlock,
		Symbol:    "BTCUSDT",
		Timeframe: "15m",
		Direction: structure.Bullish,
		Geometry:  structure.Geometry{Low: dec(low), High: dec(high)},
		Quality:   0.8,
	}
}

func TestPlanStructureGeometryBullish(t *testing.T) {
	cfg := DefaultConfig()
	cfg.GeometryProject = 3.0
	p, err := New(cfg)
	assert.NoError(t, err)

	st := bullishZone("100", "110")
	vol := volatility.Static(dec("4"), 14)

	plan, err := p.Plan(st, dec("110"), vol, testCons())
	assert.NoError(t, err)
	assert.Equal(t, ReasonStructureGeometry, plan.Reason)
	// stop = low - 0.25*ATR = 99, target = high + 3*height = 140
	assert.True(t, plan.Stop.Equal(dec("99")), "stop %s", plan.Stop)
	assert.True(t, plan.Target.Equal(dec("140")), "target %s", plan.Target)
	assert.InDelta(t, 30.0/11.0, plan.RR, 1e-9)
	assert.False(t, plan.Clamped)
	assert.Equal(t, []string{ReasonStructureGeometry}, plan.Attempted)
}

func TestPlanStructureGeometryBearishSweep(t *testing.T) {
	cfg := DefaultConfig()
	p, err := New(cfg)
	assert.NoError(t, err)

	st := &structure.Structure{
		Type:      structure.TypeSweep,
		Direction: structure.Bearish,
		Geometry:  structure.Geometry{Low: dec("100"), High: dec("110")},
	}
	vol := volatility.Static(dec("2"), 14)

	plan, err := p.Plan(st, dec("101"), vol, testCons())
	assert.NoError(t, err)
	assert.Equal(t, ReasonStructureGeometry, plan.Reason)
	// stop = high + 0.5 = 110.5, target = low - 2*height = 80
	assert.True(t, plan.Stop.Equal(dec("110.5")), "stop %s", plan.Stop)
	assert.True(t, plan.Target.Equal(dec("80")), "target %s", plan.Target)
	assert.GreaterOrEqual(t, plan.RR, cfg.RRFloor)
}

func TestPlanFallsBackToATR(t *testing.T) {
	p, err := New(DefaultConfig())
	assert.NoError(t, err)

	// Entry far above the zone: geometry RR cannot reach the floor, the ATR
	// fallback takes over at exactly 2:1.
	st := bullishZone("100", "110")
	vol := volatility.Static(dec("4"), 14)

	plan, err := p.Plan(st, dec("120"), vol, testCons())
	assert.NoError(t, err)
	assert.Equal(t, ReasonATRFallback, plan.Reason)
	// stop = 120 - 1.5*4 = 114, target = 120 + 3*4 = 132
	assert.True(t, plan.Stop.Equal(dec("114")), "stop %s", plan.Stop)
	assert.True(t, plan.Target.Equal(dec("132")), "target %s", plan.Target)
	assert.InDelta(t, 2.0, plan.RR, 1e-9)
	assert.Equal(t, []string{ReasonStructureGeometry, ReasonATRFallback}, plan.Attempted)
}

func TestPlanExtendsTargetAfterClamp(t *testing.T) {
	p, err := New(DefaultConfig())
	assert.NoError(t, err)

	// ATR stop distance (1.5) is under the venue minimum (5): the stop is
	// clamped out, which sinks the raw ATR RR; the bounded extension pushes
	// the target to exactly the floor.
	st := bullishZone("99.9", "100")
	vol := volatility.Static(dec("1"), 14)

	plan, err := p.Plan(st, dec("100"), vol, testCons())
	assert.NoError(t, err)
	assert.Equal(t, ReasonATRFallbackExtended, plan.Reason)
	assert.True(t, plan.Clamped)
	assert.True(t, plan.Stop.Equal(dec("95")), "stop %s", plan.Stop)
	assert.True(t, plan.Target.Equal(dec("110")), "target %s", plan.Target)
	assert.GreaterOrEqual(t, plan.RR, 2.0)
	assert.Contains(t, plan.Attempted, ReasonATRFallback)
}

func TestPlanNeverReturnsBelowFloor(t *testing.T) {
	p, err := New(DefaultConfig())
	assert.NoError(t, err)

	cons := testCons()
	st := bullishZone("100", "110")
	for _, entry := range []string{"105", "110", "115", "120", "150"} {
		for _, atr := range []string{"0.5", "2", "4", "10"} {
			plan, err := p.Plan(st, dec(entry), volatility.Static(dec(atr), 14), cons)
			if err != nil {
				continue
			}
			assert.GreaterOrEqual(t, plan.RR, 2.0, "entry=%s atr=%s reason=%s", entry, atr, plan.Reason)
		}
	}
}

func TestPlanLegacyGeometryWithoutATR(t *testing.T) {
	p, err := New(DefaultConfig())
	assert.NoError(t, err)

	// ATR not warm: only the legacy geometry rule is available.
	st := bullishZone("100", "110")
	plan, err := p.Plan(st, dec("105"), volatility.Context{}, testCons())
	assert.NoError(t, err)
	assert.Equal(t, ReasonLegacyGeometry, plan.Reason)
	// stop = low - 10% height = 99, target = high + 2*height = 130
	assert.True(t, plan.Stop.Equal(dec("99")), "stop %s", plan.Stop)
	assert.True(t, plan.Target.Equal(dec("130")), "target %s", plan.Target)
	assert.InDelta(t, 25.0/6.0, plan.RR, 1e-9)
	assert.Equal(t, []string{ReasonLegacyGeometry}, plan.Attempted)
}

func TestPlanExhaustsChain(t *testing.T) {
	p, err := New(DefaultConfig())
	assert.NoError(t, err)

	// Entry below a bullish zone puts every candidate stop on the wrong
	// side; with ATR cold the chain has nothing left.
	st := bullishZone("100", "110")
	_, err = p.Plan(st, dec("90"), volatility.Context{}, testCons())
	assert.Error(t, err)
	assert.True(t, errors.Is(err, ErrNoViablePlan))
	assert.Contains(t, err.Error(), ReasonLegacyGeometry)
}

func TestPlanNilStructure(t *testing.T) {
	p, err := New(DefaultConfig())
	assert.NoError(t, err)
	_, err = p.Plan(nil, dec("100"), volatility.Context{}, testCons())
	assert.Error(t, err)
}

func TestConfigValidation(t *testing.T) {
	bad := DefaultConfig()
	bad.RRFloor = 0
	_, err := New(bad)
	assert.Error(t, err)

	bad = DefaultConfig()
	bad.ATRStopMult = -1
	_, err = New(bad)
	assert.Error(t, err)
}
