package engine

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/Terrxnce/DEVI-sub000/internal/analysis/volatility"
	"github.com/Terrxnce/DEVI-sub000/internal/structure"
)

func proximityStruct(typ structure.Type, low, high int64) *structure.Structure {
	return &structure.Structure{
		Type:      typ,
		Direction: structure.Bullish,
		Geometry: structure.Geometry{
			Low:  decimal.NewFromInt(low),
			High: decimal.NewFromInt(high),
		},
		State: structure.LifecycleUnfilled,
	}
}

func TestZoneProximityCountsOnlyZoneTypes(t *testing.T) {
	vol := volatility.Static(decimal.NewFromInt(4), 14)
	price := decimal.NewFromInt(100)

	// A break of structure sitting right on price must not register; the
	// only real zone is 2.5 ATR away, past the decay horizon.
	ranked := []*structure.Structure{
		proximityStruct(structure.TypeBreakOfStructure, 99, 101),
		proximityStruct(structure.TypeSweep, 99, 101),
		proximityStruct(structure.TypeOrderBlock, 110, 112),
	}
	assert.Equal(t, 0.0, zoneProximity(vol, ranked, price))

	// The same geometry as an order block scores full proximity.
	ranked[0] = proximityStruct(structure.TypeOrderBlock, 99, 101)
	assert.Equal(t, 1.0, zoneProximity(vol, ranked, price))
}

func TestZoneProximityDecaysWithDistance(t *testing.T) {
	vol := volatility.Static(decimal.NewFromInt(4), 14)
	price := decimal.NewFromInt(100)

	// Zone edge 1 ATR away on a 2-ATR decay horizon.
	ranked := []*structure.Structure{
		proximityStruct(structure.TypeFairValueGap, 104, 106),
	}
	assert.InDelta(t, 0.5, zoneProximity(vol, ranked, price), 1e-9)

	assert.Equal(t, 0.0, zoneProximity(vol, nil, price))
}
