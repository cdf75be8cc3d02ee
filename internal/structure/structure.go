// Package structure defines the price-action structure entity shared by the
// detectors, the manager and everything downstream.
package structure

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Type enumerates the recognized structure kinds. The set is closed; detectors
// are registered per type at startup.
type Type string

const (
	TypeOrderBlock       Type = "order_block"
	TypeFairValueGap     Type = "fair_value_gap"
	TypeBreakOfStructure Type = "break_of_structure"
	TypeSweep            Type = "sweep"
	TypeZoneRejection    Type = "zone_rejection"
	TypeEngulfing        Type = "engulfing"
)

// AllTypes lists every structure type in a fixed order.
func AllTypes() []Type {
	return []Type{
		TypeOrderBlock,
		TypeFairValueGap,
		TypeBreakOfStructure,
		TypeSweep,
		TypeZoneRejection,
		TypeEngulfing,
	}
}

type Direction string

const (
	Bullish Direction = "bullish"
	Bearish Direction = "bearish"
)

// Opposite returns the other direction.
func (d Direction) Opposite() Direction {
	if d == Bullish {
		return Bearish
	}
	return Bullish
}

// Geometry is the price zone a structure occupies.
type Geometry struct {
	Low         decimal.Decimal `json:"low"`
	High        decimal.Decimal `json:"high"`
	OriginIndex int             `json:"origin_index"`
}

// Contains reports whether price lies inside the zone (inclusive).
func (g Geometry) Contains(price decimal.Decimal) bool {
	return price.Cmp(g.Low) >= 0 && price.Cmp(g.High) <= 0
}

// Overlaps reports whether two zones intersect.
func (g Geometry) Overlaps(other Geometry) bool {
	return g.Low.Cmp(other.High) <= 0 && other.Low.Cmp(g.High) <= 0
}

// Midpoint of the zone.
func (g Geometry) Midpoint() decimal.Decimal {
	return g.Low.Add(g.High).Div(decimal.NewFromInt(2))
}

// Height of the zone.
func (g Geometry) Height() decimal.Decimal {
	return g.High.Sub(g.Low)
}

// Structure is one detected price-action formation. It is created by exactly
// one detector, which stays the only writer of its lifecycle state; every
// other component holds a read-only view keyed by ID.
type Structure struct {
	ID         string            `json:"id"`
	Detector   string            `json:"detector"`
	Type       Type              `json:"type"`
	Symbol     string            `json:"symbol"`
	Timeframe  string            `json:"timeframe"`
	Direction  Direction         `json:"direction"`
	Geometry   Geometry          `json:"geometry"`
	OriginTime time.Time         `json:"origin_time"`
	Quality    float64           `json:"quality_score"`
	Tier       Tier              `json:"quality_tier"`
	State      Lifecycle         `json:"lifecycle_state"`
	Links      []string          `json:"links,omitempty"`
	Metadata   map[string]float64 `json:"metadata,omitempty"`
}

// NewID derives the deterministic structure identifier. Identical inputs hash
// to the identical id on every run, which is what makes replay diffable.
func NewID(detector string, typ Type, symbol, timeframe string, dir Direction, geo Geometry, originTime time.Time) string {
	canonical := strings.Join([]string{
		detector,
		string(typ),
		symbol,
		timeframe,
		string(dir),
		fmt.Sprintf("%d", geo.OriginIndex),
		geo.Low.String(),
		geo.High.String(),
		fmt.Sprintf("%d", originTime.UTC().Unix()),
	}, "|")
	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:16])
}

// Active reports whether the structure still participates in caps, dedup and
// scoring (terminal states are audit-only).
func (s *Structure) Active() bool {
	return s.State == LifecycleUnfilled || s.State == LifecyclePartial
}

// AgeBars is the number of bars since origin at absolute index lastIndex.
func (s *Structure) AgeBars(lastIndex int) int {
	return lastIndex - s.Geometry.OriginIndex
}
