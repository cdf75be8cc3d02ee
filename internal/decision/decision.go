// Package decision defines the trade intent emitted by the per-bar engine and
// the execution outcome reported back by the order guard.
package decision

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Side is the trade direction.
type Side string

const (
	Buy  Side = "buy"
	Sell Side = "sell"
)

func (s Side) Valid() bool { return s == Buy || s == Sell }

// Decision is a fully specified trade intent. Entry, Stop and TakeProfit are
// venue-snapped prices; PositionSize is in lots/contracts. A Decision is only
// constructed once the exit planner has satisfied the risk:reward floor, so
// RR here is always at or above that floor.
type Decision struct {
	Symbol            string
	Side              Side
	Entry             decimal.Decimal
	Stop              decimal.Decimal
	TakeProfit        decimal.Decimal
	PositionSize      decimal.Decimal
	RR                float64
	OriginStructureID string
	Confidence        float64
	ExitReason        string
	// Clamped marks that the stop was widened to the venue minimum
	// distance before the RR recompute.
	Clamped  bool
	BarTime  time.Time
	Metadata map[string]string
}

// Validate checks internal price geometry: the stop must sit on the losing
// side of entry and the target on the winning side.
func (d Decision) Validate() error {
	if d.Symbol == "" {
		return fmt.Errorf("decision: empty symbol")
	}
	if !d.Side.Valid() {
		return fmt.Errorf("decision: invalid side %q", d.Side)
	}
	if d.PositionSize.Sign() <= 0 {
		return fmt.Errorf("decision %s: position size must be > 0", d.Symbol)
	}
	switch d.Side {
	case Buy:
		if d.Stop.Cmp(d.Entry) >= 0 {
			return fmt.Errorf("decision %s: buy stop %s not below entry %s", d.Symbol, d.Stop, d.Entry)
		}
		if d.TakeProfit.Cmp(d.Entry) <= 0 {
			return fmt.Errorf("decision %s: buy target %s not above entry %s", d.Symbol, d.TakeProfit, d.Entry)
		}
	case Sell:
		if d.Stop.Cmp(d.Entry) <= 0 {
			return fmt.Errorf("decision %s: sell stop %s not above entry %s", d.Symbol, d.Stop, d.Entry)
		}
		if d.TakeProfit.Cmp(d.Entry) >= 0 {
			return fmt.Errorf("decision %s: sell target %s not below entry %s", d.Symbol, d.TakeProfit, d.Entry)
		}
	}
	return nil
}

// RiskDistance is |entry - stop|.
func (d Decision) RiskDistance() decimal.Decimal {
	return d.Entry.Sub(d.Stop).Abs()
}

// RewardDistance is |take profit - entry|.
func (d Decision) RewardDistance() decimal.Decimal {
	return d.TakeProfit.Sub(d.Entry).Abs()
}

// ExecutionResult is the guard's verdict on one Decision after validation,
// submission and any retry attempts.
type ExecutionResult struct {
	Accepted         bool
	BrokerOrderID    string
	Attempts         int
	FinalStop        decimal.Decimal
	FinalSize        decimal.Decimal
	RejectionReasons []string
}
