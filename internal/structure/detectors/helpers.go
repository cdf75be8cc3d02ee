package detectors

import (
	"github.com/shopspring/decimal"

	"github.com/Terrxnce/DEVI-sub000/internal/market"
	"github.com/Terrxnce/DEVI-sub000/internal/pkg/decmath"
	"github.com/Terrxnce/DEVI-sub000/internal/structure"
)

// priorExtremes returns the highest high and lowest low over up to lookback
// bars strictly before the last bar of the window.
func priorExtremes(bars []market.Bar, lookback int) (high, low decimal.Decimal, ok bool) {
	n := len(bars) - 1
	if n <= 0 || lookback <= 0 {
		return decimal.Zero, decimal.Zero, false
	}
	start := n - lookback
	if start < 0 {
		start = 0
	}
	high = bars[start].High
	low = bars[start].Low
	for _, b := range bars[start+1 : n] {
		high = decmath.Max(high, b.High)
		low = decmath.Min(low, b.Low)
	}
	return high, low, true
}

// thresholdScore grades a measured distance against its trigger threshold:
// exactly at threshold scores 0.5, twice the threshold saturates at 1.
func thresholdScore(value, threshold decimal.Decimal) float64 {
	if threshold.IsZero() {
		return 0
	}
	return decmath.Clamp01(decmath.Ratio(value, threshold) / 2)
}

// lastOppositeCandle walks back from index end-1 looking for the most recent
// candle colored against dir, within at most span bars.
func lastOppositeCandle(bars []market.Bar, dir structure.Direction, span int) (market.Bar, int, bool) {
	end := len(bars) - 1
	stop := end - span
	if stop < 0 {
		stop = 0
	}
	for i := end - 1; i >= stop; i-- {
		b := bars[i]
		if dir == structure.Bullish && b.IsBearish() {
			return b, i, true
		}
		if dir == structure.Bearish && b.IsBullish() {
			return b, i, true
		}
	}
	return market.Bar{}, 0, false
}

// filterTypes returns the members of set matching any of the given types.
func filterTypes(set []*structure.Structure, types ...structure.Type) []*structure.Structure {
	var out []*structure.Structure
	for _, s := range set {
		for _, t := range types {
			if s.Type == t {
				out = append(out, s)
				break
			}
		}
	}
	return out
}

// FilterZones narrows a structure set to the zone types, order blocks and
// fair value gaps. Proximity and confluence checks only ever look at zones.
func FilterZones(set []*structure.Structure) []*structure.Structure {
	return filterTypes(set, structure.TypeOrderBlock, structure.TypeFairValueGap)
}

// recentSameDirection finds the most recent active structure of typ with the
// given direction whose origin lies within window bars of lastIndex.
func recentSameDirection(set []*structure.Structure, typ structure.Type, dir structure.Direction, lastIndex, window int) (*structure.Structure, bool) {
	var best *structure.Structure
	for _, s := range set {
		if s.Type != typ || s.Direction != dir {
			continue
		}
		if window > 0 && lastIndex-s.Geometry.OriginIndex > window {
			continue
		}
		if best == nil || s.Geometry.OriginIndex > best.Geometry.OriginIndex {
			best = s
		}
	}
	return best, best != nil
}

// avgVolume is the simple average volume over up to lookback bars before the
// last bar.
func avgVolume(bars []market.Bar, lookback int) decimal.Decimal {
	n := len(bars) - 1
	if n <= 0 || lookback <= 0 {
		return decimal.Zero
	}
	start := n - lookback
	if start < 0 {
		start = 0
	}
	sum := decimal.Zero
	count := 0
	for _, b := range bars[start:n] {
		sum = sum.Add(b.Volume)
		count++
	}
	if count == 0 {
		return decimal.Zero
	}
	return sum.Div(decimal.NewFromInt(int64(count)))
}
