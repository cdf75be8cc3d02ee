// Package trend derives the moving-average trend-alignment signal consumed by
// the composite scorer.
package trend

import (
	"github.com/markcheno/go-talib"

	"github.com/Terrxnce/DEVI-sub000/internal/market"
	"github.com/Terrxnce/DEVI-sub000/internal/pkg/decmath"
)

// Settings holds the EMA periods used for alignment.
type Settings struct {
	Fast int
	Slow int
}

func (s Settings) withDefaults() Settings {
	if s.Fast <= 0 {
		s.Fast = 21
	}
	if s.Slow <= 0 {
		s.Slow = 50
	}
	return s
}

// Snapshot is the trend state at the current bar.
type Snapshot struct {
	EMAFast float64
	EMASlow float64
	Ready   bool
}

// Alignment scores how well a trade direction agrees with the EMA stack,
// clamped to [0,1]. bullish=true means a long candidate.
func (s Snapshot) Alignment(bullish bool) float64 {
	if !s.Ready || s.EMASlow == 0 {
		return 0.5 // neutral during warm-up
	}
	spread := (s.EMAFast - s.EMASlow) / s.EMASlow
	if !bullish {
		spread = -spread
	}
	// A spread of +0.5% or better counts as fully aligned.
	return decmath.Clamp01(0.5 + spread/0.005*0.5)
}

// Calculator computes EMA snapshots from a series.
type Calculator struct {
	settings Settings
}

func NewCalculator(settings Settings) *Calculator {
	return &Calculator{settings: settings.withDefaults()}
}

func (c *Calculator) Snapshot(s *market.Series) Snapshot {
	lookback := c.settings.Slow * 3
	_, _, _, closes, _ := s.Floats(lookback)
	if len(closes) <= c.settings.Slow {
		return Snapshot{}
	}
	fast := talib.Ema(closes, c.settings.Fast)
	slow := talib.Ema(closes, c.settings.Slow)
	f := fast[len(fast)-1]
	sl := slow[len(slow)-1]
	if !decmath.ValidFloat(f) || !decmath.ValidFloat(sl) || f == 0 || sl == 0 {
		return Snapshot{}
	}
	return Snapshot{EMAFast: f, EMASlow: sl, Ready: true}
}
