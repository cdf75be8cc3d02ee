package detectors

import (
	"fmt"

	"github.com/Terrxnce/DEVI-sub000/internal/pkg/decmath"
	"github.com/Terrxnce/DEVI-sub000/internal/structure"
)

// FVGConfig parameterizes the fair value gap detector. MinGapATR is the
// minimum 3-bar gap size in ATR multiples.
type FVGConfig struct {
	MinGapATR      float64            `mapstructure:"min_gap_atr"`
	VolumeLookback int                `mapstructure:"volume_lookback"`
	MaxAgeBars     int                `mapstructure:"max_age_bars"`
	DebounceBars   int                `mapstructure:"debounce_bars"`
	Weights        map[string]float64 `mapstructure:"weights"`
}

var fvgWeightKeys = []string{"gap_size", "volume_ratio"}

type fvgDetector struct {
	cfg      FVGConfig
	w        weights
	debounce debounce
}

// NewFVG builds the fair value gap detector.
func NewFVG(cfg FVGConfig) (Detector, error) {
	w := weights(cfg.Weights)
	if err := w.validate("fvg", fvgWeightKeys); err != nil {
		return nil, err
	}
	if cfg.MinGapATR <= 0 {
		return nil, fmt.Errorf("fvg: min_gap_atr must be > 0")
	}
	if cfg.VolumeLookback <= 0 {
		cfg.VolumeLookback = 20
	}
	return &fvgDetector{cfg: cfg, w: w, debounce: newDebounce(cfg.DebounceBars)}, nil
}

func (d *fvgDetector) Name() string         { return "fvg" }
func (d *fvgDetector) Type() structure.Type { return structure.TypeFairValueGap }

// Detect looks for a 3-bar displacement gap ending at the current bar: the
// first and third bars do not overlap, leaving an unfilled imbalance around
// the middle candle.
func (d *fvgDetector) Detect(ctx Context) ([]*structure.Structure, error) {
	if !ctx.Vol.Ready() || len(ctx.Bars) < 3 {
		return nil, nil
	}
	n := len(ctx.Bars)
	c1, c2, c3 := ctx.Bars[n-3], ctx.Bars[n-2], ctx.Bars[n-1]
	minGap := ctx.Vol.Mult(d.cfg.MinGapATR)
	originIndex := ctx.LastIndex - 1 // the gap belongs to the middle candle

	var out []*structure.Structure
	build := func(dir structure.Direction, geo structure.Geometry) {
		if !d.debounce.allow(dir, originIndex) {
			return
		}
		gap := geo.Height()
		components := map[string]float64{
			"gap_size":     thresholdScore(gap, minGap),
			"volume_ratio": decmath.Clamp01(decmath.Ratio(c2.Volume, avgVolume(ctx.Bars, d.cfg.VolumeLookback)) / 2),
		}
		s := &structure.Structure{
			Detector:   d.Name(),
			Type:       d.Type(),
			Symbol:     ctx.Symbol,
			Timeframe:  ctx.Timeframe,
			Direction:  dir,
			Geometry:   geo,
			OriginTime: c2.Timestamp,
			Quality:    d.w.score(components),
			State:      structure.LifecycleUnfilled,
			Metadata:   components,
		}
		s.Tier = ctx.Tiers.TierFor(s.Quality)
		s.ID = structure.NewID(d.Name(), d.Type(), ctx.Symbol, ctx.Timeframe, dir, geo, s.OriginTime)
		d.debounce.mark(dir, originIndex)
		out = append(out, s)
	}

	// Bullish gap: bar1 high sits below bar3 low.
	if c1.High.Cmp(c3.Low) < 0 && c3.Low.Sub(c1.High).Cmp(minGap) >= 0 {
		build(structure.Bullish, structure.Geometry{Low: c1.High, High: c3.Low, OriginIndex: originIndex})
	}
	// Bearish gap: bar1 low sits above bar3 high.
	if c1.Low.Cmp(c3.High) > 0 && c1.Low.Sub(c3.High).Cmp(minGap) >= 0 {
		build(structure.Bearish, structure.Geometry{Low: c3.High, High: c1.Low, OriginIndex: originIndex})
	}
	return out, nil
}

// Advance fills a gap once price trades through its midpoint, and expires it
// past max age.
func (d *fvgDetector) Advance(ctx Context, active []*structure.Structure) []Transition {
	cur := ctx.Current()
	var out []Transition
	for _, s := range active {
		if s.State != structure.LifecycleUnfilled {
			continue
		}
		mid := s.Geometry.Midpoint()
		touched := cur.Low.Cmp(mid) <= 0 && cur.High.Cmp(mid) >= 0
		if touched {
			from := s.State
			if err := s.Transition(structure.LifecycleFilled); err == nil {
				out = append(out, Transition{Structure: s, From: from, To: structure.LifecycleFilled})
			}
		}
	}
	out = append(out, expireByAge(ctx, active, d.cfg.MaxAgeBars)...)
	return out
}
