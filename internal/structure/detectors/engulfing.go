package detectors

import (
	"fmt"

	"github.com/Terrxnce/DEVI-sub000/internal/pkg/decmath"
	"github.com/Terrxnce/DEVI-sub000/internal/structure"
)

// EngulfingConfig parameterizes the engulfing candle detector. The optional
// gates (trend, zone proximity, break alignment) are off unless enabled; when
// off they still contribute to the context sub-score.
type EngulfingConfig struct {
	MinBodyATR        float64            `mapstructure:"min_body_atr"`
	MinBodyRangeRatio float64            `mapstructure:"min_body_range_ratio"`
	LookaheadBars     int                `mapstructure:"lookahead_bars"`
	MaxAgeBars        int                `mapstructure:"max_age_bars"`
	DebounceBars      int                `mapstructure:"debounce_bars"`
	RequireTrendAlign bool               `mapstructure:"require_trend_align"`
	RequireZoneTouch  bool               `mapstructure:"require_zone_touch"`
	RequireBreakAlign bool               `mapstructure:"require_break_align"`
	ZoneProximityATR  float64            `mapstructure:"zone_proximity_atr"`
	BreakAlignWindow  int                `mapstructure:"break_align_window"`
	Weights           map[string]float64 `mapstructure:"weights"`
}

var engulfingWeightKeys = []string{"body_magnitude", "body_range_ratio", "follow_through", "context"}

type engulfingDetector struct {
	cfg      EngulfingConfig
	w        weights
	debounce debounce
}

// NewEngulfing builds the engulfing detector.
func NewEngulfing(cfg EngulfingConfig) (Detector, error) {
	w := weights(cfg.Weights)
	if err := w.validate("engulfing", engulfingWeightKeys); err != nil {
		return nil, err
	}
	if cfg.MinBodyATR <= 0 {
		return nil, fmt.Errorf("engulfing: min_body_atr must be > 0")
	}
	if cfg.MinBodyRangeRatio <= 0 || cfg.MinBodyRangeRatio > 1 {
		return nil, fmt.Errorf("engulfing: min_body_range_ratio must be in (0,1]")
	}
	if cfg.LookaheadBars <= 0 {
		cfg.LookaheadBars = 3
	}
	if cfg.ZoneProximityATR <= 0 {
		cfg.ZoneProximityATR = 1.0
	}
	if cfg.BreakAlignWindow <= 0 {
		cfg.BreakAlignWindow = 10
	}
	return &engulfingDetector{cfg: cfg, w: w, debounce: newDebounce(cfg.DebounceBars)}, nil
}

func (d *engulfingDetector) Name() string         { return "engulfing" }
func (d *engulfingDetector) Type() structure.Type { return structure.TypeEngulfing }

// Detect fires when the current candle's real body fully contains the
// previous candle's real body with opposite color and sufficient size.
func (d *engulfingDetector) Detect(ctx Context) ([]*structure.Structure, error) {
	if !ctx.Vol.Ready() || len(ctx.Bars) < 2 {
		return nil, nil
	}
	cur := ctx.Current()
	prev := ctx.Bars[len(ctx.Bars)-2]

	var dir structure.Direction
	switch {
	case cur.IsBullish() && prev.IsBearish():
		dir = structure.Bullish
	case cur.IsBearish() && prev.IsBullish():
		dir = structure.Bearish
	default:
		return nil, nil
	}
	// Full real-body containment.
	if cur.BodyTop().Cmp(prev.BodyTop()) < 0 || cur.BodyBottom().Cmp(prev.BodyBottom()) > 0 {
		return nil, nil
	}
	minBody := ctx.Vol.Mult(d.cfg.MinBodyATR)
	if cur.Body().Cmp(minBody) < 0 || cur.BodyRatio() < d.cfg.MinBodyRangeRatio {
		return nil, nil
	}
	if !d.debounce.allow(dir, ctx.LastIndex) {
		return nil, nil
	}

	trendScore := ctx.Trend.Alignment(dir == structure.Bullish)
	if d.cfg.RequireTrendAlign && trendScore < 0.5 {
		return nil, nil
	}
	zoneScore := 0.0
	zoneDist, hasZone := NearestZoneDistanceATR(ctx.Vol, FilterZones(ctx.Zones), cur.Close)
	if hasZone {
		zoneScore = decmath.Clamp01(1 - zoneDist/d.cfg.ZoneProximityATR)
	}
	if d.cfg.RequireZoneTouch && zoneScore <= 0 {
		return nil, nil
	}
	breakScore := 0.0
	if _, ok := recentSameDirection(ctx.Zones, structure.TypeBreakOfStructure, dir, ctx.LastIndex, d.cfg.BreakAlignWindow); ok {
		breakScore = 1.0
	}
	if d.cfg.RequireBreakAlign && breakScore == 0 {
		return nil, nil
	}

	// Follow-through at detection: how far the close pushed past the
	// engulfed body.
	var pushed = decmath.Zero
	if dir == structure.Bullish {
		pushed = cur.Close.Sub(prev.BodyTop())
	} else {
		pushed = prev.BodyBottom().Sub(cur.Close)
	}
	components := map[string]float64{
		"body_magnitude":   thresholdScore(cur.Body(), minBody),
		"body_range_ratio": decmath.Clamp01(cur.BodyRatio() / 1.0),
		"follow_through":   decmath.Clamp01(decmath.Ratio(pushed, ctx.Vol.Value)),
		"context":          decmath.Clamp01((trendScore + zoneScore + breakScore) / 3),
	}
	geo := structure.Geometry{Low: cur.BodyBottom(), High: cur.BodyTop(), OriginIndex: ctx.LastIndex}
	s := &structure.Structure{
		Detector:   d.Name(),
		Type:       d.Type(),
		Symbol:     ctx.Symbol,
		Timeframe:  ctx.Timeframe,
		Direction:  dir,
		Geometry:   geo,
		OriginTime: cur.Timestamp,
		Quality:    d.w.score(components),
		State:      structure.LifecycleUnfilled,
		Metadata:   components,
	}
	s.Tier = ctx.Tiers.TierFor(s.Quality)
	s.ID = structure.NewID(d.Name(), d.Type(), ctx.Symbol, ctx.Timeframe, dir, geo, s.OriginTime)
	d.debounce.mark(dir, ctx.LastIndex)
	return []*structure.Structure{s}, nil
}

// Advance fills the pattern once a close extends beyond the engulfing candle
// within the lookahead window, expiring it otherwise.
func (d *engulfingDetector) Advance(ctx Context, active []*structure.Structure) []Transition {
	cur := ctx.Current()
	var out []Transition
	for _, s := range active {
		if s.State != structure.LifecycleUnfilled || s.Geometry.OriginIndex == ctx.LastIndex {
			continue
		}
		age := s.AgeBars(ctx.LastIndex)
		var confirmed bool
		switch s.Direction {
		case structure.Bullish:
			confirmed = cur.Close.Cmp(s.Geometry.High) > 0
		case structure.Bearish:
			confirmed = cur.Close.Cmp(s.Geometry.Low) < 0
		}
		from := s.State
		switch {
		case confirmed:
			if err := s.Transition(structure.LifecycleFilled); err == nil {
				out = append(out, Transition{Structure: s, From: from, To: structure.LifecycleFilled})
			}
		case age > d.cfg.LookaheadBars:
			if err := s.Transition(structure.LifecycleExpired); err == nil {
				out = append(out, Transition{Structure: s, From: from, To: structure.LifecycleExpired})
			}
		}
	}
	out = append(out, expireByAge(ctx, active, d.cfg.MaxAgeBars)...)
	return out
}
