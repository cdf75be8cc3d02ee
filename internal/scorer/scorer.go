// Package scorer merges ranked structures and auxiliary market-context
// signals into the single pass/fail composite gate.
package scorer

import (
	"fmt"
	"math"
	"strings"

	"github.com/Terrxnce/DEVI-sub000/internal/pkg/decmath"
	"github.com/Terrxnce/DEVI-sub000/internal/structure"
)

// Weights are the composite term weights; they must sum to 1.
type Weights struct {
	StructureQuality  float64 `mapstructure:"structure_quality"`
	RejectionStrength float64 `mapstructure:"rejection_strength"`
	TrendAlignment    float64 `mapstructure:"trend_alignment"`
	ZoneProximity     float64 `mapstructure:"zone_proximity"`
}

func (w Weights) validate() error {
	for name, v := range map[string]float64{
		"structure_quality":  w.StructureQuality,
		"rejection_strength": w.RejectionStrength,
		"trend_alignment":    w.TrendAlignment,
		"zone_proximity":     w.ZoneProximity,
	} {
		if v < 0 {
			return fmt.Errorf("scorer: weight %s negative", name)
		}
	}
	sum := w.StructureQuality + w.RejectionStrength + w.TrendAlignment + w.ZoneProximity
	if math.Abs(sum-1.0) > 1e-6 {
		return fmt.Errorf("scorer: weights sum to %.6f, want 1.0", sum)
	}
	return nil
}

// ThresholdKey selects the minimum composite score for a market context.
type ThresholdKey struct {
	Timeframe       string
	InstrumentClass string
	Session         string
}

func (k ThresholdKey) String() string {
	return strings.ToLower(k.Timeframe) + "|" + strings.ToLower(k.InstrumentClass) + "|" + strings.ToLower(k.Session)
}

// Config is the scorer configuration. MinThresholds is keyed by
// ThresholdKey.String(); a missing key for an evaluated context is an error,
// never a silent default.
type Config struct {
	Weights       Weights            `mapstructure:"weights"`
	MinThresholds map[string]float64 `mapstructure:"min_thresholds"`
}

// RejectionSignal is the auxiliary zone-rejection input.
type RejectionSignal struct {
	Strength  float64
	Confirmed bool // confirmed on the bar after the reaction
}

// Inputs gathers everything the gate weighs for one bar.
type Inputs struct {
	Structures     []*structure.Structure // ranked, best first
	Rejection      RejectionSignal
	TrendAlignment float64
	ZoneProximity  float64
}

// Result is the gate outcome with the full component breakdown for auditing.
type Result struct {
	Score       float64            `json:"composite_score"`
	Passed      bool               `json:"passed"`
	Threshold   float64            `json:"threshold"`
	Breakdown   map[string]float64 `json:"component_breakdown"`
	GateReasons []string           `json:"gate_reasons,omitempty"`
}

// Scorer evaluates the composite gate.
type Scorer struct {
	cfg Config
}

func New(cfg Config) (*Scorer, error) {
	if err := cfg.Weights.validate(); err != nil {
		return nil, err
	}
	if len(cfg.MinThresholds) == 0 {
		return nil, fmt.Errorf("scorer: min_thresholds missing")
	}
	return &Scorer{cfg: cfg}, nil
}

// Threshold resolves the minimum score for key, failing when unconfigured.
func (s *Scorer) Threshold(key ThresholdKey) (float64, error) {
	v, ok := s.cfg.MinThresholds[key.String()]
	if !ok {
		return 0, fmt.Errorf("scorer: no threshold configured for %s", key.String())
	}
	return v, nil
}

// Evaluate computes the weighted composite score. Every term is clamped to
// [0,1] before weighting. An unconfirmed rejection contributes at half
// strength.
func (s *Scorer) Evaluate(key ThresholdKey, in Inputs) (Result, error) {
	threshold, err := s.Threshold(key)
	if err != nil {
		return Result{}, err
	}

	var reasons []string
	quality := 0.0
	if len(in.Structures) > 0 {
		quality = in.Structures[0].Quality
	} else {
		reasons = append(reasons, "no_active_structure")
	}
	rejection := in.Rejection.Strength
	if !in.Rejection.Confirmed {
		rejection *= 0.5
	}

	breakdown := map[string]float64{
		"structure_quality":  decmath.Clamp01(quality),
		"rejection_strength": decmath.Clamp01(rejection),
		"trend_alignment":    decmath.Clamp01(in.TrendAlignment),
		"zone_proximity":     decmath.Clamp01(in.ZoneProximity),
	}
	score := s.cfg.Weights.StructureQuality*breakdown["structure_quality"] +
		s.cfg.Weights.RejectionStrength*breakdown["rejection_strength"] +
		s.cfg.Weights.TrendAlignment*breakdown["trend_alignment"] +
		s.cfg.Weights.ZoneProximity*breakdown["zone_proximity"]
	score = decmath.Clamp01(score)

	passed := score >= threshold && len(in.Structures) > 0
	if score < threshold {
		reasons = append(reasons, fmt.Sprintf("score %.4f below threshold %.4f", score, threshold))
	}
	return Result{
		Score:       score,
		Passed:      passed,
		Threshold:   threshold,
		Breakdown:   breakdown,
		GateReasons: reasons,
	}, nil
}
