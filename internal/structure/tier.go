package structure

import "fmt"

// Tier is the coarse quality bucket derived from the continuous score.
type Tier string

const (
	TierLow     Tier = "LOW"
	TierMedium  Tier = "MEDIUM"
	TierHigh    Tier = "HIGH"
	TierPremium Tier = "PREMIUM"
)

// TierThresholds maps score boundaries to tiers. Values are the lower bound of
// MEDIUM, HIGH and PREMIUM respectively.
type TierThresholds struct {
	Medium  float64
	High    float64
	Premium float64
}

// DefaultTierThresholds mirror the shipped configuration.
func DefaultTierThresholds() TierThresholds {
	return TierThresholds{Medium: 0.45, High: 0.65, Premium: 0.82}
}

// Validate checks the boundaries are ordered and inside (0,1).
func (t TierThresholds) Validate() error {
	if t.Medium <= 0 || t.Premium >= 1 {
		return fmt.Errorf("tier thresholds must lie inside (0,1)")
	}
	if !(t.Medium < t.High && t.High < t.Premium) {
		return fmt.Errorf("tier thresholds must be strictly increasing, got %.2f/%.2f/%.2f", t.Medium, t.High, t.Premium)
	}
	return nil
}

// TierFor buckets a quality score.
func (t TierThresholds) TierFor(score float64) Tier {
	switch {
	case score >= t.Premium:
		return TierPremium
	case score >= t.High:
		return TierHigh
	case score >= t.Medium:
		return TierMedium
	default:
		return TierLow
	}
}
