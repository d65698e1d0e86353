// Package decision maps an extraction and its match to a disposition.
package decision

import (
	"math"

	"github.com/rotisserie/eris"

	"github.com/sells-group/signmatch/internal/model"
)

// Default tier boundaries.
const (
	DefaultHighThreshold   = 0.90
	DefaultMediumThreshold = 0.60
)

// Thresholds are the inclusive lower bounds of the HIGH and MEDIUM tiers.
type Thresholds struct {
	High   float64 `yaml:"high" mapstructure:"high"`
	Medium float64 `yaml:"medium" mapstructure:"medium"`
}

// DefaultThresholds returns the production tier boundaries.
func DefaultThresholds() Thresholds {
	return Thresholds{High: DefaultHighThreshold, Medium: DefaultMediumThreshold}
}

// Validate checks that both bounds lie in (0, 1] and High >= Medium.
func (t Thresholds) Validate() error {
	if !(t.Medium > 0 && t.Medium <= 1) {
		return eris.Errorf("decision: medium threshold %v must be in (0, 1]", t.Medium)
	}
	if !(t.High > 0 && t.High <= 1) {
		return eris.Errorf("decision: high threshold %v must be in (0, 1]", t.High)
	}
	if t.High < t.Medium {
		return eris.Errorf("decision: high threshold %v is below medium threshold %v", t.High, t.Medium)
	}
	return nil
}

// SanitizeConfidence coerces NaN, infinities and values outside [0, 1] to 0.
func SanitizeConfidence(c float64) float64 {
	if math.IsNaN(c) || c < 0 || c > 1 {
		return 0
	}
	return c
}

// Tier buckets a confidence score. It is total: every input maps to a tier,
// and lowering a valid score never raises its tier.
func Tier(confidence float64, th Thresholds) model.ConfidenceTier {
	c := SanitizeConfidence(confidence)
	switch {
	case c >= th.High:
		return model.TierHigh
	case c >= th.Medium:
		return model.TierMedium
	default:
		return model.TierLow
	}
}
