package fingerprint

import "fmt"

// PolicyKind selects the threshold formula of a MatchPolicy.
type PolicyKind string

const (
	// PolicyScaled accepts when score >= base * scale.
	PolicyScaled PolicyKind = "scaled"
	// PolicyMargin accepts when score >= base - margin.
	PolicyMargin PolicyKind = "margin"
)

// DefaultBaseThreshold is the sensitivity both reader families are calibrated
// against.
const DefaultBaseThreshold = 50

// MatchPolicy decides whether a similarity score is a match for a given
// hardware family. The two shapes come from independent vendor calibrations
// and are kept separate on purpose.
type MatchPolicy struct {
	Kind          PolicyKind `toml:"kind"`
	BaseThreshold float64    `toml:"base_threshold"`
	Scale         float64    `toml:"scale"`
	Margin        float64    `toml:"margin"`
}

// ScaledPolicy returns a PolicyScaled policy.
func ScaledPolicy(base, scale float64) MatchPolicy {
	return MatchPolicy{Kind: PolicyScaled, BaseThreshold: base, Scale: scale}
}

// MarginPolicy returns a PolicyMargin policy.
func MarginPolicy(base, margin float64) MatchPolicy {
	return MatchPolicy{Kind: PolicyMargin, BaseThreshold: base, Margin: margin}
}

// Threshold is the minimal accepted score.
func (p MatchPolicy) Threshold() float64 {
	switch p.Kind {
	case PolicyScaled:
		return p.BaseThreshold * p.Scale
	case PolicyMargin:
		return p.BaseThreshold - p.Margin
	default:
		return p.BaseThreshold
	}
}

// Accept applies the policy to score.
func (p MatchPolicy) Accept(score float64) bool {
	return score >= p.Threshold()
}

// Validate checks the policy parameters.
func (p MatchPolicy) Validate() error {
	if p.BaseThreshold <= 0 {
		return fmt.Errorf("invalid base_threshold %.2f: must be > 0", p.BaseThreshold)
	}
	switch p.Kind {
	case PolicyScaled:
		if p.Scale <= 0 || p.Scale > 1 {
			return fmt.Errorf("invalid scale %.2f: must be in (0, 1]", p.Scale)
		}
	case PolicyMargin:
		if p.Margin < 0 || p.Margin >= p.BaseThreshold {
			return fmt.Errorf("invalid margin %.2f: must be in [0, %.2f)", p.Margin, p.BaseThreshold)
		}
	default:
		return fmt.Errorf("invalid policy kind %q: must be %q or %q", p.Kind, PolicyScaled, PolicyMargin)
	}
	return nil
}

func (p MatchPolicy) String() string {
	switch p.Kind {
	case PolicyScaled:
		return fmt.Sprintf("scaled(%.2f*%.2f)", p.BaseThreshold, p.Scale)
	case PolicyMargin:
		return fmt.Sprintf("margin(%.2f-%.2f)", p.BaseThreshold, p.Margin)
	default:
		return string(p.Kind)
	}
}
