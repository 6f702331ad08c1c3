package domain

import (
	"fmt"
	"time"
)

// Tier is the staleness classification of an active admission, derived from
// how long the patient has gone without a qualifying lab test.
type Tier int

const (
	TierNormal Tier = iota
	TierWarning
	TierCritical
)

// String returns the lowercase wire name of the tier.
func (t Tier) String() string {
	switch t {
	case TierNormal:
		return "normal"
	case TierWarning:
		return "warning"
	case TierCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// ParseTier converts a wire name back to a Tier. Unknown or empty strings
// map to TierNormal so query filters degrade to "show everything".
func ParseTier(s string) Tier {
	switch s {
	case "warning":
		return TierWarning
	case "critical":
		return TierCritical
	default:
		return TierNormal
	}
}

// Thresholds holds the elapsed-time boundaries between tiers.
// Warning must be strictly less than Critical.
type Thresholds struct {
	Warning  time.Duration
	Critical time.Duration
}

// Validate reports whether the thresholds are usable.
func (th Thresholds) Validate() error {
	if th.Warning <= 0 || th.Critical <= 0 {
		return fmt.Errorf("thresholds must be positive: warning=%s critical=%s", th.Warning, th.Critical)
	}
	if th.Warning >= th.Critical {
		return fmt.Errorf("warning threshold %s must be below critical threshold %s", th.Warning, th.Critical)
	}
	return nil
}

// TierFor maps an elapsed duration to its tier. Pure: the same inputs always
// produce the same tier, and the result is non-decreasing in elapsed.
func TierFor(elapsed time.Duration, th Thresholds) Tier {
	switch {
	case elapsed >= th.Critical:
		return TierCritical
	case elapsed >= th.Warning:
		return TierWarning
	default:
		return TierNormal
	}
}

// TierStep is one edge of the per-admission tier state machine.
type TierStep struct {
	From Tier
	To   Tier
}

// Steps expands a tier change into the individual transitions to alert on.
// Upward jumps pass through intermediate tiers (Normal→Critical yields
// Normal→Warning and Warning→Critical); any downward change collapses to a
// single step directly to Normal, since staleness only decreases when a new
// qualifying test arrives. An unchanged tier yields no steps.
func Steps(from, to Tier) []TierStep {
	switch {
	case from == to:
		return nil
	case to < from:
		return []TierStep{{From: from, To: TierNormal}}
	default:
		steps := make([]TierStep, 0, int(to-from))
		for t := from; t < to; t++ {
			steps = append(steps, TierStep{From: t, To: t + 1})
		}
		return steps
	}
}
