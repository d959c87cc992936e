// Package planner computes the carry-over quota decision for one
// resource. Pure and synchronous: no I/O, no clock, no panel state.
package planner

import (
	"errors"
	"fmt"
)

// OverusePolicy selects what happens when usage exceeded the limit.
// The panel installations this tool grew up on disagreed on the
// behavior, so it is an explicit operator choice.
type OverusePolicy string

const (
	// PolicyClamp sets the next cycle's limit to 0. Default.
	PolicyClamp OverusePolicy = "clamp"
	// PolicyNegative carries the deficit into the next cycle as a
	// negative limit.
	PolicyNegative OverusePolicy = "negative"
	// PolicySkip leaves the resource untouched: no reset, no update.
	PolicySkip OverusePolicy = "skip"
)

// ErrUnknownPolicy is returned for an unrecognized policy name.
var ErrUnknownPolicy = errors.New("planner: unknown overuse policy")

// ParsePolicy validates a configured policy name. Empty defaults to clamp.
func ParsePolicy(s string) (OverusePolicy, error) {
	switch OverusePolicy(s) {
	case "":
		return PolicyClamp, nil
	case PolicyClamp, PolicyNegative, PolicySkip:
		return OverusePolicy(s), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownPolicy, s)
	}
}

// Kind classifies a planning decision.
type Kind int

const (
	// Unlimited: the plan enforces no quota. Usage is reset but the
	// limit is never rewritten.
	Unlimited Kind = iota
	// CarryOver: unused allowance becomes the next cycle's limit.
	CarryOver
	// OverUsage: consumption exceeded the limit; the configured policy
	// decides the new limit.
	OverUsage
	// NoChange: the resource is left untouched entirely.
	NoChange
)

func (k Kind) String() string {
	switch k {
	case Unlimited:
		return "unlimited"
	case CarryOver:
		return "carry-over"
	case OverUsage:
		return "over-usage"
	case NoChange:
		return "no-change"
	default:
		return "unknown"
	}
}

// Decision is the planner's output for one resource. NewLimit is only
// meaningful when UpdateQuota is true.
type Decision struct {
	Kind        Kind
	NewLimit    int64
	ResetUsage  bool // issue the usage-reset call
	UpdateQuota bool // issue the quota-update call after a successful reset
}

// Plan maps a resource's (limit, used) pair to a decision.
//
// Rules, in order:
//  1. limit == 0: unlimited plan, reset only.
//  2. limit < 0: negative-allowance plan, new limit moves toward zero
//     by the amount consumed.
//  3. used <= limit: remaining allowance carries over.
//  4. used > limit: the overuse policy decides.
func Plan(limit, used int64, policy OverusePolicy) Decision {
	switch {
	case limit == 0:
		return Decision{Kind: Unlimited, ResetUsage: true}

	case limit < 0:
		return Decision{Kind: CarryOver, NewLimit: limit + used, ResetUsage: true, UpdateQuota: true}

	case used <= limit:
		return Decision{Kind: CarryOver, NewLimit: limit - used, ResetUsage: true, UpdateQuota: true}

	default:
		switch policy {
		case PolicyNegative:
			return Decision{Kind: OverUsage, NewLimit: limit - used, ResetUsage: true, UpdateQuota: true}
		case PolicySkip:
			return Decision{Kind: NoChange}
		default: // clamp
			return Decision{Kind: OverUsage, NewLimit: 0, ResetUsage: true, UpdateQuota: true}
		}
	}
}
