// Package policy is the single safety boundary between probabilistic
// reasoning output and anything a human might act on. Evaluate is a pure
// function: no I/O, no cluster calls, no hidden state, and identical inputs
// always produce the identical Decision.
package policy

import (
	"k8s.io/apimachinery/pkg/api/resource"

	"github.com/JNickson/cluster-incident-agent/internal/reasoning"
)

// Decision reasons, fixed strings for auditability.
const (
	ReasonDenyList      = "denied by deny-list"
	ReasonLowConfidence = "confidence below threshold"
	ReasonExceedsFactor = "exceeds max increase factor"
	ReasonWithinPolicy  = "within policy"
)

// Rules are configuration, not runtime state. DenyList entries are either a
// namespace or a namespace/pod pair.
type Rules struct {
	ConfidenceThreshold float64
	MaxIncreaseFactor   float64
	DenyList            []string
}

// Subject identifies the pod the suggestion targets.
type Subject struct {
	Namespace string
	Pod       string
}

// Decision is immutable once produced. The first matching rule wins and its
// reason is recorded verbatim.
type Decision struct {
	Allowed     bool              `json:"allowed"`
	Reason      string            `json:"reason"`
	Recommended resource.Quantity `json:"recommendedMemory"`
}

// Evaluate applies the rules in fixed order: deny-list, confidence threshold,
// increase factor, then allow.
func Evaluate(subject Subject, currentLimit resource.Quantity, res reasoning.Result, rules Rules) Decision {
	if denied(subject, rules.DenyList) {
		return Decision{Allowed: false, Reason: ReasonDenyList, Recommended: res.Recommended}
	}

	if res.Confidence < rules.ConfidenceThreshold {
		return Decision{Allowed: false, Reason: ReasonLowConfidence, Recommended: res.Recommended}
	}

	if exceedsFactor(currentLimit, res.Recommended, rules.MaxIncreaseFactor) {
		return Decision{Allowed: false, Reason: ReasonExceedsFactor, Recommended: res.Recommended}
	}

	return Decision{Allowed: true, Reason: ReasonWithinPolicy, Recommended: res.Recommended}
}

func denied(subject Subject, denyList []string) bool {
	key := subject.Namespace + "/" + subject.Pod

	for _, entry := range denyList {
		if entry == subject.Namespace || entry == key {
			return true
		}
	}
	return false
}

// exceedsFactor compares recommended/current against the cap. A pod with no
// declared limit gives the factor no denominator, so any positive
// recommendation is treated as unbounded and denied.
func exceedsFactor(currentLimit, recommended resource.Quantity, maxFactor float64) bool {
	if currentLimit.IsZero() {
		return !recommended.IsZero()
	}

	factor := float64(recommended.Value()) / float64(currentLimit.Value())
	return factor > maxFactor
}
