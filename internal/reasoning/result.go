// Package reasoning invokes the reasoning backend for one incident at a time
// and contains every backend failure behind a fully populated Result. Nothing
// in this package ever returns an error to its caller.
package reasoning

import (
	"k8s.io/apimachinery/pkg/api/resource"
)

// RootCauseUnavailable marks a diagnosis the backend could not provide. It is
// rendered verbatim in reports so a degraded analysis is never silent.
const RootCauseUnavailable = "unavailable"

// Result is the tagged outcome of one backend call. Degraded results carry
// conservative defaults resolved here, at the boundary, so downstream code
// never checks for missing fields.
type Result struct {
	RootCause   string            `json:"rootCause"`
	Confidence  float64           `json:"confidence"`
	Recommended resource.Quantity `json:"recommendedMemory"`
	Explanation string            `json:"explanation,omitempty"`

	Degraded       bool   `json:"degraded"`
	DegradedReason string `json:"degradedReason,omitempty"`
}

func okResult(rootCause string, confidence float64, recommended resource.Quantity, explanation string) Result {
	return Result{
		RootCause:   rootCause,
		Confidence:  confidence,
		Recommended: recommended,
		Explanation: explanation,
	}
}

// degradedResult substitutes the safe defaults: confidence zero keeps the
// policy gate closed, and recommending the current limit proposes no change.
func degradedResult(reason string, currentLimit resource.Quantity) Result {
	return Result{
		RootCause:      RootCauseUnavailable,
		Confidence:     0,
		Recommended:    currentLimit,
		Degraded:       true,
		DegradedReason: reason,
	}
}
