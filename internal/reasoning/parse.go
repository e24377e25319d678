package reasoning

import (
	"encoding/json"
	"strings"

	"k8s.io/apimachinery/pkg/api/resource"
)

// rawDiagnosis tolerates the shapes models actually emit: a single root_cause
// string or a root_causes list, optional confidence, free-form memory value.
type rawDiagnosis struct {
	RootCause         string   `json:"root_cause"`
	RootCauses        []string `json:"root_causes"`
	Confidence        *float64 `json:"confidence"`
	RecommendedMemory string   `json:"recommended_memory"`
	ExplanationText   string   `json:"explanation_text"`
}

// parseResponse extracts the first {...} block from free text and decodes it.
// Text after the block becomes the explanation. A response with no decodable
// JSON is degraded; a decodable response with missing fields gets per-field
// conservative defaults instead.
func parseResponse(text string, currentLimit resource.Quantity) Result {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")

	if start < 0 || end <= start {
		return degradedResult("no JSON object in response", currentLimit)
	}

	var raw rawDiagnosis
	if err := json.Unmarshal([]byte(text[start:end+1]), &raw); err != nil {
		return degradedResult("unparsable JSON in response", currentLimit)
	}

	rootCause := raw.RootCause
	if rootCause == "" && len(raw.RootCauses) > 0 {
		rootCause = strings.Join(raw.RootCauses, "; ")
	}
	if rootCause == "" {
		rootCause = RootCauseUnavailable
	}

	confidence := 0.0
	if raw.Confidence != nil {
		confidence = clamp01(*raw.Confidence)
	}

	recommended := currentLimit
	if raw.RecommendedMemory != "" {
		if q, err := resource.ParseQuantity(raw.RecommendedMemory); err == nil {
			recommended = q
		}
	}

	explanation := strings.TrimSpace(text[end+1:])
	if explanation == "" {
		explanation = raw.ExplanationText
	}

	return okResult(rootCause, confidence, recommended, explanation)
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}
