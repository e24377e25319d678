// Package report turns a fully evaluated incident into its human-readable
// form and its structured audit record. Pure presentation: no cluster calls,
// no remediation.
package report

import (
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/JNickson/cluster-incident-agent/internal/incident"
	"github.com/JNickson/cluster-incident-agent/internal/policy"
	"github.com/JNickson/cluster-incident-agent/internal/reasoning"
	"github.com/JNickson/cluster-incident-agent/internal/utils"
)

type Report struct {
	Text   string
	Record AuditRecord
}

// AuditRecord is the flat, queryable form of one completed incident pass.
type AuditRecord struct {
	ID         string    `json:"id"`
	IncidentID string    `json:"incidentId"`
	CreatedAt  time.Time `json:"createdAt"`

	Namespace string `json:"namespace"`
	Pod       string `json:"pod"`
	Node      string `json:"node"`
	Container string `json:"container"`

	Signature     string `json:"signature"`
	FailureReason string `json:"failureReason"`
	RestartCount  int32  `json:"restartCount"`
	MemoryLimit   string `json:"memoryLimit"`

	RootCause         string  `json:"rootCause"`
	Confidence        float64 `json:"confidence"`
	RecommendedMemory string  `json:"recommendedMemory"`
	Degraded          bool    `json:"degraded"`
	DegradedReason    string  `json:"degradedReason,omitempty"`

	Allowed        bool   `json:"allowed"`
	DecisionReason string `json:"decisionReason"`
}

// Render formats the report. Degraded analyses are rendered explicitly, never
// silently omitted.
func Render(inc *incident.Incident, res reasoning.Result, dec policy.Decision) Report {
	snap := inc.Snapshot

	limit := "none"
	if !snap.MemoryLimit.IsZero() {
		limit = snap.MemoryLimit.String()
	}

	outcome := "denied"
	if dec.Allowed {
		outcome = "allowed"
	}

	var b strings.Builder

	fmt.Fprintf(&b, "incident report %s\n", inc.ID)
	fmt.Fprintf(&b, "  pod:          %s/%s\n", snap.Namespace, snap.Name)
	fmt.Fprintf(&b, "  node:         %s\n", snap.Node)
	fmt.Fprintf(&b, "  container:    %s\n", snap.Container)
	fmt.Fprintf(&b, "  age:          %s\n", utils.AgeSince(inc.CreatedAt))
	fmt.Fprintf(&b, "  failure:      %s (restarts=%d)\n", snap.Reason, snap.RestartCount)
	fmt.Fprintf(&b, "  memory limit: %s\n", limit)
	fmt.Fprintf(&b, "  diagnosis:    %s\n", res.RootCause)
	fmt.Fprintf(&b, "  confidence:   %.0f%%\n", res.Confidence*100)
	fmt.Fprintf(&b, "  recommended:  %s\n", res.Recommended.String())

	if res.Degraded {
		fmt.Fprintf(&b, "  backend:      degraded (%s)\n", res.DegradedReason)
	}

	fmt.Fprintf(&b, "  decision:     %s (%s)\n", outcome, dec.Reason)
	fmt.Fprintf(&b, "  auto-remediation: disabled\n")

	record := AuditRecord{
		ID:                ulid.Make().String(),
		IncidentID:        inc.ID,
		CreatedAt:         utils.Now(),
		Namespace:         snap.Namespace,
		Pod:               snap.Name,
		Node:              snap.Node,
		Container:         snap.Container,
		Signature:         snap.Signature(),
		FailureReason:     snap.Reason,
		RestartCount:      snap.RestartCount,
		MemoryLimit:       limit,
		RootCause:         res.RootCause,
		Confidence:        res.Confidence,
		RecommendedMemory: res.Recommended.String(),
		Degraded:          res.Degraded,
		DegradedReason:    res.DegradedReason,
		Allowed:           dec.Allowed,
		DecisionReason:    dec.Reason,
	}

	return Report{Text: b.String(), Record: record}
}
