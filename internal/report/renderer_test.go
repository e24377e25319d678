package report

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/apimachinery/pkg/api/resource"

	"github.com/JNickson/cluster-incident-agent/internal/incident"
	"github.com/JNickson/cluster-incident-agent/internal/policy"
	"github.com/JNickson/cluster-incident-agent/internal/reasoning"
)

func testIncident() *incident.Incident {
	return incident.New(incident.PodSnapshot{
		Namespace:    "demo",
		Name:         "memory-hog",
		UID:          "uid-1",
		Node:         "node-a",
		Container:    "app",
		RestartCount: 4,
		Reason:       "OOMKilled",
		MemoryLimit:  resource.MustParse("64Mi"),
	})
}

func TestRender(t *testing.T) {
	inc := testIncident()

	res := reasoning.Result{
		RootCause:   "container exceeded its memory limit",
		Confidence:  0.95,
		Recommended: resource.MustParse("256Mi"),
	}

	dec := policy.Decision{
		Allowed:     true,
		Reason:      policy.ReasonWithinPolicy,
		Recommended: res.Recommended,
	}

	rep := Render(inc, res, dec)

	assert.Contains(t, rep.Text, "demo/memory-hog")
	assert.Contains(t, rep.Text, "age:          0m")
	assert.Contains(t, rep.Text, "memory limit: 64Mi")
	assert.Contains(t, rep.Text, "container exceeded its memory limit")
	assert.Contains(t, rep.Text, "confidence:   95%")
	assert.Contains(t, rep.Text, "recommended:  256Mi")
	assert.Contains(t, rep.Text, "allowed (within policy)")
	assert.Contains(t, rep.Text, "auto-remediation: disabled")
	assert.NotContains(t, rep.Text, "degraded")

	require.NotEmpty(t, rep.Record.ID)
	assert.Equal(t, inc.ID, rep.Record.IncidentID)
	assert.Equal(t, "uid-1|4|OOMKilled", rep.Record.Signature)
	assert.Equal(t, "256Mi", rep.Record.RecommendedMemory)
	assert.True(t, rep.Record.Allowed)
}

func TestRenderDegradedIsExplicit(t *testing.T) {
	inc := testIncident()

	res := reasoning.Result{
		RootCause:      reasoning.RootCauseUnavailable,
		Confidence:     0,
		Recommended:    resource.MustParse("64Mi"),
		Degraded:       true,
		DegradedReason: "backend unreachable: timeout",
	}

	dec := policy.Decision{
		Allowed:     false,
		Reason:      policy.ReasonLowConfidence,
		Recommended: res.Recommended,
	}

	rep := Render(inc, res, dec)

	// A failed analysis is rendered, never silently omitted.
	assert.Contains(t, rep.Text, "diagnosis:    unavailable")
	assert.Contains(t, rep.Text, "backend:      degraded (backend unreachable: timeout)")
	assert.Contains(t, rep.Text, "denied (confidence below threshold)")

	assert.True(t, rep.Record.Degraded)
	assert.Equal(t, "backend unreachable: timeout", rep.Record.DegradedReason)
}

func TestRenderWithoutDeclaredLimit(t *testing.T) {
	inc := testIncident()
	inc.Snapshot.MemoryLimit = resource.Quantity{}

	res := reasoning.Result{
		RootCause:   "no limit declared",
		Confidence:  0.9,
		Recommended: resource.MustParse("128Mi"),
	}

	rep := Render(inc, res, policy.Decision{
		Allowed:     false,
		Reason:      policy.ReasonExceedsFactor,
		Recommended: res.Recommended,
	})

	assert.Contains(t, rep.Text, "memory limit: none")
	assert.Equal(t, "none", rep.Record.MemoryLimit)
}
