package reasoning

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/apimachinery/pkg/api/resource"

	"github.com/JNickson/cluster-incident-agent/internal/signals"
)

func testContext() signals.Context {
	return signals.Context{
		IncidentType: "OOMKilled",
		Pod:          "memory-hog",
		Namespace:    "demo",
		Node:         "node-a",
		Container:    "app",
		RestartCount: 4,
		Resources: signals.Resources{
			MemoryRequest: "32Mi",
			MemoryLimit:   "64Mi",
		},
	}
}

func TestAnalyzeSuccess(t *testing.T) {
	var gotReq generateRequest

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))

		_ = json.NewEncoder(w).Encode(generateResponse{
			Response: `{"root_cause":"container exceeded its memory limit","confidence":0.95,"recommended_memory":"256Mi"}` +
				"\nIncrease the limit and investigate the allocation pattern.",
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, "mistral:latest", time.Second)

	res := client.Analyze(context.Background(), testContext(), resource.MustParse("64Mi"))

	require.False(t, res.Degraded)
	assert.Equal(t, "container exceeded its memory limit", res.RootCause)
	assert.Equal(t, 0.95, res.Confidence)
	assert.True(t, res.Recommended.Equal(resource.MustParse("256Mi")))
	assert.Equal(t, "Increase the limit and investigate the allocation pattern.", res.Explanation)

	// Exactly one incident per prompt, non-streaming, model from config.
	assert.Equal(t, "mistral:latest", gotReq.Model)
	assert.False(t, gotReq.Stream)
	assert.Contains(t, gotReq.Prompt, `"pod": "memory-hog"`)
	assert.Contains(t, gotReq.Prompt, "Do NOT suggest executing commands.")
}

func TestAnalyzeNeverErrors(t *testing.T) {
	currentLimit := resource.MustParse("64Mi")

	tests := []struct {
		name       string
		handler    http.HandlerFunc
		endpoint   string
		timeout    time.Duration
		wantReason string
	}{
		{
			name: "backend timeout",
			handler: func(w http.ResponseWriter, r *http.Request) {
				time.Sleep(200 * time.Millisecond)
				_ = json.NewEncoder(w).Encode(generateResponse{Response: "{}"})
			},
			timeout:    20 * time.Millisecond,
			wantReason: "backend unreachable",
		},
		{
			name:       "connection refused",
			endpoint:   "http://127.0.0.1:1/api/generate",
			timeout:    time.Second,
			wantReason: "backend unreachable",
		},
		{
			name: "server error status",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "overloaded", http.StatusInternalServerError)
			},
			timeout:    time.Second,
			wantReason: "backend returned status 500",
		},
		{
			name: "malformed body",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte("not json at all"))
			},
			timeout:    time.Second,
			wantReason: "response decode failed",
		},
		{
			name: "empty response field",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_ = json.NewEncoder(w).Encode(generateResponse{Response: ""})
			},
			timeout:    time.Second,
			wantReason: "empty response",
		},
		{
			name: "response without json",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_ = json.NewEncoder(w).Encode(generateResponse{Response: "it ran out of memory"})
			},
			timeout:    time.Second,
			wantReason: "no JSON object in response",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			endpoint := tt.endpoint
			if endpoint == "" {
				server := httptest.NewServer(tt.handler)
				defer server.Close()
				endpoint = server.URL
			}

			client := NewClient(endpoint, "mistral:latest", tt.timeout)

			res := client.Analyze(context.Background(), testContext(), currentLimit)

			// Every backend condition yields a fully populated degraded
			// result with the safe defaults.
			require.True(t, res.Degraded)
			assert.True(t, strings.Contains(res.DegradedReason, tt.wantReason),
				"degraded reason %q does not contain %q", res.DegradedReason, tt.wantReason)
			assert.Equal(t, RootCauseUnavailable, res.RootCause)
			assert.Equal(t, 0.0, res.Confidence)
			assert.True(t, res.Recommended.Equal(currentLimit))
		})
	}
}

func TestAnalyzeHonoursCallerCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Drain the body first: with it unread, the server never notices
		// the client going away, r.Context() never fires, and the deferred
		// server.Close() deadlocks on this handler.
		io.Copy(io.Discard, r.Body)
		<-r.Context().Done()
	}))
	defer server.Close()

	client := NewClient(server.URL, "mistral:latest", time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	res := client.Analyze(ctx, testContext(), resource.MustParse("64Mi"))

	require.True(t, res.Degraded)
	assert.Contains(t, res.DegradedReason, "backend unreachable")
}
