package runtime

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/apimachinery/pkg/api/resource"

	"github.com/JNickson/cluster-incident-agent/internal/incident"
	"github.com/JNickson/cluster-incident-agent/internal/policy"
	"github.com/JNickson/cluster-incident-agent/internal/reasoning"
	"github.com/JNickson/cluster-incident-agent/internal/report"
	"github.com/JNickson/cluster-incident-agent/internal/signals"
)

type fakeBuilder struct {
	delay time.Duration
}

func (b *fakeBuilder) Build(ctx context.Context, snap incident.PodSnapshot) signals.Context {
	if b.delay > 0 {
		select {
		case <-time.After(b.delay):
		case <-ctx.Done():
		}
	}
	return signals.Context{
		IncidentType: snap.Reason,
		Pod:          snap.Name,
		Namespace:    snap.Namespace,
	}
}

type fakeReasoner struct {
	mu     sync.Mutex
	calls  int32
	active int32
	peak   int32
	result reasoning.Result
}

func (r *fakeReasoner) Analyze(ctx context.Context, ictx signals.Context, currentLimit resource.Quantity) reasoning.Result {
	atomic.AddInt32(&r.calls, 1)

	n := atomic.AddInt32(&r.active, 1)
	defer atomic.AddInt32(&r.active, -1)

	r.mu.Lock()
	if n > r.peak {
		r.peak = n
	}
	r.mu.Unlock()

	return r.result
}

type fakeAuditor struct {
	mu      sync.Mutex
	records []report.AuditRecord
	err     error
}

func (a *fakeAuditor) Insert(ctx context.Context, rec report.AuditRecord) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return a.err
	}
	a.records = append(a.records, rec)
	return nil
}

func (a *fakeAuditor) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.records)
}

func testSnapshot(uid string) incident.PodSnapshot {
	return incident.PodSnapshot{
		Namespace:    "demo",
		Name:         "memory-hog-" + uid,
		UID:          uid,
		Node:         "node-a",
		Container:    "app",
		RestartCount: 4,
		Reason:       "OOMKilled",
		MemoryLimit:  resource.MustParse("64Mi"),
	}
}

func okResult() reasoning.Result {
	return reasoning.Result{
		RootCause:   "container exceeded its memory limit",
		Confidence:  0.9,
		Recommended: resource.MustParse("128Mi"),
	}
}

func permissiveRules() policy.Rules {
	return policy.Rules{ConfidenceThreshold: 0.6, MaxIncreaseFactor: 4.0}
}

func TestPipelineFullLifecycle(t *testing.T) {
	store := incident.NewStore(time.Hour)
	auditor := &fakeAuditor{}
	reasoner := &fakeReasoner{result: okResult()}

	var out bytes.Buffer
	p := NewPipeline(&fakeBuilder{}, reasoner, permissiveRules(), auditor, store, &out, 4)

	inc := incident.New(testSnapshot("uid-1"))
	require.True(t, store.MarkIfNew(inc.Snapshot.Signature()))

	p.Dispatch(context.Background(), []*incident.Incident{inc})
	p.Wait()

	assert.Equal(t, incident.Reported, inc.State)
	assert.Equal(t, int32(1), atomic.LoadInt32(&reasoner.calls))

	require.Equal(t, 1, auditor.count())
	rec := auditor.records[0]
	assert.Equal(t, inc.ID, rec.IncidentID)
	assert.True(t, rec.Allowed)
	assert.Equal(t, policy.ReasonWithinPolicy, rec.DecisionReason)

	assert.Contains(t, out.String(), "demo/memory-hog-uid-1")
	assert.Contains(t, out.String(), "auto-remediation: disabled")

	recent := store.ListRecent()
	require.Len(t, recent, 1)
	assert.Equal(t, inc.ID, recent[0].ID)
}

func TestPipelineSinglePendingAnalysisPerPod(t *testing.T) {
	store := incident.NewStore(time.Hour)
	reasoner := &fakeReasoner{result: okResult()}

	// A slow builder keeps the first dispatch in flight while the second
	// arrives for the same pod with a bumped restart count.
	p := NewPipeline(&fakeBuilder{delay: 50 * time.Millisecond}, reasoner, permissiveRules(), &fakeAuditor{}, store, &bytes.Buffer{}, 4)

	first := incident.New(testSnapshot("uid-1"))

	bumped := testSnapshot("uid-1")
	bumped.RestartCount = 5
	second := incident.New(bumped)

	require.True(t, store.MarkIfNew(first.Snapshot.Signature()))
	require.True(t, store.MarkIfNew(second.Snapshot.Signature()))

	p.Dispatch(context.Background(), []*incident.Incident{first})
	p.Dispatch(context.Background(), []*incident.Incident{second})
	p.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&reasoner.calls))
	assert.Equal(t, incident.Reported, first.State)
	assert.Equal(t, incident.Detected, second.State)

	// The skipped incident's signature resurfaces so a later scan recreates
	// it; the analysed one stays suppressed.
	assert.True(t, store.MarkIfNew(second.Snapshot.Signature()))
	assert.False(t, store.MarkIfNew(first.Snapshot.Signature()))
}

func TestPipelineDistinctPodsRunConcurrently(t *testing.T) {
	store := incident.NewStore(time.Hour)
	reasoner := &fakeReasoner{result: okResult()}

	p := NewPipeline(&fakeBuilder{}, reasoner, permissiveRules(), &fakeAuditor{}, store, &bytes.Buffer{}, 4)

	incidents := []*incident.Incident{
		incident.New(testSnapshot("uid-1")),
		incident.New(testSnapshot("uid-2")),
		incident.New(testSnapshot("uid-3")),
	}

	p.Dispatch(context.Background(), incidents)
	p.Wait()

	assert.Equal(t, int32(3), atomic.LoadInt32(&reasoner.calls))
	for _, inc := range incidents {
		assert.Equal(t, incident.Reported, inc.State)
	}
}

func TestPipelineAbandonOnCancellation(t *testing.T) {
	store := incident.NewStore(time.Hour)
	reasoner := &fakeReasoner{result: okResult()}

	p := NewPipeline(&fakeBuilder{delay: time.Second}, reasoner, permissiveRules(), &fakeAuditor{}, store, &bytes.Buffer{}, 4)

	inc := incident.New(testSnapshot("uid-1"))
	require.True(t, store.MarkIfNew(inc.Snapshot.Signature()))

	ctx, cancel := context.WithCancel(context.Background())
	p.Dispatch(ctx, []*incident.Incident{inc})
	cancel()
	p.Wait()

	assert.NotEqual(t, incident.Reported, inc.State)

	// The forgotten signature lets a later scan recreate the incident.
	assert.True(t, store.MarkIfNew(inc.Snapshot.Signature()))
}

func TestPipelineAuditFailureDoesNotBlockReport(t *testing.T) {
	store := incident.NewStore(time.Hour)
	auditor := &fakeAuditor{err: errors.New("disk full")}

	var out bytes.Buffer
	p := NewPipeline(&fakeBuilder{}, &fakeReasoner{result: okResult()}, permissiveRules(), auditor, store, &out, 4)

	inc := incident.New(testSnapshot("uid-1"))

	p.Dispatch(context.Background(), []*incident.Incident{inc})
	p.Wait()

	assert.Equal(t, incident.Reported, inc.State)
	assert.Contains(t, out.String(), "incident report")
}

func TestPipelineDegradedResultStillReports(t *testing.T) {
	store := incident.NewStore(time.Hour)
	auditor := &fakeAuditor{}

	degraded := reasoning.Result{
		RootCause:      reasoning.RootCauseUnavailable,
		Confidence:     0,
		Recommended:    resource.MustParse("64Mi"),
		Degraded:       true,
		DegradedReason: "backend unreachable",
	}

	var out bytes.Buffer
	p := NewPipeline(&fakeBuilder{}, &fakeReasoner{result: degraded}, permissiveRules(), auditor, store, &out, 4)

	inc := incident.New(testSnapshot("uid-1"))

	p.Dispatch(context.Background(), []*incident.Incident{inc})
	p.Wait()

	assert.Equal(t, incident.Reported, inc.State)
	assert.Contains(t, out.String(), "degraded (backend unreachable)")

	require.Equal(t, 1, auditor.count())
	rec := auditor.records[0]
	assert.True(t, rec.Degraded)
	assert.False(t, rec.Allowed)
	assert.Equal(t, policy.ReasonLowConfidence, rec.DecisionReason)
}

func TestPipelineBoundedWorkers(t *testing.T) {
	store := incident.NewStore(time.Hour)
	reasoner := &fakeReasoner{result: okResult()}

	p := NewPipeline(&fakeBuilder{delay: 20 * time.Millisecond}, reasoner, permissiveRules(), &fakeAuditor{}, store, &bytes.Buffer{}, 2)

	var incidents []*incident.Incident
	for i := 0; i < 8; i++ {
		incidents = append(incidents, incident.New(testSnapshot(string(rune('a'+i)))))
	}

	p.Dispatch(context.Background(), incidents)
	p.Wait()

	assert.Equal(t, int32(8), atomic.LoadInt32(&reasoner.calls))
	assert.LessOrEqual(t, reasoner.peak, int32(2))
}
