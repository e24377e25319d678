package runtime

import (
	"context"
	"io"
	"log/slog"
	"sync"

	"k8s.io/apimachinery/pkg/api/resource"

	"github.com/JNickson/cluster-incident-agent/internal/incident"
	"github.com/JNickson/cluster-incident-agent/internal/metrics"
	"github.com/JNickson/cluster-incident-agent/internal/policy"
	"github.com/JNickson/cluster-incident-agent/internal/reasoning"
	"github.com/JNickson/cluster-incident-agent/internal/report"
	"github.com/JNickson/cluster-incident-agent/internal/signals"
)

type ContextBuilder interface {
	Build(ctx context.Context, snap incident.PodSnapshot) signals.Context
}

type Reasoner interface {
	Analyze(ctx context.Context, ictx signals.Context, currentLimit resource.Quantity) reasoning.Result
}

type Auditor interface {
	Insert(ctx context.Context, rec report.AuditRecord) error
}

// Pipeline drives one incident from Detected through Reported. Work is
// dispatched onto a bounded worker pool; the inflight map guarantees at most
// one outstanding analysis per pod regardless of worker count.
type Pipeline struct {
	builder  ContextBuilder
	reasoner Reasoner
	rules    policy.Rules
	audit    Auditor
	store    *incident.Store
	out      io.Writer

	sem chan struct{}
	wg  sync.WaitGroup

	mu       sync.Mutex
	inflight map[string]struct{}
}

func NewPipeline(
	builder ContextBuilder,
	reasoner Reasoner,
	rules policy.Rules,
	audit Auditor,
	store *incident.Store,
	out io.Writer,
	workers int,
) *Pipeline {
	return &Pipeline{
		builder:  builder,
		reasoner: reasoner,
		rules:    rules,
		audit:    audit,
		store:    store,
		out:      out,
		sem:      make(chan struct{}, workers),
		inflight: make(map[string]struct{}),
	}
}

// Dispatch hands the cycle's new incidents to the pool and returns without
// waiting. A pod already being analysed is skipped, not queued: the skipped
// incident's signature is forgotten so the next scan recreates it once the
// running analysis finishes.
func (p *Pipeline) Dispatch(ctx context.Context, incidents []*incident.Incident) {
	for _, inc := range incidents {
		if !p.acquire(inc.Snapshot.UID) {
			p.store.Forget(inc.Snapshot.Signature())
			slog.Debug("analysis already in flight, skipping",
				"pod", inc.Snapshot.Name,
				"namespace", inc.Snapshot.Namespace,
			)
			continue
		}

		p.wg.Add(1)

		go func(inc *incident.Incident) {
			defer p.wg.Done()
			defer p.release(inc.Snapshot.UID)

			select {
			case p.sem <- struct{}{}:
			case <-ctx.Done():
				p.abandon(inc)
				return
			}
			defer func() { <-p.sem }()

			p.process(ctx, inc)
		}(inc)
	}
}

// Wait blocks until all dispatched incidents have completed or been abandoned.
func (p *Pipeline) Wait() {
	p.wg.Wait()
}

func (p *Pipeline) process(ctx context.Context, inc *incident.Incident) {
	metrics.IncidentsInFlight.Inc()
	defer metrics.IncidentsInFlight.Dec()

	snap := inc.Snapshot

	log := slog.With(
		"incident", inc.ID,
		"pod", snap.Name,
		"namespace", snap.Namespace,
	)

	ictx := p.builder.Build(ctx, snap)
	if err := inc.Advance(incident.ContextBuilt); err != nil {
		log.Error("lifecycle violation", "error", err)
		return
	}

	if ctx.Err() != nil {
		p.abandon(inc)
		return
	}

	res := p.reasoner.Analyze(ctx, ictx, snap.MemoryLimit)
	metrics.ReasoningRequestsTotal.WithLabelValues(metrics.ReasoningOutcome(res.Degraded)).Inc()
	if err := inc.Advance(incident.Explained); err != nil {
		log.Error("lifecycle violation", "error", err)
		return
	}

	if res.Degraded {
		log.Warn("reasoning degraded", "reason", res.DegradedReason)
	}

	dec := policy.Evaluate(
		policy.Subject{Namespace: snap.Namespace, Pod: snap.Name},
		snap.MemoryLimit,
		res,
		p.rules,
	)
	metrics.DecisionsTotal.WithLabelValues(dec.Reason).Inc()
	if err := inc.Advance(incident.PolicyEvaluated); err != nil {
		log.Error("lifecycle violation", "error", err)
		return
	}

	if ctx.Err() != nil {
		p.abandon(inc)
		return
	}

	rep := report.Render(inc, res, dec)

	if _, err := io.WriteString(p.out, rep.Text+"\n"); err != nil {
		log.Warn("failed to write report", "error", err)
	}

	if err := p.audit.Insert(ctx, rep.Record); err != nil {
		metrics.AuditWriteErrorsTotal.Inc()
		log.Warn("failed to persist audit record", "error", err)
	}

	if err := inc.Advance(incident.Reported); err != nil {
		log.Error("lifecycle violation", "error", err)
		return
	}

	p.store.Record(inc)

	log.Info("incident reported",
		"failure", snap.Reason,
		"allowed", dec.Allowed,
		"decision", dec.Reason,
	)
}

// abandon drops a partially processed incident. Its signature is forgotten so
// a later scan recreates it if the failure persists.
func (p *Pipeline) abandon(inc *incident.Incident) {
	p.store.Forget(inc.Snapshot.Signature())

	slog.Info("incident abandoned during shutdown",
		"incident", inc.ID,
		"pod", inc.Snapshot.Name,
		"state", inc.State.String(),
	)
}

func (p *Pipeline) acquire(uid string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, busy := p.inflight[uid]; busy {
		return false
	}

	p.inflight[uid] = struct{}{}
	return true
}

func (p *Pipeline) release(uid string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.inflight, uid)
}
