// Package runtime wires the scan loop, the incident pipeline and the HTTP
// surface together and owns their lifecycle.
package runtime

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"k8s.io/client-go/kubernetes"
	metricsclient "k8s.io/metrics/pkg/client/clientset/versioned"

	"github.com/JNickson/cluster-incident-agent/internal/config"
	"github.com/JNickson/cluster-incident-agent/internal/handlers"
	"github.com/JNickson/cluster-incident-agent/internal/incident"
	"github.com/JNickson/cluster-incident-agent/internal/metrics"
	"github.com/JNickson/cluster-incident-agent/internal/policy"
	"github.com/JNickson/cluster-incident-agent/internal/reasoning"
	"github.com/JNickson/cluster-incident-agent/internal/report"
	"github.com/JNickson/cluster-incident-agent/internal/scanner"
	"github.com/JNickson/cluster-incident-agent/internal/signals"
)

type Scanner interface {
	Scan(ctx context.Context) ([]*incident.Incident, error)
}

type App struct {
	cfg      *config.Config
	scanner  Scanner
	pipeline *Pipeline
	store    *incident.Store
	audit    *report.AuditStore
	server   *http.Server
}

func New(
	cfg *config.Config,
	kubeClient kubernetes.Interface,
	metricsClient metricsclient.Interface,
) (*App, error) {
	st := incident.NewStore(cfg.SignatureTTL)

	scan := scanner.New(kubeClient, st, scanner.Options{
		Namespace:        cfg.Namespace,
		RestartThreshold: cfg.RestartThreshold,
		DetectionWindow:  cfg.DetectionWindow,
	})

	builder := signals.NewBuilder(
		kubeClient,
		metricsClient,
		cfg.LogTailLines,
		cfg.LogTailBytes,
		cfg.EventLimit,
	)

	reasoner := reasoning.NewClient(cfg.OllamaURL, cfg.OllamaModel, cfg.OllamaTimeout)

	audit, err := report.NewAuditStore(cfg.AuditDBPath)
	if err != nil {
		return nil, err
	}

	rules := policy.Rules{
		ConfidenceThreshold: cfg.ConfidenceThreshold,
		MaxIncreaseFactor:   cfg.MaxIncreaseFactor,
		DenyList:            cfg.DenyList,
	}

	pipeline := NewPipeline(builder, reasoner, rules, audit, st, os.Stdout, cfg.Workers)

	app := &App{
		cfg:      cfg,
		scanner:  scan,
		pipeline: pipeline,
		store:    st,
		audit:    audit,
	}

	app.server = &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           app.setupRouter(),
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return app, nil
}

// Start runs until ctx is cancelled, then drains in-flight incidents and
// shuts the HTTP surface down gracefully.
func (a *App) Start(ctx context.Context) {
	go a.startScanLoop(ctx)

	go func() {
		slog.Info("starting server", "addr", a.server.Addr)
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
		}
	}()

	<-ctx.Done()

	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_ = a.server.Shutdown(shutdownCtx)

	a.pipeline.Wait()

	if err := a.audit.Close(); err != nil {
		slog.Warn("failed to close audit store", "error", err)
	}
}

func (a *App) startScanLoop(ctx context.Context) {
	ticker := time.NewTicker(a.cfg.PollInterval)
	defer ticker.Stop()

	// First cycle runs immediately, not a full interval after startup.
	a.runScanCycle(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.runScanCycle(ctx)
		}
	}
}

// runScanCycle is one unit of work: a failed listing is logged and retried
// next cycle, never fatal.
func (a *App) runScanCycle(ctx context.Context) {
	incidents, err := a.scanner.Scan(ctx)
	if err != nil {
		metrics.ScanErrorsTotal.Inc()
		slog.Error("scan cycle failed", "error", err)
		return
	}

	metrics.ScanCyclesTotal.Inc()

	for _, inc := range incidents {
		metrics.IncidentsDetectedTotal.WithLabelValues(inc.Snapshot.Reason).Inc()
		slog.Info("abnormal pod detected",
			"pod", inc.Snapshot.Name,
			"namespace", inc.Snapshot.Namespace,
			"reason", inc.Snapshot.Reason,
			"restarts", inc.Snapshot.RestartCount,
		)
	}

	a.pipeline.Dispatch(ctx, incidents)
}

func (a *App) setupRouter() http.Handler {
	api := http.NewServeMux()
	api.Handle("/incidents", handlers.IncidentsHandler(a.audit))

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", handlers.HealthHandler())
	mux.HandleFunc("/readyz", handlers.ReadyHandler())
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/api/v1/", http.StripPrefix("/api/v1", api))

	return mux
}
