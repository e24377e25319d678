package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/JNickson/cluster-incident-agent/internal/clients"
	"github.com/JNickson/cluster-incident-agent/internal/config"
	"github.com/JNickson/cluster-incident-agent/internal/runtime"
	"github.com/JNickson/cluster-incident-agent/internal/utils"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	slog.SetDefault(utils.NewLogger(cfg.LogLevel))

	kubeCfg, err := clients.NewKubeConfig()
	if err != nil {
		slog.Error("failed to create kube config", "error", err)
		os.Exit(1)
	}

	kubeClient, err := clients.NewKubeClient(kubeCfg)
	if err != nil {
		slog.Error("failed to create kube client", "error", err)
		os.Exit(1)
	}

	// Fatal before the first scan cycle; per-incident failures later never
	// affect the exit code.
	if err := clients.Probe(kubeClient); err != nil {
		slog.Error("startup probe failed", "error", err)
		os.Exit(1)
	}

	metricsClient, err := clients.NewMetricsClient(kubeCfg)
	if err != nil {
		slog.Error("failed to create metrics client", "error", err)
		os.Exit(1)
	}

	app, err := runtime.New(cfg, kubeClient, metricsClient)
	if err != nil {
		slog.Error("failed to initialise app", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app.Start(ctx)
}
