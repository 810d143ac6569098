package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ent0n29/gwent/internal/catalog"
	"github.com/ent0n29/gwent/internal/config"
	"github.com/ent0n29/gwent/internal/daemon"
	"github.com/ent0n29/gwent/internal/httpapi"
	"github.com/ent0n29/gwent/internal/observability"
	"github.com/ent0n29/gwent/internal/relay"
)

type BuildResult struct {
	Config  config.Config
	API     *httpapi.Server
	Relay   *relay.State
	Catalog *catalog.Catalog
	Metrics *observability.Metrics
}

// Build loads the voice catalog, initializes the relay (including startup
// reconciliation against the daemon) and wires the HTTP API.
func Build(ctx context.Context, cfg config.Config, logger *slog.Logger) (*BuildResult, error) {
	if logger == nil {
		logger = slog.Default()
	}
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	cat, err := catalog.Default()
	if err != nil {
		return nil, fmt.Errorf("voice catalog init failed: %w", err)
	}
	logger.Info("voice catalog loaded", "voices", cat.Len())

	state, err := relay.New(ctx, relay.Config{
		Daemon: daemon.Config{
			BaseURL:        cfg.DaemonURL,
			HealthPath:     cfg.HealthPath,
			VoicesPath:     cfg.VoicesPath,
			TTSPath:        cfg.TTSPath,
			ConnectTimeout: cfg.ConnectTimeout,
			RequestTimeout: cfg.RequestTimeout,
		},
		MaxConcurrency: cfg.MaxConcurrency,
	}, cat, metrics, &observability.DeadlineFlag{}, logger)
	if err != nil {
		return nil, fmt.Errorf("relay init failed: %w", err)
	}

	api := httpapi.New(cfg, state, metrics, logger)

	return &BuildResult{
		Config:  cfg,
		API:     api,
		Relay:   state,
		Catalog: cat,
		Metrics: metrics,
	}, nil
}
