// Package relay admits, dispatches and observes synthesis calls against the
// gwent daemon.
//
// A State is built once at startup by New, which also runs a best-effort
// reconciliation of the daemon's voices against the static catalog. After
// that the State is shared by every caller; the admission gate is its only
// mutable part.
package relay

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/ent0n29/gwent/internal/catalog"
	"github.com/ent0n29/gwent/internal/daemon"
	"github.com/ent0n29/gwent/internal/gate"
	"github.com/ent0n29/gwent/internal/observability"
)

const tracerName = "github.com/ent0n29/gwent/internal/relay"

type Config struct {
	Daemon         daemon.Config
	MaxConcurrency int
	// DeadlineBudget defaults to observability.DefaultDeadlineBudget.
	DeadlineBudget time.Duration
}

type State struct {
	client    *daemon.Client
	gate      *gate.Gate
	catalog   *catalog.Catalog
	metrics   *observability.Metrics
	deadlines *observability.DeadlineFlag
	logger    *slog.Logger
	tracer    trace.Tracer
	budget    time.Duration
	report    ReconcileReport
}

// New builds the daemon client and admission gate, then reconciles voices.
// Configuration errors fail fast before any network activity; daemon
// problems are only logged.
func New(ctx context.Context, cfg Config, cat *catalog.Catalog, metrics *observability.Metrics, deadlines *observability.DeadlineFlag, logger *slog.Logger) (*State, error) {
	if cat == nil {
		return nil, fmt.Errorf("relay: nil voice catalog")
	}
	if cfg.MaxConcurrency < 1 {
		return nil, fmt.Errorf("GWENT_MAX_CONCURRENCY must be greater than 0")
	}
	g, err := gate.New(cfg.MaxConcurrency)
	if err != nil {
		return nil, err
	}
	client, err := daemon.NewClient(cfg.Daemon)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	if deadlines == nil {
		deadlines = &observability.DeadlineFlag{}
	}
	budget := cfg.DeadlineBudget
	if budget <= 0 {
		budget = observability.DefaultDeadlineBudget
	}

	s := &State{
		client:    client,
		gate:      g,
		catalog:   cat,
		metrics:   metrics,
		deadlines: deadlines,
		logger:    logger.With(slog.String("component", "relay")),
		tracer:    otel.Tracer(tracerName),
		budget:    budget,
	}
	s.report = s.Reconcile(ctx)
	return s, nil
}

// IsKnownVoice reports whether id is in the static catalog.
func (s *State) IsKnownVoice(id string) bool {
	return s.catalog.Contains(id)
}

// ListVoiceIDs returns the static catalog's voice ids.
func (s *State) ListVoiceIDs() map[string]struct{} {
	return s.catalog.IDs()
}

// Voices returns the full static catalog in resource order.
func (s *State) Voices() []catalog.Voice {
	return s.catalog.Voices()
}

func (s *State) LookupVoice(id string) (catalog.Voice, bool) {
	return s.catalog.Lookup(id)
}

// StartupReport is the outcome of the reconciliation run by New.
func (s *State) StartupReport() ReconcileReport {
	return s.report
}

// HitAnyDeadline reports whether any call has exceeded the latency budget.
func (s *State) HitAnyDeadline() bool {
	return s.deadlines.Hit()
}

func (s *State) InFlight() int { return s.gate.InFlight() }

func (s *State) Capacity() int { return s.gate.Capacity() }
