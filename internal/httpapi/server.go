package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/ent0n29/gwent/internal/catalog"
	"github.com/ent0n29/gwent/internal/config"
	"github.com/ent0n29/gwent/internal/observability"
	"github.com/ent0n29/gwent/internal/relay"
)

// Relay is the synthesis backend served by the API.
type Relay interface {
	Synthesize(ctx context.Context, req relay.Request) (*relay.Result, error)
	IsKnownVoice(id string) bool
	Voices() []catalog.Voice
	LookupVoice(id string) (catalog.Voice, bool)
	StartupReport() relay.ReconcileReport
	HitAnyDeadline() bool
	InFlight() int
	Capacity() int
}

type Server struct {
	cfg      config.Config
	relay    Relay
	metrics  *observability.Metrics
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

func New(cfg config.Config, r Relay, metrics *observability.Metrics, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:     cfg,
		relay:   r,
		metrics: metrics,
		logger:  logger.With(slog.String("component", "httpapi")),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 64 << 10,
			CheckOrigin: func(r *http.Request) bool {
				// Browsers may only connect from the same origin unless configured otherwise.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestID)

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Get("/v1/voices", s.handleListVoices)
	r.Get("/v1/voices/{id}", s.handleGetVoice)
	r.Post("/v1/tts", s.handleTTS)
	r.Get("/v1/tts/ws", s.handleTTSWS)
	r.Get("/v1/perf/latency", s.handlePerfLatency)

	return otelhttp.NewHandler(r, "gwent.http")
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":           "ok",
		"hit_any_deadline": s.relay.HitAnyDeadline(),
		"in_flight":        s.relay.InFlight(),
		"capacity":         s.relay.Capacity(),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	report := s.relay.StartupReport()
	missing := report.Missing
	if missing == nil {
		missing = []string{}
	}
	extra := report.Extra
	if extra == nil {
		extra = []string{}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":         "ready",
		"daemon_healthy": report.Healthy,
		"missing_voices": missing,
		"extra_voices":   extra,
	})
}

type requestIDKey struct{}

const requestIDHeader = "X-Request-ID"

// requestID propagates a caller-supplied X-Request-ID or assigns a new one.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(requestIDHeader))
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))
	})
}

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

type errorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	Retryable bool   `json:"retryable,omitempty"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
