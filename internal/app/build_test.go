package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ent0n29/gwent/internal/config"
)

var namespaceSeq atomic.Int64

func testConfig(daemonURL string) config.Config {
	return config.Config{
		MetricsNamespace: "test_app_" + strconv.FormatInt(namespaceSeq.Add(1), 10),
		DaemonURL:        daemonURL,
		HealthPath:       "/health",
		VoicesPath:       "/voices",
		TTSPath:          "/tts",
		ConnectTimeout:   500 * time.Millisecond,
		RequestTimeout:   2 * time.Second,
		MaxConcurrency:   4,
	}
}

func TestBuildWiresCatalogAndRelay(t *testing.T) {
	daemonSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/health":
			w.WriteHeader(http.StatusOK)
		case "/voices":
			_, _ = w.Write([]byte(`["geralt","ciri","regis"]`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer daemonSrv.Close()

	res, err := Build(context.Background(), testConfig(daemonSrv.URL), nil)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if res.Catalog.Len() == 0 || !res.Relay.IsKnownVoice("geralt") {
		t.Fatalf("bundled catalog not wired: len=%d", res.Catalog.Len())
	}
	if res.Relay.Capacity() != 4 {
		t.Fatalf("Capacity() = %d, want 4", res.Relay.Capacity())
	}
	report := res.Relay.StartupReport()
	if !report.Healthy {
		t.Fatalf("startup report unhealthy: %+v", report)
	}
	if len(report.Extra) != 1 || report.Extra[0] != "regis" {
		t.Fatalf("Extra = %v, want [regis]", report.Extra)
	}
	if res.API == nil || res.API.Router() == nil {
		t.Fatalf("API not wired")
	}
}

func TestBuildSurvivesMissingDaemon(t *testing.T) {
	daemonSrv := httptest.NewServer(http.NotFoundHandler())
	url := daemonSrv.URL
	daemonSrv.Close()

	res, err := Build(context.Background(), testConfig(url), nil)
	if err != nil {
		t.Fatalf("Build() error = %v, want startup to continue without daemon", err)
	}
	if res.Relay.StartupReport().Healthy {
		t.Fatalf("report.Healthy = true for unreachable daemon")
	}
}

func TestBuildRejectsZeroConcurrency(t *testing.T) {
	cfg := testConfig("http://127.0.0.1:1")
	cfg.MaxConcurrency = 0

	_, err := Build(context.Background(), cfg, nil)
	if err == nil || !strings.Contains(err.Error(), "must be greater than 0") {
		t.Fatalf("Build() error = %v, want concurrency error", err)
	}
}
