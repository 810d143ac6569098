package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the relay and its HTTP surface.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string
	AllowAnyOrigin   bool

	LogLevel  string
	LogFormat string

	DaemonURL      string
	HealthPath     string
	VoicesPath     string
	TTSPath        string
	ConnectTimeout time.Duration
	RequestTimeout time.Duration
	MaxConcurrency int
}

const (
	defaultDaemonURL        = "http://127.0.0.1:9000"
	defaultConnectTimeoutMS = 500
	defaultRequestTimeoutMS = 10_000
	defaultMaxConcurrency   = 32
)

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:         envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace: envOrDefault("APP_METRICS_NAMESPACE", "gwent"),
		LogLevel:         envOrDefault("APP_LOG_LEVEL", "info"),
		LogFormat:        envOrDefault("APP_LOG_FORMAT", "text"),
		ShutdownTimeout:  15 * time.Second,

		DaemonURL:  envOrDefault("GWENT_DAEMON_URL", defaultDaemonURL),
		HealthPath: envPath("GWENT_HEALTH_PATH", "/health"),
		VoicesPath: envPath("GWENT_VOICES_PATH", "/voices"),
		TTSPath:    envPath("GWENT_TTS_PATH", "/tts"),
	}

	if err := validateDaemonURL(cfg.DaemonURL); err != nil {
		return Config{}, err
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", false)
	if err != nil {
		return Config{}, err
	}

	connectMS, err := uintFromEnv("GWENT_CONNECT_TIMEOUT_MS", defaultConnectTimeoutMS)
	if err != nil {
		return Config{}, err
	}
	requestMS, err := uintFromEnv("GWENT_REQUEST_TIMEOUT_MS", defaultRequestTimeoutMS)
	if err != nil {
		return Config{}, err
	}
	maxConcurrency, err := uintFromEnv("GWENT_MAX_CONCURRENCY", defaultMaxConcurrency)
	if err != nil {
		return Config{}, err
	}
	if maxConcurrency == 0 {
		return Config{}, fmt.Errorf("GWENT_MAX_CONCURRENCY must be greater than 0")
	}
	if maxConcurrency > uint64(^uint(0)>>1) {
		return Config{}, fmt.Errorf("GWENT_MAX_CONCURRENCY parse error: value out of range")
	}

	cfg.ConnectTimeout = time.Duration(connectMS) * time.Millisecond
	cfg.RequestTimeout = time.Duration(requestMS) * time.Millisecond
	cfg.MaxConcurrency = int(maxConcurrency)

	switch strings.ToLower(cfg.LogFormat) {
	case "text", "json":
	default:
		return Config{}, fmt.Errorf("APP_LOG_FORMAT must be text or json")
	}

	return cfg, nil
}

// NormalizePath makes sure an endpoint path starts with a slash.
func NormalizePath(path string) string {
	if strings.HasPrefix(path, "/") {
		return path
	}
	return "/" + path
}

func validateDaemonURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("GWENT_DAEMON_URL parse error: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("GWENT_DAEMON_URL parse error: %q is not an absolute URL", raw)
	}
	return nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func envPath(key, fallback string) string {
	return NormalizePath(envOrDefault(key, fallback))
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func uintFromEnv(key string, fallback uint64) (uint64, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
