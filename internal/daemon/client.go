// Package daemon is the HTTP client for the external speech-synthesis daemon.
//
// The daemon exposes three endpoints: a health probe, a voice listing and a
// synthesis call. Paths are configurable; scheme, host and port come from
// the base URL. A Client is immutable after construction and may be shared
// by any number of goroutines.
package daemon

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	DefaultConnectTimeout = 500 * time.Millisecond
	DefaultRequestTimeout = 10 * time.Second

	errorBodyLimit = 64 << 10
)

// Config describes where the daemon lives and how long to wait for it.
type Config struct {
	BaseURL        string
	HealthPath     string
	VoicesPath     string
	TTSPath        string
	ConnectTimeout time.Duration
	RequestTimeout time.Duration
}

// Payload is the JSON body of a synthesis call.
type Payload struct {
	Text         string  `json:"text"`
	Voice        string  `json:"voice"`
	SpeakingRate float32 `json:"speaking_rate"`
	Format       string  `json:"format"`
	MaxLength    *uint64 `json:"max_length,omitempty"`
}

// Response is a successful synthesis answer. ContentType is empty when the
// daemon did not send one.
type Response struct {
	Audio       []byte
	ContentType string
}

type Client struct {
	baseURL    *url.URL
	healthPath string
	voicesPath string
	ttsPath    string
	http       *http.Client
}

func NewClient(cfg Config) (*Client, error) {
	base, err := url.Parse(strings.TrimSpace(cfg.BaseURL))
	if err != nil {
		return nil, fmt.Errorf("parse daemon url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("parse daemon url: %q is not an absolute URL", cfg.BaseURL)
	}

	connectTimeout := cfg.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = DefaultConnectTimeout
	}
	requestTimeout := cfg.RequestTimeout
	if requestTimeout <= 0 {
		requestTimeout = DefaultRequestTimeout
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = (&net.Dialer{
		Timeout:   connectTimeout,
		KeepAlive: 30 * time.Second,
	}).DialContext

	return &Client{
		baseURL:    base,
		healthPath: normalizePath(cfg.HealthPath, "/health"),
		voicesPath: normalizePath(cfg.VoicesPath, "/voices"),
		ttsPath:    normalizePath(cfg.TTSPath, "/tts"),
		http: &http.Client{
			Timeout:   requestTimeout,
			Transport: otelhttp.NewTransport(transport),
		},
	}, nil
}

// EndpointURL returns the base URL with its path replaced by path.
func (c *Client) EndpointURL(path string) string {
	u := *c.baseURL
	u.Path = path
	u.RawPath = ""
	return u.String()
}

// Health probes the daemon. Any non-2xx status is returned as *RejectedError.
func (c *Client) Health(ctx context.Context) error {
	res, err := c.get(ctx, c.healthPath)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(res.Body, errorBodyLimit))

	if !isSuccess(res.StatusCode) {
		return &RejectedError{Endpoint: c.healthPath, StatusCode: res.StatusCode}
	}
	return nil
}

// VoiceIDs lists the voice ids the daemon advertises. The body must be a
// JSON array; string elements are ids, object elements contribute their
// "id" field and anything else is skipped.
func (c *Client) VoiceIDs(ctx context.Context) (map[string]struct{}, error) {
	res, err := c.get(ctx, c.voicesPath)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	if !isSuccess(res.StatusCode) {
		return nil, &RejectedError{
			Endpoint:   c.voicesPath,
			StatusCode: res.StatusCode,
			Body:       readBodyText(res.Body),
		}
	}

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, transportError("read voices", err)
	}
	return parseVoiceIDs(body)
}

func parseVoiceIDs(body []byte) (map[string]struct{}, error) {
	var raw any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("%w: decode voices: %w", ErrMalformedResponse, err)
	}
	items, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: voices endpoint returned non-array payload", ErrMalformedResponse)
	}

	out := make(map[string]struct{}, len(items))
	for _, item := range items {
		switch v := item.(type) {
		case string:
			out[v] = struct{}{}
		case map[string]any:
			if id, ok := v["id"].(string); ok {
				out[id] = struct{}{}
			}
		}
	}
	return out, nil
}

// Synthesize posts payload to the synthesis endpoint and reads the audio.
func (c *Client) Synthesize(ctx context.Context, payload Payload) (*Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.EndpointURL(c.ttsPath), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.http.Do(req)
	if err != nil {
		return nil, transportError("send synthesis request", err)
	}
	defer res.Body.Close()

	if !isSuccess(res.StatusCode) {
		return nil, &RejectedError{
			Endpoint:   c.ttsPath,
			StatusCode: res.StatusCode,
			Body:       readBodyText(res.Body),
		}
	}

	audio, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, transportError("read audio", err)
	}
	return &Response{
		Audio:       audio,
		ContentType: res.Header.Get("Content-Type"),
	}, nil
}

func (c *Client) get(ctx context.Context, path string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.EndpointURL(path), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	res, err := c.http.Do(req)
	if err != nil {
		return nil, transportError("GET "+path, err)
	}
	return res, nil
}

// readBodyText reads an error body best-effort; failures yield "".
func readBodyText(r io.Reader) string {
	body, err := io.ReadAll(io.LimitReader(r, errorBodyLimit))
	if err != nil {
		return ""
	}
	return string(body)
}

func normalizePath(path, fallback string) string {
	if path == "" {
		path = fallback
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return path
}

func isSuccess(code int) bool {
	return code >= 200 && code < 300
}
