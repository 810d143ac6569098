package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ent0n29/gwent/internal/catalog"
	"github.com/ent0n29/gwent/internal/config"
	"github.com/ent0n29/gwent/internal/daemon"
	"github.com/ent0n29/gwent/internal/observability"
	"github.com/ent0n29/gwent/internal/protocol"
	"github.com/ent0n29/gwent/internal/relay"
)

var metricsSeq atomic.Int64

func testMetrics(prefix string) *observability.Metrics {
	return observability.NewMetrics(prefix + "_" + strconv.FormatInt(metricsSeq.Add(1), 10))
}

type fakeRelay struct {
	voices []catalog.Voice
	report relay.ReconcileReport
	synth  func(ctx context.Context, req relay.Request) (*relay.Result, error)

	calls atomic.Int32
	last  atomic.Value
}

func newFakeRelay() *fakeRelay {
	return &fakeRelay{
		voices: []catalog.Voice{{ID: "geralt", Name: "Geralt"}, {ID: "ciri", Name: "Ciri"}},
		synth: func(ctx context.Context, req relay.Request) (*relay.Result, error) {
			return &relay.Result{Audio: []byte("audio:" + req.Text), ContentType: "audio/ogg"}, nil
		},
	}
}

func (f *fakeRelay) Synthesize(ctx context.Context, req relay.Request) (*relay.Result, error) {
	f.calls.Add(1)
	f.last.Store(req)
	return f.synth(ctx, req)
}

func (f *fakeRelay) IsKnownVoice(id string) bool {
	_, ok := f.LookupVoice(id)
	return ok
}

func (f *fakeRelay) Voices() []catalog.Voice { return f.voices }

func (f *fakeRelay) LookupVoice(id string) (catalog.Voice, bool) {
	for _, v := range f.voices {
		if v.ID == id {
			return v, true
		}
	}
	return catalog.Voice{}, false
}

func (f *fakeRelay) StartupReport() relay.ReconcileReport { return f.report }
func (f *fakeRelay) HitAnyDeadline() bool                 { return false }
func (f *fakeRelay) InFlight() int                        { return 0 }
func (f *fakeRelay) Capacity() int                        { return 4 }

func newTestServer(t *testing.T, r Relay) *httptest.Server {
	t.Helper()
	srv := New(config.Config{}, r, testMetrics("test_httpapi"), nil)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts
}

func postTTS(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	raw, _ := json.Marshal(body)
	res, err := http.Post(url+"/v1/tts", "application/json", bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("POST /v1/tts error = %v", err)
	}
	t.Cleanup(func() { _ = res.Body.Close() })
	return res
}

func decodeError(t *testing.T, res *http.Response) errorResponse {
	t.Helper()
	var out errorResponse
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		t.Fatalf("decode error response: %v", err)
	}
	return out
}

func TestHealthAndReady(t *testing.T) {
	fr := newFakeRelay()
	fr.report = relay.ReconcileReport{Healthy: true, Missing: []string{"ciri"}}
	ts := newTestServer(t, fr)

	res, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz error = %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("healthz status = %d", res.StatusCode)
	}
	if res.Header.Get(requestIDHeader) == "" {
		t.Fatalf("missing %s header", requestIDHeader)
	}

	readyRes, err := http.Get(ts.URL + "/readyz")
	if err != nil {
		t.Fatalf("GET /readyz error = %v", err)
	}
	defer readyRes.Body.Close()
	var ready map[string]any
	if err := json.NewDecoder(readyRes.Body).Decode(&ready); err != nil {
		t.Fatalf("decode readyz: %v", err)
	}
	if ready["daemon_healthy"] != true {
		t.Fatalf("daemon_healthy = %v", ready["daemon_healthy"])
	}
	missing, _ := ready["missing_voices"].([]any)
	if len(missing) != 1 || missing[0] != "ciri" {
		t.Fatalf("missing_voices = %v", ready["missing_voices"])
	}
	if extra, ok := ready["extra_voices"].([]any); !ok || len(extra) != 0 {
		t.Fatalf("extra_voices = %v, want []", ready["extra_voices"])
	}
}

func TestRequestIDPropagated(t *testing.T) {
	ts := newTestServer(t, newFakeRelay())

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/healthz", nil)
	req.Header.Set(requestIDHeader, "abc-123")
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET /healthz error = %v", err)
	}
	defer res.Body.Close()
	if got := res.Header.Get(requestIDHeader); got != "abc-123" {
		t.Fatalf("%s = %q, want abc-123", requestIDHeader, got)
	}
}

func TestListAndGetVoices(t *testing.T) {
	ts := newTestServer(t, newFakeRelay())

	res, err := http.Get(ts.URL + "/v1/voices")
	if err != nil {
		t.Fatalf("GET /v1/voices error = %v", err)
	}
	defer res.Body.Close()
	var list listVoicesResponse
	if err := json.NewDecoder(res.Body).Decode(&list); err != nil {
		t.Fatalf("decode voices: %v", err)
	}
	if list.Count != 2 || list.Voices[0].ID != "geralt" {
		t.Fatalf("voices = %+v", list)
	}

	one, err := http.Get(ts.URL + "/v1/voices/ciri")
	if err != nil {
		t.Fatalf("GET /v1/voices/ciri error = %v", err)
	}
	defer one.Body.Close()
	var v catalog.Voice
	if err := json.NewDecoder(one.Body).Decode(&v); err != nil {
		t.Fatalf("decode voice: %v", err)
	}
	if v.Name != "Ciri" {
		t.Fatalf("voice = %+v", v)
	}

	missing, err := http.Get(ts.URL + "/v1/voices/regis")
	if err != nil {
		t.Fatalf("GET /v1/voices/regis error = %v", err)
	}
	defer missing.Body.Close()
	if missing.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown voice status = %d, want 404", missing.StatusCode)
	}
	if e := decodeError(t, missing); e.Code != "unknown_voice" {
		t.Fatalf("code = %q, want unknown_voice", e.Code)
	}
}

func TestTTSSuccess(t *testing.T) {
	fr := newFakeRelay()
	ts := newTestServer(t, fr)

	res := postTTS(t, ts.URL, map[string]any{"text": "hello", "voice": "geralt", "format": "mp3", "max_length": 12})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", res.StatusCode)
	}
	body, _ := io.ReadAll(res.Body)
	if string(body) != "audio:hello" {
		t.Fatalf("body = %q", body)
	}
	if res.Header.Get("Content-Type") != "audio/ogg" || res.Header.Get("Cache-Control") != "no-store" {
		t.Fatalf("headers = %v", res.Header)
	}

	got := fr.last.Load().(relay.Request)
	if got.SpeakingRate != 1.0 || got.PreferredFormat != "mp3" || got.MaxLength == nil || *got.MaxLength != 12 {
		t.Fatalf("relay request = %+v", got)
	}
}

func TestTTSValidation(t *testing.T) {
	fr := newFakeRelay()
	ts := newTestServer(t, fr)

	cases := []struct {
		name string
		body any
		code string
	}{
		{name: "empty text", body: map[string]any{"text": "  ", "voice": "geralt"}, code: "invalid_request"},
		{name: "missing voice", body: map[string]any{"text": "hi"}, code: "invalid_request"},
		{name: "zero rate", body: map[string]any{"text": "hi", "voice": "geralt", "speaking_rate": 0}, code: "invalid_request"},
		{name: "unknown voice", body: map[string]any{"text": "hi", "voice": "regis"}, code: "unknown_voice"},
	}
	for _, tc := range cases {
		res := postTTS(t, ts.URL, tc.body)
		if res.StatusCode != http.StatusBadRequest {
			t.Fatalf("%s: status = %d, want 400", tc.name, res.StatusCode)
		}
		if e := decodeError(t, res); e.Code != tc.code {
			t.Fatalf("%s: code = %q, want %q", tc.name, e.Code, tc.code)
		}
	}

	res, err := http.Post(ts.URL+"/v1/tts", "application/json", strings.NewReader(""))
	if err != nil {
		t.Fatalf("POST empty body error = %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("empty body status = %d, want 400", res.StatusCode)
	}

	if fr.calls.Load() != 0 {
		t.Fatalf("relay called %d times for invalid requests", fr.calls.Load())
	}
}

func TestTTSDaemonErrorMapping(t *testing.T) {
	cases := []struct {
		err       error
		status    int
		code      string
		retryable bool
	}{
		{err: fmt.Errorf("send: %w", daemon.ErrTimeout), status: http.StatusGatewayTimeout, code: "daemon_timeout", retryable: true},
		{err: fmt.Errorf("send: %w", daemon.ErrUnreachable), status: http.StatusBadGateway, code: "daemon_unreachable", retryable: true},
		{err: &daemon.RejectedError{StatusCode: 422, Body: "bad"}, status: http.StatusBadGateway, code: "daemon_rejected", retryable: false},
		{err: &daemon.RejectedError{StatusCode: 503, Body: "busy"}, status: http.StatusBadGateway, code: "daemon_rejected", retryable: true},
		{err: fmt.Errorf("%w: nope", daemon.ErrMalformedResponse), status: http.StatusBadGateway, code: "daemon_malformed", retryable: false},
	}
	for _, tc := range cases {
		fr := newFakeRelay()
		fr.synth = func(context.Context, relay.Request) (*relay.Result, error) { return nil, tc.err }
		ts := newTestServer(t, fr)

		res := postTTS(t, ts.URL, map[string]any{"text": "hi", "voice": "geralt"})
		if res.StatusCode != tc.status {
			t.Fatalf("%v: status = %d, want %d", tc.err, res.StatusCode, tc.status)
		}
		e := decodeError(t, res)
		if e.Code != tc.code || e.Retryable != tc.retryable {
			t.Fatalf("%v: response = %+v, want code %q retryable %v", tc.err, e, tc.code, tc.retryable)
		}
	}
}

func TestPerfLatency(t *testing.T) {
	ts := newTestServer(t, newFakeRelay())

	res, err := http.Get(ts.URL + "/v1/perf/latency")
	if err != nil {
		t.Fatalf("GET /v1/perf/latency error = %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", res.StatusCode)
	}
	var snap observability.LatencySnapshot
	if err := json.NewDecoder(res.Body).Decode(&snap); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
}

func dialWS(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/tts/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial websocket: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	return conn
}

func TestWebSocketSynthesize(t *testing.T) {
	ts := newTestServer(t, newFakeRelay())
	conn := dialWS(t, ts)

	if err := conn.WriteJSON(map[string]any{"type": "synthesize", "request_id": "r1", "text": "hello", "voice": "ciri"}); err != nil {
		t.Fatalf("write synthesize: %v", err)
	}

	var ready protocol.AudioReady
	if err := conn.ReadJSON(&ready); err != nil {
		t.Fatalf("read audio_ready: %v", err)
	}
	if ready.Type != protocol.TypeAudioReady || ready.RequestID != "r1" || ready.ContentType != "audio/ogg" {
		t.Fatalf("audio_ready = %+v", ready)
	}
	kind, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read audio frame: %v", err)
	}
	if kind != websocket.BinaryMessage || string(data) != "audio:hello" || ready.Bytes != len(data) {
		t.Fatalf("audio frame = (%d, %q), ready.Bytes = %d", kind, data, ready.Bytes)
	}
}

func TestWebSocketErrors(t *testing.T) {
	fr := newFakeRelay()
	fr.synth = func(context.Context, relay.Request) (*relay.Result, error) {
		return nil, fmt.Errorf("send: %w", daemon.ErrTimeout)
	}
	ts := newTestServer(t, fr)
	conn := dialWS(t, ts)

	steps := []struct {
		send      string
		requestID string
		code      string
		retryable bool
	}{
		{send: `{"type":"hello"}`, code: "invalid_client_message"},
		{send: `{"type":"synthesize","request_id":"r2","text":"hi","voice":"regis"}`, requestID: "r2", code: "unknown_voice"},
		{send: `{"type":"synthesize","request_id":"r3","text":"hi","voice":"geralt"}`, requestID: "r3", code: "daemon_timeout", retryable: true},
	}
	for _, step := range steps {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(step.send)); err != nil {
			t.Fatalf("write %s: %v", step.send, err)
		}
		var ev protocol.ErrorEvent
		if err := conn.ReadJSON(&ev); err != nil {
			t.Fatalf("read error_event: %v", err)
		}
		if ev.Type != protocol.TypeErrorEvent || ev.Code != step.code || ev.RequestID != step.requestID || ev.Retryable != step.retryable {
			t.Fatalf("after %s: error_event = %+v", step.send, ev)
		}
	}
}

func TestWebSocketAssignsRequestID(t *testing.T) {
	ts := newTestServer(t, newFakeRelay())
	conn := dialWS(t, ts)

	if err := conn.WriteJSON(map[string]any{"type": "synthesize", "text": "hi", "voice": "geralt"}); err != nil {
		t.Fatalf("write synthesize: %v", err)
	}
	var ready protocol.AudioReady
	if err := conn.ReadJSON(&ready); err != nil {
		t.Fatalf("read audio_ready: %v", err)
	}
	if ready.RequestID == "" {
		t.Fatalf("audio_ready without request id")
	}
}

func TestWebSocketRejectsCrossOrigin(t *testing.T) {
	ts := newTestServer(t, newFakeRelay())

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/tts/ws"
	header := http.Header{}
	header.Set("Origin", "https://evil.example")
	conn, res, err := websocket.DefaultDialer.Dial(wsURL, header)
	if err == nil {
		_ = conn.Close()
		t.Fatalf("cross-origin dial succeeded")
	}
	if res == nil || res.StatusCode != http.StatusForbidden {
		t.Fatalf("cross-origin response = %v, want 403", res)
	}
}

func TestTTSThroughRelayState(t *testing.T) {
	daemonSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/health":
			w.WriteHeader(http.StatusOK)
		case "/voices":
			_, _ = w.Write([]byte(`["geralt"]`))
		case "/tts":
			w.Header().Set("Content-Type", "audio/mpeg")
			_, _ = w.Write([]byte("mp3-bytes"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer daemonSrv.Close()

	cat, err := catalog.Parse([]byte(`[{"id":"geralt","name":"Geralt"}]`))
	if err != nil {
		t.Fatalf("catalog.Parse() error = %v", err)
	}
	metrics := testMetrics("test_httpapi_state")
	state, err := relay.New(context.Background(), relay.Config{
		Daemon:         daemon.Config{BaseURL: daemonSrv.URL, HealthPath: "/health", VoicesPath: "/voices", TTSPath: "/tts"},
		MaxConcurrency: 2,
	}, cat, metrics, nil, nil)
	if err != nil {
		t.Fatalf("relay.New() error = %v", err)
	}

	srv := New(config.Config{}, state, metrics, nil)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	res := postTTS(t, ts.URL, map[string]any{"text": "wind's howling", "voice": "geralt", "format": "mp3"})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", res.StatusCode)
	}
	body, _ := io.ReadAll(res.Body)
	if string(body) != "mp3-bytes" || res.Header.Get("Content-Type") != "audio/mpeg" {
		t.Fatalf("response = (%q, %q)", body, res.Header.Get("Content-Type"))
	}
}
