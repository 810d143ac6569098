package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ent0n29/gwent/internal/protocol"
)

type options struct {
	baseURL     string
	mode        string
	voice       string
	format      string
	text        string
	requests    int
	concurrency int
	timeout     time.Duration
	verbose     bool
}

type ttsRequest struct {
	Text   string `json:"text"`
	Voice  string `json:"voice"`
	Format string `json:"format,omitempty"`
}

// sample is the outcome of one synthesis request. status is the HTTP status
// code in http mode, or the message type / error code in ws mode.
type sample struct {
	status  string
	latency time.Duration
	bytes   int
}

type summary struct {
	total    int
	statuses map[string]int
	p50      time.Duration
	p95      time.Duration
	max      time.Duration
	elapsed  time.Duration
}

func main() {
	cfg, err := parseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "gwentload: %v\n", err)
		os.Exit(2)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	sum, err := run(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "gwentload: %v\n", err)
		os.Exit(1)
	}
	printSummary(os.Stdout, sum)
}

func parseFlags(args []string) (options, error) {
	var cfg options
	var timeoutMS int

	fs := flag.NewFlagSet("gwentload", flag.ContinueOnError)
	fs.StringVar(&cfg.baseURL, "base-url", "http://127.0.0.1:8080", "gwent relay base URL")
	fs.StringVar(&cfg.mode, "mode", "http", "transport: http (POST /v1/tts) or ws (/v1/tts/ws)")
	fs.StringVar(&cfg.voice, "voice", "geralt", "voice id")
	fs.StringVar(&cfg.format, "format", "", "preferred audio format (mp3 or ogg)")
	fs.StringVar(&cfg.text, "text", "Wind's howling.", "text to synthesize")
	fs.IntVar(&cfg.requests, "requests", 50, "total number of synthesis requests")
	fs.IntVar(&cfg.concurrency, "concurrency", 8, "number of concurrent workers")
	fs.IntVar(&timeoutMS, "timeout-ms", 30000, "per-request timeout in milliseconds")
	fs.BoolVar(&cfg.verbose, "verbose", false, "print every request outcome")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	cfg.baseURL = strings.TrimRight(strings.TrimSpace(cfg.baseURL), "/")
	if cfg.baseURL == "" {
		return options{}, fmt.Errorf("base-url is required")
	}
	cfg.mode = strings.ToLower(strings.TrimSpace(cfg.mode))
	if cfg.mode != "http" && cfg.mode != "ws" {
		return options{}, fmt.Errorf("mode must be http or ws, got %q", cfg.mode)
	}
	if cfg.requests <= 0 {
		return options{}, fmt.Errorf("requests must be > 0")
	}
	if cfg.concurrency <= 0 {
		return options{}, fmt.Errorf("concurrency must be > 0")
	}
	if cfg.concurrency > cfg.requests {
		cfg.concurrency = cfg.requests
	}
	if strings.TrimSpace(cfg.text) == "" {
		return options{}, fmt.Errorf("text must not be empty")
	}
	if timeoutMS < 100 {
		timeoutMS = 100
	}
	cfg.timeout = time.Duration(timeoutMS) * time.Millisecond
	return cfg, nil
}

func run(ctx context.Context, cfg options) (summary, error) {
	jobs := make(chan int)
	results := make(chan sample, cfg.requests)

	var (
		wg       sync.WaitGroup
		errOnce  sync.Once
		firstErr error
	)
	start := time.Now()
	for w := 0; w < cfg.concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var err error
			switch cfg.mode {
			case "ws":
				err = wsWorker(ctx, cfg, jobs, results)
			default:
				httpWorker(ctx, cfg, jobs, results)
			}
			if err != nil {
				errOnce.Do(func() { firstErr = err })
			}
		}()
	}

feed:
	for i := 0; i < cfg.requests; i++ {
		select {
		case <-ctx.Done():
			break feed
		case jobs <- i:
		}
	}
	close(jobs)
	wg.Wait()
	close(results)

	samples := make([]sample, 0, cfg.requests)
	for s := range results {
		if cfg.verbose {
			fmt.Printf("gwentload: status=%s latency_ms=%d bytes=%d\n", s.status, s.latency.Milliseconds(), s.bytes)
		}
		samples = append(samples, s)
	}
	if firstErr != nil && len(samples) == 0 {
		return summary{}, firstErr
	}
	sum := summarize(samples)
	sum.elapsed = time.Since(start)
	return sum, nil
}

func httpWorker(ctx context.Context, cfg options, jobs <-chan int, results chan<- sample) {
	client := &http.Client{Timeout: cfg.timeout}
	payload, _ := json.Marshal(ttsRequest{Text: cfg.text, Voice: cfg.voice, Format: cfg.format})
	for range jobs {
		results <- postTTS(ctx, client, cfg.baseURL, payload)
	}
}

func postTTS(ctx context.Context, client *http.Client, baseURL string, payload []byte) sample {
	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/v1/tts", bytes.NewReader(payload))
	if err != nil {
		return sample{status: "request_error", latency: time.Since(start)}
	}
	req.Header.Set("Content-Type", "application/json")
	res, err := client.Do(req)
	if err != nil {
		return sample{status: "transport_error", latency: time.Since(start)}
	}
	defer res.Body.Close()
	n, _ := io.Copy(io.Discard, io.LimitReader(res.Body, 40<<20))
	return sample{status: strconv.Itoa(res.StatusCode), latency: time.Since(start), bytes: int(n)}
}

// wsWorker sends its share of requests over one connection, waiting for each
// reply before sending the next.
func wsWorker(ctx context.Context, cfg options, jobs <-chan int, results chan<- sample) error {
	wsURL, err := wsURLFor(cfg.baseURL)
	if err != nil {
		return err
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		for range jobs {
			results <- sample{status: "dial_error"}
		}
		return fmt.Errorf("open websocket: %w", err)
	}
	defer conn.Close()

	for i := range jobs {
		results <- wsRoundTrip(conn, cfg, "load-"+strconv.Itoa(i))
	}
	return nil
}

func wsRoundTrip(conn *websocket.Conn, cfg options, requestID string) sample {
	start := time.Now()
	_ = conn.SetWriteDeadline(start.Add(cfg.timeout))
	_ = conn.SetReadDeadline(start.Add(cfg.timeout))
	msg := protocol.Synthesize{
		Type:      protocol.TypeSynthesize,
		RequestID: requestID,
		Text:      cfg.text,
		Voice:     cfg.voice,
		Format:    cfg.format,
	}
	if err := conn.WriteJSON(msg); err != nil {
		return sample{status: "write_error", latency: time.Since(start)}
	}

	var env struct {
		Type string `json:"type"`
		Code string `json:"code"`
	}
	if err := conn.ReadJSON(&env); err != nil {
		return sample{status: "read_error", latency: time.Since(start)}
	}
	if env.Type != string(protocol.TypeAudioReady) {
		status := env.Type
		if env.Code != "" {
			status = env.Code
		}
		return sample{status: status, latency: time.Since(start)}
	}
	_, data, err := conn.ReadMessage()
	if err != nil {
		return sample{status: "read_error", latency: time.Since(start)}
	}
	return sample{status: env.Type, latency: time.Since(start), bytes: len(data)}
}

func wsURLFor(baseURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return "", err
	}
	switch strings.ToLower(u.Scheme) {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported base-url scheme %q", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return "", fmt.Errorf("base-url host is required")
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/v1/tts/ws"
	return u.String(), nil
}

func summarize(samples []sample) summary {
	sum := summary{total: len(samples), statuses: make(map[string]int)}
	if len(samples) == 0 {
		return sum
	}
	latencies := make([]time.Duration, 0, len(samples))
	for _, s := range samples {
		sum.statuses[s.status]++
		latencies = append(latencies, s.latency)
	}
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
	sum.p50 = percentile(latencies, 0.50)
	sum.p95 = percentile(latencies, 0.95)
	sum.max = latencies[len(latencies)-1]
	return sum
}

// percentile uses nearest-rank on an ascending slice.
func percentile(sorted []time.Duration, q float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	rank := int(math.Ceil(q * float64(len(sorted))))
	if rank < 1 {
		rank = 1
	}
	if rank > len(sorted) {
		rank = len(sorted)
	}
	return sorted[rank-1]
}

func printSummary(w io.Writer, sum summary) {
	fmt.Fprintf(w, "gwentload: requests=%d elapsed=%s\n", sum.total, sum.elapsed.Round(time.Millisecond))
	statuses := make([]string, 0, len(sum.statuses))
	for status := range sum.statuses {
		statuses = append(statuses, status)
	}
	sort.Strings(statuses)
	for _, status := range statuses {
		fmt.Fprintf(w, "  status %-20s %d\n", status, sum.statuses[status])
	}
	fmt.Fprintf(w, "  latency p50=%dms p95=%dms max=%dms\n",
		sum.p50.Milliseconds(), sum.p95.Milliseconds(), sum.max.Milliseconds())
}
