// Command benchmark fires a stream of signed webhook deliveries at a running
// ingest API and reports latency and outcome statistics.
package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"math/rand/v2"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"
)

const (
	defaultTarget = "http://localhost:8080/webhook"
)

type Config struct {
	Target       string
	ConnectionID string
	Scheme       string // none, hmac_sha256, stripe_hmac, header_token
	Secret       string
	Total        int
	Concurrency  int
	Unique       bool // unique payloads instead of duplicates
	Force        bool
	Timeout      time.Duration
	OutputFile   string
}

type result struct {
	status  int
	latency time.Duration
	err     error
}

func main() {
	cfg := parseFlags()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	fmt.Printf("Target: %s (connection %s, scheme %s)\n", cfg.Target, cfg.ConnectionID, cfg.Scheme)
	fmt.Printf("Sending %d deliveries with %d workers...\n\n", cfg.Total, cfg.Concurrency)

	results := run(ctx, cfg)
	report := buildReport(cfg, results)

	fmt.Print(report)

	if cfg.OutputFile != "" {
		if err := os.WriteFile(cfg.OutputFile, []byte(report), 0644); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to write report: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("\nReport written to %s\n", cfg.OutputFile)
	}
}

func parseFlags() Config {
	var cfg Config
	flag.StringVar(&cfg.Target, "target", defaultTarget, "Webhook endpoint URL")
	flag.StringVar(&cfg.ConnectionID, "connection", "", "Connection ID to deliver to (required)")
	flag.StringVar(&cfg.Scheme, "scheme", "none", "Signature scheme: none, hmac_sha256, stripe_hmac, header_token")
	flag.StringVar(&cfg.Secret, "secret", "", "Signing secret for the chosen scheme")
	flag.IntVar(&cfg.Total, "n", 1000, "Total number of deliveries")
	flag.IntVar(&cfg.Concurrency, "c", 10, "Number of concurrent workers")
	flag.BoolVar(&cfg.Unique, "unique", true, "Send unique payloads (false exercises deduplication)")
	flag.BoolVar(&cfg.Force, "force", false, "Send force=true on every delivery")
	flag.DurationVar(&cfg.Timeout, "timeout", 10*time.Second, "Per-request timeout")
	flag.StringVar(&cfg.OutputFile, "o", "", "Write the report to a file")
	flag.Parse()

	if cfg.ConnectionID == "" {
		fmt.Fprintln(os.Stderr, "-connection is required")
		flag.Usage()
		os.Exit(2)
	}
	return cfg
}

func run(ctx context.Context, cfg Config) []result {
	client := &http.Client{Timeout: cfg.Timeout}

	url := fmt.Sprintf("%s?connection_id=%s", cfg.Target, cfg.ConnectionID)
	if cfg.Force {
		url += "&force=true"
	}

	var sent atomic.Int64
	results := make([]result, cfg.Total)

	var wg sync.WaitGroup
	for w := 0; w < cfg.Concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				i := int(sent.Add(1)) - 1
				if i >= cfg.Total || ctx.Err() != nil {
					return
				}
				results[i] = fire(ctx, client, url, cfg, i)
			}
		}()
	}
	wg.Wait()

	return results[:min(int(sent.Load()), cfg.Total)]
}

func fire(ctx context.Context, client *http.Client, url string, cfg Config, seq int) result {
	body := samplePayload(cfg, seq)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return result{err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	for name, value := range signatureHeaders(cfg.Scheme, cfg.Secret, body, time.Now()) {
		req.Header.Set(name, value)
	}

	start := time.Now()
	resp, err := client.Do(req)
	latency := time.Since(start)
	if err != nil {
		return result{latency: latency, err: err}
	}
	defer resp.Body.Close() //nolint:errcheck

	return result{status: resp.StatusCode, latency: latency}
}

// samplePayload fabricates a payment-ish event. Unique mode varies the event
// ID so every delivery creates a record; duplicate mode repeats one payload to
// exercise the deduplication path.
func samplePayload(cfg Config, seq int) []byte {
	id := "evt_benchmark"
	if cfg.Unique {
		id = fmt.Sprintf("evt_%d_%d", seq, rand.Int64()) //nolint:gosec
	}
	return fmt.Appendf(nil, `{"id":%q,"type":"invoice.paid","data":{"customer":{"email":"load%d@example.com"},"amount":%d}}`,
		id, seq%100, 100+seq%900)
}

func buildReport(cfg Config, results []result) string {
	var b strings.Builder

	statuses := make(map[int]int)
	var errs int
	latencies := make([]time.Duration, 0, len(results))
	var total time.Duration

	for _, r := range results {
		if r.err != nil {
			errs++
			continue
		}
		statuses[r.status]++
		latencies = append(latencies, r.latency)
		total += r.latency
	}

	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	b.WriteString("# Webhook benchmark\n\n")
	fmt.Fprintf(&b, "Deliveries: %d (errors: %d)\n\n", len(results), errs)

	b.WriteString("## Status codes\n\n")
	codes := make([]int, 0, len(statuses))
	for code := range statuses {
		codes = append(codes, code)
	}
	sort.Ints(codes)
	for _, code := range codes {
		fmt.Fprintf(&b, "- %d: %d\n", code, statuses[code])
	}

	if len(latencies) > 0 {
		b.WriteString("\n## Latency\n\n")
		fmt.Fprintf(&b, "- mean: %s\n", total/time.Duration(len(latencies)))
		fmt.Fprintf(&b, "- p50:  %s\n", percentile(latencies, 50))
		fmt.Fprintf(&b, "- p95:  %s\n", percentile(latencies, 95))
		fmt.Fprintf(&b, "- p99:  %s\n", percentile(latencies, 99))
		fmt.Fprintf(&b, "- max:  %s\n", latencies[len(latencies)-1])
	}

	return b.String()
}
