// main.go - Load generator for request capture and event ingestion
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"sort"
	"strings"
	"sync"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"

	"requestanalytics/internal/requests"
)

// PerfConfig holds the configuration for the performance test
type PerfConfig struct {
	BaseURL      string
	Mode         string
	IngestPath   string
	BatchSize    int
	Concurrency  int
	Duration     time.Duration
	EventsPerSec int
	Timeout      time.Duration
}

// PerfStats holds statistics about the performance test
type PerfStats struct {
	mu            sync.Mutex
	Total         int64
	Succeeded     int64
	Failed        int64
	StatusCodes   map[int]int64
	ResponseTimes []time.Duration
	StartTime     time.Time
	EndTime       time.Time
}

// Result captures the result of a single request
type Result struct {
	Duration   time.Duration
	StatusCode int
	Error      error
}

var pages = []string{"/", "/about", "/pricing", "/blog", "/blog/article-1", "/docs", "/api/users", "/api/orders"}

var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1 Safari/605.1.15",
	"Mozilla/5.0 (iPhone; CPU iPhone OS 17_1 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1 Mobile/15E148 Safari/604.1",
	"Mozilla/5.0 (X11; Ubuntu; Linux x86_64; rv:121.0) Gecko/20100101 Firefox/121.0",
}

func main() {
	baseURL := flag.String("url", "http://localhost:3000", "Base URL of the application")
	mode := flag.String("mode", "browse", "browse hits pages through the capture middleware, ingest posts event batches")
	ingestPath := flag.String("ingest-path", "/analytics/api/events", "Ingest endpoint used in ingest mode")
	batch := flag.Int("batch", 20, "Events per ingest request")
	concurrency := flag.Int("c", 10, "Number of concurrent clients")
	duration := flag.Duration("d", 30*time.Second, "Duration of the test")
	eventsPerSec := flag.Int("rate", 0, "Target requests per second (0 = unlimited)")
	timeout := flag.Duration("timeout", 10*time.Second, "Request timeout")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	cfg := &PerfConfig{
		BaseURL:      strings.TrimRight(*baseURL, "/"),
		Mode:         *mode,
		IngestPath:   *ingestPath,
		BatchSize:    *batch,
		Concurrency:  *concurrency,
		Duration:     *duration,
		EventsPerSec: *eventsPerSec,
		Timeout:      *timeout,
	}
	if cfg.Mode != "browse" && cfg.Mode != "ingest" {
		fmt.Fprintf(os.Stderr, "unknown mode %q\n", cfg.Mode)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	testCtx, cancel := context.WithTimeout(ctx, cfg.Duration)
	defer cancel()

	logger.Info("Starting performance test",
		slog.String("url", cfg.BaseURL),
		slog.String("mode", cfg.Mode),
		slog.Int("concurrency", cfg.Concurrency),
		slog.Duration("duration", cfg.Duration))

	stats := &PerfStats{StatusCodes: make(map[int]int64), StartTime: time.Now()}
	for result := range runTest(testCtx, cfg) {
		stats.record(result)
	}
	stats.EndTime = time.Now()

	printResults(stats)
}

// runTest starts the workers and returns a channel for results
func runTest(ctx context.Context, cfg *PerfConfig) <-chan Result {
	results := make(chan Result, cfg.Concurrency*10)
	var wg sync.WaitGroup

	var interval time.Duration
	if cfg.EventsPerSec > 0 {
		perWorker := float64(cfg.EventsPerSec) / float64(cfg.Concurrency)
		interval = time.Duration(float64(time.Second) / perWorker)
	}

	for i := 0; i < cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := &http.Client{Timeout: cfg.Timeout}

			var ticker *time.Ticker
			if interval > 0 {
				ticker = time.NewTicker(interval)
				defer ticker.Stop()
			}

			for {
				if ticker != nil {
					select {
					case <-ticker.C:
					case <-ctx.Done():
						return
					}
				} else if ctx.Err() != nil {
					return
				}
				results <- sendRequest(ctx, client, cfg)
			}
		}()
	}

	go func() {
		wg.Wait()
		close(results)
	}()
	return results
}

func sendRequest(ctx context.Context, client *http.Client, cfg *PerfConfig) Result {
	req, err := buildRequest(ctx, cfg)
	if err != nil {
		return Result{Error: err}
	}

	started := time.Now()
	resp, err := client.Do(req)
	elapsed := time.Since(started)
	if err != nil {
		return Result{Duration: elapsed, Error: err}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	return Result{Duration: elapsed, StatusCode: resp.StatusCode}
}

func buildRequest(ctx context.Context, cfg *PerfConfig) (*http.Request, error) {
	ua := userAgents[rand.IntN(len(userAgents))]

	if cfg.Mode == "browse" {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, cfg.BaseURL+pages[rand.IntN(len(pages))], nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("User-Agent", ua)
		req.Header.Set("Accept-Language", "en-US,en;q=0.9")
		return req, nil
	}

	body, err := json.Marshal(map[string]any{"events": generateEvents(cfg.BatchSize)})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal JSON: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.BaseURL+cfg.IngestPath, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

func generateEvents(n int) []requests.RequestEvent {
	sessionID := uuid.NewString()
	now := time.Now().UTC()
	events := make([]requests.RequestEvent, 0, n)
	for i := 0; i < n; i++ {
		events = append(events, requests.RequestEvent{
			Path:            pages[rand.IntN(len(pages))],
			Browser:         "Chrome",
			OperatingSystem: "Windows 10",
			Device:          requests.Unknown,
			SessionID:       sessionID,
			HTTPMethod:      http.MethodGet,
			RequestCategory: requests.CategoryWeb,
			VisitedAt:       now.Add(time.Duration(i) * time.Second),
		})
	}
	return events
}

func (s *PerfStats) record(r Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Total++
	if r.Error != nil || r.StatusCode >= 400 {
		s.Failed++
	} else {
		s.Succeeded++
	}
	if r.StatusCode != 0 {
		s.StatusCodes[r.StatusCode]++
	}
	s.ResponseTimes = append(s.ResponseTimes, r.Duration)
}

// percentile expects sorted input.
func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(float64(len(sorted)-1) * p)
	return sorted[idx]
}

func printResults(stats *PerfStats) {
	elapsed := stats.EndTime.Sub(stats.StartTime)
	if stats.Total == 0 {
		fmt.Println("No requests were sent")
		return
	}

	times := slices.Clone(stats.ResponseTimes)
	slices.Sort(times)
	var total time.Duration
	for _, d := range times {
		total += d
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "\n%s\t%s\n", "METRIC", "VALUE")
	fmt.Fprintf(w, "%s\t%s\n", "------", "-----")
	fmt.Fprintf(w, "Duration\t%v\n", elapsed.Round(time.Millisecond))
	fmt.Fprintf(w, "Requests\t%d\n", stats.Total)
	fmt.Fprintf(w, "Requests/sec\t%.2f\n", float64(stats.Total)/elapsed.Seconds())
	fmt.Fprintf(w, "Succeeded\t%d (%.2f%%)\n", stats.Succeeded, 100*float64(stats.Succeeded)/float64(stats.Total))
	fmt.Fprintf(w, "Failed\t%d (%.2f%%)\n", stats.Failed, 100*float64(stats.Failed)/float64(stats.Total))
	fmt.Fprintf(w, "Avg latency\t%v\n", total/time.Duration(len(times)))
	fmt.Fprintf(w, "p50 latency\t%v\n", percentile(times, 0.50))
	fmt.Fprintf(w, "p95 latency\t%v\n", percentile(times, 0.95))
	fmt.Fprintf(w, "p99 latency\t%v\n", percentile(times, 0.99))
	fmt.Fprintf(w, "Max latency\t%v\n", times[len(times)-1])
	w.Flush()

	if len(stats.StatusCodes) == 0 {
		return
	}
	codes := make([]int, 0, len(stats.StatusCodes))
	for code := range stats.StatusCodes {
		codes = append(codes, code)
	}
	sort.Ints(codes)

	fmt.Println("\nStatus Code Distribution:")
	w = tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	for _, code := range codes {
		count := stats.StatusCodes[code]
		bar := strings.Repeat("█", int(50*count/stats.Total))
		fmt.Fprintf(w, "%d\t%d\t%s\n", code, count, bar)
	}
	w.Flush()
}
