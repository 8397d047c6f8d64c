package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/urfave/cli/v2"
	"golang.org/x/xerrors"
)

// LoadConfig holds configuration for the load run.
type LoadConfig struct {
	BaseURL     string
	Endpoint    string
	Concurrency int
	Requests    int64
	Duration    time.Duration
	Timeout     time.Duration
	ReportFile  string
}

// LoadResult holds the results of a load run.
type LoadResult struct {
	TotalRequests  int64
	SuccessfulReqs int64
	FailedReqs     int64
	TransportErrs  int64
	ByStatus       map[int]int64
	TotalDuration  time.Duration
	AvgLatency     time.Duration
	MinLatency     time.Duration
	MaxLatency     time.Duration
	RequestsPerSec float64
}

var endpoints = map[string]struct {
	method string
	path   string
}{
	"ledger":    {http.MethodGet, "/stellar/v1/ledger"},
	"account":   {http.MethodPost, "/stellar/v1/account"},
	"friendbot": {http.MethodGet, "/stellar/v1/friendbot"},
	"source":    {http.MethodGet, "/stellar/v1/account/source"},
	"health":    {http.MethodGet, "/health"},
}

func main() {
	app := &cli.App{
		Name:  "stress_test",
		Usage: "Concurrent HTTP load against a running stellar-gateway",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "url", Value: "http://127.0.0.1:8080", Usage: "gateway base URL"},
			&cli.StringFlag{Name: "endpoint", Aliases: []string{"e"}, Value: "ledger", Usage: "ledger, account, friendbot, source or health"},
			&cli.IntFlag{Name: "concurrency", Aliases: []string{"c"}, Value: 10, Usage: "number of concurrent workers"},
			&cli.Int64Flag{Name: "requests", Aliases: []string{"n"}, Value: 0, Usage: "total number of requests (0 = bounded by --duration)"},
			&cli.DurationFlag{Name: "duration", Aliases: []string{"d"}, Value: 30 * time.Second, Usage: "duration of the run"},
			&cli.DurationFlag{Name: "timeout", Value: 45 * time.Second, Usage: "per request timeout"},
			&cli.StringFlag{Name: "output", Aliases: []string{"o"}, Usage: "output report file (JSON)"},
		},
		Action: func(cctx *cli.Context) error {
			cfg := LoadConfig{
				BaseURL:     cctx.String("url"),
				Endpoint:    cctx.String("endpoint"),
				Concurrency: cctx.Int("concurrency"),
				Requests:    cctx.Int64("requests"),
				Duration:    cctx.Duration("duration"),
				Timeout:     cctx.Duration("timeout"),
				ReportFile:  cctx.String("output"),
			}
			if _, ok := endpoints[cfg.Endpoint]; !ok {
				return xerrors.Errorf("unknown endpoint %q", cfg.Endpoint)
			}
			if cfg.Concurrency < 1 {
				return xerrors.New("concurrency must be at least 1")
			}

			fmt.Println("=== Stellar Gateway Load Test ===")
			fmt.Printf("Target:      %s%s\n", cfg.BaseURL, endpoints[cfg.Endpoint].path)
			fmt.Printf("Concurrency: %d workers\n", cfg.Concurrency)
			fmt.Printf("Duration:    %v\n", cfg.Duration)
			fmt.Println()

			result := runLoad(cctx.Context, cfg)
			printResults(result)

			if cfg.ReportFile != "" {
				return saveReport(cfg, result)
			}
			return nil
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		os.Exit(1)
	}
}

type tally struct {
	total, success, failed, transport int64
	latencySum                        int64
	minLatency                        int64
	maxLatency                        int64

	mu       sync.Mutex
	byStatus map[int]int64
}

func (t *tally) record(code int, latency time.Duration, err error) {
	atomic.AddInt64(&t.total, 1)
	if err != nil {
		atomic.AddInt64(&t.transport, 1)
		atomic.AddInt64(&t.failed, 1)
		return
	}

	t.mu.Lock()
	t.byStatus[code]++
	t.mu.Unlock()

	if code != http.StatusOK {
		atomic.AddInt64(&t.failed, 1)
		return
	}
	atomic.AddInt64(&t.success, 1)
	atomic.AddInt64(&t.latencySum, int64(latency))

	lat := int64(latency)
	for {
		old := atomic.LoadInt64(&t.minLatency)
		if lat >= old || atomic.CompareAndSwapInt64(&t.minLatency, old, lat) {
			break
		}
	}
	for {
		old := atomic.LoadInt64(&t.maxLatency)
		if lat <= old || atomic.CompareAndSwapInt64(&t.maxLatency, old, lat) {
			break
		}
	}
}

func runLoad(parent context.Context, cfg LoadConfig) LoadResult {
	ctx, cancel := context.WithTimeout(parent, cfg.Duration)
	defer cancel()

	ep := endpoints[cfg.Endpoint]
	url := cfg.BaseURL + ep.path
	client := &http.Client{Timeout: cfg.Timeout}

	t := &tally{minLatency: 1<<63 - 1, byStatus: make(map[int]int64)}
	var (
		issued int64
		wg     sync.WaitGroup
	)

	start := time.Now()
	for i := 0; i < cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ctx.Err() == nil {
				if cfg.Requests > 0 && atomic.AddInt64(&issued, 1) > cfg.Requests {
					return
				}
				code, latency, err := send(ctx, client, ep.method, url)
				if ctx.Err() != nil && err != nil {
					return
				}
				t.record(code, latency, err)
				if err != nil {
					// Back off briefly so a dead target is not hammered.
					time.Sleep(10 * time.Millisecond)
				}
			}
		}()
	}
	wg.Wait()

	elapsed := time.Since(start)
	var avg time.Duration
	if t.success > 0 {
		avg = time.Duration(t.latencySum / t.success)
	}
	minLat := t.minLatency
	if t.success == 0 {
		minLat = 0
	}

	return LoadResult{
		TotalRequests:  t.total,
		SuccessfulReqs: t.success,
		FailedReqs:     t.failed,
		TransportErrs:  t.transport,
		ByStatus:       t.byStatus,
		TotalDuration:  elapsed,
		AvgLatency:     avg,
		MinLatency:     time.Duration(minLat),
		MaxLatency:     time.Duration(t.maxLatency),
		RequestsPerSec: float64(t.total) / elapsed.Seconds(),
	}
}

func send(ctx context.Context, client *http.Client, method, url string) (int, time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return 0, 0, err
	}

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		return 0, 0, err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	return resp.StatusCode, time.Since(start), nil
}

func percent(part, total int64) float64 {
	if total == 0 {
		return 0
	}
	return float64(part) / float64(total) * 100
}

func printResults(result LoadResult) {
	fmt.Println("=== Results ===")
	fmt.Printf("Duration:        %v\n", result.TotalDuration.Round(time.Millisecond))
	fmt.Printf("Total Requests:  %d\n", result.TotalRequests)
	fmt.Printf("Successful:      %d (%.2f%%)\n", result.SuccessfulReqs, percent(result.SuccessfulReqs, result.TotalRequests))
	fmt.Printf("Failed:          %d (%.2f%%)\n", result.FailedReqs, percent(result.FailedReqs, result.TotalRequests))
	fmt.Printf("Transport errs:  %d\n", result.TransportErrs)
	fmt.Printf("Requests/sec:    %.2f\n", result.RequestsPerSec)
	fmt.Printf("Avg Latency:     %v\n", result.AvgLatency.Round(time.Microsecond))
	fmt.Printf("Min Latency:     %v\n", result.MinLatency.Round(time.Microsecond))
	fmt.Printf("Max Latency:     %v\n", result.MaxLatency.Round(time.Microsecond))

	codes := make([]int, 0, len(result.ByStatus))
	for code := range result.ByStatus {
		codes = append(codes, code)
	}
	sort.Ints(codes)
	for _, code := range codes {
		fmt.Printf("  HTTP %d:       %d\n", code, result.ByStatus[code])
	}
}

func saveReport(cfg LoadConfig, result LoadResult) error {
	byStatus := make(map[string]int64, len(result.ByStatus))
	for code, n := range result.ByStatus {
		byStatus[fmt.Sprint(code)] = n
	}

	report := map[string]interface{}{
		"config": map[string]interface{}{
			"url":         cfg.BaseURL,
			"endpoint":    cfg.Endpoint,
			"concurrency": cfg.Concurrency,
			"duration":    cfg.Duration.String(),
		},
		"results": map[string]interface{}{
			"total_requests":   result.TotalRequests,
			"successful":       result.SuccessfulReqs,
			"failed":           result.FailedReqs,
			"transport_errors": result.TransportErrs,
			"by_status":        byStatus,
			"requests_per_sec": result.RequestsPerSec,
			"avg_latency_ms":   float64(result.AvgLatency.Microseconds()) / 1000,
			"min_latency_ms":   float64(result.MinLatency.Microseconds()) / 1000,
			"max_latency_ms":   float64(result.MaxLatency.Microseconds()) / 1000,
		},
		"timestamp": time.Now().Format(time.RFC3339),
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(cfg.ReportFile, data, 0644); err != nil {
		return xerrors.Errorf("writing report: %w", err)
	}
	fmt.Printf("Report saved to: %s\n", cfg.ReportFile)
	return nil
}
