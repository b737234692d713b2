package main

import (
	"bytes"
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

	"github.com/opensource-finance/claimguard/internal/domain"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"
)

// LabeledClaim is one benchmark case: a claim and the disposition a
// reviewer assigned to it.
type LabeledClaim struct {
	ExpectedStatus string          `json:"expected_status"`
	Claim          json.RawMessage `json:"claim"`
}

var benchStatuses = []string{domain.StatusPassed, domain.StatusFlagged, domain.StatusRejected}

// benchMetrics tracks benchmark results. A claim counts as positive when
// its status is anything but passed.
type benchMetrics struct {
	mu        sync.Mutex
	confusion map[string]map[string]int // expected -> actual
	latencies []time.Duration

	TruePositives  int64
	FalsePositives int64
	TrueNegatives  int64
	FalseNegatives int64
	TotalErrors    int64
}

func (m *benchMetrics) record(expected, actual string, elapsed time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.confusion[expected] == nil {
		m.confusion[expected] = make(map[string]int)
	}
	m.confusion[expected][actual]++
	m.latencies = append(m.latencies, elapsed)

	predicted := actual != domain.StatusPassed
	labeled := expected != domain.StatusPassed
	switch {
	case predicted && labeled:
		m.TruePositives++
	case predicted && !labeled:
		m.FalsePositives++
	case !predicted && !labeled:
		m.TrueNegatives++
	default:
		m.FalseNegatives++
	}
}

type benchOptions struct {
	file    string
	baseURL string
	limit   int
	workers int
	rps     float64
	verbose bool
}

func newBenchCmd() *cobra.Command {
	opts := &benchOptions{}

	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Replay labeled claims against a running server and score the dispositions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBench(cmd, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.file, "file", "f", "", "JSON array of {expected_status, claim}")
	cmd.Flags().StringVar(&opts.baseURL, "url", "http://localhost:8000", "ClaimGuard base URL")
	cmd.Flags().IntVar(&opts.limit, "limit", 0, "maximum claims to send (0 = all)")
	cmd.Flags().IntVar(&opts.workers, "workers", 10, "number of concurrent workers")
	cmd.Flags().Float64Var(&opts.rps, "rps", 0, "request rate limit per second (0 = unlimited)")
	cmd.Flags().BoolVar(&opts.verbose, "verbose", false, "print each claim result")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func runBench(cmd *cobra.Command, opts *benchOptions) error {
	out := cmd.OutOrStdout()

	if err := checkHealth(opts.baseURL); err != nil {
		return fmt.Errorf("claimguard not reachable at %s: %w", opts.baseURL, err)
	}

	data, err := os.ReadFile(opts.file)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", opts.file, err)
	}
	var cases []LabeledClaim
	if err := json.Unmarshal(data, &cases); err != nil {
		return fmt.Errorf("failed to parse %s: %w", opts.file, err)
	}
	if opts.limit > 0 && len(cases) > opts.limit {
		cases = cases[:opts.limit]
	}
	fmt.Fprintf(out, "Loaded %d labeled claims from %s\n", len(cases), opts.file)

	limiter := rate.NewLimiter(rate.Inf, 1)
	if opts.rps > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.rps), 1)
	}

	start := time.Now()
	m := runBenchWorkers(cmd.Context(), cmd.ErrOrStderr(), cases, opts, limiter)
	printBenchResults(out, m, time.Since(start))
	return nil
}

func checkHealth(baseURL string) error {
	resp, err := http.Get(baseURL + "/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

func runBenchWorkers(ctx context.Context, errOut io.Writer, cases []LabeledClaim, opts *benchOptions, limiter *rate.Limiter) *benchMetrics {
	m := &benchMetrics{confusion: make(map[string]map[string]int)}

	work := make(chan LabeledClaim, 100)
	var wg sync.WaitGroup

	for i := 0; i < opts.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := &http.Client{Timeout: 30 * time.Second}

			for lc := range work {
				if err := limiter.Wait(ctx); err != nil {
					atomic.AddInt64(&m.TotalErrors, 1)
					continue
				}
				start := time.Now()
				result, err := validateRemote(ctx, client, opts.baseURL, lc.Claim)
				elapsed := time.Since(start)
				if err != nil {
					atomic.AddInt64(&m.TotalErrors, 1)
					if opts.verbose {
						fmt.Fprintf(errOut, "ERROR: %v\n", err)
					}
					continue
				}

				m.record(lc.ExpectedStatus, result.OverallStatus, elapsed)
				if opts.verbose {
					mark := "✓"
					if lc.ExpectedStatus != result.OverallStatus {
						mark = "✗"
					}
					fmt.Fprintf(errOut, "%s %-12s | expected: %-8s | got: %-8s | risk: %5.1f | issues: %d\n",
						mark, result.ClaimID, lc.ExpectedStatus, result.OverallStatus, result.RiskScore, len(result.Issues))
				}
			}
		}()
	}

	for _, lc := range cases {
		work <- lc
	}
	close(work)
	wg.Wait()

	return m
}

func validateRemote(ctx context.Context, client *http.Client, baseURL string, claim json.RawMessage) (*domain.ValidationResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/api/claims/validate", bytes.NewReader(claim))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}

	var result domain.ValidationResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	return &result, nil
}

func printBenchResults(w io.Writer, m *benchMetrics, duration time.Duration) {
	processed := len(m.latencies)

	fmt.Fprintf(w, "\nDATASET\n")
	fmt.Fprintf(w, "   Processed:  %d\n", processed)
	fmt.Fprintf(w, "   Errors:     %d\n", m.TotalErrors)

	fmt.Fprintf(w, "\nCONFUSION MATRIX (rows expected, columns actual)\n")
	fmt.Fprintf(w, "   %-10s", "")
	for _, s := range benchStatuses {
		fmt.Fprintf(w, " %9s", s)
	}
	fmt.Fprintln(w)
	for _, expected := range benchStatuses {
		fmt.Fprintf(w, "   %-10s", expected)
		for _, actual := range benchStatuses {
			fmt.Fprintf(w, " %9d", m.confusion[expected][actual])
		}
		fmt.Fprintln(w)
	}

	precision := ratio(m.TruePositives, m.TruePositives+m.FalsePositives)
	recall := ratio(m.TruePositives, m.TruePositives+m.FalseNegatives)
	f1 := 0.0
	if precision+recall > 0 {
		f1 = 2 * precision * recall / (precision + recall)
	}
	exact := 0
	for _, s := range benchStatuses {
		exact += m.confusion[s][s]
	}

	fmt.Fprintf(w, "\nDETECTION (positive = flagged or rejected)\n")
	fmt.Fprintf(w, "   Precision:       %.4f\n", precision)
	fmt.Fprintf(w, "   Recall:          %.4f\n", recall)
	fmt.Fprintf(w, "   F1-Score:        %.4f\n", f1)
	fmt.Fprintf(w, "   Exact status:    %.4f\n", ratio(int64(exact), int64(processed)))

	fmt.Fprintf(w, "\nPERFORMANCE\n")
	fmt.Fprintf(w, "   Total Duration:  %v\n", duration.Round(time.Millisecond))
	if processed > 0 {
		sort.Slice(m.latencies, func(i, j int) bool { return m.latencies[i] < m.latencies[j] })
		fmt.Fprintf(w, "   p50 Latency:     %v\n", percentile(m.latencies, 0.50))
		fmt.Fprintf(w, "   p95 Latency:     %v\n", percentile(m.latencies, 0.95))
		fmt.Fprintf(w, "   p99 Latency:     %v\n", percentile(m.latencies, 0.99))
		fmt.Fprintf(w, "   Throughput:      %.2f claims/sec\n", float64(processed)/duration.Seconds())
	}
	fmt.Fprintln(w)
}

func ratio(n, d int64) float64 {
	if d == 0 {
		return 0
	}
	return float64(n) / float64(d)
}

// percentile expects sorted input.
func percentile(sorted []time.Duration, p float64) time.Duration {
	idx := int(p * float64(len(sorted)-1))
	return sorted[idx].Round(time.Microsecond)
}
