package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/ksred/recon-api/internal/auth"
	"github.com/ksred/recon-api/internal/reconciliation"
	"github.com/ksred/recon-api/internal/types"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

const (
	minPairs      = 20
	maxPairs      = 100
	numWorkers    = 4
	serverAddress = "http://localhost:8080"

	// Imports are paced below the server's rate limit so the
	// simulation measures the reconciliation path, not 429s.
	importsPerSecond = 10
)

var currencies = []string{"USD", "EUR", "GBP", "ZAR"}

// init configures the logger for the simulation with pretty printing and timestamp
func init() {
	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}
	log.Logger = zerolog.New(output).With().Timestamp().Logger()
}

// routeStats tracks performance statistics for an API endpoint
type routeStats struct {
	name       string
	durations  []time.Duration
	totalCalls int
	failures   int
	mu         sync.Mutex
}

// addDuration records a new duration measurement for the route
func (rs *routeStats) addDuration(d time.Duration) {
	rs.mu.Lock()
	rs.durations = append(rs.durations, d)
	rs.totalCalls++
	rs.mu.Unlock()
}

func (rs *routeStats) addFailure() {
	rs.mu.Lock()
	rs.failures++
	rs.totalCalls++
	rs.mu.Unlock()
}

// calculate computes performance statistics from recorded durations
// Returns min, max, mean, median, 95th percentile, and 99th percentile durations
func (rs *routeStats) calculate() (min, max, mean, median, p95, p99 time.Duration) {
	if len(rs.durations) == 0 {
		return 0, 0, 0, 0, 0, 0
	}

	sort.Slice(rs.durations, func(i, j int) bool {
		return rs.durations[i] < rs.durations[j]
	})

	min = rs.durations[0]
	max = rs.durations[len(rs.durations)-1]

	var sum time.Duration
	for _, d := range rs.durations {
		sum += d
	}
	mean = sum / time.Duration(len(rs.durations))
	median = rs.durations[len(rs.durations)/2]

	p95idx := int(math.Ceil(float64(len(rs.durations))*0.95)) - 1
	p99idx := int(math.Ceil(float64(len(rs.durations))*0.99)) - 1
	p95 = rs.durations[p95idx]
	p99 = rs.durations[p99idx]

	return
}

// simulationClient handles HTTP communication with the reconciliation API
type simulationClient struct {
	baseURL   string
	authToken string
	client    *http.Client
	limiter   *rate.Limiter
	stats     map[string]*routeStats
}

// newSimulationClient creates and initializes a new simulation client
// It authenticates with the API and prepares performance tracking
func newSimulationClient() (*simulationClient, error) {
	sc := &simulationClient{
		baseURL: serverAddress,
		client:  &http.Client{Timeout: 10 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(importsPerSecond), 1),
		stats: map[string]*routeStats{
			"auth":      {name: "Authentication"},
			"import":    {name: "Import Record"},
			"reconcile": {name: "Auto Reconcile"},
			"stats":     {name: "Reconciliation Stats"},
		},
	}

	token, err := sc.authenticate()
	if err != nil {
		return nil, fmt.Errorf("failed to authenticate: %w", err)
	}
	sc.authToken = token

	return sc, nil
}

type apiEnvelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
}

// authenticate obtains a JWT token using the demo credentials
func (sc *simulationClient) authenticate() (string, error) {
	start := time.Now()

	creds := auth.Credentials{
		APIKey:    auth.DemoAPIKey,
		APISecret: auth.DemoAPISecret,
	}

	body, err := json.Marshal(creds)
	if err != nil {
		return "", err
	}

	resp, err := sc.client.Post(sc.baseURL+"/api/v1/auth/token", "application/json", bytes.NewReader(body))
	if err != nil {
		sc.stats["auth"].addFailure()
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		sc.stats["auth"].addFailure()
		return "", fmt.Errorf("unexpected auth status: %d", resp.StatusCode)
	}

	var envelope apiEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return "", err
	}

	var token auth.TokenResponse
	if err := json.Unmarshal(envelope.Data, &token); err != nil {
		return "", err
	}

	sc.stats["auth"].addDuration(time.Since(start))
	return token.Token, nil
}

func (sc *simulationClient) do(method, path string, payload any, out any, statKey string) error {
	// Pace requests so the simulation stays within the server's
	// rate limit window.
	if err := sc.limiter.Wait(context.Background()); err != nil {
		return err
	}

	start := time.Now()

	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, sc.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+sc.authToken)

	resp, err := sc.client.Do(req)
	if err != nil {
		sc.stats[statKey].addFailure()
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		sc.stats[statKey].addFailure()
		raw, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%s %s returned %d: %s", method, path, resp.StatusCode, raw)
	}

	if out != nil {
		var envelope apiEnvelope
		if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
			return err
		}
		if err := json.Unmarshal(envelope.Data, out); err != nil {
			return err
		}
	}

	sc.stats[statKey].addDuration(time.Since(start))
	return nil
}

// importRecord creates a single reconciliation record
func (sc *simulationClient) importRecord(req reconciliation.CreateRecordRequest) error {
	return sc.do(http.MethodPost, "/api/v1/reconciliation/records", req, nil, "import")
}

// autoReconcile triggers a full reconciliation pass
func (sc *simulationClient) autoReconcile() (*types.BatchResult, error) {
	var result types.BatchResult
	if err := sc.do(http.MethodPost, "/api/v1/reconciliation/reconcile", nil, &result, "reconcile"); err != nil {
		return nil, err
	}
	return &result, nil
}

// getStats fetches the global reconciliation statistics
func (sc *simulationClient) getStats() (*types.ReconciliationStats, error) {
	var stats types.ReconciliationStats
	if err := sc.do(http.MethodGet, "/api/v1/reconciliation/stats", nil, &stats, "stats"); err != nil {
		return nil, err
	}
	return &stats, nil
}

// importPairs generates matchable debit/credit pairs plus unmatched
// noise records. Roughly 80% of pairs land within the default amount
// tolerance and date window.
func importPairs(workerID, numPairs int, sc *simulationClient) {
	logger := log.With().Int("worker", workerID).Logger()

	for i := 0; i < numPairs; i++ {
		amount := 50 + rand.Float64()*950
		currency := currencies[rand.Intn(len(currencies))]
		baseDate := time.Now().AddDate(0, 0, -rand.Intn(10))

		debit := reconciliation.CreateRecordRequest{
			TransactionDate: baseDate,
			Type:            reconciliation.TypeDebit,
			Amount:          amount,
			Currency:        currency,
			CustomerName:    fmt.Sprintf("Customer %d-%d", workerID, i),
		}
		if err := sc.importRecord(debit); err != nil {
			logger.Warn().Err(err).Msg("failed to import debit record")
			continue
		}

		// Counterpart lands within tolerance most of the time; the
		// rest stays unmatched to exercise the failure counters.
		offset := rand.Float64() * 0.9
		dateOffset := rand.Intn(3)
		if rand.Float64() > 0.8 {
			offset = 25 + rand.Float64()*100
			dateOffset = 10 + rand.Intn(10)
		}

		credit := reconciliation.CreateRecordRequest{
			TransactionDate: baseDate.AddDate(0, 0, dateOffset),
			Type:            reconciliation.TypeCredit,
			Amount:          amount + offset,
			Currency:        currency,
			CustomerName:    fmt.Sprintf("Customer %d-%d", workerID, i),
		}
		if err := sc.importRecord(credit); err != nil {
			logger.Warn().Err(err).Msg("failed to import credit record")
		}
	}
}

// printPerformanceStats outputs the collected route timings
func (sc *simulationClient) printPerformanceStats() {
	log.Info().Msg("=== Simulation Performance ===")
	for _, rs := range sc.stats {
		min, max, mean, median, p95, p99 := rs.calculate()
		log.Info().
			Str("route", rs.name).
			Int("calls", rs.totalCalls).
			Int("failures", rs.failures).
			Dur("min", min).
			Dur("max", max).
			Dur("mean", mean).
			Dur("median", median).
			Dur("p95", p95).
			Dur("p99", p99).
			Msg("route statistics")
	}
}

func main() {
	log.Info().Msg("starting reconciliation simulation")

	sc, err := newSimulationClient()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize simulation client")
	}

	numPairs := minPairs + rand.Intn(maxPairs-minPairs+1)
	log.Info().
		Int("pairs", numPairs).
		Int("workers", numWorkers).
		Msg("importing record pairs")

	var wg sync.WaitGroup
	perWorker := numPairs / numWorkers
	for w := 0; w < numWorkers; w++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			importPairs(workerID, perWorker, sc)
		}(w)
	}
	wg.Wait()

	result, err := sc.autoReconcile()
	if err != nil {
		log.Fatal().Err(err).Msg("auto-reconciliation failed")
	}
	log.Info().
		Int("processed", result.Processed).
		Int("matched", result.Matched).
		Int("failed", result.Failed).
		Msg("auto-reconciliation completed")

	stats, err := sc.getStats()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to fetch reconciliation stats")
	}
	log.Info().
		Int64("total_records", stats.TotalRecords).
		Int64("matched", stats.MatchedRecords).
		Int64("unmatched", stats.UnmatchedRecords).
		Float64("match_rate", stats.MatchRate).
		Msg("reconciliation statistics")

	sc.printPerformanceStats()
}
