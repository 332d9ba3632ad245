// Benchmark tool for measuring PLB evaluation throughput.
//
// Usage:
//
//	go run ./cmd/benchmark -rulesets ./rulesets -records 50000
//	go run ./cmd/benchmark -rulesets ./rulesets -url http://localhost:8080
//
// This tool:
//  1. Loads the contract set from a ruleset directory
//  2. Generates synthetic coupons spread over the contracts' carriers, RBDs and window
//  3. Evaluates them in-process with EvaluateBatch, or in batches against a running server
//  4. Prints throughput, latency and the batch summary
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/plb/internal/domain"
	"github.com/opensource-finance/plb/internal/report"
	"github.com/opensource-finance/plb/internal/rules"
	"github.com/opensource-finance/plb/internal/ruleset"
)

var (
	carriers = []string{"QR", "EK", "EY", "SV", "WY", "GF"}
	rbds     = []string{"F", "A", "J", "C", "D", "Y", "B", "M", "H", "K", "Q", "V"}
	airports = []string{"DOH", "DXB", "AUH", "RUH", "MCT", "BAH", "LHR", "CDG", "JFK", "BOM", "DEL", "SIN"}
)

func main() {
	rulesetDir := flag.String("rulesets", "./rulesets", "Directory of ruleset documents")
	count := flag.Int("records", 10000, "Number of synthetic records")
	workers := flag.Int("workers", 4, "Engine workers (in-process mode)")
	baseURL := flag.String("url", "", "PLB base URL; empty evaluates in-process")
	tenantID := flag.String("tenant", "benchmark-test", "Tenant ID for requests")
	batchSize := flag.Int("batch", 500, "Records per request (HTTP mode)")
	seed := flag.Uint64("seed", 1, "Random seed")
	flag.Parse()

	sets, err := ruleset.LoadDir(*rulesetDir)
	if err != nil {
		fmt.Printf("ERROR: failed to load rulesets: %v\n", err)
		os.Exit(1)
	}
	contracts := ruleset.Contracts(sets)
	if len(contracts) == 0 {
		fmt.Printf("ERROR: no contracts in %s\n", *rulesetDir)
		os.Exit(1)
	}

	fmt.Println("PLB BENCHMARK")
	fmt.Printf("\nRulesets:   %d (%d contracts)\n", len(sets), len(contracts))
	fmt.Printf("Records:    %d\n", *count)
	if *baseURL != "" {
		fmt.Printf("Target:     %s (batch %d)\n", *baseURL, *batchSize)
	} else {
		fmt.Printf("Target:     in-process (%d workers)\n", *workers)
	}
	fmt.Println()

	records := generate(*count, contracts, rand.New(rand.NewPCG(*seed, *seed)))

	var (
		results []*domain.ProcessingResult
		failed  int
	)
	start := time.Now()
	if *baseURL != "" {
		results, failed, err = runHTTP(*baseURL, *tenantID, records, *batchSize)
	} else {
		results, failed, err = runLocal(contracts, records, *workers)
	}
	if err != nil {
		fmt.Printf("ERROR: %v\n", err)
		os.Exit(1)
	}
	printResults(results, failed, time.Since(start))
}

// generate builds records spread over the carriers and RBDs the contracts
// care about, with dates inside their windows.
func generate(n int, contracts []*domain.Contract, rng *rand.Rand) []*domain.Record {
	first, last := window(contracts)
	days := int(last.Sub(first.Time).Hours()/24) + 1

	records := make([]*domain.Record, n)
	for i := range records {
		flown := first.AddDate(0, 0, rng.IntN(days))
		sold := flown.AddDate(0, 0, -rng.IntN(60))
		base := decimal.NewFromInt(int64(100 + rng.IntN(4900)))
		yq := decimal.NewFromInt(int64(rng.IntN(300)))
		yr := decimal.NewFromInt(int64(rng.IntN(50)))
		xt := decimal.NewFromInt(int64(rng.IntN(120)))

		origin := airports[rng.IntN(len(airports))]
		dest := airports[rng.IntN(len(airports))]
		for dest == origin {
			dest = airports[rng.IntN(len(airports))]
		}

		records[i] = &domain.Record{
			TicketNumber: domain.Code(strconv.Itoa(1570000000000 + i)),
			CouponNumber: domain.Code(strconv.Itoa(1 + rng.IntN(4))),
			AirlineCode:  carriers[rng.IntN(len(carriers))],
			RBD:          rbds[rng.IntN(len(rbds))],
			Origin:       origin,
			Destination:  dest,
			SalesDate:    domain.Date{Time: sold},
			FlownDate:    domain.Date{Time: flown},
			Base:         base,
			YQ:           yq,
			YR:           yr,
			XT:           xt,
			Total:        base.Add(yq).Add(yr).Add(xt),
		}
	}
	return records
}

func window(contracts []*domain.Contract) (domain.Date, domain.Date) {
	first, last := contracts[0].StartDate, contracts[0].EndDate
	for _, c := range contracts[1:] {
		if c.StartDate.Before(first) {
			first = c.StartDate
		}
		if c.EndDate.After(last) {
			last = c.EndDate
		}
	}
	return first, last
}

func runLocal(contracts []*domain.Contract, records []*domain.Record, workers int) ([]*domain.ProcessingResult, int, error) {
	cfg := domain.DefaultConfig().Engine
	cfg.MaxWorkers = workers
	engine, err := rules.NewEngine(cfg, nil)
	if err != nil {
		return nil, 0, err
	}
	if err := engine.Load(contracts); err != nil {
		return nil, 0, err
	}

	items := engine.EvaluateBatch(context.Background(), records)
	results := make([]*domain.ProcessingResult, 0, len(items))
	failed := 0
	for _, it := range items {
		if it.Result == nil {
			failed++
			continue
		}
		results = append(results, it.Result)
	}
	return results, failed, nil
}

type batchResponse struct {
	Results []struct {
		Result *domain.ProcessingResult `json:"result"`
		Error  string                   `json:"error"`
	} `json:"results"`
}

func runHTTP(baseURL, tenantID string, records []*domain.Record, size int) ([]*domain.ProcessingResult, int, error) {
	if err := checkHealth(baseURL); err != nil {
		return nil, 0, fmt.Errorf("PLB not reachable at %s: %w", baseURL, err)
	}

	client := &http.Client{Timeout: 5 * time.Minute}
	var (
		results []*domain.ProcessingResult
		failed  int
	)
	for start := 0; start < len(records); start += size {
		end := min(start+size, len(records))
		body, err := json.Marshal(map[string]any{"records": records[start:end]})
		if err != nil {
			return nil, 0, err
		}

		req, err := http.NewRequest(http.MethodPost, baseURL+"/evaluate/batch", bytes.NewReader(body))
		if err != nil {
			return nil, 0, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Tenant-ID", tenantID)

		resp, err := client.Do(req)
		if err != nil {
			return nil, 0, err
		}
		data, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, 0, err
		}
		if resp.StatusCode != http.StatusOK {
			return nil, 0, fmt.Errorf("batch %d: status %d: %s", start/size, resp.StatusCode, data)
		}

		var br batchResponse
		if err := json.Unmarshal(data, &br); err != nil {
			return nil, 0, fmt.Errorf("batch %d: %w", start/size, err)
		}
		for _, it := range br.Results {
			if it.Result == nil {
				failed++
				continue
			}
			results = append(results, it.Result)
		}
		fmt.Printf("\r  %d / %d", end, len(records))
	}
	fmt.Println()
	return results, failed, nil
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

func printResults(results []*domain.ProcessingResult, failed int, elapsed time.Duration) {
	total := len(results) + failed
	var engineMs int64
	for _, r := range results {
		engineMs += r.ProcessingTimeMs
	}

	fmt.Println("RESULTS")
	fmt.Printf("  Records:          %d (%d failed)\n", total, failed)
	fmt.Printf("  Elapsed:          %s\n", elapsed.Round(time.Millisecond))
	fmt.Printf("  Throughput:       %.0f records/s\n", float64(total)/elapsed.Seconds())
	if len(results) > 0 {
		fmt.Printf("  Avg engine time:  %.3f ms/record\n", float64(engineMs)/float64(len(results)))
	}

	s := report.Summarize(results, 2)
	s.Failed += failed
	s.Records += failed
	fmt.Printf("  Airline eligible: %d\n", s.AirlineEligible)
	fmt.Printf("  Trigger eligible: %d\n", s.WithEligibleTrigger)
	fmt.Printf("  With payout:      %d\n", s.WithPayout)
	fmt.Printf("  Total payout:     %s\n", s.TotalPayout.StringFixed(2))

	fmt.Println("\nPER CONTRACT")
	fmt.Printf("  %-24s %10s %10s %10s %14s\n", "contract", "sector", "trigger", "payout", "payout value")
	for _, c := range s.Contracts {
		fmt.Printf("  %-24s %10d %10d %10d %14s\n", c.ContractID, c.SectorEligible, c.TriggerEligible, c.PayoutEligible, c.PayoutValue.StringFixed(2))
	}
}
