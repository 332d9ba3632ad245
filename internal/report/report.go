// Package report aggregates processing results into batch summaries.
package report

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/opensource-finance/plb/internal/domain"
)

// ContractTotals aggregates one contract across a batch.
type ContractTotals struct {
	ContractID      string          `json:"contractId"`
	ContractName    string          `json:"contractName"`
	RulesetID       string          `json:"rulesetId"`
	Records         int             `json:"recordsEvaluated"`
	SectorEligible  int             `json:"sectorEligible"`
	TriggerEligible int             `json:"triggerEligible"`
	PayoutEligible  int             `json:"payoutEligible"`
	AddonOverrides  int             `json:"addonOverrides"`
	Degraded        int             `json:"degraded"`
	TriggerValue    decimal.Decimal `json:"totalTriggerValue"`
	PayoutValue     decimal.Decimal `json:"totalPayoutValue"`
}

// Summary is the aggregate of a batch.
type Summary struct {
	ID                  string           `json:"id"`
	Records             int              `json:"records"`
	Failed              int              `json:"failed"`
	AirlineEligible     int              `json:"airlineEligible"`
	WithEligibleTrigger int              `json:"withEligibleTrigger"`
	WithPayout          int              `json:"withPayout"`
	TotalPayout         decimal.Decimal  `json:"totalPayout"`
	Contracts           []ContractTotals `json:"contracts"`
	GeneratedAt         time.Time        `json:"generatedAt"`
	DurationMs          int64            `json:"durationMs"`
}

// Aggregator accumulates results. It is safe for concurrent use.
type Aggregator struct {
	// Precision is the number of decimals amounts are rounded to in the
	// summary. Accumulation itself is exact.
	Precision int32

	mu      sync.Mutex
	start   time.Time
	sum     Summary
	byID    map[string]int
	payout  decimal.Decimal
	records int
}

// NewAggregator creates an aggregator rounding amounts to precision
// decimals.
func NewAggregator(precision int32) *Aggregator {
	return &Aggregator{
		Precision: precision,
		start:     time.Now(),
		byID:      map[string]int{},
	}
}

// Add folds one result into the totals.
func (a *Aggregator) Add(result *domain.ProcessingResult) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.records++
	if result == nil {
		a.sum.Failed++
		return
	}
	if result.AirlineEligibility {
		a.sum.AirlineEligible++
	}
	if result.EligibleContracts > 0 {
		a.sum.WithEligibleTrigger++
	}
	if result.AnyPayoutEligible() {
		a.sum.WithPayout++
	}

	for _, an := range result.Analyses {
		i, ok := a.byID[an.ContractID]
		if !ok {
			a.sum.Contracts = append(a.sum.Contracts, ContractTotals{
				ContractID:   an.ContractID,
				ContractName: an.ContractName,
				RulesetID:    an.RulesetID,
			})
			i = len(a.sum.Contracts) - 1
			a.byID[an.ContractID] = i
		}
		ct := &a.sum.Contracts[i]
		ct.Records++
		if an.Error != "" {
			ct.Degraded++
		}
		if an.SectorEligible {
			ct.SectorEligible++
		}
		if an.TriggerEligible {
			ct.TriggerEligible++
			ct.TriggerValue = ct.TriggerValue.Add(an.TriggerValue)
		}
		if an.PayoutEligible {
			ct.PayoutEligible++
			ct.PayoutValue = ct.PayoutValue.Add(an.PayoutValue)
			a.payout = a.payout.Add(an.PayoutValue)
		}
		if Overridden(an) {
			ct.AddonOverrides++
		}
	}
}

// AddFailure counts a record that could not be evaluated.
func (a *Aggregator) AddFailure() { a.Add(nil) }

// Summary returns the totals so far, amounts rounded to Precision.
func (a *Aggregator) Summary() *Summary {
	a.mu.Lock()
	defer a.mu.Unlock()

	s := a.sum
	s.ID = uuid.New().String()
	s.Records = a.records
	s.TotalPayout = a.payout.Round(a.Precision)
	s.Contracts = make([]ContractTotals, len(a.sum.Contracts))
	for i, ct := range a.sum.Contracts {
		ct.TriggerValue = ct.TriggerValue.Round(a.Precision)
		ct.PayoutValue = ct.PayoutValue.Round(a.Precision)
		s.Contracts[i] = ct
	}
	s.GeneratedAt = time.Now().UTC()
	s.DurationMs = time.Since(a.start).Milliseconds()
	return &s
}

// Summarize aggregates a finished batch. Nil results count as failures.
func Summarize(results []*domain.ProcessingResult, precision int32) *Summary {
	agg := NewAggregator(precision)
	for _, r := range results {
		agg.Add(r)
	}
	return agg.Summary()
}

// Overridden reports whether an addon rule fired on the analysis.
func Overridden(a domain.ContractAnalysis) bool {
	for _, o := range a.Addons {
		if o.Applied {
			return true
		}
	}
	return false
}

// Reasons lists why contracts did not pay out, keyed by contract id.
func Reasons(result *domain.ProcessingResult) map[string]string {
	out := map[string]string{}
	for _, a := range result.Analyses {
		switch {
		case a.PayoutEligible:
		case !a.SectorEligible:
			out[a.ContractID] = a.SectorReason
		default:
			out[a.ContractID] = a.PayoutReason
		}
	}
	return out
}
