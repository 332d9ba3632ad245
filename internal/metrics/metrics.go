// Package metrics exposes Prometheus collectors for the rule engine.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/opensource-finance/plb/internal/domain"
)

// Contract outcomes.
const (
	OutcomeSectorIneligible  = "sector_ineligible"
	OutcomeTriggerIneligible = "trigger_ineligible"
	OutcomePayoutIneligible  = "payout_ineligible"
	OutcomePayout            = "payout"
	OutcomeDegraded          = "degraded"
)

// Metrics implements rules.Observer.
type Metrics struct {
	RecordsEvaluated   *prometheus.CounterVec
	ContractsEvaluated *prometheus.CounterVec
	DegradedAnalyses   prometheus.Counter
	AddonOverrides     prometheus.Counter
	RecordDuration     prometheus.Histogram
	CacheLookups       *prometheus.CounterVec
}

// New registers the collectors with reg. A nil reg uses the default
// Prometheus registry.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		RecordsEvaluated: f.NewCounterVec(prometheus.CounterOpts{
			Name: "plb_records_evaluated_total",
			Help: "Total number of records evaluated",
		}, []string{"status"}),
		ContractsEvaluated: f.NewCounterVec(prometheus.CounterOpts{
			Name: "plb_contracts_evaluated_total",
			Help: "Total number of contract analyses by outcome",
		}, []string{"outcome"}),
		DegradedAnalyses: f.NewCounter(prometheus.CounterOpts{
			Name: "plb_degraded_analyses_total",
			Help: "Total number of contract analyses that failed and were reported as ineligible",
		}),
		AddonOverrides: f.NewCounter(prometheus.CounterOpts{
			Name: "plb_addon_overrides_total",
			Help: "Total number of contract analyses where an addon rule fired",
		}),
		RecordDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "plb_record_evaluation_duration_seconds",
			Help:    "Duration of record evaluation in seconds",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
		}),
		CacheLookups: f.NewCounterVec(prometheus.CounterOpts{
			Name: "plb_result_cache_lookups_total",
			Help: "Total number of result cache lookups",
		}, []string{"result"}),
	}
}

func (m *Metrics) RecordEvaluated(d time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.RecordsEvaluated.WithLabelValues(status).Inc()
	m.RecordDuration.Observe(d.Seconds())
}

func (m *Metrics) ContractEvaluated(a *domain.ContractAnalysis) {
	m.ContractsEvaluated.WithLabelValues(Outcome(a)).Inc()
	if a.Error != "" {
		m.DegradedAnalyses.Inc()
	}
	for _, o := range a.Addons {
		if o.Applied {
			m.AddonOverrides.Inc()
			break
		}
	}
}

// CacheLookup counts a result cache hit or miss.
func (m *Metrics) CacheLookup(hit bool) {
	if hit {
		m.CacheLookups.WithLabelValues("hit").Inc()
		return
	}
	m.CacheLookups.WithLabelValues("miss").Inc()
}

// Outcome classifies an analysis by the first stage it failed.
func Outcome(a *domain.ContractAnalysis) string {
	switch {
	case a.Error != "":
		return OutcomeDegraded
	case !a.SectorEligible:
		return OutcomeSectorIneligible
	case !a.TriggerEligible:
		return OutcomeTriggerIneligible
	case !a.PayoutEligible:
		return OutcomePayoutIneligible
	default:
		return OutcomePayout
	}
}
