package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/opensource-finance/plb/internal/domain"
)

func TestOutcome(t *testing.T) {
	tests := []struct {
		name string
		a    domain.ContractAnalysis
		want string
	}{
		{"degraded", domain.ContractAnalysis{Error: "boom", SectorEligible: true}, OutcomeDegraded},
		{"sector", domain.ContractAnalysis{}, OutcomeSectorIneligible},
		{"trigger", domain.ContractAnalysis{SectorEligible: true}, OutcomeTriggerIneligible},
		{"payout", domain.ContractAnalysis{SectorEligible: true, TriggerEligible: true}, OutcomePayoutIneligible},
		{"eligible", domain.ContractAnalysis{SectorEligible: true, TriggerEligible: true, PayoutEligible: true}, OutcomePayout},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Outcome(&tt.a))
		})
	}
}

func TestObserver(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.RecordEvaluated(3*time.Millisecond, nil)
	m.RecordEvaluated(time.Millisecond, errors.New("invalid"))
	m.ContractEvaluated(&domain.ContractAnalysis{
		SectorEligible: true, TriggerEligible: true, PayoutEligible: true,
		Addons: []domain.AddonOutcome{{RuleID: "A1", Applied: true}, {RuleID: "A2", Applied: true}},
	})
	m.ContractEvaluated(&domain.ContractAnalysis{Error: "panic"})
	m.CacheLookup(true)
	m.CacheLookup(false)
	m.CacheLookup(false)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.RecordsEvaluated.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RecordsEvaluated.WithLabelValues("error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ContractsEvaluated.WithLabelValues(OutcomePayout)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ContractsEvaluated.WithLabelValues(OutcomeDegraded)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DegradedAnalyses))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AddonOverrides))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.CacheLookups.WithLabelValues("miss")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.RecordDuration))
}
