package addon

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensource-finance/plb/internal/domain"
)

func record() *domain.Record {
	return &domain.Record{
		AirlineCode:      "QR",
		MarketingAirline: "QR",
		OperatingAirline: "QR",
		FlightNumber:     "123",
		Origin:           "DOH",
		Destination:      "LHR",
		RBD:              "Y",
		FlownDate:        domain.MustParseDate("2025-06-15"),
	}
}

func processor(t *testing.T) *Processor {
	t.Helper()
	p, err := NewProcessor(nil)
	require.NoError(t, err)
	return p
}

func rule(mappings ...domain.AddonMapping) domain.AddonRule {
	return domain.AddonRule{
		ID:          "A1",
		Name:        "Codeshare override",
		WhenToApply: "Only for coupons rejected after base in/out filtering",
		Mappings:    mappings,
	}
}

func TestOverrideApplies(t *testing.T) {
	p := processor(t)
	c := &domain.Contract{AddonRules: []domain.AddonRule{
		rule(domain.AddonMapping{MarketingFlight: "QR123", Route: "DOH-LHR"}),
	}}

	out := p.Process(record(), c, false, true)
	assert.True(t, out.TriggerEligible)
	assert.True(t, out.PayoutEligible)
	require.Len(t, out.Details, 1)
	d := out.Details[0]
	assert.True(t, d.Applied)
	assert.Equal(t, "Override applied - matched mapping: {marketing_flight=QR123, route=DOH-LHR}", d.Reason)
	require.NotNil(t, d.MatchedMapping)

	a := &domain.ContractAnalysis{TriggerReason: "Fare_Type value PUB excluded", PayoutReason: "All payout criteria met", PayoutEligible: true}
	out.Apply(a)
	assert.True(t, a.TriggerEligible)
	assert.True(t, a.PayoutEligible)
	assert.Equal(t, "Fare_Type value PUB excluded; Addon rules applied: Codeshare override", a.TriggerReason)
	assert.Equal(t, "All payout criteria met; Addon rules applied: Codeshare override", a.PayoutReason)
}

func TestNotAppliedWhenAlreadyEligible(t *testing.T) {
	p := processor(t)
	c := &domain.Contract{AddonRules: []domain.AddonRule{rule(domain.AddonMapping{Route: "DOH-LHR"})}}

	out := p.Process(record(), c, true, true)
	require.Len(t, out.Details, 1)
	assert.False(t, out.Details[0].Applied)
	assert.Equal(t, ReasonConditionsNotMet, out.Details[0].Reason)

	a := &domain.ContractAnalysis{TriggerEligible: true, PayoutEligible: true, TriggerReason: "All trigger criteria met"}
	out.Apply(a)
	assert.Equal(t, "All trigger criteria met", a.TriggerReason)
	assert.Len(t, a.Addons, 1)
}

func TestNoMatchingMapping(t *testing.T) {
	p := processor(t)
	c := &domain.Contract{AddonRules: []domain.AddonRule{rule(
		domain.AddonMapping{MarketingFlight: "QR999"},
		domain.AddonMapping{OperatingAirline: "BA"},
		domain.AddonMapping{Route: "LHR-DOH"},
	)}}
	out := p.Process(record(), c, false, false)
	assert.False(t, out.TriggerEligible)
	assert.Equal(t, ReasonNoMapping, out.Details[0].Reason)
}

func TestEffectiveDates(t *testing.T) {
	p := processor(t)
	for _, tt := range []struct {
		name string
		m    domain.AddonMapping
		want bool
	}{
		{"inside", domain.AddonMapping{EffectiveFrom: "2025-06-01", EffectiveTo: "2025-06-30"}, true},
		{"before", domain.AddonMapping{EffectiveFrom: "2025-07-01"}, false},
		{"after", domain.AddonMapping{EffectiveTo: "2025-06-14"}, false},
		{"invalid bound ignored", domain.AddonMapping{EffectiveFrom: "01/07/2025"}, true},
	} {
		t.Run(tt.name, func(t *testing.T) {
			c := &domain.Contract{AddonRules: []domain.AddonRule{rule(tt.m)}}
			out := p.Process(record(), c, false, false)
			assert.Equal(t, tt.want, out.Details[0].Applied)
		})
	}
}

func TestExclusionsStillApplicable(t *testing.T) {
	r := record()
	excl, vetoed := Excluded(r, []string{"OTADOC", "Disallowed deal families", "Disallowed RBD: M, Y"})
	assert.True(t, vetoed)
	assert.Equal(t, "Disallowed RBD: M, Y", excl)

	_, vetoed = Excluded(r, []string{"Disallowed RBD", "Disallowed RBD: B/K"})
	assert.False(t, vetoed)

	p := processor(t)
	ar := rule(domain.AddonMapping{Route: "DOH-LHR"})
	ar.Exclusions = []string{"Disallowed RBD: Y"}
	out := p.Process(r, &domain.Contract{AddonRules: []domain.AddonRule{ar}}, false, false)
	assert.False(t, out.TriggerEligible)
	assert.Equal(t, "Excluded by: Disallowed RBD: Y", out.Details[0].Reason)
}

func TestShouldApply(t *testing.T) {
	r := record()
	assert.True(t, ShouldApply(r, "Route/flight constraints", true, true))
	assert.False(t, ShouldApply(r, "Operating carrier differs", true, true))

	r.OperatingAirline = "BA"
	assert.True(t, ShouldApply(r, "Operating carrier differs", true, true))

	r = record()
	r.CodeShare = "Y"
	assert.True(t, ShouldApply(r, "codeshare flights", true, true))

	assert.True(t, ShouldApply(record(), "", true, false))
	assert.False(t, ShouldApply(record(), "", true, true))
}

func TestCondition(t *testing.T) {
	p := processor(t)
	ar := rule(domain.AddonMapping{Route: "DOH-LHR"})
	ar.Condition = `rbd in ["Y", "B"] && record.origin == "DOH"`
	c := &domain.Contract{AddonRules: []domain.AddonRule{ar}}
	require.NoError(t, p.ValidateContract(c))

	out := p.Process(record(), c, false, false)
	assert.True(t, out.Details[0].Applied)

	r := record()
	r.RBD = "M"
	out = p.Process(r, c, false, false)
	assert.False(t, out.Details[0].Applied)
	assert.Equal(t, ReasonConditionsNotMet, out.Details[0].Reason)
}

func TestInvalidCondition(t *testing.T) {
	p := processor(t)
	ar := rule()
	ar.Condition = "base + 1"
	err := p.ValidateContract(&domain.Contract{AddonRules: []domain.AddonRule{ar}})
	assert.Error(t, err)

	ar.Condition = "rbd =="
	_, err = p.Compile(ar.Condition)
	assert.Error(t, err)
}

func TestMonotonic(t *testing.T) {
	p := processor(t)
	first := rule(domain.AddonMapping{Route: "DOH-LHR"})
	second := rule(domain.AddonMapping{Route: "XXX-YYY"})
	second.ID, second.Name = "A2", "Second"
	c := &domain.Contract{AddonRules: []domain.AddonRule{first, second}}

	out := p.Process(record(), c, false, false)
	assert.True(t, out.TriggerEligible)
	assert.True(t, out.PayoutEligible)
	// The second rule sees eligible flags and does not apply, which never
	// lowers them again.
	assert.False(t, out.Details[1].Applied)
	assert.Equal(t, []string{"Codeshare override"}, out.Applied())
}
