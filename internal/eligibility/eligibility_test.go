package eligibility

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensource-finance/plb/internal/domain"
	"github.com/opensource-finance/plb/internal/fieldmap"
)

func record() *domain.Record {
	return &domain.Record{
		AirlineCode:      "QR",
		MarketingAirline: "QR",
		OperatingAirline: "QR",
		FlightNumber:     "QR0123",
		RBD:              "Y",
		Origin:           "DOH",
		Destination:      "LHR",
		IATA:             "1234567",
		NDC:              "yes",
		FareType:         "PUB",
		SalesDate:        domain.MustParseDate("2025-03-10"),
		FlownDate:        domain.MustParseDate("2025-04-01"),
	}
}

func contract(in, out map[string][]string) *domain.Contract {
	return &domain.Contract{
		ContractID:      "C1",
		StartDate:       domain.MustParseDate("2025-01-01"),
		EndDate:         domain.MustParseDate("2025-12-31"),
		Trigger:         domain.TriggerSpec{Type: domain.TriggerFlown, Components: []string{"BASE"}},
		TriggerCriteria: domain.MustCriteriaSet(in, out),
	}
}

func TestAllPhasesPass(t *testing.T) {
	e := New(nil, nil)
	res, err := e.Evaluate(record(), contract(map[string][]string{"RBD": {"Y", "B"}}, nil))
	require.NoError(t, err)
	assert.True(t, res.Sector.Eligible)
	assert.Empty(t, res.Sector.Reasons)
	assert.Equal(t, domain.PhaseResult{Eligible: true, Reasons: []string{ReasonTriggerMet}}, res.Trigger)
	assert.Equal(t, domain.PhaseResult{Eligible: true, Reasons: []string{ReasonPayoutMet}}, res.Payout)
}

func TestRBDInclusion(t *testing.T) {
	e := New(nil, nil)
	c := contract(map[string][]string{"RBD": {"Y", "B"}}, nil)

	for _, tt := range []struct {
		rbd  string
		want bool
	}{
		{"Y", true},
		{"b", true},
		{"M", false},
	} {
		t.Run(tt.rbd, func(t *testing.T) {
			r := record()
			r.RBD = tt.rbd
			res, err := e.Evaluate(r, c)
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.Sector.Eligible)
			if !tt.want {
				assert.Equal(t, []string{"RBD value M not in eligible list"}, res.Sector.Reasons)
				assert.Equal(t, []string{ReasonTriggerSkipped}, res.Trigger.Reasons)
				assert.Equal(t, []string{ReasonPayoutSkipped}, res.Payout.Reasons)
			}
		})
	}
}

func TestContractWindow(t *testing.T) {
	c := contract(nil, nil)
	c.StartDate = domain.MustParseDate("2025-02-01")
	r := record()
	r.FlownDate = domain.MustParseDate("2025-01-01")

	res, err := New(nil, nil).Evaluate(r, c)
	require.NoError(t, err)
	assert.False(t, res.Sector.Eligible)
	require.Len(t, res.Sector.Reasons, 1)
	assert.Contains(t, res.Sector.Reasons[0], "contract window")
	assert.Equal(t, "Date not in contract window: 2025-01-01 outside 2025-02-01 to 2025-12-31", res.Sector.Reasons[0])
	assert.False(t, res.Trigger.Eligible)
	assert.False(t, res.Payout.Eligible)

	// SALES contracts use the sales date.
	c.Trigger.Type = domain.TriggerSales
	res, _ = New(nil, nil).Evaluate(r, c)
	assert.True(t, res.Sector.Eligible)
}

func TestAirlineGate(t *testing.T) {
	c := contract(map[string][]string{"RBD": {"M"}}, nil)
	c.AirlineCodes = []string{"ek", "QR ", "EK"}
	r := record()
	r.AirlineCode = "BA"
	c.StartDate = domain.MustParseDate("2026-01-01")

	res, _ := New(nil, nil).Evaluate(r, c)
	assert.False(t, res.Sector.Eligible)
	assert.Equal(t, []string{
		"Sector airline mismatch: coupon sector airline 'BA' does not match contract airline codes [EK, QR]",
	}, res.Sector.Reasons)

	r.AirlineCode = " qr"
	res, _ = New(nil, nil).Evaluate(r, c)
	// The gate passes and both the window and RBD reasons are kept.
	assert.Len(t, res.Sector.Reasons, 2)
}

func TestConflictingCriteriaFailClosed(t *testing.T) {
	c := contract(map[string][]string{"RBD": {"Y"}}, map[string][]string{"RBD": {"M"}})
	res, _ := New(nil, nil).Evaluate(record(), c)
	assert.False(t, res.Sector.Eligible)
	require.Len(t, res.Sector.Reasons, 1)
	assert.Contains(t, res.Sector.Reasons[0], "invalid configuration")
}

func TestConflictingCriteriaFailClosedBeforeSkips(t *testing.T) {
	e := New(nil, nil)
	for _, field := range []string{"Mystery Field", "Alliance"} {
		t.Run(field, func(t *testing.T) {
			c := contract(map[string][]string{field: {"X"}}, map[string][]string{field: {"Y"}})
			res, err := e.Evaluate(record(), c)
			require.NoError(t, err)
			assert.True(t, res.Sector.Eligible)
			assert.False(t, res.Trigger.Eligible)
			assert.False(t, res.Payout.Eligible)
			require.Len(t, res.Trigger.Reasons, 1)
			assert.Equal(t, field+" has both IN and OUT criteria (invalid configuration)", res.Trigger.Reasons[0])
		})
	}
}

func TestExclusion(t *testing.T) {
	c := contract(nil, map[string][]string{"Fare_Type": {"PUB"}})
	res, _ := New(nil, nil).Evaluate(record(), c)
	// fare criteria are not a sector group.
	assert.True(t, res.Sector.Eligible)
	assert.False(t, res.Trigger.Eligible)
	assert.Equal(t, []string{"Fare_Type value PUB excluded"}, res.Trigger.Reasons)
	assert.False(t, res.Payout.Eligible)
}

func TestPayoutCriteriaIndependentOfTrigger(t *testing.T) {
	c := contract(map[string][]string{"Fare_Type": {"NEG"}}, nil)
	c.PayoutCriteria = domain.MustCriteriaSet(map[string][]string{"RBD": {"Y"}}, nil)

	res, _ := New(nil, nil).Evaluate(record(), c)
	assert.True(t, res.Sector.Eligible)
	assert.False(t, res.Trigger.Eligible)
	assert.True(t, res.Payout.Eligible)
}

func TestFlightNumberNormalization(t *testing.T) {
	e := New(nil, nil)
	for _, rule := range []string{"123", "QR123", "0123", "QR0123"} {
		t.Run(rule, func(t *testing.T) {
			res, _ := e.Evaluate(record(), contract(map[string][]string{"Flight_Nos": {rule}}, nil))
			assert.True(t, res.Sector.Eligible, res.Sector.Reasons)
		})
	}
}

func TestAllKeyword(t *testing.T) {
	res, _ := New(nil, nil).Evaluate(record(), contract(map[string][]string{"Cabin": {"ALL"}, "RBD": {"any"}}, nil))
	assert.True(t, res.Sector.Eligible)
}

func TestUnknownWildcardAndNulls(t *testing.T) {
	e := New(nil, nil)
	r := record()
	r.RBD = "Unknown"
	res, _ := e.Evaluate(r, contract(map[string][]string{"RBD": {"J"}}, nil))
	assert.True(t, res.Sector.Eligible)

	r.RBD = ""
	res, _ = e.Evaluate(r, contract(map[string][]string{"RBD": {"J"}}, nil))
	assert.True(t, res.Sector.Eligible)

	strict, err := fieldmap.New([]domain.FieldMapping{{
		RuleField:     domain.FieldRBD,
		InputPath:     domain.Path{Parts: []string{"cpn_RBD"}},
		NullHandling:  domain.NullStrictFail,
		CriteriaGroup: domain.GroupBooking,
	}})
	require.NoError(t, err)
	res, _ = New(strict, nil).Evaluate(r, contract(map[string][]string{"RBD": {"J"}}, nil))
	assert.Equal(t, []string{"RBD is null or unknown"}, res.Sector.Reasons)
}

func TestUnmappedFieldIsSkipped(t *testing.T) {
	res, _ := New(nil, nil).Evaluate(record(), contract(map[string][]string{"Mystery Field": {"X"}}, nil))
	assert.True(t, res.Trigger.Eligible)
	assert.True(t, res.Payout.Eligible)
}

func TestIgnoredField(t *testing.T) {
	res, _ := New(nil, nil).Evaluate(record(), contract(map[string][]string{"Alliance": {"Star"}}, nil))
	assert.True(t, res.Trigger.Eligible)
}

func TestBooleanField(t *testing.T) {
	e := New(nil, nil)
	res, _ := e.Evaluate(record(), contract(map[string][]string{"NDC": {"true"}}, nil))
	assert.True(t, res.Trigger.Eligible)

	res, _ = e.Evaluate(record(), contract(map[string][]string{"NDC": {"false"}}, nil))
	assert.Equal(t, []string{"NDC true != false"}, res.Trigger.Reasons)

	res, _ = e.Evaluate(record(), contract(nil, map[string][]string{"NDC": {"Y"}}))
	assert.Equal(t, []string{"NDC true is excluded"}, res.Trigger.Reasons)
}

func TestDateRanges(t *testing.T) {
	raw := domain.RawCriteria{"IN": {
		"Sales_Date": json.RawMessage(`[{"start":"2025-01-01","end":"2025-01-31"},{"start":"2025-03-01"}]`),
	}}
	set, err := domain.NewCriteriaSet(raw)
	require.NoError(t, err)
	c := contract(nil, nil)
	c.TriggerCriteria = set

	e := New(nil, nil)
	res, _ := e.Evaluate(record(), c)
	assert.True(t, res.Trigger.Eligible, res.Trigger.Reasons)

	r := record()
	r.SalesDate = domain.MustParseDate("2025-02-14")
	res, _ = e.Evaluate(r, c)
	assert.Equal(t, []string{"Sales_Date 2025-02-14 not in specified date ranges"}, res.Trigger.Reasons)
}

func TestPlainDateValues(t *testing.T) {
	e := New(nil, nil)

	in := contract(map[string][]string{"Sales_Date": {"2025-03-10", "2025-03-12"}}, nil)
	res, _ := e.Evaluate(record(), in)
	assert.True(t, res.Trigger.Eligible, res.Trigger.Reasons)

	r := record()
	r.SalesDate = domain.MustParseDate("2025-03-11")
	res, _ = e.Evaluate(r, in)
	assert.Equal(t, []string{"Sales_Date 2025-03-11 not in specified date ranges"}, res.Trigger.Reasons)

	out := contract(nil, map[string][]string{"Sales_Date": {"2025-03-10"}})
	res, _ = e.Evaluate(record(), out)
	assert.Equal(t, []string{"Sales_Date 2025-03-10 in excluded date range"}, res.Trigger.Reasons)

	res, _ = e.Evaluate(r, out)
	assert.True(t, res.Trigger.Eligible, res.Trigger.Reasons)

	bad := contract(map[string][]string{"Sales_Date": {"soon"}}, nil)
	res, _ = e.Evaluate(record(), bad)
	assert.False(t, res.Trigger.Eligible)
	assert.Equal(t, []string{`Sales_Date IN criteria: "soon" is not a valid date`}, res.Trigger.Reasons)

	all := contract(map[string][]string{"Sales_Date": {"ALL"}}, nil)
	res, _ = e.Evaluate(r, all)
	assert.True(t, res.Trigger.Eligible, res.Trigger.Reasons)
}

func TestIATACodes(t *testing.T) {
	c := contract(nil, nil)
	c.IATACodes = []string{"12345678"}
	res, _ := New(nil, nil).Evaluate(record(), c)
	// Contract codes are cut to seven characters like the record value.
	assert.True(t, res.Sector.Eligible, res.Sector.Reasons)

	c.IATACodes = []string{"7654321"}
	res, _ = New(nil, nil).Evaluate(record(), c)
	assert.Equal(t, []string{"iataCode value 1234567 not in eligible list"}, res.Sector.Reasons)
}

func TestNilInputs(t *testing.T) {
	_, err := New(nil, nil).Evaluate(nil, &domain.Contract{})
	assert.ErrorIs(t, err, domain.ErrEligibility)
}
