package domain

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDate(t *testing.T) {
	cases := map[string]Date{
		"2025-03-14":               NewDate(2025, time.March, 14),
		"2025-03-14T10:20:30Z":     NewDate(2025, time.March, 14),
		"2025-03-14T10:20":         NewDate(2025, time.March, 14),
		"30MAY25":                  NewDate(2025, time.May, 30),
		"30may25":                  NewDate(2025, time.May, 30),
		"  2025-01-01  ":           NewDate(2025, time.January, 1),
		"2025-03-14T10:20:30.123Z": NewDate(2025, time.March, 14),
	}
	for in, want := range cases {
		t.Run(in, func(t *testing.T) {
			got, err := ParseDate(in)
			require.NoError(t, err)
			assert.True(t, want.Equal(got.Time), "got %s", got)
		})
	}

	_, err := ParseDate("not a date")
	assert.Error(t, err)

	empty, err := ParseDate("")
	require.NoError(t, err)
	assert.True(t, empty.IsZero())
}

func TestDateWithin(t *testing.T) {
	d := MustParseDate("2025-06-15")
	assert.True(t, d.Within(MustParseDate("2025-06-15"), MustParseDate("2025-06-15")))
	assert.True(t, d.Within(Date{}, Date{}))
	assert.False(t, d.Within(MustParseDate("2025-06-16"), Date{}))
	assert.False(t, d.Within(Date{}, MustParseDate("2025-06-14")))
}

func TestRecordUnmarshal(t *testing.T) {
	raw := `{
		"ticket_number": 1572345678901,
		"coupon_number": "1",
		"cpn_airline_code": "qr",
		"flight_number": 1234,
		"cpn_flown_date": "2025-04-01",
		"cpn_revenue_base": 1000,
		"cpn_total_revenue": "1250.50",
		"pos_array": "IN, AE",
		"ond_array": "[\"DOH-LHR\"]"
	}`
	var r Record
	require.NoError(t, json.Unmarshal([]byte(raw), &r))

	assert.Equal(t, Code("1572345678901"), r.TicketNumber)
	assert.Equal(t, Code("1234"), r.FlightNumber)
	assert.Equal(t, "QR", r.Carrier())
	assert.Equal(t, StringList{"IN", "AE"}, r.PosArray)
	assert.Equal(t, StringList{"DOH-LHR"}, r.OndArray)
	assert.True(t, r.Total.Equal(decimal.RequireFromString("1250.50")))
	assert.Equal(t, "2025-04-01", r.FlownDate.String())
	assert.Equal(t, "1572345678901-1", r.Key())
}

func TestRecordValidate(t *testing.T) {
	r := Record{AirlineCode: "QR", Total: decimal.NewFromInt(10)}
	require.NoError(t, r.Validate())

	r.AirlineCode = " "
	err := r.Validate()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrValidation))
	assert.Contains(t, err.Error(), "Airline code is required")

	r.AirlineCode = "QR"
	r.Total = decimal.Zero
	require.NoError(t, r.Validate(), "zero revenue is a caller default, not an identity failure")

	r.Total = decimal.NewFromInt(-1)
	err = r.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Total revenue must not be negative")
	assert.False(t, errors.Is(err, ErrContract))
}

func TestRecordDateFor(t *testing.T) {
	r := Record{SalesDate: MustParseDate("2025-01-01"), FlownDate: MustParseDate("2025-02-01")}
	assert.Equal(t, "2025-02-01", r.DateFor(TriggerFlown).String())
	assert.Equal(t, "2025-01-01", r.DateFor(TriggerSales).String())
}

func TestNewCriteriaSetCanonicalizes(t *testing.T) {
	raw := RawCriteria{}
	require.NoError(t, json.Unmarshal([]byte(`{
		"IN": {
			"Marketing Airline": ["QR"],
			"RBD": ["Y", "B"],
			"NDC": true,
			"Travel_Date": [{"start": "2025-01-01", "end": "2025-06-30"}]
		},
		"OUT": {"Routes": "DOH-LHR"},
		"SILENT": {"Notes": "ignored"}
	}`), &raw))

	set, err := NewCriteriaSet(raw)
	require.NoError(t, err)

	ma, ok := set.Get(FieldMarketingAirline)
	require.True(t, ok)
	assert.Equal(t, "Marketing Airline", ma.Label)
	assert.Equal(t, []string{"QR"}, ma.In)

	ndc, ok := set.Get(FieldNDC)
	require.True(t, ok)
	assert.Equal(t, []string{"true"}, ndc.In)

	travel, ok := set.Get(FieldTravelDate)
	require.True(t, ok)
	require.Len(t, travel.InRanges, 1)
	assert.Equal(t, "2025-06-30", travel.InRanges[0].End.String())

	route, ok := set.Get(FieldRoute)
	require.True(t, ok)
	assert.Equal(t, []string{"DOH-LHR"}, route.Out)

	assert.Contains(t, set.Silent, "Notes")
	assert.False(t, set.Empty())
}

func TestCriteriaConflict(t *testing.T) {
	set := MustCriteriaSet(map[string][]string{"RBD": {"Y"}}, map[string][]string{"RBD": {"M"}})
	c, ok := set.Get(FieldRBD)
	require.True(t, ok)
	assert.True(t, c.Conflicting())
	assert.Len(t, set.Fields, 1)
}

func TestCanonicalFieldUnknownKey(t *testing.T) {
	assert.Equal(t, LogicalField("Custom_Field"), CanonicalField("Custom_Field"))
	assert.Equal(t, FieldSitiSoto, CanonicalField("SITI/SOTO/SITO/SOTI"))
	assert.Equal(t, FieldOnD, CanonicalField("O&D Area"))
}

func TestContractHelpers(t *testing.T) {
	c := &Contract{AirlineCodes: []string{"qr ", "WY"}}
	assert.True(t, c.AllowsCarrier("QR"))
	assert.False(t, c.AllowsCarrier("EK"))
	assert.True(t, (&Contract{}).AllowsCarrier("EK"))

	c.TriggerCriteria = MustCriteriaSet(map[string][]string{"RBD": {"Y"}}, nil)
	assert.Equal(t, c.TriggerCriteria.Fields, c.EffectivePayoutCriteria().Fields)

	hi := decimal.NewFromInt(1000)
	row := TierRow{Min: decimal.Zero, Max: &hi}
	assert.True(t, row.Contains(decimal.NewFromInt(1000)))
	assert.False(t, row.Contains(decimal.NewFromInt(1001)))
	assert.True(t, TierRow{Min: decimal.NewFromInt(5)}.Contains(decimal.NewFromInt(1e9)))

	capped := &Cap{Enabled: true, Value: decimal.NewFromInt(50)}
	assert.True(t, capped.Apply(decimal.NewFromInt(80)).Equal(decimal.NewFromInt(50)))
	var none *Cap
	assert.True(t, none.Apply(decimal.NewFromInt(80)).Equal(decimal.NewFromInt(80)))
}

func TestDeploymentTiers(t *testing.T) {
	assert.Equal(t, TierCommunity, DefaultConfig().Tier)
	assert.Equal(t, TierPro, ProConfig().Tier)

	c := Contract{Tiers: []Tier{{Label: "T1", Rows: []TierRow{{Min: decimal.Zero, Value: decimal.NewFromInt(1), Unit: UnitPercent}}}}}
	assert.Len(t, c.TierRows(), 1)
}
