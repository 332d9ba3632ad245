package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Record is one flown or sold coupon. Created once per input row and never
// mutated afterwards.
type Record struct {
	// Identifiers
	SourceSystem string `json:"source_system"`
	PCC          string `json:"pcc"`
	TicketNumber Code   `json:"ticket_number"`
	CouponNumber Code   `json:"coupon_number"`

	// Carrier and booking
	AirlineCode      string `json:"cpn_airline_code"`
	FareBasis        string `json:"cpn_fare_basis"`
	RBD              string `json:"cpn_RBD"`
	IATA             string `json:"iata"`
	Cabin            string `json:"cabin"`
	FlightNumber     Code   `json:"flight_number"`
	AirlineName      string `json:"airline_name"`
	MarketingAirline string `json:"marketing_airline"`
	OperatingAirline string `json:"operating_airline"`
	TicketingAirline string `json:"ticketing_airline"`
	CorporateCode    string `json:"corporate_code"`
	TourCodes        string `json:"tour_codes"`
	FareType         string `json:"fare_type"`

	// Dates
	SalesDate Date `json:"cpn_sales_date"`
	FlownDate Date `json:"cpn_flown_date"`

	// Geography
	Origin            string     `json:"cpn_origin"`
	Destination       string     `json:"cpn_destination"`
	Route             string     `json:"route"`
	CityCodes         string     `json:"city_codes"`
	CouponItinerary   string     `json:"coupon_itinerary"`
	TicketItinerary   string     `json:"ticket_itinerary"`
	TicketOrigin      string     `json:"ticket_origin"`
	TicketDestination string     `json:"ticket_destination"`
	OndArray          StringList `json:"ond_array"`
	PosArray          StringList `json:"pos_array"`

	// Flags
	CodeShare       string `json:"code_share"`
	Interline       string `json:"interline"`
	NDC             string `json:"ndc"`
	IsInternational bool   `json:"cpn_is_international"`

	// Revenue
	Base  decimal.Decimal `json:"cpn_revenue_base"`
	YQ    decimal.Decimal `json:"cpn_revenue_yq"`
	YR    decimal.Decimal `json:"cpn_revenue_yr"`
	XT    decimal.Decimal `json:"cpn_revenue_xt"`
	Total decimal.Decimal `json:"cpn_total_revenue"`
}

// Revenue component names usable in formulas and component lists.
const (
	ComponentBase  = "BASE"
	ComponentYQ    = "YQ"
	ComponentYR    = "YR"
	ComponentXT    = "XT"
	ComponentTotal = "TOTAL"
	ComponentNone  = "NONE"
)

// RevenueComponents lists the summable components in canonical order.
var RevenueComponents = []string{ComponentBase, ComponentYQ, ComponentYR, ComponentXT}

// Component returns a revenue component by (case-insensitive) name.
func (r *Record) Component(name string) (decimal.Decimal, bool) {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case ComponentBase:
		return r.Base, true
	case ComponentYQ:
		return r.YQ, true
	case ComponentYR:
		return r.YR, true
	case ComponentXT:
		return r.XT, true
	case ComponentTotal:
		return r.Total, true
	}
	return decimal.Zero, false
}

// DateFor returns the date a contract window is checked against:
// flown date for FLOWN triggers, sales date otherwise.
func (r *Record) DateFor(t TriggerType) Date {
	if t == TriggerFlown {
		return r.FlownDate
	}
	return r.SalesDate
}

// Carrier returns the normalized primary carrier code.
func (r *Record) Carrier() string {
	return strings.ToUpper(strings.TrimSpace(r.AirlineCode))
}

// Key identifies the record in logs and storage.
func (r *Record) Key() string {
	return fmt.Sprintf("%s-%s", r.TicketNumber, r.CouponNumber)
}

// Validate checks the record identity required before any contract runs.
func (r *Record) Validate() error {
	if r.Carrier() == "" {
		return NewValidationError("record", "Airline code is required")
	}
	if r.Total.IsNegative() {
		return NewValidationError("record", "Total revenue must not be negative")
	}
	return nil
}

// Code is an identifier that may arrive as a JSON string or number
// (ticket and flight numbers in spreadsheet exports).
type Code string

func (c Code) String() string { return string(c) }

func (c *Code) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		*c = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*c = Code(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("code must be a string or number: %w", err)
	}
	*c = Code(n.String())
	return nil
}

// StringList accepts a JSON list, a JSON-encoded list inside a string,
// a comma-separated string or a single value.
type StringList []string

func (l *StringList) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		*l = nil
		return nil
	}
	var list []string
	if err := json.Unmarshal(b, &list); err == nil {
		*l = list
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("list must be an array or string: %w", err)
	}
	*l = ParseStringList(s)
	return nil
}

// ParseStringList splits the string forms StringList accepts.
func ParseStringList(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	var list []string
	if err := json.Unmarshal([]byte(s), &list); err == nil {
		return list
	}
	if strings.Contains(s, ",") && !strings.Contains(s, "[") {
		parts := strings.Split(s, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			out = append(out, strings.TrimSpace(p))
		}
		return out
	}
	return []string{s}
}

// ConsideredRevenue sums the named components. NONE selects total revenue.
// Unrecognized component names are returned so callers can report them.
func (r *Record) ConsideredRevenue(components []string) (decimal.Decimal, []string) {
	for _, c := range components {
		if strings.EqualFold(strings.TrimSpace(c), ComponentNone) {
			return r.Total, nil
		}
	}
	sum := decimal.Zero
	var unknown []string
	for _, c := range components {
		switch strings.ToUpper(strings.TrimSpace(c)) {
		case ComponentBase:
			sum = sum.Add(r.Base)
		case ComponentYQ:
			sum = sum.Add(r.YQ)
		case ComponentYR:
			sum = sum.Add(r.YR)
		case ComponentXT:
			sum = sum.Add(r.XT)
		default:
			unknown = append(unknown, c)
		}
	}
	return sum, unknown
}
