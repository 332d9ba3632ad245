package domain

import (
	"strings"

	"github.com/shopspring/decimal"
)

// TriggerType selects which record date a contract window applies to.
type TriggerType string

const (
	TriggerFlown TriggerType = "FLOWN"
	TriggerSales TriggerType = "SALES"
)

// PayoutType selects the payout calculation.
type PayoutType string

const (
	PayoutPercentage PayoutType = "PERCENTAGE"
	PayoutAmount     PayoutType = "AMOUNT"
	PayoutTiered     PayoutType = "TIERED"
)

// TierUnit is how a tier row's value is applied.
type TierUnit string

const (
	UnitPercent TierUnit = "PERCENT"
	UnitAmount  TierUnit = "AMOUNT"
)

// TierRow is one revenue band. A nil Max is unbounded.
type TierRow struct {
	Min   decimal.Decimal  `json:"min"`
	Max   *decimal.Decimal `json:"max,omitempty"`
	Value decimal.Decimal  `json:"value"`
	Unit  TierUnit         `json:"unit"`
}

// Contains reports min <= v <= max.
func (r TierRow) Contains(v decimal.Decimal) bool {
	if v.LessThan(r.Min) {
		return false
	}
	return r.Max == nil || v.LessThanOrEqual(*r.Max)
}

// Tier is an ordered table of rows.
type Tier struct {
	Label string    `json:"label,omitempty"`
	Rows  []TierRow `json:"rows"`
}

// Cap clamps a computed value from above when enabled.
type Cap struct {
	Enabled bool            `json:"enabled"`
	Value   decimal.Decimal `json:"value"`
}

// Apply clamps v to the cap.
func (c *Cap) Apply(v decimal.Decimal) decimal.Decimal {
	if c == nil || !c.Enabled {
		return v
	}
	return decimal.Min(v, c.Value)
}

// TriggerSpec defines how the trigger value is computed.
type TriggerSpec struct {
	Type       TriggerType `json:"type"`
	Components []string    `json:"components"`
	Formula    string      `json:"formula,omitempty"`
	Capping    *Cap        `json:"capping,omitempty"`
}

// PayoutSpec defines how the payout value is computed. Percentage is a
// whole number (2 means 2%).
type PayoutSpec struct {
	Type        PayoutType       `json:"type"`
	Components  []string         `json:"components"`
	Formula     string           `json:"formula,omitempty"`
	Percentage  *decimal.Decimal `json:"percentage,omitempty"`
	FixedAmount *decimal.Decimal `json:"fixedAmount,omitempty"`
	Capping     *Cap             `json:"capping,omitempty"`
}

// AddonMapping is one match pattern inside an addon rule.
type AddonMapping struct {
	MarketingFlight  string `json:"marketing_flight,omitempty"`
	OperatingAirline string `json:"operating_airline,omitempty"`
	Route            string `json:"route,omitempty"`
	EffectiveFrom    string `json:"effective_from,omitempty"`
	EffectiveTo      string `json:"effective_to,omitempty"`
}

// Describe renders the mapping for reasons.
func (m AddonMapping) Describe() string {
	var parts []string
	add := func(k, v string) {
		if v != "" {
			parts = append(parts, k+"="+v)
		}
	}
	add("marketing_flight", m.MarketingFlight)
	add("operating_airline", m.OperatingAirline)
	add("route", m.Route)
	add("effective_from", m.EffectiveFrom)
	add("effective_to", m.EffectiveTo)
	return "{" + strings.Join(parts, ", ") + "}"
}

// AddonRule can force a rejected record to be eligible.
type AddonRule struct {
	ID            string         `json:"addon_rule_id"`
	Name          string         `json:"name"`
	WhenToApply   string         `json:"when_to_apply"`
	OverrideLogic string         `json:"override_logic,omitempty"`
	Condition     string         `json:"condition,omitempty"` // optional CEL over the record
	Mappings      []AddonMapping `json:"mappings"`
	Exclusions    []string       `json:"exclusions_still_applicable,omitempty"`
}

// Contract is one loaded incentive rule. Immutable once loaded.
type Contract struct {
	DocumentID   string `json:"documentId"`
	DocumentName string `json:"documentName"`
	RulesetID    string `json:"rulesetId"`
	SourceName   string `json:"sourceName"`
	ContractID   string `json:"contractId"`
	ContractName string `json:"contractName"`
	RuleID       string `json:"ruleId"`

	StartDate Date `json:"startDate"`
	EndDate   Date `json:"endDate"`

	Trigger  TriggerSpec      `json:"trigger"`
	Payout   PayoutSpec       `json:"payout"`
	BLPValue *decimal.Decimal `json:"blpValue,omitempty"`
	Tiers    []Tier           `json:"tiers,omitempty"`

	TriggerCriteria CriteriaSet `json:"triggerCriteria"`
	PayoutCriteria  CriteriaSet `json:"payoutCriteria"`

	AirlineCodes []string `json:"airlineCodes,omitempty"`
	IATACodes    []string `json:"iataCodes,omitempty"`
	Countries    []string `json:"countries,omitempty"`
	Currency     string   `json:"currency,omitempty"`

	CreatedDate Date `json:"createdDate,omitempty"`
	UpdatedDate Date `json:"updatedDate,omitempty"`

	AddonRules []AddonRule `json:"addonRules,omitempty"`
}

// AllowsCarrier applies the airline gate. An empty AirlineCodes set admits
// every carrier.
func (c *Contract) AllowsCarrier(code string) bool {
	if len(c.AirlineCodes) == 0 {
		return true
	}
	code = strings.ToUpper(strings.TrimSpace(code))
	for _, a := range c.AirlineCodes {
		if strings.ToUpper(strings.TrimSpace(a)) == code {
			return true
		}
	}
	return false
}

// TierRows flattens rows across all tiers in declaration order.
func (c *Contract) TierRows() []TierRow {
	var rows []TierRow
	for _, t := range c.Tiers {
		rows = append(rows, t.Rows...)
	}
	return rows
}

// EffectivePayoutCriteria returns the payout criteria, or the trigger
// criteria when the payout set has no IN/OUT entries.
func (c *Contract) EffectivePayoutCriteria() CriteriaSet {
	if c.PayoutCriteria.Empty() {
		return c.TriggerCriteria
	}
	return c.PayoutCriteria
}

// FindTierRow returns the first row, across tiers in declaration order,
// whose band contains revenue.
func (c *Contract) FindTierRow(revenue decimal.Decimal) (TierRow, bool) {
	for _, t := range c.Tiers {
		for _, row := range t.Rows {
			if row.Contains(revenue) {
				return row, true
			}
		}
	}
	return TierRow{}, false
}
