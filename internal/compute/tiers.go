package compute

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/plb/internal/domain"
)

// TierStatus is one tier row seen from a revenue level.
type TierStatus struct {
	Tier      string           `json:"tier,omitempty"`
	Index     int              `json:"tierIndex"`
	Min       decimal.Decimal  `json:"minRevenue"`
	Max       *decimal.Decimal `json:"maxRevenue,omitempty"`
	Value     decimal.Decimal  `json:"payoutValue"`
	Unit      domain.TierUnit  `json:"payoutUnit"`
	IsCurrent bool             `json:"isCurrent"`
	IsNext    bool             `json:"isNext"`
}

// BreakdownRow is the payout of a row the revenue falls in.
type BreakdownRow struct {
	Tier         int             `json:"tier"`
	RevenueUsed  decimal.Decimal `json:"revenueUsed"`
	PayoutRate   decimal.Decimal `json:"payoutRate"`
	PayoutAmount decimal.Decimal `json:"payoutAmount"`
}

// Progression places a revenue level on a contract's tier ladder.
type Progression struct {
	CurrentRevenue decimal.Decimal `json:"currentRevenue"`
	CurrentTier    *TierStatus     `json:"currentTier"`
	NextTier       *TierStatus     `json:"nextTier"`
	Tiers          []TierStatus    `json:"tierProgression"`
	Breakdown      []BreakdownRow  `json:"payoutBreakdown"`
}

// TierProgression reports the current and next tier rows for revenue. When
// several rows qualify the last one seen wins.
func TierProgression(revenue decimal.Decimal, tiers []domain.Tier) Progression {
	p := Progression{
		CurrentRevenue: revenue,
		Tiers:          []TierStatus{},
		Breakdown:      []BreakdownRow{},
	}
	for _, t := range tiers {
		for i, row := range t.Rows {
			s := TierStatus{
				Tier:      t.Label,
				Index:     i,
				Min:       row.Min,
				Max:       row.Max,
				Value:     row.Value,
				Unit:      row.Unit,
				IsCurrent: row.Contains(revenue),
			}
			if revenue.LessThan(row.Min) {
				s.IsNext = i == 0 || belowRevenue(t.Rows[i-1].Max, revenue)
			}
			p.Tiers = append(p.Tiers, s)

			if s.IsCurrent {
				current := s
				p.CurrentTier = &current
				p.Breakdown = append(p.Breakdown, BreakdownRow{
					Tier:         i,
					RevenueUsed:  revenue,
					PayoutRate:   row.Value,
					PayoutAmount: rowPayout(revenue, row),
				})
			}
			if s.IsNext {
				next := s
				p.NextTier = &next
			}
		}
	}
	return p
}

// belowRevenue reports max < revenue; an open max is never below.
func belowRevenue(hi *decimal.Decimal, revenue decimal.Decimal) bool {
	return hi != nil && hi.LessThan(revenue)
}

var gapTolerance = decimal.RequireFromString("0.01")

// ValidateTiers returns warnings for empty tiers and for overlapping or
// gapped adjacent rows.
func ValidateTiers(tiers []domain.Tier) []string {
	var warnings []string
	for _, t := range tiers {
		if len(t.Rows) == 0 {
			label := t.Label
			if label == "" {
				label = "Unknown"
			}
			warnings = append(warnings, fmt.Sprintf("Tier %s has no rows", label))
			continue
		}
		for i := 0; i+1 < len(t.Rows); i++ {
			cur, next := t.Rows[i], t.Rows[i+1]
			if cur.Max == nil {
				warnings = append(warnings, fmt.Sprintf("Overlapping tiers: tier %d max unbounded >= tier %d min %s", i, i+1, next.Min))
				continue
			}
			if cur.Max.GreaterThanOrEqual(next.Min) {
				warnings = append(warnings, fmt.Sprintf("Overlapping tiers: tier %d max %s >= tier %d min %s", i, cur.Max, i+1, next.Min))
			}
			if cur.Max.Add(gapTolerance).LessThan(next.Min) {
				warnings = append(warnings, fmt.Sprintf("Gap in tiers: tier %d max %s < tier %d min %s", i, cur.Max, i+1, next.Min))
			}
		}
	}
	return warnings
}

// ParameterReport is the outcome of ValidateParameters.
type ParameterReport struct {
	Valid    bool     `json:"valid"`
	Warnings []string `json:"warnings"`
	Errors   []string `json:"errors"`
}

// ValidateParameters checks that a contract carries what its payout type
// needs. Findings never block evaluation.
func ValidateParameters(c *domain.Contract) ParameterReport {
	rep := ParameterReport{Warnings: []string{}, Errors: []string{}}
	if len(c.Trigger.Components) == 0 {
		rep.Errors = append(rep.Errors, "No trigger components specified")
	}
	if len(c.Payout.Components) == 0 {
		rep.Errors = append(rep.Errors, "No payout components specified")
	}
	if c.Payout.Type == domain.PayoutPercentage && (c.Payout.Percentage == nil || c.Payout.Percentage.IsZero()) {
		rep.Warnings = append(rep.Warnings, "No payout percentage specified for percentage-based contract")
	}
	if c.Payout.Type == domain.PayoutTiered && len(c.Tiers) == 0 {
		rep.Errors = append(rep.Errors, "No tiers specified for tiered contract")
	}
	rep.Warnings = append(rep.Warnings, ValidateTiers(c.Tiers)...)
	rep.Valid = len(rep.Errors) == 0
	return rep
}
