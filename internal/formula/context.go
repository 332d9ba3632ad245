package formula

import (
	"github.com/shopspring/decimal"

	"github.com/opensource-finance/plb/internal/domain"
)

var hundred = decimal.NewFromInt(100)

// BuildContext binds the parameters a contract formula may reference.
func BuildContext(r *domain.Record, c *domain.Contract) Context {
	ctx := Context{
		domain.ComponentBase:  r.Base,
		domain.ComponentYQ:    r.YQ,
		domain.ComponentYR:    r.YR,
		domain.ComponentXT:    r.XT,
		domain.ComponentTotal: r.Total,
	}

	if pct, ok := slabPercent(r, c); ok {
		ctx["slab_percent"] = pct
		ctx["tier_percent"] = pct
	}
	if c.Payout.Capping != nil && c.Payout.Capping.Enabled {
		ctx["cap_value"] = c.Payout.Capping.Value
	}
	if c.BLPValue != nil {
		ctx["blp_value"] = *c.BLPValue
	}
	return ctx
}

// slabPercent is the payout rate, as a fraction, of the tier row matching
// the considered payout revenue. Contracts without tiers use their flat
// percentage.
func slabPercent(r *domain.Record, c *domain.Contract) (decimal.Decimal, bool) {
	if len(c.Tiers) == 0 {
		if c.Payout.Percentage == nil {
			return decimal.Zero, false
		}
		return c.Payout.Percentage.Div(hundred), true
	}
	revenue, _ := r.ConsideredRevenue(c.Payout.Components)
	row, ok := c.FindTierRow(revenue)
	if !ok || row.Unit != domain.UnitPercent {
		return decimal.Zero, true
	}
	return row.Value.Div(hundred), true
}
