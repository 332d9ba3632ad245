// Package compute turns a record and a contract into trigger and payout
// values.
package compute

import (
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/plb/internal/domain"
	"github.com/opensource-finance/plb/internal/formula"
)

var hundred = decimal.NewFromInt(100)

var (
	operatorPattern    = regexp.MustCompile(`[=+\-*/()^]`)
	parameterPattern   = regexp.MustCompile(`\b(BASE|YQ|YR|XT|TOTAL|slab_percent|tier_percent)\b`)
	descriptivePattern = regexp.MustCompile(`(?i)\b(excluding|including|revenue|flown|commissions|refunds|taxes|nrf|ticketed|operated|on|program|incentive)\b`)
)

// IsMathematical reports whether a contract formula is an executable
// expression rather than prose describing the calculation.
func IsMathematical(f string) bool {
	if strings.TrimSpace(f) == "" {
		return false
	}
	return operatorPattern.MatchString(f) &&
		parameterPattern.MatchString(f) &&
		!descriptivePattern.MatchString(f)
}

// Explanation is a computed value with the inputs that produced it.
type Explanation struct {
	Value    decimal.Decimal
	Revenue  decimal.Decimal
	Formula  string
	Warnings []string
}

// Engine computes trigger and payout values. It is stateless.
type Engine struct {
	logger *slog.Logger
}

// New creates an Engine logging through logger, or slog.Default when nil.
func New(logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{logger: logger}
}

func checkInputs(op string, r *domain.Record, c *domain.Contract) error {
	if r == nil {
		return domain.NewComputationError(op, errors.New("record is nil"))
	}
	if c == nil {
		return domain.NewComputationError(op, errors.New("contract is nil"))
	}
	return nil
}

// ComputeTrigger returns the trigger value.
func (e *Engine) ComputeTrigger(r *domain.Record, c *domain.Contract) (decimal.Decimal, error) {
	x, err := e.ExplainTrigger(r, c)
	return x.Value, err
}

// ComputePayout returns the payout value.
func (e *Engine) ComputePayout(r *domain.Record, c *domain.Contract) (decimal.Decimal, error) {
	x, err := e.ExplainPayout(r, c)
	return x.Value, err
}

// ExplainTrigger computes the trigger value. A mathematical trigger formula
// is evaluated; otherwise the value is the considered revenue.
func (e *Engine) ExplainTrigger(r *domain.Record, c *domain.Contract) (Explanation, error) {
	if err := checkInputs("compute trigger", r, c); err != nil {
		return Explanation{}, err
	}
	x := Explanation{Formula: TriggerFormulaText(c)}
	x.Revenue = e.consideredRevenue(r, c, c.Trigger.Components, &x)

	value := x.Revenue
	if IsMathematical(c.Trigger.Formula) {
		value = e.evaluate(r, c, c.Trigger.Formula, &x)
	}
	x.Value = formula.Quantize(c.Trigger.Capping.Apply(value))
	return x, nil
}

// ExplainPayout computes the payout value from the formula when it is
// mathematical, else from the payout type.
func (e *Engine) ExplainPayout(r *domain.Record, c *domain.Contract) (Explanation, error) {
	if err := checkInputs("compute payout", r, c); err != nil {
		return Explanation{}, err
	}
	x := Explanation{Formula: PayoutFormulaText(c)}
	x.Revenue = e.consideredRevenue(r, c, c.Payout.Components, &x)

	var value decimal.Decimal
	switch {
	case IsMathematical(c.Payout.Formula):
		value = e.evaluate(r, c, c.Payout.Formula, &x)
	case c.Payout.Type == domain.PayoutPercentage:
		if c.Payout.Percentage == nil {
			x.warn(e.logger, c, "no payout percentage specified, payout is zero")
			break
		}
		value = x.Revenue.Mul(*c.Payout.Percentage).Div(hundred)
	case c.Payout.Type == domain.PayoutAmount:
		if c.Payout.FixedAmount == nil {
			x.warn(e.logger, c, "no fixed amount specified, payout is zero")
			break
		}
		value = *c.Payout.FixedAmount
	default:
		value = TierPayout(x.Revenue, c)
	}
	x.Value = formula.Quantize(c.Payout.Capping.Apply(value))
	return x, nil
}

// TierPayout applies the first tier row containing revenue. Revenue outside
// every row pays nothing.
func TierPayout(revenue decimal.Decimal, c *domain.Contract) decimal.Decimal {
	row, ok := c.FindTierRow(revenue)
	if !ok {
		return decimal.Zero
	}
	return rowPayout(revenue, row)
}

func rowPayout(revenue decimal.Decimal, row domain.TierRow) decimal.Decimal {
	if row.Unit == domain.UnitAmount {
		return row.Value
	}
	return revenue.Mul(row.Value).Div(hundred)
}

func (e *Engine) consideredRevenue(r *domain.Record, c *domain.Contract, components []string, x *Explanation) decimal.Decimal {
	revenue, unknown := r.ConsideredRevenue(components)
	for _, u := range unknown {
		x.warn(e.logger, c, fmt.Sprintf("unknown revenue component %q contributes zero", u))
	}
	return revenue
}

func (e *Engine) evaluate(r *domain.Record, c *domain.Contract, src string, x *Explanation) decimal.Decimal {
	v, err := formula.EvaluateDetailed(src, formula.BuildContext(r, c))
	if err != nil {
		x.warn(e.logger, c, fmt.Sprintf("formula evaluated to zero: %v", err))
		return decimal.Zero
	}
	return v
}

func (x *Explanation) warn(logger *slog.Logger, c *domain.Contract, msg string) {
	logger.Warn(msg, "contract_id", c.ContractID)
	x.Warnings = append(x.Warnings, msg)
}

// TriggerFormulaText is the formula shown for the trigger value.
func TriggerFormulaText(c *domain.Contract) string {
	if c.Trigger.Formula != "" {
		return c.Trigger.Formula
	}
	return fmt.Sprintf("Sum of %s components", strings.Join(c.Trigger.Components, ", "))
}

// PayoutFormulaText is the formula shown for the payout value.
func PayoutFormulaText(c *domain.Contract) string {
	if c.Payout.Formula != "" {
		return c.Payout.Formula
	}
	components := strings.Join(c.Payout.Components, ", ")
	switch c.Payout.Type {
	case domain.PayoutPercentage:
		pct := "0"
		if c.Payout.Percentage != nil {
			pct = c.Payout.Percentage.String()
		}
		return fmt.Sprintf("%s%% of %s", pct, components)
	case domain.PayoutTiered:
		return fmt.Sprintf("Tiered payout based on %s", components)
	}
	return fmt.Sprintf("Fixed amount based on %s", components)
}
