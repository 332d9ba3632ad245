// Package progress accumulates payout revenue per contract and period and
// places it on the contract's tier ladder.
package progress

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/plb/internal/compute"
	"github.com/opensource-finance/plb/internal/domain"
)

// Revenue is stored as integer ten-thousandths, the precision of every
// quantized amount.
const unitsPerCurrency = 10000

var scale = decimal.NewFromInt(unitsPerCurrency)

// ErrUnknownContract is returned for progress queries on contracts that
// are not loaded.
var ErrUnknownContract = errors.New("unknown contract")

// Contracts looks up loaded contracts.
type Contracts interface {
	Contract(id string) (*domain.Contract, bool)
}

// Tracker records payout revenue into cache counters.
type Tracker struct {
	cache     domain.Cache
	contracts Contracts
	layout    string
	retention time.Duration
	logger    *slog.Logger
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithRetention expires a period's counter this long after its first
// increment. Zero keeps counters forever.
func WithRetention(d time.Duration) Option {
	return func(t *Tracker) { t.retention = d }
}

// WithLogger sets the tracker's logger.
func WithLogger(l *slog.Logger) Option {
	return func(t *Tracker) { t.logger = l }
}

// NewTracker creates a tracker. layout is the Go time layout naming a
// period; empty selects monthly periods ("2006-01").
func NewTracker(cache domain.Cache, contracts Contracts, layout string, opts ...Option) *Tracker {
	if layout == "" {
		layout = "2006-01"
	}
	t := &Tracker{cache: cache, contracts: contracts, layout: layout, logger: slog.Default()}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Period names the period a date falls in.
func (t *Tracker) Period(d domain.Date) string {
	return d.Format(t.layout)
}

func key(contractID, period string) string {
	return "progress:" + contractID + ":" + period
}

// Record adds the payout considered revenue of every payout-eligible,
// non-degraded analysis to its contract's counter. The period comes from
// the record date the contract's trigger type selects.
func (t *Tracker) Record(ctx context.Context, tenantID string, result *domain.ProcessingResult) error {
	if result == nil || result.Record == nil {
		return nil
	}
	var errs []error
	for _, a := range result.Analyses {
		if !a.PayoutEligible || a.Error != "" || a.PayoutRevenue.IsZero() {
			continue
		}
		date := result.Record.FlownDate
		if c, ok := t.contracts.Contract(a.ContractID); ok {
			date = result.Record.DateFor(c.Trigger.Type)
		}
		if date.IsZero() {
			t.logger.Warn("progress skipped, record has no date", "contract_id", a.ContractID, "record", result.RecordKey)
			continue
		}

		units := a.PayoutRevenue.Mul(scale).Round(0).IntPart()
		if _, err := t.cache.IncrementBy(ctx, tenantID, key(a.ContractID, t.Period(date)), units, t.retention); err != nil {
			errs = append(errs, fmt.Errorf("record progress for %s: %w", a.ContractID, err))
		}
	}
	return errors.Join(errs...)
}

// Accumulated returns the revenue recorded for a contract and period.
func (t *Tracker) Accumulated(ctx context.Context, tenantID, contractID, period string) (decimal.Decimal, error) {
	// Adding zero reads the counter without a separate code path.
	units, err := t.cache.IncrementBy(ctx, tenantID, key(contractID, period), 0, t.retention)
	if err != nil {
		return decimal.Zero, fmt.Errorf("read progress for %s: %w", contractID, err)
	}
	return decimal.NewFromInt(units).Div(scale), nil
}

// Progression places the accumulated revenue on the contract's tiers.
func (t *Tracker) Progression(ctx context.Context, tenantID, contractID, period string) (compute.Progression, error) {
	c, ok := t.contracts.Contract(contractID)
	if !ok {
		return compute.Progression{}, fmt.Errorf("%w: %s", ErrUnknownContract, contractID)
	}
	revenue, err := t.Accumulated(ctx, tenantID, contractID, period)
	if err != nil {
		return compute.Progression{}, err
	}
	return compute.TierProgression(revenue, c.Tiers), nil
}
