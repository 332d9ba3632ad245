// Package rules evaluates records against the loaded contract set.
package rules

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/opensource-finance/plb/internal/addon"
	"github.com/opensource-finance/plb/internal/compute"
	"github.com/opensource-finance/plb/internal/domain"
	"github.com/opensource-finance/plb/internal/eligibility"
	"github.com/opensource-finance/plb/internal/fieldmap"
)

var tracer = otel.Tracer("plb-rules")

// Observer receives evaluation events, typically for metrics.
type Observer interface {
	RecordEvaluated(d time.Duration, err error)
	ContractEvaluated(a *domain.ContractAnalysis)
}

// Engine holds the contract set and runs the evaluation pipeline.
type Engine struct {
	mu        sync.RWMutex
	contracts []*domain.Contract
	byID      map[string]*domain.Contract
	version   string

	cfg         domain.EngineConfig
	eligibility *eligibility.Engine
	compute     *compute.Engine
	addons      *addon.Processor
	observer    Observer
	logger      *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithObserver registers an Observer.
func WithObserver(o Observer) Option {
	return func(e *Engine) { e.observer = o }
}

// WithLogger sets the logger used by the engine and its stages.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// NewEngine creates an engine with no contracts. A nil mapper selects the
// built-in field mapping table.
func NewEngine(cfg domain.EngineConfig, mapper *fieldmap.Mapper, opts ...Option) (*Engine, error) {
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = 4
	}
	if cfg.MaxContractsPerRecord <= 0 {
		cfg.MaxContractsPerRecord = 100
	}

	e := &Engine{cfg: cfg, byID: map[string]*domain.Contract{}, logger: slog.Default()}
	for _, opt := range opts {
		opt(e)
	}

	processor, err := addon.NewProcessor(e.logger)
	if err != nil {
		return nil, err
	}
	e.addons = processor
	e.eligibility = eligibility.New(mapper, e.logger)
	e.compute = compute.New(e.logger)
	return e, nil
}

// ValidateContract checks a contract without loading it. Parameter
// findings are returned as a report; only structural problems are errors.
func (e *Engine) ValidateContract(c *domain.Contract) (compute.ParameterReport, error) {
	if c == nil {
		return compute.ParameterReport{}, domain.NewContractError("validate", errors.New("contract is required"))
	}
	if strings.TrimSpace(c.ContractID) == "" {
		return compute.ParameterReport{}, domain.NewContractError("validate", errors.New("contract id is required"))
	}
	if err := e.addons.ValidateContract(c); err != nil {
		return compute.ParameterReport{}, domain.NewContractError("validate "+c.ContractID, err)
	}
	return compute.ValidateParameters(c), nil
}

// Load validates and installs a contract set, replacing the current one.
// On error the current set is kept.
func (e *Engine) Load(contracts []*domain.Contract) error {
	byID := make(map[string]*domain.Contract, len(contracts))
	for _, c := range contracts {
		rep, err := e.ValidateContract(c)
		if err != nil {
			return err
		}
		for _, w := range rep.Warnings {
			e.logger.Warn("contract warning", "contract_id", c.ContractID, "warning", w)
		}
		for _, msg := range rep.Errors {
			e.logger.Warn("contract parameter error", "contract_id", c.ContractID, "error", msg)
		}
		if _, dup := byID[c.ContractID]; !dup {
			byID[c.ContractID] = c
		}
	}
	version, err := fingerprint(contracts)
	if err != nil {
		return domain.NewContractError("load", err)
	}

	snapshot := append([]*domain.Contract(nil), contracts...)
	e.mu.Lock()
	e.contracts = snapshot
	e.byID = byID
	e.version = version
	e.mu.Unlock()

	e.logger.Info("contracts loaded", "count", len(snapshot), "version", version)
	return nil
}

func fingerprint(contracts []*domain.Contract) (string, error) {
	b, err := json.Marshal(contracts)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:8]), nil
}

// Contracts returns the loaded contracts in load order.
func (e *Engine) Contracts() []*domain.Contract {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]*domain.Contract(nil), e.contracts...)
}

// Contract returns a loaded contract by id.
func (e *Engine) Contract(id string) (*domain.Contract, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	c, ok := e.byID[id]
	return c, ok
}

// ContractsCount returns the number of loaded contracts.
func (e *Engine) ContractsCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.contracts)
}

// Version identifies the loaded contract set. It changes whenever the
// content of the set changes.
func (e *Engine) Version() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.version
}

// Mapper returns the field mapping table in use.
func (e *Engine) Mapper() *fieldmap.Mapper { return e.eligibility.Mapper() }

func (e *Engine) snapshot() []*domain.Contract {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.contracts
}

// Evaluate runs every applicable contract against one record. Invalid
// records and an empty contract set are errors; a failure inside one
// contract degrades that contract's analysis only.
func (e *Engine) Evaluate(ctx context.Context, r *domain.Record) (*domain.ProcessingResult, error) {
	start := time.Now()
	res, err := e.evaluate(ctx, r, start)
	if e.observer != nil {
		e.observer.RecordEvaluated(time.Since(start), err)
	}
	return res, err
}

func (e *Engine) evaluate(ctx context.Context, r *domain.Record, start time.Time) (*domain.ProcessingResult, error) {
	if r == nil {
		return nil, domain.NewValidationError("evaluate", "record is required")
	}
	if e.cfg.EvaluationTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.EvaluationTimeout)
		defer cancel()
	}

	ctx, span := tracer.Start(ctx, "rules.Evaluate",
		trace.WithAttributes(
			attribute.String("record.key", r.Key()),
			attribute.String("record.airline", r.AirlineCode),
		),
	)
	defer span.End()

	if err := r.Validate(); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	contracts := e.snapshot()
	if len(contracts) == 0 {
		span.SetStatus(codes.Error, domain.ErrNoContracts.Error())
		return nil, domain.ErrNoContracts
	}

	applicable := make([]*domain.Contract, 0, len(contracts))
	for _, c := range contracts {
		if c.AllowsCarrier(r.AirlineCode) {
			applicable = append(applicable, c)
		}
	}
	if len(applicable) > e.cfg.MaxContractsPerRecord {
		e.logger.Warn("contract limit reached, remaining contracts skipped",
			"record", r.Key(),
			"applicable", len(applicable),
			"limit", e.cfg.MaxContractsPerRecord,
		)
		applicable = applicable[:e.cfg.MaxContractsPerRecord]
	}

	result := &domain.ProcessingResult{
		ID:                 uuid.New().String(),
		RecordKey:          r.Key(),
		Record:             r,
		AirlineEligibility: len(applicable) > 0,
		Analyses:           make([]domain.ContractAnalysis, 0, len(applicable)),
		EngineVersion:      domain.EngineVersion,
	}

	for _, c := range applicable {
		if err := ctx.Err(); err != nil {
			span.SetStatus(codes.Error, err.Error())
			return nil, fmt.Errorf("evaluate record %s: %w", r.Key(), err)
		}
		a, err := e.analyze(r, c)
		if err != nil {
			e.logger.Error("contract evaluation failed", "contract_id", c.ContractID, "record", r.Key(), "error", err)
			a = failedAnalysis(c, err)
		}
		if a.TriggerEligible {
			result.EligibleContracts++
		}
		if e.observer != nil {
			e.observer.ContractEvaluated(&a)
		}
		result.Analyses = append(result.Analyses, a)
	}

	result.TotalContractsProcessed = len(result.Analyses)
	result.ProcessedAt = time.Now().UTC()
	result.ProcessingTimeMs = time.Since(start).Milliseconds()
	span.SetAttributes(
		attribute.Int("contracts.processed", result.TotalContractsProcessed),
		attribute.Int("contracts.eligible", result.EligibleContracts),
	)
	return result, nil
}

// Analyze evaluates one record against one contract.
func (e *Engine) Analyze(r *domain.Record, c *domain.Contract) (domain.ContractAnalysis, error) {
	return e.analyze(r, c)
}

func (e *Engine) analyze(r *domain.Record, c *domain.Contract) (a domain.ContractAnalysis, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = domain.NewContractError("analyze "+c.ContractID, fmt.Errorf("panic: %v", p))
		}
	}()

	phases, err := e.eligibility.Evaluate(r, c)
	if err != nil {
		return domain.ContractAnalysis{}, err
	}
	trig, err := e.compute.ExplainTrigger(r, c)
	if err != nil {
		return domain.ContractAnalysis{}, err
	}
	pay, err := e.compute.ExplainPayout(r, c)
	if err != nil {
		return domain.ContractAnalysis{}, err
	}

	a = newAnalysis(c)
	a.SectorEligible = phases.Sector.Eligible
	a.SectorReason = "All sector criteria met"
	if !phases.Sector.Eligible {
		a.SectorReason = strings.Join(phases.Sector.Reasons, "; ")
	}
	a.TriggerEligible = phases.Trigger.Eligible
	a.TriggerReason = strings.Join(phases.Trigger.Reasons, "; ")
	a.PayoutEligible = phases.Payout.Eligible
	a.PayoutReason = strings.Join(phases.Payout.Reasons, "; ")

	a.TriggerValue = trig.Value
	a.TriggerFormula = trig.Formula
	a.TriggerRevenue = trig.Revenue
	a.PayoutValue = pay.Value
	a.PayoutFormula = pay.Formula
	a.PayoutRevenue = pay.Revenue

	e.addons.Process(r, c, a.TriggerEligible, a.PayoutEligible).Apply(&a)
	return a, nil
}

func newAnalysis(c *domain.Contract) domain.ContractAnalysis {
	return domain.ContractAnalysis{
		DocumentID:   c.DocumentID,
		DocumentName: c.DocumentName,
		RulesetID:    c.RulesetID,
		SourceName:   c.SourceName,
		ContractID:   c.ContractID,
		ContractName: c.ContractName,
		RuleID:       c.RuleID,
		StartDate:    c.StartDate,
		EndDate:      c.EndDate,
		Currency:     c.Currency,
		CreatedDate:  c.CreatedDate,
		UpdatedDate:  c.UpdatedDate,
	}
}

func failedAnalysis(c *domain.Contract, err error) domain.ContractAnalysis {
	a := newAnalysis(c)
	reason := fmt.Sprintf("Processing error: %v", err)
	a.SectorReason = reason
	a.TriggerReason = reason
	a.PayoutReason = reason
	a.TriggerFormula = "Error in processing"
	a.PayoutFormula = "Error in processing"
	a.TriggerValue = decimal.Zero
	a.PayoutValue = decimal.Zero
	a.Error = err.Error()
	return a
}

// BatchItem is the outcome for one record of a batch.
type BatchItem struct {
	Index  int                      `json:"index"`
	Result *domain.ProcessingResult `json:"result,omitempty"`
	Err    error                    `json:"-"`
	Error  string                   `json:"error,omitempty"`
}

// EvaluateBatch evaluates records concurrently with at most MaxWorkers in
// flight. Items keep input order; a failing record does not stop the
// batch.
func (e *Engine) EvaluateBatch(ctx context.Context, records []*domain.Record) []BatchItem {
	items := make([]BatchItem, len(records))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.MaxWorkers)
	for i, r := range records {
		g.Go(func() error {
			res, err := e.Evaluate(gctx, r)
			items[i] = BatchItem{Index: i, Result: res, Err: err}
			if err != nil {
				items[i].Error = err.Error()
			}
			return nil
		})
	}
	_ = g.Wait()
	return items
}
