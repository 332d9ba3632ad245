// Package worker evaluates records published on the event bus.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/opensource-finance/plb/internal/domain"
	"github.com/opensource-finance/plb/internal/progress"
	"github.com/opensource-finance/plb/internal/rules"
)

// Worker consumes ingested records from the EventBus, evaluates them and
// publishes the results.
type Worker struct {
	bus     domain.EventBus
	repo    domain.Repository
	engine  *rules.Engine
	tracker *progress.Tracker
	logger  *slog.Logger

	mu            sync.Mutex
	subscriptions []domain.Subscription
	ctx           context.Context
	cancel        context.CancelFunc
}

// Config holds worker configuration.
type Config struct {
	// TenantIDs is the list of tenants to process. Empty subscribes to all
	// tenants through domain.GlobalTenant.
	TenantIDs []string
}

// Option configures a Worker.
type Option func(*Worker)

// WithRepository persists every result.
func WithRepository(repo domain.Repository) Option {
	return func(w *Worker) { w.repo = repo }
}

// WithProgress accumulates payout revenue per contract period.
func WithProgress(t *progress.Tracker) Option {
	return func(w *Worker) { w.tracker = t }
}

// WithLogger sets the worker logger.
func WithLogger(l *slog.Logger) Option {
	return func(w *Worker) { w.logger = l }
}

// NewWorker creates a new async worker.
func NewWorker(bus domain.EventBus, engine *rules.Engine, opts ...Option) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	w := &Worker{
		bus:    bus,
		engine: engine,
		logger: slog.Default(),
		ctx:    ctx,
		cancel: cancel,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start begins processing messages for the given tenants.
func (w *Worker) Start(cfg Config) error {
	if len(cfg.TenantIDs) == 0 {
		if err := w.subscribe(domain.GlobalTenant); err != nil {
			return err
		}
		w.logger.Info("global worker started", "topic", domain.TopicRecordIngested)
		return nil
	}

	for _, tenantID := range cfg.TenantIDs {
		if err := w.subscribe(tenantID); err != nil {
			w.logger.Error("failed to start worker for tenant",
				"tenant_id", tenantID,
				"error", err,
			)
			continue
		}
	}

	w.logger.Info("workers started",
		"tenant_count", len(cfg.TenantIDs),
	)
	return nil
}

func (w *Worker) subscribe(tenantID string) error {
	sub, err := w.bus.Subscribe(w.ctx, tenantID, domain.TopicRecordIngested, w.handleMessage)
	if err != nil {
		return err
	}
	w.mu.Lock()
	w.subscriptions = append(w.subscriptions, sub)
	w.mu.Unlock()
	return nil
}

func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	var in domain.RecordMessage
	if err := json.Unmarshal(msg.Payload, &in); err != nil {
		w.logger.Error("failed to parse record message",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	tenantID := msg.TenantID
	if in.TenantID != "" {
		tenantID = in.TenantID
	}
	traceID := in.TraceID
	if traceID == "" {
		traceID = msg.ID
	}

	_, err := w.Process(ctx, tenantID, traceID, &in.Record)
	return err
}

// Process evaluates one record, then persists, tracks and publishes the
// result. Persistence, progress and publish failures are logged and do not
// fail the evaluation.
func (w *Worker) Process(ctx context.Context, tenantID, traceID string, record *domain.Record) (*domain.ProcessingResult, error) {
	start := time.Now()

	w.logger.Debug("processing record",
		"record", record.Key(),
		"tenant_id", tenantID,
		"trace_id", traceID,
	)

	result, err := w.engine.Evaluate(ctx, record)
	if err != nil {
		w.logger.Error("record evaluation failed",
			"record", record.Key(),
			"tenant_id", tenantID,
			"error", err,
		)
		return nil, fmt.Errorf("evaluate %s: %w", record.Key(), err)
	}

	if w.repo != nil {
		if err := w.repo.SaveResult(ctx, tenantID, result); err != nil {
			w.logger.Error("failed to save result",
				"result_id", result.ID,
				"error", err,
			)
		}
	}

	if w.tracker != nil {
		if err := w.tracker.Record(ctx, tenantID, result); err != nil {
			w.logger.Warn("failed to record progress",
				"result_id", result.ID,
				"error", err,
			)
		}
	}

	payload, err := json.Marshal(domain.ResultMessage{TenantID: tenantID, TraceID: traceID, Result: result})
	if err != nil {
		return result, fmt.Errorf("encode result: %w", err)
	}
	if err := w.bus.Publish(ctx, tenantID, domain.TopicResultComputed, payload); err != nil {
		w.logger.Error("failed to publish result",
			"result_id", result.ID,
			"error", err,
		)
	}
	if result.AnyPayoutEligible() {
		if err := w.bus.Publish(ctx, tenantID, domain.TopicResultEligible, payload); err != nil {
			w.logger.Error("failed to publish eligible result",
				"result_id", result.ID,
				"error", err,
			)
		}
	}

	w.logger.Info("record processed",
		"record", result.RecordKey,
		"tenant_id", tenantID,
		"eligible_contracts", result.EligibleContracts,
		"total_payout", result.TotalPayout().String(),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return result, nil
}

// Stop unsubscribes every handler.
func (w *Worker) Stop() error {
	w.cancel()

	w.mu.Lock()
	defer w.mu.Unlock()
	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			w.logger.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	w.logger.Info("workers stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()

	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
	}
}
