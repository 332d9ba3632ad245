package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"

	"github.com/opensource-finance/plb/internal/cache"
	"github.com/opensource-finance/plb/internal/domain"
	"github.com/opensource-finance/plb/internal/metrics"
	"github.com/opensource-finance/plb/internal/progress"
	"github.com/opensource-finance/plb/internal/report"
	"github.com/opensource-finance/plb/internal/repository"
	"github.com/opensource-finance/plb/internal/rules"
)

// MaxBatchSize bounds the records accepted by POST /evaluate/batch.
const MaxBatchSize = 10000

// Deps are the collaborators of a Handler. Only Engine is required.
type Deps struct {
	Engine  *rules.Engine
	Repo    domain.Repository
	Cache   domain.Cache
	Bus     domain.EventBus
	Tracker *progress.Tracker
	Metrics *metrics.Metrics
	Config  domain.EngineConfig
	Version string
}

// Handler holds dependencies for API handlers.
type Handler struct {
	repo    domain.Repository
	cache   domain.Cache
	bus     domain.EventBus
	engine  *rules.Engine
	tracker *progress.Tracker
	metrics *metrics.Metrics
	cfg     domain.EngineConfig
	version string

	reloadMu sync.Mutex
}

// NewHandler creates a new API handler.
func NewHandler(d Deps) *Handler {
	return &Handler{
		repo:    d.Repo,
		cache:   d.Cache,
		bus:     d.Bus,
		engine:  d.Engine,
		tracker: d.Tracker,
		metrics: d.Metrics,
		cfg:     d.Config,
		version: d.Version,
	}
}

// Evaluate handles POST /evaluate. The body is one record.
func (h *Handler) Evaluate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var rec domain.Record
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body: "+err.Error())
		return
	}

	key, cached := h.cachedResult(ctx, tenantID, &rec)
	if cached != nil {
		w.Header().Set(CacheHeader, "HIT")
		writeJSON(w, http.StatusOK, cached)
		return
	}

	result, err := h.engine.Evaluate(ctx, &rec)
	if err != nil {
		writeEvalError(w, err)
		return
	}

	if key != "" {
		if err := h.cache.SetResult(ctx, tenantID, key, result, h.cfg.ResultCacheTTL); err != nil {
			slog.Warn("failed to cache result", "result_id", result.ID, "error", err)
		}
		w.Header().Set(CacheHeader, "MISS")
	}
	h.complete(ctx, tenantID, result, true)

	writeJSON(w, http.StatusOK, result)
}

// cachedResult looks the record up in the result cache. It returns the
// cache key to store under, empty when caching is off.
func (h *Handler) cachedResult(ctx context.Context, tenantID string, rec *domain.Record) (string, *domain.ProcessingResult) {
	if h.cache == nil || h.cfg.ResultCacheTTL <= 0 {
		return "", nil
	}
	key, err := cache.ResultKey(rec, h.engine.Version())
	if err != nil {
		slog.Warn("failed to build result cache key", "record", rec.Key(), "error", err)
		return "", nil
	}
	res, err := h.cache.GetResult(ctx, tenantID, key)
	if err != nil {
		slog.Warn("result cache lookup failed", "record", rec.Key(), "error", err)
	}
	if h.metrics != nil {
		h.metrics.CacheLookup(res != nil)
	}
	return key, res
}

// complete records progress, persists the result and, when publish is
// set, announces it on the bus. Failures are logged only.
func (h *Handler) complete(ctx context.Context, tenantID string, result *domain.ProcessingResult, publish bool) {
	if h.tracker != nil {
		if err := h.tracker.Record(ctx, tenantID, result); err != nil {
			slog.Warn("failed to record progress", "result_id", result.ID, "error", err)
		}
	}
	if h.repo != nil {
		if err := h.repo.SaveResult(ctx, tenantID, result); err != nil {
			slog.Error("failed to save result", "result_id", result.ID, "error", err)
		}
	}
	if !publish || h.bus == nil {
		return
	}

	payload, err := json.Marshal(domain.ResultMessage{TenantID: tenantID, TraceID: GetTraceID(ctx), Result: result})
	if err != nil {
		slog.Error("failed to encode result message", "result_id", result.ID, "error", err)
		return
	}
	if err := h.bus.Publish(ctx, tenantID, domain.TopicResultComputed, payload); err != nil {
		slog.Error("failed to publish result", "result_id", result.ID, "error", err)
	}
	if result.AnyPayoutEligible() {
		if err := h.bus.Publish(ctx, tenantID, domain.TopicResultEligible, payload); err != nil {
			slog.Error("failed to publish eligible result", "result_id", result.ID, "error", err)
		}
	}
}

// BatchRequest is the body of POST /evaluate/batch.
type BatchRequest struct {
	Records []*domain.Record `json:"records"`
}

// BatchResponse carries per-record outcomes in input order and the
// aggregate summary.
type BatchResponse struct {
	Results []rules.BatchItem `json:"results"`
	Summary *report.Summary   `json:"summary"`
}

// EvaluateBatch handles POST /evaluate/batch. Results are persisted and
// tracked like single evaluations but not published.
func (h *Handler) EvaluateBatch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var req BatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body: "+err.Error())
		return
	}
	if len(req.Records) == 0 {
		writeError(w, http.StatusBadRequest, "records are required")
		return
	}
	if len(req.Records) > MaxBatchSize {
		writeError(w, http.StatusRequestEntityTooLarge, "too many records in batch")
		return
	}
	if h.engine.ContractsCount() == 0 {
		writeEvalError(w, domain.ErrNoContracts)
		return
	}

	items := h.engine.EvaluateBatch(ctx, req.Records)
	agg := report.NewAggregator(h.cfg.OutputPrecision)
	for _, it := range items {
		if it.Result == nil {
			agg.AddFailure()
			continue
		}
		agg.Add(it.Result)
		h.complete(ctx, tenantID, it.Result, false)
	}

	writeJSON(w, http.StatusOK, BatchResponse{Results: items, Summary: agg.Summary()})
}

// GetResult handles GET /results/{id}.
func (h *Handler) GetResult(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "repository not available")
		return
	}

	ctx := r.Context()
	id := chi.URLParam(r, "id")
	result, err := h.repo.GetResult(ctx, GetTenantID(ctx), id)
	if err != nil {
		writeRepoError(w, "result", err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// ListResults handles GET /results?ticket=.
func (h *Handler) ListResults(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "repository not available")
		return
	}

	ticket := r.URL.Query().Get("ticket")
	if ticket == "" {
		writeError(w, http.StatusBadRequest, "ticket query parameter is required")
		return
	}

	ctx := r.Context()
	summaries, err := h.repo.ListResultsByTicket(ctx, GetTenantID(ctx), ticket)
	if err != nil {
		writeRepoError(w, "results", err)
		return
	}
	if summaries == nil {
		summaries = []*domain.ResultSummary{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"results": summaries,
		"count":   len(summaries),
	})
}

// Health reports dependency health. It always answers 200; degraded
// dependencies show in the body.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	status := "healthy"
	checks := map[string]string{}

	check := func(name string, ping func(context.Context) error) {
		if err := ping(ctx); err != nil {
			status = "degraded"
			checks[name] = err.Error()
			return
		}
		checks[name] = "ok"
	}
	if h.repo != nil {
		check("repository", h.repo.Ping)
	}
	if h.cache != nil {
		check("cache", h.cache.Ping)
	}
	if h.bus != nil {
		check("eventBus", h.bus.Ping)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":          status,
		"version":         h.version,
		"engineVersion":   domain.EngineVersion,
		"contractSet":     h.engine.Version(),
		"contractsLoaded": h.engine.ContractsCount(),
		"checks":          checks,
	})
}

// Ready reports whether contracts are loaded.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.engine.ContractsCount() == 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"ready":  false,
			"reason": "no contracts loaded",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ready":     true,
		"contracts": h.engine.ContractsCount(),
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeEvalError maps engine errors to status codes.
func writeEvalError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrContract):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, domain.ErrNoContracts):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, "evaluation timed out")
	case errors.Is(err, context.Canceled):
		writeError(w, http.StatusRequestTimeout, "evaluation canceled")
	default:
		slog.Error("evaluation failed", "error", err)
		writeError(w, http.StatusInternalServerError, "evaluation failed")
	}
}

func writeRepoError(w http.ResponseWriter, what string, err error) {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		writeError(w, http.StatusNotFound, what+" not found")
	case errors.Is(err, repository.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		slog.Error("repository error", "what", what, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load "+what)
	}
}
