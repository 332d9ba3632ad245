package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/opensource-finance/plb/internal/domain"
	"github.com/opensource-finance/plb/internal/formula"
	"github.com/opensource-finance/plb/internal/progress"
	"github.com/opensource-finance/plb/internal/ruleset"
)

// maxDocumentSize bounds uploaded ruleset documents.
const maxDocumentSize = 8 << 20

// RulesetSummary describes a loaded or stored ruleset.
type RulesetSummary struct {
	ID         string    `json:"rulesetId"`
	SourceName string    `json:"sourceName"`
	Contracts  int       `json:"contracts"`
	Stored     bool      `json:"stored"`
	UpdatedAt  time.Time `json:"updatedAt,omitempty"`
}

// ListRulesets handles GET /rulesets: the rulesets behind the loaded
// contracts plus stored rulesets not loaded yet.
func (h *Handler) ListRulesets(w http.ResponseWriter, r *http.Request) {
	byID := map[string]*RulesetSummary{}
	var order []string
	for _, c := range h.engine.Contracts() {
		s, ok := byID[c.RulesetID]
		if !ok {
			s = &RulesetSummary{ID: c.RulesetID, SourceName: c.SourceName}
			byID[c.RulesetID] = s
			order = append(order, c.RulesetID)
		}
		s.Contracts++
	}

	if h.repo != nil {
		stored, err := h.repo.ListRulesets(r.Context(), domain.GlobalTenant)
		if err != nil {
			writeRepoError(w, "rulesets", err)
			return
		}
		for _, st := range stored {
			s, ok := byID[st.ID]
			if !ok {
				s = &RulesetSummary{ID: st.ID, SourceName: st.SourceName}
				byID[st.ID] = s
				order = append(order, st.ID)
			}
			s.Stored = true
			s.UpdatedAt = st.UpdatedAt
		}
	}

	out := make([]*RulesetSummary, 0, len(order))
	for _, id := range order {
		out = append(out, byID[id])
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"rulesets":    out,
		"count":       len(out),
		"contractSet": h.engine.Version(),
	})
}

// ContractReport is the validation outcome of one parsed contract.
type ContractReport struct {
	ContractID string   `json:"contractId"`
	Valid      bool     `json:"valid"`
	Warnings   []string `json:"warnings"`
	Errors     []string `json:"errors"`
}

// CreateRuleset handles POST /rulesets. The body is a ruleset document; it
// is parsed, validated and stored globally. ?reload=true applies it
// immediately, otherwise call POST /rulesets/reload.
func (h *Handler) CreateRuleset(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "repository not available")
		return
	}

	data, err := io.ReadAll(io.LimitReader(r.Body, maxDocumentSize+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	if len(data) > maxDocumentSize {
		writeError(w, http.StatusRequestEntityTooLarge, "ruleset document too large")
		return
	}

	rs, err := ruleset.Parse(data, r.URL.Query().Get("name"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if rs.ID == "" || rs.ID == "." {
		writeError(w, http.StatusBadRequest, "ruleset_id or ?name= is required")
		return
	}

	var problems []string
	for _, e := range rs.Errors {
		problems = append(problems, e.Error())
	}
	reports := make([]ContractReport, 0, len(rs.Contracts))
	for _, c := range rs.Contracts {
		rep, err := h.engine.ValidateContract(c)
		if err != nil {
			problems = append(problems, err.Error())
			continue
		}
		reports = append(reports, ContractReport{
			ContractID: c.ContractID,
			Valid:      len(rep.Errors) == 0,
			Warnings:   rep.Warnings,
			Errors:     rep.Errors,
		})
	}
	if len(problems) > 0 {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":    "ruleset has invalid rules",
			"problems": problems,
		})
		return
	}

	stored := &domain.StoredRuleset{
		ID:         rs.ID,
		SourceName: rs.SourceName,
		Document:   json.RawMessage(data),
	}
	if err := h.repo.SaveRuleset(ctx, domain.GlobalTenant, stored); err != nil {
		slog.Error("failed to save ruleset", "ruleset_id", rs.ID, "error", err)
		writeRepoError(w, "ruleset", err)
		return
	}
	slog.Info("ruleset stored", "ruleset_id", rs.ID, "contracts", len(rs.Contracts))

	resp := map[string]any{
		"rulesetId": rs.ID,
		"contracts": reports,
		"message":   "Ruleset stored. Call POST /rulesets/reload to apply changes.",
	}
	if reload, _ := strconv.ParseBool(r.URL.Query().Get("reload")); reload {
		n, err := h.Reload(ctx)
		if err != nil {
			writeEvalError(w, err)
			return
		}
		resp["message"] = "Ruleset stored and applied."
		resp["contractsLoaded"] = n
	}
	writeJSON(w, http.StatusCreated, resp)
}

// DeleteRuleset handles DELETE /rulesets/{id}. The ruleset stays loaded
// until the next reload.
func (h *Handler) DeleteRuleset(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "repository not available")
		return
	}
	id := chi.URLParam(r, "id")
	if err := h.repo.DeleteRuleset(r.Context(), domain.GlobalTenant, id); err != nil {
		writeRepoError(w, "ruleset", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ReloadRulesets handles POST /rulesets/reload.
func (h *Handler) ReloadRulesets(w http.ResponseWriter, r *http.Request) {
	n, err := h.Reload(r.Context())
	if err != nil {
		writeEvalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message":     "rulesets reloaded successfully",
		"count":       n,
		"contractSet": h.engine.Version(),
	})
}

// Reload rebuilds the contract set from the ruleset directory and the
// stored rulesets. Documents or rules that fail to parse are logged and
// skipped. It returns the number of contracts loaded.
func (h *Handler) Reload(ctx context.Context) (int, error) {
	h.reloadMu.Lock()
	defer h.reloadMu.Unlock()

	sets, err := ruleset.Collect(ctx, h.cfg.RulesetDir, h.repo)
	if err != nil {
		if sets == nil {
			return 0, err
		}
		slog.Warn("some ruleset documents were skipped", "error", err)
	}
	for _, rs := range sets {
		for _, e := range rs.Errors {
			slog.Warn("rule skipped", "ruleset_id", rs.ID, "error", e)
		}
	}

	contracts := ruleset.Contracts(sets)
	if err := h.engine.Load(contracts); err != nil {
		return 0, err
	}
	slog.Info("rulesets reloaded", "rulesets", len(sets), "contracts", len(contracts))
	return len(contracts), nil
}

// ListContracts handles GET /contracts.
func (h *Handler) ListContracts(w http.ResponseWriter, r *http.Request) {
	contracts := h.engine.Contracts()
	if rs := r.URL.Query().Get("ruleset"); rs != "" {
		filtered := contracts[:0:0]
		for _, c := range contracts {
			if c.RulesetID == rs {
				filtered = append(filtered, c)
			}
		}
		contracts = filtered
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"contracts": contracts,
		"count":     len(contracts),
	})
}

// GetContract handles GET /contracts/{id}.
func (h *Handler) GetContract(w http.ResponseWriter, r *http.Request) {
	c, ok := h.engine.Contract(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "contract not found")
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// ValidateContract handles GET /contracts/{id}/validate.
func (h *Handler) ValidateContract(w http.ResponseWriter, r *http.Request) {
	c, ok := h.engine.Contract(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "contract not found")
		return
	}
	rep, err := h.engine.ValidateContract(c)
	if err != nil {
		writeJSON(w, http.StatusOK, ContractReport{
			ContractID: c.ContractID,
			Warnings:   []string{},
			Errors:     []string{err.Error()},
		})
		return
	}
	writeJSON(w, http.StatusOK, ContractReport{
		ContractID: c.ContractID,
		Valid:      rep.Valid,
		Warnings:   rep.Warnings,
		Errors:     rep.Errors,
	})
}

// ContractProgress handles GET /contracts/{id}/progress?period=. The
// period defaults to the current one.
func (h *Handler) ContractProgress(w http.ResponseWriter, r *http.Request) {
	if h.tracker == nil {
		writeError(w, http.StatusServiceUnavailable, "progress tracking not available")
		return
	}

	ctx := r.Context()
	id := chi.URLParam(r, "id")
	period := r.URL.Query().Get("period")
	if period == "" {
		now := time.Now().UTC()
		period = h.tracker.Period(domain.NewDate(now.Year(), now.Month(), now.Day()))
	}

	p, err := h.tracker.Progression(ctx, GetTenantID(ctx), id, period)
	switch {
	case errors.Is(err, progress.ErrUnknownContract):
		writeError(w, http.StatusNotFound, "contract not found")
		return
	case err != nil:
		slog.Error("failed to read progress", "contract_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to read progress")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"contractId":  id,
		"period":      period,
		"progression": p,
	})
}

// FormulaRequest is the body of the formula endpoints. Parameters come
// from Record (and ContractID, for contract-bound parameters) overlaid by
// Parameters.
type FormulaRequest struct {
	Formula    string                     `json:"formula"`
	ContractID string                     `json:"contractId,omitempty"`
	Record     *domain.Record             `json:"record,omitempty"`
	Parameters map[string]decimal.Decimal `json:"parameters,omitempty"`
}

func (h *Handler) formulaContext(req *FormulaRequest) (formula.Context, error) {
	ctx := formula.Context{}
	if req.Record != nil {
		c := &domain.Contract{}
		if req.ContractID != "" {
			found, ok := h.engine.Contract(req.ContractID)
			if !ok {
				return nil, errors.New("contract not found")
			}
			c = found
		}
		ctx = formula.BuildContext(req.Record, c)
	}
	for k, v := range req.Parameters {
		ctx[k] = v
	}
	return ctx, nil
}

func (h *Handler) decodeFormula(w http.ResponseWriter, r *http.Request) (*FormulaRequest, formula.Context, bool) {
	var req FormulaRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body: "+err.Error())
		return nil, nil, false
	}
	if req.Formula == "" {
		writeError(w, http.StatusBadRequest, "formula is required")
		return nil, nil, false
	}
	fctx, err := h.formulaContext(&req)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return nil, nil, false
	}
	return &req, fctx, true
}

// ValidateFormula handles POST /formulas/validate.
func (h *Handler) ValidateFormula(w http.ResponseWriter, r *http.Request) {
	req, fctx, ok := h.decodeFormula(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, formula.Validate(req.Formula, fctx))
}

// EvaluateFormula handles POST /formulas/evaluate.
func (h *Handler) EvaluateFormula(w http.ResponseWriter, r *http.Request) {
	req, fctx, ok := h.decodeFormula(w, r)
	if !ok {
		return
	}
	v, err := formula.EvaluateDetailed(req.Formula, fctx)
	if err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"formula": req.Formula,
			"error":   err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"formula": req.Formula,
		"value":   formula.Quantize(v),
	})
}
