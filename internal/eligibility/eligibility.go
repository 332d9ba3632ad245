// Package eligibility decides whether a record qualifies for a contract in
// three phases: Sector, Trigger and Payout.
package eligibility

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/opensource-finance/plb/internal/domain"
	"github.com/opensource-finance/plb/internal/fieldmap"
)

// Phase reasons.
const (
	ReasonTriggerSkipped = "Sector not eligible - trigger skipped"
	ReasonPayoutSkipped  = "Sector not eligible - payout skipped"
	ReasonTriggerMet     = "All trigger criteria met"
	ReasonPayoutMet      = "All payout criteria met"
)

// Result holds the outcome of every phase.
type Result struct {
	Sector  domain.PhaseResult `json:"sector"`
	Trigger domain.PhaseResult `json:"trigger"`
	Payout  domain.PhaseResult `json:"payout"`
}

// Engine evaluates contract criteria against records through a field
// mapping table. It is safe for concurrent use.
type Engine struct {
	mapper *fieldmap.Mapper
	logger *slog.Logger
}

// New creates an Engine. A nil mapper selects the built-in table.
func New(mapper *fieldmap.Mapper, logger *slog.Logger) *Engine {
	if mapper == nil {
		mapper = fieldmap.Default()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{mapper: mapper, logger: logger}
}

// Mapper returns the mapping table in use.
func (e *Engine) Mapper() *fieldmap.Mapper { return e.mapper }

// Evaluate runs all three phases. Trigger and Payout run only when Sector
// passes and are independent of each other.
func (e *Engine) Evaluate(r *domain.Record, c *domain.Contract) (Result, error) {
	if r == nil || c == nil {
		return Result{}, domain.NewEligibilityError("evaluate", errors.New("record and contract are required"))
	}
	var res Result
	res.Sector = e.Sector(r, c)
	res.Trigger = e.Trigger(r, c, res.Sector.Eligible)
	res.Payout = e.Payout(r, c, res.Sector.Eligible)
	return res, nil
}

// Sector applies the airline gate, the contract window, the IATA list and
// the trigger criteria in sector groups.
func (e *Engine) Sector(r *domain.Record, c *domain.Contract) domain.PhaseResult {
	if !c.AllowsCarrier(r.AirlineCode) {
		return domain.PhaseResult{Reasons: []string{airlineMismatch(r, c)}}
	}

	var reasons []string
	date := r.DateFor(c.Trigger.Type)
	if date.IsZero() || !date.Within(c.StartDate, c.EndDate) {
		reasons = append(reasons, fmt.Sprintf("Date not in contract window: %s outside %s to %s",
			date, c.StartDate, c.EndDate))
	}

	if len(c.IATACodes) > 0 {
		iata := domain.FieldCriteria{
			Field: domain.FieldIATA,
			Label: string(domain.FieldIATA),
			In:    c.IATACodes,
		}
		if ok, reason := e.CheckField(r, iata); !ok {
			reasons = append(reasons, reason)
		}
	}

	for _, fc := range c.TriggerCriteria.Fields {
		if !domain.IsSectorGroup(e.mapper.Group(fc.Field)) {
			continue
		}
		if ok, reason := e.CheckField(r, fc); !ok {
			reasons = append(reasons, reason)
		}
	}
	return domain.PhaseResult{Eligible: len(reasons) == 0, Reasons: reasons}
}

func airlineMismatch(r *domain.Record, c *domain.Contract) string {
	seen := make(map[string]struct{}, len(c.AirlineCodes))
	codes := make([]string, 0, len(c.AirlineCodes))
	for _, a := range c.AirlineCodes {
		a = strings.ToUpper(strings.TrimSpace(a))
		if _, dup := seen[a]; a == "" || dup {
			continue
		}
		seen[a] = struct{}{}
		codes = append(codes, a)
	}
	sort.Strings(codes)
	return fmt.Sprintf("Sector airline mismatch: coupon sector airline '%s' does not match contract airline codes [%s]",
		strings.ToUpper(strings.TrimSpace(r.AirlineCode)), strings.Join(codes, ", "))
}

// Trigger checks the trigger criteria outside the sector groups.
func (e *Engine) Trigger(r *domain.Record, c *domain.Contract, sectorEligible bool) domain.PhaseResult {
	if !sectorEligible {
		return domain.PhaseResult{Reasons: []string{ReasonTriggerSkipped}}
	}
	var reasons []string
	for _, fc := range c.TriggerCriteria.Fields {
		if domain.IsSectorGroup(e.mapper.Group(fc.Field)) {
			continue
		}
		if ok, reason := e.CheckField(r, fc); !ok {
			reasons = append(reasons, reason)
		}
	}
	return phase(reasons, ReasonTriggerMet)
}

// Payout checks every field of the payout criteria, falling back to the
// trigger criteria when the contract declares no payout constraint.
func (e *Engine) Payout(r *domain.Record, c *domain.Contract, sectorEligible bool) domain.PhaseResult {
	if !sectorEligible {
		return domain.PhaseResult{Reasons: []string{ReasonPayoutSkipped}}
	}
	var reasons []string
	for _, fc := range c.EffectivePayoutCriteria().Fields {
		if ok, reason := e.CheckField(r, fc); !ok {
			reasons = append(reasons, reason)
		}
	}
	return phase(reasons, ReasonPayoutMet)
}

func phase(reasons []string, met string) domain.PhaseResult {
	if len(reasons) == 0 {
		return domain.PhaseResult{Eligible: true, Reasons: []string{met}}
	}
	return domain.PhaseResult{Reasons: reasons}
}

// SkipMissingMapping is the policy for criteria on a field the mapping
// table does not define: the check passes.
func SkipMissingMapping(logger *slog.Logger, fc domain.FieldCriteria) (bool, string) {
	logger.Debug("no mapping for criteria field, skipping", "field", fc.Label)
	return true, ""
}

// CheckField evaluates one field's IN/OUT constraints. The reason is empty
// when the check passes.
func (e *Engine) CheckField(r *domain.Record, fc domain.FieldCriteria) (bool, string) {
	label := fc.Label
	if label == "" {
		label = string(fc.Field)
	}
	// Fails closed even for unmapped or ignored fields.
	if fc.Conflicting() {
		e.logger.Warn("criteria field has both IN and OUT values", "field", label)
		return false, fmt.Sprintf("%s has both IN and OUT criteria (invalid configuration)", label)
	}

	mp, ok := e.mapper.Mapping(fc.Field)
	if !ok {
		return SkipMissingMapping(e.logger, fc)
	}
	if mp.IgnoreCriteria {
		return true, ""
	}

	in := e.mapper.NormalizeRuleValues(fc.Field, fc.In)
	out := e.mapper.NormalizeRuleValues(fc.Field, fc.Out)

	value, _ := e.mapper.Resolve(r, fc.Field)
	if value.HasUnknown() {
		return true, ""
	}
	if value.IsNull() {
		if mp.NullHandling == domain.NullStrictFail {
			return false, fmt.Sprintf("%s is null or unknown", label)
		}
		return true, ""
	}

	switch mp.DataType {
	case domain.TypeBoolean:
		return checkBoolean(label, value, in, out)
	case domain.TypeDate:
		if acceptsAll(fc.In) {
			return true, ""
		}
		inRanges, err := withDayRanges(fc.InRanges, fc.In)
		if err != nil {
			return false, fmt.Sprintf("%s IN criteria: %v", label, err)
		}
		outRanges, err := withDayRanges(fc.OutRanges, fc.Out)
		if err != nil {
			return false, fmt.Sprintf("%s OUT criteria: %v", label, err)
		}
		return checkDate(label, value, inRanges, outRanges)
	}
	return checkList(label, value, in, out, mp.MatchMode)
}

func truthy(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "1", "yes", "y":
		return true
	}
	return false
}

func checkBoolean(label string, value fieldmap.Value, in, out []string) (bool, string) {
	got := truthy(value.Items[0])
	if len(in) > 0 {
		if want := truthy(in[0]); got != want {
			return false, fmt.Sprintf("%s %t != %t", label, got, want)
		}
	}
	if len(out) > 0 && got == truthy(out[0]) {
		return false, fmt.Sprintf("%s %t is excluded", label, got)
	}
	return true, ""
}

// withDayRanges adds each plain date value as a single-day range.
func withDayRanges(ranges []domain.DateRange, values []string) ([]domain.DateRange, error) {
	if len(values) == 0 {
		return ranges, nil
	}
	out := append([]domain.DateRange(nil), ranges...)
	for _, v := range values {
		if strings.TrimSpace(v) == "" {
			continue
		}
		d, err := domain.ParseDate(v)
		if err != nil {
			return nil, fmt.Errorf("%q is not a valid date", v)
		}
		out = append(out, domain.DateRange{Start: d, End: d})
	}
	return out, nil
}

func checkDate(label string, value fieldmap.Value, in, out []domain.DateRange) (bool, string) {
	if len(in) == 0 && len(out) == 0 {
		return true, ""
	}
	d, err := domain.ParseDate(value.Items[0])
	if err != nil {
		return false, fmt.Sprintf("%s %s is not a valid date", label, value)
	}
	if len(in) > 0 {
		inside := false
		for _, rng := range in {
			if rng.Contains(d) {
				inside = true
				break
			}
		}
		if !inside {
			return false, fmt.Sprintf("%s %s not in specified date ranges", label, d)
		}
	}
	for _, rng := range out {
		if rng.Contains(d) {
			return false, fmt.Sprintf("%s %s in excluded date range", label, d)
		}
	}
	return true, ""
}

func checkList(label string, value fieldmap.Value, in, out []string, mode domain.MatchMode) (bool, string) {
	if len(out) > 0 && fieldmap.CheckArrayMatch(value.Items, out, domain.MatchAny) {
		return false, fmt.Sprintf("%s value %s excluded", label, value)
	}
	if len(in) == 0 {
		return true, ""
	}
	if acceptsAll(in) {
		return true, ""
	}
	if !fieldmap.CheckArrayMatch(value.Items, in, mode) {
		return false, fmt.Sprintf("%s value %s not in eligible list", label, value)
	}
	return true, ""
}

// acceptsAll reports whether an IN list contains the ALL or ANY keyword.
func acceptsAll(in []string) bool {
	for _, v := range in {
		switch strings.ToUpper(strings.TrimSpace(v)) {
		case "ALL", "ANY":
			return true
		}
	}
	return false
}
