// Package addon applies a contract's addon rules, which can force a record
// the criteria rejected to be trigger and payout eligible.
package addon

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"

	"github.com/opensource-finance/plb/internal/domain"
)

// Outcome reasons.
const (
	ReasonConditionsNotMet = "Addon rule conditions not met"
	ReasonNoMapping        = "No matching mapping found"
)

// Processor evaluates addon rules. Compiled CEL conditions are cached by
// source, so a Processor is meant to be long lived and shared.
type Processor struct {
	env    *cel.Env
	logger *slog.Logger

	mu       sync.RWMutex
	programs map[string]cel.Program
}

// NewProcessor creates a Processor with the record variables conditions may
// reference.
func NewProcessor(logger *slog.Logger) (*Processor, error) {
	if logger == nil {
		logger = slog.Default()
	}
	env, err := cel.NewEnv(
		cel.Variable("record", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("airline", cel.StringType),
		cel.Variable("marketing_airline", cel.StringType),
		cel.Variable("operating_airline", cel.StringType),
		cel.Variable("flight_number", cel.StringType),
		cel.Variable("origin", cel.StringType),
		cel.Variable("destination", cel.StringType),
		cel.Variable("rbd", cel.StringType),
		cel.Variable("cabin", cel.StringType),
		cel.Variable("fare_basis", cel.StringType),
		cel.Variable("code_share", cel.BoolType),
		cel.Variable("base", cel.DoubleType),
		cel.Variable("total", cel.DoubleType),
		cel.Variable("flown_date", cel.StringType),
		cel.Variable("sales_date", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	return &Processor{env: env, logger: logger, programs: make(map[string]cel.Program)}, nil
}

// Compile checks a condition and caches its program. Conditions must
// evaluate to bool.
func (p *Processor) Compile(condition string) (cel.Program, error) {
	p.mu.RLock()
	prg, ok := p.programs[condition]
	p.mu.RUnlock()
	if ok {
		return prg, nil
	}

	ast, issues := p.env.Compile(condition)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile condition %q: %w", condition, issues.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("condition %q must return bool, got %s", condition, ast.OutputType())
	}
	prg, err := p.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for condition %q: %w", condition, err)
	}

	p.mu.Lock()
	p.programs[condition] = prg
	p.mu.Unlock()
	return prg, nil
}

// ValidateContract compiles every condition a contract declares.
func (p *Processor) ValidateContract(c *domain.Contract) error {
	for _, rule := range c.AddonRules {
		if rule.Condition == "" {
			continue
		}
		if _, err := p.Compile(rule.Condition); err != nil {
			return fmt.Errorf("addon rule %s: %w", rule.ID, err)
		}
	}
	return nil
}

// Outcome is the combined effect of a contract's addon rules.
type Outcome struct {
	TriggerEligible bool
	PayoutEligible  bool
	Details         []domain.AddonOutcome
}

// Applied lists the names of the rules that fired.
func (o Outcome) Applied() []string {
	var names []string
	for _, d := range o.Details {
		if d.Applied {
			names = append(names, d.Name)
		}
	}
	return names
}

// Apply records the outcome on an analysis. Flags are only ever raised.
func (o Outcome) Apply(a *domain.ContractAnalysis) {
	a.Addons = o.Details
	names := o.Applied()
	if len(names) == 0 {
		return
	}
	a.TriggerEligible = a.TriggerEligible || o.TriggerEligible
	a.PayoutEligible = a.PayoutEligible || o.PayoutEligible

	note := "Addon rules applied: " + strings.Join(names, ", ")
	a.TriggerReason = appendReason(a.TriggerReason, note)
	a.PayoutReason = appendReason(a.PayoutReason, note)
}

func appendReason(existing, note string) string {
	if existing == "" {
		return note
	}
	return existing + "; " + note
}

// Process runs the contract's addon rules in order against the current
// eligibility. A rule that survives its checks forces both flags true.
func (p *Processor) Process(r *domain.Record, c *domain.Contract, triggerOK, payoutOK bool) Outcome {
	out := Outcome{TriggerEligible: triggerOK, PayoutEligible: payoutOK}
	if len(c.AddonRules) == 0 {
		return out
	}

	for _, rule := range c.AddonRules {
		d := p.processRule(r, rule, out.TriggerEligible, out.PayoutEligible)
		if d.Applied {
			out.TriggerEligible = true
			out.PayoutEligible = true
			p.logger.Info("addon rule applied",
				"contract_id", c.ContractID,
				"addon_rule_id", rule.ID,
			)
		}
		out.Details = append(out.Details, d)
	}
	return out
}

func (p *Processor) processRule(r *domain.Record, rule domain.AddonRule, triggerOK, payoutOK bool) domain.AddonOutcome {
	d := domain.AddonOutcome{
		RuleID:          rule.ID,
		Name:            rule.Name,
		TriggerEligible: triggerOK,
		PayoutEligible:  payoutOK,
	}
	if d.RuleID == "" {
		d.RuleID = "Unknown"
	}
	if d.Name == "" {
		d.Name = "Unknown Addon Rule"
	}

	if !ShouldApply(r, rule.WhenToApply, triggerOK, payoutOK) {
		d.Reason = ReasonConditionsNotMet
		return d
	}
	if rule.Condition != "" {
		ok, err := p.condition(r, rule.Condition)
		if err != nil {
			p.logger.Warn("addon condition failed", "addon_rule_id", rule.ID, "error", err)
			d.Reason = fmt.Sprintf("Processing error: %v", err)
			return d
		}
		if !ok {
			d.Reason = ReasonConditionsNotMet
			return d
		}
	}

	mapping, ok := p.findMapping(r, rule.Mappings)
	if !ok {
		d.Reason = ReasonNoMapping
		return d
	}
	if excl, vetoed := Excluded(r, rule.Exclusions); vetoed {
		d.Reason = "Excluded by: " + excl
		return d
	}

	d.Applied = true
	d.Reason = "Override applied - matched mapping: " + mapping.Describe()
	d.MatchedMapping = &mapping
	d.TriggerEligible = true
	d.PayoutEligible = true
	d.OverrideLogic = rule.OverrideLogic
	return d
}

// ShouldApply interprets the when_to_apply text. Each recognized phrase is
// tried in turn; otherwise the rule applies to records rejected by either
// phase.
func ShouldApply(r *domain.Record, whenToApply string, triggerOK, payoutOK bool) bool {
	when := strings.ToLower(whenToApply)
	rejected := !triggerOK || !payoutOK

	if strings.Contains(when, "after base in/out filtering") && rejected {
		return true
	}
	if strings.Contains(when, "only for coupons rejected") && rejected {
		return true
	}
	if strings.Contains(when, "operating carrier") || strings.Contains(when, "codeshare") {
		op := strings.TrimSpace(r.OperatingAirline)
		if truthy(r.CodeShare) || (op != "" && !strings.EqualFold(op, strings.TrimSpace(r.MarketingAirline))) {
			return true
		}
	}
	if strings.Contains(when, "route/flight constraints") {
		return true
	}
	return rejected
}

func truthy(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "1", "yes", "y":
		return true
	}
	return false
}

func (p *Processor) condition(r *domain.Record, src string) (bool, error) {
	prg, err := p.Compile(src)
	if err != nil {
		return false, err
	}
	val, _, err := prg.Eval(activation(r))
	if err != nil {
		return false, fmt.Errorf("evaluate condition: %w", err)
	}
	b, ok := val.(types.Bool)
	if !ok {
		return false, fmt.Errorf("condition returned %v", val.Type())
	}
	return bool(b), nil
}

func activation(r *domain.Record) map[string]any {
	vars := map[string]any{
		"airline":           r.AirlineCode,
		"marketing_airline": r.MarketingAirline,
		"operating_airline": r.OperatingAirline,
		"flight_number":     r.FlightNumber.String(),
		"origin":            r.Origin,
		"destination":       r.Destination,
		"rbd":               r.RBD,
		"cabin":             r.Cabin,
		"fare_basis":        r.FareBasis,
		"code_share":        truthy(r.CodeShare),
		"base":              r.Base.InexactFloat64(),
		"total":             r.Total.InexactFloat64(),
		"flown_date":        r.FlownDate.String(),
		"sales_date":        r.SalesDate.String(),
	}
	record := make(map[string]any, len(vars))
	for k, v := range vars {
		record[k] = v
	}
	vars["record"] = record
	return vars
}

func (p *Processor) findMapping(r *domain.Record, mappings []domain.AddonMapping) (domain.AddonMapping, bool) {
	for _, m := range mappings {
		if p.matches(r, m) {
			return m, true
		}
	}
	return domain.AddonMapping{}, false
}

func (p *Processor) matches(r *domain.Record, m domain.AddonMapping) bool {
	if m.MarketingFlight != "" {
		flight := r.FlightNumber.String()
		if m.MarketingFlight != flight && m.MarketingFlight != r.MarketingAirline+flight {
			return false
		}
	}
	if m.OperatingAirline != "" && m.OperatingAirline != r.OperatingAirline {
		return false
	}
	if m.Route != "" && m.Route != r.Origin+"-"+r.Destination {
		return false
	}
	if m.EffectiveFrom != "" {
		if from, ok := p.effectiveDate("effective_from", m.EffectiveFrom); ok && r.FlownDate.Before(from) {
			return false
		}
	}
	if m.EffectiveTo != "" {
		if to, ok := p.effectiveDate("effective_to", m.EffectiveTo); ok && r.FlownDate.After(to) {
			return false
		}
	}
	return true
}

var isoDate = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// effectiveDate parses a YYYY-MM-DD bound. Invalid bounds are ignored.
func (p *Processor) effectiveDate(name, s string) (domain.Date, bool) {
	if isoDate.MatchString(s) {
		if d, err := domain.ParseDate(s); err == nil {
			return d, true
		}
	}
	p.logger.Warn("invalid addon mapping date ignored", "bound", name, "value", s)
	return domain.Date{}, false
}

// Excluded reports the first exclusion that still vetoes the override.
// Only RBD exclusions listing explicit classes can veto; OTADOC and
// deal or discount families carry no data to check against.
func Excluded(r *domain.Record, exclusions []string) (string, bool) {
	rbd := strings.ToUpper(strings.TrimSpace(r.RBD))
	for _, excl := range exclusions {
		lower := strings.ToLower(excl)
		switch {
		case strings.Contains(lower, "otadoc") || strings.Contains(lower, "other airline document"):
			continue
		case strings.Contains(lower, "rbd"):
			if rbd == "" {
				continue
			}
			for _, code := range listedCodes(excl) {
				if code == rbd {
					return excl, true
				}
			}
		}
	}
	return "", false
}

var codeSplit = regexp.MustCompile(`[\s,/;]+`)

// listedCodes returns the codes after the first colon of an exclusion
// such as "Disallowed RBD: X, Y".
func listedCodes(excl string) []string {
	i := strings.IndexByte(excl, ':')
	if i < 0 {
		return nil
	}
	var codes []string
	for _, c := range codeSplit.Split(excl[i+1:], -1) {
		c = strings.ToUpper(strings.TrimSpace(c))
		if c != "" {
			codes = append(codes, c)
		}
	}
	return codes
}
