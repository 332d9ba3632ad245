// Package ruleset parses incentive rule documents into contracts.
//
// A document holds one ruleset: shared metadata (source, contract window,
// IATA codes, countries, airline codes) and a list of rules. Each rule
// becomes one domain.Contract.
package ruleset

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/plb/internal/domain"
)

// Default contract window applied when a document omits one.
var (
	DefaultStart = domain.MustParseDate("2025-01-01")
	DefaultEnd   = domain.MustParseDate("2025-12-31")
)

// Ruleset is a parsed document.
type Ruleset struct {
	ID         string             `json:"rulesetId"`
	SourceName string             `json:"sourceName"`
	Contracts  []*domain.Contract `json:"contracts"`
	// Errors holds rules that could not be parsed. They do not stop the
	// rest of the document from loading.
	Errors []*RuleError `json:"-"`
}

// RuleError reports a rule that failed to parse.
type RuleError struct {
	Index  int
	RuleID string
	Err    error
}

func (e *RuleError) Error() string {
	if e.RuleID != "" {
		return fmt.Sprintf("rule %d (%s): %v", e.Index, e.RuleID, e.Err)
	}
	return fmt.Sprintf("rule %d: %v", e.Index, e.Err)
}

func (e *RuleError) Unwrap() error { return e.Err }

// Err joins the rule errors, or returns nil.
func (rs *Ruleset) Err() error {
	errs := make([]error, len(rs.Errors))
	for i, e := range rs.Errors {
		errs[i] = e
	}
	return errors.Join(errs...)
}

type document struct {
	RulesetID string            `json:"ruleset_id"`
	Metadata  metadata          `json:"metadata"`
	Rules     []json.RawMessage `json:"rules"`
}

type metadata struct {
	SourceName     string `json:"source_name"`
	Currency       string `json:"currency"`
	ContractWindow struct {
		StartDate string `json:"start_date"`
		EndDate   string `json:"end_date"`
	} `json:"contract_window"`
	IATACodes    []domain.Code `json:"iata_codes"`
	Countries    []string      `json:"countries"`
	AirlineCodes []string      `json:"airline_codes"`
}

type rule struct {
	RuleID string `json:"rule_id"`
	Name   string `json:"name"`
	WhatIf struct {
		Trigger struct {
			Type       string      `json:"type"`
			Components []string    `json:"components"`
			Formula    string      `json:"formula"`
			Capping    *domain.Cap `json:"capping"`
		} `json:"trigger"`
		Payout struct {
			Type        string           `json:"type"`
			Components  []string         `json:"components"`
			Formula     string           `json:"formula"`
			Percentage  *decimal.Decimal `json:"percentage"`
			FixedAmount *decimal.Decimal `json:"fixed_amount"`
			Capping     *domain.Cap      `json:"capping"`
		} `json:"payout"`
	} `json:"what_if"`
	VariantFlags   map[string]bool    `json:"variant_flags"`
	Tiers          []tier             `json:"tiers"`
	WhereTrigger   domain.RawCriteria `json:"where_trigger"`
	WherePayout    domain.RawCriteria `json:"where_payout"`
	AddonRuleCases []domain.AddonRule `json:"addon_rule_cases"`
	AirlineCodes   []string           `json:"airline_codes"`
	BLPValue       *decimal.Decimal   `json:"blp_value"`
}

type tier struct {
	Label string `json:"table_label"`
	Rows  []row  `json:"rows"`
}

// row accepts both the nested target/payout shape and the flat legacy
// columns.
type row struct {
	Target *struct {
		Min *decimal.Decimal `json:"min"`
		Max *decimal.Decimal `json:"max"`
	} `json:"target"`
	Payout *struct {
		Value decimal.Decimal `json:"value"`
		Unit  string          `json:"unit"`
	} `json:"payout"`

	TargetMin    *decimal.Decimal `json:"target_min"`
	TargetMax    *decimal.Decimal `json:"target_max"`
	PayoutValue  *decimal.Decimal `json:"payout_value"`
	IncentivePct *decimal.Decimal `json:"Incentive %"`
	PayoutUnit   string           `json:"payout_unit"`
}

// Parse parses a document. name is used as the ruleset id when the
// document has none; a .json suffix is dropped. A malformed document or
// contract window is an error. Malformed rules are collected on the
// returned Ruleset.
func Parse(data []byte, name string) (*Ruleset, error) {
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse ruleset %s: %w", name, err)
	}

	rs := &Ruleset{ID: doc.RulesetID, SourceName: doc.Metadata.SourceName}
	if rs.ID == "" {
		rs.ID = strings.TrimSuffix(filepath.Base(name), ".json")
	}
	if rs.SourceName == "" {
		rs.SourceName = name
	}

	start, err := windowDate(doc.Metadata.ContractWindow.StartDate, DefaultStart)
	if err != nil {
		return nil, fmt.Errorf("parse ruleset %s: contract window start: %w", rs.ID, err)
	}
	end, err := windowDate(doc.Metadata.ContractWindow.EndDate, DefaultEnd)
	if err != nil {
		return nil, fmt.Errorf("parse ruleset %s: contract window end: %w", rs.ID, err)
	}

	for i, raw := range doc.Rules {
		index := i + 1
		var r rule
		if err := json.Unmarshal(raw, &r); err != nil {
			rs.Errors = append(rs.Errors, &RuleError{Index: index, Err: err})
			continue
		}
		c, err := r.contract(rs, &doc.Metadata, start, end, index)
		if err != nil {
			rs.Errors = append(rs.Errors, &RuleError{Index: index, RuleID: r.RuleID, Err: err})
			continue
		}
		rs.Contracts = append(rs.Contracts, c)
	}
	return rs, nil
}

func windowDate(s string, def domain.Date) (domain.Date, error) {
	if strings.TrimSpace(s) == "" {
		return def, nil
	}
	return domain.ParseDate(s)
}

func (r *rule) contract(rs *Ruleset, md *metadata, start, end domain.Date, index int) (*domain.Contract, error) {
	ruleID := r.RuleID
	if ruleID == "" {
		ruleID = fmt.Sprintf("%s_RULE_%d", rs.ID, index)
	}
	name := r.Name
	if name == "" {
		name = fmt.Sprintf("Rule %d", index)
	}

	triggerType, err := r.triggerType()
	if err != nil {
		return nil, err
	}
	tiers, err := r.tiers()
	if err != nil {
		return nil, err
	}
	payoutType := domain.PayoutType(strings.ToUpper(strings.TrimSpace(r.WhatIf.Payout.Type)))
	switch {
	case hasRows(tiers):
		payoutType = domain.PayoutTiered
	case payoutType == "":
		payoutType = domain.PayoutPercentage
	case payoutType != domain.PayoutPercentage && payoutType != domain.PayoutAmount && payoutType != domain.PayoutTiered:
		return nil, fmt.Errorf("unknown payout type %q", r.WhatIf.Payout.Type)
	}

	triggerCriteria, err := domain.NewCriteriaSet(r.WhereTrigger)
	if err != nil {
		return nil, fmt.Errorf("where_trigger: %w", err)
	}
	payoutCriteria, err := domain.NewCriteriaSet(r.WherePayout)
	if err != nil {
		return nil, fmt.Errorf("where_payout: %w", err)
	}

	airlines := r.AirlineCodes
	if len(airlines) == 0 {
		airlines = md.AirlineCodes
	}
	iata := make([]string, 0, len(md.IATACodes))
	for _, code := range md.IATACodes {
		iata = append(iata, code.String())
	}

	return &domain.Contract{
		DocumentID:   rs.ID,
		DocumentName: rs.SourceName,
		RulesetID:    rs.ID,
		SourceName:   rs.SourceName,
		ContractID:   ruleID,
		ContractName: name,
		RuleID:       ruleID,
		StartDate:    start,
		EndDate:      end,
		Trigger: domain.TriggerSpec{
			Type:       triggerType,
			Components: components(r.WhatIf.Trigger.Components),
			Formula:    strings.TrimSpace(r.WhatIf.Trigger.Formula),
			Capping:    r.WhatIf.Trigger.Capping,
		},
		Payout: domain.PayoutSpec{
			Type:        payoutType,
			Components:  components(r.WhatIf.Payout.Components),
			Formula:     strings.TrimSpace(r.WhatIf.Payout.Formula),
			Percentage:  r.WhatIf.Payout.Percentage,
			FixedAmount: r.WhatIf.Payout.FixedAmount,
			Capping:     r.WhatIf.Payout.Capping,
		},
		BLPValue:        r.BLPValue,
		Tiers:           tiers,
		TriggerCriteria: triggerCriteria,
		PayoutCriteria:  payoutCriteria,
		AirlineCodes:    airlines,
		IATACodes:       iata,
		Countries:       md.Countries,
		Currency:        md.Currency,
		AddonRules:      r.AddonRuleCases,
	}, nil
}

// triggerType resolves the variant flags: Sales wins, then NFR, then the
// declared trigger type.
func (r *rule) triggerType() (domain.TriggerType, error) {
	if flag(r.VariantFlags, "Sales") {
		return domain.TriggerSales, nil
	}
	if flag(r.VariantFlags, "NFR") {
		return domain.TriggerFlown, nil
	}
	switch t := domain.TriggerType(strings.ToUpper(strings.TrimSpace(r.WhatIf.Trigger.Type))); t {
	case "":
		return domain.TriggerFlown, nil
	case domain.TriggerFlown, domain.TriggerSales:
		return t, nil
	}
	return "", fmt.Errorf("unknown trigger type %q", r.WhatIf.Trigger.Type)
}

func flag(flags map[string]bool, name string) bool {
	for k, v := range flags {
		if strings.EqualFold(k, name) && v {
			return true
		}
	}
	return false
}

func components(in []string) []string {
	if len(in) == 0 {
		return []string{domain.ComponentBase}
	}
	out := make([]string, 0, len(in))
	for _, c := range in {
		if c = strings.ToUpper(strings.TrimSpace(c)); c != "" {
			out = append(out, c)
		}
	}
	return out
}

func (r *rule) tiers() ([]domain.Tier, error) {
	if len(r.Tiers) == 0 {
		return nil, nil
	}
	out := make([]domain.Tier, 0, len(r.Tiers))
	for i, t := range r.Tiers {
		dt := domain.Tier{Label: t.Label, Rows: make([]domain.TierRow, 0, len(t.Rows))}
		for j, rw := range t.Rows {
			tr, err := rw.tierRow()
			if err != nil {
				return nil, fmt.Errorf("tier %d row %d: %w", i+1, j+1, err)
			}
			dt.Rows = append(dt.Rows, tr)
		}
		out = append(out, dt)
	}
	return out, nil
}

func (rw row) tierRow() (domain.TierRow, error) {
	var tr domain.TierRow
	if rw.Target != nil {
		if rw.Target.Min != nil {
			tr.Min = *rw.Target.Min
		}
		tr.Max = rw.Target.Max
	} else {
		if rw.TargetMin != nil {
			tr.Min = *rw.TargetMin
		}
		tr.Max = rw.TargetMax
	}
	if tr.Max != nil && tr.Max.LessThan(tr.Min) {
		return tr, fmt.Errorf("max %s below min %s", tr.Max, tr.Min)
	}

	unit := rw.PayoutUnit
	switch {
	case rw.Payout != nil:
		tr.Value = rw.Payout.Value
		unit = rw.Payout.Unit
	case rw.PayoutValue != nil:
		tr.Value = *rw.PayoutValue
	case rw.IncentivePct != nil:
		tr.Value = *rw.IncentivePct
	}

	switch strings.ToUpper(strings.TrimSpace(unit)) {
	case "", "PERCENT", "%":
		tr.Unit = domain.UnitPercent
	case "AMOUNT", "FIXED":
		tr.Unit = domain.UnitAmount
	default:
		return tr, fmt.Errorf("unknown payout unit %q", unit)
	}
	return tr, nil
}

func hasRows(tiers []domain.Tier) bool {
	for _, t := range tiers {
		if len(t.Rows) > 0 {
			return true
		}
	}
	return false
}

// ParseFile reads and parses one document.
func ParseFile(path string) (*Ruleset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read ruleset: %w", err)
	}
	return Parse(data, filepath.Base(path))
}

// LoadDir parses every *.json file in dir, in name order. Files that fail
// to parse are reported in the joined error; the others are returned.
func LoadDir(dir string) ([]*Ruleset, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read ruleset dir: %w", err)
	}
	var (
		sets []*Ruleset
		errs []error
	)
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".json") {
			continue
		}
		rs, err := ParseFile(filepath.Join(dir, e.Name()))
		if err != nil {
			errs = append(errs, err)
			continue
		}
		sets = append(sets, rs)
	}
	return sets, errors.Join(errs...)
}

// Contracts flattens the contracts of several rulesets in order.
func Contracts(sets []*Ruleset) []*domain.Contract {
	var out []*domain.Contract
	for _, rs := range sets {
		out = append(out, rs.Contracts...)
	}
	return out
}
