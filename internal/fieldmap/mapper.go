// Package fieldmap resolves logical criteria fields to normalized record values.
package fieldmap

import (
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/opensource-finance/plb/internal/domain"
)

//go:embed default_mappings.yaml
var defaultMappings []byte

// Mapper holds an immutable mapping table.
type Mapper struct {
	mappings map[domain.LogicalField]*domain.FieldMapping
}

type mappingFile struct {
	Mappings []domain.FieldMapping `yaml:"mappings"`
}

var (
	defaultOnce   sync.Once
	defaultMapper *Mapper
)

// Default returns the built-in mapping table.
func Default() *Mapper {
	defaultOnce.Do(func() {
		m, err := Parse(defaultMappings)
		if err != nil {
			panic(fmt.Sprintf("fieldmap: built-in table: %v", err))
		}
		defaultMapper = m
	})
	return defaultMapper
}

// Load reads a mapping table from a YAML or JSON file.
func Load(path string) (*Mapper, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read mapping file: %w", err)
	}
	m, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("mapping file %s: %w", path, err)
	}
	slog.Info("loaded field mappings", "path", path, "fields", len(m.mappings))
	return m, nil
}

// Parse builds a Mapper from a YAML (or JSON) document.
func Parse(data []byte) (*Mapper, error) {
	var f mappingFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse mappings: %w", err)
	}
	return New(f.Mappings)
}

// New validates mappings and builds a Mapper.
func New(mappings []domain.FieldMapping) (*Mapper, error) {
	m := &Mapper{mappings: make(map[domain.LogicalField]*domain.FieldMapping, len(mappings))}
	for i := range mappings {
		mp := mappings[i]
		if mp.RuleField == "" {
			return nil, fmt.Errorf("mapping %d: ruleField is required", i)
		}
		if _, dup := m.mappings[mp.RuleField]; dup {
			return nil, fmt.Errorf("mapping %s: duplicate ruleField", mp.RuleField)
		}
		mp.ApplyDefaults()
		if err := validateMapping(&mp); err != nil {
			return nil, fmt.Errorf("mapping %s: %w", mp.RuleField, err)
		}
		m.mappings[mp.RuleField] = &mp
	}
	return m, nil
}

func validateMapping(mp *domain.FieldMapping) error {
	if len(mp.InputPath.Parts) == 0 {
		return fmt.Errorf("inputPath is required")
	}
	paths := append([]domain.Path{mp.InputPath}, mp.AlternativePaths...)
	if mp.FallbackPath != "" {
		paths = append(paths, domain.Path{Parts: []string{mp.FallbackPath}})
	}
	for _, p := range paths {
		for _, part := range p.Parts {
			if !KnownPath(part) {
				return fmt.Errorf("unknown record path %q", part)
			}
		}
	}
	switch mp.DataType {
	case domain.TypeString, domain.TypeBoolean, domain.TypeDate, domain.TypeList:
	default:
		return fmt.Errorf("unknown dataType %q", mp.DataType)
	}
	switch mp.NullHandling {
	case domain.NullSkipAndAllow, domain.NullStrictFail:
	default:
		return fmt.Errorf("unknown nullHandling %q", mp.NullHandling)
	}
	return nil
}

// Mapping returns the mapping for a field.
func (m *Mapper) Mapping(field domain.LogicalField) (*domain.FieldMapping, bool) {
	mp, ok := m.mappings[field]
	return mp, ok
}

// Group returns the criteria group of a field, or "" when unmapped.
func (m *Mapper) Group(field domain.LogicalField) string {
	if mp, ok := m.mappings[field]; ok {
		return mp.CriteriaGroup
	}
	return ""
}

// Fields lists mapped fields in name order.
func (m *Mapper) Fields() []domain.LogicalField {
	out := make([]domain.LogicalField, 0, len(m.mappings))
	for f := range m.mappings {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Value is a resolved field: a scalar or a list of normalized strings.
// The zero Value is Null.
type Value struct {
	Items []string
	List  bool
}

// IsNull reports absent, empty or "UNKNOWN" values.
func (v Value) IsNull() bool {
	if len(v.Items) == 0 {
		return true
	}
	if v.List {
		return false
	}
	return v.Items[0] == "" || v.Items[0] == "UNKNOWN"
}

// HasUnknown reports whether any item is the "unknown" wildcard.
func (v Value) HasUnknown() bool {
	for _, it := range v.Items {
		if strings.EqualFold(strings.TrimSpace(it), "unknown") {
			return true
		}
	}
	return false
}

func (v Value) String() string {
	if !v.List && len(v.Items) == 1 {
		return v.Items[0]
	}
	return "[" + strings.Join(v.Items, ", ") + "]"
}

// Resolve reads a field from the record. ok is false when the field has
// no mapping.
func (m *Mapper) Resolve(r *domain.Record, field domain.LogicalField) (Value, bool) {
	mp, ok := m.mappings[field]
	if !ok {
		return Value{}, false
	}

	collected := m.readPath(r, mp, mp.InputPath)
	if mp.AlternativesEnabled() {
		for _, alt := range mp.AlternativePaths {
			collected = append(collected, m.readPath(r, mp, alt)...)
		}
	}
	if len(collected) == 0 && mp.FallbackPath != "" {
		collected = m.readPath(r, mp, domain.Path{Parts: []string{mp.FallbackPath}})
	}
	if len(collected) == 0 {
		return Value{}, true
	}

	normalized := make([]string, 0, len(collected))
	for _, v := range collected {
		normalized = append(normalized, Normalize(v, mp.Normalize)...)
	}
	if len(normalized) == 1 && !mp.ForceList {
		return Value{Items: normalized}, true
	}
	return Value{Items: normalized, List: true}, true
}

func (m *Mapper) readPath(r *domain.Record, mp *domain.FieldMapping, p domain.Path) []string {
	if !p.Composite() {
		a, ok := lookup(p.Parts[0])
		if !ok {
			return nil
		}
		var out []string
		for _, v := range a(r) {
			if v != "" {
				out = append(out, v)
			}
		}
		return out
	}

	parts := make([]string, 0, len(p.Parts))
	for _, name := range p.Parts {
		a, ok := lookup(name)
		if !ok {
			return nil
		}
		vals := a(r)
		if len(vals) == 0 || vals[0] == "" {
			return nil
		}
		parts = append(parts, vals[0])
	}
	if mp.CompositeFormat == "" {
		return []string{strings.Join(parts, "-")}
	}
	return []string{formatComposite(mp.CompositeFormat, parts)}
}

// formatComposite fills "{}" placeholders in order and "{N}" by index.
func formatComposite(format string, parts []string) string {
	var b strings.Builder
	next := 0
	for i := 0; i < len(format); i++ {
		if format[i] != '{' {
			b.WriteByte(format[i])
			continue
		}
		end := strings.IndexByte(format[i:], '}')
		if end < 0 {
			b.WriteString(format[i:])
			break
		}
		inner := format[i+1 : i+end]
		idx := next
		if inner != "" {
			n, err := strconv.Atoi(inner)
			if err != nil {
				b.WriteString(format[i : i+end+1])
				i += end
				continue
			}
			idx = n
		} else {
			next++
		}
		if idx < len(parts) {
			b.WriteString(parts[idx])
		}
		i += end
	}
	return b.String()
}

// NormalizeRuleValues applies a field's pipeline to contract values so
// they compare like resolved record values.
func (m *Mapper) NormalizeRuleValues(field domain.LogicalField, values []string) []string {
	mp, ok := m.mappings[field]
	if !ok || len(mp.Normalize) == 0 {
		return values
	}
	out := make([]string, 0, len(values))
	for _, v := range values {
		out = append(out, Normalize(v, mp.Normalize)...)
	}
	return out
}

// CheckArrayMatch compares input values against rule values. An empty
// input or rule list places no restriction.
func CheckArrayMatch(input, rule []string, mode domain.MatchMode) bool {
	if len(input) == 0 || len(rule) == 0 {
		return true
	}
	set := make(map[string]struct{}, len(rule))
	for _, r := range rule {
		set[r] = struct{}{}
	}
	in := func(v string) bool {
		_, ok := set[v]
		return ok
	}
	switch mode {
	case domain.MatchAny:
		for _, v := range input {
			if in(v) {
				return true
			}
		}
		return false
	case domain.MatchAll:
		for _, v := range input {
			if !in(v) {
				return false
			}
		}
		return true
	case domain.MatchNone:
		for _, v := range input {
			if in(v) {
				return false
			}
		}
		return true
	}
	slog.Warn("unknown match mode", "mode", mode)
	return false
}
