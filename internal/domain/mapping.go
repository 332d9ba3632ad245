package domain

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// DataType selects how a field is compared.
type DataType string

const (
	TypeString  DataType = "string"
	TypeBoolean DataType = "boolean"
	TypeDate    DataType = "date"
	TypeList    DataType = "list"
)

// MatchMode selects list comparison semantics.
type MatchMode string

const (
	MatchAny  MatchMode = "any"
	MatchAll  MatchMode = "all"
	MatchNone MatchMode = "none"
)

// NullHandling decides the outcome for a null or missing value.
type NullHandling string

const (
	NullSkipAndAllow NullHandling = "skip_and_allow"
	NullStrictFail   NullHandling = "strict_fail"
)

// Criteria groups evaluated in the Sector phase.
const (
	GroupGeographic    = "geographic"
	GroupBooking       = "booking"
	GroupAirlineFlight = "airline_flight"
)

// IsSectorGroup reports whether a criteria group belongs to the Sector phase.
func IsSectorGroup(group string) bool {
	switch group {
	case GroupGeographic, GroupBooking, GroupAirlineFlight:
		return true
	}
	return false
}

// Path is a single record attribute or, with more than one part, a composite.
type Path struct {
	Parts []string
}

// Composite reports whether the path joins several attributes.
func (p Path) Composite() bool { return len(p.Parts) > 1 }

func (p Path) String() string {
	if len(p.Parts) == 1 {
		return p.Parts[0]
	}
	return fmt.Sprint(p.Parts)
}

// UnmarshalYAML accepts "name" or ["a", "b"].
func (p *Path) UnmarshalYAML(n *yaml.Node) error {
	switch n.Kind {
	case yaml.ScalarNode:
		p.Parts = []string{n.Value}
		return nil
	case yaml.SequenceNode:
		var parts []string
		if err := n.Decode(&parts); err != nil {
			return err
		}
		p.Parts = parts
		return nil
	}
	return fmt.Errorf("line %d: path must be a string or list", n.Line)
}

func (p Path) MarshalJSON() ([]byte, error) {
	if len(p.Parts) == 1 {
		return json.Marshal(p.Parts[0])
	}
	return json.Marshal(p.Parts)
}

// FieldMapping binds a logical field to record attributes.
type FieldMapping struct {
	RuleField              LogicalField `yaml:"ruleField" json:"ruleField"`
	InputPath              Path         `yaml:"inputPath" json:"inputPath"`
	AlternativePaths       []Path       `yaml:"alternativePaths" json:"alternativePaths,omitempty"`
	EnableAlternativePaths *bool        `yaml:"enableAlternativePaths" json:"enableAlternativePaths,omitempty"`
	FallbackPath           string       `yaml:"fallbackPath" json:"fallbackPath,omitempty"`
	CompositeFormat        string       `yaml:"compositeFormat" json:"compositeFormat,omitempty"`
	Normalize              []string     `yaml:"normalize" json:"normalize,omitempty"`
	DataType               DataType     `yaml:"dataType" json:"dataType"`
	MatchMode              MatchMode    `yaml:"matchMode" json:"matchMode"`
	NullHandling           NullHandling `yaml:"nullHandling" json:"nullHandling"`
	CriteriaGroup          string       `yaml:"criteriaGroup" json:"criteriaGroup,omitempty"`
	IgnoreCriteria         bool         `yaml:"ignoreCriteria" json:"ignoreCriteria,omitempty"`
	ForceList              bool         `yaml:"forceList" json:"forceList,omitempty"`
	SkipIfMissing          *bool        `yaml:"skipIfMissing" json:"skipIfMissing,omitempty"`
}

// AlternativesEnabled defaults to true.
func (m *FieldMapping) AlternativesEnabled() bool {
	return m.EnableAlternativePaths == nil || *m.EnableAlternativePaths
}

// ApplyDefaults fills the documented defaults.
func (m *FieldMapping) ApplyDefaults() {
	if m.DataType == "" {
		m.DataType = TypeString
	}
	if m.MatchMode == "" {
		m.MatchMode = MatchAny
	}
	if m.NullHandling == "" {
		m.NullHandling = NullSkipAndAllow
	}
}
