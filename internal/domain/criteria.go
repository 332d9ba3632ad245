package domain

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// LogicalField is the canonical name of a criteria field, independent of
// how a contract document spells it.
type LogicalField string

const (
	FieldPOS              LogicalField = "pos"
	FieldRoute            LogicalField = "route"
	FieldOnD              LogicalField = "ond"
	FieldCityCode         LogicalField = "cityCode"
	FieldMarketingAirline LogicalField = "marketingAirline"
	FieldOperatingAirline LogicalField = "operatingAirline"
	FieldTicketingAirline LogicalField = "ticketingAirline"
	FieldFlightNumber     LogicalField = "flightNumber"
	FieldRBD              LogicalField = "rbd"
	FieldCabin            LogicalField = "cabin"
	FieldFareType         LogicalField = "fareType"
	FieldFareBasis        LogicalField = "fareBasis"
	FieldCorporateCode    LogicalField = "corporateCode"
	FieldTourCode         LogicalField = "tourCode"
	FieldNDC              LogicalField = "ndc"
	FieldCodeShare        LogicalField = "codeShare"
	FieldInterline        LogicalField = "interline"
	FieldDomIntl          LogicalField = "domIntl"
	FieldSitiSoto         LogicalField = "sitiSotoSitoSoti"
	FieldAlliance         LogicalField = "alliance"
	FieldSalesDate        LogicalField = "salesDate"
	FieldTravelDate       LogicalField = "travelDate"
	FieldIATA             LogicalField = "iataCode"
)

var fieldAliases = map[string]LogicalField{
	"POS":                 FieldPOS,
	"Route":               FieldRoute,
	"Routes":              FieldRoute,
	"O&D Area":            FieldOnD,
	"OnD":                 FieldOnD,
	"City_Codes":          FieldCityCode,
	"Marketing_Airline":   FieldMarketingAirline,
	"Marketing Airline":   FieldMarketingAirline,
	"Operating_Airline":   FieldOperatingAirline,
	"Operating Airline":   FieldOperatingAirline,
	"Ticketing_Airline":   FieldTicketingAirline,
	"Ticketing Airline":   FieldTicketingAirline,
	"Flight_Nos":          FieldFlightNumber,
	"RBD":                 FieldRBD,
	"Cabin":               FieldCabin,
	"Fare_Type":           FieldFareType,
	"Fare Type":           FieldFareType,
	"Fare_Basis":          FieldFareBasis,
	"Corporate_Code":      FieldCorporateCode,
	"Tour_Code":           FieldTourCode,
	"NDC":                 FieldNDC,
	"Code_Share":          FieldCodeShare,
	"Interline":           FieldInterline,
	"DomIntl":             FieldDomIntl,
	"SITI_SOTO_SITO_SOTI": FieldSitiSoto,
	"SITI/SOTO/SITO/SOTI": FieldSitiSoto,
	"Alliance":            FieldAlliance,
	"Sales_Date":          FieldSalesDate,
	"Travel_Date":         FieldTravelDate,
	"IATA":                FieldIATA,
}

// CanonicalField folds a contract key to its logical field. Unknown keys
// are returned verbatim.
func CanonicalField(key string) LogicalField {
	k := strings.TrimSpace(key)
	if f, ok := fieldAliases[k]; ok {
		return f
	}
	return LogicalField(k)
}

// FieldCriteria holds the IN/OUT constraints on one field.
type FieldCriteria struct {
	Field     LogicalField `json:"field"`
	Label     string       `json:"label"` // key as written in the contract
	In        []string     `json:"in,omitempty"`
	Out       []string     `json:"out,omitempty"`
	InRanges  []DateRange  `json:"inRanges,omitempty"`
	OutRanges []DateRange  `json:"outRanges,omitempty"`
}

// HasIn reports whether any inclusion constraint is present.
func (c FieldCriteria) HasIn() bool { return len(c.In) > 0 || len(c.InRanges) > 0 }

// HasOut reports whether any exclusion constraint is present.
func (c FieldCriteria) HasOut() bool { return len(c.Out) > 0 || len(c.OutRanges) > 0 }

// Conflicting is true when both IN and OUT are set, which is invalid.
func (c FieldCriteria) Conflicting() bool { return c.HasIn() && c.HasOut() }

// CriteriaSet is the canonical form of a contract's IN/OUT/SILENT block.
type CriteriaSet struct {
	Fields []FieldCriteria            `json:"fields"`
	Silent map[string]json.RawMessage `json:"silent,omitempty"`
}

// Empty reports whether the set has no IN or OUT constraint.
func (s CriteriaSet) Empty() bool {
	for _, f := range s.Fields {
		if f.HasIn() || f.HasOut() {
			return false
		}
	}
	return true
}

// Get returns the criteria on a field.
func (s CriteriaSet) Get(field LogicalField) (FieldCriteria, bool) {
	for _, f := range s.Fields {
		if f.Field == field {
			return f, true
		}
	}
	return FieldCriteria{}, false
}

// RawCriteria is the document shape: {"IN": {...}, "OUT": {...}, "SILENT": {...}}.
type RawCriteria map[string]map[string]json.RawMessage

// NewCriteriaSet canonicalizes raw criteria. Field order follows IN keys
// then OUT keys, each sorted, so evaluation order is stable.
func NewCriteriaSet(raw RawCriteria) (CriteriaSet, error) {
	var set CriteriaSet
	index := map[LogicalField]int{}

	entry := func(key string) *FieldCriteria {
		f := CanonicalField(key)
		if i, ok := index[f]; ok {
			return &set.Fields[i]
		}
		set.Fields = append(set.Fields, FieldCriteria{Field: f, Label: key})
		index[f] = len(set.Fields) - 1
		return &set.Fields[len(set.Fields)-1]
	}

	for _, section := range []string{"IN", "OUT"} {
		block := lookupSection(raw, section)
		for _, key := range sortedKeys(block) {
			values, ranges, err := decodeCriteriaValues(block[key])
			if err != nil {
				return CriteriaSet{}, fmt.Errorf("%s.%s: %w", section, key, err)
			}
			if len(values) == 0 && len(ranges) == 0 {
				continue
			}
			e := entry(key)
			if section == "IN" {
				e.In = append(e.In, values...)
				e.InRanges = append(e.InRanges, ranges...)
			} else {
				e.Out = append(e.Out, values...)
				e.OutRanges = append(e.OutRanges, ranges...)
			}
		}
	}
	if silent := lookupSection(raw, "SILENT"); len(silent) > 0 {
		set.Silent = silent
	}
	return set, nil
}

// MustCriteriaSet builds a set from plain string lists; used by callers that
// already hold canonical values.
func MustCriteriaSet(in, out map[string][]string) CriteriaSet {
	raw := RawCriteria{"IN": {}, "OUT": {}}
	for k, v := range in {
		b, _ := json.Marshal(v)
		raw["IN"][k] = b
	}
	for k, v := range out {
		b, _ := json.Marshal(v)
		raw["OUT"][k] = b
	}
	set, err := NewCriteriaSet(raw)
	if err != nil {
		panic(err)
	}
	return set
}

func lookupSection(raw RawCriteria, name string) map[string]json.RawMessage {
	if b, ok := raw[name]; ok {
		return b
	}
	for k, b := range raw {
		if strings.EqualFold(k, name) {
			return b
		}
	}
	return nil
}

func sortedKeys(m map[string]json.RawMessage) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// decodeCriteriaValues accepts a scalar, a list of scalars, a date range
// object or a list of date range objects.
func decodeCriteriaValues(b json.RawMessage) ([]string, []DateRange, error) {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return nil, nil, err
	}
	var (
		values []string
		ranges []DateRange
	)
	var add func(item any) error
	add = func(item any) error {
		switch t := item.(type) {
		case nil:
		case []any:
			for _, x := range t {
				if err := add(x); err != nil {
					return err
				}
			}
		case map[string]any:
			r, err := rangeFromMap(t)
			if err != nil {
				return err
			}
			ranges = append(ranges, r)
		default:
			values = append(values, scalarString(t))
		}
		return nil
	}
	if err := add(v); err != nil {
		return nil, nil, err
	}
	return values, ranges, nil
}

func rangeFromMap(m map[string]any) (DateRange, error) {
	var r DateRange
	for key, dst := range map[string]*Date{"start": &r.Start, "end": &r.End} {
		s, _ := m[key].(string)
		if s == "" {
			continue
		}
		d, err := ParseDate(s)
		if err != nil {
			return DateRange{}, fmt.Errorf("range %s: %w", key, err)
		}
		*dst = d
	}
	return r, nil
}

func scalarString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprint(t)
	}
}
