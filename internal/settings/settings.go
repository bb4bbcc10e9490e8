// Package settings defines the declarative matching configuration consumed
// by the reconciliation engine: the field list with per-field rules, the
// column mappings for both sources, and the aggregation policy.
//
// The whole document is JSON-serializable and must round-trip losslessly.
// Unknown rule kinds are rejected at load time rather than silently
// dropped, so a settings file written by a newer version fails loudly here.
//
// Settings are treated as immutable inputs to a run. Callers that need to
// vary a run-specific knob should Clone first.
package settings

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	apperrors "ledger-reconciler/pkg/errors"

	"github.com/shopspring/decimal"
)

// DataType is the value type of a matching field.
type DataType string

const (
	TypeString DataType = "string"
	TypeNumber DataType = "number"
)

// IsValid checks whether the data type is known.
func (t DataType) IsValid() bool {
	return t == TypeString || t == TypeNumber
}

// RuleKind discriminates the closed rule union.
type RuleKind string

const (
	// RuleExact requires case-insensitive, whitespace-trimmed equality for
	// strings and exact equality for numbers.
	RuleExact RuleKind = "exact"
	// RuleFuzzy requires a string-similarity ratio at or above a tolerance.
	// Valid for string fields only.
	RuleFuzzy RuleKind = "fuzzy"
	// RuleNumericDiff requires the absolute difference to be at most a
	// maximum. Valid for numeric fields only.
	RuleNumericDiff RuleKind = "numeric_diff"
)

// Rule is one variant of the matching rule union. Only the parameters of
// the active kind are meaningful.
type Rule struct {
	Kind RuleKind
	// Tolerance is the fuzzy similarity threshold, 0-100.
	Tolerance float64
	// MaxDiff is the numeric-difference ceiling, >= 0.
	MaxDiff decimal.Decimal
}

// ExactRule builds an exact-equality rule.
func ExactRule() Rule {
	return Rule{Kind: RuleExact}
}

// FuzzyRule builds a fuzzy-similarity rule with the given tolerance.
func FuzzyRule(tolerance float64) Rule {
	return Rule{Kind: RuleFuzzy, Tolerance: tolerance}
}

// NumericDiffRule builds a numeric-difference rule with the given ceiling.
func NumericDiffRule(maxDiff decimal.Decimal) Rule {
	return Rule{Kind: RuleNumericDiff, MaxDiff: maxDiff}
}

// ruleDoc is the wire form of a Rule. Pointer parameters distinguish an
// absent parameter from an explicit zero.
type ruleDoc struct {
	Kind      RuleKind `json:"kind"`
	Tolerance *float64 `json:"tolerance,omitempty"`
	MaxDiff   *string  `json:"max_diff,omitempty"`
}

// MarshalJSON writes only the parameters of the active kind.
func (r Rule) MarshalJSON() ([]byte, error) {
	doc := ruleDoc{Kind: r.Kind}
	switch r.Kind {
	case RuleFuzzy:
		tolerance := r.Tolerance
		doc.Tolerance = &tolerance
	case RuleNumericDiff:
		maxDiff := r.MaxDiff.String()
		doc.MaxDiff = &maxDiff
	}
	return json.Marshal(doc)
}

// UnmarshalJSON parses a rule document, rejecting unknown kinds explicitly.
func (r *Rule) UnmarshalJSON(data []byte) error {
	var doc ruleDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}

	switch doc.Kind {
	case RuleExact:
		*r = ExactRule()
	case RuleFuzzy:
		if doc.Tolerance == nil {
			return fmt.Errorf("fuzzy rule requires a tolerance")
		}
		*r = FuzzyRule(*doc.Tolerance)
	case RuleNumericDiff:
		if doc.MaxDiff == nil {
			return fmt.Errorf("numeric_diff rule requires max_diff")
		}
		maxDiff, err := decimal.NewFromString(*doc.MaxDiff)
		if err != nil {
			return fmt.Errorf("invalid max_diff %q: %w", *doc.MaxDiff, err)
		}
		*r = NumericDiffRule(maxDiff)
	default:
		return fmt.Errorf("unknown rule kind %q", doc.Kind)
	}
	return nil
}

// CompatibleWith reports whether the rule kind may govern a field of the
// given data type.
func (r Rule) CompatibleWith(dataType DataType) bool {
	switch r.Kind {
	case RuleExact:
		return dataType.IsValid()
	case RuleFuzzy:
		return dataType == TypeString
	case RuleNumericDiff:
		return dataType == TypeNumber
	default:
		return false
	}
}

// MatchingField is a named, typed attribute participating in comparison.
type MatchingField struct {
	ID        string   `json:"id"`
	Label     string   `json:"label"`
	Enabled   bool     `json:"enabled"`
	Deletable bool     `json:"deletable"`
	DataType  DataType `json:"data_type"`
	Rule      Rule     `json:"rule"`
}

// Validate checks the field definition in isolation.
func (f *MatchingField) Validate() error {
	if strings.TrimSpace(f.ID) == "" {
		return apperrors.Configuration(apperrors.CodeInvalidConfig, f.ID, "field ID cannot be empty")
	}
	if !f.DataType.IsValid() {
		return apperrors.Configuration(apperrors.CodeInvalidConfig, f.ID,
			fmt.Sprintf("unknown data type %q", f.DataType))
	}
	if !f.Rule.CompatibleWith(f.DataType) {
		return apperrors.Configuration(apperrors.CodeRuleTypeMismatch, f.ID,
			fmt.Sprintf("rule %q cannot govern a %s field", f.Rule.Kind, f.DataType))
	}
	if f.Rule.Kind == RuleFuzzy && (f.Rule.Tolerance < 0 || f.Rule.Tolerance > 100) {
		return apperrors.Configuration(apperrors.CodeBadThreshold, f.ID,
			fmt.Sprintf("fuzzy tolerance must be between 0 and 100, got %v", f.Rule.Tolerance))
	}
	if f.Rule.Kind == RuleNumericDiff && f.Rule.MaxDiff.IsNegative() {
		return apperrors.Configuration(apperrors.CodeBadThreshold, f.ID,
			fmt.Sprintf("max_diff cannot be negative, got %s", f.Rule.MaxDiff))
	}
	return nil
}

// ColumnMapping maps field IDs to raw spreadsheet column headers for one
// source. Fields absent from the mapping resolve to empty values.
type ColumnMapping map[string]string

// ColumnMappings holds the per-source column mappings.
type ColumnMappings struct {
	Own          ColumnMapping `json:"own"`
	Counterparty ColumnMapping `json:"counterparty"`
}

// AggregationSettings controls the pre-matching collapse of split
// counterparty rows that share a grouping key.
type AggregationSettings struct {
	Enabled      bool   `json:"enabled"`
	KeyFieldID   string `json:"aggregation_key"`
	ValueFieldID string `json:"aggregation_value_field"`
}

// Settings is the complete configuration for one reconciliation run.
type Settings struct {
	Fields      []MatchingField     `json:"fields"`
	Mappings    ColumnMappings      `json:"mappings"`
	Aggregation AggregationSettings `json:"aggregation"`

	// AmountFieldID designates the numeric field summed into the summary's
	// total amount difference.
	AmountFieldID string `json:"amount_field"`

	// PartialThreshold is the minimum mean confidence for a partial match.
	PartialThreshold float64 `json:"partial_threshold"`

	// EmptyConfidence is the neutral confidence assigned when both values
	// of a field are empty.
	EmptyConfidence float64 `json:"empty_confidence"`
}

// DefaultSettings returns the built-in field set: a reference number, an
// amount, a date, and a fuzzy description. The reference and amount fields
// are not deletable.
func DefaultSettings() *Settings {
	return &Settings{
		Fields: []MatchingField{
			{
				ID:       "reference",
				Label:    "Reference No.",
				Enabled:  true,
				DataType: TypeString,
				Rule:     ExactRule(),
			},
			{
				ID:       "amount",
				Label:    "Amount",
				Enabled:  true,
				DataType: TypeNumber,
				Rule:     NumericDiffRule(decimal.Zero),
			},
			{
				ID:        "date",
				Label:     "Date",
				Enabled:   true,
				Deletable: true,
				DataType:  TypeString,
				Rule:      ExactRule(),
			},
			{
				ID:        "description",
				Label:     "Description",
				Enabled:   false,
				Deletable: true,
				DataType:  TypeString,
				Rule:      FuzzyRule(85),
			},
		},
		Mappings: ColumnMappings{
			Own: ColumnMapping{
				"reference":   "Reference",
				"amount":      "Amount",
				"date":        "Date",
				"description": "Description",
			},
			Counterparty: ColumnMapping{
				"reference":   "Reference",
				"amount":      "Amount",
				"date":        "Date",
				"description": "Description",
			},
		},
		Aggregation: AggregationSettings{
			Enabled:      false,
			KeyFieldID:   "reference",
			ValueFieldID: "amount",
		},
		AmountFieldID:    "amount",
		PartialThreshold: 0.5,
		EmptyConfidence:  0.5,
	}
}

// UnmarshalJSON applies the documented defaults for thresholds a settings
// document omits: both the partial-match threshold and the empty-vs-empty
// neutral confidence default to 0.5.
func (s *Settings) UnmarshalJSON(data []byte) error {
	type Alias Settings
	aux := &struct {
		PartialThreshold *float64 `json:"partial_threshold"`
		EmptyConfidence  *float64 `json:"empty_confidence"`
		*Alias
	}{
		Alias: (*Alias)(s),
	}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	s.PartialThreshold = 0.5
	if aux.PartialThreshold != nil {
		s.PartialThreshold = *aux.PartialThreshold
	}
	s.EmptyConfidence = 0.5
	if aux.EmptyConfidence != nil {
		s.EmptyConfidence = *aux.EmptyConfidence
	}
	return nil
}

// FieldByID looks up a field definition.
func (s *Settings) FieldByID(id string) (*MatchingField, bool) {
	for i := range s.Fields {
		if s.Fields[i].ID == id {
			return &s.Fields[i], true
		}
	}
	return nil, false
}

// EnabledFields returns the fields participating in comparison, in
// declaration order.
func (s *Settings) EnabledFields() []MatchingField {
	var enabled []MatchingField
	for _, f := range s.Fields {
		if f.Enabled {
			enabled = append(enabled, f)
		}
	}
	return enabled
}

/// Validate checks the whole document. Any error here is fatal: the engine
// refuses to run on invalid settings.
func (s *Settings) Validate() error {
	seen := make(map[string]bool, len(s.Fields))
	for i := range s.Fields {
		f := &s.Fields[i]
		if err := f.Validate(); err != nil {
			return err
		}
		if seen[f.ID] {
			return apperrors.Configuration(apperrors.CodeDuplicateField, f.ID, "duplicate field ID")
		}
		seen[f.ID] = true
	}

	if len(s.EnabledFields()) == 0 {
		return apperrors.Configuration(apperrors.CodeNoEnabledFields, "fields",
			"at least one field must be enabled")
	}

	if s.Aggregation.Enabled {
		if _, ok := s.FieldByID(s.Aggregation.KeyFieldID); !ok {
			return apperrors.Configuration(apperrors.CodeBadAggregation, s.Aggregation.KeyFieldID,
				"aggregation key references an unknown field")
		}
		valueField, ok := s.FieldByID(s.Aggregation.ValueFieldID)
		if !ok {
			return apperrors.Configuration(apperrors.CodeBadAggregation, s.Aggregation.ValueFieldID,
				"aggregation value field references an unknown field")
		}
		if valueField.DataType != TypeNumber {
			return apperrors.Configuration(apperrors.CodeBadAggregation, s.Aggregation.ValueFieldID,
				"aggregation value field must be numeric")
		}
	}

	if s.AmountFieldID != "" {
		if _, ok := s.FieldByID(s.AmountFieldID); !ok {
			return apperrors.Configuration(apperrors.CodeInvalidConfig, s.AmountFieldID,
				"amount field references an unknown field")
		}
	}

	if s.PartialThreshold < 0 || s.PartialThreshold > 1 {
		return apperrors.Configuration(apperrors.CodeBadThreshold, "partial_threshold",
			fmt.Sprintf("must be between 0.0 and 1.0, got %v", s.PartialThreshold))
	}
	if s.EmptyConfidence < 0 || s.EmptyConfidence > 1 {
		return apperrors.Configuration(apperrors.CodeBadThreshold, "empty_confidence",
			fmt.Sprintf("must be between 0.0 and 1.0, got %v", s.EmptyConfidence))
	}

	return nil
}

// Clone creates a deep copy of the settings.
func (s *Settings) Clone() *Settings {
	if s == nil {
		return nil
	}

	clone := &Settings{
		Fields:           make([]MatchingField, len(s.Fields)),
		Aggregation:      s.Aggregation,
		AmountFieldID:    s.AmountFieldID,
		PartialThreshold: s.PartialThreshold,
		EmptyConfidence:  s.EmptyConfidence,
	}
	copy(clone.Fields, s.Fields)

	clone.Mappings.Own = make(ColumnMapping, len(s.Mappings.Own))
	for k, v := range s.Mappings.Own {
		clone.Mappings.Own[k] = v
	}
	clone.Mappings.Counterparty = make(ColumnMapping, len(s.Mappings.Counterparty))
	for k, v := range s.Mappings.Counterparty {
		clone.Mappings.Counterparty[k] = v
	}

	return clone
}

// MappingFor returns the column mapping for a source.
func (s *Settings) MappingFor(source string) ColumnMapping {
	if source == "counterparty" {
		return s.Mappings.Counterparty
	}
	return s.Mappings.Own
}

// Parse decodes and validates a settings document.
func Parse(data []byte) (*Settings, error) {
	s := &Settings{}
	if err := json.Unmarshal(data, s); err != nil {
		return nil, apperrors.Wrap(err, apperrors.CategoryConfiguration,
			apperrors.CodeInvalidConfig, "cannot parse settings document").
			WithSuggestion("check the settings JSON for syntax errors and unknown rule kinds")
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Load reads and validates a settings document from disk.
func Load(path string) (*Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apperrors.File(apperrors.CodeFileNotFound, path, err)
		}
		return nil, apperrors.File(apperrors.CodeFileRead, path, err)
	}
	return Parse(data)
}
