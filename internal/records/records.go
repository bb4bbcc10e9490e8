// Package records defines the data types flowing through a reconciliation
// run: raw spreadsheet rows, normalized records, and the classified output.
//
// All types here are constructed fresh for a single run and treated as
// immutable once produced. Record identities are derived from the source and
// row indexes so identical inputs always produce identical output.
package records

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Source tags a row with the side of the reconciliation it came from.
type Source string

const (
	// SourceOwn marks rows from the organization's own ledger export.
	SourceOwn Source = "own"
	// SourceCounterparty marks rows from the counterparty's statement.
	SourceCounterparty Source = "counterparty"
)

// IsValid checks whether the source is one of the two known sides.
func (s Source) IsValid() bool {
	return s == SourceOwn || s == SourceCounterparty
}

func (s Source) String() string {
	return string(s)
}

// RawRow is one spreadsheet row keyed by column header, tagged with its
// source and original zero-based row index.
type RawRow struct {
	Source Source            `json:"source"`
	Index  int               `json:"index"`
	Cells  map[string]string `json:"cells"`
}

// Value is a typed cell value on a normalized record. Exactly one of Text
// or Number is meaningful depending on the owning field's data type.
// Missing marks values that had no mapped column, a blank cell, or a cell
// that failed coercion.
type Value struct {
	Text    string          `json:"text,omitempty"`
	Number  decimal.Decimal `json:"number,omitempty"`
	Numeric bool            `json:"numeric"`
	Missing bool            `json:"missing,omitempty"`
}

// StringValue builds a string Value, trimming surrounding whitespace.
func StringValue(s string) Value {
	return Value{Text: strings.TrimSpace(s)}
}

// NumberValue builds a numeric Value.
func NumberValue(d decimal.Decimal) Value {
	return Value{Number: d, Numeric: true}
}

// MissingValue builds the empty value for a field that could not be
// resolved: empty string for string fields, zero for numeric fields.
func MissingValue(numeric bool) Value {
	return Value{Numeric: numeric, Missing: true}
}

// IsEmpty reports whether the value carries no usable content.
func (v Value) IsEmpty() bool {
	if v.Missing {
		return true
	}
	if v.Numeric {
		return false
	}
	return strings.TrimSpace(v.Text) == ""
}

// String renders the value for reports and logs.
func (v Value) String() string {
	if v.Missing {
		return ""
	}
	if v.Numeric {
		return v.Number.String()
	}
	return v.Text
}

// NormalizedRecord is a spreadsheet row translated into field values keyed
// by matching-field ID. RowIndexes holds the original row index, or several
// indexes for a synthetic record produced by aggregation.
type NormalizedRecord struct {
	ID         string           `json:"id"`
	Source     Source           `json:"source"`
	RowIndexes []int            `json:"row_indexes"`
	Fields     map[string]Value `json:"fields"`
}

// NewNormalizedRecord builds a record for a single source row. The identity
// is derived from the source and index so reruns are byte-identical.
func NewNormalizedRecord(source Source, index int, fields map[string]Value) *NormalizedRecord {
	return &NormalizedRecord{
		ID:         fmt.Sprintf("%s-%d", source, index),
		Source:     source,
		RowIndexes: []int{index},
		Fields:     fields,
	}
}

// NewAggregatedRecord builds a synthetic record covering several source
// rows, identified by the joined index list.
func NewAggregatedRecord(source Source, indexes []int, fields map[string]Value) *NormalizedRecord {
	parts := make([]string, len(indexes))
	for i, idx := range indexes {
		parts[i] = strconv.Itoa(idx)
	}
	return &NormalizedRecord{
		ID:         fmt.Sprintf("%s-agg-%s", source, strings.Join(parts, "+")),
		Source:     source,
		RowIndexes: indexes,
		Fields:     fields,
	}
}

// Field returns the value for a field ID, or a missing string value when
// the record does not carry that field.
func (r *NormalizedRecord) Field(id string) Value {
	if v, ok := r.Fields[id]; ok {
		return v
	}
	return MissingValue(false)
}

// PrimaryIndex returns the first original row index, used for deterministic
// tie-breaking.
func (r *NormalizedRecord) PrimaryIndex() int {
	if len(r.RowIndexes) == 0 {
		return 0
	}
	return r.RowIndexes[0]
}

// IsAggregated reports whether the record covers more than one source row.
func (r *NormalizedRecord) IsAggregated() bool {
	return len(r.RowIndexes) > 1
}

// String returns a short description for logs.
func (r *NormalizedRecord) String() string {
	return fmt.Sprintf("NormalizedRecord{ID: %s, Source: %s, Rows: %v}", r.ID, r.Source, r.RowIndexes)
}

// MatchStatus classifies one reconciliation record.
type MatchStatus string

const (
	// StatusMatched means every enabled field passed its rule.
	StatusMatched MatchStatus = "MATCHED"
	// StatusPartialMatch means the best candidate passed some fields and
	// scored at or above the partial-match threshold.
	StatusPartialMatch MatchStatus = "PARTIAL_MATCH"
	// StatusMissingInCounterparty means no acceptable candidate existed for
	// an own-side record.
	StatusMissingInCounterparty MatchStatus = "MISSING_IN_COUNTERPARTY"
	// StatusMissingInOwn means a counterparty record was never consumed.
	StatusMissingInOwn MatchStatus = "MISSING_IN_OWN"
)

// IsValid checks whether the status is one of the four known outcomes.
func (s MatchStatus) IsValid() bool {
	switch s {
	case StatusMatched, StatusPartialMatch, StatusMissingInCounterparty, StatusMissingInOwn:
		return true
	default:
		return false
	}
}

func (s MatchStatus) String() string {
	return string(s)
}

// FieldOutcome is the per-field pass/fail breakdown behind a classification.
type FieldOutcome struct {
	FieldID    string  `json:"field_id"`
	Passed     bool    `json:"passed"`
	Confidence float64 `json:"confidence"`
}

// ReconciliationRecord is one row of classified output. Own and Counterparty
// are nil for the missing side of an unmatched record.
type ReconciliationRecord struct {
	Status        MatchStatus           `json:"status"`
	Own           *NormalizedRecord     `json:"own,omitempty"`
	Counterparty  *NormalizedRecord     `json:"counterparty,omitempty"`
	Score         float64               `json:"score"`
	FieldOutcomes []FieldOutcome        `json:"field_outcomes,omitempty"`
}

// Summary holds the aggregate counts and monetary difference for a run.
type Summary struct {
	Matched               int             `json:"matched"`
	PartialMatch          int             `json:"partial_match"`
	MissingInCounterparty int             `json:"missing_in_counterparty"`
	MissingInOwn          int             `json:"missing_in_own"`
	TotalOwn              int             `json:"total_own_records"`
	TotalCounterparty     int             `json:"total_counterparty_records"`
	TotalAmountDifference decimal.Decimal `json:"total_amount_difference"`
}

// Count returns the tally for a given status.
func (s *Summary) Count(status MatchStatus) int {
	switch status {
	case StatusMatched:
		return s.Matched
	case StatusPartialMatch:
		return s.PartialMatch
	case StatusMissingInCounterparty:
		return s.MissingInCounterparty
	case StatusMissingInOwn:
		return s.MissingInOwn
	default:
		return 0
	}
}

// MarshalJSON renders the amount difference as a plain string so the
// document round-trips without float precision loss.
func (s *Summary) MarshalJSON() ([]byte, error) {
	type Alias Summary
	return json.Marshal(&struct {
		TotalAmountDifference string `json:"total_amount_difference"`
		*Alias
	}{
		TotalAmountDifference: s.TotalAmountDifference.String(),
		Alias:                 (*Alias)(s),
	})
}

// UnmarshalJSON parses the amount difference back into a decimal.
func (s *Summary) UnmarshalJSON(data []byte) error {
	type Alias Summary
	aux := &struct {
		TotalAmountDifference string `json:"total_amount_difference"`
		*Alias
	}{
		Alias: (*Alias)(s),
	}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	if aux.TotalAmountDifference == "" {
		s.TotalAmountDifference = decimal.Zero
		return nil
	}

	diff, err := decimal.NewFromString(aux.TotalAmountDifference)
	if err != nil {
		return fmt.Errorf("invalid amount difference: %w", err)
	}
	s.TotalAmountDifference = diff
	return nil
}

// Result is the complete output of one reconciliation run.
type Result struct {
	Records []ReconciliationRecord `json:"records"`
	Summary Summary                `json:"summary"`
}
