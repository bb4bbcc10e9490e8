// Package mapper translates raw spreadsheet rows into normalized records
// using a per-source column mapping. It is a pure transformation: identical
// inputs always produce identical records and diagnostics.
package mapper

import (
	"strings"

	"ledger-reconciler/internal/records"
	"ledger-reconciler/internal/settings"
	apperrors "ledger-reconciler/pkg/errors"
	"ledger-reconciler/pkg/logger"

	"github.com/shopspring/decimal"
)

// maxSampleRows caps how many unmappable row references the diagnostics keep.
const maxSampleRows = 10

// Diagnostics reports the non-fatal data problems encountered while
// normalizing one source. Rows with problems are never silently dropped:
// unmappable rows are counted with sample references, and cells that fail
// coercion become empty values on rows that are still carried forward.
type Diagnostics struct {
	Source         records.Source `json:"source"`
	RowsIn         int            `json:"rows_in"`
	RowsNormalized int            `json:"rows_normalized"`
	UnmappableRows int            `json:"unmappable_rows"`
	SampleRows     []int          `json:"sample_rows,omitempty"`
	CoercionErrors int            `json:"coercion_errors"`
}

// HasProblems reports whether any diagnostic was recorded.
func (d *Diagnostics) HasProblems() bool {
	return d.UnmappableRows > 0 || d.CoercionErrors > 0
}

// Normalize maps each raw row's cells onto the configured fields, coercing
// values to each field's data type.
//
// A cell that fails coercion becomes an empty value for that field only;
// the row is still matchable on its other fields. A row where no enabled
// field resolves to any column is excluded entirely and reported in the
// diagnostics.
func Normalize(rows []records.RawRow, mapping settings.ColumnMapping, fields []settings.MatchingField) ([]records.NormalizedRecord, *Diagnostics) {
	log := logger.WithComponent("mapper")

	diags := &Diagnostics{RowsIn: len(rows)}
	if len(rows) > 0 {
		diags.Source = rows[0].Source
	}

	normalized := make([]records.NormalizedRecord, 0, len(rows))
	for _, row := range rows {
		record, mappable := normalizeRow(row, mapping, fields, diags)
		if !mappable {
			diags.UnmappableRows++
			if len(diags.SampleRows) < maxSampleRows {
				diags.SampleRows = append(diags.SampleRows, row.Index)
			}
			continue
		}
		normalized = append(normalized, *record)
	}
	diags.RowsNormalized = len(normalized)

	if diags.HasProblems() {
		log.WithFields(logger.Fields{
			"source":          diags.Source,
			"unmappable_rows": diags.UnmappableRows,
			"coercion_errors": diags.CoercionErrors,
		}).Warn("normalization completed with diagnostics")
	}

	return normalized, diags
}

// normalizeRow resolves every field for one row. The second return value is
// false when no enabled field could be resolved to a present column.
func normalizeRow(row records.RawRow, mapping settings.ColumnMapping, fields []settings.MatchingField, diags *Diagnostics) (*records.NormalizedRecord, bool) {
	values := make(map[string]records.Value, len(fields))
	anyEnabledMapped := false

	for _, field := range fields {
		header, mapped := mapping[field.ID]
		if !mapped || header == "" {
			values[field.ID] = records.MissingValue(field.DataType == settings.TypeNumber)
			continue
		}

		cell, present := row.Cells[header]
		if !present {
			values[field.ID] = records.MissingValue(field.DataType == settings.TypeNumber)
			continue
		}

		if field.Enabled {
			anyEnabledMapped = true
		}
		values[field.ID] = coerce(cell, field, row.Index, diags)
	}

	if !anyEnabledMapped {
		return nil, false
	}
	return records.NewNormalizedRecord(row.Source, row.Index, values), true
}

// coerce converts a raw cell to the field's data type. Failures degrade to
// an empty value and bump the coercion counter.
func coerce(cell string, field settings.MatchingField, rowIndex int, diags *Diagnostics) records.Value {
	if field.DataType == settings.TypeString {
		return records.StringValue(cell)
	}

	trimmed := strings.TrimSpace(cell)
	if trimmed == "" {
		return records.MissingValue(true)
	}

	number, err := ParseAmount(trimmed)
	if err != nil {
		diags.CoercionErrors++
		logger.WithComponent("mapper").
			WithError(apperrors.Coercion(field.ID, rowIndex, cell, err)).
			Debug("cell coercion failed")
		return records.MissingValue(true)
	}
	return records.NumberValue(number)
}

// ParseAmount parses a numeric cell, tolerating currency symbols and
// thousands separators commonly found in exported spreadsheets.
func ParseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, "$", "")
	s = strings.ReplaceAll(s, ",", "")
	s = strings.TrimSpace(s)

	return decimal.NewFromString(s)
}
