package mapper

import (
	"testing"

	"ledger-reconciler/internal/records"
	"ledger-reconciler/internal/settings"

	"github.com/shopspring/decimal"
)

func testFields() []settings.MatchingField {
	return []settings.MatchingField{
		{ID: "reference", Enabled: true, DataType: settings.TypeString, Rule: settings.ExactRule()},
		{ID: "amount", Enabled: true, DataType: settings.TypeNumber, Rule: settings.NumericDiffRule(decimal.Zero)},
	}
}

func testMapping() settings.ColumnMapping {
	return settings.ColumnMapping{
		"reference": "Ref No",
		"amount":    "Total",
	}
}

func rawRow(index int, cells map[string]string) records.RawRow {
	return records.RawRow{Source: records.SourceOwn, Index: index, Cells: cells}
}

func TestNormalize(t *testing.T) {
	rows := []records.RawRow{
		rawRow(0, map[string]string{"Ref No": "INV-1", "Total": "100.50"}),
		rawRow(1, map[string]string{"Ref No": " INV-2 ", "Total": "1,250.00"}),
	}

	normalized, diags := Normalize(rows, testMapping(), testFields())

	if len(normalized) != 2 {
		t.Fatalf("Expected 2 normalized records, got %d", len(normalized))
	}
	if diags.HasProblems() {
		t.Errorf("Expected no diagnostics, got %+v", diags)
	}

	first := normalized[0]
	if got := first.Field("reference").Text; got != "INV-1" {
		t.Errorf("Expected reference INV-1, got %q", got)
	}
	if !first.Field("amount").Number.Equal(decimal.NewFromFloat(100.50)) {
		t.Errorf("Expected amount 100.50, got %s", first.Field("amount").Number)
	}

	// Thousands separators are stripped, strings trimmed.
	second := normalized[1]
	if got := second.Field("reference").Text; got != "INV-2" {
		t.Errorf("Expected trimmed reference INV-2, got %q", got)
	}
	if !second.Field("amount").Number.Equal(decimal.NewFromInt(1250)) {
		t.Errorf("Expected amount 1250, got %s", second.Field("amount").Number)
	}
}

func TestNormalize_CoercionFailureKeepsRow(t *testing.T) {
	rows := []records.RawRow{
		rawRow(0, map[string]string{"Ref No": "INV-1", "Total": "not a number"}),
	}

	normalized, diags := Normalize(rows, testMapping(), testFields())

	if len(normalized) != 1 {
		t.Fatalf("Expected the row to be carried forward, got %d records", len(normalized))
	}
	if diags.CoercionErrors != 1 {
		t.Errorf("Expected 1 coercion error, got %d", diags.CoercionErrors)
	}

	amount := normalized[0].Field("amount")
	if !amount.Missing {
		t.Error("Expected the failed cell to become a missing value")
	}
	if !amount.Number.IsZero() {
		t.Errorf("Expected zero amount, got %s", amount.Number)
	}
	// The row is still matchable on reference.
	if normalized[0].Field("reference").Text != "INV-1" {
		t.Error("Expected reference to survive the coercion failure")
	}
}

func TestNormalize_UnmappableRowExcluded(t *testing.T) {
	rows := []records.RawRow{
		rawRow(0, map[string]string{"Ref No": "INV-1", "Total": "10"}),
		rawRow(1, map[string]string{"Unrelated": "x"}),
	}

	normalized, diags := Normalize(rows, testMapping(), testFields())

	if len(normalized) != 1 {
		t.Fatalf("Expected 1 normalized record, got %d", len(normalized))
	}
	if diags.UnmappableRows != 1 {
		t.Errorf("Expected 1 unmappable row, got %d", diags.UnmappableRows)
	}
	if len(diags.SampleRows) != 1 || diags.SampleRows[0] != 1 {
		t.Errorf("Expected sample row [1], got %v", diags.SampleRows)
	}
}

func TestNormalize_UnmappedFieldResolvesEmpty(t *testing.T) {
	mapping := settings.ColumnMapping{"reference": "Ref No"} // amount unmapped

	rows := []records.RawRow{
		rawRow(0, map[string]string{"Ref No": "INV-1", "Total": "10"}),
	}

	normalized, diags := Normalize(rows, mapping, testFields())

	if len(normalized) != 1 {
		t.Fatalf("Expected 1 record, got %d", len(normalized))
	}
	if diags.CoercionErrors != 0 {
		t.Errorf("Unmapped fields are not coercion errors, got %d", diags.CoercionErrors)
	}

	amount := normalized[0].Field("amount")
	if !amount.Missing || !amount.Numeric {
		t.Errorf("Expected a missing numeric value, got %+v", amount)
	}
}

func TestNormalize_Deterministic(t *testing.T) {
	rows := []records.RawRow{
		rawRow(0, map[string]string{"Ref No": "INV-1", "Total": "10"}),
		rawRow(1, map[string]string{"Ref No": "INV-2", "Total": "20"}),
	}

	first, _ := Normalize(rows, testMapping(), testFields())
	second, _ := Normalize(rows, testMapping(), testFields())

	for i := range first {
		if first[i].ID != second[i].ID {
			t.Errorf("Expected identical record IDs across runs, got %q vs %q", first[i].ID, second[i].ID)
		}
	}
}

func TestParseAmount(t *testing.T) {
	tests := []struct {
		input   string
		want    string
		wantErr bool
	}{
		{"100.50", "100.5", false},
		{"1,250.00", "1250", false},
		{"$99.99", "99.99", false},
		{"-42", "-42", false},
		{"abc", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseAmount(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Errorf("Expected error for %q", tt.input)
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error for %q: %v", tt.input, err)
			}
			want, _ := decimal.NewFromString(tt.want)
			if !got.Equal(want) {
				t.Errorf("ParseAmount(%q) = %s, want %s", tt.input, got, want)
			}
		})
	}
}
