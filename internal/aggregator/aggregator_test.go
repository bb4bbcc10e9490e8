package aggregator

import (
	"reflect"
	"testing"

	"ledger-reconciler/internal/records"
	"ledger-reconciler/internal/settings"

	"github.com/shopspring/decimal"
)

func aggSettings(enabled bool) settings.AggregationSettings {
	return settings.AggregationSettings{
		Enabled:      enabled,
		KeyFieldID:   "reference",
		ValueFieldID: "amount",
	}
}

func counterpartyRecord(index int, reference string, amount float64) records.NormalizedRecord {
	return *records.NewNormalizedRecord(records.SourceCounterparty, index, map[string]records.Value{
		"reference": records.StringValue(reference),
		"amount":    records.NumberValue(decimal.NewFromFloat(amount)),
	})
}

func TestAggregate_SplitRecordsSummed(t *testing.T) {
	recs := []records.NormalizedRecord{
		counterpartyRecord(0, "A", 40),
		counterpartyRecord(1, "A", 35),
	}

	out := Aggregate(recs, aggSettings(true))

	if len(out) != 1 {
		t.Fatalf("Expected 1 synthetic record, got %d", len(out))
	}

	synthetic := out[0]
	if !synthetic.Field("amount").Number.Equal(decimal.NewFromInt(75)) {
		t.Errorf("Expected summed amount 75, got %s", synthetic.Field("amount").Number)
	}
	if !reflect.DeepEqual(synthetic.RowIndexes, []int{0, 1}) {
		t.Errorf("Expected row indexes [0 1], got %v", synthetic.RowIndexes)
	}
	if !synthetic.IsAggregated() {
		t.Error("Expected the synthetic record to report as aggregated")
	}
}

func TestAggregate_FirstMemberWinsNonSummedFields(t *testing.T) {
	first := counterpartyRecord(0, "A", 40)
	first.Fields["date"] = records.StringValue("2024-01-15")
	second := counterpartyRecord(1, "A", 35)
	second.Fields["date"] = records.StringValue("2024-01-20")

	out := Aggregate([]records.NormalizedRecord{first, second}, aggSettings(true))

	if len(out) != 1 {
		t.Fatalf("Expected 1 record, got %d", len(out))
	}
	if got := out[0].Field("date").Text; got != "2024-01-15" {
		t.Errorf("Expected first member's date to win, got %q", got)
	}
}

func TestAggregate_SingletonPassesThrough(t *testing.T) {
	recs := []records.NormalizedRecord{
		counterpartyRecord(0, "A", 40),
		counterpartyRecord(1, "B", 35),
	}

	out := Aggregate(recs, aggSettings(true))

	if len(out) != 2 {
		t.Fatalf("Expected 2 records, got %d", len(out))
	}
	for _, rec := range out {
		if rec.IsAggregated() {
			t.Errorf("Expected singleton %s to pass through unchanged", rec.ID)
		}
	}
}

func TestAggregate_DisabledIsIdentity(t *testing.T) {
	recs := []records.NormalizedRecord{
		counterpartyRecord(0, "A", 40),
		counterpartyRecord(1, "A", 35),
	}

	out := Aggregate(recs, aggSettings(false))

	if !reflect.DeepEqual(out, recs) {
		t.Error("Expected disabled aggregation to return the input unchanged")
	}
}

func TestAggregate_EmptyKeyNeverGrouped(t *testing.T) {
	recs := []records.NormalizedRecord{
		counterpartyRecord(0, "", 40),
		counterpartyRecord(1, "", 35),
	}

	out := Aggregate(recs, aggSettings(true))

	if len(out) != 2 {
		t.Fatalf("Expected empty-key rows to pass through, got %d records", len(out))
	}
}

func TestAggregate_OutputOrderDeterministic(t *testing.T) {
	recs := []records.NormalizedRecord{
		counterpartyRecord(0, "B", 10),
		counterpartyRecord(1, "A", 40),
		counterpartyRecord(2, "B", 20),
		counterpartyRecord(3, "C", 5),
	}

	out := Aggregate(recs, aggSettings(true))

	if len(out) != 3 {
		t.Fatalf("Expected 3 records, got %d", len(out))
	}
	// Earliest original row first: B group (row 0), A (row 1), C (row 3).
	if out[0].PrimaryIndex() != 0 || out[1].PrimaryIndex() != 1 || out[2].PrimaryIndex() != 3 {
		t.Errorf("Unexpected output order: %v, %v, %v",
			out[0].RowIndexes, out[1].RowIndexes, out[2].RowIndexes)
	}
	if !out[0].Field("amount").Number.Equal(decimal.NewFromInt(30)) {
		t.Errorf("Expected B group sum 30, got %s", out[0].Field("amount").Number)
	}
}
