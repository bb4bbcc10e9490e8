package engine

import (
	"context"
	"reflect"
	"testing"

	"ledger-reconciler/internal/records"
	"ledger-reconciler/internal/settings"
	apperrors "ledger-reconciler/pkg/errors"

	"github.com/shopspring/decimal"
)

func testSettings() *settings.Settings {
	return &settings.Settings{
		Fields: []settings.MatchingField{
			{ID: "reference", Label: "Reference", Enabled: true, DataType: settings.TypeString, Rule: settings.ExactRule()},
			{ID: "amount", Label: "Amount", Enabled: true, DataType: settings.TypeNumber, Rule: settings.NumericDiffRule(decimal.NewFromInt(2))},
		},
		Mappings: settings.ColumnMappings{
			Own:          settings.ColumnMapping{"reference": "Reference", "amount": "Amount"},
			Counterparty: settings.ColumnMapping{"reference": "Reference", "amount": "Amount"},
		},
		Aggregation:      settings.AggregationSettings{KeyFieldID: "reference", ValueFieldID: "amount"},
		AmountFieldID:    "amount",
		PartialThreshold: 0.5,
		EmptyConfidence:  0.5,
	}
}

func record(source records.Source, index int, reference string, amount float64) records.NormalizedRecord {
	return *records.NewNormalizedRecord(source, index, map[string]records.Value{
		"reference": records.StringValue(reference),
		"amount":    records.NumberValue(decimal.NewFromFloat(amount)),
	})
}

func ownRecord(index int, reference string, amount float64) records.NormalizedRecord {
	return record(records.SourceOwn, index, reference, amount)
}

func cpRecord(index int, reference string, amount float64) records.NormalizedRecord {
	return record(records.SourceCounterparty, index, reference, amount)
}

func mustEngine(t *testing.T, s *settings.Settings) *Engine {
	t.Helper()
	eng, err := New(s)
	if err != nil {
		t.Fatalf("Unexpected engine error: %v", err)
	}
	return eng
}

func TestNew_RejectsInvalidSettings(t *testing.T) {
	if _, err := New(nil); err == nil {
		t.Error("Expected error for nil settings")
	}

	s := testSettings()
	for i := range s.Fields {
		s.Fields[i].Enabled = false
	}
	_, err := New(s)
	if err == nil {
		t.Fatal("Expected error for settings with no enabled fields")
	}
	if !apperrors.IsCategory(err, apperrors.CategoryConfiguration) {
		t.Errorf("Expected a configuration error, got %v", err)
	}
}

func TestReconcile_IdentityMatchesEverything(t *testing.T) {
	eng := mustEngine(t, testSettings())

	own := []records.NormalizedRecord{
		ownRecord(0, "INV-1", 100),
		ownRecord(1, "INV-2", 250),
		ownRecord(2, "INV-3", 75.25),
	}
	counterparty := []records.NormalizedRecord{
		cpRecord(0, "INV-1", 100),
		cpRecord(1, "INV-2", 250),
		cpRecord(2, "INV-3", 75.25),
	}

	result, err := eng.Reconcile(context.Background(), own, counterparty)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if result.Summary.Matched != 3 {
		t.Errorf("Expected 3 matched, got %d", result.Summary.Matched)
	}
	if result.Summary.PartialMatch != 0 || result.Summary.MissingInCounterparty != 0 || result.Summary.MissingInOwn != 0 {
		t.Errorf("Expected no other statuses, got %+v", result.Summary)
	}
	if !result.Summary.TotalAmountDifference.IsZero() {
		t.Errorf("Expected zero amount difference, got %s", result.Summary.TotalAmountDifference)
	}
}

func TestReconcile_PartialMatch(t *testing.T) {
	eng := mustEngine(t, testSettings())

	// reference passes, amount differs by 5 against a max diff of 2.
	own := []records.NormalizedRecord{ownRecord(0, "INV-1", 100)}
	counterparty := []records.NormalizedRecord{cpRecord(0, "INV-1", 105)}

	result, err := eng.Reconcile(context.Background(), own, counterparty)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if len(result.Records) != 1 {
		t.Fatalf("Expected 1 record, got %d", len(result.Records))
	}

	rec := result.Records[0]
	if rec.Status != records.StatusPartialMatch {
		t.Errorf("Expected PARTIAL_MATCH, got %s", rec.Status)
	}

	var refPassed, amountPassed bool
	for _, outcome := range rec.FieldOutcomes {
		switch outcome.FieldID {
		case "reference":
			refPassed = outcome.Passed
		case "amount":
			amountPassed = outcome.Passed
		}
	}
	if !refPassed || amountPassed {
		t.Errorf("Expected reference pass and amount fail, got %+v", rec.FieldOutcomes)
	}

	if !result.Summary.TotalAmountDifference.Equal(decimal.NewFromInt(5)) {
		t.Errorf("Expected amount difference 5, got %s", result.Summary.TotalAmountDifference)
	}
}

func TestReconcile_MissingBothWays(t *testing.T) {
	eng := mustEngine(t, testSettings())

	own := []records.NormalizedRecord{
		ownRecord(0, "INV-1", 100),
		ownRecord(1, "INV-9", 999),
	}
	counterparty := []records.NormalizedRecord{
		cpRecord(0, "INV-1", 100),
		cpRecord(1, "STMT-X", 5),
	}

	result, err := eng.Reconcile(context.Background(), own, counterparty)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if result.Summary.Matched != 1 {
		t.Errorf("Expected 1 matched, got %d", result.Summary.Matched)
	}
	if result.Summary.MissingInCounterparty != 1 {
		t.Errorf("Expected 1 missing in counterparty, got %d", result.Summary.MissingInCounterparty)
	}
	if result.Summary.MissingInOwn != 1 {
		t.Errorf("Expected 1 missing in own, got %d", result.Summary.MissingInOwn)
	}
}

func TestReconcile_TieBreakLowestRowIndex(t *testing.T) {
	eng := mustEngine(t, testSettings())

	own := []records.NormalizedRecord{ownRecord(0, "INV-1", 100)}
	// Two identical candidates: the earlier row must win.
	counterparty := []records.NormalizedRecord{
		cpRecord(0, "INV-1", 100),
		cpRecord(1, "INV-1", 100),
	}

	result, err := eng.Reconcile(context.Background(), own, counterparty)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	matched := result.Records[0]
	if matched.Status != records.StatusMatched {
		t.Fatalf("Expected MATCHED, got %s", matched.Status)
	}
	if matched.Counterparty.PrimaryIndex() != 0 {
		t.Errorf("Expected the earliest counterparty row to be consumed, got row %d",
			matched.Counterparty.PrimaryIndex())
	}
}

func TestReconcile_ConsumptionIsOneToOne(t *testing.T) {
	eng := mustEngine(t, testSettings())

	// Two own records compete for one candidate: the first own record in
	// input order consumes it, the second goes missing.
	own := []records.NormalizedRecord{
		ownRecord(0, "INV-1", 100),
		ownRecord(1, "INV-1", 100),
	}
	counterparty := []records.NormalizedRecord{cpRecord(0, "INV-1", 100)}

	result, err := eng.Reconcile(context.Background(), own, counterparty)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if result.Records[0].Status != records.StatusMatched {
		t.Errorf("Expected first own record matched, got %s", result.Records[0].Status)
	}
	if result.Records[1].Status != records.StatusMissingInCounterparty {
		t.Errorf("Expected second own record missing, got %s", result.Records[1].Status)
	}
}

func TestReconcile_BestScoreWins(t *testing.T) {
	eng := mustEngine(t, testSettings())

	own := []records.NormalizedRecord{ownRecord(0, "INV-1", 100)}
	// Both candidates pass all fields; the exact amount scores higher.
	counterparty := []records.NormalizedRecord{
		cpRecord(0, "INV-1", 101),
		cpRecord(1, "INV-1", 100),
	}

	result, err := eng.Reconcile(context.Background(), own, counterparty)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	matched := result.Records[0]
	if matched.Counterparty.PrimaryIndex() != 1 {
		t.Errorf("Expected the exact-amount candidate to win, got row %d",
			matched.Counterparty.PrimaryIndex())
	}
}

func TestReconcile_Completeness(t *testing.T) {
	eng := mustEngine(t, testSettings())

	own := []records.NormalizedRecord{
		ownRecord(0, "INV-1", 100),
		ownRecord(1, "INV-2", 200),
		ownRecord(2, "INV-3", 300),
	}
	counterparty := []records.NormalizedRecord{
		cpRecord(0, "INV-2", 200),
		cpRecord(1, "STMT-A", 1),
		cpRecord(2, "INV-1", 103), // partial on amount
	}

	result, err := eng.Reconcile(context.Background(), own, counterparty)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	ownSeen := make(map[string]int)
	cpSeen := make(map[string]int)
	for _, rec := range result.Records {
		if rec.Own != nil {
			ownSeen[rec.Own.ID]++
		}
		if rec.Counterparty != nil {
			cpSeen[rec.Counterparty.ID]++
		}
	}

	for _, r := range own {
		if ownSeen[r.ID] != 1 {
			t.Errorf("Own record %s appears %d times, want exactly once", r.ID, ownSeen[r.ID])
		}
	}
	for _, r := range counterparty {
		if cpSeen[r.ID] != 1 {
			t.Errorf("Counterparty record %s appears %d times, want exactly once", r.ID, cpSeen[r.ID])
		}
	}
}

func TestReconcile_Deterministic(t *testing.T) {
	own := []records.NormalizedRecord{
		ownRecord(0, "INV-1", 100),
		ownRecord(1, "INV-2", 200),
		ownRecord(2, "INV-2", 200),
	}
	counterparty := []records.NormalizedRecord{
		cpRecord(0, "INV-2", 200),
		cpRecord(1, "INV-1", 100),
		cpRecord(2, "INV-2", 200),
	}

	eng := mustEngine(t, testSettings())
	first, err := eng.Reconcile(context.Background(), own, counterparty)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	second, err := eng.Reconcile(context.Background(), own, counterparty)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if !reflect.DeepEqual(first, second) {
		t.Error("Expected identical results across reruns")
	}
}

func TestReconcile_ConcurrentScoringMatchesSequential(t *testing.T) {
	own := make([]records.NormalizedRecord, 0, 20)
	counterparty := make([]records.NormalizedRecord, 0, 20)
	for i := 0; i < 20; i++ {
		own = append(own, ownRecord(i, "INV-"+string(rune('A'+i%7)), float64(10*i)))
		counterparty = append(counterparty, cpRecord(i, "INV-"+string(rune('A'+i%5)), float64(10*i+1)))
	}

	sequential := mustEngine(t, testSettings())
	seqResult, err := sequential.Reconcile(context.Background(), own, counterparty)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	concurrent := mustEngine(t, testSettings())
	concurrent.ScoringWorkers = 4
	conResult, err := concurrent.Reconcile(context.Background(), own, counterparty)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if !reflect.DeepEqual(seqResult, conResult) {
		t.Error("Expected concurrent scoring to produce the sequential result")
	}
}

func TestReconcile_CancelledContextReturnsNothing(t *testing.T) {
	eng := mustEngine(t, testSettings())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := eng.Reconcile(ctx, []records.NormalizedRecord{ownRecord(0, "INV-1", 1)}, nil)
	if err == nil {
		t.Fatal("Expected an error from a cancelled context")
	}
	if result != nil {
		t.Error("Expected no partial result on cancellation")
	}
	if !apperrors.IsCategory(err, apperrors.CategoryReconciliation) {
		t.Errorf("Expected a reconciliation error, got %v", err)
	}
}

func TestReconcile_DisabledFieldExcluded(t *testing.T) {
	s := testSettings()
	s.Fields[1].Enabled = false // ignore amount entirely

	eng := mustEngine(t, s)
	own := []records.NormalizedRecord{ownRecord(0, "INV-1", 100)}
	counterparty := []records.NormalizedRecord{cpRecord(0, "INV-1", 9999)}

	result, err := eng.Reconcile(context.Background(), own, counterparty)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if result.Records[0].Status != records.StatusMatched {
		t.Errorf("Expected MATCHED with amount disabled, got %s", result.Records[0].Status)
	}
	if len(result.Records[0].FieldOutcomes) != 1 {
		t.Errorf("Expected only the reference outcome, got %+v", result.Records[0].FieldOutcomes)
	}
	// The amount field is disabled, so no difference is tracked.
	if !result.Summary.TotalAmountDifference.IsZero() {
		t.Errorf("Expected zero amount difference, got %s", result.Summary.TotalAmountDifference)
	}
}

func TestRun_AggregationEndToEnd(t *testing.T) {
	s := testSettings()
	s.Aggregation.Enabled = true

	ownRows := []records.RawRow{
		{Source: records.SourceOwn, Index: 0, Cells: map[string]string{"Reference": "A", "Amount": "75"}},
	}
	counterpartyRows := []records.RawRow{
		{Source: records.SourceCounterparty, Index: 0, Cells: map[string]string{"Reference": "A", "Amount": "40"}},
		{Source: records.SourceCounterparty, Index: 1, Cells: map[string]string{"Reference": "A", "Amount": "35"}},
	}

	result, diags, err := Run(context.Background(), ownRows, counterpartyRows, s)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if diags.HasProblems() {
		t.Errorf("Expected clean diagnostics, got %+v", diags)
	}

	if result.Summary.Matched != 1 {
		t.Fatalf("Expected the split rows to aggregate and match, got %+v", result.Summary)
	}

	matched := result.Records[0]
	if !reflect.DeepEqual(matched.Counterparty.RowIndexes, []int{0, 1}) {
		t.Errorf("Expected the match to trace back to both source rows, got %v",
			matched.Counterparty.RowIndexes)
	}
	if result.Summary.TotalCounterparty != 1 {
		t.Errorf("Expected the aggregated record to count once, got %d", result.Summary.TotalCounterparty)
	}
}

func TestRun_BelowPartialThresholdGoesMissing(t *testing.T) {
	s := testSettings()

	ownRows := []records.RawRow{
		{Source: records.SourceOwn, Index: 0, Cells: map[string]string{"Reference": "INV-1", "Amount": "100"}},
	}
	counterpartyRows := []records.RawRow{
		{Source: records.SourceCounterparty, Index: 0, Cells: map[string]string{"Reference": "ZZZZZ", "Amount": "90000"}},
	}

	result, _, err := Run(context.Background(), ownRows, counterpartyRows, s)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if result.Summary.MissingInCounterparty != 1 || result.Summary.MissingInOwn != 1 {
		t.Errorf("Expected both records unmatched, got %+v", result.Summary)
	}
}
