// Package reporter renders reconciliation results for people and machines.
//
// Three output formats are supported:
//   - Console: human-readable summary and per-status sections
//   - JSON: the full result document for programmatic consumption
//   - CSV: one line per classified record for spreadsheet tools
package reporter

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"ledger-reconciler/internal/engine"
	"ledger-reconciler/internal/mapper"
	"ledger-reconciler/internal/records"
	apperrors "ledger-reconciler/pkg/errors"
)

// OutputFormat selects the report rendering.
type OutputFormat string

const (
	FormatConsole OutputFormat = "console"
	FormatJSON    OutputFormat = "json"
	FormatCSV     OutputFormat = "csv"
)

// IsValid checks whether the output format is supported.
func (f OutputFormat) IsValid() bool {
	switch f {
	case FormatConsole, FormatJSON, FormatCSV:
		return true
	default:
		return false
	}
}

// Config controls report generation.
type Config struct {
	Format OutputFormat `json:"format"`

	// IncludeMatched lists fully matched pairs in console output. Missing
	// and partial records are always listed.
	IncludeMatched bool `json:"include_matched"`

	// IncludeFieldBreakdown lists the per-field pass/fail behind partial
	// matches in console output.
	IncludeFieldBreakdown bool `json:"include_field_breakdown"`

	// SortByScore orders records within each console section by descending
	// score instead of input order.
	SortByScore bool `json:"sort_by_score"`

	// CSV options.
	CSVDelimiter rune `json:"csv_delimiter"`
	CSVHeaders   bool `json:"csv_headers"`
}

// DefaultConfig returns the standard console report configuration.
func DefaultConfig() *Config {
	return &Config{
		Format:                FormatConsole,
		IncludeMatched:        false,
		IncludeFieldBreakdown: true,
		CSVDelimiter:          ',',
		CSVHeaders:            true,
	}
}

// Validate checks the report configuration.
func (c *Config) Validate() error {
	if !c.Format.IsValid() {
		return apperrors.Configuration(apperrors.CodeInvalidConfig, "output_format",
			fmt.Sprintf("unsupported format %q", c.Format))
	}
	return nil
}

// Reporter renders results according to its configuration.
type Reporter struct {
	config *Config
}

// New builds a reporter, falling back to the default configuration when
// config is nil.
func New(config *Config) (*Reporter, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Reporter{config: config}, nil
}

// Write renders the result to w in the configured format.
func (r *Reporter) Write(w io.Writer, result *records.Result, diags *engine.RunDiagnostics) error {
	switch r.config.Format {
	case FormatJSON:
		return r.writeJSON(w, result, diags)
	case FormatCSV:
		return r.writeCSV(w, result)
	default:
		return r.writeConsole(w, result, diags)
	}
}

// jsonReport is the top-level JSON document.
type jsonReport struct {
	GeneratedAt time.Time              `json:"generated_at"`
	Summary     *records.Summary       `json:"summary"`
	Records     []jsonRecord           `json:"records"`
	Diagnostics *engine.RunDiagnostics `json:"diagnostics,omitempty"`
}

// jsonRecord flattens one classified record for output.
type jsonRecord struct {
	Status           records.MatchStatus    `json:"status"`
	Score            float64                `json:"score"`
	OwnRows          []int                  `json:"own_rows,omitempty"`
	CounterpartyRows []int                  `json:"counterparty_rows,omitempty"`
	Own              map[string]string      `json:"own,omitempty"`
	Counterparty     map[string]string      `json:"counterparty,omitempty"`
	Fields           []records.FieldOutcome `json:"fields,omitempty"`
}

func (r *Reporter) writeJSON(w io.Writer, result *records.Result, diags *engine.RunDiagnostics) error {
	report := jsonReport{
		GeneratedAt: time.Now().UTC(),
		Summary:     &result.Summary,
		Records:     make([]jsonRecord, 0, len(result.Records)),
		Diagnostics: diags,
	}

	for _, rec := range result.Records {
		jr := jsonRecord{
			Status: rec.Status,
			Score:  rec.Score,
			Fields: rec.FieldOutcomes,
		}
		if rec.Own != nil {
			jr.OwnRows = rec.Own.RowIndexes
			jr.Own = fieldStrings(rec.Own)
		}
		if rec.Counterparty != nil {
			jr.CounterpartyRows = rec.Counterparty.RowIndexes
			jr.Counterparty = fieldStrings(rec.Counterparty)
		}
		report.Records = append(report.Records, jr)
	}

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(report)
}

func (r *Reporter) writeCSV(w io.Writer, result *records.Result) error {
	writer := csv.NewWriter(w)
	writer.Comma = r.config.CSVDelimiter

	fieldIDs := collectFieldIDs(result)

	if r.config.CSVHeaders {
		header := []string{"status", "score", "own_rows", "counterparty_rows"}
		for _, id := range fieldIDs {
			header = append(header, "own_"+id, "counterparty_"+id)
		}
		if err := writer.Write(header); err != nil {
			return err
		}
	}

	for _, rec := range result.Records {
		row := []string{
			rec.Status.String(),
			strconv.FormatFloat(rec.Score, 'f', 4, 64),
			joinIndexes(rec.Own),
			joinIndexes(rec.Counterparty),
		}
		for _, id := range fieldIDs {
			row = append(row, recordField(rec.Own, id), recordField(rec.Counterparty, id))
		}
		if err := writer.Write(row); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

func (r *Reporter) writeConsole(w io.Writer, result *records.Result, diags *engine.RunDiagnostics) error {
	s := &result.Summary

	fmt.Fprintln(w, "RECONCILIATION SUMMARY")
	fmt.Fprintln(w, strings.Repeat("=", 50))
	fmt.Fprintf(w, "Own records:             %d\n", s.TotalOwn)
	fmt.Fprintf(w, "Counterparty records:    %d\n", s.TotalCounterparty)
	fmt.Fprintf(w, "Matched:                 %d\n", s.Matched)
	fmt.Fprintf(w, "Partial matches:         %d\n", s.PartialMatch)
	fmt.Fprintf(w, "Missing in counterparty: %d\n", s.MissingInCounterparty)
	fmt.Fprintf(w, "Missing in own:          %d\n", s.MissingInOwn)
	fmt.Fprintf(w, "Total amount difference: %s\n", s.TotalAmountDifference.String())

	if diags != nil && diags.HasProblems() {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "DIAGNOSTICS")
		fmt.Fprintln(w, strings.Repeat("-", 50))
		writeDiagnostics(w, diags.Own)
		writeDiagnostics(w, diags.Counterparty)
	}

	sections := []struct {
		status records.MatchStatus
		title  string
	}{
		{records.StatusPartialMatch, "PARTIAL MATCHES"},
		{records.StatusMissingInCounterparty, "MISSING IN COUNTERPARTY"},
		{records.StatusMissingInOwn, "MISSING IN OWN"},
	}
	if r.config.IncludeMatched {
		sections = append([]struct {
			status records.MatchStatus
			title  string
		}{{records.StatusMatched, "MATCHED"}}, sections...)
	}

	for _, section := range sections {
		recs := filterByStatus(result.Records, section.status)
		if len(recs) == 0 {
			continue
		}
		if r.config.SortByScore {
			sort.SliceStable(recs, func(i, j int) bool { return recs[i].Score > recs[j].Score })
		}

		fmt.Fprintln(w)
		fmt.Fprintf(w, "%s (%d)\n", section.title, len(recs))
		fmt.Fprintln(w, strings.Repeat("-", 50))
		for _, rec := range recs {
			r.writeConsoleRecord(w, rec)
		}
	}

	return nil
}

func (r *Reporter) writeConsoleRecord(w io.Writer, rec records.ReconciliationRecord) {
	switch {
	case rec.Own != nil && rec.Counterparty != nil:
		fmt.Fprintf(w, "  own row %s <-> counterparty row %s (score %.2f)\n",
			joinIndexes(rec.Own), joinIndexes(rec.Counterparty), rec.Score)
		if r.config.IncludeFieldBreakdown && rec.Status == records.StatusPartialMatch {
			for _, outcome := range rec.FieldOutcomes {
				mark := "ok"
				if !outcome.Passed {
					mark = "FAIL"
				}
				fmt.Fprintf(w, "      %-16s %-4s own=%q counterparty=%q\n",
					outcome.FieldID, mark,
					recordField(rec.Own, outcome.FieldID),
					recordField(rec.Counterparty, outcome.FieldID))
			}
		}
	case rec.Own != nil:
		fmt.Fprintf(w, "  own row %s: %s\n", joinIndexes(rec.Own), describeRecord(rec.Own))
	case rec.Counterparty != nil:
		fmt.Fprintf(w, "  counterparty row %s: %s\n", joinIndexes(rec.Counterparty), describeRecord(rec.Counterparty))
	}
}

func writeDiagnostics(w io.Writer, d *mapper.Diagnostics) {
	if d == nil || !d.HasProblems() {
		return
	}
	fmt.Fprintf(w, "  %s: %d of %d rows excluded as unmappable, %d cell coercion failures\n",
		d.Source, d.UnmappableRows, d.RowsIn, d.CoercionErrors)
	if len(d.SampleRows) > 0 {
		samples := make([]string, len(d.SampleRows))
		for i, idx := range d.SampleRows {
			samples[i] = strconv.Itoa(idx)
		}
		fmt.Fprintf(w, "    sample rows: %s\n", strings.Join(samples, ", "))
	}
}

func filterByStatus(recs []records.ReconciliationRecord, status records.MatchStatus) []records.ReconciliationRecord {
	var out []records.ReconciliationRecord
	for _, rec := range recs {
		if rec.Status == status {
			out = append(out, rec)
		}
	}
	return out
}

// collectFieldIDs gathers every field ID appearing in the result, sorted
// for a stable column order.
func collectFieldIDs(result *records.Result) []string {
	seen := make(map[string]bool)
	for _, rec := range result.Records {
		for _, side := range []*records.NormalizedRecord{rec.Own, rec.Counterparty} {
			if side == nil {
				continue
			}
			for id := range side.Fields {
				seen[id] = true
			}
		}
	}

	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func fieldStrings(rec *records.NormalizedRecord) map[string]string {
	out := make(map[string]string, len(rec.Fields))
	for id, v := range rec.Fields {
		out[id] = v.String()
	}
	return out
}

func recordField(rec *records.NormalizedRecord, id string) string {
	if rec == nil {
		return ""
	}
	return rec.Field(id).String()
}

func joinIndexes(rec *records.NormalizedRecord) string {
	if rec == nil {
		return ""
	}
	parts := make([]string, len(rec.RowIndexes))
	for i, idx := range rec.RowIndexes {
		parts[i] = strconv.Itoa(idx)
	}
	return strings.Join(parts, "+")
}

func describeRecord(rec *records.NormalizedRecord) string {
	ids := make([]string, 0, len(rec.Fields))
	for id := range rec.Fields {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var parts []string
	for _, id := range ids {
		v := rec.Fields[id]
		if v.IsEmpty() {
			continue
		}
		parts = append(parts, fmt.Sprintf("%s=%s", id, v.String()))
	}
	if len(parts) == 0 {
		return "(empty)"
	}
	return strings.Join(parts, ", ")
}
