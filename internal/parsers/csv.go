// Package parsers reads spreadsheet exports into raw rows for the engine.
// It deliberately knows nothing about matching fields: every cell is kept
// as a string keyed by its column header, and typing happens later in the
// column mapper. This keeps the engine I/O-free and the parser reusable
// for any column layout.
package parsers

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"

	"ledger-reconciler/internal/records"
	apperrors "ledger-reconciler/pkg/errors"
	"ledger-reconciler/pkg/logger"
)

// CSVConfig controls how a spreadsheet export is read.
type CSVConfig struct {
	// Delimiter is the field separator, ',' by default.
	Delimiter rune `json:"delimiter"`
	// HasHeader indicates the first row carries column headers. Without a
	// header, columns are named column_1, column_2, ... in file order.
	HasHeader bool `json:"has_header"`
}

// DefaultCSVConfig returns the standard comma-delimited, headered config.
func DefaultCSVConfig() *CSVConfig {
	return &CSVConfig{
		Delimiter: ',',
		HasHeader: true,
	}
}

// LoadFile reads a CSV file into raw rows tagged with the given source.
func LoadFile(path string, source records.Source, config *CSVConfig) ([]records.RawRow, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apperrors.File(apperrors.CodeFileNotFound, path, err)
		}
		return nil, apperrors.File(apperrors.CodeFileRead, path, err)
	}
	defer file.Close()

	rows, err := Read(file, source, config)
	if err != nil {
		if appErr, ok := apperrors.AsError(err); ok {
			return nil, appErr.WithContext("file", path)
		}
		return nil, err
	}

	logger.WithComponent("parsers").WithFields(logger.Fields{
		"file":   path,
		"source": source,
		"rows":   len(rows),
	}).Debug("loaded spreadsheet")

	return rows, nil
}

// Read parses CSV content into raw rows tagged with the given source. Row
// indexes are zero-based over data rows, excluding the header.
func Read(r io.Reader, source records.Source, config *CSVConfig) ([]records.RawRow, error) {
	if config == nil {
		config = DefaultCSVConfig()
	}
	if !source.IsValid() {
		return nil, apperrors.Internal("csv read", fmt.Errorf("invalid source %q", source))
	}

	reader := csv.NewReader(r)
	reader.Comma = config.Delimiter
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	var headers []string
	var rows []records.RawRow
	line := 0

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, apperrors.Parse(apperrors.CodeInvalidFormat, string(source), line, err)
		}

		if headers == nil {
			if config.HasHeader {
				headers = normalizeHeaders(record)
				if len(headers) == 0 {
					return nil, apperrors.Parse(apperrors.CodeMissingHeader, string(source), line,
						fmt.Errorf("header row is empty"))
				}
				continue
			}
			headers = syntheticHeaders(len(record))
		}

		cells := make(map[string]string, len(headers))
		for i, header := range headers {
			if header == "" || i >= len(record) {
				continue
			}
			cells[header] = record[i]
		}

		rows = append(rows, records.RawRow{
			Source: source,
			Index:  len(rows),
			Cells:  cells,
		})
	}

	return rows, nil
}

// normalizeHeaders trims header names while keeping their column positions;
// unnamed columns stay as empty strings and their cells are skipped.
func normalizeHeaders(record []string) []string {
	headers := make([]string, len(record))
	named := 0
	for i, h := range record {
		headers[i] = strings.TrimSpace(h)
		if headers[i] != "" {
			named++
		}
	}
	if named == 0 {
		return nil
	}
	return headers
}

func syntheticHeaders(n int) []string {
	headers := make([]string, n)
	for i := range headers {
		headers[i] = fmt.Sprintf("column_%d", i+1)
	}
	return headers
}
