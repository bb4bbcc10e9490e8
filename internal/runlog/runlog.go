// Package runlog persists a historical log of completed reconciliation
// runs: the run identity, timestamp, operator, the settings snapshot the
// run used, and its summary. The full record list is deliberately not
// stored; the log exists for audit and trend review, not replay.
package runlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"ledger-reconciler/internal/records"
	"ledger-reconciler/internal/settings"
	apperrors "ledger-reconciler/pkg/errors"
	"ledger-reconciler/pkg/logger"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS reconciliation_runs (
	id                      TEXT PRIMARY KEY,
	run_at                  TEXT NOT NULL,
	operator                TEXT NOT NULL,
	settings_json           TEXT NOT NULL,
	matched                 INTEGER NOT NULL,
	partial_match           INTEGER NOT NULL,
	missing_in_counterparty INTEGER NOT NULL,
	missing_in_own          INTEGER NOT NULL,
	total_own               INTEGER NOT NULL,
	total_counterparty      INTEGER NOT NULL,
	amount_difference       TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_runs_run_at ON reconciliation_runs(run_at);
`

// Entry is one persisted run.
type Entry struct {
	ID       string          `json:"id"`
	RunAt    time.Time       `json:"run_at"`
	Operator string          `json:"operator"`
	Settings json.RawMessage `json:"settings"`
	Summary  records.Summary `json:"summary"`
}

// Store is a SQLite-backed run log.
type Store struct {
	db  *sql.DB
	log logger.Logger
}

// Open opens (creating if needed) the run log database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, apperrors.Storage(apperrors.CodeStoreOpen, "open", err).
			WithContext("path", path)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, apperrors.Storage(apperrors.CodeStoreOpen, "migrate", err).
			WithContext("path", path)
	}

	return &Store{
		db:  db,
		log: logger.WithComponent("runlog"),
	}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Append records a completed run and returns the stored entry with its
// generated identity and timestamp.
func (s *Store) Append(ctx context.Context, operator string, set *settings.Settings, summary records.Summary) (*Entry, error) {
	settingsJSON, err := json.Marshal(set)
	if err != nil {
		return nil, apperrors.Storage(apperrors.CodeStoreWrite, "marshal settings", err)
	}

	entry := &Entry{
		ID:       uuid.NewString(),
		RunAt:    time.Now().UTC(),
		Operator: operator,
		Settings: settingsJSON,
		Summary:  summary,
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO reconciliation_runs (
			id, run_at, operator, settings_json,
			matched, partial_match, missing_in_counterparty, missing_in_own,
			total_own, total_counterparty, amount_difference
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID,
		entry.RunAt.Format(time.RFC3339Nano),
		entry.Operator,
		string(settingsJSON),
		summary.Matched,
		summary.PartialMatch,
		summary.MissingInCounterparty,
		summary.MissingInOwn,
		summary.TotalOwn,
		summary.TotalCounterparty,
		summary.TotalAmountDifference.String(),
	)
	if err != nil {
		return nil, apperrors.Storage(apperrors.CodeStoreWrite, "insert run", err).
			WithContext("run_id", entry.ID)
	}

	s.log.WithFields(logger.Fields{
		"run_id":   entry.ID,
		"operator": operator,
		"matched":  summary.Matched,
	}).Info("recorded reconciliation run")

	return entry, nil
}

// Get fetches a single run by ID.
func (s *Store) Get(ctx context.Context, id string) (*Entry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, run_at, operator, settings_json,
		       matched, partial_match, missing_in_counterparty, missing_in_own,
		       total_own, total_counterparty, amount_difference
		FROM reconciliation_runs WHERE id = ?`, id)

	entry, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, apperrors.Storage(apperrors.CodeStoreQuery, "get run", err).
			WithContext("run_id", id).
			WithSuggestion("check the run ID, it may have been recorded in a different log file")
	}
	if err != nil {
		return nil, apperrors.Storage(apperrors.CodeStoreQuery, "get run", err).
			WithContext("run_id", id)
	}
	return entry, nil
}

// List returns the most recent runs, newest first, up to limit.
func (s *Store) List(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, run_at, operator, settings_json,
		       matched, partial_match, missing_in_counterparty, missing_in_own,
		       total_own, total_counterparty, amount_difference
		FROM reconciliation_runs
		ORDER BY run_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, apperrors.Storage(apperrors.CodeStoreQuery, "list runs", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, apperrors.Storage(apperrors.CodeStoreQuery, "scan run", err)
		}
		entries = append(entries, *entry)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Storage(apperrors.CodeStoreQuery, "list runs", err)
	}

	return entries, nil
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanEntry(s scanner) (*Entry, error) {
	var entry Entry
	var runAt, settingsJSON, amountDiff string

	err := s.Scan(
		&entry.ID,
		&runAt,
		&entry.Operator,
		&settingsJSON,
		&entry.Summary.Matched,
		&entry.Summary.PartialMatch,
		&entry.Summary.MissingInCounterparty,
		&entry.Summary.MissingInOwn,
		&entry.Summary.TotalOwn,
		&entry.Summary.TotalCounterparty,
		&amountDiff,
	)
	if err != nil {
		return nil, err
	}

	entry.RunAt, err = time.Parse(time.RFC3339Nano, runAt)
	if err != nil {
		return nil, err
	}
	entry.Settings = json.RawMessage(settingsJSON)
	entry.Summary.TotalAmountDifference, err = decimal.NewFromString(amountDiff)
	if err != nil {
		return nil, err
	}

	return &entry, nil
}
