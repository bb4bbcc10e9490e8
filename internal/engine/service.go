package engine

import (
	"context"
	"time"

	"ledger-reconciler/internal/aggregator"
	"ledger-reconciler/internal/mapper"
	"ledger-reconciler/internal/records"
	"ledger-reconciler/internal/settings"
	"ledger-reconciler/pkg/logger"
)

// RunDiagnostics carries the non-fatal data problems from both sides of a
// completed run, plus the elapsed wall time.
type RunDiagnostics struct {
	Own          *mapper.Diagnostics `json:"own"`
	Counterparty *mapper.Diagnostics `json:"counterparty"`
	Elapsed      time.Duration       `json:"elapsed"`
}

// HasProblems reports whether either side recorded diagnostics.
func (d *RunDiagnostics) HasProblems() bool {
	return (d.Own != nil && d.Own.HasProblems()) ||
		(d.Counterparty != nil && d.Counterparty.HasProblems())
}

// Run executes the full pipeline for one reconciliation: normalize both
// sides through the column mapper, aggregate split counterparty rows, then
// match and summarize.
//
// A completed run with unmatched or excluded rows is a success with
// diagnostics; only invalid settings or a cancelled context produce an
// error, in which case no partial result is returned.
func Run(ctx context.Context, ownRows, counterpartyRows []records.RawRow, s *settings.Settings) (*records.Result, *RunDiagnostics, error) {
	eng, err := New(s)
	if err != nil {
		return nil, nil, err
	}
	return eng.Run(ctx, ownRows, counterpartyRows)
}

// Run is the instance form of the package-level Run, reusing an already
// validated engine.
func (e *Engine) Run(ctx context.Context, ownRows, counterpartyRows []records.RawRow) (*records.Result, *RunDiagnostics, error) {
	log := logger.WithComponent("reconciliation")
	start := time.Now()

	log.WithFields(logger.Fields{
		"own_rows":          len(ownRows),
		"counterparty_rows": len(counterpartyRows),
	}).Info("starting reconciliation run")

	own, ownDiags := mapper.Normalize(ownRows, e.settings.Mappings.Own, e.settings.Fields)
	counterparty, cpDiags := mapper.Normalize(counterpartyRows, e.settings.Mappings.Counterparty, e.settings.Fields)

	counterparty = aggregator.Aggregate(counterparty, e.settings.Aggregation)

	result, err := e.Reconcile(ctx, own, counterparty)
	if err != nil {
		return nil, nil, err
	}

	diags := &RunDiagnostics{
		Own:          ownDiags,
		Counterparty: cpDiags,
		Elapsed:      time.Since(start),
	}

	log.WithField("elapsed", diags.Elapsed).Info("reconciliation run finished")
	return result, diags, nil
}
