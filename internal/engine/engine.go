// Package engine implements the core statement-matching algorithm: greedy,
// deterministic one-to-one pairing of normalized own-side records against
// normalized (and possibly aggregated) counterparty records, followed by
// classification and summary computation.
//
// The engine is a single synchronous batch computation per invocation. It
// performs no I/O and holds no shared state between runs; the consumption
// bitmap lives inside one Reconcile call. Running independent engines
// concurrently is safe.
//
// Example usage:
//
//	eng, err := engine.New(cfg)
//	if err != nil {
//		return err
//	}
//	result, err := eng.Reconcile(ctx, ownRecords, counterpartyRecords)
package engine

import (
	"context"
	"sync"

	"ledger-reconciler/internal/records"
	"ledger-reconciler/internal/rules"
	"ledger-reconciler/internal/settings"
	apperrors "ledger-reconciler/pkg/errors"
	"ledger-reconciler/pkg/logger"

	"github.com/shopspring/decimal"
)

// Engine pairs own records with counterparty records under a validated
// settings document. Construct one per configuration with New.
type Engine struct {
	settings *settings.Settings
	enabled  []settings.MatchingField
	opts     rules.Options
	log      logger.Logger

	// ScoringWorkers sets the fan-out for candidate scoring. Values below 2
	// keep scoring sequential. Scoring is read-only over both record sets;
	// the consumption decision is always applied sequentially in own-record
	// input order, so the worker count never changes the output.
	ScoringWorkers int
}

// New validates the settings and builds an engine. Invalid settings are a
// fatal configuration error: no matching runs on them.
func New(s *settings.Settings) (*Engine, error) {
	if s == nil {
		return nil, apperrors.Configuration(apperrors.CodeInvalidConfig, "settings", "settings cannot be nil")
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}

	return &Engine{
		settings: s,
		enabled:  s.EnabledFields(),
		opts:     rules.Options{EmptyConfidence: s.EmptyConfidence},
		log:      logger.WithComponent("engine"),
	}, nil
}

// Settings returns a copy of the engine's configuration.
func (e *Engine) Settings() *settings.Settings {
	return e.settings.Clone()
}

// candidateScore is one counterparty candidate evaluated against the
// current own record.
type candidateScore struct {
	index     int
	score     float64
	allPassed bool
	anyPassed bool
	outcomes  []records.FieldOutcome
}

// Reconcile classifies every record on both sides into exactly one of the
// four match statuses.
//
// Own records are processed in input order; for each, the best unconsumed
// counterparty candidate wins, ties broken by lowest counterparty row
// index. The result is all-or-nothing: if ctx is cancelled mid-run no
// partial result is returned.
func (e *Engine) Reconcile(ctx context.Context, own, counterparty []records.NormalizedRecord) (*records.Result, error) {
	e.log.WithFields(logger.Fields{
		"own_records":          len(own),
		"counterparty_records": len(counterparty),
		"enabled_fields":       len(e.enabled),
	}).Info("starting reconciliation")

	consumed := make([]bool, len(counterparty))
	result := &records.Result{
		Records: make([]records.ReconciliationRecord, 0, len(own)+len(counterparty)),
	}

	for i := range own {
		if err := ctx.Err(); err != nil {
			return nil, apperrors.Reconciliation(apperrors.CodeRunAborted, "matching", err).
				WithContext("records_processed", i)
		}

		scores := e.scoreCandidates(&own[i], counterparty, consumed)
		record := e.classify(&own[i], counterparty, scores, consumed)
		result.Records = append(result.Records, record)
	}

	for i := range counterparty {
		if consumed[i] {
			continue
		}
		result.Records = append(result.Records, records.ReconciliationRecord{
			Status:       records.StatusMissingInOwn,
			Counterparty: &counterparty[i],
		})
	}

	result.Summary = e.summarize(result.Records, len(own), len(counterparty))

	e.log.WithFields(logger.Fields{
		"matched":                 result.Summary.Matched,
		"partial":                 result.Summary.PartialMatch,
		"missing_in_counterparty": result.Summary.MissingInCounterparty,
		"missing_in_own":          result.Summary.MissingInOwn,
	}).Info("reconciliation complete")

	return result, nil
}

// scoreCandidates evaluates every unconsumed counterparty record against
// one own record. With ScoringWorkers >= 2 the evaluation fans out across
// workers; results land in a slice indexed by candidate position, so the
// ordering seen by classify is identical either way.
func (e *Engine) scoreCandidates(own *records.NormalizedRecord, counterparty []records.NormalizedRecord, consumed []bool) []candidateScore {
	scores := make([]*candidateScore, len(counterparty))

	evaluate := func(j int) {
		if consumed[j] {
			return
		}
		scores[j] = e.scorePair(own, &counterparty[j], j)
	}

	if e.ScoringWorkers >= 2 && len(counterparty) >= e.ScoringWorkers {
		var wg sync.WaitGroup
		indexes := make(chan int)

		for w := 0; w < e.ScoringWorkers; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for j := range indexes {
					evaluate(j)
				}
			}()
		}
		for j := range counterparty {
			indexes <- j
		}
		close(indexes)
		wg.Wait()
	} else {
		for j := range counterparty {
			evaluate(j)
		}
	}

	out := make([]candidateScore, 0, len(counterparty))
	for _, s := range scores {
		if s != nil {
			out = append(out, *s)
		}
	}
	return out
}

// scorePair evaluates all enabled fields for one candidate pair.
func (e *Engine) scorePair(own, candidate *records.NormalizedRecord, index int) *candidateScore {
	cs := &candidateScore{
		index:     index,
		allPassed: true,
		outcomes:  make([]records.FieldOutcome, 0, len(e.enabled)),
	}

	var total float64
	for _, field := range e.enabled {
		outcome := rules.Evaluate(own.Field(field.ID), candidate.Field(field.ID), field, e.opts)
		cs.outcomes = append(cs.outcomes, records.FieldOutcome{
			FieldID:    field.ID,
			Passed:     outcome.Passed,
			Confidence: outcome.Confidence,
		})
		total += outcome.Confidence
		if outcome.Passed {
			cs.anyPassed = true
		} else {
			cs.allPassed = false
		}
	}

	cs.score = total / float64(len(e.enabled))
	return cs
}

// classify applies the consumption decision for one own record. Candidates
// where every enabled field passed win outright; otherwise the best scorer
// above the partial threshold with at least one passing field becomes a
// partial match. No acceptable candidate leaves the record missing in the
// counterparty statement, consuming nothing.
func (e *Engine) classify(own *records.NormalizedRecord, counterparty []records.NormalizedRecord, scores []candidateScore, consumed []bool) records.ReconciliationRecord {
	var full, best *candidateScore
	for i := range scores {
		s := &scores[i]
		if s.allPassed && better(s, full, counterparty) {
			full = s
		}
		if better(s, best, counterparty) {
			best = s
		}
	}

	if full != nil {
		consumed[full.index] = true
		return records.ReconciliationRecord{
			Status:        records.StatusMatched,
			Own:           own,
			Counterparty:  &counterparty[full.index],
			Score:         full.score,
			FieldOutcomes: full.outcomes,
		}
	}

	if best != nil && best.anyPassed && best.score >= e.settings.PartialThreshold {
		consumed[best.index] = true
		return records.ReconciliationRecord{
			Status:        records.StatusPartialMatch,
			Own:           own,
			Counterparty:  &counterparty[best.index],
			Score:         best.score,
			FieldOutcomes: best.outcomes,
		}
	}

	return records.ReconciliationRecord{
		Status: records.StatusMissingInCounterparty,
		Own:    own,
	}
}

// better reports whether a should replace current: higher score wins, ties
// broken by the lowest counterparty row index.
func better(a, current *candidateScore, counterparty []records.NormalizedRecord) bool {
	if current == nil {
		return true
	}
	if a.score != current.score {
		return a.score > current.score
	}
	return counterparty[a.index].PrimaryIndex() < counterparty[current.index].PrimaryIndex()
}

// summarize tallies statuses and the total monetary difference over matched
// and partial pairs on the configured amount field. The difference stays
// zero when that field is absent, non-numeric, or disabled.
func (e *Engine) summarize(recs []records.ReconciliationRecord, totalOwn, totalCounterparty int) records.Summary {
	summary := records.Summary{
		TotalOwn:              totalOwn,
		TotalCounterparty:     totalCounterparty,
		TotalAmountDifference: decimal.Zero,
	}

	amountField, hasAmount := e.settings.FieldByID(e.settings.AmountFieldID)
	trackAmount := hasAmount && amountField.Enabled && amountField.DataType == settings.TypeNumber

	for _, rec := range recs {
		switch rec.Status {
		case records.StatusMatched:
			summary.Matched++
		case records.StatusPartialMatch:
			summary.PartialMatch++
		case records.StatusMissingInCounterparty:
			summary.MissingInCounterparty++
		case records.StatusMissingInOwn:
			summary.MissingInOwn++
		}

		if !trackAmount || rec.Own == nil || rec.Counterparty == nil {
			continue
		}
		diff := rec.Own.Field(amountField.ID).Number.
			Sub(rec.Counterparty.Field(amountField.ID).Number).
			Abs()
		summary.TotalAmountDifference = summary.TotalAmountDifference.Add(diff)
	}

	return summary
}
