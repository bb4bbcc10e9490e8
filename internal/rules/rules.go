// Package rules implements the per-field comparison of two record values
// under a matching rule, producing a pass/fail verdict plus a confidence
// contribution in [0, 1].
//
// The evaluator assumes its inputs come from validated settings: a rule
// kind incompatible with the field's data type is rejected at
// configuration-load time and never reaches this package.
package rules

import (
	"math"
	"strings"

	"ledger-reconciler/internal/records"
	"ledger-reconciler/internal/settings"

	"github.com/texttheater/golang-levenshtein/levenshtein"
)

// Outcome is the result of evaluating one field on a candidate pair.
type Outcome struct {
	Passed     bool
	Confidence float64
}

// Options carries the run-level evaluation knobs.
type Options struct {
	// EmptyConfidence is the neutral confidence assigned when both values
	// are empty. An empty-vs-empty field passes without strengthening or
	// weakening the match.
	EmptyConfidence float64
}

// numericDiffEpsilon floors the max-diff divisor so a zero ceiling still
// yields a graded confidence instead of dividing by zero.
const numericDiffEpsilon = 1e-9

// Evaluate compares two values under the field's rule.
func Evaluate(a, b records.Value, field settings.MatchingField, opts Options) Outcome {
	if a.IsEmpty() && b.IsEmpty() {
		return Outcome{Passed: true, Confidence: opts.EmptyConfidence}
	}

	switch field.Rule.Kind {
	case settings.RuleExact:
		return evaluateExact(a, b, field.DataType)
	case settings.RuleFuzzy:
		return evaluateFuzzy(a, b, field.Rule.Tolerance)
	case settings.RuleNumericDiff:
		return evaluateNumericDiff(a, b, field.Rule)
	default:
		return Outcome{}
	}
}

func evaluateExact(a, b records.Value, dataType settings.DataType) Outcome {
	var equal bool
	if dataType == settings.TypeNumber {
		equal = a.Number.Equal(b.Number) && a.Missing == b.Missing
	} else {
		equal = strings.EqualFold(strings.TrimSpace(a.Text), strings.TrimSpace(b.Text))
	}

	if equal {
		return Outcome{Passed: true, Confidence: 1.0}
	}
	return Outcome{Passed: false, Confidence: 0.0}
}

func evaluateFuzzy(a, b records.Value, tolerance float64) Outcome {
	ratio := SimilarityRatio(a.Text, b.Text)
	return Outcome{
		Passed:     ratio >= tolerance,
		Confidence: ratio / 100,
	}
}

func evaluateNumericDiff(a, b records.Value, rule settings.Rule) Outcome {
	diff := a.Number.Sub(b.Number).Abs()
	passed := diff.LessThanOrEqual(rule.MaxDiff)

	maxDiff := math.Max(rule.MaxDiff.InexactFloat64(), numericDiffEpsilon)
	confidence := 1 - math.Min(1, diff.InexactFloat64()/maxDiff)

	return Outcome{Passed: passed, Confidence: confidence}
}

// SimilarityRatio computes a symmetric 0-100 similarity percentage between
// two strings: the Levenshtein distance normalized by the longer length.
// Comparison is case-insensitive and whitespace-trimmed.
func SimilarityRatio(a, b string) float64 {
	a = strings.ToLower(strings.TrimSpace(a))
	b = strings.ToLower(strings.TrimSpace(b))

	if a == b {
		return 100
	}

	ra, rb := []rune(a), []rune(b)
	maxLen := len(ra)
	if len(rb) > maxLen {
		maxLen = len(rb)
	}
	if maxLen == 0 {
		return 100
	}

	distance := levenshtein.DistanceForStrings(ra, rb, levenshtein.DefaultOptions)
	return (1 - float64(distance)/float64(maxLen)) * 100
}
