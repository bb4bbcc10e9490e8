// Package aggregator collapses split counterparty rows before matching.
// Multiple statement rows that share a grouping key (several partial
// payments against one invoice, typically) are folded into one synthetic
// record whose designated value field carries the group sum.
package aggregator

import (
	"sort"

	"ledger-reconciler/internal/records"
	"ledger-reconciler/internal/settings"
	"ledger-reconciler/pkg/logger"
)

// Aggregate groups recs by the value of the aggregation key field and
// replaces each group of two or more with a single synthetic record.
//
// The synthetic record sums the value field across the group; all other
// fields take the first group member's values, a deterministic tie-break
// for divergent non-summed values. Its row-index list is the sorted union
// of all members' indexes, preserving traceability to the original rows.
//
// Groups of size one pass through unchanged. Records whose key value is
// empty are never grouped. When aggregation is disabled the input is
// returned as is.
func Aggregate(recs []records.NormalizedRecord, agg settings.AggregationSettings) []records.NormalizedRecord {
	if !agg.Enabled {
		return recs
	}

	log := logger.WithComponent("aggregator")

	// Group membership, preserving first-seen group order.
	groups := make(map[string][]int)
	var order []string
	for i := range recs {
		key := recs[i].Field(agg.KeyFieldID)
		if key.IsEmpty() {
			continue
		}
		k := key.String()
		if _, seen := groups[k]; !seen {
			order = append(order, k)
		}
		groups[k] = append(groups[k], i)
	}

	emitted := make(map[int]bool, len(recs))
	out := make([]records.NormalizedRecord, 0, len(recs))

	for _, key := range order {
		members := groups[key]
		if len(members) < 2 {
			continue
		}

		synthetic := collapse(recs, members, agg)
		out = append(out, *synthetic)
		for _, i := range members {
			emitted[i] = true
		}

		log.WithFields(logger.Fields{
			"key":     key,
			"members": len(members),
			"sum":     synthetic.Field(agg.ValueFieldID).String(),
		}).Debug("collapsed split records")
	}

	for i := range recs {
		if !emitted[i] {
			out = append(out, recs[i])
		}
	}

	// Deterministic output order regardless of grouping: earliest original
	// row first.
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].PrimaryIndex() < out[j].PrimaryIndex()
	})

	return out
}

// collapse builds the synthetic record for one group.
func collapse(recs []records.NormalizedRecord, members []int, agg settings.AggregationSettings) *records.NormalizedRecord {
	first := recs[members[0]]

	fields := make(map[string]records.Value, len(first.Fields))
	for id, v := range first.Fields {
		fields[id] = v
	}

	sum := first.Field(agg.ValueFieldID).Number
	indexes := append([]int(nil), first.RowIndexes...)
	for _, i := range members[1:] {
		sum = sum.Add(recs[i].Field(agg.ValueFieldID).Number)
		indexes = append(indexes, recs[i].RowIndexes...)
	}
	sort.Ints(indexes)

	fields[agg.ValueFieldID] = records.NumberValue(sum)
	return records.NewAggregatedRecord(first.Source, indexes, fields)
}
