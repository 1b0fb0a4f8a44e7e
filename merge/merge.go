// Package merge combines a stored series with freshly fetched records.
//
// Merge is the correctness core of incremental sync: re-applying the same
// batch, in any order, must yield the same series, so a sync that crashed
// half way can simply be run again.
package merge

import (
	"slices"
	"strings"

	"github.com/rustyeddy/marketsync/market"
)

// Stats counts what a merge did to the stored series.
type Stats struct {
	Inserted  int
	Replaced  int
	Unchanged int
}

// Changed reports whether the merge touched any record.
func (s Stats) Changed() bool { return s.Inserted > 0 || s.Replaced > 0 }

// Merge returns existing with incoming applied. Incoming records replace
// stored records with the same key; new keys are inserted in order.
func Merge(existing market.Series, incoming []market.Record) (market.Series, error) {
	out, _, err := MergeWithStats(existing, incoming)
	return out, err
}

// MergeWithStats is Merge plus a summary of inserted and replaced rows.
//
// existing must already satisfy the series invariant. The batch is sorted
// once, then both sides are walked in a single pass.
func MergeWithStats(existing market.Series, incoming []market.Record) (market.Series, Stats, error) {
	var st Stats
	if err := existing.Validate(); err != nil {
		return nil, st, err
	}

	batch := Normalize(incoming)
	out := make(market.Series, 0, len(existing)+len(batch))

	i, j := 0, 0
	for i < len(existing) && j < len(batch) {
		switch c := existing[i].Key.Compare(batch[j].Key); {
		case c < 0:
			out = append(out, existing[i])
			st.Unchanged++
			i++
		case c > 0:
			out = append(out, batch[j])
			st.Inserted++
			j++
		default:
			if existing[i].Raw().Equal(batch[j]) {
				out = append(out, existing[i])
				st.Unchanged++
			} else {
				out = append(out, batch[j])
				st.Replaced++
			}
			i++
			j++
		}
	}
	for ; i < len(existing); i++ {
		out = append(out, existing[i])
		st.Unchanged++
	}
	for ; j < len(batch); j++ {
		out = append(out, batch[j])
		st.Inserted++
	}

	if err := out.Validate(); err != nil {
		return nil, st, err
	}
	return out, st, nil
}

// Replace builds a series from a full snapshot fetch, bypassing the stored
// data entirely.
func Replace(incoming []market.Record) (market.Series, error) {
	out := market.Series(Normalize(incoming))
	if err := out.Validate(); err != nil {
		return nil, err
	}
	return out, nil
}

// Normalize sorts a batch by key and collapses duplicate keys. Records lose
// their derived fields; those are recomputed after the merge.
//
// When a batch carries the same key twice, the record with the greatest
// canonical encoding wins. Picking by content instead of position keeps the
// result independent of arrival order.
func Normalize(incoming []market.Record) []market.Record {
	batch := make([]market.Record, 0, len(incoming))
	for _, r := range incoming {
		if r.Key.IsZero() {
			continue
		}
		batch = append(batch, r.Raw())
	}

	slices.SortFunc(batch, func(a, b market.Record) int {
		if c := a.Key.Compare(b.Key); c != 0 {
			return c
		}
		return strings.Compare(a.Canonical(), b.Canonical())
	})

	// keep the last record of each run of equal keys
	out := batch[:0]
	for idx := range batch {
		if idx+1 < len(batch) && batch[idx].Key.Compare(batch[idx+1].Key) == 0 {
			continue
		}
		out = append(out, batch[idx])
	}
	return out
}
