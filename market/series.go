package market

import (
	"fmt"
	"slices"
	"sort"
)

// Series is the ordered record set of one entity: keys strictly increase
// and never repeat.
type Series []Record

// MergeInvariantError reports a duplicate or out-of-order key. It is an
// internal defect: a series that fails validation must never be persisted.
type MergeInvariantError struct {
	Index int
	Prev  Key
	Next  Key
}

func (e *MergeInvariantError) Error() string {
	if e.Prev.Compare(e.Next) == 0 {
		return fmt.Sprintf("series invariant violated: duplicate key %s at index %d", e.Next, e.Index)
	}
	return fmt.Sprintf("series invariant violated: key %s follows %s at index %d", e.Next, e.Prev, e.Index)
}

// Validate checks keys are non-empty and strictly increasing.
func (s Series) Validate() error {
	for i := range s {
		if s[i].Key.IsZero() {
			return fmt.Errorf("series invariant violated: empty key at index %d", i)
		}
		if i > 0 && s[i-1].Key.Compare(s[i].Key) >= 0 {
			return &MergeInvariantError{Index: i, Prev: s[i-1].Key, Next: s[i].Key}
		}
	}
	return nil
}

// LastKey returns the key of the newest record.
func (s Series) LastKey() (Key, bool) {
	if len(s) == 0 {
		return Key{}, false
	}
	return s[len(s)-1].Key, true
}

// Find binary-searches for k.
func (s Series) Find(k Key) (int, bool) {
	i := sort.Search(len(s), func(i int) bool { return s[i].Key.Compare(k) >= 0 })
	return i, i < len(s) && s[i].Key.Compare(k) == 0
}

func (s Series) Clone() Series {
	out := make(Series, len(s))
	for i, r := range s {
		out[i] = r.Clone()
	}
	return out
}

// Equal compares two series record by record.
func (s Series) Equal(o Series) bool {
	return slices.EqualFunc(s, o, func(a, b Record) bool { return a.Equal(b) })
}

// Columns returns the union of field names: raw price columns first, then
// other raw metrics sorted by name, then derived columns in canonical order.
func (s Series) Columns() []string {
	seen := make(map[string]bool)
	for _, r := range s {
		for k := range r.Fields {
			seen[k] = true
		}
	}

	var cols []string
	for _, c := range PriceColumns {
		if seen[c] {
			cols = append(cols, c)
			delete(seen, c)
		}
	}
	var derived []string
	for _, c := range DerivedColumns {
		if seen[c] {
			derived = append(derived, c)
			delete(seen, c)
		}
	}
	other := make([]string, 0, len(seen))
	for c := range seen {
		other = append(other, c)
	}
	slices.Sort(other)

	cols = append(cols, other...)
	return append(cols, derived...)
}

// Column extracts a field across the series; ok[i] is false where absent.
func (s Series) Column(name string) (vals []float64, ok []bool) {
	vals = make([]float64, len(s))
	ok = make([]bool, len(s))
	for i, r := range s {
		vals[i], ok[i] = r.Fields[name]
	}
	return vals, ok
}
