// Package freshness decides whether an entity needs a fetch in this run.
package freshness

import (
	"time"

	"github.com/rustyeddy/marketsync/market"
)

// DefaultMaxAge is how old a successful sync may be before the entity is
// fetched again.
const DefaultMaxAge = 20 * time.Hour

// Mode is how fetched records are combined with stored data.
type Mode int

const (
	// ModeMerge applies an incremental batch on top of the stored series.
	ModeMerge Mode = iota
	// ModeReplace discards stored data and keeps only the new snapshot.
	ModeReplace
)

func (m Mode) String() string {
	switch m {
	case ModeMerge:
		return "merge"
	case ModeReplace:
		return "replace"
	default:
		return "unknown"
	}
}

// Policy holds the maximum ages. A zero Policy uses DefaultMaxAge for every
// category.
type Policy struct {
	Default time.Duration
	MaxAge  map[market.Category]time.Duration
}

// NewPolicy returns a policy with the default max age for every category.
func NewPolicy() Policy {
	return Policy{Default: DefaultMaxAge}
}

// For returns the max age that applies to cat.
func (p Policy) For(cat market.Category) time.Duration {
	if d, ok := p.MaxAge[cat]; ok && d > 0 {
		return d
	}
	if p.Default > 0 {
		return p.Default
	}
	return DefaultMaxAge
}

// NeedsRefresh reports whether the entity must be fetched. It is true when
// there is no state, when no sync ever succeeded, or when the last success
// is strictly older than the category's max age.
func (p Policy) NeedsRefresh(state *market.SyncState, now time.Time, cat market.Category) bool {
	if state == nil || state.LastSync.IsZero() {
		return true
	}
	return now.Sub(state.LastSync) > p.For(cat)
}

// Mode returns how a refresh of cat is applied.
func (p Policy) Mode(cat market.Category) Mode {
	if cat.IsSnapshot() {
		return ModeReplace
	}
	return ModeMerge
}

// Age is how long ago the entity last synced, or -1 if it never did.
func Age(state *market.SyncState, now time.Time) time.Duration {
	if state == nil || state.LastSync.IsZero() {
		return -1
	}
	return now.Sub(state.LastSync)
}
