// Package journal keeps per-entity sync state and a history of runs.
package journal

import (
	"context"
	"time"

	"github.com/rustyeddy/marketsync/market"
)

// Outcome statuses as stored.
const (
	StatusUpdated      = "updated"
	StatusSkippedFresh = "skipped_fresh"
	StatusFailed       = "failed"
)

// Outcome is one entity's line in a run.
type Outcome struct {
	EntityKey string
	Status    string
	Reason    string
	Fetched   int
	Records   int
	LastKey   string
	Attempts  int
	Duration  time.Duration
}

// Run is a finished sync run.
type Run struct {
	ID       string
	Started  time.Time
	Finished time.Time
	Outcomes []Outcome
}

// Count returns how many outcomes have the given status.
func (r *Run) Count(status string) int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Status == status {
			n++
		}
	}
	return n
}

// Journal stores SyncState and run history. Get returns nil, nil when the
// entity has never been recorded.
type Journal interface {
	Get(ctx context.Context, e market.Entity) (*market.SyncState, error)
	Put(ctx context.Context, st market.SyncState) error
	List(ctx context.Context) ([]market.SyncState, error)
	RecordRun(ctx context.Context, r Run) error
	LastRun(ctx context.Context) (*Run, error)
	Close() error
}

const timeLayout = time.RFC3339Nano

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(timeLayout, s)
}
