package pipeline

import (
	"slices"
	"sync"
	"time"

	"github.com/rustyeddy/marketsync/journal"
	"github.com/rustyeddy/marketsync/market"
)

// Status is the final result for one entity in a run.
type Status int

const (
	Updated Status = iota
	SkippedFresh
	FailedStatus
)

func (s Status) String() string {
	switch s {
	case Updated:
		return journal.StatusUpdated
	case SkippedFresh:
		return journal.StatusSkippedFresh
	default:
		return journal.StatusFailed
	}
}

// Outcome reports what happened to one entity.
type Outcome struct {
	Entity   market.Entity
	Status   Status
	Phase    Phase  // last phase reached
	Reason   string // set when Status is FailedStatus
	Fetched  int    // records returned by the provider after boundary filtering
	Records  int    // records in the stored series afterwards
	LastKey  market.Key
	Attempts int
	Duration time.Duration
	Written  bool // whether the file was replaced
}

// RunReport is the result of one Run. Outcomes are in the order the
// entities were given.
type RunReport struct {
	ID       string
	Started  time.Time
	Finished time.Time
	Outcomes []Outcome
}

// Count returns how many entities ended with status s.
func (r *RunReport) Count(s Status) int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Status == s {
			n++
		}
	}
	return n
}

// Failures returns the failed outcomes.
func (r *RunReport) Failures() []Outcome {
	var out []Outcome
	for _, o := range r.Outcomes {
		if o.Status == FailedStatus {
			out = append(out, o)
		}
	}
	return out
}

// Outcome returns the outcome for an entity key.
func (r *RunReport) Outcome(key string) (Outcome, bool) {
	for _, o := range r.Outcomes {
		if o.Entity.Key() == key {
			return o, true
		}
	}
	return Outcome{}, false
}

// Journal converts the report into its journal form.
func (r *RunReport) Journal() journal.Run {
	run := journal.Run{ID: r.ID, Started: r.Started, Finished: r.Finished}
	for _, o := range r.Outcomes {
		run.Outcomes = append(run.Outcomes, journal.Outcome{
			EntityKey: o.Entity.Key(),
			Status:    o.Status.String(),
			Reason:    o.Reason,
			Fetched:   o.Fetched,
			Records:   o.Records,
			LastKey:   o.LastKey.String(),
			Attempts:  o.Attempts,
			Duration:  o.Duration,
		})
	}
	return run
}

// collector gathers outcomes from the workers.
type collector struct {
	mu   sync.Mutex
	seqs []int
	outs []Outcome
}

func (c *collector) add(seq int, o Outcome) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seqs = append(c.seqs, seq)
	c.outs = append(c.outs, o)
}

// sorted returns outcomes in input order.
func (c *collector) sorted() []Outcome {
	c.mu.Lock()
	defer c.mu.Unlock()
	idx := make([]int, len(c.outs))
	for i := range idx {
		idx[i] = i
	}
	slices.SortFunc(idx, func(a, b int) int { return c.seqs[a] - c.seqs[b] })

	out := make([]Outcome, len(idx))
	for i, j := range idx {
		out[i] = c.outs[j]
	}
	return out
}
