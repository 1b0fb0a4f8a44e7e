// Package pipeline runs one sync over a set of entities.
//
// Each entity goes through the freshness gate, an incremental fetch, the
// merge, indicator computation and an atomic save, on one worker from start
// to finish. Entities never share files or journal rows, so workers only
// meet at the report collector.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rustyeddy/marketsync/fetch"
	"github.com/rustyeddy/marketsync/freshness"
	"github.com/rustyeddy/marketsync/indicators"
	"github.com/rustyeddy/marketsync/journal"
	"github.com/rustyeddy/marketsync/market"
	"github.com/rustyeddy/marketsync/merge"
	"github.com/rustyeddy/marketsync/pkg/id"
	"github.com/rustyeddy/marketsync/store"
)

// DefaultWorkers is used when Coordinator.Workers is not set.
const DefaultWorkers = 4

// ReasonCanceled is the failure reason of entities cut off by cancellation.
const ReasonCanceled = "canceled"

// Source fetches new records for an entity. *fetch.Orchestrator is the
// production implementation.
type Source interface {
	Fetch(ctx context.Context, e market.Entity, since *market.Key) (fetch.Result, error)
}

var _ Source = (*fetch.Orchestrator)(nil)

// Coordinator wires the store, journal and fetcher together.
type Coordinator struct {
	Store   store.Store
	Journal journal.Journal
	Fetch   Source
	Gate    freshness.Policy
	Workers int
	Logger  *slog.Logger
}

func (c *Coordinator) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

func (c *Coordinator) workers(n int) int {
	w := c.Workers
	if w <= 0 {
		w = DefaultWorkers
	}
	if w > n {
		w = n
	}
	return max(w, 1)
}

type job struct {
	seq    int
	entity market.Entity
}

// Run syncs every entity with up to Workers entities in flight and returns
// the report in input order. A failing entity never stops the others. When
// ctx is canceled, in-flight fetches abort, entities not yet started are
// reported as failed with reason "canceled", and Run returns the report
// together with ctx.Err().
func (c *Coordinator) Run(ctx context.Context, entities []market.Entity, now time.Time) (*RunReport, error) {
	started := time.Now()
	report := &RunReport{ID: id.NewAt(started), Started: started}
	log := c.logger().With("run", report.ID)

	queue := make(chan job, len(entities))
	col := &collector{}
	seen := make(map[string]bool, len(entities))
	for i, e := range entities {
		// entities whose ids map to the same file must not run side by side
		slot := store.SlotKey(e)
		if seen[slot] {
			col.add(i, Outcome{Entity: e, Status: FailedStatus, Phase: Pending, Reason: "duplicate entity"})
			continue
		}
		seen[slot] = true
		queue <- job{seq: i, entity: e}
	}
	close(queue)

	workers := c.workers(len(entities))
	log.Info("sync starting", "entities", len(entities), "workers", workers)

	var g errgroup.Group
	for w := 0; w < workers; w++ {
		g.Go(func() error {
			for j := range queue {
				if ctx.Err() != nil {
					col.add(j.seq, Outcome{Entity: j.entity, Status: FailedStatus, Phase: Pending, Reason: ReasonCanceled})
					continue
				}
				col.add(j.seq, c.syncEntity(ctx, j.entity, now))
			}
			return nil
		})
	}
	_ = g.Wait()

	report.Outcomes = col.sorted()
	report.Finished = time.Now()

	log.Info("sync finished",
		"updated", report.Count(Updated),
		"fresh", report.Count(SkippedFresh),
		"failed", report.Count(FailedStatus),
		"elapsed", report.Finished.Sub(report.Started),
	)
	return report, ctx.Err()
}

// syncEntity runs the whole state machine for one entity.
func (c *Coordinator) syncEntity(ctx context.Context, e market.Entity, now time.Time) Outcome {
	start := time.Now()
	log := c.logger().With("entity", e.Key(), "category", e.Category, "provider", e.Provider)
	out := Outcome{Entity: e, Phase: Gate}

	fail := func(st *market.SyncState, err error) Outcome {
		out.Status = FailedStatus
		out.Reason = reason(out.Phase, err)
		out.Duration = time.Since(start)
		if !errors.Is(err, context.Canceled) {
			c.recordFailure(ctx, e, st, now, out.Reason, log)
		}
		log.Warn("sync failed", "phase", out.Phase, "err", err)
		out.Phase = Failed
		return out
	}

	st, err := c.Journal.Get(ctx, e)
	if err != nil {
		return fail(nil, fmt.Errorf("journal: %w", err))
	}

	var existing market.Series
	loaded := false
	if st == nil {
		// no journal row yet; trust an existing file's last key
		existing, err = c.Store.Load(ctx, e)
		if err != nil {
			return fail(nil, err)
		}
		loaded = true
		st = market.StateFromSeries(e, existing)
	}

	if !c.Gate.NeedsRefresh(st, now, e.Category) {
		out.Status = SkippedFresh
		out.Phase = Done
		out.Records = st.Records
		out.LastKey = st.LastKey
		out.Duration = time.Since(start)
		log.Debug("fresh, skipping", "age", freshness.Age(st, now))
		return out
	}

	mode := c.Gate.Mode(e.Category)
	var since *market.Key
	if mode == freshness.ModeMerge {
		if !loaded {
			existing, err = c.Store.Load(ctx, e)
			if err != nil {
				return fail(st, err)
			}
		}
		if k, ok := existing.LastKey(); ok {
			since = &k
		}
	}

	out.Phase = Fetching
	res, err := c.Fetch.Fetch(ctx, e, since)
	out.Attempts = res.Attempts
	if err != nil {
		return fail(st, err)
	}
	out.Fetched = len(res.Records)

	out.Phase = Merging
	var series market.Series
	switch {
	case len(res.Records) == 0 && mode == freshness.ModeMerge:
		series = existing
	case mode == freshness.ModeReplace:
		if len(res.Records) == 0 {
			// an empty snapshot keeps whatever is on disk
			if series, err = c.Store.Load(ctx, e); err != nil {
				return fail(st, err)
			}
			existing = series
			break
		}
		series, err = merge.Replace(res.Records)
	default:
		var stats merge.Stats
		series, stats, err = merge.MergeWithStats(existing, res.Records)
		log.Debug("merged", "inserted", stats.Inserted, "replaced", stats.Replaced, "unchanged", stats.Unchanged)
	}
	if err != nil {
		return fail(st, err)
	}

	if e.Category.IsPrice() {
		out.Phase = Computing
		series = indicators.Compute(series)
		if n := indicators.MissingClose(series); n > 0 {
			log.Warn("indicators skipped, rows without close", "rows", n, "records", len(series))
		}
	}

	out.Phase = Persisting
	if !series.Equal(existing) {
		if err := c.Store.Save(ctx, e, series); err != nil {
			return fail(st, err)
		}
		out.Written = true
	}

	out.Phase = Done
	out.Status = Updated
	out.Records = len(series)
	out.LastKey, _ = series.LastKey()
	out.Duration = time.Since(start)

	next := market.SyncState{
		Entity:      e,
		LastSync:    now,
		LastKey:     out.LastKey,
		LastAttempt: now,
		Records:     out.Records,
	}
	if err := c.Journal.Put(context.WithoutCancel(ctx), next); err != nil {
		log.Error("recording sync state", "err", err)
	}

	log.Info("synced",
		"fetched", out.Fetched,
		"records", out.Records,
		"last", out.LastKey,
		"written", out.Written,
		"attempts", out.Attempts,
	)
	return out
}

// recordFailure stores the attempt while leaving LastSync alone.
func (c *Coordinator) recordFailure(ctx context.Context, e market.Entity, prev *market.SyncState, now time.Time, why string, log *slog.Logger) {
	next := market.SyncState{Entity: e}
	if prev != nil {
		next = *prev
		next.Entity = e
	}
	next.LastAttempt = now
	next.LastError = why
	if err := c.Journal.Put(context.WithoutCancel(ctx), next); err != nil {
		log.Error("recording failed attempt", "err", err)
	}
}

func reason(p Phase, err error) string {
	if errors.Is(err, context.Canceled) {
		return ReasonCanceled
	}
	return fmt.Sprintf("%s: %v", p, err)
}
