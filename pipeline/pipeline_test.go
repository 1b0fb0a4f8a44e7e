package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/marketsync/fetch"
	"github.com/rustyeddy/marketsync/freshness"
	"github.com/rustyeddy/marketsync/journal"
	"github.com/rustyeddy/marketsync/market"
	"github.com/rustyeddy/marketsync/store"
)

var t0 = time.Date(2024, 6, 3, 18, 0, 0, 0, time.UTC)

type sourceFunc func(ctx context.Context, e market.Entity, since *market.Key) (fetch.Result, error)

func (f sourceFunc) Fetch(ctx context.Context, e market.Entity, since *market.Key) (fetch.Result, error) {
	return f(ctx, e, since)
}

// days returns n daily price rows ending the day before t0, shaped by seed.
func days(seed, n int) []market.Record {
	out := make([]market.Record, n)
	first := time.Date(2024, 6, 2, 0, 0, 0, 0, time.UTC).AddDate(0, 0, -(n - 1))
	for i := range out {
		c := float64(100+seed) + float64(i%7) - 0.25*float64(i%3)
		out[i] = market.NewPriceRecord(market.DateKey(first.AddDate(0, 0, i)), c-0.5, c+1, c-1, c, float64(1000*seed+i))
	}
	return out
}

// history hands out days(seed, n) honoring since, like a real provider.
func history(n int) sourceFunc {
	return func(_ context.Context, e market.Entity, since *market.Key) (fetch.Result, error) {
		var out []market.Record
		for _, r := range days(seedOf(e), n) {
			if since == nil || r.Key.After(*since) {
				out = append(out, r)
			}
		}
		return fetch.Result{Records: out, Attempts: 1}, nil
	}
}

func seedOf(e market.Entity) int {
	s := 0
	for _, c := range e.ID {
		s += int(c)
	}
	return s % 97
}

func stocks(n int) []market.Entity {
	out := make([]market.Entity, n)
	for i := range out {
		out[i] = market.Entity{ID: fmt.Sprintf("SYM%02d", i), Category: market.Stock, Provider: "fake"}
	}
	return out
}

func newCoordinator(t *testing.T, root string, src Source, workers int) (*Coordinator, *journal.Memory) {
	t.Helper()
	j := journal.NewMemory()
	return &Coordinator{
		Store:   store.NewCSVStore(root, nil),
		Journal: j,
		Fetch:   src,
		Gate:    freshness.NewPolicy(),
		Workers: workers,
	}, j
}

func readAll(t *testing.T, root string) map[string][]byte {
	t.Helper()
	out := map[string][]byte{}
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		b, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		rel, _ := filepath.Rel(root, path)
		out[rel] = b
		return nil
	})
	require.NoError(t, err)
	return out
}

func TestRun_WorkerCountDoesNotChangeOutput(t *testing.T) {
	ents := stocks(50)
	ctx := context.Background()

	serial := t.TempDir()
	c1, _ := newCoordinator(t, serial, history(60), 1)
	r1, err := c1.Run(ctx, ents, t0)
	require.NoError(t, err)

	parallel := t.TempDir()
	c8, _ := newCoordinator(t, parallel, history(60), 8)
	r8, err := c8.Run(ctx, ents, t0)
	require.NoError(t, err)

	assert.Equal(t, 50, r1.Count(Updated))
	assert.Equal(t, 50, r8.Count(Updated))

	a, b := readAll(t, serial), readAll(t, parallel)
	require.Len(t, a, 50)
	assert.Equal(t, a, b)

	for i, o := range r8.Outcomes {
		assert.Equal(t, ents[i], o.Entity, "report follows input order")
	}
}

func TestRun_FailureIsIsolated(t *testing.T) {
	ents := stocks(10)
	root := t.TempDir()
	ctx := context.Background()

	c, j := newCoordinator(t, root, history(30), 3)
	_, err := c.Run(ctx, ents, t0)
	require.NoError(t, err)

	st := store.NewCSVStore(root, nil)
	before, err := os.ReadFile(st.Path(ents[4]))
	require.NoError(t, err)

	later := t0.Add(21 * time.Hour)
	broken := ents[4].Key()
	c.Fetch = sourceFunc(func(ctx context.Context, e market.Entity, since *market.Key) (fetch.Result, error) {
		if e.Key() == broken {
			return fetch.Result{Attempts: 1}, fetch.StatusError("fake", 404, "symbol not found")
		}
		return fetch.Result{Records: []market.Record{market.NewPriceRecord(market.DateKey(later), 1, 2, 0.5, 1.5, 10)}, Attempts: 1}, nil
	})

	rep, err := c.Run(ctx, ents, later)
	require.NoError(t, err)
	assert.Equal(t, 9, rep.Count(Updated))
	assert.Equal(t, 1, rep.Count(FailedStatus))

	o, ok := rep.Outcome(broken)
	require.True(t, ok)
	assert.Equal(t, Failed, o.Phase)
	assert.Contains(t, o.Reason, "fetch:")
	assert.Contains(t, o.Reason, "404")

	after, err := os.ReadFile(st.Path(ents[4]))
	require.NoError(t, err)
	assert.Equal(t, before, after, "failed entity file untouched")

	state, err := j.Get(ctx, ents[4])
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.Equal(t, t0, state.LastSync, "LastSync only moves on success")
	assert.Equal(t, later, state.LastAttempt)
	assert.Equal(t, o.Reason, state.LastError)

	ok5, err := j.Get(ctx, ents[5])
	require.NoError(t, err)
	assert.Equal(t, later, ok5.LastSync)
	assert.Equal(t, market.DateKey(later), ok5.LastKey)
}

func TestRun_FreshEntitiesSkipFetch(t *testing.T) {
	ents := stocks(3)
	root := t.TempDir()
	var calls atomic.Int32
	src := history(30)
	counting := sourceFunc(func(ctx context.Context, e market.Entity, since *market.Key) (fetch.Result, error) {
		calls.Add(1)
		return src(ctx, e, since)
	})

	c, _ := newCoordinator(t, root, counting, 2)
	_, err := c.Run(context.Background(), ents, t0)
	require.NoError(t, err)
	require.EqualValues(t, 3, calls.Load())

	rep, err := c.Run(context.Background(), ents, t0.Add(19*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 3, rep.Count(SkippedFresh))
	assert.EqualValues(t, 3, calls.Load(), "no fetch while fresh")
	assert.Equal(t, 30, rep.Outcomes[0].Records)

	rep, err = c.Run(context.Background(), ents, t0.Add(20*time.Hour+time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 3, rep.Count(Updated))
	assert.EqualValues(t, 6, calls.Load())
}

func TestRun_IncrementalFetchUsesLastKey(t *testing.T) {
	e := market.Entity{ID: "AAPL", Category: market.Stock, Provider: "fake"}
	root := t.TempDir()
	c, _ := newCoordinator(t, root, history(30), 1)
	_, err := c.Run(context.Background(), []market.Entity{e}, t0)
	require.NoError(t, err)

	var got *market.Key
	next := market.NewPriceRecord(market.MustKey("2024-06-03"), 1, 2, 0.5, 1.5, 7)
	c.Fetch = sourceFunc(func(_ context.Context, _ market.Entity, since *market.Key) (fetch.Result, error) {
		got = since
		return fetch.Result{Records: []market.Record{next}, Attempts: 1}, nil
	})
	rep, err := c.Run(context.Background(), []market.Entity{e}, t0.Add(24*time.Hour))
	require.NoError(t, err)

	require.NotNil(t, got)
	assert.Equal(t, "2024-06-02", got.String())
	assert.Equal(t, 31, rep.Outcomes[0].Records)
	assert.Equal(t, 1, rep.Outcomes[0].Fetched)

	series, err := store.NewCSVStore(root, nil).Load(context.Background(), e)
	require.NoError(t, err)
	require.Len(t, series, 31)
	_, ok := series[30].Get(market.FieldRSI14)
	assert.True(t, ok, "indicators recomputed over the merged series")
}

func TestRun_EmptyFetchIsUpdated(t *testing.T) {
	e := market.Entity{ID: "AAPL", Category: market.Stock, Provider: "fake"}
	root := t.TempDir()
	c, j := newCoordinator(t, root, history(30), 1)
	_, err := c.Run(context.Background(), []market.Entity{e}, t0)
	require.NoError(t, err)

	st := store.NewCSVStore(root, nil)
	before, err := st.Stat(e)
	require.NoError(t, err)

	later := t0.Add(48 * time.Hour)
	rep, err := c.Run(context.Background(), []market.Entity{e}, later)
	require.NoError(t, err)

	o := rep.Outcomes[0]
	assert.Equal(t, Updated, o.Status)
	assert.Zero(t, o.Fetched)
	assert.False(t, o.Written)

	after, err := st.Stat(e)
	require.NoError(t, err)
	assert.Equal(t, before.ModTime, after.ModTime)

	state, err := j.Get(context.Background(), e)
	require.NoError(t, err)
	assert.Equal(t, later, state.LastSync)
}

func TestRun_SnapshotReplaces(t *testing.T) {
	e := market.Entity{ID: "fear_greed", Category: market.Snapshot, Provider: "fake"}
	root := t.TempDir()
	st := store.NewCSVStore(root, nil)

	old := market.NewRecord(market.MustKey("2024-06-01"))
	old.Set("value", 40)
	old2 := market.NewRecord(market.MustKey("2024-06-02"))
	old2.Set("value", 41)
	require.NoError(t, st.Save(context.Background(), e, market.Series{old, old2}))

	fresh := market.NewRecord(market.MustKey("2024-06-03"))
	fresh.Set("value", 55)
	var since *market.Key
	called := false
	c, _ := newCoordinator(t, root, sourceFunc(func(_ context.Context, _ market.Entity, s *market.Key) (fetch.Result, error) {
		called = true
		since = s
		return fetch.Result{Records: []market.Record{fresh}, Attempts: 1}, nil
	}), 1)

	// the file alone says it synced on 2024-06-02
	rep, err := c.Run(context.Background(), []market.Entity{e}, t0)
	require.NoError(t, err)
	require.True(t, called)
	assert.Nil(t, since, "snapshots always fetch everything")
	assert.Equal(t, Updated, rep.Outcomes[0].Status)

	got, err := st.Load(context.Background(), e)
	require.NoError(t, err)
	require.Len(t, got, 1)
	v, _ := got[0].Get("value")
	assert.Equal(t, 55.0, v)
	assert.Equal(t, []string{"value"}, got.Columns(), "snapshots get no indicators")
}

func TestRun_MacroSkipsIndicators(t *testing.T) {
	e := market.Entity{ID: "FEDFUNDS", Category: market.Macro, Provider: "fake"}
	root := t.TempDir()
	var recs []market.Record
	for i := 0; i < 40; i++ {
		r := market.NewRecord(market.DateKey(time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, i, 0)))
		r.Set(market.FieldClose, 0.25+float64(i)/100)
		recs = append(recs, r)
	}
	c, _ := newCoordinator(t, root, sourceFunc(func(context.Context, market.Entity, *market.Key) (fetch.Result, error) {
		return fetch.Result{Records: recs, Attempts: 1}, nil
	}), 1)

	_, err := c.Run(context.Background(), []market.Entity{e}, t0)
	require.NoError(t, err)

	got, err := store.NewCSVStore(root, nil).Load(context.Background(), e)
	require.NoError(t, err)
	assert.Equal(t, []string{market.FieldClose}, got.Columns())
}

func TestRun_StateDerivedFromFile(t *testing.T) {
	e := market.Entity{ID: "AAPL", Category: market.Stock, Provider: "fake"}
	root := t.TempDir()
	st := store.NewCSVStore(root, nil)
	require.NoError(t, st.Save(context.Background(), e, market.Series(days(1, 5))))

	var calls atomic.Int32
	c, _ := newCoordinator(t, root, sourceFunc(func(context.Context, market.Entity, *market.Key) (fetch.Result, error) {
		calls.Add(1)
		return fetch.Result{Attempts: 1}, nil
	}), 1)

	// last row is 2024-06-02, so at 2024-06-02 19:00 the file is 19h old
	rep, err := c.Run(context.Background(), []market.Entity{e}, time.Date(2024, 6, 2, 19, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, SkippedFresh, rep.Outcomes[0].Status)
	assert.Equal(t, 5, rep.Outcomes[0].Records)
	assert.Zero(t, calls.Load())

	rep, err = c.Run(context.Background(), []market.Entity{e}, time.Date(2024, 6, 2, 21, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, Updated, rep.Outcomes[0].Status)
	assert.EqualValues(t, 1, calls.Load())
}

func TestRun_TransientRetry(t *testing.T) {
	e := market.Entity{ID: "AAPL", Category: market.Stock, Provider: "flaky"}
	var n atomic.Int32
	reg := fetch.NewRegistry()
	reg.Register("flaky", fetch.FetcherFunc(func(_ context.Context, e market.Entity, since *market.Key) ([]market.Record, error) {
		if n.Add(1) < 3 {
			return nil, fetch.StatusError("flaky", 503, "busy")
		}
		return days(2, 10), nil
	}))
	orch := fetch.NewOrchestrator(reg, fetch.RetryPolicy{Attempts: 4, Initial: time.Millisecond, Max: 2 * time.Millisecond}, nil, nil)

	c, _ := newCoordinator(t, t.TempDir(), orch, 1)
	rep, err := c.Run(context.Background(), []market.Entity{e}, t0)
	require.NoError(t, err)

	o := rep.Outcomes[0]
	assert.Equal(t, Updated, o.Status)
	assert.Equal(t, 3, o.Attempts)
	assert.Equal(t, 10, o.Records)
}

func TestRun_Canceled(t *testing.T) {
	ents := stocks(6)
	started := make(chan struct{})
	var once sync.Once
	src := sourceFunc(func(ctx context.Context, e market.Entity, since *market.Key) (fetch.Result, error) {
		once.Do(func() { close(started) })
		<-ctx.Done()
		return fetch.Result{Attempts: 1}, ctx.Err()
	})

	root := t.TempDir()
	c, j := newCoordinator(t, root, src, 2)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()

	rep, err := c.Run(ctx, ents, t0)
	require.ErrorIs(t, err, context.Canceled)
	require.Len(t, rep.Outcomes, 6)
	for _, o := range rep.Outcomes {
		assert.Equal(t, FailedStatus, o.Status, o.Entity.Key())
		assert.Equal(t, ReasonCanceled, o.Reason)
	}
	assert.Empty(t, readAll(t, root))

	states, err := j.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, states, "canceled entities leave no state behind")
}

func TestRun_DuplicateEntity(t *testing.T) {
	ents := stocks(2)
	ents = append(ents, ents[0])
	c, _ := newCoordinator(t, t.TempDir(), history(5), 2)
	rep, err := c.Run(context.Background(), ents, t0)
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Count(Updated))
	assert.Equal(t, FailedStatus, rep.Outcomes[2].Status)
}

func TestRun_StoreFailure(t *testing.T) {
	root := t.TempDir()
	// a regular file where the category directory should be
	require.NoError(t, os.WriteFile(filepath.Join(root, "stock"), []byte("x"), 0o644))

	e := market.Entity{ID: "AAPL", Category: market.Stock, Provider: "fake"}
	c, _ := newCoordinator(t, root, history(5), 1)
	rep, err := c.Run(context.Background(), []market.Entity{e}, t0)
	require.NoError(t, err)

	o := rep.Outcomes[0]
	assert.Equal(t, FailedStatus, o.Status)
	assert.Contains(t, o.Reason, "gate:")
}

func TestRunReport_Journal(t *testing.T) {
	rep := &RunReport{
		ID:      "01J0000000000000000000000",
		Started: t0,
		Outcomes: []Outcome{
			{Entity: market.Entity{ID: "A", Category: market.Stock}, Status: Updated, Records: 3, LastKey: market.MustKey("2024-06-01")},
			{Entity: market.Entity{ID: "B", Category: market.FX}, Status: FailedStatus, Reason: "fetch: boom"},
			{Entity: market.Entity{ID: "C", Category: market.Crypto}, Status: SkippedFresh},
		},
	}
	run := rep.Journal()
	assert.Equal(t, rep.ID, run.ID)
	require.Len(t, run.Outcomes, 3)
	assert.Equal(t, journal.StatusUpdated, run.Outcomes[0].Status)
	assert.Equal(t, "2024-06-01", run.Outcomes[0].LastKey)
	assert.Equal(t, journal.StatusFailed, run.Outcomes[1].Status)
	assert.Equal(t, "", run.Outcomes[1].LastKey)
	assert.Equal(t, 1, run.Count(journal.StatusSkippedFresh))
}

func TestPhaseString(t *testing.T) {
	assert.Equal(t, "fetch", Fetching.String())
	assert.Equal(t, "persist", Persisting.String())
	assert.Equal(t, "unknown", Phase(99).String())
}

func TestRun_IDsSharingAFileAreDuplicates(t *testing.T) {
	root := t.TempDir()
	ents := []market.Entity{
		{ID: "BRK:B", Category: market.Stock, Provider: "fake"},
		{ID: "BRK_B", Category: market.Stock, Provider: "fake"},
		{ID: "brk_b", Category: market.Stock, Provider: "fake"},
	}
	c, j := newCoordinator(t, root, history(40), 3)
	rep, err := c.Run(context.Background(), ents, t0)
	require.NoError(t, err)

	assert.Equal(t, Updated, rep.Outcomes[0].Status)
	for _, o := range rep.Outcomes[1:] {
		assert.Equal(t, FailedStatus, o.Status, o.Entity.Key())
		assert.Equal(t, "duplicate entity", o.Reason)
	}

	files := readAll(t, root)
	require.Len(t, files, 1)
	series, err := store.NewCSVStore(root, nil).Load(context.Background(), ents[0])
	require.NoError(t, err)
	c0, _ := series[0].Get(market.FieldClose)
	want, _ := days(seedOf(ents[0]), 40)[0].Get(market.FieldClose)
	assert.Equal(t, want, c0, "file holds the first entity's data")

	st, err := j.Get(context.Background(), ents[1])
	require.NoError(t, err)
	assert.Nil(t, st)
}

func TestRun_MissingCloseIsLogged(t *testing.T) {
	e := market.Entity{ID: "GAPPY", Category: market.Stock, Provider: "fake"}
	src := sourceFunc(func(context.Context, market.Entity, *market.Key) (fetch.Result, error) {
		recs := days(1, 30)
		delete(recs[10].Fields, market.FieldClose)
		return fetch.Result{Records: recs, Attempts: 1}, nil
	})

	var buf bytes.Buffer
	c, _ := newCoordinator(t, t.TempDir(), src, 1)
	c.Logger = slog.New(slog.NewTextHandler(&buf, nil))

	r, err := c.Run(context.Background(), []market.Entity{e}, t0)
	require.NoError(t, err)
	assert.Equal(t, Updated, r.Outcomes[0].Status)

	assert.Contains(t, buf.String(), "indicators skipped")
	assert.Contains(t, buf.String(), "entity=stock/GAPPY")
	assert.Contains(t, buf.String(), "rows=1")
}
