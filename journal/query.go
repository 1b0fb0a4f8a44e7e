package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rustyeddy/marketsync/market"
)

// List returns every recorded state ordered by entity key.
func (j *SQLite) List(ctx context.Context) ([]market.SyncState, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT entity_id, category, provider, last_sync, last_key, last_attempt, last_error, records
		FROM sync_state
		ORDER BY entity_key ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []market.SyncState
	for rows.Next() {
		st, err := scanState(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *st)
	}
	return out, rows.Err()
}

// LastRun returns the most recent run, or nil when none was recorded.
// Run ids are ULIDs, so ordering by id is ordering by start time.
func (j *SQLite) LastRun(ctx context.Context) (*Run, error) {
	var id string
	err := j.db.QueryRowContext(ctx, `SELECT run_id FROM runs ORDER BY run_id DESC LIMIT 1`).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return j.GetRun(ctx, id)
}

// GetRun loads a run and its outcomes.
func (j *SQLite) GetRun(ctx context.Context, runID string) (*Run, error) {
	var (
		r                 = Run{ID: runID}
		started, finished string
	)
	err := j.db.QueryRowContext(ctx, `SELECT started, finished FROM runs WHERE run_id = ?`, runID).Scan(&started, &finished)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %q not found", runID)
	}
	if err != nil {
		return nil, err
	}
	if r.Started, err = parseTime(started); err != nil {
		return nil, err
	}
	if r.Finished, err = parseTime(finished); err != nil {
		return nil, err
	}

	rows, err := j.db.QueryContext(ctx, `
		SELECT entity_key, status, reason, fetched, records, last_key, attempts, duration_ms
		FROM run_outcomes
		WHERE run_id = ?
		ORDER BY seq ASC`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			o  Outcome
			ms int64
		)
		if err := rows.Scan(&o.EntityKey, &o.Status, &o.Reason, &o.Fetched, &o.Records, &o.LastKey, &o.Attempts, &ms); err != nil {
			return nil, err
		}
		o.Duration = time.Duration(ms) * time.Millisecond
		r.Outcomes = append(r.Outcomes, o)
	}
	return &r, rows.Err()
}

// History returns the outcomes recorded for one entity, newest run first.
func (j *SQLite) History(ctx context.Context, entityKey string, limit int) ([]Outcome, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := j.db.QueryContext(ctx, `
		SELECT entity_key, status, reason, fetched, records, last_key, attempts, duration_ms
		FROM run_outcomes
		WHERE entity_key = ?
		ORDER BY run_id DESC
		LIMIT ?`, entityKey, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Outcome
	for rows.Next() {
		var (
			o  Outcome
			ms int64
		)
		if err := rows.Scan(&o.EntityKey, &o.Status, &o.Reason, &o.Fetched, &o.Records, &o.LastKey, &o.Attempts, &ms); err != nil {
			return nil, err
		}
		o.Duration = time.Duration(ms) * time.Millisecond
		out = append(out, o)
	}
	return out, rows.Err()
}
