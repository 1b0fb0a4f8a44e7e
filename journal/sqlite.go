package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	"github.com/rustyeddy/marketsync/market"
)

type SQLite struct {
	db *sql.DB
}

var _ Journal = (*SQLite)(nil)

func NewSQLite(path string) (*SQLite, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("journal: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, err
	}
	// workers share one connection; sqlite serialises writers anyway
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(Schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("journal schema: %w", err)
	}

	return &SQLite{db: db}, nil
}

func (j *SQLite) Get(ctx context.Context, e market.Entity) (*market.SyncState, error) {
	row := j.db.QueryRowContext(ctx, `
		SELECT entity_id, category, provider, last_sync, last_key, last_attempt, last_error, records
		FROM sync_state
		WHERE entity_key = ?`, e.Key())

	st, err := scanState(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("journal get %s: %w", e.Key(), err)
	}
	return st, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanState(row scanner) (*market.SyncState, error) {
	var (
		st                        market.SyncState
		cat                       string
		lastSync, lastAttempt, lk string
		err                       error
	)
	if err = row.Scan(&st.Entity.ID, &cat, &st.Entity.Provider, &lastSync, &lk, &lastAttempt, &st.LastError, &st.Records); err != nil {
		return nil, err
	}
	st.Entity.Category = market.Category(cat)
	if st.LastSync, err = parseTime(lastSync); err != nil {
		return nil, err
	}
	if st.LastAttempt, err = parseTime(lastAttempt); err != nil {
		return nil, err
	}
	if lk != "" {
		if st.LastKey, err = market.ParseKey(lk); err != nil {
			return nil, err
		}
	}
	return &st, nil
}

func (j *SQLite) Put(ctx context.Context, st market.SyncState) error {
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO sync_state
		(entity_key, entity_id, category, provider, last_sync, last_key, last_attempt, last_error, records)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(entity_key) DO UPDATE SET
			entity_id = excluded.entity_id,
			category = excluded.category,
			provider = excluded.provider,
			last_sync = excluded.last_sync,
			last_key = excluded.last_key,
			last_attempt = excluded.last_attempt,
			last_error = excluded.last_error,
			records = excluded.records`,
		st.Entity.Key(), st.Entity.ID, string(st.Entity.Category), st.Entity.Provider,
		formatTime(st.LastSync), st.LastKey.String(), formatTime(st.LastAttempt), st.LastError, st.Records,
	)
	if err != nil {
		return fmt.Errorf("journal put %s: %w", st.Entity.Key(), err)
	}
	return nil
}

func (j *SQLite) RecordRun(ctx context.Context, r Run) error {
	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (run_id, started, finished, updated, skipped, failed)
		VALUES (?, ?, ?, ?, ?, ?)`,
		r.ID, formatTime(r.Started), formatTime(r.Finished),
		r.Count(StatusUpdated), r.Count(StatusSkippedFresh), r.Count(StatusFailed),
	)
	if err != nil {
		return fmt.Errorf("journal record run %s: %w", r.ID, err)
	}

	for i, o := range r.Outcomes {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO run_outcomes
			(run_id, seq, entity_key, status, reason, fetched, records, last_key, attempts, duration_ms)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			r.ID, i, o.EntityKey, o.Status, o.Reason, o.Fetched, o.Records, o.LastKey, o.Attempts, o.Duration.Milliseconds(),
		)
		if err != nil {
			return fmt.Errorf("journal record outcome %s: %w", o.EntityKey, err)
		}
	}
	return tx.Commit()
}

func (j *SQLite) Close() error {
	return j.db.Close()
}
