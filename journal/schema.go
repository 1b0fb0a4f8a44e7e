package journal

const Schema = `
CREATE TABLE IF NOT EXISTS sync_state (
	entity_key TEXT PRIMARY KEY,
	entity_id TEXT NOT NULL,
	category TEXT NOT NULL,
	provider TEXT NOT NULL,
	last_sync TEXT NOT NULL DEFAULT '',
	last_key TEXT NOT NULL DEFAULT '',
	last_attempt TEXT NOT NULL DEFAULT '',
	last_error TEXT NOT NULL DEFAULT '',
	records INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS runs (
	run_id TEXT PRIMARY KEY,
	started TEXT NOT NULL,
	finished TEXT NOT NULL,
	updated INTEGER NOT NULL,
	skipped INTEGER NOT NULL,
	failed INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS run_outcomes (
	run_id TEXT NOT NULL,
	seq INTEGER NOT NULL,
	entity_key TEXT NOT NULL,
	status TEXT NOT NULL,
	reason TEXT NOT NULL,
	fetched INTEGER NOT NULL,
	records INTEGER NOT NULL,
	last_key TEXT NOT NULL,
	attempts INTEGER NOT NULL,
	duration_ms INTEGER NOT NULL,
	PRIMARY KEY (run_id, seq)
);

CREATE INDEX IF NOT EXISTS idx_outcomes_entity ON run_outcomes(entity_key);
`
