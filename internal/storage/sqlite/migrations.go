package sqlite

// Schema creates the audit tables. Statements are idempotent so the
// store can run them on every open.
const Schema = `
CREATE TABLE IF NOT EXISTS policies (
	id                TEXT PRIMARY KEY,
	version           INTEGER NOT NULL,
	algorithm         TEXT NOT NULL,
	objective         TEXT NOT NULL,
	lifecycle         TEXT NOT NULL,
	spec_json         TEXT NOT NULL,
	created_at        TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
	updated_at        TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS plans (
	id                TEXT PRIMARY KEY,
	experiment_id     TEXT NOT NULL,
	policy_version    INTEGER NOT NULL,
	basis             TEXT NOT NULL,
	tag               TEXT NOT NULL,
	weights_json      TEXT NOT NULL,
	ramp_delta        REAL NOT NULL,
	safe_explore_pct  REAL NOT NULL,
	reason            TEXT,
	enforced_at       TIMESTAMP NOT NULL,
	cooldown_until    TIMESTAMP NOT NULL,
	created_at        TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_plans_experiment
	ON plans(experiment_id, enforced_at DESC);

CREATE TABLE IF NOT EXISTS guard_events (
	id                INTEGER PRIMARY KEY AUTOINCREMENT,
	experiment_id     TEXT NOT NULL,
	signal            TEXT NOT NULL,
	severity          TEXT NOT NULL,
	action            TEXT NOT NULL,
	reason            TEXT,
	triggered_at      TIMESTAMP NOT NULL,
	cleared_at        TIMESTAMP,
	created_at        TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_guard_events_experiment
	ON guard_events(experiment_id, triggered_at DESC);

CREATE TABLE IF NOT EXISTS alerts (
	id                TEXT PRIMARY KEY,
	level             TEXT NOT NULL,
	experiment_id     TEXT,
	message           TEXT NOT NULL,
	context_json      TEXT,
	created_at        TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
`
