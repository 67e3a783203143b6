package store

// schemaSQL is the authoritative table layout (spec §6). Every statement is
// idempotent so Migrate can run unconditionally on process start.
const schemaSQL = `
CREATE TABLE IF NOT EXISTS job (
	id                     UUID PRIMARY KEY,
	workspace_id           TEXT NOT NULL,
	kind                   TEXT NOT NULL,
	script_lang            TEXT,
	raw_code               TEXT,
	raw_lock               TEXT,
	raw_flow               JSONB,
	args                   JSONB NOT NULL DEFAULT '{}',
	tag                    TEXT NOT NULL,
	created_at             TIMESTAMPTZ NOT NULL DEFAULT now(),
	parent_job_id          UUID,
	root_job_id            UUID,
	concurrency_key        TEXT,
	concurrency_limit      INT,
	concurrency_window_ms  BIGINT,
	timeout_seconds        INT,
	retry_max_attempts     INT,
	retry_backoff_ms       BIGINT,
	same_worker            BOOLEAN NOT NULL DEFAULT false,
	visible_to_runner_only BOOLEAN NOT NULL DEFAULT false,
	delete_after_use       BOOLEAN NOT NULL DEFAULT false,
	permissioned_as        TEXT,
	permissioned_as_email  TEXT
);

CREATE TABLE IF NOT EXISTS job_queue (
	id              UUID PRIMARY KEY REFERENCES job(id) ON DELETE CASCADE,
	tag             TEXT NOT NULL,
	priority        SMALLINT NOT NULL DEFAULT 0,
	created_at      TIMESTAMPTZ NOT NULL,
	scheduled_for   TIMESTAMPTZ NOT NULL,
	running         BOOLEAN NOT NULL DEFAULT false,
	started_at      TIMESTAMPTZ,
	worker_name     TEXT,
	last_ping       TIMESTAMPTZ,
	same_worker     BOOLEAN NOT NULL DEFAULT false,
	cancel_requested BOOLEAN NOT NULL DEFAULT false
);
CREATE INDEX IF NOT EXISTS job_queue_pull_idx
	ON job_queue (tag, running, scheduled_for)
	WHERE NOT running;

CREATE TABLE IF NOT EXISTS job_completed (
	id            UUID PRIMARY KEY,
	workspace_id  TEXT NOT NULL,
	status        TEXT NOT NULL,
	result        JSONB,
	started_at    TIMESTAMPTZ,
	completed_at  TIMESTAMPTZ NOT NULL,
	duration_ms   BIGINT NOT NULL,
	worker        TEXT
);
CREATE INDEX IF NOT EXISTS job_completed_retention_idx ON job_completed (completed_at);

CREATE TABLE IF NOT EXISTS job_runtime (
	id           UUID PRIMARY KEY,
	memory_peak  BIGINT,
	current_mem  BIGINT
);

CREATE TABLE IF NOT EXISTS concurrency_counter (
	concurrency_id TEXT PRIMARY KEY,
	job_uuids      JSONB NOT NULL DEFAULT '[]'
);

CREATE TABLE IF NOT EXISTS concurrency_key (
	job_id   UUID PRIMARY KEY,
	key      TEXT NOT NULL,
	ended_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS concurrency_key_window_idx ON concurrency_key (key, ended_at);

CREATE TABLE IF NOT EXISTS worker_ping (
	worker              TEXT PRIMARY KEY,
	worker_instance     TEXT,
	worker_group        TEXT,
	ip                  TEXT,
	tags                TEXT[] NOT NULL DEFAULT '{}',
	jobs_executed       BIGINT NOT NULL DEFAULT 0,
	last_ping           TIMESTAMPTZ NOT NULL DEFAULT now(),
	vcpus               INT,
	memory              BIGINT,
	memory_usage        DOUBLE PRECISION,
	wm_memory_usage     DOUBLE PRECISION,
	occupancy_rate      DOUBLE PRECISION,
	occupancy_rate_15s  DOUBLE PRECISION,
	occupancy_rate_5m   DOUBLE PRECISION,
	occupancy_rate_30m  DOUBLE PRECISION,
	version             TEXT,
	native_mode         BOOLEAN NOT NULL DEFAULT false,
	job_isolation       TEXT
);

CREATE TABLE IF NOT EXISTS resolved_artifact (
	language     TEXT NOT NULL,
	fingerprint  TEXT NOT NULL,
	lockfile     BYTEA,
	manifest     BYTEA,
	expires_at   TIMESTAMPTZ,
	resolve_error TEXT,
	PRIMARY KEY (language, fingerprint)
);

CREATE TABLE IF NOT EXISTS secret (
	workspace_id    TEXT NOT NULL,
	path            TEXT NOT NULL,
	backend         TEXT NOT NULL,
	encrypted_value BYTEA,
	external_ref    TEXT,
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (workspace_id, path)
);

CREATE TABLE IF NOT EXISTS resource (
	workspace_id  TEXT NOT NULL,
	path          TEXT NOT NULL,
	value         JSONB,
	resource_type TEXT,
	PRIMARY KEY (workspace_id, path)
);

CREATE TABLE IF NOT EXISTS variable (
	workspace_id TEXT NOT NULL,
	path         TEXT NOT NULL,
	value        TEXT,
	is_secret    BOOLEAN NOT NULL DEFAULT false,
	description  TEXT,
	account      TEXT,
	PRIMARY KEY (workspace_id, path)
);
`
