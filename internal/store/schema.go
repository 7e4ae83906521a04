package store

const schemaDDL = `
CREATE TABLE IF NOT EXISTS sessions (
	id                 TEXT PRIMARY KEY,
	session_id         TEXT NOT NULL UNIQUE,
	started_at         TEXT NOT NULL,
	ended_at           TEXT,
	cwd                TEXT,
	parent_session_id  TEXT,
	event_count        INTEGER NOT NULL DEFAULT 0,
	alert_count        INTEGER NOT NULL DEFAULT 0,
	risk_score         INTEGER NOT NULL DEFAULT 0,
	status             TEXT NOT NULL DEFAULT 'active',
	endpoint_hostname  TEXT,
	endpoint_user      TEXT,
	session_source     TEXT
);

CREATE TABLE IF NOT EXISTS events (
	id          TEXT PRIMARY KEY,
	session_id  TEXT NOT NULL,
	timestamp   TEXT NOT NULL,
	hook_type   TEXT,
	tool_name   TEXT,
	tool_input  TEXT,
	tool_result TEXT,
	category    TEXT,
	severity    TEXT,
	file_paths  TEXT,
	commands    TEXT,
	urls        TEXT,
	ip_addresses TEXT,
	processed   INTEGER NOT NULL DEFAULT 0,
	enriched    INTEGER NOT NULL DEFAULT 0,
	raw_payload TEXT
);

CREATE TABLE IF NOT EXISTS alerts (
	id           TEXT PRIMARY KEY,
	session_id   TEXT NOT NULL,
	created_at   TEXT NOT NULL,
	updated_at   TEXT NOT NULL,
	title        TEXT,
	description  TEXT,
	severity     TEXT,
	category     TEXT,
	status       TEXT NOT NULL DEFAULT 'new',
	assigned_to  TEXT,
	policy_id    TEXT,
	event_ids    TEXT,
	evidence     TEXT,
	action_taken TEXT,
	blocked      INTEGER NOT NULL DEFAULT 0,
	tags         TEXT,
	metadata     TEXT
);

CREATE TABLE IF NOT EXISTS policies (
	id                TEXT PRIMARY KEY,
	name              TEXT NOT NULL UNIQUE,
	description       TEXT,
	enabled           INTEGER NOT NULL DEFAULT 1,
	categories        TEXT,
	tools             TEXT,
	conditions        TEXT,
	condition_logic   TEXT NOT NULL DEFAULT 'all',
	action            TEXT NOT NULL DEFAULT 'alert',
	severity          TEXT NOT NULL DEFAULT 'medium',
	alert_title       TEXT,
	alert_description TEXT,
	tags              TEXT,
	metadata          TEXT,
	created_at        TEXT NOT NULL,
	updated_at        TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS graph_nodes (
	id           TEXT PRIMARY KEY,
	node_type    TEXT NOT NULL,
	label        TEXT,
	value        TEXT NOT NULL,
	first_seen   TEXT NOT NULL,
	last_seen    TEXT NOT NULL,
	access_count INTEGER NOT NULL DEFAULT 1,
	alert_count  INTEGER NOT NULL DEFAULT 0,
	session_ids  TEXT,
	event_ids    TEXT,
	size         REAL NOT NULL DEFAULT 1.0,
	color        TEXT,
	metadata     TEXT,
	UNIQUE(node_type, value)
);

CREATE TABLE IF NOT EXISTS graph_edges (
	id          TEXT PRIMARY KEY,
	source_id   TEXT NOT NULL,
	target_id   TEXT NOT NULL,
	relation    TEXT NOT NULL,
	first_seen  TEXT NOT NULL,
	last_seen   TEXT NOT NULL,
	count       INTEGER NOT NULL DEFAULT 1,
	session_ids TEXT,
	event_ids   TEXT,
	weight      REAL NOT NULL DEFAULT 1.0,
	color       TEXT,
	metadata    TEXT,
	UNIQUE(source_id, target_id, relation),
	FOREIGN KEY(source_id) REFERENCES graph_nodes(id),
	FOREIGN KEY(target_id) REFERENCES graph_nodes(id)
);

CREATE INDEX IF NOT EXISTS idx_events_session_id ON events(session_id);
CREATE INDEX IF NOT EXISTS idx_events_timestamp ON events(timestamp);
CREATE INDEX IF NOT EXISTS idx_events_category ON events(category);
CREATE INDEX IF NOT EXISTS idx_alerts_session_id ON alerts(session_id);
CREATE INDEX IF NOT EXISTS idx_alerts_status ON alerts(status);
CREATE INDEX IF NOT EXISTS idx_alerts_created_at ON alerts(created_at);
CREATE INDEX IF NOT EXISTS idx_sessions_status ON sessions(status);
CREATE INDEX IF NOT EXISTS idx_sessions_endpoint_hostname ON sessions(endpoint_hostname);
CREATE INDEX IF NOT EXISTS idx_graph_edges_source ON graph_edges(source_id);
CREATE INDEX IF NOT EXISTS idx_graph_edges_target ON graph_edges(target_id);
`

// migrations are idempotent ALTER TABLEs applied on top of an older schema
// created before a column existed. Each is guarded so re-applying against a
// fresh schemaDDL (which already declares the column) is a harmless no-op.
var migrations = []string{
	`ALTER TABLE sessions ADD COLUMN risk_score INTEGER NOT NULL DEFAULT 0`,
	`ALTER TABLE sessions ADD COLUMN endpoint_hostname TEXT`,
	`ALTER TABLE sessions ADD COLUMN endpoint_user TEXT`,
	`ALTER TABLE sessions ADD COLUMN session_source TEXT`,
}
