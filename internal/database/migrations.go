package database

const schema = `
CREATE TABLE IF NOT EXISTS keywords (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	term        TEXT NOT NULL UNIQUE,
	category    TEXT NOT NULL DEFAULT 'general',
	active      INTEGER NOT NULL DEFAULT 1,
	created_at  TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS scans (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	started_at      TEXT NOT NULL DEFAULT (datetime('now')),
	finished_at     TEXT,
	status          TEXT NOT NULL DEFAULT 'running',
	trigger_type    TEXT NOT NULL DEFAULT 'manual',
	keywords_used   INTEGER NOT NULL DEFAULT 0,
	repos_found     INTEGER NOT NULL DEFAULT 0,
	repos_scanned   INTEGER NOT NULL DEFAULT 0,
	new_findings    INTEGER NOT NULL DEFAULT 0,
	total_findings  INTEGER NOT NULL DEFAULT 0,
	error_message   TEXT NOT NULL DEFAULT '',
	duration_secs   INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS discovered_repos (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	full_name        TEXT NOT NULL UNIQUE,
	html_url         TEXT NOT NULL DEFAULT '',
	description      TEXT NOT NULL DEFAULT '',
	owner_login      TEXT NOT NULL DEFAULT '',
	owner_type       TEXT NOT NULL DEFAULT '',
	is_fork          INTEGER NOT NULL DEFAULT 0,
	size_kb          INTEGER NOT NULL DEFAULT 0,
	default_branch   TEXT NOT NULL DEFAULT '',
	language         TEXT NOT NULL DEFAULT '',
	stargazers       INTEGER NOT NULL DEFAULT 0,
	pushed_at        TEXT NOT NULL DEFAULT '',
	first_seen_at    TEXT NOT NULL DEFAULT (datetime('now')),
	last_seen_at     TEXT NOT NULL DEFAULT (datetime('now')),
	last_scanned_at  TEXT,
	scan_status      TEXT NOT NULL DEFAULT 'pending',
	scan_duration_secs INTEGER NOT NULL DEFAULT 0,
	matched_keywords TEXT NOT NULL DEFAULT '[]',
	ai_relevance     REAL,
	ai_summary       TEXT NOT NULL DEFAULT '',
	dismissed        INTEGER NOT NULL DEFAULT 0,
	scan_override    TEXT NOT NULL DEFAULT 'auto'
);

CREATE TABLE IF NOT EXISTS findings (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	hash             TEXT NOT NULL UNIQUE,
	repo_id          INTEGER NOT NULL REFERENCES discovered_repos(id),
	scan_id          INTEGER,
	scanner          TEXT NOT NULL,
	detector         TEXT NOT NULL DEFAULT '',
	verified         INTEGER NOT NULL DEFAULT 0,
	file_path        TEXT NOT NULL DEFAULT '',
	commit_hash      TEXT NOT NULL DEFAULT '',
	line_number      INTEGER NOT NULL DEFAULT 0,
	severity         TEXT NOT NULL DEFAULT 'medium',
	ai_assessment    TEXT NOT NULL DEFAULT '',
	matched_snippet  TEXT NOT NULL DEFAULT '',
	first_seen_at    TEXT NOT NULL DEFAULT (datetime('now')),
	last_seen_at     TEXT NOT NULL DEFAULT (datetime('now')),
	resolved         INTEGER NOT NULL DEFAULT 0,
	resolved_at      TEXT,
	notes            TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS repo_keyword_matches (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	repo_id      INTEGER NOT NULL REFERENCES discovered_repos(id),
	keyword      TEXT NOT NULL,
	match_source TEXT NOT NULL DEFAULT 'code_search',
	match_files  TEXT NOT NULL DEFAULT '[]',
	UNIQUE(repo_id, keyword, match_source)
);

CREATE TABLE IF NOT EXISTS module_settings (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	module_key  TEXT NOT NULL UNIQUE,
	name        TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	enabled     INTEGER NOT NULL DEFAULT 0,
	config      TEXT NOT NULL DEFAULT '{}'
);

CREATE TABLE IF NOT EXISTS osint_results (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	scan_id     INTEGER,
	module_key  TEXT NOT NULL,
	result_type TEXT NOT NULL DEFAULT '',
	value       TEXT NOT NULL,
	created_at  TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS notifications_log (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	scan_id     INTEGER,
	channel     TEXT NOT NULL,
	subject     TEXT NOT NULL DEFAULT '',
	success     INTEGER NOT NULL DEFAULT 0,
	error       TEXT NOT NULL DEFAULT '',
	created_at  TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS app_settings (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_findings_repo ON findings(repo_id);
CREATE INDEX IF NOT EXISTS idx_findings_scan ON findings(scan_id);
CREATE INDEX IF NOT EXISTS idx_findings_resolved ON findings(resolved);
CREATE INDEX IF NOT EXISTS idx_repos_status ON discovered_repos(scan_status);
CREATE INDEX IF NOT EXISTS idx_matches_repo ON repo_keyword_matches(repo_id);
CREATE INDEX IF NOT EXISTS idx_osint_scan ON osint_results(scan_id);
`
