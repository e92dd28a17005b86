package database

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

const repoSelect = `SELECT id, full_name, html_url, description, owner_login,
	owner_type, is_fork, size_kb, default_branch, language, stargazers,
	pushed_at, first_seen_at, last_seen_at, last_scanned_at, scan_status,
	scan_duration_secs, matched_keywords, ai_relevance, ai_summary, dismissed,
	scan_override
	FROM discovered_repos`

func scanRepo(scanner interface {
	Scan(dest ...any) error
}) (*DiscoveredRepo, error) {
	var r DiscoveredRepo
	var firstSeen, lastSeen string
	var lastScanned sql.NullString
	var relevance sql.NullFloat64
	err := scanner.Scan(&r.ID, &r.FullName, &r.HTMLURL, &r.Description,
		&r.OwnerLogin, &r.OwnerType, &r.IsFork, &r.SizeKB, &r.DefaultBranch,
		&r.Language, &r.Stargazers, &r.PushedAt, &firstSeen, &lastSeen,
		&lastScanned, &r.ScanStatus, &r.ScanDurationSecs, &r.MatchedKeywords,
		&relevance, &r.AISummary, &r.Dismissed, &r.ScanOverride)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning repo: %w", err)
	}
	r.FirstSeenAt = parseTime(firstSeen)
	r.LastSeenAt = parseTime(lastSeen)
	r.LastScannedAt = parseNullTime(lastScanned)
	if relevance.Valid {
		r.AIRelevance = &relevance.Float64
	}
	return &r, nil
}

// UpsertDiscoveredRepo records a search hit. On rediscovery the last-seen
// timestamp is bumped and the matched keyword set is merged
// (case-insensitive union) rather than replaced, so a repo found by several
// keywords keeps them all.
func (db *DB) UpsertDiscoveredRepo(fullName, htmlURL, description, ownerLogin, ownerType string, isFork bool, keyword string) (*DiscoveredRepo, error) {
	existing, err := db.RepoByFullName(fullName)
	if err != nil {
		return nil, err
	}

	if existing == nil {
		kw, _ := json.Marshal([]string{keyword})
		_, err := db.conn.Exec(
			`INSERT INTO discovered_repos (full_name, html_url, description,
				owner_login, owner_type, is_fork, matched_keywords)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			fullName, htmlURL, description, ownerLogin, ownerType, isFork, string(kw),
		)
		if err != nil {
			return nil, fmt.Errorf("inserting repo: %w", err)
		}
		return db.RepoByFullName(fullName)
	}

	var keywords []string
	_ = json.Unmarshal([]byte(existing.MatchedKeywords), &keywords)
	found := false
	for _, k := range keywords {
		if strings.EqualFold(k, keyword) {
			found = true
			break
		}
	}
	if !found {
		keywords = append(keywords, keyword)
		sort.Strings(keywords)
	}
	merged, _ := json.Marshal(keywords)
	_, err = db.conn.Exec(
		"UPDATE discovered_repos SET matched_keywords = ?, last_seen_at = ? WHERE id = ?",
		string(merged), formatTime(time.Now()), existing.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("refreshing repo: %w", err)
	}
	return db.RepoByFullName(fullName)
}

func (db *DB) RepoByFullName(fullName string) (*DiscoveredRepo, error) {
	return scanRepo(db.conn.QueryRow(repoSelect+" WHERE full_name = ?", fullName))
}

func (db *DB) GetRepo(id int64) (*DiscoveredRepo, error) {
	return scanRepo(db.conn.QueryRow(repoSelect+" WHERE id = ?", id))
}

// UpdateRepoDetails backfills the metadata the decision engine needs
// (size, pushed-at, language) from the repository details endpoint.
func (db *DB) UpdateRepoDetails(id, sizeKB int64, defaultBranch, language string, stargazers int, pushedAt string) error {
	_, err := db.conn.Exec(
		`UPDATE discovered_repos SET size_kb = ?, default_branch = ?,
			language = ?, stargazers = ?, pushed_at = ? WHERE id = ?`,
		sizeKB, defaultBranch, language, stargazers, pushedAt, id,
	)
	if err != nil {
		return fmt.Errorf("updating repo details: %w", err)
	}
	return nil
}

func (db *DB) SetRepoStatus(id int64, status string) error {
	_, err := db.conn.Exec(
		"UPDATE discovered_repos SET scan_status = ? WHERE id = ?", status, id,
	)
	if err != nil {
		return fmt.Errorf("setting repo status: %w", err)
	}
	return nil
}

func (db *DB) SetRepoRelevance(id int64, score float64, summary string) error {
	_, err := db.conn.Exec(
		"UPDATE discovered_repos SET ai_relevance = ?, ai_summary = ? WHERE id = ?",
		score, summary, id,
	)
	if err != nil {
		return fmt.Errorf("setting repo relevance: %w", err)
	}
	return nil
}

// FinishRepoScan records the terminal per-repo state after a deep scan.
func (db *DB) FinishRepoScan(id int64, status string, durationSecs int64) error {
	_, err := db.conn.Exec(
		`UPDATE discovered_repos SET scan_status = ?, last_scanned_at = ?,
			scan_duration_secs = ? WHERE id = ?`,
		status, formatTime(time.Now()), durationSecs, id,
	)
	if err != nil {
		return fmt.Errorf("finishing repo scan: %w", err)
	}
	return nil
}

// PendingRepos returns the non-dismissed repos awaiting analysis, ordered by
// full name for a stable scan order.
func (db *DB) PendingRepos() ([]DiscoveredRepo, error) {
	return db.listRepos(" WHERE scan_status = ? AND dismissed = 0 ORDER BY full_name", RepoStatusPending)
}

// ReposByIDs returns the non-dismissed repos with the given ids, ordered by
// full name for a stable scan order.
func (db *DB) ReposByIDs(ids []int64) ([]DiscoveredRepo, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := strings.Repeat("?, ", len(ids)-1) + "?"
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return db.listRepos(" WHERE id IN ("+placeholders+") AND dismissed = 0 ORDER BY full_name", args...)
}

func (db *DB) ListRepos() ([]DiscoveredRepo, error) {
	return db.listRepos(" ORDER BY full_name")
}

func (db *DB) listRepos(clause string, args ...any) ([]DiscoveredRepo, error) {
	rows, err := db.conn.Query(repoSelect+clause, args...)
	if err != nil {
		return nil, fmt.Errorf("listing repos: %w", err)
	}
	defer rows.Close()

	var repos []DiscoveredRepo
	for rows.Next() {
		r, err := scanRepo(rows)
		if err != nil {
			return nil, err
		}
		repos = append(repos, *r)
	}
	return repos, rows.Err()
}

func (db *DB) SetRepoDismissed(id int64, dismissed bool) error {
	_, err := db.conn.Exec(
		"UPDATE discovered_repos SET dismissed = ? WHERE id = ?", dismissed, id,
	)
	if err != nil {
		return fmt.Errorf("setting repo dismissed: %w", err)
	}
	return nil
}

func (db *DB) SetRepoOverride(id int64, override string) error {
	switch override {
	case OverrideAuto, OverrideForce, OverrideBlock:
	default:
		return fmt.Errorf("invalid scan override %q", override)
	}
	_, err := db.conn.Exec(
		"UPDATE discovered_repos SET scan_override = ? WHERE id = ?", override, id,
	)
	if err != nil {
		return fmt.Errorf("setting repo override: %w", err)
	}
	return nil
}

// UpsertKeywordMatch stores which files in a repo matched a keyword from a
// given source. Rows are keyed per (repo, keyword, source); the file list is
// merged as a union and capped at 10 entries.
func (db *DB) UpsertKeywordMatch(repoID int64, keyword, source string, files []string) error {
	var existing string
	err := db.conn.QueryRow(
		"SELECT match_files FROM repo_keyword_matches WHERE repo_id = ? AND keyword = ? AND match_source = ?",
		repoID, keyword, source,
	).Scan(&existing)

	if err == sql.ErrNoRows {
		if len(files) > 10 {
			files = files[:10]
		}
		data, _ := json.Marshal(files)
		_, err := db.conn.Exec(
			"INSERT INTO repo_keyword_matches (repo_id, keyword, match_source, match_files) VALUES (?, ?, ?, ?)",
			repoID, keyword, source, string(data),
		)
		if err != nil {
			return fmt.Errorf("inserting keyword match: %w", err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading keyword match: %w", err)
	}

	var current []string
	_ = json.Unmarshal([]byte(existing), &current)
	seen := make(map[string]bool, len(current))
	for _, f := range current {
		seen[f] = true
	}
	for _, f := range files {
		if len(current) >= 10 {
			break
		}
		if !seen[f] {
			current = append(current, f)
			seen[f] = true
		}
	}
	data, _ := json.Marshal(current)
	_, err = db.conn.Exec(
		"UPDATE repo_keyword_matches SET match_files = ? WHERE repo_id = ? AND keyword = ? AND match_source = ?",
		string(data), repoID, keyword, source,
	)
	if err != nil {
		return fmt.Errorf("updating keyword match: %w", err)
	}
	return nil
}

func (db *DB) KeywordMatchesForRepo(repoID int64) ([]RepoKeywordMatch, error) {
	rows, err := db.conn.Query(
		"SELECT id, repo_id, keyword, match_source, match_files FROM repo_keyword_matches WHERE repo_id = ? ORDER BY keyword, match_source",
		repoID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing keyword matches: %w", err)
	}
	defer rows.Close()

	var matches []RepoKeywordMatch
	for rows.Next() {
		var m RepoKeywordMatch
		if err := rows.Scan(&m.ID, &m.RepoID, &m.Keyword, &m.MatchSource, &m.MatchFiles); err != nil {
			return nil, fmt.Errorf("scanning keyword match: %w", err)
		}
		matches = append(matches, m)
	}
	return matches, rows.Err()
}
