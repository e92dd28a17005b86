package database

import (
	"database/sql"
	"fmt"
	"time"
)

const findingSelect = `SELECT id, hash, repo_id, scan_id, scanner, detector,
	verified, file_path, commit_hash, line_number, severity, ai_assessment,
	matched_snippet, first_seen_at, last_seen_at, resolved, resolved_at, notes
	FROM findings`

func scanFinding(scanner interface {
	Scan(dest ...any) error
}) (*Finding, error) {
	var f Finding
	var scanID sql.NullInt64
	var firstSeen, lastSeen string
	var resolvedAt sql.NullString
	err := scanner.Scan(&f.ID, &f.Hash, &f.RepoID, &scanID, &f.Scanner,
		&f.Detector, &f.Verified, &f.FilePath, &f.CommitHash, &f.LineNumber,
		&f.Severity, &f.AIAssessment, &f.MatchedSnippet, &firstSeen, &lastSeen,
		&f.Resolved, &resolvedAt, &f.Notes)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning finding: %w", err)
	}
	if scanID.Valid {
		f.ScanID = &scanID.Int64
	}
	f.FirstSeenAt = parseTime(firstSeen)
	f.LastSeenAt = parseTime(lastSeen)
	f.ResolvedAt = parseNullTime(resolvedAt)
	return &f, nil
}

// UpsertFinding inserts a finding or, when the hash already exists, bumps
// last_seen (and refreshes the snippet and scan id) without touching
// first_seen, severity, assessment or resolution state. Returns whether the
// finding is new.
func (db *DB) UpsertFinding(f *Finding) (bool, error) {
	existing, err := db.FindingByHash(f.Hash)
	if err != nil {
		return false, err
	}

	if existing == nil {
		var scanID any
		if f.ScanID != nil {
			scanID = *f.ScanID
		}
		_, err := db.conn.Exec(
			`INSERT INTO findings (hash, repo_id, scan_id, scanner, detector,
				verified, file_path, commit_hash, line_number, severity,
				matched_snippet)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			f.Hash, f.RepoID, scanID, f.Scanner, f.Detector, f.Verified,
			f.FilePath, f.CommitHash, f.LineNumber, f.Severity, f.MatchedSnippet,
		)
		if err != nil {
			return false, fmt.Errorf("inserting finding: %w", err)
		}
		return true, nil
	}

	var scanID any
	if f.ScanID != nil {
		scanID = *f.ScanID
	} else if existing.ScanID != nil {
		scanID = *existing.ScanID
	}
	_, err = db.conn.Exec(
		"UPDATE findings SET last_seen_at = ?, matched_snippet = ?, scan_id = ? WHERE hash = ?",
		formatTime(time.Now()), f.MatchedSnippet, scanID, f.Hash,
	)
	if err != nil {
		return false, fmt.Errorf("refreshing finding: %w", err)
	}
	return false, nil
}

func (db *DB) FindingByHash(hash string) (*Finding, error) {
	return scanFinding(db.conn.QueryRow(findingSelect+" WHERE hash = ?", hash))
}

func (db *DB) GetFinding(id int64) (*Finding, error) {
	return scanFinding(db.conn.QueryRow(findingSelect+" WHERE id = ?", id))
}

func (db *DB) listFindings(clause string, args ...any) ([]Finding, error) {
	rows, err := db.conn.Query(findingSelect+clause, args...)
	if err != nil {
		return nil, fmt.Errorf("listing findings: %w", err)
	}
	defer rows.Close()

	var findings []Finding
	for rows.Next() {
		f, err := scanFinding(rows)
		if err != nil {
			return nil, err
		}
		findings = append(findings, *f)
	}
	return findings, rows.Err()
}

// UnassessedFindings returns this scan's findings for one repo that have no
// AI assessment yet.
func (db *DB) UnassessedFindings(scanID, repoID int64) ([]Finding, error) {
	return db.listFindings(
		" WHERE scan_id = ? AND repo_id = ? AND ai_assessment = '' ORDER BY id",
		scanID, repoID,
	)
}

func (db *DB) OpenFindings() ([]Finding, error) {
	return db.listFindings(" WHERE resolved = 0 ORDER BY severity, id")
}

func (db *DB) OpenFindingsForRepo(repoID int64) ([]Finding, error) {
	return db.listFindings(" WHERE resolved = 0 AND repo_id = ? ORDER BY id", repoID)
}

func (db *DB) FindingsByScan(scanID int64) ([]Finding, error) {
	return db.listFindings(" WHERE scan_id = ? ORDER BY id", scanID)
}

func (db *DB) ListFindings(includeResolved bool) ([]Finding, error) {
	if includeResolved {
		return db.listFindings(" ORDER BY resolved, severity, id")
	}
	return db.OpenFindings()
}

func (db *DB) SetFindingAssessment(id int64, assessment string) error {
	_, err := db.conn.Exec(
		"UPDATE findings SET ai_assessment = ? WHERE id = ?", assessment, id,
	)
	if err != nil {
		return fmt.Errorf("setting finding assessment: %w", err)
	}
	return nil
}

// TouchFinding bumps last_seen, used when a rescan confirms the finding is
// still present.
func (db *DB) TouchFinding(id int64) error {
	_, err := db.conn.Exec(
		"UPDATE findings SET last_seen_at = ? WHERE id = ?", formatTime(time.Now()), id,
	)
	if err != nil {
		return fmt.Errorf("touching finding: %w", err)
	}
	return nil
}

func (db *DB) ResolveFinding(id int64, note string) error {
	_, err := db.conn.Exec(
		"UPDATE findings SET resolved = 1, resolved_at = ?, notes = ? WHERE id = ?",
		formatTime(time.Now()), note, id,
	)
	if err != nil {
		return fmt.Errorf("resolving finding: %w", err)
	}
	return nil
}

func (db *DB) ReopenFinding(id int64) error {
	_, err := db.conn.Exec(
		"UPDATE findings SET resolved = 0, resolved_at = NULL WHERE id = ?", id,
	)
	if err != nil {
		return fmt.Errorf("reopening finding: %w", err)
	}
	return nil
}

func (db *DB) SetFindingNotes(id int64, notes string) error {
	_, err := db.conn.Exec("UPDATE findings SET notes = ? WHERE id = ?", notes, id)
	if err != nil {
		return fmt.Errorf("setting finding notes: %w", err)
	}
	return nil
}

func (db *DB) OpenFindingsCount() (int, error) {
	var n int
	err := db.conn.QueryRow("SELECT COUNT(*) FROM findings WHERE resolved = 0").Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting open findings: %w", err)
	}
	return n, nil
}
