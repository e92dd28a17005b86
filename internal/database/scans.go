package database

import (
	"database/sql"
	"fmt"
	"time"
)

func (db *DB) CreateScan(triggerType string, keywordsUsed int) (*Scan, error) {
	res, err := db.conn.Exec(
		"INSERT INTO scans (status, trigger_type, keywords_used) VALUES (?, ?, ?)",
		ScanStatusRunning, triggerType, keywordsUsed,
	)
	if err != nil {
		return nil, fmt.Errorf("inserting scan: %w", err)
	}
	id, _ := res.LastInsertId()
	return db.GetScan(id)
}

func (db *DB) GetScan(id int64) (*Scan, error) {
	row := db.conn.QueryRow(scanSelect+" WHERE id = ?", id)
	return scanScanRow(row)
}

// LatestScan returns the most recently started scan, or nil when the table
// is empty.
func (db *DB) LatestScan() (*Scan, error) {
	row := db.conn.QueryRow(scanSelect + " ORDER BY id DESC LIMIT 1")
	return scanScanRow(row)
}

const scanSelect = `SELECT id, started_at, finished_at, status, trigger_type,
	keywords_used, repos_found, repos_scanned, new_findings, total_findings,
	error_message, duration_secs FROM scans`

func scanScanRow(row *sql.Row) (*Scan, error) {
	var s Scan
	var started string
	var finished sql.NullString
	err := row.Scan(&s.ID, &started, &finished, &s.Status, &s.TriggerType,
		&s.KeywordsUsed, &s.ReposFound, &s.ReposScanned, &s.NewFindings,
		&s.TotalFindings, &s.ErrorMessage, &s.DurationSecs)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning scan: %w", err)
	}
	s.StartedAt = parseTime(started)
	s.FinishedAt = parseNullTime(finished)
	return &s, nil
}

func (db *DB) ListScans(limit int) ([]Scan, error) {
	rows, err := db.conn.Query(scanSelect+" ORDER BY id DESC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("listing scans: %w", err)
	}
	defer rows.Close()

	var scans []Scan
	for rows.Next() {
		var s Scan
		var started string
		var finished sql.NullString
		if err := rows.Scan(&s.ID, &started, &finished, &s.Status, &s.TriggerType,
			&s.KeywordsUsed, &s.ReposFound, &s.ReposScanned, &s.NewFindings,
			&s.TotalFindings, &s.ErrorMessage, &s.DurationSecs); err != nil {
			return nil, fmt.Errorf("scanning scan row: %w", err)
		}
		s.StartedAt = parseTime(started)
		s.FinishedAt = parseNullTime(finished)
		scans = append(scans, s)
	}
	return scans, rows.Err()
}

func (db *DB) UpdateScanReposFound(id int64, reposFound int) error {
	_, err := db.conn.Exec("UPDATE scans SET repos_found = ? WHERE id = ?", reposFound, id)
	if err != nil {
		return fmt.Errorf("updating scan repos_found: %w", err)
	}
	return nil
}

// FinishScan records the terminal state of a run. Duration is computed from
// started_at so a resumed scan reports wall time since its original start.
func (db *DB) FinishScan(id int64, status string, reposScanned, newFindings, totalFindings int, errMsg string) error {
	scan, err := db.GetScan(id)
	if err != nil {
		return err
	}
	var duration int64
	if scan != nil {
		duration = int64(time.Since(scan.StartedAt).Seconds())
		if duration < 0 {
			duration = 0
		}
	}
	_, err = db.conn.Exec(
		`UPDATE scans SET status = ?, finished_at = ?, repos_scanned = ?,
			new_findings = ?, total_findings = ?, error_message = ?, duration_secs = ?
		 WHERE id = ?`,
		status, formatTime(time.Now()), reposScanned, newFindings, totalFindings, errMsg, duration, id,
	)
	if err != nil {
		return fmt.Errorf("finishing scan: %w", err)
	}
	return nil
}

// ReopenScan puts a finished or failed scan back into running state so a
// resume can re-run stage 3 under the same scan id.
func (db *DB) ReopenScan(id int64) error {
	_, err := db.conn.Exec(
		"UPDATE scans SET status = ?, finished_at = NULL, error_message = '' WHERE id = ?",
		ScanStatusRunning, id,
	)
	if err != nil {
		return fmt.Errorf("reopening scan: %w", err)
	}
	return nil
}

// MarkStaleRunningScans fails every scan still marked running. Called at
// startup and before a new trigger; only a crash leaves rows in this state
// because a live process holds the run guard. Duration is a best effort
// computed from started_at since the real finish time is unknown.
func (db *DB) MarkStaleRunningScans() (int64, error) {
	now := formatTime(time.Now())
	res, err := db.conn.Exec(
		`UPDATE scans SET status = ?, finished_at = ?,
			error_message = 'interrupted: process exited during scan',
			duration_secs = CAST(MAX(0, (julianday(?) - julianday(started_at)) * 86400) AS INTEGER)
		 WHERE status = ?`,
		ScanStatusFailed, now, now, ScanStatusRunning,
	)
	if err != nil {
		return 0, fmt.Errorf("marking stale scans: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
