package database

import "fmt"

// Stats is the dashboard summary block.
type Stats struct {
	Keywords           int            `json:"keywords"`
	ReposDiscovered    int            `json:"repos_discovered"`
	ReposPending       int            `json:"repos_pending"`
	OpenFindings       int            `json:"open_findings"`
	ResolvedFindings   int            `json:"resolved_findings"`
	FindingsBySeverity map[string]int `json:"findings_by_severity"`
	ScansCompleted     int            `json:"scans_completed"`
	LastScan           *Scan          `json:"last_scan"`
}

func (db *DB) GetStats() (*Stats, error) {
	s := &Stats{FindingsBySeverity: map[string]int{}}

	counts := []struct {
		query string
		dest  *int
	}{
		{"SELECT COUNT(*) FROM keywords WHERE active = 1", &s.Keywords},
		{"SELECT COUNT(*) FROM discovered_repos WHERE dismissed = 0", &s.ReposDiscovered},
		{"SELECT COUNT(*) FROM discovered_repos WHERE scan_status = 'pending' AND dismissed = 0", &s.ReposPending},
		{"SELECT COUNT(*) FROM findings WHERE resolved = 0", &s.OpenFindings},
		{"SELECT COUNT(*) FROM findings WHERE resolved = 1", &s.ResolvedFindings},
		{"SELECT COUNT(*) FROM scans WHERE status = 'completed'", &s.ScansCompleted},
	}
	for _, c := range counts {
		if err := db.conn.QueryRow(c.query).Scan(c.dest); err != nil {
			return nil, fmt.Errorf("computing stats: %w", err)
		}
	}

	rows, err := db.conn.Query(
		"SELECT severity, COUNT(*) FROM findings WHERE resolved = 0 GROUP BY severity",
	)
	if err != nil {
		return nil, fmt.Errorf("computing severity breakdown: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var severity string
		var n int
		if err := rows.Scan(&severity, &n); err != nil {
			return nil, fmt.Errorf("scanning severity row: %w", err)
		}
		s.FindingsBySeverity[severity] = n
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	last, err := db.LatestScan()
	if err != nil {
		return nil, err
	}
	s.LastScan = last
	return s, nil
}
