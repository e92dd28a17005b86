// Package report renders scan reports to markdown and PDF under the
// configured reports directory.
package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/mkellner/leakwatch/internal/database"
)

// Generator renders reports for finished scans.
type Generator struct {
	db       *database.DB
	dir      string
	fontPath string
}

func NewGenerator(db *database.DB, dir, fontPath string) *Generator {
	return &Generator{db: db, dir: dir, fontPath: fontPath}
}

// data is everything both renderers need for one scan.
type data struct {
	scan     *database.Scan
	findings []database.Finding
	repos    map[int64]*database.DiscoveredRepo
}

func (g *Generator) load(scanID int64) (*data, error) {
	scan, err := g.db.GetScan(scanID)
	if err != nil {
		return nil, err
	}
	if scan == nil {
		return nil, fmt.Errorf("scan %d not found", scanID)
	}

	findings, err := g.db.FindingsByScan(scanID)
	if err != nil {
		return nil, err
	}

	repos := map[int64]*database.DiscoveredRepo{}
	for _, f := range findings {
		if _, ok := repos[f.RepoID]; ok {
			continue
		}
		repo, err := g.db.GetRepo(f.RepoID)
		if err != nil {
			return nil, err
		}
		repos[f.RepoID] = repo
	}
	return &data{scan: scan, findings: findings, repos: repos}, nil
}

func severityCounts(findings []database.Finding) map[string]int {
	counts := map[string]int{}
	for _, f := range findings {
		counts[f.Severity]++
	}
	return counts
}

// groupByRepo returns repo ids in name order with their findings.
func (d *data) groupByRepo() []int64 {
	byRepo := map[int64]bool{}
	var ids []int64
	for _, f := range d.findings {
		if !byRepo[f.RepoID] {
			byRepo[f.RepoID] = true
			ids = append(ids, f.RepoID)
		}
	}
	sort.Slice(ids, func(i, j int) bool {
		return d.repoName(ids[i]) < d.repoName(ids[j])
	})
	return ids
}

func (d *data) repoName(id int64) string {
	if r := d.repos[id]; r != nil {
		return r.FullName
	}
	return fmt.Sprintf("repo %d", id)
}

func (d *data) findingsFor(repoID int64) []database.Finding {
	var out []database.Finding
	for _, f := range d.findings {
		if f.RepoID == repoID {
			out = append(out, f)
		}
	}
	return out
}

// Markdown writes the markdown report for a scan and returns its path.
func (g *Generator) Markdown(scanID int64) (string, error) {
	d, err := g.load(scanID)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# Leak Scan Report — Scan #%d\n\n", d.scan.ID)
	fmt.Fprintf(&b, "Generated: %s\n\n", time.Now().UTC().Format("2006-01-02 15:04 UTC"))

	b.WriteString("## Summary\n\n")
	fmt.Fprintf(&b, "| Field | Value |\n|---|---|\n")
	fmt.Fprintf(&b, "| Status | %s |\n", d.scan.Status)
	fmt.Fprintf(&b, "| Trigger | %s |\n", d.scan.TriggerType)
	fmt.Fprintf(&b, "| Started | %s |\n", d.scan.StartedAt.Format("2006-01-02 15:04"))
	fmt.Fprintf(&b, "| Duration | %ds |\n", d.scan.DurationSecs)
	fmt.Fprintf(&b, "| Repositories found | %d |\n", d.scan.ReposFound)
	fmt.Fprintf(&b, "| Repositories scanned | %d |\n", d.scan.ReposScanned)
	fmt.Fprintf(&b, "| New findings | %d |\n", d.scan.NewFindings)
	fmt.Fprintf(&b, "| Keywords | %d |\n\n", d.scan.KeywordsUsed)

	counts := severityCounts(d.findings)
	b.WriteString("## Findings by severity\n\n| Severity | Count |\n|---|---|\n")
	for _, sev := range []string{"critical", "high", "medium", "low"} {
		fmt.Fprintf(&b, "| %s | %d |\n", sev, counts[sev])
	}
	b.WriteString("\n")

	for _, repoID := range d.groupByRepo() {
		repo := d.repos[repoID]
		fmt.Fprintf(&b, "## %s\n\n", d.repoName(repoID))
		if repo != nil {
			if repo.Description != "" {
				fmt.Fprintf(&b, "%s\n\n", repo.Description)
			}
			if repo.AIRelevance != nil {
				fmt.Fprintf(&b, "AI relevance: %.2f — %s\n\n", *repo.AIRelevance, repo.AISummary)
			}
			var keywords []string
			_ = json.Unmarshal([]byte(repo.MatchedKeywords), &keywords)
			if len(keywords) > 0 {
				fmt.Fprintf(&b, "Matched keywords: %s\n\n", strings.Join(keywords, ", "))
			}
		}
		for _, f := range d.findingsFor(repoID) {
			fmt.Fprintf(&b, "### [%s] %s / %s\n\n", strings.ToUpper(f.Severity), f.Scanner, f.Detector)
			fmt.Fprintf(&b, "- File: `%s:%d`\n", f.FilePath, f.LineNumber)
			if f.CommitHash != "" {
				fmt.Fprintf(&b, "- Commit: `%s`\n", f.CommitHash)
			}
			fmt.Fprintf(&b, "- Verified: %t\n", f.Verified)
			if f.AIAssessment != "" {
				fmt.Fprintf(&b, "- Assessment: %s\n", f.AIAssessment)
			}
			b.WriteString("\n")
		}
	}

	if err := os.MkdirAll(g.dir, 0o755); err != nil {
		return "", fmt.Errorf("creating reports dir: %w", err)
	}
	path := filepath.Join(g.dir, fmt.Sprintf("scan-%d.md", scanID))
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return "", fmt.Errorf("writing report: %w", err)
	}
	return path, nil
}
