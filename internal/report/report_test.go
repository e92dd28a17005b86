package report

import (
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkellner/leakwatch/internal/database"
)

func newTestGenerator(t *testing.T) (*Generator, *database.DB, int64) {
	t.Helper()
	db, err := database.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	scan, err := db.CreateScan("manual", 2)
	require.NoError(t, err)

	repoA, err := db.UpsertDiscoveredRepo("zeta/config-dump", "", "Old deployment configs", "zeta", "User", false, "acme-corp")
	require.NoError(t, err)
	repoB, err := db.UpsertDiscoveredRepo("alpha/scripts", "", "", "alpha", "Organization", false, "acme-corp")
	require.NoError(t, err)
	require.NoError(t, db.SetRepoRelevance(repoA.ID, 0.92, "References internal acme-corp hostnames."))

	findings := []database.Finding{
		{
			Hash: "aaaa000011112222", RepoID: repoA.ID, ScanID: &scan.ID,
			Scanner: "trufflehog", Detector: "aws", FilePath: ".env", LineNumber: 3,
			Severity: "critical", Verified: true, CommitHash: "abc1234",
		},
		{
			Hash: "bbbb000011112222", RepoID: repoA.ID, ScanID: &scan.ID,
			Scanner: "gitleaks", Detector: "generic-api-key", FilePath: "deploy.sh", LineNumber: 10,
			Severity: "medium",
		},
		{
			Hash: "cccc000011112222", RepoID: repoB.ID, ScanID: &scan.ID,
			Scanner: "patterns", Detector: "keyword:acme-corp", FilePath: "notes.txt", LineNumber: 1,
			Severity: "medium",
		},
	}
	for i := range findings {
		_, err := db.UpsertFinding(&findings[i])
		require.NoError(t, err)
	}
	require.NoError(t, db.FinishScan(scan.ID, database.ScanStatusCompleted, 2, 3, 3, ""))

	return NewGenerator(db, t.TempDir(), ""), db, scan.ID
}

func TestMarkdownReport(t *testing.T) {
	gen, _, scanID := newTestGenerator(t)

	path, err := gen.Markdown(scanID)
	require.NoError(t, err)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	body := string(raw)

	assert.Contains(t, body, "# Leak Scan Report — Scan #1")
	assert.Contains(t, body, "| Status | completed |")
	assert.Contains(t, body, "| Keywords | 2 |")
	assert.Contains(t, body, "| New findings | 3 |")
	assert.Contains(t, body, "| critical | 1 |")
	assert.Contains(t, body, "| medium | 2 |")

	assert.Contains(t, body, "## zeta/config-dump")
	assert.Contains(t, body, "Old deployment configs")
	assert.Contains(t, body, "AI relevance: 0.92 — References internal acme-corp hostnames.")
	assert.Contains(t, body, "Matched keywords: acme-corp")
	assert.Contains(t, body, "### [CRITICAL] trufflehog / aws")
	assert.Contains(t, body, "- File: `.env:3`")
	assert.Contains(t, body, "- Commit: `abc1234`")
	assert.Contains(t, body, "- Verified: true")

	// Repositories are ordered by name.
	assert.Less(t,
		strings.Index(body, "## alpha/scripts"),
		strings.Index(body, "## zeta/config-dump"))
}

func TestMarkdownUnknownScan(t *testing.T) {
	gen, _, _ := newTestGenerator(t)
	_, err := gen.Markdown(999)
	assert.ErrorContains(t, err, "not found")
}

func TestPDFRequiresFont(t *testing.T) {
	gen, _, scanID := newTestGenerator(t)
	_, err := gen.PDF(scanID)
	assert.ErrorContains(t, err, "no report font configured")
}
