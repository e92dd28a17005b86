package database

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func seedRepo(t *testing.T, db *DB) *DiscoveredRepo {
	t.Helper()
	repo, err := db.UpsertDiscoveredRepo("acme/leaky", "https://github.com/acme/leaky",
		"test repo", "acme", "Organization", false, "acme-corp")
	require.NoError(t, err)
	return repo
}

func TestUpsertFindingIdempotent(t *testing.T) {
	db := newTestDB(t)
	repo := seedRepo(t, db)
	scanID := int64(1)

	f := &Finding{
		Hash:           "abcdef0123456789",
		RepoID:         repo.ID,
		ScanID:         &scanID,
		Scanner:        "gitleaks",
		Detector:       "aws-access-key",
		FilePath:       ".env",
		CommitHash:     "abc12345",
		LineNumber:     3,
		Severity:       "high",
		MatchedSnippet: "AKIA...",
	}

	isNew, err := db.UpsertFinding(f)
	require.NoError(t, err)
	assert.True(t, isNew)

	first, err := db.FindingByHash(f.Hash)
	require.NoError(t, err)
	require.NotNil(t, first)

	// Second sighting with a fresh snippet.
	f.MatchedSnippet = "AKIA... (rotated)"
	isNew, err = db.UpsertFinding(f)
	require.NoError(t, err)
	assert.False(t, isNew)

	second, err := db.FindingByHash(f.Hash)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.FirstSeenAt, second.FirstSeenAt)
	assert.Equal(t, "AKIA... (rotated)", second.MatchedSnippet)
	assert.False(t, second.Resolved, "upsert never reopens or resolves")
	assert.False(t, second.LastSeenAt.Before(first.LastSeenAt))
}

func TestUpsertRepoMergesKeywords(t *testing.T) {
	db := newTestDB(t)

	first := seedRepo(t, db)
	var keywords []string
	require.NoError(t, json.Unmarshal([]byte(first.MatchedKeywords), &keywords))
	assert.Equal(t, []string{"acme-corp"}, keywords)

	// Same repo found by a second keyword, and by a case variant of the
	// first one.
	again, err := db.UpsertDiscoveredRepo("acme/leaky", "https://github.com/acme/leaky",
		"test repo", "acme", "Organization", false, "acme.internal")
	require.NoError(t, err)
	_, err = db.UpsertDiscoveredRepo("acme/leaky", "https://github.com/acme/leaky",
		"test repo", "acme", "Organization", false, "ACME-CORP")
	require.NoError(t, err)

	final, err := db.RepoByFullName("acme/leaky")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(final.MatchedKeywords), &keywords))
	assert.ElementsMatch(t, []string{"acme-corp", "acme.internal"}, keywords)
	assert.Equal(t, first.ID, again.ID)
}

func TestKeywordMatchUnionCapped(t *testing.T) {
	db := newTestDB(t)
	repo := seedRepo(t, db)

	files := make([]string, 8)
	for i := range files {
		files[i] = string(rune('a'+i)) + ".env"
	}
	require.NoError(t, db.UpsertKeywordMatch(repo.ID, "acme-corp", MatchSourceCodeSearch, files))

	more := []string{"a.env", "x.env", "y.env", "z.env", "w.env"}
	require.NoError(t, db.UpsertKeywordMatch(repo.ID, "acme-corp", MatchSourceCodeSearch, more))

	matches, err := db.KeywordMatchesForRepo(repo.ID)
	require.NoError(t, err)
	require.Len(t, matches, 1)

	var got []string
	require.NoError(t, json.Unmarshal([]byte(matches[0].MatchFiles), &got))
	assert.Len(t, got, 10, "union is capped at 10 files")
	assert.Contains(t, got, "a.env")
	assert.NotContains(t, got, "w.env", "entries past the cap are dropped")
}

func TestKeywordMatchPerSource(t *testing.T) {
	db := newTestDB(t)
	repo := seedRepo(t, db)

	require.NoError(t, db.UpsertKeywordMatch(repo.ID, "acme-corp", MatchSourceCodeSearch, []string{"a.env"}))
	require.NoError(t, db.UpsertKeywordMatch(repo.ID, "acme-corp", MatchSourceIntel, []string{"b.env"}))

	matches, err := db.KeywordMatchesForRepo(repo.ID)
	require.NoError(t, err)
	require.Len(t, matches, 2, "same keyword from different sources keeps separate rows")
	assert.Equal(t, MatchSourceCodeSearch, matches[0].MatchSource)
	assert.Equal(t, MatchSourceIntel, matches[1].MatchSource)
	assert.Equal(t, `["a.env"]`, matches[0].MatchFiles)
	assert.Equal(t, `["b.env"]`, matches[1].MatchFiles)

	// A repeat from one source merges into its own row only.
	require.NoError(t, db.UpsertKeywordMatch(repo.ID, "acme-corp", MatchSourceIntel, []string{"c.env"}))
	matches, err = db.KeywordMatchesForRepo(repo.ID)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, `["a.env"]`, matches[0].MatchFiles)
	assert.Equal(t, `["b.env","c.env"]`, matches[1].MatchFiles)
}

func TestRediscoveryBumpsLastSeen(t *testing.T) {
	db := newTestDB(t)
	repo := seedRepo(t, db)

	_, err := db.conn.Exec(
		"UPDATE discovered_repos SET last_seen_at = datetime('now', '-2 days') WHERE id = ?",
		repo.ID)
	require.NoError(t, err)
	before, err := db.GetRepo(repo.ID)
	require.NoError(t, err)

	again, err := db.UpsertDiscoveredRepo("acme/leaky", "https://github.com/acme/leaky",
		"test repo", "acme", "Organization", false, "acme-corp")
	require.NoError(t, err)

	assert.Equal(t, repo.ID, again.ID)
	assert.True(t, again.LastSeenAt.After(before.LastSeenAt), "rediscovery refreshes last_seen_at")
	assert.Equal(t, before.FirstSeenAt, again.FirstSeenAt, "first_seen_at never moves")
}

func TestMarkStaleRunningScans(t *testing.T) {
	db := newTestDB(t)

	running, err := db.CreateScan("manual", 1)
	require.NoError(t, err)
	done, err := db.CreateScan("manual", 1)
	require.NoError(t, err)
	require.NoError(t, db.FinishScan(done.ID, ScanStatusCompleted, 2, 1, 1, ""))

	n, err := db.MarkStaleRunningScans()
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	stale, err := db.GetScan(running.ID)
	require.NoError(t, err)
	assert.Equal(t, ScanStatusFailed, stale.Status)
	assert.NotEmpty(t, stale.ErrorMessage)
	assert.NotNil(t, stale.FinishedAt)

	kept, err := db.GetScan(done.ID)
	require.NoError(t, err)
	assert.Equal(t, ScanStatusCompleted, kept.Status)
}

func TestMarkStaleRunningScansRecordsDuration(t *testing.T) {
	db := newTestDB(t)

	scan, err := db.CreateScan("scheduled", 3)
	require.NoError(t, err)
	_, err = db.conn.Exec(
		"UPDATE scans SET started_at = datetime('now', '-90 seconds') WHERE id = ?",
		scan.ID)
	require.NoError(t, err)

	_, err = db.MarkStaleRunningScans()
	require.NoError(t, err)

	stale, err := db.GetScan(scan.ID)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, stale.DurationSecs, int64(89), "duration is measured from started_at")
	assert.LessOrEqual(t, stale.DurationSecs, int64(120))
}

func TestReposByIDs(t *testing.T) {
	db := newTestDB(t)

	a := seedRepo(t, db)
	b, err := db.UpsertDiscoveredRepo("acme/other", "https://github.com/acme/other",
		"", "acme", "Organization", false, "acme-corp")
	require.NoError(t, err)
	c, err := db.UpsertDiscoveredRepo("acme/muted", "https://github.com/acme/muted",
		"", "acme", "Organization", false, "acme-corp")
	require.NoError(t, err)
	require.NoError(t, db.SetRepoDismissed(c.ID, true))

	repos, err := db.ReposByIDs([]int64{b.ID, a.ID, c.ID})
	require.NoError(t, err)
	require.Len(t, repos, 2, "dismissed repos are excluded")
	assert.Equal(t, "acme/leaky", repos[0].FullName)
	assert.Equal(t, "acme/other", repos[1].FullName)

	empty, err := db.ReposByIDs(nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestPendingReposExcludesDismissed(t *testing.T) {
	db := newTestDB(t)

	a := seedRepo(t, db)
	b, err := db.UpsertDiscoveredRepo("acme/other", "https://github.com/acme/other",
		"", "acme", "Organization", false, "acme-corp")
	require.NoError(t, err)
	c, err := db.UpsertDiscoveredRepo("acme/done", "https://github.com/acme/done",
		"", "acme", "Organization", false, "acme-corp")
	require.NoError(t, err)

	require.NoError(t, db.SetRepoDismissed(b.ID, true))
	require.NoError(t, db.FinishRepoScan(c.ID, RepoStatusClean, 5))

	pending, err := db.PendingRepos()
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, a.ID, pending[0].ID)
}

func TestResolveAndReopenFinding(t *testing.T) {
	db := newTestDB(t)
	repo := seedRepo(t, db)

	f := &Finding{Hash: "feedbeef00000000", RepoID: repo.ID, Scanner: "custom",
		Detector: "IBAN", Severity: "critical"}
	_, err := db.UpsertFinding(f)
	require.NoError(t, err)
	stored, err := db.FindingByHash(f.Hash)
	require.NoError(t, err)

	require.NoError(t, db.ResolveFinding(stored.ID, "Automatically verified: finding no longer present"))
	resolved, err := db.GetFinding(stored.ID)
	require.NoError(t, err)
	assert.True(t, resolved.Resolved)
	assert.NotNil(t, resolved.ResolvedAt)
	assert.Contains(t, resolved.Notes, "no longer present")

	open, err := db.OpenFindings()
	require.NoError(t, err)
	assert.Empty(t, open)

	require.NoError(t, db.ReopenFinding(stored.ID))
	reopened, err := db.GetFinding(stored.ID)
	require.NoError(t, err)
	assert.False(t, reopened.Resolved)
	assert.Nil(t, reopened.ResolvedAt)
}

func TestModuleSeedKeepsOperatorChanges(t *testing.T) {
	db := newTestDB(t)
	defaults := []ModuleSetting{
		{ModuleKey: "subfinder", Name: "Subfinder", Config: "{}"},
		{ModuleKey: "gitdorker", Name: "Git Dorker", Config: "{}"},
	}
	require.NoError(t, db.SeedModuleSettings(defaults))
	require.NoError(t, db.UpdateModuleSetting("subfinder", true, `{"sources":"all"}`))

	// A second seed (restart) must not clobber the operator's settings.
	require.NoError(t, db.SeedModuleSettings(defaults))

	enabled, err := db.EnabledModules()
	require.NoError(t, err)
	require.Len(t, enabled, 1)
	assert.Equal(t, "subfinder", enabled[0].ModuleKey)
	assert.Equal(t, `{"sources":"all"}`, enabled[0].Config)
}

func TestAppSettings(t *testing.T) {
	db := newTestDB(t)

	v, err := db.GetAppSetting("finding_prompt")
	require.NoError(t, err)
	assert.Empty(t, v)

	require.NoError(t, db.SetAppSetting("finding_prompt", "custom {repo}"))
	require.NoError(t, db.SetAppSetting("finding_prompt", "custom v2 {repo}"))

	v, err = db.GetAppSetting("finding_prompt")
	require.NoError(t, err)
	assert.Equal(t, "custom v2 {repo}", v)
}
