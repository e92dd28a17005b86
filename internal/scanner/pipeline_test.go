package scanner

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkellner/leakwatch/internal/database"
	"github.com/mkellner/leakwatch/internal/github"
	"github.com/mkellner/leakwatch/internal/progress"
)

// stubSearch serves canned hits and details, no network.
type stubSearch struct {
	hits    map[string][]github.RepoHit
	details map[string]*github.RepoDetails
	queries []string
}

func (s *stubSearch) SearchCode(keyword string) ([]github.RepoHit, error) {
	s.queries = append(s.queries, keyword)
	return s.hits[keyword], nil
}

func (s *stubSearch) RepoDetails(fullName string) (*github.RepoDetails, error) {
	if d, ok := s.details[fullName]; ok {
		return d, nil
	}
	return &github.RepoDetails{FullName: fullName, SizeKB: 100, PushedAt: "2026-08-01T00:00:00Z"}, nil
}

func (s *stubSearch) Readme(string) (string, error) { return "", nil }

// stubDeep returns canned findings per repo and can cancel mid-run.
type stubDeep struct {
	findings map[string][]RawFinding
	scanned  []string
	cancelOn string // request cancellation when this repo is reached
	tracker  *progress.Tracker
}

func (d *stubDeep) Scan(ctx context.Context, prog *progress.Tracker, fullName string, extra []string) ([]RawFinding, error) {
	if d.cancelOn == fullName {
		d.tracker.RequestCancel()
		return nil, progress.ErrCancelled
	}
	d.scanned = append(d.scanned, fullName)
	return d.findings[fullName], nil
}

type stubNotifier struct {
	called int
	scan   *database.Scan
}

func (n *stubNotifier) Name() string { return "stub" }
func (n *stubNotifier) Notify(scan *database.Scan, findings []database.Finding) error {
	n.called++
	n.scan = scan
	return nil
}

func hit(repo string, files ...string) github.RepoHit {
	return github.RepoHit{
		FullName:   repo,
		HTMLURL:    "https://github.com/" + repo,
		OwnerLogin: "owner",
		OwnerType:  "User",
		MatchFiles: files,
	}
}

func rawFinding(repo, detector, file string, line int) RawFinding {
	return RawFinding{
		Hash:           Fingerprint("gitleaks", detector, repo, file, "abc12345", line),
		Scanner:        "gitleaks",
		Detector:       detector,
		FilePath:       file,
		CommitHash:     "abc12345",
		LineNumber:     line,
		Severity:       "high",
		MatchedSnippet: "secret...",
	}
}

func newTestPipeline(t *testing.T, search *stubSearch, deep *stubDeep) (*Pipeline, *database.DB) {
	t.Helper()
	db, err := database.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	tracker := progress.NewTracker()
	if deep != nil {
		deep.tracker = tracker
	}
	assessor := &fakeAssessor{score: 0.9, summary: "relevant"}

	p := New(Collaborators{
		DB:       db,
		Progress: tracker,
		Guard:    &RunGuard{},
		Search:   search,
		Assessor: assessor,
		Gate: &Gate{
			MaxRepoSizeKB: 500 * 1024,
			MinRelevance:  0.3,
			Search:        search,
			Assessor:      assessor,
		},
		Deep: deep,
	})
	return p, db
}

func TestPipelineFullRun(t *testing.T) {
	search := &stubSearch{
		hits: map[string][]github.RepoHit{
			"acme-corp": {hit("someone/dump", ".env"), hit("other/tool", "config.yml")},
		},
	}
	deep := &stubDeep{
		findings: map[string][]RawFinding{
			"someone/dump": {rawFinding("someone/dump", "aws-access-key", ".env", 3)},
		},
	}
	p, db := newTestPipeline(t, search, deep)
	_, err := db.CreateKeyword("acme-corp", "general")
	require.NoError(t, err)

	require.NoError(t, p.Run("manual"))

	scan, err := db.LatestScan()
	require.NoError(t, err)
	require.NotNil(t, scan)
	assert.Equal(t, database.ScanStatusCompleted, scan.Status)
	assert.Equal(t, "manual", scan.TriggerType)
	assert.Equal(t, 1, scan.KeywordsUsed)
	assert.Equal(t, 2, scan.ReposFound)
	assert.Equal(t, 2, scan.ReposScanned)
	assert.Equal(t, 1, scan.NewFindings)
	assert.NotNil(t, scan.FinishedAt)

	assert.ElementsMatch(t, []string{"someone/dump", "other/tool"}, deep.scanned)

	dump, err := db.RepoByFullName("someone/dump")
	require.NoError(t, err)
	assert.Equal(t, database.RepoStatusFindings, dump.ScanStatus)
	require.NotNil(t, dump.AIRelevance)
	assert.InDelta(t, 0.9, *dump.AIRelevance, 0.001)
	assert.NotNil(t, dump.LastScannedAt)
	assert.EqualValues(t, 100, dump.SizeKB, "metadata backfilled from details")

	tool, err := db.RepoByFullName("other/tool")
	require.NoError(t, err)
	assert.Equal(t, database.RepoStatusClean, tool.ScanStatus)

	findings, err := db.OpenFindings()
	require.NoError(t, err)
	require.Len(t, findings, 1)
	assert.Equal(t, "aws-access-key", findings[0].Detector)

	assert.False(t, p.Guard().Running(), "guard released after the run")
	assert.False(t, p.Progress().Snapshot().Running, "tracker reset after the run")
}

func TestPipelineRejectsConcurrentRun(t *testing.T) {
	p, db := newTestPipeline(t, &stubSearch{}, &stubDeep{})
	_, err := db.CreateKeyword("acme-corp", "general")
	require.NoError(t, err)

	require.True(t, p.Guard().TryAcquire())
	defer p.Guard().Release()

	assert.ErrorIs(t, p.Run("manual"), ErrAlreadyRunning)
	assert.ErrorIs(t, p.Start("manual"), ErrAlreadyRunning)
}

func TestPipelineSecondRunSkipsUnchangedRepos(t *testing.T) {
	search := &stubSearch{
		hits: map[string][]github.RepoHit{
			"acme-corp": {hit("someone/dump", ".env")},
		},
		// Pushed long before the first scan finishes.
		details: map[string]*github.RepoDetails{
			"someone/dump": {FullName: "someone/dump", SizeKB: 10, PushedAt: "2020-01-01T00:00:00Z"},
		},
	}
	deep := &stubDeep{}
	p, db := newTestPipeline(t, search, deep)
	_, err := db.CreateKeyword("acme-corp", "general")
	require.NoError(t, err)

	require.NoError(t, p.Run("manual"))
	require.Len(t, deep.scanned, 1)

	// Rediscovered on the second run, but nothing was pushed since.
	require.NoError(t, p.Run("manual"))
	assert.Len(t, deep.scanned, 1, "unchanged repo is not scanned again")

	repo, err := db.RepoByFullName("someone/dump")
	require.NoError(t, err)
	assert.Equal(t, database.RepoStatusUnchanged, repo.ScanStatus)
}

func TestPipelineRescansRepoAfterNewPush(t *testing.T) {
	search := &stubSearch{
		hits: map[string][]github.RepoHit{
			"acme-corp": {hit("someone/dump", ".env")},
		},
		details: map[string]*github.RepoDetails{
			"someone/dump": {FullName: "someone/dump", SizeKB: 10, PushedAt: "2020-01-01T00:00:00Z"},
		},
	}
	deep := &stubDeep{}
	p, db := newTestPipeline(t, search, deep)
	_, err := db.CreateKeyword("acme-corp", "general")
	require.NoError(t, err)

	require.NoError(t, p.Run("manual"))
	require.Equal(t, []string{"someone/dump"}, deep.scanned)

	// New commits land between the runs.
	search.details["someone/dump"].PushedAt = "2030-01-01T00:00:00Z"

	require.NoError(t, p.Run("manual"))
	assert.Equal(t, []string{"someone/dump", "someone/dump"}, deep.scanned,
		"a rediscovered repo with fresh pushes is scanned again")
}

func TestPipelineZeroKeywordsCompletesEmptyScan(t *testing.T) {
	p, db := newTestPipeline(t, &stubSearch{}, &stubDeep{})

	require.NoError(t, p.Run("manual"))

	scan, err := db.LatestScan()
	require.NoError(t, err)
	require.NotNil(t, scan, "a run with no keywords still records its scan")
	assert.Equal(t, database.ScanStatusCompleted, scan.Status)
	assert.Equal(t, 0, scan.KeywordsUsed)
	assert.Equal(t, 0, scan.ReposFound)
	assert.Equal(t, 0, scan.ReposScanned)
	assert.Equal(t, 0, scan.NewFindings)
	assert.NotNil(t, scan.FinishedAt)
	assert.False(t, p.Guard().Running())
}

func TestPipelineStatusReflectsOpenFindings(t *testing.T) {
	search := &stubSearch{
		hits: map[string][]github.RepoHit{
			"acme-corp": {hit("someone/dump", ".env")},
		},
	}
	deep := &stubDeep{
		findings: map[string][]RawFinding{
			"someone/dump": {rawFinding("someone/dump", "aws-access-key", ".env", 3)},
		},
	}
	p, db := newTestPipeline(t, search, deep)
	_, err := db.CreateKeyword("acme-corp", "general")
	require.NoError(t, err)

	require.NoError(t, p.Run("manual"))

	repo, err := db.RepoByFullName("someone/dump")
	require.NoError(t, err)
	require.Equal(t, database.RepoStatusFindings, repo.ScanStatus)
	require.NoError(t, db.SetRepoOverride(repo.ID, database.OverrideForce))

	// A fresh scan turning up nothing does not clear the old finding.
	deep.findings = map[string][]RawFinding{}
	require.NoError(t, p.Run("manual"))

	repo, err = db.RepoByFullName("someone/dump")
	require.NoError(t, err)
	assert.Equal(t, database.RepoStatusFindings, repo.ScanStatus,
		"an unresolved finding keeps the repo flagged")

	// Once the finding is resolved, even rediscovering it reads clean.
	open, err := db.OpenFindings()
	require.NoError(t, err)
	require.Len(t, open, 1)
	require.NoError(t, db.ResolveFinding(open[0].ID, "rotated"))
	deep.findings = map[string][]RawFinding{
		"someone/dump": {rawFinding("someone/dump", "aws-access-key", ".env", 3)},
	}

	require.NoError(t, p.Run("manual"))

	repo, err = db.RepoByFullName("someone/dump")
	require.NoError(t, err)
	assert.Equal(t, database.RepoStatusClean, repo.ScanStatus,
		"a resolved finding does not reopen or flag the repo")
}

func TestPipelineCancellationKeepsCommittedWork(t *testing.T) {
	search := &stubSearch{
		hits: map[string][]github.RepoHit{
			"acme-corp": {hit("aaa/first", ".env"), hit("zzz/second", ".env")},
		},
	}
	// Repos are analyzed in name order; cancel when the second one starts.
	deep := &stubDeep{
		findings: map[string][]RawFinding{
			"aaa/first": {rawFinding("aaa/first", "aws-access-key", ".env", 1)},
		},
		cancelOn: "zzz/second",
	}
	p, db := newTestPipeline(t, search, deep)
	_, err := db.CreateKeyword("acme-corp", "general")
	require.NoError(t, err)

	require.NoError(t, p.Run("manual"))

	scan, err := db.LatestScan()
	require.NoError(t, err)
	assert.Equal(t, database.ScanStatusCancelled, scan.Status)
	assert.Equal(t, 1, scan.ReposScanned, "counts reflect work up to the interruption")
	assert.Equal(t, 1, scan.NewFindings)

	first, err := db.RepoByFullName("aaa/first")
	require.NoError(t, err)
	assert.Equal(t, database.RepoStatusFindings, first.ScanStatus, "finished repo stays committed")

	second, err := db.RepoByFullName("zzz/second")
	require.NoError(t, err)
	assert.Equal(t, database.RepoStatusPending, second.ScanStatus, "interrupted repo stays pending for resume")

	assert.False(t, p.Guard().Running(), "guard released after cancellation")
}

func TestPipelineRediscoveredFindingIsNotNew(t *testing.T) {
	search := &stubSearch{
		hits: map[string][]github.RepoHit{
			"acme-corp": {hit("someone/dump", ".env")},
		},
	}
	deep := &stubDeep{
		findings: map[string][]RawFinding{
			"someone/dump": {rawFinding("someone/dump", "aws-access-key", ".env", 3)},
		},
	}
	p, db := newTestPipeline(t, search, deep)
	_, err := db.CreateKeyword("acme-corp", "general")
	require.NoError(t, err)

	require.NoError(t, p.Run("manual"))

	repo, err := db.RepoByFullName("someone/dump")
	require.NoError(t, err)
	// Force a second scan despite the unchanged gate.
	require.NoError(t, db.SetRepoOverride(repo.ID, database.OverrideForce))

	require.NoError(t, p.Run("manual"))

	scan, err := db.LatestScan()
	require.NoError(t, err)
	assert.Equal(t, 0, scan.NewFindings, "same fingerprint is an update, not a new finding")
	assert.Equal(t, 1, scan.TotalFindings)

	findings, err := db.OpenFindings()
	require.NoError(t, err)
	assert.Len(t, findings, 1)
}

func TestPipelineNotifiesOnNewFindings(t *testing.T) {
	search := &stubSearch{
		hits: map[string][]github.RepoHit{
			"acme-corp": {hit("someone/dump", ".env")},
		},
	}
	deep := &stubDeep{
		findings: map[string][]RawFinding{
			"someone/dump": {rawFinding("someone/dump", "aws-access-key", ".env", 3)},
		},
	}
	p, db := newTestPipeline(t, search, deep)
	notifier := &stubNotifier{}
	p.notifiers = []Notifier{notifier}
	_, err := db.CreateKeyword("acme-corp", "general")
	require.NoError(t, err)

	require.NoError(t, p.Run("manual"))

	assert.Equal(t, 1, notifier.called)
}
