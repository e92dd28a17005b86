package scanner

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkellner/leakwatch/internal/database"
	"github.com/mkellner/leakwatch/internal/github"
)

// fakeSearcher counts readme fetches so tests can assert the AI path was
// never entered.
type fakeSearcher struct {
	readmeCalls int
}

func (f *fakeSearcher) SearchCode(string) ([]github.RepoHit, error)      { return nil, nil }
func (f *fakeSearcher) RepoDetails(string) (*github.RepoDetails, error) { return nil, nil }
func (f *fakeSearcher) Readme(string) (string, error) {
	f.readmeCalls++
	return "readme", nil
}

type fakeAssessor struct {
	score   float64
	summary string
	calls   int
}

func (f *fakeAssessor) RepoRelevance(ctx context.Context, meta RepoMeta) (float64, string) {
	f.calls++
	return f.score, f.summary
}

func (f *fakeAssessor) AssessFinding(ctx context.Context, fc FindingContext) string {
	return ""
}

func newTestGate(score float64) (*Gate, *fakeSearcher, *fakeAssessor) {
	search := &fakeSearcher{}
	assessor := &fakeAssessor{score: score, summary: "test summary"}
	return &Gate{
		MaxRepoSizeKB: 500 * 1024,
		MinRelevance:  0.3,
		Search:        search,
		Assessor:      assessor,
	}, search, assessor
}

func pendingRepo() *database.DiscoveredRepo {
	return &database.DiscoveredRepo{
		ID:           1,
		FullName:     "someone/repo",
		ScanStatus:   database.RepoStatusPending,
		ScanOverride: database.OverrideAuto,
	}
}

func TestGateDismissedIsSilent(t *testing.T) {
	gate, search, assessor := newTestGate(0.9)
	repo := pendingRepo()
	repo.Dismissed = true

	d := gate.Decide(context.Background(), repo)

	assert.Equal(t, GateSkipQuiet, d.Action)
	assert.Zero(t, assessor.calls, "dismissed repos never reach the AI")
	assert.Zero(t, search.readmeCalls)
}

func TestGateOversizedSkipsBeforeAI(t *testing.T) {
	gate, _, assessor := newTestGate(0.9)
	repo := pendingRepo()
	repo.SizeKB = 600 * 1024

	d := gate.Decide(context.Background(), repo)

	require.Equal(t, GateSetStatus, d.Action)
	assert.Equal(t, database.RepoStatusSkipped, d.Status)
	assert.Zero(t, assessor.calls)
}

func TestGateBlockOverride(t *testing.T) {
	gate, _, _ := newTestGate(0.9)

	repo := pendingRepo()
	repo.ScanOverride = database.OverrideBlock
	d := gate.Decide(context.Background(), repo)
	require.Equal(t, GateSetStatus, d.Action, "pending repos get downgraded to skipped")
	assert.Equal(t, database.RepoStatusSkipped, d.Status)

	// A repo already in a terminal state keeps it.
	repo2 := pendingRepo()
	repo2.ScanOverride = database.OverrideBlock
	repo2.ScanStatus = database.RepoStatusClean
	d2 := gate.Decide(context.Background(), repo2)
	assert.Equal(t, GateSkipQuiet, d2.Action)
}

func TestGateForceBypassesRelevanceAndUnchanged(t *testing.T) {
	gate, _, assessor := newTestGate(0.0) // would fail relevance
	repo := pendingRepo()
	repo.ScanOverride = database.OverrideForce
	// Would also count as unchanged.
	scanned := time.Now()
	repo.LastScannedAt = &scanned
	repo.PushedAt = scanned.Add(-time.Hour).Format(time.RFC3339)

	d := gate.Decide(context.Background(), repo)

	assert.Equal(t, GateScan, d.Action)
	assert.True(t, d.Forced)
	assert.Zero(t, assessor.calls)
}

func TestGateLowRelevanceStopsWithScoreStored(t *testing.T) {
	gate, _, _ := newTestGate(0.1)
	repo := pendingRepo()

	d := gate.Decide(context.Background(), repo)

	require.Equal(t, GateSetStatus, d.Action)
	assert.Equal(t, database.RepoStatusLowRelevance, d.Status)
	require.NotNil(t, d.Score)
	assert.InDelta(t, 0.1, *d.Score, 0.001)
	assert.Equal(t, "test summary", d.Summary)
}

func TestGateRelevantRepoProceedsWithScore(t *testing.T) {
	gate, _, _ := newTestGate(0.8)
	repo := pendingRepo()

	d := gate.Decide(context.Background(), repo)

	assert.Equal(t, GateScan, d.Action)
	require.NotNil(t, d.Score)
	assert.InDelta(t, 0.8, *d.Score, 0.001)
}

func TestGateUnchangedBoundary(t *testing.T) {
	gate, _, _ := newTestGate(0.9)
	scanned := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	cases := []struct {
		name     string
		pushedAt string
		want     GateAction
	}{
		{"pushed before scan", scanned.Add(-time.Hour).Format(time.RFC3339), GateSetStatus},
		{"pushed exactly at scan", scanned.Format(time.RFC3339), GateSetStatus},
		{"pushed after scan", scanned.Add(time.Hour).Format(time.RFC3339), GateScan},
		{"unparseable timestamp scans anyway", "not-a-timestamp", GateScan},
		{"missing timestamp scans anyway", "", GateScan},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			repo := pendingRepo()
			repo.LastScannedAt = &scanned
			repo.PushedAt = tc.pushedAt

			d := gate.Decide(context.Background(), repo)
			assert.Equal(t, tc.want, d.Action)
			if tc.want == GateSetStatus {
				assert.Equal(t, database.RepoStatusUnchanged, d.Status)
			}
		})
	}
}

func TestGateNeverScannedRepoIsNotUnchanged(t *testing.T) {
	gate, _, _ := newTestGate(0.9)
	repo := pendingRepo()
	repo.PushedAt = time.Now().Add(-24 * time.Hour).Format(time.RFC3339)

	d := gate.Decide(context.Background(), repo)
	assert.Equal(t, GateScan, d.Action)
}
