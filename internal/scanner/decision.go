package scanner

import (
	"context"
	"fmt"
	"time"

	"github.com/mkellner/leakwatch/internal/database"
)

// GateAction says what the pipeline should do with a repository.
type GateAction int

const (
	// GateScan proceeds to the deep scan.
	GateScan GateAction = iota
	// GateSkipQuiet skips without touching the repo row or the log.
	GateSkipQuiet
	// GateSetStatus skips and records Status on the repo.
	GateSetStatus
)

// GateDecision is the outcome of running a repository through the rule
// list. Score and Summary are set when the relevance rule ran, regardless
// of which way it decided, so the pipeline can persist them.
type GateDecision struct {
	Action  GateAction
	Status  string
	Reason  string
	Forced  bool
	Score   *float64
	Summary string
}

// Gate decides, per repository, whether a deep scan is warranted. Rules are
// evaluated in a fixed order and the first match wins.
type Gate struct {
	MaxRepoSizeKB int64
	MinRelevance  float64
	Search        CodeSearcher
	Assessor      Assessor
}

// Decide runs the rule list:
//
//  1. dismissed: operator said never again, skip silently
//  2. oversized: exceeds the configured clone size limit
//  3. block override: skip, but only downgrade a still-pending row
//  4. force override: scan, bypassing relevance and unchanged checks
//  5. relevance: AI score below threshold stops here
//  6. unchanged: nothing pushed since the last scan, recorded on the repo
//  7. default: scan
func (g *Gate) Decide(ctx context.Context, repo *database.DiscoveredRepo) GateDecision {
	if repo.Dismissed {
		return GateDecision{Action: GateSkipQuiet, Reason: "dismissed"}
	}

	if g.MaxRepoSizeKB > 0 && repo.SizeKB > g.MaxRepoSizeKB {
		return GateDecision{
			Action: GateSetStatus,
			Status: database.RepoStatusSkipped,
			Reason: fmt.Sprintf("size %d KB exceeds limit %d KB", repo.SizeKB, g.MaxRepoSizeKB),
		}
	}

	if repo.ScanOverride == database.OverrideBlock {
		d := GateDecision{Action: GateSkipQuiet, Reason: "blocked by override"}
		if repo.ScanStatus == database.RepoStatusPending {
			d.Action = GateSetStatus
			d.Status = database.RepoStatusSkipped
		}
		return d
	}

	forced := repo.ScanOverride == database.OverrideForce

	if !forced {
		score, summary := g.relevance(ctx, repo)
		d := GateDecision{Score: &score, Summary: summary}
		if score < g.MinRelevance {
			d.Action = GateSetStatus
			d.Status = database.RepoStatusLowRelevance
			d.Reason = fmt.Sprintf("relevance %.2f below threshold %.2f", score, g.MinRelevance)
			return d
		}

		if unchanged(repo) {
			d.Action = GateSetStatus
			d.Status = database.RepoStatusUnchanged
			d.Reason = "no pushes since last scan"
			return d
		}

		d.Action = GateScan
		return d
	}

	return GateDecision{Action: GateScan, Forced: true, Reason: "forced by override"}
}

func (g *Gate) relevance(ctx context.Context, repo *database.DiscoveredRepo) (float64, string) {
	readme, err := g.Search.Readme(repo.FullName)
	if err != nil {
		readme = ""
	}
	return g.Assessor.RepoRelevance(ctx, RepoMeta{
		FullName:      repo.FullName,
		Description:   repo.Description,
		Language:      repo.Language,
		ReadmeExcerpt: readme,
	})
}

// unchanged reports whether the repo has had no pushes since its last scan.
// A pushed-at value that fails to parse counts as changed, so a bad
// timestamp can only cause an extra scan, never a missed one.
func unchanged(repo *database.DiscoveredRepo) bool {
	if repo.LastScannedAt == nil || repo.PushedAt == "" {
		return false
	}
	pushed, err := time.Parse(time.RFC3339, repo.PushedAt)
	if err != nil {
		return false
	}
	return !pushed.After(*repo.LastScannedAt)
}
