package scanner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mkellner/leakwatch/internal/database"
	"github.com/mkellner/leakwatch/internal/progress"
)

// CleanupStaleScans fails any scan row left in running state by a crashed
// process. Called at startup and before each new trigger.
func (p *Pipeline) CleanupStaleScans() error {
	n, err := p.db.MarkStaleRunningScans()
	if err != nil {
		return err
	}
	if n > 0 {
		slog.Info("cleaned up stale scans", "count", n)
	}
	return nil
}

// startGuarded claims the guard and runs fn in the background, releasing
// the guard and resetting the tracker when it finishes.
func (p *Pipeline) startGuarded(fn func()) error {
	if !p.guard.TryAcquire() {
		return ErrAlreadyRunning
	}
	go func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("recovery operation panicked", "panic", r)
			}
			p.guard.Release()
			p.progress.Reset()
		}()
		fn()
	}()
	return nil
}

// StartResume re-runs stage 3 of an interrupted scan over whatever repos
// are still pending, then finalizes under the original scan id.
func (p *Pipeline) StartResume(scanID int64) error {
	scan, err := p.db.GetScan(scanID)
	if err != nil {
		return err
	}
	if scan == nil {
		return fmt.Errorf("scan %d not found", scanID)
	}
	return p.startGuarded(func() { p.resume(scan) })
}

func (p *Pipeline) resume(scan *database.Scan) {
	ctx := context.Background()
	if err := p.db.ReopenScan(scan.ID); err != nil {
		slog.Error("reopening scan", "scan_id", scan.ID, "error", err)
		return
	}

	p.progress.Reset()
	p.progress.Update(3, "Resuming scan", "", 0, 0)
	p.progress.AddActivity("start", fmt.Sprintf("resuming scan #%d", scan.ID))

	scanned := scan.ReposScanned
	newFindings := scan.NewFindings
	totalFindings := scan.TotalFindings

	err := p.analyzePending(ctx, scan.ID, &scanned, &newFindings, &totalFindings)
	status := database.ScanStatusCompleted
	errMsg := ""
	switch {
	case errors.Is(err, progress.ErrCancelled):
		status = database.ScanStatusCancelled
	case err != nil:
		status = database.ScanStatusFailed
		errMsg = err.Error()
		slog.Error("resume failed", "scan_id", scan.ID, "error", err)
	}
	if err := p.db.FinishScan(scan.ID, status, scanned, newFindings, totalFindings, errMsg); err != nil {
		slog.Error("finishing resumed scan", "scan_id", scan.ID, "error", err)
	}
	if status == database.ScanStatusCompleted {
		p.finalize(scan.ID, newFindings)
	}
}

// StartRescanFinding re-scans the repository that owns one finding. If the
// finding reappears its last-seen timestamp is refreshed and it gets a new
// assessment; if it is gone it is resolved with an automatic note. No Scan
// record is created.
func (p *Pipeline) StartRescanFinding(findingID int64) error {
	finding, err := p.db.GetFinding(findingID)
	if err != nil {
		return err
	}
	if finding == nil {
		return fmt.Errorf("finding %d not found", findingID)
	}
	return p.startGuarded(func() {
		p.progress.Update(3, "Rescanning finding", "", 0, 1)
		p.rescanRepo(context.Background(), finding.RepoID, []database.Finding{*finding})
	})
}

// StartRescanAllFindings groups all open findings by repository and
// re-scans each repository once.
func (p *Pipeline) StartRescanAllFindings() error {
	findings, err := p.db.OpenFindings()
	if err != nil {
		return err
	}
	byRepo := map[int64][]database.Finding{}
	var order []int64
	for _, f := range findings {
		if _, ok := byRepo[f.RepoID]; !ok {
			order = append(order, f.RepoID)
		}
		byRepo[f.RepoID] = append(byRepo[f.RepoID], f)
	}

	return p.startGuarded(func() {
		ctx := context.Background()
		for i, repoID := range order {
			if p.progress.CheckCancelled() != nil {
				return
			}
			p.progress.Update(3, "Rescanning findings", "", i+1, len(order))
			p.rescanRepo(ctx, repoID, byRepo[repoID])
		}
	})
}

// rescanRepo deep-scans one repository and reconciles the given open
// findings against the fresh results.
func (p *Pipeline) rescanRepo(ctx context.Context, repoID int64, open []database.Finding) {
	repo, err := p.db.GetRepo(repoID)
	if err != nil || repo == nil {
		slog.Error("loading repo for rescan", "repo_id", repoID, "error", err)
		return
	}

	customTerms, err := p.customKeywordTerms()
	if err != nil {
		slog.Error("loading keywords for rescan", "error", err)
		return
	}

	p.progress.AddLog(fmt.Sprintf("rescanning %s", repo.FullName))
	raw, err := p.deep.Scan(ctx, p.progress, repo.FullName, customTerms)
	if err != nil {
		if !errors.Is(err, progress.ErrCancelled) {
			slog.Error("rescan failed", "repo", repo.FullName, "error", err)
			p.progress.AddActivity("error", fmt.Sprintf("rescan failed for %s", repo.FullName))
		}
		return
	}

	present := make(map[string]bool, len(raw))
	for _, rf := range raw {
		present[rf.Hash] = true
	}

	customPrompt, _ := p.db.GetAppSetting(settingFindingPrompt)
	keywordContext := p.keywordContext(repo.ID)

	for _, f := range open {
		if present[f.Hash] {
			if err := p.db.TouchFinding(f.ID); err != nil {
				slog.Warn("touching finding", "finding", f.ID, "error", err)
			}
			assessment := p.assessor.AssessFinding(ctx, FindingContext{
				Scanner:         f.Scanner,
				Detector:        f.Detector,
				FilePath:        f.FilePath,
				RepoFullName:    repo.FullName,
				RepoDescription: repo.Description,
				Verified:        f.Verified,
				MatchedSnippet:  f.MatchedSnippet,
				KeywordContext:  keywordContext,
				CustomPrompt:    customPrompt,
			})
			if assessment != "" {
				if err := p.db.SetFindingAssessment(f.ID, assessment); err != nil {
					slog.Warn("storing assessment", "finding", f.ID, "error", err)
				}
			}
			p.progress.AddActivity("finding", fmt.Sprintf("still present: %s in %s", f.Detector, repo.FullName))
		} else {
			note := "Automatically verified: finding no longer present"
			if err := p.db.ResolveFinding(f.ID, note); err != nil {
				slog.Warn("resolving finding", "finding", f.ID, "error", err)
				continue
			}
			p.progress.AddActivity("finding", fmt.Sprintf("resolved: %s in %s", f.Detector, repo.FullName))
		}
	}
}

// StartReassessFindings re-runs the AI triage over all open findings
// without any cloning or scanning.
func (p *Pipeline) StartReassessFindings() error {
	findings, err := p.db.OpenFindings()
	if err != nil {
		return err
	}
	return p.startGuarded(func() {
		ctx := context.Background()
		customPrompt, _ := p.db.GetAppSetting(settingFindingPrompt)

		for i, f := range findings {
			if p.progress.CheckCancelled() != nil {
				return
			}
			p.progress.Update(3, "Reassessing findings", f.FilePath, i+1, len(findings))

			repo, err := p.db.GetRepo(f.RepoID)
			if err != nil || repo == nil {
				continue
			}
			assessment := p.assessor.AssessFinding(ctx, FindingContext{
				Scanner:         f.Scanner,
				Detector:        f.Detector,
				FilePath:        f.FilePath,
				RepoFullName:    repo.FullName,
				RepoDescription: repo.Description,
				Verified:        f.Verified,
				MatchedSnippet:  f.MatchedSnippet,
				KeywordContext:  p.keywordContext(repo.ID),
				CustomPrompt:    customPrompt,
			})
			if assessment == "" {
				continue
			}
			if err := p.db.SetFindingAssessment(f.ID, assessment); err != nil {
				slog.Warn("storing assessment", "finding", f.ID, "error", err)
			}
		}
		p.progress.AddActivity("done", fmt.Sprintf("reassessed %d findings", len(findings)))
	})
}
