package scanner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mkellner/leakwatch/internal/database"
	"github.com/mkellner/leakwatch/internal/progress"
)

// settingFindingPrompt is the app_settings key holding an operator-supplied
// finding triage prompt override.
const settingFindingPrompt = "finding_prompt"

// Collaborators bundles everything the pipeline is wired with at startup.
type Collaborators struct {
	DB        *database.DB
	Progress  *progress.Tracker
	Guard     *RunGuard
	Search    CodeSearcher
	Assessor  Assessor
	Gate      *Gate
	Deep      RepoScanner
	Intel     IntelRunner
	Notifiers []Notifier
}

// Pipeline runs the five scan stages. One instance lives for the process
// lifetime; the guard ensures a single run at a time.
type Pipeline struct {
	db        *database.DB
	progress  *progress.Tracker
	guard     *RunGuard
	search    CodeSearcher
	assessor  Assessor
	gate      *Gate
	deep      RepoScanner
	intel     IntelRunner
	notifiers []Notifier
}

func New(c Collaborators) *Pipeline {
	return &Pipeline{
		db:        c.DB,
		progress:  c.Progress,
		guard:     c.Guard,
		search:    c.Search,
		assessor:  c.Assessor,
		gate:      c.Gate,
		deep:      c.Deep,
		intel:     c.Intel,
		notifiers: c.Notifiers,
	}
}

func (p *Pipeline) Progress() *progress.Tracker { return p.progress }
func (p *Pipeline) Guard() *RunGuard            { return p.guard }

// Start launches a scan in the background. It returns ErrAlreadyRunning
// when another scan or recovery operation holds the guard.
func (p *Pipeline) Start(triggerType string) error {
	if !p.guard.TryAcquire() {
		return ErrAlreadyRunning
	}
	go p.execute(triggerType)
	return nil
}

// Run executes a scan synchronously; the scheduler and tests use it.
func (p *Pipeline) Run(triggerType string) error {
	if !p.guard.TryAcquire() {
		return ErrAlreadyRunning
	}
	p.execute(triggerType)
	return nil
}

// Cancel requests a graceful stop; the run notices at the next loop
// boundary and finishes with status cancelled.
func (p *Pipeline) Cancel() {
	p.progress.RequestCancel()
}

func (p *Pipeline) execute(triggerType string) {
	ctx := context.Background()
	p.progress.Reset()
	p.progress.Update(0, "Preparing scan", "", 0, 0)
	p.progress.AddActivity("start", fmt.Sprintf("%s scan started", triggerType))

	keywords, err := p.db.ActiveKeywords()
	if err != nil {
		p.guard.Release()
		p.progress.Reset()
		slog.Error("loading keywords", "error", err)
		return
	}

	scan, err := p.db.CreateScan(triggerType, len(keywords))
	if err != nil {
		p.guard.Release()
		p.progress.Reset()
		slog.Error("creating scan record", "error", err)
		return
	}

	var scanned, newFindings, totalFindings int
	var runErr error

	defer func() {
		status := database.ScanStatusCompleted
		errMsg := ""
		switch {
		case recover() != nil:
			status = database.ScanStatusFailed
			errMsg = "internal error during scan"
			slog.Error("scan panicked", "scan_id", scan.ID)
		case errors.Is(runErr, progress.ErrCancelled):
			status = database.ScanStatusCancelled
			p.progress.AddActivity("cancel", "scan cancelled")
		case runErr != nil:
			status = database.ScanStatusFailed
			errMsg = runErr.Error()
			slog.Error("scan failed", "scan_id", scan.ID, "error", runErr)
		}
		if finErr := p.db.FinishScan(scan.ID, status, scanned, newFindings, totalFindings, errMsg); finErr != nil {
			slog.Error("finishing scan record", "scan_id", scan.ID, "error", finErr)
		}
		if status == database.ScanStatusCompleted {
			p.finalize(scan.ID, newFindings)
		}
		p.guard.Release()
		p.progress.Reset()
	}()

	// A run with no keywords still closes its scan record with zero counts.
	if len(keywords) == 0 {
		slog.Warn("no active keywords, completing empty scan", "scan_id", scan.ID)
		p.progress.AddLog("no active keywords configured")
		return
	}

	runErr = p.runStages(ctx, scan, keywords, &scanned, &newFindings, &totalFindings)
}

func (p *Pipeline) runStages(ctx context.Context, scan *database.Scan, keywords []database.Keyword, scanned, newFindings, totalFindings *int) error {
	// Stage 1: OSINT expansion.
	if p.intel != nil {
		p.progress.Update(1, "Running intelligence modules", "", 0, 0)
		newTerms, err := p.intel.Run(ctx, scan.ID, keywords)
		if err != nil {
			return err
		}
		for _, term := range newTerms {
			kw, err := p.db.CreateKeyword(term, "osint")
			if err != nil {
				slog.Warn("persisting discovered keyword", "term", term, "error", err)
				continue
			}
			keywords = append(keywords, *kw)
			p.progress.AddActivity("keyword", fmt.Sprintf("new keyword from OSINT: %s", term))
		}
	}

	// Stage 2: code search across all keywords.
	foundThisScan := map[int64]bool{}
	for i, kw := range keywords {
		if err := p.progress.CheckCancelled(); err != nil {
			return err
		}
		p.progress.Update(2, "Searching GitHub", kw.Term, i+1, len(keywords))
		p.progress.AddLog(fmt.Sprintf("searching for %q", kw.Term))

		hits, err := p.search.SearchCode(kw.Term)
		if err != nil {
			slog.Warn("code search failed", "keyword", kw.Term, "error", err)
			p.progress.AddLog(fmt.Sprintf("search failed for %q: %v", kw.Term, err))
			continue
		}

		source := database.MatchSourceCodeSearch
		if kw.Category == "osint" {
			source = database.MatchSourceIntel
		}

		for _, hit := range hits {
			repo, err := p.db.UpsertDiscoveredRepo(hit.FullName, hit.HTMLURL,
				hit.Description, hit.OwnerLogin, hit.OwnerType, hit.IsFork, kw.Term)
			if err != nil {
				slog.Warn("recording repo", "repo", hit.FullName, "error", err)
				continue
			}
			if err := p.db.UpsertKeywordMatch(repo.ID, kw.Term, source, hit.MatchFiles); err != nil {
				slog.Warn("recording keyword match", "repo", hit.FullName, "error", err)
			}
			if !foundThisScan[repo.ID] {
				foundThisScan[repo.ID] = true
				p.progress.AddActivity("github", fmt.Sprintf("discovered %s", hit.FullName))
				p.backfillDetails(repo)
			}
		}
	}
	if err := p.db.UpdateScanReposFound(scan.ID, len(foundThisScan)); err != nil {
		slog.Warn("updating repos_found", "scan_id", scan.ID, "error", err)
	}

	// Stage 3: every repo surfaced this run goes through the gate, so a
	// previously scanned repo with fresh pushes is rescanned. Stage 4
	// (finalize and notify) runs after the scan row is closed, from the
	// deferred finisher.
	ids := make([]int64, 0, len(foundThisScan))
	for id := range foundThisScan {
		ids = append(ids, id)
	}
	repos, err := p.db.ReposByIDs(ids)
	if err != nil {
		return fmt.Errorf("listing discovered repos: %w", err)
	}
	return p.analyzeRepos(ctx, scan.ID, repos, scanned, newFindings, totalFindings)
}

// backfillDetails fetches size, pushed-at and language for a repo surfaced
// by the search. Failures are tolerated; the decision engine treats missing
// metadata conservatively.
func (p *Pipeline) backfillDetails(repo *database.DiscoveredRepo) {
	details, err := p.search.RepoDetails(repo.FullName)
	if err != nil {
		slog.Warn("fetching repo details", "repo", repo.FullName, "error", err)
		return
	}
	if err := p.db.UpdateRepoDetails(repo.ID, details.SizeKB, details.DefaultBranch,
		details.Language, details.Stargazers, details.PushedAt); err != nil {
		slog.Warn("storing repo details", "repo", repo.FullName, "error", err)
	}
}

// analyzePending runs stage 3 over every pending repository. Resume uses
// it, which is what makes resuming idempotent: already-finished repos are
// no longer pending.
func (p *Pipeline) analyzePending(ctx context.Context, scanID int64, scanned, newFindings, totalFindings *int) error {
	repos, err := p.db.PendingRepos()
	if err != nil {
		return fmt.Errorf("listing pending repos: %w", err)
	}
	return p.analyzeRepos(ctx, scanID, repos, scanned, newFindings, totalFindings)
}

func (p *Pipeline) analyzeRepos(ctx context.Context, scanID int64, repos []database.DiscoveredRepo, scanned, newFindings, totalFindings *int) error {
	customTerms, err := p.customKeywordTerms()
	if err != nil {
		return err
	}

	for i := range repos {
		repo := &repos[i]
		if err := p.progress.CheckCancelled(); err != nil {
			return err
		}
		p.progress.Update(3, "Analyzing repositories", repo.FullName, i+1, len(repos))

		if err := p.analyzeRepo(ctx, scanID, repo, customTerms, scanned, newFindings, totalFindings); err != nil {
			return err
		}
		p.progress.SetReposScanned(*scanned)
		p.progress.SetFindings(*newFindings)
	}
	return nil
}

// analyzeRepo gates one repository and, when warranted, deep scans it and
// persists the outcome. Results are committed per repository so a crash or
// cancellation keeps everything finished so far.
func (p *Pipeline) analyzeRepo(ctx context.Context, scanID int64, repo *database.DiscoveredRepo, customTerms []string, scanned, newFindings, totalFindings *int) error {
	decision := p.gate.Decide(ctx, repo)

	if decision.Score != nil {
		if err := p.db.SetRepoRelevance(repo.ID, *decision.Score, decision.Summary); err != nil {
			slog.Warn("storing relevance", "repo", repo.FullName, "error", err)
		}
		p.progress.AddActivity("ollama", fmt.Sprintf("%s relevance %.2f", repo.FullName, *decision.Score))
	}

	switch decision.Action {
	case GateSkipQuiet:
		return nil
	case GateSetStatus:
		p.progress.AddLog(fmt.Sprintf("skipping %s: %s", repo.FullName, decision.Reason))
		if err := p.db.SetRepoStatus(repo.ID, decision.Status); err != nil {
			slog.Warn("setting repo status", "repo", repo.FullName, "error", err)
		}
		return nil
	}

	if decision.Forced {
		p.progress.AddLog(fmt.Sprintf("scanning %s (forced)", repo.FullName))
	}

	if err := p.db.SetRepoStatus(repo.ID, database.RepoStatusScanning); err != nil {
		slog.Warn("setting repo status", "repo", repo.FullName, "error", err)
	}

	start := time.Now()
	raw, err := p.deep.Scan(ctx, p.progress, repo.FullName, customTerms)
	if errors.Is(err, progress.ErrCancelled) {
		// Record what the interrupted scan produced before propagating.
		p.persistFindings(scanID, repo, raw, newFindings, totalFindings)
		_ = p.db.SetRepoStatus(repo.ID, database.RepoStatusPending)
		return err
	}
	if err != nil {
		slog.Error("deep scan failed", "repo", repo.FullName, "error", err)
		p.progress.AddActivity("error", fmt.Sprintf("scan failed for %s", repo.FullName))
		if dbErr := p.db.FinishRepoScan(repo.ID, database.RepoStatusError, int64(time.Since(start).Seconds())); dbErr != nil {
			slog.Warn("recording repo error", "repo", repo.FullName, "error", dbErr)
		}
		return nil
	}

	p.persistFindings(scanID, repo, raw, newFindings, totalFindings)
	p.assessNewFindings(ctx, scanID, repo)

	// A repo carrying unresolved findings from any scan stays flagged, and
	// one whose rediscovered findings are all resolved reads clean.
	open, err := p.db.OpenFindingsForRepo(repo.ID)
	if err != nil {
		slog.Warn("listing open findings", "repo", repo.FullName, "error", err)
	}
	status := database.RepoStatusClean
	if len(open) > 0 {
		status = database.RepoStatusFindings
		p.progress.AddActivity("finding", fmt.Sprintf("%d open findings in %s", len(open), repo.FullName))
	}
	if err := p.db.FinishRepoScan(repo.ID, status, int64(time.Since(start).Seconds())); err != nil {
		slog.Warn("finishing repo scan", "repo", repo.FullName, "error", err)
	}
	*scanned++
	return nil
}

func (p *Pipeline) persistFindings(scanID int64, repo *database.DiscoveredRepo, raw []RawFinding, newFindings, totalFindings *int) {
	for _, rf := range raw {
		f := &database.Finding{
			Hash:           rf.Hash,
			RepoID:         repo.ID,
			ScanID:         &scanID,
			Scanner:        rf.Scanner,
			Detector:       rf.Detector,
			Verified:       rf.Verified,
			FilePath:       rf.FilePath,
			CommitHash:     rf.CommitHash,
			LineNumber:     rf.LineNumber,
			Severity:       rf.Severity,
			MatchedSnippet: rf.MatchedSnippet,
		}
		isNew, err := p.db.UpsertFinding(f)
		if err != nil {
			slog.Warn("persisting finding", "repo", repo.FullName, "error", err)
			continue
		}
		*totalFindings++
		if isNew {
			*newFindings++
		}
	}
}

// assessNewFindings runs the AI triage over this scan's unassessed findings
// for one repo. The prompt gets the keyword matches that surfaced the repo
// and any operator-supplied prompt override.
func (p *Pipeline) assessNewFindings(ctx context.Context, scanID int64, repo *database.DiscoveredRepo) {
	findings, err := p.db.UnassessedFindings(scanID, repo.ID)
	if err != nil {
		slog.Warn("listing unassessed findings", "repo", repo.FullName, "error", err)
		return
	}
	if len(findings) == 0 {
		return
	}

	keywordContext := p.keywordContext(repo.ID)
	customPrompt, err := p.db.GetAppSetting(settingFindingPrompt)
	if err != nil {
		customPrompt = ""
	}

	for i := range findings {
		f := &findings[i]
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
		if assessment == "" {
			continue
		}
		if err := p.db.SetFindingAssessment(f.ID, assessment); err != nil {
			slog.Warn("storing assessment", "finding", f.ID, "error", err)
		}
	}
}

func (p *Pipeline) keywordContext(repoID int64) string {
	matches, err := p.db.KeywordMatchesForRepo(repoID)
	if err != nil {
		return ""
	}
	var lines []string
	for _, m := range matches {
		var files []string
		_ = json.Unmarshal([]byte(m.MatchFiles), &files)
		lines = append(lines, fmt.Sprintf("- %s (files: %s)", m.Keyword, strings.Join(files, ", ")))
	}
	return strings.Join(lines, "\n")
}

func (p *Pipeline) customKeywordTerms() ([]string, error) {
	keywords, err := p.db.ActiveKeywords()
	if err != nil {
		return nil, fmt.Errorf("loading custom keywords: %w", err)
	}
	var terms []string
	for _, k := range keywords {
		if k.Category == "custom" {
			terms = append(terms, k.Term)
		}
	}
	return terms, nil
}

// finalize sends best-effort notifications. The scan row is closed by the
// deferred finisher in execute, so notification failures cannot affect the
// recorded outcome.
func (p *Pipeline) finalize(scanID int64, newFindings int) {
	p.progress.Update(4, "Finalizing", "", 0, 0)
	p.progress.AddActivity("done", fmt.Sprintf("scan finished, %d new findings", newFindings))

	if len(p.notifiers) == 0 || newFindings == 0 {
		return
	}

	scan, err := p.db.GetScan(scanID)
	if err != nil || scan == nil {
		return
	}
	findings, err := p.db.FindingsByScan(scanID)
	if err != nil {
		slog.Warn("loading findings for notification", "scan_id", scanID, "error", err)
		return
	}

	for _, n := range p.notifiers {
		errMsg := ""
		if err := n.Notify(scan, findings); err != nil {
			errMsg = err.Error()
			slog.Warn("notification failed", "channel", n.Name(), "error", err)
		}
		if err := p.db.InsertNotificationLog(scanID, n.Name(),
			fmt.Sprintf("Scan #%d: %d new findings", scanID, newFindings),
			errMsg == "", errMsg); err != nil {
			slog.Warn("recording notification", "channel", n.Name(), "error", err)
		}
	}
}
