// Package scanner contains the scan pipeline: repository decision logic,
// the deep scan layers, orchestration, recovery operations and the
// scheduler.
package scanner

import (
	"context"

	"github.com/mkellner/leakwatch/internal/database"
	"github.com/mkellner/leakwatch/internal/github"
	"github.com/mkellner/leakwatch/internal/progress"
)

// RawFinding is a scanner hit before persistence.
type RawFinding struct {
	Hash           string
	Scanner        string
	Detector       string
	Verified       bool
	FilePath       string
	CommitHash     string
	LineNumber     int
	Severity       string
	MatchedSnippet string
}

// CodeSearcher is the GitHub-facing surface the pipeline depends on.
type CodeSearcher interface {
	SearchCode(keyword string) ([]github.RepoHit, error)
	RepoDetails(fullName string) (*github.RepoDetails, error)
	Readme(fullName string) (string, error)
}

// Assessor is the AI collaborator surface. RepoRelevance never fails; it
// degrades to (1.0, note). AssessFinding degrades to "".
type Assessor interface {
	RepoRelevance(ctx context.Context, meta RepoMeta) (float64, string)
	AssessFinding(ctx context.Context, fc FindingContext) string
}

// RepoMeta mirrors the assess package's input so the pipeline can be tested
// without importing it.
type RepoMeta struct {
	FullName      string
	Description   string
	Language      string
	ReadmeExcerpt string
}

type FindingContext struct {
	Scanner         string
	Detector        string
	FilePath        string
	RepoFullName    string
	RepoDescription string
	Verified        bool
	MatchedSnippet  string
	KeywordContext  string
	CustomPrompt    string
}

// IntelRunner runs the OSINT stage and returns newly discovered keywords.
// The only error it propagates is cancellation; module failures are logged
// inside.
type IntelRunner interface {
	Run(ctx context.Context, scanID int64, keywords []database.Keyword) ([]string, error)
}

// ExternalScanner is one deep scan layer. Scan never returns an error:
// a missing binary, a timeout or a parse failure produce a log line and an
// empty result so the other layers still run.
type ExternalScanner interface {
	Name() string
	Scan(ctx context.Context, target, repoFullName string) []RawFinding
}

// RepoScanner runs the full deep scan for one repository. The pipeline
// depends on this interface so orchestration tests need no subprocesses.
type RepoScanner interface {
	Scan(ctx context.Context, prog *progress.Tracker, fullName string, extraPatterns []string) ([]RawFinding, error)
}

// Notifier delivers a scan completion notice over one channel.
type Notifier interface {
	Name() string
	Notify(scan *database.Scan, findings []database.Finding) error
}
