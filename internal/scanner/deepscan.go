package scanner

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/mkellner/leakwatch/internal/progress"
	"github.com/mkellner/leakwatch/internal/tools"
)

// DeepScanner runs the three scan layers against one repository: the
// history scanner over the remote URL, then (after a shallow clone) the
// checkout scanner and the pattern matcher. Individual layer failures are
// logged and skipped; only cancellation and a failed clone abort the repo.
type DeepScanner struct {
	Remote       ExternalScanner // works on the clone URL (trufflehog)
	History      ExternalScanner // works on a local clone (gitleaks)
	CloneTimeout time.Duration
	MaxFileSize  int64
}

func (d *DeepScanner) Scan(ctx context.Context, prog *progress.Tracker, fullName string, extraPatterns []string) ([]RawFinding, error) {
	cloneURL := fmt.Sprintf("https://github.com/%s.git", fullName)
	var findings []RawFinding

	prog.AddLog(fmt.Sprintf("trufflehog: scanning %s", fullName))
	remote := d.Remote.Scan(ctx, cloneURL, fullName)
	if len(remote) > 0 {
		prog.AddActivity("trufflehog", fmt.Sprintf("%d hits in %s", len(remote), fullName))
	}
	findings = append(findings, remote...)

	if err := prog.CheckCancelled(); err != nil {
		return findings, err
	}

	dir, err := os.MkdirTemp("", "leakwatch-clone-*")
	if err != nil {
		return findings, fmt.Errorf("creating clone dir: %w", err)
	}
	defer os.RemoveAll(dir)

	prog.AddLog(fmt.Sprintf("cloning %s", fullName))
	if err := d.clone(ctx, cloneURL, dir); err != nil {
		slog.Warn("clone failed, history-only results", "repo", fullName, "error", err)
		prog.AddLog(fmt.Sprintf("clone failed for %s: %v", fullName, err))
		return findings, nil
	}

	prog.AddLog(fmt.Sprintf("gitleaks: scanning %s", fullName))
	history := d.History.Scan(ctx, dir, fullName)
	if len(history) > 0 {
		prog.AddActivity("gitleaks", fmt.Sprintf("%d hits in %s", len(history), fullName))
	}
	findings = append(findings, history...)

	if err := prog.CheckCancelled(); err != nil {
		return findings, err
	}

	patterns := append(BuiltinPatterns(), KeywordPatterns(extraPatterns)...)
	matcher := &PatternScanner{Patterns: patterns, MaxFileSize: d.MaxFileSize}
	prog.AddLog(fmt.Sprintf("custom patterns: scanning %s", fullName))
	custom := matcher.Scan(ctx, dir, fullName)
	if len(custom) > 0 {
		prog.AddActivity("custom", fmt.Sprintf("%d hits in %s", len(custom), fullName))
	}
	findings = append(findings, custom...)

	return dedupeFindings(findings), nil
}

func (d *DeepScanner) clone(ctx context.Context, cloneURL, dir string) error {
	res := tools.Run(ctx, tools.Spec{
		Name:    "git clone",
		Binary:  "git",
		Args:    []string{"clone", "--depth=1", "--single-branch", "--quiet", "--", cloneURL, dir},
		Timeout: d.CloneTimeout,
	})
	if res.Err != nil {
		return res.Err
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("git clone exited %d: %s", res.ExitCode, res.Stderr)
	}
	return nil
}

// dedupeFindings drops duplicate hashes across layers; the first layer to
// report a fingerprint wins.
func dedupeFindings(findings []RawFinding) []RawFinding {
	seen := make(map[string]bool, len(findings))
	out := findings[:0]
	for _, f := range findings {
		if !seen[f.Hash] {
			seen[f.Hash] = true
			out = append(out, f)
		}
	}
	return out
}
