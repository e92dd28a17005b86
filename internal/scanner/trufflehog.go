package scanner

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/mkellner/leakwatch/internal/tools"
)

const maxSnippetLen = 500

// TruffleHog scans the remote git history without cloning. Verified
// detections are credentials the scanner confirmed live, so they go
// straight to critical.
type TruffleHog struct {
	Timeout time.Duration
}

func (t *TruffleHog) Name() string { return "trufflehog" }

type truffleHogRecord struct {
	DetectorName string `json:"DetectorName"`
	DetectorType int    `json:"DetectorType"`
	Verified     bool   `json:"Verified"`
	Raw          string `json:"Raw"`
	SourceMetadata struct {
		Data struct {
			Git struct {
				Commit string `json:"commit"`
				File   string `json:"file"`
				Line   int    `json:"line"`
			} `json:"Git"`
		} `json:"Data"`
	} `json:"SourceMetadata"`
}

func (t *TruffleHog) Scan(ctx context.Context, target, repoFullName string) []RawFinding {
	res := tools.Run(ctx, tools.Spec{
		Name:    "trufflehog",
		Binary:  "trufflehog",
		Args:    []string{"git", target, "--json", "--no-update"},
		Timeout: t.Timeout,
	})

	if errors.Is(res.Err, tools.ErrNotInstalled) {
		slog.Warn("trufflehog not installed, skipping layer", "repo", repoFullName)
		return nil
	}
	if res.TimedOut {
		slog.Warn("trufflehog timed out", "repo", repoFullName, "timeout", t.Timeout)
		return nil
	}
	if res.Err != nil {
		slog.Warn("trufflehog failed to run", "repo", repoFullName, "error", res.Err)
		return nil
	}

	var findings []RawFinding
	for _, line := range strings.Split(res.Stdout, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || !strings.HasPrefix(line, "{") {
			continue
		}
		var rec truffleHogRecord
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			continue
		}
		if rec.DetectorName == "" {
			continue
		}

		git := rec.SourceMetadata.Data.Git
		commit := git.Commit
		if len(commit) > 8 {
			commit = commit[:8]
		}
		severity := "high"
		if rec.Verified {
			severity = "critical"
		}
		snippet := rec.Raw
		if len(snippet) > maxSnippetLen {
			snippet = snippet[:maxSnippetLen]
		}

		findings = append(findings, RawFinding{
			Hash:           Fingerprint("trufflehog", rec.DetectorName, repoFullName, git.File, commit, git.Line),
			Scanner:        "trufflehog",
			Detector:       rec.DetectorName,
			Verified:       rec.Verified,
			FilePath:       git.File,
			CommitHash:     commit,
			LineNumber:     git.Line,
			Severity:       severity,
			MatchedSnippet: snippet,
		})
	}
	return findings
}
