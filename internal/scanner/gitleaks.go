package scanner

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mkellner/leakwatch/internal/tools"
)

// Gitleaks scans a local clone. Results land in a JSON report file because
// gitleaks mixes log output into stdout.
type Gitleaks struct {
	Timeout time.Duration
}

func (g *Gitleaks) Name() string { return "gitleaks" }

type gitleaksRecord struct {
	RuleID    string   `json:"RuleID"`
	File      string   `json:"File"`
	Commit    string   `json:"Commit"`
	StartLine int      `json:"StartLine"`
	Secret    string   `json:"Secret"`
	Tags      []string `json:"Tags"`
}

func (g *Gitleaks) Scan(ctx context.Context, target, repoFullName string) []RawFinding {
	reportDir, err := os.MkdirTemp("", "gitleaks-report-*")
	if err != nil {
		slog.Warn("gitleaks report dir failed", "repo", repoFullName, "error", err)
		return nil
	}
	defer os.RemoveAll(reportDir)
	reportPath := filepath.Join(reportDir, "report.json")

	res := tools.Run(ctx, tools.Spec{
		Name:   "gitleaks",
		Binary: "gitleaks",
		Args: []string{
			"detect",
			"--source=" + target,
			"--report-format=json",
			"--report-path=" + reportPath,
			"--no-banner",
		},
		Timeout: g.Timeout,
	})

	if errors.Is(res.Err, tools.ErrNotInstalled) {
		slog.Warn("gitleaks not installed, skipping layer", "repo", repoFullName)
		return nil
	}
	if res.TimedOut {
		slog.Warn("gitleaks timed out", "repo", repoFullName, "timeout", g.Timeout)
		return nil
	}
	// Exit code 1 means leaks were found; only other nonzero codes are
	// real failures.
	if res.Err != nil || res.ExitCode > 1 {
		slog.Warn("gitleaks failed to run", "repo", repoFullName,
			"exit_code", res.ExitCode, "error", res.Err)
		return nil
	}

	data, err := os.ReadFile(reportPath)
	if err != nil || len(data) == 0 {
		return nil
	}

	var records []gitleaksRecord
	if err := json.Unmarshal(data, &records); err != nil {
		slog.Warn("gitleaks report unparseable", "repo", repoFullName, "error", err)
		return nil
	}

	var findings []RawFinding
	for _, rec := range records {
		commit := rec.Commit
		if len(commit) > 8 {
			commit = commit[:8]
		}
		snippet := rec.Secret
		if len(snippet) > maxSnippetLen {
			snippet = snippet[:maxSnippetLen]
		}

		findings = append(findings, RawFinding{
			Hash:           Fingerprint("gitleaks", rec.RuleID, repoFullName, rec.File, commit, rec.StartLine),
			Scanner:        "gitleaks",
			Detector:       rec.RuleID,
			FilePath:       rec.File,
			CommitHash:     commit,
			LineNumber:     rec.StartLine,
			Severity:       gitleaksSeverity(rec.RuleID, rec.Tags),
			MatchedSnippet: snippet,
		})
	}
	return findings
}

func gitleaksSeverity(ruleID string, tags []string) string {
	for _, tag := range tags {
		if strings.EqualFold(tag, "verified") {
			return "critical"
		}
	}
	rule := strings.ToLower(ruleID)
	for _, marker := range []string{"private-key", "privatekey", "aws", "gcp", "azure"} {
		if strings.Contains(rule, marker) {
			return "high"
		}
	}
	return "medium"
}
