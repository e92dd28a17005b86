package scanner

import (
	"bufio"
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// CustomPattern is one regex the pattern matcher applies line by line.
type CustomPattern struct {
	Name     string
	Regexp   *regexp.Regexp
	Severity string
}

// BuiltinPatterns covers secret shapes the dedicated scanners miss or that
// identify organization-specific data.
func BuiltinPatterns() []CustomPattern {
	return []CustomPattern{
		{
			Name:     "Private Key Header",
			Regexp:   regexp.MustCompile(`-----BEGIN (?:RSA |EC |DSA |OPENSSH |PGP )?PRIVATE KEY`),
			Severity: "critical",
		},
		{
			Name:     "IBAN",
			Regexp:   regexp.MustCompile(`\b[A-Z]{2}\d{2}[A-Z0-9]{11,30}\b`),
			Severity: "critical",
		},
		{
			Name:     "AWS Access Key ID",
			Regexp:   regexp.MustCompile(`\b(?:AKIA|ASIA)[0-9A-Z]{16}\b`),
			Severity: "high",
		},
		{
			Name:     "Internal IP Address",
			Regexp:   regexp.MustCompile(`\b(?:10\.\d{1,3}|192\.168|172\.(?:1[6-9]|2\d|3[01]))\.\d{1,3}\.\d{1,3}\b`),
			Severity: "medium",
		},
		{
			Name:     "URL With Basic Auth",
			Regexp:   regexp.MustCompile(`[a-z][a-z0-9+.-]*://[^/\s:@]+:[^/\s:@]+@`),
			Severity: "high",
		},
	}
}

// KeywordPatterns turns the custom-category keyword terms into literal
// match patterns, so operators can hunt for project codenames or internal
// hostnames without writing regexes.
func KeywordPatterns(terms []string) []CustomPattern {
	patterns := make([]CustomPattern, 0, len(terms))
	for _, term := range terms {
		if strings.TrimSpace(term) == "" {
			continue
		}
		patterns = append(patterns, CustomPattern{
			Name:     fmt.Sprintf("Keyword: %s", term),
			Regexp:   regexp.MustCompile(`(?i)` + regexp.QuoteMeta(term)),
			Severity: "medium",
		})
	}
	return patterns
}

var skipDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
	"vendor":       true,
	"__pycache__":  true,
	".venv":        true,
	"venv":         true,
}

var scanExtensions = map[string]bool{
	".go": true, ".py": true, ".js": true, ".ts": true, ".jsx": true,
	".tsx": true, ".java": true, ".rb": true, ".php": true, ".cs": true,
	".c": true, ".cpp": true, ".h": true, ".sh": true, ".bash": true,
	".ps1": true, ".yaml": true, ".yml": true, ".json": true, ".xml": true,
	".toml": true, ".ini": true, ".cfg": true, ".conf": true, ".properties": true,
	".txt": true, ".md": true, ".sql": true, ".tf": true, ".pem": true,
	".key": true, ".crt": true,
}

var scanBasenames = map[string]bool{
	".env":       true,
	"Dockerfile": true,
	"Makefile":   true,
}

func scannable(path string, info fs.FileInfo, maxFileSize int64) bool {
	if info.Size() > maxFileSize {
		return false
	}
	base := filepath.Base(path)
	if scanBasenames[base] || strings.HasPrefix(base, ".env") {
		return true
	}
	return scanExtensions[strings.ToLower(filepath.Ext(base))]
}

// PatternScanner walks a checkout applying the built-in and keyword
// patterns. It reports under scanner name "custom" with an empty commit
// hash since it sees the working tree, not history.
type PatternScanner struct {
	Patterns    []CustomPattern
	MaxFileSize int64
}

func (p *PatternScanner) Name() string { return "custom" }

func (p *PatternScanner) Scan(ctx context.Context, target, repoFullName string) []RawFinding {
	var findings []RawFinding
	seen := map[string]bool{}

	err := filepath.WalkDir(target, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			if skipDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}

		info, err := d.Info()
		if err != nil || !scannable(path, info, p.MaxFileSize) {
			return nil
		}

		rel, err := filepath.Rel(target, path)
		if err != nil {
			rel = path
		}
		for _, f := range p.scanFile(path, rel, repoFullName) {
			if !seen[f.Hash] {
				seen[f.Hash] = true
				findings = append(findings, f)
			}
		}
		return nil
	})
	if err != nil && err != context.Canceled {
		slog.Warn("pattern walk interrupted", "repo", repoFullName, "error", err)
	}
	return findings
}

func (p *PatternScanner) scanFile(path, relPath, repoFullName string) []RawFinding {
	file, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer file.Close()

	var findings []RawFinding
	sc := bufio.NewScanner(file)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)

	lineNum := 0
	for sc.Scan() {
		lineNum++
		line := sc.Text()
		for _, pattern := range p.Patterns {
			match := pattern.Regexp.FindString(line)
			if match == "" {
				continue
			}
			snippet := strings.TrimSpace(line)
			if len(snippet) > maxSnippetLen {
				snippet = snippet[:maxSnippetLen]
			}
			findings = append(findings, RawFinding{
				Hash:           Fingerprint("custom", pattern.Name, repoFullName, relPath, "", lineNum),
				Scanner:        "custom",
				Detector:       pattern.Name,
				FilePath:       relPath,
				LineNumber:     lineNum,
				Severity:       pattern.Severity,
				MatchedSnippet: snippet,
			})
		}
	}
	return findings
}
