// Package osint runs the intelligence modules that expand the keyword set
// before the code search. Each module is optional tooling or an external
// API; failures are logged and never abort a scan.
package osint

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"

	"github.com/mkellner/leakwatch/internal/database"
	"github.com/mkellner/leakwatch/internal/progress"
)

// Input is what a module gets for one run.
type Input struct {
	ScanID   int64
	Keywords []database.Keyword
	Config   map[string]string
}

// Module produces candidate keywords (domains, emails, usernames) from the
// existing keyword set. The returned error only matters for logging; the
// registry continues with the next module either way.
type Module interface {
	Key() string
	Run(ctx context.Context, in Input) ([]string, error)
}

// Registry dispatches enabled modules in a stable order and merges their
// output into a deduplicated keyword list.
type Registry struct {
	db       *database.DB
	progress *progress.Tracker
	modules  map[string]Module
	order    []string
}

func NewRegistry(db *database.DB, prog *progress.Tracker, modules ...Module) *Registry {
	r := &Registry{
		db:       db,
		progress: prog,
		modules:  make(map[string]Module, len(modules)),
	}
	for _, m := range modules {
		r.modules[m.Key()] = m
		r.order = append(r.order, m.Key())
	}
	return r
}

// Run executes every enabled module. New keywords are deduplicated
// case-insensitively against the existing set and each other; every raw
// result is persisted for later review.
func (r *Registry) Run(ctx context.Context, scanID int64, keywords []database.Keyword) ([]string, error) {
	enabled, err := r.db.EnabledModules()
	if err != nil {
		return nil, fmt.Errorf("loading enabled modules: %w", err)
	}
	if len(enabled) == 0 {
		return nil, nil
	}

	settings := make(map[string]database.ModuleSetting, len(enabled))
	for _, m := range enabled {
		settings[m.ModuleKey] = m
	}

	existing := make(map[string]bool, len(keywords))
	for _, k := range keywords {
		existing[strings.ToLower(k.Term)] = true
	}

	var discovered []string
	for _, key := range r.order {
		setting, on := settings[key]
		if !on {
			continue
		}
		mod := r.modules[key]

		if err := r.progress.CheckCancelled(); err != nil {
			return discovered, err
		}
		r.progress.AddLog(fmt.Sprintf("osint: running %s", key))
		r.progress.AddActivity("osint", fmt.Sprintf("running %s", key))

		var cfg map[string]string
		if setting.Config != "" {
			_ = json.Unmarshal([]byte(setting.Config), &cfg)
		}

		results, err := mod.Run(ctx, Input{ScanID: scanID, Keywords: keywords, Config: cfg})
		if err != nil {
			slog.Warn("osint module failed", "module", key, "error", err)
			r.progress.AddLog(fmt.Sprintf("osint: %s failed: %v", key, err))
			continue
		}

		for _, value := range results {
			value = strings.TrimSpace(value)
			if value == "" {
				continue
			}
			kind := classify(value)
			if err := r.db.InsertOsintResult(scanID, key, kind, value); err != nil {
				slog.Warn("persisting osint result", "module", key, "error", err)
			}
			// Informational results (breach records, found profiles) are
			// stored but never become search keywords.
			if kind == "info" {
				continue
			}
			lower := strings.ToLower(value)
			if !existing[lower] {
				existing[lower] = true
				discovered = append(discovered, value)
			}
		}
	}
	return discovered, nil
}

func classify(value string) string {
	switch {
	case strings.HasPrefix(value, "breach:") || strings.HasPrefix(value, "profile:"):
		return "info"
	case emailLike(value):
		return "email"
	case domainLike(value):
		return "domain"
	default:
		return "term"
	}
}

func domainLike(s string) bool {
	if strings.ContainsAny(s, " /@:") {
		return false
	}
	dot := strings.LastIndex(s, ".")
	return dot > 0 && dot < len(s)-2
}

func emailLike(s string) bool {
	addr, err := mail.ParseAddress(s)
	return err == nil && addr.Address == s
}

// domainKeywords picks the domain-shaped terms out of the keyword set;
// most modules only operate on domains.
func domainKeywords(keywords []database.Keyword) []string {
	var domains []string
	for _, k := range keywords {
		if domainLike(k.Term) {
			domains = append(domains, k.Term)
		}
	}
	return domains
}

// DefaultModuleSettings seeds the module table on first start. Everything
// is disabled until an operator turns it on.
func DefaultModuleSettings() []database.ModuleSetting {
	return []database.ModuleSetting{
		{ModuleKey: "subfinder", Name: "Subfinder",
			Description: "Passive subdomain enumeration for domain keywords", Config: "{}"},
		{ModuleKey: "theharvester", Name: "theHarvester",
			Description: "Email, host and IP harvesting for domain keywords", Config: "{}"},
		{ModuleKey: "crosslinked", Name: "CrossLinked",
			Description: "LinkedIn employee name enumeration", Config: `{"format":"{first}.{last}"}`},
		{ModuleKey: "hunterio", Name: "Hunter.io",
			Description: "Email discovery via the Hunter.io API", Config: `{"api_key":""}`},
		{ModuleKey: "gitdorker", Name: "Git Dorker",
			Description: "Targeted GitHub dork queries for high-signal leaks", Config: "{}"},
		{ModuleKey: "leakcheck", Name: "LeakCheck",
			Description: "Known-breach lookups via the LeakCheck API", Config: `{"api_key":""}`},
		{ModuleKey: "blackbird", Name: "Blackbird",
			Description: "Account enumeration across platforms for username keywords", Config: "{}"},
	}
}
