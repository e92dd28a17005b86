package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"time"

	"github.com/mkellner/leakwatch/internal/assess"
	"github.com/mkellner/leakwatch/internal/config"
	"github.com/mkellner/leakwatch/internal/database"
	"github.com/mkellner/leakwatch/internal/github"
	"github.com/mkellner/leakwatch/internal/osint"
	"github.com/mkellner/leakwatch/internal/progress"
	"github.com/mkellner/leakwatch/internal/ratelimit"
	"github.com/mkellner/leakwatch/internal/scanner"
	"github.com/mkellner/leakwatch/internal/server"
)

func main() {
	configPath := flag.String("config", "leakwatch.yaml", "path to config file")
	flag.Parse()

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("loading config", "error", err)
		os.Exit(1)
	}
	if cfg.GitHub.Token == "" {
		slog.Warn("no GitHub token configured, search will be heavily rate limited")
	}

	db, err := database.New(cfg.Database.Path)
	if err != nil {
		slog.Error("opening database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := db.SeedModuleSettings(osint.DefaultModuleSettings()); err != nil {
		slog.Error("seeding module settings", "error", err)
		os.Exit(1)
	}

	pipeline := buildPipeline(cfg, db)

	if err := pipeline.CleanupStaleScans(); err != nil {
		slog.Error("cleaning up stale scans", "error", err)
		os.Exit(1)
	}

	if cfg.Schedule.Enabled {
		sched := scanner.NewScheduler(pipeline, cfg.Schedule.Hour, cfg.Schedule.Minute)
		go sched.Run(context.Background())
	}

	srv := server.New(cfg, db, pipeline)
	if err := srv.ListenAndServe(); err != nil {
		slog.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

// buildPipeline wires the scan collaborators from config.
func buildPipeline(cfg *config.Config, db *database.DB) *scanner.Pipeline {
	tracker := progress.NewTracker()

	bucket := ratelimit.New(cfg.GitHub.SearchTokensPerMinute)
	ghClient := github.NewClient(cfg.GitHub.Token, bucket, cfg.GitHub.MaxSearchPages)

	assessor := &assessAdapter{assess.NewClient(
		cfg.Assess.BaseURL, cfg.Assess.Model, cfg.Assess.Organization)}

	gate := &scanner.Gate{
		MaxRepoSizeKB: cfg.Scanner.MaxRepoSizeMB * 1024,
		MinRelevance:  cfg.Assess.RelevanceThreshold,
		Search:        ghClient,
		Assessor:      assessor,
	}

	deep := &scanner.DeepScanner{
		Remote:       &scanner.TruffleHog{Timeout: secs(cfg.Scanner.TruffleHogTimeoutSecs)},
		History:      &scanner.Gitleaks{Timeout: secs(cfg.Scanner.GitleaksTimeoutSecs)},
		CloneTimeout: secs(cfg.Scanner.CloneTimeoutSecs),
		MaxFileSize:  cfg.Scanner.MaxFileSizeBytes,
	}

	intel := osint.NewRegistry(db, tracker,
		&osint.Subfinder{Timeout: 10 * time.Minute},
		&osint.TheHarvester{Timeout: 10 * time.Minute},
		&osint.CrossLinked{Timeout: 10 * time.Minute},
		osint.NewHunterIO(),
		osint.NewGitDorker(ghClient),
		osint.NewLeakCheck(),
		&osint.Blackbird{Timeout: 10 * time.Minute},
	)

	return scanner.New(scanner.Collaborators{
		DB:        db,
		Progress:  tracker,
		Guard:     &scanner.RunGuard{},
		Search:    ghClient,
		Assessor:  assessor,
		Gate:      gate,
		Deep:      deep,
		Intel:     intel,
		Notifiers: buildNotifiers(cfg),
	})
}

func secs(n int) time.Duration {
	return time.Duration(n) * time.Second
}
