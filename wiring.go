package main

import (
	"context"

	"github.com/mkellner/leakwatch/internal/assess"
	"github.com/mkellner/leakwatch/internal/config"
	"github.com/mkellner/leakwatch/internal/notify"
	"github.com/mkellner/leakwatch/internal/scanner"
)

// assessAdapter bridges the scanner's assessor interface to the assess
// client, which uses its own parameter structs.
type assessAdapter struct {
	client *assess.Client
}

func (a *assessAdapter) RepoRelevance(ctx context.Context, meta scanner.RepoMeta) (float64, string) {
	return a.client.RepoRelevance(ctx, assess.RepoMeta{
		FullName:      meta.FullName,
		Description:   meta.Description,
		Language:      meta.Language,
		ReadmeExcerpt: meta.ReadmeExcerpt,
	})
}

func (a *assessAdapter) AssessFinding(ctx context.Context, fc scanner.FindingContext) string {
	return a.client.AssessFinding(ctx, assess.FindingContext{
		Scanner:         fc.Scanner,
		Detector:        fc.Detector,
		FilePath:        fc.FilePath,
		RepoFullName:    fc.RepoFullName,
		RepoDescription: fc.RepoDescription,
		Verified:        fc.Verified,
		MatchedSnippet:  fc.MatchedSnippet,
		KeywordContext:  fc.KeywordContext,
		CustomPrompt:    fc.CustomPrompt,
	})
}

// buildNotifiers returns only the channels with working configuration.
func buildNotifiers(cfg *config.Config) []scanner.Notifier {
	var notifiers []scanner.Notifier

	pushover := notify.NewPushover(cfg.Notify.Pushover.UserKey, cfg.Notify.Pushover.APIToken)
	if pushover.Configured() {
		notifiers = append(notifiers, pushover)
	}

	email := notify.NewEmail(cfg.Notify.SMTP.Host, cfg.Notify.SMTP.Port,
		cfg.Notify.SMTP.Username, cfg.Notify.SMTP.Password,
		cfg.Notify.SMTP.From, cfg.Notify.SMTP.To)
	if email.Configured() {
		notifiers = append(notifiers, email)
	}

	return notifiers
}
