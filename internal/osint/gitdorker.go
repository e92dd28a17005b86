package osint

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"github.com/mkellner/leakwatch/internal/github"
)

// maxDorkKeywords bounds the dork sweep; each keyword fans out into one
// query per pattern and the search quota is shared with stage 2.
const maxDorkKeywords = 5

// dorkPatterns are high-signal query templates applied to each keyword.
var dorkPatterns = []string{
	`"%s" password`,
	`"%s" api_key`,
	`"%s" secret`,
	`"%s" filename:.env`,
	`"%s" filename:id_rsa`,
	`"%s" extension:sql`,
}

// GitDorker probes GitHub with dork queries built from the keyword set and
// surfaces the repositories it hits as new keyword-shaped leads (the repo
// owners). Queries run through the same rate-limited search client the
// pipeline uses, additionally paced so a dork sweep cannot starve stage 2.
type GitDorker struct {
	Client  *github.Client
	limiter *rate.Limiter
}

func NewGitDorker(client *github.Client) *GitDorker {
	// 1 query every 6 seconds keeps the sweep inside the search quota.
	return &GitDorker{
		Client:  client,
		limiter: rate.NewLimiter(rate.Limit(1.0/6.0), 1),
	}
}

func (g *GitDorker) Key() string { return "gitdorker" }

func (g *GitDorker) Run(ctx context.Context, in Input) ([]string, error) {
	keywords := in.Keywords
	if len(keywords) > maxDorkKeywords {
		keywords = keywords[:maxDorkKeywords]
	}

	var results []string
	seen := map[string]bool{}
	for _, kw := range keywords {
		for _, pattern := range dorkPatterns {
			if err := g.limiter.Wait(ctx); err != nil {
				return results, err
			}
			query := fmt.Sprintf(pattern, kw.Term)
			hits, err := g.Client.SearchCodeOnce(query, 10)
			if err != nil {
				return results, fmt.Errorf("dork query %q: %w", query, err)
			}
			for _, hit := range hits {
				if hit.OwnerLogin != "" && !seen[hit.OwnerLogin] {
					seen[hit.OwnerLogin] = true
					results = append(results, hit.OwnerLogin)
				}
			}
		}
	}
	return results, nil
}
