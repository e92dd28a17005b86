package osint

import (
	"context"
	"strings"
	"time"

	"github.com/mkellner/leakwatch/internal/tools"
)

// Subfinder enumerates subdomains for every domain-shaped keyword.
type Subfinder struct {
	Timeout time.Duration
}

func (s *Subfinder) Key() string { return "subfinder" }

func (s *Subfinder) Run(ctx context.Context, in Input) ([]string, error) {
	var results []string
	for _, domain := range domainKeywords(in.Keywords) {
		res := tools.Run(ctx, tools.Spec{
			Name:    "subfinder",
			Binary:  "subfinder",
			Args:    []string{"-d", domain, "-silent"},
			Timeout: s.Timeout,
		})
		if res.Err != nil {
			return results, res.Err
		}
		if res.ExitCode != 0 {
			continue
		}
		for _, line := range strings.Split(res.Stdout, "\n") {
			if sub := strings.TrimSpace(line); sub != "" && domainLike(sub) {
				results = append(results, sub)
			}
		}
	}
	return results, nil
}
