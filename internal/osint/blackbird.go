package osint

import (
	"context"
	"strings"
	"time"

	"github.com/mkellner/leakwatch/internal/tools"
)

// Blackbird enumerates accounts across platforms for username-shaped
// keywords (single tokens that are neither domains nor emails).
type Blackbird struct {
	Timeout time.Duration
}

func (b *Blackbird) Key() string { return "blackbird" }

func (b *Blackbird) Run(ctx context.Context, in Input) ([]string, error) {
	var results []string
	for _, k := range in.Keywords {
		term := strings.TrimSpace(k.Term)
		if term == "" || strings.Contains(term, " ") || domainLike(term) || emailLike(term) {
			continue
		}

		res := tools.Run(ctx, tools.Spec{
			Name:    "blackbird",
			Binary:  "blackbird",
			Args:    []string{"-u", term, "--no-update"},
			Timeout: b.Timeout,
		})
		if res.Err != nil {
			return results, res.Err
		}
		if res.ExitCode != 0 {
			continue
		}

		// Blackbird prints found profiles as "[+] site: url" lines.
		for _, line := range strings.Split(res.Stdout, "\n") {
			line = strings.TrimSpace(line)
			if !strings.HasPrefix(line, "[+]") {
				continue
			}
			if parts := strings.SplitN(strings.TrimPrefix(line, "[+]"), ":", 2); len(parts) == 2 {
				site := strings.TrimSpace(parts[0])
				if site != "" {
					results = append(results, "profile:"+term+"@"+site)
				}
			}
		}
	}
	return results, nil
}
