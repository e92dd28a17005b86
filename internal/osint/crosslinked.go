package osint

import (
	"context"
	"strings"
	"time"

	"github.com/mkellner/leakwatch/internal/tools"
)

// maxCrosslinkedTargets bounds how many company-shaped keywords get a
// LinkedIn sweep per run; the tool is slow and easy to get blocked with.
const maxCrosslinkedTargets = 3

// CrossLinked enumerates employee names from LinkedIn for company-shaped
// keywords (terms that are neither domains nor emails).
type CrossLinked struct {
	Timeout time.Duration
}

func (c *CrossLinked) Key() string { return "crosslinked" }

func (c *CrossLinked) Run(ctx context.Context, in Input) ([]string, error) {
	format := in.Config["format"]
	if format == "" {
		format = "{first}.{last}"
	}

	var companies []string
	for _, k := range in.Keywords {
		term := strings.TrimSpace(k.Term)
		if term == "" || domainLike(term) || emailLike(term) {
			continue
		}
		companies = append(companies, term)
		if len(companies) == maxCrosslinkedTargets {
			break
		}
	}

	var results []string
	for _, company := range companies {
		res := tools.Run(ctx, tools.Spec{
			Name:    "crosslinked",
			Binary:  "crosslinked",
			Args:    []string{"-f", format, company},
			Timeout: c.Timeout,
		})
		if res.Err != nil {
			return results, res.Err
		}
		if res.ExitCode != 0 {
			continue
		}
		for _, line := range strings.Split(res.Stdout, "\n") {
			if name := strings.TrimSpace(line); name != "" && !strings.HasPrefix(name, "[") {
				results = append(results, name)
			}
		}
	}
	return results, nil
}
