package osint

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mkellner/leakwatch/internal/tools"
)

// TheHarvester collects emails and hosts for domain keywords. Results come
// from theHarvester's JSON report file since its stdout is log noise.
type TheHarvester struct {
	Timeout time.Duration
}

func (t *TheHarvester) Key() string { return "theharvester" }

func (t *TheHarvester) Run(ctx context.Context, in Input) ([]string, error) {
	source := in.Config["sources"]
	if source == "" {
		source = "duckduckgo"
	}

	var results []string
	for _, domain := range domainKeywords(in.Keywords) {
		dir, err := os.MkdirTemp("", "harvester-*")
		if err != nil {
			return results, err
		}
		reportBase := filepath.Join(dir, "report")

		res := tools.Run(ctx, tools.Spec{
			Name:    "theHarvester",
			Binary:  "theHarvester",
			Args:    []string{"-d", domain, "-b", source, "-f", reportBase},
			Timeout: t.Timeout,
		})
		if res.Err != nil {
			os.RemoveAll(dir)
			return results, res.Err
		}

		data, err := os.ReadFile(reportBase + ".json")
		os.RemoveAll(dir)
		if err != nil {
			continue
		}

		var report struct {
			Emails []string `json:"emails"`
			Hosts  []string `json:"hosts"`
		}
		if err := json.Unmarshal(data, &report); err != nil {
			continue
		}
		for _, e := range report.Emails {
			if e = strings.TrimSpace(e); e != "" {
				results = append(results, e)
			}
		}
		for _, h := range report.Hosts {
			// Hosts can come as "host:ip"; keep the host part.
			if host := strings.TrimSpace(strings.SplitN(h, ":", 2)[0]); domainLike(host) {
				results = append(results, host)
			}
		}
	}
	return results, nil
}
