// Package notify delivers scan completion notices. Channels are best
// effort; a failed delivery is logged and recorded but never fails a scan.
package notify

import (
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/mkellner/leakwatch/internal/database"
)

// Pushover posts a message to the Pushover API. Verified findings raise the
// message priority.
type Pushover struct {
	UserKey    string
	APIToken   string
	HTTPClient *http.Client
	BaseURL    string
}

func NewPushover(userKey, apiToken string) *Pushover {
	return &Pushover{
		UserKey:    userKey,
		APIToken:   apiToken,
		HTTPClient: &http.Client{Timeout: 15 * time.Second},
		BaseURL:    "https://api.pushover.net",
	}
}

func (p *Pushover) Name() string { return "pushover" }

// Configured reports whether both credentials are present; main only wires
// the channel in when they are.
func (p *Pushover) Configured() bool {
	return p.UserKey != "" && p.APIToken != ""
}

func (p *Pushover) Notify(scan *database.Scan, findings []database.Finding) error {
	priority := "0"
	for _, f := range findings {
		if f.Verified {
			priority = "1"
			break
		}
	}

	form := url.Values{
		"token":    {p.APIToken},
		"user":     {p.UserKey},
		"title":    {fmt.Sprintf("LeakWatch: %d new findings", scan.NewFindings)},
		"message":  {summarize(scan, findings)},
		"priority": {priority},
	}

	resp, err := p.HTTPClient.PostForm(p.BaseURL+"/1/messages.json", form)
	if err != nil {
		return fmt.Errorf("posting to pushover: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("pushover returned status %d", resp.StatusCode)
	}
	return nil
}

// summarize builds the shared notification body: a severity breakdown and
// the affected scanners.
func summarize(scan *database.Scan, findings []database.Finding) string {
	severities := map[string]int{}
	scanners := map[string]bool{}
	for _, f := range findings {
		severities[f.Severity]++
		scanners[f.Scanner] = true
	}

	var parts []string
	for _, sev := range []string{"critical", "high", "medium", "low"} {
		if n := severities[sev]; n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", n, sev))
		}
	}

	var names []string
	for s := range scanners {
		names = append(names, s)
	}
	sort.Strings(names)

	return fmt.Sprintf("Scan #%d (%s) finished: %d repos scanned, %d new findings (%s) via %s.",
		scan.ID, scan.TriggerType, scan.ReposScanned, scan.NewFindings,
		strings.Join(parts, ", "), strings.Join(names, ", "))
}
