package osint

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// LeakCheck queries the LeakCheck API for known breaches involving email
// and domain keywords. The breach source names come back as leads.
type LeakCheck struct {
	HTTPClient *http.Client
	BaseURL    string
}

func NewLeakCheck() *LeakCheck {
	return &LeakCheck{
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
		BaseURL:    "https://leakcheck.io",
	}
}

func (l *LeakCheck) Key() string { return "leakcheck" }

func (l *LeakCheck) Run(ctx context.Context, in Input) ([]string, error) {
	apiKey := in.Config["api_key"]
	if apiKey == "" {
		return nil, fmt.Errorf("leakcheck api_key not configured")
	}

	var results []string
	for _, k := range in.Keywords {
		if !emailLike(k.Term) && !domainLike(k.Term) {
			continue
		}

		endpoint := fmt.Sprintf("%s/api/v2/query/%s", l.BaseURL, url.PathEscape(k.Term))
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return results, err
		}
		req.Header.Set("X-API-Key", apiKey)

		resp, err := l.HTTPClient.Do(req)
		if err != nil {
			return results, fmt.Errorf("querying leakcheck for %s: %w", k.Term, err)
		}

		var parsed struct {
			Success bool `json:"success"`
			Result  []struct {
				Source struct {
					Name string `json:"name"`
				} `json:"source"`
			} `json:"result"`
		}
		err = json.NewDecoder(resp.Body).Decode(&parsed)
		resp.Body.Close()
		if err != nil || !parsed.Success {
			continue
		}

		for _, r := range parsed.Result {
			if r.Source.Name != "" {
				results = append(results, fmt.Sprintf("breach:%s:%s", k.Term, r.Source.Name))
			}
		}
	}
	return results, nil
}
