package osint

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// HunterIO looks up known email addresses for domain keywords via the
// Hunter.io domain-search API. Requires an API key in the module config.
type HunterIO struct {
	HTTPClient *http.Client
	BaseURL    string
}

func NewHunterIO() *HunterIO {
	return &HunterIO{
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
		BaseURL:    "https://api.hunter.io",
	}
}

func (h *HunterIO) Key() string { return "hunterio" }

func (h *HunterIO) Run(ctx context.Context, in Input) ([]string, error) {
	apiKey := in.Config["api_key"]
	if apiKey == "" {
		return nil, fmt.Errorf("hunter.io api_key not configured")
	}

	var results []string
	for _, domain := range domainKeywords(in.Keywords) {
		endpoint := fmt.Sprintf("%s/v2/domain-search?domain=%s&api_key=%s",
			h.BaseURL, url.QueryEscape(domain), url.QueryEscape(apiKey))

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return results, err
		}
		resp, err := h.HTTPClient.Do(req)
		if err != nil {
			return results, fmt.Errorf("querying hunter.io for %s: %w", domain, err)
		}

		var parsed struct {
			Data struct {
				Emails []struct {
					Value string `json:"value"`
				} `json:"emails"`
			} `json:"data"`
		}
		err = json.NewDecoder(resp.Body).Decode(&parsed)
		resp.Body.Close()
		if err != nil {
			continue
		}

		for _, e := range parsed.Data.Emails {
			if emailLike(e.Value) {
				results = append(results, e.Value)
			}
		}
	}
	return results, nil
}
