// Package github is the code search collaborator. It wraps the three REST
// endpoints the pipeline needs (code search, repository details, readme)
// behind a client that honors the search quota through a shared token
// bucket and the rate limit headers GitHub returns.
package github

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cenkalti/backoff"

	"github.com/mkellner/leakwatch/internal/ratelimit"
)

const maxMatchFiles = 10

// RepoHit is one repository surfaced by a code search query, with the files
// that matched (capped at 10).
type RepoHit struct {
	FullName    string
	HTMLURL     string
	Description string
	OwnerLogin  string
	OwnerType   string
	IsFork      bool
	MatchFiles  []string
}

// RepoDetails is the metadata backfill for the decision engine.
type RepoDetails struct {
	FullName      string
	SizeKB        int64
	DefaultBranch string
	Language      string
	Stargazers    int
	PushedAt      string
}

type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
	limiter    *ratelimit.Bucket
	maxPages   int

	sleep func(time.Duration)
}

func NewClient(token string, limiter *ratelimit.Bucket, maxPages int) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    "https://api.github.com",
		token:      token,
		limiter:    limiter,
		maxPages:   maxPages,
		sleep:      time.Sleep,
	}
}

// NewClientForTest points the client at a test server and removes waits.
func NewClientForTest(baseURL string, limiter *ratelimit.Bucket) *Client {
	c := NewClient("test-token", limiter, 3)
	c.baseURL = baseURL
	c.sleep = func(time.Duration) {}
	return c
}

type codeSearchResponse struct {
	TotalCount int `json:"total_count"`
	Items      []struct {
		Path       string `json:"path"`
		Repository struct {
			FullName    string `json:"full_name"`
			HTMLURL     string `json:"html_url"`
			Description string `json:"description"`
			Fork        bool   `json:"fork"`
			Owner       struct {
				Login string `json:"login"`
				Type  string `json:"type"`
			} `json:"owner"`
		} `json:"repository"`
	} `json:"items"`
}

// SearchCode runs a paginated code search for the keyword and aggregates
// hits per repository. Pagination stops on quota timeout, on a validation
// error (422), or when results are exhausted.
func (c *Client) SearchCode(keyword string) ([]RepoHit, error) {
	byRepo := map[string]*RepoHit{}
	var order []string

	for page := 1; page <= c.maxPages; page++ {
		if !c.limiter.Acquire(2 * time.Minute) {
			slog.Warn("search quota wait timed out, stopping pagination",
				"keyword", keyword, "page", page)
			break
		}

		resp, status, err := c.searchPage(keyword, page)
		if status == http.StatusUnprocessableEntity {
			slog.Warn("search query rejected as invalid", "keyword", keyword)
			break
		}
		if err != nil {
			return nil, fmt.Errorf("searching code for %q: %w", keyword, err)
		}

		for _, item := range resp.Items {
			repo := item.Repository
			hit, ok := byRepo[repo.FullName]
			if !ok {
				hit = &RepoHit{
					FullName:    repo.FullName,
					HTMLURL:     repo.HTMLURL,
					Description: repo.Description,
					OwnerLogin:  repo.Owner.Login,
					OwnerType:   repo.Owner.Type,
					IsFork:      repo.Fork,
				}
				byRepo[repo.FullName] = hit
				order = append(order, repo.FullName)
			}
			if len(hit.MatchFiles) < maxMatchFiles {
				hit.MatchFiles = append(hit.MatchFiles, item.Path)
			}
		}

		if len(resp.Items) == 0 || page*100 >= resp.TotalCount {
			break
		}
	}

	hits := make([]RepoHit, 0, len(order))
	for _, name := range order {
		hits = append(hits, *byRepo[name])
	}
	return hits, nil
}

// SearchCodeOnce runs a single-page search. The dork module uses it for
// probe queries where pagination is not worth the quota.
func (c *Client) SearchCodeOnce(query string, perPage int) ([]RepoHit, error) {
	if !c.limiter.Acquire(2 * time.Minute) {
		return nil, fmt.Errorf("search quota wait timed out for %q", query)
	}
	resp, status, err := c.searchPageRaw(query, 1, perPage)
	if status == http.StatusUnprocessableEntity {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("searching code for %q: %w", query, err)
	}

	var hits []RepoHit
	seen := map[string]bool{}
	for _, item := range resp.Items {
		repo := item.Repository
		if seen[repo.FullName] {
			continue
		}
		seen[repo.FullName] = true
		hits = append(hits, RepoHit{
			FullName:    repo.FullName,
			HTMLURL:     repo.HTMLURL,
			Description: repo.Description,
			OwnerLogin:  repo.Owner.Login,
			OwnerType:   repo.Owner.Type,
			IsFork:      repo.Fork,
			MatchFiles:  []string{item.Path},
		})
	}
	return hits, nil
}

func (c *Client) searchPage(keyword string, page int) (*codeSearchResponse, int, error) {
	return c.searchPageRaw(fmt.Sprintf("%q", keyword), page, 100)
}

func (c *Client) searchPageRaw(query string, page, perPage int) (*codeSearchResponse, int, error) {
	endpoint := fmt.Sprintf("%s/search/code?q=%s&per_page=%d&page=%d",
		c.baseURL, url.QueryEscape(query), perPage, page)

	var result *codeSearchResponse
	var lastStatus int

	op := func() error {
		req, err := http.NewRequest(http.MethodGet, endpoint, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Accept", "application/vnd.github+json")
		if c.token != "" {
			req.Header.Set("Authorization", "Bearer "+c.token)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		lastStatus = resp.StatusCode

		c.adaptFromHeaders(resp.Header)

		switch {
		case resp.StatusCode == http.StatusOK:
			var parsed codeSearchResponse
			if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
				return backoff.Permanent(fmt.Errorf("decoding search response: %w", err))
			}
			result = &parsed
			return nil
		case resp.StatusCode == http.StatusForbidden:
			// Secondary rate limit. Sleep through the reset window, then
			// let backoff retry the same page.
			c.sleepUntilReset(resp.Header)
			return fmt.Errorf("rate limited (403)")
		case resp.StatusCode == http.StatusUnprocessableEntity:
			return backoff.Permanent(fmt.Errorf("invalid query (422)"))
		case resp.StatusCode >= 500:
			return fmt.Errorf("server error %d", resp.StatusCode)
		default:
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return backoff.Permanent(fmt.Errorf("unexpected status %d: %s", resp.StatusCode, body))
		}
	}

	err := backoff.Retry(op, backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3))
	if err != nil {
		return nil, lastStatus, err
	}
	return result, lastStatus, nil
}

func (c *Client) adaptFromHeaders(h http.Header) {
	remaining, err := strconv.Atoi(h.Get("X-RateLimit-Remaining"))
	if err != nil {
		return
	}
	resetUnix, err := strconv.ParseInt(h.Get("X-RateLimit-Reset"), 10, 64)
	if err != nil {
		return
	}
	c.limiter.Adapt(remaining, time.Unix(resetUnix, 0))
}

func (c *Client) sleepUntilReset(h http.Header) {
	resetUnix, err := strconv.ParseInt(h.Get("X-RateLimit-Reset"), 10, 64)
	if err != nil {
		c.sleep(30 * time.Second)
		return
	}
	if wait := time.Until(time.Unix(resetUnix, 0)); wait > 0 {
		slog.Info("sleeping until rate limit reset", "wait", wait.Round(time.Second))
		c.sleep(wait + time.Second)
	}
}

// RepoDetails fetches the metadata backfill for one repository.
func (c *Client) RepoDetails(fullName string) (*RepoDetails, error) {
	req, err := http.NewRequest(http.MethodGet, c.baseURL+"/repos/"+fullName, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching repo details for %s: %w", fullName, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching repo details for %s: status %d", fullName, resp.StatusCode)
	}

	var parsed struct {
		FullName      string `json:"full_name"`
		Size          int64  `json:"size"`
		DefaultBranch string `json:"default_branch"`
		Language      string `json:"language"`
		Stargazers    int    `json:"stargazers_count"`
		PushedAt      string `json:"pushed_at"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decoding repo details: %w", err)
	}

	return &RepoDetails{
		FullName:      parsed.FullName,
		SizeKB:        parsed.Size,
		DefaultBranch: parsed.DefaultBranch,
		Language:      parsed.Language,
		Stargazers:    parsed.Stargazers,
		PushedAt:      parsed.PushedAt,
	}, nil
}

// Readme fetches the raw readme, truncated to 2 KB, for the relevance
// prompt. Missing readmes are not an error.
func (c *Client) Readme(fullName string) (string, error) {
	req, err := http.NewRequest(http.MethodGet, c.baseURL+"/repos/"+fullName+"/readme", nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", "application/vnd.github.raw+json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetching readme for %s: %w", fullName, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return "", nil
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetching readme for %s: status %d", fullName, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 2000))
	if err != nil {
		return "", fmt.Errorf("reading readme body: %w", err)
	}
	return string(body), nil
}
