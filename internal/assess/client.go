// Package assess talks to a local Ollama-compatible endpoint to score
// repository relevance and triage findings. The model is advisory only:
// when it is unreachable or returns garbage, scoring degrades in the
// paranoid direction (assume relevant) so nothing is skipped on an AI
// failure.
package assess

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

type Client struct {
	baseURL      string
	model        string
	organization string
	httpClient   *http.Client
}

func NewClient(baseURL, model, organization string) *Client {
	return &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		model:        model,
		organization: organization,
		httpClient:   &http.Client{Timeout: 120 * time.Second},
	}
}

// RepoMeta is the repository context fed to the relevance prompt.
type RepoMeta struct {
	FullName      string
	Description   string
	Language      string
	ReadmeExcerpt string
}

// FindingContext is the context fed to the finding triage prompt.
type FindingContext struct {
	Scanner         string
	Detector        string
	FilePath        string
	RepoFullName    string
	RepoDescription string
	Verified        bool
	MatchedSnippet  string
	KeywordContext  string
	CustomPrompt    string
}

type generateRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	Stream  bool           `json:"stream"`
	Options map[string]any `json:"options,omitempty"`
}

type generateResponse struct {
	Response string `json:"response"`
}

func (c *Client) generate(ctx context.Context, prompt string, temperature float64, timeout time.Duration) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	payload, err := json.Marshal(generateRequest{
		Model:   c.model,
		Prompt:  prompt,
		Stream:  false,
		Options: map[string]any{"temperature": temperature},
	})
	if err != nil {
		return "", fmt.Errorf("encoding generate request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/generate", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("calling model: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("model returned status %d", resp.StatusCode)
	}

	var parsed generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decoding model response: %w", err)
	}
	return parsed.Response, nil
}

// RepoRelevance scores how likely a repository is to concern the monitored
// organization. On any model failure it returns (1.0, note) so the pipeline
// treats the repo as relevant rather than silently skipping it.
func (c *Client) RepoRelevance(ctx context.Context, meta RepoMeta) (float64, string) {
	prompt := c.relevancePrompt(meta)
	reply, err := c.generate(ctx, prompt, 0.1, 60*time.Second)
	if err != nil {
		slog.Warn("relevance assessment unavailable, assuming relevant",
			"repo", meta.FullName, "error", err)
		return 1.0, "AI relevance assessment unavailable; repository scanned as a precaution."
	}

	score, summary, ok := parseRelevanceReply(reply)
	if !ok {
		text := strings.TrimSpace(reply)
		if len(text) > 500 {
			text = text[:500]
		}
		return 0.5, text
	}
	return score, summary
}

// parseRelevanceReply extracts the JSON object embedded in a model reply
// (from the first '{' to the last '}') and clamps the score to [0, 1].
func parseRelevanceReply(reply string) (float64, string, bool) {
	start := strings.Index(reply, "{")
	end := strings.LastIndex(reply, "}")
	if start == -1 || end == -1 || end < start {
		return 0, "", false
	}

	var parsed struct {
		Score   float64 `json:"score"`
		Summary string  `json:"summary"`
	}
	if err := json.Unmarshal([]byte(reply[start:end+1]), &parsed); err != nil {
		return 0, "", false
	}

	score := parsed.Score
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	return score, parsed.Summary, true
}

// AssessFinding returns the model's triage text for one finding, or "" when
// the model is unavailable. Findings without an assessment stay in the
// queue and get picked up by a reassess run.
func (c *Client) AssessFinding(ctx context.Context, fc FindingContext) string {
	prompt := c.findingPrompt(fc)
	reply, err := c.generate(ctx, prompt, 0.2, 90*time.Second)
	if err != nil {
		slog.Warn("finding assessment unavailable",
			"repo", fc.RepoFullName, "file", fc.FilePath, "error", err)
		return ""
	}
	return strings.TrimSpace(reply)
}
