package assess

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRelevanceReply(t *testing.T) {
	cases := []struct {
		name        string
		reply       string
		wantScore   float64
		wantSummary string
		wantOK      bool
	}{
		{
			name:        "clean JSON",
			reply:       `{"score": 0.8, "summary": "likely internal tooling"}`,
			wantScore:   0.8,
			wantSummary: "likely internal tooling",
			wantOK:      true,
		},
		{
			name:        "JSON wrapped in prose",
			reply:       "Sure, here is my assessment:\n{\"score\": 0.4, \"summary\": \"maybe\"}\nLet me know if you need more.",
			wantScore:   0.4,
			wantSummary: "maybe",
			wantOK:      true,
		},
		{
			name:      "score above one is clamped",
			reply:     `{"score": 7, "summary": "very sure"}`,
			wantScore: 1.0,
			wantOK:    true,
		},
		{
			name:      "negative score is clamped",
			reply:     `{"score": -0.5, "summary": "no"}`,
			wantScore: 0.0,
			wantOK:    true,
		},
		{
			name:   "no JSON at all",
			reply:  "I think this repository is unrelated.",
			wantOK: false,
		},
		{
			name:   "malformed JSON",
			reply:  `{"score": oops}`,
			wantOK: false,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			score, summary, ok := parseRelevanceReply(tc.reply)
			require.Equal(t, tc.wantOK, ok)
			if !ok {
				return
			}
			assert.InDelta(t, tc.wantScore, score, 0.001)
			if tc.wantSummary != "" {
				assert.Equal(t, tc.wantSummary, summary)
			}
		})
	}
}

func newTestClient(handler http.HandlerFunc) (*Client, *httptest.Server) {
	srv := httptest.NewServer(handler)
	return NewClient(srv.URL, "llama3", "Acme Corp"), srv
}

func TestRepoRelevanceHappyPath(t *testing.T) {
	var gotReq generateRequest
	client, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/generate", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		json.NewEncoder(w).Encode(generateResponse{
			Response: `{"score": 0.65, "summary": "mentions acme internal hosts"}`,
		})
	})
	defer srv.Close()

	score, summary := client.RepoRelevance(context.Background(), RepoMeta{
		FullName: "someone/dump", Description: "misc", Language: "Python",
	})

	assert.InDelta(t, 0.65, score, 0.001)
	assert.Equal(t, "mentions acme internal hosts", summary)
	assert.Equal(t, "llama3", gotReq.Model)
	assert.False(t, gotReq.Stream)
	assert.Contains(t, gotReq.Prompt, "Acme Corp")
	assert.Contains(t, gotReq.Prompt, "someone/dump")
}

func TestRepoRelevanceDegradesToRelevant(t *testing.T) {
	// Unreachable endpoint.
	client := NewClient("http://127.0.0.1:1", "llama3", "Acme Corp")

	score, summary := client.RepoRelevance(context.Background(), RepoMeta{FullName: "a/b"})

	assert.Equal(t, 1.0, score, "AI failure must not cause a skip")
	assert.NotEmpty(t, summary)
}

func TestRepoRelevanceNonJSONReply(t *testing.T) {
	long := strings.Repeat("x", 600)
	client, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(generateResponse{Response: long})
	})
	defer srv.Close()

	score, summary := client.RepoRelevance(context.Background(), RepoMeta{FullName: "a/b"})

	assert.Equal(t, 0.5, score)
	assert.Len(t, summary, 500, "free-text replies are truncated")
}

func TestAssessFindingDegradesToEmpty(t *testing.T) {
	client := NewClient("http://127.0.0.1:1", "llama3", "Acme Corp")
	out := client.AssessFinding(context.Background(), FindingContext{RepoFullName: "a/b"})
	assert.Empty(t, out)
}

func TestCustomPromptPlaceholders(t *testing.T) {
	client := NewClient("http://unused", "llama3", "Acme Corp")
	prompt := client.findingPrompt(FindingContext{
		RepoFullName: "someone/dump",
		FilePath:     ".env",
		Scanner:      "gitleaks",
		CustomPrompt: "Review {file} in {repo} for {organization}.",
	})
	assert.Equal(t, "Review .env in someone/dump for Acme Corp.", prompt)
}
