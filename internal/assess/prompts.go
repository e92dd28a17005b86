package assess

import (
	"fmt"
	"strings"
)

func (c *Client) relevancePrompt(meta RepoMeta) string {
	var b strings.Builder
	fmt.Fprintf(&b, `You assess whether a public GitHub repository is likely to contain leaked data, credentials, or internal code belonging to %s.

Repository: %s
Description: %s
Primary language: %s
`, c.organization, meta.FullName, meta.Description, meta.Language)

	if meta.ReadmeExcerpt != "" {
		fmt.Fprintf(&b, "\nREADME excerpt:\n%s\n", meta.ReadmeExcerpt)
	}

	fmt.Fprintf(&b, `
Reply with a single JSON object and nothing else:
{"score": <number between 0.0 and 1.0>, "summary": "<one or two sentences explaining the score>"}

A score of 1.0 means the repository very likely concerns %s; 0.0 means it is clearly unrelated.`,
		c.organization)
	return b.String()
}

func (c *Client) findingPrompt(fc FindingContext) string {
	if fc.CustomPrompt != "" {
		return c.renderCustomPrompt(fc)
	}

	var b strings.Builder
	fmt.Fprintf(&b, `You are a security analyst for %s triaging a potential leaked secret found in a public GitHub repository.

Repository: %s
Repository description: %s
Scanner: %s
Detector: %s
File: %s
Verified by scanner: %t
`, c.organization, fc.RepoFullName, fc.RepoDescription, fc.Scanner, fc.Detector, fc.FilePath, fc.Verified)

	if fc.KeywordContext != "" {
		fmt.Fprintf(&b, "\nThis repository was discovered via the following monitored keywords:\n%s\n", fc.KeywordContext)
	}
	if fc.MatchedSnippet != "" {
		fmt.Fprintf(&b, "\nMatched content (may be truncated):\n%s\n", fc.MatchedSnippet)
	}

	b.WriteString(`
In three sentences or fewer: state whether this looks like a real credential or sensitive data belonging to the organization, how severe the exposure is, and what the recommended next step is.`)
	return b.String()
}

// renderCustomPrompt substitutes the placeholders an operator can use in a
// stored prompt override.
func (c *Client) renderCustomPrompt(fc FindingContext) string {
	replacer := strings.NewReplacer(
		"{organization}", c.organization,
		"{repo}", fc.RepoFullName,
		"{file}", fc.FilePath,
		"{scanner}", fc.Scanner,
		"{detector}", fc.Detector,
		"{snippet}", fc.MatchedSnippet,
		"{keywords}", fc.KeywordContext,
	)
	return replacer.Replace(fc.CustomPrompt)
}
