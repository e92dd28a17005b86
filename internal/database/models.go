package database

import "time"

// Scan lifecycle statuses.
const (
	ScanStatusRunning   = "running"
	ScanStatusCompleted = "completed"
	ScanStatusCancelled = "cancelled"
	ScanStatusFailed    = "failed"
)

// Per-repository scan statuses.
const (
	RepoStatusPending      = "pending"
	RepoStatusScanning     = "scanning"
	RepoStatusFindings     = "findings"
	RepoStatusClean        = "clean"
	RepoStatusUnchanged    = "unchanged"
	RepoStatusSkipped      = "skipped"
	RepoStatusLowRelevance = "low_relevance"
	RepoStatusError        = "error"
)

// How a keyword match was surfaced.
const (
	MatchSourceCodeSearch = "code_search"
	MatchSourceIntel      = "intel"
)

// Manual scan overrides on a repository.
const (
	OverrideAuto  = "auto"
	OverrideForce = "force"
	OverrideBlock = "block"
)

type Keyword struct {
	ID        int64     `json:"id"`
	Term      string    `json:"term"`
	Category  string    `json:"category"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

type Scan struct {
	ID            int64      `json:"id"`
	StartedAt     time.Time  `json:"started_at"`
	FinishedAt    *time.Time `json:"finished_at"`
	Status        string     `json:"status"`
	TriggerType   string     `json:"trigger_type"`
	KeywordsUsed  int        `json:"keywords_used"`
	ReposFound    int        `json:"repos_found"`
	ReposScanned  int        `json:"repos_scanned"`
	NewFindings   int        `json:"new_findings"`
	TotalFindings int        `json:"total_findings"`
	ErrorMessage  string     `json:"error_message"`
	DurationSecs  int64      `json:"duration_secs"`
}

// DiscoveredRepo keeps PushedAt as the raw string GitHub returned; a value
// that fails to parse must count as changed, so parsing is deferred to the
// decision engine.
type DiscoveredRepo struct {
	ID               int64      `json:"id"`
	FullName         string     `json:"full_name"`
	HTMLURL          string     `json:"html_url"`
	Description      string     `json:"description"`
	OwnerLogin       string     `json:"owner_login"`
	OwnerType        string     `json:"owner_type"`
	IsFork           bool       `json:"is_fork"`
	SizeKB           int64      `json:"size_kb"`
	DefaultBranch    string     `json:"default_branch"`
	Language         string     `json:"language"`
	Stargazers       int        `json:"stargazers"`
	PushedAt         string     `json:"pushed_at"`
	FirstSeenAt      time.Time  `json:"first_seen_at"`
	LastSeenAt       time.Time  `json:"last_seen_at"`
	LastScannedAt    *time.Time `json:"last_scanned_at"`
	ScanStatus       string     `json:"scan_status"`
	ScanDurationSecs int64      `json:"scan_duration_secs"`
	MatchedKeywords  string     `json:"matched_keywords"` // JSON array
	AIRelevance      *float64   `json:"ai_relevance"`
	AISummary        string     `json:"ai_summary"`
	Dismissed        bool       `json:"dismissed"`
	ScanOverride     string     `json:"scan_override"`
}

type Finding struct {
	ID             int64      `json:"id"`
	Hash           string     `json:"hash"`
	RepoID         int64      `json:"repo_id"`
	ScanID         *int64     `json:"scan_id"`
	Scanner        string     `json:"scanner"`
	Detector       string     `json:"detector"`
	Verified       bool       `json:"verified"`
	FilePath       string     `json:"file_path"`
	CommitHash     string     `json:"commit_hash"`
	LineNumber     int        `json:"line_number"`
	Severity       string     `json:"severity"`
	AIAssessment   string     `json:"ai_assessment"`
	MatchedSnippet string     `json:"matched_snippet"`
	FirstSeenAt    time.Time  `json:"first_seen_at"`
	LastSeenAt     time.Time  `json:"last_seen_at"`
	Resolved       bool       `json:"resolved"`
	ResolvedAt     *time.Time `json:"resolved_at"`
	Notes          string     `json:"notes"`
}

type RepoKeywordMatch struct {
	ID          int64  `json:"id"`
	RepoID      int64  `json:"repo_id"`
	Keyword     string `json:"keyword"`
	MatchSource string `json:"match_source"`
	MatchFiles  string `json:"match_files"` // JSON array, capped at 10
}

type ModuleSetting struct {
	ID          int64  `json:"id"`
	ModuleKey   string `json:"module_key"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Enabled     bool   `json:"enabled"`
	Config      string `json:"config"` // JSON object
}

type OsintResult struct {
	ID         int64     `json:"id"`
	ScanID     *int64    `json:"scan_id"`
	ModuleKey  string    `json:"module_key"`
	ResultType string    `json:"result_type"`
	Value      string    `json:"value"`
	CreatedAt  time.Time `json:"created_at"`
}

type NotificationLog struct {
	ID        int64     `json:"id"`
	ScanID    *int64    `json:"scan_id"`
	Channel   string    `json:"channel"`
	Subject   string    `json:"subject"`
	Success   bool      `json:"success"`
	Error     string    `json:"error"`
	CreatedAt time.Time `json:"created_at"`
}
