package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type ReportsConfig struct {
	Directory string `yaml:"directory"`
	FontPath  string `yaml:"font_path"`
}

type GitHubConfig struct {
	Token string `yaml:"token"`
	// SearchTokensPerMinute sizes the token bucket for the code-search
	// quota (10/min for authenticated code search).
	SearchTokensPerMinute int `yaml:"search_tokens_per_minute"`
	MaxSearchPages        int `yaml:"max_search_pages"`
}

type AssessConfig struct {
	BaseURL            string  `yaml:"base_url"`
	Model              string  `yaml:"model"`
	Organization       string  `yaml:"organization"`
	RelevanceThreshold float64 `yaml:"relevance_threshold"`
}

type ScannerConfig struct {
	TruffleHogTimeoutSecs int   `yaml:"trufflehog_timeout_secs"`
	GitleaksTimeoutSecs   int   `yaml:"gitleaks_timeout_secs"`
	CloneTimeoutSecs      int   `yaml:"clone_timeout_secs"`
	MaxRepoSizeMB         int64 `yaml:"max_repo_size_mb"`
	MaxFileSizeBytes      int64 `yaml:"max_file_size_bytes"`
}

type ScheduleConfig struct {
	Enabled bool `yaml:"enabled"`
	Hour    int  `yaml:"hour"`
	Minute  int  `yaml:"minute"`
}

type PushoverConfig struct {
	UserKey  string `yaml:"user_key"`
	APIToken string `yaml:"api_token"`
}

type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
	To       string `yaml:"to"`
}

type NotifyConfig struct {
	Pushover PushoverConfig `yaml:"pushover"`
	SMTP     SMTPConfig     `yaml:"smtp"`
}

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Reports  ReportsConfig  `yaml:"reports"`
	GitHub   GitHubConfig   `yaml:"github"`
	Assess   AssessConfig   `yaml:"assess"`
	Scanner  ScannerConfig  `yaml:"scanner"`
	Schedule ScheduleConfig `yaml:"schedule"`
	Notify   NotifyConfig   `yaml:"notify"`
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 8080,
		},
		Database: DatabaseConfig{
			Path: "leakwatch.db",
		},
		Reports: ReportsConfig{
			Directory: "./reports",
		},
		GitHub: GitHubConfig{
			SearchTokensPerMinute: 10,
			MaxSearchPages:        10,
		},
		Assess: AssessConfig{
			BaseURL:            "http://127.0.0.1:11434",
			Model:              "llama3",
			Organization:       "the organization",
			RelevanceThreshold: 0.3,
		},
		Scanner: ScannerConfig{
			TruffleHogTimeoutSecs: 300,
			GitleaksTimeoutSecs:   300,
			CloneTimeoutSecs:      120,
			MaxRepoSizeMB:         500,
			MaxFileSizeBytes:      1_000_000,
		},
		Schedule: ScheduleConfig{
			Enabled: true,
			Hour:    1,
			Minute:  0,
		},
	}
}

func Load(path string) (*Config, error) {
	cfg := defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnv()
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	cfg.applyEnv()
	return cfg, nil
}

// applyEnv lets the GitHub token come from the environment so it never has
// to live in the config file.
func (c *Config) applyEnv() {
	if tok := os.Getenv("GITHUB_TOKEN"); tok != "" && c.GitHub.Token == "" {
		c.GitHub.Token = tok
	}
}
