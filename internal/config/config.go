// Package config assembles runtime configuration from defaults, a YAML file,
// environment variables, and flags, in ascending precedence.
package config

import (
	"fmt"
	"strings"
	"time"
)

// ProfileSettings are the per-profile safety knobs.
type ProfileSettings struct {
	MediumThreshold   int
	BlockThreshold    int
	MaxFetchBytes     int64
	MaxExtractedChars int
	FetchTimeout      time.Duration
	MaxRedirects      int
}

// profiles maps profile names to their settings.
var profiles = map[string]ProfileSettings{
	"baseline": {
		MediumThreshold:   8,
		BlockThreshold:    14,
		MaxFetchBytes:     1_500_000,
		MaxExtractedChars: 22_000,
		FetchTimeout:      8 * time.Second,
		MaxRedirects:      4,
	},
	"strict": {
		MediumThreshold:   6,
		BlockThreshold:    10,
		MaxFetchBytes:     1_000_000,
		MaxExtractedChars: 16_000,
		FetchTimeout:      7 * time.Second,
		MaxRedirects:      3,
	},
	"paranoid": {
		MediumThreshold:   4,
		BlockThreshold:    7,
		MaxFetchBytes:     750_000,
		MaxExtractedChars: 10_000,
		FetchTimeout:      6 * time.Second,
		MaxRedirects:      2,
	},
}

// ProfileFor returns the settings for a profile name.
func ProfileFor(name string) (ProfileSettings, error) {
	p, ok := profiles[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return ProfileSettings{}, fmt.Errorf("unknown profile: %q", name)
	}
	return p, nil
}

// RendererConfig configures the optional headless-render backend.
type RendererConfig struct {
	Backend         string // "none" or "browserless"
	URL             string
	Token           string
	Timeout         time.Duration
	WaitUntil       string
	WaitForSelector string
	MaxHTMLBytes    int64
	FallbackToHTTP  bool
	BlockAds        bool
}

// JudgeConfig configures the optional LLM adjudicator.
type JudgeConfig struct {
	Enabled bool
	BaseURL string
	Model   string
	APIKey  string
	Timeout time.Duration
}

// SearchConfig selects and credentials the upstream provider.
type SearchConfig struct {
	Provider    string // "brave" or "searxng"
	BraveAPIKey string
	SearxURL    string
	SearxKey    string
}

// Config is the full runtime configuration. It is immutable after load.
type Config struct {
	Listen  string
	DBPath  string
	Profile string
	Verbose bool

	RateTier string
	RateRPS  int // positive override; 0 means use the tier
	QueueMax int

	RetryOn429 bool
	RetryMax   int

	RedactURLs            bool
	ExposeSafeContentURLs bool
	FailClosed            bool

	Allowlist                  []string
	Blocklist                  []string
	LanguageNameAllowlistExtra []string

	ResultTTL     time.Duration
	RetentionDays int
	SweepInterval time.Duration

	UserAgent         string
	DashboardWriteAPI bool

	Search   SearchConfig
	Renderer RendererConfig
	Judge    JudgeConfig
}

// Default returns the documented defaults.
func Default() Config {
	return Config{
		Listen:                ":8080",
		DBPath:                "clawrubber.db",
		Profile:               "strict",
		RateTier:              "free",
		QueueMax:              10,
		RetryOn429:            true,
		RetryMax:              1,
		RedactURLs:            true,
		ExposeSafeContentURLs: true,
		FailClosed:            true,
		ResultTTL:             30 * time.Minute,
		RetentionDays:         30,
		SweepInterval:         30 * time.Minute,
		UserAgent:             "ClawRubber/1.0 (+https://github.com/waffleophagus/claw-rubber)",
		Search:                SearchConfig{Provider: "brave"},
		Renderer: RendererConfig{
			Backend:        "none",
			Timeout:        15 * time.Second,
			WaitUntil:      "networkidle",
			MaxHTMLBytes:   3_000_000,
			FallbackToHTTP: true,
		},
		Judge: JudgeConfig{Timeout: 10 * time.Second},
	}
}

// Validate checks cross-field consistency after all layers applied.
func (c *Config) Validate() error {
	if _, err := ProfileFor(c.Profile); err != nil {
		return err
	}
	if c.RateRPS < 0 {
		return fmt.Errorf("rate rps must be positive, got %d", c.RateRPS)
	}
	if c.QueueMax <= 0 {
		return fmt.Errorf("queueMax must be positive, got %d", c.QueueMax)
	}
	switch c.Search.Provider {
	case "brave", "searxng":
	default:
		return fmt.Errorf("unknown search provider: %q", c.Search.Provider)
	}
	switch c.Renderer.Backend {
	case "none", "browserless":
	default:
		return fmt.Errorf("unknown renderer backend: %q", c.Renderer.Backend)
	}
	if c.Renderer.Backend != "none" && c.Renderer.URL == "" {
		return fmt.Errorf("renderer backend %q requires a url", c.Renderer.Backend)
	}
	if c.Judge.Enabled && c.Judge.Model == "" {
		return fmt.Errorf("llm judge enabled without a model")
	}
	return nil
}

// ProfileSettings resolves the active profile. Call after Validate.
func (c *Config) ProfileSettings() ProfileSettings {
	p, _ := ProfileFor(c.Profile)
	return p
}

// SplitCSV parses a comma-separated list, trimming blanks.
func SplitCSV(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}
