package config

import (
	"fmt"
	"os"
	"time"

	yaml "gopkg.in/yaml.v3"
)

// FileConfig is the YAML schema. Optional booleans use pointers so a file can
// override a default-true setting with false.
type FileConfig struct {
	Listen  string `yaml:"listen"`
	DBPath  string `yaml:"dbPath"`
	Profile string `yaml:"profile"`
	Verbose *bool  `yaml:"verbose"`

	RateLimit struct {
		Tier     string `yaml:"tier"`
		RPS      int    `yaml:"rps"`
		QueueMax int    `yaml:"queueMax"`
		RetryOn429 *bool `yaml:"retryOn429"`
		RetryMax int    `yaml:"retryMax"`
	} `yaml:"rateLimit"`

	RedactURLs            *bool `yaml:"redactUrls"`
	ExposeSafeContentURLs *bool `yaml:"exposeSafeContentUrls"`
	FailClosed            *bool `yaml:"failClosed"`

	Lists struct {
		Allow              []string `yaml:"allow"`
		Block              []string `yaml:"block"`
		LanguageNamesExtra []string `yaml:"languageNamesExtra"`
	} `yaml:"lists"`

	ResultTTLMinutes int `yaml:"resultTtlMinutes"`
	RetentionDays    int `yaml:"retentionDays"`

	UserAgent string `yaml:"userAgent"`

	Dashboard struct {
		WriteAPI *bool `yaml:"writeApi"`
	} `yaml:"dashboard"`

	Search struct {
		Provider    string `yaml:"provider"`
		BraveAPIKey string `yaml:"braveApiKey"`
		SearxURL    string `yaml:"searxUrl"`
		SearxKey    string `yaml:"searxKey"`
	} `yaml:"search"`

	Renderer struct {
		Backend         string `yaml:"backend"`
		URL             string `yaml:"url"`
		Token           string `yaml:"token"`
		TimeoutMs       int    `yaml:"timeoutMs"`
		WaitUntil       string `yaml:"waitUntil"`
		WaitForSelector string `yaml:"waitForSelector"`
		MaxHTMLBytes    int64  `yaml:"maxHtmlBytes"`
		FallbackToHTTP  *bool  `yaml:"fallbackToHttp"`
		BlockAds        *bool  `yaml:"blockAds"`
	} `yaml:"renderer"`

	Judge struct {
		Enabled   *bool  `yaml:"enabled"`
		BaseURL   string `yaml:"baseUrl"`
		Model     string `yaml:"model"`
		APIKey    string `yaml:"apiKey"`
		TimeoutMs int    `yaml:"timeoutMs"`
	} `yaml:"judge"`
}

// ApplyFile loads the YAML file at path onto cfg. Missing file is an error;
// empty path is a no-op.
func ApplyFile(cfg *Config, path string) error {
	if path == "" {
		return nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	var fc FileConfig
	if err := yaml.Unmarshal(raw, &fc); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}

	setString(&cfg.Listen, fc.Listen)
	setString(&cfg.DBPath, fc.DBPath)
	setString(&cfg.Profile, fc.Profile)
	setBoolPtr(&cfg.Verbose, fc.Verbose)

	setString(&cfg.RateTier, fc.RateLimit.Tier)
	setInt(&cfg.RateRPS, fc.RateLimit.RPS)
	setInt(&cfg.QueueMax, fc.RateLimit.QueueMax)
	setBoolPtr(&cfg.RetryOn429, fc.RateLimit.RetryOn429)
	setInt(&cfg.RetryMax, fc.RateLimit.RetryMax)

	setBoolPtr(&cfg.RedactURLs, fc.RedactURLs)
	setBoolPtr(&cfg.ExposeSafeContentURLs, fc.ExposeSafeContentURLs)
	setBoolPtr(&cfg.FailClosed, fc.FailClosed)

	if len(fc.Lists.Allow) > 0 {
		cfg.Allowlist = fc.Lists.Allow
	}
	if len(fc.Lists.Block) > 0 {
		cfg.Blocklist = fc.Lists.Block
	}
	if len(fc.Lists.LanguageNamesExtra) > 0 {
		cfg.LanguageNameAllowlistExtra = fc.Lists.LanguageNamesExtra
	}

	if fc.ResultTTLMinutes > 0 {
		cfg.ResultTTL = time.Duration(fc.ResultTTLMinutes) * time.Minute
	}
	setInt(&cfg.RetentionDays, fc.RetentionDays)
	setString(&cfg.UserAgent, fc.UserAgent)
	setBoolPtr(&cfg.DashboardWriteAPI, fc.Dashboard.WriteAPI)

	setString(&cfg.Search.Provider, fc.Search.Provider)
	setString(&cfg.Search.BraveAPIKey, fc.Search.BraveAPIKey)
	setString(&cfg.Search.SearxURL, fc.Search.SearxURL)
	setString(&cfg.Search.SearxKey, fc.Search.SearxKey)

	setString(&cfg.Renderer.Backend, fc.Renderer.Backend)
	setString(&cfg.Renderer.URL, fc.Renderer.URL)
	setString(&cfg.Renderer.Token, fc.Renderer.Token)
	if fc.Renderer.TimeoutMs > 0 {
		cfg.Renderer.Timeout = time.Duration(fc.Renderer.TimeoutMs) * time.Millisecond
	}
	setString(&cfg.Renderer.WaitUntil, fc.Renderer.WaitUntil)
	setString(&cfg.Renderer.WaitForSelector, fc.Renderer.WaitForSelector)
	if fc.Renderer.MaxHTMLBytes > 0 {
		cfg.Renderer.MaxHTMLBytes = fc.Renderer.MaxHTMLBytes
	}
	setBoolPtr(&cfg.Renderer.FallbackToHTTP, fc.Renderer.FallbackToHTTP)
	setBoolPtr(&cfg.Renderer.BlockAds, fc.Renderer.BlockAds)

	setBoolPtr(&cfg.Judge.Enabled, fc.Judge.Enabled)
	setString(&cfg.Judge.BaseURL, fc.Judge.BaseURL)
	setString(&cfg.Judge.Model, fc.Judge.Model)
	setString(&cfg.Judge.APIKey, fc.Judge.APIKey)
	if fc.Judge.TimeoutMs > 0 {
		cfg.Judge.Timeout = time.Duration(fc.Judge.TimeoutMs) * time.Millisecond
	}
	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

func setBoolPtr(dst *bool, v *bool) {
	if v != nil {
		*dst = *v
	}
}
