package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// ApplyEnv overrides cfg fields from environment variables when set. Env sits
// between the config file and flags in precedence.
func ApplyEnv(cfg *Config) {
	envString(&cfg.Listen, "CLAW_LISTEN")
	envString(&cfg.DBPath, "CLAW_DB_PATH")
	envString(&cfg.Profile, "CLAW_PROFILE")
	envBool(&cfg.Verbose, "CLAW_VERBOSE")

	envString(&cfg.RateTier, "CLAW_RATE_TIER")
	envInt(&cfg.RateRPS, "CLAW_RATE_RPS")
	envInt(&cfg.QueueMax, "CLAW_QUEUE_MAX")
	envBool(&cfg.RetryOn429, "CLAW_RETRY_ON_429")
	envInt(&cfg.RetryMax, "CLAW_RETRY_MAX")

	envBool(&cfg.RedactURLs, "CLAW_REDACT_URLS")
	envBool(&cfg.ExposeSafeContentURLs, "CLAW_EXPOSE_SAFE_CONTENT_URLS")
	envBool(&cfg.FailClosed, "CLAW_FAIL_CLOSED")

	envCSV(&cfg.Allowlist, "CLAW_ALLOWLIST")
	envCSV(&cfg.Blocklist, "CLAW_BLOCKLIST")
	envCSV(&cfg.LanguageNameAllowlistExtra, "CLAW_LANGUAGE_NAMES_EXTRA")

	if v := os.Getenv("CLAW_RESULT_TTL_MINUTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.ResultTTL = time.Duration(n) * time.Minute
		}
	}
	envInt(&cfg.RetentionDays, "CLAW_RETENTION_DAYS")
	envString(&cfg.UserAgent, "CLAW_USER_AGENT")
	envBool(&cfg.DashboardWriteAPI, "CLAW_DASHBOARD_WRITE_API")

	envString(&cfg.Search.Provider, "CLAW_SEARCH_PROVIDER")
	envString(&cfg.Search.BraveAPIKey, "BRAVE_API_KEY")
	envString(&cfg.Search.SearxURL, "SEARX_URL")
	envString(&cfg.Search.SearxKey, "SEARX_KEY")

	envString(&cfg.Renderer.Backend, "CLAW_RENDERER_BACKEND")
	envString(&cfg.Renderer.URL, "CLAW_RENDERER_URL")
	envString(&cfg.Renderer.Token, "CLAW_RENDERER_TOKEN")
	if v := os.Getenv("CLAW_RENDERER_TIMEOUT_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Renderer.Timeout = time.Duration(n) * time.Millisecond
		}
	}
	envBool(&cfg.Renderer.FallbackToHTTP, "CLAW_RENDERER_FALLBACK_TO_HTTP")
	envBool(&cfg.Renderer.BlockAds, "CLAW_RENDERER_BLOCK_ADS")

	envBool(&cfg.Judge.Enabled, "CLAW_JUDGE_ENABLED")
	envString(&cfg.Judge.BaseURL, "LLM_BASE_URL")
	envString(&cfg.Judge.Model, "LLM_MODEL")
	envString(&cfg.Judge.APIKey, "LLM_API_KEY")
}

func envString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envBool(dst *bool, key string) {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch v {
	case "1", "true", "yes", "on":
		*dst = true
	case "0", "false", "no", "off":
		*dst = false
	}
}

func envCSV(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = SplitCSV(v)
	}
}
