package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/waffleophagus/claw-rubber/internal/config"
	"github.com/waffleophagus/claw-rubber/internal/fetch"
	"github.com/waffleophagus/claw-rubber/internal/judge"
	"github.com/waffleophagus/claw-rubber/internal/pipeline"
	"github.com/waffleophagus/claw-rubber/internal/score"
	"github.com/waffleophagus/claw-rubber/internal/search"
	"github.com/waffleophagus/claw-rubber/internal/server"
	"github.com/waffleophagus/claw-rubber/internal/store"
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	var (
		configPath string
		listen     string
		dbPath     string
		profile    string
		verbose    bool
	)
	flag.StringVar(&configPath, "config", os.Getenv("CLAW_CONFIG"), "Path to YAML config file")
	flag.StringVar(&listen, "listen", "", "Listen address, e.g. :8080")
	flag.StringVar(&dbPath, "db", "", "SQLite database path")
	flag.StringVar(&profile, "profile", "", "Safety profile: baseline, strict, or paranoid")
	flag.BoolVar(&verbose, "v", false, "Verbose logging")
	flag.Parse()

	cfg := config.Default()
	if err := config.ApplyFile(&cfg, configPath); err != nil {
		log.Fatal().Err(err).Msg("load config file")
	}
	config.ApplyEnv(&cfg)
	// Flags are highest precedence.
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "listen":
			cfg.Listen = listen
		case "db":
			cfg.DBPath = dbPath
		case "profile":
			cfg.Profile = profile
		case "v":
			cfg.Verbose = verbose
		}
	})
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	if cfg.Verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	if err := run(cfg); err != nil {
		log.Fatal().Err(err).Msg("server exited")
	}
}

func run(cfg config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(cfg.DBPath, log.With().Str("component", "store").Logger())
	if err != nil {
		return err
	}
	defer st.Close()
	st.StartRetentionSweep(ctx, cfg.SweepInterval, cfg.RetentionDays)

	settings := cfg.ProfileSettings()

	var renderer *fetch.Renderer
	if cfg.Renderer.Backend != "none" {
		renderer = &fetch.Renderer{
			BaseURL:         cfg.Renderer.URL,
			Token:           cfg.Renderer.Token,
			Timeout:         cfg.Renderer.Timeout,
			WaitUntil:       cfg.Renderer.WaitUntil,
			WaitForSelector: cfg.Renderer.WaitForSelector,
			BlockAds:        cfg.Renderer.BlockAds,
			MaxHTMLBytes:    cfg.Renderer.MaxHTMLBytes,
			UserAgent:       cfg.UserAgent,
		}
	}
	fetcher := &fetch.Client{
		UserAgent:      cfg.UserAgent,
		Timeout:        settings.FetchTimeout,
		MaxRedirects:   settings.MaxRedirects,
		MaxFetchBytes:  settings.MaxFetchBytes,
		Guard:          &fetch.Guard{},
		Renderer:       renderer,
		FallbackToHTTP: cfg.Renderer.FallbackToHTTP,
		Log:            log.With().Str("component", "fetch").Logger(),
	}

	var adjudicator pipeline.Judge
	if cfg.Judge.Enabled {
		adjudicator = judge.New(cfg.Judge.BaseURL, cfg.Judge.APIKey, cfg.Judge.Model,
			cfg.Judge.Timeout, log.With().Str("component", "judge").Logger())
	}

	pl := &pipeline.Pipeline{
		Store:           st,
		Fetcher:         fetcher,
		Scorer:          score.NewScorer(cfg.LanguageNameAllowlistExtra),
		Judge:           adjudicator,
		Settings:        settings,
		FailClosed:      cfg.FailClosed,
		StaticAllowlist: cfg.Allowlist,
		StaticBlocklist: cfg.Blocklist,
		Log:             log.With().Str("component", "pipeline").Logger(),
	}

	var provider search.Provider
	switch cfg.Search.Provider {
	case "searxng":
		provider = &search.SearxNG{BaseURL: cfg.Search.SearxURL, APIKey: cfg.Search.SearxKey, UserAgent: cfg.UserAgent}
	default:
		provider = &search.Brave{APIKey: cfg.Search.BraveAPIKey, UserAgent: cfg.UserAgent}
	}
	client := search.NewClient(provider, cfg.RetryOn429, cfg.RetryMax,
		log.With().Str("component", "search").Logger())

	rps := cfg.RateRPS
	if rps <= 0 {
		rps = search.RPSForTier(cfg.RateTier)
	}
	queue := search.NewQueue(rps, cfg.QueueMax)
	defer queue.Close()

	srv := server.New(cfg, st, pl, queue, client, log.With().Str("component", "http").Logger())
	httpServer := &http.Server{
		Addr:              cfg.Listen,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().
			Str("listen", cfg.Listen).
			Str("profile", cfg.Profile).
			Str("provider", cfg.Search.Provider).
			Msg("claw-rubber listening")
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	log.Info().Msg("shutting down")
	return httpServer.Shutdown(shutdownCtx)
}
