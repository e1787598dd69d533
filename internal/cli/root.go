// Package cli wires configuration, adapters, enrichment and the
// coordinator into the roundup command tree.
package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ballardtrucks/roundup/internal/adapter"
	"github.com/ballardtrucks/roundup/internal/adapter/api"
	"github.com/ballardtrucks/roundup/internal/adapter/headless"
	"github.com/ballardtrucks/roundup/internal/adapter/html"
	"github.com/ballardtrucks/roundup/internal/adapter/sheet"
	"github.com/ballardtrucks/roundup/internal/config"
	"github.com/ballardtrucks/roundup/internal/enrich"
	"github.com/ballardtrucks/roundup/internal/logging"
	"github.com/ballardtrucks/roundup/internal/progress"
	"github.com/ballardtrucks/roundup/internal/progress/sinks"
	"github.com/ballardtrucks/roundup/internal/retry"
	"github.com/ballardtrucks/roundup/internal/scrape"
)

var (
	cfgFile  string
	exitCode int
)

var rootCmd = &cobra.Command{
	Use:           "roundup",
	Short:         "Aggregate vendor schedules from unreliable sources",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML)")
	rootCmd.AddCommand(scrapeCmd)
	rootCmd.AddCommand(serveCmd)
}

// Execute runs the command tree and returns the process exit code: the
// run status code for scrape (0 full, 2 partial, 1 total failure), or 1
// on any command error.
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return 1
	}
	return exitCode
}

// app bundles everything a command needs after bootstrap.
type app struct {
	cfg         config.Config
	logger      *zap.Logger
	registry    *prometheus.Registry
	coordinator *scrape.Coordinator
	cleanup     func()
}

// buildApp loads configuration and assembles the adapter registry,
// enrichment resolver, progress sinks and coordinator.
func buildApp(headlessEnabled bool) (*app, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, err
	}

	var resolver enrich.NameResolver = enrich.Noop{}
	if cfg.Vision.Enabled {
		resolver = enrich.NewVision(enrich.VisionConfig{
			APIKey:     cfg.Vision.APIKey,
			Model:      cfg.Vision.Model,
			Timeout:    time.Duration(cfg.Vision.TimeoutSeconds) * time.Second,
			MaxRetries: cfg.Vision.MaxRetries,
		}, logger)
	}

	var renderer headless.Renderer = headless.NewNoop()
	cleanup := func() { _ = logger.Sync() }
	if headlessEnabled {
		chrome, err := headless.NewChromedp(headless.Config{
			MaxParallel:       cfg.Scraper.MaxConcurrent,
			UserAgent:         cfg.Scraper.UserAgent,
			NavigationTimeout: cfg.SourceTimeout(),
		})
		if err != nil {
			return nil, fmt.Errorf("start headless renderer: %w", err)
		}
		renderer = chrome
		cleanup = func() {
			chrome.Close()
			_ = logger.Sync()
		}
	}

	fetch := html.Config{UserAgent: cfg.Scraper.UserAgent, Timeout: cfg.SourceTimeout()}
	registry := adapter.NewRegistry()
	registry.Register("html", html.New(fetch, renderer, resolver, logger))
	registry.Register("api", api.New(api.Config{
		UserAgent: cfg.Scraper.UserAgent,
		Timeout:   cfg.SourceTimeout(),
	}, resolver, logger))
	registry.Register("sheet", sheet.New(sheet.Config{
		UserAgent: cfg.Scraper.UserAgent,
		Timeout:   cfg.SourceTimeout(),
	}, logger))

	promRegistry := prometheus.NewRegistry()
	promSink, err := sinks.NewPrometheusSink(promRegistry)
	if err != nil {
		cleanup()
		return nil, err
	}
	emitter := progress.NewFanout(sinks.NewLogSink(logger), promSink)

	coordinator := scrape.New(registry, scrape.Config{
		MaxConcurrent: cfg.Scraper.MaxConcurrent,
		SourceTimeout: cfg.SourceTimeout(),
		Retry: retry.Config{
			MaxAttempts: cfg.Scraper.MaxAttempts,
			BackoffBase: cfg.Scraper.BackoffBase,
			BackoffUnit: time.Second,
		},
	}, emitter, logger)

	return &app{
		cfg:         cfg,
		logger:      logger,
		registry:    promRegistry,
		coordinator: coordinator,
		cleanup:     cleanup,
	}, nil
}
