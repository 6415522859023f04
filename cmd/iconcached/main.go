// Command iconcached runs a headless icon cache: it resolves icons from
// the configured theme directories, keeps the disk tier and usage
// statistics warm, preloads frequently used icons at startup and serves
// the admin API.
package main

import (
	"context"
	"flag"
	"fmt"
	"image"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/objectfs/iconcache/internal/config"
	"github.com/objectfs/iconcache/internal/metrics"
	"github.com/objectfs/iconcache/internal/resolver"
	"github.com/objectfs/iconcache/pkg/api"
	"github.com/objectfs/iconcache/pkg/health"
	"github.com/objectfs/iconcache/pkg/iconcache"
	"github.com/objectfs/iconcache/pkg/types"
	"github.com/objectfs/iconcache/pkg/utils"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "iconcached: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configFile  = flag.String("config", "", "path to a YAML configuration file")
		writeConfig = flag.String("write-config", "", "write the effective configuration to this file and exit")
		preloadList = flag.String("preload", "", "comma-separated icon names to preload at startup")
		logLevel    = flag.String("log-level", "", "override the configured log level")
	)
	flag.Parse()

	cfg := config.NewDefault()
	if *configFile != "" {
		if err := cfg.LoadFromFile(*configFile); err != nil {
			return err
		}
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return err
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	if *writeConfig != "" {
		return cfg.SaveToFile(*writeConfig)
	}

	logger, logCloser, err := setupLogging(cfg)
	if err != nil {
		return err
	}
	defer logCloser.Close()

	var collector *metrics.Collector
	if cfg.Metrics.Enabled {
		collector, err = metrics.NewCollector(&metrics.Config{
			Enabled:   true,
			Path:      "/metrics",
			Namespace: cfg.Metrics.Namespace,
			Labels:    cfg.Metrics.CustomLabels,
		})
		if err != nil {
			return err
		}
	}

	res := resolver.NewFromDirs(cfg.Themes.Directories, resolver.Options{Logger: logger})

	opts, err := iconcache.OptionsFromConfig(cfg)
	if err != nil {
		return err
	}
	opts.Resolver = res
	opts.Metrics = collector
	opts.Logger = logger

	provider, err := iconcache.New(opts)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	tracker := provider.HealthTracker()
	tracker.AddStateChangeCallback(health.StateUnavailable, func(component string, oldState, newState health.HealthState, err error) {
		logger.WithFields(logrus.Fields{
			"component": component,
			"from":      oldState.String(),
		}).WithError(err).Error("Component unavailable")
	})
	go tracker.StartHealthChecks(ctx, provider.CheckComponent)

	if names := splitNames(*preloadList); len(names) > 0 {
		if _, err := provider.PreloadIcons(names, image.Point{}, types.StateNormal); err != nil {
			logger.WithError(err).Warn("Startup preload not started")
		}
	}

	var server *api.Server
	if cfg.API.Enabled {
		apiConfig := api.DefaultServerConfig()
		apiConfig.Address = cfg.API.Address
		server = api.NewServer(apiConfig, provider, collector, logger)
		server.StartBackground()
	}

	logger.Info("iconcached running")
	<-ctx.Done()
	logger.Info("Shutting down")

	shutdownCtx, done := context.WithTimeout(context.Background(), shutdownTimeout)
	defer done()

	if server != nil {
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Warn("API server shutdown failed")
		}
	}
	if err := provider.Close(shutdownCtx); err != nil {
		logger.WithError(err).Warn("Provider shutdown incomplete")
	}
	logger.WithField("stats", provider.Stats().String()).Info("Final cache statistics")
	return nil
}

func setupLogging(cfg *config.Configuration) (*logrus.Logger, io.Closer, error) {
	var maxSize int64
	if cfg.Logging.MaxSize != "" {
		n, err := utils.ParseBytes(cfg.Logging.MaxSize)
		if err != nil {
			return nil, nil, fmt.Errorf("logging.max_size: %w", err)
		}
		maxSize = n
	}
	return utils.SetupLogging(utils.LogOptions{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		File:       cfg.Logging.File,
		MaxSize:    maxSize,
		MaxBackups: cfg.Logging.MaxBackups,
	})
}

func splitNames(s string) []string {
	var names []string
	for _, n := range strings.Split(s, ",") {
		if n = strings.TrimSpace(n); n != "" {
			names = append(names, n)
		}
	}
	return names
}
