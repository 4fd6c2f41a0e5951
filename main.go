package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	_ "go.uber.org/automaxprocs"
)

func main() {
	var debug = flag.Bool("debug", false, "enable debug logging (overrides LOG_LEVEL)")
	flag.Parse()

	// automaxprocs sets GOMAXPROCS from the container CPU limit; it rounds
	// down (1.5 cores -> GOMAXPROCS=1), which is correct for the Go
	// scheduler.
	maxProcs := runtime.GOMAXPROCS(0)

	cfg, err := LoadConfig(nil)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	if *debug {
		cfg.LogLevel = "debug"
	}

	logger := newLogger(cfg)
	logger.Info().Int("gomaxprocs", maxProcs).Msg("starting entropygen")
	cfg.Print()
	cfg.LogConfig(logger)

	pipeline, err := NewPipeline(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize pipeline")
	}

	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		if err := serveMetrics(cfg.MetricsAddr); err != nil {
			logger.Error().Err(err).Msg("metrics server exited")
		}
	}()

	done := make(chan struct{})
	go func() {
		defer close(done)
		pipeline.Run(ctx)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	logger.Info().Msg("shutdown signal received, draining pipeline")
	cancel()

	select {
	case <-done:
	case <-time.After(15 * time.Second):
		logger.Warn().Msg("pipeline did not stop within grace period, shutting down anyway")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	pipeline.Shutdown(shutdownCtx)

	logger.Info().Msg("entropygen stopped")
}

// newLogger builds the process-wide structured logger per cfg.LogLevel
// and cfg.LogFormat.
func newLogger(cfg *Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.LogFormat == "pretty" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
			With().Timestamp().Str("service", "entropygen").Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Str("service", "entropygen").Logger()
}
