// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Command mvbrr runs the channel file relocator service: an HTTP API that
// accepts rename jobs, scans a source channel for the requested files and
// moves them to a destination channel under new names.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/autobrr/mvbrr/internal/api"
	"github.com/autobrr/mvbrr/internal/config"
	"github.com/autobrr/mvbrr/internal/domain"
	"github.com/autobrr/mvbrr/internal/jobs"
	"github.com/autobrr/mvbrr/internal/metrics"
	"github.com/autobrr/mvbrr/internal/telegram"
)

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	var configDir string

	rootCmd := &cobra.Command{
		Use:   "mvbrr",
		Short: "Relocate and rename files between content channels",
	}
	rootCmd.PersistentFlags().StringVar(&configDir, "config-dir", "", "path to the directory holding config.toml")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(configDir)
		},
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("mvbrr %s (commit %s, built %s)\n", version, commit, date)
		},
	}

	rootCmd.AddCommand(serveCmd, versionCmd)

	// Default to serving when no subcommand is given.
	rootCmd.RunE = serveCmd.RunE

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "mvbrr: %v\n", err)
		os.Exit(1)
	}
}

func serve(configDir string) error {
	cfg, err := config.New(configDir, version)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	setupLogger(cfg.Config)

	log.Info().
		Str("version", version).
		Str("commit", commit).
		Str("adapter", cfg.Config.Adapter).
		Msg("starting mvbrr")

	m := metrics.New()
	registry := jobs.NewRegistry()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runner, err := jobs.NewRunner(jobs.RunnerConfig{
		NewClient: func(ctx context.Context) (telegram.Client, error) {
			return telegram.NewClient(ctx, cfg.Config.Adapter, cfg.Config.AdapterSettings)
		},
		Metrics:         m,
		Pacing:          time.Duration(cfg.Config.ItemPacingSec) * time.Second,
		PageSize:        cfg.Config.PageSize,
		PageDelay:       time.Duration(cfg.Config.PageDelayMs) * time.Millisecond,
		ChunkSize:       cfg.Config.ChunkSizeKiB << 10,
		MemoryThreshold: int64(cfg.Config.MemoryThresholdMiB) << 20,
		SpoolDir:        cfg.Config.SpoolDir,
	})
	if err != nil {
		return fmt.Errorf("building runner: %w", err)
	}

	srv := api.NewServer(ctx, cfg.Config, registry, runner, m)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.ListenAndServe(gctx)
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("server exited: %w", err)
	}
	log.Info().Msg("shutdown complete")
	return nil
}

func setupLogger(cfg *domain.Config) {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.LogPath != "" {
		f, err := os.OpenFile(cfg.LogPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err == nil {
			log.Logger = zerolog.New(f).With().Timestamp().Logger()
			return
		}
		log.Error().Err(err).Str("path", cfg.LogPath).Msg("falling back to stderr logging")
	}

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
}
