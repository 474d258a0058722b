package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/teilen/snap-to-days/archive"
	"github.com/teilen/snap-to-days/assemble"
	"github.com/teilen/snap-to-days/avatar"
	"github.com/teilen/snap-to-days/config"
	"github.com/teilen/snap-to-days/correlate"
	"github.com/teilen/snap-to-days/history"
	"github.com/teilen/snap-to-days/media"
	"github.com/teilen/snap-to-days/model"
	"github.com/teilen/snap-to-days/progress"
	"github.com/teilen/snap-to-days/runner"
	"github.com/teilen/snap-to-days/stats"
)

var rootCmd = &cobra.Command{
	Use:   "snap-to-days",
	Short: "Rebuild a browsable day-partitioned archive from a Snapchat data export",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadConfig(cmd)
		if err != nil {
			return err
		}

		logger, cleanup, err := setupLogger(cfg)
		if err != nil {
			return err
		}
		defer func() {
			_ = cleanup()
		}()

		slog.SetDefault(logger)
		logger.Info("starting snap-to-days", "input", cfg.InputDir, "output", cfg.OutputDir, "workers", cfg.Workers)

		return run(cfg, logger)
	},
}

// Execute runs the CLI.
func Execute() {
	if err := config.RegisterFlags(rootCmd); err != nil {
		fmt.Fprintf(os.Stderr, "failed to register CLI flags: %v\n", err)
		os.Exit(1)
	}

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	r := runner.New(cfg, logger)
	reporter := stats.NewReporter(r, logger)
	renderer := progress.New(cfg.LogLevel)
	r.SubscribeStats("progress", renderer.Subscriber)

	jsonDir := filepath.Join(cfg.WorkspaceDir, "json")
	mediaDir := filepath.Join(cfg.WorkspaceDir, "chat_media")

	var (
		store        *model.Store
		displayNames map[string]string
		inv          *media.Inventory
		avatarPaths  map[string]string
	)

	r.AddPhase("extract", func(ctx context.Context) error {
		if err := os.RemoveAll(cfg.WorkspaceDir); err != nil {
			return fmt.Errorf("clear workspace: %w", err)
		}
		archives, err := archive.ListArchives(cfg.InputDir)
		if err != nil {
			return err
		}
		ex, err := archive.NewExtractor(archive.Options{
			Workspace: cfg.WorkspaceDir,
			Workers:   cfg.Workers,
		}, logger, r.EmitEvent)
		if err != nil {
			return err
		}
		return ex.ExtractAll(ctx, archives)
	})

	r.AddPhase("history", func(ctx context.Context) error {
		var err error
		store, displayNames, err = history.NewBuilder(logger, r.EmitEvent).Load(jsonDir)
		return err
	})

	r.AddPhase("media", func(ctx context.Context) error {
		var err error
		inv, err = media.Scan(mediaDir, logger, r.EmitEvent)
		return err
	})

	r.AddPhase("correlate", func(ctx context.Context) error {
		correlate.New(store, inv, logger, r.EmitEvent).Run()
		return nil
	})

	r.AddPhase("assemble", func(ctx context.Context) error {
		asm, err := assemble.New(assemble.Options{
			OutputDir: cfg.OutputDir,
			Workers:   cfg.Workers,
		}, logger, r.EmitEvent)
		if err != nil {
			return err
		}
		_, err = asm.Run(ctx, store, inv)
		return err
	})

	r.AddPhase("index", func(ctx context.Context) error {
		if !cfg.SkipAvatars {
			provider := avatar.NewProvider(avatar.Options{Offline: cfg.Offline}, logger, r.EmitEvent)
			var err error
			avatarPaths, err = provider.Generate(ctx, store.SortedUsernames(), cfg.OutputDir)
			if err != nil {
				return err
			}
		}
		return assemble.WriteIndex(cfg.OutputDir, store, displayNames, avatarPaths)
	})

	if err := r.Start(); err != nil {
		return err
	}

	if !cfg.KeepWorkspace {
		if err := os.RemoveAll(cfg.WorkspaceDir); err != nil {
			logger.Warn("could not remove workspace", "dir", cfg.WorkspaceDir, "err", err)
		}
	}

	progress.PrintSummary(reporter.Summary(), store.Owner)
	return nil
}

func setupLogger(cfg config.Config) (*slog.Logger, func() error, error) {
	level := new(slog.LevelVar)
	level.Set(slog.LevelInfo)

	switch cfg.LogLevel {
	case "debug":
		level.Set(slog.LevelDebug)
	case "info":
		level.Set(slog.LevelInfo)
	case "warn":
		level.Set(slog.LevelWarn)
	case "error":
		level.Set(slog.LevelError)
	}

	opts := &slog.HandlerOptions{Level: level}
	cleanup := func() error { return nil }

	if cfg.LogDir != "" {
		if err := os.MkdirAll(cfg.LogDir, 0o755); err != nil {
			return nil, cleanup, err
		}

		logFilePath := filepath.Join(cfg.LogDir, fmt.Sprintf("snap-to-days-%s.log", time.Now().Format("20060102T150405")))
		file, err := os.OpenFile(logFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, cleanup, err
		}

		handler := slog.NewTextHandler(io.MultiWriter(os.Stdout, file), opts)
		cleanup = func() error {
			return file.Close()
		}
		return slog.New(handler), cleanup, nil
	}

	handler := slog.NewTextHandler(os.Stdout, opts)
	return slog.New(handler), cleanup, nil
}
