package config

import (
	"fmt"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/cobra"
)

// Config captures all command-line options required to run the splitter.
type Config struct {
	InputDir      string
	OutputDir     string
	WorkspaceDir  string
	Workers       int
	KeepWorkspace bool
	SkipAvatars   bool
	Offline       bool
	LogLevel      string
	LogDir        string
}

// RegisterFlags attaches all CLI flags to the provided command.
func RegisterFlags(cmd *cobra.Command) error {
	flags := cmd.Flags()
	flags.String("input", "input", "Directory containing the export zip archives")
	flags.String("output", "output", "Directory for the day-partitioned archive")
	flags.String("workspace", "_tmp_extract", "Scratch directory for extracted archive contents")
	flags.Int("workers", runtime.NumCPU(), "Worker pool size for extraction and output assembly")
	flags.Bool("keep-workspace", false, "Keep the scratch workspace after a successful run")
	flags.Bool("skip-avatars", false, "Skip avatar generation entirely")
	flags.Bool("offline", false, "Generate placeholder avatars without contacting the network")
	flags.String("log-level", "info", "Logging level: debug, info, warn, error")
	flags.String("log-dir", "", "Directory for log files (empty: stdout only)")

	return nil
}

// LoadConfig converts the parsed Cobra flags into a Config struct with validation.
func LoadConfig(cmd *cobra.Command) (Config, error) {
	flags := cmd.Flags()

	inputDir, err := flags.GetString("input")
	if err != nil {
		return Config{}, err
	}
	outputDir, err := flags.GetString("output")
	if err != nil {
		return Config{}, err
	}
	workspaceDir, err := flags.GetString("workspace")
	if err != nil {
		return Config{}, err
	}
	workers, err := flags.GetInt("workers")
	if err != nil {
		return Config{}, err
	}
	keepWorkspace, err := flags.GetBool("keep-workspace")
	if err != nil {
		return Config{}, err
	}
	skipAvatars, err := flags.GetBool("skip-avatars")
	if err != nil {
		return Config{}, err
	}
	offline, err := flags.GetBool("offline")
	if err != nil {
		return Config{}, err
	}
	logLevel, err := flags.GetString("log-level")
	if err != nil {
		return Config{}, err
	}
	logDir, err := flags.GetString("log-dir")
	if err != nil {
		return Config{}, err
	}

	logLevel = strings.ToLower(logLevel)
	if logLevel == "warning" {
		logLevel = "warn"
	}

	cfg := Config{
		InputDir:      filepath.Clean(inputDir),
		OutputDir:     filepath.Clean(outputDir),
		WorkspaceDir:  filepath.Clean(workspaceDir),
		Workers:       workers,
		KeepWorkspace: keepWorkspace,
		SkipAvatars:   skipAvatars,
		Offline:       offline,
		LogLevel:      logLevel,
		LogDir:        logDir,
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func validateConfig(cfg Config) error {
	if cfg.InputDir == "" {
		return fmt.Errorf("--input is required")
	}
	if cfg.OutputDir == "" {
		return fmt.Errorf("--output is required")
	}
	if cfg.WorkspaceDir == "" {
		return fmt.Errorf("--workspace is required")
	}
	if cfg.WorkspaceDir == cfg.InputDir || cfg.WorkspaceDir == cfg.OutputDir {
		return fmt.Errorf("--workspace must not overlap --input or --output")
	}
	if cfg.Workers <= 0 {
		return fmt.Errorf("--workers must be positive")
	}

	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid --log-level: %s", cfg.LogLevel)
	}

	return nil
}
