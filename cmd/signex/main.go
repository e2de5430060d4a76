package main

import (
	"errors"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kalambet/signex/internal/config"
	"github.com/kalambet/signex/internal/watch"
)

var version = "dev"

var (
	noColor  bool
	rootFlag string
	jsonOut  bool
)

// exitNotFound is returned when a named watch does not exist.
const exitNotFound = 2

var rootCmd = &cobra.Command{
	Use:           "signex",
	Short:         "Watch topics across many sources and write reports and alerts",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", os.Getenv("NO_COLOR") != "", "disable colored output")
	rootCmd.PersistentFlags().StringVar(&rootFlag, "root", "", "workspace root (overrides workspace.root)")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "print machine-readable JSON")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(hiCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(watchesCmd)
	rootCmd.AddCommand(sensorsCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(statusCmd)
}

func main() {
	os.Exit(execute(os.Args[1:]))
}

func execute(args []string) int {
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	if err == nil {
		return 0
	}
	printError("%v", err)
	if errors.Is(err, watch.ErrNotFound) {
		return exitNotFound
	}
	return 1
}

// loadConfig reads configuration, applies --root and installs the
// default logger.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, err
	}
	if rootFlag != "" {
		cfg.Workspace.Root = rootFlag
	}
	setupLogging(cfg.Log.Level)
	return cfg, nil
}

func setupLogging(level string) {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))
}
