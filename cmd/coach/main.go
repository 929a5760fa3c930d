// Coach - proof-gated habit tracking assistant.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/drillsergeant/coach/internal/config"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	dbPath string
	debug  bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "coach",
		Short:         "Drill-sergeant habit coach with photo-verified completions",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "database path (overrides DB_PATH)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(chatCmd())
	rootCmd.AddCommand(habitsCmd())

	if err := rootCmd.Execute(); err != nil {
		slog.Error("Command failed", "error", err)
		os.Exit(1)
	}
}

// setupLogging installs the default logger. The server logs JSON to stdout;
// interactive commands keep stdout for the conversation and log to stderr.
func setupLogging(interactive bool, cfg *config.Config) {
	level := slog.LevelInfo
	if interactive {
		level = slog.LevelWarn
	}
	if debug || (cfg != nil && cfg.Debug) {
		level = slog.LevelDebug
	}

	var handler slog.Handler
	if interactive {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	}
	slog.SetDefault(slog.New(handler))
}

// loadConfig reads .env and the environment, then applies flag overrides.
func loadConfig() (*config.Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}
	if dbPath != "" {
		cfg.DBPath = dbPath
	}
	return cfg, nil
}
