package main

import (
	"os"
	"os/signal"
	"path/filepath"

	"github.com/drillsergeant/coach/internal/channel/cli"
	"github.com/spf13/cobra"
)

func chatCmd() *cobra.Command {
	var userKey, history string

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Talk to the coach in the terminal",
		Long: `Start an interactive conversation with the coach.

Attach proof with "/image <path> [text]" and start over with "/reset".`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			setupLogging(true, cfg)
			if userKey != "" {
				cfg.CLIUserKey = userKey
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			repl := cli.New(a.coach, a.sessions, cfg.CLIUserKey, cfg.Proof.MaxImageBytes)
			repl.SetIO(cmd.InOrStdin(), cmd.OutOrStdout())
			repl.SetHistoryFile(history)
			return repl.Run(ctx)
		},
	}

	cmd.Flags().StringVar(&userKey, "user", "", "user key for this conversation (overrides CLI_USER_KEY)")
	cmd.Flags().StringVar(&history, "history", defaultHistoryFile(), "line history file (empty disables history)")
	return cmd
}

func defaultHistoryFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".coach_history")
}
