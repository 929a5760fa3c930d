package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/drillsergeant/coach/internal/domain"
	"github.com/drillsergeant/coach/internal/orchestrator"
	"github.com/spf13/cobra"
)

func habitsCmd() *cobra.Command {
	var (
		date   string
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "habits",
		Short: "Print today's habit status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			setupLogging(true, cfg)

			if date == "" {
				date = domain.DayOf(time.Now(), cfg.Timezone)
			} else if _, err := time.Parse(domain.DateLayout, date); err != nil {
				return fmt.Errorf("invalid --date %q, want YYYY-MM-DD", date)
			}

			habits, err := openStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer habits.Close()

			statuses, err := habits.TodayStatus(cmd.Context(), date)
			if err != nil {
				return fmt.Errorf("load status: %w", err)
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(map[string]interface{}{"date": date, "habits": statuses})
			}
			fmt.Fprintf(out, "%s\n%s\n", date, orchestrator.StatusReply(statuses))
			return nil
		},
	}

	cmd.Flags().StringVar(&date, "date", "", "day to report (YYYY-MM-DD, default today)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}
