package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/qetzal/snapcourier/internal/config"
	"github.com/qetzal/snapcourier/internal/session"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List recorded capture sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		dataDir, _ := cmd.Flags().GetString("data-dir")

		if dataDir == "" {
			// Prefer the configured data dir; sessions should still be
			// listable when the config has no webhook URL yet.
			if cfg, err := config.Load(configPath); err == nil {
				dataDir = cfg.DataDir
			} else {
				dataDir = config.DefaultDataDir()
			}
		}

		store, err := session.Open(dataDir)
		if err != nil {
			return fmt.Errorf("opening session store: %w", err)
		}
		defer store.Close()

		sessions, err := store.ListSessions(limit)
		if err != nil {
			return err
		}

		if len(sessions) == 0 {
			fmt.Println("No sessions recorded.")
			return nil
		}

		for _, st := range sessions {
			fmt.Printf("%s  %s  %s  attempted=%d delivered=%d failed=%d archived=%d\n",
				colorize(colorCyan, st.ID),
				st.StartedAt.Format(time.RFC3339),
				sessionDuration(st),
				st.Attempted, st.Delivered, st.Failed, st.Archived,
			)
		}
		return nil
	},
}

func sessionDuration(st session.State) string {
	if st.EndedAt.IsZero() {
		return "interrupted"
	}
	return st.EndedAt.Sub(st.StartedAt).Round(time.Second).String()
}

func init() {
	sessionsCmd.Flags().Int("limit", 20, "maximum number of sessions to list")
	sessionsCmd.Flags().String("data-dir", "", "session store directory (default: configured data dir)")
}
