package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/mdbmcp/internal/telemetry"
)

func newEventsCmd(opts *rootOptions) *cobra.Command {
	var clearCache bool

	cmd := &cobra.Command{
		Use:   "events",
		Short: "Show events waiting in the durable event cache",
		Long: `Print the events held in the SQLite event cache as JSON.

Examples:
  # Show cached events
  mdbmcp events

  # Delete cached events without sending them
  mdbmcp events --clear`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}

			cache, err := telemetry.OpenSQLiteCache(cfg.Events.CachePath, cfg.Events.CacheCapacity)
			if err != nil {
				return err
			}
			defer cache.Close()

			ctx := cmd.Context()
			if clearCache {
				n, err := cache.Len(ctx)
				if err != nil {
					return err
				}
				if err := cache.ClearEvents(ctx); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Cleared %d events\n", n)
				return nil
			}

			events, err := cache.GetEvents(ctx)
			if err != nil {
				return err
			}
			if events == nil {
				events = []telemetry.Event{}
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(events)
		},
	}

	cmd.Flags().BoolVar(&clearCache, "clear", false, "delete cached events")
	return cmd
}
