package commands

import (
	"fmt"
	"time"
	"solwatch/internal/components/telemetry"
	"solwatch/internal/config"
	"solwatch/internal/dedup"
	"solwatch/internal/lockfile"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var (
	seenDataDir   string
	seenListLimit int
	seenPruneDays int
)

func init() {
	seenCmd.PersistentFlags().StringVar(&seenDataDir, "data-dir", "", "The directory holding the seen set.")
	seenListCmd.Flags().IntVarP(&seenListLimit, "limit", "n", 20, "How many of the most recent ids to list, 0 lists all.")
	seenPruneCmd.Flags().IntVar(&seenPruneDays, "older-than-days", 30, "Forget ids first seen more than this many days ago.")

	seenCmd.AddCommand(seenListCmd, seenCountCmd, seenPruneCmd)
	rootCmd.AddCommand(seenCmd)
}

var seenCmd = &cobra.Command{
	Use:   "seen",
	Short: "Inspects the set of ids that were already notified.",
}

func seenConfig(cmd *cobra.Command) (config.Config, error) {
	return config.Read(configPath, func(c *config.Config) {
		if cmd.Flags().Changed("data-dir") {
			c.DataDir = seenDataDir
		}
	})
}

func withStore(cmd *cobra.Command, fn func(store dedup.Store) error) error {
	cfg, err := seenConfig(cmd)
	if err != nil {
		return err
	}
	clock, err := newClock(cfg)
	if err != nil {
		return err
	}
	store, err := openStore(cmd.Context(), cfg, clock, telemetry.SlogAPI{})
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(store)
}

var seenListCmd = &cobra.Command{
	Use:   "list [-n <limit>]",
	Short: "Lists the most recently seen ids.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd, func(store dedup.Store) error {
			entries, err := store.List(cmd.Context(), seenListLimit)
			if err != nil {
				return err
			}

			t := newTable(cmd.OutOrStdout())
			t.AppendHeader(table.Row{"ID", "First seen"})
			for _, entry := range entries {
				firstSeen := "unknown"
				if !entry.FirstSeen.IsZero() {
					firstSeen = entry.FirstSeen.Format(time.ANSIC)
				}
				t.AppendRow(table.Row{entry.ID, firstSeen})
			}
			t.AppendFooter(table.Row{"Total", store.Len()})
			t.Render()
			return nil
		})
	},
}

var seenCountCmd = &cobra.Command{
	Use:   "count",
	Short: "Prints how many ids were seen.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd, func(store dedup.Store) error {
			fmt.Fprintln(cmd.OutOrStdout(), store.Len())
			return nil
		})
	},
}

var seenPruneCmd = &cobra.Command{
	Use:   "prune [--older-than-days <days>]",
	Short: "Forgets old ids, they will be notified again if they show up.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := seenConfig(cmd)
		if err != nil {
			return err
		}
		// pruning rewrites the set under a running monitor otherwise
		lock, err := lockfile.Acquire(cfg.DataDir)
		if err != nil {
			return err
		}
		defer lock.Release()

		return withStore(cmd, func(store dedup.Store) error {
			cutoff := time.Now().Add(-time.Duration(seenPruneDays) * 24 * time.Hour)
			pruned, err := store.Prune(cmd.Context(), cutoff)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "pruned %d ids first seen before %s, %d remain\n", pruned, cutoff.Format(time.ANSIC), store.Len())
			return nil
		})
	},
}
