package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/railquery-data/internal/common/db"
	"github.com/railquery-data/internal/common/maintenance"
)

var snapshotsCmd = &cobra.Command{
	Use:   "snapshots",
	Short: "List rail snapshots, newest first",
	Args:  cobra.NoArgs,
	RunE:  listSnapshots,
}

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Drop superseded rail snapshots beyond the retention count",
	Args:  cobra.NoArgs,
	RunE:  cleanupSnapshots,
}

var keep int

func init() {
	cleanupCmd.Flags().IntVarP(&keep, "keep", "k", -1, "Inactive snapshots to keep (default RAIL_KEEP_SNAPSHOTS)")
}

func listSnapshots(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	registry := db.NewSnapshotRegistry(database)
	if err := registry.EnsureSchema(ctx); err != nil {
		return err
	}
	snapshots, err := registry.ListSnapshots(ctx)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tACTIVE\tCREATED\tTRIPS\tSTOP TIMES\tSTOPS\tRUN")
	for _, s := range snapshots {
		active := ""
		if s.IsActive {
			active = "*"
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%d\t%d\t%s\n",
			s.SnapshotID, active, s.CreatedAt.Format("2006-01-02 15:04"),
			s.TripCount, s.StopTimeCount, s.StopCount, s.RunID)
	}
	return tw.Flush()
}

func cleanupSnapshots(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	if keep < 0 {
		keep = cfg.Rail.KeepSnapshots
	}
	if err := db.NewSnapshotRegistry(database).EnsureSchema(ctx); err != nil {
		return err
	}

	results, err := maintenance.New(database, log).CleanupOldSnapshots(ctx, keep)
	if err != nil {
		return err
	}
	for _, r := range results {
		fmt.Fprintf(cmd.OutOrStdout(), "snapshot %d: %s (%d tables)\n", r.SnapshotID, r.CleanupStatus, r.TablesDropped)
	}
	if len(results) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "nothing to clean up")
	}
	return nil
}
