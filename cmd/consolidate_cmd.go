package cmd

import (
	"fmt"

	"github.com/kebairia/snapkeep/internal/consolidate"
	"github.com/spf13/cobra"
)

var consolidateCmd = &cobra.Command{
	Use:   "consolidate [ROOT]",
	Short: "Snapshot ROOT, then organize, deduplicate and clean it",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		root := ProjectRoot
		if len(args) == 1 {
			root = args[0]
		}
		a, err := newApp(root)
		if err != nil {
			return err
		}

		c := consolidate.New(a.engine, a.engine.Dir(), a.cfg.Consolidate,
			consolidate.WithLogger(a.log),
			consolidate.WithMetrics(a.metrics),
			consolidate.WithExclude(a.cfg.Backup.Exclude),
			consolidate.WithHashing(a.cfg.Backup.ChunkSize, a.cfg.Backup.Workers()),
		)
		rep := c.Run(cmd.Context(), root)
		if err := a.finish(); err != nil {
			a.log.Warn("metrics not written", "error", err)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "snapshot:   %s\n", rep.SnapshotID)
		fmt.Fprintf(out, "organized:  %d\n", rep.OrganizedFiles)
		fmt.Fprintf(out, "duplicates: %d\n", rep.RemovedDuplicates)
		fmt.Fprintf(out, "cleaned:    %d\n", rep.CleanedTransient)
		for _, e := range rep.Errors {
			fmt.Fprintf(out, "  %v\n", e)
		}
		if rep.SnapshotID == "" {
			return fmt.Errorf("consolidation aborted: safety snapshot failed")
		}
		return nil
	},
}
