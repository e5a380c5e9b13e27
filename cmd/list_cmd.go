package cmd

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List the snapshots in the backup directory",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(ProjectRoot)
		if err != nil {
			return err
		}
		snaps, err := a.engine.ListSnapshots()
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tKIND\tBASE\tFILES\tSIZE\tARCHIVE\tCREATED")
		for _, s := range snaps {
			base := s.DifferentialBaseID
			if base == "" {
				base = "-"
			}
			archive := "-"
			if s.ArchivePath != "" {
				archive = humanize.IBytes(uint64(s.ArchiveSizeBytes))
				if s.Encrypted {
					archive += " (age)"
				}
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\t%s\n",
				s.ID, s.Kind, base, s.FileCount,
				humanize.IBytes(uint64(s.SizeBytes)), archive,
				humanize.RelTime(s.CreatedAt, time.Now(), "ago", "from now"))
		}
		return w.Flush()
	},
}
