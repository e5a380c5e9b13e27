package cmd

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/kebairia/snapkeep/internal/operations"
	"github.com/spf13/cobra"
)

var differentialBase string

var backupCmd = &cobra.Command{
	Use:   "backup [ROOT]",
	Short: "Take a full or differential snapshot of ROOT",
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

		runner := operations.NewRunner(a.engine)
		var h operations.RunHandle
		if differentialBase != "" {
			h = runner.StartDifferential(cmd.Context(), differentialBase, root)
		} else {
			h = runner.StartBackup(cmd.Context(), root)
		}
		snap, err := runner.Wait(h)
		p, _ := runner.GetProgress(h)
		runner.Forget(h)
		for _, msg := range p.Errors {
			a.log.Warn("file skipped", "error", msg)
		}
		if ferr := a.finish(); ferr != nil {
			a.log.Warn("metrics not written", "error", ferr)
		}
		if err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "%s  %s  %d files  %s  %s\n",
			snap.ID, snap.Kind, snap.FileCount,
			humanize.IBytes(uint64(snap.SizeBytes)),
			p.Elapsed().Round(time.Millisecond))
		return nil
	},
}

func init() {
	backupCmd.Flags().
		StringVarP(&differentialBase, "differential", "d", "", "take a differential snapshot against this base id")
}
