package cmd

import (
	"fmt"

	"github.com/kebairia/snapkeep/internal/fsutil"
	"github.com/spf13/cobra"
)

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Apply the retention limit and drop leftover temp files",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(ProjectRoot)
		if err != nil {
			return err
		}
		removed, err := a.engine.Prune(cmd.Context())
		for _, id := range removed {
			fmt.Fprintln(cmd.OutOrStdout(), "removed", id)
		}
		if err != nil {
			return err
		}
		if err := fsutil.CleanupTemp(a.engine.Dir()); err != nil {
			a.log.Warn("temp cleanup failed", "dir", a.engine.Dir(), "error", err)
		}
		return nil
	},
}
