package cmd

import (
	"fmt"

	"github.com/kebairia/snapkeep/internal/diff"
	"github.com/spf13/cobra"
)

var diffCmd = &cobra.Command{
	Use:   "diff BASE CANDIDATE",
	Short: "List files added or modified in CANDIDATE relative to BASE",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := diff.New().Diff(args[0], args[1])
		if err != nil {
			return err
		}
		for _, c := range res {
			fmt.Fprintf(cmd.OutOrStdout(), "%-8s %s\n", c.Kind, c.Path)
		}
		return nil
	},
}
