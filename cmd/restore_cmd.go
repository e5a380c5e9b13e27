package cmd

import "github.com/spf13/cobra"

var restoreCmd = &cobra.Command{
	Use:   "restore ID DEST",
	Short: "Rebuild the tree captured by a snapshot into DEST",
	Long: `restore writes the snapshot's tree into DEST. A differential snapshot
is restored by laying its chain over the full base in order.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(ProjectRoot)
		if err != nil {
			return err
		}
		return a.engine.RestoreSnapshot(cmd.Context(), args[0], args[1])
	},
}
