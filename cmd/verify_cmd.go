package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var verifyCmd = &cobra.Command{
	Use:   "verify ID",
	Short: "Check a snapshot's record, archive and content hash",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(ProjectRoot)
		if err != nil {
			return err
		}
		rep := a.engine.VerifySnapshot(cmd.Context(), args[0])

		out := cmd.OutOrStdout()
		check := func(name string, ok bool) {
			mark := "FAIL"
			if ok {
				mark = "ok"
			}
			fmt.Fprintf(out, "%-12s %s\n", name, mark)
		}
		check("metadata", rep.MetadataCheck)
		check("content", rep.ContentCheck)
		check("hash", rep.HashCheck)
		check("size", rep.SizeCheck)
		if rep.Encrypted {
			check("encryption", rep.EncryptionCheck)
		}
		for _, e := range rep.Errors {
			fmt.Fprintf(out, "  %s\n", e)
		}

		if !rep.OK() {
			return fmt.Errorf("snapshot %s failed verification", args[0])
		}
		return nil
	},
}
