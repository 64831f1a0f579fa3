package main

import (
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/kolkov/undotx/cmd/undotx/verify"
)

func newVerifyCmd() *cobra.Command {
	var quiet bool
	cmd := &cobra.Command{
		Use:   "verify [packages]",
		Short: "check that every write inside an epoch is declared",
		Long: `
Statically check Go packages that use the undo runtime. Within each function
that calls the undo API, every write to an indexed element, dereferenced
pointer, struct field or package-level variable must follow an undo.Track,
undo.TrackPointer or undo.TrackSlice declaration that covers it.

Packages are directories; "./..." checks every package below the current
directory. The command exits with an error when any write is not covered.
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := verify.Paths(args...)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, f := range res.Findings {
				if quiet {
					f.Suggestion = ""
				}
				fmt.Fprintf(out, "%v\n", f)
			}
			s := res.Stats
			fmt.Fprintf(cmd.ErrOrStderr(), "verify: %d file(s), %d of %d function(s) checked, %d declaration(s), %d write(s)\n",
				s.Files, s.Checked, s.Funcs, s.Declarations, s.Writes)
			if n := len(res.Findings); n > 0 {
				return errors.Newf("%d undeclared write(s)", n)
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "omit suggestions")
	return cmd
}
