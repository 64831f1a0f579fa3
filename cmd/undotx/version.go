package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kolkov/undotx/undo"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			// Init reads UNDOTX_OPTIONS so the effective options are shown.
			undo.Init()
			info := undo.GetInfo()
			fmt.Fprintf(cmd.OutOrStdout(), "undotx version %s (%s granularity)\n", info.Version, info.Granularity)
			fmt.Fprintf(cmd.OutOrStdout(), "options: %s\n", info.Options)
		},
	}
}
