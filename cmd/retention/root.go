package main

import (
	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	return buildRootCommand(openEnv)
}

func buildRootCommand(open envOpener) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "retention",
		Short:         "Rep audio retention tasks",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.AddCommand(newSweepCommand(open))
	rootCmd.AddCommand(newPurgeLogsCommand(open))

	return rootCmd
}
