package main

import (
	"fmt"
	"time"

	"github.com/ahmetcoskunkizilkaya/reptrainer-backend/internal/logging"
	"github.com/spf13/cobra"
)

func newPurgeLogsCommand(open envOpener) *cobra.Command {
	return &cobra.Command{
		Use:   "purge-logs",
		Short: "Delete system_logs rows past their retention",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer e.close()

			deleted, err := logging.PurgeSystemLogs(cmd.Context(), e.db, time.Now().UTC())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d log rows\n", deleted)
			return nil
		},
	}
}
