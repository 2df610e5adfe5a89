package main

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/ahmetcoskunkizilkaya/reptrainer-backend/internal/bootstrap"
	"github.com/ahmetcoskunkizilkaya/reptrainer-backend/internal/services"
	"github.com/spf13/cobra"
)

type sweepFlags struct {
	window    time.Duration
	batchSize int
	maxRows   int
}

// apply overrides cfg with every flag the user set.
func (f sweepFlags) apply(cmd *cobra.Command, cfg services.RetentionConfig) services.RetentionConfig {
	if cmd.Flags().Changed("window") {
		cfg.Window = f.window
	}
	if cmd.Flags().Changed("batch-size") {
		cfg.BatchSize = f.batchSize
	}
	if cmd.Flags().Changed("max-rows") {
		cfg.MaxRows = f.maxRows
	}
	return cfg
}

func newSweepCommand(open envOpener) *cobra.Command {
	var flags sweepFlags

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Delete aged rep audio once and print the summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, err := open(ctx)
			if err != nil {
				return err
			}
			defer e.close()

			blobs, closeBlobs, err := bootstrap.BlobStore(ctx, e.cfg)
			if err != nil {
				return err
			}
			defer closeBlobs()

			runLease, closeLease, err := bootstrap.RetentionLease(e.cfg)
			if err != nil {
				return err
			}
			defer closeLease()

			rc := flags.apply(cmd, bootstrap.RetentionConfig(e.cfg))
			sweeper := services.NewRetentionSweeper(e.db, blobs, rc, runLease)

			summary, err := sweeper.Run(ctx)
			if err != nil {
				return err
			}
			if err := writeJSON(cmd, summary); err != nil {
				return err
			}
			if len(summary.Errors) > 0 {
				return errors.New("sweep finished with row errors")
			}
			return nil
		},
	}

	cmd.Flags().DurationVar(&flags.window, "window", 7*24*time.Hour, "Age after which audio is deleted")
	cmd.Flags().IntVar(&flags.batchSize, "batch-size", 100, "Rows fetched per page")
	cmd.Flags().IntVar(&flags.maxRows, "max-rows", 500, "Maximum rows scanned in one run")

	return cmd
}

// writeJSON encodes v as indented JSON to the command's stdout.
func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
