package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/printforge/printq-cli/internal/pipeline"
)

var syncLimit int

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Retry pending fulfillment-platform pushes from the sync outbox",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		shipClient, err := initShipStation()
		if err != nil {
			return err
		}

		// Only the store and platform client are exercised here; the
		// extraction stages never run in sync-only mode.
		p := pipeline.New(st, nil, nil, shipClient, pipeline.NewDebugLog(""))

		summary, err := p.DrainOutbox(ctx, syncLimit)
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(summary); err != nil {
			return err
		}

		if summary.Failed > 0 {
			return eris.Errorf("%d of %d pushes failed and remain queued", summary.Failed, summary.Attempted)
		}
		return nil
	},
}

func init() {
	syncCmd.Flags().IntVar(&syncLimit, "limit", 50, "max outbox jobs to push")
	rootCmd.AddCommand(syncCmd)
}
