package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/printforge/printq-cli/internal/extract"
	"github.com/printforge/printq-cli/internal/inference"
	"github.com/printforge/printq-cli/internal/pipeline"
	anthropicpkg "github.com/printforge/printq-cli/pkg/anthropic"
	"github.com/printforge/printq-cli/pkg/shipstation"
)

var (
	processOrderID       string
	processLimit         int
	processForceRecreate bool
	processPlaceholder   bool
	processPreserveText  bool
	processDryRun        bool
	processYes           bool
	processDebugFile     string
)

var processCmd = &cobra.Command{
	Use:   "process",
	Short: "Extract personalization and materialize print tasks",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if cfg.Anthropic.Key == "" {
			return eris.New("anthropic API key is required (PRINTQ_ANTHROPIC_KEY)")
		}
		// Reprocessing every pending order overwrites operator edits across
		// the whole queue; require an explicit confirmation for that.
		if processForceRecreate && processOrderID == "" && !processYes {
			return eris.New("--force-recreate without --order affects all pending orders; re-run with --yes to confirm")
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		// Dry runs never push, so the platform client is only required for a
		// real run.
		var shipClient shipstation.Client
		if !processDryRun {
			shipClient, err = initShipStation()
			if err != nil {
				return err
			}
		}

		prompts, err := inference.LoadPrompts(cfg.Process.PromptsFile)
		if err != nil {
			return err
		}

		anthropicClient := anthropicpkg.NewClient(cfg.Anthropic.Key)
		engine := inference.NewEngine(anthropicClient, st, inference.Config{
			Model:     cfg.Anthropic.Model,
			MaxTokens: cfg.Anthropic.MaxTokens,
			Prompts:   prompts,
			Source:    "printq process",
		})

		if !cmd.Flags().Changed("create-placeholder") {
			processPlaceholder = cfg.Process.CreatePlaceholder
		}
		debugFile := processDebugFile
		if debugFile == "" {
			debugFile = cfg.Process.DebugFile
		}

		p := pipeline.New(st, extract.New(initAmazonFetcher()), engine, shipClient, pipeline.NewDebugLog(debugFile))

		summary, err := p.Run(ctx, pipeline.Options{
			OrderID:           processOrderID,
			Limit:             processLimit,
			ForceRecreate:     processForceRecreate,
			CreatePlaceholder: processPlaceholder,
			PreserveText:      processPreserveText,
			DryRun:            processDryRun,
		})
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(summary); err != nil {
			return err
		}

		if summary.Failed > 0 {
			zap.L().Warn("some orders failed; re-run with --order <id> to retry individually",
				zap.Int64s("failed_order_ids", summary.FailedOrderIDs),
			)
			return eris.Errorf("%d of %d orders failed", summary.Failed, summary.Attempted)
		}
		return nil
	},
}

func init() {
	processCmd.Flags().StringVar(&processOrderID, "order", "", "process one order: internal ID, order number, or platform order ID")
	processCmd.Flags().IntVar(&processLimit, "limit", 0, "max orders to process (0 = store default)")
	processCmd.Flags().BoolVar(&processForceRecreate, "force-recreate", false, "reprocess orders that already have tasks")
	processCmd.Flags().BoolVar(&processPlaceholder, "create-placeholder", true, "create a review placeholder task when extraction yields nothing")
	processCmd.Flags().BoolVar(&processPreserveText, "preserve-text", false, "keep existing task text across re-extraction")
	processCmd.Flags().BoolVar(&processDryRun, "dry-run", false, "report what would happen without writing tasks or syncing")
	processCmd.Flags().BoolVar(&processYes, "yes", false, "confirm batch-wide destructive operations")
	processCmd.Flags().StringVar(&processDebugFile, "debug-file", "", "append per-order debug records to this JSONL file")
	rootCmd.AddCommand(processCmd)
}
