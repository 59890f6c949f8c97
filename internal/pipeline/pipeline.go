// Package pipeline orchestrates the per-order extraction flow: order
// selection, structured pre-extraction, model inference, task
// materialization, and the post-commit platform sync.
package pipeline

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/printforge/printq-cli/internal/extract"
	"github.com/printforge/printq-cli/internal/materialize"
	"github.com/printforge/printq-cli/internal/model"
	"github.com/printforge/printq-cli/internal/store"
	"github.com/printforge/printq-cli/pkg/shipstation"
)

// PreExtractor is the structured customization-link stage.
type PreExtractor interface {
	Applies(order *model.Order) bool
	ExtractOrder(ctx context.Context, order *model.Order) map[int64]extract.Result
}

// InferenceEngine produces the per-item personalization map for one order.
type InferenceEngine interface {
	Extract(ctx context.Context, order *model.Order, pre map[int64]extract.Result) (model.OrderPersonalization, error)
}

// Options is the run configuration for one processing batch.
type Options struct {
	OrderID           string
	Limit             int
	ForceRecreate     bool
	CreatePlaceholder bool
	PreserveText      bool
	DryRun            bool
}

// OrderResult is the outcome for a single order in the run summary.
type OrderResult struct {
	OrderID     int64
	OrderNumber string
	Succeeded   bool
	DryRun      bool
	TaskCount   int
	Error       string
}

// Summary aggregates one batch run. FailedOrderIDs lets operators re-run
// exactly the orders that failed.
type Summary struct {
	Attempted      int
	Succeeded      int
	Failed         int
	FailedOrderIDs []int64
	Orders         []OrderResult
}

// Pipeline wires the stages together. Orders are processed strictly one at
// a time; every outbound dependency carries its own rate limit.
type Pipeline struct {
	store     store.Store
	extractor PreExtractor
	engine    InferenceEngine
	ship      shipstation.Client
	debug     *DebugLog
}

func New(st store.Store, extractor PreExtractor, engine InferenceEngine, ship shipstation.Client, debug *DebugLog) *Pipeline {
	return &Pipeline{
		store:     st,
		extractor: extractor,
		engine:    engine,
		ship:      ship,
		debug:     debug,
	}
}

var digitsOnly = regexp.MustCompile(`^\d+$`)

// SelectOrders resolves the orders to process. An explicit identifier is
// tried as internal ID (digits only), then marketplace order number, then
// platform order ID; a miss on all three is an empty result, not an error.
func (p *Pipeline) SelectOrders(ctx context.Context, opts Options) ([]model.Order, error) {
	if opts.OrderID == "" {
		return p.store.ListPendingOrders(ctx, opts.Limit, opts.ForceRecreate)
	}

	if digitsOnly.MatchString(opts.OrderID) {
		if id, err := strconv.ParseInt(opts.OrderID, 10, 64); err == nil {
			order, err := p.store.GetOrderByID(ctx, id)
			if err != nil {
				return nil, err
			}
			if order != nil {
				return []model.Order{*order}, nil
			}
		}
	}

	order, err := p.store.GetOrderByNumber(ctx, opts.OrderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		order, err = p.store.GetOrderByPlatformID(ctx, opts.OrderID)
		if err != nil {
			return nil, err
		}
	}
	if order == nil {
		zap.L().Warn("no order matched identifier", zap.String("identifier", opts.OrderID))
		return nil, nil
	}
	return []model.Order{*order}, nil
}

// Run processes a batch of orders. A single order's failure never stops the
// run; it is recorded and the loop advances.
func (p *Pipeline) Run(ctx context.Context, opts Options) (Summary, error) {
	orders, err := p.SelectOrders(ctx, opts)
	if err != nil {
		return Summary{}, eris.Wrap(err, "pipeline: select orders")
	}
	if len(orders) == 0 {
		zap.L().Info("no orders matched the selection criteria")
		return Summary{}, nil
	}
	zap.L().Info("starting processing run",
		zap.Int("orders", len(orders)),
		zap.Bool("dry_run", opts.DryRun),
	)

	var summary Summary
	for i := range orders {
		order := &orders[i]
		summary.Attempted++

		result := p.processOrder(ctx, order, opts)
		summary.Orders = append(summary.Orders, result)
		if result.Succeeded {
			summary.Succeeded++
		} else {
			summary.Failed++
			summary.FailedOrderIDs = append(summary.FailedOrderIDs, order.ID)
		}
	}

	logSummary := zap.L().Info
	if summary.Failed > 0 {
		logSummary = zap.L().Warn
	}
	logSummary("processing run finished",
		zap.Int("attempted", summary.Attempted),
		zap.Int("succeeded", summary.Succeeded),
		zap.Int("failed", summary.Failed),
		zap.Int64s("failed_order_ids", summary.FailedOrderIDs),
	)
	return summary, nil
}

// processOrder runs the full stage sequence for one order. Any error is
// absorbed into the returned result so the batch loop can advance.
func (p *Pipeline) processOrder(ctx context.Context, order *model.Order, opts Options) OrderResult {
	log := zap.L().With(zap.Int64("order_id", order.ID), zap.String("order_number", order.OrderNumber))
	log.Info("processing order", zap.Int("items", len(order.Items)))

	result := OrderResult{OrderID: order.ID, OrderNumber: order.OrderNumber, DryRun: opts.DryRun}
	dbg := &OrderDebug{
		OrderID:       order.ID,
		OrderNumber:   order.OrderNumber,
		Marketplace:   order.Marketplace,
		OverallStatus: "pre-extracting",
	}

	fail := func(stage string, err error) OrderResult {
		log.Error("order processing failed", zap.String("stage", stage), zap.Error(err))
		result.Error = err.Error()
		dbg.OverallStatus = "failed (" + stage + ")"
		dbg.Error = err.Error()
		p.debug.Append(dbg)
		return result
	}

	// Stage 1: structured pre-extraction. Failures are per-item annotations,
	// never order-fatal.
	var pre map[int64]extract.Result
	if p.extractor.Applies(order) {
		pre = p.extractor.ExtractOrder(ctx, order)
	}
	dbg.PreExtractions = pre

	// Stage 2: one inference call for the whole order.
	dbg.OverallStatus = "inferring"
	personalization, err := p.engine.Extract(ctx, order, pre)
	if err != nil {
		dbg.InferenceStatus = "failed"
		return fail("inference", err)
	}
	dbg.InferenceStatus = "success"

	// Stage 3: plan the task rows against prior state.
	existing, err := p.store.ListTasksForOrder(ctx, order.ID)
	if err != nil {
		return fail("load prior tasks", err)
	}
	plan := materialize.Plan(order, personalization, materialize.GroupTasksByItem(existing), materialize.Options{
		CreatePlaceholder: opts.CreatePlaceholder,
		PreserveText:      opts.PreserveText,
	})
	result.TaskCount = len(plan.Tasks)
	dbg.TasksPlanned = len(plan.Tasks)
	dbg.NeedsReviewCount = plan.NeedsReviewCount
	for _, id := range plan.SkippedItemIDs {
		dbg.Items = append(dbg.Items, ItemDebug{ItemID: id, Skipped: true})
	}

	job := buildSyncJob(order, pre, personalization)

	if opts.DryRun {
		log.Info("dry run: skipping materialization and platform sync",
			zap.Int("tasks_planned", len(plan.Tasks)),
			zap.Int("needs_review", plan.NeedsReviewCount),
			zap.Bool("would_sync", job != nil),
		)
		dbg.OverallStatus = "completed (dry run)"
		dbg.TransactionState = "skipped (dry run)"
		dbg.SyncStatus = "skipped (dry run)"
		p.debug.Append(dbg)
		result.Succeeded = true
		return result
	}

	// Stage 4: short transaction committing tasks plus the outbox row.
	if len(plan.Tasks) == 0 && job == nil {
		log.Warn("nothing to materialize for order")
		dbg.OverallStatus = "completed (no tasks)"
		p.debug.Append(dbg)
		result.Succeeded = true
		return result
	}
	if err := p.store.MaterializeTasks(ctx, plan.Tasks, job); err != nil {
		dbg.TransactionState = "rolled back"
		return fail("materialize", err)
	}
	dbg.TransactionState = "committed"
	log.Info("materialized tasks",
		zap.Int("tasks", len(plan.Tasks)),
		zap.Int("needs_review", plan.NeedsReviewCount),
	)

	// Stage 5: best-effort post-commit push; a failure leaves the outbox
	// row behind for `printq sync` and does not fail the order.
	if job != nil {
		outcome, pushErr := p.pushJob(ctx, job)
		p.settleOutbox(ctx, order.ID, outcome, pushErr)
		switch outcome {
		case pushSucceeded:
			dbg.SyncStatus = "success"
		case pushSkipped:
			dbg.SyncStatus = "skipped"
		case pushFailed:
			dbg.SyncStatus = "failed (queued for retry)"
			log.Warn("platform sync failed; job left in outbox", zap.Error(pushErr))
		}
	} else {
		dbg.SyncStatus = "skipped (no structured data)"
	}

	dbg.OverallStatus = "completed"
	p.debug.Append(dbg)
	result.Succeeded = true
	return result
}

// buildSyncJob assembles the platform patch from items whose structured
// pre-extraction succeeded. Model-only output is never pushed upstream.
func buildSyncJob(order *model.Order, pre map[int64]extract.Result, personalization model.OrderPersonalization) *model.SyncJob {
	items := make(map[string][]model.ItemOption)
	for _, item := range order.Items {
		r, ok := pre[item.ID]
		if !ok || !r.Success {
			continue
		}
		if item.PlatformLineItemKey == "" {
			zap.L().Warn("cannot sync item: missing platform line-item key",
				zap.Int64("order_id", order.ID),
				zap.Int64("item_id", item.ID),
			)
			continue
		}

		var opts []model.ItemOption
		if r.CustomText != "" {
			opts = append(opts, model.ItemOption{Name: "Name or Text", Value: r.CustomText})
		}
		if r.Color1 != "" {
			opts = append(opts, model.ItemOption{Name: "Colour 1", Value: r.Color1})
		}
		if r.Color2 != "" {
			opts = append(opts, model.ItemOption{Name: "Colour 2", Value: r.Color2})
		}
		if len(opts) > 0 {
			items[item.PlatformLineItemKey] = opts
		}
	}
	if len(items) == 0 {
		return nil
	}

	return &model.SyncJob{
		OrderID:         order.ID,
		PlatformOrderID: order.PlatformID,
		OrderNumber:     order.OrderNumber,
		Items:           items,
		AuditNote:       packingListNote(order, personalization),
	}
}

// packingListNote renders the numbered personalization list and original
// customer notes that ride along as the order's internal audit note.
func packingListNote(order *model.Order, personalization model.OrderPersonalization) string {
	var lines []string
	n := 1
	for _, item := range order.Items {
		itemResult, ok := personalization[strconv.FormatInt(item.ID, 10)]
		if !ok {
			continue
		}
		for _, d := range itemResult.Personalizations {
			text := d.CustomText
			if text == "" {
				text = "N/A"
			}
			colors := d.Color1
			if d.Color2 != "" {
				colors += " / " + d.Color2
			}
			lines = append(lines, fmt.Sprintf("%d. %s (%s)", n, text, colors))
			n++
		}
	}

	body := "No personalizations extracted."
	if len(lines) > 0 {
		body = strings.Join(lines, "\n")
	}
	notes := order.CustomerNotes
	if notes == "" {
		notes = "No customer notes provided."
	}
	return fmt.Sprintf("PACKING LIST (Order #%s):\n%s\n---\nOriginal Customer Notes:\n%s",
		order.OrderNumber, body, notes)
}
