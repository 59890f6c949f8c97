package pipeline

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/printforge/printq-cli/internal/model"
	"github.com/printforge/printq-cli/pkg/shipstation"
)

// Push outcomes. Skipped covers orders the platform already finalized;
// retrying those is pointless, so their outbox rows are dropped too.
type pushOutcome int

const (
	pushSucceeded pushOutcome = iota
	pushSkipped
	pushFailed
)

// pushJob applies one outbox job to the fulfillment platform. The order's
// current status is re-checked first so a finalized order is never patched.
func (p *Pipeline) pushJob(ctx context.Context, job *model.SyncJob) (pushOutcome, error) {
	log := zap.L().With(zap.Int64("order_id", job.OrderID), zap.String("platform_order_id", job.PlatformOrderID))

	if job.PlatformOrderID == "" {
		log.Warn("skipping platform sync: order has no platform order ID")
		return pushSkipped, nil
	}
	if len(job.Items) == 0 {
		return pushSkipped, nil
	}

	platformOrder, err := p.ship.GetOrder(ctx, job.PlatformOrderID)
	if err != nil {
		return pushFailed, eris.Wrap(err, "pipeline: fetch platform order status")
	}
	if platformOrder.IsFinalized() {
		log.Warn("skipping platform sync: order already finalized",
			zap.String("platform_status", platformOrder.OrderStatus),
		)
		return pushSkipped, nil
	}

	options := make(map[string][]shipstation.ItemOption, len(job.Items))
	keys := make([]string, 0, len(job.Items))
	for key, opts := range job.Items {
		converted := make([]shipstation.ItemOption, 0, len(opts))
		for _, o := range opts {
			converted = append(converted, shipstation.ItemOption{Name: o.Name, Value: o.Value})
		}
		options[key] = converted
		keys = append(keys, key)
	}
	sort.Strings(keys)

	reasons := make([]string, 0, len(keys))
	for _, k := range keys {
		reasons = append(reasons, fmt.Sprintf("%s(AmazonURL)", k))
	}
	note := job.AuditNote
	if note != "" {
		note += "\n---\n"
	}
	note += fmt.Sprintf("Automated Task Sync %s -> %s",
		time.Now().UTC().Format(time.RFC3339), strings.Join(reasons, ", "))

	if err := p.ship.PushItemOptions(ctx, platformOrder, options, note); err != nil {
		return pushFailed, eris.Wrap(err, "pipeline: push item options")
	}

	log.Info("synced extracted options to fulfillment platform", zap.Int("items", len(options)))
	return pushSucceeded, nil
}

// settleOutbox resolves the outbox row for a completed push attempt. Success
// and finalized-skip both clear the row; a failure records it for retry.
func (p *Pipeline) settleOutbox(ctx context.Context, orderID int64, outcome pushOutcome, pushErr error) {
	switch outcome {
	case pushSucceeded, pushSkipped:
		if err := p.store.RemoveOutbox(ctx, orderID); err != nil {
			zap.L().Error("failed to clear sync outbox row", zap.Int64("order_id", orderID), zap.Error(err))
		}
	case pushFailed:
		if err := p.store.MarkOutboxFailure(ctx, orderID, pushErr.Error()); err != nil {
			zap.L().Error("failed to record sync outbox failure", zap.Int64("order_id", orderID), zap.Error(err))
		}
	}
}

// SyncSummary reports one outbox drain.
type SyncSummary struct {
	Attempted int
	Succeeded int
	Skipped   int
	Failed    int
}

// DrainOutbox retries every pending platform push. Failed jobs stay queued
// for the next run; each push is at-least-once.
func (p *Pipeline) DrainOutbox(ctx context.Context, limit int) (SyncSummary, error) {
	entries, err := p.store.ListOutbox(ctx, limit)
	if err != nil {
		return SyncSummary{}, eris.Wrap(err, "pipeline: list sync outbox")
	}

	var summary SyncSummary
	for i := range entries {
		entry := &entries[i]
		summary.Attempted++

		outcome, pushErr := p.pushJob(ctx, &entry.Job)
		switch outcome {
		case pushSucceeded:
			summary.Succeeded++
		case pushSkipped:
			summary.Skipped++
		case pushFailed:
			summary.Failed++
			zap.L().Error("outbox push failed",
				zap.Int64("order_id", entry.Job.OrderID),
				zap.Int("prior_attempts", entry.Attempts),
				zap.Error(pushErr),
			)
		}
		p.settleOutbox(ctx, entry.Job.OrderID, outcome, pushErr)
	}

	zap.L().Info("sync outbox drained",
		zap.Int("attempted", summary.Attempted),
		zap.Int("succeeded", summary.Succeeded),
		zap.Int("skipped", summary.Skipped),
		zap.Int("failed", summary.Failed),
	)
	return summary, nil
}
