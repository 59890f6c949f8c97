// Package materialize reconciles validated personalization details against
// an order's items and prior tasks, producing the print-task rows to upsert.
package materialize

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/printforge/printq-cli/internal/model"
)

const (
	placeholderText  = "Placeholder - Review Needed"
	maxReasonLength  = 1000
	maxShorthandName = 100
)

// Options control placeholder synthesis and the text-preservation override.
type Options struct {
	CreatePlaceholder bool
	PreserveText      bool
}

// Result is the planned outcome for one order. Nothing is persisted here;
// the store upserts Tasks in a single transaction.
type Result struct {
	Tasks            []model.PrintTask
	SkippedItemIDs   []int64
	NeedsReviewCount int
}

// GroupTasksByItem indexes prior tasks by item ID, ordered by task index, for
// the positional preserve-text match.
func GroupTasksByItem(tasks []model.PrintTask) map[int64][]model.PrintTask {
	grouped := make(map[int64][]model.PrintTask)
	for _, t := range tasks {
		grouped[t.OrderItemID] = append(grouped[t.OrderItemID], t)
	}
	for _, ts := range grouped {
		sort.Slice(ts, func(i, j int) bool { return ts[i].TaskIndex < ts[j].TaskIndex })
	}
	return grouped
}

// Plan builds the task rows for every item on the order. It is pure: same
// inputs produce the same rows, which keeps reprocessing idempotent.
func Plan(order *model.Order, personalization model.OrderPersonalization, existing map[int64][]model.PrintTask, opts Options) Result {
	var res Result
	for _, item := range order.Items {
		itemResult, ok := personalization[strconv.FormatInt(item.ID, 10)]
		if !ok || len(itemResult.Personalizations) == 0 {
			reason := "No extraction data for item"
			if ok {
				reason = "Extraction returned zero personalizations"
			}
			if !opts.CreatePlaceholder {
				zap.L().Warn("skipping item without personalization data",
					zap.Int64("order_id", order.ID),
					zap.Int64("item_id", item.ID),
				)
				res.SkippedItemIDs = append(res.SkippedItemIDs, item.ID)
				continue
			}
			task := planPlaceholder(order, item, reason, existing[item.ID], opts)
			res.Tasks = append(res.Tasks, task)
			res.NeedsReviewCount++
			continue
		}

		tasks := planItem(order, item, itemResult, existing[item.ID], opts)
		for _, t := range tasks {
			if t.NeedsReview {
				res.NeedsReviewCount++
			}
		}
		res.Tasks = append(res.Tasks, tasks...)
	}
	return res
}

// planPlaceholder synthesizes the single full-quantity task for an item the
// extraction produced nothing for. Review is always forced.
func planPlaceholder(order *model.Order, item model.OrderItem, reason string, prior []model.PrintTask, opts Options) model.PrintTask {
	text := placeholderText
	annotation := "Placeholder created: " + reason

	if opts.PreserveText && len(prior) > 0 && prior[0].CustomText != "" {
		text = prior[0].CustomText
		annotation = fmt.Sprintf("%s (Preserving existing text for placeholder: %q)", annotation, text)
	}

	task := newTask(order, item, 0)
	task.Quantity = item.Quantity
	task.CustomText = text
	task.NeedsReview = true
	task.ReviewReason = truncate(reason, maxReasonLength)
	task.Annotation = annotation
	return task
}

func planItem(order *model.Order, item model.OrderItem, itemResult model.ItemPersonalization, prior []model.PrintTask, opts Options) []model.PrintTask {
	itemNeedsReview := itemResult.OverallNeedsReview
	var itemReasons []string
	if itemResult.OverallReviewReason != "" {
		itemReasons = append(itemReasons, itemResult.OverallReviewReason)
	}

	total := 0
	for _, d := range itemResult.Personalizations {
		total += d.Quantity
	}
	if total != item.Quantity {
		msg := fmt.Sprintf("Qty Mismatch (Details Total: %d, Order Item: %d)", total, item.Quantity)
		zap.L().Warn("quantity mismatch flags item for review",
			zap.Int64("order_id", order.ID),
			zap.Int64("item_id", item.ID),
			zap.Int("details_total", total),
			zap.Int("ordered", item.Quantity),
		)
		itemNeedsReview = true
		itemReasons = append(itemReasons, msg)
	}

	tasks := make([]model.PrintTask, 0, len(itemResult.Personalizations))
	for i, detail := range itemResult.Personalizations {
		// Review is monotonic: item-level flags combine with detail flags
		// and are never cleared.
		needsReview := itemNeedsReview || detail.NeedsReview

		reasons := append([]string(nil), itemReasons...)
		if detail.NeedsReview && detail.ReviewReason != "" {
			reasons = append(reasons, detail.ReviewReason)
		}
		if needsReview && detail.Annotation != "" {
			reasons = append(reasons, "Annotation: "+detail.Annotation)
		}

		text := detail.CustomText
		annotation := detail.Annotation
		if opts.PreserveText && i < len(prior) && prior[i].CustomText != "" {
			if prior[i].CustomText != text {
				msg := fmt.Sprintf("Preserved original text: %q instead of extracted: %q", prior[i].CustomText, text)
				zap.L().Info("preserving operator-corrected text",
					zap.Int64("order_id", order.ID),
					zap.Int64("item_id", item.ID),
					zap.Int("task_index", i),
				)
				if annotation != "" {
					annotation = annotation + "; " + msg
				} else {
					annotation = msg
				}
			}
			text = prior[i].CustomText
		}

		task := newTask(order, item, i)
		task.Quantity = detail.Quantity
		task.CustomText = text
		task.Color1 = detail.Color1
		task.Color2 = detail.Color2
		task.NeedsReview = needsReview
		task.ReviewReason = truncate(joinUnique(reasons), maxReasonLength)
		task.Annotation = annotation
		tasks = append(tasks, task)
	}
	return tasks
}

// newTask fills the identity and denormalized snapshot fields shared by
// every task row for an item.
func newTask(order *model.Order, item model.OrderItem, index int) model.PrintTask {
	shorthand := "Unknown Product"
	if item.Product != nil && item.Product.Name != "" {
		shorthand = truncate(item.Product.Name, maxShorthandName)
	}
	return model.PrintTask{
		OrderID:                order.ID,
		OrderItemID:            item.ID,
		ProductID:              item.ProductID,
		TaskIndex:              index,
		ShorthandProductName:   shorthand,
		MarketplaceOrderNumber: order.OrderNumber,
		ShipByDate:             order.ShipByDate,
		Status:                 model.TaskStatusPending,
	}
}

// joinUnique deduplicates reasons preserving first-seen order.
func joinUnique(reasons []string) string {
	seen := make(map[string]struct{}, len(reasons))
	var out []string
	for _, r := range reasons {
		if r == "" {
			continue
		}
		if _, ok := seen[r]; ok {
			continue
		}
		seen[r] = struct{}{}
		out = append(out, r)
	}
	return strings.Join(out, "; ")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
