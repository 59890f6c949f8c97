// Package extract implements the structured pre-extraction stage: pulling
// personalization fields out of a marketplace customization reference before
// any model inference runs.
package extract

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/printforge/printq-cli/internal/model"
	"github.com/printforge/printq-cli/pkg/amazoncust"
)

// DataSourceAmazonURL marks results extracted from an Amazon customization
// archive. Only results carrying this source may be pushed back upstream.
const DataSourceAmazonURL = "AmazonURL"

// urlSettingKey is the print-setting key that carries the customization link.
const urlSettingKey = "customizedurl"

// Result is the outcome of pre-extraction for one order item. A failure is
// never an error: the item falls through to inference with the annotation
// explaining why.
type Result struct {
	Success    bool
	DataSource string
	CustomText string
	Color1     string
	Color2     string
	Annotation string
}

// Extractor runs structured pre-extraction across an order's items.
type Extractor struct {
	fetcher amazoncust.Fetcher
}

func New(fetcher amazoncust.Fetcher) *Extractor {
	return &Extractor{fetcher: fetcher}
}

// Applies reports whether the order's marketplace supports structured
// customization references at all.
func (e *Extractor) Applies(order *model.Order) bool {
	return order.IsAmazon()
}

// ExtractOrder runs ExtractItem for every item, keyed by item ID.
func (e *Extractor) ExtractOrder(ctx context.Context, order *model.Order) map[int64]Result {
	results := make(map[int64]Result, len(order.Items))
	for i := range order.Items {
		item := &order.Items[i]
		results[item.ID] = e.ExtractItem(ctx, order, item)
	}
	return results
}

// ExtractItem locates the customization URL in the item's print settings,
// fetches and parses it, and applies SKU business rules to the result.
func (e *Extractor) ExtractItem(ctx context.Context, order *model.Order, item *model.OrderItem) Result {
	log := zap.L().With(
		zap.Int64("order_id", order.ID),
		zap.Int64("item_id", item.ID),
	)

	url, ok := item.PrintSettings.Lookup(urlSettingKey)
	if !ok || url == "" {
		return Result{Annotation: "No CustomizedURL found in print settings."}
	}

	log.Info("found customization URL, fetching archive")
	cust, err := e.fetcher.Fetch(ctx, url)
	if err != nil {
		log.Warn("customization fetch failed", zap.Error(err))
		return Result{Annotation: truncate("Error processing customization URL: "+err.Error(), 1000)}
	}

	text := cust.CustomText
	// Registration-key products are always engraved upper-case.
	if item.Product != nil && strings.Contains(strings.ToUpper(item.Product.SKU), "REGKEY") && text != "" {
		text = strings.ToUpper(text)
		log.Info("registration-key SKU, upper-casing custom text")
	}

	return Result{
		Success:    true,
		DataSource: DataSourceAmazonURL,
		CustomText: text,
		Color1:     cust.Color1,
		Color2:     cust.Color2,
		Annotation: "Data successfully extracted from customization URL.",
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
