// Package inference assembles the per-order extraction request, invokes the
// model, and validates its structured response.
package inference

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/printforge/printq-cli/internal/extract"
	"github.com/printforge/printq-cli/internal/model"
	"github.com/printforge/printq-cli/internal/resilience"
	"github.com/printforge/printq-cli/pkg/anthropic"
)

// AuditRecorder persists one record per inference invocation.
type AuditRecorder interface {
	RecordExtractionAttempt(ctx context.Context, attempt *model.ExtractionAttempt) error
}

// Config holds the engine's model parameters.
type Config struct {
	Model     string
	MaxTokens int64
	Prompts   Prompts
	// Source labels audit rows with the invoking command.
	Source string
}

// Engine performs one model call per order.
type Engine struct {
	client anthropic.Client
	audit  AuditRecorder
	cfg    Config
	retry  resilience.RetryConfig
}

func NewEngine(client anthropic.Client, audit AuditRecorder, cfg Config) *Engine {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 4096
	}
	if cfg.Prompts.UserTemplate == "" {
		cfg.Prompts = DefaultPrompts()
	}
	return &Engine{
		client: client,
		audit:  audit,
		cfg:    cfg,
		retry:  resilience.DefaultRetryConfig(),
	}
}

// payloadItem is one item as presented to the model. Authoritative
// pre-extracted fields replace the raw settings when available.
type payloadItem struct {
	ItemID              int64           `json:"itemId"`
	QuantityOrdered     int             `json:"quantityOrdered"`
	ProductSKU          string          `json:"productSku,omitempty"`
	ProductName         string          `json:"productName,omitempty"`
	ExtractedCustomText string          `json:"extractedCustomText,omitempty"`
	ExtractedColor1     string          `json:"extractedColor1,omitempty"`
	ExtractedColor2     string          `json:"extractedColor2,omitempty"`
	DataSourceNote      string          `json:"dataSourceNote"`
	PrintSettings       json.RawMessage `json:"printSettings,omitempty"`
}

type payload struct {
	OrderID       int64         `json:"orderId"`
	OrderNumber   string        `json:"orderNumber"`
	Marketplace   string        `json:"marketplace"`
	CustomerNotes string        `json:"customerNotes,omitempty"`
	Items         []payloadItem `json:"items"`
}

// Extract runs one model invocation for the order and returns the validated
// per-item personalization map. Exactly one audit row is recorded whether the
// invocation succeeds or fails.
func (e *Engine) Extract(ctx context.Context, order *model.Order, pre map[int64]extract.Result) (model.OrderPersonalization, error) {
	start := time.Now()

	inputJSON, err := e.buildInput(order, pre)
	if err != nil {
		return nil, err
	}

	userPrompt := e.cfg.Prompts.UserPrompt(inputJSON)
	fullPrompt := "System:\n" + e.cfg.Prompts.System + "\n\nUser:\n" + userPrompt

	attempt := &model.ExtractionAttempt{
		Source:      e.cfg.Source,
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		Marketplace: order.Marketplace,
		Provider:    "anthropic",
		Model:       e.cfg.Model,
		Prompt:      fullPrompt,
	}

	result, err := e.invoke(ctx, userPrompt, attempt)
	attempt.ProcessingMS = time.Since(start).Milliseconds()

	if err != nil {
		attempt.Success = false
		attempt.ErrorMessage = err.Error()
	} else {
		attempt.Success = true
		for _, item := range result {
			attempt.TasksGenerated += len(item.Personalizations)
			if item.OverallNeedsReview {
				attempt.NeedsReviewCount++
			}
		}
	}

	// The audit row is written even when the invocation failed; a logging
	// failure must not mask the extraction outcome.
	if auditErr := e.audit.RecordExtractionAttempt(ctx, attempt); auditErr != nil {
		zap.L().Error("failed to record extraction attempt",
			zap.Int64("order_id", order.ID),
			zap.Error(auditErr),
		)
	}

	return result, err
}

func (e *Engine) buildInput(order *model.Order, pre map[int64]extract.Result) (string, error) {
	items := make([]payloadItem, 0, len(order.Items))
	for _, item := range order.Items {
		pi := payloadItem{
			ItemID:          item.ID,
			QuantityOrdered: item.Quantity,
		}
		if item.Product != nil {
			pi.ProductSKU = item.Product.SKU
			pi.ProductName = item.Product.Name
		}

		if r, ok := pre[item.ID]; ok && r.Success {
			pi.ExtractedCustomText = r.CustomText
			pi.ExtractedColor1 = r.Color1
			pi.ExtractedColor2 = r.Color2
			pi.DataSourceNote = "Data pre-extracted from the marketplace customization link. Use it verbatim."
		} else {
			pi.PrintSettings = item.PrintSettings.Raw()
			pi.DataSourceNote = "No pre-extracted data available. Analyze printSettings and customer notes."
		}
		items = append(items, pi)
	}

	data, err := json.MarshalIndent(payload{
		OrderID:       order.ID,
		OrderNumber:   order.OrderNumber,
		Marketplace:   order.Marketplace,
		CustomerNotes: order.CustomerNotes,
		Items:         items,
	}, "", "  ")
	if err != nil {
		return "", eris.Wrap(err, "inference: marshal input payload")
	}
	return string(data), nil
}

func (e *Engine) invoke(ctx context.Context, userPrompt string, attempt *model.ExtractionAttempt) (model.OrderPersonalization, error) {
	temperature := 0.0
	req := anthropic.MessageRequest{
		Model:       e.cfg.Model,
		MaxTokens:   e.cfg.MaxTokens,
		System:      anthropic.BuildCachedSystemBlocks(e.cfg.Prompts.System),
		Messages:    []anthropic.Message{{Role: "user", Content: userPrompt}},
		Temperature: &temperature,
	}

	cfg := e.retry
	cfg.OnRetry = resilience.RetryLogger("anthropic", "create_message")
	resp, err := resilience.DoVal(ctx, cfg, func(ctx context.Context) (*anthropic.MessageResponse, error) {
		return e.client.CreateMessage(ctx, req)
	})
	if err != nil {
		return nil, eris.Wrap(err, "inference: model call")
	}

	resp.Usage.LogCost(e.cfg.Model, "extract")

	raw := resp.FirstText()
	attempt.RawResponse = raw
	if raw == "" {
		return nil, eris.Wrap(ErrUnparseable, "empty response content")
	}

	cleaned := []byte(cleanJSON(raw))
	if err := validateResponse(cleaned); err != nil {
		return nil, err
	}

	var result model.OrderPersonalization
	if err := json.Unmarshal(cleaned, &result); err != nil {
		return nil, eris.Wrap(ErrUnparseable, err.Error())
	}
	return result, nil
}
