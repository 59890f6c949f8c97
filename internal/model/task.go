package model

import "time"

// TaskStatus is the lifecycle state of a print task. The pipeline only ever
// writes Pending; later transitions belong to the production flow.
type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusInProgress TaskStatus = "in_progress"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusCancelled  TaskStatus = "cancelled"
)

// PrintTask is one materialized personalization unit for an order item.
// Identity is (OrderItemID, TaskIndex), stable across reprocessing runs.
type PrintTask struct {
	ID                    int64      `json:"id"`
	OrderID               int64      `json:"order_id"`
	OrderItemID           int64      `json:"order_item_id"`
	ProductID             int64      `json:"product_id"`
	TaskIndex             int        `json:"task_index"`
	ShorthandProductName  string     `json:"shorthand_product_name"`
	MarketplaceOrderNumber string    `json:"marketplace_order_number"`
	ShipByDate            *time.Time `json:"ship_by_date,omitempty"`
	Quantity              int        `json:"quantity"`
	CustomText            string     `json:"custom_text"`
	Color1                string     `json:"color_1,omitempty"`
	Color2                string     `json:"color_2,omitempty"`
	Status                TaskStatus `json:"status"`
	NeedsReview           bool       `json:"needs_review"`
	ReviewReason          string     `json:"review_reason,omitempty"`
	Annotation            string     `json:"annotation,omitempty"`

	// Production-render bookkeeping. Owned by the downstream render stage;
	// the materializer writes these only on create, never on update.
	RenderState   string `json:"render_state"`
	RenderRetries int    `json:"render_retries"`
	RenderPath    string `json:"render_path,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PersonalizationDetail is one personalization unit emitted by the inference
// engine (or synthesized as a placeholder) before it becomes a PrintTask.
type PersonalizationDetail struct {
	CustomText   string `json:"customText"`
	Color1       string `json:"color1,omitempty"`
	Color2       string `json:"color2,omitempty"`
	Quantity     int    `json:"quantity"`
	NeedsReview  bool   `json:"needsReview,omitempty"`
	ReviewReason string `json:"reviewReason,omitempty"`
	Annotation   string `json:"annotation,omitempty"`
}

// ItemPersonalization is the inference result for a single order item.
type ItemPersonalization struct {
	Personalizations    []PersonalizationDetail `json:"personalizations"`
	OverallNeedsReview  bool                    `json:"overallNeedsReview"`
	OverallReviewReason string                  `json:"overallReviewReason,omitempty"`
}

// OrderPersonalization maps order item IDs (as decimal strings) to their
// inference results for one order.
type OrderPersonalization map[string]ItemPersonalization
