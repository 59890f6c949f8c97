package model

import "time"

// ExtractionAttempt is the audit record for one inference-engine invocation.
// Exactly one row is written per invocation, success or failure.
type ExtractionAttempt struct {
	ID               string    `json:"id"`
	Source           string    `json:"source"`
	OrderID          int64     `json:"order_id"`
	OrderNumber      string    `json:"order_number,omitempty"`
	Marketplace      string    `json:"marketplace,omitempty"`
	Provider         string    `json:"provider"`
	Model            string    `json:"model"`
	Prompt           string    `json:"prompt"`
	RawResponse      string    `json:"raw_response,omitempty"`
	ProcessingMS     int64     `json:"processing_ms"`
	Success          bool      `json:"success"`
	ErrorMessage     string    `json:"error_message,omitempty"`
	TasksGenerated   int       `json:"tasks_generated"`
	NeedsReviewCount int       `json:"needs_review_count"`
	CreatedAt        time.Time `json:"created_at"`
}

// ItemOption is one {name, value} option pair pushed to the fulfillment
// platform for a line item.
type ItemOption struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// SyncJob is the outbox payload for one order's pending push to the
// fulfillment platform: line-item key → option set, plus the audit note
// attached to the order.
type SyncJob struct {
	OrderID         int64                   `json:"order_id"`
	PlatformOrderID string                  `json:"platform_order_id"`
	OrderNumber     string                  `json:"order_number,omitempty"`
	Items           map[string][]ItemOption `json:"items"`
	AuditNote       string                  `json:"audit_note,omitempty"`
}
