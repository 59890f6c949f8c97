package store

import (
	"context"
	"time"

	"github.com/printforge/printq-cli/internal/model"
)

// OutboxEntry is one pending fulfillment-platform push with its retry state.
type OutboxEntry struct {
	Job       model.SyncJob `json:"job"`
	Attempts  int           `json:"attempts"`
	LastError string        `json:"last_error,omitempty"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// Store defines the persistence interface for the extraction pipeline.
type Store interface {
	// Orders (read-only; populated by the ingestion job)
	GetOrderByID(ctx context.Context, id int64) (*model.Order, error)
	GetOrderByNumber(ctx context.Context, orderNumber string) (*model.Order, error)
	GetOrderByPlatformID(ctx context.Context, platformID string) (*model.Order, error)
	ListPendingOrders(ctx context.Context, limit int, includeTasked bool) ([]model.Order, error)

	// Print tasks
	ListTasksForOrder(ctx context.Context, orderID int64) ([]model.PrintTask, error)
	MaterializeTasks(ctx context.Context, tasks []model.PrintTask, job *model.SyncJob) error

	// Extraction audit log
	RecordExtractionAttempt(ctx context.Context, attempt *model.ExtractionAttempt) error

	// Sync outbox
	ListOutbox(ctx context.Context, limit int) ([]OutboxEntry, error)
	RemoveOutbox(ctx context.Context, orderID int64) error
	MarkOutboxFailure(ctx context.Context, orderID int64, errMsg string) error

	// Lifecycle
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}
