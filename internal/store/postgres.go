package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/printforge/printq-cli/internal/db"
	"github.com/printforge/printq-cli/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS products (
	id   BIGINT PRIMARY KEY,
	sku  TEXT NOT NULL,
	name TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS orders (
	id                       BIGINT PRIMARY KEY,
	marketplace_order_number TEXT NOT NULL,
	platform_order_id        TEXT,
	marketplace              TEXT NOT NULL DEFAULT '',
	customer_notes           TEXT,
	order_status             TEXT NOT NULL DEFAULT 'awaiting_shipment',
	order_date               TIMESTAMPTZ NOT NULL DEFAULT now(),
	ship_by_date             TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS order_items (
	id                     BIGINT PRIMARY KEY,
	order_id               BIGINT NOT NULL REFERENCES orders(id),
	product_id             BIGINT NOT NULL REFERENCES products(id),
	quantity               INTEGER NOT NULL DEFAULT 1,
	print_settings         JSONB,
	platform_line_item_key TEXT
);

CREATE TABLE IF NOT EXISTS print_tasks (
	id                       BIGSERIAL PRIMARY KEY,
	order_id                 BIGINT NOT NULL REFERENCES orders(id),
	order_item_id            BIGINT NOT NULL REFERENCES order_items(id),
	product_id               BIGINT NOT NULL,
	task_index               INTEGER NOT NULL,
	shorthand_product_name   TEXT NOT NULL DEFAULT '',
	marketplace_order_number TEXT NOT NULL DEFAULT '',
	ship_by_date             TIMESTAMPTZ,
	quantity                 INTEGER NOT NULL DEFAULT 1,
	custom_text              TEXT NOT NULL DEFAULT '',
	color_1                  TEXT NOT NULL DEFAULT '',
	color_2                  TEXT NOT NULL DEFAULT '',
	status                   TEXT NOT NULL DEFAULT 'pending',
	needs_review             BOOLEAN NOT NULL DEFAULT false,
	review_reason            TEXT NOT NULL DEFAULT '',
	annotation               TEXT NOT NULL DEFAULT '',
	render_state             TEXT NOT NULL DEFAULT 'not_rendered',
	render_retries           INTEGER NOT NULL DEFAULT 0,
	render_path              TEXT NOT NULL DEFAULT '',
	created_at               TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at               TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (order_item_id, task_index)
);

CREATE INDEX IF NOT EXISTS idx_order_items_order_id ON order_items(order_id);
CREATE INDEX IF NOT EXISTS idx_print_tasks_order_id ON print_tasks(order_id);
CREATE INDEX IF NOT EXISTS idx_print_tasks_status ON print_tasks(status);
CREATE INDEX IF NOT EXISTS idx_orders_status_date ON orders(order_status, order_date DESC);

CREATE TABLE IF NOT EXISTS extraction_log (
	id                 TEXT PRIMARY KEY,
	source             TEXT NOT NULL,
	order_id           BIGINT NOT NULL,
	order_number       TEXT NOT NULL DEFAULT '',
	marketplace        TEXT NOT NULL DEFAULT '',
	provider           TEXT NOT NULL,
	model              TEXT NOT NULL,
	prompt             TEXT NOT NULL,
	raw_response       TEXT,
	processing_ms      BIGINT NOT NULL DEFAULT 0,
	success            BOOLEAN NOT NULL,
	error_message      TEXT,
	tasks_generated    INTEGER NOT NULL DEFAULT 0,
	needs_review_count INTEGER NOT NULL DEFAULT 0,
	created_at         TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_extraction_log_order_id ON extraction_log(order_id);

CREATE TABLE IF NOT EXISTS sync_outbox (
	order_id   BIGINT PRIMARY KEY,
	payload    JSONB NOT NULL,
	audit_note TEXT NOT NULL DEFAULT '',
	attempts   INTEGER NOT NULL DEFAULT 0,
	last_error TEXT,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

const orderColumns = `id, marketplace_order_number, COALESCE(platform_order_id, ''), marketplace, COALESCE(customer_notes, ''), order_status, order_date, ship_by_date`

func (s *PostgresStore) GetOrderByID(ctx context.Context, id int64) (*model.Order, error) {
	return s.getOrder(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
}

func (s *PostgresStore) GetOrderByNumber(ctx context.Context, orderNumber string) (*model.Order, error) {
	return s.getOrder(ctx, `SELECT `+orderColumns+` FROM orders WHERE marketplace_order_number = $1`, orderNumber)
}

func (s *PostgresStore) GetOrderByPlatformID(ctx context.Context, platformID string) (*model.Order, error) {
	return s.getOrder(ctx, `SELECT `+orderColumns+` FROM orders WHERE platform_order_id = $1`, platformID)
}

// getOrder returns (nil, nil) when no order matches; selector fallback
// depends on a miss not being an error.
func (s *PostgresStore) getOrder(ctx context.Context, query string, arg any) (*model.Order, error) {
	var o model.Order
	err := s.pool.QueryRow(ctx, query, arg).Scan(
		&o.ID, &o.OrderNumber, &o.PlatformID, &o.Marketplace,
		&o.CustomerNotes, &o.Status, &o.OrderDate, &o.ShipByDate,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "postgres: get order")
	}
	if err := s.loadItems(ctx, &o); err != nil {
		return nil, err
	}
	return &o, nil
}

func (s *PostgresStore) ListPendingOrders(ctx context.Context, limit int, includeTasked bool) ([]model.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE order_status = 'awaiting_shipment'`
	if !includeTasked {
		query += ` AND EXISTS (
			SELECT 1 FROM order_items oi
			WHERE oi.order_id = orders.id
			  AND NOT EXISTS (SELECT 1 FROM print_tasks pt WHERE pt.order_item_id = oi.id)
		)`
	}
	query += ` ORDER BY order_date DESC LIMIT $1`

	if limit <= 0 {
		limit = 50
	}

	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list pending orders")
	}
	defer rows.Close()

	var orders []model.Order
	for rows.Next() {
		var o model.Order
		if err := rows.Scan(
			&o.ID, &o.OrderNumber, &o.PlatformID, &o.Marketplace,
			&o.CustomerNotes, &o.Status, &o.OrderDate, &o.ShipByDate,
		); err != nil {
			return nil, eris.Wrap(err, "postgres: scan order")
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: list pending orders iterate")
	}

	for i := range orders {
		if err := s.loadItems(ctx, &orders[i]); err != nil {
			return nil, err
		}
	}
	return orders, nil
}

func (s *PostgresStore) loadItems(ctx context.Context, o *model.Order) error {
	rows, err := s.pool.Query(ctx,
		`SELECT oi.id, oi.order_id, oi.product_id, oi.quantity, oi.print_settings,
		        COALESCE(oi.platform_line_item_key, ''), p.sku, p.name
		 FROM order_items oi
		 JOIN products p ON p.id = oi.product_id
		 WHERE oi.order_id = $1
		 ORDER BY oi.id`,
		o.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: load items for order %d", o.ID)
	}
	defer rows.Close()

	for rows.Next() {
		var item model.OrderItem
		var settingsJSON []byte
		var p model.Product
		if err := rows.Scan(
			&item.ID, &item.OrderID, &item.ProductID, &item.Quantity,
			&settingsJSON, &item.PlatformLineItemKey, &p.SKU, &p.Name,
		); err != nil {
			return eris.Wrap(err, "postgres: scan order item")
		}
		if len(settingsJSON) > 0 {
			if err := json.Unmarshal(settingsJSON, &item.PrintSettings); err != nil {
				return eris.Wrapf(err, "postgres: unmarshal print settings for item %d", item.ID)
			}
		}
		p.ID = item.ProductID
		item.Product = &p
		o.Items = append(o.Items, item)
	}
	return eris.Wrap(rows.Err(), "postgres: load items iterate")
}

const taskColumns = `id, order_id, order_item_id, product_id, task_index,
	shorthand_product_name, marketplace_order_number, ship_by_date, quantity,
	custom_text, color_1, color_2, status, needs_review, review_reason, annotation,
	render_state, render_retries, render_path, created_at, updated_at`

func (s *PostgresStore) ListTasksForOrder(ctx context.Context, orderID int64) ([]model.PrintTask, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+taskColumns+` FROM print_tasks WHERE order_id = $1 ORDER BY order_item_id, task_index`,
		orderID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list tasks for order %d", orderID)
	}
	defer rows.Close()

	var tasks []model.PrintTask
	for rows.Next() {
		var t model.PrintTask
		if err := rows.Scan(
			&t.ID, &t.OrderID, &t.OrderItemID, &t.ProductID, &t.TaskIndex,
			&t.ShorthandProductName, &t.MarketplaceOrderNumber, &t.ShipByDate, &t.Quantity,
			&t.CustomText, &t.Color1, &t.Color2, &t.Status, &t.NeedsReview, &t.ReviewReason, &t.Annotation,
			&t.RenderState, &t.RenderRetries, &t.RenderPath, &t.CreatedAt, &t.UpdatedAt,
		); err != nil {
			return nil, eris.Wrap(err, "postgres: scan task")
		}
		tasks = append(tasks, t)
	}
	return tasks, eris.Wrap(rows.Err(), "postgres: list tasks iterate")
}

// upsertTaskSQL creates the full snapshot on first insert; on conflict it
// updates only the mutable personalization fields, leaving status and the
// render bookkeeping columns to the production stage.
const upsertTaskSQL = `
INSERT INTO print_tasks (
	order_id, order_item_id, product_id, task_index,
	shorthand_product_name, marketplace_order_number, ship_by_date, quantity,
	custom_text, color_1, color_2, status, needs_review, review_reason, annotation,
	created_at, updated_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $16)
ON CONFLICT (order_item_id, task_index) DO UPDATE SET
	shorthand_product_name   = EXCLUDED.shorthand_product_name,
	marketplace_order_number = EXCLUDED.marketplace_order_number,
	ship_by_date             = EXCLUDED.ship_by_date,
	quantity                 = EXCLUDED.quantity,
	custom_text              = EXCLUDED.custom_text,
	color_1                  = EXCLUDED.color_1,
	color_2                  = EXCLUDED.color_2,
	needs_review             = EXCLUDED.needs_review,
	review_reason            = EXCLUDED.review_reason,
	annotation               = EXCLUDED.annotation,
	updated_at               = EXCLUDED.updated_at`

const enqueueOutboxSQL = `
INSERT INTO sync_outbox (order_id, payload, audit_note, attempts, created_at, updated_at)
VALUES ($1, $2, $3, 0, $4, $4)
ON CONFLICT (order_id) DO UPDATE SET
	payload    = EXCLUDED.payload,
	audit_note = EXCLUDED.audit_note,
	attempts   = 0,
	last_error = NULL,
	updated_at = EXCLUDED.updated_at`

// MaterializeTasks upserts an order's task set and, when a sync job is given,
// enqueues the outbox row in the same transaction. All-or-nothing per order.
func (s *PostgresStore) MaterializeTasks(ctx context.Context, tasks []model.PrintTask, job *model.SyncJob) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: materialize: begin tx")
	}
	defer tx.Rollback(ctx)

	now := time.Now().UTC()
	for _, t := range tasks {
		_, err := tx.Exec(ctx, upsertTaskSQL,
			t.OrderID, t.OrderItemID, t.ProductID, t.TaskIndex,
			t.ShorthandProductName, t.MarketplaceOrderNumber, t.ShipByDate, t.Quantity,
			t.CustomText, t.Color1, t.Color2, string(model.TaskStatusPending),
			t.NeedsReview, t.ReviewReason, t.Annotation, now,
		)
		if err != nil {
			return eris.Wrapf(err, "postgres: materialize: upsert task item=%d index=%d", t.OrderItemID, t.TaskIndex)
		}
	}

	if job != nil {
		payload, err := json.Marshal(job)
		if err != nil {
			return eris.Wrap(err, "postgres: materialize: marshal sync job")
		}
		if _, err := tx.Exec(ctx, enqueueOutboxSQL, job.OrderID, payload, job.AuditNote, now); err != nil {
			return eris.Wrapf(err, "postgres: materialize: enqueue outbox for order %d", job.OrderID)
		}
	}

	return eris.Wrap(tx.Commit(ctx), "postgres: materialize: commit tx")
}

func (s *PostgresStore) RecordExtractionAttempt(ctx context.Context, attempt *model.ExtractionAttempt) error {
	if attempt.ID == "" {
		attempt.ID = uuid.New().String()
	}
	if attempt.CreatedAt.IsZero() {
		attempt.CreatedAt = time.Now().UTC()
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO extraction_log (
			id, source, order_id, order_number, marketplace, provider, model,
			prompt, raw_response, processing_ms, success, error_message,
			tasks_generated, needs_review_count, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		attempt.ID, attempt.Source, attempt.OrderID, attempt.OrderNumber,
		attempt.Marketplace, attempt.Provider, attempt.Model, attempt.Prompt,
		attempt.RawResponse, attempt.ProcessingMS, attempt.Success, attempt.ErrorMessage,
		attempt.TasksGenerated, attempt.NeedsReviewCount, attempt.CreatedAt,
	)
	return eris.Wrapf(err, "postgres: record extraction attempt for order %d", attempt.OrderID)
}

func (s *PostgresStore) ListOutbox(ctx context.Context, limit int) ([]OutboxEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT order_id, payload, audit_note, attempts, COALESCE(last_error, ''), updated_at
		 FROM sync_outbox ORDER BY created_at LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list outbox")
	}
	defer rows.Close()

	var entries []OutboxEntry
	for rows.Next() {
		var e OutboxEntry
		var orderID int64
		var payload []byte
		var auditNote string
		if err := rows.Scan(&orderID, &payload, &auditNote, &e.Attempts, &e.LastError, &e.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan outbox entry")
		}
		if err := json.Unmarshal(payload, &e.Job); err != nil {
			return nil, eris.Wrapf(err, "postgres: unmarshal outbox payload for order %d", orderID)
		}
		e.Job.OrderID = orderID
		if e.Job.AuditNote == "" {
			e.Job.AuditNote = auditNote
		}
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "postgres: list outbox iterate")
}

func (s *PostgresStore) RemoveOutbox(ctx context.Context, orderID int64) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM sync_outbox WHERE order_id = $1`, orderID)
	return eris.Wrapf(err, "postgres: remove outbox for order %d", orderID)
}

func (s *PostgresStore) MarkOutboxFailure(ctx context.Context, orderID int64, errMsg string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE sync_outbox SET attempts = attempts + 1, last_error = $2, updated_at = $3 WHERE order_id = $1`,
		orderID, errMsg, time.Now().UTC(),
	)
	return eris.Wrapf(err, "postgres: mark outbox failure for order %d", orderID)
}
