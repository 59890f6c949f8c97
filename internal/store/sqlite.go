package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/printforge/printq-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. Intended for local
// development and tests; production runs use PostgresStore.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	// Pragmas are per-connection; a single connection keeps them in force
	// and serializes writes, which SQLite wants anyway.
	sqlDB.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := sqlDB.Exec(pragma); err != nil {
			sqlDB.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: sqlDB}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS products (
	id   INTEGER PRIMARY KEY,
	sku  TEXT NOT NULL,
	name TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS orders (
	id                       INTEGER PRIMARY KEY,
	marketplace_order_number TEXT NOT NULL,
	platform_order_id        TEXT,
	marketplace              TEXT NOT NULL DEFAULT '',
	customer_notes           TEXT,
	order_status             TEXT NOT NULL DEFAULT 'awaiting_shipment',
	order_date               DATETIME NOT NULL DEFAULT (datetime('now')),
	ship_by_date             DATETIME
);

CREATE TABLE IF NOT EXISTS order_items (
	id                     INTEGER PRIMARY KEY,
	order_id               INTEGER NOT NULL REFERENCES orders(id),
	product_id             INTEGER NOT NULL REFERENCES products(id),
	quantity               INTEGER NOT NULL DEFAULT 1,
	print_settings         TEXT,
	platform_line_item_key TEXT
);

CREATE TABLE IF NOT EXISTS print_tasks (
	id                       INTEGER PRIMARY KEY AUTOINCREMENT,
	order_id                 INTEGER NOT NULL REFERENCES orders(id),
	order_item_id            INTEGER NOT NULL REFERENCES order_items(id),
	product_id               INTEGER NOT NULL,
	task_index               INTEGER NOT NULL,
	shorthand_product_name   TEXT NOT NULL DEFAULT '',
	marketplace_order_number TEXT NOT NULL DEFAULT '',
	ship_by_date             DATETIME,
	quantity                 INTEGER NOT NULL DEFAULT 1,
	custom_text              TEXT NOT NULL DEFAULT '',
	color_1                  TEXT NOT NULL DEFAULT '',
	color_2                  TEXT NOT NULL DEFAULT '',
	status                   TEXT NOT NULL DEFAULT 'pending',
	needs_review             INTEGER NOT NULL DEFAULT 0,
	review_reason            TEXT NOT NULL DEFAULT '',
	annotation               TEXT NOT NULL DEFAULT '',
	render_state             TEXT NOT NULL DEFAULT 'not_rendered',
	render_retries           INTEGER NOT NULL DEFAULT 0,
	render_path              TEXT NOT NULL DEFAULT '',
	created_at               DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at               DATETIME NOT NULL DEFAULT (datetime('now')),
	UNIQUE (order_item_id, task_index)
);

CREATE INDEX IF NOT EXISTS idx_order_items_order_id ON order_items(order_id);
CREATE INDEX IF NOT EXISTS idx_print_tasks_order_id ON print_tasks(order_id);
CREATE INDEX IF NOT EXISTS idx_print_tasks_status ON print_tasks(status);

CREATE TABLE IF NOT EXISTS extraction_log (
	id                 TEXT PRIMARY KEY,
	source             TEXT NOT NULL,
	order_id           INTEGER NOT NULL,
	order_number       TEXT NOT NULL DEFAULT '',
	marketplace        TEXT NOT NULL DEFAULT '',
	provider           TEXT NOT NULL,
	model              TEXT NOT NULL,
	prompt             TEXT NOT NULL,
	raw_response       TEXT,
	processing_ms      INTEGER NOT NULL DEFAULT 0,
	success            INTEGER NOT NULL,
	error_message      TEXT,
	tasks_generated    INTEGER NOT NULL DEFAULT 0,
	needs_review_count INTEGER NOT NULL DEFAULT 0,
	created_at         DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_extraction_log_order_id ON extraction_log(order_id);

CREATE TABLE IF NOT EXISTS sync_outbox (
	order_id   INTEGER PRIMARY KEY,
	payload    TEXT NOT NULL,
	audit_note TEXT NOT NULL DEFAULT '',
	attempts   INTEGER NOT NULL DEFAULT 0,
	last_error TEXT,
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);
`

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const sqliteOrderColumns = `id, marketplace_order_number, COALESCE(platform_order_id, ''), marketplace, COALESCE(customer_notes, ''), order_status, order_date, ship_by_date`

func (s *SQLiteStore) GetOrderByID(ctx context.Context, id int64) (*model.Order, error) {
	return s.getOrder(ctx, `SELECT `+sqliteOrderColumns+` FROM orders WHERE id = ?`, id)
}

func (s *SQLiteStore) GetOrderByNumber(ctx context.Context, orderNumber string) (*model.Order, error) {
	return s.getOrder(ctx, `SELECT `+sqliteOrderColumns+` FROM orders WHERE marketplace_order_number = ?`, orderNumber)
}

func (s *SQLiteStore) GetOrderByPlatformID(ctx context.Context, platformID string) (*model.Order, error) {
	return s.getOrder(ctx, `SELECT `+sqliteOrderColumns+` FROM orders WHERE platform_order_id = ?`, platformID)
}

func (s *SQLiteStore) getOrder(ctx context.Context, query string, arg any) (*model.Order, error) {
	row := s.db.QueryRowContext(ctx, query, arg)
	o, err := scanSQLiteOrder(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "sqlite: get order")
	}
	if err := s.loadItems(ctx, o); err != nil {
		return nil, err
	}
	return o, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteOrder(row rowScanner) (*model.Order, error) {
	var o model.Order
	var status string
	var shipBy sql.NullTime
	err := row.Scan(
		&o.ID, &o.OrderNumber, &o.PlatformID, &o.Marketplace,
		&o.CustomerNotes, &status, &o.OrderDate, &shipBy,
	)
	if err != nil {
		return nil, err
	}
	o.Status = model.OrderStatus(status)
	if shipBy.Valid {
		t := shipBy.Time
		o.ShipByDate = &t
	}
	return &o, nil
}

func (s *SQLiteStore) ListPendingOrders(ctx context.Context, limit int, includeTasked bool) ([]model.Order, error) {
	query := `SELECT ` + sqliteOrderColumns + ` FROM orders WHERE order_status = 'awaiting_shipment'`
	if !includeTasked {
		query += ` AND EXISTS (
			SELECT 1 FROM order_items oi
			WHERE oi.order_id = orders.id
			  AND NOT EXISTS (SELECT 1 FROM print_tasks pt WHERE pt.order_item_id = oi.id)
		)`
	}
	query += ` ORDER BY order_date DESC LIMIT ?`

	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list pending orders")
	}
	defer rows.Close()

	var orders []model.Order
	for rows.Next() {
		o, err := scanSQLiteOrder(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan order")
		}
		orders = append(orders, *o)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: list pending orders iterate")
	}

	for i := range orders {
		if err := s.loadItems(ctx, &orders[i]); err != nil {
			return nil, err
		}
	}
	return orders, nil
}

func (s *SQLiteStore) loadItems(ctx context.Context, o *model.Order) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT oi.id, oi.order_id, oi.product_id, oi.quantity, COALESCE(oi.print_settings, ''),
		        COALESCE(oi.platform_line_item_key, ''), p.sku, p.name
		 FROM order_items oi
		 JOIN products p ON p.id = oi.product_id
		 WHERE oi.order_id = ?
		 ORDER BY oi.id`,
		o.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: load items for order %d", o.ID)
	}
	defer rows.Close()

	for rows.Next() {
		var item model.OrderItem
		var settingsJSON string
		var p model.Product
		if err := rows.Scan(
			&item.ID, &item.OrderID, &item.ProductID, &item.Quantity,
			&settingsJSON, &item.PlatformLineItemKey, &p.SKU, &p.Name,
		); err != nil {
			return eris.Wrap(err, "sqlite: scan order item")
		}
		if settingsJSON != "" {
			if err := json.Unmarshal([]byte(settingsJSON), &item.PrintSettings); err != nil {
				return eris.Wrapf(err, "sqlite: unmarshal print settings for item %d", item.ID)
			}
		}
		p.ID = item.ProductID
		item.Product = &p
		o.Items = append(o.Items, item)
	}
	return eris.Wrap(rows.Err(), "sqlite: load items iterate")
}

func (s *SQLiteStore) ListTasksForOrder(ctx context.Context, orderID int64) ([]model.PrintTask, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, order_id, order_item_id, product_id, task_index,
		        shorthand_product_name, marketplace_order_number, ship_by_date, quantity,
		        custom_text, color_1, color_2, status, needs_review, review_reason, annotation,
		        render_state, render_retries, render_path, created_at, updated_at
		 FROM print_tasks WHERE order_id = ? ORDER BY order_item_id, task_index`,
		orderID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list tasks for order %d", orderID)
	}
	defer rows.Close()

	var tasks []model.PrintTask
	for rows.Next() {
		var t model.PrintTask
		var status string
		var shipBy sql.NullTime
		if err := rows.Scan(
			&t.ID, &t.OrderID, &t.OrderItemID, &t.ProductID, &t.TaskIndex,
			&t.ShorthandProductName, &t.MarketplaceOrderNumber, &shipBy, &t.Quantity,
			&t.CustomText, &t.Color1, &t.Color2, &status, &t.NeedsReview, &t.ReviewReason, &t.Annotation,
			&t.RenderState, &t.RenderRetries, &t.RenderPath, &t.CreatedAt, &t.UpdatedAt,
		); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan task")
		}
		t.Status = model.TaskStatus(status)
		if shipBy.Valid {
			ts := shipBy.Time
			t.ShipByDate = &ts
		}
		tasks = append(tasks, t)
	}
	return tasks, eris.Wrap(rows.Err(), "sqlite: list tasks iterate")
}

const sqliteUpsertTaskSQL = `
INSERT INTO print_tasks (
	order_id, order_item_id, product_id, task_index,
	shorthand_product_name, marketplace_order_number, ship_by_date, quantity,
	custom_text, color_1, color_2, status, needs_review, review_reason, annotation,
	created_at, updated_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (order_item_id, task_index) DO UPDATE SET
	shorthand_product_name   = excluded.shorthand_product_name,
	marketplace_order_number = excluded.marketplace_order_number,
	ship_by_date             = excluded.ship_by_date,
	quantity                 = excluded.quantity,
	custom_text              = excluded.custom_text,
	color_1                  = excluded.color_1,
	color_2                  = excluded.color_2,
	needs_review             = excluded.needs_review,
	review_reason            = excluded.review_reason,
	annotation               = excluded.annotation,
	updated_at               = excluded.updated_at`

const sqliteEnqueueOutboxSQL = `
INSERT INTO sync_outbox (order_id, payload, audit_note, attempts, created_at, updated_at)
VALUES (?, ?, ?, 0, ?, ?)
ON CONFLICT (order_id) DO UPDATE SET
	payload    = excluded.payload,
	audit_note = excluded.audit_note,
	attempts   = 0,
	last_error = NULL,
	updated_at = excluded.updated_at`

func (s *SQLiteStore) MaterializeTasks(ctx context.Context, tasks []model.PrintTask, job *model.SyncJob) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: materialize: begin tx")
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	for _, t := range tasks {
		_, err := tx.ExecContext(ctx, sqliteUpsertTaskSQL,
			t.OrderID, t.OrderItemID, t.ProductID, t.TaskIndex,
			t.ShorthandProductName, t.MarketplaceOrderNumber, t.ShipByDate, t.Quantity,
			t.CustomText, t.Color1, t.Color2, string(model.TaskStatusPending),
			t.NeedsReview, t.ReviewReason, t.Annotation, now, now,
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: materialize: upsert task item=%d index=%d", t.OrderItemID, t.TaskIndex)
		}
	}

	if job != nil {
		payload, err := json.Marshal(job)
		if err != nil {
			return eris.Wrap(err, "sqlite: materialize: marshal sync job")
		}
		if _, err := tx.ExecContext(ctx, sqliteEnqueueOutboxSQL, job.OrderID, string(payload), job.AuditNote, now, now); err != nil {
			return eris.Wrapf(err, "sqlite: materialize: enqueue outbox for order %d", job.OrderID)
		}
	}

	return eris.Wrap(tx.Commit(), "sqlite: materialize: commit tx")
}

func (s *SQLiteStore) RecordExtractionAttempt(ctx context.Context, attempt *model.ExtractionAttempt) error {
	if attempt.ID == "" {
		attempt.ID = uuid.New().String()
	}
	if attempt.CreatedAt.IsZero() {
		attempt.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO extraction_log (
			id, source, order_id, order_number, marketplace, provider, model,
			prompt, raw_response, processing_ms, success, error_message,
			tasks_generated, needs_review_count, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		attempt.ID, attempt.Source, attempt.OrderID, attempt.OrderNumber,
		attempt.Marketplace, attempt.Provider, attempt.Model, attempt.Prompt,
		attempt.RawResponse, attempt.ProcessingMS, attempt.Success, attempt.ErrorMessage,
		attempt.TasksGenerated, attempt.NeedsReviewCount, attempt.CreatedAt,
	)
	return eris.Wrapf(err, "sqlite: record extraction attempt for order %d", attempt.OrderID)
}

func (s *SQLiteStore) ListOutbox(ctx context.Context, limit int) ([]OutboxEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT order_id, payload, audit_note, attempts, COALESCE(last_error, ''), updated_at
		 FROM sync_outbox ORDER BY created_at LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list outbox")
	}
	defer rows.Close()

	var entries []OutboxEntry
	for rows.Next() {
		var e OutboxEntry
		var orderID int64
		var payload, auditNote string
		if err := rows.Scan(&orderID, &payload, &auditNote, &e.Attempts, &e.LastError, &e.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan outbox entry")
		}
		if err := json.Unmarshal([]byte(payload), &e.Job); err != nil {
			return nil, eris.Wrapf(err, "sqlite: unmarshal outbox payload for order %d", orderID)
		}
		e.Job.OrderID = orderID
		if e.Job.AuditNote == "" {
			e.Job.AuditNote = auditNote
		}
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "sqlite: list outbox iterate")
}

func (s *SQLiteStore) RemoveOutbox(ctx context.Context, orderID int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sync_outbox WHERE order_id = ?`, orderID)
	return eris.Wrapf(err, "sqlite: remove outbox for order %d", orderID)
}

func (s *SQLiteStore) MarkOutboxFailure(ctx context.Context, orderID int64, errMsg string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE sync_outbox SET attempts = attempts + 1, last_error = ?, updated_at = ? WHERE order_id = ?`,
		errMsg, time.Now().UTC(), orderID,
	)
	return eris.Wrapf(err, "sqlite: mark outbox failure for order %d", orderID)
}
