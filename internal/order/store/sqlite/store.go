// Package sqlite provides a SQLite-backed implementation of store.Store.
//
// WAL mode is enabled on Open so that readers never block writers and vice
// versa — important because the subscriber goroutine writes while the HTTP
// handlers read.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jcmexdev/order-saga/internal/order/domain"
	"github.com/jcmexdev/order-saga/internal/order/store"

	// Register the pure-Go SQLite driver.
	// We use modernc.org/sqlite instead of mattn/go-sqlite3 to avoid CGO
	// requirements, making it easier to build and run in Docker (Alpine).
	_ "modernc.org/sqlite"
)

// schema is the DDL executed once on startup.
const schema = `
CREATE TABLE IF NOT EXISTS orders (
    id              TEXT PRIMARY KEY,
    customer_id     TEXT    NOT NULL,
    customer_name   TEXT    NOT NULL,
    customer_email  TEXT    NOT NULL,
    status          TEXT    NOT NULL,
    total_amount    REAL    NOT NULL,

    -- Optimistic-concurrency token, checked and incremented on every write.
    version         INTEGER NOT NULL DEFAULT 1,

    -- Wall-clock creation time (RFC3339 stored as TEXT, SQLite idiom).
    created_at      TEXT    NOT NULL
);

CREATE TABLE IF NOT EXISTS order_items (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    order_id        TEXT    NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
    product_id      TEXT    NOT NULL,
    product_name    TEXT    NOT NULL,
    quantity        INTEGER NOT NULL,
    unit_price      REAL    NOT NULL,

    -- Preserves the item order given at creation.
    position        INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_order_items_order_id ON order_items(order_id, position);

-- Transactional outbox: broker messages written in the same transaction as
-- the order they announce. sent_at stays NULL until the broker accepted the
-- message.
CREATE TABLE IF NOT EXISTS outbox (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    queue           TEXT    NOT NULL,
    payload         BLOB    NOT NULL,
    created_at      TEXT    NOT NULL,
    sent_at         TEXT
);

CREATE INDEX IF NOT EXISTS idx_outbox_unsent ON outbox(id) WHERE sent_at IS NULL;
`

// Store is the SQLite implementation of store.Store.
type Store struct {
	db *sql.DB
}

var _ store.Store = (*Store)(nil)

// Open opens (or creates) the SQLite database at the given path and applies
// the schema.
//
//	st, err := sqlite.Open("./data/orders.db")
func Open(path string) (*Store, error) {
	// The pure-Go driver uses _pragma query parameters to configure connection state.
	// WAL enables concurrent readers. foreign_keys=on enforces the cascade delete
	// of order items. busy_timeout waits for locks instead of failing immediately.
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(on)&_pragma=busy_timeout(5000)", path)

	// Use "sqlite", not "sqlite3" for the modernc driver.
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %q: %w", path, err)
	}

	// SQLite performs best with a single writer connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the database connection. Call it with defer in main().
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateWithOutbox inserts the order, its items and the stock-check outbox
// message in one transaction, so a crash can never leave a durable order
// without an outstanding stock-check request.
func (s *Store) CreateWithOutbox(ctx context.Context, o *domain.Order, msg store.OutboxMessage) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin create tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO orders (id, customer_id, customer_name, customer_email, status, total_amount, version, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		o.ID, o.CustomerID, o.CustomerName, o.CustomerEmail,
		string(o.Status), o.TotalAmount, o.Version, formatTime(o.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("sqlite: insert order %q: %w", o.ID, err)
	}

	for pos, item := range o.Items {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO order_items (order_id, product_id, product_name, quantity, unit_price, position)
			VALUES (?, ?, ?, ?, ?, ?)`,
			o.ID, item.ProductID, item.ProductName, item.Quantity, item.UnitPrice, pos,
		)
		if err != nil {
			return fmt.Errorf("sqlite: insert item %d of order %q: %w", pos, o.ID, err)
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO outbox (queue, payload, created_at) VALUES (?, ?, ?)`,
		msg.Queue, msg.Payload, formatTime(o.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("sqlite: insert outbox message for order %q: %w", o.ID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit create tx for order %q: %w", o.ID, err)
	}
	return nil
}

// Find returns the order with its items, or store.ErrNotFound.
func (s *Store) Find(ctx context.Context, id string) (*domain.Order, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, customer_id, customer_name, customer_email, status, total_amount, version, created_at
		FROM   orders
		WHERE  id = ?`, id)

	o, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: find order %q: %w", id, err)
	}

	o.Items, err = s.loadItems(ctx, id)
	if err != nil {
		return nil, err
	}
	return o, nil
}

// List returns all orders, items included, ordered by creation time then id
// so the result is stable across calls.
func (s *Store) List(ctx context.Context) ([]domain.Order, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, customer_id, customer_name, customer_email, status, total_amount, version, created_at
		FROM   orders
		ORDER  BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list orders: %w", err)
	}
	defer rows.Close()

	var orders []domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan order row: %w", err)
		}
		orders = append(orders, *o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterate orders: %w", err)
	}

	for i := range orders {
		orders[i].Items, err = s.loadItems(ctx, orders[i].ID)
		if err != nil {
			return nil, err
		}
	}
	return orders, nil
}

// Save writes the status guarded by the version token. The UPDATE only
// matches when the stored version equals o.Version, which makes concurrent
// writers fail with ErrVersionConflict instead of silently losing updates.
func (s *Store) Save(ctx context.Context, o *domain.Order) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE orders
		SET    status = ?, version = version + 1
		WHERE  id = ? AND version = ?`,
		string(o.Status), o.ID, o.Version,
	)
	if err != nil {
		return fmt.Errorf("sqlite: save order %q: %w", o.ID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: save order %q: rows affected: %w", o.ID, err)
	}
	if n == 0 {
		// Distinguish a stale version from a vanished order.
		var exists int
		err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM orders WHERE id = ?`, o.ID).Scan(&exists)
		if err != nil {
			return fmt.Errorf("sqlite: save order %q: existence check: %w", o.ID, err)
		}
		if exists == 0 {
			return store.ErrNotFound
		}
		return store.ErrVersionConflict
	}

	o.Version++
	return nil
}

// UnsentMessages returns up to limit unpublished outbox rows, oldest first.
func (s *Store) UnsentMessages(ctx context.Context, limit int) ([]store.OutboxMessage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, queue, payload, created_at
		FROM   outbox
		WHERE  sent_at IS NULL
		ORDER  BY id
		LIMIT  ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite: query unsent outbox: %w", err)
	}
	defer rows.Close()

	var msgs []store.OutboxMessage
	for rows.Next() {
		var m store.OutboxMessage
		var createdAt string
		if err := rows.Scan(&m.ID, &m.Queue, &m.Payload, &createdAt); err != nil {
			return nil, fmt.Errorf("sqlite: scan outbox row: %w", err)
		}
		m.CreatedAt, err = parseRFC3339(createdAt)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// MarkSent stamps the outbox row after broker acknowledgment.
func (s *Store) MarkSent(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE outbox SET sent_at = ? WHERE id = ?`, nowRFC3339(), id)
	if err != nil {
		return fmt.Errorf("sqlite: mark outbox %d sent: %w", id, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*domain.Order, error) {
	var o domain.Order
	var status, createdAt string
	err := row.Scan(&o.ID, &o.CustomerID, &o.CustomerName, &o.CustomerEmail,
		&status, &o.TotalAmount, &o.Version, &createdAt)
	if err != nil {
		return nil, err
	}
	o.Status = domain.Status(status)
	o.CreatedAt, err = parseRFC3339(createdAt)
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (s *Store) loadItems(ctx context.Context, orderID string) ([]domain.OrderItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT product_id, product_name, quantity, unit_price
		FROM   order_items
		WHERE  order_id = ?
		ORDER  BY position`, orderID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: load items of order %q: %w", orderID, err)
	}
	defer rows.Close()

	var items []domain.OrderItem
	for rows.Next() {
		var it domain.OrderItem
		if err := rows.Scan(&it.ProductID, &it.ProductName, &it.Quantity, &it.UnitPrice); err != nil {
			return nil, fmt.Errorf("sqlite: scan item of order %q: %w", orderID, err)
		}
		items = append(items, it)
	}
	return items, rows.Err()
}
