package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/fabroute/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS quotes (
	id             TEXT PRIMARY KEY,
	data           TEXT NOT NULL,
	created_at     DATETIME NOT NULL,
	expires_at     DATETIME NOT NULL,
	invalidated_at DATETIME
);

CREATE TABLE IF NOT EXISTS orders (
	id                 TEXT PRIMARY KEY,
	quote_id           TEXT NOT NULL REFERENCES quotes(id),
	provider_id        TEXT,
	service_type       TEXT NOT NULL,
	status             TEXT NOT NULL,
	priority           TEXT NOT NULL,
	external_job_id    TEXT NOT NULL UNIQUE,
	milestones         TEXT NOT NULL,
	provider_notes     TEXT NOT NULL DEFAULT '',
	customer_notes     TEXT NOT NULL DEFAULT '',
	estimated_cost     TEXT,
	estimated_delivery DATETIME,
	created_at         DATETIME NOT NULL,
	updated_at         DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS bridge_events (
	external_job_id TEXT NOT NULL,
	mapped_status   TEXT NOT NULL,
	order_id        TEXT NOT NULL,
	provider_status TEXT NOT NULL,
	occurred_at     DATETIME NOT NULL,
	received_at     DATETIME NOT NULL,
	PRIMARY KEY (external_job_id, mapped_status)
);

CREATE TABLE IF NOT EXISTS alerts (
	id             TEXT PRIMARY KEY,
	type           TEXT NOT NULL,
	severity       TEXT NOT NULL,
	order_id       TEXT NOT NULL DEFAULT '',
	correlation_id TEXT NOT NULL DEFAULT '',
	message        TEXT NOT NULL,
	created_at     DATETIME NOT NULL,
	resolved_at    DATETIME
);

CREATE INDEX IF NOT EXISTS idx_orders_status ON orders(status);
CREATE INDEX IF NOT EXISTS idx_orders_provider ON orders(provider_id);
CREATE INDEX IF NOT EXISTS idx_orders_updated_at ON orders(updated_at);
CREATE INDEX IF NOT EXISTS idx_alerts_open ON alerts(type, resolved_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Quotes ---

func (s *SQLiteStore) SaveQuote(ctx context.Context, q *model.Quote) error {
	data, err := encodeQuote(q)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO quotes (id, data, created_at, expires_at) VALUES (?, ?, ?, ?)`,
		q.ID, string(data), q.CreatedAt.UTC(), q.ExpiresAt.UTC(),
	)
	return eris.Wrapf(err, "sqlite: insert quote %s", q.ID)
}

func (s *SQLiteStore) GetQuote(ctx context.Context, id string) (*model.Quote, error) {
	var data string
	var invalidated sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT data, invalidated_at FROM quotes WHERE id = ?`, id,
	).Scan(&data, &invalidated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "quote %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get quote %s", id)
	}
	return decodeQuote([]byte(data), nullTime(invalidated))
}

func (s *SQLiteStore) InvalidateQuote(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE quotes SET invalidated_at = ? WHERE id = ? AND invalidated_at IS NULL`,
		at.UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: invalidate quote %s", id)
	}
	return s.resolveMiss(ctx, res, `SELECT 1 FROM quotes WHERE id = ?`, "quote", id)
}

// --- Orders ---

const sqliteOrderColumns = `id, quote_id, provider_id, service_type, status, priority, external_job_id,
	milestones, provider_notes, customer_notes, estimated_cost, estimated_delivery, created_at, updated_at`

func (s *SQLiteStore) CreateOrder(ctx context.Context, o *model.ServiceOrder) error {
	cols, err := encodeOrder(o)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO orders (`+sqliteOrderColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.ID, o.QuoteID, cols.providerID, string(o.ServiceType), string(o.Status), string(o.Priority),
		o.ExternalJobID, string(cols.milestones), o.ProviderNotes, o.CustomerNotes, cols.cost,
		utcPtr(cols.delivery), o.CreatedAt.UTC(), o.UpdatedAt.UTC(),
	)
	return eris.Wrapf(err, "sqlite: insert order %s", o.ID)
}

func (s *SQLiteStore) GetOrder(ctx context.Context, id string) (*model.ServiceOrder, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sqliteOrderColumns+` FROM orders WHERE id = ?`, id)
	return scanSQLiteOrder(row, id)
}

func (s *SQLiteStore) GetOrderByExternalJobID(ctx context.Context, externalJobID string) (*model.ServiceOrder, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sqliteOrderColumns+` FROM orders WHERE external_job_id = ?`, externalJobID)
	return scanSQLiteOrder(row, externalJobID)
}

func (s *SQLiteStore) UpdateOrder(ctx context.Context, o *model.ServiceOrder, expected model.OrderStatus) error {
	cols, err := encodeOrder(o)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE orders SET provider_id = ?, status = ?, milestones = ?, provider_notes = ?, customer_notes = ?,
		 estimated_cost = ?, estimated_delivery = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		cols.providerID, string(o.Status), string(cols.milestones), o.ProviderNotes, o.CustomerNotes,
		cols.cost, utcPtr(cols.delivery), o.UpdatedAt.UTC(), o.ID, string(expected),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update order %s", o.ID)
	}
	return s.resolveMiss(ctx, res, `SELECT 1 FROM orders WHERE id = ?`, "order", o.ID)
}

func (s *SQLiteStore) ListOrders(ctx context.Context, filter OrderFilter) ([]model.ServiceOrder, error) {
	query := `SELECT ` + sqliteOrderColumns + ` FROM orders WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.ProviderID != "" {
		query += ` AND provider_id = ?`
		args = append(args, filter.ProviderID)
	}
	query += ` ORDER BY created_at DESC, id LIMIT ?`
	args = append(args, listLimit(filter.Limit))
	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list orders")
	}
	defer rows.Close() //nolint:errcheck

	orders := []model.ServiceOrder{}
	for rows.Next() {
		o, err := scanSQLiteOrder(rows, "")
		if err != nil {
			return nil, err
		}
		orders = append(orders, *o)
	}
	return orders, eris.Wrap(rows.Err(), "sqlite: list orders iterate")
}

func (s *SQLiteStore) CountOrdersByStatus(ctx context.Context, since time.Time) (map[model.OrderStatus]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM orders WHERE updated_at >= ? GROUP BY status`, since.UTC(),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: count orders")
	}
	defer rows.Close() //nolint:errcheck

	counts := make(map[model.OrderStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan order count")
		}
		counts[model.OrderStatus(status)] = n
	}
	return counts, eris.Wrap(rows.Err(), "sqlite: count orders iterate")
}

// --- Bridge events ---

func (s *SQLiteStore) RecordBridgeEvent(ctx context.Context, ev BridgeEvent) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO bridge_events (external_job_id, mapped_status, order_id, provider_status, occurred_at, received_at)
		 VALUES (?, ?, ?, ?, ?, ?) ON CONFLICT (external_job_id, mapped_status) DO NOTHING`,
		ev.ExternalJobID, string(ev.MappedStatus), ev.OrderID, ev.ProviderStatus, ev.OccurredAt.UTC(), ev.ReceivedAt.UTC(),
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: record bridge event %s/%s", ev.ExternalJobID, ev.MappedStatus)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: rows affected")
	}
	return n == 1, nil
}

// --- Alerts ---

func (s *SQLiteStore) CreateAlert(ctx context.Context, a *model.Alert) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO alerts (id, type, severity, order_id, correlation_id, message, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.ID, string(a.Type), a.Severity, a.OrderID, a.CorrelationID, a.Message, a.CreatedAt.UTC(),
	)
	return eris.Wrapf(err, "sqlite: insert alert %s", a.ID)
}

func (s *SQLiteStore) ListAlerts(ctx context.Context, filter AlertFilter) ([]model.Alert, error) {
	query := `SELECT id, type, severity, order_id, correlation_id, message, created_at, resolved_at FROM alerts WHERE 1=1`
	var args []any
	if filter.Type != "" {
		query += ` AND type = ?`
		args = append(args, string(filter.Type))
	}
	if filter.OpenOnly {
		query += ` AND resolved_at IS NULL`
	}
	query += ` ORDER BY created_at DESC, id LIMIT ?`
	args = append(args, listLimit(filter.Limit))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list alerts")
	}
	defer rows.Close() //nolint:errcheck

	alerts := []model.Alert{}
	for rows.Next() {
		var a model.Alert
		var resolved sql.NullTime
		if err := rows.Scan(&a.ID, &a.Type, &a.Severity, &a.OrderID, &a.CorrelationID, &a.Message, &a.CreatedAt, &resolved); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan alert")
		}
		a.ResolvedAt = nullTime(resolved)
		alerts = append(alerts, a)
	}
	return alerts, eris.Wrap(rows.Err(), "sqlite: list alerts iterate")
}

func (s *SQLiteStore) ResolveAlert(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE alerts SET resolved_at = ? WHERE id = ? AND resolved_at IS NULL`, at.UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: resolve alert %s", id)
	}
	return s.resolveMiss(ctx, res, `SELECT 1 FROM alerts WHERE id = ?`, "alert", id)
}

// helpers

// resolveMiss turns a zero-row conditional update into ErrNotFound when the
// row is missing and ErrConflict when the condition failed.
func (s *SQLiteStore) resolveMiss(ctx context.Context, res sql.Result, existsQuery, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n > 0 {
		return nil
	}
	var one int
	err = s.db.QueryRowContext(ctx, existsQuery, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
	}
	if err != nil {
		return eris.Wrapf(err, "sqlite: check %s %s", entity, id)
	}
	return eris.Wrapf(ErrConflict, "%s %s", entity, id)
}

type scannable interface {
	Scan(dest ...any) error
}

func scanSQLiteOrder(row scannable, key string) (*model.ServiceOrder, error) {
	var o model.ServiceOrder
	var providerID, cost sql.NullString
	var milestones string
	var delivery sql.NullTime

	err := row.Scan(&o.ID, &o.QuoteID, &providerID, &o.ServiceType, &o.Status, &o.Priority, &o.ExternalJobID,
		&milestones, &o.ProviderNotes, &o.CustomerNotes, &cost, &delivery, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "order %s", key)
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan order")
	}
	if providerID.Valid {
		o.ProviderID = &providerID.String
	}
	o.EstimatedDelivery = nullTime(delivery)
	var costPtr *string
	if cost.Valid {
		costPtr = &cost.String
	}
	if err := decodeOrder(&o, []byte(milestones), costPtr); err != nil {
		return nil, err
	}
	return &o, nil
}

func nullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
