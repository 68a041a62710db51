package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/fabroute/internal/db"
	"github.com/sells-group/fabroute/internal/model"
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

// NewPostgresWithPool wraps an existing pool. The caller keeps ownership.
func NewPostgresWithPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Pool returns the underlying database pool for subsystems that query the
// same database directly (the provider directory and roster import).
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS quotes (
	id             TEXT PRIMARY KEY,
	data           JSONB NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL,
	expires_at     TIMESTAMPTZ NOT NULL,
	invalidated_at TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS orders (
	id                 TEXT PRIMARY KEY,
	quote_id           TEXT NOT NULL REFERENCES quotes(id),
	provider_id        TEXT,
	service_type       TEXT NOT NULL,
	status             TEXT NOT NULL,
	priority           TEXT NOT NULL,
	external_job_id    TEXT NOT NULL UNIQUE,
	milestones         JSONB NOT NULL,
	provider_notes     TEXT NOT NULL DEFAULT '',
	customer_notes     TEXT NOT NULL DEFAULT '',
	estimated_cost     TEXT,
	estimated_delivery TIMESTAMPTZ,
	created_at         TIMESTAMPTZ NOT NULL,
	updated_at         TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_orders_status ON orders(status);
CREATE INDEX IF NOT EXISTS idx_orders_provider ON orders(provider_id);
CREATE INDEX IF NOT EXISTS idx_orders_updated_at ON orders(updated_at);

CREATE TABLE IF NOT EXISTS bridge_events (
	external_job_id TEXT NOT NULL,
	mapped_status   TEXT NOT NULL,
	order_id        TEXT NOT NULL,
	provider_status TEXT NOT NULL,
	occurred_at     TIMESTAMPTZ NOT NULL,
	received_at     TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (external_job_id, mapped_status)
);

CREATE TABLE IF NOT EXISTS alerts (
	id             TEXT PRIMARY KEY,
	type           TEXT NOT NULL,
	severity       TEXT NOT NULL,
	order_id       TEXT NOT NULL DEFAULT '',
	correlation_id TEXT NOT NULL DEFAULT '',
	message        TEXT NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL,
	resolved_at    TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_alerts_open ON alerts(type) WHERE resolved_at IS NULL;

CREATE TABLE IF NOT EXISTS providers (
	id                  TEXT PRIMARY KEY,
	name                TEXT NOT NULL,
	location            BYTEA,
	capabilities        JSONB NOT NULL DEFAULT '[]',
	rating              DOUBLE PRECISION NOT NULL DEFAULT 0,
	total_orders        INTEGER NOT NULL DEFAULT 0,
	success_rate        DOUBLE PRECISION NOT NULL DEFAULT 0,
	certification_level TEXT NOT NULL DEFAULT '',
	active              BOOLEAN NOT NULL DEFAULT true,
	updated_at          TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_providers_capabilities ON providers USING GIN (capabilities);
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

// --- Quotes ---

func (s *PostgresStore) SaveQuote(ctx context.Context, q *model.Quote) error {
	data, err := encodeQuote(q)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO quotes (id, data, created_at, expires_at) VALUES ($1, $2, $3, $4)`,
		q.ID, data, q.CreatedAt.UTC(), q.ExpiresAt.UTC(),
	)
	return eris.Wrapf(err, "postgres: insert quote %s", q.ID)
}

func (s *PostgresStore) GetQuote(ctx context.Context, id string) (*model.Quote, error) {
	var data []byte
	var invalidated *time.Time
	err := s.pool.QueryRow(ctx,
		`SELECT data, invalidated_at FROM quotes WHERE id = $1`, id,
	).Scan(&data, &invalidated)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "quote %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get quote %s", id)
	}
	return decodeQuote(data, invalidated)
}

func (s *PostgresStore) InvalidateQuote(ctx context.Context, id string, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE quotes SET invalidated_at = $1 WHERE id = $2 AND invalidated_at IS NULL`,
		at.UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: invalidate quote %s", id)
	}
	return s.resolveMiss(ctx, tag, `SELECT 1 FROM quotes WHERE id = $1`, "quote", id)
}

// --- Orders ---

const pgOrderColumns = `id, quote_id, provider_id, service_type, status, priority, external_job_id,
	milestones, provider_notes, customer_notes, estimated_cost, estimated_delivery, created_at, updated_at`

func (s *PostgresStore) CreateOrder(ctx context.Context, o *model.ServiceOrder) error {
	cols, err := encodeOrder(o)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO orders (`+pgOrderColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		o.ID, o.QuoteID, cols.providerID, string(o.ServiceType), string(o.Status), string(o.Priority),
		o.ExternalJobID, cols.milestones, o.ProviderNotes, o.CustomerNotes, cols.cost,
		utcPtr(cols.delivery), o.CreatedAt.UTC(), o.UpdatedAt.UTC(),
	)
	return eris.Wrapf(err, "postgres: insert order %s", o.ID)
}

func (s *PostgresStore) GetOrder(ctx context.Context, id string) (*model.ServiceOrder, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+pgOrderColumns+` FROM orders WHERE id = $1`, id)
	return scanPgOrder(row, id)
}

func (s *PostgresStore) GetOrderByExternalJobID(ctx context.Context, externalJobID string) (*model.ServiceOrder, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+pgOrderColumns+` FROM orders WHERE external_job_id = $1`, externalJobID)
	return scanPgOrder(row, externalJobID)
}

func (s *PostgresStore) UpdateOrder(ctx context.Context, o *model.ServiceOrder, expected model.OrderStatus) error {
	cols, err := encodeOrder(o)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE orders SET provider_id = $1, status = $2, milestones = $3, provider_notes = $4, customer_notes = $5,
		 estimated_cost = $6, estimated_delivery = $7, updated_at = $8
		 WHERE id = $9 AND status = $10`,
		cols.providerID, string(o.Status), cols.milestones, o.ProviderNotes, o.CustomerNotes,
		cols.cost, utcPtr(cols.delivery), o.UpdatedAt.UTC(), o.ID, string(expected),
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update order %s", o.ID)
	}
	return s.resolveMiss(ctx, tag, `SELECT 1 FROM orders WHERE id = $1`, "order", o.ID)
}

func (s *PostgresStore) ListOrders(ctx context.Context, filter OrderFilter) ([]model.ServiceOrder, error) {
	query := `SELECT ` + pgOrderColumns + ` FROM orders WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	if filter.ProviderID != "" {
		query += fmt.Sprintf(` AND provider_id = $%d`, argIdx)
		args = append(args, filter.ProviderID)
		argIdx++
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC, id LIMIT $%d`, argIdx)
	args = append(args, listLimit(filter.Limit))
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list orders")
	}
	defer rows.Close()

	orders := []model.ServiceOrder{}
	for rows.Next() {
		o, err := scanPgOrder(rows, "")
		if err != nil {
			return nil, err
		}
		orders = append(orders, *o)
	}
	return orders, eris.Wrap(rows.Err(), "postgres: list orders iterate")
}

func (s *PostgresStore) CountOrdersByStatus(ctx context.Context, since time.Time) (map[model.OrderStatus]int, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT status, COUNT(*) FROM orders WHERE updated_at >= $1 GROUP BY status`, since.UTC(),
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: count orders")
	}
	defer rows.Close()

	counts := make(map[model.OrderStatus]int)
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, eris.Wrap(err, "postgres: scan order count")
		}
		counts[model.OrderStatus(status)] = int(n)
	}
	return counts, eris.Wrap(rows.Err(), "postgres: count orders iterate")
}

// --- Bridge events ---

func (s *PostgresStore) RecordBridgeEvent(ctx context.Context, ev BridgeEvent) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO bridge_events (external_job_id, mapped_status, order_id, provider_status, occurred_at, received_at)
		 VALUES ($1, $2, $3, $4, $5, $6) ON CONFLICT (external_job_id, mapped_status) DO NOTHING`,
		ev.ExternalJobID, string(ev.MappedStatus), ev.OrderID, ev.ProviderStatus, ev.OccurredAt.UTC(), ev.ReceivedAt.UTC(),
	)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: record bridge event %s/%s", ev.ExternalJobID, ev.MappedStatus)
	}
	return tag.RowsAffected() == 1, nil
}

// --- Alerts ---

func (s *PostgresStore) CreateAlert(ctx context.Context, a *model.Alert) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO alerts (id, type, severity, order_id, correlation_id, message, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		a.ID, string(a.Type), a.Severity, a.OrderID, a.CorrelationID, a.Message, a.CreatedAt.UTC(),
	)
	return eris.Wrapf(err, "postgres: insert alert %s", a.ID)
}

func (s *PostgresStore) ListAlerts(ctx context.Context, filter AlertFilter) ([]model.Alert, error) {
	query := `SELECT id, type, severity, order_id, correlation_id, message, created_at, resolved_at FROM alerts WHERE true`
	args := []any{}
	argIdx := 1
	if filter.Type != "" {
		query += fmt.Sprintf(` AND type = $%d`, argIdx)
		args = append(args, string(filter.Type))
		argIdx++
	}
	if filter.OpenOnly {
		query += ` AND resolved_at IS NULL`
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC, id LIMIT $%d`, argIdx)
	args = append(args, listLimit(filter.Limit))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list alerts")
	}
	defer rows.Close()

	alerts := []model.Alert{}
	for rows.Next() {
		var a model.Alert
		var typ string
		if err := rows.Scan(&a.ID, &typ, &a.Severity, &a.OrderID, &a.CorrelationID, &a.Message, &a.CreatedAt, &a.ResolvedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan alert")
		}
		a.Type = model.AlertType(typ)
		alerts = append(alerts, a)
	}
	return alerts, eris.Wrap(rows.Err(), "postgres: list alerts iterate")
}

func (s *PostgresStore) ResolveAlert(ctx context.Context, id string, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE alerts SET resolved_at = $1 WHERE id = $2 AND resolved_at IS NULL`, at.UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: resolve alert %s", id)
	}
	return s.resolveMiss(ctx, tag, `SELECT 1 FROM alerts WHERE id = $1`, "alert", id)
}

// helpers

func (s *PostgresStore) resolveMiss(ctx context.Context, tag pgconn.CommandTag, existsQuery, entity, id string) error {
	if tag.RowsAffected() > 0 {
		return nil
	}
	var one int
	err := s.pool.QueryRow(ctx, existsQuery, id).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
	}
	if err != nil {
		return eris.Wrapf(err, "postgres: check %s %s", entity, id)
	}
	return eris.Wrapf(ErrConflict, "%s %s", entity, id)
}

func scanPgOrder(row pgx.Row, key string) (*model.ServiceOrder, error) {
	var o model.ServiceOrder
	var serviceType, status, priority string
	var milestones []byte
	var cost *string

	err := row.Scan(&o.ID, &o.QuoteID, &o.ProviderID, &serviceType, &status, &priority, &o.ExternalJobID,
		&milestones, &o.ProviderNotes, &o.CustomerNotes, &cost, &o.EstimatedDelivery, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "order %s", key)
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan order")
	}
	o.ServiceType = model.ServiceType(serviceType)
	o.Status = model.OrderStatus(status)
	o.Priority = model.Priority(priority)
	if err := decodeOrder(&o, milestones, cost); err != nil {
		return nil, err
	}
	return &o, nil
}
