package pricing

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/fabroute/internal/model"
	"github.com/sells-group/fabroute/internal/store"
)

var (
	// ErrQuoteExpired is returned by Get once a quote's TTL has elapsed.
	ErrQuoteExpired = eris.New("pricing: quote expired")
	// ErrQuoteUnavailable is returned when accepting an expired or already
	// accepted quote.
	ErrQuoteUnavailable = eris.New("pricing: quote unavailable")
)

// QuoteStore is the persistence the Book needs.
type QuoteStore interface {
	SaveQuote(ctx context.Context, q *model.Quote) error
	GetQuote(ctx context.Context, id string) (*model.Quote, error)
	InvalidateQuote(ctx context.Context, id string, at time.Time) error
}

// MetricsSource resolves an uploaded file reference to its mesh metrics.
type MetricsSource interface {
	Metrics(ctx context.Context, fileRef string) (*model.MeshMetrics, error)
}

// Book issues, persists and accepts quotes.
type Book struct {
	engine  *Engine
	store   QuoteStore
	metrics MetricsSource
	ttl     time.Duration
	now     func() time.Time
	log     *zap.Logger
}

// BookOption configures a Book.
type BookOption func(*Book)

// WithClock overrides the clock used to stamp and expire quotes.
func WithClock(now func() time.Time) BookOption {
	return func(b *Book) { b.now = now }
}

// WithMetricsSource enables CreateFromMetrics.
func WithMetricsSource(m MetricsSource) BookOption {
	return func(b *Book) { b.metrics = m }
}

// NewBook creates a Book. The quote TTL comes from the engine's rates.
func NewBook(engine *Engine, st QuoteStore, opts ...BookOption) *Book {
	b := &Book{
		engine: engine,
		store:  st,
		ttl:    engine.Rates().QuoteTTL,
		now:    time.Now,
		log:    zap.L().With(zap.String("component", "quote_book")),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Create prices the input and persists the resulting quote.
func (b *Book) Create(ctx context.Context, in QuoteInput) (*model.Quote, error) {
	q, err := b.engine.CalculateQuote(in)
	if err != nil {
		return nil, err
	}
	now := b.now().UTC()
	q.ID = uuid.NewString()
	q.CreatedAt = now
	q.ExpiresAt = now.Add(b.ttl)

	if err := b.store.SaveQuote(ctx, q); err != nil {
		return nil, eris.Wrap(err, "pricing: save quote")
	}
	b.log.Debug("quote created",
		zap.String("quote_id", q.ID),
		zap.String("total", q.Breakdown.Total.StringFixed(2)),
	)
	return q, nil
}

// CreateFromMetrics looks up the file's mesh metrics and quotes its volume.
func (b *Book) CreateFromMetrics(ctx context.Context, fileRef string, params model.PrintParameters) (*model.Quote, error) {
	if b.metrics == nil {
		return nil, eris.New("pricing: no mesh metrics source configured")
	}
	m, err := b.metrics.Metrics(ctx, fileRef)
	if err != nil {
		return nil, eris.Wrapf(err, "pricing: mesh metrics for %s", fileRef)
	}
	if !m.IsManifold {
		return nil, &ValidationError{Field: "file_ref", Reason: "mesh is not manifold"}
	}
	return b.Create(ctx, QuoteInput{VolumeMM3: m.VolumeMM3, Parameters: params})
}

// Get returns a quote. Expired quotes yield ErrQuoteExpired; accepted quotes
// are returned with InvalidatedAt set.
func (b *Book) Get(ctx context.Context, id string) (*model.Quote, error) {
	q, err := b.store.GetQuote(ctx, id)
	if err != nil {
		return nil, err
	}
	if !b.now().Before(q.ExpiresAt) {
		return nil, eris.Wrapf(ErrQuoteExpired, "quote %s", id)
	}
	return q, nil
}

// Accept invalidates a usable quote exactly once and returns it.
func (b *Book) Accept(ctx context.Context, id string) (*model.Quote, error) {
	q, err := b.store.GetQuote(ctx, id)
	if err != nil {
		return nil, err
	}
	now := b.now().UTC()
	if !q.Usable(now) {
		return nil, eris.Wrapf(ErrQuoteUnavailable, "quote %s", id)
	}
	if err := b.store.InvalidateQuote(ctx, id, now); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, eris.Wrapf(ErrQuoteUnavailable, "quote %s", id)
		}
		return nil, eris.Wrapf(err, "pricing: accept quote %s", id)
	}
	q.InvalidatedAt = &now
	b.log.Info("quote accepted", zap.String("quote_id", id))
	return q, nil
}
