package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/fabroute/internal/config"
	"github.com/sells-group/fabroute/internal/model"
	"github.com/sells-group/fabroute/internal/order"
	"github.com/sells-group/fabroute/internal/outbox"
	"github.com/sells-group/fabroute/internal/pricing"
	"github.com/sells-group/fabroute/internal/resilience"
	"github.com/sells-group/fabroute/internal/store"
	"github.com/sells-group/fabroute/pkg/partner"
)

type call struct {
	Path          string
	CorrelationID string
	Body          map[string]any
}

type fakePartner struct {
	status atomic.Int32
	mu     sync.Mutex
	calls  []call
}

func (p *fakePartner) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	_ = json.NewDecoder(r.Body).Decode(&body)
	p.mu.Lock()
	p.calls = append(p.calls, call{Path: r.URL.Path, CorrelationID: r.Header.Get(partner.CorrelationHeader), Body: body})
	p.mu.Unlock()

	code := int(p.status.Load())
	w.WriteHeader(code)
	if code < 300 {
		w.Write([]byte(`{"accepted":true,"partner_ref":"PR-1"}`))
	}
}

func (p *fakePartner) recorded() []call {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]call(nil), p.calls...)
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type harness struct {
	sync    *Synchronizer
	orders  *order.Service
	book    *pricing.Book
	store   *store.SQLiteStore
	outbox  *outbox.Outbox
	partner *fakePartner
	clock   *clock
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	ctx := context.Background()
	dir := t.TempDir()

	st, err := store.NewSQLite(filepath.Join(dir, "bridge.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(ctx))

	ob, err := outbox.Open(filepath.Join(dir, "outbox"))
	require.NoError(t, err)
	t.Cleanup(func() { ob.Close() }) //nolint:errcheck

	fp := &fakePartner{}
	fp.status.Store(http.StatusOK)
	srv := httptest.NewServer(fp)
	t.Cleanup(srv.Close)

	clk := &clock{now: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)}
	book := pricing.NewBook(pricing.NewEngine(pricing.DefaultRates()), st, pricing.WithClock(clk.Now))
	orders := order.NewService(st, book, order.WithClock(clk.Now))

	defaults := []Option{
		WithClock(clk.Now),
		WithRetry(resilience.RetryConfig{
			MaxAttempts:    3,
			InitialBackoff: time.Millisecond,
			MaxBackoff:     2 * time.Millisecond,
			Multiplier:     2,
		}),
		WithBreaker(resilience.NewCircuitBreaker("partner", resilience.CircuitBreakerConfig{FailureThreshold: 100})),
	}
	s := New(orders, st, partner.NewClient(srv.URL, "token", time.Second, partner.WithRateLimit(0)), ob,
		config.BridgeConfig{}, append(defaults, opts...)...)
	return &harness{sync: s, orders: orders, book: book, store: st, outbox: ob, partner: fp, clock: clk}
}

func (h *harness) routedOrder(t *testing.T) *model.ServiceOrder {
	t.Helper()
	ctx := context.Background()
	q, err := h.book.Create(ctx, pricing.QuoteInput{
		VolumeMM3: 15000,
		Parameters: model.PrintParameters{
			Material: model.MaterialPLA, Quality: model.QualityStandard,
			InfillPercentage: 20, LayerHeightMM: 0.2, Quantity: 1,
		},
	})
	require.NoError(t, err)
	o, err := h.orders.CreateFromQuote(ctx, q.ID, order.OrderDetails{ServiceType: model.Service3DPrinting})
	require.NoError(t, err)
	o, err = h.orders.Route(ctx, o.ID, model.ProviderMatch{
		ProviderID:        "prov-1",
		ProviderName:      "Print Hub",
		EstimatedCost:     decimal.RequireFromString("18.40"),
		EstimatedDelivery: h.clock.Now().Add(48 * time.Hour),
	})
	require.NoError(t, err)
	return o
}

func (h *harness) receive(t *testing.T, o *model.ServiceOrder, status string) Ack {
	t.Helper()
	h.clock.Advance(time.Minute)
	ack, err := h.sync.ReceiveStatusUpdate(context.Background(), o.ExternalJobID, status, h.clock.Now())
	require.NoError(t, err)
	return ack
}

func (h *harness) reload(t *testing.T, id string) *model.ServiceOrder {
	t.Helper()
	o, err := h.orders.Get(context.Background(), id)
	require.NoError(t, err)
	return o
}

func TestMapStatus(t *testing.T) {
	t.Parallel()
	tests := []struct {
		raw  string
		want model.OrderStatus
		ok   bool
	}{
		{"accepted", model.OrderAccepted, true},
		{"  Printing ", model.OrderPrinting, true},
		{"IN_TRANSIT", model.OrderShipped, true},
		{"Canceled", model.OrderCancelled, true},
		{"declined", model.OrderRejected, true},
		{"qc", model.OrderQualityCheck, true},
		{"error", model.OrderFailed, true},
		{"on_hold", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, ok := MapStatus(tt.raw)
		assert.Equal(t, tt.ok, ok, tt.raw)
		assert.Equal(t, tt.want, got, tt.raw)
	}
	assert.Equal(t, "post_processing", PartnerStatus(model.OrderPostProcessing))
}

func TestReceiveStatusUpdate_Applies(t *testing.T) {
	h := newHarness(t)
	o := h.routedOrder(t)

	ack := h.receive(t, o, "accepted")
	assert.Equal(t, model.OrderAccepted, ack.Status)
	assert.Equal(t, o.ID, ack.OrderID)
	assert.False(t, ack.Duplicate)
	assert.False(t, ack.Stale)
	assert.Equal(t, model.OrderAccepted, h.reload(t, o.ID).Status)
}

func TestReceiveStatusUpdate_Idempotent(t *testing.T) {
	h := newHarness(t)
	o := h.routedOrder(t)
	h.receive(t, o, "accepted")

	first := h.receive(t, o, "printing")
	assert.False(t, first.Duplicate)
	after := h.reload(t, o.ID)
	printedAt := after.Milestones[model.OrderPrinting]

	second := h.receive(t, o, "printing")
	assert.True(t, second.Duplicate)
	assert.Equal(t, model.OrderPrinting, second.Status)

	final := h.reload(t, o.ID)
	assert.Equal(t, printedAt, final.Milestones[model.OrderPrinting])
	assert.Equal(t, after.UpdatedAt, final.UpdatedAt)
	assert.Len(t, final.Milestones, 4)
}

func TestReceiveStatusUpdate_StaleThenDuplicate(t *testing.T) {
	h := newHarness(t)
	o := h.routedOrder(t)
	h.receive(t, o, "accepted")
	h.receive(t, o, "printing")
	h.receive(t, o, "finishing")

	// "printing" again is a duplicate; an earlier unseen status is stale.
	assert.True(t, h.receive(t, o, "in_production").Duplicate)

	stale := h.receive(t, o, "declined")
	assert.True(t, stale.Stale)
	assert.False(t, stale.Duplicate)
	assert.Equal(t, model.OrderPostProcessing, stale.Status)
	assert.Equal(t, model.OrderPostProcessing, h.reload(t, o.ID).Status)

	assert.True(t, h.receive(t, o, "rejected").Duplicate)
}

// failingEvents is a store whose bridge event log is unavailable.
type failingEvents struct {
	store.Store
}

func (failingEvents) RecordBridgeEvent(context.Context, store.BridgeEvent) (bool, error) {
	return false, errors.New("event log unavailable")
}

func TestReceiveStatusUpdate_AppliedWhenEventLogFails(t *testing.T) {
	h := newHarness(t)
	o := h.routedOrder(t)
	h.sync.store = failingEvents{Store: h.store}

	ack := h.receive(t, o, "accepted")
	assert.Equal(t, model.OrderAccepted, ack.Status)
	assert.False(t, ack.Duplicate)
	assert.Equal(t, model.OrderAccepted, h.reload(t, o.ID).Status)

	h.sync.store = h.store
	assert.True(t, h.receive(t, o, "accepted").Duplicate)
}

func TestReceiveStatusUpdate_StaleAfterTerminal(t *testing.T) {
	h := newHarness(t)
	o := h.routedOrder(t)
	_, err := h.orders.TransitionOrder(context.Background(), o.ID, model.OrderCancelled, "customer")
	require.NoError(t, err)

	ack := h.receive(t, o, "accepted")
	assert.True(t, ack.Stale)
	assert.Equal(t, model.OrderCancelled, ack.Status)

	again := h.receive(t, o, "accepted")
	assert.True(t, again.Duplicate)

	final := h.reload(t, o.ID)
	assert.Equal(t, model.OrderCancelled, final.Status)
	_, accepted := final.Milestones[model.OrderAccepted]
	assert.False(t, accepted)
}

func TestReceiveStatusUpdate_InvalidForward(t *testing.T) {
	h := newHarness(t)
	o := h.routedOrder(t)

	_, err := h.sync.ReceiveStatusUpdate(context.Background(), o.ExternalJobID, "shipped", h.clock.Now())
	var be *BridgeError
	require.True(t, errors.As(err, &be))
	assert.Equal(t, KindInvalidTransition, be.Kind)
	var ite *order.InvalidTransitionError
	require.True(t, errors.As(err, &ite))
	assert.Equal(t, model.OrderRouted, ite.From)

	assert.Equal(t, model.OrderRouted, h.reload(t, o.ID).Status)

	// Nothing was recorded, so the event is still new.
	inserted, err := h.store.RecordBridgeEvent(context.Background(), store.BridgeEvent{
		ExternalJobID: o.ExternalJobID, MappedStatus: model.OrderShipped, OrderID: o.ID,
	})
	require.NoError(t, err)
	assert.True(t, inserted)
}

func TestReceiveStatusUpdate_Rejections(t *testing.T) {
	h := newHarness(t)
	o := h.routedOrder(t)
	ctx := context.Background()

	_, err := h.sync.ReceiveStatusUpdate(ctx, o.ExternalJobID, "on_hold", time.Now())
	var be *BridgeError
	require.True(t, errors.As(err, &be))
	assert.Equal(t, KindUnmappedStatus, be.Kind)

	_, err = h.sync.ReceiveStatusUpdate(ctx, "job_missing", "accepted", time.Now())
	require.True(t, errors.As(err, &be))
	assert.Equal(t, KindUnknownJob, be.Kind)
	assert.True(t, errors.Is(err, store.ErrNotFound))
}

func TestPublishJob_Delivers(t *testing.T) {
	h := newHarness(t)
	o := h.routedOrder(t)

	ack, err := h.sync.PublishJob(context.Background(), o)
	require.NoError(t, err)
	assert.Equal(t, "PR-1", ack.PartnerRef)
	assert.NotEmpty(t, ack.CorrelationID)

	calls := h.partner.recorded()
	require.Len(t, calls, 1)
	assert.Equal(t, "/jobs", calls[0].Path)
	assert.Equal(t, ack.CorrelationID, calls[0].CorrelationID)
	assert.Equal(t, o.ExternalJobID, calls[0].Body["job_id"])
	assert.Equal(t, "prov-1", calls[0].Body["provider_id"])
	assert.Equal(t, "18.40", calls[0].Body["estimated_cost"])

	pending, err := h.outbox.Pending()
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestPublishJob_RequiresProvider(t *testing.T) {
	h := newHarness(t)
	_, err := h.sync.PublishJob(context.Background(), &model.ServiceOrder{ID: "o1"})
	assert.True(t, errors.Is(err, ErrNoProvider))
	assert.Empty(t, h.partner.recorded())
}

func TestPublishJob_ExhaustsRetries(t *testing.T) {
	h := newHarness(t)
	o := h.routedOrder(t)
	h.partner.status.Store(http.StatusServiceUnavailable)

	_, err := h.sync.PublishJob(context.Background(), o)
	var de *BridgeDeliveryError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, 3, de.Attempts)
	assert.Equal(t, o.ID, de.OrderID)
	assert.Len(t, h.partner.recorded(), 3)

	// The order is untouched.
	assert.Equal(t, model.OrderRouted, h.reload(t, o.ID).Status)

	alerts, err := h.store.ListAlerts(context.Background(), store.AlertFilter{OpenOnly: true})
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, model.AlertBridgeDeliveryFailed, alerts[0].Type)
	assert.Equal(t, de.CorrelationID, alerts[0].CorrelationID)

	entry, err := h.outbox.Get(de.CorrelationID)
	require.NoError(t, err)
	assert.Equal(t, outbox.StateFailed, entry.State)
	assert.Equal(t, 3, entry.Attempts)
}

func TestPublishJob_PermanentRejectionIsNotRetried(t *testing.T) {
	h := newHarness(t)
	o := h.routedOrder(t)
	h.partner.status.Store(http.StatusBadRequest)

	_, err := h.sync.PublishJob(context.Background(), o)
	var de *BridgeDeliveryError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, 1, de.Attempts)
	var se *partner.StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusBadRequest, se.StatusCode)
}

func TestRedeliver(t *testing.T) {
	h := newHarness(t)
	o := h.routedOrder(t)
	ctx := context.Background()

	h.partner.status.Store(http.StatusBadGateway)
	_, err := h.sync.PublishJob(ctx, o)
	require.Error(t, err)

	// A second failing pass raises no new alert.
	res, err := h.sync.Redeliver(ctx)
	require.NoError(t, err)
	assert.Equal(t, RedeliverResult{Failed: 1}, res)
	alerts, err := h.store.ListAlerts(ctx, store.AlertFilter{OpenOnly: true})
	require.NoError(t, err)
	assert.Len(t, alerts, 1)

	h.partner.status.Store(http.StatusOK)
	res, err = h.sync.Redeliver(ctx)
	require.NoError(t, err)
	assert.Equal(t, RedeliverResult{Delivered: 1}, res)

	pending, err := h.outbox.Pending()
	require.NoError(t, err)
	assert.Empty(t, pending)

	open, err := h.store.ListAlerts(ctx, store.AlertFilter{OpenOnly: true})
	require.NoError(t, err)
	assert.Empty(t, open)
}

func TestResetCircuit(t *testing.T) {
	cb := resilience.NewCircuitBreaker("partner", resilience.CircuitBreakerConfig{FailureThreshold: 1, ResetTimeout: time.Hour})
	h := newHarness(t, WithBreaker(cb))
	o := h.routedOrder(t)
	ctx := context.Background()

	h.partner.status.Store(http.StatusServiceUnavailable)
	_, err := h.sync.PublishJob(ctx, o)
	require.ErrorIs(t, err, resilience.ErrCircuitOpen)
	assert.Equal(t, resilience.CircuitOpen, cb.State())
	assert.Len(t, h.partner.recorded(), 1, "open circuit fails fast")

	h.partner.status.Store(http.StatusOK)
	res, err := h.sync.Redeliver(ctx)
	require.NoError(t, err)
	assert.Equal(t, RedeliverResult{Failed: 1}, res)

	h.sync.ResetCircuit()
	res, err = h.sync.Redeliver(ctx)
	require.NoError(t, err)
	assert.Equal(t, RedeliverResult{Delivered: 1}, res)
	assert.Equal(t, resilience.CircuitClosed, cb.State())
}

func TestObserver(t *testing.T) {
	h := newHarness(t)
	h.orders.Subscribe(h.sync)
	ctx := context.Background()

	o := h.routedOrder(t)
	h.sync.Wait()
	calls := h.partner.recorded()
	require.Len(t, calls, 1, "creation is silent, routing publishes")
	assert.Equal(t, "/jobs", calls[0].Path)

	// Bridge-originated transitions are not echoed back.
	h.receive(t, o, "accepted")
	h.sync.Wait()
	assert.Len(t, h.partner.recorded(), 1)

	_, err := h.orders.TransitionOrder(ctx, o.ID, model.OrderCancelled, "customer")
	require.NoError(t, err)
	h.sync.Wait()

	calls = h.partner.recorded()
	require.Len(t, calls, 2)
	assert.Equal(t, "/jobs/"+o.ExternalJobID+"/status", calls[1].Path)
	assert.Equal(t, "cancelled", calls[1].Body["status"])
}

func TestConcurrentLocalAndBridgeUpdates(t *testing.T) {
	h := newHarness(t)
	o := h.routedOrder(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	var localErr, bridgeErr error
	wg.Go(func() {
		_, localErr = h.orders.TransitionOrder(ctx, o.ID, model.OrderCancelled, "customer")
	})
	wg.Go(func() {
		_, bridgeErr = h.sync.ReceiveStatusUpdate(ctx, o.ExternalJobID, "accepted", h.clock.Now())
	})
	wg.Wait()

	// Either order of arrival is legal and ends cancelled.
	require.NoError(t, localErr)
	require.NoError(t, bridgeErr)
	final := h.reload(t, o.ID)
	assert.Equal(t, model.OrderCancelled, final.Status)
}
