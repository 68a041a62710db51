package order

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/fabroute/internal/model"
	"github.com/sells-group/fabroute/internal/pricing"
	"github.com/sells-group/fabroute/internal/store"
)

var testNow = time.Date(2026, 4, 2, 10, 0, 0, 0, time.UTC)

type harness struct {
	svc   *Service
	book  *pricing.Book
	store *store.SQLiteStore
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "orders.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))

	clock := func() time.Time { return testNow }
	book := pricing.NewBook(pricing.NewEngine(pricing.DefaultRates()), st, pricing.WithClock(clock))
	return &harness{
		svc:   NewService(st, book, WithClock(clock)),
		book:  book,
		store: st,
	}
}

func (h *harness) newOrder(t *testing.T) *model.ServiceOrder {
	t.Helper()
	q, err := h.book.Create(context.Background(), pricing.QuoteInput{
		VolumeMM3: 15000,
		Parameters: model.PrintParameters{
			Material: model.MaterialPLA, Quality: model.QualityStandard,
			InfillPercentage: 20, LayerHeightMM: 0.2, Quantity: 1,
		},
	})
	require.NoError(t, err)
	o, err := h.svc.CreateFromQuote(context.Background(), q.ID, OrderDetails{
		ServiceType: model.Service3DPrinting,
		Urgency:     model.UrgencyHigh,
	})
	require.NoError(t, err)
	return o
}

// forceStatus writes status directly, bypassing the state machine.
func (h *harness) forceStatus(t *testing.T, id string, status model.OrderStatus) {
	t.Helper()
	o, err := h.store.GetOrder(context.Background(), id)
	require.NoError(t, err)
	prev := o.Status
	o.Status = status
	require.NoError(t, h.store.UpdateOrder(context.Background(), o, prev))
}

func testMatch() model.ProviderMatch {
	return model.ProviderMatch{
		ProviderID:        "prov-1",
		ProviderName:      "Print Hub",
		EstimatedCost:     decimal.RequireFromString("42.50"),
		EstimatedDelivery: testNow.Add(72 * time.Hour),
	}
}

func TestCreateFromQuote(t *testing.T) {
	h := newHarness(t)
	o := h.newOrder(t)

	assert.Equal(t, model.OrderPending, o.Status)
	assert.Equal(t, model.PriorityHigh, o.Priority)
	assert.Nil(t, o.ProviderID)
	assert.Contains(t, o.ExternalJobID, "job_")
	assert.Equal(t, map[model.OrderStatus]time.Time{model.OrderPending: testNow}, o.Milestones)
	require.NotNil(t, o.EstimatedCost)
	assert.True(t, o.EstimatedCost.Equal(decimal.RequireFromString("10.03")))

	stored, err := h.svc.Get(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, o.ExternalJobID, stored.ExternalJobID)

	byJob, err := h.svc.GetByExternalJobID(context.Background(), o.ExternalJobID)
	require.NoError(t, err)
	assert.Equal(t, o.ID, byJob.ID)
}

func TestCreateFromQuote_QuoteUsedOnce(t *testing.T) {
	h := newHarness(t)
	o := h.newOrder(t)

	_, err := h.svc.CreateFromQuote(context.Background(), o.QuoteID, OrderDetails{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, pricing.ErrQuoteUnavailable))
}

func TestHappyPathToDelivered(t *testing.T) {
	h := newHarness(t)
	o := h.newOrder(t)
	ctx := context.Background()

	_, err := h.svc.Route(ctx, o.ID, testMatch())
	require.NoError(t, err)

	path := []model.OrderStatus{
		model.OrderAccepted, model.OrderPrinting, model.OrderPostProcessing,
		model.OrderQualityCheck, model.OrderReady, model.OrderShipped, model.OrderDelivered,
	}
	for _, s := range path {
		got, err := h.svc.TransitionOrder(ctx, o.ID, s, "test")
		require.NoError(t, err, s)
		assert.Equal(t, s, got.Status)
	}

	final, err := h.svc.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderDelivered, final.Status)
	assert.Len(t, final.Milestones, len(path)+2)
	require.NotNil(t, final.ProviderID)
	assert.Equal(t, "prov-1", *final.ProviderID)
	assert.True(t, final.EstimatedCost.Equal(decimal.RequireFromString("42.50")))
}

func TestTransition_InvalidLeavesOrderUnchanged(t *testing.T) {
	h := newHarness(t)
	o := h.newOrder(t)
	ctx := context.Background()

	before, err := h.svc.Get(ctx, o.ID)
	require.NoError(t, err)

	_, err = h.svc.TransitionOrder(ctx, o.ID, model.OrderPrinting, "test")
	var ite *InvalidTransitionError
	require.True(t, errors.As(err, &ite))
	assert.Equal(t, model.OrderPending, ite.From)
	assert.Equal(t, model.OrderPrinting, ite.To)
	assert.Equal(t, []model.OrderStatus{model.OrderRouted, model.OrderCancelled}, ite.Allowed)

	after, err := h.svc.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestTransition_SkipRejected(t *testing.T) {
	h := newHarness(t)
	o := h.newOrder(t)
	ctx := context.Background()
	_, err := h.svc.Route(ctx, o.ID, testMatch())
	require.NoError(t, err)

	_, err = h.svc.TransitionOrder(ctx, o.ID, model.OrderPrinting, "test")
	var ite *InvalidTransitionError
	require.True(t, errors.As(err, &ite))
	assert.Equal(t, model.OrderRouted, ite.From)
}

func TestTransition_TerminalStatesAreFinal(t *testing.T) {
	for _, terminal := range []model.OrderStatus{
		model.OrderDelivered, model.OrderRejected, model.OrderCancelled, model.OrderFailed,
	} {
		t.Run(string(terminal), func(t *testing.T) {
			h := newHarness(t)
			o := h.newOrder(t)
			h.forceStatus(t, o.ID, terminal)

			for _, target := range model.AllOrderStatuses {
				_, err := h.svc.TransitionOrder(context.Background(), o.ID, target, "test")
				var ite *InvalidTransitionError
				require.True(t, errors.As(err, &ite), target)
				assert.Empty(t, ite.Allowed)
			}
			got, err := h.svc.Get(context.Background(), o.ID)
			require.NoError(t, err)
			assert.Equal(t, terminal, got.Status)
		})
	}
}

func TestTransition_MissingOrder(t *testing.T) {
	h := newHarness(t)
	_, err := h.svc.TransitionOrder(context.Background(), "nope", model.OrderRouted, "test")
	assert.True(t, errors.Is(err, store.ErrNotFound))
}

func TestTransition_ConcurrentCancelsHaveOneWinner(t *testing.T) {
	h := newHarness(t)
	o := h.newOrder(t)

	var wins, rejects atomic.Int32
	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.svc.TransitionOrder(context.Background(), o.ID, model.OrderCancelled, "test")
			var ite *InvalidTransitionError
			switch {
			case err == nil:
				wins.Add(1)
			case errors.As(err, &ite):
				rejects.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
	assert.Equal(t, int32(9), rejects.Load())
	assert.Zero(t, h.svc.locks.size())
}

func TestRoute(t *testing.T) {
	h := newHarness(t)
	o := h.newOrder(t)
	ctx := context.Background()

	routed, err := h.svc.Route(ctx, o.ID, testMatch())
	require.NoError(t, err)
	assert.Equal(t, model.OrderRouted, routed.Status)
	require.NotNil(t, routed.EstimatedDelivery)
	assert.Equal(t, testNow.Add(72*time.Hour), routed.EstimatedDelivery.UTC())

	_, err = h.svc.Route(ctx, o.ID, testMatch())
	assert.True(t, errors.Is(err, ErrProviderAssigned))
}

func TestMatchRequest_DefaultsFromQuote(t *testing.T) {
	h := newHarness(t)
	o := h.newOrder(t)
	ctx := context.Background()

	req, err := h.svc.MatchRequest(ctx, o, model.ServiceRequest{})
	require.NoError(t, err)
	assert.Equal(t, model.Service3DPrinting, req.ServiceType)
	assert.Equal(t, model.MaterialPLA, req.Requirements.Material)
	assert.Equal(t, model.QualityStandard, req.Requirements.Quality)
	assert.Equal(t, 1, req.Requirements.Quantity)
	assert.InDelta(t, 15000, req.Requirements.VolumeMM3, 1e-9)
	assert.Equal(t, model.UrgencyHigh, req.Requirements.Urgency)

	explicit := model.ServiceRequest{Requirements: model.Requirements{
		Material: model.MaterialABS, Quantity: 4, Urgency: model.UrgencyLow,
	}}
	req, err = h.svc.MatchRequest(ctx, o, explicit)
	require.NoError(t, err)
	assert.Equal(t, model.MaterialABS, req.Requirements.Material)
	assert.Equal(t, 4, req.Requirements.Quantity)
	assert.Equal(t, model.UrgencyLow, req.Requirements.Urgency)
	assert.Equal(t, model.QualityStandard, req.Requirements.Quality)

	missing := *o
	missing.QuoteID = "gone"
	_, err = h.svc.MatchRequest(ctx, &missing, model.ServiceRequest{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, store.ErrNotFound))
}

func TestRoute_RequiresPending(t *testing.T) {
	h := newHarness(t)
	o := h.newOrder(t)
	_, err := h.svc.TransitionOrder(context.Background(), o.ID, model.OrderCancelled, "customer")
	require.NoError(t, err)

	_, err = h.svc.Route(context.Background(), o.ID, testMatch())
	var ite *InvalidTransitionError
	assert.True(t, errors.As(err, &ite))

	got, err := h.svc.Get(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Nil(t, got.ProviderID)
}

func TestObservers(t *testing.T) {
	h := newHarness(t)

	var mu sync.Mutex
	var seen []Transition
	h.svc.Subscribe(ObserverFunc(func(ctx context.Context, tr Transition) {
		// The order's lock is free again, so reads do not deadlock.
		_, err := h.svc.Get(ctx, tr.Order.ID)
		assert.NoError(t, err)
		mu.Lock()
		seen = append(seen, tr)
		mu.Unlock()
	}))

	o := h.newOrder(t)
	_, err := h.svc.Route(context.Background(), o.ID, testMatch())
	require.NoError(t, err)
	_, err = h.svc.TransitionOrder(context.Background(), o.ID, model.OrderPrinting, "test")
	require.Error(t, err)

	err = h.svc.WithLock(context.Background(), o.ID, func(_ context.Context, tx *Tx) error {
		_, err := tx.Transition(model.OrderAccepted, "partner", OriginBridge)
		return err
	})
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, 3)
	assert.Equal(t, model.OrderStatus(""), seen[0].From)
	assert.Equal(t, model.OrderPending, seen[0].To)
	assert.Equal(t, model.OrderPending, seen[1].From)
	assert.Equal(t, model.OrderRouted, seen[1].To)
	assert.Equal(t, OriginLocal, seen[1].Origin)
	assert.Equal(t, model.OrderAccepted, seen[2].To)
	assert.Equal(t, OriginBridge, seen[2].Origin)
	assert.Equal(t, "partner", seen[2].Actor)
}

func TestList(t *testing.T) {
	h := newHarness(t)
	a := h.newOrder(t)
	h.newOrder(t)
	_, err := h.svc.Route(context.Background(), a.ID, testMatch())
	require.NoError(t, err)

	all, err := h.svc.List(context.Background(), store.OrderFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	routed, err := h.svc.List(context.Background(), store.OrderFilter{Status: model.OrderRouted})
	require.NoError(t, err)
	require.Len(t, routed, 1)
	assert.Equal(t, a.ID, routed[0].ID)
}
