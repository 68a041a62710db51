package order

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/fabroute/internal/model"
)

func TestCanTransition(t *testing.T) {
	t.Parallel()

	tests := []struct {
		from, to model.OrderStatus
		want     bool
	}{
		{model.OrderPending, model.OrderRouted, true},
		{model.OrderPending, model.OrderCancelled, true},
		{model.OrderPending, model.OrderAccepted, false},
		{model.OrderRouted, model.OrderRejected, true},
		{model.OrderAccepted, model.OrderPrinting, true},
		{model.OrderAccepted, model.OrderFailed, false},
		{model.OrderPrinting, model.OrderFailed, true},
		{model.OrderQualityCheck, model.OrderReady, true},
		{model.OrderReady, model.OrderShipped, true},
		{model.OrderShipped, model.OrderCancelled, false},
		{model.OrderShipped, model.OrderDelivered, true},
		{model.OrderDelivered, model.OrderShipped, false},
		{model.OrderPrinting, model.OrderPrinting, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CanTransition(tt.from, tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestIsTerminal(t *testing.T) {
	t.Parallel()
	terminal := map[model.OrderStatus]bool{
		model.OrderDelivered: true, model.OrderRejected: true,
		model.OrderCancelled: true, model.OrderFailed: true,
	}
	for _, s := range model.AllOrderStatuses {
		assert.Equal(t, terminal[s], IsTerminal(s), s)
	}
}

func TestBehind(t *testing.T) {
	t.Parallel()
	assert.True(t, Behind(model.OrderPrinting, model.OrderAccepted))
	assert.True(t, Behind(model.OrderPrinting, model.OrderPrinting))
	assert.True(t, Behind(model.OrderCancelled, model.OrderShipped))
	assert.True(t, Behind(model.OrderAccepted, model.OrderRejected))
	assert.False(t, Behind(model.OrderAccepted, model.OrderPrinting))
	assert.False(t, Behind(model.OrderAccepted, model.OrderShipped))
	assert.False(t, Behind(model.OrderShipped, model.OrderCancelled))
}

func TestAllowedReturnsCopy(t *testing.T) {
	t.Parallel()
	a := Allowed(model.OrderPending)
	a[0] = model.OrderFailed
	assert.Equal(t, model.OrderRouted, Allowed(model.OrderPending)[0])
	assert.Empty(t, Allowed(model.OrderDelivered))
}

func TestInvalidTransitionError(t *testing.T) {
	t.Parallel()
	err := &InvalidTransitionError{
		OrderID: "o1",
		From:    model.OrderPending,
		To:      model.OrderShipped,
		Allowed: []model.OrderStatus{model.OrderRouted, model.OrderCancelled},
	}
	assert.Equal(t, "order o1: invalid transition PENDING -> SHIPPED (allowed: ROUTED, CANCELLED)", err.Error())

	err.Allowed = nil
	assert.Contains(t, err.Error(), "allowed: none")
}

func TestKeyedMutex(t *testing.T) {
	t.Parallel()
	k := newKeyedMutex()

	var mu sync.Mutex
	inside := map[string]int{}
	maxInside := 0

	var wg sync.WaitGroup
	for i := range 50 {
		key := []string{"a", "b"}[i%2]
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := k.Lock(key)
			mu.Lock()
			inside[key]++
			if inside[key] > maxInside {
				maxInside = inside[key]
			}
			mu.Unlock()

			mu.Lock()
			inside[key]--
			mu.Unlock()
			unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxInside)
	assert.Zero(t, k.size())
}
