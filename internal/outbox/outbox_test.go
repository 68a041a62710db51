package outbox

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTest(t *testing.T) (*Outbox, string) {
	t.Helper()
	dir := t.TempDir()
	o, err := Open(dir)
	require.NoError(t, err)
	return o, dir
}

func newEntry(orderID string) Entry {
	return Entry{
		ID:      uuid.Must(uuid.NewV7()).String(),
		Kind:    KindNotifyStatus,
		OrderID: orderID,
		Payload: json.RawMessage(`{"status":"PRINTING"}`),
	}
}

func TestPutGetDelete(t *testing.T) {
	o, _ := openTest(t)
	defer o.Close() //nolint:errcheck

	e := newEntry("o1")
	require.NoError(t, o.Put(e))

	got, err := o.Get(e.ID)
	require.NoError(t, err)
	assert.Equal(t, StatePending, got.State)
	assert.Equal(t, "o1", got.OrderID)
	assert.JSONEq(t, `{"status":"PRINTING"}`, string(got.Payload))
	assert.False(t, got.CreatedAt.IsZero())

	require.NoError(t, o.Delete(e.ID))
	_, err = o.Get(e.ID)
	assert.True(t, errors.Is(err, ErrNotFound))

	require.NoError(t, o.Delete(e.ID))
}

func TestMarkFailed(t *testing.T) {
	o, _ := openTest(t)
	defer o.Close() //nolint:errcheck

	e := newEntry("o1")
	require.NoError(t, o.Put(e))
	require.NoError(t, o.MarkFailed(e.ID, 5, errors.New("partner down")))
	require.NoError(t, o.MarkFailed(e.ID, 5, errors.New("still down")))

	got, err := o.Get(e.ID)
	require.NoError(t, err)
	assert.Equal(t, StateFailed, got.State)
	assert.Equal(t, 10, got.Attempts)
	assert.Equal(t, "still down", got.LastError)
	assert.False(t, got.LastAttempt.IsZero())

	assert.True(t, errors.Is(o.MarkFailed("missing", 1, nil), ErrNotFound))
}

func TestPendingOrderAndDurability(t *testing.T) {
	o, dir := openTest(t)

	var ids []string
	for _, order := range []string{"a", "b", "c"} {
		e := newEntry(order)
		ids = append(ids, e.ID)
		require.NoError(t, o.Put(e))
	}
	require.NoError(t, o.Delete(ids[1]))
	require.NoError(t, o.Close())

	reopened, err := Open(dir)
	require.NoError(t, err)
	defer reopened.Close() //nolint:errcheck

	pending, err := reopened.Pending()
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, ids[0], pending[0].ID)
	assert.Equal(t, ids[2], pending[1].ID)
}

func TestPendingEmpty(t *testing.T) {
	o, _ := openTest(t)
	defer o.Close() //nolint:errcheck

	pending, err := o.Pending()
	require.NoError(t, err)
	assert.Empty(t, pending)
}
