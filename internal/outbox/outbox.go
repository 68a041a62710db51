// Package outbox persists outbound partner calls until they are delivered.
package outbox

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/rotisserie/eris"
)

// Kind is the outbound call an entry replays.
type Kind string

const (
	KindPublishJob   Kind = "publish_job"
	KindNotifyStatus Kind = "notify_status"
)

// State tracks an entry's delivery progress.
type State string

const (
	// StatePending entries are written before the first attempt.
	StatePending State = "PENDING"
	// StateFailed entries exhausted their retries and wait for redelivery.
	StateFailed State = "FAILED"
)

// ErrNotFound is returned for an unknown entry id.
var ErrNotFound = eris.New("outbox: entry not found")

// Entry is one undelivered outbound call. ID doubles as the correlation id
// sent to the partner and must sort by creation time.
type Entry struct {
	ID          string          `json:"id"`
	Kind        Kind            `json:"kind"`
	OrderID     string          `json:"order_id"`
	Payload     json.RawMessage `json:"payload"`
	State       State           `json:"state"`
	Attempts    int             `json:"attempts"`
	LastError   string          `json:"last_error,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	LastAttempt time.Time       `json:"last_attempt,omitempty"`
}

const prefix = "outbox/"

// Outbox is a pebble-backed durable queue keyed by entry id.
type Outbox struct {
	db *pebble.DB
}

// Open opens or creates the outbox under dir.
func Open(dir string) (*Outbox, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, eris.Wrapf(err, "outbox: open %s", dir)
	}
	return &Outbox{db: db}, nil
}

// Close flushes and closes the underlying store.
func (o *Outbox) Close() error {
	return eris.Wrap(o.db.Close(), "outbox: close")
}

// Put writes e as pending, replacing any entry with the same id.
func (o *Outbox) Put(e Entry) error {
	e.State = StatePending
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	return o.set(e)
}

// MarkFailed records a delivery failure for id.
func (o *Outbox) MarkFailed(id string, attempts int, cause error) error {
	e, err := o.Get(id)
	if err != nil {
		return err
	}
	e.State = StateFailed
	e.Attempts += attempts
	e.LastAttempt = time.Now().UTC()
	if cause != nil {
		e.LastError = cause.Error()
	}
	return o.set(*e)
}

// Delete removes a delivered entry. Deleting a missing id is not an error.
func (o *Outbox) Delete(id string) error {
	return eris.Wrapf(o.db.Delete(key(id), pebble.Sync), "outbox: delete %s", id)
}

// Get returns the entry for id.
func (o *Outbox) Get(id string) (*Entry, error) {
	val, closer, err := o.db.Get(key(id))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, eris.Wrapf(ErrNotFound, "id %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "outbox: get %s", id)
	}
	defer closer.Close() //nolint:errcheck

	var e Entry
	if err := json.Unmarshal(val, &e); err != nil {
		return nil, eris.Wrapf(err, "outbox: decode %s", id)
	}
	return &e, nil
}

// Pending returns every undelivered entry, oldest first.
func (o *Outbox) Pending() ([]Entry, error) {
	iter, err := o.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(prefix),
		UpperBound: []byte(prefix + "\xff"),
	})
	if err != nil {
		return nil, eris.Wrap(err, "outbox: iterate")
	}
	defer iter.Close() //nolint:errcheck

	var out []Entry
	for iter.First(); iter.Valid(); iter.Next() {
		var e Entry
		if err := json.Unmarshal(iter.Value(), &e); err != nil {
			return nil, eris.Wrapf(err, "outbox: decode %s", iter.Key())
		}
		out = append(out, e)
	}
	return out, eris.Wrap(iter.Error(), "outbox: iterate")
}

func (o *Outbox) set(e Entry) error {
	val, err := json.Marshal(e)
	if err != nil {
		return eris.Wrapf(err, "outbox: encode %s", e.ID)
	}
	return eris.Wrapf(o.db.Set(key(e.ID), val, pebble.Sync), "outbox: write %s", e.ID)
}

func key(id string) []byte {
	return []byte(prefix + id)
}
