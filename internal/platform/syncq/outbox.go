package syncq

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"time"
)

// ErrNotFound is returned for unknown outbox entries.
var ErrNotFound = errors.New("outbox entry not found")

// Entry statuses. Delivered entries are removed from the outbox.
const (
	StatusPending = "pending"
	StatusFailed  = "failed"
)

// Entry is one pending write to the remote store.
type Entry struct {
	ID          string          `json:"id"`
	Seq         int64           `json:"seq"`
	Key         string          `json:"key"`
	Op          string          `json:"op"`
	Payload     json.RawMessage `json:"payload"`
	Status      string          `json:"status"`
	Attempts    int             `json:"attempts"`
	NextRetryAt time.Time       `json:"next_retry_at"`
	LastError   string          `json:"last_error,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

func (e *Entry) clone() *Entry {
	c := *e
	c.Payload = append(json.RawMessage(nil), e.Payload...)
	return &c
}

// Outbox persists entries until they are delivered. List returns entries in
// the order they were appended.
type Outbox interface {
	Append(ctx context.Context, e *Entry) error
	Get(ctx context.Context, id string) (*Entry, error)
	Update(ctx context.Context, e *Entry) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, status string) ([]*Entry, error)
}

// ---------------------------------------------------------------------------
// InMemoryOutbox
// ---------------------------------------------------------------------------

// InMemoryOutbox is a thread-safe Outbox that does not survive restarts.
type InMemoryOutbox struct {
	mu      sync.RWMutex
	entries map[string]*Entry
	seq     int64
}

func NewInMemoryOutbox() *InMemoryOutbox {
	return &InMemoryOutbox{entries: make(map[string]*Entry)}
}

func (o *InMemoryOutbox) Append(_ context.Context, e *Entry) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.seq++
	e.Seq = o.seq
	o.entries[e.ID] = e.clone()
	return nil
}

func (o *InMemoryOutbox) Get(_ context.Context, id string) (*Entry, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	e, ok := o.entries[id]
	if !ok {
		return nil, ErrNotFound
	}
	return e.clone(), nil
}

func (o *InMemoryOutbox) Update(_ context.Context, e *Entry) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.entries[e.ID]; !ok {
		return ErrNotFound
	}
	o.entries[e.ID] = e.clone()
	return nil
}

func (o *InMemoryOutbox) Delete(_ context.Context, id string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.entries[id]; !ok {
		return ErrNotFound
	}
	delete(o.entries, id)
	return nil
}

func (o *InMemoryOutbox) List(_ context.Context, status string) ([]*Entry, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	var out []*Entry
	for _, e := range o.entries {
		if status == "" || e.Status == status {
			out = append(out, e.clone())
		}
	}
	sortEntries(out)
	return out, nil
}

func sortEntries(entries []*Entry) {
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Seq != entries[j].Seq {
			return entries[i].Seq < entries[j].Seq
		}
		return entries[i].ID < entries[j].ID
	})
}
