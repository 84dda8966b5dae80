package interaction

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Registry keeps the open boards of every clinician.
type Registry struct {
	store Store
	opts  []BoardOption

	mu     sync.RWMutex
	boards map[uuid.UUID]*Board
}

func NewRegistry(store Store, opts ...BoardOption) *Registry {
	return &Registry{
		store:  store,
		opts:   opts,
		boards: make(map[uuid.UUID]*Board),
	}
}

func (r *Registry) Open(ctx context.Context, clinicianID, weekStart string) (*Board, error) {
	b, err := Open(ctx, r.store, clinicianID, weekStart, r.opts...)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.boards[b.ID] = b
	r.mu.Unlock()
	return b, nil
}

func (r *Registry) Get(id uuid.UUID) (*Board, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.boards[id]
	return b, ok
}

// Close drops a board, cancelling any gesture it still holds.
func (r *Registry) Close(id uuid.UUID) bool {
	r.mu.Lock()
	b, ok := r.boards[id]
	delete(r.boards, id)
	r.mu.Unlock()
	if ok {
		b.Cancel()
	}
	return ok
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.boards)
}

// AppointmentsChanged marks the clinician's boards covering any of dates
// for reload.
func (r *Registry) AppointmentsChanged(_ context.Context, clinicianID string, dates []string) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, b := range r.boards {
		if b.ClinicianID != clinicianID {
			continue
		}
		for _, d := range dates {
			if b.hasDate(d) {
				b.MarkStale()
				break
			}
		}
	}
}

// Sweep closes boards untouched for longer than maxIdle and returns how
// many were closed.
func (r *Registry) Sweep(now time.Time, maxIdle time.Duration) int {
	r.mu.Lock()
	var idle []*Board
	for id, b := range r.boards {
		b.mu.Lock()
		last := b.lastUsed
		b.mu.Unlock()
		if now.Sub(last) > maxIdle {
			idle = append(idle, b)
			delete(r.boards, id)
		}
	}
	r.mu.Unlock()
	for _, b := range idle {
		b.Cancel()
	}
	return len(idle)
}
