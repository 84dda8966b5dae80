package syncq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// StatusSink is told the final outcome of a key's writes.
type StatusSink interface {
	Synced(ctx context.Context, key string)
	Failed(ctx context.Context, key, reason string)
}

// Report summarises one sync pass.
type Report struct {
	Pushed  int `json:"pushed"`
	Retried int `json:"retried"`
	Failed  int `json:"failed"`
	Waiting int `json:"waiting"`
}

// Syncer drains the outbox to the remote store. Passes run on a timer and
// whenever RequestSync is called; at most one pass runs at a time.
type Syncer struct {
	outbox Outbox
	remote Remote
	sink   StatusSink
	logger zerolog.Logger
	now    func() time.Time

	// Interval is how often due entries are polled without a trigger.
	Interval time.Duration

	trigger chan struct{}
	passMu  sync.Mutex
}

// SyncerOption configures a Syncer.
type SyncerOption func(*Syncer)

func WithStatusSink(s StatusSink) SyncerOption {
	return func(sy *Syncer) { sy.sink = s }
}

func WithLogger(l zerolog.Logger) SyncerOption {
	return func(sy *Syncer) { sy.logger = l }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) SyncerOption {
	return func(sy *Syncer) { sy.now = now }
}

func NewSyncer(outbox Outbox, remote Remote, opts ...SyncerOption) *Syncer {
	s := &Syncer{
		outbox:   outbox,
		remote:   remote,
		logger:   zerolog.Nop(),
		now:      time.Now,
		Interval: 5 * time.Second,
		trigger:  make(chan struct{}, 1),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Enqueue appends a change for key. The payload is stored as JSON.
func (s *Syncer) Enqueue(ctx context.Context, key, op string, payload interface{}) (*Entry, error) {
	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal payload: %w", err)
		}
		raw = b
	}
	now := s.now().UTC()
	e := &Entry{
		ID:          uuid.New().String(),
		Key:         key,
		Op:          op,
		Payload:     raw,
		Status:      StatusPending,
		NextRetryAt: now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.outbox.Append(ctx, e); err != nil {
		return nil, fmt.Errorf("append outbox entry: %w", err)
	}
	return e, nil
}

// RequestSync asks for a pass soon. It never blocks; requests made while one
// is already queued are merged.
func (s *Syncer) RequestSync() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

// Run blocks until ctx is cancelled.
func (s *Syncer) Run(ctx context.Context) {
	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-s.trigger:
		}
		if _, err := s.SyncOnce(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error().Err(err).Msg("sync pass failed")
		}
	}
}

// SyncOnce pushes every due pending entry. Entries for a key are delivered in
// order, so a key whose oldest entry is still backing off holds back its
// later entries.
func (s *Syncer) SyncOnce(ctx context.Context) (Report, error) {
	s.passMu.Lock()
	defer s.passMu.Unlock()

	var rep Report
	pending, err := s.outbox.List(ctx, StatusPending)
	if err != nil {
		return rep, fmt.Errorf("list pending: %w", err)
	}
	blocked := make(map[string]bool)
	now := s.now()
	for _, e := range pending {
		if ctx.Err() != nil {
			return rep, ctx.Err()
		}
		if blocked[e.Key] || e.NextRetryAt.After(now) {
			blocked[e.Key] = true
			rep.Waiting++
			continue
		}
		switch s.deliver(ctx, e) {
		case StatusPending:
			blocked[e.Key] = true
			rep.Retried++
		case StatusFailed:
			rep.Failed++
		default:
			rep.Pushed++
		}
	}
	return rep, nil
}

// deliver pushes one entry and returns its resulting status, "" when it was
// delivered and removed.
func (s *Syncer) deliver(ctx context.Context, e *Entry) string {
	err := s.remote.Push(ctx, e)
	if err == nil {
		if err := s.outbox.Delete(ctx, e.ID); err != nil {
			s.logger.Error().Err(err).Str("entry", e.ID).Msg("failed to remove delivered entry")
		}
		if s.sink != nil && !s.unsettled(ctx, e.Key) {
			s.sink.Synced(ctx, e.Key)
		}
		return ""
	}

	n := e.Attempts
	e.Attempts++
	e.LastError = err.Error()
	e.UpdatedAt = s.now().UTC()

	if errors.Is(err, ErrRejected) || ShouldStopRetrying(e.Attempts) {
		e.Status = StatusFailed
		if uerr := s.outbox.Update(ctx, e); uerr != nil {
			s.logger.Error().Err(uerr).Str("entry", e.ID).Msg("failed to mark entry failed")
		}
		s.logger.Error().Err(err).Str("entry", e.ID).Str("key", e.Key).
			Int("attempts", e.Attempts).Msg("giving up on change")
		if s.sink != nil {
			s.sink.Failed(ctx, e.Key, e.LastError)
		}
		return StatusFailed
	}

	e.NextRetryAt = NextRetryAt(n, s.now())
	if uerr := s.outbox.Update(ctx, e); uerr != nil {
		s.logger.Error().Err(uerr).Str("entry", e.ID).Msg("failed to schedule retry")
	}
	s.logger.Warn().Err(err).Str("entry", e.ID).Int("attempts", e.Attempts).
		Time("next_retry_at", e.NextRetryAt).Msg("change push failed, will retry")
	return StatusPending
}

// unsettled reports whether key still has entries waiting or given up on. A
// failed entry keeps the key failed until it is retried and delivered.
func (s *Syncer) unsettled(ctx context.Context, key string) bool {
	for _, status := range []string{StatusPending, StatusFailed} {
		entries, err := s.outbox.List(ctx, status)
		if err != nil {
			return true
		}
		for _, e := range entries {
			if e.Key == key {
				return true
			}
		}
	}
	return false
}

// Retry puts a failed entry back in the queue with a fresh attempt budget.
func (s *Syncer) Retry(ctx context.Context, id string) (*Entry, error) {
	e, err := s.outbox.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if e.Status != StatusFailed {
		return nil, fmt.Errorf("entry %s is %s, not failed", id, e.Status)
	}
	now := s.now().UTC()
	e.Status = StatusPending
	e.Attempts = 0
	e.LastError = ""
	e.NextRetryAt = now
	e.UpdatedAt = now
	if err := s.outbox.Update(ctx, e); err != nil {
		return nil, err
	}
	s.RequestSync()
	return e, nil
}

// Entries lists the outbox, optionally filtered by status.
func (s *Syncer) Entries(ctx context.Context, status string) ([]*Entry, error) {
	return s.outbox.List(ctx, status)
}
