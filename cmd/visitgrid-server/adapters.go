package main

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/homevisit/visitgrid/internal/domain/interaction"
	"github.com/homevisit/visitgrid/internal/domain/visit"
	"github.com/homevisit/visitgrid/internal/platform/syncq"
	"github.com/homevisit/visitgrid/internal/platform/websocket"
)

// outboxRecorder queues committed appointment changes, keyed by appointment
// so a record's writes reach the remote in order.
type outboxRecorder struct {
	syncer *syncq.Syncer
}

func (r outboxRecorder) RecordChange(ctx context.Context, c visit.Change) error {
	_, err := r.syncer.Enqueue(ctx, c.ID.String(), c.Op, c)
	return err
}

// syncStatusSink stores the sync outcome on the appointment and tells the
// clinician's open clients.
type syncStatusSink struct {
	svc    *visit.Service
	hub    *websocket.Hub
	logger zerolog.Logger
}

type syncStatusEvent struct {
	AppointmentID uuid.UUID `json:"appointment_id"`
	SyncStatus    string    `json:"sync_status"`
	Error         string    `json:"error,omitempty"`
}

func (s *syncStatusSink) Synced(ctx context.Context, key string) {
	s.record(ctx, key, visit.SyncSynced, "")
}

func (s *syncStatusSink) Failed(ctx context.Context, key, reason string) {
	s.record(ctx, key, visit.SyncFailed, reason)
}

func (s *syncStatusSink) record(ctx context.Context, key, status, reason string) {
	id, err := uuid.Parse(key)
	if err != nil {
		s.logger.Warn().Str("key", key).Msg("outbox key is not an appointment id")
		return
	}
	if status == visit.SyncSynced {
		err = s.svc.MarkSynced(ctx, id)
	} else {
		err = s.svc.MarkSyncFailed(ctx, id)
	}
	// A deleted appointment has nothing left to mark or announce.
	if errors.Is(err, visit.ErrNotFound) {
		return
	}
	if err != nil {
		s.logger.Error().Err(err).Str("appointment_id", key).Str("sync_status", status).Msg("failed to record sync status")
		return
	}
	a, err := s.svc.GetAppointment(ctx, id)
	if err != nil {
		return
	}
	s.hub.PublishJSON(websocket.ClinicianTopic(a.ClinicianID), websocket.EventSyncStatus,
		syncStatusEvent{AppointmentID: id, SyncStatus: status, Error: reason})
}

// boardNotices forwards interaction notices to the board's topic.
type boardNotices struct {
	hub *websocket.Hub
}

func (b boardNotices) BoardNotice(_ context.Context, boardID uuid.UUID, n interaction.Notice) {
	b.hub.PublishJSON(websocket.BoardTopic(boardID.String()), websocket.EventBoardNotice, n)
}

var errNoRemote = errors.New("SYNC_REMOTE_URL is not set")

// unconfiguredRemote stands in when no remote store is configured. No sync
// pass is scheduled in that mode, so entries stay pending.
type unconfiguredRemote struct{}

func (unconfiguredRemote) Push(context.Context, *syncq.Entry) error { return errNoRemote }
