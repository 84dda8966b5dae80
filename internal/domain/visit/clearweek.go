package visit

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNoSnapshot is returned by RestoreWeek when there is nothing to undo.
var ErrNoSnapshot = errors.New("no cleared week to restore")

// BatchResult summarises a best-effort batch operation.
type BatchResult struct {
	Total     int      `json:"total"`
	Succeeded int      `json:"succeeded"`
	Errors    []string `json:"errors,omitempty"`
	Summary   string   `json:"summary"`
}

// Partial reports whether some items failed.
func (r *BatchResult) Partial() bool { return r.Succeeded < r.Total }

// ClearWeek deletes every appointment of the clinician's week starting at
// weekStart. Failures do not stop the batch. The deleted appointments are kept
// as the single undo snapshot for the clinician, replacing any earlier one.
func (s *Service) ClearWeek(ctx context.Context, clinicianID, weekStart string) (*BatchResult, error) {
	dates, err := WeekDates(weekStart)
	if err != nil {
		return nil, fmt.Errorf("invalid week start %q: %w", weekStart, err)
	}
	appts, err := s.appointments.ListRange(ctx, clinicianID, dates[0], dates[6])
	if err != nil {
		return nil, err
	}

	res := &BatchResult{Total: len(appts)}
	snap := &ClearedWeekSnapshot{ClinicianID: clinicianID, WeekStart: dates[0], ClearedAt: time.Now().UTC()}
	for _, a := range appts {
		if err := s.appointments.Delete(ctx, a.ID); err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("%s: %v", a.ID, err))
			continue
		}
		res.Succeeded++
		snap.Appointments = append(snap.Appointments, a.Clone())
		s.committed(ctx, OpDelete, a, a.Date)
	}

	if len(snap.Appointments) > 0 {
		s.mu.Lock()
		s.snapshots[clinicianID] = snap
		s.mu.Unlock()
	}

	res.Summary = fmt.Sprintf("cleared %d of %d", res.Succeeded, res.Total)
	if res.Partial() {
		res.Summary += "; press again"
		s.logger.Warn().Str("clinician_id", clinicianID).Str("week", dates[0]).
			Int("failed", res.Total-res.Succeeded).Msg("week clear incomplete")
	}
	return res, nil
}

// Snapshot returns the clinician's pending undo snapshot, if any.
func (s *Service) Snapshot(clinicianID string) (*ClearedWeekSnapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.snapshots[clinicianID]
	return snap, ok
}

// RestoreWeek re-creates the appointments of the last cleared week and
// discards the snapshot.
func (s *Service) RestoreWeek(ctx context.Context, clinicianID string) (*BatchResult, error) {
	s.mu.Lock()
	snap, ok := s.snapshots[clinicianID]
	delete(s.snapshots, clinicianID)
	s.mu.Unlock()
	if !ok {
		return nil, ErrNoSnapshot
	}

	res := &BatchResult{Total: len(snap.Appointments)}
	for _, a := range snap.Appointments {
		a.SyncStatus = SyncLocal
		if err := s.appointments.Create(ctx, a); err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("%s: %v", a.ID, err))
			continue
		}
		res.Succeeded++
		s.committed(ctx, OpCreate, a, a.Date)
	}
	res.Summary = fmt.Sprintf("restored %d of %d", res.Succeeded, res.Total)
	return res, nil
}
