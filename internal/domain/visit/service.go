package visit

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/homevisit/visitgrid/internal/platform/timegrid"
)

// Change operations recorded for the remote store.
const (
	OpCreate = "create"
	OpUpdate = "update"
	OpDelete = "delete"
)

// Change describes one committed local mutation.
type Change struct {
	Op          string       `json:"op"`
	ID          uuid.UUID    `json:"id"`
	ClinicianID string       `json:"clinician_id"`
	Appointment *Appointment `json:"appointment,omitempty"`
	At          time.Time    `json:"at"`
}

// ChangeRecorder queues committed changes for later sync.
type ChangeRecorder interface {
	RecordChange(ctx context.Context, c Change) error
}

// SyncTrigger asks the sync layer to run soon. It must not block.
type SyncTrigger interface {
	RequestSync()
}

// ChangeNotifier is told which days of a clinician's calendar changed.
type ChangeNotifier interface {
	AppointmentsChanged(ctx context.Context, clinicianID string, dates []string)
}

// Notifiers fans a change out to several listeners. Listeners are added
// during wiring, before the service takes traffic.
type Notifiers []ChangeNotifier

func (ns *Notifiers) Add(n ChangeNotifier) { *ns = append(*ns, n) }

func (ns *Notifiers) AppointmentsChanged(ctx context.Context, clinicianID string, dates []string) {
	for _, n := range *ns {
		n.AppointmentsChanged(ctx, clinicianID, dates)
	}
}

// PatientNotifier is told when a patient's address or coordinates change,
// so anything derived from the old position can be dropped.
type PatientNotifier interface {
	PatientMoved(ctx context.Context, clinicianID string, patientID uuid.UUID)
}

// PatientNotifiers fans a patient move out to several listeners.
type PatientNotifiers []PatientNotifier

func (ns *PatientNotifiers) Add(n PatientNotifier) { *ns = append(*ns, n) }

func (ns *PatientNotifiers) PatientMoved(ctx context.Context, clinicianID string, patientID uuid.UUID) {
	for _, n := range *ns {
		n.PatientMoved(ctx, clinicianID, patientID)
	}
}

type Service struct {
	appointments    AppointmentRepository
	patients        PatientRepository
	recorder        ChangeRecorder
	trigger         SyncTrigger
	notifier        ChangeNotifier
	patientNotifier PatientNotifier
	logger          zerolog.Logger

	mu        sync.Mutex
	snapshots map[string]*ClearedWeekSnapshot
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

func WithChangeRecorder(r ChangeRecorder) ServiceOption {
	return func(s *Service) { s.recorder = r }
}

func WithSyncTrigger(t SyncTrigger) ServiceOption {
	return func(s *Service) { s.trigger = t }
}

func WithNotifier(n ChangeNotifier) ServiceOption {
	return func(s *Service) { s.notifier = n }
}

func WithPatientNotifier(n PatientNotifier) ServiceOption {
	return func(s *Service) { s.patientNotifier = n }
}

func WithLogger(l zerolog.Logger) ServiceOption {
	return func(s *Service) { s.logger = l }
}

func NewService(appts AppointmentRepository, patients PatientRepository, opts ...ServiceOption) *Service {
	s := &Service{
		appointments: appts,
		patients:     patients,
		logger:       zerolog.Nop(),
		snapshots:    make(map[string]*ClearedWeekSnapshot),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// -- Validation --

var validAppointmentStatuses = map[string]bool{
	"scheduled": true, "confirmed": true, "completed": true,
	"cancelled": true, "no-show": true,
}

func validDate(d string) error {
	if d == "" {
		return fmt.Errorf("date is required")
	}
	if _, err := time.Parse(DateLayout, d); err != nil {
		return fmt.Errorf("invalid date %q: expected YYYY-MM-DD", d)
	}
	return nil
}

func validStart(start string) error {
	if start == "" {
		return fmt.Errorf("start_time is required")
	}
	if _, err := timegrid.ParseClock(start); err != nil {
		return err
	}
	if !timegrid.IsQuarterHour(start) {
		return fmt.Errorf("start_time %s must be on a quarter hour", start)
	}
	return nil
}

func validDuration(d int) error {
	if d < timegrid.SlotMinutes || d%timegrid.SlotMinutes != 0 {
		return fmt.Errorf("duration must be a positive multiple of %d minutes", timegrid.SlotMinutes)
	}
	if d > timegrid.MinutesPerDay {
		return fmt.Errorf("duration must not exceed one day")
	}
	return nil
}

func validateAppointment(a *Appointment) error {
	if a.ClinicianID == "" {
		return fmt.Errorf("clinician_id is required")
	}
	if a.PatientID == uuid.Nil {
		return fmt.Errorf("patient_id is required")
	}
	if err := validDate(a.Date); err != nil {
		return err
	}
	if err := validStart(a.StartTime); err != nil {
		return err
	}
	if err := validDuration(a.Duration); err != nil {
		return err
	}
	if !validAppointmentStatuses[a.Status] {
		return fmt.Errorf("invalid appointment status: %s", a.Status)
	}
	return nil
}

// normalise canonicalises the clock format ("9:00" -> "09:00").
func normalise(a *Appointment) {
	if m, err := timegrid.ParseClock(a.StartTime); err == nil {
		a.StartTime = timegrid.MinutesToTime(m)
	}
	if a.VisitType != nil && strings.TrimSpace(*a.VisitType) == "" {
		a.VisitType = nil
	}
}

// -- Appointment --

func (s *Service) CreateAppointment(ctx context.Context, a *Appointment) error {
	if a.Status == "" {
		a.Status = "scheduled"
	}
	if err := validateAppointment(a); err != nil {
		return err
	}
	normalise(a)
	a.SyncStatus = SyncLocal
	if err := s.appointments.Create(ctx, a); err != nil {
		return fmt.Errorf("create appointment: %w", err)
	}
	s.committed(ctx, OpCreate, a, a.Date)
	return nil
}

func (s *Service) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.appointments.GetByID(ctx, id)
}

// UpdateAppointment replaces the editable fields of an existing appointment.
func (s *Service) UpdateAppointment(ctx context.Context, a *Appointment) error {
	existing, err := s.appointments.GetByID(ctx, a.ID)
	if err != nil {
		return err
	}
	a.ClinicianID = existing.ClinicianID
	if a.Status == "" {
		a.Status = existing.Status
	}
	if err := validateAppointment(a); err != nil {
		return err
	}
	normalise(a)
	a.SyncStatus = SyncLocal
	if err := s.appointments.Update(ctx, a); err != nil {
		return fmt.Errorf("update appointment: %w", err)
	}
	s.committed(ctx, OpUpdate, a, existing.Date, a.Date)
	return nil
}

func (s *Service) DeleteAppointment(ctx context.Context, id uuid.UUID) error {
	existing, err := s.appointments.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if err := s.appointments.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete appointment: %w", err)
	}
	s.committed(ctx, OpDelete, existing, existing.Date)
	return nil
}

// ListAppointments returns a clinician's appointments for the inclusive date range.
func (s *Service) ListAppointments(ctx context.Context, clinicianID, from, to string) ([]*Appointment, error) {
	if err := validDate(from); err != nil {
		return nil, err
	}
	if err := validDate(to); err != nil {
		return nil, err
	}
	if to < from {
		return nil, fmt.Errorf("range end %s is before start %s", to, from)
	}
	return s.appointments.ListRange(ctx, clinicianID, from, to)
}

// ListDay returns one day's appointments in start order.
func (s *Service) ListDay(ctx context.Context, clinicianID, date string) ([]*Appointment, error) {
	return s.ListAppointments(ctx, clinicianID, date, date)
}

// MoveAppointment changes the date and start time. A move onto the current
// slot is not written.
func (s *Service) MoveAppointment(ctx context.Context, id uuid.UUID, date, start string) error {
	if err := validDate(date); err != nil {
		return err
	}
	if err := validStart(start); err != nil {
		return err
	}
	a, err := s.appointments.GetByID(ctx, id)
	if err != nil {
		return err
	}
	start = timegrid.MinutesToTime(timegrid.TimeToMinutes(start))
	if a.Date == date && a.StartTime == start {
		return nil
	}
	prevDate := a.Date
	a.Date = date
	a.StartTime = start
	a.SyncStatus = SyncLocal
	if err := s.appointments.Update(ctx, a); err != nil {
		return fmt.Errorf("move appointment: %w", err)
	}
	s.committed(ctx, OpUpdate, a, prevDate, date)
	return nil
}

// ResizeAppointment changes start time and duration on the same day.
func (s *Service) ResizeAppointment(ctx context.Context, id uuid.UUID, start string, duration int) error {
	if err := validStart(start); err != nil {
		return err
	}
	if err := validDuration(duration); err != nil {
		return err
	}
	a, err := s.appointments.GetByID(ctx, id)
	if err != nil {
		return err
	}
	start = timegrid.MinutesToTime(timegrid.TimeToMinutes(start))
	if a.StartTime == start && a.Duration == duration {
		return nil
	}
	a.StartTime = start
	a.Duration = duration
	a.SyncStatus = SyncLocal
	if err := s.appointments.Update(ctx, a); err != nil {
		return fmt.Errorf("resize appointment: %w", err)
	}
	s.committed(ctx, OpUpdate, a, a.Date)
	return nil
}

// CopyAppointment creates a new appointment for the same patient with the same
// duration, visit type and notes at the given slot.
func (s *Service) CopyAppointment(ctx context.Context, id uuid.UUID, date, start string) (*Appointment, error) {
	src, err := s.appointments.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	cp := src.Clone()
	cp.ID = uuid.Nil
	cp.Date = date
	cp.StartTime = start
	cp.Status = "scheduled"
	if err := s.CreateAppointment(ctx, cp); err != nil {
		return nil, err
	}
	return cp, nil
}

// MarkSynced and MarkSyncFailed record the outcome reported by the sync layer.
func (s *Service) MarkSynced(ctx context.Context, id uuid.UUID) error {
	return s.appointments.SetSyncStatus(ctx, id, SyncSynced)
}

func (s *Service) MarkSyncFailed(ctx context.Context, id uuid.UUID) error {
	return s.appointments.SetSyncStatus(ctx, id, SyncFailed)
}

// committed fans a successful write out to the outbox, the sync trigger and
// change listeners. None of these can fail the mutation.
func (s *Service) committed(ctx context.Context, op string, a *Appointment, dates ...string) {
	if s.recorder != nil {
		c := Change{Op: op, ID: a.ID, ClinicianID: a.ClinicianID, At: time.Now().UTC()}
		if op != OpDelete {
			c.Appointment = a.Clone()
		}
		if err := s.recorder.RecordChange(ctx, c); err != nil {
			s.logger.Error().Err(err).Str("appointment_id", a.ID.String()).Str("op", op).
				Msg("failed to record change for sync")
		}
	}
	if s.trigger != nil {
		s.trigger.RequestSync()
	}
	if s.notifier != nil {
		s.notifier.AppointmentsChanged(ctx, a.ClinicianID, uniqueDates(dates))
	}
}

func uniqueDates(dates []string) []string {
	out := dates[:0:0]
	seen := make(map[string]bool, len(dates))
	for _, d := range dates {
		if d != "" && !seen[d] {
			seen[d] = true
			out = append(out, d)
		}
	}
	return out
}

// -- Patient --

func (s *Service) CreatePatient(ctx context.Context, p *Patient) error {
	if p.ClinicianID == "" {
		return fmt.Errorf("clinician_id is required")
	}
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("name is required")
	}
	if (p.Lat == nil) != (p.Lng == nil) {
		return fmt.Errorf("lat and lng must be provided together")
	}
	return s.patients.Create(ctx, p)
}

func (s *Service) GetPatient(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return s.patients.GetByID(ctx, id)
}

func (s *Service) UpdatePatient(ctx context.Context, p *Patient) error {
	existing, err := s.patients.GetByID(ctx, p.ID)
	if err != nil {
		return err
	}
	p.ClinicianID = existing.ClinicianID
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("name is required")
	}
	if (p.Lat == nil) != (p.Lng == nil) {
		return fmt.Errorf("lat and lng must be provided together")
	}
	addressChanged := trimmed(p.Address) != trimmed(existing.Address)
	coordsChanged := !sameCoord(p, existing)
	// Coordinates echoed back with a new address belong to the old one.
	if addressChanged && !coordsChanged {
		p.Lat, p.Lng = nil, nil
		coordsChanged = existing.Lat != nil
	}
	if err := s.patients.Update(ctx, p); err != nil {
		return err
	}
	if (addressChanged || coordsChanged) && s.patientNotifier != nil {
		s.patientNotifier.PatientMoved(ctx, p.ClinicianID, p.ID)
	}
	return nil
}

func trimmed(s *string) string {
	if s == nil {
		return ""
	}
	return strings.TrimSpace(*s)
}

func sameCoord(a, b *Patient) bool {
	if a.Lat == nil || b.Lat == nil {
		return a.Lat == nil && b.Lat == nil
	}
	return *a.Lat == *b.Lat && *a.Lng == *b.Lng
}

func (s *Service) ListPatients(ctx context.Context, clinicianID string, limit, offset int) ([]*Patient, int, error) {
	return s.patients.List(ctx, clinicianID, limit, offset)
}

// SetPatientCoordinates stores a lazily geocoded position on the patient.
func (s *Service) SetPatientCoordinates(ctx context.Context, id uuid.UUID, lat, lng float64) error {
	return s.patients.SetCoordinates(ctx, id, lat, lng)
}
