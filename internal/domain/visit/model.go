package visit

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/homevisit/visitgrid/internal/platform/geo"
	"github.com/homevisit/visitgrid/internal/platform/timegrid"
)

// DateLayout is the wire and storage format of calendar days.
const DateLayout = "2006-01-02"

// ErrNotFound is returned by repositories when a row does not exist.
var ErrNotFound = errors.New("not found")

// Sync statuses.
const (
	SyncLocal  = "local"
	SyncSynced = "synced"
	SyncFailed = "failed"
)

// Appointment maps to the appointment table.
type Appointment struct {
	ID          uuid.UUID `db:"id" json:"id"`
	ClinicianID string    `db:"clinician_id" json:"clinician_id"`
	PatientID   uuid.UUID `db:"patient_id" json:"patient_id"`
	Date        string    `db:"visit_date" json:"date"`
	StartTime   string    `db:"start_time" json:"start_time"`
	Duration    int       `db:"duration" json:"duration"`
	Status      string    `db:"status" json:"status"`
	VisitType   *string   `db:"visit_type" json:"visit_type,omitempty"`
	Notes       *string   `db:"notes" json:"notes,omitempty"`
	SyncStatus  string    `db:"sync_status" json:"sync_status"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// StartMinutes is the start as minutes from midnight.
func (a *Appointment) StartMinutes() int { return timegrid.TimeToMinutes(a.StartTime) }

// EndMinutes is the end as minutes from midnight.
func (a *Appointment) EndMinutes() int { return a.StartMinutes() + a.Duration }

// Clone returns a shallow copy with its own pointer fields.
func (a *Appointment) Clone() *Appointment {
	c := *a
	if a.VisitType != nil {
		v := *a.VisitType
		c.VisitType = &v
	}
	if a.Notes != nil {
		n := *a.Notes
		c.Notes = &n
	}
	return &c
}

// Patient maps to the patient table.
type Patient struct {
	ID          uuid.UUID `db:"id" json:"id"`
	ClinicianID string    `db:"clinician_id" json:"clinician_id"`
	Name        string    `db:"name" json:"name"`
	Nickname    *string   `db:"nickname" json:"nickname,omitempty"`
	Phone       *string   `db:"phone" json:"phone,omitempty"`
	Address     *string   `db:"address" json:"address,omitempty"`
	Lat         *float64  `db:"lat" json:"lat,omitempty"`
	Lng         *float64  `db:"lng" json:"lng,omitempty"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// DisplayName prefers the nickname when one is set.
func (p *Patient) DisplayName() string {
	if p.Nickname != nil && strings.TrimSpace(*p.Nickname) != "" {
		return *p.Nickname + " (" + p.Name + ")"
	}
	return p.Name
}

// Location describes where the patient is for routing purposes.
func (p *Patient) Location() geo.Location {
	loc := geo.Location{Key: p.ID.String()}
	if p.Address != nil {
		loc.Address = *p.Address
	}
	if p.Lat != nil && p.Lng != nil {
		loc.Stored = &geo.Coord{Lat: *p.Lat, Lng: *p.Lng}
	}
	return loc
}

// ClearedWeekSnapshot retains the appointments removed by the last week clear
// so that it can be undone once.
type ClearedWeekSnapshot struct {
	ClinicianID  string         `json:"clinician_id"`
	WeekStart    string         `json:"week_start"`
	Appointments []*Appointment `json:"appointments"`
	ClearedAt    time.Time      `json:"cleared_at"`
}

// WeekDates returns the seven dates starting at weekStart.
func WeekDates(weekStart string) ([]string, error) {
	d, err := time.Parse(DateLayout, weekStart)
	if err != nil {
		return nil, err
	}
	out := make([]string, 7)
	for i := range out {
		out[i] = d.AddDate(0, 0, i).Format(DateLayout)
	}
	return out, nil
}
