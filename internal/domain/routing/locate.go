package routing

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/homevisit/visitgrid/internal/domain/visit"
	"github.com/homevisit/visitgrid/internal/platform/geo"
)

// AppointmentStore is the part of the appointment store routing needs.
type AppointmentStore interface {
	ListDay(ctx context.Context, clinicianID, date string) ([]*visit.Appointment, error)
	MoveAppointment(ctx context.Context, id uuid.UUID, date, start string) error
}

// PatientSource looks up patients and stores lazily resolved coordinates.
type PatientSource interface {
	GetPatient(ctx context.Context, id uuid.UUID) (*visit.Patient, error)
	SetPatientCoordinates(ctx context.Context, id uuid.UUID, lat, lng float64) error
}

// locator resolves the coordinates of a day's patients.
type locator struct {
	patients PatientSource
	resolver *geo.Resolver
	logger   zerolog.Logger
}

// locate resolves every distinct patient of appts. Patients that cannot be
// loaded or geocoded are absent from the result. Newly geocoded coordinates
// are written back onto the patient.
func (l *locator) locate(ctx context.Context, appts []*visit.Appointment) map[uuid.UUID]geo.Coord {
	out := make(map[uuid.UUID]geo.Coord)
	seen := make(map[uuid.UUID]bool)
	for _, a := range appts {
		if seen[a.PatientID] {
			continue
		}
		seen[a.PatientID] = true

		p, err := l.patients.GetPatient(ctx, a.PatientID)
		if err != nil {
			l.logger.Debug().Err(err).Str("patient_id", a.PatientID.String()).Msg("patient lookup failed")
			continue
		}
		loc := p.Location()
		c, ok := l.resolver.Resolve(ctx, loc)
		if !ok {
			continue
		}
		out[a.PatientID] = c
		if loc.Stored == nil {
			if err := l.patients.SetPatientCoordinates(ctx, p.ID, c.Lat, c.Lng); err != nil {
				l.logger.Warn().Err(err).Str("patient_id", p.ID.String()).Msg("failed to store resolved coordinates")
			}
		}
	}
	return out
}

// home resolves the home base, nil when unknown.
func (l *locator) home(ctx context.Context, loc *geo.Location) *geo.Coord {
	if loc == nil {
		return nil
	}
	c, ok := l.resolver.Resolve(ctx, *loc)
	if !ok {
		return nil
	}
	return &c
}

func lookupIn(m map[uuid.UUID]geo.Coord) CoordLookup {
	return func(id uuid.UUID) (geo.Coord, bool) {
		c, ok := m[id]
		return c, ok
	}
}
