package visit

import (
	"context"

	"github.com/google/uuid"
)

type AppointmentRepository interface {
	Create(ctx context.Context, a *Appointment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	Update(ctx context.Context, a *Appointment) error
	Delete(ctx context.Context, id uuid.UUID) error
	// ListRange returns a clinician's appointments with from <= date <= to,
	// ordered by date, start time, id.
	ListRange(ctx context.Context, clinicianID, from, to string) ([]*Appointment, error)
	SetSyncStatus(ctx context.Context, id uuid.UUID, status string) error
}

type PatientRepository interface {
	Create(ctx context.Context, p *Patient) error
	GetByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	Update(ctx context.Context, p *Patient) error
	List(ctx context.Context, clinicianID string, limit, offset int) ([]*Patient, int, error)
	SetCoordinates(ctx context.Context, id uuid.UUID, lat, lng float64) error
}
