package visit

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryAppointmentRepo is an in-process AppointmentRepository used when no
// database is configured and by tests. Stored values are copied on the way in
// and out.
type MemoryAppointmentRepo struct {
	mu    sync.RWMutex
	appts map[uuid.UUID]*Appointment
}

func NewMemoryAppointmentRepo() *MemoryAppointmentRepo {
	return &MemoryAppointmentRepo{appts: make(map[uuid.UUID]*Appointment)}
}

func (m *MemoryAppointmentRepo) Create(_ context.Context, a *Appointment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	now := time.Now()
	a.CreatedAt = now
	a.UpdatedAt = now
	m.appts[a.ID] = a.Clone()
	return nil
}

func (m *MemoryAppointmentRepo) GetByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.appts[id]
	if !ok {
		return nil, ErrNotFound
	}
	return a.Clone(), nil
}

func (m *MemoryAppointmentRepo) Update(_ context.Context, a *Appointment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	old, ok := m.appts[a.ID]
	if !ok {
		return ErrNotFound
	}
	a.CreatedAt = old.CreatedAt
	a.UpdatedAt = time.Now()
	m.appts[a.ID] = a.Clone()
	return nil
}

func (m *MemoryAppointmentRepo) Delete(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.appts[id]; !ok {
		return ErrNotFound
	}
	delete(m.appts, id)
	return nil
}

func (m *MemoryAppointmentRepo) ListRange(_ context.Context, clinicianID, from, to string) ([]*Appointment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Appointment
	for _, a := range m.appts {
		if a.ClinicianID == clinicianID && a.Date >= from && a.Date <= to {
			out = append(out, a.Clone())
		}
	}
	SortByStart(out)
	return out, nil
}

func (m *MemoryAppointmentRepo) SetSyncStatus(_ context.Context, id uuid.UUID, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.appts[id]
	if !ok {
		return ErrNotFound
	}
	a.SyncStatus = status
	return nil
}

// MemoryPatientRepo is the in-process PatientRepository.
type MemoryPatientRepo struct {
	mu       sync.RWMutex
	patients map[uuid.UUID]*Patient
}

func NewMemoryPatientRepo() *MemoryPatientRepo {
	return &MemoryPatientRepo{patients: make(map[uuid.UUID]*Patient)}
}

func (m *MemoryPatientRepo) Create(_ context.Context, p *Patient) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	now := time.Now()
	p.CreatedAt = now
	p.UpdatedAt = now
	cp := *p
	m.patients[p.ID] = &cp
	return nil
}

func (m *MemoryPatientRepo) GetByID(_ context.Context, id uuid.UUID) (*Patient, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.patients[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *MemoryPatientRepo) Update(_ context.Context, p *Patient) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	old, ok := m.patients[p.ID]
	if !ok {
		return ErrNotFound
	}
	p.CreatedAt = old.CreatedAt
	p.UpdatedAt = time.Now()
	cp := *p
	m.patients[p.ID] = &cp
	return nil
}

func (m *MemoryPatientRepo) List(_ context.Context, clinicianID string, limit, offset int) ([]*Patient, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var all []*Patient
	for _, p := range m.patients {
		if p.ClinicianID == clinicianID {
			cp := *p
			all = append(all, &cp)
		}
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].Name != all[j].Name {
			return all[i].Name < all[j].Name
		}
		return all[i].ID.String() < all[j].ID.String()
	})
	total := len(all)
	if offset >= total {
		return []*Patient{}, total, nil
	}
	end := min(offset+limit, total)
	return all[offset:end], total, nil
}

func (m *MemoryPatientRepo) SetCoordinates(_ context.Context, id uuid.UUID, lat, lng float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.patients[id]
	if !ok {
		return ErrNotFound
	}
	p.Lat = &lat
	p.Lng = &lng
	return nil
}

// SortByStart orders appointments by date, start time, then id.
func SortByStart(appts []*Appointment) {
	sort.SliceStable(appts, func(i, j int) bool {
		a, b := appts[i], appts[j]
		if a.Date != b.Date {
			return a.Date < b.Date
		}
		if sa, sb := a.StartMinutes(), b.StartMinutes(); sa != sb {
			return sa < sb
		}
		return a.ID.String() < b.ID.String()
	})
}
