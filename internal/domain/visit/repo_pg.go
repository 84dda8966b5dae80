package visit

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func affected(tag pgconn.CommandTag, err error) error {
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// =========== Appointment Repository ===========

type appointmentRepoPG struct{ db queryable }

func NewAppointmentRepoPG(pool *pgxpool.Pool) AppointmentRepository {
	return &appointmentRepoPG{db: pool}
}

const apptCols = `id, clinician_id, patient_id, visit_date::text, start_time, duration,
	status, visit_type, notes, sync_status, created_at, updated_at`

func (r *appointmentRepoPG) scanAppt(row pgx.Row) (*Appointment, error) {
	var a Appointment
	err := row.Scan(&a.ID, &a.ClinicianID, &a.PatientID, &a.Date, &a.StartTime, &a.Duration,
		&a.Status, &a.VisitType, &a.Notes, &a.SyncStatus, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &a, nil
}

func (r *appointmentRepoPG) Create(ctx context.Context, a *Appointment) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return r.db.QueryRow(ctx, `
		INSERT INTO appointment (id, clinician_id, patient_id, visit_date, start_time, duration,
			status, visit_type, notes, sync_status)
		VALUES ($1,$2,$3,$4::date,$5,$6,$7,$8,$9,$10)
		RETURNING created_at, updated_at`,
		a.ID, a.ClinicianID, a.PatientID, a.Date, a.StartTime, a.Duration,
		a.Status, a.VisitType, a.Notes, a.SyncStatus).Scan(&a.CreatedAt, &a.UpdatedAt)
}

func (r *appointmentRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return r.scanAppt(r.db.QueryRow(ctx, `SELECT `+apptCols+` FROM appointment WHERE id = $1`, id))
}

func (r *appointmentRepoPG) Update(ctx context.Context, a *Appointment) error {
	err := r.db.QueryRow(ctx, `
		UPDATE appointment SET patient_id=$2, visit_date=$3::date, start_time=$4, duration=$5,
			status=$6, visit_type=$7, notes=$8, sync_status=$9, updated_at=NOW()
		WHERE id = $1
		RETURNING updated_at`,
		a.ID, a.PatientID, a.Date, a.StartTime, a.Duration,
		a.Status, a.VisitType, a.Notes, a.SyncStatus).Scan(&a.UpdatedAt)
	return notFound(err)
}

func (r *appointmentRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	return affected(r.db.Exec(ctx, `DELETE FROM appointment WHERE id = $1`, id))
}

func (r *appointmentRepoPG) ListRange(ctx context.Context, clinicianID, from, to string) ([]*Appointment, error) {
	rows, err := r.db.Query(ctx, `SELECT `+apptCols+` FROM appointment
		WHERE clinician_id = $1 AND visit_date BETWEEN $2::date AND $3::date
		ORDER BY visit_date, start_time, id`, clinicianID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	defer rows.Close()
	var items []*Appointment
	for rows.Next() {
		a, err := r.scanAppt(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, a)
	}
	return items, rows.Err()
}

func (r *appointmentRepoPG) SetSyncStatus(ctx context.Context, id uuid.UUID, status string) error {
	return affected(r.db.Exec(ctx, `UPDATE appointment SET sync_status = $2 WHERE id = $1`, id, status))
}

// =========== Patient Repository ===========

type patientRepoPG struct{ db queryable }

func NewPatientRepoPG(pool *pgxpool.Pool) PatientRepository {
	return &patientRepoPG{db: pool}
}

const patientCols = `id, clinician_id, name, nickname, phone, address, lat, lng, created_at, updated_at`

func (r *patientRepoPG) scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	err := row.Scan(&p.ID, &p.ClinicianID, &p.Name, &p.Nickname, &p.Phone, &p.Address,
		&p.Lat, &p.Lng, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

func (r *patientRepoPG) Create(ctx context.Context, p *Patient) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return r.db.QueryRow(ctx, `
		INSERT INTO patient (id, clinician_id, name, nickname, phone, address, lat, lng)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		RETURNING created_at, updated_at`,
		p.ID, p.ClinicianID, p.Name, p.Nickname, p.Phone, p.Address, p.Lat, p.Lng,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
}

func (r *patientRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return r.scanPatient(r.db.QueryRow(ctx, `SELECT `+patientCols+` FROM patient WHERE id = $1`, id))
}

func (r *patientRepoPG) Update(ctx context.Context, p *Patient) error {
	err := r.db.QueryRow(ctx, `
		UPDATE patient SET name=$2, nickname=$3, phone=$4, address=$5, lat=$6, lng=$7, updated_at=NOW()
		WHERE id = $1
		RETURNING updated_at`,
		p.ID, p.Name, p.Nickname, p.Phone, p.Address, p.Lat, p.Lng).Scan(&p.UpdatedAt)
	return notFound(err)
}

func (r *patientRepoPG) List(ctx context.Context, clinicianID string, limit, offset int) ([]*Patient, int, error) {
	var total int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM patient WHERE clinician_id = $1`, clinicianID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.db.Query(ctx, `SELECT `+patientCols+` FROM patient WHERE clinician_id = $1
		ORDER BY name, id LIMIT $2 OFFSET $3`, clinicianID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Patient
	for rows.Next() {
		p, err := r.scanPatient(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, p)
	}
	return items, total, rows.Err()
}

func (r *patientRepoPG) SetCoordinates(ctx context.Context, id uuid.UUID, lat, lng float64) error {
	return affected(r.db.Exec(ctx, `UPDATE patient SET lat = $2, lng = $3, updated_at = NOW() WHERE id = $1`, id, lat, lng))
}
