package appointments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/carelane/clinic-api/internal/availability"
)

type querier interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresRepository stores appointments in the relational database. Write
// commits serialize per (doctor, day) on an advisory transaction lock and
// re-check overlap inside the transaction, so the unique-winner guarantee
// holds without table locks.
type PostgresRepository struct {
	db querier
}

// NewPostgresRepository initializes a repo backed by pgxpool.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	if pool == nil {
		panic("appointments: pgx pool required")
	}
	return &PostgresRepository{db: pool}
}

func newPostgresRepositoryWithQuerier(db querier) *PostgresRepository {
	if db == nil {
		panic("appointments: querier required")
	}
	return &PostgresRepository{db: db}
}

const lockQuery = `SELECT pg_advisory_xact_lock(hashtext($1), $2)`

// lockKey derives the advisory lock pair for a doctor and a window start.
func lockKey(doctorID uuid.UUID, start time.Time) (string, int32) {
	return doctorID.String(), int32(start.Unix() / 86400)
}

const overlapQuery = `
	SELECT EXISTS (
		SELECT 1 FROM appointments
		WHERE doctor_id = $1
		  AND status <> 'cancelled'
		  AND id <> $2
		  AND start_at < $4
		  AND end_at > $3
	)
`

func (r *PostgresRepository) CreateIfFree(ctx context.Context, appt *Appointment) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("appointments: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	key, day := lockKey(appt.DoctorID, appt.StartAt)
	if _, err := tx.Exec(ctx, lockQuery, key, day); err != nil {
		return fmt.Errorf("appointments: acquire lock: %w", err)
	}

	var taken bool
	err = tx.QueryRow(ctx, overlapQuery, appt.DoctorID, uuid.Nil, appt.StartAt, appt.EndAt).Scan(&taken)
	if err != nil {
		return fmt.Errorf("appointments: overlap check: %w", err)
	}
	if taken {
		return ErrSlotTaken
	}

	insert := `
		INSERT INTO appointments
			(id, clinic_id, doctor_id, service_id, patient_id, start_at, end_at,
			 full_name, phone, email, notes, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err = tx.Exec(ctx, insert,
		appt.ID,
		appt.ClinicID,
		appt.DoctorID,
		appt.ServiceID,
		appt.PatientID,
		appt.StartAt,
		appt.EndAt,
		appt.FullName,
		appt.Phone,
		appt.Email,
		appt.Notes,
		string(appt.Status),
	)
	if err != nil {
		return fmt.Errorf("appointments: insert: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("appointments: commit: %w", err)
	}
	return nil
}

func (r *PostgresRepository) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	query := `
		SELECT id, clinic_id, doctor_id, service_id, patient_id, start_at, end_at,
		       full_name, phone, email, notes, status, created_at, updated_at
		FROM appointments
		WHERE id = $1
	`
	appt, err := scanAppointment(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, fmt.Errorf("appointments: get by id: %w", err)
	}
	return appt, nil
}

func (r *PostgresRepository) Reschedule(ctx context.Context, id, doctorID uuid.UUID, newStart, newEnd time.Time) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("appointments: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	key, day := lockKey(doctorID, newStart)
	if _, err := tx.Exec(ctx, lockQuery, key, day); err != nil {
		return fmt.Errorf("appointments: acquire lock: %w", err)
	}

	var current string
	err = tx.QueryRow(ctx, `SELECT status FROM appointments WHERE id = $1`, id).Scan(&current)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrAppointmentNotFound
		}
		return fmt.Errorf("appointments: load status: %w", err)
	}
	if !isPreVisit(Status(current)) {
		return ErrInvalidTransition
	}

	var taken bool
	err = tx.QueryRow(ctx, overlapQuery, doctorID, id, newStart, newEnd).Scan(&taken)
	if err != nil {
		return fmt.Errorf("appointments: overlap check: %w", err)
	}
	if taken {
		return ErrSlotTaken
	}

	update := `
		UPDATE appointments
		SET start_at = $2, end_at = $3, updated_at = now()
		WHERE id = $1
	`
	if _, err := tx.Exec(ctx, update, id, newStart, newEnd); err != nil {
		return fmt.Errorf("appointments: reschedule: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("appointments: commit: %w", err)
	}
	return nil
}

func (r *PostgresRepository) UpdateStatus(ctx context.Context, id uuid.UUID, to Status, from ...Status) error {
	guard := make([]string, len(from))
	for i, s := range from {
		guard[i] = string(s)
	}

	update := `
		UPDATE appointments
		SET status = $2, updated_at = now()
		WHERE id = $1 AND status = ANY($3)
	`
	ct, err := r.db.Exec(ctx, update, id, string(to), guard)
	if err != nil {
		return fmt.Errorf("appointments: update status: %w", err)
	}
	if ct.RowsAffected() == 1 {
		return nil
	}

	// Guard miss: tell a missing row apart from a state that moved on.
	var exists bool
	err = r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM appointments WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return fmt.Errorf("appointments: update status: %w", err)
	}
	if !exists {
		return ErrAppointmentNotFound
	}
	return ErrInvalidTransition
}

func (r *PostgresRepository) ListForDoctorDay(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]*Appointment, error) {
	query := `
		SELECT id, clinic_id, doctor_id, service_id, patient_id, start_at, end_at,
		       full_name, phone, email, notes, status, created_at, updated_at
		FROM appointments
		WHERE doctor_id = $1 AND start_at >= $2 AND start_at < $3
		ORDER BY start_at
	`
	rows, err := r.db.Query(ctx, query, doctorID, from, to)
	if err != nil {
		return nil, fmt.Errorf("appointments: list for doctor day: %w", err)
	}
	defer rows.Close()

	var out []*Appointment
	for rows.Next() {
		appt, err := scanAppointment(rows)
		if err != nil {
			return nil, fmt.Errorf("appointments: scan: %w", err)
		}
		out = append(out, appt)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) BusyIntervals(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]availability.Interval, error) {
	query := `
		SELECT start_at, end_at
		FROM appointments
		WHERE doctor_id = $1
		  AND status <> 'cancelled'
		  AND start_at < $3
		  AND end_at > $2
		ORDER BY start_at
	`
	rows, err := r.db.Query(ctx, query, doctorID, from, to)
	if err != nil {
		return nil, fmt.Errorf("appointments: list busy intervals: %w", err)
	}
	defer rows.Close()

	var out []availability.Interval
	for rows.Next() {
		var iv availability.Interval
		if err := rows.Scan(&iv.Start, &iv.End); err != nil {
			return nil, fmt.Errorf("appointments: scan interval: %w", err)
		}
		out = append(out, iv)
	}
	return out, rows.Err()
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var appt Appointment
	var status string
	err := row.Scan(
		&appt.ID,
		&appt.ClinicID,
		&appt.DoctorID,
		&appt.ServiceID,
		&appt.PatientID,
		&appt.StartAt,
		&appt.EndAt,
		&appt.FullName,
		&appt.Phone,
		&appt.Email,
		&appt.Notes,
		&status,
		&appt.CreatedAt,
		&appt.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	appt.Status = Status(status)
	return &appt, nil
}
