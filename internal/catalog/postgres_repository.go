package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresRepository reads reference data from the relational database.
type PostgresRepository struct {
	db querier
}

// NewPostgresRepository initializes a repo backed by pgxpool.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	if pool == nil {
		panic("catalog: pgx pool required")
	}
	return &PostgresRepository{db: pool}
}

func newPostgresRepositoryWithQuerier(db querier) *PostgresRepository {
	if db == nil {
		panic("catalog: querier required")
	}
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) ListClinics(ctx context.Context) ([]*Clinic, error) {
	query := `
		SELECT id, code, name, timezone, phone, email, address
		FROM clinics
		ORDER BY code
	`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("catalog: list clinics: %w", err)
	}
	defer rows.Close()

	var out []*Clinic
	for rows.Next() {
		var c Clinic
		if err := rows.Scan(&c.ID, &c.Code, &c.Name, &c.Timezone, &c.Phone, &c.Email, &c.Address); err != nil {
			return nil, fmt.Errorf("catalog: scan clinic: %w", err)
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) GetClinic(ctx context.Context, id uuid.UUID) (*Clinic, error) {
	query := `
		SELECT id, code, name, timezone, phone, email, address
		FROM clinics
		WHERE id = $1
	`
	var c Clinic
	err := r.db.QueryRow(ctx, query, id).Scan(&c.ID, &c.Code, &c.Name, &c.Timezone, &c.Phone, &c.Email, &c.Address)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrClinicNotFound
		}
		return nil, fmt.Errorf("catalog: get clinic: %w", err)
	}
	return &c, nil
}

func (r *PostgresRepository) ListServices(ctx context.Context, clinicID uuid.UUID, activeOnly bool) ([]*Service, error) {
	query := `
		SELECT id, clinic_id, code, name, duration_minutes, price_cents, is_active
		FROM services
		WHERE clinic_id = $1 AND (NOT $2 OR is_active)
		ORDER BY code
	`
	rows, err := r.db.Query(ctx, query, clinicID, activeOnly)
	if err != nil {
		return nil, fmt.Errorf("catalog: list services: %w", err)
	}
	defer rows.Close()

	var out []*Service
	for rows.Next() {
		var s Service
		if err := rows.Scan(&s.ID, &s.ClinicID, &s.Code, &s.Name, &s.DurationMinutes, &s.PriceCents, &s.Active); err != nil {
			return nil, fmt.Errorf("catalog: scan service: %w", err)
		}
		out = append(out, &s)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) GetService(ctx context.Context, id uuid.UUID) (*Service, error) {
	query := `
		SELECT id, clinic_id, code, name, duration_minutes, price_cents, is_active
		FROM services
		WHERE id = $1
	`
	var s Service
	err := r.db.QueryRow(ctx, query, id).Scan(&s.ID, &s.ClinicID, &s.Code, &s.Name, &s.DurationMinutes, &s.PriceCents, &s.Active)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrServiceNotFound
		}
		return nil, fmt.Errorf("catalog: get service: %w", err)
	}
	return &s, nil
}

func (r *PostgresRepository) ListDoctors(ctx context.Context, clinicID uuid.UUID, activeOnly bool, serviceID uuid.UUID) ([]*Doctor, error) {
	query := `
		SELECT d.id, d.clinic_id, d.code, d.full_name, d.specialty, d.is_active
		FROM doctors d
		WHERE d.clinic_id = $1
		  AND (NOT $2 OR d.is_active)
		  AND ($3::uuid IS NULL OR EXISTS (
		      SELECT 1 FROM doctor_services ds
		      WHERE ds.doctor_id = d.id AND ds.service_id = $3
		  ))
		ORDER BY d.code
	`
	var serviceArg any
	if serviceID != uuid.Nil {
		serviceArg = serviceID
	}
	rows, err := r.db.Query(ctx, query, clinicID, activeOnly, serviceArg)
	if err != nil {
		return nil, fmt.Errorf("catalog: list doctors: %w", err)
	}
	defer rows.Close()

	var out []*Doctor
	for rows.Next() {
		var d Doctor
		if err := rows.Scan(&d.ID, &d.ClinicID, &d.Code, &d.FullName, &d.Specialty, &d.Active); err != nil {
			return nil, fmt.Errorf("catalog: scan doctor: %w", err)
		}
		out = append(out, &d)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) GetDoctor(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	query := `
		SELECT id, clinic_id, code, full_name, specialty, is_active
		FROM doctors
		WHERE id = $1
	`
	var d Doctor
	err := r.db.QueryRow(ctx, query, id).Scan(&d.ID, &d.ClinicID, &d.Code, &d.FullName, &d.Specialty, &d.Active)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDoctorNotFound
		}
		return nil, fmt.Errorf("catalog: get doctor: %w", err)
	}
	return &d, nil
}
