package identity

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository defines patient identity storage.
type Repository interface {
	GetByPhone(ctx context.Context, phone string) (*Patient, error)
	GetByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	Create(ctx context.Context, patient *Patient) error
	// Delete removes a patient identity. A missing id is a no-op; a patient
	// that appointments reference is kept.
	Delete(ctx context.Context, id uuid.UUID) error
}

// InMemoryRepository is a Repository for tests and DB-less boot.
type InMemoryRepository struct {
	mu      sync.RWMutex
	byPhone map[string]*Patient
}

// NewInMemoryRepository creates an empty in-memory repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{byPhone: make(map[string]*Patient)}
}

func (r *InMemoryRepository) GetByPhone(ctx context.Context, phone string) (*Patient, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byPhone[phone]
	if !ok {
		return nil, ErrPatientNotFound
	}
	cp := *p
	return &cp, nil
}

func (r *InMemoryRepository) GetByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.byPhone {
		if p.ID == id {
			cp := *p
			return &cp, nil
		}
	}
	return nil, ErrPatientNotFound
}

func (r *InMemoryRepository) Create(ctx context.Context, patient *Patient) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byPhone[patient.Phone]; exists {
		return ErrPhoneTaken
	}
	cp := *patient
	r.byPhone[patient.Phone] = &cp
	return nil
}

func (r *InMemoryRepository) Delete(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for phone, p := range r.byPhone {
		if p.ID == id {
			delete(r.byPhone, phone)
			return nil
		}
	}
	return nil
}

// PostgresRepository stores patients in the relational database.
type PostgresRepository struct {
	db rowQuerier
}

type rowQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// NewPostgresRepository initializes a repo backed by pgxpool.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	if pool == nil {
		panic("identity: pgx pool required")
	}
	return &PostgresRepository{db: pool}
}

func newPostgresRepositoryWithExec(db rowQuerier) *PostgresRepository {
	if db == nil {
		panic("identity: exec required")
	}
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) GetByPhone(ctx context.Context, phone string) (*Patient, error) {
	query := `
		SELECT id, full_name, phone, email, username, password_hash, created_at
		FROM patients
		WHERE phone = $1
	`
	var p Patient
	err := r.db.QueryRow(ctx, query, phone).Scan(
		&p.ID,
		&p.FullName,
		&p.Phone,
		&p.Email,
		&p.Username,
		&p.PasswordHash,
		&p.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPatientNotFound
		}
		return nil, fmt.Errorf("identity: get by phone: %w", err)
	}
	return &p, nil
}

func (r *PostgresRepository) GetByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	query := `
		SELECT id, full_name, phone, email, username, password_hash, created_at
		FROM patients
		WHERE id = $1
	`
	var p Patient
	err := r.db.QueryRow(ctx, query, id).Scan(
		&p.ID,
		&p.FullName,
		&p.Phone,
		&p.Email,
		&p.Username,
		&p.PasswordHash,
		&p.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPatientNotFound
		}
		return nil, fmt.Errorf("identity: get by id: %w", err)
	}
	return &p, nil
}

func (r *PostgresRepository) Create(ctx context.Context, patient *Patient) error {
	query := `
		INSERT INTO patients (id, full_name, phone, email, username, password_hash)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (phone) DO NOTHING
	`
	ct, err := r.db.Exec(ctx, query,
		patient.ID,
		patient.FullName,
		patient.Phone,
		patient.Email,
		patient.Username,
		patient.PasswordHash,
	)
	if err != nil {
		return fmt.Errorf("identity: insert patient: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrPhoneTaken
	}
	return nil
}

func (r *PostgresRepository) Delete(ctx context.Context, id uuid.UUID) error {
	query := `
		DELETE FROM patients
		WHERE id = $1
		  AND NOT EXISTS (SELECT 1 FROM appointments WHERE patient_id = $1)
	`
	if _, err := r.db.Exec(ctx, query, id); err != nil {
		return fmt.Errorf("identity: delete patient: %w", err)
	}
	return nil
}
