package tokens

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store persists capability token records keyed by digest.
type Store interface {
	Insert(ctx context.Context, appointmentID uuid.UUID, purpose Purpose, digest string) error
	Find(ctx context.Context, digest string) (*Record, error)
	// Consume marks a token used. Returns false when the token was already
	// consumed or invalidated; the update is a single compare-and-set so
	// concurrent double-submission resolves to exactly one winner.
	Consume(ctx context.Context, digest string) (bool, error)
	// Release clears a consumption mark so the token can be redeemed
	// again. An invalidated token is left untouched.
	Release(ctx context.Context, digest string) error
	// InvalidateForAppointment retires every live token bound to the
	// appointment (both purposes).
	InvalidateForAppointment(ctx context.Context, appointmentID uuid.UUID) error
}

// InMemoryStore is a Store for tests and DB-less boot.
type InMemoryStore struct {
	mu      sync.Mutex
	records map[string]*Record
}

// NewInMemoryStore creates an empty in-memory token store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{records: make(map[string]*Record)}
}

func (s *InMemoryStore) Insert(ctx context.Context, appointmentID uuid.UUID, purpose Purpose, digest string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.records[digest]; exists {
		return fmt.Errorf("tokens: digest collision")
	}
	s.records[digest] = &Record{
		ID:            uuid.New(),
		AppointmentID: appointmentID,
		Purpose:       purpose,
		CreatedAt:     time.Now().UTC(),
	}
	return nil
}

func (s *InMemoryStore) Find(ctx context.Context, digest string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[digest]
	if !ok {
		return nil, ErrInvalidToken
	}
	cp := *rec
	return &cp, nil
}

func (s *InMemoryStore) Consume(ctx context.Context, digest string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[digest]
	if !ok {
		return false, ErrInvalidToken
	}
	if rec.ConsumedAt != nil || rec.InvalidatedAt != nil {
		return false, nil
	}
	now := time.Now().UTC()
	rec.ConsumedAt = &now
	return true, nil
}

func (s *InMemoryStore) Release(ctx context.Context, digest string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[digest]
	if !ok {
		return ErrInvalidToken
	}
	if rec.InvalidatedAt == nil {
		rec.ConsumedAt = nil
	}
	return nil
}

func (s *InMemoryStore) InvalidateForAppointment(ctx context.Context, appointmentID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	for _, rec := range s.records {
		if rec.AppointmentID == appointmentID && rec.InvalidatedAt == nil {
			rec.InvalidatedAt = &now
		}
	}
	return nil
}

type rowQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore persists tokens in the appointment_tokens table.
type PostgresStore struct {
	db rowQuerier
}

// NewPostgresStore initializes a store backed by pgxpool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	if pool == nil {
		panic("tokens: pgx pool required")
	}
	return &PostgresStore{db: pool}
}

func newPostgresStoreWithExec(db rowQuerier) *PostgresStore {
	if db == nil {
		panic("tokens: exec required")
	}
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Insert(ctx context.Context, appointmentID uuid.UUID, purpose Purpose, digest string) error {
	query := `
		INSERT INTO appointment_tokens (id, appointment_id, purpose, digest)
		VALUES ($1, $2, $3, $4)
	`
	if _, err := s.db.Exec(ctx, query, uuid.New(), appointmentID, string(purpose), digest); err != nil {
		return fmt.Errorf("tokens: insert: %w", err)
	}
	return nil
}

func (s *PostgresStore) Find(ctx context.Context, digest string) (*Record, error) {
	query := `
		SELECT id, appointment_id, purpose, consumed_at, invalidated_at, created_at
		FROM appointment_tokens
		WHERE digest = $1
	`
	var rec Record
	err := s.db.QueryRow(ctx, query, digest).Scan(
		&rec.ID,
		&rec.AppointmentID,
		&rec.Purpose,
		&rec.ConsumedAt,
		&rec.InvalidatedAt,
		&rec.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrInvalidToken
		}
		return nil, fmt.Errorf("tokens: find: %w", err)
	}
	return &rec, nil
}

func (s *PostgresStore) Consume(ctx context.Context, digest string) (bool, error) {
	query := `
		UPDATE appointment_tokens
		SET consumed_at = now()
		WHERE digest = $1 AND consumed_at IS NULL AND invalidated_at IS NULL
	`
	ct, err := s.db.Exec(ctx, query, digest)
	if err != nil {
		return false, fmt.Errorf("tokens: consume: %w", err)
	}
	return ct.RowsAffected() == 1, nil
}

func (s *PostgresStore) Release(ctx context.Context, digest string) error {
	query := `
		UPDATE appointment_tokens
		SET consumed_at = NULL
		WHERE digest = $1 AND invalidated_at IS NULL
	`
	if _, err := s.db.Exec(ctx, query, digest); err != nil {
		return fmt.Errorf("tokens: release: %w", err)
	}
	return nil
}

func (s *PostgresStore) InvalidateForAppointment(ctx context.Context, appointmentID uuid.UUID) error {
	query := `
		UPDATE appointment_tokens
		SET invalidated_at = now()
		WHERE appointment_id = $1 AND invalidated_at IS NULL
	`
	if _, err := s.db.Exec(ctx, query, appointmentID); err != nil {
		return fmt.Errorf("tokens: invalidate for appointment: %w", err)
	}
	return nil
}
