package availability

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// WorkingInterval is a doctor's working window on one weekday, expressed as
// clinic-local minutes from midnight.
type WorkingInterval struct {
	StartMinute int
	EndMinute   int
}

// HoursRepository exposes doctor working hours. The scheduling core only
// reads this data; ownership stays with clinic administration.
type HoursRepository interface {
	IntervalsOn(ctx context.Context, doctorID uuid.UUID, weekday time.Weekday) ([]WorkingInterval, error)
}

// InMemoryHours is a seedable HoursRepository.
type InMemoryHours struct {
	mu    sync.RWMutex
	hours map[uuid.UUID]map[time.Weekday][]WorkingInterval
}

// NewInMemoryHours creates an empty in-memory hours repository.
func NewInMemoryHours() *InMemoryHours {
	return &InMemoryHours{hours: make(map[uuid.UUID]map[time.Weekday][]WorkingInterval)}
}

// SetHours replaces a doctor's working intervals on one weekday.
func (r *InMemoryHours) SetHours(doctorID uuid.UUID, weekday time.Weekday, intervals ...WorkingInterval) {
	r.mu.Lock()
	defer r.mu.Unlock()
	byDay, ok := r.hours[doctorID]
	if !ok {
		byDay = make(map[time.Weekday][]WorkingInterval)
		r.hours[doctorID] = byDay
	}
	byDay[weekday] = append([]WorkingInterval(nil), intervals...)
}

func (r *InMemoryHours) IntervalsOn(ctx context.Context, doctorID uuid.UUID, weekday time.Weekday) ([]WorkingInterval, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	intervals := append([]WorkingInterval(nil), r.hours[doctorID][weekday]...)
	sort.Slice(intervals, func(i, j int) bool { return intervals[i].StartMinute < intervals[j].StartMinute })
	return intervals, nil
}

// PostgresHours reads working hours from the doctor_hours table.
type PostgresHours struct {
	db rowsQuerier
}

type rowsQuerier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// NewPostgresHours initializes a repo backed by pgxpool.
func NewPostgresHours(pool *pgxpool.Pool) *PostgresHours {
	if pool == nil {
		panic("availability: pgx pool required")
	}
	return &PostgresHours{db: pool}
}

func newPostgresHoursWithQuerier(db rowsQuerier) *PostgresHours {
	if db == nil {
		panic("availability: querier required")
	}
	return &PostgresHours{db: db}
}

func (r *PostgresHours) IntervalsOn(ctx context.Context, doctorID uuid.UUID, weekday time.Weekday) ([]WorkingInterval, error) {
	query := `
		SELECT start_minute, end_minute
		FROM doctor_hours
		WHERE doctor_id = $1 AND weekday = $2
		ORDER BY start_minute
	`
	rows, err := r.db.Query(ctx, query, doctorID, int(weekday))
	if err != nil {
		return nil, fmt.Errorf("availability: load hours: %w", err)
	}
	defer rows.Close()

	var out []WorkingInterval
	for rows.Next() {
		var iv WorkingInterval
		if err := rows.Scan(&iv.StartMinute, &iv.EndMinute); err != nil {
			return nil, fmt.Errorf("availability: scan hours: %w", err)
		}
		out = append(out, iv)
	}
	return out, rows.Err()
}
