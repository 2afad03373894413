package appointments

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/carelane/clinic-api/internal/availability"
)

// Repository is the commit authority for appointment writes. Implementations
// must guarantee that two concurrent commits on one (doctor, window) resolve
// to exactly one winner.
type Repository interface {
	// CreateIfFree inserts the appointment unless its window overlaps a
	// non-cancelled appointment for the same doctor. Overlap → ErrSlotTaken.
	CreateIfFree(ctx context.Context, appt *Appointment) error

	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)

	// Reschedule atomically moves a pre-visit appointment to a new window,
	// ignoring the appointment's own current window in the overlap check.
	Reschedule(ctx context.Context, id, doctorID uuid.UUID, newStart, newEnd time.Time) error

	// UpdateStatus is a compare-and-set: the row moves to `to` only if its
	// current status is in `from`. A guard miss → ErrInvalidTransition.
	UpdateStatus(ctx context.Context, id uuid.UUID, to Status, from ...Status) error

	// ListForDoctorDay returns a doctor's appointments starting inside
	// [from, to), ordered by start time. Read path, no locking.
	ListForDoctorDay(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]*Appointment, error)

	availability.BusyLister
}

// InMemoryRepository serializes every write under one mutex, which trivially
// satisfies the one-winner guarantee. Used in tests and DB-less boot.
type InMemoryRepository struct {
	mu    sync.Mutex
	byID  map[uuid.UUID]*Appointment
	clock func() time.Time
}

// NewInMemoryRepository creates an empty in-memory repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		byID:  make(map[uuid.UUID]*Appointment),
		clock: time.Now,
	}
}

func (r *InMemoryRepository) CreateIfFree(ctx context.Context, appt *Appointment) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.overlapsLocked(appt.DoctorID, appt.StartAt, appt.EndAt, uuid.Nil) {
		return ErrSlotTaken
	}

	cp := *appt
	now := r.clock().UTC()
	cp.CreatedAt = now
	cp.UpdatedAt = now
	r.byID[cp.ID] = &cp
	appt.CreatedAt = now
	appt.UpdatedAt = now
	return nil
}

func (r *InMemoryRepository) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	appt, ok := r.byID[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	cp := *appt
	return &cp, nil
}

func (r *InMemoryRepository) Reschedule(ctx context.Context, id, doctorID uuid.UUID, newStart, newEnd time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	appt, ok := r.byID[id]
	if !ok {
		return ErrAppointmentNotFound
	}
	if !isPreVisit(appt.Status) {
		return ErrInvalidTransition
	}
	if r.overlapsLocked(doctorID, newStart, newEnd, id) {
		return ErrSlotTaken
	}

	appt.StartAt = newStart
	appt.EndAt = newEnd
	appt.UpdatedAt = r.clock().UTC()
	return nil
}

func (r *InMemoryRepository) UpdateStatus(ctx context.Context, id uuid.UUID, to Status, from ...Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	appt, ok := r.byID[id]
	if !ok {
		return ErrAppointmentNotFound
	}
	for _, f := range from {
		if appt.Status == f {
			appt.Status = to
			appt.UpdatedAt = r.clock().UTC()
			return nil
		}
	}
	return ErrInvalidTransition
}

func (r *InMemoryRepository) ListForDoctorDay(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*Appointment, 0)
	for _, appt := range r.byID {
		if appt.DoctorID != doctorID {
			continue
		}
		if appt.StartAt.Before(from) || !appt.StartAt.Before(to) {
			continue
		}
		cp := *appt
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartAt.Before(out[j].StartAt) })
	return out, nil
}

func (r *InMemoryRepository) BusyIntervals(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]availability.Interval, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []availability.Interval
	for _, appt := range r.byID {
		if appt.DoctorID != doctorID || appt.Status == StatusCancelled {
			continue
		}
		if appt.StartAt.Before(to) && from.Before(appt.EndAt) {
			out = append(out, availability.Interval{Start: appt.StartAt, End: appt.EndAt})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out, nil
}

// overlapsLocked reports whether [start, end) intersects any non-cancelled
// appointment for the doctor, excluding excludeID. Caller holds the mutex.
func (r *InMemoryRepository) overlapsLocked(doctorID uuid.UUID, start, end time.Time, excludeID uuid.UUID) bool {
	for _, appt := range r.byID {
		if appt.ID == excludeID || appt.DoctorID != doctorID || appt.Status == StatusCancelled {
			continue
		}
		if appt.StartAt.Before(end) && start.Before(appt.EndAt) {
			return true
		}
	}
	return false
}
