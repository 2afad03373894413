package availability

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/carelane/clinic-api/internal/catalog"
)

// ErrInvalidDate is returned when a query date is not YYYY-MM-DD.
var ErrInvalidDate = errors.New("invalid date, expected YYYY-MM-DD")

// Slot is a computed candidate appointment window. Slots are never persisted;
// they are valid only as of the query instant.
type Slot struct {
	StartAt time.Time
	EndAt   time.Time
}

// Interval is a half-open busy window [Start, End).
type Interval struct {
	Start time.Time
	End   time.Time
}

// BusyLister reports a doctor's non-cancelled appointment windows inside a
// time range. Implemented by the appointments repository.
type BusyLister interface {
	BusyIntervals(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]Interval, error)
}

// WindowStatus classifies a candidate window at validation time.
type WindowStatus int

const (
	// WindowBookable means the window sits on the slot grid and is free.
	WindowBookable WindowStatus = iota
	// WindowTaken means the window sits on the grid but overlaps an
	// existing non-cancelled appointment.
	WindowTaken
	// WindowUnavailable means the window is off the grid entirely: outside
	// working hours, in the past, wrong width, or the doctor is not
	// bookable at this clinic.
	WindowUnavailable
)

// Engine computes bookable slots for a doctor and day.
type Engine struct {
	catalog     catalog.Repository
	hours       HoursRepository
	busy        BusyLister
	defaultSlot time.Duration
	now         func() time.Time
}

// NewEngine constructs a slot engine. defaultSlotMinutes is the width used
// when the selected service has no duration of its own.
func NewEngine(cat catalog.Repository, hours HoursRepository, busy BusyLister, defaultSlotMinutes int) *Engine {
	if cat == nil {
		panic("availability: catalog repository required")
	}
	if hours == nil {
		panic("availability: hours repository required")
	}
	if busy == nil {
		panic("availability: busy lister required")
	}
	if defaultSlotMinutes <= 0 {
		defaultSlotMinutes = 30
	}
	return &Engine{
		catalog:     cat,
		hours:       hours,
		busy:        busy,
		defaultSlot: time.Duration(defaultSlotMinutes) * time.Minute,
		now:         time.Now,
	}
}

// WithClock overrides the engine clock for tests.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	if now != nil {
		e.now = now
	}
	return e
}

// ComputeSlots returns the ordered free windows for a doctor on one
// clinic-local calendar day. An out-of-hours day or a doctor who is inactive
// or attached to another clinic yields an empty list; unknown clinic/doctor
// ids yield not-found errors.
func (e *Engine) ComputeSlots(ctx context.Context, clinicID, doctorID uuid.UUID, date string, serviceID uuid.UUID) ([]Slot, error) {
	day, loc, width, ok, err := e.resolve(ctx, clinicID, doctorID, date, serviceID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return []Slot{}, nil
	}

	grid, err := e.grid(ctx, doctorID, day, loc, width)
	if err != nil {
		return nil, err
	}
	if len(grid) == 0 {
		return []Slot{}, nil
	}

	busy, err := e.busy.BusyIntervals(ctx, doctorID, grid[0].StartAt, grid[len(grid)-1].EndAt)
	if err != nil {
		return nil, fmt.Errorf("availability: list busy intervals: %w", err)
	}

	free := make([]Slot, 0, len(grid))
	for _, slot := range grid {
		if !overlapsAny(slot, busy) {
			free = append(free, slot)
		}
	}
	return free, nil
}

// ValidateWindow re-checks a chosen window at commit time. The returned
// status distinguishes "lost the race" from "never was a slot".
func (e *Engine) ValidateWindow(ctx context.Context, clinicID, doctorID uuid.UUID, start, end time.Time, serviceID uuid.UUID) (WindowStatus, error) {
	date := start.Format("2006-01-02")
	day, loc, width, ok, err := e.resolve(ctx, clinicID, doctorID, date, serviceID)
	if err != nil {
		return WindowUnavailable, err
	}
	if !ok {
		return WindowUnavailable, nil
	}

	grid, err := e.grid(ctx, doctorID, day, loc, width)
	if err != nil {
		return WindowUnavailable, err
	}

	var match *Slot
	for i := range grid {
		if grid[i].StartAt.Equal(start) && grid[i].EndAt.Equal(end) {
			match = &grid[i]
			break
		}
	}
	if match == nil {
		return WindowUnavailable, nil
	}

	busy, err := e.busy.BusyIntervals(ctx, doctorID, match.StartAt, match.EndAt)
	if err != nil {
		return WindowUnavailable, fmt.Errorf("availability: list busy intervals: %w", err)
	}
	if overlapsAny(*match, busy) {
		return WindowTaken, nil
	}
	return WindowBookable, nil
}

// resolve loads catalog context for a query. ok=false means the query is
// well-formed but the doctor is not bookable at this clinic.
func (e *Engine) resolve(ctx context.Context, clinicID, doctorID uuid.UUID, date string, serviceID uuid.UUID) (day time.Time, loc *time.Location, width time.Duration, ok bool, err error) {
	clinic, err := e.catalog.GetClinic(ctx, clinicID)
	if err != nil {
		return time.Time{}, nil, 0, false, err
	}

	loc, err = time.LoadLocation(clinic.Timezone)
	if err != nil {
		return time.Time{}, nil, 0, false, fmt.Errorf("availability: clinic %s has invalid timezone %q: %w", clinic.ID, clinic.Timezone, err)
	}

	day, err = time.ParseInLocation("2006-01-02", date, loc)
	if err != nil {
		return time.Time{}, nil, 0, false, ErrInvalidDate
	}

	doctor, err := e.catalog.GetDoctor(ctx, doctorID)
	if err != nil {
		return time.Time{}, nil, 0, false, err
	}
	if !doctor.Active || doctor.ClinicID != clinicID {
		return day, loc, 0, false, nil
	}

	width = e.defaultSlot
	if serviceID != uuid.Nil {
		service, err := e.catalog.GetService(ctx, serviceID)
		if err != nil {
			return time.Time{}, nil, 0, false, err
		}
		if service.ClinicID != clinicID {
			return time.Time{}, nil, 0, false, catalog.ErrServiceNotFound
		}
		if service.DurationMinutes != nil && *service.DurationMinutes > 0 {
			width = time.Duration(*service.DurationMinutes) * time.Minute
		}
	}
	return day, loc, width, true, nil
}

// grid partitions the day's working intervals into fixed-width windows,
// excluding windows that already started relative to clinic-local now.
func (e *Engine) grid(ctx context.Context, doctorID uuid.UUID, day time.Time, loc *time.Location, width time.Duration) ([]Slot, error) {
	intervals, err := e.hours.IntervalsOn(ctx, doctorID, day.Weekday())
	if err != nil {
		return nil, fmt.Errorf("availability: load working hours: %w", err)
	}

	now := e.now().In(loc)
	var slots []Slot
	for _, iv := range intervals {
		start := day.Add(time.Duration(iv.StartMinute) * time.Minute)
		end := day.Add(time.Duration(iv.EndMinute) * time.Minute)
		for cursor := start; !cursor.Add(width).After(end); cursor = cursor.Add(width) {
			if cursor.Before(now) {
				continue
			}
			slots = append(slots, Slot{StartAt: cursor, EndAt: cursor.Add(width)})
		}
	}
	return slots, nil
}

func overlapsAny(slot Slot, busy []Interval) bool {
	for _, iv := range busy {
		if slot.StartAt.Before(iv.End) && iv.Start.Before(slot.EndAt) {
			return true
		}
	}
	return false
}
