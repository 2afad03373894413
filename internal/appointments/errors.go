package appointments

import "errors"

var (
	// ErrAppointmentNotFound is returned when no appointment matches the id.
	ErrAppointmentNotFound = errors.New("appointment not found")

	// ErrSlotTaken is returned when a commit lost the window to a concurrent
	// booking. The window may have been free moments earlier.
	ErrSlotTaken = errors.New("slot is no longer available")

	// ErrValidation marks a request rejected before any write happened.
	ErrValidation = errors.New("invalid booking request")

	// ErrInvalidTransition is returned when a status change is not allowed
	// from the appointment's current state. States are never coerced.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrNotCancellable is returned when a cancel hits a terminal appointment.
	ErrNotCancellable = errors.New("appointment can no longer be cancelled")

	// ErrForbidden is returned when the acting staff role may not perform
	// the transition, or a doctor acts on another doctor's appointment.
	ErrForbidden = errors.New("actor may not perform this action")

	// ErrTooManyBookings is returned when a phone number exceeds the booking
	// velocity limit.
	ErrTooManyBookings = errors.New("too many booking attempts")
)
