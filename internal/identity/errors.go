package identity

import "errors"

var (
	// ErrPatientNotFound is returned when no patient matches the lookup
	ErrPatientNotFound = errors.New("patient not found")

	// ErrPhoneTaken is returned when provisioning races another booking
	// for the same phone
	ErrPhoneTaken = errors.New("phone already registered")
)
