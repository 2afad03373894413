package catalog

import "errors"

var (
	// ErrClinicNotFound is returned when a clinic id resolves to nothing
	ErrClinicNotFound = errors.New("clinic not found")

	// ErrServiceNotFound is returned when a service id resolves to nothing
	ErrServiceNotFound = errors.New("service not found")

	// ErrDoctorNotFound is returned when a doctor id resolves to nothing
	ErrDoctorNotFound = errors.New("doctor not found")
)
