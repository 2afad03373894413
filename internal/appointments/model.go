package appointments

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// clinicLocalLayout is the wire format for appointment times: clinic-local
// ISO-8601 without a zone offset. The clinic's IANA zone is the only zone
// guests ever see.
const clinicLocalLayout = "2006-01-02T15:04:05"

// Appointment is the scheduling record for one visit. Contact fields are a
// snapshot taken at booking time; PatientID links the provisioned identity.
type Appointment struct {
	ID        uuid.UUID  `json:"id"`
	ClinicID  uuid.UUID  `json:"clinic_id"`
	DoctorID  uuid.UUID  `json:"doctor_id"`
	ServiceID *uuid.UUID `json:"service_id,omitempty"`
	PatientID uuid.UUID  `json:"patient_id"`
	StartAt   time.Time  `json:"start_at"`
	EndAt     time.Time  `json:"end_at"`
	FullName  string     `json:"full_name"`
	Phone     string     `json:"phone"`
	Email     string     `json:"email,omitempty"`
	Notes     string     `json:"notes,omitempty"`
	Status    Status     `json:"status"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// CreateBookingRequest is a guest booking submission. Times are clinic-local
// strings in the same layout the slot listing returns, so a listed slot can
// be posted back unchanged.
type CreateBookingRequest struct {
	ClinicID  uuid.UUID `json:"clinicId"`
	DoctorID  uuid.UUID `json:"doctorId"`
	ServiceID uuid.UUID `json:"serviceId"`
	StartAt   string    `json:"startAt"`
	EndAt     string    `json:"endAt"`
	FullName  string    `json:"fullName"`
	Phone     string    `json:"phone"`
	Email     string    `json:"email"`
	Notes     string    `json:"notes"`
}

// Validate checks the request shape. Catalog consistency and window
// validity are checked later against live data.
func (r CreateBookingRequest) Validate() error {
	if r.ClinicID == uuid.Nil {
		return fmt.Errorf("%w: clinicId is required", ErrValidation)
	}
	if r.DoctorID == uuid.Nil {
		return fmt.Errorf("%w: doctorId is required", ErrValidation)
	}
	if strings.TrimSpace(r.FullName) == "" {
		return fmt.Errorf("%w: fullName is required", ErrValidation)
	}
	if strings.TrimSpace(r.Phone) == "" {
		return fmt.Errorf("%w: phone is required", ErrValidation)
	}
	if r.StartAt == "" || r.EndAt == "" {
		return fmt.Errorf("%w: startAt and endAt are required", ErrValidation)
	}
	return nil
}
