package catalog

import "github.com/google/uuid"

// Clinic is immutable reference data owned by clinic administration.
type Clinic struct {
	ID       uuid.UUID `json:"id"`
	Code     string    `json:"code"`
	Name     string    `json:"name"`
	Timezone string    `json:"timezone"`
	Phone    string    `json:"phone"`
	Email    string    `json:"email"`
	Address  string    `json:"address"`
}

// Service is a bookable service offered by a clinic. A nil DurationMinutes
// means "use the configured default slot width".
type Service struct {
	ID              uuid.UUID `json:"id"`
	ClinicID        uuid.UUID `json:"clinic_id"`
	Code            string    `json:"code"`
	Name            string    `json:"name"`
	DurationMinutes *int      `json:"duration_minutes"`
	PriceCents      *int64    `json:"price_cents"`
	Active          bool      `json:"is_active"`
}

// Doctor belongs to exactly one clinic. Working hours live in the
// availability package; this record only carries display metadata.
type Doctor struct {
	ID        uuid.UUID `json:"id"`
	ClinicID  uuid.UUID `json:"clinic_id"`
	Code      string    `json:"code"`
	FullName  string    `json:"full_name"`
	Specialty string    `json:"specialty"`
	Active    bool      `json:"is_active"`
}
