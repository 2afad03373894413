package identity

import (
	"time"

	"github.com/google/uuid"
)

// Patient is the minimal identity provisioned for a first-time guest.
type Patient struct {
	ID           uuid.UUID `json:"id"`
	FullName     string    `json:"full_name"`
	Phone        string    `json:"phone"`
	Email        string    `json:"email"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// Credentials are returned exactly once, when a patient identity is first
// provisioned. The plaintext password is never stored.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}
