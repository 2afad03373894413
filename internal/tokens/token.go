package tokens

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Purpose scopes a capability token to exactly one action.
type Purpose string

const (
	PurposeCancel     Purpose = "cancel"
	PurposeReschedule Purpose = "reschedule"
)

// Pair holds the two opaque token values minted for an appointment. The raw
// values exist only in memory at mint time; storage keeps digests.
type Pair struct {
	Cancel     string
	Reschedule string
}

// Record is the stored view of a token. The raw value is never persisted.
type Record struct {
	ID            uuid.UUID
	AppointmentID uuid.UUID
	Purpose       Purpose
	ConsumedAt    *time.Time
	InvalidatedAt *time.Time
	CreatedAt     time.Time
}

const tokenBytes = 32

// newValue mints an unguessable opaque token and its storage digest.
// 32 random bytes leave no derivable structure between tokens.
func newValue() (value, digest string, err error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", "", fmt.Errorf("tokens: read random: %w", err)
	}
	value = base64.RawURLEncoding.EncodeToString(buf)
	return value, Digest(value), nil
}

// Digest maps a raw token value to its storage key.
func Digest(value string) string {
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])
}
