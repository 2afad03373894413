package identity

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/carelane/clinic-api/pkg/logging"
)

// Service provisions minimal patient identities for first-time guests.
type Service struct {
	repo   Repository
	logger *logging.Logger
}

// NewService constructs an identity service.
func NewService(repo Repository, logger *logging.Logger) *Service {
	if repo == nil {
		panic("identity: repository required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{repo: repo, logger: logger}
}

// EnsurePatient resolves the contact phone to a patient identity. A known
// phone returns the existing patient and nil credentials; an unknown phone
// provisions a new identity and returns its one-time login credentials.
func (s *Service) EnsurePatient(ctx context.Context, fullName, phone, email string) (*Patient, *Credentials, error) {
	phone = normalizePhone(phone)

	existing, err := s.repo.GetByPhone(ctx, phone)
	if err == nil {
		return existing, nil, nil
	}
	if !errors.Is(err, ErrPatientNotFound) {
		return nil, nil, err
	}

	password, err := randomPassword(12)
	if err != nil {
		return nil, nil, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, nil, fmt.Errorf("identity: hash password: %w", err)
	}

	patient := &Patient{
		ID:           uuid.New(),
		FullName:     fullName,
		Phone:        phone,
		Email:        email,
		Username:     usernameFromPhone(phone),
		PasswordHash: string(hash),
		CreatedAt:    time.Now().UTC(),
	}

	if err := s.repo.Create(ctx, patient); err != nil {
		if errors.Is(err, ErrPhoneTaken) {
			// Raced another booking for the same phone; attach to the
			// identity that won.
			winner, getErr := s.repo.GetByPhone(ctx, phone)
			if getErr != nil {
				return nil, nil, getErr
			}
			return winner, nil, nil
		}
		return nil, nil, err
	}

	s.logger.Info("patient identity provisioned", "patient_id", patient.ID, "username", patient.Username)
	return patient, &Credentials{Username: patient.Username, Password: password}, nil
}

// DiscardPatient removes a provisioned identity whose booking never
// committed, so the phone counts as first-time again. An identity that
// appointments reference is kept.
func (s *Service) DiscardPatient(ctx context.Context, id uuid.UUID) error {
	return s.repo.Delete(ctx, id)
}

// GetPatient loads a patient by id.
func (s *Service) GetPatient(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return s.repo.GetByID(ctx, id)
}

// VerifyPassword checks a plaintext password against the stored hash.
func (s *Service) VerifyPassword(patient *Patient, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(patient.PasswordHash), []byte(password)) == nil
}

func normalizePhone(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' || r == '+' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func usernameFromPhone(phone string) string {
	return "pt" + strings.TrimPrefix(phone, "+")
}

const passwordAlphabet = "abcdefghijkmnpqrstuvwxyzABCDEFGHJKLMNPQRSTUVWXYZ23456789"

func randomPassword(length int) (string, error) {
	out := make([]byte, length)
	max := big.NewInt(int64(len(passwordAlphabet)))
	for i := range out {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("identity: generate password: %w", err)
		}
		out[i] = passwordAlphabet[n.Int64()]
	}
	return string(out), nil
}
