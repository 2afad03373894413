package appointments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/carelane/clinic-api/internal/availability"
	"github.com/carelane/clinic-api/internal/catalog"
	"github.com/carelane/clinic-api/internal/identity"
	"github.com/carelane/clinic-api/internal/notify"
	"github.com/carelane/clinic-api/internal/observability/metrics"
	"github.com/carelane/clinic-api/internal/tokens"
	"github.com/carelane/clinic-api/pkg/logging"
)

var tracer = otel.Tracer("appointments")

// Role identifies a staff actor class. Guests act through capability tokens
// and never carry a role.
type Role string

const (
	RoleReceptionist Role = "receptionist"
	RoleDoctor       Role = "doctor"
	RoleAdmin        Role = "admin"
)

// Actor is the authenticated staff member performing a transition.
type Actor struct {
	ID   uuid.UUID
	Role Role
}

// BookingResult is what a successful booking hands back to the guest. The
// token values in Pair appear here and in the confirmation email, nowhere
// else.
type BookingResult struct {
	Appointment *Appointment
	Tokens      tokens.Pair
	Credentials *identity.Credentials
}

// RescheduleResult carries the moved appointment and its fresh token pair.
type RescheduleResult struct {
	Appointment *Appointment
	Tokens      tokens.Pair
}

// Service orchestrates booking, guest self-service and staff transitions.
// The repository is the commit authority; the service sequences the steps
// around it.
type Service struct {
	repo     Repository
	catalog  catalog.Repository
	engine   *availability.Engine
	patients *identity.Service
	gateway  *tokens.Gateway
	velocity *VelocityChecker
	emails   notify.EmailSender
	messages *notify.Builder
	metrics  *metrics.SchedulingMetrics
	logger   *logging.Logger
	now      func() time.Time
}

// NewService constructs the booking orchestrator.
func NewService(
	repo Repository,
	cat catalog.Repository,
	engine *availability.Engine,
	patients *identity.Service,
	gateway *tokens.Gateway,
	logger *logging.Logger,
) *Service {
	if repo == nil {
		panic("appointments: repository required")
	}
	if cat == nil {
		panic("appointments: catalog repository required")
	}
	if engine == nil {
		panic("appointments: availability engine required")
	}
	if patients == nil {
		panic("appointments: identity service required")
	}
	if gateway == nil {
		panic("appointments: token gateway required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{
		repo:     repo,
		catalog:  cat,
		engine:   engine,
		patients: patients,
		gateway:  gateway,
		logger:   logger,
		now:      time.Now,
	}
}

// WithVelocity attaches the booking abuse limiter.
func (s *Service) WithVelocity(v *VelocityChecker) *Service {
	s.velocity = v
	return s
}

// WithEmail attaches the guest notification channel.
func (s *Service) WithEmail(sender notify.EmailSender, builder *notify.Builder) *Service {
	s.emails = sender
	s.messages = builder
	return s
}

// WithMetrics attaches scheduling metrics.
func (s *Service) WithMetrics(m *metrics.SchedulingMetrics) *Service {
	s.metrics = m
	return s
}

// WithClock overrides the service clock for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	if now != nil {
		s.now = now
	}
	return s
}

// CreateBooking books a window for a guest. Exactly one of two concurrent
// bookings for the same window succeeds; the loser gets ErrSlotTaken. A
// first-time phone number gets a provisioned patient identity whose one-time
// credentials ride back on the result.
func (s *Service) CreateBooking(ctx context.Context, req CreateBookingRequest) (*BookingResult, error) {
	ctx, span := tracer.Start(ctx, "appointments.create_booking")
	defer span.End()

	if err := req.Validate(); err != nil {
		s.metrics.ObserveBooking("rejected")
		return nil, err
	}
	span.SetAttributes(
		attribute.String("clinic.id", req.ClinicID.String()),
		attribute.String("doctor.id", req.DoctorID.String()),
	)

	clinic, err := s.catalog.GetClinic(ctx, req.ClinicID)
	if err != nil {
		return nil, err
	}
	doctor, err := s.catalog.GetDoctor(ctx, req.DoctorID)
	if err != nil {
		return nil, err
	}

	start, end, err := parseWindow(clinic.Timezone, req.StartAt, req.EndAt)
	if err != nil {
		s.metrics.ObserveBooking("rejected")
		return nil, err
	}

	check, err := s.velocity.CheckBooking(ctx, req.Phone)
	if err != nil {
		return nil, err
	}
	if !check.Allowed {
		s.metrics.ObserveBooking("rate_limited")
		return nil, fmt.Errorf("%w: %s", ErrTooManyBookings, check.Message)
	}

	status, err := s.engine.ValidateWindow(ctx, req.ClinicID, req.DoctorID, start, end, req.ServiceID)
	if err != nil {
		return nil, err
	}
	switch status {
	case availability.WindowUnavailable:
		s.metrics.ObserveBooking("rejected")
		return nil, fmt.Errorf("%w: window is not a bookable slot", ErrValidation)
	case availability.WindowTaken:
		s.metrics.ObserveSlotConflict()
		s.metrics.ObserveBooking("slot_conflict")
		return nil, ErrSlotTaken
	}

	patient, creds, err := s.patients.EnsurePatient(ctx, req.FullName, req.Phone, req.Email)
	if err != nil {
		return nil, err
	}

	var serviceID *uuid.UUID
	if req.ServiceID != uuid.Nil {
		id := req.ServiceID
		serviceID = &id
	}
	appt := &Appointment{
		ID:        uuid.New(),
		ClinicID:  req.ClinicID,
		DoctorID:  req.DoctorID,
		ServiceID: serviceID,
		PatientID: patient.ID,
		StartAt:   start,
		EndAt:     end,
		FullName:  req.FullName,
		Phone:     patient.Phone,
		Email:     req.Email,
		Notes:     req.Notes,
		Status:    StatusBooked,
	}

	if err := s.repo.CreateIfFree(ctx, appt); err != nil {
		if creds != nil {
			// The identity was provisioned for this booking only. Discard
			// it, otherwise the phone's first successful booking would find
			// an existing patient and never hand out credentials.
			if dErr := s.patients.DiscardPatient(ctx, patient.ID); dErr != nil {
				s.logger.Error("failed to discard provisioned patient", "error", dErr, "patient_id", patient.ID)
			}
		}
		if errors.Is(err, ErrSlotTaken) {
			s.metrics.ObserveSlotConflict()
			s.metrics.ObserveBooking("slot_conflict")
		}
		return nil, err
	}

	pair, err := s.gateway.MintPair(ctx, appt.ID)
	if err != nil {
		return nil, fmt.Errorf("appointments: mint tokens for %s: %w", appt.ID, err)
	}

	s.sendBookingEmail(ctx, appt, clinic, doctor, pair, creds, false)

	s.metrics.ObserveBooking("created")
	s.logger.Info("booking created",
		"appointment_id", appt.ID,
		"clinic_id", appt.ClinicID,
		"doctor_id", appt.DoctorID,
		"patient_id", patient.ID,
		"start_at", appt.StartAt,
		"new_patient", creds != nil,
	)

	return &BookingResult{Appointment: appt, Tokens: pair, Credentials: creds}, nil
}

// CancelByToken cancels the appointment a cancel token is bound to. The
// token is consumed first, so a replay fails with ErrTokenAlreadyUsed even
// when the cancellation itself did not go through.
func (s *Service) CancelByToken(ctx context.Context, value string) (*Appointment, error) {
	ctx, span := tracer.Start(ctx, "appointments.cancel_by_token")
	defer span.End()

	appointmentID, err := s.gateway.Redeem(ctx, value, tokens.PurposeCancel)
	if err != nil {
		s.metrics.ObserveTokenRedemption("cancel", redemptionOutcome(err))
		return nil, err
	}
	s.metrics.ObserveTokenRedemption("cancel", "ok")

	appt, err := s.repo.GetByID(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	if IsTerminal(appt.Status) {
		s.metrics.ObserveTransition(string(StatusCancelled), "rejected")
		return nil, ErrNotCancellable
	}

	if err := s.repo.UpdateStatus(ctx, appointmentID, StatusCancelled, nonTerminalStatuses...); err != nil {
		if errors.Is(err, ErrInvalidTransition) {
			s.metrics.ObserveTransition(string(StatusCancelled), "rejected")
			return nil, ErrNotCancellable
		}
		return nil, err
	}

	// Retire the sibling reschedule token.
	if err := s.gateway.InvalidatePair(ctx, appointmentID); err != nil {
		s.logger.Error("failed to invalidate token pair", "error", err, "appointment_id", appointmentID)
	}

	appt.Status = StatusCancelled
	s.metrics.ObserveTransition(string(StatusCancelled), "ok")
	s.logger.Info("appointment cancelled by guest", "appointment_id", appointmentID)
	return appt, nil
}

// RescheduleByToken moves the appointment a reschedule token is bound to
// onto a new window and mints a fresh token pair. The old pair is dead after
// a successful move; a validation failure or a lost slot race leaves the
// token usable so the same link can retry.
func (s *Service) RescheduleByToken(ctx context.Context, value, newStart, newEnd string) (*RescheduleResult, error) {
	ctx, span := tracer.Start(ctx, "appointments.reschedule_by_token")
	defer span.End()

	appointmentID, err := s.gateway.Inspect(ctx, value, tokens.PurposeReschedule)
	if err != nil {
		s.metrics.ObserveTokenRedemption("reschedule", redemptionOutcome(err))
		return nil, err
	}

	appt, err := s.repo.GetByID(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	if !isPreVisit(appt.Status) {
		return nil, ErrInvalidTransition
	}

	clinic, err := s.catalog.GetClinic(ctx, appt.ClinicID)
	if err != nil {
		return nil, err
	}
	start, end, err := parseWindow(clinic.Timezone, newStart, newEnd)
	if err != nil {
		return nil, err
	}

	serviceID := uuid.Nil
	if appt.ServiceID != nil {
		serviceID = *appt.ServiceID
	}
	status, err := s.engine.ValidateWindow(ctx, appt.ClinicID, appt.DoctorID, start, end, serviceID)
	if err != nil {
		return nil, err
	}
	switch status {
	case availability.WindowUnavailable:
		return nil, fmt.Errorf("%w: window is not a bookable slot", ErrValidation)
	case availability.WindowTaken:
		s.metrics.ObserveSlotConflict()
		return nil, ErrSlotTaken
	}

	// Spend the token. This is the serialization point for a double
	// submission of the same link.
	if _, err := s.gateway.Redeem(ctx, value, tokens.PurposeReschedule); err != nil {
		s.metrics.ObserveTokenRedemption("reschedule", redemptionOutcome(err))
		return nil, err
	}

	if err := s.repo.Reschedule(ctx, appointmentID, appt.DoctorID, start, end); err != nil {
		// The window was lost between validation and commit. Hand the
		// token back so the guest can retry with another window.
		if relErr := s.gateway.Release(ctx, value); relErr != nil {
			s.logger.Error("failed to release reschedule token", "error", relErr, "appointment_id", appointmentID)
		}
		if errors.Is(err, ErrSlotTaken) {
			s.metrics.ObserveSlotConflict()
		}
		return nil, err
	}
	s.metrics.ObserveTokenRedemption("reschedule", "ok")

	// The consumed reschedule token's sibling cancel token dies here; the
	// fresh pair replaces both.
	if err := s.gateway.InvalidatePair(ctx, appointmentID); err != nil {
		s.logger.Error("failed to invalidate token pair", "error", err, "appointment_id", appointmentID)
	}
	pair, err := s.gateway.MintPair(ctx, appointmentID)
	if err != nil {
		return nil, fmt.Errorf("appointments: mint tokens for %s: %w", appointmentID, err)
	}

	appt.StartAt = start
	appt.EndAt = end

	doctor, err := s.catalog.GetDoctor(ctx, appt.DoctorID)
	if err == nil {
		s.sendBookingEmail(ctx, appt, clinic, doctor, pair, nil, true)
	}

	s.metrics.ObserveBooking("rescheduled")
	s.logger.Info("appointment rescheduled by guest",
		"appointment_id", appointmentID,
		"start_at", start,
	)
	return &RescheduleResult{Appointment: appt, Tokens: pair}, nil
}

// Confirm moves booked → confirmed. Receptionist action.
func (s *Service) Confirm(ctx context.Context, actor Actor, id uuid.UUID) (*Appointment, error) {
	if err := requireRole(actor, RoleReceptionist, RoleAdmin); err != nil {
		return nil, err
	}
	return s.transition(ctx, id, StatusConfirmed, StatusBooked)
}

// CheckIn marks arrival at the front desk. Receptionist action; only valid
// on the appointment's calendar day in the clinic's zone.
func (s *Service) CheckIn(ctx context.Context, actor Actor, id uuid.UUID) (*Appointment, error) {
	if err := requireRole(actor, RoleReceptionist, RoleAdmin); err != nil {
		return nil, err
	}

	appt, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	clinic, err := s.catalog.GetClinic(ctx, appt.ClinicID)
	if err != nil {
		return nil, err
	}
	loc, err := time.LoadLocation(clinic.Timezone)
	if err != nil {
		return nil, fmt.Errorf("appointments: clinic %s has invalid timezone %q: %w", clinic.ID, clinic.Timezone, err)
	}
	if !sameDay(s.now().In(loc), appt.StartAt.In(loc)) {
		s.metrics.ObserveTransition(string(StatusCheckedIn), "rejected")
		return nil, fmt.Errorf("%w: appointment is not today", ErrInvalidTransition)
	}

	return s.transition(ctx, id, StatusCheckedIn, preVisitStatuses...)
}

// StartExam moves the visit into the exam room. Doctor action; a doctor may
// only start their own appointments.
func (s *Service) StartExam(ctx context.Context, actor Actor, id uuid.UUID) (*Appointment, error) {
	if err := requireRole(actor, RoleDoctor, RoleAdmin); err != nil {
		return nil, err
	}
	appt, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if actor.Role == RoleDoctor && actor.ID != appt.DoctorID {
		return nil, fmt.Errorf("%w: appointment belongs to another doctor", ErrForbidden)
	}
	return s.transition(ctx, id, StatusInProgress, StatusConfirmed, StatusCheckedIn)
}

// CompleteExam finishes the visit. Doctor action on their own appointment.
func (s *Service) CompleteExam(ctx context.Context, actor Actor, id uuid.UUID) (*Appointment, error) {
	if err := requireRole(actor, RoleDoctor, RoleAdmin); err != nil {
		return nil, err
	}
	appt, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if actor.Role == RoleDoctor && actor.ID != appt.DoctorID {
		return nil, fmt.Errorf("%w: appointment belongs to another doctor", ErrForbidden)
	}
	return s.transition(ctx, id, StatusCompleted, StatusInProgress)
}

// MarkNoShow records that the patient never arrived. Receptionist action;
// only valid once the start time has passed.
func (s *Service) MarkNoShow(ctx context.Context, actor Actor, id uuid.UUID) (*Appointment, error) {
	if err := requireRole(actor, RoleReceptionist, RoleAdmin); err != nil {
		return nil, err
	}
	appt, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.now().Before(appt.StartAt) {
		s.metrics.ObserveTransition(string(StatusNoShow), "rejected")
		return nil, fmt.Errorf("%w: appointment has not started yet", ErrInvalidTransition)
	}
	return s.transition(ctx, id, StatusNoShow, preVisitStatuses...)
}

// CancelByStaff cancels on behalf of the clinic and retires the guest's
// capability tokens.
func (s *Service) CancelByStaff(ctx context.Context, actor Actor, id uuid.UUID) (*Appointment, error) {
	if err := requireRole(actor, RoleReceptionist, RoleDoctor, RoleAdmin); err != nil {
		return nil, err
	}
	appt, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if IsTerminal(appt.Status) {
		s.metrics.ObserveTransition(string(StatusCancelled), "rejected")
		return nil, ErrNotCancellable
	}

	updated, err := s.transition(ctx, id, StatusCancelled, nonTerminalStatuses...)
	if err != nil {
		if errors.Is(err, ErrInvalidTransition) {
			return nil, ErrNotCancellable
		}
		return nil, err
	}
	if err := s.gateway.InvalidatePair(ctx, id); err != nil {
		s.logger.Error("failed to invalidate token pair", "error", err, "appointment_id", id)
	}
	return updated, nil
}

// ListDayQueue returns a doctor's appointments for one clinic-local day,
// ordered by start time. Read path, no locking.
func (s *Service) ListDayQueue(ctx context.Context, doctorID uuid.UUID, date string) ([]*Appointment, error) {
	doctor, err := s.catalog.GetDoctor(ctx, doctorID)
	if err != nil {
		return nil, err
	}
	clinic, err := s.catalog.GetClinic(ctx, doctor.ClinicID)
	if err != nil {
		return nil, err
	}
	loc, err := time.LoadLocation(clinic.Timezone)
	if err != nil {
		return nil, fmt.Errorf("appointments: clinic %s has invalid timezone %q: %w", clinic.ID, clinic.Timezone, err)
	}
	day, err := time.ParseInLocation("2006-01-02", date, loc)
	if err != nil {
		return nil, availability.ErrInvalidDate
	}
	appts, err := s.repo.ListForDoctorDay(ctx, doctorID, day, day.AddDate(0, 0, 1))
	if err != nil {
		return nil, err
	}
	// Present times in the clinic's wall clock regardless of storage zone.
	for _, appt := range appts {
		appt.StartAt = appt.StartAt.In(loc)
		appt.EndAt = appt.EndAt.In(loc)
	}
	return appts, nil
}

// transition performs a compare-and-set status update and records metrics.
func (s *Service) transition(ctx context.Context, id uuid.UUID, to Status, from ...Status) (*Appointment, error) {
	if err := s.repo.UpdateStatus(ctx, id, to, from...); err != nil {
		if errors.Is(err, ErrInvalidTransition) {
			s.metrics.ObserveTransition(string(to), "rejected")
		}
		return nil, err
	}
	s.metrics.ObserveTransition(string(to), "ok")
	s.logger.Info("appointment transitioned", "appointment_id", id, "to", to)
	return s.repo.GetByID(ctx, id)
}

// sendBookingEmail delivers the guest's links best-effort. Failures are
// logged and never fail the booking.
func (s *Service) sendBookingEmail(ctx context.Context, appt *Appointment, clinic *catalog.Clinic, doctor *catalog.Doctor, pair tokens.Pair, creds *identity.Credentials, rescheduled bool) {
	if s.emails == nil || s.messages == nil {
		return
	}
	toEmail := appt.Email
	if toEmail == "" {
		// Fall back to the patient record's contact email.
		if p, err := s.patients.GetPatient(ctx, appt.PatientID); err == nil {
			toEmail = p.Email
		}
	}
	if toEmail == "" {
		return
	}

	notice := notify.BookingNotice{
		ToEmail:         toEmail,
		FullName:        appt.FullName,
		ClinicName:      clinic.Name,
		DoctorName:      doctor.FullName,
		StartAt:         appt.StartAt,
		EndAt:           appt.EndAt,
		CancelToken:     pair.Cancel,
		RescheduleToken: pair.Reschedule,
	}
	if creds != nil {
		notice.Credentials = &notify.ProvisionedCredentials{
			Username: creds.Username,
			Password: creds.Password,
		}
	}

	var msg notify.EmailMessage
	if rescheduled {
		msg = s.messages.BookingRescheduled(notice)
	} else {
		msg = s.messages.BookingConfirmed(notice)
	}
	if err := s.emails.Send(ctx, msg); err != nil {
		s.logger.Error("booking email failed", "error", err, "appointment_id", appt.ID)
	}
}

func requireRole(actor Actor, roles ...Role) error {
	for _, role := range roles {
		if actor.Role == role {
			return nil
		}
	}
	return fmt.Errorf("%w: role %q", ErrForbidden, actor.Role)
}

// parseWindow interprets a start/end pair as clinic-local wall clock times.
func parseWindow(timezone, startStr, endStr string) (time.Time, time.Time, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("appointments: invalid clinic timezone %q: %w", timezone, err)
	}
	start, err := time.ParseInLocation(clinicLocalLayout, startStr, loc)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: startAt must be %s", ErrValidation, clinicLocalLayout)
	}
	end, err := time.ParseInLocation(clinicLocalLayout, endStr, loc)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: endAt must be %s", ErrValidation, clinicLocalLayout)
	}
	if !end.After(start) {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: endAt must be after startAt", ErrValidation)
	}
	return start, end, nil
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

func redemptionOutcome(err error) string {
	switch {
	case errors.Is(err, tokens.ErrTokenAlreadyUsed):
		return "replayed"
	case errors.Is(err, tokens.ErrInvalidToken):
		return "invalid"
	default:
		return "error"
	}
}
