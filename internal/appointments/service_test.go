package appointments

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carelane/clinic-api/internal/availability"
	"github.com/carelane/clinic-api/internal/catalog"
	"github.com/carelane/clinic-api/internal/identity"
	"github.com/carelane/clinic-api/internal/notify"
	"github.com/carelane/clinic-api/internal/tokens"
)

// fixture wires the full booking stack on in-memory implementations. The
// doctor works 08:00-12:00 on the fixture day; slots are 30 minutes wide.
type fixture struct {
	cat     *catalog.InMemoryRepository
	repo    *InMemoryRepository
	engine  *availability.Engine
	gateway *tokens.Gateway
	svc     *Service
	clinic  *catalog.Clinic
	doctor  *catalog.Doctor
	service *catalog.Service
	day     time.Time
	now     time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		day: time.Date(2026, 9, 14, 0, 0, 0, 0, time.UTC),
	}
	f.now = f.day.Add(-16 * time.Hour)
	clock := func() time.Time { return f.now }

	f.cat = catalog.NewInMemoryRepository()
	f.clinic = &catalog.Clinic{ID: uuid.New(), Code: "downtown", Name: "Downtown Clinic", Timezone: "UTC"}
	f.doctor = &catalog.Doctor{ID: uuid.New(), ClinicID: f.clinic.ID, Code: "dr-tran", FullName: "Dr. Tran", Active: true}
	duration := 30
	f.service = &catalog.Service{ID: uuid.New(), ClinicID: f.clinic.ID, Code: "general", Name: "General Checkup", DurationMinutes: &duration, Active: true}
	f.cat.AddClinic(f.clinic)
	f.cat.AddDoctor(f.doctor)
	f.cat.AddService(f.service)
	f.cat.LinkDoctorService(f.doctor.ID, f.service.ID)

	hours := availability.NewInMemoryHours()
	hours.SetHours(f.doctor.ID, f.day.Weekday(), availability.WorkingInterval{StartMinute: 480, EndMinute: 720})

	f.repo = NewInMemoryRepository()
	f.engine = availability.NewEngine(f.cat, hours, f.repo, 30).WithClock(clock)
	f.gateway = tokens.NewGateway(tokens.NewInMemoryStore(), nil)
	patients := identity.NewService(identity.NewInMemoryRepository(), nil)
	f.svc = NewService(f.repo, f.cat, f.engine, patients, f.gateway, nil).WithClock(clock)
	return f
}

func (f *fixture) request(hour, minute int, phone string) CreateBookingRequest {
	start := f.day.Add(time.Duration(hour)*time.Hour + time.Duration(minute)*time.Minute)
	return CreateBookingRequest{
		ClinicID:  f.clinic.ID,
		DoctorID:  f.doctor.ID,
		ServiceID: f.service.ID,
		StartAt:   start.Format(clinicLocalLayout),
		EndAt:     start.Add(30 * time.Minute).Format(clinicLocalLayout),
		FullName:  "Nguyen Van A",
		Phone:     phone,
		Email:     "a@example.com",
	}
}

func (f *fixture) slots(t *testing.T) []availability.Slot {
	t.Helper()
	slots, err := f.engine.ComputeSlots(context.Background(), f.clinic.ID, f.doctor.ID, f.day.Format("2006-01-02"), f.service.ID)
	require.NoError(t, err)
	return slots
}

func TestCreateBookingHappyPath(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.Len(t, f.slots(t), 8, "08:00-12:00 with 30-minute width yields 8 windows")

	result, err := f.svc.CreateBooking(ctx, f.request(9, 0, "0901234567"))
	require.NoError(t, err)

	assert.Equal(t, StatusBooked, result.Appointment.Status)
	assert.NotEmpty(t, result.Tokens.Cancel)
	assert.NotEmpty(t, result.Tokens.Reschedule)
	assert.NotEqual(t, result.Tokens.Cancel, result.Tokens.Reschedule)

	require.NotNil(t, result.Credentials, "first booking by a phone provisions credentials")
	assert.Equal(t, "pt0901234567", result.Credentials.Username)

	slots := f.slots(t)
	require.Len(t, slots, 7, "booking removes exactly the taken window")
	booked := f.day.Add(9 * time.Hour)
	for _, slot := range slots {
		assert.False(t, slot.StartAt.Equal(booked), "09:00 must no longer be listed")
	}
}

func TestCreateBookingReturningGuestNoCredentials(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.svc.CreateBooking(ctx, f.request(9, 0, "0901234567"))
	require.NoError(t, err)
	require.NotNil(t, first.Credentials)

	second, err := f.svc.CreateBooking(ctx, f.request(10, 0, "0901234567"))
	require.NoError(t, err)
	assert.Nil(t, second.Credentials, "returning guest must not receive credentials")
	assert.Equal(t, first.Appointment.PatientID, second.Appointment.PatientID)
}

func TestCreateBookingValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req := f.request(9, 0, "0901234567")
	req.FullName = "  "
	_, err := f.svc.CreateBooking(ctx, req)
	assert.ErrorIs(t, err, ErrValidation)

	req = f.request(9, 0, "0901234567")
	req.ClinicID = uuid.New()
	_, err = f.svc.CreateBooking(ctx, req)
	assert.ErrorIs(t, err, catalog.ErrClinicNotFound)

	req = f.request(9, 0, "0901234567")
	req.DoctorID = uuid.New()
	_, err = f.svc.CreateBooking(ctx, req)
	assert.ErrorIs(t, err, catalog.ErrDoctorNotFound)

	// Off-grid window: starts between slots.
	req = f.request(9, 5, "0901234567")
	_, err = f.svc.CreateBooking(ctx, req)
	assert.ErrorIs(t, err, ErrValidation)

	// Outside working hours.
	req = f.request(13, 0, "0901234567")
	_, err = f.svc.CreateBooking(ctx, req)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestCreateBookingConflict(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.CreateBooking(ctx, f.request(9, 0, "0901234567"))
	require.NoError(t, err)

	_, err = f.svc.CreateBooking(ctx, f.request(9, 0, "0907654321"))
	assert.ErrorIs(t, err, ErrSlotTaken)
}

func TestConcurrentBookingSingleWinner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	phones := []string{"0901111111", "0902222222", "0903333333", "0904444444"}
	var wg sync.WaitGroup
	errs := make([]error, len(phones))
	for i, phone := range phones {
		wg.Add(1)
		go func(i int, phone string) {
			defer wg.Done()
			_, errs[i] = f.svc.CreateBooking(ctx, f.request(9, 0, phone))
		}(i, phone)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
		} else {
			assert.ErrorIs(t, err, ErrSlotTaken)
		}
	}
	assert.Equal(t, 1, wins, "exactly one concurrent booking may win the window")
}

func TestLostRaceDoesNotBurnFirstTimeCredentials(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	phones := []string{"0901111111", "0902222222", "0903333333", "0904444444"}
	var wg sync.WaitGroup
	results := make([]*BookingResult, len(phones))
	errs := make([]error, len(phones))
	for i, phone := range phones {
		wg.Add(1)
		go func(i int, phone string) {
			defer wg.Done()
			results[i], errs[i] = f.svc.CreateBooking(ctx, f.request(9, 0, phone))
		}(i, phone)
	}
	wg.Wait()

	// Every loser is still a first-time phone: booking a free window must
	// provision the identity and return its one-time credentials.
	offset := 0
	for i, phone := range phones {
		if errs[i] == nil {
			require.NotNil(t, results[i].Credentials)
			continue
		}
		require.ErrorIs(t, errs[i], ErrSlotTaken)
		retry, err := f.svc.CreateBooking(ctx, f.request(10, offset, phone))
		require.NoError(t, err)
		require.NotNil(t, retry.Credentials, "phone %s lost its credentials to a failed booking", phone)
		offset += 30
	}
}

func TestCancelByTokenFlow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	result, err := f.svc.CreateBooking(ctx, f.request(9, 0, "0901234567"))
	require.NoError(t, err)

	cancelled, err := f.svc.CancelByToken(ctx, result.Tokens.Cancel)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, cancelled.Status)

	// The freed window is listed again.
	assert.Len(t, f.slots(t), 8)

	// Replay of the consumed token.
	_, err = f.svc.CancelByToken(ctx, result.Tokens.Cancel)
	assert.ErrorIs(t, err, tokens.ErrTokenAlreadyUsed)

	// The sibling reschedule token died with the cancellation.
	_, err = f.svc.RescheduleByToken(ctx, result.Tokens.Reschedule,
		f.day.Add(10*time.Hour).Format(clinicLocalLayout),
		f.day.Add(10*time.Hour+30*time.Minute).Format(clinicLocalLayout))
	assert.ErrorIs(t, err, tokens.ErrInvalidToken)

	appt, err := f.repo.GetByID(ctx, result.Appointment.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, appt.Status, "exactly one cancellation happened")
}

func TestRescheduleByTokenFlow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	result, err := f.svc.CreateBooking(ctx, f.request(9, 0, "0901234567"))
	require.NoError(t, err)

	moved, err := f.svc.RescheduleByToken(ctx, result.Tokens.Reschedule,
		f.day.Add(10*time.Hour).Format(clinicLocalLayout),
		f.day.Add(10*time.Hour+30*time.Minute).Format(clinicLocalLayout))
	require.NoError(t, err)
	assert.Equal(t, f.day.Add(10*time.Hour), moved.Appointment.StartAt)

	// 09:00 is free again, 10:00 is gone.
	slots := f.slots(t)
	require.Len(t, slots, 7)
	for _, slot := range slots {
		assert.False(t, slot.StartAt.Equal(f.day.Add(10*time.Hour)))
	}

	// The whole original pair is dead.
	_, err = f.svc.CancelByToken(ctx, result.Tokens.Cancel)
	assert.ErrorIs(t, err, tokens.ErrInvalidToken)
	_, err = f.svc.RescheduleByToken(ctx, result.Tokens.Reschedule,
		f.day.Add(11*time.Hour).Format(clinicLocalLayout),
		f.day.Add(11*time.Hour+30*time.Minute).Format(clinicLocalLayout))
	assert.ErrorIs(t, err, tokens.ErrTokenAlreadyUsed)

	// The fresh pair works.
	cancelled, err := f.svc.CancelByToken(ctx, moved.Tokens.Cancel)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, cancelled.Status)
}

func TestRescheduleToTakenWindow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	result, err := f.svc.CreateBooking(ctx, f.request(9, 0, "0901234567"))
	require.NoError(t, err)
	_, err = f.svc.CreateBooking(ctx, f.request(10, 0, "0907654321"))
	require.NoError(t, err)

	_, err = f.svc.RescheduleByToken(ctx, result.Tokens.Reschedule,
		f.day.Add(10*time.Hour).Format(clinicLocalLayout),
		f.day.Add(10*time.Hour+30*time.Minute).Format(clinicLocalLayout))
	assert.ErrorIs(t, err, ErrSlotTaken)

	// A lost window does not burn the token; the same link retries onto a
	// free window.
	moved, err := f.svc.RescheduleByToken(ctx, result.Tokens.Reschedule,
		f.day.Add(11*time.Hour).Format(clinicLocalLayout),
		f.day.Add(11*time.Hour+30*time.Minute).Format(clinicLocalLayout))
	require.NoError(t, err)
	assert.Equal(t, f.day.Add(11*time.Hour), moved.Appointment.StartAt)
}

func TestRescheduleValidationFailureKeepsTokenUsable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	result, err := f.svc.CreateBooking(ctx, f.request(9, 0, "0901234567"))
	require.NoError(t, err)

	// Unparseable window.
	_, err = f.svc.RescheduleByToken(ctx, result.Tokens.Reschedule,
		"garbage",
		f.day.Add(10*time.Hour+30*time.Minute).Format(clinicLocalLayout))
	assert.ErrorIs(t, err, ErrValidation)

	// Off-grid window.
	_, err = f.svc.RescheduleByToken(ctx, result.Tokens.Reschedule,
		f.day.Add(10*time.Hour+5*time.Minute).Format(clinicLocalLayout),
		f.day.Add(10*time.Hour+35*time.Minute).Format(clinicLocalLayout))
	assert.ErrorIs(t, err, ErrValidation)

	moved, err := f.svc.RescheduleByToken(ctx, result.Tokens.Reschedule,
		f.day.Add(10*time.Hour).Format(clinicLocalLayout),
		f.day.Add(10*time.Hour+30*time.Minute).Format(clinicLocalLayout))
	require.NoError(t, err)
	assert.Equal(t, f.day.Add(10*time.Hour), moved.Appointment.StartAt)
}

func TestConfirmRoleGuard(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	result, err := f.svc.CreateBooking(ctx, f.request(9, 0, "0901234567"))
	require.NoError(t, err)
	id := result.Appointment.ID

	_, err = f.svc.Confirm(ctx, Actor{ID: uuid.New(), Role: RoleDoctor}, id)
	assert.ErrorIs(t, err, ErrForbidden)

	confirmed, err := f.svc.Confirm(ctx, Actor{ID: uuid.New(), Role: RoleReceptionist}, id)
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, confirmed.Status)

	_, err = f.svc.Confirm(ctx, Actor{ID: uuid.New(), Role: RoleReceptionist}, id)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestCheckInRequiresSameDay(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	receptionist := Actor{ID: uuid.New(), Role: RoleReceptionist}

	result, err := f.svc.CreateBooking(ctx, f.request(9, 0, "0901234567"))
	require.NoError(t, err)
	id := result.Appointment.ID

	// Clock still on the previous day.
	_, err = f.svc.CheckIn(ctx, receptionist, id)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	f.now = f.day.Add(8 * time.Hour)
	checked, err := f.svc.CheckIn(ctx, receptionist, id)
	require.NoError(t, err)
	assert.Equal(t, StatusCheckedIn, checked.Status)
}

func TestExamFlowOwnership(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	result, err := f.svc.CreateBooking(ctx, f.request(9, 0, "0901234567"))
	require.NoError(t, err)
	id := result.Appointment.ID

	f.now = f.day.Add(8 * time.Hour)
	_, err = f.svc.CheckIn(ctx, Actor{ID: uuid.New(), Role: RoleReceptionist}, id)
	require.NoError(t, err)

	// Another doctor may not start this exam.
	_, err = f.svc.StartExam(ctx, Actor{ID: uuid.New(), Role: RoleDoctor}, id)
	assert.ErrorIs(t, err, ErrForbidden)

	owner := Actor{ID: f.doctor.ID, Role: RoleDoctor}
	started, err := f.svc.StartExam(ctx, owner, id)
	require.NoError(t, err)
	assert.Equal(t, StatusInProgress, started.Status)

	// Completing a visit that is not in progress is refused.
	_, err = f.svc.CompleteExam(ctx, owner, id)
	require.NoError(t, err)

	_, err = f.svc.CompleteExam(ctx, owner, id)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestMarkNoShowRequiresElapsedStart(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	receptionist := Actor{ID: uuid.New(), Role: RoleReceptionist}

	result, err := f.svc.CreateBooking(ctx, f.request(9, 0, "0901234567"))
	require.NoError(t, err)
	id := result.Appointment.ID

	_, err = f.svc.MarkNoShow(ctx, receptionist, id)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	f.now = f.day.Add(9*time.Hour + 45*time.Minute)
	marked, err := f.svc.MarkNoShow(ctx, receptionist, id)
	require.NoError(t, err)
	assert.Equal(t, StatusNoShow, marked.Status)
}

func TestCancelByStaffRetiresTokens(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	result, err := f.svc.CreateBooking(ctx, f.request(9, 0, "0901234567"))
	require.NoError(t, err)
	id := result.Appointment.ID

	cancelled, err := f.svc.CancelByStaff(ctx, Actor{ID: uuid.New(), Role: RoleReceptionist}, id)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, cancelled.Status)

	_, err = f.svc.CancelByToken(ctx, result.Tokens.Cancel)
	assert.ErrorIs(t, err, tokens.ErrInvalidToken)

	_, err = f.svc.CancelByStaff(ctx, Actor{ID: uuid.New(), Role: RoleReceptionist}, id)
	assert.ErrorIs(t, err, ErrNotCancellable)
}

func TestListDayQueue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.CreateBooking(ctx, f.request(10, 0, "0901234567"))
	require.NoError(t, err)
	_, err = f.svc.CreateBooking(ctx, f.request(8, 30, "0907654321"))
	require.NoError(t, err)

	appts, err := f.svc.ListDayQueue(ctx, f.doctor.ID, f.day.Format("2006-01-02"))
	require.NoError(t, err)
	require.Len(t, appts, 2)
	assert.True(t, appts[0].StartAt.Before(appts[1].StartAt))

	_, err = f.svc.ListDayQueue(ctx, uuid.New(), f.day.Format("2006-01-02"))
	assert.ErrorIs(t, err, catalog.ErrDoctorNotFound)

	_, err = f.svc.ListDayQueue(ctx, f.doctor.ID, "14-09-2026")
	assert.ErrorIs(t, err, availability.ErrInvalidDate)
}

func TestBookingVelocityLimit(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	f := newFixture(t)
	f.svc.WithVelocity(NewVelocityChecker(client, VelocityConfig{
		MaxBookingsPerPhone: 2,
		Window:              time.Hour,
		Enabled:             true,
	}, nil))
	ctx := context.Background()

	_, err := f.svc.CreateBooking(ctx, f.request(8, 0, "0901234567"))
	require.NoError(t, err)
	_, err = f.svc.CreateBooking(ctx, f.request(9, 0, "0901234567"))
	require.NoError(t, err)

	_, err = f.svc.CreateBooking(ctx, f.request(10, 0, "0901234567"))
	assert.ErrorIs(t, err, ErrTooManyBookings)

	// Other phones are unaffected.
	_, err = f.svc.CreateBooking(ctx, f.request(10, 0, "0907654321"))
	require.NoError(t, err)
}

type recordingSender struct {
	mu   sync.Mutex
	msgs []notify.EmailMessage
}

func (r *recordingSender) Send(ctx context.Context, msg notify.EmailMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
	return nil
}

func TestBookingEmailsCarryTokenLinks(t *testing.T) {
	f := newFixture(t)
	sender := &recordingSender{}
	f.svc.WithEmail(sender, notify.NewBuilder("https://portal.example.com"))
	ctx := context.Background()

	result, err := f.svc.CreateBooking(ctx, f.request(9, 0, "0901234567"))
	require.NoError(t, err)

	require.Len(t, sender.msgs, 1)
	assert.Equal(t, "a@example.com", sender.msgs[0].To)
	assert.Contains(t, sender.msgs[0].Body, result.Tokens.Cancel)
	assert.Contains(t, sender.msgs[0].Body, "Downtown Clinic")
	assert.True(t, strings.Contains(sender.msgs[0].Body, "Username"), "first booking carries credentials")

	moved, err := f.svc.RescheduleByToken(ctx, result.Tokens.Reschedule,
		f.day.Add(10*time.Hour).Format(clinicLocalLayout),
		f.day.Add(10*time.Hour+30*time.Minute).Format(clinicLocalLayout))
	require.NoError(t, err)

	require.Len(t, sender.msgs, 2)
	assert.Contains(t, sender.msgs[1].Body, moved.Tokens.Cancel)
	assert.Contains(t, sender.msgs[1].Subject, "rescheduled")
}
