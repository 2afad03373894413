package tokens

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	pgxmock "github.com/pashagolub/pgxmock/v3"
)

func TestPostgresStoreFlow(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()

	store := newPostgresStoreWithExec(mock)
	ctx := context.Background()
	apptID := uuid.New()
	digest := Digest("some-token-value")

	mock.ExpectExec("INSERT INTO appointment_tokens").
		WithArgs(pgxmock.AnyArg(), apptID, "cancel", digest).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	if err := store.Insert(ctx, apptID, PurposeCancel, digest); err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	now := time.Now().UTC()
	rows := pgxmock.NewRows([]string{"id", "appointment_id", "purpose", "consumed_at", "invalidated_at", "created_at"}).
		AddRow(uuid.New(), apptID, Purpose("cancel"), (*time.Time)(nil), (*time.Time)(nil), now)
	mock.ExpectQuery("SELECT id, appointment_id").WithArgs(digest).WillReturnRows(rows)

	rec, err := store.Find(ctx, digest)
	if err != nil {
		t.Fatalf("find failed: %v", err)
	}
	if rec.AppointmentID != apptID || rec.Purpose != PurposeCancel {
		t.Fatalf("unexpected record: %#v", rec)
	}

	mock.ExpectExec("UPDATE appointment_tokens").WithArgs(digest).WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	ok, err := store.Consume(ctx, digest)
	if err != nil {
		t.Fatalf("consume failed: %v", err)
	}
	if !ok {
		t.Fatal("expected consume to succeed")
	}

	mock.ExpectExec("UPDATE appointment_tokens").WithArgs(apptID).WillReturnResult(pgxmock.NewResult("UPDATE", 2))
	if err := store.InvalidateForAppointment(ctx, apptID); err != nil {
		t.Fatalf("invalidate failed: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgresStoreConsumeAlreadyUsed(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()

	store := newPostgresStoreWithExec(mock)
	digest := Digest("used-token")

	mock.ExpectExec("UPDATE appointment_tokens").WithArgs(digest).WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	ok, err := store.Consume(context.Background(), digest)
	if err != nil {
		t.Fatalf("consume failed: %v", err)
	}
	if ok {
		t.Fatal("expected consume to report already used")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgresStoreRelease(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()

	store := newPostgresStoreWithExec(mock)
	digest := Digest("spent-token")

	mock.ExpectExec("UPDATE appointment_tokens").WithArgs(digest).WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	if err := store.Release(context.Background(), digest); err != nil {
		t.Fatalf("release failed: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
