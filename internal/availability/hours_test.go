package availability

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	pgxmock "github.com/pashagolub/pgxmock/v3"
)

func TestInMemoryHoursSortsIntervals(t *testing.T) {
	hours := NewInMemoryHours()
	doctorID := uuid.New()
	hours.SetHours(doctorID, time.Monday,
		WorkingInterval{StartMinute: 780, EndMinute: 1020},
		WorkingInterval{StartMinute: 480, EndMinute: 720},
	)

	intervals, err := hours.IntervalsOn(context.Background(), doctorID, time.Monday)
	if err != nil {
		t.Fatalf("intervals failed: %v", err)
	}
	if len(intervals) != 2 {
		t.Fatalf("expected 2 intervals, got %d", len(intervals))
	}
	if intervals[0].StartMinute != 480 {
		t.Errorf("intervals not sorted: %#v", intervals)
	}

	empty, err := hours.IntervalsOn(context.Background(), doctorID, time.Sunday)
	if err != nil {
		t.Fatalf("intervals failed: %v", err)
	}
	if len(empty) != 0 {
		t.Errorf("expected no intervals on an off day, got %#v", empty)
	}
}

func TestPostgresHoursIntervalsOn(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()

	repo := newPostgresHoursWithQuerier(mock)
	doctorID := uuid.New()

	rows := pgxmock.NewRows([]string{"start_minute", "end_minute"}).
		AddRow(480, 720).
		AddRow(780, 1020)
	mock.ExpectQuery("SELECT start_minute, end_minute").
		WithArgs(doctorID, int(time.Monday)).
		WillReturnRows(rows)

	intervals, err := repo.IntervalsOn(context.Background(), doctorID, time.Monday)
	if err != nil {
		t.Fatalf("intervals failed: %v", err)
	}
	if len(intervals) != 2 || intervals[1].EndMinute != 1020 {
		t.Fatalf("unexpected intervals: %#v", intervals)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
