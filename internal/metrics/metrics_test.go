package metrics

import (
	"testing"
	"time"

	"cityhall/appointment-service/internal/models"
)

func ts(offset time.Duration) *time.Time {
	at := time.Date(2026, time.March, 2, 9, 0, 0, 0, time.UTC).Add(offset)
	return &at
}

func TestComputeAverageWait(t *testing.T) {
	appointments := []models.Appointment{
		{CheckedInAt: ts(0), ServingStartedAt: ts(5 * time.Minute)},
		{CheckedInAt: ts(0), ServingStartedAt: ts(15 * time.Minute)},
	}

	got := Compute(appointments)
	if got.AvgWaitMinutes != 10 {
		t.Fatalf("avg wait = %d, want 10", got.AvgWaitMinutes)
	}
	if got.WaitSamples != 2 {
		t.Fatalf("wait samples = %d, want 2", got.WaitSamples)
	}
	if got.ServiceSamples != 0 {
		t.Fatalf("service samples = %d, want 0", got.ServiceSamples)
	}
}

func TestComputeAverageService(t *testing.T) {
	appointments := []models.Appointment{
		{ServingStartedAt: ts(0), CompletedAt: ts(8 * time.Minute)},
		{ServingStartedAt: ts(0), CompletedAt: ts(12 * time.Minute)},
		{ServingStartedAt: ts(0), CompletedAt: ts(4 * time.Minute)},
	}

	got := Compute(appointments)
	if got.AvgServiceMinutes != 8 {
		t.Fatalf("avg service = %d, want 8", got.AvgServiceMinutes)
	}
}

func TestComputeRoundsNotTruncates(t *testing.T) {
	appointments := []models.Appointment{
		{CheckedInAt: ts(0), ServingStartedAt: ts(9*time.Minute + 40*time.Second)},
	}
	got := Compute(appointments)
	if got.AvgWaitMinutes != 10 {
		t.Fatalf("avg wait = %d, want 10 (rounded up)", got.AvgWaitMinutes)
	}
}

func TestComputeSkipsIncompleteRows(t *testing.T) {
	appointments := []models.Appointment{
		{CheckedInAt: ts(0)},
		{ServingStartedAt: ts(0)},
		{},
	}
	got := Compute(appointments)
	if got.WaitSamples != 0 || got.ServiceSamples != 0 {
		t.Fatalf("expected no samples, got %+v", got)
	}
	if got.AvgWaitMinutes != 0 || got.AvgServiceMinutes != 0 {
		t.Fatalf("expected zero averages, got %+v", got)
	}
}
