package queue

import (
	"testing"
	"time"

	"cityhall/appointment-service/internal/models"
)

func checkedIn(ticket string, offset time.Duration, priority bool) models.Appointment {
	at := time.Date(2026, time.March, 2, 9, 0, 0, 0, time.UTC).Add(offset)
	return models.Appointment{
		TicketNumber: ticket,
		Status:       models.StatusCheckedIn,
		IsPriority:   priority,
		CheckedInAt:  &at,
	}
}

func TestNextCandidatePriorityFirst(t *testing.T) {
	appointments := []models.Appointment{
		checkedIn("P-001", 0, false),
		checkedIn("P-003", 10*time.Minute, true),
		checkedIn("P-002", 5*time.Minute, true),
	}

	next, ok := NextCandidate(appointments)
	if !ok {
		t.Fatal("expected a candidate")
	}
	// Earliest check-in among priority entries wins even though P-001
	// checked in before both.
	if next.TicketNumber != "P-002" {
		t.Fatalf("expected P-002, got %s", next.TicketNumber)
	}
}

func TestNextCandidateFIFOWithoutPriority(t *testing.T) {
	appointments := []models.Appointment{
		checkedIn("P-002", 5*time.Minute, false),
		checkedIn("P-001", 0, false),
	}
	next, _ := NextCandidate(appointments)
	if next.TicketNumber != "P-001" {
		t.Fatalf("expected P-001, got %s", next.TicketNumber)
	}
}

func TestNextCandidateTieBreaksByTicket(t *testing.T) {
	appointments := []models.Appointment{
		checkedIn("P-002", 0, false),
		checkedIn("P-001", 0, false),
	}
	next, _ := NextCandidate(appointments)
	if next.TicketNumber != "P-001" {
		t.Fatalf("expected P-001, got %s", next.TicketNumber)
	}
}

func TestNextCandidateTicketOrderBeyondPadding(t *testing.T) {
	// Sequences past 999 outgrow the zero padding; the compare must
	// stay numeric, not lexicographic.
	appointments := []models.Appointment{
		checkedIn("P-1000", 0, false),
		checkedIn("P-999", 0, false),
	}
	next, _ := NextCandidate(appointments)
	if next.TicketNumber != "P-999" {
		t.Fatalf("expected P-999, got %s", next.TicketNumber)
	}
}

func TestSortForDisplayTicketOrderBeyondPadding(t *testing.T) {
	appointments := []models.Appointment{
		{TicketNumber: "P-1000"},
		{TicketNumber: "P-999"},
		{TicketNumber: "P-002"},
	}
	SortForDisplay(appointments, SortByTicket)
	got := tickets(appointments)
	want := []string{"P-002", "P-999", "P-1000"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("ticket sort wrong: %v", got)
		}
	}
}

func TestNextCandidateIgnoresOtherStatuses(t *testing.T) {
	serving := checkedIn("P-001", 0, true)
	serving.Status = models.StatusServing
	pending := checkedIn("P-002", 0, true)
	pending.Status = models.StatusPending

	if _, ok := NextCandidate([]models.Appointment{serving, pending}); ok {
		t.Fatal("expected no candidate")
	}
}

func TestSortForDisplay(t *testing.T) {
	slot := func(s string) *string { return &s }
	appointments := []models.Appointment{
		{TicketNumber: "P-002", CitizenName: "Reyes", AppointmentDate: "2026-03-03", SlotStart: slot("10:00"), Status: models.StatusPending},
		{TicketNumber: "P-001", CitizenName: "Santos", AppointmentDate: "2026-03-02", SlotStart: nil, Status: models.StatusCheckedIn},
		{TicketNumber: "P-003", CitizenName: "Cruz", AppointmentDate: "2026-03-02", SlotStart: slot("09:00"), Status: models.StatusCheckedIn},
	}

	SortForDisplay(appointments, SortByName)
	if appointments[0].CitizenName != "Cruz" || appointments[2].CitizenName != "Santos" {
		t.Fatalf("name sort wrong: %v", tickets(appointments))
	}

	SortForDisplay(appointments, SortBySlot)
	if appointments[0].TicketNumber != "P-003" || appointments[2].SlotStart != nil {
		t.Fatalf("slot sort wrong: %v", tickets(appointments))
	}

	SortForDisplay(appointments, SortByDate)
	if appointments[2].AppointmentDate != "2026-03-03" {
		t.Fatalf("date sort wrong: %v", tickets(appointments))
	}

	SortForDisplay(appointments, SortByTicket)
	if appointments[0].TicketNumber != "P-001" || appointments[2].TicketNumber != "P-003" {
		t.Fatalf("ticket sort wrong: %v", tickets(appointments))
	}
}

func TestParseSortKey(t *testing.T) {
	if ParseSortKey("name") != SortByName {
		t.Fatal("expected name key")
	}
	if ParseSortKey(" STATUS ") != SortByStatus {
		t.Fatal("expected status key")
	}
	if ParseSortKey("") != SortByTicket {
		t.Fatal("expected default ticket key")
	}
	if ParseSortKey("bogus") != SortByTicket {
		t.Fatal("expected default ticket key for unknown value")
	}
}

func tickets(appointments []models.Appointment) []string {
	out := make([]string, len(appointments))
	for i, a := range appointments {
		out[i] = a.TicketNumber
	}
	return out
}
