// Package queue computes the serving order staff terminals see. Every
// terminal re-reads the department's appointments after a change hint
// and recomputes this ordering locally; the store's call-next uses the
// same ordering inside its query.
package queue

import (
	"sort"
	"strings"

	"cityhall/appointment-service/internal/models"
	"cityhall/appointment-service/internal/ticket"
)

// ticketLess compares ticket numbers by their numeric sequence, so
// "P-1000" sorts after "P-999". Malformed numbers fall back to the
// plain string compare.
func ticketLess(a, b string) bool {
	as, aerr := ticket.Sequence(a)
	bs, berr := ticket.Sequence(b)
	if aerr == nil && berr == nil && as != bs {
		return as < bs
	}
	return a < b
}

// ServingLess orders two appointments for call-next: priority entries
// first, then ascending check-in time, ties broken by ticket number.
func ServingLess(a, b models.Appointment) bool {
	if a.IsPriority != b.IsPriority {
		return a.IsPriority
	}
	at, bt := a.CheckedInAt, b.CheckedInAt
	switch {
	case at != nil && bt != nil && !at.Equal(*bt):
		return at.Before(*bt)
	case at != nil && bt == nil:
		return true
	case at == nil && bt != nil:
		return false
	}
	return ticketLess(a.TicketNumber, b.TicketNumber)
}

// NextCandidate returns the checked-in appointment call-next would
// serve, or false when nothing is waiting.
func NextCandidate(appointments []models.Appointment) (models.Appointment, bool) {
	var best models.Appointment
	found := false
	for _, appt := range appointments {
		if appt.Status != models.StatusCheckedIn {
			continue
		}
		if !found || ServingLess(appt, best) {
			best = appt
			found = true
		}
	}
	return best, found
}

// SortKey selects a presentation ordering for the staff list view. This
// is display-only and independent of the serving order.
type SortKey string

const (
	SortByTicket SortKey = "ticket"
	SortByName   SortKey = "name"
	SortBySlot   SortKey = "slot"
	SortByDate   SortKey = "date"
	SortByStatus SortKey = "status"
)

// ParseSortKey maps a query value to a sort key, defaulting to ticket.
func ParseSortKey(value string) SortKey {
	switch SortKey(strings.ToLower(strings.TrimSpace(value))) {
	case SortByName:
		return SortByName
	case SortBySlot:
		return SortBySlot
	case SortByDate:
		return SortByDate
	case SortByStatus:
		return SortByStatus
	default:
		return SortByTicket
	}
}

// SortForDisplay orders a copy-free slice in place for the list view.
func SortForDisplay(appointments []models.Appointment, key SortKey) {
	sort.SliceStable(appointments, func(i, j int) bool {
		a, b := appointments[i], appointments[j]
		switch key {
		case SortByName:
			if a.CitizenName != b.CitizenName {
				return a.CitizenName < b.CitizenName
			}
		case SortBySlot:
			as, bs := clock(a.SlotStart), clock(b.SlotStart)
			if as != bs {
				return as < bs
			}
		case SortByDate:
			if a.AppointmentDate != b.AppointmentDate {
				return a.AppointmentDate < b.AppointmentDate
			}
		case SortByStatus:
			if a.Status != b.Status {
				return a.Status < b.Status
			}
		}
		return ticketLess(a.TicketNumber, b.TicketNumber)
	})
}

func clock(value *string) string {
	if value == nil {
		// Sort slotless walk-ins after every timed slot.
		return "99:99"
	}
	return *value
}
