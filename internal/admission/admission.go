// Package admission decides whether a proposed appointment may be
// created. The decision itself is pure; the store gathers the counts
// inside the same transaction that inserts the appointment so the checks
// and the insert are one atomic unit.
package admission

import (
	"fmt"
	"time"

	"cityhall/appointment-service/internal/models"
)

type Reason string

const (
	ReasonDepartmentDisabled Reason = "department_disabled"
	ReasonClosedDate         Reason = "closed_date"
	ReasonSameDayDisabled    Reason = "same_day_disabled"
	ReasonTooSoon            Reason = "too_soon"
	ReasonTooLate            Reason = "too_late"
	ReasonWalkInsDisabled    Reason = "walk_ins_disabled"
	ReasonDailyLimitReached  Reason = "daily_limit_reached"
	ReasonSlotFull           Reason = "slot_full"
)

// Rejection is the typed failure for a booking that passed validation
// but is not admissible under the department's policy.
type Rejection struct {
	Reason Reason
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("admission rejected: %s", r.Reason)
}

func reject(reason Reason) error {
	return &Rejection{Reason: reason}
}

// Request describes the proposed booking.
type Request struct {
	Date     time.Time
	Today    time.Time
	IsWalkIn bool
	HasSlot  bool
}

// Facts are the counts and lookups the caller read under its
// transaction.
type Facts struct {
	Department models.Department
	DateClosed bool
	// DailyCount is the number of non-cancelled appointments already on
	// the requested date.
	DailyCount int
	// SlotCount and SlotMax apply only when the request targets a slot.
	SlotCount int
	SlotMax   int
}

// Check runs every admission rule and returns the first failure as a
// *Rejection. A nil return means the booking may be created.
func Check(req Request, facts Facts) error {
	dept := facts.Department
	if !dept.Active || !dept.CanReceiveAppointments {
		return reject(ReasonDepartmentDisabled)
	}
	if facts.DateClosed {
		return reject(ReasonClosedDate)
	}

	if req.IsWalkIn {
		if !dept.AllowWalkIns {
			return reject(ReasonWalkInsDisabled)
		}
	} else {
		today := truncateDay(req.Today)
		date := truncateDay(req.Date)
		days := int(date.Sub(today).Hours() / 24)
		switch {
		case days == 0:
			if !dept.AllowSameDay {
				return reject(ReasonSameDayDisabled)
			}
		case days < dept.MinDaysAdvance:
			return reject(ReasonTooSoon)
		case dept.MaxDaysAdvance > 0 && days > dept.MaxDaysAdvance:
			return reject(ReasonTooLate)
		}
	}

	if dept.DailyAppointmentLimit > 0 && facts.DailyCount >= dept.DailyAppointmentLimit {
		return reject(ReasonDailyLimitReached)
	}

	if !req.IsWalkIn && req.HasSlot && facts.SlotMax > 0 && facts.SlotCount >= facts.SlotMax {
		return reject(ReasonSlotFull)
	}

	return nil
}

func truncateDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
