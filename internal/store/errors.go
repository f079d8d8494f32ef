package store

import "errors"

var (
	ErrDepartmentNotFound  = errors.New("department not found")
	ErrAppointmentNotFound = errors.New("appointment not found")
	ErrSlotNotFound        = errors.New("time slot not found")
	ErrClosedDateNotFound  = errors.New("closed date not found")
	// ErrNoAppointment means call-next found nothing checked in.
	ErrNoAppointment = errors.New("no appointment waiting")
	// ErrInvalidTransition means the record's current status does not
	// permit the requested action.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrConflict means a conditional update lost a race with another
	// terminal; the caller should re-fetch the queue and retry against
	// the new top candidate.
	ErrConflict = errors.New("appointment modified by another terminal")
	// ErrNotToday rejects a check-in attempted on a different day than
	// the appointment date.
	ErrNotToday = errors.New("check-in is only allowed on the appointment date")
)
