package models

import "time"

// Department holds the operating-hours and capacity settings the queue
// engine reads. Settings are mutated only by administrators.
type Department struct {
	DepartmentID           string `json:"department_id"`
	Name                   string `json:"name"`
	DisplayOrder           int    `json:"display_order"`
	Active                 bool   `json:"active"`
	OperatingStart         string `json:"operating_start"`
	OperatingEnd           string `json:"operating_end"`
	LunchStart             string `json:"lunch_start,omitempty"`
	LunchEnd               string `json:"lunch_end,omitempty"`
	CanReceiveAppointments bool   `json:"can_receive_appointments"`
	AllowWalkIns           bool   `json:"allow_walk_ins"`
	DailyAppointmentLimit  int    `json:"daily_appointment_limit"`
	AllowSameDay           bool   `json:"allow_same_day"`
	MinDaysAdvance         int    `json:"min_days_advance"`
	MaxDaysAdvance         int    `json:"max_days_advance"`
	RequireQRCheckin       bool   `json:"require_qr_checkin"`
}

// TimeSlot is a bookable window with its own concurrent-appointment cap.
// Times of day are "HH:MM", days of week use time.Weekday numbering.
type TimeSlot struct {
	SlotID          string `json:"slot_id"`
	DepartmentID    string `json:"department_id"`
	SlotStart       string `json:"slot_start"`
	SlotEnd         string `json:"slot_end"`
	MaxAppointments int    `json:"max_appointments"`
	DaysOfWeek      []int  `json:"days_of_week"`
	Active          bool   `json:"active"`
}

// ClosedDate blocks all bookings for a department on one calendar date.
type ClosedDate struct {
	ClosedDateID string `json:"closed_date_id"`
	DepartmentID string `json:"department_id"`
	ClosedDate   string `json:"closed_date"`
	Reason       string `json:"reason,omitempty"`
}

type Appointment struct {
	AppointmentID    string     `json:"appointment_id"`
	RequestID        string     `json:"request_id,omitempty"`
	DepartmentID     string     `json:"department_id"`
	CitizenID        *string    `json:"citizen_id,omitempty"`
	CitizenName      string     `json:"citizen_name,omitempty"`
	CitizenPhone     string     `json:"citizen_phone,omitempty"`
	AppointmentDate  string     `json:"appointment_date"`
	SlotStart        *string    `json:"slot_start,omitempty"`
	SlotEnd          *string    `json:"slot_end,omitempty"`
	Status           string     `json:"status"`
	TicketNumber     string     `json:"ticket_number"`
	Purpose          string     `json:"purpose,omitempty"`
	IsWalkIn         bool       `json:"is_walk_in"`
	IsPriority       bool       `json:"is_priority"`
	CreatedAt        time.Time  `json:"created_at"`
	CheckedInAt      *time.Time `json:"checked_in_at,omitempty"`
	ServingStartedAt *time.Time `json:"serving_started_at,omitempty"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
	CancelledAt      *time.Time `json:"cancelled_at,omitempty"`
}

const (
	StatusPending   = "pending"
	StatusCheckedIn = "checked_in"
	StatusServing   = "serving"
	StatusCompleted = "completed"
	StatusNoShow    = "no_show"
	StatusCancelled = "cancelled"
)

// IsTerminal reports whether no further transitions are permitted.
func IsTerminal(status string) bool {
	switch status {
	case StatusCompleted, StatusNoShow, StatusCancelled:
		return true
	default:
		return false
	}
}

// DateLayout is the wire format for appointment and closed dates.
const DateLayout = "2006-01-02"

// ClockLayout is the wire format for times of day.
const ClockLayout = "15:04"
