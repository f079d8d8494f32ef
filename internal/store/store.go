package store

import (
	"context"
	"encoding/json"
	"time"

	"cityhall/appointment-service/internal/models"
	"cityhall/appointment-service/internal/slots"
)

// CreateAppointmentInput admits a scheduled booking or a walk-in.
// RequestID is the client's idempotency key; a repeat with the same key
// returns the original appointment without creating a second one.
type CreateAppointmentInput struct {
	RequestID    string
	DepartmentID string
	CitizenID    string
	CitizenName  string
	CitizenPhone string
	Purpose      string
	Date         string
	SlotID       string
	IsWalkIn     bool
	IsPriority   bool
	CreatedAt    time.Time
}

// ActionInput targets one appointment for a conditional state change.
type ActionInput struct {
	DepartmentID  string
	AppointmentID string
	OccurredAt    time.Time
}

type TransferInput struct {
	AppointmentID    string
	FromDepartmentID string
	ToDepartmentID   string
	OccurredAt       time.Time
}

type RescheduleInput struct {
	AppointmentID string
	DepartmentID  string
	Date          string
	SlotID        string
	OccurredAt    time.Time
}

// GenerateSlotsInput bulk-replaces a department's slot set with windows
// produced by the slot generator. Destructive; callers confirm first.
type GenerateSlotsInput struct {
	DepartmentID    string
	Windows         []slots.Window
	MaxAppointments int
	DaysOfWeek      []int
}

// ListFilter narrows appointment queries. Dates are inclusive bounds;
// empty fields are ignored.
type ListFilter struct {
	DepartmentID string
	DateFrom     string
	DateTo       string
	Status       string
}

type OutboxEvent struct {
	EventID      string          `json:"event_id"`
	DepartmentID string          `json:"department_id"`
	Type         string          `json:"type"`
	Payload      json.RawMessage `json:"payload"`
	CreatedAt    time.Time       `json:"created_at"`
}

// Store is the canonical appointment table shared by every staff
// terminal. All mutations are conditional on the record's current
// status; a lost race surfaces as ErrConflict or ErrInvalidTransition,
// never as a silent overwrite.
type Store interface {
	GetDepartment(ctx context.Context, departmentID string) (models.Department, error)
	ListDepartments(ctx context.Context) ([]models.Department, error)
	UpdateDepartment(ctx context.Context, department models.Department) (models.Department, error)

	GenerateSlots(ctx context.Context, input GenerateSlotsInput) ([]models.TimeSlot, error)
	ListSlots(ctx context.Context, departmentID string) ([]models.TimeSlot, error)
	UpdateSlot(ctx context.Context, slot models.TimeSlot) (models.TimeSlot, error)
	DeleteSlot(ctx context.Context, slotID string) error

	AddClosedDate(ctx context.Context, closed models.ClosedDate) (models.ClosedDate, error)
	RemoveClosedDate(ctx context.Context, closedDateID string) error
	ListClosedDates(ctx context.Context, departmentID string) ([]models.ClosedDate, error)

	CreateAppointment(ctx context.Context, input CreateAppointmentInput) (models.Appointment, bool, error)
	GetAppointment(ctx context.Context, appointmentID string) (models.Appointment, error)
	ListAppointments(ctx context.Context, filter ListFilter) ([]models.Appointment, error)

	CheckIn(ctx context.Context, input ActionInput) (models.Appointment, error)
	// CallNext atomically selects and serves the next checked-in
	// appointment for a department, or ErrNoAppointment.
	CallNext(ctx context.Context, departmentID string, at time.Time) (models.Appointment, error)
	// CallAppointment serves one specific candidate a terminal already
	// picked; it fails with ErrConflict if another terminal got there
	// first.
	CallAppointment(ctx context.Context, input ActionInput) (models.Appointment, error)
	Complete(ctx context.Context, input ActionInput) (models.Appointment, error)
	NoShow(ctx context.Context, input ActionInput) (models.Appointment, error)
	Cancel(ctx context.Context, input ActionInput) (models.Appointment, error)
	SetPriority(ctx context.Context, input ActionInput, priority bool) (models.Appointment, error)
	Transfer(ctx context.Context, input TransferInput) (models.Appointment, error)
	Reschedule(ctx context.Context, input RescheduleInput) (models.Appointment, error)

	ListOutboxEvents(ctx context.Context, after time.Time, limit int) ([]OutboxEvent, error)
}
