package postgres

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"cityhall/appointment-service/internal/admission"
	"cityhall/appointment-service/internal/models"
	"cityhall/appointment-service/internal/store"
	"cityhall/appointment-service/internal/ticket"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

const appointmentColumns = `
	appointment_id, request_id, department_id, citizen_id, citizen_name,
	appointment_date::text, slot_start, slot_end, status, ticket_number,
	purpose, is_walk_in, is_priority, created_at, checked_in_at,
	serving_started_at, completed_at, cancelled_at`

const departmentColumns = `
	department_id, name, display_order, active, operating_start,
	operating_end, lunch_start, lunch_end, can_receive_appointments,
	allow_walk_ins, daily_appointment_limit, allow_same_day,
	min_days_advance, max_days_advance, require_qr_checkin`

func (s *Store) GetDepartment(ctx context.Context, departmentID string) (models.Department, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+departmentColumns+`
		FROM departments
		WHERE department_id = $1
	`, departmentID)
	return scanDepartment(row)
}

func (s *Store) ListDepartments(ctx context.Context) ([]models.Department, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+departmentColumns+`
		FROM departments
		ORDER BY display_order ASC, name ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var departments []models.Department
	for rows.Next() {
		dept, err := scanDepartment(rows)
		if err != nil {
			return nil, err
		}
		departments = append(departments, dept)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return departments, nil
}

func (s *Store) UpdateDepartment(ctx context.Context, department models.Department) (models.Department, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE departments
		SET name = $2,
			display_order = $3,
			active = $4,
			operating_start = $5,
			operating_end = $6,
			lunch_start = $7,
			lunch_end = $8,
			can_receive_appointments = $9,
			allow_walk_ins = $10,
			daily_appointment_limit = $11,
			allow_same_day = $12,
			min_days_advance = $13,
			max_days_advance = $14,
			require_qr_checkin = $15
		WHERE department_id = $1
		RETURNING `+departmentColumns+`
	`, department.DepartmentID, department.Name, department.DisplayOrder, department.Active,
		department.OperatingStart, department.OperatingEnd, nullIfEmpty(department.LunchStart),
		nullIfEmpty(department.LunchEnd), department.CanReceiveAppointments, department.AllowWalkIns,
		department.DailyAppointmentLimit, department.AllowSameDay, department.MinDaysAdvance,
		department.MaxDaysAdvance, department.RequireQRCheckin)
	updated, err := scanDepartment(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Department{}, store.ErrDepartmentNotFound
		}
		return models.Department{}, err
	}
	return updated, nil
}

// GenerateSlots destructively replaces the department's slot set with
// the generated windows, all within one transaction.
func (s *Store) GenerateSlots(ctx context.Context, input store.GenerateSlotsInput) ([]models.TimeSlot, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if _, err = lockDepartment(ctx, tx, input.DepartmentID); err != nil {
		return nil, err
	}

	if _, err = tx.Exec(ctx, `DELETE FROM time_slots WHERE department_id = $1`, input.DepartmentID); err != nil {
		return nil, err
	}

	created := make([]models.TimeSlot, 0, len(input.Windows))
	for _, window := range input.Windows {
		slot := models.TimeSlot{
			SlotID:          uuid.NewString(),
			DepartmentID:    input.DepartmentID,
			SlotStart:       window.StartClock(),
			SlotEnd:         window.EndClock(),
			MaxAppointments: input.MaxAppointments,
			DaysOfWeek:      input.DaysOfWeek,
			Active:          true,
		}
		if _, err = tx.Exec(ctx, `
			INSERT INTO time_slots (slot_id, department_id, slot_start, slot_end, max_appointments, days_of_week, active)
			VALUES ($1, $2, $3, $4, $5, $6, TRUE)
		`, slot.SlotID, slot.DepartmentID, slot.SlotStart, slot.SlotEnd, slot.MaxAppointments, toInt32(slot.DaysOfWeek)); err != nil {
			return nil, err
		}
		created = append(created, slot)
	}

	if err = tx.Commit(ctx); err != nil {
		return nil, err
	}
	return created, nil
}

func (s *Store) ListSlots(ctx context.Context, departmentID string) ([]models.TimeSlot, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT slot_id, department_id, slot_start, slot_end, max_appointments, days_of_week, active
		FROM time_slots
		WHERE department_id = $1
		ORDER BY slot_start ASC
	`, departmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var slots []models.TimeSlot
	for rows.Next() {
		slot, err := scanSlot(rows)
		if err != nil {
			return nil, err
		}
		slots = append(slots, slot)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return slots, nil
}

func (s *Store) UpdateSlot(ctx context.Context, slot models.TimeSlot) (models.TimeSlot, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE time_slots
		SET slot_start = $2,
			slot_end = $3,
			max_appointments = $4,
			days_of_week = $5,
			active = $6
		WHERE slot_id = $1
		RETURNING slot_id, department_id, slot_start, slot_end, max_appointments, days_of_week, active
	`, slot.SlotID, slot.SlotStart, slot.SlotEnd, slot.MaxAppointments, toInt32(slot.DaysOfWeek), slot.Active)
	updated, err := scanSlot(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.TimeSlot{}, store.ErrSlotNotFound
		}
		return models.TimeSlot{}, err
	}
	return updated, nil
}

func (s *Store) DeleteSlot(ctx context.Context, slotID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM time_slots WHERE slot_id = $1`, slotID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrSlotNotFound
	}
	return nil
}

func (s *Store) AddClosedDate(ctx context.Context, closed models.ClosedDate) (models.ClosedDate, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO closed_dates (closed_date_id, department_id, closed_date, reason)
		VALUES ($1, $2, $3::date, $4)
		ON CONFLICT (department_id, closed_date)
		DO UPDATE SET reason = EXCLUDED.reason
		RETURNING closed_date_id, department_id, closed_date::text, COALESCE(reason, '')
	`, uuid.NewString(), closed.DepartmentID, closed.ClosedDate, nullIfEmpty(closed.Reason))
	var out models.ClosedDate
	if err := row.Scan(&out.ClosedDateID, &out.DepartmentID, &out.ClosedDate, &out.Reason); err != nil {
		return models.ClosedDate{}, err
	}
	return out, nil
}

func (s *Store) RemoveClosedDate(ctx context.Context, closedDateID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM closed_dates WHERE closed_date_id = $1`, closedDateID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrClosedDateNotFound
	}
	return nil
}

func (s *Store) ListClosedDates(ctx context.Context, departmentID string) ([]models.ClosedDate, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT closed_date_id, department_id, closed_date::text, COALESCE(reason, '')
		FROM closed_dates
		WHERE department_id = $1
		ORDER BY closed_date ASC
	`, departmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var dates []models.ClosedDate
	for rows.Next() {
		var closed models.ClosedDate
		if err := rows.Scan(&closed.ClosedDateID, &closed.DepartmentID, &closed.ClosedDate, &closed.Reason); err != nil {
			return nil, err
		}
		dates = append(dates, closed)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return dates, nil
}

// CreateAppointment runs admission, allocates the ticket, and inserts
// the record as one transaction. The department row is locked for the
// duration so the daily-limit count and the ticket sequence cannot race
// with a concurrent admission.
func (s *Store) CreateAppointment(ctx context.Context, input store.CreateAppointmentInput) (models.Appointment, bool, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Appointment{}, false, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	existing, found, err := findByRequestID(ctx, tx, input.RequestID)
	if err != nil {
		return models.Appointment{}, false, err
	}
	if found {
		if err = tx.Commit(ctx); err != nil {
			return models.Appointment{}, false, err
		}
		return existing, false, nil
	}

	dept, err := lockDepartment(ctx, tx, input.DepartmentID)
	if err != nil {
		return models.Appointment{}, false, err
	}

	createdAt := input.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	date := input.Date
	if input.IsWalkIn {
		date = createdAt.Format(models.DateLayout)
	}
	targetDate, err := time.Parse(models.DateLayout, date)
	if err != nil {
		return models.Appointment{}, false, fmt.Errorf("invalid appointment date %q: %w", date, err)
	}

	facts := admission.Facts{Department: dept}
	if facts.DateClosed, err = dateClosed(ctx, tx, input.DepartmentID, date); err != nil {
		return models.Appointment{}, false, err
	}
	if facts.DailyCount, err = countDaily(ctx, tx, input.DepartmentID, date, ""); err != nil {
		return models.Appointment{}, false, err
	}

	var slotStart, slotEnd *string
	hasSlot := !input.IsWalkIn && input.SlotID != ""
	if hasSlot {
		slot, err2 := getActiveSlot(ctx, tx, input.DepartmentID, input.SlotID)
		if err2 != nil {
			err = err2
			return models.Appointment{}, false, err
		}
		facts.SlotMax = slot.MaxAppointments
		if facts.SlotCount, err = countSlot(ctx, tx, input.DepartmentID, date, slot.SlotStart, ""); err != nil {
			return models.Appointment{}, false, err
		}
		slotStart = &slot.SlotStart
		slotEnd = &slot.SlotEnd
	}

	if err = admission.Check(admission.Request{
		Date:     targetDate,
		Today:    createdAt,
		IsWalkIn: input.IsWalkIn,
		HasSlot:  hasSlot,
	}, facts); err != nil {
		return models.Appointment{}, false, err
	}

	number, err := allocateTicket(ctx, tx, dept, date)
	if err != nil {
		return models.Appointment{}, false, err
	}

	status := models.StatusPending
	var checkedInAt *time.Time
	if input.IsWalkIn {
		// Walk-ins are admitted straight into the hall.
		status = models.StatusCheckedIn
		checkedInAt = &createdAt
	}

	appointmentID := uuid.NewString()
	row := tx.QueryRow(ctx, `
		INSERT INTO appointments (
			appointment_id, request_id, department_id, citizen_id, citizen_name,
			citizen_phone_hash, appointment_date, slot_start, slot_end, status,
			ticket_number, purpose, is_walk_in, is_priority, created_at, checked_in_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7::date,$8,$9,$10,$11,$12,$13,$14,$15,$16)
		ON CONFLICT (request_id) DO NOTHING
		RETURNING `+appointmentColumns+`
	`, appointmentID, input.RequestID, input.DepartmentID, nullIfEmpty(input.CitizenID),
		input.CitizenName, hashPhone(input.CitizenPhone), date, slotStart, slotEnd, status,
		number, input.Purpose, input.IsWalkIn, input.IsPriority, createdAt, checkedInAt)

	appt, err := scanAppointment(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// A concurrent request with the same request_id committed
			// between the pre-check and the insert. Roll back so this
			// transaction's ticket sequence bump is discarded, then
			// return the committed record.
			_ = tx.Rollback(ctx)
			winner, err2 := scanAppointment(s.pool.QueryRow(ctx, `
				SELECT `+appointmentColumns+`
				FROM appointments
				WHERE request_id = $1
			`, input.RequestID))
			if err2 != nil {
				return models.Appointment{}, false, err2
			}
			err = nil
			return winner, false, nil
		}
		return models.Appointment{}, false, err
	}
	appt.CitizenPhone = input.CitizenPhone

	if err = insertOutboxEvent(ctx, tx, "appointment.created", appt.DepartmentID, appt); err != nil {
		return models.Appointment{}, false, err
	}

	if err = tx.Commit(ctx); err != nil {
		return models.Appointment{}, false, err
	}
	return appt, true, nil
}

func (s *Store) GetAppointment(ctx context.Context, appointmentID string) (models.Appointment, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE appointment_id = $1
	`, appointmentID)
	appt, err := scanAppointment(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Appointment{}, store.ErrAppointmentNotFound
		}
		return models.Appointment{}, err
	}
	return appt, nil
}

func (s *Store) ListAppointments(ctx context.Context, filter store.ListFilter) ([]models.Appointment, error) {
	query := `
		SELECT ` + appointmentColumns + `
		FROM appointments
		WHERE department_id = $1
	`
	args := []interface{}{filter.DepartmentID}
	if filter.DateFrom != "" {
		args = append(args, filter.DateFrom)
		query += fmt.Sprintf(" AND appointment_date >= $%d::date", len(args))
	}
	if filter.DateTo != "" {
		args = append(args, filter.DateTo)
		query += fmt.Sprintf(" AND appointment_date <= $%d::date", len(args))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	query += " ORDER BY appointment_date ASC, length(ticket_number) ASC, ticket_number ASC"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var appointments []models.Appointment
	for rows.Next() {
		appt, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		appointments = append(appointments, appt)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return appointments, nil
}

// CheckIn moves a pending appointment into the hall. Only valid on the
// appointment date itself.
func (s *Store) CheckIn(ctx context.Context, input store.ActionInput) (models.Appointment, error) {
	return s.conditionalUpdate(ctx, input, "appointment.checked_in", func(tx pgx.Tx) (models.Appointment, error) {
		today := input.OccurredAt.UTC().Format(models.DateLayout)
		row := tx.QueryRow(ctx, `
			UPDATE appointments
			SET status = 'checked_in',
				checked_in_at = $3
			WHERE appointment_id = $1 AND department_id = $2
				AND status = 'pending'
				AND appointment_date = $4::date
			RETURNING `+appointmentColumns+`
		`, input.AppointmentID, input.DepartmentID, input.OccurredAt, today)
		appt, err := scanAppointment(row)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return models.Appointment{}, s.classifyCheckIn(ctx, tx, input, today)
			}
			return models.Appointment{}, err
		}
		return appt, nil
	})
}

func (s *Store) classifyCheckIn(ctx context.Context, tx pgx.Tx, input store.ActionInput, today string) error {
	var status, date string
	row := tx.QueryRow(ctx, `
		SELECT status, appointment_date::text
		FROM appointments
		WHERE appointment_id = $1 AND department_id = $2
	`, input.AppointmentID, input.DepartmentID)
	if err := row.Scan(&status, &date); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.ErrAppointmentNotFound
		}
		return err
	}
	if status != models.StatusPending {
		return invalidTransition("check_in", status)
	}
	if date != today {
		return store.ErrNotToday
	}
	return store.ErrConflict
}

// CallNext selects the department's next checked-in appointment under
// the serving order and marks it serving in one statement. SKIP LOCKED
// keeps two terminals from ever drawing the same record.
func (s *Store) CallNext(ctx context.Context, departmentID string, at time.Time) (models.Appointment, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Appointment{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if at.IsZero() {
		at = time.Now().UTC()
	}

	row := tx.QueryRow(ctx, `
		WITH next_appointment AS (
			SELECT appointment_id
			FROM appointments
			WHERE department_id = $1 AND status = 'checked_in'
			ORDER BY is_priority DESC, checked_in_at ASC,
				length(ticket_number) ASC, ticket_number ASC
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		UPDATE appointments
		SET status = 'serving',
			serving_started_at = $2
		FROM next_appointment
		WHERE appointments.appointment_id = next_appointment.appointment_id
		RETURNING `+appointmentColumns+`
	`, departmentID, at)

	appt, err := scanAppointment(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			if err = tx.Commit(ctx); err != nil {
				return models.Appointment{}, err
			}
			return models.Appointment{}, store.ErrNoAppointment
		}
		return models.Appointment{}, err
	}

	if err = insertOutboxEvent(ctx, tx, "appointment.serving", departmentID, appt); err != nil {
		return models.Appointment{}, err
	}
	if err = tx.Commit(ctx); err != nil {
		return models.Appointment{}, err
	}
	return appt, nil
}

// CallAppointment serves the specific candidate a terminal picked from
// its local ordering. The update is conditional on the record still
// being checked in; losing that race returns ErrConflict and the
// terminal retries against its next candidate.
func (s *Store) CallAppointment(ctx context.Context, input store.ActionInput) (models.Appointment, error) {
	return s.conditionalUpdate(ctx, input, "appointment.serving", func(tx pgx.Tx) (models.Appointment, error) {
		row := tx.QueryRow(ctx, `
			UPDATE appointments
			SET status = 'serving',
				serving_started_at = $3
			WHERE appointment_id = $1 AND department_id = $2 AND status = 'checked_in'
			RETURNING `+appointmentColumns+`
		`, input.AppointmentID, input.DepartmentID, input.OccurredAt)
		appt, err := scanAppointment(row)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return models.Appointment{}, s.classifyFailure(ctx, tx, input, "call")
			}
			return models.Appointment{}, err
		}
		return appt, nil
	})
}

func (s *Store) Complete(ctx context.Context, input store.ActionInput) (models.Appointment, error) {
	return s.conditionalUpdate(ctx, input, "appointment.completed", func(tx pgx.Tx) (models.Appointment, error) {
		row := tx.QueryRow(ctx, `
			UPDATE appointments
			SET status = 'completed',
				completed_at = $3
			WHERE appointment_id = $1 AND department_id = $2 AND status = 'serving'
			RETURNING `+appointmentColumns+`
		`, input.AppointmentID, input.DepartmentID, input.OccurredAt)
		appt, err := scanAppointment(row)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return models.Appointment{}, s.classifyFailure(ctx, tx, input, "complete")
			}
			return models.Appointment{}, err
		}
		return appt, nil
	})
}

func (s *Store) NoShow(ctx context.Context, input store.ActionInput) (models.Appointment, error) {
	return s.conditionalUpdate(ctx, input, "appointment.no_show", func(tx pgx.Tx) (models.Appointment, error) {
		row := tx.QueryRow(ctx, `
			UPDATE appointments
			SET status = 'no_show'
			WHERE appointment_id = $1 AND department_id = $2 AND status = 'checked_in'
			RETURNING `+appointmentColumns+`
		`, input.AppointmentID, input.DepartmentID)
		appt, err := scanAppointment(row)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return models.Appointment{}, s.classifyFailure(ctx, tx, input, "no_show")
			}
			return models.Appointment{}, err
		}
		return appt, nil
	})
}

func (s *Store) Cancel(ctx context.Context, input store.ActionInput) (models.Appointment, error) {
	return s.conditionalUpdate(ctx, input, "appointment.cancelled", func(tx pgx.Tx) (models.Appointment, error) {
		row := tx.QueryRow(ctx, `
			UPDATE appointments
			SET status = 'cancelled',
				cancelled_at = $3
			WHERE appointment_id = $1 AND department_id = $2 AND status = 'pending'
			RETURNING `+appointmentColumns+`
		`, input.AppointmentID, input.DepartmentID, input.OccurredAt)
		appt, err := scanAppointment(row)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return models.Appointment{}, s.classifyFailure(ctx, tx, input, "cancel")
			}
			return models.Appointment{}, err
		}
		return appt, nil
	})
}

func (s *Store) SetPriority(ctx context.Context, input store.ActionInput, priority bool) (models.Appointment, error) {
	return s.conditionalUpdate(ctx, input, "appointment.priority", func(tx pgx.Tx) (models.Appointment, error) {
		row := tx.QueryRow(ctx, `
			UPDATE appointments
			SET is_priority = $3
			WHERE appointment_id = $1 AND department_id = $2
				AND status IN ('pending', 'checked_in')
			RETURNING `+appointmentColumns+`
		`, input.AppointmentID, input.DepartmentID, priority)
		appt, err := scanAppointment(row)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return models.Appointment{}, s.classifyFailure(ctx, tx, input, "priority")
			}
			return models.Appointment{}, err
		}
		return appt, nil
	})
}

// Transfer moves a non-terminal appointment to another department's
// queue: the record re-enters as pending with a fresh ticket drawn from
// the destination's sequence, and service timestamps are cleared.
func (s *Store) Transfer(ctx context.Context, input store.TransferInput) (models.Appointment, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Appointment{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	dest, err := lockDepartment(ctx, tx, input.ToDepartmentID)
	if err != nil {
		return models.Appointment{}, err
	}

	var status, date string
	row := tx.QueryRow(ctx, `
		SELECT status, appointment_date::text
		FROM appointments
		WHERE appointment_id = $1 AND department_id = $2
		FOR UPDATE
	`, input.AppointmentID, input.FromDepartmentID)
	if err = row.Scan(&status, &date); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Appointment{}, store.ErrAppointmentNotFound
		}
		return models.Appointment{}, err
	}
	if !store.ValidTransition("transfer", status) {
		err = invalidTransition("transfer", status)
		return models.Appointment{}, err
	}

	number, err := allocateTicket(ctx, tx, dest, date)
	if err != nil {
		return models.Appointment{}, err
	}

	row = tx.QueryRow(ctx, `
		UPDATE appointments
		SET department_id = $3,
			status = 'pending',
			ticket_number = $4,
			slot_start = NULL,
			slot_end = NULL,
			checked_in_at = NULL,
			serving_started_at = NULL
		WHERE appointment_id = $1 AND department_id = $2
			AND status IN ('pending', 'checked_in', 'serving')
		RETURNING `+appointmentColumns+`
	`, input.AppointmentID, input.FromDepartmentID, input.ToDepartmentID, number)
	appt, err := scanAppointment(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = store.ErrConflict
		}
		return models.Appointment{}, err
	}

	// Both queues changed: the source lost the record, the destination
	// gained it.
	if err = insertOutboxEvent(ctx, tx, "appointment.transferred", input.FromDepartmentID, appt); err != nil {
		return models.Appointment{}, err
	}
	if err = insertOutboxEvent(ctx, tx, "appointment.transferred", input.ToDepartmentID, appt); err != nil {
		return models.Appointment{}, err
	}
	if err = tx.Commit(ctx); err != nil {
		return models.Appointment{}, err
	}
	return appt, nil
}

// Reschedule moves a pending appointment to a new date or slot after
// re-running the full admission check for the target. A date change
// draws a new ticket so uniqueness within (department, date) holds.
func (s *Store) Reschedule(ctx context.Context, input store.RescheduleInput) (models.Appointment, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Appointment{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	dept, err := lockDepartment(ctx, tx, input.DepartmentID)
	if err != nil {
		return models.Appointment{}, err
	}

	var status, oldDate, number string
	row := tx.QueryRow(ctx, `
		SELECT status, appointment_date::text, ticket_number
		FROM appointments
		WHERE appointment_id = $1 AND department_id = $2
		FOR UPDATE
	`, input.AppointmentID, input.DepartmentID)
	if err = row.Scan(&status, &oldDate, &number); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Appointment{}, store.ErrAppointmentNotFound
		}
		return models.Appointment{}, err
	}
	if status != models.StatusPending {
		err = invalidTransition("reschedule", status)
		return models.Appointment{}, err
	}

	occurredAt := input.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}
	targetDate, err := time.Parse(models.DateLayout, input.Date)
	if err != nil {
		return models.Appointment{}, fmt.Errorf("invalid appointment date %q: %w", input.Date, err)
	}

	facts := admission.Facts{Department: dept}
	if facts.DateClosed, err = dateClosed(ctx, tx, input.DepartmentID, input.Date); err != nil {
		return models.Appointment{}, err
	}
	if facts.DailyCount, err = countDaily(ctx, tx, input.DepartmentID, input.Date, input.AppointmentID); err != nil {
		return models.Appointment{}, err
	}

	var slotStart, slotEnd *string
	hasSlot := input.SlotID != ""
	if hasSlot {
		slot, err2 := getActiveSlot(ctx, tx, input.DepartmentID, input.SlotID)
		if err2 != nil {
			err = err2
			return models.Appointment{}, err
		}
		facts.SlotMax = slot.MaxAppointments
		if facts.SlotCount, err = countSlot(ctx, tx, input.DepartmentID, input.Date, slot.SlotStart, input.AppointmentID); err != nil {
			return models.Appointment{}, err
		}
		slotStart = &slot.SlotStart
		slotEnd = &slot.SlotEnd
	}

	if err = admission.Check(admission.Request{
		Date:    targetDate,
		Today:   occurredAt,
		HasSlot: hasSlot,
	}, facts); err != nil {
		return models.Appointment{}, err
	}

	if input.Date != oldDate {
		if number, err = allocateTicket(ctx, tx, dept, input.Date); err != nil {
			return models.Appointment{}, err
		}
	}

	row = tx.QueryRow(ctx, `
		UPDATE appointments
		SET appointment_date = $3::date,
			slot_start = $4,
			slot_end = $5,
			ticket_number = $6
		WHERE appointment_id = $1 AND department_id = $2 AND status = 'pending'
		RETURNING `+appointmentColumns+`
	`, input.AppointmentID, input.DepartmentID, input.Date, slotStart, slotEnd, number)
	appt, err := scanAppointment(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = store.ErrConflict
		}
		return models.Appointment{}, err
	}

	if err = insertOutboxEvent(ctx, tx, "appointment.rescheduled", input.DepartmentID, appt); err != nil {
		return models.Appointment{}, err
	}
	if err = tx.Commit(ctx); err != nil {
		return models.Appointment{}, err
	}
	return appt, nil
}

func (s *Store) ListOutboxEvents(ctx context.Context, after time.Time, limit int) ([]store.OutboxEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT event_id, department_id, type, payload_json, created_at
		FROM outbox_events
		WHERE created_at > $1
		ORDER BY created_at ASC
		LIMIT $2
	`, after, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []store.OutboxEvent
	for rows.Next() {
		var event store.OutboxEvent
		if err := rows.Scan(&event.EventID, &event.DepartmentID, &event.Type, &event.Payload, &event.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

// conditionalUpdate wraps a single-record transition in a transaction
// with its outbox event. The mutation itself stays conditional on the
// expected prior status; the helper only adds the event write.
func (s *Store) conditionalUpdate(ctx context.Context, input store.ActionInput, eventType string, apply func(pgx.Tx) (models.Appointment, error)) (models.Appointment, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Appointment{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	appt, err := apply(tx)
	if err != nil {
		return models.Appointment{}, err
	}

	if err = insertOutboxEvent(ctx, tx, eventType, input.DepartmentID, appt); err != nil {
		return models.Appointment{}, err
	}
	if err = tx.Commit(ctx); err != nil {
		return models.Appointment{}, err
	}
	return appt, nil
}

// classifyFailure turns a no-rows conditional update into the typed
// error the caller needs: the record is missing, the action was never
// legal from its status, or another terminal won the race.
func (s *Store) classifyFailure(ctx context.Context, tx pgx.Tx, input store.ActionInput, action string) error {
	var status string
	row := tx.QueryRow(ctx, `
		SELECT status
		FROM appointments
		WHERE appointment_id = $1 AND department_id = $2
	`, input.AppointmentID, input.DepartmentID)
	if err := row.Scan(&status); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.ErrAppointmentNotFound
		}
		return err
	}
	if action == "call" && status != models.StatusPending {
		// The candidate was checked in when the terminal picked it;
		// any other status now means a concurrent terminal moved it.
		return store.ErrConflict
	}
	if store.ValidTransition(action, status) {
		return store.ErrConflict
	}
	return invalidTransition(action, status)
}

// invalidTransition wraps the sentinel with the action's accepted
// statuses so the rejection says what would have been legal.
func invalidTransition(action, status string) error {
	return fmt.Errorf("%w: %s from %s, allowed from %s",
		store.ErrInvalidTransition, action, status,
		strings.Join(store.AllowedFrom(action), ", "))
}

func lockDepartment(ctx context.Context, tx pgx.Tx, departmentID string) (models.Department, error) {
	row := tx.QueryRow(ctx, `
		SELECT `+departmentColumns+`
		FROM departments
		WHERE department_id = $1
		FOR UPDATE
	`, departmentID)
	dept, err := scanDepartment(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Department{}, store.ErrDepartmentNotFound
		}
		return models.Department{}, err
	}
	return dept, nil
}

func findByRequestID(ctx context.Context, tx pgx.Tx, requestID string) (models.Appointment, bool, error) {
	row := tx.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE request_id = $1
	`, requestID)
	appt, err := scanAppointment(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Appointment{}, false, nil
		}
		return models.Appointment{}, false, err
	}
	return appt, true, nil
}

func dateClosed(ctx context.Context, tx pgx.Tx, departmentID, date string) (bool, error) {
	var closed bool
	row := tx.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM closed_dates
			WHERE department_id = $1 AND closed_date = $2::date
		)
	`, departmentID, date)
	if err := row.Scan(&closed); err != nil {
		return false, err
	}
	return closed, nil
}

func countDaily(ctx context.Context, tx pgx.Tx, departmentID, date, excludeID string) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM appointments
		WHERE department_id = $1 AND appointment_date = $2::date
			AND status <> 'cancelled'
	`
	args := []interface{}{departmentID, date}
	if excludeID != "" {
		args = append(args, excludeID)
		query += fmt.Sprintf(" AND appointment_id <> $%d", len(args))
	}
	var count int
	if err := tx.QueryRow(ctx, query, args...).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

func countSlot(ctx context.Context, tx pgx.Tx, departmentID, date, slotStart, excludeID string) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM appointments
		WHERE department_id = $1 AND appointment_date = $2::date
			AND slot_start = $3
			AND status <> 'cancelled'
	`
	args := []interface{}{departmentID, date, slotStart}
	if excludeID != "" {
		args = append(args, excludeID)
		query += fmt.Sprintf(" AND appointment_id <> $%d", len(args))
	}
	var count int
	if err := tx.QueryRow(ctx, query, args...).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

func getActiveSlot(ctx context.Context, tx pgx.Tx, departmentID, slotID string) (models.TimeSlot, error) {
	row := tx.QueryRow(ctx, `
		SELECT slot_id, department_id, slot_start, slot_end, max_appointments, days_of_week, active
		FROM time_slots
		WHERE slot_id = $1 AND department_id = $2 AND active = TRUE
	`, slotID, departmentID)
	slot, err := scanSlot(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.TimeSlot{}, store.ErrSlotNotFound
		}
		return models.TimeSlot{}, err
	}
	return slot, nil
}

// allocateTicket draws the next per-department per-date sequence value.
// The upsert makes allocation and the surrounding insert a single
// atomic unit; the unique ticket index backs it up.
func allocateTicket(ctx context.Context, tx pgx.Tx, dept models.Department, date string) (string, error) {
	var next int64
	row := tx.QueryRow(ctx, `
		INSERT INTO ticket_sequences (department_id, for_date, next_number)
		VALUES ($1, $2::date, 1)
		ON CONFLICT (department_id, for_date)
		DO UPDATE SET next_number = ticket_sequences.next_number + 1
		RETURNING next_number
	`, dept.DepartmentID, date)
	if err := row.Scan(&next); err != nil {
		return "", err
	}
	return ticket.Format(ticket.Initial(dept.Name), next), nil
}

func insertOutboxEvent(ctx context.Context, tx pgx.Tx, eventType, departmentID string, appt models.Appointment) error {
	payload, err := json.Marshal(map[string]interface{}{
		"appointment_id":   appt.AppointmentID,
		"ticket_number":    appt.TicketNumber,
		"status":           appt.Status,
		"department_id":    departmentID,
		"appointment_date": appt.AppointmentDate,
	})
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO outbox_events (event_id, department_id, type, payload_json, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, uuid.NewString(), departmentID, eventType, payload, time.Now().UTC())
	return err
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanDepartment(row rowScanner) (models.Department, error) {
	var dept models.Department
	var lunchStart, lunchEnd sql.NullString
	if err := row.Scan(&dept.DepartmentID, &dept.Name, &dept.DisplayOrder, &dept.Active,
		&dept.OperatingStart, &dept.OperatingEnd, &lunchStart, &lunchEnd,
		&dept.CanReceiveAppointments, &dept.AllowWalkIns, &dept.DailyAppointmentLimit,
		&dept.AllowSameDay, &dept.MinDaysAdvance, &dept.MaxDaysAdvance, &dept.RequireQRCheckin); err != nil {
		return models.Department{}, err
	}
	dept.LunchStart = lunchStart.String
	dept.LunchEnd = lunchEnd.String
	return dept, nil
}

func scanSlot(row rowScanner) (models.TimeSlot, error) {
	var slot models.TimeSlot
	var days []int32
	if err := row.Scan(&slot.SlotID, &slot.DepartmentID, &slot.SlotStart, &slot.SlotEnd,
		&slot.MaxAppointments, &days, &slot.Active); err != nil {
		return models.TimeSlot{}, err
	}
	slot.DaysOfWeek = fromInt32(days)
	return slot, nil
}

func scanAppointment(row rowScanner) (models.Appointment, error) {
	var appt models.Appointment
	var citizenID, slotStart, slotEnd sql.NullString
	var checkedInAt, servingStartedAt, completedAt, cancelledAt sql.NullTime
	if err := row.Scan(&appt.AppointmentID, &appt.RequestID, &appt.DepartmentID,
		&citizenID, &appt.CitizenName, &appt.AppointmentDate, &slotStart, &slotEnd,
		&appt.Status, &appt.TicketNumber, &appt.Purpose, &appt.IsWalkIn, &appt.IsPriority,
		&appt.CreatedAt, &checkedInAt, &servingStartedAt, &completedAt, &cancelledAt); err != nil {
		return models.Appointment{}, err
	}
	appt.CitizenID = nullStringPtr(citizenID)
	appt.SlotStart = nullStringPtr(slotStart)
	appt.SlotEnd = nullStringPtr(slotEnd)
	appt.CheckedInAt = nullTimePtr(checkedInAt)
	appt.ServingStartedAt = nullTimePtr(servingStartedAt)
	appt.CompletedAt = nullTimePtr(completedAt)
	appt.CancelledAt = nullTimePtr(cancelledAt)
	return appt, nil
}

func nullIfEmpty(value string) interface{} {
	if value == "" {
		return nil
	}
	return value
}

func nullStringPtr(value sql.NullString) *string {
	if !value.Valid {
		return nil
	}
	v := value.String
	return &v
}

func nullTimePtr(value sql.NullTime) *time.Time {
	if !value.Valid {
		return nil
	}
	v := value.Time
	return &v
}

func hashPhone(phone string) interface{} {
	if phone == "" {
		return nil
	}
	sum := sha256.Sum256([]byte(phone))
	return fmt.Sprintf("%x", sum)
}

func toInt32(values []int) []int32 {
	out := make([]int32, len(values))
	for i, v := range values {
		out[i] = int32(v)
	}
	return out
}

func fromInt32(values []int32) []int {
	out := make([]int, len(values))
	for i, v := range values {
		out[i] = int(v)
	}
	return out
}
