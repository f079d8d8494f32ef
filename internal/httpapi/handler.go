package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"cityhall/appointment-service/internal/admission"
	"cityhall/appointment-service/internal/metrics"
	"cityhall/appointment-service/internal/models"
	"cityhall/appointment-service/internal/queue"
	"cityhall/appointment-service/internal/slots"
	"cityhall/appointment-service/internal/store"

	"github.com/google/uuid"
	qrcode "github.com/skip2/go-qrcode"
)

type Handler struct {
	store store.Store
}

func NewHandler(store store.Store) *Handler {
	return &Handler{store: store}
}

func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.handleHealth)
	mux.HandleFunc("/api/appointments", h.handleAppointments)
	mux.HandleFunc("/api/appointments/", h.handleAppointmentSubroutes)
	mux.HandleFunc("/api/departments", h.handleDepartments)
	mux.HandleFunc("/api/departments/", h.handleDepartmentSubroutes)
	mux.HandleFunc("/api/slots/", h.handleSlot)
	mux.HandleFunc("/api/closed-dates/", h.handleClosedDate)
	mux.HandleFunc("/api/events", h.handleEvents)
	return mux
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	w.WriteHeader(http.StatusOK)
}

type createAppointmentRequest struct {
	RequestID    string `json:"request_id"`
	DepartmentID string `json:"department_id"`
	CitizenID    string `json:"citizen_id"`
	CitizenName  string `json:"citizen_name"`
	CitizenPhone string `json:"citizen_phone"`
	Purpose      string `json:"purpose"`
	Date         string `json:"date"`
	SlotID       string `json:"slot_id"`
	IsWalkIn     bool   `json:"is_walk_in"`
	IsPriority   bool   `json:"is_priority"`
}

func (h *Handler) handleAppointments(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req createAppointmentRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, req.RequestID, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}

	req.RequestID = strings.TrimSpace(req.RequestID)
	req.DepartmentID = strings.TrimSpace(req.DepartmentID)
	req.CitizenID = strings.TrimSpace(req.CitizenID)
	req.CitizenName = strings.TrimSpace(req.CitizenName)
	req.CitizenPhone = strings.TrimSpace(req.CitizenPhone)
	req.Purpose = strings.TrimSpace(req.Purpose)
	req.Date = strings.TrimSpace(req.Date)
	req.SlotID = strings.TrimSpace(req.SlotID)

	if req.RequestID == "" || req.DepartmentID == "" || req.CitizenName == "" {
		writeError(w, req.RequestID, http.StatusBadRequest, "invalid_request", "request_id, department_id, and citizen_name are required")
		return
	}
	if !isValidUUID(req.RequestID) || !isValidUUID(req.DepartmentID) {
		writeError(w, req.RequestID, http.StatusBadRequest, "invalid_request", "request_id and department_id must be UUIDs")
		return
	}
	if req.CitizenID != "" && !isValidUUID(req.CitizenID) {
		writeError(w, req.RequestID, http.StatusBadRequest, "invalid_request", "citizen_id must be a UUID when provided")
		return
	}
	if req.SlotID != "" && !isValidUUID(req.SlotID) {
		writeError(w, req.RequestID, http.StatusBadRequest, "invalid_request", "slot_id must be a UUID when provided")
		return
	}
	if !req.IsWalkIn {
		if req.Date == "" {
			writeError(w, req.RequestID, http.StatusBadRequest, "invalid_request", "date is required for scheduled appointments")
			return
		}
		if !isValidDate(req.Date) {
			writeError(w, req.RequestID, http.StatusBadRequest, "invalid_request", "date must be YYYY-MM-DD")
			return
		}
	}

	appt, created, err := h.store.CreateAppointment(r.Context(), store.CreateAppointmentInput{
		RequestID:    req.RequestID,
		DepartmentID: req.DepartmentID,
		CitizenID:    req.CitizenID,
		CitizenName:  req.CitizenName,
		CitizenPhone: req.CitizenPhone,
		Purpose:      req.Purpose,
		Date:         req.Date,
		SlotID:       req.SlotID,
		IsWalkIn:     req.IsWalkIn,
		IsPriority:   req.IsPriority,
		CreatedAt:    time.Now().UTC(),
	})
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, req.RequestID, status, code, msg)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, appt)
}

func (h *Handler) handleAppointmentSubroutes(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/appointments/")
	parts := strings.Split(strings.Trim(path, "/"), "/")

	appointmentID := parts[0]
	if !isValidUUID(appointmentID) {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "appointment_id must be a UUID")
		return
	}

	switch {
	case len(parts) == 1:
		h.handleGetAppointment(w, r, appointmentID)
	case len(parts) == 2 && parts[1] == "qr":
		h.handleAppointmentQR(w, r, appointmentID)
	case len(parts) == 3 && parts[1] == "actions":
		h.handleAppointmentAction(w, r, appointmentID, parts[2])
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) handleGetAppointment(w http.ResponseWriter, r *http.Request, appointmentID string) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	appt, err := h.store.GetAppointment(r.Context(), appointmentID)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, "", status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, appt)
}

// handleAppointmentQR renders the check-in code citizens present at the
// hall kiosk. The encoded value is the appointment ID itself.
func (h *Handler) handleAppointmentQR(w http.ResponseWriter, r *http.Request, appointmentID string) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	appt, err := h.store.GetAppointment(r.Context(), appointmentID)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, "", status, code, msg)
		return
	}
	png, err := qrcode.Encode(appt.AppointmentID, qrcode.Medium, 256)
	if err != nil {
		writeError(w, "", http.StatusInternalServerError, "internal_error", "internal server error")
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(png)
}

type appointmentActionRequest struct {
	RequestID    string `json:"request_id"`
	DepartmentID string `json:"department_id"`
	Code         string `json:"code"`
}

type transferRequest struct {
	RequestID      string `json:"request_id"`
	DepartmentID   string `json:"department_id"`
	ToDepartmentID string `json:"to_department_id"`
}

type priorityRequest struct {
	RequestID    string `json:"request_id"`
	DepartmentID string `json:"department_id"`
	Priority     bool   `json:"priority"`
}

type rescheduleRequest struct {
	RequestID    string `json:"request_id"`
	DepartmentID string `json:"department_id"`
	Date         string `json:"date"`
	SlotID       string `json:"slot_id"`
}

func (h *Handler) handleAppointmentAction(w http.ResponseWriter, r *http.Request, appointmentID, action string) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	switch action {
	case "check-in":
		h.handleCheckIn(w, r, appointmentID)
	case "call":
		h.handleCall(w, r, appointmentID)
	case "complete":
		h.handleSimpleAction(w, r, appointmentID, h.store.Complete)
	case "no-show":
		h.handleSimpleAction(w, r, appointmentID, h.store.NoShow)
	case "cancel":
		h.handleSimpleAction(w, r, appointmentID, h.store.Cancel)
	case "priority":
		h.handlePriority(w, r, appointmentID)
	case "transfer":
		h.handleTransfer(w, r, appointmentID)
	case "reschedule":
		h.handleReschedule(w, r, appointmentID)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) handleCheckIn(w http.ResponseWriter, r *http.Request, appointmentID string) {
	var req appointmentActionRequest
	if !decodeAction(w, r, &req) {
		return
	}

	dept, err := h.store.GetDepartment(r.Context(), req.DepartmentID)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, req.RequestID, status, code, msg)
		return
	}
	if dept.RequireQRCheckin && strings.TrimSpace(req.Code) != appointmentID {
		writeError(w, req.RequestID, http.StatusConflict, "qr_code_required", "a valid check-in code is required for this department")
		return
	}

	appt, err := h.store.CheckIn(r.Context(), store.ActionInput{
		DepartmentID:  req.DepartmentID,
		AppointmentID: appointmentID,
		OccurredAt:    time.Now().UTC(),
	})
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, req.RequestID, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, appt)
}

func (h *Handler) handleCall(w http.ResponseWriter, r *http.Request, appointmentID string) {
	var req appointmentActionRequest
	if !decodeAction(w, r, &req) {
		return
	}

	appt, err := h.store.CallAppointment(r.Context(), store.ActionInput{
		DepartmentID:  req.DepartmentID,
		AppointmentID: appointmentID,
		OccurredAt:    time.Now().UTC(),
	})
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, req.RequestID, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, appt)
}

func (h *Handler) handleSimpleAction(w http.ResponseWriter, r *http.Request, appointmentID string, apply func(ctx context.Context, input store.ActionInput) (models.Appointment, error)) {
	var req appointmentActionRequest
	if !decodeAction(w, r, &req) {
		return
	}

	appt, err := apply(r.Context(), store.ActionInput{
		DepartmentID:  req.DepartmentID,
		AppointmentID: appointmentID,
		OccurredAt:    time.Now().UTC(),
	})
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, req.RequestID, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, appt)
}

func (h *Handler) handlePriority(w http.ResponseWriter, r *http.Request, appointmentID string) {
	var req priorityRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, "", http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}
	req.RequestID = strings.TrimSpace(req.RequestID)
	req.DepartmentID = strings.TrimSpace(req.DepartmentID)
	if !validActionIDs(w, req.RequestID, req.DepartmentID) {
		return
	}

	appt, err := h.store.SetPriority(r.Context(), store.ActionInput{
		DepartmentID:  req.DepartmentID,
		AppointmentID: appointmentID,
		OccurredAt:    time.Now().UTC(),
	}, req.Priority)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, req.RequestID, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, appt)
}

func (h *Handler) handleTransfer(w http.ResponseWriter, r *http.Request, appointmentID string) {
	var req transferRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, "", http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}
	req.RequestID = strings.TrimSpace(req.RequestID)
	req.DepartmentID = strings.TrimSpace(req.DepartmentID)
	req.ToDepartmentID = strings.TrimSpace(req.ToDepartmentID)
	if !validActionIDs(w, req.RequestID, req.DepartmentID) {
		return
	}
	if req.ToDepartmentID == "" || !isValidUUID(req.ToDepartmentID) {
		writeError(w, req.RequestID, http.StatusBadRequest, "invalid_request", "to_department_id must be a UUID")
		return
	}
	if req.ToDepartmentID == req.DepartmentID {
		writeError(w, req.RequestID, http.StatusBadRequest, "invalid_request", "to_department_id must differ from department_id")
		return
	}

	appt, err := h.store.Transfer(r.Context(), store.TransferInput{
		AppointmentID:    appointmentID,
		FromDepartmentID: req.DepartmentID,
		ToDepartmentID:   req.ToDepartmentID,
		OccurredAt:       time.Now().UTC(),
	})
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, req.RequestID, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, appt)
}

func (h *Handler) handleReschedule(w http.ResponseWriter, r *http.Request, appointmentID string) {
	var req rescheduleRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, "", http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}
	req.RequestID = strings.TrimSpace(req.RequestID)
	req.DepartmentID = strings.TrimSpace(req.DepartmentID)
	req.Date = strings.TrimSpace(req.Date)
	req.SlotID = strings.TrimSpace(req.SlotID)
	if !validActionIDs(w, req.RequestID, req.DepartmentID) {
		return
	}
	if req.Date == "" || !isValidDate(req.Date) {
		writeError(w, req.RequestID, http.StatusBadRequest, "invalid_request", "date must be YYYY-MM-DD")
		return
	}
	if req.SlotID != "" && !isValidUUID(req.SlotID) {
		writeError(w, req.RequestID, http.StatusBadRequest, "invalid_request", "slot_id must be a UUID when provided")
		return
	}

	appt, err := h.store.Reschedule(r.Context(), store.RescheduleInput{
		AppointmentID: appointmentID,
		DepartmentID:  req.DepartmentID,
		Date:          req.Date,
		SlotID:        req.SlotID,
		OccurredAt:    time.Now().UTC(),
	})
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, req.RequestID, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, appt)
}

func (h *Handler) handleDepartments(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	departments, err := h.store.ListDepartments(r.Context())
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, "", status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, departments)
}

func (h *Handler) handleDepartmentSubroutes(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/departments/")
	parts := strings.Split(strings.Trim(path, "/"), "/")

	departmentID := parts[0]
	if !isValidUUID(departmentID) {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "department_id must be a UUID")
		return
	}

	switch {
	case len(parts) == 1:
		h.handleDepartment(w, r, departmentID)
	case len(parts) == 2 && parts[1] == "call-next":
		h.handleCallNext(w, r, departmentID)
	case len(parts) == 2 && parts[1] == "queue":
		h.handleQueue(w, r, departmentID)
	case len(parts) == 2 && parts[1] == "metrics":
		h.handleMetrics(w, r, departmentID)
	case len(parts) == 2 && parts[1] == "appointments":
		h.handleListAppointments(w, r, departmentID)
	case len(parts) == 2 && parts[1] == "slots":
		h.handleSlots(w, r, departmentID)
	case len(parts) == 3 && parts[1] == "slots" && parts[2] == "generate":
		h.handleGenerateSlots(w, r, departmentID)
	case len(parts) == 2 && parts[1] == "closed-dates":
		h.handleClosedDates(w, r, departmentID)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) handleDepartment(w http.ResponseWriter, r *http.Request, departmentID string) {
	switch r.Method {
	case http.MethodGet:
		dept, err := h.store.GetDepartment(r.Context(), departmentID)
		if err != nil {
			status, code, msg := mapError(err)
			writeError(w, "", status, code, msg)
			return
		}
		writeJSON(w, http.StatusOK, dept)
	case http.MethodPut:
		h.handleUpdateDepartment(w, r, departmentID)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

type updateDepartmentRequest struct {
	Name                   string `json:"name"`
	DisplayOrder           int    `json:"display_order"`
	Active                 bool   `json:"active"`
	OperatingStart         string `json:"operating_start"`
	OperatingEnd           string `json:"operating_end"`
	LunchStart             string `json:"lunch_start"`
	LunchEnd               string `json:"lunch_end"`
	CanReceiveAppointments bool   `json:"can_receive_appointments"`
	AllowWalkIns           bool   `json:"allow_walk_ins"`
	DailyAppointmentLimit  int    `json:"daily_appointment_limit"`
	AllowSameDay           bool   `json:"allow_same_day"`
	MinDaysAdvance         int    `json:"min_days_advance"`
	MaxDaysAdvance         int    `json:"max_days_advance"`
	RequireQRCheckin       bool   `json:"require_qr_checkin"`
}

func (h *Handler) handleUpdateDepartment(w http.ResponseWriter, r *http.Request, departmentID string) {
	var req updateDepartmentRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, "", http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}

	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "name is required")
		return
	}
	if !isValidClock(req.OperatingStart) || !isValidClock(req.OperatingEnd) {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "operating_start and operating_end must be HH:MM")
		return
	}
	if (req.LunchStart == "") != (req.LunchEnd == "") {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "lunch_start and lunch_end must be set together")
		return
	}
	if req.LunchStart != "" && (!isValidClock(req.LunchStart) || !isValidClock(req.LunchEnd)) {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "lunch_start and lunch_end must be HH:MM")
		return
	}
	if req.DailyAppointmentLimit < 0 || req.MinDaysAdvance < 0 || req.MaxDaysAdvance < 0 {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "limits must be non-negative")
		return
	}

	dept, err := h.store.UpdateDepartment(r.Context(), models.Department{
		DepartmentID:           departmentID,
		Name:                   req.Name,
		DisplayOrder:           req.DisplayOrder,
		Active:                 req.Active,
		OperatingStart:         req.OperatingStart,
		OperatingEnd:           req.OperatingEnd,
		LunchStart:             req.LunchStart,
		LunchEnd:               req.LunchEnd,
		CanReceiveAppointments: req.CanReceiveAppointments,
		AllowWalkIns:           req.AllowWalkIns,
		DailyAppointmentLimit:  req.DailyAppointmentLimit,
		AllowSameDay:           req.AllowSameDay,
		MinDaysAdvance:         req.MinDaysAdvance,
		MaxDaysAdvance:         req.MaxDaysAdvance,
		RequireQRCheckin:       req.RequireQRCheckin,
	})
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, "", status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, dept)
}

type callNextRequest struct {
	RequestID string `json:"request_id"`
}

func (h *Handler) handleCallNext(w http.ResponseWriter, r *http.Request, departmentID string) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req callNextRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, req.RequestID, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}
	req.RequestID = strings.TrimSpace(req.RequestID)
	if req.RequestID == "" || !isValidUUID(req.RequestID) {
		writeError(w, req.RequestID, http.StatusBadRequest, "invalid_request", "request_id must be a UUID")
		return
	}

	appt, err := h.store.CallNext(r.Context(), departmentID, time.Now().UTC())
	if err != nil {
		if errors.Is(err, store.ErrNoAppointment) {
			writeError(w, req.RequestID, http.StatusConflict, "queue_empty", "no appointments waiting")
			return
		}
		status, code, msg := mapError(err)
		writeError(w, req.RequestID, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, appt)
}

type queueResponse struct {
	Date         string               `json:"date"`
	Appointments []models.Appointment `json:"appointments"`
	Next         *models.Appointment  `json:"next,omitempty"`
}

// handleQueue returns the day's appointments for a staff display, in
// the requested sort order, plus the candidate call-next would pick.
func (h *Handler) handleQueue(w http.ResponseWriter, r *http.Request, departmentID string) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	date := strings.TrimSpace(r.URL.Query().Get("date"))
	if date == "" {
		date = time.Now().UTC().Format(models.DateLayout)
	} else if !isValidDate(date) {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "date must be YYYY-MM-DD")
		return
	}
	sortKey := queue.ParseSortKey(r.URL.Query().Get("sort"))

	appointments, err := h.store.ListAppointments(r.Context(), store.ListFilter{
		DepartmentID: departmentID,
		DateFrom:     date,
		DateTo:       date,
		Status:       strings.TrimSpace(r.URL.Query().Get("status")),
	})
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, "", status, code, msg)
		return
	}

	resp := queueResponse{Date: date, Appointments: appointments}
	if next, ok := queue.NextCandidate(appointments); ok {
		resp.Next = &next
	}
	queue.SortForDisplay(resp.Appointments, sortKey)
	writeJSON(w, http.StatusOK, resp)
}

type metricsResponse struct {
	DateFrom          string         `json:"date_from"`
	DateTo            string         `json:"date_to"`
	AvgWaitMinutes    int            `json:"avg_wait_minutes"`
	AvgServiceMinutes int            `json:"avg_service_minutes"`
	WaitSamples       int            `json:"wait_samples"`
	ServiceSamples    int            `json:"service_samples"`
	StatusCounts      map[string]int `json:"status_counts"`
}

func (h *Handler) handleMetrics(w http.ResponseWriter, r *http.Request, departmentID string) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	today := time.Now().UTC().Format(models.DateLayout)
	from := strings.TrimSpace(r.URL.Query().Get("date_from"))
	to := strings.TrimSpace(r.URL.Query().Get("date_to"))
	if from == "" {
		from = today
	}
	if to == "" {
		to = today
	}
	if !isValidDate(from) || !isValidDate(to) {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "date_from and date_to must be YYYY-MM-DD")
		return
	}

	appointments, err := h.store.ListAppointments(r.Context(), store.ListFilter{
		DepartmentID: departmentID,
		DateFrom:     from,
		DateTo:       to,
	})
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, "", status, code, msg)
		return
	}

	averages := metrics.Compute(appointments)
	counts := make(map[string]int)
	for _, appt := range appointments {
		counts[appt.Status]++
	}

	writeJSON(w, http.StatusOK, metricsResponse{
		DateFrom:          from,
		DateTo:            to,
		AvgWaitMinutes:    averages.AvgWaitMinutes,
		AvgServiceMinutes: averages.AvgServiceMinutes,
		WaitSamples:       averages.WaitSamples,
		ServiceSamples:    averages.ServiceSamples,
		StatusCounts:      counts,
	})
}

func (h *Handler) handleListAppointments(w http.ResponseWriter, r *http.Request, departmentID string) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	from := strings.TrimSpace(r.URL.Query().Get("date_from"))
	to := strings.TrimSpace(r.URL.Query().Get("date_to"))
	if from != "" && !isValidDate(from) || to != "" && !isValidDate(to) {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "date_from and date_to must be YYYY-MM-DD")
		return
	}

	appointments, err := h.store.ListAppointments(r.Context(), store.ListFilter{
		DepartmentID: departmentID,
		DateFrom:     from,
		DateTo:       to,
		Status:       strings.TrimSpace(r.URL.Query().Get("status")),
	})
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, "", status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, appointments)
}

func (h *Handler) handleSlots(w http.ResponseWriter, r *http.Request, departmentID string) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	list, err := h.store.ListSlots(r.Context(), departmentID)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, "", status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

type generateSlotsRequest struct {
	RequestID       string `json:"request_id"`
	DurationMinutes int    `json:"duration_minutes"`
	MaxAppointments int    `json:"max_appointments"`
	DaysOfWeek      []int  `json:"days_of_week"`
	Confirm         bool   `json:"confirm"`
}

// handleGenerateSlots replaces the department's whole slot table from
// its operating hours. The confirm flag guards against an accidental
// wipe of hand-tuned slots.
func (h *Handler) handleGenerateSlots(w http.ResponseWriter, r *http.Request, departmentID string) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req generateSlotsRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, req.RequestID, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}
	req.RequestID = strings.TrimSpace(req.RequestID)
	if req.RequestID == "" || !isValidUUID(req.RequestID) {
		writeError(w, req.RequestID, http.StatusBadRequest, "invalid_request", "request_id must be a UUID")
		return
	}
	if !req.Confirm {
		writeError(w, req.RequestID, http.StatusConflict, "confirmation_required", "generating slots replaces all existing slots; set confirm to true")
		return
	}
	if req.DurationMinutes <= 0 {
		writeError(w, req.RequestID, http.StatusBadRequest, "invalid_request", "duration_minutes must be positive")
		return
	}
	if req.MaxAppointments <= 0 {
		req.MaxAppointments = 1
	}
	for _, day := range req.DaysOfWeek {
		if day < 0 || day > 6 {
			writeError(w, req.RequestID, http.StatusBadRequest, "invalid_request", "days_of_week values must be 0-6")
			return
		}
	}

	dept, err := h.store.GetDepartment(r.Context(), departmentID)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, req.RequestID, status, code, msg)
		return
	}

	windows, err := slots.Generate(slots.Config{
		OperatingStart:  dept.OperatingStart,
		OperatingEnd:    dept.OperatingEnd,
		LunchStart:      dept.LunchStart,
		LunchEnd:        dept.LunchEnd,
		DurationMinutes: req.DurationMinutes,
	})
	if err != nil {
		writeError(w, req.RequestID, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	created, err := h.store.GenerateSlots(r.Context(), store.GenerateSlotsInput{
		DepartmentID:    departmentID,
		Windows:         windows,
		MaxAppointments: req.MaxAppointments,
		DaysOfWeek:      req.DaysOfWeek,
	})
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, req.RequestID, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, created)
}

type addClosedDateRequest struct {
	Date   string `json:"date"`
	Reason string `json:"reason"`
}

func (h *Handler) handleClosedDates(w http.ResponseWriter, r *http.Request, departmentID string) {
	switch r.Method {
	case http.MethodGet:
		list, err := h.store.ListClosedDates(r.Context(), departmentID)
		if err != nil {
			status, code, msg := mapError(err)
			writeError(w, "", status, code, msg)
			return
		}
		writeJSON(w, http.StatusOK, list)
	case http.MethodPost:
		var req addClosedDateRequest
		decoder := json.NewDecoder(r.Body)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&req); err != nil {
			writeError(w, "", http.StatusBadRequest, "invalid_json", "invalid JSON payload")
			return
		}
		req.Date = strings.TrimSpace(req.Date)
		if !isValidDate(req.Date) {
			writeError(w, "", http.StatusBadRequest, "invalid_request", "date must be YYYY-MM-DD")
			return
		}
		closed, err := h.store.AddClosedDate(r.Context(), models.ClosedDate{
			DepartmentID: departmentID,
			ClosedDate:   req.Date,
			Reason:       strings.TrimSpace(req.Reason),
		})
		if err != nil {
			status, code, msg := mapError(err)
			writeError(w, "", status, code, msg)
			return
		}
		writeJSON(w, http.StatusCreated, closed)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

type updateSlotRequest struct {
	SlotStart       string `json:"slot_start"`
	SlotEnd         string `json:"slot_end"`
	MaxAppointments int    `json:"max_appointments"`
	DaysOfWeek      []int  `json:"days_of_week"`
	Active          bool   `json:"active"`
}

func (h *Handler) handleSlot(w http.ResponseWriter, r *http.Request) {
	slotID := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/slots/"), "/")
	if !isValidUUID(slotID) {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "slot_id must be a UUID")
		return
	}

	switch r.Method {
	case http.MethodPatch:
		var req updateSlotRequest
		decoder := json.NewDecoder(r.Body)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&req); err != nil {
			writeError(w, "", http.StatusBadRequest, "invalid_json", "invalid JSON payload")
			return
		}
		if !isValidClock(req.SlotStart) || !isValidClock(req.SlotEnd) || req.SlotStart >= req.SlotEnd {
			writeError(w, "", http.StatusBadRequest, "invalid_request", "slot_start and slot_end must be HH:MM with slot_start before slot_end")
			return
		}
		if req.MaxAppointments <= 0 {
			writeError(w, "", http.StatusBadRequest, "invalid_request", "max_appointments must be positive")
			return
		}
		slot, err := h.store.UpdateSlot(r.Context(), models.TimeSlot{
			SlotID:          slotID,
			SlotStart:       req.SlotStart,
			SlotEnd:         req.SlotEnd,
			MaxAppointments: req.MaxAppointments,
			DaysOfWeek:      req.DaysOfWeek,
			Active:          req.Active,
		})
		if err != nil {
			status, code, msg := mapError(err)
			writeError(w, "", status, code, msg)
			return
		}
		writeJSON(w, http.StatusOK, slot)
	case http.MethodDelete:
		if err := h.store.DeleteSlot(r.Context(), slotID); err != nil {
			status, code, msg := mapError(err)
			writeError(w, "", status, code, msg)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *Handler) handleClosedDate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	closedDateID := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/closed-dates/"), "/")
	if !isValidUUID(closedDateID) {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "closed_date_id must be a UUID")
		return
	}
	if err := h.store.RemoveClosedDate(r.Context(), closedDateID); err != nil {
		status, code, msg := mapError(err)
		writeError(w, "", status, code, msg)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	afterRaw := strings.TrimSpace(r.URL.Query().Get("after"))
	var after time.Time
	if afterRaw != "" {
		parsed, err := time.Parse(time.RFC3339, afterRaw)
		if err != nil {
			writeError(w, "", http.StatusBadRequest, "invalid_request", "after must be RFC3339 timestamp")
			return
		}
		after = parsed
	}

	limit := 100
	if limitRaw := strings.TrimSpace(r.URL.Query().Get("limit")); limitRaw != "" {
		parsed, err := strconv.Atoi(limitRaw)
		if err != nil || parsed <= 0 {
			writeError(w, "", http.StatusBadRequest, "invalid_request", "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	events, err := h.store.ListOutboxEvents(r.Context(), after, limit)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, "", status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func decodeAction(w http.ResponseWriter, r *http.Request, req *appointmentActionRequest) bool {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(req); err != nil {
		writeError(w, "", http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return false
	}
	req.RequestID = strings.TrimSpace(req.RequestID)
	req.DepartmentID = strings.TrimSpace(req.DepartmentID)
	return validActionIDs(w, req.RequestID, req.DepartmentID)
}

func validActionIDs(w http.ResponseWriter, requestID, departmentID string) bool {
	if requestID == "" || departmentID == "" {
		writeError(w, requestID, http.StatusBadRequest, "invalid_request", "request_id and department_id are required")
		return false
	}
	if !isValidUUID(requestID) || !isValidUUID(departmentID) {
		writeError(w, requestID, http.StatusBadRequest, "invalid_request", "request_id and department_id must be UUIDs")
		return false
	}
	return true
}

func isValidUUID(value string) bool {
	_, err := uuid.Parse(value)
	return err == nil
}

func isValidDate(value string) bool {
	_, err := time.Parse(models.DateLayout, value)
	return err == nil
}

func isValidClock(value string) bool {
	_, err := time.Parse(models.ClockLayout, value)
	return err == nil
}

type errorResponse struct {
	RequestID string        `json:"request_id"`
	Error     responseError `json:"error"`
}

type responseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func mapError(err error) (int, string, string) {
	var rejection *admission.Rejection
	if errors.As(err, &rejection) {
		return http.StatusConflict, string(rejection.Reason), rejection.Error()
	}
	switch {
	case errors.Is(err, store.ErrDepartmentNotFound):
		return http.StatusNotFound, "department_not_found", "department not found"
	case errors.Is(err, store.ErrAppointmentNotFound):
		return http.StatusNotFound, "appointment_not_found", "appointment not found"
	case errors.Is(err, store.ErrSlotNotFound):
		return http.StatusNotFound, "slot_not_found", "time slot not found"
	case errors.Is(err, store.ErrClosedDateNotFound):
		return http.StatusNotFound, "closed_date_not_found", "closed date not found"
	case errors.Is(err, store.ErrNoAppointment):
		return http.StatusConflict, "queue_empty", "no appointments waiting"
	case errors.Is(err, store.ErrInvalidTransition):
		// The store wraps the sentinel with the action's accepted
		// statuses; pass that detail through.
		return http.StatusConflict, "invalid_transition", err.Error()
	case errors.Is(err, store.ErrConflict):
		return http.StatusConflict, "conflict", "appointment was modified by another terminal"
	case errors.Is(err, store.ErrNotToday):
		return http.StatusConflict, "not_today", "check-in is only allowed on the appointment date"
	default:
		return http.StatusInternalServerError, "internal_error", "internal server error"
	}
}

func writeError(w http.ResponseWriter, requestID string, status int, code, message string) {
	writeJSON(w, status, errorResponse{
		RequestID: requestID,
		Error: responseError{
			Code:    code,
			Message: message,
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}
