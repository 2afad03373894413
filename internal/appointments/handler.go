package appointments

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/carelane/clinic-api/internal/availability"
	"github.com/carelane/clinic-api/internal/catalog"
	"github.com/carelane/clinic-api/internal/tokens"
	"github.com/carelane/clinic-api/pkg/logging"
)

// Handler serves the guest-facing booking endpoints.
type Handler struct {
	svc    *Service
	logger *logging.Logger
}

// NewHandler creates a guest booking handler.
func NewHandler(svc *Service, logger *logging.Logger) *Handler {
	if svc == nil {
		panic("appointments: service required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{svc: svc, logger: logger}
}

type bookingResponse struct {
	AppointmentID   string `json:"appointmentId"`
	Status          string `json:"status"`
	StartAt         string `json:"startAt"`
	EndAt           string `json:"endAt"`
	CancelToken     string `json:"cancelToken"`
	RescheduleToken string `json:"rescheduleToken"`
	Username        string `json:"username,omitempty"`
	Password        string `json:"password,omitempty"`
}

// CreateBooking handles POST /appointments.
func (h *Handler) CreateBooking(w http.ResponseWriter, r *http.Request) {
	var req CreateBookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := h.svc.CreateBooking(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	resp := bookingResponse{
		AppointmentID:   result.Appointment.ID.String(),
		Status:          string(result.Appointment.Status),
		StartAt:         result.Appointment.StartAt.Format(clinicLocalLayout),
		EndAt:           result.Appointment.EndAt.Format(clinicLocalLayout),
		CancelToken:     result.Tokens.Cancel,
		RescheduleToken: result.Tokens.Reschedule,
	}
	if result.Credentials != nil {
		resp.Username = result.Credentials.Username
		resp.Password = result.Credentials.Password
	}
	writeJSON(w, http.StatusCreated, resp)
}

// CancelByToken handles POST /appointments/cancel?token=.
func (h *Handler) CancelByToken(w http.ResponseWriter, r *http.Request) {
	appt, err := h.svc.CancelByToken(r.Context(), r.URL.Query().Get("token"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"appointmentId": appt.ID.String(),
		"status":        string(appt.Status),
	})
}

// RescheduleByToken handles POST /appointments/reschedule?token=&start=&end=.
func (h *Handler) RescheduleByToken(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	result, err := h.svc.RescheduleByToken(r.Context(), q.Get("token"), q.Get("start"), q.Get("end"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"appointmentId":   result.Appointment.ID.String(),
		"newStartAt":      result.Appointment.StartAt.Format(clinicLocalLayout),
		"newEndAt":        result.Appointment.EndAt.Format(clinicLocalLayout),
		"cancelToken":     result.Tokens.Cancel,
		"rescheduleToken": result.Tokens.Reschedule,
	})
}

func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	writeServiceError(w, r, h.logger, err)
}

// writeServiceError maps service errors onto the HTTP surface. Token
// failures collapse into one generic message so probing a token value never
// reveals whether an appointment exists.
func writeServiceError(w http.ResponseWriter, r *http.Request, logger *logging.Logger, err error) {
	switch {
	case errors.Is(err, ErrValidation), errors.Is(err, availability.ErrInvalidDate):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, catalog.ErrClinicNotFound),
		errors.Is(err, catalog.ErrDoctorNotFound),
		errors.Is(err, catalog.ErrServiceNotFound),
		errors.Is(err, ErrAppointmentNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, ErrSlotTaken):
		writeJSON(w, http.StatusConflict, errorBody{Error: "slot is no longer available", Code: "slot_conflict"})
	case errors.Is(err, tokens.ErrInvalidToken), errors.Is(err, tokens.ErrTokenAlreadyUsed):
		writeError(w, http.StatusGone, "this link is no longer valid")
	case errors.Is(err, ErrNotCancellable), errors.Is(err, ErrInvalidTransition):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, ErrForbidden):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, ErrTooManyBookings):
		writeError(w, http.StatusTooManyRequests, "too many booking attempts, try again later")
	default:
		logger.Error("request failed", "error", err, "path", r.URL.Path)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
