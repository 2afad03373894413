package appointments

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/carelane/clinic-api/internal/http/middleware"
	"github.com/carelane/clinic-api/pkg/logging"
)

// StaffHandler serves the authenticated staff surface: status transitions
// and the day queue.
type StaffHandler struct {
	svc    *Service
	logger *logging.Logger
}

// NewStaffHandler creates a staff handler.
func NewStaffHandler(svc *Service, logger *logging.Logger) *StaffHandler {
	if svc == nil {
		panic("appointments: service required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &StaffHandler{svc: svc, logger: logger}
}

type transitionFunc func(ctx context.Context, actor Actor, id uuid.UUID) (*Appointment, error)

// Confirm handles POST /staff/appointments/{id}/confirm.
func (h *StaffHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.svc.Confirm)
}

// CheckIn handles POST /staff/appointments/{id}/check-in.
func (h *StaffHandler) CheckIn(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.svc.CheckIn)
}

// StartExam handles POST /staff/appointments/{id}/start-exam.
func (h *StaffHandler) StartExam(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.svc.StartExam)
}

// CompleteExam handles POST /staff/appointments/{id}/complete-exam.
func (h *StaffHandler) CompleteExam(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.svc.CompleteExam)
}

// MarkNoShow handles POST /staff/appointments/{id}/no-show.
func (h *StaffHandler) MarkNoShow(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.svc.MarkNoShow)
}

// Cancel handles POST /staff/appointments/{id}/cancel.
func (h *StaffHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.svc.CancelByStaff)
}

// ListQueue handles GET /staff/appointments?doctorId=&date=.
func (h *StaffHandler) ListQueue(w http.ResponseWriter, r *http.Request) {
	if _, ok := actorFromRequest(r); !ok {
		writeError(w, http.StatusUnauthorized, "missing staff identity")
		return
	}
	doctorID, err := uuid.Parse(r.URL.Query().Get("doctorId"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "doctorId is required")
		return
	}
	date := r.URL.Query().Get("date")
	if date == "" {
		writeError(w, http.StatusBadRequest, "date is required")
		return
	}

	appts, err := h.svc.ListDayQueue(r.Context(), doctorID, date)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	if appts == nil {
		appts = []*Appointment{}
	}
	writeJSON(w, http.StatusOK, appts)
}

func (h *StaffHandler) transition(w http.ResponseWriter, r *http.Request, fn transitionFunc) {
	actor, ok := actorFromRequest(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing staff identity")
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid appointment id")
		return
	}

	appt, err := fn(r.Context(), actor, id)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"appointmentId": appt.ID.String(),
		"status":        string(appt.Status),
	})
}

// actorFromRequest builds the acting staff identity from verified JWT
// claims. The subject claim is the actor id.
func actorFromRequest(r *http.Request) (Actor, bool) {
	claims, ok := middleware.StaffClaimsFromContext(r.Context())
	if !ok {
		return Actor{}, false
	}
	actorID, err := uuid.Parse(claims.Subject)
	if err != nil {
		actorID = uuid.Nil
	}
	return Actor{ID: actorID, Role: Role(claims.Role)}, true
}
