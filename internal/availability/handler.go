package availability

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/carelane/clinic-api/internal/catalog"
	"github.com/carelane/clinic-api/internal/observability/metrics"
	"github.com/carelane/clinic-api/pkg/logging"
)

// clinicLocalLayout renders instants as clinic-local ISO-8601 without an
// offset; clients must not re-localize them.
const clinicLocalLayout = "2006-01-02T15:04:05"

// Handler serves slot availability queries.
type Handler struct {
	engine  *Engine
	metrics *metrics.SchedulingMetrics
	logger  *logging.Logger
}

// NewHandler creates an availability handler.
func NewHandler(engine *Engine, m *metrics.SchedulingMetrics, logger *logging.Logger) *Handler {
	if engine == nil {
		panic("availability: engine required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{engine: engine, metrics: m, logger: logger}
}

type slotResponse struct {
	StartAt string `json:"startAt"`
	EndAt   string `json:"endAt"`
}

// GetSlots handles GET /slots?clinicId=&doctorId=&date=YYYY-MM-DD&serviceId=.
func (h *Handler) GetSlots(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	clinicID, err := uuid.Parse(q.Get("clinicId"))
	if err != nil {
		http.Error(w, "clinicId is required", http.StatusBadRequest)
		return
	}
	doctorID, err := uuid.Parse(q.Get("doctorId"))
	if err != nil {
		http.Error(w, "doctorId is required", http.StatusBadRequest)
		return
	}
	serviceID := uuid.Nil
	if raw := q.Get("serviceId"); raw != "" {
		serviceID, err = uuid.Parse(raw)
		if err != nil {
			http.Error(w, "invalid serviceId", http.StatusBadRequest)
			return
		}
	}

	start := time.Now()
	slots, err := h.engine.ComputeSlots(r.Context(), clinicID, doctorID, q.Get("date"), serviceID)
	h.metrics.ObserveSlotQueryLatency(time.Since(start).Seconds())
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidDate):
			http.Error(w, err.Error(), http.StatusBadRequest)
		case errors.Is(err, catalog.ErrClinicNotFound),
			errors.Is(err, catalog.ErrDoctorNotFound),
			errors.Is(err, catalog.ErrServiceNotFound):
			http.Error(w, err.Error(), http.StatusNotFound)
		default:
			h.logger.Error("slot computation failed", "error", err, "doctor_id", doctorID)
			http.Error(w, "failed to compute slots", http.StatusInternalServerError)
		}
		return
	}

	out := make([]slotResponse, 0, len(slots))
	for _, s := range slots {
		out = append(out, slotResponse{
			StartAt: s.StartAt.Format(clinicLocalLayout),
			EndAt:   s.EndAt.Format(clinicLocalLayout),
		})
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(out)
}
