package catalog

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/carelane/clinic-api/pkg/logging"
)

// Handler serves catalog reads.
type Handler struct {
	repo   Repository
	logger *logging.Logger
}

// NewHandler creates a catalog handler.
func NewHandler(repo Repository, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{repo: repo, logger: logger}
}

// ListClinics handles GET /clinics.
func (h *Handler) ListClinics(w http.ResponseWriter, r *http.Request) {
	clinics, err := h.repo.ListClinics(r.Context())
	if err != nil {
		h.logger.Error("failed to list clinics", "error", err)
		http.Error(w, "failed to list clinics", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, clinics)
}

// ListServices handles GET /services?clinicId=&isActive=.
func (h *Handler) ListServices(w http.ResponseWriter, r *http.Request) {
	clinicID, err := uuid.Parse(r.URL.Query().Get("clinicId"))
	if err != nil {
		http.Error(w, "clinicId is required", http.StatusBadRequest)
		return
	}
	activeOnly := parseBoolParam(r, "isActive")

	services, err := h.repo.ListServices(r.Context(), clinicID, activeOnly)
	if err != nil {
		h.logger.Error("failed to list services", "error", err, "clinic_id", clinicID)
		http.Error(w, "failed to list services", http.StatusInternalServerError)
		return
	}
	if services == nil {
		services = []*Service{}
	}
	writeJSON(w, http.StatusOK, services)
}

// ListDoctors handles GET /doctors?clinicId=&isActive=&serviceId=.
func (h *Handler) ListDoctors(w http.ResponseWriter, r *http.Request) {
	clinicID, err := uuid.Parse(r.URL.Query().Get("clinicId"))
	if err != nil {
		http.Error(w, "clinicId is required", http.StatusBadRequest)
		return
	}
	activeOnly := parseBoolParam(r, "isActive")

	serviceID := uuid.Nil
	if raw := r.URL.Query().Get("serviceId"); raw != "" {
		serviceID, err = uuid.Parse(raw)
		if err != nil {
			http.Error(w, "invalid serviceId", http.StatusBadRequest)
			return
		}
	}

	doctors, err := h.repo.ListDoctors(r.Context(), clinicID, activeOnly, serviceID)
	if err != nil {
		h.logger.Error("failed to list doctors", "error", err, "clinic_id", clinicID)
		http.Error(w, "failed to list doctors", http.StatusInternalServerError)
		return
	}
	if doctors == nil {
		doctors = []*Doctor{}
	}
	writeJSON(w, http.StatusOK, doctors)
}

func parseBoolParam(r *http.Request, name string) bool {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return false
	}
	v, err := strconv.ParseBool(raw)
	return err == nil && v
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
