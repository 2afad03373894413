package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/carelane/clinic-api/internal/appointments"
	"github.com/carelane/clinic-api/internal/availability"
	"github.com/carelane/clinic-api/internal/catalog"
	httpmiddleware "github.com/carelane/clinic-api/internal/http/middleware"
	"github.com/carelane/clinic-api/pkg/logging"
)

// Config holds router configuration.
type Config struct {
	Logger              *logging.Logger
	CatalogHandler      *catalog.Handler
	AvailabilityHandler *availability.Handler
	BookingHandler      *appointments.Handler
	StaffHandler        *appointments.StaffHandler
	StaffJWTSecret      string
	MetricsHandler      http.Handler
	CORSAllowedOrigins  []string

	// Guest endpoint rate limiting (per IP). Zero disables it.
	GuestRatePerSecond float64
	GuestRateBurst     int
}

// New creates a Chi router with all routes configured.
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}

	// Public guest surface.
	r.Group(func(public chi.Router) {
		if cfg.GuestRatePerSecond > 0 {
			public.Use(httpmiddleware.RateLimit(cfg.GuestRatePerSecond, cfg.GuestRateBurst))
		}

		public.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"status":"ok"}`))
		})

		if cfg.CatalogHandler != nil {
			public.Get("/clinics", cfg.CatalogHandler.ListClinics)
			public.Get("/services", cfg.CatalogHandler.ListServices)
			public.Get("/doctors", cfg.CatalogHandler.ListDoctors)
		}
		if cfg.AvailabilityHandler != nil {
			public.Get("/slots", cfg.AvailabilityHandler.GetSlots)
		}
		if cfg.BookingHandler != nil {
			public.Post("/appointments", cfg.BookingHandler.CreateBooking)
			public.Post("/appointments/cancel", cfg.BookingHandler.CancelByToken)
			public.Post("/appointments/reschedule", cfg.BookingHandler.RescheduleByToken)
		}
	})

	// Staff surface behind JWT auth.
	if cfg.StaffHandler != nil {
		r.Route("/staff/appointments", func(staff chi.Router) {
			staff.Use(httpmiddleware.StaffJWT(cfg.StaffJWTSecret))
			staff.Get("/", cfg.StaffHandler.ListQueue)
			staff.Post("/{id}/confirm", cfg.StaffHandler.Confirm)
			staff.Post("/{id}/check-in", cfg.StaffHandler.CheckIn)
			staff.Post("/{id}/start-exam", cfg.StaffHandler.StartExam)
			staff.Post("/{id}/complete-exam", cfg.StaffHandler.CompleteExam)
			staff.Post("/{id}/no-show", cfg.StaffHandler.MarkNoShow)
			staff.Post("/{id}/cancel", cfg.StaffHandler.Cancel)
		})
	}

	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler)
	}

	return r
}
