package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	httpmiddleware "github.com/clinicops/clinic-platform/internal/http/middleware"
	"github.com/clinicops/clinic-platform/internal/queue"
	"github.com/clinicops/clinic-platform/internal/recovery"
	"github.com/clinicops/clinic-platform/pkg/logging"
)

// Config holds router configuration.
type Config struct {
	Logger          *logging.Logger
	QueueHandler    *queue.Handler
	RecoveryHandler *recovery.Handler
	Board           *queue.Board
	MetricsHandler  http.Handler

	AdminAuthSecret    string
	CORSAllowedOrigins []string
}

// New creates the chi router with all routes configured.
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

	// Public endpoints.
	r.Group(func(public chi.Router) {
		public.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok"))
		})
		if cfg.MetricsHandler != nil {
			public.Handle("/metrics", cfg.MetricsHandler)
		}
	})

	// Clinic surface: every route is scoped by the X-Org-Id header.
	r.Group(func(tenant chi.Router) {
		tenant.Use(httpmiddleware.RequireOrg)

		tenant.Route("/queue", func(q chi.Router) {
			q.Get("/", cfg.QueueHandler.ListDay)
			q.Post("/", cfg.QueueHandler.Add)
			if cfg.Board != nil {
				q.Get("/board", cfg.Board.Subscribe)
			}
			q.Route("/{queueID}", func(entry chi.Router) {
				entry.Post("/start", cfg.QueueHandler.Start)
				entry.Post("/complete", cfg.QueueHandler.Complete)
				entry.Post("/skip", cfg.QueueHandler.Skip)
				entry.Post("/cancel", cfg.QueueHandler.Cancel)
				entry.Post("/prioritize", cfg.QueueHandler.Prioritize)
				entry.Post("/emergency", cfg.QueueHandler.SendToEmergency)
				entry.Post("/doctor", cfg.QueueHandler.AssignDoctor)
			})
		})
	})

	// Staff/admin surface behind the JWT gate.
	r.Group(func(admin chi.Router) {
		admin.Use(httpmiddleware.AdminJWT(cfg.AdminAuthSecret))

		admin.Route("/admin/clinics/{orgID}", func(clinic chi.Router) {
			clinic.Get("/queue/stats", cfg.QueueHandler.GetStats)

			if cfg.RecoveryHandler != nil {
				clinic.Route("/missed", func(missed chi.Router) {
					missed.Get("/", cfg.RecoveryHandler.ListMissed)
					missed.Post("/reschedule-batch", cfg.RecoveryHandler.RescheduleBatch)
					missed.Post("/reschedule-manual", cfg.RecoveryHandler.RescheduleManual)
					missed.Route("/{queueID}", func(entry chi.Router) {
						entry.Post("/reschedule", cfg.RecoveryHandler.Reschedule)
						entry.Post("/archive", cfg.RecoveryHandler.Archive)
						entry.Get("/history", cfg.RecoveryHandler.History)
					})
				})
			}
		})
	})

	return r
}
