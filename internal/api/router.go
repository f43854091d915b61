package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/hackgods/telehealth-booking/internal/appointment"
	"github.com/hackgods/telehealth-booking/internal/auth"
	"github.com/hackgods/telehealth-booking/internal/metrics"
)

type RouterConfig struct {
	Service  *appointment.Service
	Verifier *auth.Verifier
	Metrics  *metrics.Collector
	Logger   *zap.Logger
	Postgres Pinger
	Redis    Pinger
	Env      string
	Version  string
}

func NewRouter(cfg RouterConfig) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	d := deps{svc: cfg.Service, metrics: cfg.Metrics, logger: logger}

	r := chi.NewRouter()

	// Apply middleware
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(logger))
	r.Use(middleware.Recoverer)
	if cfg.Metrics != nil {
		r.Use(cfg.Metrics.HTTPMiddleware)
		r.Method(http.MethodGet, "/metrics", cfg.Metrics.Handler())
	}

	// Health endpoints
	health := NewHealthHandler(cfg.Postgres, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	patient := auth.RequireRole(writeError, auth.RolePatient)
	doctor := auth.RequireRole(writeError, auth.RoleDoctor)
	admin := auth.RequireRole(writeError, auth.RoleAdmin)

	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(cfg.Verifier, writeError))

		// Availability
		r.Get("/availability", listSlotsHandler(d))
		r.Get("/doctors/{id}/availability", getDoctorAvailabilityHandler(d))
		r.With(doctor).Put("/doctors/me/availability", updateMyAvailabilityHandler(d))

		// Appointment endpoints
		r.With(patient).Post("/appointments", bookAppointmentHandler(d))
		r.Get("/appointments", listAppointmentsHandler(d))
		r.Get("/appointments/{id}", getAppointmentHandler(d))
		r.With(doctor).Put("/appointments/{id}/status", updateStatusHandler(d))
		r.With(patient).Delete("/appointments/{id}", cancelAppointmentHandler(d))

		// Prescriptions
		r.With(doctor).Post("/prescriptions", issuePrescriptionHandler(d))
		r.Get("/prescriptions/{id}", getPrescriptionHandler(d))

		// Payments
		r.With(patient).Post("/payments/prescriptions/{id}/initiate", initiatePaymentHandler(d))
		r.With(patient).Post("/payments/{paymentId}/verify", verifyPaymentHandler(d))
		r.With(admin).Post("/admin/prescriptions/{id}/mark-paid", markPaidHandler(d))
	})

	return r
}
