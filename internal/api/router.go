package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/clinicdesk/booking-api/internal/auth"
	"github.com/clinicdesk/booking-api/internal/clinic"
	redisclient "github.com/clinicdesk/booking-api/internal/redis"
)

type RouterConfig struct {
	Service    *clinic.Service
	Tokens     *auth.TokenManager
	Denylist   redisclient.Denylist
	PgPool     *pgxpool.Pool
	Redis      *redis.Client
	Log        *zap.Logger
	CORSOrigin string
	Env        string
	Version    string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	// Apply middleware
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Log))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{cfg.CORSOrigin},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health endpoints
	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	requireAuth := AuthMiddleware(cfg.Tokens, cfg.Denylist, cfg.Log)

	r.Route("/api", func(r chi.Router) {
		// Public endpoints; credential endpoints are rate limited per IP.
		r.Get("/doctors", listDoctorsHandler(cfg.Service))
		r.With(httprate.LimitByIP(10, time.Minute)).
			Post("/register", registerHandler(cfg.Service))
		r.With(httprate.LimitByIP(20, time.Minute)).
			Post("/signin", signInHandler(cfg.Service, cfg.Tokens))

		// Authenticated endpoints
		r.Group(func(r chi.Router) {
			r.Use(requireAuth)

			r.Post("/logout", logoutHandler(cfg.Denylist, cfg.Log))
			r.Get("/patients/{id}", getPatientHandler(cfg.Service))
			r.Get("/patients/{id}/upcoming-appointments", upcomingAppointmentsHandler(cfg.Service))
			r.Get("/patients/{id}/appointment-history", appointmentHistoryHandler(cfg.Service))
			r.Get("/available-times", availableTimesHandler(cfg.Service))
			r.Post("/book-appointment", bookAppointmentHandler(cfg.Service))
		})
	})

	return r
}
