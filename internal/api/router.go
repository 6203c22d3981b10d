package api

import (
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/donatonuis/chatsync/internal/api/middleware"
	"github.com/donatonuis/chatsync/internal/handlers"
)

// Options configures optional parts of the router.
type Options struct {
	// RateLimiter limits writes per caller. Nil disables rate limiting.
	RateLimiter *middleware.RateLimiter
}

// NewRouter creates and configures the HTTP router.
func NewRouter(logger zerolog.Logger, h *handlers.Handler, opts Options) *chi.Mux {
	r := chi.NewRouter()

	// Metrics middleware (first to capture all requests)
	r.Use(middleware.Metrics)

	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.MaxBodySize(16 * 1024))
	r.Use(middleware.RequireJSON)

	// Standard middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logger(logger))
	r.Use(chimw.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", middleware.HeaderUserID, middleware.HeaderUsername},
		ExposedHeaders:   []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Metrics endpoint (for Prometheus scraping)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/health", h.Health)

	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireIdentity)

		r.Get("/rooms/{key}/messages", h.GetMessages)
		r.Get("/subjects/{id}/threads", h.GetThreads)
		r.Get("/me/rooms", h.GetMyRooms)
		r.Get("/notifications", h.GetNotifications)

		r.Group(func(r chi.Router) {
			if opts.RateLimiter != nil {
				r.Use(opts.RateLimiter.Middleware)
			}
			r.Post("/rooms/{key}/messages", h.PostMessage)
			r.Post("/notifications/read-all", h.MarkAllNotificationsRead)
			r.Post("/notifications/{id}/read", h.MarkNotificationRead)
		})
	})

	return r
}
