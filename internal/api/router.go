package api

import (
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/threadline/threadline/internal/api/middleware"
	"github.com/threadline/threadline/internal/handlers"
	"github.com/threadline/threadline/internal/mail"
	"github.com/threadline/threadline/internal/store"
)

// NewRouter creates and configures the HTTP router. redisStore may be
// nil; rate limiting is skipped without it.
func NewRouter(logger zerolog.Logger, db store.DataStore, redisStore *store.RedisStore, service *mail.Service, rlConfig middleware.RateLimiterConfig) *chi.Mux {
	r := chi.NewRouter()

	// Metrics middleware (first to capture all requests)
	r.Use(middleware.Metrics)

	// Security middleware (order matters!)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.MaxBodySize(256 * 1024)) // sync batches carry full bodies
	r.Use(middleware.ValidateRequest)

	// Standard middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logger(logger))
	r.Use(chimw.Recoverer)

	// Rate limiting
	if redisStore != nil {
		limiter := middleware.NewRateLimiter(redisStore.Client(), logger, rlConfig)
		r.Use(limiter.Middleware)
	}

	// CORS - sync agents and dashboards call from anywhere
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	h := handlers.NewHandler(db, redisStore, service)

	// Metrics endpoint (for Prometheus scraping)
	r.Handle("/metrics", promhttp.Handler())

	r.Get("/", h.Root)
	r.Get("/health", h.Health)
	r.Get("/stats", h.Stats)

	r.Route("/emails", func(r chi.Router) {
		r.Post("/sync", h.SyncEmails)
		r.Post("/", h.SendEmail)
		r.Get("/", h.ListEmails)
		r.Get("/categories", h.Categories)
		r.Get("/{id}", h.GetEmail)
		r.Patch("/{id}", h.UpdateEmail)
	})

	r.Route("/threads", func(r chi.Router) {
		r.Get("/", h.ListThreads)
		r.Get("/statuses", h.ThreadStatuses)
		r.Get("/{id}", h.GetThread)
		r.Patch("/{id}", h.UpdateThread)
		r.Post("/{id}/resolve", h.ResolveThread)
		r.Post("/{id}/reopen", h.ReopenThread)
		r.Post("/{id}/archive", h.ArchiveThread)
		r.Post("/{id}/unarchive", h.UnarchiveThread)
	})

	return r
}
