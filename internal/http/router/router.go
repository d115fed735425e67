package router

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"github.com/diagnosis/staybook/internal/domain"
	"github.com/diagnosis/staybook/internal/http/handlers"
	"github.com/diagnosis/staybook/internal/http/middleware"
	"github.com/diagnosis/staybook/pkg/metrics"
	mw "github.com/diagnosis/staybook/pkg/middleware"
)

const serviceName = "auth"

type Deps struct {
	Auth     handlers.AuthService
	Verifier middleware.TokenVerifier
	Metrics  *metrics.Auth
	// LoginLimiter may be nil, which disables login throttling.
	LoginLimiter   *middleware.RateLimiter
	HealthCheck    func(ctx context.Context) error
	AllowedOrigins []string
}

func New(d Deps) http.Handler {
	h := handlers.NewAuthHandler(d.Auth)
	requireAuth := middleware.RequireAuth(d.Verifier, d.Metrics)

	origins := d.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()

	r.Use(mw.RequestID)
	r.Use(mw.ServiceName(serviceName))
	r.Use(mw.Logging)
	r.Use(mw.Recover)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	}))
	r.Use(mw.Health(d.HealthCheck))

	r.Method(http.MethodGet, "/metrics", d.Metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Post("/register", h.Register)
			r.With(d.LoginLimiter.Middleware()).Post("/login", h.Login)
			r.With(requireAuth).Get("/me", h.Me)
		})

		r.Route("/owner", func(r chi.Router) {
			r.Use(requireAuth, middleware.RequireRole(domain.RoleOwner))
			r.Get("/ping", h.OwnerPing)
		})
	})

	return r
}
