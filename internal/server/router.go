package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/uptrace/bun"

	"github.com/jamesgorrie/grid/internal/authn"
	"github.com/jamesgorrie/grid/internal/authn/panda"
	"github.com/jamesgorrie/grid/internal/config"
	gridmiddleware "github.com/jamesgorrie/grid/internal/middleware"
	"github.com/jamesgorrie/grid/internal/permissions"
	"github.com/jamesgorrie/grid/internal/registry"
	"github.com/jamesgorrie/grid/internal/repository"
	"github.com/jamesgorrie/grid/internal/telemetry"
)

// RouterOptions controls the construction of the auth HTTP router. Cfg,
// Resolver, UserProvider, Checker, Accessors, and Registry are required;
// the rest default sensibly when not set.
type RouterOptions struct {
	Cfg          *config.Config
	Resolver     *authn.Resolver
	UserProvider *panda.Provider
	Checker      *permissions.Checker
	Accessors    repository.AccessorRepository
	Registry     *registry.Registry
	DB           *bun.DB
	Metrics      *telemetry.ServerMetrics
	CORSOptions  *cors.Options
	Middleware   []func(http.Handler) http.Handler
	ExtraRoutes  func(chi.Router)
}

// DefaultCORSOptions returns the CORS policy for browser tools calling this
// service. Credentials must be allowed because the session cookie is the
// user credential, which in turn forbids a wildcard origin.
func DefaultCORSOptions(origins []string) cors.Options {
	if len(origins) == 0 {
		origins = []string{
			"http://localhost:5173",
			"http://127.0.0.1:5173",
		}
	}
	return cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{
			"Content-Type",
			"X-Gu-Media-Key",
			"X-Gu-Original-Service",
		},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}
}

// NewRouter assembles the chi router with shared middleware, CORS policy,
// the public auth endpoints, and the credential-guarded management plane.
// The router can be tailored via RouterOptions for tests or embedding.
func NewRouter(opts RouterOptions) chi.Router {
	r := chi.NewRouter()

	// Baseline middleware shared across entrypoints.
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	if opts.Metrics != nil {
		r.Use(gridmiddleware.Metrics(opts.Metrics))
	}

	corsCfg := DefaultCORSOptions(opts.Cfg.CORSOrigins)
	if opts.CORSOptions != nil {
		corsCfg = *opts.CORSOptions
	}
	r.Use(cors.Handler(corsCfg))

	// Apply custom middleware passed from the caller.
	for _, mw := range opts.Middleware {
		if mw != nil {
			r.Use(mw)
		}
	}

	// Public endpoints. Login and callback run before any credential exists;
	// keys, config, and the healthcheck serve sibling services and load
	// balancers that hold no credential at all.
	r.Get("/auth/login", HandleLogin(opts.Resolver))
	r.Get("/auth/callback", HandleCallback(opts.Resolver))
	r.Get("/auth/logout", HandleLogout(opts.Resolver))
	r.Get("/auth/keys", HandleSessionKeys(opts.UserProvider))
	r.Get("/auth/config", HandleAuthConfig(opts.Cfg))
	r.Get("/management/healthcheck", HandleHealthcheck(opts.DB, opts.Registry))

	if opts.Cfg.Auth.LocalLoginSecretHash != "" {
		r.Post("/auth/local", HandleLocalLogin(opts.Cfg, opts.UserProvider))
	}

	// Everything below resolves a principal or stops with a terminal response.
	r.Group(func(g chi.Router) {
		g.Use(gridmiddleware.Authentication(opts.Resolver))

		g.Get("/auth/session", HandleSession())

		g.With(gridmiddleware.RequirePermission(opts.Checker, permissions.AccessorRead)).
			Get("/management/accessors", HandleListAccessors(opts.Accessors))
		g.With(gridmiddleware.RequirePermission(opts.Checker, permissions.AccessorManage)).
			Post("/management/accessors", HandleCreateAccessor(opts.Accessors, opts.Registry))
		g.With(gridmiddleware.RequirePermission(opts.Checker, permissions.AccessorManage)).
			Delete("/management/accessors/{id}", HandleDeactivateAccessor(opts.Accessors, opts.Registry))

		if opts.ExtraRoutes != nil {
			opts.ExtraRoutes(g)
		}
	})

	return r
}
