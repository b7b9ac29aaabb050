// Package server sets up the HTTP server, router, and all route definitions.
//
// This package is the "wiring" layer: it connects services, handlers,
// middleware and routes, and owns the repository for the lifetime of the
// process.
//
// DEPENDENCY INJECTION FLOW:
//
//	main.go creates:  config → logger → PasswordService → repository (storage.Open)
//	server.New creates: TokenService → AuthService, ProvisioningService → handlers
//
// This is the "composition root" pattern: all dependencies are wired in one
// place (New/setupRoutes), rather than scattered across the codebase.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/laporketua/identity/internal/auth"
	"github.com/laporketua/identity/internal/authz"
	"github.com/laporketua/identity/internal/config"
	"github.com/laporketua/identity/internal/handler"
	"github.com/laporketua/identity/internal/middleware"
	"github.com/laporketua/identity/internal/model"
	"github.com/laporketua/identity/internal/repository"
	"github.com/laporketua/identity/internal/service"
	"github.com/laporketua/identity/internal/validation"
)

// Server represents the HTTP server and all its dependencies.
//
// RESOURCE MANAGEMENT:
// The Server owns the repository. When the server shuts down it closes it,
// which flushes the SQLite WAL or drains the Postgres pool.
type Server struct {
	router *chi.Mux
	config *config.Config
	logger *slog.Logger
	repo   repository.IdentityRepository
}

// New creates a Server over an already opened repository. passwords must be
// the same PasswordService the repository hashes with.
func New(cfg *config.Config, logger *slog.Logger, repo repository.IdentityRepository, passwords *auth.PasswordService) (*Server, error) {
	tokens, err := auth.NewTokenService(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	if err != nil {
		return nil, fmt.Errorf("creating token service: %w", err)
	}

	s := &Server{
		router: chi.NewRouter(),
		config: cfg,
		logger: logger,
		repo:   repo,
	}
	s.setupRoutes(tokens, passwords)
	return s, nil
}

// Handler exposes the router, for tests and for embedding in another server.
func (s *Server) Handler() http.Handler { return s.router }

// setupRoutes configures all middleware and route handlers.
//
// ROUTE STRUCTURE:
//
//	GET    /healthz                  → repository ping
//	GET    /metrics                  → Prometheus exposition
//	POST   /api/auth/login           → public
//	POST   /api/auth/logout          → auth
//	GET    /api/auth/me              → auth
//	POST   /api/users                → auth + admin
//	DELETE /api/users/{id}           → auth + admin
//	GET    /api/users/teknisi        → auth + admin
//	PUT    /api/users/teknisi/{id}   → auth + admin|teknisi (self-or-admin in the service)
//	GET    /api/users/me/teknisi     → auth + teknisi
//	PUT    /api/users/me/teknisi     → auth + teknisi
//
// MIDDLEWARE ORDER MATTERS:
//  1. RequestID: assigns unique ID to each request (for tracing)
//  2. RealIP: extracts real client IP from proxy headers
//  3. Logger: logs each request with timing info
//  4. Recoverer: catches panics and returns 500 instead of crashing
//  5. CORS: answers preflight requests from the web client
func (s *Server) setupRoutes(tokens *auth.TokenService, passwords *auth.PasswordService) {
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(middleware.Logger(s.logger))
	s.router.Use(chimiddleware.Recoverer)

	origins := s.config.CORS.AllowedOrigins
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
		// Browsers refuse credentials with a wildcard origin.
		AllowCredentials: !slices.Contains(origins, "*"),
		MaxAge:           300,
	}))

	validate := validation.New()
	authService := service.NewAuthService(s.repo, passwords, tokens, s.logger)
	provisioning := service.NewProvisioningService(s.repo, passwords, validate, s.logger)

	authHandler := handler.NewAuthHandler(authService, validate, s.logger, tokens.TTL(), !s.config.IsDevelopment())
	userHandler := handler.NewUserHandler(provisioning, s.logger)

	s.router.Get("/healthz", s.handleHealth)
	s.router.Handle("/metrics", promhttp.Handler())

	requireAdmin := authz.RequireRoles(model.RoleAdmin)
	requireTechnician := authz.RequireRoles(model.RoleTechnician)

	s.router.Route("/api", func(r chi.Router) {
		r.Post("/auth/login", authHandler.HandleLogin)

		// Everything below needs a valid token.
		r.Group(func(r chi.Router) {
			r.Use(auth.RequireAuth(tokens))

			r.Post("/auth/logout", authHandler.HandleLogout)
			r.Get("/auth/me", authHandler.HandleMe)

			r.Route("/users", func(r chi.Router) {
				r.With(requireAdmin).Post("/", userHandler.HandleCreate)
				r.With(requireAdmin).Delete("/{id}", userHandler.HandleDelete)
				r.With(requireAdmin).Get("/teknisi", userHandler.HandleListTechnicians)
				r.With(authz.RequireRoles(model.RoleAdmin, model.RoleTechnician)).
					Put("/teknisi/{id}", userHandler.HandleUpdateTechnician)
				r.With(requireTechnician).Get("/me/teknisi", userHandler.HandleGetOwnProfile)
				r.With(requireTechnician).Put("/me/teknisi", userHandler.HandleUpdateOwnProfile)
			})
		})
	})
}

// handleHealth reports whether the repository answers.
//
// HTTP: GET /healthz
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	w.Header().Set("Content-Type", "application/json")
	if err := s.repo.Ping(ctx); err != nil {
		s.logger.WarnContext(ctx, "health check failed", slog.String("error", err.Error()))
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"status":"unavailable"}`))
		return
	}
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// Start starts the HTTP server and handles graceful shutdown.
//
// GRACEFUL SHUTDOWN:
//  1. Stop accepting new HTTP connections
//  2. Wait for in-flight requests to finish (30s timeout)
//  3. Close the repository
func (s *Server) Start() error {
	defer func() {
		if err := s.repo.Close(); err != nil {
			s.logger.Error("closing repository", slog.String("error", err.Error()))
		}
	}()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	serverErrors := make(chan error, 1)

	go func() {
		s.logger.Info("server starting",
			slog.Int("port", s.config.Port),
			slog.String("env", s.config.Env),
			slog.String("driver", s.config.Database.Driver),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

	case sig := <-quit:
		s.logger.Info("shutdown signal received", slog.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
	}

	return nil
}
