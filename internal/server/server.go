// Package server sets up the HTTP server, router, and all route definitions.
//
// This is the composition root: New opens the store, builds the OAuth
// providers and services, and hands them to the handlers. Nothing below
// this package constructs its own dependencies.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/sakif/chatcode/internal/auth"
	"github.com/sakif/chatcode/internal/config"
	"github.com/sakif/chatcode/internal/handler"
	"github.com/sakif/chatcode/internal/metrics"
	"github.com/sakif/chatcode/internal/middleware"
	"github.com/sakif/chatcode/internal/repository/sqlstore"
	"github.com/sakif/chatcode/internal/service"
)

// Server represents the HTTP server and all its dependencies.
//
// The Server owns the store. Start closes it after the HTTP server has
// drained, so in-flight requests never see a closed pool.
type Server struct {
	router  *chi.Mux
	config  config.Config
	logger  *slog.Logger
	store   *sqlstore.Store
	metrics *metrics.Metrics
}

// New opens the database, wires every service and handler, and registers
// the routes. The caller owns the returned Server and must call Start or
// Close.
func New(cfg config.Config, logger *slog.Logger) (*Server, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	store, err := sqlstore.Open(ctx, cfg.DBURL)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &Server{
		router:  chi.NewRouter(),
		config:  cfg,
		logger:  logger,
		store:   store,
		metrics: metrics.New(),
	}

	if err := s.setupRoutes(ctx); err != nil {
		store.Close()
		return nil, fmt.Errorf("setting up routes: %w", err)
	}

	return s, nil
}

// providers builds the registry of OAuth providers whose credentials are
// configured. The others are left out, which hides their buttons and makes
// their routes redirect with "provider unavailable".
func providers(cfg config.Config) *auth.Registry {
	registry := auth.NewRegistry()

	if cfg.Google.Configured() {
		registry.Register(auth.NewGoogleProvider(auth.ProviderConfig{
			ClientID:     cfg.Google.ClientID,
			ClientSecret: cfg.Google.ClientSecret,
			RedirectURL:  cfg.CallbackURL(auth.ProviderGoogle),
			HTTPTimeout:  cfg.OAuthHTTPTimeout,
		}))
	}
	if cfg.GitHub.Configured() {
		registry.Register(auth.NewGitHubProvider(auth.ProviderConfig{
			ClientID:     cfg.GitHub.ClientID,
			ClientSecret: cfg.GitHub.ClientSecret,
			RedirectURL:  cfg.CallbackURL(auth.ProviderGitHub),
			HTTPTimeout:  cfg.OAuthHTTPTimeout,
		}))
	}

	return registry
}

// setupRoutes configures all middleware and route handlers.
//
// ROUTE STRUCTURE:
// GET    /                          → Home (redirects to /dashboard when signed in)
// GET    /register, POST /register  → Password sign-up
// GET    /login,    POST /login     → Password sign-in and provider buttons
// GET|POST /logout                  → Clear the session
// GET    /auth/{provider}/login     → Redirect to the provider
// GET    /auth/{provider}/callback  → Finish OAuth sign-in
// GET    /dashboard, /profile       → Signed-in pages
// POST   /settings                  → Save phone and greeting
// GET    /qr.png?u=<username>       → QR code PNG
// GET    /u/{username}              → Public page
// GET    /api/me                    → Current user (JSON)
// GET    /api/admin/users           → User list (JSON, admin only)
// GET    /health, /metrics          → Probes and Prometheus scrape
//
// MIDDLEWARE ORDER MATTERS:
// RequestID and RealIP run first so the logger sees both. Recoverer sits
// inside the logger so a panic is still logged and counted as a 500.
func (s *Server) setupRoutes(ctx context.Context) error {
	cfg := s.config

	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(middleware.Logger(s.logger, s.metrics))
	s.router.Use(chimiddleware.Recoverer)

	fileServer := http.FileServer(http.Dir(cfg.StaticDir))
	s.router.Handle("/static/*", http.StripPrefix("/static/", fileServer))

	pages, err := handler.NewRenderer(cfg.TemplateDir, s.logger)
	if err != nil {
		return fmt.Errorf("loading templates: %w", err)
	}

	tokens, err := auth.NewTokenService(cfg.AppSecret, cfg.SessionTTL)
	if err != nil {
		return fmt.Errorf("creating token service: %w", err)
	}

	registry := providers(cfg)
	s.logger.Info("oauth providers", slog.Any("enabled", registry.Names()))

	accounts := service.NewAuthService(s.store, tokens, auth.NewPasswordService(), s.logger)
	oauth := service.NewOAuthService(
		registry,
		auth.NewMemoryStateStore(cfg.OAuthStateTTL),
		service.NewIdentityResolver(s.logger),
		s.store,
		tokens,
		s.logger,
	)
	codes := service.NewQRService(s.store, s.logger)

	if len(cfg.AdminUsernames) > 0 {
		n, err := accounts.PromoteAdmins(ctx, cfg.AdminUsernames)
		if err != nil {
			return fmt.Errorf("promoting admins: %w", err)
		}
		s.logger.Info("admins promoted", slog.Int("count", n), slog.Int("configured", len(cfg.AdminUsernames)))
	}

	cookies := handler.CookieConfig{
		Secure:     cfg.CookieSecure,
		SessionTTL: cfg.SessionTTL,
		StateTTL:   cfg.OAuthStateTTL,
	}
	authH := handler.NewAuthHandler(accounts, oauth, pages, s.metrics, cookies, s.logger)
	qrH := handler.NewQRHandler(accounts, codes, pages, cookies, s.logger)
	adminH := handler.NewAdminHandler(accounts, s.logger)

	s.router.Get("/health", handler.NewHealthHandler().HandleHealth)
	s.router.Handle("/metrics", s.metrics.Handler())

	// === Public Routes ===
	s.router.Get("/qr.png", qrH.HandleQRImage)
	s.router.Get("/u/{username}", qrH.HandlePublicPage)
	s.router.Get("/logout", authH.HandleLogout)
	s.router.Post("/logout", authH.HandleLogout)
	s.router.Get("/auth/{provider}/login", authH.HandleOAuthLogin)
	s.router.Get("/auth/{provider}/callback", authH.HandleOAuthCallback)

	// === Pages that change when signed in ===
	s.router.Group(func(r chi.Router) {
		r.Use(auth.OptionalAuth(tokens))
		r.Get("/", authH.HandleHome)
		r.Get("/register", authH.HandleRegisterPage)
		r.Post("/register", authH.HandleRegister)
		r.Get("/login", authH.HandleLoginPage)
		r.Post("/login", authH.HandleLogin)
	})

	// === Signed-in pages ===
	s.router.Group(func(r chi.Router) {
		r.Use(auth.RequireLogin(tokens))
		r.Get("/dashboard", qrH.HandleDashboard)
		r.Get("/profile", qrH.HandleProfile)
		r.Post("/settings", qrH.HandleSettings)
	})

	// === JSON API ===
	s.router.Route("/api", func(r chi.Router) {
		r.Use(auth.RequireAuth(tokens))
		r.Get("/me", authH.HandleMe)
		r.With(auth.RequireAdmin(accounts)).Get("/admin/users", adminH.HandleListUsers)
	})

	return nil
}

// Handler returns the root handler with all routes and middleware.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Close releases the database. Start calls it on the way out.
func (s *Server) Close() error {
	return s.store.Close()
}

// Start starts the HTTP server and blocks until SIGINT or SIGTERM.
//
// GRACEFUL SHUTDOWN:
//  1. Stop accepting new connections
//  2. Wait up to 30s for in-flight requests
//  3. Close the database pool
func (s *Server) Start() error {
	defer func() {
		if err := s.Close(); err != nil {
			s.logger.Error("closing database", slog.String("error", err.Error()))
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
	defer signal.Stop(quit)

	serverErrors := make(chan error, 1)

	go func() {
		s.logger.Info("server starting",
			slog.Int("port", s.config.Port),
			slog.String("url", s.config.BaseURL),
			slog.String("database", s.store.Driver()),
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
