package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/inkpost/apiserver/config"
	"github.com/inkpost/apiserver/internal/auth"
	"github.com/inkpost/apiserver/internal/db"
	"github.com/inkpost/apiserver/internal/handlers"
	"github.com/inkpost/apiserver/internal/mq"
	"github.com/inkpost/apiserver/internal/services"
	"github.com/inkpost/apiserver/internal/storage"
	"github.com/inkpost/apiserver/internal/store"
)

// Server wraps the HTTP server and router.
type Server struct {
	httpServer *http.Server
	router     *chi.Mux
	db         *sql.DB
	mq         *mq.MQ
	objects    *storage.Storage
	logger     *slog.Logger
}

// Dependencies are the services the router dispatches to.
type Dependencies struct {
	Users         *services.UserService
	Posts         *services.PostService
	Auth          *services.AuthService
	Issuer        *auth.Issuer
	CoversEnabled bool
}

// New connects to every configured backend and assembles the router.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if strings.TrimSpace(cfg.JWT.Secret) == "" {
		return nil, errors.New("JWT_SECRET is required")
	}

	dbConn, err := db.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}

	var notifier services.Notifier = services.NopNotifier
	bus, err := mq.Open(ctx, cfg.MQ)
	switch {
	case errors.Is(err, mq.ErrNoBackend):
		logger.Info("event publishing disabled")
	case err != nil:
		_ = dbConn.Close()
		return nil, fmt.Errorf("open mq: %w", err)
	default:
		notifier = mq.NewEventPublisher(bus, cfg.MQ.EventsChannel, logger)
		logger.Info("event publishing enabled", "backend", cfg.MQ.Backend, "channel", cfg.MQ.EventsChannel)
	}

	var covers services.CoverStore
	objects, err := storage.Open(ctx, cfg.Storage)
	switch {
	case errors.Is(err, storage.ErrNoBackend):
		logger.Info("cover storage disabled")
	case err != nil:
		if bus != nil {
			_ = bus.Close()
		}
		_ = dbConn.Close()
		return nil, fmt.Errorf("open storage: %w", err)
	default:
		covers = objects
		logger.Info("cover storage enabled", "backend", cfg.Storage.Backend, "bucket", objects.Bucket())
	}

	userRepo := store.NewUserRepository(dbConn)
	postRepo := store.NewPostRepository(dbConn)

	userService := services.NewUserService(userRepo, postRepo, notifier, logger)
	postService := services.NewPostService(postRepo, userService, covers, cfg.Storage.MaxCoverSize, notifier, logger)
	issuer := auth.NewIssuer(cfg.JWT.Secret, cfg.JWT.AccessTTL)
	authService := services.NewAuthService(userService, issuer, logger)

	limiter := handlers.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst, cfg.RateLimit.TrustProxy)
	router := NewRouter(Dependencies{
		Users:         userService,
		Posts:         postService,
		Auth:          authService,
		Issuer:        issuer,
		CoversEnabled: covers != nil,
	}, limiter, logger)

	port := cfg.ServerPort
	if port == 0 {
		port = 8080
	}

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: httpServer,
		router:     router,
		db:         dbConn,
		mq:         bus,
		objects:    objects,
		logger:     logger,
	}, nil
}

// NewRouter mounts every route group on a fresh chi router.
func NewRouter(deps Dependencies, limiter *handlers.RateLimiter, logger *slog.Logger) *chi.Mux {
	authMiddleware := handlers.RequireAuth(deps.Issuer, deps.Auth)

	router := chi.NewRouter()
	router.Use(
		middleware.RequestID,
		handlers.PeerAddr,
		middleware.RealIP,
		middleware.Recoverer,
		handlers.RequestLogger(logger),
		middleware.Timeout(60*time.Second),
	)
	router.Get("/healthz", handlers.Healthz)
	router.Route("/auth", func(r chi.Router) {
		handlers.AuthRouter(r, deps.Auth, deps.Issuer, limiter)
	})
	router.Route("/users", func(r chi.Router) {
		handlers.UserRouter(r, deps.Users, deps.Posts, authMiddleware)
	})
	router.Route("/posts", func(r chi.Router) {
		handlers.PostRouter(r, deps.Posts, authMiddleware, deps.CoversEnabled)
	})
	return router
}

// Router exposes the chi router for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Addr reports the listen address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// Start runs the HTTP server. It returns nil after a graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests, then releases the broker and database.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	if s.mq != nil {
		if closeErr := s.mq.Close(); closeErr != nil {
			s.logger.Warn("failed to close mq", "error", closeErr)
		}
	}
	if s.objects != nil {
		if closeErr := s.objects.Close(); closeErr != nil {
			s.logger.Warn("failed to close storage", "error", closeErr)
		}
	}
	if s.db != nil {
		_ = s.db.Close()
	}
	return err
}
