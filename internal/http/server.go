package httpserver

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Clark-Hu/upskillpro-ratings/internal/auth"
	"github.com/Clark-Hu/upskillpro-ratings/internal/config"
	"github.com/Clark-Hu/upskillpro-ratings/internal/domain"
	"github.com/Clark-Hu/upskillpro-ratings/internal/logging"
	"github.com/Clark-Hu/upskillpro-ratings/internal/rating"
)

const requestIDHeader = "X-Request-ID"

// HealthChecker reports whether the backing store is reachable.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Server wires HTTP routing, middleware, and handlers.
type Server struct {
	cfg      config.Config
	ratings  *rating.Service
	health   HealthChecker
	verifier auth.JWTVerifier
	logger   *zap.Logger
	router   chi.Router
	httpSrv  *http.Server
}

// New constructs the HTTP server with base middleware and routes. health may
// be nil when the process runs without a database.
func New(cfg config.Config, svc *rating.Service, health HealthChecker, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}

	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(middleware.RealIP)
	r.Use(accessLog(logger))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSAllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", requestIDHeader},
		ExposedHeaders:   []string{requestIDHeader},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	if cfg.RequestTimeoutSecs > 0 {
		r.Use(middleware.Timeout(time.Duration(cfg.RequestTimeoutSecs) * time.Second))
	}

	s := &Server{
		cfg:      cfg,
		ratings:  svc,
		health:   health,
		verifier: auth.JWTVerifier{Secret: []byte(cfg.JWTSecret)},
		logger:   logger,
		router:   r,
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	requireUser := auth.RequireUser(s.verifier, s.unauthorized)

	s.router.Get("/healthz", s.handleHealthz)
	s.router.Route("/api", func(r chi.Router) {
		r.Route("/courses/{courseId}/ratings", func(r chi.Router) {
			r.Get("/", s.handleListCourseRatings)
			r.Get("/stats", s.handleRatingStats)
			r.Group(func(r chi.Router) {
				r.Use(requireUser)
				r.Post("/", s.handleSubmitRating)
				r.Delete("/", s.handleDeleteRating)
				r.Get("/me", s.handleGetMyRating)
			})
		})
		r.With(requireUser).Get("/users/me/ratings", s.handleListMyRatings)
		r.With(requireUser, auth.RequireRole(s.forbidden, domain.RoleInstructor, domain.RoleAdmin, domain.RoleSuperAdmin)).
			Get("/instructor/ratings", s.handleInstructorRatings)
		r.Route("/admin/courses/{courseId}/ratings", func(r chi.Router) {
			r.Use(requireUser, auth.RequireRole(s.forbidden, domain.RoleAdmin, domain.RoleSuperAdmin))
			r.Delete("/", s.handlePurgeCourse)
			r.Post("/rebuild", s.handleRebuildStats)
		})
	})
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start boots the HTTP server and blocks until ctx is cancelled or the
// listener fails.
func (s *Server) Start(ctx context.Context) error {
	s.httpSrv = &http.Server{
		Addr:         ":" + s.cfg.Port,
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.cfg.ReadTimeoutSecs) * time.Second,
		WriteTimeout: time.Duration(s.cfg.WriteTimeoutSecs) * time.Second,
		IdleTimeout:  time.Duration(s.cfg.IdleTimeoutSecs) * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.httpSrv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if s.health != nil {
		if err := s.health.HealthCheck(ctx); err != nil {
			s.logger.Warn("health check failed", zap.Error(err))
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
			return
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// requestID accepts a caller-supplied X-Request-ID or mints a UUID, and makes
// it available to logging.RequestID.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(requestIDHeader))
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(logging.WithRequestID(r.Context(), id)))
	})
}

func accessLog(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Info("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("latency", time.Since(start)),
				zap.String("request_id", logging.RequestID(r.Context())),
			)
		})
	}
}
