// Package web provides the HTTP API for equipment dataset uploads.
package web

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/JonMunkholm/equipstat/internal/auth"
	"github.com/JonMunkholm/equipstat/internal/config"
	"github.com/JonMunkholm/equipstat/internal/core"
	"github.com/JonMunkholm/equipstat/internal/metrics"
	"github.com/JonMunkholm/equipstat/internal/report"
	"github.com/JonMunkholm/equipstat/internal/store"
	"github.com/JonMunkholm/equipstat/internal/web/middleware"
)

var (
	errRateLimited    = errors.New("rate limit exceeded")
	errBadRequestBody = errors.New("invalid request body")
)

// DatasetService is the business API the handlers call. Satisfied by
// *core.Service.
type DatasetService interface {
	UploadCSV(ctx context.Context, owner int64, fileName string, data []byte) (*store.Dataset, error)
	Preview(ctx context.Context, fileName string, data []byte) (*core.Preview, error)
	History(ctx context.Context, owner int64) ([]store.Dataset, error)
	Summary(ctx context.Context, owner, id int64) (*core.Summary, error)
	Delete(ctx context.Context, owner, id int64) error
	Report(ctx context.Context, owner, id int64, w io.Writer) error
	Export(ctx context.Context, owner, id int64, format report.Format, w io.Writer) error
	Source(ctx context.Context, owner, id int64) (*store.Dataset, io.ReadCloser, error)
	SizeLimit() int64
}

// Authenticator issues and checks tokens. Satisfied by *auth.Authenticator.
type Authenticator interface {
	Register(ctx context.Context, username, email, password string) (*auth.Session, error)
	Login(ctx context.Context, username, password string) (*auth.Session, error)
	Resolve(ctx context.Context, token string) (*store.User, error)
}

// Deps are the collaborators of a Server. Metrics, Ping and Limiter are
// optional.
type Deps struct {
	Service DatasetService
	Auth    Authenticator
	Metrics *metrics.Metrics
	Ping    func(context.Context) error
	Limiter *core.UploadLimiter
}

// Server is the HTTP API server.
type Server struct {
	cfg    *config.Config
	deps   Deps
	router *chi.Mux
	server *http.Server
}

// NewServer builds the router. ctx bounds the rate limiters' background
// cleanup.
func NewServer(ctx context.Context, cfg *config.Config, deps Deps) *Server {
	s := &Server{
		cfg:    cfg,
		deps:   deps,
		router: chi.NewRouter(),
	}
	s.setupMiddleware(ctx)
	s.setupRoutes(ctx)

	s.server = &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      s.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	return s
}

func (s *Server) setupMiddleware(ctx context.Context) {
	s.router.Use(chimw.RequestID)
	s.router.Use(middleware.TrustedRealIP(s.cfg.Security.TrustedProxies))
	s.router.Use(middleware.Logger)
	s.router.Use(chimw.Recoverer)
	s.router.Use(chimw.StripSlashes)
	if s.cfg.Server.RequestTimeout > 0 {
		s.router.Use(chimw.Timeout(s.cfg.Server.RequestTimeout))
	}
	s.router.Use(middleware.SecurityHeaders(s.cfg.Security.EnableCSP))

	if s.cfg.Rate.Enabled {
		rl := middleware.NewRateLimiter(ctx, s.cfg.Rate.RequestsPerMinute, time.Minute)
		s.router.Use(rl.Middleware(s.rateLimited))
	}
}

func (s *Server) setupRoutes(ctx context.Context) {
	s.router.Get("/healthz", s.handleHealth)
	if s.deps.Metrics != nil {
		s.router.Handle("/metrics", s.deps.Metrics.Handler())
	}

	s.router.Route("/api", func(r chi.Router) {
		r.Post("/login", s.handleLogin)
		r.Post("/register", s.handleRegister)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Authenticate(s.deps.Auth, s.fail))

			upload := r.With()
			if s.cfg.Rate.Enabled && s.cfg.Rate.UploadLimit > 0 {
				rl := middleware.NewRateLimiter(ctx, s.cfg.Rate.UploadLimit, time.Minute)
				upload = r.With(rl.Middleware(s.rateLimited))
			}
			upload.Post("/upload-csv", s.handleUpload)
			upload.Post("/upload-csv/preview", s.handlePreview)

			r.Get("/upload-history", s.handleHistory)
			r.Route("/datasets/{id}", func(r chi.Router) {
				r.Get("/summary", s.handleSummary)
				r.Delete("/", s.handleDelete)
				r.Delete("/delete", s.handleDelete)
				r.Get("/download-pdf", s.handleReport)
				r.Get("/export", s.handleExport)
				r.Get("/source", s.handleSource)
			})
		})
	})
}

func (s *Server) rateLimited(w http.ResponseWriter, r *http.Request) {
	s.fail(w, r, errRateLimited)
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens on the configured address until Shutdown.
func (s *Server) Start() error {
	slog.Info("http server listening", "addr", s.server.Addr)
	err := s.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
