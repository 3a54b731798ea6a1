package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"tunedrop/internal/extract"
	"tunedrop/internal/jobs"
	"tunedrop/internal/persistence"
)

type historyReader interface {
	List(ctx context.Context) ([]persistence.Record, error)
}

type Server struct {
	logger  zerolog.Logger
	engine  extract.Engine
	manager *jobs.Manager
	history historyReader

	downloadDir    string
	searchLimit    int
	defaultQuality string
	webhook        http.HandlerFunc

	router chi.Router
	server *http.Server
}

type Option func(*Server)

func WithSearchLimit(limit int) Option {
	return func(s *Server) {
		if limit > 0 {
			s.searchLimit = limit
		}
	}
}

func WithDefaultQuality(quality string) Option {
	return func(s *Server) {
		if quality != "" {
			s.defaultQuality = quality
		}
	}
}

// WithWebhook mounts a chat-bot webhook endpoint at POST /webhook.
func WithWebhook(handler http.HandlerFunc) Option {
	return func(s *Server) {
		s.webhook = handler
	}
}

func NewServer(logger zerolog.Logger, engine extract.Engine, manager *jobs.Manager, history historyReader, downloadDir string, opts ...Option) *Server {
	s := &Server{
		logger:         logger,
		engine:         engine,
		manager:        manager,
		history:        history,
		downloadDir:    downloadDir,
		searchLimit:    5,
		defaultQuality: "128",
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) ListenAndServe(addr string) error {
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// The routing table is fixed at startup; handlers are parameterized by
// job id at call time.
func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(RequestLogger(s.logger))
	r.Use(Recoverer(s.logger))

	r.Post("/api/search", s.handleSearch)
	r.Post("/api/downloads", s.handleSubmit)
	r.Get("/api/downloads/{id}", s.handleStatus)
	r.Get("/api/downloads/{id}/result", s.handleTakeResult)
	r.Get("/api/downloads/{id}/events", s.handleEvents)
	r.Get("/api/history", s.handleHistory)
	r.Get("/files/{filename}", s.handleFile)
	if s.webhook != nil {
		r.Post("/webhook", s.webhook)
	}

	s.router = r
}
