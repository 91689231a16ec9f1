package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

type ServerConfig struct {
	Addr               string
	Service            StudioService
	Playback           FileServer
	MetricsHandler     http.Handler
	Logger             *slog.Logger
	StartTime          time.Time
	Version            string
	APIKey             string
	CORSOrigins        []string
	SupportedFormats   []string
	StrictContentType  bool
	MaxUploadBytes     int64
	RateLimitPerMinute int
	StatusPollInterval time.Duration
	LLMEnabled         bool
}

func NewServer(cfg ServerConfig) *Server {
	router := NewRouter(cfg)

	return &Server{
		httpServer: &http.Server{
			Addr:              cfg.Addr,
			Handler:           router,
			ReadHeaderTimeout: 15 * time.Second,
			// Uploads, synchronous renders and event streams run long.
			WriteTimeout: 0,
			IdleTimeout:  60 * time.Second,
		},
		logger: cfg.Logger,
	}
}

func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", "addr", s.httpServer.Addr)
	err := s.httpServer.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) Addr() string {
	return s.httpServer.Addr
}
