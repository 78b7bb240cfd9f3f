package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/openreader/audiobookd/internal/api"
	"github.com/openreader/audiobookd/internal/audiobook"
	"github.com/openreader/audiobookd/internal/config"
	"github.com/openreader/audiobookd/internal/home"
	"github.com/openreader/audiobookd/internal/media"
	"github.com/openreader/audiobookd/internal/server/endpoints"
	"github.com/openreader/audiobookd/internal/store"
	"github.com/openreader/audiobookd/internal/svcctx"
)

// Server is the audiobookd HTTP server. It owns the storage backends and the
// generation pipeline, wiring them into request contexts for the endpoints.
type Server struct {
	httpServer *http.Server
	configMgr  *config.Manager
	home       *home.Dir
	logger     *slog.Logger

	// services holds all core services for context enrichment
	services *svcctx.Services

	// endpoints registry for HTTP routes
	endpointRegistry *api.Registry

	// owned backends needing shutdown
	pgPool    *pgxpool.Pool
	natsStore *store.NATSObjectStore

	mu      sync.RWMutex
	running bool
}

// Config holds server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1)
	Host string
	// Port is the port to listen on (default: 8080)
	Port string
	// Home is the audiobookd home directory holding objects and scratch space
	Home *home.Dir
	// ConfigManager provides configuration with hot-reload support
	ConfigManager *config.Manager
	// Logger is the structured logger to use
	Logger *slog.Logger
}

// New creates a new Server with the given configuration.
func New(cfg Config) (*Server, error) {
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == "" {
		cfg.Port = "8080"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Home == nil {
		return nil, errors.New("home directory is required")
	}

	s := &Server{
		configMgr: cfg.ConfigManager,
		home:      cfg.Home,
		logger:    cfg.Logger,
	}

	// Create endpoint registry and register all endpoints
	s.endpointRegistry = api.NewRegistry()
	for _, ep := range endpoints.All(endpoints.Config{SwaggerSpecPath: endpoints.GetSwaggerSpecPath()}) {
		s.endpointRegistry.Register(ep)
	}

	// Set up HTTP server
	mux := http.NewServeMux()
	s.endpointRegistry.RegisterRoutes(mux, s.requireInit)

	s.httpServer = &http.Server{
		Addr:         net.JoinHostPort(cfg.Host, cfg.Port),
		Handler:      s.withServices(mux),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 10 * time.Minute, // full-book assembly can be slow
		IdleTimeout:  120 * time.Second,
	}

	return s, nil
}

// Start starts the server. It blocks until the context is cancelled or an
// error occurs.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("server already running")
	}
	s.running = true
	s.mu.Unlock()

	if err := media.CheckAvailable(); err != nil {
		s.logger.Warn("transcoder binaries missing; generation requests will fail", "error", err)
	}

	pipeline, err := s.buildPipeline(ctx)
	if err != nil {
		s.setNotRunning()
		return err
	}

	s.services = &svcctx.Services{
		Generator: pipeline,
		ConfigMgr: s.configMgr,
		Logger:    s.logger,
		Home:      s.home,
	}

	// Start HTTP server in goroutine
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for context cancellation or error
	select {
	case <-ctx.Done():
		s.logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			_ = s.shutdown()
			return fmt.Errorf("HTTP server error: %w", err)
		}
	}

	return s.shutdown()
}

// buildPipeline constructs the storage backends and the generation pipeline
// from configuration.
func (s *Server) buildPipeline(ctx context.Context) (*audiobook.Service, error) {
	cfg := config.DefaultConfig()
	if s.configMgr != nil {
		cfg = s.configMgr.Get()
	}

	objects, err := s.buildObjectStore(cfg)
	if err != nil {
		return nil, err
	}
	records, err := s.buildRecordStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	transcoder, err := media.New(media.Config{
		FFmpegPath:  cfg.Media.FFmpegPath,
		FFprobePath: cfg.Media.FFprobePath,
		ScratchRoot: s.home.ScratchPath(),
		Bitrate:     cfg.Media.Bitrate,
		Logger:      s.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create transcoder: %w", err)
	}

	chapters := audiobook.NewChapterStore(objects, records, transcoder, s.logger)
	assembler := audiobook.NewAssembler(chapters, objects, transcoder, s.home.ScratchPath(), s.logger)
	return audiobook.NewService(chapters, assembler, records, s.logger), nil
}

func (s *Server) buildObjectStore(cfg *config.Config) (store.ObjectStore, error) {
	switch cfg.Storage.Objects {
	case "", "fs":
		objects, err := store.NewFSObjectStore(s.home.ObjectsPath())
		if err != nil {
			return nil, fmt.Errorf("failed to create object store: %w", err)
		}
		return objects, nil
	case "nats":
		objects, err := store.NewNATSObjectStore(store.NATSConfig{
			URL:    cfg.Storage.NATSURL,
			Bucket: cfg.Storage.NATSBucket,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create NATS object store: %w", err)
		}
		s.natsStore = objects
		return objects, nil
	default:
		return nil, fmt.Errorf("unknown object storage backend %q", cfg.Storage.Objects)
	}
}

func (s *Server) buildRecordStore(ctx context.Context, cfg *config.Config) (store.RecordStore, error) {
	switch cfg.Storage.Records {
	case "", "fs":
		records, err := store.NewFSRecordStore(s.home.RecordsPath())
		if err != nil {
			return nil, fmt.Errorf("failed to create record store: %w", err)
		}
		return records, nil
	case "postgres":
		url := config.ResolveEnvVars(cfg.Storage.PostgresURL)
		pool, err := pgxpool.New(ctx, url)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to postgres: %w", err)
		}
		records := store.NewPostgresRecordStore(pool)
		if err := records.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, err
		}
		s.pgPool = pool
		return records, nil
	default:
		return nil, fmt.Errorf("unknown record storage backend %q", cfg.Storage.Records)
	}
}

// shutdown performs graceful shutdown of the HTTP server and storage.
func (s *Server) shutdown() error {
	s.logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("HTTP server shutdown error", "error", err)
	}

	if s.pgPool != nil {
		s.pgPool.Close()
	}
	if s.natsStore != nil {
		s.natsStore.Close()
	}

	s.setNotRunning()
	s.logger.Info("server stopped")
	return nil
}

func (s *Server) setNotRunning() {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
}

// IsRunning returns whether the server is currently running.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Addr returns the server's listen address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// withServices enriches every request context with the core services.
func (s *Server) withServices(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r.WithContext(svcctx.WithServices(r.Context(), s.services)))
	})
}

// requireInit rejects requests to pipeline endpoints before Start has built
// the storage backends.
func (s *Server) requireInit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svcctx.GeneratorFrom(r.Context()) == nil {
			http.Error(w, `{"error":"server is still initializing"}`, http.StatusServiceUnavailable)
			return
		}
		next(w, r)
	}
}
