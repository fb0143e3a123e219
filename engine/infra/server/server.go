package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/capsulehq/capsule/pkg/config"
	"github.com/capsulehq/capsule/pkg/logger"
)

const (
	httpReadTimeout       = 15 * time.Second
	httpWriteTimeout      = 15 * time.Second
	httpIdleTimeout       = 60 * time.Second
	serverShutdownTimeout = 5 * time.Second
)

// Server ties the HTTP surface, the object graph, and the graph worker
// together for one process.
type Server struct {
	cfg        *config.Config
	deps       *Dependencies
	httpServer *http.Server
}

func NewServer(ctx context.Context, cfg *config.Config) (*Server, error) {
	deps, err := buildDependencies(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &Server{
		cfg:  cfg,
		deps: deps,
		httpServer: &http.Server{
			Addr:         cfg.HTTPAddr,
			Handler:      buildRouter(cfg, deps),
			ReadTimeout:  httpReadTimeout,
			WriteTimeout: httpWriteTimeout,
			IdleTimeout:  httpIdleTimeout,
		},
	}, nil
}

// Run serves until the context is canceled or a termination signal
// arrives, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	log := logger.FromContext(ctx)

	s.deps.GraphWorker.Start(ctx)

	errCh := make(chan error, 1)
	go func() {
		log.Info("server listening",
			"addr", s.cfg.HTTPAddr,
			"store", s.cfg.VectorStore,
			"max_memories", s.cfg.MaxMemories)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		s.shutdown(context.Background())
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), serverShutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown incomplete", "error", err)
	}
	s.shutdown(shutdownCtx)
	return nil
}

func (s *Server) shutdown(ctx context.Context) {
	s.deps.GraphWorker.Stop()
	if err := s.deps.Close(ctx); err != nil {
		logger.FromContext(ctx).Warn("dependency shutdown incomplete", "error", err)
	}
}
