package http

import (
	"context"
	"errors"
	nethttp "net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/consilience-ai/consilience-backend/internal/platform/logger"
)

type Server struct {
	Engine *gin.Engine

	log             *logger.Logger
	shutdownTimeout time.Duration
}

func NewServer(cfg RouterConfig, shutdownTimeout time.Duration) *Server {
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	return &Server{
		Engine:          NewRouter(cfg),
		log:             cfg.Log,
		shutdownTimeout: shutdownTimeout,
	}
}

// Run serves until ctx is canceled, then drains inflight requests for up to
// the shutdown timeout.
func (s *Server) Run(ctx context.Context, address string) error {
	srv := &nethttp.Server{
		Addr:              address,
		Handler:           s.Engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		err := srv.ListenAndServe()
		if err != nil && !errors.Is(err, nethttp.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	if s.log != nil {
		s.log.Info("HTTP server listening", "address", address)
	}

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	if s.log != nil {
		s.log.Info("HTTP server draining", "timeout", s.shutdownTimeout.String())
	}
	drainCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(drainCtx); err != nil {
		return err
	}
	return <-errCh
}
