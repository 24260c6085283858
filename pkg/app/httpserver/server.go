// Package httpserver runs an http.Server with context-driven graceful
// shutdown, shared by the relay and validator entrypoints.
package httpserver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// ServeAndWait serves srv until ctx is canceled or the listener fails,
// then drains in-flight requests for at most shutdownTimeout. A clean
// shutdown returns nil; a listener failure is returned after the drain.
func ServeAndWait(ctx context.Context, logger *zap.Logger, srv *http.Server, shutdownTimeout time.Duration) error {
	if srv == nil {
		return fmt.Errorf("nil http server")
	}
	if shutdownTimeout <= 0 {
		shutdownTimeout = 30 * time.Second
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("http server listening", zap.String("address", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			return
		}
		serveErr <- nil
	}()

	var listenErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case listenErr = <-serveErr:
		if listenErr != nil {
			logger.Error("http server failed", zap.Error(listenErr))
		}
	}

	drainCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	logger.Info("draining http server", zap.Duration("timeout", shutdownTimeout))
	if err := srv.Shutdown(drainCtx); err != nil {
		logger.Error("http server drain failed", zap.Error(err))
		return fmt.Errorf("http shutdown: %w", err)
	}

	if listenErr != nil {
		return fmt.Errorf("http server: %w", listenErr)
	}
	logger.Info("http server stopped")
	return nil
}
