package service

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

// Start serves handler on host:port. The returned context is cancelled once
// the server has stopped, either because it failed or because ctx was
// cancelled and the graceful shutdown finished.
func Start(ctx context.Context, name, host, port string, handler http.Handler, logger *zap.Logger) context.Context {
	logger.Info("starting service", zap.String("service", name), zap.String("addr", host+":"+port))
	return startService(ctx, name, host, port, handler, logger)
}

func startService(ctx context.Context, name, host, port string, handler http.Handler, logger *zap.Logger) context.Context {
	stopped, cancel := context.WithCancel(context.WithoutCancel(ctx))

	srv := &http.Server{
		Addr:              host + ":" + port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("service stopped", zap.String("service", name), zap.Error(err))
			cancel()
		}
	}()

	go func() {
		select {
		case <-ctx.Done():
		case <-stopped.Done():
			return
		}
		shutdownCtx, done := context.WithTimeout(context.Background(), shutdownTimeout)
		defer done()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("graceful shutdown failed", zap.String("service", name), zap.Error(err))
		}
		logger.Info("service shut down", zap.String("service", name))
		cancel()
	}()

	return stopped
}
