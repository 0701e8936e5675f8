package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/shrimpsizemoose/trekker/logger"

	"github.com/shrimpsizemoose/pointbulle/internal/app"
)

const shutdownTimeout = 15 * time.Second

// Serve runs the HTTP server until ctx is done, drains in-flight requests
// and then closes the service. The service is closed on every return path.
func Serve(ctx context.Context, service *app.Service, handler http.Handler) error {
	srv := &http.Server{
		Addr:    service.Config.Server.Port,
		Handler: handler,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	var serveErr error
	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			serveErr = fmt.Errorf("http server failed: %w", err)
		}
	case <-ctx.Done():
		logger.Info.Println("Shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			serveErr = fmt.Errorf("failed to drain http server: %w", err)
		}
		<-errCh
	}

	if err := service.Close(); err != nil && serveErr == nil {
		serveErr = fmt.Errorf("failed to close service: %w", err)
	}
	return serveErr
}
