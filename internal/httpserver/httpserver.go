// Package httpserver wraps a goroutine running ListenAndServe with the
// graceful shutdown and bounded drain every component binary needs on
// SIGTERM.
package httpserver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/electoral-net/votepipeline/log"
)

// DrainTimeout bounds how long Run waits for in-flight requests to finish
// once ctx is canceled.
const DrainTimeout = 10 * time.Second

// Run starts an HTTP server on addr serving handler, and blocks until ctx
// is canceled. On cancellation it shuts the server down gracefully, giving
// in-flight requests up to DrainTimeout to finish.
func Run(ctx context.Context, component, addr string, handler http.Handler) error {
	srv := &http.Server{Addr: addr, Handler: handler}

	errCh := make(chan error, 1)
	go func() {
		log.Infow("listening", "component", component, "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("%s: listen: %w", component, err)
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), DrainTimeout)
	defer cancel()
	log.Infow("shutting down", "component", component, "drainTimeout", DrainTimeout.String())
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("%s: shutdown: %w", component, err)
	}
	return nil
}
