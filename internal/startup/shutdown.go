package startup

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/SektaHub/SektaBot/internal/logging"
)

// ErrShutdownTimeout is returned when the service does not close in time
var ErrShutdownTimeout = errors.New("timed out waiting for shutdown")

// shutdownTimeout is the maximum time to wait for graceful shutdown.
// Variable so tests can shorten it.
var shutdownTimeout = 30 * time.Second

// Service is a long-running connection that is opened once and closed on
// shutdown, such as the Discord gateway.
type Service interface {
	Open() error
	Close() error
}

// Run opens svc and blocks until a shutdown signal is received or ctx is
// cancelled, then closes it. SIGINT and SIGTERM trigger shutdown.
//
// Returns nil on clean shutdown, error otherwise.
func Run(ctx context.Context, svc Service, logger *logging.Logger) error {
	shutdownCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := svc.Open(); err != nil {
		return fmt.Errorf("failed to start: %w", err)
	}

	<-shutdownCtx.Done()
	logger.Info("Shutting down...")

	// Close waits for in-flight commands; don't let a stuck one hang exit
	done := make(chan error, 1)
	go func() {
		done <- svc.Close()
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("shutdown error: %w", err)
		}
	case <-time.After(shutdownTimeout):
		return fmt.Errorf("%w after %v", ErrShutdownTimeout, shutdownTimeout)
	}

	logger.Info("Stopped")
	return nil
}
