// Package host runs an endpoint inside a process: the update loop and an
// HTTP side door for metrics and status.
package host

import (
	"context"
	"time"

	"github.com/zeusync/replinet/internal/core/observability/log"
)

// Endpoint is the part of endpoint.Server and endpoint.Client the loop
// drives.
type Endpoint interface {
	Update(ctx context.Context) error
	Shutdown()
	Done() <-chan struct{}
	TickRate() int
}

// Hook runs on the loop goroutine before every Update, so it may use the
// endpoint freely.
type Hook func() error

// Run calls Update at twice the tick rate until the endpoint is destroyed or
// ctx ends. Cancelling ctx shuts the endpoint down and waits for it.
// Update and hook errors are logged and do not stop the loop.
func Run(ctx context.Context, e Endpoint, logger log.Log, hooks ...Hook) error {
	if logger == nil {
		logger = log.Provide()
	}
	rate := e.TickRate()
	if rate <= 0 {
		return ErrInvalidTickRate
	}
	ticker := time.NewTicker(time.Second / time.Duration(2*rate))
	defer ticker.Stop()

	for {
		for _, hook := range hooks {
			if err := hook(); err != nil {
				logger.Warn("Hook failed", log.Error(err))
			}
		}
		if err := e.Update(ctx); err != nil && ctx.Err() == nil {
			logger.Warn("Update failed", log.Error(err))
		}
		select {
		case <-e.Done():
			return nil
		case <-ctx.Done():
			e.Shutdown()
			<-e.Done()
			return nil
		case <-ticker.C:
		}
	}
}
