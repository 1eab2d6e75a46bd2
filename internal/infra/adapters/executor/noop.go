package executor

import (
	"context"
	"time"

	"app-build-queue/internal/domain/ports/adapter"
)

var _ adapter.BuildExecutor = (*NoopExecutor)(nil)

// NoopExecutor stands in for the real build pipeline in development and
// tests. It sleeps briefly so worker timing paths are exercised.
type NoopExecutor struct {
	Delay time.Duration
}

func (e *NoopExecutor) Execute(ctx context.Context, p adapter.ExecuteParams) error {
	d := e.Delay
	if d <= 0 {
		d = 100 * time.Millisecond
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
