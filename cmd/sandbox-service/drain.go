package main

import (
	"context"
	"fmt"
	"time"

	"ownide/pkg/utils/logger"

	"go.uber.org/zap"
)

// drainExtra is added to the container stop timeout when waiting for
// cancelled workers, covering the final store write and event publish.
const drainExtra = 2 * time.Second

type drainer interface {
	Shutdown(ctx context.Context) error
}

// drainWorkers waits for queued and running jobs until ctx expires. If they
// are still busy it cancels their work and then waits up to grace for them
// to stop their containers, so the runtime client is not closed underneath them.
func drainWorkers(ctx context.Context, d drainer, cancelWork context.CancelFunc, grace time.Duration) error {
	err := d.Shutdown(ctx)
	if err == nil {
		return nil
	}
	logger.Warn(ctx, "dispatcher drain incomplete, cancelling running jobs", zap.Error(err))
	cancelWork()

	graceCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	if err := d.Shutdown(graceCtx); err != nil {
		return fmt.Errorf("workers still running after %s: %w", grace, err)
	}
	return nil
}
