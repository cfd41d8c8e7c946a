// Package workers runs fire-and-forget post-commit tasks on a bounded
// ants pool. Failures log and drop; callers never observe them.
package workers

import (
	"context"
	"time"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"
)

// Pool wraps ants with panic recovery and a per-task timeout.
type Pool struct {
	pool    *ants.Pool
	logger  *zap.Logger
	timeout time.Duration
}

// NewPool sizes the pool. Tasks past capacity block the submitter, so
// size generously relative to expected ingest concurrency.
func NewPool(size int, taskTimeout time.Duration, logger *zap.Logger) (*Pool, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if size <= 0 {
		size = 32
	}
	if taskTimeout <= 0 {
		taskTimeout = 30 * time.Second
	}

	p := &Pool{logger: logger.Named("workers"), timeout: taskTimeout}
	pool, err := ants.NewPool(size, ants.WithPanicHandler(func(r any) {
		p.logger.Error("Background task panicked",
			zap.Any("panic", r),
			zap.Stack("stacktrace"))
	}))
	if err != nil {
		return nil, err
	}
	p.pool = pool
	return p, nil
}

// Submit schedules a named task. The task gets its own context; the
// submitting request returns without waiting.
func (p *Pool) Submit(name string, task func(ctx context.Context) error) {
	err := p.pool.Submit(func() {
		ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
		defer cancel()
		if err := task(ctx); err != nil {
			p.logger.Warn("Background task failed",
				zap.String("task", name),
				zap.Error(err))
		}
	})
	if err != nil {
		p.logger.Warn("Background task rejected",
			zap.String("task", name),
			zap.Error(err))
	}
}

// Running reports in-flight task count.
func (p *Pool) Running() int { return p.pool.Running() }

// Release stops accepting tasks and waits briefly for stragglers.
func (p *Pool) Release() {
	_ = p.pool.ReleaseTimeout(5 * time.Second)
}
