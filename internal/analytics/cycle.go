package analytics

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// CycleDeps are the nightly jobs beyond analysis itself. Nil members
// are skipped.
type CycleDeps struct {
	ForesightDecay         func(ctx context.Context) error
	NormalizeRelationships func(ctx context.Context) error
	ConsolidateMemories    func(ctx context.Context) error
}

// Cycle runs the nightly maintenance sequence: analyze with score
// write-back, regenerate discovery candidates, decay foresight, then
// normalize relationship types. Results from analysis feed retrieval
// weighting the next day.
type Cycle struct {
	service *Service
	deps    CycleDeps
	logger  *zap.Logger

	mu        sync.Mutex
	lastRun   time.Time
	cycleRuns int64
}

// NewCycle wires the runner.
func NewCycle(service *Service, deps CycleDeps, logger *zap.Logger) *Cycle {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cycle{service: service, deps: deps, logger: logger.Named("cycle")}
}

// Run executes one full cycle. Individual step failures log and the
// cycle continues; the stores reconcile eventually.
func (c *Cycle) Run(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("Cycle panicked", zap.Any("panic", r), zap.Stack("stacktrace"))
		}
	}()

	c.mu.Lock()
	c.cycleRuns++
	run := c.cycleRuns
	c.mu.Unlock()

	start := time.Now()
	c.logger.Info("Starting maintenance cycle", zap.Int64("run", run))

	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	if _, err := c.service.Analyze(ctx, true); err != nil {
		c.logger.Warn("Cycle analysis failed", zap.Error(err))
	}
	if _, err := c.service.GenerateCandidates(ctx); err != nil {
		c.logger.Warn("Cycle candidate generation failed", zap.Error(err))
	}
	if c.deps.ForesightDecay != nil {
		if err := c.deps.ForesightDecay(ctx); err != nil {
			c.logger.Warn("Cycle foresight decay failed", zap.Error(err))
		}
	}
	if c.deps.NormalizeRelationships != nil {
		if err := c.deps.NormalizeRelationships(ctx); err != nil {
			c.logger.Warn("Cycle relationship normalization failed", zap.Error(err))
		}
	}
	if c.deps.ConsolidateMemories != nil {
		if err := c.deps.ConsolidateMemories(ctx); err != nil {
			c.logger.Warn("Cycle consolidation failed", zap.Error(err))
		}
	}

	c.mu.Lock()
	c.lastRun = time.Now()
	c.mu.Unlock()

	c.logger.Info("Maintenance cycle complete",
		zap.Int64("run", run),
		zap.Duration("duration", time.Since(start)))
}

// RunNightly blocks, running the cycle once per interval until ctx is
// done.
func (c *Cycle) RunNightly(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Run(ctx)
		}
	}
}

// Stats reports cycle counters.
func (c *Cycle) Stats() map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return map[string]any{
		"runs":     c.cycleRuns,
		"last_run": c.lastRun,
	}
}
