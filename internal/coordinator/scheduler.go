package coordinator

import (
	"context"
	"time"

	"github.com/corvid-labs/ragpipe/internal/metastore"
)

// retrySweepLimit bounds how many failed documents one sweep re-enqueues.
const retrySweepLimit = 20

// startSchedulers launches the periodic maintenance loops: terminal-task
// cleanup, health probes and the failed-document retry sweep. Each runs
// on its own interval and shares resources with on-demand tasks, so none
// of them assumes exclusive access.
func (c *Coordinator) startSchedulers(ctx context.Context) {
	if c.cfg.CleanupInterval > 0 {
		go c.runTicker(ctx, c.cfg.CleanupInterval, c.cleanupTasks)
	}
	if c.cfg.HealthInterval > 0 {
		go c.runTicker(ctx, c.cfg.HealthInterval, c.probeHealth)
	}
	if c.cfg.RetryInterval > 0 {
		go c.runTicker(ctx, c.cfg.RetryInterval, c.sweepFailed)
	}
}

func (c *Coordinator) runTicker(ctx context.Context, interval time.Duration, fn func(context.Context)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case <-ticker.C:
			fn(ctx)
		}
	}
}

// cleanupTasks prunes terminal tasks past the retention window so the
// in-memory registry stays bounded.
func (c *Coordinator) cleanupTasks(_ context.Context) {
	cutoff := time.Now().UTC().Add(-c.cfg.TaskRetention)
	if removed := c.tasks.prune(cutoff); removed > 0 {
		c.logger.Info("pruned finished tasks", "count", removed)
	}
}

// probeHealth logs degraded subsystems; it never fails the process.
func (c *Coordinator) probeHealth(ctx context.Context) {
	for subsystem, status := range c.Health(ctx) {
		if status != "ok" {
			c.logger.Warn("subsystem unhealthy", "subsystem", subsystem, "status", status)
		}
	}
}

// sweepFailed re-enqueues failed documents that no tracked task
// references, which recovers work lost to a crash. Documents whose task
// exhausted its retries keep their failed task entry until the cleanup
// retention elapses, so the sweep does not immediately spin on them.
func (c *Coordinator) sweepFailed(ctx context.Context) {
	docs, err := c.meta.ListByStatus(ctx, metastore.StatusFailed, retrySweepLimit)
	if err != nil {
		c.logger.Warn("retry sweep query failed", "error", err)
		return
	}

	for _, doc := range docs {
		if c.hasTask(doc.Path) {
			continue
		}
		id, err := c.SubmitDocument(doc.Path, doc.Type)
		if err != nil {
			c.logger.Warn("retry sweep submission rejected", "source", doc.Path, "error", err)
			continue
		}
		c.logger.Info("re-enqueued failed document", "source", doc.Path, "task", id)
	}
}

// hasTask reports whether any tracked task references source.
func (c *Coordinator) hasTask(source string) bool {
	c.tasks.mu.RLock()
	defer c.tasks.mu.RUnlock()
	for _, task := range c.tasks.tasks {
		if task.Source == source {
			return true
		}
	}
	return false
}
