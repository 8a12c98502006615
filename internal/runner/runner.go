// Package runner schedules background tasks such as mailbox polling.
package runner

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Runner manages and executes scheduled background tasks
type Runner struct {
	cron     *cron.Cron
	registry *TaskRegistry
	logger   *zap.Logger
	wg       sync.WaitGroup
}

// NewRunner creates a new task runner. Overlapping runs of the same task are skipped.
func NewRunner(registry *TaskRegistry, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
		),
		registry: registry,
		logger:   logger,
	}
}

// Start schedules every registered task and blocks until ctx is done.
func (r *Runner) Start(ctx context.Context) error {
	if err := r.schedule(ctx); err != nil {
		return err
	}
	r.cron.Start()
	r.logger.Info("task runner started", zap.Int("tasks", len(r.registry.All())))

	<-ctx.Done()
	r.Stop()
	return nil
}

func (r *Runner) schedule(ctx context.Context) error {
	for _, name := range r.registry.Names() {
		task, _ := r.registry.Get(name)
		r.logger.Info("registering task", zap.String("task", name), zap.String("schedule", task.Schedule()))
		if _, err := r.cron.AddFunc(task.Schedule(), func() { r.RunOnce(ctx, task) }); err != nil {
			return fmt.Errorf("failed to schedule task %s: %w", name, err)
		}
	}
	return nil
}

// RunOnce runs a single task with its timeout and logs the outcome.
func (r *Runner) RunOnce(ctx context.Context, task Task) error {
	r.wg.Add(1)
	defer r.wg.Done()

	taskCtx := ctx
	if d := task.Timeout(); d > 0 {
		var cancel context.CancelFunc
		taskCtx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	start := time.Now()
	err := task.Run(taskCtx)
	log := r.logger.With(zap.String("task", task.Name()), zap.Duration("duration", time.Since(start)))
	if err != nil {
		log.Warn("task failed", zap.Error(err))
		return err
	}
	log.Debug("task completed")
	return nil
}

// Stop waits for running tasks to complete.
func (r *Runner) Stop() {
	stopped := r.cron.Stop()
	r.wg.Wait()
	<-stopped.Done()
	r.logger.Info("task runner stopped")
}

// Names returns the registered task names in order.
func (r *TaskRegistry) Names() []string {
	names := make([]string, 0, len(r.tasks))
	for name := range r.tasks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
