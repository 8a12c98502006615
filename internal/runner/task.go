package runner

import (
	"context"
	"time"
)

// Task represents a background task that can be scheduled
type Task interface {
	// Name returns the unique name of the task
	Name() string

	// Schedule returns the cron expression, seconds first, or an @every descriptor
	Schedule() string

	Run(ctx context.Context) error

	// Timeout returns the maximum time one run may take; zero means unbounded
	Timeout() time.Duration
}

// TaskRegistry holds all registered tasks
type TaskRegistry struct {
	tasks map[string]Task
}

func NewTaskRegistry() *TaskRegistry {
	return &TaskRegistry{
		tasks: make(map[string]Task),
	}
}

// Register adds a task to the registry, replacing one with the same name.
func (r *TaskRegistry) Register(task Task) {
	r.tasks[task.Name()] = task
}

func (r *TaskRegistry) Get(name string) (Task, bool) {
	task, exists := r.tasks[name]
	return task, exists
}

func (r *TaskRegistry) All() map[string]Task {
	return r.tasks
}
