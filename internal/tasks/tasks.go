// Package tasks provides a supervised runner for background work in
// scanward. Every task runs in its own goroutine under panic recovery,
// concurrency is bounded, callers get a handle to await completion, and
// shutdown joins all in-flight tasks before returning.
package tasks

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/scanward/scanward/internal/logging"
	"github.com/scanward/scanward/internal/metrics"
)

// Task represents a unit of background work.
type Task interface {
	// Execute performs the task and returns an error if it fails.
	Execute(ctx context.Context) error
	// ID returns a unique identifier for the task.
	ID() string
	// Type returns the task type for metrics and logging.
	Type() string
}

// Handle tracks one launched task. It resolves exactly once, when the task
// returns or panics.
type Handle struct {
	id       string
	taskType string
	done     chan struct{}
	err      error
	duration time.Duration
}

// Done returns a channel closed when the task has finished.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Err returns the task error. Only valid after Done is closed.
func (h *Handle) Err() error {
	return h.err
}

// Duration returns how long the task ran. Only valid after Done is closed.
func (h *Handle) Duration() time.Duration {
	return h.duration
}

// Wait blocks until the task finishes or the context expires.
func (h *Handle) Wait(ctx context.Context) error {
	select {
	case <-h.done:
		return h.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Config holds runner configuration.
type Config struct {
	// MaxConcurrent bounds how many tasks run at once.
	MaxConcurrent int
	// ShutdownTimeout is the maximum time to wait for tasks on shutdown.
	ShutdownTimeout time.Duration
}

// DefaultConfig returns a default runner configuration.
func DefaultConfig() Config {
	return Config{
		MaxConcurrent:   4,
		ShutdownTimeout: 30 * time.Second,
	}
}

// Runner launches and supervises tasks.
type Runner struct {
	config     Config
	semaphore  chan struct{}
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
	logger     *logging.Logger
	active     int64
	shutdown32 int32
}

// NewRunner creates a task runner.
func NewRunner(config Config) *Runner {
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = DefaultConfig().MaxConcurrent
	}
	ctx, cancel := context.WithCancel(context.Background())

	return &Runner{
		config:    config,
		semaphore: make(chan struct{}, config.MaxConcurrent),
		ctx:       ctx,
		cancel:    cancel,
		logger:    logging.Default().WithComponent("tasks"),
	}
}

// Go launches a task and returns its handle. Blocks while the concurrency
// limit is reached, and rejects the task when the runner is shut down
// before a slot frees up.
func (r *Runner) Go(task Task) (*Handle, error) {
	if atomic.LoadInt32(&r.shutdown32) == 1 {
		return nil, fmt.Errorf("task runner is shut down")
	}

	select {
	case r.semaphore <- struct{}{}:
	case <-r.ctx.Done():
		return nil, fmt.Errorf("task runner is shutting down")
	}

	handle := &Handle{
		id:       task.ID(),
		taskType: task.Type(),
		done:     make(chan struct{}),
	}

	r.wg.Add(1)
	active := atomic.AddInt64(&r.active, 1)
	metrics.Gauge(metrics.MetricTasksActive, float64(active), nil)

	go r.supervise(task, handle, true)

	r.logger.Debug("Task launched", "task_id", task.ID(), "task_type", task.Type())
	return handle, nil
}

// GoDetached launches a task outside the concurrency limit. The task is
// still supervised: it joins shutdown, counts toward the active gauge, and
// runs under panic recovery. Tasks launched from inside another task must
// use this entry point, since Go would block on the slot the caller still
// holds.
func (r *Runner) GoDetached(task Task) (*Handle, error) {
	if atomic.LoadInt32(&r.shutdown32) == 1 {
		return nil, fmt.Errorf("task runner is shut down")
	}

	handle := &Handle{
		id:       task.ID(),
		taskType: task.Type(),
		done:     make(chan struct{}),
	}

	r.wg.Add(1)
	active := atomic.AddInt64(&r.active, 1)
	metrics.Gauge(metrics.MetricTasksActive, float64(active), nil)

	go r.supervise(task, handle, false)

	r.logger.Debug("Task launched", "task_id", task.ID(), "task_type", task.Type(), "detached", true)
	return handle, nil
}

// supervise runs one task to completion with panic recovery. holdsSlot
// says whether the task occupies a semaphore slot that must be released.
func (r *Runner) supervise(task Task, handle *Handle, holdsSlot bool) {
	start := time.Now()

	defer func() {
		if rec := recover(); rec != nil {
			handle.err = fmt.Errorf("task panicked: %v", rec)
			metrics.Counter(metrics.MetricTaskPanics, metrics.Labels{"task_type": handle.taskType})
			r.logger.Error("Task panicked",
				"task_id", handle.id,
				"task_type", handle.taskType,
				"panic", fmt.Sprintf("%v", rec))
		}

		handle.duration = time.Since(start)
		close(handle.done)

		active := atomic.AddInt64(&r.active, -1)
		metrics.Gauge(metrics.MetricTasksActive, float64(active), nil)
		if holdsSlot {
			<-r.semaphore
		}
		r.wg.Done()
	}()

	handle.err = task.Execute(r.ctx)

	if handle.err != nil {
		r.logger.Error("Task failed",
			"task_id", handle.id,
			"task_type", handle.taskType,
			"error", handle.err)
	} else {
		r.logger.Debug("Task completed",
			"task_id", handle.id,
			"task_type", handle.taskType,
			"duration", time.Since(start))
	}
}

// Active returns the number of tasks currently running.
func (r *Runner) Active() int {
	return int(atomic.LoadInt64(&r.active))
}

// Shutdown stops accepting tasks, cancels in-flight task contexts, and
// joins all tasks. Returns an error when tasks are still running after the
// shutdown timeout; it still waits for them before returning.
func (r *Runner) Shutdown() error {
	if !atomic.CompareAndSwapInt32(&r.shutdown32, 0, 1) {
		return nil
	}

	r.logger.Info("Shutting down task runner", "active", r.Active())
	r.cancel()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.logger.Info("Task runner shutdown completed")
		return nil
	case <-time.After(r.config.ShutdownTimeout):
		r.logger.Warn("Task runner shutdown timeout, waiting for remaining tasks")
		<-done
		return fmt.Errorf("task runner shutdown exceeded %s", r.config.ShutdownTimeout)
	}
}

// FuncTask adapts a plain function to the Task interface.
type FuncTask struct {
	id       string
	taskType string
	fn       func(ctx context.Context) error
}

// NewFuncTask creates a task from a function.
func NewFuncTask(id, taskType string, fn func(ctx context.Context) error) *FuncTask {
	return &FuncTask{id: id, taskType: taskType, fn: fn}
}

// Execute implements the Task interface.
func (t *FuncTask) Execute(ctx context.Context) error {
	return t.fn(ctx)
}

// ID implements the Task interface.
func (t *FuncTask) ID() string {
	return t.id
}

// Type implements the Task interface.
func (t *FuncTask) Type() string {
	return t.taskType
}
