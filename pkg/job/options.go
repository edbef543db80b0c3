package job

import (
	"context"
	"log/slog"
	"time"
)

const (
	defaultMaxWorkers      = 100
	defaultConnectAttempts = 5
	defaultConnectInterval = time.Second
	defaultBackoffBase     = time.Second
	defaultBackoffMax      = 5 * time.Minute
)

// config holds job manager configuration.
type config struct {
	registry        registry
	queues          map[string]int
	logger          *slog.Logger
	schedules       []scheduleConfig
	maxWorkers      int
	connectAttempts int
	connectInterval time.Duration
	backoffBase     time.Duration
	backoffMax      time.Duration
}

// newConfig creates a config with defaults.
func newConfig() *config {
	return &config{
		registry:        registry{},
		queues:          make(map[string]int),
		maxWorkers:      defaultMaxWorkers,
		connectAttempts: defaultConnectAttempts,
		connectInterval: defaultConnectInterval,
		backoffBase:     defaultBackoffBase,
		backoffMax:      defaultBackoffMax,
	}
}

// Option configures the job manager.
type Option func(*config)

// WithTask registers a task handler using structural typing.
// The task must implement Name() and Handle(ctx, P) methods.
// The payload type P is inferred from the Handle method signature.
//
// Example:
//
//	type Dispatch struct{ ... }
//
//	func (t *Dispatch) Name() string { return "dispatch_message" }
//	func (t *Dispatch) Handle(ctx context.Context, p DispatchPayload) error { ... }
//
//	job.WithTask[queue.DispatchPayload](queue.NewDispatch(...))
func WithTask[P any, T interface {
	Name() string
	Handle(context.Context, P) error
}](task T) Option {
	return func(c *config) {
		c.registry.register(task.Name(), decoding(task.Handle))
	}
}

// WithScheduledTask registers a periodic task using structural typing.
// The task must implement Name(), Schedule(), and Handle(ctx) methods.
// Schedule() should return a cron expression (5 fields: min hour day month weekday).
func WithScheduledTask[T interface {
	Name() string
	Schedule() string
	Handle(context.Context) error
}](task T) Option {
	return func(c *config) {
		c.schedules = append(c.schedules, scheduleConfig{
			name:     task.Name(),
			schedule: task.Schedule(),
			handler:  task.Handle,
		})
	}
}

// WithQueue configures a named queue with the specified number of workers.
//
// Example:
//
//	job.WithQueue("email", 10)
func WithQueue(name string, workers int) Option {
	return func(c *config) {
		if workers > 0 {
			c.queues[name] = workers
		}
	}
}

// WithLogger sets the logger for job processing.
// If not set, a noop logger is used.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithMaxWorkers sets the worker count of the default queue.
// Defaults to 100 if not set.
func WithMaxWorkers(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.maxWorkers = n
		}
	}
}

// WithConnectRetry bounds how many times Connect pings the database
// before giving up, and how long it waits between attempts.
func WithConnectRetry(attempts int, interval time.Duration) Option {
	return func(c *config) {
		if attempts > 0 {
			c.connectAttempts = attempts
		}
		if interval > 0 {
			c.connectInterval = interval
		}
	}
}

// WithBackoff sets the exponential retry backoff for failed jobs:
// base * 2^(attempt-1), capped at max.
func WithBackoff(base, max time.Duration) Option {
	return func(c *config) {
		if base > 0 {
			c.backoffBase = base
		}
		if max > 0 {
			c.backoffMax = max
		}
	}
}
