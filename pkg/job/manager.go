package job

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
	"github.com/riverqueue/river/rivertype"
)

// Manager is the process-wide handle to the job broker.
// The underlying River client is created lazily on first use (Connect,
// Enqueue, Cancel or Start) after the database answers a ping, and lives
// until Stop.
type Manager struct {
	pool         *pgxpool.Pool
	cfg          *config
	logger       *slog.Logger
	periodicJobs []*river.PeriodicJob

	mu      sync.Mutex
	client  *river.Client[pgx.Tx]
	started bool
	closed  bool
}

// NewManager creates a new job manager with the given options.
// No connection is made until the manager is first used.
func NewManager(pool *pgxpool.Pool, opts ...Option) (*Manager, error) {
	if pool == nil {
		return nil, ErrPoolRequired
	}

	cfg := newConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	if cfg.logger == nil {
		cfg.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	var periodicJobs []*river.PeriodicJob
	for _, sched := range cfg.schedules {
		cronSchedule, err := parseCronSchedule(sched.schedule)
		if err != nil {
			return nil, fmt.Errorf("job: invalid cron schedule %q: %w", sched.schedule, err)
		}

		name := sched.name
		periodicJobs = append(periodicJobs, river.NewPeriodicJob(
			cronSchedule,
			func() (river.JobArgs, *river.InsertOpts) {
				return &taskArgs{TaskName: name}, nil
			},
			&river.PeriodicJobOpts{RunOnStart: false},
		))

		cfg.registry.register(sched.name, &scheduledTaskExecutor{handler: sched.handler})
	}

	return &Manager{
		pool:         pool,
		cfg:          cfg,
		logger:       cfg.logger,
		periodicJobs: periodicJobs,
	}, nil
}

// Connect establishes the broker client if it does not exist yet.
// The database is pinged up to the configured number of attempts first.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, err := m.connectLocked(ctx)
	return err
}

// Connected reports whether the broker client exists and the manager is open.
func (m *Manager) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.client != nil && !m.closed
}

func (m *Manager) connectLocked(ctx context.Context) (*river.Client[pgx.Tx], error) {
	if m.closed {
		return nil, ErrClosed
	}
	if m.client != nil {
		return m.client, nil
	}

	if err := m.ping(ctx); err != nil {
		return nil, err
	}

	queues := map[string]river.QueueConfig{
		river.QueueDefault: {MaxWorkers: m.cfg.maxWorkers},
	}
	for name, workers := range m.cfg.queues {
		queues[name] = river.QueueConfig{MaxWorkers: workers}
	}

	workers := river.NewWorkers()
	river.AddWorker(workers, &taskWorker{
		registry: m.cfg.registry,
		logger:   m.logger,
	})

	client, err := river.NewClient(riverpgxv5.New(m.pool), &river.Config{
		Queues:       queues,
		Workers:      workers,
		PeriodicJobs: m.periodicJobs,
		RetryPolicy:  newBackoffPolicy(m.cfg.backoffBase, m.cfg.backoffMax),
		Logger:       m.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("job: create client: %w", err)
	}

	m.client = client
	m.logger.InfoContext(ctx, "job broker connected",
		slog.Int("tasks", len(m.cfg.registry.names())),
	)
	return client, nil
}

func (m *Manager) ping(ctx context.Context) error {
	var lastErr error
	for attempt := 1; attempt <= m.cfg.connectAttempts; attempt++ {
		err := m.pool.Ping(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		m.logger.WarnContext(ctx, "job broker not reachable",
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", m.cfg.connectAttempts),
			slog.Any("error", err),
		)

		if attempt == m.cfg.connectAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return errors.Join(ErrConnectFailed, ctx.Err())
		case <-time.After(m.cfg.connectInterval):
		}
	}
	return errors.Join(ErrConnectFailed, lastErr)
}

func (m *Manager) riverClient(ctx context.Context) (*river.Client[pgx.Tx], error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connectLocked(ctx)
}

// Migrate applies River's schema migrations.
func (m *Manager) Migrate(ctx context.Context) error {
	migrator, err := rivermigrate.New(riverpgxv5.New(m.pool), &rivermigrate.Config{
		Logger: m.logger,
	})
	if err != nil {
		return fmt.Errorf("job: create migrator: %w", err)
	}

	res, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil)
	if err != nil {
		return fmt.Errorf("job: migrate: %w", err)
	}

	m.logger.InfoContext(ctx, "job migrations applied", slog.Int("versions", len(res.Versions)))
	return nil
}

// Start begins processing jobs.
// Jobs can be enqueued before Start() is called.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started {
		return ErrAlreadyStarted
	}

	client, err := m.connectLocked(ctx)
	if err != nil {
		return err
	}

	if err := client.Start(ctx); err != nil {
		return fmt.Errorf("job: start client: %w", err)
	}

	m.started = true
	m.logger.InfoContext(ctx, "job manager started",
		slog.Int("tasks", len(m.cfg.registry.names())),
	)

	return nil
}

// Stop waits for running jobs to finish and closes the manager.
// A stopped manager cannot be restarted.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	if !m.started {
		return ErrNotStarted
	}

	if err := m.client.Stop(ctx); err != nil {
		return fmt.Errorf("job: stop client: %w", err)
	}

	m.started = false
	m.logger.InfoContext(ctx, "job manager stopped")
	return nil
}

// Enqueue adds a job to the queue and returns its id.
// The job will be executed by the task registered under name.
func (m *Manager) Enqueue(ctx context.Context, name string, payload any, opts ...EnqueueOption) (int64, error) {
	if _, ok := m.cfg.registry.get(name); !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownTask, name)
	}

	args, insertOpts, err := buildJobArgs(name, payload, opts...)
	if err != nil {
		return 0, err
	}

	client, err := m.riverClient(ctx)
	if err != nil {
		return 0, err
	}

	res, err := client.Insert(ctx, args, insertOpts)
	if err != nil {
		return 0, fmt.Errorf("job: enqueue: %w", err)
	}

	return res.Job.ID, nil
}

// Cancel removes a job that no worker has picked up yet.
// It reports false without error when the job does not exist or is
// already running or finished.
func (m *Manager) Cancel(ctx context.Context, id int64) (bool, error) {
	client, err := m.riverClient(ctx)
	if err != nil {
		return false, err
	}

	row, err := client.JobGet(ctx, id)
	if errors.Is(err, rivertype.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("job: get %d: %w", id, err)
	}

	if !cancellable(row.State) {
		return false, nil
	}

	if _, err := client.JobCancel(ctx, id); err != nil {
		return false, fmt.Errorf("job: cancel %d: %w", id, err)
	}

	m.logger.DebugContext(ctx, "job cancelled", slog.Int64("job_id", id))
	return true, nil
}

func cancellable(state rivertype.JobState) bool {
	switch state {
	case rivertype.JobStateAvailable, rivertype.JobStateScheduled, rivertype.JobStateRetryable:
		return true
	default:
		return false
	}
}

// taskArgs is the River job arguments type for every registered task.
type taskArgs struct {
	TaskName string          `json:"task_name"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

func (taskArgs) Kind() string {
	return "ches:task"
}

// taskWorker processes all tasks through the registry.
type taskWorker struct {
	river.WorkerDefaults[taskArgs]
	registry registry
	logger   *slog.Logger
}

func (w *taskWorker) Work(ctx context.Context, job *river.Job[taskArgs]) error {
	executor, ok := w.registry.get(job.Args.TaskName)
	if !ok || executor == nil {
		return river.JobCancel(fmt.Errorf("%w: %s", ErrUnknownTask, job.Args.TaskName))
	}

	ctx = ContextWithInfo(ctx, Info{
		Task:        job.Args.TaskName,
		ID:          job.ID,
		Attempt:     job.Attempt,
		MaxAttempts: job.MaxAttempts,
	})

	w.logger.DebugContext(ctx, "executing task")

	if err := executor.Execute(ctx, job.Args.Payload); err != nil {
		w.logger.ErrorContext(ctx, "task failed", slog.Any("error", err))
		return err
	}

	w.logger.DebugContext(ctx, "task completed")
	return nil
}

// Shutdown returns a shutdown function for the job manager.
// A manager that never started shuts down cleanly.
func (m *Manager) Shutdown() func(context.Context) error {
	return func(ctx context.Context) error {
		if err := m.Stop(ctx); err != nil && !errors.Is(err, ErrNotStarted) {
			return err
		}
		return nil
	}
}

// StartFunc returns a startup function for the job manager.
func (m *Manager) StartFunc() func(context.Context) error {
	return func(ctx context.Context) error {
		return m.Start(ctx)
	}
}
