// Package queue feeds messages into the job broker and delivers them.
package queue

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/ches/internal/data"
	"github.com/dmitrymomot/ches/internal/metrics"
	"github.com/dmitrymomot/ches/internal/model"
	"github.com/dmitrymomot/ches/internal/problem"
	"github.com/dmitrymomot/ches/pkg/job"
)

// DispatchTaskName is the broker task that delivers one message.
const DispatchTaskName = "dispatch_message"

// DispatchPayload is the job payload of DispatchTaskName.
type DispatchPayload struct {
	MessageID uuid.UUID `json:"message_id"`
}

// Jobs is the broker surface the service needs. *job.Manager satisfies it.
type Jobs interface {
	Enqueue(ctx context.Context, name string, payload any, opts ...job.EnqueueOption) (int64, error)
	Cancel(ctx context.Context, id int64) (bool, error)
}

// Messages is the persistence surface. *data.Service satisfies it.
type Messages interface {
	ReadMessage(ctx context.Context, id uuid.UUID) (model.Message, error)
	UpdateStatus(ctx context.Context, u data.StatusUpdate) (model.Message, error)
	RecordQueueEvent(ctx context.Context, messageID uuid.UUID, queueID, status string) error
}

// Service enqueues and cancels dispatch jobs.
type Service struct {
	jobs        Jobs
	messages    Messages
	metrics     metrics.Recorder
	log         *slog.Logger
	maxAttempts int
	now         func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithMaxAttempts caps delivery attempts per message.
func WithMaxAttempts(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(r metrics.Recorder) Option {
	return func(s *Service) { s.metrics = r }
}

// NewService creates a Service.
func NewService(jobs Jobs, messages Messages, log *slog.Logger, opts ...Option) *Service {
	s := &Service{
		jobs:        jobs,
		messages:    messages,
		metrics:     metrics.Nop{},
		log:         log,
		maxAttempts: 5,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Enqueue schedules delivery of msg and returns the job handle. A future
// DelayTS defers the job until then. The handle is recorded as a queue
// event without changing the message status.
func (s *Service) Enqueue(ctx context.Context, msg model.Message) (string, error) {
	opts := []job.EnqueueOption{job.MaxAttempts(s.maxAttempts)}
	if msg.DelayTS != nil {
		if at := time.UnixMilli(*msg.DelayTS); at.After(s.now()) {
			opts = append(opts, job.ScheduledAt(at))
		}
	}
	if msg.Content != nil && msg.Content.Email != nil {
		opts = append(opts, job.Priority(jobPriority(msg.Content.Email.Priority)))
	}

	id, err := s.jobs.Enqueue(ctx, DispatchTaskName, DispatchPayload{MessageID: msg.ID}, opts...)
	if err != nil {
		return "", problem.Dependency(err, "failed to enqueue message %s", msg.ID)
	}
	handle := strconv.FormatInt(id, 10)
	s.metrics.MessageEnqueued()

	// A worker may already have reported on this job, so the handle never
	// goes through UpdateStatus.
	if err := s.messages.RecordQueueEvent(ctx, msg.ID, handle, model.StatusAccepted); err != nil {
		return handle, err
	}

	s.log.DebugContext(ctx, "message enqueued",
		slog.String("message_id", msg.ID.String()),
		slog.String("job_id", handle),
	)
	return handle, nil
}

// Cancel removes a job that no worker has claimed yet. It reports whether
// the job was cancelled.
func (s *Service) Cancel(ctx context.Context, handle string) (bool, error) {
	id, err := strconv.ParseInt(handle, 10, 64)
	if err != nil {
		return false, problem.Validation("invalid job handle %q", handle)
	}
	ok, err := s.jobs.Cancel(ctx, id)
	if err != nil {
		return false, problem.Dependency(err, "failed to cancel job %s", handle)
	}
	return ok, nil
}

// jobPriority maps email priority onto broker priority, 1 being first.
func jobPriority(p string) int {
	switch p {
	case model.PriorityHigh:
		return 1
	case model.PriorityLow:
		return 3
	default:
		return 2
	}
}
