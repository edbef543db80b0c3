// Package ches is the dispatch orchestrator: it persists send requests,
// enqueues their messages and answers status and cancel calls scoped to the
// calling client.
package ches

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/ches/internal/data"
	"github.com/dmitrymomot/ches/internal/metrics"
	"github.com/dmitrymomot/ches/internal/model"
	"github.com/dmitrymomot/ches/internal/problem"
	"github.com/dmitrymomot/ches/pkg/cache"
)

// Store is the persistence surface. *data.Service satisfies it.
type Store interface {
	Create(ctx context.Context, client string, emails ...model.Email) (model.Transaction, error)
	ReadMessage(ctx context.Context, id uuid.UUID) (model.Message, error)
	UpdateStatus(ctx context.Context, u data.StatusUpdate) (model.Message, error)
	FindMessages(ctx context.Context, filter model.MessageFilter) ([]model.Message, error)
	MessageClient(ctx context.Context, id uuid.UUID) (string, error)
}

// Queue is the dispatch queue. *queue.Service satisfies it.
type Queue interface {
	Enqueue(ctx context.Context, msg model.Message) (string, error)
	Cancel(ctx context.Context, handle string) (bool, error)
}

// Expander renders a template once per context. *merge.Expander satisfies it.
type Expander interface {
	Expand(t model.Template) ([]model.Email, error)
}

// Service is the orchestrator.
type Service struct {
	store     Store
	queue     Queue
	expander  Expander
	owners    cache.Cache[string]
	metrics   metrics.Recorder
	log       *slog.Logger
	devClient string
	ownerTTL  time.Duration
}

// Option configures a Service.
type Option func(*Service)

// WithOwnerCache caches message owners. Owners never change once written.
func WithOwnerCache(c cache.Cache[string], ttl time.Duration) Option {
	return func(s *Service) {
		s.owners = c
		s.ownerTTL = ttl
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(r metrics.Recorder) Option {
	return func(s *Service) { s.metrics = r }
}

// WithDevClient sets the client recorded for dev-mode sends without one.
func WithDevClient(client string) Option {
	return func(s *Service) {
		if client != "" {
			s.devClient = client
		}
	}
}

// New creates the orchestrator.
func New(store Store, queue Queue, expander Expander, log *slog.Logger, opts ...Option) *Service {
	s := &Service{
		store:     store,
		queue:     queue,
		expander:  expander,
		metrics:   metrics.Nop{},
		log:       log,
		devClient: "ches-dev",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SendEmail persists one email and enqueues it.
func (s *Service) SendEmail(ctx context.Context, client string, email *model.Email, devMode bool) (model.Transaction, error) {
	if email == nil {
		return model.Transaction{}, problem.Validation("email is required")
	}
	client, err := s.resolveClient(client, devMode)
	if err != nil {
		return model.Transaction{}, err
	}
	return s.send(ctx, client, metrics.KindSingle, *email)
}

// SendEmailMerge expands the template and sends the results as one transaction.
func (s *Service) SendEmailMerge(ctx context.Context, client string, tpl *model.Template, devMode bool) (model.Transaction, error) {
	if tpl == nil {
		return model.Transaction{}, problem.Validation("template is required")
	}
	client, err := s.resolveClient(client, devMode)
	if err != nil {
		return model.Transaction{}, err
	}
	emails, err := s.expander.Expand(*tpl)
	if err != nil {
		return model.Transaction{}, err
	}
	return s.send(ctx, client, metrics.KindMerge, emails...)
}

// PreviewMerge expands the template without persisting anything.
func (s *Service) PreviewMerge(tpl *model.Template) ([]model.Email, error) {
	if tpl == nil {
		return nil, problem.Validation("template is required")
	}
	return s.expander.Expand(*tpl)
}

func (s *Service) send(ctx context.Context, client, kind string, emails ...model.Email) (model.Transaction, error) {
	trx, err := s.store.Create(ctx, client, emails...)
	if err != nil {
		return model.Transaction{}, err
	}
	s.metrics.TransactionCreated(kind, len(trx.Messages))

	for i, msg := range trx.Messages {
		if s.owners != nil {
			_ = s.owners.Set(ctx, msg.ID.String(), client, s.ownerTTL)
		}
		handle, err := s.queue.Enqueue(ctx, msg)
		if err != nil {
			s.log.ErrorContext(ctx, "failed to enqueue message",
				slog.String("transaction_id", trx.ID.String()),
				slog.String("message_id", msg.ID.String()),
				slog.Any("error", err),
			)
			// With a handle the job is in the broker and its worker reports.
			rest := trx.Messages[i:]
			if handle != "" {
				rest = trx.Messages[i+1:]
			}
			s.markUnqueued(ctx, rest, err)
			return model.Transaction{}, err
		}
	}
	return trx, nil
}

// markUnqueued settles messages that never reached the broker as errored.
func (s *Service) markUnqueued(ctx context.Context, msgs []model.Message, cause error) {
	ctx = context.WithoutCancel(ctx)
	for _, msg := range msgs {
		_, err := s.store.UpdateStatus(ctx, data.StatusUpdate{
			MessageID:   msg.ID,
			Status:      model.StatusErrored,
			Description: "enqueue failed: " + cause.Error(),
		})
		if err != nil {
			s.log.ErrorContext(ctx, "failed to mark unqueued message",
				slog.String("message_id", msg.ID.String()),
				slog.Any("error", err),
			)
			continue
		}
		s.metrics.StatusTransition(model.StatusErrored)
	}
}

// CancelMessage cancels a pending message owned by client.
func (s *Service) CancelMessage(ctx context.Context, client string, messageID uuid.UUID) error {
	if client == "" {
		return problem.Validation("client is required")
	}
	if messageID == uuid.Nil {
		return problem.Validation("message id is required")
	}
	if err := s.authorize(ctx, client, messageID); err != nil {
		return err
	}

	msg, err := s.store.ReadMessage(ctx, messageID)
	if err != nil {
		return err
	}
	if model.Terminal(msg.Status) {
		return problem.Conflict("message %s is already %s", messageID, msg.Status)
	}

	var handle string
	if ev, ok := msg.LatestQueueEvent(); ok {
		handle = ev.ExternalQueueID
		removed, err := s.queue.Cancel(ctx, handle)
		if err != nil {
			return err
		}
		if !removed {
			s.log.InfoContext(ctx, "job already claimed by a worker",
				slog.String("message_id", messageID.String()),
				slog.String("job_id", handle),
			)
		}
	}

	updated, err := s.store.UpdateStatus(ctx, data.StatusUpdate{
		MessageID: messageID,
		QueueID:   handle,
		Status:    model.StatusCancelled,
	})
	if err != nil {
		return err
	}
	if updated.Status != msg.Status {
		s.metrics.StatusTransition(updated.Status)
	}
	return nil
}

// GetStatus returns a message owned by client. Histories are dropped unless
// includeHistory is set.
func (s *Service) GetStatus(ctx context.Context, client string, messageID uuid.UUID, includeHistory bool) (model.Message, error) {
	if messageID == uuid.Nil {
		return model.Message{}, problem.Validation("message id is required")
	}
	if client == "" {
		return model.Message{}, problem.Validation("client is required")
	}
	if err := s.authorize(ctx, client, messageID); err != nil {
		return model.Message{}, err
	}

	msg, err := s.store.ReadMessage(ctx, messageID)
	if err != nil {
		return model.Message{}, err
	}
	msg.Content = nil
	msg.QueueHistory = nil
	if !includeHistory {
		msg.StatusHistory = nil
	}
	return msg, nil
}

// FindStatuses returns the client's messages matching filter. No match
// yields an empty slice.
func (s *Service) FindStatuses(ctx context.Context, filter model.MessageFilter) ([]model.Message, error) {
	if filter.Client == "" {
		return nil, problem.Validation("client is required")
	}
	return s.store.FindMessages(ctx, filter)
}

func (s *Service) resolveClient(client string, devMode bool) (string, error) {
	switch {
	case client != "":
		return client, nil
	case devMode:
		return s.devClient, nil
	default:
		return "", problem.Validation("client is required")
	}
}

func (s *Service) authorize(ctx context.Context, client string, messageID uuid.UUID) error {
	owner, err := s.owner(ctx, messageID)
	if err != nil {
		return err
	}
	if owner != client {
		return problem.Forbidden("message %s belongs to another client", messageID)
	}
	return nil
}

func (s *Service) owner(ctx context.Context, messageID uuid.UUID) (string, error) {
	if s.owners == nil {
		return s.store.MessageClient(ctx, messageID)
	}
	owner, err := cache.GetOrSet(ctx, s.owners, messageID.String(), func(ctx context.Context) (string, time.Duration, error) {
		owner, err := s.store.MessageClient(ctx, messageID)
		return owner, s.ownerTTL, err
	})
	var pe *problem.Error
	if err != nil && !errors.As(err, &pe) {
		return "", problem.Dependency(err, "failed to resolve message owner")
	}
	return owner, err
}
