// Package data owns every read and write of transactions and messages.
//
// It keeps Message.Status equal to the newest status event, appends a status
// event only when the status changes, and deletes client data as a single
// cascade.
package data

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/ches/internal/model"
	"github.com/dmitrymomot/ches/internal/problem"
	"github.com/dmitrymomot/ches/internal/repository"
)

// Service implements the persistence rules on top of a repository.Store.
type Service struct {
	store repository.Store
	log   *slog.Logger
	now   func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// New creates a Service.
func New(store repository.Store, log *slog.Logger, opts ...Option) *Service {
	s := &Service{store: store, log: log, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// StatusUpdate is one queue report for a message.
type StatusUpdate struct {
	MessageID   uuid.UUID
	QueueID     string
	Status      string
	Description string
}

// Create persists a transaction with one accepted message per email.
// Either the whole graph is written or nothing is.
func (s *Service) Create(ctx context.Context, client string, emails ...model.Email) (model.Transaction, error) {
	if client == "" {
		return model.Transaction{}, problem.Validation("client is required")
	}
	if len(emails) == 0 {
		return model.Transaction{}, problem.Validation("at least one email is required")
	}

	now := s.now().UTC()
	trx := model.Transaction{ID: uuid.New(), Client: client, CreatedAt: now, UpdatedAt: now}

	err := s.store.InTx(ctx, func(q repository.Querier) error {
		if err := q.CreateTransaction(ctx, trx); err != nil {
			return err
		}
		for i := range emails {
			// v7 ids sort by creation, keeping request order on read.
			id, err := uuid.NewV7()
			if err != nil {
				return err
			}
			email := emails[i]
			msg := model.Message{
				ID:            id,
				TransactionID: trx.ID,
				Status:        model.StatusAccepted,
				DelayTS:       email.DelayTS,
				CreatedAt:     now,
				UpdatedAt:     now,
			}
			if email.Tag != "" {
				msg.Tag = &email.Tag
			}
			if err := q.CreateMessage(ctx, msg); err != nil {
				return err
			}
			if err := q.CreateContent(ctx, model.Content{MessageID: id, Email: &email, CreatedAt: now, UpdatedAt: now}); err != nil {
				return err
			}
			if _, err := q.CreateStatus(ctx, model.StatusEvent{MessageID: id, Status: model.StatusAccepted, CreatedAt: now}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return model.Transaction{}, problem.Dependency(err, "failed to create transaction")
	}

	s.log.InfoContext(ctx, "transaction created",
		slog.String("transaction_id", trx.ID.String()),
		slog.String("client", client),
		slog.Int("messages", len(emails)),
	)
	return s.ReadTransaction(ctx, trx.ID)
}

// UpdateStatus records a queue report. A queue event is always appended;
// a status event only when the status differs from the current one.
func (s *Service) UpdateStatus(ctx context.Context, u StatusUpdate) (model.Message, error) {
	if u.MessageID == uuid.Nil {
		return model.Message{}, problem.Validation("message id is required")
	}
	if u.Status == "" {
		return model.Message{}, problem.Validation("status is required")
	}

	err := s.store.InTx(ctx, func(q repository.Querier) error {
		msg, err := q.GetMessage(ctx, u.MessageID)
		if err != nil {
			return err
		}

		now := s.now().UTC()
		if _, err := q.CreateQueueEvent(ctx, model.QueueEvent{
			MessageID:       u.MessageID,
			ExternalQueueID: u.QueueID,
			Status:          u.Status,
			CreatedAt:       now,
		}); err != nil {
			return err
		}
		if msg.Status == u.Status {
			return nil
		}

		ev := model.StatusEvent{MessageID: u.MessageID, Status: u.Status, CreatedAt: now}
		if u.Description != "" {
			ev.Description = &u.Description
		}
		if _, err := q.CreateStatus(ctx, ev); err != nil {
			return err
		}
		return q.UpdateMessageStatus(ctx, u.MessageID, u.Status, now)
	})
	if err != nil {
		return model.Message{}, s.classify(err, "message %s not found", u.MessageID)
	}
	return s.ReadMessage(ctx, u.MessageID)
}

// RecordQueueEvent appends a queue event for messageID and leaves the
// message status and status history untouched.
func (s *Service) RecordQueueEvent(ctx context.Context, messageID uuid.UUID, queueID, status string) error {
	if messageID == uuid.Nil {
		return problem.Validation("message id is required")
	}
	if status == "" {
		return problem.Validation("status is required")
	}

	err := s.store.InTx(ctx, func(q repository.Querier) error {
		if _, err := q.GetMessage(ctx, messageID); err != nil {
			return err
		}
		_, err := q.CreateQueueEvent(ctx, model.QueueEvent{
			MessageID:       messageID,
			ExternalQueueID: queueID,
			Status:          status,
			CreatedAt:       s.now().UTC(),
		})
		return err
	})
	if err != nil {
		return s.classify(err, "message %s not found", messageID)
	}
	return nil
}

// ReadTransaction returns a transaction with its full message graph.
func (s *Service) ReadTransaction(ctx context.Context, id uuid.UUID) (model.Transaction, error) {
	trx, err := s.store.GetTransaction(ctx, id)
	if err != nil {
		return model.Transaction{}, s.classify(err, "transaction %s not found", id)
	}

	ids, err := s.store.ListMessageIDs(ctx, id)
	if err != nil {
		return model.Transaction{}, problem.Dependency(err, "failed to read transaction %s", id)
	}
	trx.Messages = make([]model.Message, 0, len(ids))
	for _, msgID := range ids {
		msg, err := s.ReadMessage(ctx, msgID)
		if err != nil {
			return model.Transaction{}, err
		}
		trx.Messages = append(trx.Messages, msg)
	}
	return trx, nil
}

// ReadMessage returns a message with content and both histories, newest first.
func (s *Service) ReadMessage(ctx context.Context, id uuid.UUID) (model.Message, error) {
	msg, err := s.store.GetMessage(ctx, id)
	if err != nil {
		return model.Message{}, s.classify(err, "message %s not found", id)
	}

	switch content, err := s.store.GetContent(ctx, id); {
	case err == nil:
		msg.Content = &content
	case !errors.Is(err, repository.ErrNotFound):
		return model.Message{}, problem.Dependency(err, "failed to read content of %s", id)
	}

	if msg.StatusHistory, err = s.store.ListStatuses(ctx, id); err != nil {
		return model.Message{}, problem.Dependency(err, "failed to read status history of %s", id)
	}
	if msg.QueueHistory, err = s.store.ListQueueEvents(ctx, id); err != nil {
		return model.Message{}, problem.Dependency(err, "failed to read queue history of %s", id)
	}
	return msg, nil
}

// DeleteContent clears a message's email payload, keeping the message,
// its histories and the content timestamps.
func (s *Service) DeleteContent(ctx context.Context, messageID uuid.UUID) error {
	if messageID == uuid.Nil {
		return problem.Validation("message id is required")
	}
	if _, err := s.store.GetMessage(ctx, messageID); err != nil {
		return s.classify(err, "message %s not found", messageID)
	}
	if err := s.store.ClearContentEmail(ctx, messageID); err != nil {
		return s.classify(err, "content of message %s not found", messageID)
	}
	return nil
}

// DeletedCounts reports the rows removed by DeleteTransactionsByClient.
type DeletedCounts struct {
	QueueEvents  int64
	Statuses     int64
	Messages     int64
	Transactions int64
}

// DeleteTransactionsByClient removes every transaction whose client contains
// the given value, cascading through queue events, statuses and messages.
// Matching is by literal substring: "app" also removes "app-staging".
func (s *Service) DeleteTransactionsByClient(ctx context.Context, client string) (DeletedCounts, error) {
	if client == "" {
		return DeletedCounts{}, problem.Validation("client is required")
	}

	var c DeletedCounts
	err := s.store.InTx(ctx, func(q repository.Querier) error {
		var err error
		if c.QueueEvents, err = q.DeleteQueueEventsByClient(ctx, client); err != nil {
			return err
		}
		if c.Statuses, err = q.DeleteStatusesByClient(ctx, client); err != nil {
			return err
		}
		if c.Messages, err = q.DeleteMessagesByClient(ctx, client); err != nil {
			return err
		}
		c.Transactions, err = q.DeleteTransactionsByClient(ctx, client)
		return err
	})
	if err != nil {
		return DeletedCounts{}, problem.Dependency(err, "failed to delete transactions of client %q", client)
	}

	s.log.InfoContext(ctx, "client transactions deleted",
		slog.String("client", client),
		slog.Int64("queue_events", c.QueueEvents),
		slog.Int64("statuses", c.Statuses),
		slog.Int64("messages", c.Messages),
		slog.Int64("transactions", c.Transactions),
	)
	return c, nil
}

// FindMessages returns the client's messages matching filter, without
// content or histories. No match yields an empty slice.
func (s *Service) FindMessages(ctx context.Context, filter model.MessageFilter) ([]model.Message, error) {
	if filter.Client == "" {
		return []model.Message{}, nil
	}
	msgs, err := s.store.FindMessages(ctx, filter)
	if err != nil {
		return nil, problem.Dependency(err, "failed to find messages")
	}
	if msgs == nil {
		msgs = []model.Message{}
	}
	return msgs, nil
}

// MessageClient returns the client owning a message.
func (s *Service) MessageClient(ctx context.Context, messageID uuid.UUID) (string, error) {
	client, err := s.store.GetMessageClient(ctx, messageID)
	if err != nil {
		return "", s.classify(err, "message %s not found", messageID)
	}
	return client, nil
}

// PurgeContent clears the payload of up to limit messages in one of the
// given statuses last updated before the cutoff. It returns how many were
// cleared.
func (s *Service) PurgeContent(ctx context.Context, before time.Time, statuses []string, limit int) (int, error) {
	ids, err := s.store.ListPurgeableContent(ctx, before, statuses, limit)
	if err != nil {
		return 0, problem.Dependency(err, "failed to list purgeable content")
	}
	var n int
	for _, id := range ids {
		if err := s.store.ClearContentEmail(ctx, id); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				continue
			}
			return n, problem.Dependency(err, "failed to clear content of %s", id)
		}
		n++
	}
	return n, nil
}

func (s *Service) classify(err error, format string, args ...any) error {
	if errors.Is(err, repository.ErrNotFound) {
		pe := problem.NotFound(format, args...)
		pe.Err = err
		return pe
	}
	return problem.Dependency(err, "persistence failure")
}
