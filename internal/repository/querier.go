// Package repository persists transactions, messages and their histories.
//
// [Querier] is a row-level API with no business rules; [Store] adds an
// all-or-nothing scope. The Postgres implementation lives here, an in-memory
// one for tests in the memstore subpackage.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/ches/internal/model"
)

// ErrNotFound is returned when a keyed lookup matches no row.
var ErrNotFound = errors.New("repository: not found")

// Querier is the row-level persistence API.
type Querier interface {
	CreateTransaction(ctx context.Context, tx model.Transaction) error
	CreateMessage(ctx context.Context, msg model.Message) error
	CreateContent(ctx context.Context, content model.Content) error
	CreateStatus(ctx context.Context, ev model.StatusEvent) (int64, error)
	CreateQueueEvent(ctx context.Context, ev model.QueueEvent) (int64, error)

	GetTransaction(ctx context.Context, id uuid.UUID) (model.Transaction, error)
	ListMessageIDs(ctx context.Context, transactionID uuid.UUID) ([]uuid.UUID, error)
	GetMessage(ctx context.Context, id uuid.UUID) (model.Message, error)
	GetContent(ctx context.Context, messageID uuid.UUID) (model.Content, error)
	ListStatuses(ctx context.Context, messageID uuid.UUID) ([]model.StatusEvent, error)
	ListQueueEvents(ctx context.Context, messageID uuid.UUID) ([]model.QueueEvent, error)
	GetMessageClient(ctx context.Context, messageID uuid.UUID) (string, error)
	FindMessages(ctx context.Context, filter model.MessageFilter) ([]model.Message, error)
	ListPurgeableContent(ctx context.Context, before time.Time, statuses []string, limit int) ([]uuid.UUID, error)

	UpdateMessageStatus(ctx context.Context, id uuid.UUID, status string, updatedAt time.Time) error
	ClearContentEmail(ctx context.Context, messageID uuid.UUID) error

	// The Delete*ByClient methods match clients containing the given substring.
	DeleteQueueEventsByClient(ctx context.Context, client string) (int64, error)
	DeleteStatusesByClient(ctx context.Context, client string) (int64, error)
	DeleteMessagesByClient(ctx context.Context, client string) (int64, error)
	DeleteTransactionsByClient(ctx context.Context, client string) (int64, error)
}

// Store is a Querier that can run a function atomically.
// If fn returns an error nothing it wrote is kept.
type Store interface {
	Querier
	InTx(ctx context.Context, fn func(q Querier) error) error
}
