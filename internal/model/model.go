// Package model holds the entities shared by the persistence, queue and
// orchestration layers.
package model

import (
	"time"

	"github.com/google/uuid"
)

// Message statuses.
const (
	StatusAccepted  = "accepted"
	StatusFailed    = "failed"
	StatusErrored   = "errored"
	StatusCompleted = "completed"
	StatusCancelled = "cancelled"
)

// Terminal reports whether no further delivery attempt is expected for status.
func Terminal(status string) bool {
	switch status {
	case StatusCompleted, StatusCancelled, StatusErrored:
		return true
	default:
		return false
	}
}

// Transaction groups the messages of one send request.
type Transaction struct {
	ID        uuid.UUID
	Client    string
	CreatedAt time.Time
	UpdatedAt time.Time
	Messages  []Message
}

// Message is one email's lifecycle record.
// Status always equals the newest StatusHistory entry.
type Message struct {
	ID            uuid.UUID
	TransactionID uuid.UUID
	Status        string
	Tag           *string
	DelayTS       *int64 // epoch milliseconds
	CreatedAt     time.Time
	UpdatedAt     time.Time
	Content       *Content
	StatusHistory []StatusEvent // newest first
	QueueHistory  []QueueEvent  // newest first
}

// LatestQueueEvent returns the newest queue report, if any.
func (m *Message) LatestQueueEvent() (QueueEvent, bool) {
	if len(m.QueueHistory) == 0 {
		return QueueEvent{}, false
	}
	return m.QueueHistory[0], true
}

// Content is the payload snapshot of a message. Email is nil once redacted.
type Content struct {
	MessageID uuid.UUID
	Email     *Email
	CreatedAt time.Time
	UpdatedAt time.Time
}

// StatusEvent is an append-only logical status change.
type StatusEvent struct {
	ID          int64
	MessageID   uuid.UUID
	Status      string
	Description *string
	CreatedAt   time.Time
}

// QueueEvent is an append-only record of a queue report.
type QueueEvent struct {
	ID              int64
	MessageID       uuid.UUID
	ExternalQueueID string
	Status          string
	CreatedAt       time.Time
}

// MessageFilter narrows a message search. Client is required;
// zero-valued optional fields are ignored.
type MessageFilter struct {
	Client        string
	TransactionID uuid.UUID
	MessageID     uuid.UUID
	Status        string
	Tag           string
}
