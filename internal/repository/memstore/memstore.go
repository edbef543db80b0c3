// Package memstore is an in-memory repository.Store for tests.
package memstore

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/ches/internal/model"
	"github.com/dmitrymomot/ches/internal/repository"
)

type state struct {
	trxns    map[uuid.UUID]model.Transaction
	messages map[uuid.UUID]model.Message
	contents map[uuid.UUID]model.Content
	statuses []model.StatusEvent
	queue    []model.QueueEvent
	seq      int64
}

func (s *state) clone() state {
	return state{
		trxns:    maps.Clone(s.trxns),
		messages: maps.Clone(s.messages),
		contents: maps.Clone(s.contents),
		statuses: slices.Clone(s.statuses),
		queue:    slices.Clone(s.queue),
		seq:      s.seq,
	}
}

// Store keeps all rows in memory. InTx calls are serialized and roll back
// by restoring a snapshot, so writes made concurrently outside InTx may be
// lost on rollback.
type Store struct {
	txMu sync.Mutex
	mu   sync.Mutex
	s    state
	fail map[string]error
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		s: state{
			trxns:    make(map[uuid.UUID]model.Transaction),
			messages: make(map[uuid.UUID]model.Message),
			contents: make(map[uuid.UUID]model.Content),
		},
		fail: make(map[string]error),
	}
}

// FailOn makes the named method return err until cleared with a nil err.
func (m *Store) FailOn(method string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.fail, method)
		return
	}
	m.fail[method] = err
}

// Counts reports how many rows each table holds.
func (m *Store) Counts() (trxns, messages, contents, statuses, queue int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.s.trxns), len(m.s.messages), len(m.s.contents), len(m.s.statuses), len(m.s.queue)
}

func (m *Store) InTx(ctx context.Context, fn func(q repository.Querier) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()

	m.mu.Lock()
	snapshot := m.s.clone()
	m.mu.Unlock()

	if err := fn(m); err != nil {
		m.mu.Lock()
		m.s = snapshot
		m.mu.Unlock()
		return err
	}
	return nil
}

func (m *Store) lock(method string) (func(), error) {
	m.mu.Lock()
	if err, ok := m.fail[method]; ok {
		m.mu.Unlock()
		return nil, err
	}
	return m.mu.Unlock, nil
}

func (m *Store) CreateTransaction(_ context.Context, tx model.Transaction) error {
	unlock, err := m.lock("CreateTransaction")
	if err != nil {
		return err
	}
	defer unlock()

	if _, ok := m.s.trxns[tx.ID]; ok {
		return fmt.Errorf("transaction %s already exists", tx.ID)
	}
	tx.Messages = nil
	m.s.trxns[tx.ID] = tx
	return nil
}

func (m *Store) CreateMessage(_ context.Context, msg model.Message) error {
	unlock, err := m.lock("CreateMessage")
	if err != nil {
		return err
	}
	defer unlock()

	if _, ok := m.s.trxns[msg.TransactionID]; !ok {
		return fmt.Errorf("message %s references missing transaction %s", msg.ID, msg.TransactionID)
	}
	if _, ok := m.s.messages[msg.ID]; ok {
		return fmt.Errorf("message %s already exists", msg.ID)
	}
	msg.Content, msg.StatusHistory, msg.QueueHistory = nil, nil, nil
	m.s.messages[msg.ID] = msg
	return nil
}

func (m *Store) CreateContent(_ context.Context, content model.Content) error {
	unlock, err := m.lock("CreateContent")
	if err != nil {
		return err
	}
	defer unlock()

	if _, ok := m.s.messages[content.MessageID]; !ok {
		return fmt.Errorf("content references missing message %s", content.MessageID)
	}
	if content.Email != nil {
		email := *content.Email
		content.Email = &email
	}
	m.s.contents[content.MessageID] = content
	return nil
}

func (m *Store) CreateStatus(_ context.Context, ev model.StatusEvent) (int64, error) {
	unlock, err := m.lock("CreateStatus")
	if err != nil {
		return 0, err
	}
	defer unlock()

	if _, ok := m.s.messages[ev.MessageID]; !ok {
		return 0, fmt.Errorf("status references missing message %s", ev.MessageID)
	}
	m.s.seq++
	ev.ID = m.s.seq
	m.s.statuses = append(m.s.statuses, ev)
	return ev.ID, nil
}

func (m *Store) CreateQueueEvent(_ context.Context, ev model.QueueEvent) (int64, error) {
	unlock, err := m.lock("CreateQueueEvent")
	if err != nil {
		return 0, err
	}
	defer unlock()

	if _, ok := m.s.messages[ev.MessageID]; !ok {
		return 0, fmt.Errorf("queue event references missing message %s", ev.MessageID)
	}
	m.s.seq++
	ev.ID = m.s.seq
	m.s.queue = append(m.s.queue, ev)
	return ev.ID, nil
}

func (m *Store) GetTransaction(_ context.Context, id uuid.UUID) (model.Transaction, error) {
	unlock, err := m.lock("GetTransaction")
	if err != nil {
		return model.Transaction{}, err
	}
	defer unlock()

	t, ok := m.s.trxns[id]
	if !ok {
		return model.Transaction{}, fmt.Errorf("transaction %s: %w", id, repository.ErrNotFound)
	}
	return t, nil
}

func (m *Store) ListMessageIDs(_ context.Context, transactionID uuid.UUID) ([]uuid.UUID, error) {
	unlock, err := m.lock("ListMessageIDs")
	if err != nil {
		return nil, err
	}
	defer unlock()

	var msgs []model.Message
	for _, msg := range m.s.messages {
		if msg.TransactionID == transactionID {
			msgs = append(msgs, msg)
		}
	}
	sortMessages(msgs)

	ids := make([]uuid.UUID, 0, len(msgs))
	for _, msg := range msgs {
		ids = append(ids, msg.ID)
	}
	return ids, nil
}

func (m *Store) GetMessage(_ context.Context, id uuid.UUID) (model.Message, error) {
	unlock, err := m.lock("GetMessage")
	if err != nil {
		return model.Message{}, err
	}
	defer unlock()

	msg, ok := m.s.messages[id]
	if !ok {
		return model.Message{}, fmt.Errorf("message %s: %w", id, repository.ErrNotFound)
	}
	return msg, nil
}

func (m *Store) GetContent(_ context.Context, messageID uuid.UUID) (model.Content, error) {
	unlock, err := m.lock("GetContent")
	if err != nil {
		return model.Content{}, err
	}
	defer unlock()

	c, ok := m.s.contents[messageID]
	if !ok {
		return model.Content{}, fmt.Errorf("content %s: %w", messageID, repository.ErrNotFound)
	}
	if c.Email != nil {
		email := *c.Email
		c.Email = &email
	}
	return c, nil
}

func (m *Store) ListStatuses(_ context.Context, messageID uuid.UUID) ([]model.StatusEvent, error) {
	unlock, err := m.lock("ListStatuses")
	if err != nil {
		return nil, err
	}
	defer unlock()

	var out []model.StatusEvent
	for _, ev := range m.s.statuses {
		if ev.MessageID == messageID {
			out = append(out, ev)
		}
	}
	slices.SortStableFunc(out, func(a, b model.StatusEvent) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return int(b.ID - a.ID)
	})
	return out, nil
}

func (m *Store) ListQueueEvents(_ context.Context, messageID uuid.UUID) ([]model.QueueEvent, error) {
	unlock, err := m.lock("ListQueueEvents")
	if err != nil {
		return nil, err
	}
	defer unlock()

	var out []model.QueueEvent
	for _, ev := range m.s.queue {
		if ev.MessageID == messageID {
			out = append(out, ev)
		}
	}
	slices.SortStableFunc(out, func(a, b model.QueueEvent) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return int(b.ID - a.ID)
	})
	return out, nil
}

func (m *Store) GetMessageClient(_ context.Context, messageID uuid.UUID) (string, error) {
	unlock, err := m.lock("GetMessageClient")
	if err != nil {
		return "", err
	}
	defer unlock()

	msg, ok := m.s.messages[messageID]
	if !ok {
		return "", fmt.Errorf("message %s: %w", messageID, repository.ErrNotFound)
	}
	return m.s.trxns[msg.TransactionID].Client, nil
}

func (m *Store) FindMessages(_ context.Context, f model.MessageFilter) ([]model.Message, error) {
	unlock, err := m.lock("FindMessages")
	if err != nil {
		return nil, err
	}
	defer unlock()

	var out []model.Message
	for _, msg := range m.s.messages {
		switch {
		case m.s.trxns[msg.TransactionID].Client != f.Client:
		case f.TransactionID != uuid.Nil && msg.TransactionID != f.TransactionID:
		case f.MessageID != uuid.Nil && msg.ID != f.MessageID:
		case f.Status != "" && msg.Status != f.Status:
		case f.Tag != "" && (msg.Tag == nil || *msg.Tag != f.Tag):
		default:
			out = append(out, msg)
		}
	}
	sortMessages(out)
	return out, nil
}

func (m *Store) ListPurgeableContent(_ context.Context, before time.Time, statuses []string, limit int) ([]uuid.UUID, error) {
	unlock, err := m.lock("ListPurgeableContent")
	if err != nil {
		return nil, err
	}
	defer unlock()

	var msgs []model.Message
	for id, c := range m.s.contents {
		msg := m.s.messages[id]
		if c.Email != nil && msg.UpdatedAt.Before(before) && slices.Contains(statuses, msg.Status) {
			msgs = append(msgs, msg)
		}
	}
	slices.SortFunc(msgs, func(a, b model.Message) int { return a.UpdatedAt.Compare(b.UpdatedAt) })
	if len(msgs) > limit {
		msgs = msgs[:limit]
	}

	ids := make([]uuid.UUID, 0, len(msgs))
	for _, msg := range msgs {
		ids = append(ids, msg.ID)
	}
	return ids, nil
}

func (m *Store) UpdateMessageStatus(_ context.Context, id uuid.UUID, status string, updatedAt time.Time) error {
	unlock, err := m.lock("UpdateMessageStatus")
	if err != nil {
		return err
	}
	defer unlock()

	msg, ok := m.s.messages[id]
	if !ok {
		return fmt.Errorf("message %s: %w", id, repository.ErrNotFound)
	}
	msg.Status, msg.UpdatedAt = status, updatedAt
	m.s.messages[id] = msg
	return nil
}

func (m *Store) ClearContentEmail(_ context.Context, messageID uuid.UUID) error {
	unlock, err := m.lock("ClearContentEmail")
	if err != nil {
		return err
	}
	defer unlock()

	c, ok := m.s.contents[messageID]
	if !ok {
		return fmt.Errorf("content %s: %w", messageID, repository.ErrNotFound)
	}
	c.Email = nil
	m.s.contents[messageID] = c
	return nil
}

func (m *Store) DeleteQueueEventsByClient(_ context.Context, client string) (int64, error) {
	unlock, err := m.lock("DeleteQueueEventsByClient")
	if err != nil {
		return 0, err
	}
	defer unlock()

	before := len(m.s.queue)
	m.s.queue = slices.DeleteFunc(m.s.queue, func(ev model.QueueEvent) bool {
		return m.messageMatches(ev.MessageID, client)
	})
	return int64(before - len(m.s.queue)), nil
}

func (m *Store) DeleteStatusesByClient(_ context.Context, client string) (int64, error) {
	unlock, err := m.lock("DeleteStatusesByClient")
	if err != nil {
		return 0, err
	}
	defer unlock()

	before := len(m.s.statuses)
	m.s.statuses = slices.DeleteFunc(m.s.statuses, func(ev model.StatusEvent) bool {
		return m.messageMatches(ev.MessageID, client)
	})
	return int64(before - len(m.s.statuses)), nil
}

func (m *Store) DeleteMessagesByClient(_ context.Context, client string) (int64, error) {
	unlock, err := m.lock("DeleteMessagesByClient")
	if err != nil {
		return 0, err
	}
	defer unlock()

	var n int64
	for id := range m.s.messages {
		if !m.messageMatches(id, client) {
			continue
		}
		for _, ev := range m.s.statuses {
			if ev.MessageID == id {
				return n, fmt.Errorf("message %s still has status rows", id)
			}
		}
		for _, ev := range m.s.queue {
			if ev.MessageID == id {
				return n, fmt.Errorf("message %s still has queue rows", id)
			}
		}
		delete(m.s.messages, id)
		delete(m.s.contents, id)
		n++
	}
	return n, nil
}

func (m *Store) DeleteTransactionsByClient(_ context.Context, client string) (int64, error) {
	unlock, err := m.lock("DeleteTransactionsByClient")
	if err != nil {
		return 0, err
	}
	defer unlock()

	var n int64
	for id, t := range m.s.trxns {
		if !strings.Contains(t.Client, client) {
			continue
		}
		for _, msg := range m.s.messages {
			if msg.TransactionID == id {
				return n, fmt.Errorf("transaction %s still has messages", id)
			}
		}
		delete(m.s.trxns, id)
		n++
	}
	return n, nil
}

func (m *Store) messageMatches(id uuid.UUID, client string) bool {
	msg, ok := m.s.messages[id]
	return ok && strings.Contains(m.s.trxns[msg.TransactionID].Client, client)
}

func sortMessages(msgs []model.Message) {
	slices.SortFunc(msgs, func(a, b model.Message) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID.String(), b.ID.String())
	})
}

var _ repository.Store = (*Store)(nil)
