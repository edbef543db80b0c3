package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/dmitrymomot/ches/internal/model"
)

// DBTX is satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Queries implements Querier on top of Postgres.
type Queries struct {
	db DBTX
}

// New returns a Querier that runs its statements on db.
func New(db DBTX) *Queries {
	return &Queries{db: db}
}

func (q *Queries) CreateTransaction(ctx context.Context, tx model.Transaction) error {
	_, err := q.db.Exec(ctx,
		`INSERT INTO trxn (transaction_id, client, created_at, updated_at) VALUES ($1, $2, $3, $4)`,
		tx.ID, tx.Client, tx.CreatedAt, tx.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert transaction %s: %w", tx.ID, err)
	}
	return nil
}

func (q *Queries) CreateMessage(ctx context.Context, msg model.Message) error {
	_, err := q.db.Exec(ctx,
		`INSERT INTO message (message_id, transaction_id, status, tag, delay_timestamp, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		msg.ID, msg.TransactionID, msg.Status, msg.Tag, msg.DelayTS, msg.CreatedAt, msg.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert message %s: %w", msg.ID, err)
	}
	return nil
}

func (q *Queries) CreateContent(ctx context.Context, content model.Content) error {
	var email []byte
	if content.Email != nil {
		var err error
		if email, err = json.Marshal(content.Email); err != nil {
			return fmt.Errorf("encode content %s: %w", content.MessageID, err)
		}
	}
	_, err := q.db.Exec(ctx,
		`INSERT INTO content (message_id, email, created_at, updated_at) VALUES ($1, $2, $3, $4)`,
		content.MessageID, email, content.CreatedAt, content.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert content %s: %w", content.MessageID, err)
	}
	return nil
}

func (q *Queries) CreateStatus(ctx context.Context, ev model.StatusEvent) (int64, error) {
	var id int64
	err := q.db.QueryRow(ctx,
		`INSERT INTO status (message_id, status, description, created_at) VALUES ($1, $2, $3, $4) RETURNING status_id`,
		ev.MessageID, ev.Status, ev.Description, ev.CreatedAt).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert status for %s: %w", ev.MessageID, err)
	}
	return id, nil
}

func (q *Queries) CreateQueueEvent(ctx context.Context, ev model.QueueEvent) (int64, error) {
	var id int64
	err := q.db.QueryRow(ctx,
		`INSERT INTO queue (message_id, external_queue_id, status, created_at) VALUES ($1, $2, $3, $4) RETURNING queue_id`,
		ev.MessageID, ev.ExternalQueueID, ev.Status, ev.CreatedAt).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert queue event for %s: %w", ev.MessageID, err)
	}
	return id, nil
}

func (q *Queries) GetTransaction(ctx context.Context, id uuid.UUID) (model.Transaction, error) {
	var t model.Transaction
	err := q.db.QueryRow(ctx,
		`SELECT transaction_id, client, created_at, updated_at FROM trxn WHERE transaction_id = $1`, id).
		Scan(&t.ID, &t.Client, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return model.Transaction{}, notFound(err, "transaction %s", id)
	}
	return t, nil
}

func (q *Queries) ListMessageIDs(ctx context.Context, transactionID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := q.db.Query(ctx,
		`SELECT message_id FROM message WHERE transaction_id = $1 ORDER BY created_at, message_id`, transactionID)
	if err != nil {
		return nil, fmt.Errorf("list messages of %s: %w", transactionID, err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
	if err != nil {
		return nil, fmt.Errorf("list messages of %s: %w", transactionID, err)
	}
	return ids, nil
}

const messageColumns = `m.message_id, m.transaction_id, m.status, m.tag, m.delay_timestamp, m.created_at, m.updated_at`

func scanMessage(row pgx.Row) (model.Message, error) {
	var m model.Message
	err := row.Scan(&m.ID, &m.TransactionID, &m.Status, &m.Tag, &m.DelayTS, &m.CreatedAt, &m.UpdatedAt)
	return m, err
}

func (q *Queries) GetMessage(ctx context.Context, id uuid.UUID) (model.Message, error) {
	m, err := scanMessage(q.db.QueryRow(ctx,
		`SELECT `+messageColumns+` FROM message m WHERE m.message_id = $1`, id))
	if err != nil {
		return model.Message{}, notFound(err, "message %s", id)
	}
	return m, nil
}

func (q *Queries) GetContent(ctx context.Context, messageID uuid.UUID) (model.Content, error) {
	var (
		c     model.Content
		email []byte
	)
	err := q.db.QueryRow(ctx,
		`SELECT message_id, email, created_at, updated_at FROM content WHERE message_id = $1`, messageID).
		Scan(&c.MessageID, &email, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return model.Content{}, notFound(err, "content %s", messageID)
	}
	if email != nil {
		c.Email = new(model.Email)
		if err := json.Unmarshal(email, c.Email); err != nil {
			return model.Content{}, fmt.Errorf("decode content %s: %w", messageID, err)
		}
	}
	return c, nil
}

func (q *Queries) ListStatuses(ctx context.Context, messageID uuid.UUID) ([]model.StatusEvent, error) {
	rows, err := q.db.Query(ctx,
		`SELECT status_id, message_id, status, description, created_at FROM status
		 WHERE message_id = $1 ORDER BY created_at DESC, status_id DESC`, messageID)
	if err != nil {
		return nil, fmt.Errorf("list statuses of %s: %w", messageID, err)
	}
	events, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.StatusEvent, error) {
		var ev model.StatusEvent
		err := row.Scan(&ev.ID, &ev.MessageID, &ev.Status, &ev.Description, &ev.CreatedAt)
		return ev, err
	})
	if err != nil {
		return nil, fmt.Errorf("list statuses of %s: %w", messageID, err)
	}
	return events, nil
}

func (q *Queries) ListQueueEvents(ctx context.Context, messageID uuid.UUID) ([]model.QueueEvent, error) {
	rows, err := q.db.Query(ctx,
		`SELECT queue_id, message_id, external_queue_id, status, created_at FROM queue
		 WHERE message_id = $1 ORDER BY created_at DESC, queue_id DESC`, messageID)
	if err != nil {
		return nil, fmt.Errorf("list queue events of %s: %w", messageID, err)
	}
	events, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.QueueEvent, error) {
		var ev model.QueueEvent
		err := row.Scan(&ev.ID, &ev.MessageID, &ev.ExternalQueueID, &ev.Status, &ev.CreatedAt)
		return ev, err
	})
	if err != nil {
		return nil, fmt.Errorf("list queue events of %s: %w", messageID, err)
	}
	return events, nil
}

func (q *Queries) GetMessageClient(ctx context.Context, messageID uuid.UUID) (string, error) {
	var client string
	err := q.db.QueryRow(ctx,
		`SELECT t.client FROM message m JOIN trxn t ON t.transaction_id = m.transaction_id WHERE m.message_id = $1`,
		messageID).Scan(&client)
	if err != nil {
		return "", notFound(err, "message %s", messageID)
	}
	return client, nil
}

func (q *Queries) FindMessages(ctx context.Context, filter model.MessageFilter) ([]model.Message, error) {
	var (
		where = []string{"t.client = $1"}
		args  = []any{filter.Client}
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if filter.TransactionID != uuid.Nil {
		add("m.transaction_id = $%d", filter.TransactionID)
	}
	if filter.MessageID != uuid.Nil {
		add("m.message_id = $%d", filter.MessageID)
	}
	if filter.Status != "" {
		add("m.status = $%d", filter.Status)
	}
	if filter.Tag != "" {
		add("m.tag = $%d", filter.Tag)
	}

	rows, err := q.db.Query(ctx,
		`SELECT `+messageColumns+` FROM message m JOIN trxn t ON t.transaction_id = m.transaction_id
		 WHERE `+strings.Join(where, " AND ")+` ORDER BY m.created_at, m.message_id`, args...)
	if err != nil {
		return nil, fmt.Errorf("find messages: %w", err)
	}
	msgs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Message, error) {
		return scanMessage(row)
	})
	if err != nil {
		return nil, fmt.Errorf("find messages: %w", err)
	}
	return msgs, nil
}

func (q *Queries) ListPurgeableContent(ctx context.Context, before time.Time, statuses []string, limit int) ([]uuid.UUID, error) {
	rows, err := q.db.Query(ctx,
		`SELECT c.message_id FROM content c JOIN message m ON m.message_id = c.message_id
		 WHERE c.email IS NOT NULL AND m.updated_at < $1 AND m.status = ANY($2)
		 ORDER BY m.updated_at LIMIT $3`, before, statuses, limit)
	if err != nil {
		return nil, fmt.Errorf("list purgeable content: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
	if err != nil {
		return nil, fmt.Errorf("list purgeable content: %w", err)
	}
	return ids, nil
}

func (q *Queries) UpdateMessageStatus(ctx context.Context, id uuid.UUID, status string, updatedAt time.Time) error {
	tag, err := q.db.Exec(ctx,
		`UPDATE message SET status = $2, updated_at = $3 WHERE message_id = $1`, id, status, updatedAt)
	if err != nil {
		return fmt.Errorf("update message %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("message %s: %w", id, ErrNotFound)
	}
	return nil
}

func (q *Queries) ClearContentEmail(ctx context.Context, messageID uuid.UUID) error {
	tag, err := q.db.Exec(ctx,
		`UPDATE content SET email = NULL WHERE message_id = $1`, messageID)
	if err != nil {
		return fmt.Errorf("clear content %s: %w", messageID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("content %s: %w", messageID, ErrNotFound)
	}
	return nil
}

func (q *Queries) DeleteQueueEventsByClient(ctx context.Context, client string) (int64, error) {
	return q.deleteByClient(ctx, "queue events",
		`DELETE FROM queue WHERE message_id IN (
			SELECT m.message_id FROM message m JOIN trxn t ON t.transaction_id = m.transaction_id
			WHERE t.client LIKE $1 ESCAPE '\')`, client)
}

func (q *Queries) DeleteStatusesByClient(ctx context.Context, client string) (int64, error) {
	return q.deleteByClient(ctx, "statuses",
		`DELETE FROM status WHERE message_id IN (
			SELECT m.message_id FROM message m JOIN trxn t ON t.transaction_id = m.transaction_id
			WHERE t.client LIKE $1 ESCAPE '\')`, client)
}

// DeleteMessagesByClient also removes content rows through the cascade.
func (q *Queries) DeleteMessagesByClient(ctx context.Context, client string) (int64, error) {
	return q.deleteByClient(ctx, "messages",
		`DELETE FROM message WHERE transaction_id IN (
			SELECT transaction_id FROM trxn WHERE client LIKE $1 ESCAPE '\')`, client)
}

func (q *Queries) DeleteTransactionsByClient(ctx context.Context, client string) (int64, error) {
	return q.deleteByClient(ctx, "transactions",
		`DELETE FROM trxn WHERE client LIKE $1 ESCAPE '\'`, client)
}

func (q *Queries) deleteByClient(ctx context.Context, what, sql, client string) (int64, error) {
	tag, err := q.db.Exec(ctx, sql, ContainsPattern(client))
	if err != nil {
		return 0, fmt.Errorf("delete %s of client %q: %w", what, client, err)
	}
	return tag.RowsAffected(), nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// ContainsPattern returns a LIKE pattern matching any value containing s.
func ContainsPattern(s string) string {
	return "%" + likeEscaper.Replace(s) + "%"
}

func notFound(err error, format string, args ...any) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf(format+": %w", append(args, ErrNotFound)...)
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}
