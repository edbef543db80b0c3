package repository_test

import (
	"context"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/ches/internal/model"
	"github.com/dmitrymomot/ches/internal/repository"
	"github.com/dmitrymomot/ches/pkg/db"
)

func TestContainsPattern(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{"app", "%app%"},
		{"100%", `%100\%%`},
		{"a_b", `%a\_b%`},
		{`c:\x`, `%c:\\x%`},
		{"", "%%"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, repository.ContainsPattern(tt.in))
		})
	}
}

func integrationStore(t *testing.T) *repository.PGStore {
	t.Helper()

	url := os.Getenv("DATABASE_CONN_URL")
	if url == "" {
		t.Skip("DATABASE_CONN_URL not set")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, url)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	require.NoError(t, db.Migrate(ctx, pool, repository.Migrations, repository.MigrationsDir, "ches_test_migrations", log))
	return repository.NewStore(pool)
}

func TestPGStore_Integration(t *testing.T) {
	store := integrationStore(t)
	ctx := context.Background()
	client := "it-" + uuid.NewString()
	now := time.Now().UTC().Truncate(time.Millisecond)

	trx := model.Transaction{ID: uuid.New(), Client: client, CreatedAt: now, UpdatedAt: now}
	msg := model.Message{ID: uuid.New(), TransactionID: trx.ID, Status: model.StatusAccepted, CreatedAt: now, UpdatedAt: now}
	email := &model.Email{From: "a@example.com", To: []string{"b@example.com"}, Subject: "hi", Body: "body", BodyType: model.BodyTypeText}

	err := store.InTx(ctx, func(q repository.Querier) error {
		if err := q.CreateTransaction(ctx, trx); err != nil {
			return err
		}
		if err := q.CreateMessage(ctx, msg); err != nil {
			return err
		}
		if err := q.CreateContent(ctx, model.Content{MessageID: msg.ID, Email: email, CreatedAt: now, UpdatedAt: now}); err != nil {
			return err
		}
		_, err := q.CreateStatus(ctx, model.StatusEvent{MessageID: msg.ID, Status: model.StatusAccepted, CreatedAt: now})
		return err
	})
	require.NoError(t, err)

	t.Run("reads back", func(t *testing.T) {
		got, err := store.GetTransaction(ctx, trx.ID)
		require.NoError(t, err)
		assert.Equal(t, client, got.Client)

		ids, err := store.ListMessageIDs(ctx, trx.ID)
		require.NoError(t, err)
		assert.Equal(t, []uuid.UUID{msg.ID}, ids)

		content, err := store.GetContent(ctx, msg.ID)
		require.NoError(t, err)
		require.NotNil(t, content.Email)
		assert.Equal(t, email.Subject, content.Email.Subject)

		owner, err := store.GetMessageClient(ctx, msg.ID)
		require.NoError(t, err)
		assert.Equal(t, client, owner)
	})

	t.Run("rollback discards writes", func(t *testing.T) {
		other := uuid.New()
		err := store.InTx(ctx, func(q repository.Querier) error {
			if err := q.CreateTransaction(ctx, model.Transaction{ID: other, Client: client, CreatedAt: now, UpdatedAt: now}); err != nil {
				return err
			}
			return assert.AnError
		})
		require.ErrorIs(t, err, assert.AnError)

		_, err = store.GetTransaction(ctx, other)
		require.ErrorIs(t, err, repository.ErrNotFound)
	})

	t.Run("find messages filters by client", func(t *testing.T) {
		found, err := store.FindMessages(ctx, model.MessageFilter{Client: client, Status: model.StatusAccepted})
		require.NoError(t, err)
		require.Len(t, found, 1)
		assert.Equal(t, msg.ID, found[0].ID)

		found, err = store.FindMessages(ctx, model.MessageFilter{Client: client + "-other"})
		require.NoError(t, err)
		assert.Empty(t, found)
	})

	t.Run("clear content", func(t *testing.T) {
		require.NoError(t, store.ClearContentEmail(ctx, msg.ID))
		content, err := store.GetContent(ctx, msg.ID)
		require.NoError(t, err)
		assert.Nil(t, content.Email)
	})

	t.Run("delete by client", func(t *testing.T) {
		n, err := store.DeleteStatusesByClient(ctx, client)
		require.NoError(t, err)
		assert.EqualValues(t, 1, n)

		n, err = store.DeleteMessagesByClient(ctx, client)
		require.NoError(t, err)
		assert.EqualValues(t, 1, n)

		n, err = store.DeleteTransactionsByClient(ctx, client)
		require.NoError(t, err)
		assert.EqualValues(t, 1, n)

		_, err = store.GetMessage(ctx, msg.ID)
		require.ErrorIs(t, err, repository.ErrNotFound)
	})
}
