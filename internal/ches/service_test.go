package ches_test

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/ches/internal/ches"
	"github.com/dmitrymomot/ches/internal/data"
	"github.com/dmitrymomot/ches/internal/merge"
	"github.com/dmitrymomot/ches/internal/model"
	"github.com/dmitrymomot/ches/internal/problem"
	"github.com/dmitrymomot/ches/internal/queue"
	"github.com/dmitrymomot/ches/internal/repository/memstore"
	"github.com/dmitrymomot/ches/pkg/cache"
	"github.com/dmitrymomot/ches/pkg/job"
	"github.com/dmitrymomot/ches/pkg/logger"
	"github.com/dmitrymomot/ches/pkg/mailer"
)

const client = "ches-svc-testing"

// brokerStub hands out sequential job ids and remembers payloads so tests
// can run the dispatch task by hand.
type brokerStub struct {
	mu        sync.Mutex
	jobs      map[int64]queue.DispatchPayload
	cancelled []int64
	next      int64
	failFrom  int64
}

func (b *brokerStub) Enqueue(_ context.Context, _ string, payload any, _ ...job.EnqueueOption) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failFrom > 0 && b.next+1 >= b.failFrom {
		return 0, assert.AnError
	}
	b.next++
	b.jobs[b.next] = payload.(queue.DispatchPayload)
	return b.next, nil
}

func (b *brokerStub) Cancel(_ context.Context, id int64) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.jobs[id]
	delete(b.jobs, id)
	b.cancelled = append(b.cancelled, id)
	return ok, nil
}

type fixture struct {
	svc    *ches.Service
	data   *data.Service
	broker *brokerStub
	worker *queue.Dispatch
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := logger.NewNope()
	store := data.New(memstore.New(), log)
	broker := &brokerStub{jobs: map[int64]queue.DispatchPayload{}}
	q := queue.NewService(broker, store, log)
	owners := cache.NewMemory[string]()
	t.Cleanup(func() { _ = owners.Close() })

	sender := mailer.New(mailer.NewLogSender(log), mailer.Config{})
	return &fixture{
		svc:    ches.New(store, q, merge.NewExpander(), log, ches.WithOwnerCache(owners, 0)),
		data:   store,
		broker: broker,
		worker: queue.NewDispatch(store, sender, log),
	}
}

// drain runs every queued job once, as a worker would.
func (f *fixture) drain(t *testing.T) {
	t.Helper()
	f.broker.mu.Lock()
	jobs := make(map[int64]queue.DispatchPayload, len(f.broker.jobs))
	for id, p := range f.broker.jobs {
		jobs[id] = p
	}
	f.broker.jobs = map[int64]queue.DispatchPayload{}
	f.broker.mu.Unlock()

	for id, p := range jobs {
		ctx := job.ContextWithInfo(context.Background(), job.Info{Task: queue.DispatchTaskName, ID: id, Attempt: 1, MaxAttempts: 5})
		require.NoError(t, f.worker.Handle(ctx, p))
	}
}

func testEmail() *model.Email {
	return &model.Email{
		To:       []string{"a@x.com"},
		Body:     "hi",
		Subject:  "s",
		BodyType: model.BodyTypeText,
		From:     "f@x.com",
	}
}

func TestSendEmail(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("validation", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)

		_, err := f.svc.SendEmail(ctx, client, nil, false)
		assert.True(t, problem.IsKind(err, problem.KindValidation))

		_, err = f.svc.SendEmail(ctx, "", testEmail(), false)
		assert.True(t, problem.IsKind(err, problem.KindValidation))
		assert.Empty(t, f.broker.jobs)
	})

	t.Run("dev mode without client", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)

		trx, err := f.svc.SendEmail(ctx, "", testEmail(), true)
		require.NoError(t, err)
		assert.Equal(t, "ches-dev", trx.Client)
	})

	t.Run("delivers end to end", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)

		trx, err := f.svc.SendEmail(ctx, client, testEmail(), false)
		require.NoError(t, err)
		require.Len(t, trx.Messages, 1)
		assert.Equal(t, model.StatusAccepted, trx.Messages[0].Status)
		assert.Len(t, f.broker.jobs, 1)

		f.drain(t)

		msg, err := f.svc.GetStatus(ctx, client, trx.Messages[0].ID, true)
		require.NoError(t, err)
		assert.Equal(t, model.StatusCompleted, msg.Status)
		assert.Len(t, msg.StatusHistory, 2)
	})
}

func TestSendEmailMerge(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	tpl := &model.Template{
		From:     "f@x.com",
		Subject:  "Hi {{ name }}",
		Body:     "Code {{ code }}",
		BodyType: model.BodyTypeText,
		Contexts: []model.MergeContext{
			{To: []string{"a@x.com"}, Context: map[string]any{"name": "Ann", "code": "A1"}},
			{To: []string{"b@x.com"}, Context: map[string]any{"name": "Bob", "code": "B2"}},
		},
	}

	t.Run("validation", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)

		_, err := f.svc.SendEmailMerge(ctx, client, nil, false)
		assert.True(t, problem.IsKind(err, problem.KindValidation))
		_, err = f.svc.SendEmailMerge(ctx, "", tpl, false)
		assert.True(t, problem.IsKind(err, problem.KindValidation))
	})

	t.Run("one message per context", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)

		trx, err := f.svc.SendEmailMerge(ctx, client, tpl, false)
		require.NoError(t, err)
		require.Len(t, trx.Messages, 2)
		assert.Len(t, f.broker.jobs, 2)

		assert.Equal(t, []string{"a@x.com"}, trx.Messages[0].Content.Email.To)
		assert.Contains(t, trx.Messages[0].Content.Email.Body, "A1")
		assert.Equal(t, []string{"b@x.com"}, trx.Messages[1].Content.Email.To)
		assert.Contains(t, trx.Messages[1].Content.Email.Body, "B2")
	})

	t.Run("broker failure settles unqueued messages", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		f.broker.failFrom = 2

		three := *tpl
		three.Contexts = append(append([]model.MergeContext{}, tpl.Contexts...),
			model.MergeContext{To: []string{"c@x.com"}, Context: map[string]any{"name": "Cy", "code": "C3"}})

		_, err := f.svc.SendEmailMerge(ctx, client, &three, false)
		assert.ErrorIs(t, err, assert.AnError)
		assert.Len(t, f.broker.jobs, 1)

		found, err := f.data.FindMessages(ctx, model.MessageFilter{Client: client})
		require.NoError(t, err)
		require.Len(t, found, 3)

		statuses := map[string]string{}
		for _, m := range found {
			msg, err := f.data.ReadMessage(ctx, m.ID)
			require.NoError(t, err)
			statuses[msg.Content.Email.To[0]] = msg.Status
			if msg.Status == model.StatusErrored {
				require.NotNil(t, msg.StatusHistory[0].Description)
				assert.Contains(t, *msg.StatusHistory[0].Description, "enqueue failed")
			}
		}
		assert.Equal(t, map[string]string{
			"a@x.com": model.StatusAccepted,
			"b@x.com": model.StatusErrored,
			"c@x.com": model.StatusErrored,
		}, statuses)
	})

	t.Run("preview persists nothing", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)

		emails, err := f.svc.PreviewMerge(tpl)
		require.NoError(t, err)
		require.Len(t, emails, 2)
		assert.Equal(t, "Hi Bob", emails[1].Subject)
		assert.Empty(t, f.broker.jobs)

		_, err = f.svc.PreviewMerge(nil)
		assert.True(t, problem.IsKind(err, problem.KindValidation))
	})
}

func TestCancelMessage(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("validation", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)

		assert.True(t, problem.IsKind(f.svc.CancelMessage(ctx, "", uuid.New()), problem.KindValidation))
		assert.True(t, problem.IsKind(f.svc.CancelMessage(ctx, client, uuid.Nil), problem.KindValidation))
		assert.True(t, problem.IsKind(f.svc.CancelMessage(ctx, client, uuid.New()), problem.KindNotFound))
	})

	t.Run("mismatched client", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		trx, err := f.svc.SendEmail(ctx, client, testEmail(), false)
		require.NoError(t, err)

		err = f.svc.CancelMessage(ctx, "someone-else", trx.Messages[0].ID)
		assert.True(t, problem.IsKind(err, problem.KindForbidden))
	})

	t.Run("cancels the pending job", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		trx, err := f.svc.SendEmail(ctx, client, testEmail(), false)
		require.NoError(t, err)
		id := trx.Messages[0].ID

		require.NoError(t, f.svc.CancelMessage(ctx, client, id))
		assert.Equal(t, []int64{1}, f.broker.cancelled)
		assert.Empty(t, f.broker.jobs)

		msg, err := f.svc.GetStatus(ctx, client, id, true)
		require.NoError(t, err)
		assert.Equal(t, model.StatusCancelled, msg.Status)
		assert.Len(t, msg.StatusHistory, 2)

		err = f.svc.CancelMessage(ctx, client, id)
		assert.True(t, problem.IsKind(err, problem.KindConflict))
	})
}

func TestGetStatus(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.svc.GetStatus(ctx, client, uuid.Nil, false)
	assert.True(t, problem.IsKind(err, problem.KindValidation))
	_, err = f.svc.GetStatus(ctx, client, uuid.New(), false)
	assert.True(t, problem.IsKind(err, problem.KindNotFound))

	trx, err := f.svc.SendEmail(ctx, client, testEmail(), false)
	require.NoError(t, err)
	id := trx.Messages[0].ID

	msg, err := f.svc.GetStatus(ctx, client, id, false)
	require.NoError(t, err)
	assert.Equal(t, id, msg.ID)
	assert.Nil(t, msg.StatusHistory)

	msg, err = f.svc.GetStatus(ctx, client, id, true)
	require.NoError(t, err)
	assert.Len(t, msg.StatusHistory, 1)

	_, err = f.svc.GetStatus(ctx, "intruder", id, false)
	assert.True(t, problem.IsKind(err, problem.KindForbidden))
}

func TestFindStatuses(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)

	found, err := f.svc.FindStatuses(ctx, model.MessageFilter{Client: client})
	require.NoError(t, err)
	assert.Empty(t, found)

	trx, err := f.svc.SendEmail(ctx, client, testEmail(), false)
	require.NoError(t, err)

	found, err = f.svc.FindStatuses(ctx, model.MessageFilter{Client: client, TransactionID: trx.ID})
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, model.StatusAccepted, found[0].Status)

	_, err = f.svc.FindStatuses(ctx, model.MessageFilter{})
	assert.True(t, problem.IsKind(err, problem.KindValidation))
}
