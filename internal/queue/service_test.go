package queue_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/ches/internal/model"
	"github.com/dmitrymomot/ches/internal/problem"
	"github.com/dmitrymomot/ches/internal/queue"
	"github.com/dmitrymomot/ches/pkg/job"
	"github.com/dmitrymomot/ches/pkg/logger"
	"github.com/dmitrymomot/ches/pkg/mailer"
)

func TestService_Enqueue(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("records the job handle without a status change", func(t *testing.T) {
		t.Parallel()
		messages := newData(t)
		jobs := &fakeJobs{}
		svc := queue.NewService(jobs, messages, logger.NewNope())
		msg := createMessage(t, messages, nil)

		handle, err := svc.Enqueue(ctx, msg)
		require.NoError(t, err)
		assert.Equal(t, "1", handle)

		require.Len(t, jobs.enqueued, 1)
		assert.Equal(t, queue.DispatchTaskName, jobs.enqueued[0].name)
		assert.Equal(t, queue.DispatchPayload{MessageID: msg.ID}, jobs.enqueued[0].payload)

		got, err := messages.ReadMessage(ctx, msg.ID)
		require.NoError(t, err)
		assert.Equal(t, model.StatusAccepted, got.Status)
		assert.Len(t, got.StatusHistory, 1)
		require.Len(t, got.QueueHistory, 1)
		assert.Equal(t, "1", got.QueueHistory[0].ExternalQueueID)
		assert.Equal(t, model.StatusAccepted, got.QueueHistory[0].Status)
	})

	t.Run("delayed message gets a schedule option", func(t *testing.T) {
		t.Parallel()
		messages := newData(t)
		jobs := &fakeJobs{}
		svc := queue.NewService(jobs, messages, logger.NewNope(), queue.WithMaxAttempts(3))

		now := createMessage(t, messages, nil)
		later := createMessage(t, messages, func(e *model.Email) { e.DelayTS = futureTS(time.Hour) })

		_, err := svc.Enqueue(ctx, now)
		require.NoError(t, err)
		_, err = svc.Enqueue(ctx, later)
		require.NoError(t, err)

		require.Len(t, jobs.enqueued, 2)
		assert.Len(t, jobs.enqueued[1].opts, len(jobs.enqueued[0].opts)+1)
	})

	t.Run("broker failure is a dependency error", func(t *testing.T) {
		t.Parallel()
		messages := newData(t)
		svc := queue.NewService(&fakeJobs{err: assert.AnError}, messages, logger.NewNope())

		_, err := svc.Enqueue(ctx, createMessage(t, messages, nil))
		assert.True(t, problem.IsKind(err, problem.KindDependency))
		assert.ErrorIs(t, err, assert.AnError)
	})
}

// eagerJobs delivers each job before Enqueue returns, like a worker that
// claims the job ahead of the handle being recorded.
type eagerJobs struct {
	worker *queue.Dispatch
	nextID int64
}

func (e *eagerJobs) Enqueue(_ context.Context, _ string, payload any, _ ...job.EnqueueOption) (int64, error) {
	e.nextID++
	if err := e.worker.Handle(jobContext(e.nextID, 1, 5), payload.(queue.DispatchPayload)); err != nil {
		return 0, err
	}
	return e.nextID, nil
}

func (e *eagerJobs) Cancel(context.Context, int64) (bool, error) { return false, nil }

func TestService_EnqueueAfterDelivery(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	messages := newData(t)
	msg := createMessage(t, messages, nil)

	sender := &mockSender{}
	sender.On("Send", mock.Anything, mock.Anything).Return(mailer.Receipt{ID: "r-1", Provider: "log"}, nil).Once()
	worker := queue.NewDispatch(messages, sender, logger.NewNope())
	svc := queue.NewService(&eagerJobs{worker: worker}, messages, logger.NewNope())

	handle, err := svc.Enqueue(ctx, msg)
	require.NoError(t, err)

	got, err := messages.ReadMessage(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, got.Status)
	require.Len(t, got.StatusHistory, 2)
	assert.Equal(t, model.StatusCompleted, got.StatusHistory[0].Status)
	assert.Equal(t, model.StatusAccepted, got.StatusHistory[1].Status)
	require.Len(t, got.QueueHistory, 2)
	for _, ev := range got.QueueHistory {
		assert.Equal(t, handle, ev.ExternalQueueID)
	}

	t.Run("redelivery does not send again", func(t *testing.T) {
		require.NoError(t, worker.Handle(jobContext(1, 2, 5), queue.DispatchPayload{MessageID: msg.ID}))
		sender.AssertNumberOfCalls(t, "Send", 1)

		got, err := messages.ReadMessage(ctx, msg.ID)
		require.NoError(t, err)
		assert.Equal(t, model.StatusCompleted, got.Status)
		assert.Len(t, got.StatusHistory, 2)
	})
}

func TestService_Cancel(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	jobs := &fakeJobs{cancelOK: true}
	svc := queue.NewService(jobs, newData(t), logger.NewNope())

	ok, err := svc.Cancel(ctx, "42")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []int64{42}, jobs.cancelled)

	_, err = svc.Cancel(ctx, "not-a-number")
	assert.True(t, problem.IsKind(err, problem.KindValidation))

	failing := queue.NewService(&fakeJobs{err: assert.AnError}, newData(t), logger.NewNope())
	_, err = failing.Cancel(ctx, "1")
	assert.True(t, problem.IsKind(err, problem.KindDependency))
}
