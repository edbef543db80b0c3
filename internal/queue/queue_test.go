package queue_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/ches/internal/data"
	"github.com/dmitrymomot/ches/internal/model"
	"github.com/dmitrymomot/ches/internal/repository/memstore"
	"github.com/dmitrymomot/ches/pkg/job"
	"github.com/dmitrymomot/ches/pkg/logger"
)

type enqueued struct {
	name    string
	payload any
	opts    []job.EnqueueOption
}

// fakeJobs records enqueues and cancels without a broker.
type fakeJobs struct {
	mu        sync.Mutex
	nextID    int64
	enqueued  []enqueued
	cancelled []int64
	cancelOK  bool
	err       error
}

func (f *fakeJobs) Enqueue(_ context.Context, name string, payload any, opts ...job.EnqueueOption) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	f.nextID++
	f.enqueued = append(f.enqueued, enqueued{name: name, payload: payload, opts: opts})
	return f.nextID, nil
}

func (f *fakeJobs) Cancel(_ context.Context, id int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return false, f.err
	}
	f.cancelled = append(f.cancelled, id)
	return f.cancelOK, nil
}

func newData(t *testing.T) *data.Service {
	t.Helper()
	return data.New(memstore.New(), logger.NewNope())
}

func createMessage(t *testing.T, svc *data.Service, mutate func(*model.Email)) model.Message {
	t.Helper()
	email := model.Email{
		From:     "f@x.com",
		To:       []string{"a@x.com"},
		Subject:  "s",
		Body:     "hi",
		BodyType: model.BodyTypeText,
	}
	if mutate != nil {
		mutate(&email)
	}
	trx, err := svc.Create(context.Background(), "client", email)
	require.NoError(t, err)
	return trx.Messages[0]
}

func jobContext(id int64, attempt, maxAttempts int) context.Context {
	return job.ContextWithInfo(context.Background(), job.Info{
		Task:        "dispatch_message",
		ID:          id,
		Attempt:     attempt,
		MaxAttempts: maxAttempts,
	})
}

func futureTS(d time.Duration) *int64 {
	ts := time.Now().Add(d).UnixMilli()
	return &ts
}
