// Package retention clears the stored payload of settled messages.
package retention

import (
	"context"
	"log/slog"
	"time"

	"github.com/dmitrymomot/ches/internal/model"
)

// Purger clears content. *data.Service satisfies it.
type Purger interface {
	PurgeContent(ctx context.Context, before time.Time, statuses []string, limit int) (int, error)
}

// Task is a periodic job that redacts content of messages in a terminal
// status once they are older than the configured age.
type Task struct {
	purger   Purger
	log      *slog.Logger
	age      time.Duration
	schedule string
	batch    int
	now      func() time.Time
}

// New creates the purge task. schedule is a five-field cron expression.
func New(purger Purger, log *slog.Logger, age time.Duration, schedule string, batch int) *Task {
	if batch <= 0 {
		batch = 500
	}
	return &Task{
		purger:   purger,
		log:      log,
		age:      age,
		schedule: schedule,
		batch:    batch,
		now:      time.Now,
	}
}

func (t *Task) Name() string { return "purge_message_content" }

func (t *Task) Schedule() string { return t.schedule }

// Handle clears batches until one comes back short.
func (t *Task) Handle(ctx context.Context) error {
	before := t.now().Add(-t.age)
	statuses := []string{model.StatusCompleted, model.StatusCancelled, model.StatusErrored}

	var total int
	for {
		n, err := t.purger.PurgeContent(ctx, before, statuses, t.batch)
		total += n
		if err != nil {
			return err
		}
		if n < t.batch {
			break
		}
	}

	if total > 0 {
		t.log.InfoContext(ctx, "message content purged", slog.Int("messages", total), slog.Time("before", before))
	}
	return nil
}
