package job

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/riverqueue/river"
)

// Info describes the job a task handler is currently executing.
type Info struct {
	Task        string
	ID          int64
	Attempt     int
	MaxAttempts int
}

// FinalAttempt reports whether a failure now exhausts the job's retries.
func (i Info) FinalAttempt() bool {
	return i.MaxAttempts > 0 && i.Attempt >= i.MaxAttempts
}

type infoCtxKey struct{}

// ContextWithInfo returns a copy of ctx carrying job info.
func ContextWithInfo(ctx context.Context, info Info) context.Context {
	return context.WithValue(ctx, infoCtxKey{}, info)
}

// InfoFromContext returns the job info set by the worker, if any.
func InfoFromContext(ctx context.Context) (Info, bool) {
	info, ok := ctx.Value(infoCtxKey{}).(Info)
	return info, ok
}

// LogExtractor adds a "job" group to log records written while a job runs.
// Compatible with logger.ContextExtractor.
func LogExtractor(ctx context.Context) (slog.Attr, bool) {
	info, ok := InfoFromContext(ctx)
	if !ok {
		return slog.Attr{}, false
	}
	return slog.Group("job",
		slog.Int64("id", info.ID),
		slog.String("task", info.Task),
		slog.Int("attempt", info.Attempt),
	), true
}

// Abort wraps err so the job is cancelled instead of retried.
func Abort(err error) error {
	return river.JobCancel(err)
}

// Snooze puts the job back to sleep for d without counting a failed attempt.
func Snooze(d time.Duration) error {
	return river.JobSnooze(d)
}

// IsAbort reports whether err was produced by Abort.
func IsAbort(err error) bool {
	var cancelErr *river.JobCancelError
	return errors.As(err, &cancelErr)
}

// IsSnooze reports whether err was produced by Snooze.
func IsSnooze(err error) bool {
	var snoozeErr *river.JobSnoozeError
	return errors.As(err, &snoozeErr)
}
