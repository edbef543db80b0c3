package queue

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/dmitrymomot/ches/internal/data"
	"github.com/dmitrymomot/ches/internal/metrics"
	"github.com/dmitrymomot/ches/internal/model"
	"github.com/dmitrymomot/ches/internal/problem"
	"github.com/dmitrymomot/ches/pkg/job"
	"github.com/dmitrymomot/ches/pkg/mailer"
	"github.com/dmitrymomot/ches/pkg/redis"
)

// Sender delivers a rendered email. *mailer.Mailer satisfies it.
type Sender interface {
	Send(ctx context.Context, email *mailer.Email) (mailer.Receipt, error)
}

// Dispatch is the worker task that delivers one message per job.
// It is safe to run more than once for the same job.
type Dispatch struct {
	messages Messages
	sender   Sender
	locker   redis.Locker
	metrics  metrics.Recorder
	log      *slog.Logger
	provider string
	lockTTL  time.Duration
	busyWait time.Duration
}

// DispatchOption configures Dispatch.
type DispatchOption func(*Dispatch)

// WithLocker sets the per-message lock. Without it no lock is taken.
func WithLocker(l redis.Locker) DispatchOption {
	return func(d *Dispatch) { d.locker = l }
}

// WithDispatchMetrics sets the metrics recorder.
func WithDispatchMetrics(r metrics.Recorder) DispatchOption {
	return func(d *Dispatch) { d.metrics = r }
}

// WithProvider names the transport in metrics.
func WithProvider(name string) DispatchOption {
	return func(d *Dispatch) { d.provider = name }
}

// WithLockTTL bounds how long one delivery may hold the message lock.
func WithLockTTL(ttl time.Duration) DispatchOption {
	return func(d *Dispatch) {
		if ttl > 0 {
			d.lockTTL = ttl
		}
	}
}

// NewDispatch creates the dispatch task.
func NewDispatch(messages Messages, sender Sender, log *slog.Logger, opts ...DispatchOption) *Dispatch {
	d := &Dispatch{
		messages: messages,
		sender:   sender,
		locker:   redis.NopLocker{},
		metrics:  metrics.Nop{},
		log:      log,
		provider: "unknown",
		lockTTL:  5 * time.Minute,
		busyWait: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Dispatch) Name() string { return DispatchTaskName }

// Handle delivers the message and reports the attempt's outcome.
func (d *Dispatch) Handle(ctx context.Context, p DispatchPayload) error {
	info, _ := job.InfoFromContext(ctx)
	queueID := strconv.FormatInt(info.ID, 10)
	log := d.log.With(slog.String("message_id", p.MessageID.String()))

	unlock, ok, err := d.locker.TryLock(ctx, "dispatch:"+p.MessageID.String(), d.lockTTL)
	if err != nil {
		return err
	}
	if !ok {
		log.InfoContext(ctx, "message is being delivered by another worker")
		return job.Snooze(d.busyWait)
	}
	defer func() {
		if err := unlock(context.WithoutCancel(ctx)); err != nil {
			log.WarnContext(ctx, "failed to release dispatch lock", slog.Any("error", err))
		}
	}()

	msg, err := d.messages.ReadMessage(ctx, p.MessageID)
	if problem.IsKind(err, problem.KindNotFound) {
		d.metrics.DispatchOutcome(metrics.OutcomeSkipped)
		log.WarnContext(ctx, "message no longer exists")
		return job.Abort(err)
	}
	if err != nil {
		return err
	}

	if msg.Status == model.StatusCompleted || msg.Status == model.StatusCancelled {
		d.metrics.DispatchOutcome(metrics.OutcomeSkipped)
		log.InfoContext(ctx, "message already settled", slog.String("status", msg.Status))
		return nil
	}

	if msg.Content == nil || msg.Content.Email == nil {
		err := errors.New("message content is no longer available")
		d.report(ctx, log, msg, queueID, model.StatusErrored, err.Error())
		d.metrics.DispatchOutcome(metrics.OutcomeErrored)
		return job.Abort(err)
	}

	email, err := toMailerEmail(msg.Content.Email)
	if err != nil {
		d.report(ctx, log, msg, queueID, model.StatusErrored, err.Error())
		d.metrics.DispatchOutcome(metrics.OutcomeErrored)
		return job.Abort(err)
	}

	start := time.Now()
	receipt, err := d.sender.Send(ctx, email)
	d.metrics.SendDuration(d.provider, time.Since(start))

	if err != nil {
		permanent := !errors.Is(err, mailer.ErrSendFailed)
		if permanent || info.FinalAttempt() {
			d.report(ctx, log, msg, queueID, model.StatusErrored, err.Error())
			d.metrics.DispatchOutcome(metrics.OutcomeErrored)
			log.ErrorContext(ctx, "message delivery failed", slog.Any("error", err), slog.Bool("permanent", permanent))
			if permanent {
				return job.Abort(err)
			}
			return err
		}
		d.report(ctx, log, msg, queueID, model.StatusFailed, err.Error())
		d.metrics.DispatchOutcome(metrics.OutcomeFailed)
		log.WarnContext(ctx, "message delivery attempt failed", slog.Any("error", err), slog.Int("attempt", info.Attempt))
		return err
	}

	d.report(ctx, log, msg, queueID, model.StatusCompleted, receipt.ID)
	d.metrics.DispatchOutcome(metrics.OutcomeCompleted)
	log.InfoContext(ctx, "message delivered", slog.String("receipt", receipt.ID), slog.String("provider", receipt.Provider))
	return nil
}

// report records the attempt. A failed write is logged and not retried so
// a delivered message is never sent again because of it.
func (d *Dispatch) report(ctx context.Context, log *slog.Logger, msg model.Message, queueID, status, description string) {
	updated, err := d.messages.UpdateStatus(ctx, data.StatusUpdate{
		MessageID:   msg.ID,
		QueueID:     queueID,
		Status:      status,
		Description: description,
	})
	if err != nil {
		log.ErrorContext(ctx, "failed to record dispatch status", slog.String("status", status), slog.Any("error", err))
		return
	}
	if updated.Status != msg.Status {
		d.metrics.StatusTransition(updated.Status)
	}
}

func toMailerEmail(e *model.Email) (*mailer.Email, error) {
	out := &mailer.Email{
		From:     e.From,
		To:       e.To,
		CC:       e.CC,
		BCC:      e.BCC,
		Subject:  e.Subject,
		Priority: e.Priority,
	}
	if e.BodyType == model.BodyTypeHTML {
		out.HTML = e.Body
	} else {
		out.Text = e.Body
	}
	if e.Tag != "" {
		out.Tags = mailer.SimpleTags(e.Tag)
	}

	for _, a := range e.Attachments {
		content, err := decodeAttachment(a)
		if err != nil {
			return nil, fmt.Errorf("attachment %q: %w", a.Filename, err)
		}
		out.Attachments = append(out.Attachments, mailer.Attachment{
			Filename:    a.Filename,
			ContentType: a.ContentType,
			Content:     content,
		})
	}
	return out, nil
}

func decodeAttachment(a model.Attachment) ([]byte, error) {
	switch a.Encoding {
	case model.EncodingBase64:
		return base64.StdEncoding.DecodeString(a.Content)
	case model.EncodingHex:
		return hex.DecodeString(a.Content)
	case model.EncodingBinary, "":
		return []byte(a.Content), nil
	default:
		return nil, fmt.Errorf("unsupported encoding %q", a.Encoding)
	}
}
