package mailer

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
)

// LogSender logs emails instead of delivering them.
type LogSender struct {
	logger *slog.Logger
}

// NewLogSender creates a Sender that writes a summary of each email to logger.
func NewLogSender(logger *slog.Logger) *LogSender {
	return &LogSender{logger: logger}
}

// Send implements Sender.
func (s *LogSender) Send(ctx context.Context, email *Email) (Receipt, error) {
	if err := ctx.Err(); err != nil {
		return Receipt{}, err
	}

	id := uuid.NewString()
	s.logger.InfoContext(ctx, "email sent to log",
		slog.String("receipt_id", id),
		slog.String("from", email.From),
		slog.Any("to", email.To),
		slog.Any("cc", email.CC),
		slog.Any("bcc", email.BCC),
		slog.String("subject", email.Subject),
		slog.Int("html_bytes", len(email.HTML)),
		slog.Int("text_bytes", len(email.Text)),
		slog.Int("attachments", len(email.Attachments)),
	)

	return Receipt{ID: id, Provider: TransportLog}, nil
}
