package mailer

import (
	"context"
	"errors"
	"maps"
)

// Mailer validates emails and hands them to a Sender.
type Mailer struct {
	sender Sender
	config Config
}

// New creates a new Mailer with the given sender.
func New(sender Sender, cfg Config) *Mailer {
	return &Mailer{
		sender: sender,
		config: cfg,
	}
}

// Send fills in the default sender, validates the email and delivers it.
// The caller's Email is not modified.
func (m *Mailer) Send(ctx context.Context, email *Email) (Receipt, error) {
	if email == nil {
		return Receipt{}, ErrNoRecipient
	}

	out := *email
	if out.From == "" {
		out.From = m.config.DefaultFrom
	}
	if out.From == "" {
		return Receipt{}, ErrNoSender
	}
	if err := out.Validate(); err != nil {
		return Receipt{}, err
	}

	if ph := out.PriorityHeaders(); len(ph) > 0 {
		headers := make(map[string]string, len(out.Headers)+len(ph))
		maps.Copy(headers, out.Headers)
		maps.Copy(headers, ph)
		out.Headers = headers
	}

	receipt, err := m.sender.Send(ctx, &out)
	if err != nil {
		return Receipt{}, errors.Join(ErrSendFailed, err)
	}

	return receipt, nil
}
