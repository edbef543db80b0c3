package mailer

import "context"

// Sender defines the minimal interface that email providers must implement.
// It accepts a fully-prepared Email and handles the actual delivery.
type Sender interface {
	// Send delivers an email message and returns the provider receipt.
	Send(ctx context.Context, email *Email) (Receipt, error)
}

// SenderFunc adapts a function to the Sender interface.
type SenderFunc func(ctx context.Context, email *Email) (Receipt, error)

// Send calls f(ctx, email).
func (f SenderFunc) Send(ctx context.Context, email *Email) (Receipt, error) {
	return f(ctx, email)
}

// Receipt identifies a message accepted by a provider.
type Receipt struct {
	ID       string // Provider message id
	Provider string // Provider name, e.g. "resend"
}
