// Package mailer defines the delivery boundary for outgoing email.
//
// A [Sender] takes a fully rendered [Email] and returns a [Receipt] carrying
// the provider's identifier for the accepted message. Providers live in
// subpackages:
//
//   - resend: Resend HTTP API
//   - postmark: Postmark HTTP API
//   - smtp: plain SMTP with STARTTLS, implicit TLS or no encryption
//
// [NewLogSender] writes emails to a logger instead of delivering them and is
// used for local development.
//
// [Mailer] wraps a Sender with validation, a default sender address and error
// classification:
//
//	m := mailer.New(resend.New(cfg.Resend), mailer.Config{DefaultFrom: "noreply@example.com"})
//	receipt, err := m.Send(ctx, &mailer.Email{
//		To:      []string{"alice@example.com"},
//		Subject: "Hello",
//		Text:    "Hi Alice",
//	})
package mailer
