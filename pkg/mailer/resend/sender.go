package resend

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/resend/resend-go/v3"

	"github.com/dmitrymomot/ches/pkg/mailer"
)

const (
	providerName = "resend"
	maxTagLength = 256
)

// Sender delivers through the Resend HTTP API.
type Sender struct {
	client *resend.Client
	from   string
}

// New validates cfg and creates a Sender.
func New(cfg Config) (*Sender, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: RESEND_API_KEY is required", mailer.ErrInvalidConfig)
	}
	return &Sender{
		client: resend.NewClient(cfg.APIKey),
		from:   mailer.Recipient(cfg.SenderName, cfg.SenderEmail),
	}, nil
}

func (s *Sender) Send(ctx context.Context, email *mailer.Email) (mailer.Receipt, error) {
	resp, err := s.client.Emails.SendWithContext(ctx, s.request(email))
	if err != nil {
		return mailer.Receipt{}, fmt.Errorf("resend: %w", err)
	}
	return mailer.Receipt{ID: resp.Id, Provider: providerName}, nil
}

func (s *Sender) request(email *mailer.Email) *resend.SendEmailRequest {
	req := &resend.SendEmailRequest{
		From:    cmp(email.From, s.from),
		To:      email.To,
		Cc:      email.CC,
		Bcc:     email.BCC,
		ReplyTo: email.ReplyTo,
		Subject: email.Subject,
		Html:    email.HTML,
		Text:    email.Text,
		Headers: email.Headers,
	}

	for _, a := range email.Attachments {
		req.Attachments = append(req.Attachments, &resend.Attachment{
			Filename:    a.Filename,
			Content:     a.Content,
			ContentType: a.ContentType,
			ContentId:   a.ContentID,
		})
	}

	// Sorted so identical emails produce identical requests.
	for _, name := range slices.Sorted(maps.Keys(email.Tags)) {
		req.Tags = append(req.Tags, resend.Tag{
			Name:  tagValue(name),
			Value: tagValue(mailer.TagString(email.Tags[name])),
		})
	}
	return req
}

// tagValue maps s onto the characters Resend accepts in tags: ASCII
// letters, digits, underscores and dashes. Anything else becomes '_'.
func tagValue(s string) string {
	if s == "" {
		return "true"
	}
	out := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			return r
		default:
			return '_'
		}
	}, s)
	if len(out) > maxTagLength {
		out = out[:maxTagLength]
	}
	return out
}

func cmp(a, b string) string {
	if a != "" {
		return a
	}
	return b
}
