// Package postmark delivers mail through the Postmark API.
package postmark

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/mrz1836/postmark"

	"github.com/dmitrymomot/ches/pkg/mailer"
)

const providerName = "postmark"

// Sender implements mailer.Sender using Postmark's transactional API.
type Sender struct {
	client *postmark.Client
	config Config
}

// New creates a Postmark-backed email sender.
func New(cfg Config) (*Sender, error) {
	if cfg.ServerToken == "" {
		return nil, fmt.Errorf("%w: POSTMARK_SERVER_TOKEN is required", mailer.ErrInvalidConfig)
	}

	return &Sender{
		client: postmark.NewClient(cfg.ServerToken, cfg.AccountToken),
		config: cfg,
	}, nil
}

// Send implements mailer.Sender.
func (s *Sender) Send(ctx context.Context, email *mailer.Email) (mailer.Receipt, error) {
	resp, err := s.client.SendEmail(ctx, s.message(email))
	if err != nil {
		return mailer.Receipt{}, fmt.Errorf("postmark: failed to send email: %w", err)
	}
	if resp.ErrorCode > 0 {
		return mailer.Receipt{}, errors.Join(
			mailer.ErrSendFailed,
			fmt.Errorf("postmark error: %d - %s", resp.ErrorCode, resp.Message),
		)
	}

	return mailer.Receipt{ID: resp.MessageID, Provider: providerName}, nil
}

func (s *Sender) message(email *mailer.Email) postmark.Email {
	from := email.From
	if from == "" {
		from = s.config.SenderEmail
	}

	msg := postmark.Email{
		From:          from,
		To:            strings.Join(email.To, ","),
		Cc:            strings.Join(email.CC, ","),
		Bcc:           strings.Join(email.BCC, ","),
		Subject:       email.Subject,
		HTMLBody:      email.HTML,
		TextBody:      email.Text,
		ReplyTo:       email.ReplyTo,
		MessageStream: s.config.MessageStream,
	}

	for _, k := range slices.Sorted(maps.Keys(email.Headers)) {
		msg.Headers = append(msg.Headers, postmark.Header{Name: k, Value: email.Headers[k]})
	}

	for _, a := range email.Attachments {
		msg.Attachments = append(msg.Attachments, postmark.Attachment{
			Name:        a.Filename,
			Content:     base64.StdEncoding.EncodeToString(a.Content),
			ContentType: a.ContentType,
			ContentID:   a.ContentID,
		})
	}

	// Postmark accepts a single tag; the remaining tags travel as metadata.
	if names := slices.Sorted(maps.Keys(email.Tags)); len(names) > 0 {
		msg.Tag = names[0]
		msg.Metadata = make(map[string]string, len(names))
		for _, n := range names {
			msg.Metadata[n] = mailer.TagString(email.Tags[n])
		}
	}

	return msg
}
