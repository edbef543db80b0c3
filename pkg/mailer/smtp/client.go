// Package smtp delivers mail over a plain SMTP connection.
package smtp

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net"
	"net/mail"
	"net/smtp"
	"net/textproto"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/ches/pkg/mailer"
)

const providerName = "smtp"

// Client implements mailer.Sender using the SMTP protocol.
// Every Send opens its own connection, so a Client is safe for concurrent use.
type Client struct {
	config Config
	auth   smtp.Auth
}

// New creates an SMTP-backed email sender.
func New(cfg Config) (*Client, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("%w: Host is required", mailer.ErrInvalidConfig)
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("%w: Port must be between 1 and 65535", mailer.ErrInvalidConfig)
	}
	if cfg.TLSMode != TLSModeSTARTTLS && cfg.TLSMode != TLSModeTLS && cfg.TLSMode != TLSModePlain {
		return nil, fmt.Errorf("%w: TLSMode must be starttls, tls, or plain", mailer.ErrInvalidConfig)
	}

	c := &Client{config: cfg}
	if cfg.Username != "" {
		c.auth = smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
	}
	return c, nil
}

// Send implements mailer.Sender.
// The context deadline, if any, bounds the whole SMTP exchange.
func (c *Client) Send(ctx context.Context, email *mailer.Email) (mailer.Receipt, error) {
	if err := ctx.Err(); err != nil {
		return mailer.Receipt{}, err
	}

	from, err := mail.ParseAddress(email.From)
	if err != nil {
		return mailer.Receipt{}, fmt.Errorf("smtp: invalid sender %q: %w", email.From, err)
	}

	rcpts, err := envelopeRecipients(email)
	if err != nil {
		return mailer.Receipt{}, err
	}

	msgID := fmt.Sprintf("<%s@%s>", uuid.NewString(), c.config.Host)
	msg, err := buildMessage(email, msgID, time.Now())
	if err != nil {
		return mailer.Receipt{}, fmt.Errorf("smtp: build message: %w", err)
	}

	client, err := c.dial(ctx)
	if err != nil {
		return mailer.Receipt{}, err
	}
	defer func() { _ = client.Close() }()

	if err := c.transact(client, from.Address, rcpts, msg); err != nil {
		return mailer.Receipt{}, err
	}

	return mailer.Receipt{ID: msgID, Provider: providerName}, nil
}

func (c *Client) dial(ctx context.Context) (*smtp.Client, error) {
	addr := net.JoinHostPort(c.config.Host, strconv.Itoa(c.config.Port))

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("smtp: failed to connect to %s: %w", addr, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	if c.config.TLSMode == TLSModeTLS {
		tlsConn := tls.Client(conn, &tls.Config{ServerName: c.config.Host})
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("smtp: tls handshake: %w", err)
		}
		conn = tlsConn
	}

	client, err := smtp.NewClient(conn, c.config.Host)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("smtp: failed to create client: %w", err)
	}

	if c.config.TLSMode == TLSModeSTARTTLS {
		if ok, _ := client.Extension("STARTTLS"); !ok {
			_ = client.Close()
			return nil, errors.New("smtp: server does not support STARTTLS")
		}
		if err := client.StartTLS(&tls.Config{ServerName: c.config.Host}); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("smtp: failed to start TLS: %w", err)
		}
	}

	return client, nil
}

func (c *Client) transact(client *smtp.Client, from string, rcpts []string, msg []byte) error {
	if c.auth != nil {
		if ok, _ := client.Extension("AUTH"); ok {
			if err := client.Auth(c.auth); err != nil {
				return fmt.Errorf("smtp: authentication failed: %w", err)
			}
		}
	}

	if err := client.Mail(from); err != nil {
		return fmt.Errorf("smtp: failed to set sender: %w", err)
	}
	for _, rcpt := range rcpts {
		if err := client.Rcpt(rcpt); err != nil {
			return fmt.Errorf("smtp: failed to add recipient %s: %w", rcpt, err)
		}
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("smtp: failed to get data writer: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		_ = w.Close()
		return fmt.Errorf("smtp: failed to write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("smtp: failed to close data writer: %w", err)
	}

	// The message is accepted once DATA closes; some servers drop the connection before QUIT.
	_ = client.Quit()
	return nil
}

// envelopeRecipients returns the bare addresses of To, CC and BCC without duplicates.
func envelopeRecipients(email *mailer.Email) ([]string, error) {
	all := slices.Concat(email.To, email.CC, email.BCC)
	out := make([]string, 0, len(all))
	for _, raw := range all {
		addr, err := mail.ParseAddress(raw)
		if err != nil {
			return nil, fmt.Errorf("smtp: invalid recipient %q: %w", raw, err)
		}
		if !slices.Contains(out, addr.Address) {
			out = append(out, addr.Address)
		}
	}
	if len(out) == 0 {
		return nil, mailer.ErrNoRecipient
	}
	return out, nil
}

// buildMessage renders the RFC 5322 message. BCC recipients are never written to headers.
func buildMessage(email *mailer.Email, msgID string, now time.Time) ([]byte, error) {
	var buf bytes.Buffer

	header := func(k, v string) {
		if v != "" {
			fmt.Fprintf(&buf, "%s: %s\r\n", k, v)
		}
	}
	header("From", email.From)
	header("To", strings.Join(email.To, ", "))
	header("Cc", strings.Join(email.CC, ", "))
	header("Reply-To", email.ReplyTo)
	header("Subject", mime.QEncoding.Encode("utf-8", email.Subject))
	header("Date", now.Format(time.RFC1123Z))
	header("Message-ID", msgID)
	header("MIME-Version", "1.0")

	keys := make([]string, 0, len(email.Headers))
	for k := range email.Headers {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		header(textproto.CanonicalMIMEHeaderKey(k), email.Headers[k])
	}

	contentType, body := bodyPart(email)
	if len(email.Attachments) == 0 {
		header("Content-Type", contentType)
		header("Content-Transfer-Encoding", "8bit")
		buf.WriteString("\r\n")
		buf.WriteString(body)
		return buf.Bytes(), nil
	}

	mw := multipart.NewWriter(&buf)
	header("Content-Type", "multipart/mixed; boundary="+mw.Boundary())
	buf.WriteString("\r\n")

	pw, err := mw.CreatePart(textproto.MIMEHeader{
		"Content-Type":              {contentType},
		"Content-Transfer-Encoding": {"8bit"},
	})
	if err != nil {
		return nil, err
	}
	if _, err := pw.Write([]byte(body)); err != nil {
		return nil, err
	}

	for _, a := range email.Attachments {
		ct := a.ContentType
		if ct == "" {
			ct = "application/octet-stream"
		}
		h := textproto.MIMEHeader{
			"Content-Type":              {ct},
			"Content-Transfer-Encoding": {"base64"},
			"Content-Disposition":       {mime.FormatMediaType("attachment", map[string]string{"filename": a.Filename})},
		}
		if a.ContentID != "" {
			h.Set("Content-ID", "<"+a.ContentID+">")
		}
		aw, err := mw.CreatePart(h)
		if err != nil {
			return nil, err
		}
		if err := writeBase64Lines(aw, a.Content); err != nil {
			return nil, err
		}
	}

	if err := mw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func bodyPart(email *mailer.Email) (string, string) {
	if email.HTML != "" {
		return `text/html; charset="UTF-8"`, email.HTML
	}
	return `text/plain; charset="UTF-8"`, email.Text
}

// writeBase64Lines writes base64 in 76 character lines as MIME requires.
func writeBase64Lines(w io.Writer, data []byte) error {
	enc := base64.StdEncoding.EncodeToString(data)
	for len(enc) > 76 {
		if _, err := w.Write([]byte(enc[:76] + "\r\n")); err != nil {
			return err
		}
		enc = enc[76:]
	}
	_, err := w.Write([]byte(enc + "\r\n"))
	return err
}
