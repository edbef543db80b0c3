package api

import (
	"fmt"
	"net/mail"

	"github.com/dmitrymomot/ches/internal/model"
	"github.com/dmitrymomot/ches/internal/problem"
)

func validateEmail(e *model.Email) error {
	v := newFieldErrors()
	v.common(e.BodyType, e.Body, e.From, e.Subject, e.Priority, e.Attachments)
	v.recipients("to", e.To, true)
	v.recipients("cc", e.CC, false)
	v.recipients("bcc", e.BCC, false)
	return v.err()
}

func validateTemplate(t *model.Template) error {
	v := newFieldErrors()
	v.common(t.BodyType, t.Body, t.From, t.Subject, t.Priority, t.Attachments)
	if len(t.Contexts) == 0 {
		v.add("contexts", "must be a non-empty array")
	}
	for i, c := range t.Contexts {
		prefix := fmt.Sprintf("contexts[%d].", i)
		v.recipients(prefix+"to", c.To, true)
		v.recipients(prefix+"cc", c.CC, false)
		v.recipients(prefix+"bcc", c.BCC, false)
		if c.Context == nil {
			v.add(prefix+"context", "must be an object")
		}
	}
	return v.err()
}

type fieldErrors map[string]string

func newFieldErrors() fieldErrors { return fieldErrors{} }

func (v fieldErrors) add(field, msg string) {
	if _, ok := v[field]; !ok {
		v[field] = msg
	}
}

func (v fieldErrors) common(bodyType, body, from, subject, priority string, attachments []model.Attachment) {
	switch bodyType {
	case model.BodyTypeHTML, model.BodyTypeText:
	default:
		v.add("bodyType", "must be html or text")
	}
	if body == "" {
		v.add("body", "is required")
	}
	if subject == "" {
		v.add("subject", "is required")
	}
	if _, err := mail.ParseAddress(from); err != nil {
		v.add("from", "must be an email address")
	}
	switch priority {
	case "", model.PriorityHigh, model.PriorityNormal, model.PriorityLow:
	default:
		v.add("priority", "must be normal, low or high")
	}
	for i, a := range attachments {
		field := fmt.Sprintf("attachments[%d]", i)
		if a.Filename == "" {
			v.add(field+".filename", "is required")
		}
		switch a.Encoding {
		case "", model.EncodingBase64, model.EncodingBinary, model.EncodingHex:
		default:
			v.add(field+".encoding", "must be base64, binary or hex")
		}
	}
}

func (v fieldErrors) recipients(field string, addrs []string, required bool) {
	if required && len(addrs) == 0 {
		v.add(field, "must be a non-empty array")
		return
	}
	for _, a := range addrs {
		if _, err := mail.ParseAddress(a); err != nil {
			v.add(field, fmt.Sprintf("invalid address %q", a))
			return
		}
	}
}

func (v fieldErrors) err() error {
	if len(v) == 0 {
		return nil
	}
	pe := problem.Validation("request validation failed")
	for field, msg := range v {
		pe.WithField(field, msg)
	}
	return pe
}
