// Package merge renders one email template per recipient context.
package merge

import (
	"fmt"

	"github.com/microcosm-cc/bluemonday"
	"github.com/osteele/liquid"

	"github.com/dmitrymomot/ches/internal/model"
	"github.com/dmitrymomot/ches/internal/problem"
)

// Expander substitutes {{ path.to.value }} tokens in a template's subject
// and body. It is safe for concurrent use.
type Expander struct {
	engine *liquid.Engine
	policy *bluemonday.Policy
}

// NewExpander returns an Expander. String values merged into HTML bodies
// are passed through a bluemonday UGC policy.
func NewExpander() *Expander {
	return &Expander{
		engine: liquid.NewEngine(),
		policy: bluemonday.UGCPolicy(),
	}
}

// Expand produces one email per template context, in context order.
// Template-level fields are copied unchanged into every email.
func (e *Expander) Expand(t model.Template) ([]model.Email, error) {
	if len(t.Contexts) == 0 {
		return nil, problem.Validation("template requires at least one context").
			WithField("contexts", "must be a non-empty array")
	}
	for i, c := range t.Contexts {
		if len(c.To) == 0 {
			return nil, problem.Validation("context %d has no recipients", i).
				WithField(fmt.Sprintf("contexts[%d].to", i), "must be a non-empty array")
		}
		if c.Context == nil {
			return nil, problem.Validation("context %d has no values", i).
				WithField(fmt.Sprintf("contexts[%d].context", i), "must be an object")
		}
	}

	subject, err := e.engine.ParseString(t.Subject)
	if err != nil {
		return nil, problem.Validation("invalid subject template: %v", err).WithField("subject", err.Error())
	}
	body, err := e.engine.ParseString(t.Body)
	if err != nil {
		return nil, problem.Validation("invalid body template: %v", err).WithField("body", err.Error())
	}

	emails := make([]model.Email, 0, len(t.Contexts))
	for i, c := range t.Contexts {
		bindings := liquid.Bindings(c.Context)
		if t.BodyType == model.BodyTypeHTML {
			bindings = e.sanitize(c.Context).(map[string]any)
		}

		renderedSubject, serr := subject.RenderString(liquid.Bindings(c.Context))
		if serr != nil {
			return nil, problem.Validation("context %d: render subject: %v", i, serr)
		}
		renderedBody, serr := body.RenderString(bindings)
		if serr != nil {
			return nil, problem.Validation("context %d: render body: %v", i, serr)
		}

		emails = append(emails, model.Email{
			Attachments: t.Attachments,
			BCC:         c.BCC,
			BodyType:    t.BodyType,
			Body:        renderedBody,
			CC:          c.CC,
			DelayTS:     c.DelayTS,
			Encoding:    t.Encoding,
			From:        t.From,
			Priority:    t.Priority,
			Subject:     renderedSubject,
			Tag:         c.Tag,
			To:          c.To,
		})
	}
	return emails, nil
}

func (e *Expander) sanitize(v any) any {
	switch v := v.(type) {
	case string:
		return e.policy.Sanitize(v)
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, val := range v {
			out[k] = e.sanitize(val)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, val := range v {
			out[i] = e.sanitize(val)
		}
		return out
	default:
		return v
	}
}
