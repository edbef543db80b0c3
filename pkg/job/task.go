package job

import (
	"context"
	"encoding/json"
	"errors"
	"maps"
	"slices"
)

type executor interface {
	Execute(ctx context.Context, payload json.RawMessage) error
}

type executorFunc func(ctx context.Context, payload json.RawMessage) error

func (f executorFunc) Execute(ctx context.Context, payload json.RawMessage) error {
	return f(ctx, payload)
}

// decoding adapts a typed handler to raw JSON payloads.
// An empty payload leaves P at its zero value.
func decoding[P any](handle func(context.Context, P) error) executorFunc {
	return func(ctx context.Context, raw json.RawMessage) error {
		var p P
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &p); err != nil {
				return errors.Join(ErrInvalidPayload, err)
			}
		}
		return handle(ctx, p)
	}
}

// registry is filled by options before the manager starts and is
// read-only afterwards.
type registry map[string]executor

func (r registry) register(name string, e executor) { r[name] = e }

func (r registry) get(name string) (executor, bool) {
	e, ok := r[name]
	return e, ok
}

func (r registry) names() []string {
	return slices.Sorted(maps.Keys(r))
}
