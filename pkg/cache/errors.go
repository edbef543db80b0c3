package cache

import "errors"

var (
	ErrNotFound  = errors.New("cache: not found")
	ErrClosed    = errors.New("cache: closed")
	ErrMarshal   = errors.New("cache: marshal")
	ErrUnmarshal = errors.New("cache: unmarshal")
)
