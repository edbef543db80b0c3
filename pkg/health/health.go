package health

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
)

// CheckFunc probes one dependency. The Healthcheck helpers of pkg/db,
// pkg/redis and pkg/job return this shape.
type CheckFunc func(ctx context.Context) error

// Checks maps dependency names to probes. Nil probes are skipped.
type Checks map[string]CheckFunc

// Response is the JSON readiness body.
type Response struct {
	Checks map[string]Check `json:"checks,omitempty"`
	Status string           `json:"status"`
}

// Check is one probe result.
type Check struct {
	Status     string `json:"status"`
	Error      string `json:"error,omitempty"`
	DurationMS int64  `json:"duration_ms"`
}

type options struct {
	log     *slog.Logger
	timeout time.Duration
}

// Option configures the readiness handler.
type Option func(*options)

// WithTimeout bounds a whole readiness run. Default 5s.
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithLogger logs failing probes at warn level.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.log = l
		}
	}
}

// Run executes all probes concurrently under one deadline.
func Run(ctx context.Context, checks Checks, opts ...Option) Response {
	o := options{timeout: 5 * time.Second, log: slog.New(slog.DiscardHandler)}
	for _, opt := range opts {
		opt(&o)
	}

	resp := Response{Status: StatusHealthy}
	if len(checks) == 0 {
		return resp
	}

	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	var mu sync.Mutex
	resp.Checks = make(map[string]Check, len(checks))
	var g errgroup.Group
	for name, probe := range checks {
		if probe == nil {
			continue
		}
		g.Go(func() error {
			started := time.Now()
			err := probe(ctx)
			res := Check{Status: StatusHealthy, DurationMS: time.Since(started).Milliseconds()}
			if err != nil {
				res.Status, res.Error = StatusUnhealthy, err.Error()
				o.log.WarnContext(ctx, "health check failed", slog.String("check", name), slog.Any("error", err))
			}

			mu.Lock()
			resp.Checks[name] = res
			if err != nil {
				resp.Status = StatusUnhealthy
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return resp
}

// LivenessHandler reports that the process is up.
func LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		write(w, r, http.StatusOK, Response{Status: StatusHealthy})
	}
}

// ReadinessHandler answers 200 when every probe passes and 503 otherwise.
// JSON is returned for ?format=json or an Accept header naming it.
func ReadinessHandler(checks Checks, opts ...Option) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := Run(r.Context(), checks, opts...)
		code := http.StatusOK
		if resp.Status != StatusHealthy {
			code = http.StatusServiceUnavailable
		}
		write(w, r, code, resp)
	}
}

func write(w http.ResponseWriter, r *http.Request, code int, resp Response) {
	if r.URL.Query().Get("format") == "json" || strings.Contains(r.Header.Get("Accept"), "application/json") {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(resp)
		return
	}
	w.WriteHeader(code)
	if code == http.StatusOK {
		_, _ = w.Write([]byte("OK"))
		return
	}
	_, _ = w.Write([]byte(http.StatusText(code)))
}
