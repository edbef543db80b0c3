// Package metrics exposes dispatch counters to Prometheus.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "ches"

// Transaction kinds.
const (
	KindSingle = "single"
	KindMerge  = "merge"
)

// Dispatch outcomes.
const (
	OutcomeCompleted = "completed"
	OutcomeFailed    = "failed"
	OutcomeErrored   = "errored"
	OutcomeSkipped   = "skipped"
)

// Recorder is the metrics capability handed to the services.
type Recorder interface {
	TransactionCreated(kind string, messages int)
	MessageEnqueued()
	DispatchOutcome(outcome string)
	StatusTransition(status string)
	SendDuration(provider string, d time.Duration)
}

// Prometheus records to collectors registered on a caller-supplied registerer.
type Prometheus struct {
	transactions *prometheus.CounterVec
	messages     *prometheus.CounterVec
	enqueued     prometheus.Counter
	outcomes     *prometheus.CounterVec
	transitions  *prometheus.CounterVec
	sendDuration *prometheus.HistogramVec

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// NewPrometheus registers the collectors on reg.
func NewPrometheus(reg prometheus.Registerer) *Prometheus {
	f := promauto.With(reg)
	return &Prometheus{
		transactions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transactions_created_total",
			Help:      "Total transactions created.",
		}, []string{"kind"}),
		messages: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_created_total",
			Help:      "Total messages created.",
		}, []string{"kind"}),
		enqueued: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_enqueued_total",
			Help:      "Total dispatch jobs enqueued.",
		}),
		outcomes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_outcomes_total",
			Help:      "Dispatch attempts by outcome.",
		}, []string{"outcome"}),
		transitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "status_transitions_total",
			Help:      "Message status changes by new status.",
		}, []string{"status"}),
		sendDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "transport_send_duration_seconds",
			Help:      "Duration of mail transport sends.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"provider"}),
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"method", "path", "status_code"}),
		httpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),
	}
}

func (p *Prometheus) TransactionCreated(kind string, messages int) {
	p.transactions.WithLabelValues(kind).Inc()
	p.messages.WithLabelValues(kind).Add(float64(messages))
}

func (p *Prometheus) MessageEnqueued() { p.enqueued.Inc() }

func (p *Prometheus) DispatchOutcome(outcome string) { p.outcomes.WithLabelValues(outcome).Inc() }

func (p *Prometheus) StatusTransition(status string) { p.transitions.WithLabelValues(status).Inc() }

func (p *Prometheus) SendDuration(provider string, d time.Duration) {
	p.sendDuration.WithLabelValues(provider).Observe(d.Seconds())
}

// Middleware records request counts and durations by chi route pattern.
func (p *Prometheus) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		path := "unknown"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			path = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		p.httpDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
		p.httpRequests.WithLabelValues(r.Method, path, strconv.Itoa(status)).Inc()
	})
}

// Nop discards everything.
type Nop struct{}

func (Nop) TransactionCreated(string, int) {}
func (Nop) MessageEnqueued() {}
func (Nop) DispatchOutcome(string) {}
func (Nop) StatusTransition(string) {}
func (Nop) SendDuration(string, time.Duration) {}

var (
	_ Recorder = (*Prometheus)(nil)
	_ Recorder = Nop{}
)
