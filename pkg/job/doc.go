// Package job runs background tasks on River, a Postgres-backed job queue.
//
// A [Manager] is the process-wide broker handle. It is created cheaply with
// [NewManager]; the River client itself is built on first use after the
// database answers a ping, retried a bounded number of times
// ([WithConnectRetry]). Jobs may be enqueued before [Manager.Start] and are
// processed once workers start.
//
// Tasks are registered by structural typing:
//
//	type Dispatch struct{ ... }
//
//	func (t *Dispatch) Name() string { return "dispatch_message" }
//	func (t *Dispatch) Handle(ctx context.Context, p Payload) error { ... }
//
//	m, err := job.NewManager(pool,
//		job.WithTask[queue.DispatchPayload](dispatch),
//		job.WithQueue("email", 10),
//		job.WithBackoff(time.Second, 5*time.Minute),
//	)
//
// Inside a handler [InfoFromContext] returns the job id and attempt counters.
// Returning [Abort] stops retries; returning [Snooze] re-schedules the job
// without consuming an attempt. Failed jobs are retried with exponential
// backoff until their MaxAttempts is reached.
//
// [Manager.Cancel] removes jobs that are still waiting (available, scheduled
// or retryable). Jobs already claimed by a worker are left alone.
package job
