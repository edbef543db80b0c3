// Package health serves liveness and readiness probes.
//
// [LivenessHandler] always answers 200. [ReadinessHandler] runs every
// [CheckFunc] concurrently under a shared timeout and answers 503 if any of
// them fails. Both reply with plain text unless the client asks for JSON
// (Accept: application/json or ?format=json).
//
//	r.Get("/health/ready", health.ReadinessHandler(health.Checks{
//		"db":    db.Healthcheck(pool),
//		"queue": job.Healthcheck(jobs),
//	}, health.WithTimeout(2*time.Second)))
package health
