package job

import (
	"time"

	"github.com/riverqueue/river/rivertype"
)

// backoffPolicy retries failed jobs after base * 2^(attempt-1), capped at max.
type backoffPolicy struct {
	base time.Duration
	max  time.Duration
	now  func() time.Time
}

func newBackoffPolicy(base, max time.Duration) *backoffPolicy {
	return &backoffPolicy{base: base, max: max, now: time.Now}
}

// NextRetry implements river.ClientRetryPolicy.
func (p *backoffPolicy) NextRetry(job *rivertype.JobRow) time.Time {
	return p.now().Add(p.delay(job.Attempt))
}

func (p *backoffPolicy) delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := p.base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= p.max {
			return p.max
		}
	}
	return min(d, p.max)
}
