package job

import (
	"context"
	"errors"
)

// ErrHealthcheckFailed is returned when the job manager health check fails.
var ErrHealthcheckFailed = errors.New("job: healthcheck failed")

var (
	errManagerNil          = errors.New("manager is nil")
	errManagerNotStarted   = errors.New("manager not started")
	errManagerNotConnected = errors.New("broker not connected")
)

// Healthcheck returns a health check function for the job manager.
// The check verifies that the manager is connected and started and that the
// database answers. Compatible with health.CheckFunc.
func Healthcheck(m *Manager) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		if m == nil {
			return errors.Join(ErrHealthcheckFailed, errManagerNil)
		}

		m.mu.Lock()
		started := m.started
		connected := m.client != nil && !m.closed
		m.mu.Unlock()

		if !connected {
			return errors.Join(ErrHealthcheckFailed, errManagerNotConnected)
		}
		if !started {
			return errors.Join(ErrHealthcheckFailed, errManagerNotStarted)
		}

		// River shares the pool, so a ping covers both database and queue tables access.
		if err := m.pool.Ping(ctx); err != nil {
			return errors.Join(ErrHealthcheckFailed, err)
		}

		return nil
	}
}
