package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ok(context.Context) error { return nil }

func TestLivenessHandler(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	LivenessHandler()(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

func TestReadinessHandler(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		checks     Checks
		wantStatus int
		wantBody   string
	}{
		{
			name:       "no checks",
			checks:     nil,
			wantStatus: http.StatusOK,
			wantBody:   StatusHealthy,
		},
		{
			name:       "all healthy",
			checks:     Checks{"db": ok, "queue": ok, "skipped": nil},
			wantStatus: http.StatusOK,
			wantBody:   StatusHealthy,
		},
		{
			name: "one failing",
			checks: Checks{
				"db":    ok,
				"redis": func(context.Context) error { return errors.New("down") },
			},
			wantStatus: http.StatusServiceUnavailable,
			wantBody:   StatusUnhealthy,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			req := httptest.NewRequest(http.MethodGet, "/health/ready?format=json", nil)
			rec := httptest.NewRecorder()
			ReadinessHandler(tt.checks)(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

			var resp Response
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, tt.wantBody, resp.Status)
		})
	}
}

func TestReadinessHandler_Timeout(t *testing.T) {
	t.Parallel()

	slow := func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}

	req := httptest.NewRequest(http.MethodGet, "/health/ready", nil)
	req.Header.Set("Accept", "application/json")
	rec := httptest.NewRecorder()
	ReadinessHandler(Checks{"slow": slow}, WithTimeout(20*time.Millisecond))(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Contains(t, resp.Checks["slow"].Error, "deadline exceeded")
}

func TestReadinessHandler_PlainText(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	ReadinessHandler(Checks{"bad": func(context.Context) error { return errors.New("x") }})(
		rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "Service Unavailable", rec.Body.String())
}

func TestRun_SkipsNilProbes(t *testing.T) {
	t.Parallel()

	resp := Run(context.Background(), Checks{"db": ok, "redis": nil})
	assert.Equal(t, StatusHealthy, resp.Status)
	assert.Contains(t, resp.Checks, "db")
	assert.NotContains(t, resp.Checks, "redis")
}
