package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsAreNoOps(t *testing.T) {
	var m *Metrics
	m.ObserveRun("success", "bidirectional", time.Second)
	m.Decision("noop")
	m.ReviewEnqueued("data_conflict")
	m.Merged(2)
	m.Purged(1)
	m.RemoteCall("list", 200)
	assert.NotNil(t, m.Handler())
}

func TestCountersAndExposition(t *testing.T) {
	m := New()
	m.ObserveRun("success", "bidirectional", 2*time.Second)
	m.ObserveRun("failed", "bidirectional", time.Second)
	m.ObserveRun("success", "remote_to_local", time.Second)
	m.Decision("auto_apply")
	m.Merged(3)
	m.Merged(0)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.runs.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.decisions.WithLabelValues("auto_apply")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.merges))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "rolodex_sync_runs_total"))
}

func TestMiddlewareUsesRouteTemplate(t *testing.T) {
	m := New()
	e := echo.New()
	e.Use(m.Middleware())
	e.GET("/reviews/:id", func(c echo.Context) error { return c.NoContent(http.StatusNoContent) })

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/reviews/123", nil))
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.httpRequestsTotal.WithLabelValues("GET", "/reviews/:id", "204")))
}
