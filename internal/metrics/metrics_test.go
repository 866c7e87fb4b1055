package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Counters(t *testing.T) {
	m := New()

	m.Published("add", "queue1")
	m.Published("add", "queue1")
	m.Processed("add", "queue1", "SUCCESS")
	m.Retried("flaky", "queue2")

	done := m.Started("add", "queue1")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.inFlight))
	done()
	assert.Equal(t, 0.0, testutil.ToFloat64(m.inFlight))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.published.WithLabelValues("add", "queue1")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.processed.WithLabelValues("add", "queue1", "SUCCESS")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.retries.WithLabelValues("flaky", "queue2")))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.Published("add", "queue1")
		m.Processed("add", "queue1", "FAILURE")
		m.Retried("add", "queue1")
		m.Started("add", "queue1")()
		require.NoError(t, m.RegisterSessions(nil))
	})
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.Published("multiply", "queue2")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `taskworker_tasks_published_total{queue="queue2",task="multiply"} 1`))
	assert.Contains(t, body, "go_goroutines")
}
