package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.Received()
		m.Dropped("queue_full")
		m.Sent("ack")
		m.DecodeError("truncated")
		m.Notification(true)
		m.TransportError("send")
		m.Panic()
		m.SetObservations(3)
	})
}

func TestCounters(t *testing.T) {
	m := New("")
	m.Received()
	m.Received()
	m.Notification(true)
	m.Notification(false)
	m.Notification(false)
	m.SetObservations(5)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.DatagramsReceived))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Notifications.WithLabelValues("true")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Notifications.WithLabelValues("false")))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.Observations))
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New("test")
	m.Sent("observe")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `test_messages_sent_total{kind="observe"} 1`))
}
