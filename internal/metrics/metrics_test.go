package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveUpload(t *testing.T) {
	m := New()

	m.ObserveUpload(OutcomeSuccess, 12, 30*time.Millisecond)
	m.ObserveUpload(OutcomeSuccess, 3, 10*time.Millisecond)
	m.ObserveUpload("missing_columns", 0, time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Uploads.WithLabelValues(OutcomeSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Uploads.WithLabelValues("missing_columns")))
	assert.Equal(t, 15.0, testutil.ToFloat64(m.RecordsIngested))
}

func TestObserveCounters(t *testing.T) {
	m := New()
	m.ObserveEvictions(2)
	m.ObserveEvictions(0)
	m.ObserveSwept(1)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Evictions))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FilesSwept))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveUpload(OutcomeSuccess, 1, time.Second)
	m.ObserveEvictions(1)
	m.ObserveSwept(1)
}

func TestHandler(t *testing.T) {
	m := New()
	m.ObserveUpload(OutcomeSuccess, 1, time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	require.Equal(t, 200, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `equipstat_uploads_total{outcome="success"} 1`))
}
