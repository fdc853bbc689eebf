package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilRecorderIsNoop(t *testing.T) {
	var r *Recorder
	assert.NotPanics(t, func() {
		r.ObserveRun(OutcomeComplete, time.Second)
		r.IncEntity("ok")
		r.IncModelFailure("arima")
		r.ObserveForecast(time.Millisecond)
		r.AddRejected(3)
	})
}

func TestRecorderCounts(t *testing.T) {
	r := NewRecorder(prometheus.NewRegistry())
	r.ObserveRun(OutcomePartial, 2*time.Second)
	r.IncEntity("degraded")
	r.IncEntity("degraded")
	r.IncModelFailure("decomposition")
	r.AddRejected(4)
	r.AddRejected(-1)

	assert.Equal(t, 1.0, testutil.ToFloat64(r.runs.WithLabelValues(OutcomePartial)))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.entities.WithLabelValues("degraded")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.fallbacks.WithLabelValues("decomposition")))
	assert.Equal(t, 4.0, testutil.ToFloat64(r.rejected))

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "salesinsight_records_rejected_total 4"))
}
