package prometheus

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContentMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewContentMetricsWith(reg).(*contentMetrics)

	m.RecordRequest("LIST", 5*time.Millisecond, nil)
	m.RecordRequest("FETCH", time.Millisecond, errors.New("boom"))
	m.RecordBytesServed(400)
	m.RecordConnectionAccepted()
	m.SetQueueDepth(3)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.requestsTotal.WithLabelValues("LIST", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.requestsTotal.WithLabelValues("FETCH", "error")))
	assert.Equal(t, 400.0, testutil.ToFloat64(m.bytesServed))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.connectionsAccepted))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.queueDepth))

	n, err := testutil.GatherAndCount(reg)
	require.NoError(t, err)
	assert.Positive(t, n)
}

func TestMirrorMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMirrorMetricsWith(reg).(*mirrorMetrics)

	m.RecordSourceFailure()
	m.RecordSession(time.Second, 2, 1)
	m.RecordFetch(time.Millisecond, 100, nil)
	m.RecordFetch(time.Millisecond, 0, errors.New("short read"))
	m.RecordMatch()

	assert.Equal(t, 1.0, testutil.ToFloat64(m.sessionsTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sourcesTotal.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sourcesTotal.WithLabelValues("unreachable")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.fetchesTotal.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.fetchesTotal.WithLabelValues("error")))
	assert.Equal(t, 100.0, testutil.ToFloat64(m.bytesTransferred))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.matchesTotal))
}
