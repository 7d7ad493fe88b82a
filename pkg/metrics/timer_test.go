package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimerDuration(t *testing.T) {
	timer := NewTimer()
	require.NotNil(t, timer)

	time.Sleep(5 * time.Millisecond)
	first := timer.Duration()
	assert.GreaterOrEqual(t, first, 5*time.Millisecond)
	assert.GreaterOrEqual(t, timer.Duration(), first, "duration never decreases")
}

func TestTimerObserveDuration(t *testing.T) {
	h := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "test_observe_duration_seconds",
		Buckets: prometheus.DefBuckets,
	})

	timer := NewTimer()
	timer.ObserveDuration(h)
	timer.ObserveDuration(h)

	assert.Equal(t, 1, testutil.CollectAndCount(h))
}

func TestTimerObserveDurationVec(t *testing.T) {
	vec := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "test_observe_duration_vec_seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"backend"})

	NewTimer().ObserveDurationVec(vec, "sql")
	NewTimer().ObserveDurationVec(vec, "kv")
	NewTimer().ObserveDurationVec(vec, "kv")

	assert.Equal(t, 2, testutil.CollectAndCount(vec), "one series per backend")
}

func TestLoadDurationAcceptsBackendLabel(t *testing.T) {
	before := testutil.CollectAndCount(LoadDuration)
	NewTimer().ObserveDurationVec(LoadDuration, "test-backend")
	assert.Equal(t, before+1, testutil.CollectAndCount(LoadDuration))
}
