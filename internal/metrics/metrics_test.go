package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func counterValue(t *testing.T, c prometheus.Collector) float64 {
	t.Helper()
	ch := make(chan prometheus.Metric, 1)
	c.Collect(ch)
	m := <-ch
	var d dto.Metric
	require.NoError(t, m.Write(&d))
	if d.Counter != nil {
		return d.Counter.GetValue()
	}
	return d.Gauge.GetValue()
}

func TestMetrics_CacheHitMissCounters(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.ObserveCacheHit()
	m.ObserveCacheHit()
	m.ObserveCacheMiss()

	assert.Equal(t, float64(2), counterValue(t, m.CacheLookups.WithLabelValues("hit")))
	assert.Equal(t, float64(1), counterValue(t, m.CacheLookups.WithLabelValues("miss")))
}

func TestMetrics_ActiveWatchersGauge(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.SetActiveWatchers(5)
	assert.Equal(t, float64(5), counterValue(t, m.ActiveWatchers))
}

func TestMetrics_GCPassRecordsDurationAndEviction(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.ObserveGCPass("versions", 10*time.Millisecond, 3)
	assert.Equal(t, float64(3), counterValue(t, m.GCPassEvicted.WithLabelValues("versions")))
}
