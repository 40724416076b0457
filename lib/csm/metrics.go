package csm

import (
	"fmt"
	"io"
	"time"

	"github.com/VictoriaMetrics/metrics"
	gometrics "github.com/rcrowley/go-metrics"
)

// smMetrics holds the counters of one state machine. Every instance owns its own set
// so several replicas can live in one process.
type smMetrics struct {
	set *metrics.Set

	cacheHits          *metrics.Counter
	cacheMisses        *metrics.Counter
	diskReadFailures   *metrics.Counter
	validationFailures *metrics.Counter
	writesFailed       *metrics.Counter
	appliedSuccess     *metrics.Counter
	appliedRecoverable *metrics.Counter
	appliedFatal       *metrics.Counter

	registry     gometrics.Registry
	writeLatency gometrics.Timer
	applyLatency gometrics.Timer
	readLatency  gometrics.Timer
}

func newMetrics(name string, s *ContainerStateMachine) *smMetrics {
	set := metrics.NewSet()
	label := func(metric string) string {
		return fmt.Sprintf(`%s{group=%q}`, metric, name)
	}

	m := &smMetrics{
		set:                set,
		cacheHits:          set.NewCounter(label("csm_read_cache_hits_total")),
		cacheMisses:        set.NewCounter(label("csm_read_cache_misses_total")),
		diskReadFailures:   set.NewCounter(label("csm_read_disk_failures_total")),
		validationFailures: set.NewCounter(label("csm_prepare_validation_failures_total")),
		writesFailed:       set.NewCounter(label("csm_writes_failed_total")),
		appliedSuccess:     set.NewCounter(fmt.Sprintf(`csm_applied_total{group=%q,outcome="success"}`, name)),
		appliedRecoverable: set.NewCounter(fmt.Sprintf(`csm_applied_total{group=%q,outcome="recoverable"}`, name)),
		appliedFatal:       set.NewCounter(fmt.Sprintf(`csm_applied_total{group=%q,outcome="fatal"}`, name)),
		registry:           gometrics.NewRegistry(),
	}

	set.NewGauge(label("csm_unhealthy"), func() float64 {
		return float64(s.health.Load())
	})
	set.NewGauge(label("csm_cache_bytes"), func() float64 {
		return float64(s.cache.SizeBytes())
	})
	set.NewGauge(label("csm_pending_writes"), func() float64 {
		return float64(s.pendingWrites.Size())
	})
	set.NewGauge(label("csm_active_containers"), func() float64 {
		return float64(s.applyQueues.ActiveKeys())
	})
	set.NewGauge(label("csm_last_applied_index"), func() float64 {
		return float64(s.applied.lastApplied().Index)
	})

	m.writeLatency = gometrics.NewRegisteredTimer("write", m.registry)
	m.applyLatency = gometrics.NewRegisteredTimer("apply", m.registry)
	m.readLatency = gometrics.NewRegisteredTimer("read", m.registry)
	return m
}

// WritePrometheus writes the metrics of the state machine in the prometheus text format.
func (s *ContainerStateMachine) WritePrometheus(w io.Writer) {
	s.metrics.set.WritePrometheus(w)
}

// LatencyStats is a summary of one latency timer.
type LatencyStats struct {
	Count int64
	Mean  time.Duration
	P50   time.Duration
	P99   time.Duration
	Max   time.Duration
}

func (l LatencyStats) String() string {
	return fmt.Sprintf("count=%d mean=%s p50=%s p99=%s max=%s", l.Count, l.Mean, l.P50, l.P99, l.Max)
}

// latencyStats returns the summaries of all timers by name
func (m *smMetrics) latencyStats() map[string]LatencyStats {
	out := make(map[string]LatencyStats)
	m.registry.Each(func(name string, i interface{}) {
		t, ok := i.(gometrics.Timer)
		if !ok {
			return
		}
		snap := t.Snapshot()
		ps := snap.Percentiles([]float64{0.5, 0.99})
		out[name] = LatencyStats{
			Count: snap.Count(),
			Mean:  time.Duration(snap.Mean()),
			P50:   time.Duration(ps[0]),
			P99:   time.Duration(ps[1]),
			Max:   time.Duration(snap.Max()),
		}
	})
	return out
}
