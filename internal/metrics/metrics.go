// Package metrics exposes Prometheus counters for collection and retention runs.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	Runs        *prometheus.CounterVec
	Hosts       *prometheus.CounterVec
	MacEntries  prometheus.Counter
	Malformed   prometheus.Counter
	RunDuration prometheus.Histogram
	Purged      *prometheus.CounterVec
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mactrack_collection_runs_total",
			Help: "Collection runs by outcome.",
		}, []string{"result"}),
		Hosts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mactrack_hosts_polled_total",
			Help: "Hosts polled by outcome.",
		}, []string{"result"}),
		MacEntries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mactrack_mac_entries_collected_total",
			Help: "MAC table rows written.",
		}),
		Malformed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mactrack_malformed_entries_total",
			Help: "Bridge table entries skipped because the OID did not encode a MAC.",
		}),
		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "mactrack_collection_duration_seconds",
			Help:    "Wall time of a collection run.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		}),
		Purged: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mactrack_purged_entries_total",
			Help: "MAC table rows deleted by retention, by mode.",
		}, []string{"mode"}),
	}

	if reg != nil {
		reg.MustRegister(m.Runs, m.Hosts, m.MacEntries, m.Malformed, m.RunDuration, m.Purged)
	}
	return m
}

func (m *Metrics) RunFinished(ok bool, seconds float64) {
	if m == nil {
		return
	}
	m.Runs.WithLabelValues(result(ok)).Inc()
	m.RunDuration.Observe(seconds)
}

func (m *Metrics) HostPolled(ok bool, macs int) {
	if m == nil {
		return
	}
	m.Hosts.WithLabelValues(result(ok)).Inc()
	m.MacEntries.Add(float64(macs))
}

func (m *Metrics) MalformedEntries(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.Malformed.Add(float64(n))
}

func (m *Metrics) EntriesPurged(mode string, n int64) {
	if m == nil {
		return
	}
	m.Purged.WithLabelValues(mode).Add(float64(n))
}

func result(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}
