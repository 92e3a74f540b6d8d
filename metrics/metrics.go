// Package metrics exports sorter statistics to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gogpu/bitonic"
)

// StatsSource is implemented by *bitonic.Sorter.
type StatsSource interface {
	Stats() bitonic.Stats
}

var (
	labels = []string{"sorter", "strategy"}

	invocationsDesc = prometheus.NewDesc(
		"bitonic_invocations_total",
		"Sort invocations by outcome",
		append(labels, "outcome"), nil,
	)
	uploadsDesc = prometheus.NewDesc(
		"bitonic_uploads_total",
		"Uploads of staged host data",
		labels, nil,
	)
	dispatchesDesc = prometheus.NewDesc(
		"bitonic_dispatches_total",
		"Kernel dispatches recorded",
		labels, nil,
	)
	passesDesc = prometheus.NewDesc(
		"bitonic_plan_passes",
		"Passes in one invocation",
		labels, nil,
	)
	lastDurationDesc = prometheus.NewDesc(
		"bitonic_last_invocation_seconds",
		"Wall time of the last completed invocation",
		labels, nil,
	)
	totalDurationDesc = prometheus.NewDesc(
		"bitonic_invocation_seconds_total",
		"Wall time of all completed invocations",
		labels, nil,
	)
)

// Collector reports the statistics of one or more sorters. Each sorter is
// labeled with its name.
type Collector struct {
	sources map[string]StatsSource
}

var _ prometheus.Collector = (*Collector)(nil)

// NewCollector returns a collector for the named sorters.
func NewCollector(sources map[string]StatsSource) *Collector {
	c := &Collector{sources: make(map[string]StatsSource, len(sources))}
	for name, s := range sources {
		c.sources[name] = s
	}
	return c
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- invocationsDesc
	ch <- uploadsDesc
	ch <- dispatchesDesc
	ch <- passesDesc
	ch <- lastDurationDesc
	ch <- totalDurationDesc
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	for name, src := range c.sources {
		st := src.Stats()
		lv := []string{name, st.Strategy.String()}

		for _, o := range []struct {
			outcome string
			n       uint64
		}{
			{"started", st.Started},
			{"completed", st.Completed},
			{"dropped", st.Dropped},
			{"failed", st.Failed},
		} {
			ch <- prometheus.MustNewConstMetric(invocationsDesc, prometheus.CounterValue,
				float64(o.n), append(lv, o.outcome)...)
		}
		ch <- prometheus.MustNewConstMetric(uploadsDesc, prometheus.CounterValue, float64(st.Uploads), lv...)
		ch <- prometheus.MustNewConstMetric(dispatchesDesc, prometheus.CounterValue, float64(st.Dispatches), lv...)
		ch <- prometheus.MustNewConstMetric(passesDesc, prometheus.GaugeValue, float64(st.PlanLength), lv...)
		ch <- prometheus.MustNewConstMetric(lastDurationDesc, prometheus.GaugeValue, st.LastDuration.Seconds(), lv...)
		ch <- prometheus.MustNewConstMetric(totalDurationDesc, prometheus.CounterValue, st.TotalDuration.Seconds(), lv...)
	}
}

// NewServer returns an HTTP server exposing reg on /metrics.
func NewServer(addr string, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	return &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  15 * time.Second,
	}
}
