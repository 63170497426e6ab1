// SPDX-License-Identifier: MIT
//
// Package metrics exposes pipeline counters to Prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "pitchscope"

// Metrics counts analysis activity. It satisfies analysis.Observer; every
// method is lock-free and allocation free.
type Metrics struct {
	registry *prometheus.Registry

	framesRead    prometheus.Counter
	emptyPolls    prometheus.Counter
	blocks        prometheus.Counter
	blockDuration prometheus.Histogram

	collectors []prometheus.Collector
}

// New creates the pipeline metrics and registers them with registry.
func New(registry *prometheus.Registry) (*Metrics, error) {
	m := &Metrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Metrics) initMetrics() {
	m.framesRead = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "frames_read_total",
		Help:      "Frames read from the capture ring by the analysis loop",
	})
	m.emptyPolls = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "empty_polls_total",
		Help:      "Ring reads that found no data and backed off",
	})
	m.blocks = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "blocks_processed_total",
		Help:      "Completed analysis blocks",
	})
	m.blockDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "block_duration_seconds",
		Help:      "Time spent transforming and publishing one block",
		Buckets:   prometheus.ExponentialBuckets(0.00005, 2, 12), // 50µs to ~100ms
	})

	m.collectors = []prometheus.Collector{
		m.framesRead,
		m.emptyPolls,
		m.blocks,
		m.blockDuration,
	}
}

// Registry returns the registry the metrics were registered with.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Describe implements prometheus.Collector.
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	for _, c := range m.collectors {
		c.Describe(ch)
	}
}

// Collect implements prometheus.Collector.
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	for _, c := range m.collectors {
		c.Collect(ch)
	}
}

// FramesRead implements analysis.Observer.
func (m *Metrics) FramesRead(n int) { m.framesRead.Add(float64(n)) }

// EmptyPoll implements analysis.Observer.
func (m *Metrics) EmptyPoll() { m.emptyPolls.Inc() }

// BlockProcessed implements analysis.Observer.
func (m *Metrics) BlockProcessed(elapsed time.Duration) {
	m.blocks.Inc()
	m.blockDuration.Observe(elapsed.Seconds())
}

// RingGauge is the read-only view of a ring needed for fill reporting.
type RingGauge interface {
	Readable() int
	Capacity() int
}

// RegisterRing exports the fill level and capacity of r.
func (m *Metrics) RegisterRing(r RingGauge) error {
	fill := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "ring_fill_frames",
		Help:      "Frames committed to the capture ring and not yet analysed",
	}, func() float64 { return float64(r.Readable()) })
	capacity := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "ring_capacity_frames",
		Help:      "Capacity of the capture ring",
	}, func() float64 { return float64(r.Capacity()) })

	if err := m.registry.Register(fill); err != nil {
		return err
	}
	return m.registry.Register(capacity)
}

// RegisterCaptureCounters exports counters maintained by a capture source.
// captured and dropped are polled on scrape.
func (m *Metrics) RegisterCaptureCounters(backend string, captured, dropped func() uint64) error {
	labels := prometheus.Labels{"backend": backend}
	capturedC := prometheus.NewCounterFunc(prometheus.CounterOpts{
		Namespace:   namespace,
		Name:        "captured_frames_total",
		Help:        "Frames delivered by the capture device",
		ConstLabels: labels,
	}, func() float64 { return float64(captured()) })
	droppedC := prometheus.NewCounterFunc(prometheus.CounterOpts{
		Namespace:   namespace,
		Name:        "dropped_frames_total",
		Help:        "Captured frames discarded because the ring was full",
		ConstLabels: labels,
	}, func() float64 { return float64(dropped()) })

	if err := m.registry.Register(capturedC); err != nil {
		return err
	}
	return m.registry.Register(droppedC)
}
