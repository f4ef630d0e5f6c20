package lss

import "github.com/prometheus/client_golang/prometheus"

type Metrics struct {
	bufferFlushes prometheus.Counter
	fsyncDuration prometheus.Summary
	writesFailed  prometheus.Counter
	reservations  prometheus.Counter
	aborts        prometheus.Counter
	reserveStalls prometheus.Counter
	holesPunched  prometheus.Counter
	stableOffset  prometheus.Gauge
}

func NewMetrics(registerer prometheus.Registerer) *Metrics {
	m := &Metrics{}

	m.bufferFlushes = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "buffer_flushes_total",
		Help: "Total number of staging buffers written to the log file.",
	})

	m.fsyncDuration = prometheus.NewSummary(prometheus.SummaryOpts{
		Name:       "fsync_duration_seconds",
		Help:       "Duration of log file fsync.",
		Objectives: map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.99: 0.001},
	})

	m.writesFailed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "writes_failed_total",
		Help: "Total number of buffer writes that failed.",
	})

	m.reservations = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "reservations_total",
		Help: "Total number of reservations handed out.",
	})

	m.aborts = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "aborts_total",
		Help: "Total number of aborted reservations.",
	})

	m.reserveStalls = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "reserve_stalls_total",
		Help: "Total number of times a buffer roll waited for a slot still being written.",
	})

	m.holesPunched = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "holes_punched_total",
		Help: "Total number of records whose space was reclaimed.",
	})

	m.stableOffset = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "stable_offset_bytes",
		Help: "Offset below which the log is durable.",
	})

	if registerer != nil {
		registerer.MustRegister(
			m.bufferFlushes,
			m.fsyncDuration,
			m.writesFailed,
			m.reservations,
			m.aborts,
			m.reserveStalls,
			m.holesPunched,
			m.stableOffset,
		)
	}

	return m
}
