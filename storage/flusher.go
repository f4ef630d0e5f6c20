package storage

import (
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus"
)

// PeriodicFlusher makes the tip of a log stable on a fixed interval, so
// writers do not have to force durability themselves.
type PeriodicFlusher struct {
	log      Log
	logger   log.Logger
	interval time.Duration
	metrics  *flusherMetrics

	ticker   *time.Ticker
	stopc    chan chan struct{}
	stopOnce sync.Once
}

type flusherMetrics struct {
	ticks    prometheus.Counter
	failures prometheus.Counter
}

func newFlusherMetrics(registerer prometheus.Registerer) *flusherMetrics {
	m := &flusherMetrics{}

	m.ticks = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "flusher_ticks_total",
		Help: "Total number of background flushes attempted.",
	})

	m.failures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "flusher_failures_total",
		Help: "Total number of background flushes that failed.",
	})

	if registerer != nil {
		registerer.MustRegister(m.ticks, m.failures)
	}

	return m
}

func NewPeriodicFlusher(logger log.Logger, registerer prometheus.Registerer, l Log, interval time.Duration) *PeriodicFlusher {
	return &PeriodicFlusher{
		log:      l,
		logger:   logger,
		interval: interval,
		metrics:  newFlusherMetrics(registerer),
		stopc:    make(chan chan struct{}),
	}
}

func (f *PeriodicFlusher) Run() {
	f.ticker = time.NewTicker(f.interval)

	go f.run()
}

func (f *PeriodicFlusher) run() {
	for {
		select {
		case <-f.ticker.C:
			f.timeTick()
		case donec := <-f.stopc:
			close(donec)
			return
		}
	}
}

func (f *PeriodicFlusher) timeTick() {
	tip := f.log.Tip()

	if tip <= f.log.StableOffset() {
		return
	}

	f.metrics.ticks.Inc()

	if err := f.log.MakeStable(tip); err != nil {
		f.metrics.failures.Inc()
		level.Error(f.logger).Log("msg", "background flush failed, retrying on next tick", "err", err, "tip", tip)
	}
}

// Stop halts the ticker, if running, and makes whatever was reserved before
// the call stable, best effort.
func (f *PeriodicFlusher) Stop() {
	f.stopOnce.Do(func() {
		if f.ticker != nil {
			f.ticker.Stop()

			donec := make(chan struct{})
			f.stopc <- donec
			<-donec
		}

		f.timeTick()
	})
}
