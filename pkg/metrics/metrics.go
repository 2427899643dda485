// Package metrics exposes run loop and compiler counters to Prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "rvjit"

// Execution paths a block can take.
const (
	PathNative      = "native"
	PathInterpreted = "interpreted"
	PathSimple      = "simple"
)

// Collector groups the emulator's metrics. A nil *Collector is valid and
// records nothing.
type Collector struct {
	blocksBuilt     prometheus.Counter
	blocksCompiled  prometheus.Counter
	compileFailures prometheus.Counter
	blockRuns       *prometheus.CounterVec
	invalidations   prometheus.Counter
	retired         prometheus.Counter
	compileSeconds  prometheus.Histogram
	codeBytes       prometheus.Gauge
}

// NewCollector creates the collectors and registers them with reg.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	c := &Collector{
		blocksBuilt: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "blocks_built_total",
			Help:      "Basic blocks fetched and decoded.",
		}),
		blocksCompiled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "blocks_compiled_total",
			Help:      "Basic blocks compiled to native entries.",
		}),
		compileFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "compile_failures_total",
			Help:      "Block compilations that failed.",
		}),
		blockRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "block_runs_total",
			Help:      "Blocks (or single instructions in simple mode) executed, by path.",
		}, []string{"path"}),
		invalidations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "block_invalidations_total",
			Help:      "Cached blocks dropped because their code changed.",
		}),
		retired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "instructions_retired_total",
			Help:      "Guest instructions completed.",
		}),
		compileSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "compile_duration_seconds",
			Help:      "Time spent compiling one block.",
			Buckets:   prometheus.ExponentialBuckets(1e-6, 4, 10),
		}),
		codeBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "code_bytes",
			Help:      "Bytes of compiled code held by the JIT runtime.",
		}),
	}

	for _, col := range []prometheus.Collector{
		c.blocksBuilt, c.blocksCompiled, c.compileFailures, c.blockRuns,
		c.invalidations, c.retired, c.compileSeconds, c.codeBytes,
	} {
		if err := reg.Register(col); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *Collector) BlockBuilt() {
	if c == nil {
		return
	}
	c.blocksBuilt.Inc()
}

func (c *Collector) BlockCompiled(d time.Duration, codeBytes int) {
	if c == nil {
		return
	}
	c.blocksCompiled.Inc()
	c.compileSeconds.Observe(d.Seconds())
	c.codeBytes.Set(float64(codeBytes))
}

func (c *Collector) CompileFailed() {
	if c == nil {
		return
	}
	c.compileFailures.Inc()
}

// BlockRun counts one execution along path and the instructions it retired.
func (c *Collector) BlockRun(path string, retired uint64) {
	if c == nil {
		return
	}
	c.blockRuns.WithLabelValues(path).Inc()
	c.retired.Add(float64(retired))
}

func (c *Collector) Invalidated(n int) {
	if c == nil || n == 0 {
		return
	}
	c.invalidations.Add(float64(n))
}
