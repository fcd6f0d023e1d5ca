package httpapi

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// metrics is the prometheus side channel wired in at this layer: the manager
// itself stays side-effect free, httpapi records metrics around each call
// (SPEC_FULL.md, DOMAIN STACK, Observability).
type metrics struct {
	registry *prometheus.Registry

	blocksFree  prometheus.Gauge
	blocksTotal prometheus.Gauge

	tokensMatched   prometheus.Counter
	tokensRequested prometheus.Counter

	allocateTotal *prometheus.CounterVec
	outOfBlocks   prometheus.Counter
}

func newMetrics() *metrics {
	reg := prometheus.NewRegistry()

	m := &metrics{
		registry: reg,
		blocksFree: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "kvcache_blocks_free",
			Help: "Number of free blocks in the pool.",
		}),
		blocksTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "kvcache_blocks_total",
			Help: "Total number of blocks in the pool.",
		}),
		tokensMatched: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kvcache_tokens_matched_total",
			Help: "Total number of tokens served from the cache across allocations.",
		}),
		tokensRequested: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kvcache_tokens_requested_total",
			Help: "Total number of tokens requested across allocations.",
		}),
		allocateTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kvcache_allocate_total",
			Help: "Total number of match_and_allocate calls, by result.",
		}, []string{"result"}),
		outOfBlocks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kvcache_out_of_blocks_total",
			Help: "Total number of append requests refused with OutOfBlocks.",
		}),
	}

	reg.MustRegister(m.blocksFree, m.blocksTotal, m.tokensMatched, m.tokensRequested, m.allocateTotal, m.outOfBlocks)
	return m
}

func (m *metrics) observeAllocate(ok bool, matched, requested int) {
	result := "budget_exhausted"
	if ok {
		result = "ok"
		m.tokensMatched.Add(float64(matched))
		m.tokensRequested.Add(float64(requested))
	}
	m.allocateTotal.WithLabelValues(result).Inc()
}

func (m *metrics) observePool(free, total int) {
	m.blocksFree.Set(float64(free))
	m.blocksTotal.Set(float64(total))
}

func (m *metrics) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
