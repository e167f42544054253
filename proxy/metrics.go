package proxy

import "github.com/prometheus/client_golang/prometheus"

// metrics mirror the cache's own Stats counters as Prometheus series for
// the optional /stats debug endpoint. They are pulled from
// cache.Stats()/BytesUsed() at scrape time rather than incremented on
// the request path, so the request path never does Prometheus
// bookkeeping under the coordinator's admission.
type metrics struct {
	hits      prometheus.CounterFunc
	misses    prometheus.CounterFunc
	evictions prometheus.CounterFunc
	bytesUsed prometheus.GaugeFunc
}

func newMetrics(reg prometheus.Registerer, hits, misses, evictions, bytesUsed func() float64) *metrics {
	m := &metrics{
		hits: prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "cache_hits_total",
			Help: "Number of cache lookups that found a live entry.",
		}, hits),
		misses: prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "cache_misses_total",
			Help: "Number of cache lookups that found no entry.",
		}, misses),
		evictions: prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "cache_evictions_total",
			Help: "Number of entries evicted to stay within the byte budget.",
		}, evictions),
		bytesUsed: prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "cache_bytes_used",
			Help: "Sum of sizes of currently live cache entries.",
		}, bytesUsed),
	}
	reg.MustRegister(m.hits, m.misses, m.evictions, m.bytesUsed)
	return m
}
