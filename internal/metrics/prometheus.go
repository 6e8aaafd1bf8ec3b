package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus implements Recorder on a private registry
type Prometheus struct {
	registry *prometheus.Registry

	embedBatches  *prometheus.CounterVec
	embedLatency  prometheus.Histogram
	vectors       prometheus.Counter
	searchLatency *prometheus.HistogramVec
	degraded      prometheus.Counter
	indexWrites   *prometheus.CounterVec
	queueDepth    prometheus.Gauge
	queueEvents   *prometheus.CounterVec
	backfill      *prometheus.CounterVec
}

// NewPrometheus creates a recorder and registers its collectors along with
// the Go runtime and process collectors.
func NewPrometheus() *Prometheus {
	p := &Prometheus{
		registry: prometheus.NewRegistry(),
		embedBatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "highlight_search_embed_batches_total",
			Help: "Embedding provider batches by status",
		}, []string{"status"}),
		embedLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "highlight_search_embed_batch_seconds",
			Help:    "Latency of embedding provider batches",
			Buckets: prometheus.DefBuckets,
		}),
		vectors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "highlight_search_vectors_produced_total",
			Help: "Embedding vectors accepted from the provider",
		}),
		searchLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "highlight_search_query_seconds",
			Help:    "Latency of search queries by effective mode",
			Buckets: prometheus.DefBuckets,
		}, []string{"mode", "status"}),
		degraded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "highlight_search_degraded_queries_total",
			Help: "Semantic or hybrid queries answered by full-text search only",
		}),
		indexWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "highlight_search_index_writes_total",
			Help: "Index rows written or deleted",
		}, []string{"op", "status"}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "highlight_search_embed_queue_depth",
			Help: "Pending embedding jobs",
		}),
		queueEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "highlight_search_embed_queue_events_total",
			Help: "Embedding queue events",
		}, []string{"event"}),
		backfill: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "highlight_search_backfill_records_total",
			Help: "Backfill records by entity type and outcome",
		}, []string{"type", "outcome"}),
	}

	p.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		p.embedBatches,
		p.embedLatency,
		p.vectors,
		p.searchLatency,
		p.degraded,
		p.indexWrites,
		p.queueDepth,
		p.queueEvents,
		p.backfill,
	)
	return p
}

// Handler serves the registry in the Prometheus exposition format
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry
func (p *Prometheus) Registry() *prometheus.Registry {
	return p.registry
}

func (p *Prometheus) RecordEmbedBatch(_, produced int, d time.Duration, err error) {
	p.embedBatches.WithLabelValues(status(err)).Inc()
	p.embedLatency.Observe(d.Seconds())
	p.vectors.Add(float64(produced))
}

func (p *Prometheus) RecordSearch(modeUsed string, degraded bool, d time.Duration, err error) {
	p.searchLatency.WithLabelValues(modeUsed, status(err)).Observe(d.Seconds())
	if degraded {
		p.degraded.Inc()
	}
}

func (p *Prometheus) RecordIndexWrite(op string, count int, err error) {
	if err != nil {
		p.indexWrites.WithLabelValues(op, "error").Inc()
		return
	}
	p.indexWrites.WithLabelValues(op, "success").Add(float64(count))
}

func (p *Prometheus) RecordQueueDepth(depth int) {
	p.queueDepth.Set(float64(depth))
}

func (p *Prometheus) RecordQueueEvent(event string) {
	p.queueEvents.WithLabelValues(event).Inc()
}

func (p *Prometheus) RecordBackfill(entityType, outcome string, n int) {
	p.backfill.WithLabelValues(entityType, outcome).Add(float64(n))
}
