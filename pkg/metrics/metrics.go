// Package metrics exposes Prometheus metrics for model lifecycle, request
// dispatch and batch processing. A nil *Collector is valid and records
// nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/docker/protein-runner/pkg/errdefs"
	"github.com/docker/protein-runner/pkg/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/common/expfmt"
)

const namespace = "protein_runner"

// Collector owns a private Prometheus registry and the service's metrics.
type Collector struct {
	registry *prometheus.Registry

	modelLoads     *prometheus.CounterVec
	modelEvictions *prometheus.CounterVec
	modelsLoaded   prometheus.Gauge
	memoryUsed     prometheus.Gauge
	memoryBudget   prometheus.Gauge

	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	fallbacks       *prometheus.CounterVec

	batchItems *prometheus.CounterVec
}

// New creates a Collector with Go runtime and process collectors attached.
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		modelLoads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "model_loads_total",
			Help:      "Model load attempts by outcome.",
		}, []string{"model", "outcome"}),
		modelEvictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "model_evictions_total",
			Help:      "Models unloaded by the registry, by reason.",
		}, []string{"model", "reason"}),
		modelsLoaded: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "models_loaded",
			Help:      "Number of models currently loaded.",
		}),
		memoryUsed: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "model_memory_used_bytes",
			Help:      "Memory reserved by loaded and loading models.",
		}),
		memoryBudget: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "model_memory_budget_bytes",
			Help:      "Memory budget available to models.",
		}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Dispatched operations by model used and result kind.",
		}, []string{"operation", "model", "result"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Latency of dispatched operations.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
		}, []string{"operation"}),
		fallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fallbacks_total",
			Help:      "Operations served by the deterministic fallback, by reason.",
		}, []string{"operation", "reason"}),
		batchItems: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batch_items_total",
			Help:      "Batch items by result kind.",
		}, []string{"result"}),
	}
	c.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		c.modelLoads,
		c.modelEvictions,
		c.modelsLoaded,
		c.memoryUsed,
		c.memoryBudget,
		c.requests,
		c.requestDuration,
		c.fallbacks,
		c.batchItems,
	)
	return c
}

// Gatherer returns the underlying registry.
func (c *Collector) Gatherer() prometheus.Gatherer {
	return c.registry
}

func result(err error) string {
	if err == nil {
		return "ok"
	}
	return string(errdefs.KindOf(err))
}

// ObserveLoad records the outcome of a model load.
func (c *Collector) ObserveLoad(model string, err error) {
	if c == nil {
		return
	}
	c.modelLoads.WithLabelValues(model, result(err)).Inc()
}

// ObserveEviction records a model leaving memory.
func (c *Collector) ObserveEviction(model, reason string) {
	if c == nil {
		return
	}
	c.modelEvictions.WithLabelValues(model, reason).Inc()
}

// SetMemory publishes the registry's occupancy.
func (c *Collector) SetMemory(loaded int, used, budget uint64) {
	if c == nil {
		return
	}
	c.modelsLoaded.Set(float64(loaded))
	c.memoryUsed.Set(float64(used))
	c.memoryBudget.Set(float64(budget))
}

// ObserveRequest records a dispatched operation.
func (c *Collector) ObserveRequest(operation, model string, err error, d time.Duration) {
	if c == nil {
		return
	}
	c.requests.WithLabelValues(operation, model, result(err)).Inc()
	c.requestDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// ObserveFallback records an operation served without a model.
func (c *Collector) ObserveFallback(operation, reason string) {
	if c == nil {
		return
	}
	c.fallbacks.WithLabelValues(operation, reason).Inc()
}

// ObserveBatchItem records one finished batch item.
func (c *Collector) ObserveBatchItem(err error) {
	if c == nil {
		return
	}
	c.batchItems.WithLabelValues(result(err)).Inc()
}

// Handler serves the metrics in the Prometheus text format.
type Handler struct {
	log       logging.Logger
	collector *Collector
}

// NewHandler creates a /metrics handler for c.
func NewHandler(log logging.Logger, c *Collector) *Handler {
	return &Handler{log: log, collector: c}
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	families, err := h.collector.registry.Gather()
	if err != nil {
		// Gather returns what it could collect alongside the error.
		h.log.Warnf("Partial metrics gather: %v", err)
	}

	format := expfmt.NewFormat(expfmt.TypeTextPlain)
	w.Header().Set("Content-Type", string(format))
	w.WriteHeader(http.StatusOK)
	encoder := expfmt.NewEncoder(w, format)
	for _, family := range families {
		if err := encoder.Encode(family); err != nil {
			h.log.Errorf("Failed to encode metric family %s: %v", family.GetName(), err)
			continue
		}
	}
}
