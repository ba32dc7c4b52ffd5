// Package metrics provides Prometheus metrics for container resolution,
// extension ordering and disposal.
package metrics

import (
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Result label values.
const (
	ResultSuccess = "success"
	ResultError   = "error"
)

// Collector records kernel metrics. A nil *Collector is valid and records
// nothing, which is how disabled metrics are represented.
type Collector struct {
	resolutions        *prometheus.CounterVec
	constructions      *prometheus.CounterVec
	constructionTime   *prometheus.HistogramVec
	teardowns          *prometheus.CounterVec
	constraintConflict *prometheus.CounterVec
	recomputes         *prometheus.CounterVec
	extensionFailures  *prometheus.CounterVec
	liveScopes         *prometheus.GaugeVec

	// registered holds the metrics this collector owns in a registry.
	mu         sync.Mutex
	registered []prometheus.Collector
}

// NewCollector creates a collector whose metric names use namespace.
func NewCollector(namespace string) *Collector {
	c := &Collector{
		resolutions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "resolutions_total",
				Help:      "Total number of Get calls by scope level and result",
			},
			[]string{"level", "result"},
		),
		constructions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "constructions_total",
				Help:      "Total number of producer invocations by cardinality and result",
			},
			[]string{"cardinality", "result"},
		),
		constructionTime: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "construction_duration_seconds",
				Help:      "Time spent in producers",
				Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8),
			},
			[]string{"cardinality"},
		),
		teardowns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "teardowns_total",
				Help:      "Total number of disposal cascades by result",
			},
			[]string{"result"},
		),
		constraintConflict: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "extension_constraint_conflicts_total",
				Help:      "Total number of dropped extension order constraints",
			},
			[]string{"point"},
		),
		recomputes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "extension_recomputes_total",
				Help:      "Total number of extension order recomputations",
			},
			[]string{"point"},
		),
		extensionFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "extension_failures_total",
				Help:      "Total number of extension producers that failed and were skipped",
			},
			[]string{"point"},
		),
		liveScopes: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "live_scopes",
				Help:      "Number of scopes that are not disposed",
			},
			[]string{"level"},
		),
	}

	c.teardowns.WithLabelValues(ResultSuccess).Add(0)
	c.teardowns.WithLabelValues(ResultError).Add(0)

	return c
}

// Collectors returns every metric owned by the collector.
func (c *Collector) Collectors() []prometheus.Collector {
	if c == nil {
		return nil
	}
	return []prometheus.Collector{
		c.resolutions,
		c.constructions,
		c.constructionTime,
		c.teardowns,
		c.constraintConflict,
		c.recomputes,
		c.extensionFailures,
		c.liveScopes,
	}
}

// Register registers all metrics with the provided registry. Metrics that
// another collector already registered are left to their owner, so several
// kernels can share one registry; only the first one exports series. On
// failure nothing stays registered.
func (c *Collector) Register(registry prometheus.Registerer) error {
	if c == nil || registry == nil {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	var added []prometheus.Collector
	for _, collector := range c.Collectors() {
		err := registry.Register(collector)
		if err == nil {
			added = append(added, collector)
			continue
		}
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			continue
		}
		for _, a := range added {
			registry.Unregister(a)
		}
		return err
	}
	c.registered = append(c.registered, added...)
	return nil
}

// Unregister removes the metrics this collector registered from registry.
func (c *Collector) Unregister(registry prometheus.Registerer) {
	if c == nil || registry == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, collector := range c.registered {
		registry.Unregister(collector)
	}
	c.registered = nil
}

func result(err error) string {
	if err != nil {
		return ResultError
	}
	return ResultSuccess
}

// RecordResolution records one Get call.
func (c *Collector) RecordResolution(level string, err error) {
	if c == nil {
		return
	}
	c.resolutions.WithLabelValues(level, result(err)).Inc()
}

// RecordConstruction records one producer invocation.
func (c *Collector) RecordConstruction(cardinality string, d time.Duration, err error) {
	if c == nil {
		return
	}
	c.constructions.WithLabelValues(cardinality, result(err)).Inc()
	c.constructionTime.WithLabelValues(cardinality).Observe(d.Seconds())
}

// RecordTeardown records a disposal cascade.
func (c *Collector) RecordTeardown(err error) {
	if c == nil {
		return
	}
	c.teardowns.WithLabelValues(result(err)).Inc()
}

// RecordConstraintConflict records a dropped order constraint.
func (c *Collector) RecordConstraintConflict(point string) {
	if c == nil {
		return
	}
	c.constraintConflict.WithLabelValues(point).Inc()
}

// RecordRecompute records an extension order recomputation.
func (c *Collector) RecordRecompute(point string) {
	if c == nil {
		return
	}
	c.recomputes.WithLabelValues(point).Inc()
}

// RecordExtensionFailure records a skipped extension.
func (c *Collector) RecordExtensionFailure(point string) {
	if c == nil {
		return
	}
	c.extensionFailures.WithLabelValues(point).Inc()
}

// ScopeOpened increments the live scope gauge.
func (c *Collector) ScopeOpened(level string) {
	if c == nil {
		return
	}
	c.liveScopes.WithLabelValues(level).Inc()
}

// ScopeClosed decrements the live scope gauge.
func (c *Collector) ScopeClosed(level string) {
	if c == nil {
		return
	}
	c.liveScopes.WithLabelValues(level).Dec()
}
