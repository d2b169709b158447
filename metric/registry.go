package metric

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Actyx/Actyx-sub006/errors"
)

// Registry manages the registration and lifecycle of metrics
type Registry struct {
	prometheusRegistry *prometheus.Registry
	Metrics            *Metrics
	registered         map[string]prometheus.Collector
	mu                 sync.Mutex
}

// NewRegistry creates a new metrics registry with the core runtime metrics
// and the Go runtime collectors pre-registered.
func NewRegistry() *Registry {
	prometheusRegistry := prometheus.NewRegistry()

	registry := &Registry{
		prometheusRegistry: prometheusRegistry,
		Metrics:            NewMetrics(),
		registered:         make(map[string]prometheus.Collector),
	}

	for _, c := range registry.Metrics.collectors() {
		prometheusRegistry.MustRegister(c)
	}

	prometheusRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return registry
}

// PrometheusRegistry returns the underlying Prometheus registry
func (r *Registry) PrometheusRegistry() *prometheus.Registry {
	return r.prometheusRegistry
}

// Register adds a host-specific collector under a unique name.
func (r *Registry) Register(name string, c prometheus.Collector) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.registered[name]; exists {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Registry", "Register",
			"collector "+name+" already registered")
	}
	if err := r.prometheusRegistry.Register(c); err != nil {
		return errors.WrapInvalid(err, "Registry", "Register", "register collector "+name)
	}
	r.registered[name] = c
	return nil
}

// Unregister removes a host-specific collector. Returns whether it existed.
func (r *Registry) Unregister(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, exists := r.registered[name]
	if !exists {
		return false
	}
	delete(r.registered, name)
	return r.prometheusRegistry.Unregister(c)
}

// Handler returns an HTTP handler exposing the registry in Prometheus
// exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.prometheusRegistry, promhttp.HandlerOpts{})
}
