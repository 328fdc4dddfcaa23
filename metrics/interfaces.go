// Package metrics provides Prometheus-compatible instruments for the engine.
//
// The package supports three registries:
//   - ScrapeRegistry: instruments live in a Prometheus registry served over HTTP
//   - PushRegistry: values are buffered and sent to a remote write endpoint by Flush
//   - Nop: instruments discard every update
package metrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
)

// Gauge is a metric that represents a single numerical value that can go up and down.
type Gauge interface {
	// Set sets the Gauge to the given value.
	Set(float64)
}

// Counter is a metric that represents a single monotonically increasing counter.
type Counter interface {
	// Inc increments the counter by 1.
	Inc()
	// Add adds the given value to the counter. It panics if the value is negative.
	Add(float64)
}

// GaugeVec is a Gauge with labels.
type GaugeVec interface {
	With(prometheus.Labels) Gauge
}

// CounterVec is a Counter with labels.
type CounterVec interface {
	With(prometheus.Labels) Counter
}

// Registry creates and registers metrics.
type Registry interface {
	NewGauge(opts prometheus.GaugeOpts) (Gauge, error)
	NewGaugeVec(opts prometheus.GaugeOpts, labels []string) (GaugeVec, error)
	NewCounter(opts prometheus.CounterOpts) (Counter, error)
	NewCounterVec(opts prometheus.CounterOpts, labels []string) (CounterVec, error)
}

// Flusher is implemented by registries that deliver values in batches.
type Flusher interface {
	Flush(ctx context.Context) error
}
