package activity

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/unityext/core/metrics"
)

const (
	metricSteps        = "activity_steps_total"
	metricCompleted    = "activity_completed_total"
	metricStopped      = "activity_stopped_total"
	metricFaults       = "activity_faults_total"
	metricListSize     = "activity_list_size"
	metricWorkerStarts = "activity_worker_starts_total"
	metricWorkers      = "activity_workers_running"
)

// instruments holds the manager's metrics. Built against metrics.Nop when no
// registry is configured so callers never check for nil.
type instruments struct {
	steps        metrics.CounterVec
	completed    metrics.CounterVec
	stopped      metrics.CounterVec
	faults       metrics.CounterVec
	listSize     metrics.GaugeVec
	workerStarts metrics.Counter
	workers      metrics.Gauge
}

func newInstruments(reg metrics.Registry) (*instruments, error) {
	if reg == nil {
		reg = metrics.Nop()
	}

	var (
		ins instruments
		err error
	)
	byContext := []string{"context"}

	if ins.steps, err = reg.NewCounterVec(prometheus.CounterOpts{
		Name: metricSteps,
		Help: "Number of activity steps executed",
	}, byContext); err != nil {
		return nil, fmt.Errorf("creating %s metric: %w", metricSteps, err)
	}
	if ins.completed, err = reg.NewCounterVec(prometheus.CounterOpts{
		Name: metricCompleted,
		Help: "Number of activities that reached Complete",
	}, byContext); err != nil {
		return nil, fmt.Errorf("creating %s metric: %w", metricCompleted, err)
	}
	if ins.stopped, err = reg.NewCounterVec(prometheus.CounterOpts{
		Name: metricStopped,
		Help: "Number of activities stopped before completing",
	}, byContext); err != nil {
		return nil, fmt.Errorf("creating %s metric: %w", metricStopped, err)
	}
	if ins.faults, err = reg.NewCounterVec(prometheus.CounterOpts{
		Name: metricFaults,
		Help: "Number of hook panics recovered by the manager",
	}, byContext); err != nil {
		return nil, fmt.Errorf("creating %s metric: %w", metricFaults, err)
	}
	if ins.listSize, err = reg.NewGaugeVec(prometheus.GaugeOpts{
		Name: metricListSize,
		Help: "Live activities per context after the last pass",
	}, byContext); err != nil {
		return nil, fmt.Errorf("creating %s metric: %w", metricListSize, err)
	}
	if ins.workerStarts, err = reg.NewCounter(prometheus.CounterOpts{
		Name: metricWorkerStarts,
		Help: "Number of worker goroutines started",
	}); err != nil {
		return nil, fmt.Errorf("creating %s metric: %w", metricWorkerStarts, err)
	}
	if ins.workers, err = reg.NewGauge(prometheus.GaugeOpts{
		Name: metricWorkers,
		Help: "Number of worker goroutines currently alive",
	}); err != nil {
		return nil, fmt.Errorf("creating %s metric: %w", metricWorkers, err)
	}
	return &ins, nil
}

func contextLabel(ctx Context) prometheus.Labels {
	return prometheus.Labels{"context": ctx.String()}
}
