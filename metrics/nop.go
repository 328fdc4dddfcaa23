package metrics

import "github.com/prometheus/client_golang/prometheus"

type nopRegistry struct{}

type (
	nopInstrument struct{}
	nopGaugeVec   struct{}
	nopCounterVec struct{}
)

// Nop returns a registry whose instruments discard every update.
func Nop() Registry {
	return nopRegistry{}
}

func (nopRegistry) NewGauge(prometheus.GaugeOpts) (Gauge, error) {
	return nopInstrument{}, nil
}

func (nopRegistry) NewGaugeVec(prometheus.GaugeOpts, []string) (GaugeVec, error) {
	return nopGaugeVec{}, nil
}

func (nopRegistry) NewCounter(prometheus.CounterOpts) (Counter, error) {
	return nopInstrument{}, nil
}

func (nopRegistry) NewCounterVec(prometheus.CounterOpts, []string) (CounterVec, error) {
	return nopCounterVec{}, nil
}

func (nopInstrument) Set(float64) {}
func (nopInstrument) Inc()        {}
func (nopInstrument) Add(float64) {}

func (nopGaugeVec) With(prometheus.Labels) Gauge     { return nopInstrument{} }
func (nopCounterVec) With(prometheus.Labels) Counter { return nopInstrument{} }
