package logging

import (
	"log/slog"
)

// LoggerHook builds the logger handed to each activity. The manager calls it
// the first time an activity starts, with its own logger as the base.
type LoggerHook interface {
	LoggerForActivity(base *slog.Logger, uid string) *slog.Logger
}

// CapturingLoggerHook returns loggers that copy their records into a
// LogCollector under the activity UID.
type CapturingLoggerHook struct {
	collector *LogCollector
}

// NewCapturingLoggerHook creates a hook capturing into collector.
func NewCapturingLoggerHook(collector *LogCollector) *CapturingLoggerHook {
	return &CapturingLoggerHook{
		collector: collector,
	}
}

// LoggerForActivity wraps the base handler and tags records with the UID.
func (p *CapturingLoggerHook) LoggerForActivity(base *slog.Logger, uid string) *slog.Logger {
	h := NewCapturingHandler(base.Handler(), p.collector, uid)
	return slog.New(h).With(ActivityID(uid))
}

// Collector returns the collector records are captured into.
func (p *CapturingLoggerHook) Collector() *LogCollector {
	return p.collector
}

// Forget drops the captured entries of one activity.
func (p *CapturingLoggerHook) Forget(uid string) {
	p.collector.Forget(uid)
}
