package statusreporter

import (
	"fmt"

	"github.com/unityext/core/activity"
)

// RecordError runs f and, if it fails, records the error as the status of a
// so the failure is visible on the inspection server.
//
// Usage in hooks:
//
//	activity.WithStart(func() {
//	    _ = statusreporter.RecordError(a, reporter, openSegment)
//	})
func RecordError(a *activity.Activity, sr *StatusReporter, f func() error) error {
	if err := f(); err != nil {
		sr.SetStatus(a, fmt.Sprintf("failed: %v", err))
		return err
	}
	return nil
}
