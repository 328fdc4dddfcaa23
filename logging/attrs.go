package logging

import "log/slog"

// ActivityID tags a record with an activity UID.
func ActivityID(uid string) slog.Attr {
	return slog.String("activity_uid", uid)
}

// Context tags a record with an execution context name.
func Context(name string) slog.Attr {
	return slog.String("context", name)
}

// Worker tags a record with a worker slot index.
func Worker(index int) slog.Attr {
	return slog.Int("worker", index)
}

func Error(err error) slog.Attr {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return slog.String("error", msg)
}
