package logging

import (
	"slices"
	"sync"
	"time"
)

// DefaultMaxEntries is the per-activity capacity of a LogCollector.
const DefaultMaxEntries = 500

// LogEntry represents a single log record with structured data.
type LogEntry struct {
	Time       time.Time      `json:"time"`
	Level      string         `json:"level"`
	Message    string         `json:"message"`
	Attributes map[string]any `json:"attributes"`
}

// LogCollector keeps the most recent log entries of every activity, keyed by
// activity UID. Once an activity reaches the capacity its oldest entries are
// dropped.
type LogCollector struct {
	mu         sync.RWMutex
	logs       map[string][]LogEntry
	maxEntries int
}

// NewLogCollector creates a collector with DefaultMaxEntries per activity.
func NewLogCollector() *LogCollector {
	return NewLogCollectorSize(DefaultMaxEntries)
}

// NewLogCollectorSize creates a collector keeping at most maxEntries per
// activity. A non-positive size means unbounded.
func NewLogCollectorSize(maxEntries int) *LogCollector {
	return &LogCollector{
		logs:       make(map[string][]LogEntry),
		maxEntries: maxEntries,
	}
}

// AddLog appends an entry for the activity.
func (c *LogCollector) AddLog(uid string, entry LogEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	logs := append(c.logs[uid], entry)
	if c.maxEntries > 0 && len(logs) > c.maxEntries {
		logs = slices.Delete(logs, 0, len(logs)-c.maxEntries)
	}
	c.logs[uid] = logs
}

// GetLogs returns a copy of the entries of one activity, or nil.
func (c *LogCollector) GetLogs(uid string) []LogEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()

	logs, ok := c.logs[uid]
	if !ok {
		return nil
	}
	return slices.Clone(logs)
}

// GetAllLogs returns a copy of every activity's entries.
func (c *LogCollector) GetAllLogs() map[string][]LogEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()

	result := make(map[string][]LogEntry, len(c.logs))
	for uid, logs := range c.logs {
		result[uid] = slices.Clone(logs)
	}
	return result
}

// Activities returns the UIDs that have entries, sorted.
func (c *LogCollector) Activities() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	uids := make([]string, 0, len(c.logs))
	for uid := range c.logs {
		uids = append(uids, uid)
	}
	slices.Sort(uids)
	return uids
}

// Forget drops the entries of one activity.
func (c *LogCollector) Forget(uid string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.logs, uid)
}

// Clear removes every entry.
func (c *LogCollector) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.logs = make(map[string][]LogEntry)
}
