package recovery

import (
	"sync"
	"time"
)

const (
	defaultHealthWindow = time.Minute
	highSeverityLimit   = 3
)

type healthEntry struct {
	at       time.Time
	severity Severity
}

// HealthTracker judges process health over a sliding window. Any critical
// fault, or three or more high-severity faults, inside the window marks the
// process unhealthy until the entries age out.
type HealthTracker struct {
	mu      sync.Mutex
	window  time.Duration
	entries []healthEntry
}

func NewHealthTracker(window time.Duration) *HealthTracker {
	if window <= 0 {
		window = defaultHealthWindow
	}
	return &HealthTracker{window: window}
}

// Record notes a fault. Only high and critical faults affect health.
func (h *HealthTracker) Record(severity Severity, at time.Time) {
	if severity != SeverityHigh && severity != SeverityCritical {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.prune(at)
	h.entries = append(h.entries, healthEntry{at: at, severity: severity})
}

// Healthy reports whether the window is clear.
func (h *HealthTracker) Healthy(now time.Time) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.prune(now)

	high := 0
	for _, e := range h.entries {
		if e.severity == SeverityCritical {
			return false
		}
		high++
	}
	return high < highSeverityLimit
}

func (h *HealthTracker) prune(now time.Time) {
	cutoff := now.Add(-h.window)
	keep := h.entries[:0]
	for _, e := range h.entries {
		if e.at.After(cutoff) {
			keep = append(keep, e)
		}
	}
	h.entries = keep
}
