// Package proximity decides whether an assigned worker is physically close
// enough to a job's pickup point to confirm arrival. A Monitor is purely
// reactive: it recomputes on every incoming fix and never polls.
package proximity

import (
	"errors"
	"sync"
	"time"

	"github.com/Jeremytpk/quicktrash-sub002/internal/geo"
	"github.com/Jeremytpk/quicktrash-sub002/internal/models"
)

// ErrOutOfRange means arrival was attempted outside the threshold.
var ErrOutOfRange = errors.New("proximity: worker outside arrival threshold")

// ErrLocationUnavailable means there is no usable fix: none received yet, or
// the latest one is stale. We never assume proximity in that case.
var ErrLocationUnavailable = errors.New("proximity: no recent location fix")

// Default thresholds. ThresholdMeters is 100 ft; StrictThresholdMeters is the
// 50 ft variant some markets use.
const (
	ThresholdMeters       = 30.48
	StrictThresholdMeters = 15.24
)

// Monitor tracks one worker's distance to one pickup point.
type Monitor struct {
	pickup    models.Coord
	threshold float64
	maxFixAge time.Duration
	now       func() time.Time

	mu       sync.RWMutex
	lastFix  models.Fix
	haveFix  bool
	distance float64
	within   bool
}

// NewMonitor creates a monitor for the given pickup point. maxFixAge bounds
// how old the latest fix may be before the monitor reports
// ErrLocationUnavailable; zero disables the staleness check.
func NewMonitor(pickup models.Coord, thresholdMeters float64, maxFixAge time.Duration) *Monitor {
	if thresholdMeters <= 0 {
		thresholdMeters = ThresholdMeters
	}
	return &Monitor{pickup: pickup, threshold: thresholdMeters, maxFixAge: maxFixAge, now: time.Now}
}

// Observe folds one location fix into the monitor's state.
func (m *Monitor) Observe(f models.Fix) {
	d := geo.Haversine(f.Loc.Lat, f.Loc.Lon, m.pickup.Lat, m.pickup.Lon)
	m.mu.Lock()
	m.lastFix = f
	m.haveFix = true
	m.distance = d
	m.within = d <= m.threshold
	m.mu.Unlock()
}

// Run consumes a fix stream until it closes. Convenience for stream-fed use.
func (m *Monitor) Run(fixes <-chan models.Fix) {
	for f := range fixes {
		m.Observe(f)
	}
}

// WithinRange reports whether the last usable fix was inside the threshold.
// It fails rather than guesses when no fresh fix exists.
func (m *Monitor) WithinRange() (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.haveFix {
		return false, ErrLocationUnavailable
	}
	if m.maxFixAge > 0 && m.now().Sub(m.lastFix.At) > m.maxFixAge {
		return false, ErrLocationUnavailable
	}
	return m.within, nil
}

// Distance returns the meters between the last fix and the pickup point.
func (m *Monitor) Distance() (float64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.haveFix {
		return 0, ErrLocationUnavailable
	}
	return m.distance, nil
}
