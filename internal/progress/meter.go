// Package progress tracks byte throughput for running transfers and
// formats sizes and rates for log and CLI output.
package progress

import (
	"fmt"
	"sync"
	"time"
)

// Stats is a point-in-time snapshot of a transfer.
type Stats struct {
	BytesDone int64
	Total     int64
	RateBps   float64
	ETA       time.Duration
	Percent   float64
	StartedAt time.Time
}

// Meter tracks byte progress and computes a smoothed rate.
type Meter struct {
	mu        sync.Mutex
	total     int64
	done      int64
	startedAt time.Time
	lastAt    time.Time
	lastDone  int64
	rateBps   float64
	alpha     float64
	now       func() time.Time
}

// NewMeter returns a meter with a default smoothing factor.
func NewMeter() *Meter {
	return NewMeterWithNow(time.Now)
}

// NewMeterWithNow returns a meter with a custom time source (for tests).
func NewMeterWithNow(now func() time.Time) *Meter {
	if now == nil {
		now = time.Now
	}
	return &Meter{alpha: 0.2, now: now}
}

// Start initializes the meter with a total size.
func (m *Meter) Start(totalBytes int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.total = totalBytes
	m.done = 0
	m.startedAt = m.now()
	m.lastAt = m.startedAt
	m.lastDone = 0
	m.rateBps = 0
}

// Add increments the completed byte count and folds the instantaneous
// rate into the exponentially weighted moving average.
func (m *Meter) Add(n int64) {
	if n <= 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	m.done += n
	deltaBytes := m.done - m.lastDone
	deltaTime := now.Sub(m.lastAt).Seconds()
	if deltaTime > 0 {
		inst := float64(deltaBytes) / deltaTime
		if m.rateBps == 0 {
			m.rateBps = inst
		} else {
			m.rateBps = m.alpha*inst + (1-m.alpha)*m.rateBps
		}
		m.lastAt = now
		m.lastDone = m.done
	}
}

// SetTotal updates the total bytes.
func (m *Meter) SetTotal(totalBytes int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.total = totalBytes
}

// Snapshot returns the current progress stats.
func (m *Meter) Snapshot() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	stats := Stats{
		BytesDone: m.done,
		Total:     m.total,
		RateBps:   m.rateBps,
		StartedAt: m.startedAt,
	}
	if m.total > 0 {
		stats.Percent = float64(m.done) / float64(m.total) * 100
	}
	if m.rateBps > 0 && m.total > m.done {
		remaining := float64(m.total - m.done)
		stats.ETA = time.Duration(remaining/m.rateBps) * time.Second
	}
	return stats
}

// FormatBytes renders a byte count with a binary unit suffix.
func FormatBytes(n int64) string {
	const (
		kib = 1 << 10
		mib = 1 << 20
		gib = 1 << 30
	)
	switch {
	case n >= gib:
		return fmt.Sprintf("%.2f GiB", float64(n)/float64(gib))
	case n >= mib:
		return fmt.Sprintf("%.2f MiB", float64(n)/float64(mib))
	case n >= kib:
		return fmt.Sprintf("%.2f KiB", float64(n)/float64(kib))
	default:
		return fmt.Sprintf("%dB", n)
	}
}

// FormatRate renders a byte rate with a binary unit suffix.
func FormatRate(bps float64) string {
	return FormatBytes(int64(bps)) + "/s"
}
