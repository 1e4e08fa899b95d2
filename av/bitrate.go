package av

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// BitrateMonitor accumulates transmitted bytes and reports bits per second
// once per interval.
//
// Add is lock-free so the transmit loop never waits on the reporter.
type BitrateMonitor struct {
	interval time.Duration
	bytes    atomic.Uint64
	callback func(bps uint64)
}

// NewBitrateMonitor creates a monitor invoking callback every interval.
//
// Parameters:
//   - interval: reporting period, DefaultBitrateInterval when non-positive
//   - callback: receives bits per second; may be nil
func NewBitrateMonitor(interval time.Duration, callback func(bps uint64)) *BitrateMonitor {
	if interval <= 0 {
		interval = DefaultBitrateInterval
	}
	return &BitrateMonitor{
		interval: interval,
		callback: callback,
	}
}

// Add records n transmitted bytes.
func (m *BitrateMonitor) Add(n int) {
	if n > 0 {
		m.bytes.Add(uint64(n))
	}
}

// Pending returns the bytes recorded since the last report.
func (m *BitrateMonitor) Pending() uint64 {
	return m.bytes.Load()
}

// Reset discards the bytes recorded since the last report.
func (m *BitrateMonitor) Reset() {
	m.bytes.Store(0)
}

// Run reports until ctx is done. It always returns nil.
func (m *BitrateMonitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	logrus.WithFields(logrus.Fields{
		"function": "BitrateMonitor.Run",
		"interval": m.interval,
	}).Debug("Starting bitrate loop")

	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			logrus.WithFields(logrus.Fields{
				"function": "BitrateMonitor.Run",
			}).Debug("Bitrate loop stopped")
			return nil

		case now := <-ticker.C:
			bps := m.sample(now.Sub(last))
			last = now
			if m.callback != nil {
				m.callback(bps)
			}
		}
	}
}

// sample swaps out the byte total and scales it to bits per second over elapsed.
func (m *BitrateMonitor) sample(elapsed time.Duration) uint64 {
	bytes := m.bytes.Swap(0)
	if elapsed <= 0 {
		elapsed = m.interval
	}
	return bytes * 8 * uint64(time.Second) / uint64(elapsed)
}
