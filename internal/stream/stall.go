package stream

import (
	"sync"
	"time"

	"github.com/camview/streamclient/internal/logger"
)

// StallMonitor watches a connected session for frozen delivery: the
// connection is nominally open but frames stopped arriving. When the
// threshold is exceeded it asks the controller for a seamless restart
// instead of waiting for the transport to notice.
//
// The monitor fires at most once and must be stopped the instant the
// session ends on its own; whichever acts first (transport completion or
// stall timer) wins and the other becomes a no-op at the controller.
type StallMonitor struct {
	interval  time.Duration
	threshold time.Duration
	lastFrame func() time.Time
	onStall   func()

	mu      sync.Mutex
	stop    chan struct{}
	stopped bool
}

// NewStallMonitor creates a monitor over lastFrame. onStall runs on the
// monitor's goroutine when a stall is detected.
func NewStallMonitor(tuning Tuning, lastFrame func() time.Time, onStall func()) *StallMonitor {
	return &StallMonitor{
		interval:  tuning.StallCheckInterval,
		threshold: tuning.StallThreshold,
		lastFrame: lastFrame,
		onStall:   onStall,
		stop:      make(chan struct{}),
	}
}

// Start begins polling.
func (m *StallMonitor) Start() {
	go m.run()
}

// Stop halts polling. Safe to call more than once and from any goroutine.
func (m *StallMonitor) Stop() {
	m.mu.Lock()
	if !m.stopped {
		close(m.stop)
		m.stopped = true
	}
	m.mu.Unlock()
}

func (m *StallMonitor) run() {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			last := m.lastFrame()
			if last.IsZero() {
				// No frame yet; the first-frame deadline owns that case.
				continue
			}
			if since := time.Since(last); since > m.threshold {
				logger.Warn("Stall", "No frame for %s (threshold %s), requesting restart",
					since.Round(time.Millisecond), m.threshold)
				m.onStall()
				return
			}
		}
	}
}
