// Package stream implements the network camera streaming client: one
// long-lived HTTP session per connection, frame extraction, stall detection
// and the reconnect state machine around them.
package stream

import "time"

// Tuning holds the heuristic constants of the streaming client. The
// defaults come from observed camera behavior, not a protocol guarantee, so
// they are configurable rather than hard-coded.
type Tuning struct {
	// Natural-cycle heuristic: a clean close younger than NaturalCycleMinAge
	// with fewer than NaturalCycleMinFrames frames is a failure, not a cycle.
	NaturalCycleMinAge    time.Duration
	NaturalCycleMinFrames uint64

	// FirstFrameDeadline bounds how long a session may run without
	// producing a single frame before it is failed as a protocol error.
	FirstFrameDeadline time.Duration

	// Stall detection.
	StallCheckInterval time.Duration
	StallThreshold     time.Duration

	// Reconnect policy. Backoff is linear-times-attempt and always capped,
	// so worst-case recovery latency stays predictable for an operator
	// watching a live feed.
	MaxReconnectAttempts uint8
	ErrorBackoffBase     time.Duration
	ErrorBackoffCap      time.Duration
	PrematureBackoffBase time.Duration
	PrematureBackoffCap  time.Duration

	// ReconnectCooldown is the mandatory pause ForceReconnect applies so a
	// camera that is actively rejecting connections is not hammered.
	ReconnectCooldown time.Duration

	// Transport bounds. ConnectTimeout covers dialing and response headers
	// only; the body read has no deadline.
	ConnectTimeout time.Duration
	ProbeTimeout   time.Duration

	// ExcellentAfter is how long a session must stay connected without a
	// restart before quality is reported as excellent.
	ExcellentAfter time.Duration

	// Byte buffer limits and read chunk size.
	BufferMaxBytes  int
	BufferKeepBytes int
	ReadChunkSize   int
}

// DefaultTuning returns the production defaults.
func DefaultTuning() Tuning {
	return Tuning{
		NaturalCycleMinAge:    10 * time.Second,
		NaturalCycleMinFrames: 5,
		FirstFrameDeadline:    10 * time.Second,
		StallCheckInterval:    2 * time.Second,
		StallThreshold:        8 * time.Second,
		MaxReconnectAttempts:  3,
		ErrorBackoffBase:      1 * time.Second,
		ErrorBackoffCap:       5 * time.Second,
		PrematureBackoffBase:  3 * time.Second,
		PrematureBackoffCap:   10 * time.Second,
		ReconnectCooldown:     1 * time.Second,
		ConnectTimeout:        10 * time.Second,
		ProbeTimeout:          10 * time.Second,
		ExcellentAfter:        60 * time.Second,
		BufferMaxBytes:        2 << 20,
		BufferKeepBytes:       1 << 20,
		ReadChunkSize:         4096,
	}
}
