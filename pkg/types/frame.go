package types

import "time"

// Frame is a complete extracted JPEG payload, from the SOI marker to the
// EOI marker inclusive. Frames are transient: the sink consumes them on
// hand-off and the core never retains them afterwards.
type Frame struct {
	Data      []byte    // Raw JPEG bytes (0xFFD8 ... 0xFFD9)
	Timestamp time.Time // Extraction timestamp
	Seq       uint64    // Sequential frame number within the session
}

// SessionStats tracks per-session counters. Stats are reset on every new
// session, including seamless restarts, because session age and frame count
// are what classify why a session ended.
type SessionStats struct {
	StartedAt      time.Time // Session start (request issued)
	FramesReceived uint64    // Complete frames handed to the sink
	BytesRead      uint64    // Raw bytes consumed from the response body
	Truncations    uint64    // Byte-buffer truncations under the size ceiling
	LastFrameAt    time.Time // Zero until the first frame arrives
}

// Age returns the session age at time now.
func (s SessionStats) Age(now time.Time) time.Duration {
	return now.Sub(s.StartedAt)
}

// OutcomeKind tags how a session ended.
type OutcomeKind int

const (
	// OutcomeNatural is a camera-initiated clean close after a healthy run
	// of frames. The server expects the client to reopen immediately.
	OutcomeNatural OutcomeKind = iota
	// OutcomeError covers transport failures, protocol failures and
	// premature clean closes. Subject to reconnect backoff.
	OutcomeError
	// OutcomeCancelled means the caller aborted the session. Never counts
	// against the retry budget and never surfaces as an error.
	OutcomeCancelled
)

// String returns the outcome kind name.
func (k OutcomeKind) String() string {
	switch k {
	case OutcomeNatural:
		return "natural"
	case OutcomeError:
		return "error"
	case OutcomeCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// SessionOutcome is the tagged result of one stream session. Cancellation,
// failure and natural cycling are first-class variants rather than error
// values inspected by name.
type SessionOutcome struct {
	Kind           OutcomeKind
	Stats          SessionStats
	Cause          error // Set for OutcomeError only
	PrematureClose bool  // Error classified from an early clean close
}

// NaturalEnd builds a natural-cycle outcome.
func NaturalEnd(stats SessionStats) SessionOutcome {
	return SessionOutcome{Kind: OutcomeNatural, Stats: stats}
}

// ErrorEnd builds an error outcome.
func ErrorEnd(stats SessionStats, cause error) SessionOutcome {
	return SessionOutcome{Kind: OutcomeError, Stats: stats, Cause: cause}
}

// PrematureEnd builds an error outcome for a clean close that happened too
// early to be a legitimate camera cycle.
func PrematureEnd(stats SessionStats, cause error) SessionOutcome {
	return SessionOutcome{Kind: OutcomeError, Stats: stats, Cause: cause, PrematureClose: true}
}

// Cancelled builds a caller-aborted outcome.
func Cancelled(stats SessionStats) SessionOutcome {
	return SessionOutcome{Kind: OutcomeCancelled, Stats: stats}
}
