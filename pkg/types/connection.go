package types

import "fmt"

// StreamType identifies the camera transport. Only MJPEG is implemented;
// RTSP and HLS are recognized so configs round-trip, but connecting to them
// fails up front.
type StreamType int

const (
	StreamMJPEG StreamType = iota
	StreamRTSP
	StreamHLS
)

// String returns the stream type name.
func (t StreamType) String() string {
	switch t {
	case StreamMJPEG:
		return "mjpeg"
	case StreamRTSP:
		return "rtsp"
	case StreamHLS:
		return "hls"
	default:
		return "unknown"
	}
}

// ParseStreamType parses a stream type string.
func ParseStreamType(s string) (StreamType, error) {
	switch s {
	case "mjpeg", "MJPEG", "":
		return StreamMJPEG, nil
	case "rtsp", "RTSP":
		return StreamRTSP, nil
	case "hls", "HLS":
		return StreamHLS, nil
	default:
		return StreamMJPEG, fmt.Errorf("invalid stream type: %s", s)
	}
}

// QualityHint is the caller's preference for decode quality versus CPU cost.
type QualityHint int

const (
	QualityHigh QualityHint = iota
	QualityMedium
	QualityLow
)

// String returns the quality hint name.
func (q QualityHint) String() string {
	switch q {
	case QualityHigh:
		return "high"
	case QualityMedium:
		return "medium"
	case QualityLow:
		return "low"
	default:
		return "unknown"
	}
}

// ParseQualityHint parses a quality hint string.
func ParseQualityHint(s string) (QualityHint, error) {
	switch s {
	case "high", "":
		return QualityHigh, nil
	case "medium":
		return QualityMedium, nil
	case "low":
		return QualityLow, nil
	default:
		return QualityHigh, fmt.Errorf("invalid quality hint: %s", s)
	}
}

// Credentials carries optional camera credentials. The core does not perform
// authentication itself; an external routing layer resolves these into the
// target URL or header set before a session is started.
type Credentials struct {
	Username string
	Password string
}

// CameraConfig is the immutable per-connection configuration. Owned by the
// caller; sessions borrow it read-only.
type CameraConfig struct {
	URL         string       // Absolute HTTP/HTTPS stream URL, already normalized
	StreamType  StreamType   // Only StreamMJPEG is implemented
	Credentials *Credentials // Optional; nil when the URL is pre-authenticated
	QualityHint QualityHint  // Decode quality preference
}

// ConnState is the externally visible connection state.
type ConnState int

const (
	StateIdle ConnState = iota
	StateConnecting
	StateConnected
	StateStalled
	StateReconnecting
	StateFailed
)

// String returns the state name.
func (s ConnState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateStalled:
		return "stalled"
	case StateReconnecting:
		return "reconnecting"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Quality is the coarse connection-quality signal shown to the viewer.
type Quality int

const (
	QualityDisconnected Quality = iota
	QualityPoor
	QualityGood
	QualityExcellent
)

// String returns the quality name.
func (q Quality) String() string {
	switch q {
	case QualityDisconnected:
		return "disconnected"
	case QualityPoor:
		return "poor"
	case QualityGood:
		return "good"
	case QualityExcellent:
		return "excellent"
	default:
		return "unknown"
	}
}

// ConnectionStatus is the only state surface the UI observes. It is a value
// snapshot; the controller republishes it on every transition.
type ConnectionStatus struct {
	State             ConnState `json:"state"`
	IsConnecting      bool      `json:"is_connecting"`
	IsConnected       bool      `json:"is_connected"`
	ConnectionError   string    `json:"connection_error,omitempty"`
	ConnectionQuality string    `json:"connection_quality"`
	ReconnectAttempts uint8     `json:"reconnect_attempts"`
	FramesReceived    uint64    `json:"frames_received"`
	SessionStarted    int64     `json:"session_started_unix,omitempty"`
	LastFrameUnixMs   int64     `json:"last_frame_unix_ms,omitempty"`
}
