package viewer

import "time"

// Config defines the runtime configuration for the viewer server.
type Config struct {
	Addr              string
	StatusInterval    time.Duration // Status SSE publish interval
	SSEKeepalive      time.Duration // Comment keepalive when status is quiet
	IdleFrameInterval time.Duration // Standby frame interval for idle tiles
}

// DefaultConfig returns the defaults used by the viewer binary.
func DefaultConfig() Config {
	return Config{
		Addr:              ":8080",
		StatusInterval:    2 * time.Second,
		SSEKeepalive:      30 * time.Second,
		IdleFrameInterval: 5 * time.Second,
	}
}
