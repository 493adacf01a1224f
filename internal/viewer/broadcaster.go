package viewer

import (
	"sync"
	"time"

	"github.com/camview/streamclient/internal/logger"
	"github.com/camview/streamclient/pkg/types"
)

// FrameBroadcaster fans the JPEG frames of one camera tile out to every
// connected HTTP client and keeps the most recent frame for snapshots. It
// implements sink.Sink, so it plugs directly into a stream controller.
//
// Latest-frame-wins: a slow client's queue is drained rather than blocking
// the delivery path, so one stuck browser tab cannot stall the stream.
type FrameBroadcaster struct {
	mu       sync.Mutex
	clients  map[int]chan []byte
	nextID   int
	latest   []byte
	latestAt time.Time
}

// NewFrameBroadcaster creates an empty broadcaster.
func NewFrameBroadcaster() *FrameBroadcaster {
	return &FrameBroadcaster{clients: make(map[int]chan []byte)}
}

// Present receives one extracted frame from the stream session. Frame data
// is freshly allocated per frame upstream, so retaining it is safe.
func (fb *FrameBroadcaster) Present(frame types.Frame) error {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	fb.latest = frame.Data
	fb.latestAt = frame.Timestamp

	for _, ch := range fb.clients {
		select {
		case ch <- frame.Data:
		default:
			// Full queue: evict the oldest frame, then try once more.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- frame.Data:
			default:
			}
		}
	}
	return nil
}

// ReleaseAll drops the retained frame. The controller calls this on
// disconnect and terminal failure; snapshot and stream clients fall back to
// the standby image afterwards.
func (fb *FrameBroadcaster) ReleaseAll() {
	fb.mu.Lock()
	fb.latest = nil
	fb.latestAt = time.Time{}
	fb.mu.Unlock()
}

// Subscribe adds a client and returns a channel for receiving frames.
func (fb *FrameBroadcaster) Subscribe() (int, <-chan []byte) {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	id := fb.nextID
	fb.nextID++
	ch := make(chan []byte, 2) // Buffer 2 frames to avoid blocking
	fb.clients[id] = ch

	logger.Debug("FrameBroadcaster", "Client #%d subscribed (total clients: %d)", id, len(fb.clients))
	return id, ch
}

// Unsubscribe removes a client.
func (fb *FrameBroadcaster) Unsubscribe(id int) {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	if ch, ok := fb.clients[id]; ok {
		close(ch)
		delete(fb.clients, id)
		logger.Debug("FrameBroadcaster", "Client #%d unsubscribed (remaining clients: %d)", id, len(fb.clients))
	}
}

// Latest returns the most recent frame, or false when no live frame exists.
func (fb *FrameBroadcaster) Latest() ([]byte, time.Time, bool) {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	if fb.latest == nil {
		return nil, time.Time{}, false
	}
	return fb.latest, fb.latestAt, true
}

// ClientCount returns the number of subscribed clients.
func (fb *FrameBroadcaster) ClientCount() int {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return len(fb.clients)
}
