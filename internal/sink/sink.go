// Package sink abstracts "something that can display the next decoded
// frame". Sinks own at most a small bounded set of live image handles so
// memory stays flat over viewing sessions that run for hours.
package sink

import (
	"sync"
	"sync/atomic"

	"github.com/camview/streamclient/pkg/types"
)

// MaxLiveHandles bounds the number of outstanding image handles a sink may
// hold. Creating one more forces release of the oldest.
const MaxLiveHandles = 3

// Sink consumes extracted frames for display. Present must be safe to call
// at the observed frame rate; a sink may drop intermediate frames under
// pressure (latest-frame-wins), but must never queue unboundedly.
type Sink interface {
	Present(frame types.Frame) error
	// ReleaseAll releases every live handle. Called on disconnect and on
	// every transition into Idle or Failed.
	ReleaseAll()
}

// Handle is one live displayable image resource. Handles are released
// eagerly rather than left to the garbage collector, because each
// undisposed handle is a real OS/GPU resource over a long session.
type Handle struct {
	mu       sync.Mutex
	payload  any
	released bool
	onFree   func(payload any)
}

func newHandle(payload any, onFree func(any)) *Handle {
	return &Handle{payload: payload, onFree: onFree}
}

// Payload returns the displayable payload, or nil after release.
func (h *Handle) Payload() any {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.released {
		return nil
	}
	return h.payload
}

// Release frees the handle. Safe to call more than once.
func (h *Handle) Release() {
	h.mu.Lock()
	if h.released {
		h.mu.Unlock()
		return
	}
	h.released = true
	payload := h.payload
	h.payload = nil
	onFree := h.onFree
	h.mu.Unlock()

	if onFree != nil {
		onFree(payload)
	}
}

// Released reports whether the handle has been freed.
func (h *Handle) Released() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.released
}

// HandleRing keeps the most recent live handles, releasing the oldest when
// the bound is exceeded.
type HandleRing struct {
	mu      sync.Mutex
	handles []*Handle
	max     int
	evicted atomic.Uint64
}

// NewHandleRing creates a ring bounded to max handles (MaxLiveHandles when
// max is not positive).
func NewHandleRing(max int) *HandleRing {
	if max <= 0 {
		max = MaxLiveHandles
	}
	return &HandleRing{max: max}
}

// Push registers a new handle, releasing the oldest if the ring is full.
func (r *HandleRing) Push(h *Handle) {
	var oldest *Handle
	r.mu.Lock()
	r.handles = append(r.handles, h)
	if len(r.handles) > r.max {
		oldest = r.handles[0]
		r.handles = append(r.handles[:0], r.handles[1:]...)
		r.evicted.Add(1)
	}
	r.mu.Unlock()

	if oldest != nil {
		oldest.Release()
	}
}

// Live returns the number of unreleased handles in the ring.
func (r *HandleRing) Live() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	live := 0
	for _, h := range r.handles {
		if !h.Released() {
			live++
		}
	}
	return live
}

// ReleaseAll releases every handle and empties the ring.
func (r *HandleRing) ReleaseAll() {
	r.mu.Lock()
	handles := r.handles
	r.handles = nil
	r.mu.Unlock()

	for _, h := range handles {
		h.Release()
	}
}
