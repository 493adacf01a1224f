package sink

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"sync"
	"sync/atomic"

	"golang.org/x/image/draw"

	"github.com/camview/streamclient/internal/logger"
	"github.com/camview/streamclient/pkg/types"
)

// Display receives the freshly registered handle. It is the embedding
// application's "display next decoded image" operation; the handle stays
// valid until the ring evicts it or the sink is released.
type Display func(h *Handle)

// ImageSink decodes JPEG frames into images and swaps them in as current.
// Decoding happens on the caller's goroutine; if a frame arrives while a
// previous decode is still in flight the new frame is dropped instead of
// queued, which keeps the sink safe at tens of frames per second.
type ImageSink struct {
	busy    sync.Mutex
	ring    *HandleRing
	display Display
	hint    types.QualityHint

	presented atomic.Uint64
	dropped   atomic.Uint64
	decodeErr atomic.Uint64
}

// NewImageSink creates a decoding sink. display may be nil when the caller
// only needs the handle ring (tests, headless probes).
func NewImageSink(display Display, hint types.QualityHint) *ImageSink {
	return &ImageSink{
		ring:    NewHandleRing(MaxLiveHandles),
		display: display,
		hint:    hint,
	}
}

// Present decodes the frame, registers it as the current image and releases
// the oldest handle if the ring is full.
func (s *ImageSink) Present(frame types.Frame) error {
	if !s.busy.TryLock() {
		s.dropped.Add(1)
		return nil
	}
	defer s.busy.Unlock()

	img, err := jpeg.Decode(bytes.NewReader(frame.Data))
	if err != nil {
		s.decodeErr.Add(1)
		return fmt.Errorf("decode frame %d: %w", frame.Seq, err)
	}

	img = scaleForHint(img, s.hint)

	h := newHandle(img, nil)
	s.ring.Push(h)
	if s.display != nil {
		s.display(h)
	}
	s.presented.Add(1)
	return nil
}

// ReleaseAll releases every live handle.
func (s *ImageSink) ReleaseAll() {
	s.ring.ReleaseAll()
	logger.Debug("Sink", "Released all image handles (presented=%d dropped=%d)",
		s.presented.Load(), s.dropped.Load())
}

// LiveHandles returns the number of unreleased handles.
func (s *ImageSink) LiveHandles() int {
	return s.ring.Live()
}

// Presented returns how many frames were decoded and displayed.
func (s *ImageSink) Presented() uint64 {
	return s.presented.Load()
}

// Dropped returns how many frames were dropped while a decode was in flight.
func (s *ImageSink) Dropped() uint64 {
	return s.dropped.Load()
}

// scaleForHint downscales the decoded image for the medium/low quality
// hints. High keeps the native resolution.
func scaleForHint(img image.Image, hint types.QualityHint) image.Image {
	var divisor int
	var scaler draw.Scaler
	switch hint {
	case types.QualityMedium:
		divisor, scaler = 2, draw.ApproxBiLinear
	case types.QualityLow:
		divisor, scaler = 4, draw.NearestNeighbor
	default:
		return img
	}

	bounds := img.Bounds()
	w, h := bounds.Dx()/divisor, bounds.Dy()/divisor
	if w < 1 || h < 1 {
		return img
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	scaler.Scale(dst, dst.Bounds(), img, bounds, draw.Over, nil)
	return dst
}
