// Package mjpeg extracts discrete JPEG frames from an MJPEG byte stream.
//
// The scanner keys on raw SOI/EOI markers rather than multipart boundaries,
// because many embedded camera servers emit absent or malformed boundary
// headers. As long as complete JPEG payloads appear in the byte stream, the
// surrounding multipart framing is ignored.
package mjpeg

import "bytes"

// JPEG image markers.
var (
	markerSOI = []byte{0xFF, 0xD8} // Start Of Image
	markerEOI = []byte{0xFF, 0xD9} // End Of Image
)

// Buffer limits. Camera streams are not re-playable, so when the cap is hit
// the oldest undecoded bytes are discarded rather than blocking the reader.
const (
	DefaultMaxBytes  = 2 << 20 // Hard ceiling before truncation
	DefaultKeepBytes = 1 << 20 // Bytes retained after truncation
)

// Buffer is an append-only accumulation of recently received bytes, bounded
// to a hard ceiling. Owned exclusively by one stream session; never shared.
type Buffer struct {
	data        []byte
	maxBytes    int
	keepBytes   int
	truncations uint64
}

// NewBuffer creates a Buffer with the default limits.
func NewBuffer() *Buffer {
	return NewBufferWithLimits(DefaultMaxBytes, DefaultKeepBytes)
}

// NewBufferWithLimits creates a Buffer with explicit limits. keepBytes must
// not exceed maxBytes; zero values fall back to the defaults.
func NewBufferWithLimits(maxBytes, keepBytes int) *Buffer {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	if keepBytes <= 0 || keepBytes > maxBytes {
		keepBytes = maxBytes / 2
	}
	return &Buffer{
		data:      make([]byte, 0, 64*1024),
		maxBytes:  maxBytes,
		keepBytes: keepBytes,
	}
}

// Append adds received bytes, enforcing the ceiling. Truncation keeps the
// most recent keepBytes and copies them to a fresh backing array so the
// oversized one is released.
func (b *Buffer) Append(p []byte) {
	b.data = append(b.data, p...)
	if len(b.data) > b.maxBytes {
		kept := make([]byte, b.keepBytes)
		copy(kept, b.data[len(b.data)-b.keepBytes:])
		b.data = kept
		b.truncations++
	}
}

// Len returns the number of buffered bytes.
func (b *Buffer) Len() int {
	return len(b.data)
}

// Truncations returns how many times the ceiling forced a truncation.
func (b *Buffer) Truncations() uint64 {
	return b.truncations
}

// Reset releases the buffered bytes.
func (b *Buffer) Reset() {
	b.data = nil
}

// Extract scans the buffer for one complete JPEG frame. It returns the
// inclusive SOI..EOI payload and true when found, consuming the frame and
// anything before it; the remainder stays buffered for the next call.
//
// When only the start marker is present, every byte from it onward is
// preserved so a frame split across reads is assembled on a later call.
// When neither marker is present the buffer is left unchanged and the
// caller keeps accumulating. Markers split across two network reads are
// handled naturally because scanning is always over the cumulative buffer.
func (b *Buffer) Extract() ([]byte, bool) {
	start := bytes.Index(b.data, markerSOI)
	if start < 0 {
		return nil, false
	}

	end := bytes.Index(b.data[start+2:], markerEOI)
	if end < 0 {
		// Incomplete frame: drop leading garbage, keep SOI onward.
		if start > 0 {
			b.data = append(b.data[:0], b.data[start:]...)
		}
		return nil, false
	}
	end += start + 2 + len(markerEOI)

	frame := make([]byte, end-start)
	copy(frame, b.data[start:end])

	// Compact the remainder in place.
	b.data = append(b.data[:0], b.data[end:]...)
	return frame, true
}
