package mjpeg

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testFrame builds a well-formed JPEG payload whose body contains no stray
// markers, so the scanner's first-EOI match is exact.
func testFrame(fill byte, size int) []byte {
	frame := make([]byte, 0, size+4)
	frame = append(frame, 0xFF, 0xD8)
	for i := 0; i < size; i++ {
		frame = append(frame, fill&0x7F)
	}
	frame = append(frame, 0xFF, 0xD9)
	return frame
}

func drain(buf *Buffer) [][]byte {
	var frames [][]byte
	for {
		frame, ok := buf.Extract()
		if !ok {
			return frames
		}
		frames = append(frames, frame)
	}
}

func TestExtractSingleFrame(t *testing.T) {
	buf := NewBuffer()
	want := testFrame(0x11, 100)
	buf.Append(want)

	frame, ok := buf.Extract()
	require.True(t, ok)
	assert.Equal(t, want, frame)
	assert.Equal(t, 0, buf.Len())

	_, ok = buf.Extract()
	assert.False(t, ok)
}

func TestExtractChunkInvariance(t *testing.T) {
	// N back-to-back frames must come out identically regardless of how the
	// bytes were chunked on the way in.
	var stream []byte
	var want [][]byte
	for i := 0; i < 5; i++ {
		frame := testFrame(byte(i+1), 64+i*17)
		want = append(want, frame)
		stream = append(stream, frame...)
	}

	for _, chunkSize := range []int{1, 2, 3, 7, 16, 255, 4096, len(stream)} {
		buf := NewBuffer()
		var got [][]byte
		for off := 0; off < len(stream); off += chunkSize {
			end := off + chunkSize
			if end > len(stream) {
				end = len(stream)
			}
			buf.Append(stream[off:end])
			got = append(got, drain(buf)...)
		}
		require.Len(t, got, len(want), "chunk size %d", chunkSize)
		for i := range want {
			assert.Equal(t, want[i], got[i], "chunk size %d frame %d", chunkSize, i)
		}
	}
}

func TestExtractMarkerSplitAcrossReads(t *testing.T) {
	frame := testFrame(0x22, 32)
	buf := NewBuffer()

	// Split inside the SOI marker, then inside the EOI marker.
	buf.Append(frame[:1])
	_, ok := buf.Extract()
	require.False(t, ok)

	buf.Append(frame[1 : len(frame)-1])
	_, ok = buf.Extract()
	require.False(t, ok)

	buf.Append(frame[len(frame)-1:])
	got, ok := buf.Extract()
	require.True(t, ok)
	assert.Equal(t, frame, got)
}

func TestExtractPartialFramePreservesFromStartMarker(t *testing.T) {
	buf := NewBuffer()
	buf.Append([]byte{0x00, 0x01, 0x02}) // leading garbage
	partial := []byte{0xFF, 0xD8, 0x10, 0x20, 0x30}
	buf.Append(partial)

	_, ok := buf.Extract()
	require.False(t, ok)
	// Garbage before SOI may be dropped, but everything from SOI onward stays.
	assert.Equal(t, len(partial), buf.Len())

	buf.Append([]byte{0xFF, 0xD9})
	frame, ok := buf.Extract()
	require.True(t, ok)
	assert.Equal(t, append(append([]byte{}, partial...), 0xFF, 0xD9), frame)
}

func TestExtractMultipartWrappedFrames(t *testing.T) {
	// Boundary headers between frames are noise to the scanner.
	frame := testFrame(0x33, 48)
	var stream []byte
	for i := 0; i < 3; i++ {
		stream = append(stream, []byte("--frame\r\nContent-Type: image/jpeg\r\n\r\n")...)
		stream = append(stream, frame...)
		stream = append(stream, '\r', '\n')
	}

	buf := NewBuffer()
	buf.Append(stream)
	frames := drain(buf)
	require.Len(t, frames, 3)
	for _, got := range frames {
		assert.Equal(t, frame, got)
	}
}

func TestBufferTruncationNeverExceedsCap(t *testing.T) {
	buf := NewBufferWithLimits(4096, 1024)

	junk := bytes.Repeat([]byte{0x55}, 700) // no markers
	for i := 0; i < 50; i++ {
		buf.Append(junk)
		_, ok := buf.Extract()
		assert.False(t, ok)
		assert.LessOrEqual(t, buf.Len(), 4096)
	}
	assert.Greater(t, buf.Truncations(), uint64(0))
	// Oldest bytes dropped first: buffer holds at most the retained tail.
	assert.LessOrEqual(t, buf.Len(), 1024+len(junk))
}

func TestBufferLimitsFallBackToDefaults(t *testing.T) {
	buf := NewBufferWithLimits(0, 0)
	assert.Equal(t, DefaultMaxBytes, buf.maxBytes)

	buf = NewBufferWithLimits(100, 500) // keep > max is invalid
	assert.Equal(t, 50, buf.keepBytes)
}
