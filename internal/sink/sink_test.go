package sink

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/camview/streamclient/pkg/types"
)

func encodeTestJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 75}))
	return buf.Bytes()
}

func TestHandleRingBoundsLiveHandles(t *testing.T) {
	ring := NewHandleRing(3)
	var handles []*Handle
	for i := 0; i < 10; i++ {
		h := newHandle(i, nil)
		handles = append(handles, h)
		ring.Push(h)
		assert.LessOrEqual(t, ring.Live(), 3)
	}

	// Oldest handles were evicted and released.
	for i := 0; i < 7; i++ {
		assert.True(t, handles[i].Released(), "handle %d", i)
	}
	for i := 7; i < 10; i++ {
		assert.False(t, handles[i].Released(), "handle %d", i)
	}

	ring.ReleaseAll()
	assert.Equal(t, 0, ring.Live())
	for _, h := range handles {
		assert.True(t, h.Released())
	}
}

func TestHandleReleaseIsIdempotent(t *testing.T) {
	freed := 0
	h := newHandle("payload", func(any) { freed++ })
	h.Release()
	h.Release()
	assert.Equal(t, 1, freed)
	assert.Nil(t, h.Payload())
}

func TestImageSinkPresentAndRelease(t *testing.T) {
	data := encodeTestJPEG(t, 32, 24)

	var displayed int
	s := NewImageSink(func(h *Handle) {
		displayed++
		require.NotNil(t, h.Payload())
	}, types.QualityHigh)

	for i := 0; i < 8; i++ {
		err := s.Present(types.Frame{Data: data, Timestamp: time.Now(), Seq: uint64(i)})
		require.NoError(t, err)
		assert.LessOrEqual(t, s.LiveHandles(), MaxLiveHandles)
	}
	assert.Equal(t, 8, displayed)
	assert.Equal(t, uint64(8), s.Presented())

	s.ReleaseAll()
	assert.Equal(t, 0, s.LiveHandles())
}

func TestImageSinkRejectsGarbage(t *testing.T) {
	s := NewImageSink(nil, types.QualityHigh)
	err := s.Present(types.Frame{Data: []byte{0xFF, 0xD8, 0x00, 0xFF, 0xD9}})
	assert.Error(t, err)
	assert.Equal(t, 0, s.LiveHandles())
}

func TestScaleForHint(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 64, 48))

	high := scaleForHint(src, types.QualityHigh)
	assert.Equal(t, 64, high.Bounds().Dx())

	medium := scaleForHint(src, types.QualityMedium)
	assert.Equal(t, 32, medium.Bounds().Dx())
	assert.Equal(t, 24, medium.Bounds().Dy())

	low := scaleForHint(src, types.QualityLow)
	assert.Equal(t, 16, low.Bounds().Dx())

	// Tiny images are left alone rather than scaled to nothing.
	tiny := scaleForHint(image.NewRGBA(image.Rect(0, 0, 2, 2)), types.QualityLow)
	assert.Equal(t, 2, tiny.Bounds().Dx())
}
