package viewer

import (
	"testing"
	"time"

	"github.com/camview/streamclient/pkg/types"
)

func present(t *testing.T, fb *FrameBroadcaster, data []byte) {
	t.Helper()
	if err := fb.Present(types.Frame{Data: data, Timestamp: time.Now()}); err != nil {
		t.Fatalf("present: %v", err)
	}
}

func TestBroadcasterFansOutToSubscribers(t *testing.T) {
	fb := NewFrameBroadcaster()
	id1, ch1 := fb.Subscribe()
	id2, ch2 := fb.Subscribe()
	defer fb.Unsubscribe(id1)
	defer fb.Unsubscribe(id2)

	frame := testJPEG(16)
	present(t, fb, frame)

	for i, ch := range []<-chan []byte{ch1, ch2} {
		select {
		case got := <-ch:
			if len(got) != len(frame) {
				t.Fatalf("client %d got %d bytes, want %d", i, len(got), len(frame))
			}
		default:
			t.Fatalf("client %d received nothing", i)
		}
	}
}

func TestBroadcasterSlowClientGetsLatestFrame(t *testing.T) {
	fb := NewFrameBroadcaster()
	id, ch := fb.Subscribe()
	defer fb.Unsubscribe(id)

	// Never reading: queue fills, older frames are evicted.
	for i := 0; i < 10; i++ {
		present(t, fb, testJPEG(i+1))
	}

	var last []byte
	for {
		select {
		case data := <-ch:
			last = data
		default:
			// Payload i has i+1 body bytes plus four marker bytes.
			if len(last) != 10+4 {
				t.Fatalf("slow client's newest frame has %d bytes, want %d", len(last), 14)
			}
			return
		}
	}
}

func TestBroadcasterLatestAndRelease(t *testing.T) {
	fb := NewFrameBroadcaster()

	if _, _, ok := fb.Latest(); ok {
		t.Fatal("empty broadcaster reported a latest frame")
	}

	frame := testJPEG(32)
	present(t, fb, frame)

	data, at, ok := fb.Latest()
	if !ok || len(data) != len(frame) || at.IsZero() {
		t.Fatalf("latest = (%d bytes, %v, %v)", len(data), at, ok)
	}

	fb.ReleaseAll()
	if _, _, ok := fb.Latest(); ok {
		t.Fatal("released broadcaster still holds a frame")
	}
}

func TestBroadcasterUnsubscribeClosesChannel(t *testing.T) {
	fb := NewFrameBroadcaster()
	id, ch := fb.Subscribe()

	if fb.ClientCount() != 1 {
		t.Fatalf("client count = %d", fb.ClientCount())
	}
	fb.Unsubscribe(id)
	fb.Unsubscribe(id) // safe to repeat

	if _, ok := <-ch; ok {
		t.Fatal("channel still open after unsubscribe")
	}
	if fb.ClientCount() != 0 {
		t.Fatalf("client count after unsubscribe = %d", fb.ClientCount())
	}
}
