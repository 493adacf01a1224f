package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/camview/streamclient/internal/logger"
	"github.com/camview/streamclient/internal/mjpeg"
	"github.com/camview/streamclient/internal/sink"
	"github.com/camview/streamclient/pkg/types"
)

// Session-level errors. These are causes inside an error outcome, never
// control flow inspected by name.
var (
	ErrNoFrames              = errors.New("no frames received from stream")
	ErrPrematureClose        = errors.New("stream closed prematurely")
	ErrUnsupportedStreamType = errors.New("stream type not implemented")
)

// Session owns one HTTP request/response cycle against the camera: it
// issues the GET, drives the byte reader, feeds the extractor and hands
// complete frames to the sink. A session never restarts itself; it returns
// a tagged outcome and the controller decides what happens next.
type Session struct {
	cfg    types.CameraConfig
	out    sink.Sink
	tuning Tuning
	client *http.Client
	header http.Header // pre-resolved routing headers, may be nil
	gen    uint64      // generation tag, for logs only

	mu    sync.Mutex
	stats types.SessionStats

	lastFrameNano atomic.Int64 // lock-free read path for the stall monitor
	gotFrame      atomic.Bool
}

// NewSession creates a session for one connection attempt. The config is
// borrowed read-only. extraHeader carries headers injected by an external
// routing layer (proxy bridging, short-lived bearer credentials).
func NewSession(cfg types.CameraConfig, out sink.Sink, tuning Tuning, client *http.Client, extraHeader http.Header, gen uint64) *Session {
	if client == nil {
		client = NewStreamClient(tuning)
	}
	return &Session{
		cfg:    cfg,
		out:    out,
		tuning: tuning,
		client: client,
		header: extraHeader,
		gen:    gen,
	}
}

// NewStreamClient builds an HTTP client suitable for indefinite streaming
// responses: dialing and response headers are bounded, the body read is not.
func NewStreamClient(tuning Tuning) *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			DialContext:           (&net.Dialer{Timeout: tuning.ConnectTimeout}).DialContext,
			ResponseHeaderTimeout: tuning.ConnectTimeout,
			DisableCompression:    true,
		},
	}
}

// Stats returns a snapshot of the per-session counters.
func (s *Session) Stats() types.SessionStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// LastFrameAt returns when the most recent frame arrived, or the zero time
// before the first frame. Safe for concurrent use by the stall monitor.
func (s *Session) LastFrameAt() time.Time {
	nano := s.lastFrameNano.Load()
	if nano == 0 {
		return time.Time{}
	}
	return time.Unix(0, nano)
}

// Run executes the session until the stream ends, fails or the context is
// cancelled. The byte buffer is released on every exit path.
func (s *Session) Run(ctx context.Context) types.SessionOutcome {
	s.mu.Lock()
	s.stats = types.SessionStats{StartedAt: time.Now()}
	s.mu.Unlock()

	if s.cfg.StreamType != types.StreamMJPEG {
		return types.ErrorEnd(s.Stats(), fmt.Errorf("%w: %s", ErrUnsupportedStreamType, s.cfg.StreamType))
	}

	// The first-frame deadline has to interrupt a blocked body read, so it
	// cancels a derived context instead of being polled.
	readCtx, cancelRead := context.WithCancel(ctx)
	defer cancelRead()

	var deadlineFired atomic.Bool
	deadline := time.AfterFunc(s.tuning.FirstFrameDeadline, func() {
		if !s.gotFrame.Load() {
			deadlineFired.Store(true)
			cancelRead()
		}
	})
	defer deadline.Stop()

	req, err := http.NewRequestWithContext(readCtx, http.MethodGet, s.cfg.URL, nil)
	if err != nil {
		return types.ErrorEnd(s.Stats(), fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Accept", "multipart/x-mixed-replace, image/jpeg, */*")
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Pragma", "no-cache")
	for key, values := range s.header {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	if s.cfg.Credentials != nil {
		req.SetBasicAuth(s.cfg.Credentials.Username, s.cfg.Credentials.Password)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return s.classifyReadError(ctx, &deadlineFired, fmt.Errorf("connect: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return types.ErrorEnd(s.Stats(), fmt.Errorf("unexpected HTTP status %s", resp.Status))
	}

	logger.Debug("Session", "gen=%d connected to %s (content-type %q)",
		s.gen, s.cfg.URL, resp.Header.Get("Content-Type"))

	return s.readLoop(ctx, readCtx, &deadlineFired, resp.Body)
}

// readLoop pumps the response body through the extractor until the stream
// ends. It checks cancellation between every frame extraction so large
// buffers cannot delay an abort.
func (s *Session) readLoop(parent, readCtx context.Context, deadlineFired *atomic.Bool, body io.Reader) types.SessionOutcome {
	buf := mjpeg.NewBufferWithLimits(s.tuning.BufferMaxBytes, s.tuning.BufferKeepBytes)
	defer func() {
		s.mu.Lock()
		s.stats.Truncations = buf.Truncations()
		s.mu.Unlock()
		buf.Reset()
	}()

	chunk := make([]byte, s.tuning.ReadChunkSize)
	for {
		n, readErr := body.Read(chunk)
		if n > 0 {
			s.mu.Lock()
			s.stats.BytesRead += uint64(n)
			s.mu.Unlock()
			buf.Append(chunk[:n])

			for {
				if readCtx.Err() != nil {
					break
				}
				data, ok := buf.Extract()
				if !ok {
					break
				}
				s.deliver(data)
			}
		}

		if readErr != nil {
			if readErr == io.EOF && readCtx.Err() == nil {
				return s.classifyCleanClose()
			}
			return s.classifyReadError(parent, deadlineFired, readErr)
		}
	}
}

// deliver hands one extracted frame to the sink and updates counters.
// Sink errors (a corrupt frame the decoder rejects) skip the frame but do
// not end the session.
func (s *Session) deliver(data []byte) {
	now := time.Now()

	s.mu.Lock()
	s.stats.FramesReceived++
	s.stats.LastFrameAt = now
	seq := s.stats.FramesReceived
	s.mu.Unlock()

	s.lastFrameNano.Store(now.UnixNano())
	s.gotFrame.Store(true)

	if err := s.out.Present(types.Frame{Data: data, Timestamp: now, Seq: seq}); err != nil {
		logger.Warn("Session", "gen=%d frame %d rejected by sink: %v", s.gen, seq, err)
	}
}

// classifyCleanClose applies the natural-cycle heuristic to a server-side
// close with no I/O error. Many MJPEG servers intentionally cycle the HTTP
// connection; a session that produced a healthy run of frames is not a
// failure and must not count against the retry budget.
func (s *Session) classifyCleanClose() types.SessionOutcome {
	stats := s.Stats()
	if stats.Age(time.Now()) < s.tuning.NaturalCycleMinAge && stats.FramesReceived < s.tuning.NaturalCycleMinFrames {
		return types.PrematureEnd(stats, fmt.Errorf("%w after %d frames in %s",
			ErrPrematureClose, stats.FramesReceived, stats.Age(time.Now()).Round(time.Millisecond)))
	}
	logger.Debug("Session", "gen=%d natural cycle after %d frames", s.gen, stats.FramesReceived)
	return types.NaturalEnd(stats)
}

// classifyReadError separates caller cancellation and the first-frame
// deadline from genuine transport failures.
func (s *Session) classifyReadError(parent context.Context, deadlineFired *atomic.Bool, err error) types.SessionOutcome {
	stats := s.Stats()
	if deadlineFired.Load() {
		return types.ErrorEnd(stats, ErrNoFrames)
	}
	if parent.Err() != nil {
		return types.Cancelled(stats)
	}
	return types.ErrorEnd(stats, err)
}
