package stream

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/camview/streamclient/internal/logger"
	"github.com/camview/streamclient/internal/metrics"
	"github.com/camview/streamclient/internal/sink"
	"github.com/camview/streamclient/pkg/types"
)

// Options configures a Controller.
type Options struct {
	ID      string           // Tile identifier for logs and metric labels
	Tuning  Tuning           // Zero value means DefaultTuning
	Sink    sink.Sink        // Display sink; nil discards frames
	Metrics *metrics.Metrics // nil creates a private instance
	Client  *http.Client     // nil builds a streaming client from Tuning
	Header  http.Header      // Pre-resolved routing headers, may be nil
}

// Controller is the public-facing connection state machine for one camera
// tile. It owns the current session, its stall monitor and the reconnect
// policy, and republishes their combined state as one quality signal.
//
// One instance serves one stream; a dashboard runs one independent
// Controller per tile with no shared mutable state between them.
type Controller struct {
	id     string
	tuning Tuning
	out    sink.Sink
	met    *metrics.Metrics
	client *http.Client
	header http.Header

	// currentGen is the single "which session is current" value. Only the
	// most recently started session may write to the sink; stale sessions
	// observe a newer generation and become no-ops.
	currentGen atomic.Uint64

	mu             sync.Mutex
	state          types.ConnState
	cfg            types.CameraConfig
	hasCfg         bool
	lastErr        string
	policy         *Policy
	session        *Session // most recently started session
	monitor        *StallMonitor
	cancels        map[uint64]context.CancelFunc
	reconnectTimer *time.Timer
	connectedGen   uint64    // generation that delivered the current run's first frame
	connectedAt    time.Time // when the current connected run began
	lastConnectAt  time.Time
}

// New creates an idle controller.
func New(opts Options) *Controller {
	tuning := opts.Tuning
	if tuning == (Tuning{}) {
		tuning = DefaultTuning()
	}
	out := opts.Sink
	if out == nil {
		out = discardSink{}
	}
	met := opts.Metrics
	if met == nil {
		met = metrics.New(opts.ID)
	}
	client := opts.Client
	if client == nil {
		client = NewStreamClient(tuning)
	}
	return &Controller{
		id:      opts.ID,
		tuning:  tuning,
		out:     out,
		met:     met,
		client:  client,
		header:  opts.Header,
		state:   types.StateIdle,
		policy:  NewPolicy(tuning),
		cancels: make(map[uint64]context.CancelFunc),
	}
}

// ID returns the tile identifier.
func (c *Controller) ID() string { return c.id }

// Metrics returns the controller's metrics instance.
func (c *Controller) Metrics() *metrics.Metrics { return c.met }

// Connect tears down any prior session and starts fresh with the given
// config. Idempotent: calling it while connected restarts cleanly.
func (c *Controller) Connect(cfg types.CameraConfig) error {
	if err := validateConfig(cfg); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.teardownLocked()
	c.cfg = cfg
	c.hasCfg = true
	c.lastErr = ""
	c.policy.Reset()
	c.met.ReconnectAttempts.Store(0)
	c.setStateLocked(types.StateConnecting)
	c.lastConnectAt = time.Now()

	logger.Info("Controller", "[%s] Connecting to %s", c.id, cfg.URL)
	c.startSessionLocked()
	return nil
}

// Disconnect cancels the active session and stall monitor, releases all
// sink handles and returns to Idle. Safe to call from any state, including
// mid-reconnect-delay, and safe to call repeatedly.
func (c *Controller) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == types.StateIdle && len(c.cancels) == 0 {
		return
	}

	c.teardownLocked()
	c.lastErr = ""
	c.policy.Reset()
	c.met.ReconnectAttempts.Store(0)
	c.setStateLocked(types.StateIdle)
	logger.Info("Controller", "[%s] Disconnected", c.id)
}

// Close is Disconnect, for defer call sites.
func (c *Controller) Close() {
	c.Disconnect()
}

// ForceReconnect tears down and reconnects with the last-used config after
// a short mandatory cooldown, so a camera that is actively rejecting
// connections is not hammered.
func (c *Controller) ForceReconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.hasCfg {
		return fmt.Errorf("no previous connection to restart")
	}

	c.teardownLocked()
	c.lastErr = ""
	c.policy.Reset()
	c.met.ReconnectAttempts.Store(0)
	c.setStateLocked(types.StateConnecting)
	c.lastConnectAt = time.Now()

	logger.Info("Controller", "[%s] Force reconnect in %s", c.id, c.tuning.ReconnectCooldown)
	c.scheduleStartLocked(c.tuning.ReconnectCooldown)
	return nil
}

// TestConnection probes reachability of a config without touching the live
// session's state. Bounded by the probe timeout.
func (c *Controller) TestConnection(ctx context.Context, cfg types.CameraConfig) error {
	if err := validateConfig(cfg); err != nil {
		return err
	}
	return Probe(ctx, cfg, c.tuning, c.header)
}

// Status returns the observable state surface.
func (c *Controller) Status() types.ConnectionStatus {
	c.mu.Lock()
	defer c.mu.Unlock()

	status := types.ConnectionStatus{
		State:             c.state,
		IsConnecting:      c.state == types.StateConnecting,
		IsConnected:       c.state == types.StateConnected,
		ConnectionError:   c.lastErr,
		ConnectionQuality: c.qualityLocked().String(),
		ReconnectAttempts: c.policy.Attempts(),
	}
	if c.session != nil {
		stats := c.session.Stats()
		status.FramesReceived = stats.FramesReceived
		if !stats.StartedAt.IsZero() {
			status.SessionStarted = stats.StartedAt.Unix()
		}
		if !stats.LastFrameAt.IsZero() {
			status.LastFrameUnixMs = stats.LastFrameAt.UnixMilli()
		}
	}
	return status
}

func (c *Controller) qualityLocked() types.Quality {
	switch c.state {
	case types.StateConnected:
		if time.Since(c.connectedAt) >= c.tuning.ExcellentAfter {
			return types.QualityExcellent
		}
		return types.QualityGood
	case types.StateReconnecting, types.StateStalled:
		return types.QualityPoor
	default:
		return types.QualityDisconnected
	}
}

func validateConfig(cfg types.CameraConfig) error {
	if cfg.StreamType != types.StreamMJPEG {
		return fmt.Errorf("%w: %s", ErrUnsupportedStreamType, cfg.StreamType)
	}
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return fmt.Errorf("invalid stream URL: %w", err)
	}
	if !u.IsAbs() || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("stream URL must be absolute http/https, got %q", cfg.URL)
	}
	return nil
}

// startSessionLocked starts a new session generation. Older sessions are
// not cancelled here: the seamless-restart path deliberately overlaps old
// and new, and the new session's first frame retires the old one.
func (c *Controller) startSessionLocked() {
	gen := c.currentGen.Add(1)
	ctx, cancel := context.WithCancel(context.Background())
	c.cancels[gen] = cancel

	sess := NewSession(c.cfg, &gatedSink{c: c, gen: gen}, c.tuning, c.client, c.header, gen)
	mon := NewStallMonitor(c.tuning, sess.LastFrameAt, func() { c.onStall(gen) })
	c.session = sess
	c.monitor = mon
	c.met.SessionsStarted.Add(1)

	mon.Start()
	go func() {
		outcome := sess.Run(ctx)
		mon.Stop()
		c.handleSessionEnd(gen, outcome)
	}()
}

// scheduleStartLocked arms a restart timer. The captured generation makes
// a stale timer a no-op even if it races with teardown.
func (c *Controller) scheduleStartLocked(delay time.Duration) {
	expect := c.currentGen.Load()
	c.reconnectTimer = time.AfterFunc(delay, func() { c.restartTimerFired(expect) })
}

func (c *Controller) restartTimerFired(expect uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.reconnectTimer = nil
	if c.currentGen.Load() != expect || !c.hasCfg {
		return
	}
	if c.state != types.StateConnecting && c.state != types.StateReconnecting {
		return
	}
	c.startSessionLocked()
}

// onFrameDelivered runs after a frame reaches the real sink. Any successful
// delivery zeroes the attempt counter; the first frame of the current
// generation completes the transition to Connected and retires every older
// session still holding resources.
func (c *Controller) onFrameDelivered(gen uint64) {
	c.met.FramesReceived.Add(1)
	c.policy.Reset()
	c.met.ReconnectAttempts.Store(0)

	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.currentGen.Load() || c.connectedGen == gen {
		return
	}
	c.connectedGen = gen
	c.connectedAt = time.Now()
	c.lastErr = ""
	c.retireStaleLocked(gen)
	if c.state != types.StateConnected {
		c.setStateLocked(types.StateConnected)
		logger.Info("Controller", "[%s] Connected (session gen=%d)", c.id, gen)
	}
}

// onStall handles a stall report from the monitor of session gen. If the
// transport already won the race this is a no-op; otherwise a replacement
// session starts without the visible state ever leaving Connected.
func (c *Controller) onStall(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.currentGen.Load() {
		return
	}
	if c.state != types.StateConnected && c.state != types.StateReconnecting {
		return
	}

	c.met.StallsDetected.Add(1)
	logger.Info("Controller", "[%s] Session gen=%d stalled, starting seamless replacement", c.id, gen)
	c.startSessionLocked()
}

// handleSessionEnd receives every session outcome. Ends of superseded
// sessions only update counters; the current generation's end drives the
// reconnect policy.
func (c *Controller) handleSessionEnd(gen uint64, outcome types.SessionOutcome) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cancel, ok := c.cancels[gen]; ok {
		delete(c.cancels, gen)
		cancel()
	}

	c.met.BytesRead.Add(outcome.Stats.BytesRead)
	c.met.BufferTruncations.Add(outcome.Stats.Truncations)
	switch outcome.Kind {
	case types.OutcomeNatural:
		c.met.NaturalCycles.Add(1)
	case types.OutcomeError:
		c.met.ErrorEnds.Add(1)
		if outcome.PrematureClose {
			c.met.PrematureCloses.Add(1)
		}
	case types.OutcomeCancelled:
		c.met.Cancellations.Add(1)
	}

	if gen != c.currentGen.Load() {
		logger.Debug("Controller", "[%s] Superseded session gen=%d ended (%s)", c.id, gen, outcome.Kind)
		return
	}
	if outcome.Kind == types.OutcomeCancelled || c.state == types.StateIdle || c.state == types.StateFailed {
		return
	}

	c.retireStaleLocked(gen)

	action := c.policy.OnSessionEnded(outcome)
	c.met.ReconnectAttempts.Store(uint64(c.policy.Attempts()))

	switch action.Kind {
	case ActionRestartImmediately:
		logger.Debug("Controller", "[%s] Natural cycle (gen=%d, %d frames), restarting immediately",
			c.id, gen, outcome.Stats.FramesReceived)
		c.setStateLocked(types.StateReconnecting)
		c.startSessionLocked()

	case ActionRestartAfterDelay:
		logger.Warn("Controller", "[%s] Session gen=%d failed (%v), retry %d/%d in %s",
			c.id, gen, outcome.Cause, c.policy.Attempts(), c.tuning.MaxReconnectAttempts, action.Delay)
		c.setStateLocked(types.StateReconnecting)
		c.met.ReconnectsScheduled.Add(1)
		c.scheduleStartLocked(action.Delay)

	case ActionGiveUp:
		logger.Error("Controller", "[%s] Giving up after %d attempts: %v",
			c.id, c.policy.Attempts(), outcome.Cause)
		c.met.GiveUps.Add(1)
		c.failLocked(action.Reason)
	}
}

// retireStaleLocked cancels every session older than keep.
func (c *Controller) retireStaleLocked(keep uint64) {
	for gen, cancel := range c.cancels {
		if gen < keep {
			cancel()
			delete(c.cancels, gen)
		}
	}
}

// failLocked enters the terminal Failed state. No further automatic
// restarts happen until the caller connects again.
func (c *Controller) failLocked(reason string) {
	c.currentGen.Add(1) // any in-flight frame hand-off becomes stale
	c.stopTimersLocked()
	for gen, cancel := range c.cancels {
		cancel()
		delete(c.cancels, gen)
	}
	c.out.ReleaseAll()
	c.lastErr = reason
	c.setStateLocked(types.StateFailed)
}

// teardownLocked cancels every session and timer and releases all sink
// handles. Failed and Idle are the only states with no pending timers or
// sockets; every path into them goes through here or failLocked.
func (c *Controller) teardownLocked() {
	c.currentGen.Add(1)
	c.stopTimersLocked()
	for gen, cancel := range c.cancels {
		cancel()
		delete(c.cancels, gen)
	}
	c.connectedGen = 0
	c.out.ReleaseAll()
}

func (c *Controller) stopTimersLocked() {
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	if c.monitor != nil {
		c.monitor.Stop()
		c.monitor = nil
	}
}

func (c *Controller) setStateLocked(state types.ConnState) {
	c.state = state
	c.met.ConnectionState.Store(uint64(state))
}

// gatedSink enforces the "only the most recently started session may write
// to the sink" rule that resolves the seamless-restart overlap race.
type gatedSink struct {
	c   *Controller
	gen uint64
}

func (g *gatedSink) Present(frame types.Frame) error {
	if g.c.currentGen.Load() != g.gen {
		// Superseded: this session is a no-op from here on.
		return nil
	}
	if err := g.c.out.Present(frame); err != nil {
		return err
	}
	g.c.onFrameDelivered(g.gen)
	return nil
}

// ReleaseAll is a no-op at the gate; handle release is the controller's
// responsibility on state transitions, not each session's.
func (g *gatedSink) ReleaseAll() {}

// discardSink drops frames. Used when no display is attached.
type discardSink struct{}

func (discardSink) Present(types.Frame) error { return nil }
func (discardSink) ReleaseAll()               {}
