package probe

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/twincore/internal/repl"
)

// Default probe timeouts.
const (
	// defaultPollTimeout bounds the fast state poll and the GPIO write
	// round-trip.
	defaultPollTimeout = 200 * time.Millisecond

	// defaultProbeTimeout bounds each one-time introspection probe.
	defaultProbeTimeout = 10 * time.Second
)

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Config holds prober timeouts.
type Config struct {
	// PollTimeout is how long PollState and WriteGPIO wait for their
	// sentinel. Default: 200ms.
	PollTimeout time.Duration

	// ProbeTimeout is how long each introspection probe waits.
	// Default: 10s.
	ProbeTimeout time.Duration
}

// Stats holds prober counters.
type Stats struct {
	ProbesSent         uint64
	ResponsesMatched   uint64
	ResponsesDiscarded uint64 // Sentinel lines that arrived with no waiter
	ParseFailures      uint64
	Timeouts           uint64
}

// response is one matched sentinel line.
type response struct {
	sentinel Sentinel
	payload  string
}

// waiter is one pending request awaiting a sentinel.
type waiter struct {
	wants map[Sentinel]bool
	ch    chan response // buffered 1, send never blocks
}

// Prober speaks the sentinel protocol over one device's channel.
//
// It owns the channel's line stream: lines carrying a recognised sentinel
// are matched against pending requests in registration order; everything
// else is noise and is dropped. A sentinel line with no pending waiter is
// a late response from an abandoned probe and is discarded.
//
// The recurring probes call helper functions that live on the device, so
// the prober deploys them before the first request and again whenever the
// channel has reconnected since — a reconnect means a fresh interpreter
// with no helpers.
//
// One Prober serves one device. Callers serialise requests per sentinel
// kind (the sync engine's per-device in-flight marker does this for
// polls and writes), so at most one waiter per sentinel is pending at a
// time in practice.
type Prober struct {
	channel repl.Channel
	cfg     Config

	mu      sync.Mutex
	waiters []*waiter
	closed  bool
	done    chan struct{}

	setupMu         sync.Mutex
	setupDeployed   bool
	setupReconnects uint64

	logger   Logger
	loggerMu sync.RWMutex

	probesSent         atomic.Uint64
	responsesMatched   atomic.Uint64
	responsesDiscarded atomic.Uint64
	parseFailures      atomic.Uint64
	timeouts           atomic.Uint64
}

// NewProber creates a prober over the given channel and installs itself
// as the channel's line handler.
func NewProber(channel repl.Channel, cfg Config) *Prober {
	if cfg.PollTimeout == 0 {
		cfg.PollTimeout = defaultPollTimeout
	}
	if cfg.ProbeTimeout == 0 {
		cfg.ProbeTimeout = defaultProbeTimeout
	}

	p := &Prober{
		channel: channel,
		cfg:     cfg,
		done:    make(chan struct{}),
	}
	channel.SetOnLine(p.handleLine)
	return p
}

// SetLogger sets the logger for this prober.
func (p *Prober) SetLogger(logger Logger) {
	p.loggerMu.Lock()
	p.logger = logger
	p.loggerMu.Unlock()
}

// handleLine matches an incoming line against pending waiters.
func (p *Prober) handleLine(line repl.Line) {
	sentinel, payload, ok := ParseLine(line.Text)
	if !ok {
		return // Not a sentinel line; user program output or echo
	}

	p.mu.Lock()
	for i, w := range p.waiters {
		if w.wants[sentinel] {
			p.waiters = append(p.waiters[:i], p.waiters[i+1:]...)
			p.mu.Unlock()

			w.ch <- response{sentinel: sentinel, payload: payload}
			p.responsesMatched.Add(1)
			return
		}
	}
	p.mu.Unlock()

	// Late response from an abandoned probe. The requester has moved on.
	p.responsesDiscarded.Add(1)
	p.logDebug("discarding unawaited sentinel", "sentinel", string(sentinel))
}

// register adds a waiter for the given sentinels.
func (p *Prober) register(sentinels ...Sentinel) (*waiter, error) {
	wants := make(map[Sentinel]bool, len(sentinels))
	for _, s := range sentinels {
		wants[s] = true
	}
	w := &waiter{wants: wants, ch: make(chan response, 1)}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrProberClosed
	}
	p.waiters = append(p.waiters, w)
	return w, nil
}

// unregister removes a waiter. Safe to call after the waiter was already
// matched and removed.
func (p *Prober) unregister(w *waiter) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, candidate := range p.waiters {
		if candidate == w {
			p.waiters = append(p.waiters[:i], p.waiters[i+1:]...)
			return
		}
	}
}

// request sends a script and waits for one of the given sentinels.
func (p *Prober) request(ctx context.Context, script string, timeout time.Duration, sentinels ...Sentinel) (response, error) {
	if err := p.ensureSetup(ctx); err != nil {
		return response{}, err
	}

	w, err := p.register(sentinels...)
	if err != nil {
		return response{}, err
	}
	defer p.unregister(w)

	if err := p.channel.Execute(ctx, script); err != nil {
		return response{}, fmt.Errorf("execute probe: %w", err)
	}
	p.probesSent.Add(1)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-w.ch:
		return res, nil
	case <-timer.C:
		p.timeouts.Add(1)
		// The script may still be running; break it so the interpreter is
		// free for the next request. A late sentinel, should one arrive
		// anyway, has no waiter and is discarded by handleLine.
		_ = p.channel.Interrupt(ctx)
		return response{}, ErrProbeTimeout
	case <-ctx.Done():
		return response{}, fmt.Errorf("probe interrupted: %w", ctx.Err())
	case <-p.done:
		return response{}, ErrProberClosed
	}
}

// Setup deploys the device-side helper functions, unconditionally.
// Requests deploy them on demand, so calling this is optional; an
// explicit call at attach time keeps the first poll inside its budget.
// The setup script prints nothing, so there is no response to await.
func (p *Prober) Setup(ctx context.Context) error {
	p.setupMu.Lock()
	p.setupDeployed = false
	p.setupMu.Unlock()
	return p.ensureSetup(ctx)
}

// ensureSetup deploys the device-side helpers unless they are already on
// this connection. A reconnect restarts the interpreter and loses them,
// so the channel's reconnect count invalidates the deployment.
func (p *Prober) ensureSetup(ctx context.Context) error {
	p.setupMu.Lock()
	defer p.setupMu.Unlock()

	reconnects := p.channel.Stats().ReconnectsTotal
	if p.setupDeployed && reconnects == p.setupReconnects {
		return nil
	}

	if err := p.channel.Execute(ctx, setupScript); err != nil {
		return fmt.Errorf("deploy setup script: %w", err)
	}
	p.setupDeployed = true
	p.setupReconnects = reconnects
	return nil
}

// PollState runs one fast state poll and returns the device's snapshot.
//
// Returns ErrProbeTimeout when no DEVICE_STATE line arrives in time and
// ErrParseFailed when one arrives malformed. Both mean "missed poll" to
// the caller: skip this cycle, try again next tick.
func (p *Prober) PollState(ctx context.Context) (DeviceState, error) {
	res, err := p.request(ctx, statePollScript, p.cfg.PollTimeout, SentinelDeviceState)
	if err != nil {
		return DeviceState{}, err
	}

	state, err := DecodeDeviceState(res.payload)
	if err != nil {
		p.parseFailures.Add(1)
		return DeviceState{}, err
	}
	return state, nil
}

// BoardAttrs probes the board module's attribute names.
func (p *Prober) BoardAttrs(ctx context.Context) ([]string, error) {
	res, err := p.request(ctx, boardAttrsScript, p.cfg.ProbeTimeout, SentinelBoardAttrs)
	if err != nil {
		return nil, err
	}

	attrs, err := DecodeBoardAttrs(res.payload)
	if err != nil {
		p.parseFailures.Add(1)
		return nil, err
	}
	return attrs, nil
}

// PinCapabilities probes each pin for the operations it supports.
func (p *Prober) PinCapabilities(ctx context.Context) (map[string]PinProbe, error) {
	res, err := p.request(ctx, pinCapabilitiesScript, p.cfg.ProbeTimeout, SentinelPinCapabilities)
	if err != nil {
		return nil, err
	}

	caps, err := DecodePinCapabilities(res.payload)
	if err != nil {
		p.parseFailures.Add(1)
		return nil, err
	}
	return caps, nil
}

// DetectBuses probes for working I2C, SPI and UART buses.
func (p *Prober) DetectBuses(ctx context.Context) (BusDetection, error) {
	res, err := p.request(ctx, busDetectionScript, p.cfg.ProbeTimeout, SentinelBusDetection)
	if err != nil {
		return BusDetection{}, err
	}

	buses, err := DecodeBusDetection(res.payload)
	if err != nil {
		p.parseFailures.Add(1)
		return BusDetection{}, err
	}
	return buses, nil
}

// DetectComponents probes for built-in sensors and actuators.
func (p *Prober) DetectComponents(ctx context.Context) (ComponentDetection, error) {
	res, err := p.request(ctx, componentDetectionScript, p.cfg.ProbeTimeout, SentinelComponentDetection)
	if err != nil {
		return ComponentDetection{}, err
	}

	components, err := DecodeComponentDetection(res.payload)
	if err != nil {
		p.parseFailures.Add(1)
		return ComponentDetection{}, err
	}
	return components, nil
}

// WriteGPIO performs a one-shot write-and-read-back on the device and
// returns the value the device read back after applying the write.
//
// The caller compares the returned value against the requested one;
// hardware is authoritative, so a mismatch means the write did not take.
// Returns ErrWriteRejected when the device answers GPIO_ERROR and
// ErrProbeTimeout when nothing comes back in time.
func (p *Prober) WriteGPIO(ctx context.Context, pin int, value any, mode string) (any, error) {
	script := BuildGPIOWriteScript(pin, value, mode)

	res, err := p.request(ctx, script, p.cfg.PollTimeout, SentinelGPIOConfirm, SentinelGPIOError)
	if err != nil {
		return nil, err
	}

	if res.sentinel == SentinelGPIOError {
		return nil, fmt.Errorf("%w: %s", ErrWriteRejected, res.payload)
	}

	confirmed, err := DecodeGPIOConfirm(res.payload)
	if err != nil {
		p.parseFailures.Add(1)
		return nil, err
	}
	return confirmed, nil
}

// Stats returns current prober counters.
func (p *Prober) Stats() Stats {
	return Stats{
		ProbesSent:         p.probesSent.Load(),
		ResponsesMatched:   p.responsesMatched.Load(),
		ResponsesDiscarded: p.responsesDiscarded.Load(),
		ParseFailures:      p.parseFailures.Load(),
		Timeouts:           p.timeouts.Load(),
	}
}

// Close wakes all pending requests with ErrProberClosed and rejects new
// ones. It does not close the underlying channel; the prober borrows it.
func (p *Prober) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.waiters = nil
	close(p.done)
	p.mu.Unlock()
}

// logDebug logs a debug message if logger is set.
func (p *Prober) logDebug(msg string, keysAndValues ...any) {
	p.loggerMu.RLock()
	logger := p.logger
	p.loggerMu.RUnlock()

	if logger != nil {
		logger.Debug(msg, keysAndValues...)
	}
}
