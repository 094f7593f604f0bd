package reconcile

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/twincore/internal/twin"
)

// defaultPollInterval is the global poll tick when the options leave it
// unset.
const defaultPollInterval = 50 * time.Millisecond

// PollerOptions holds the poller's dependencies.
type PollerOptions struct {
	// Attachments supplies the probes for physically attached devices.
	// Required.
	Attachments *Attachments

	// Registry is consulted for connectivity and simulation flags.
	// Required.
	Registry *twin.Registry

	// Engine receives each poll's snapshot. Required.
	Engine *Engine

	// Interval is the global poll tick. Zero means the 50ms default.
	Interval time.Duration

	// Logger is an optional structured logger.
	Logger Logger
}

// Poller drives one poll cycle across all connected, non-simulated
// twins on a fixed global tick.
//
// Devices are polled concurrently but never overlappingly: a device
// whose previous poll (or sync) is still running is skipped this tick.
// A poll that times out or returns garbage is a missed poll — skipped
// silently and retried on the next tick.
type Poller struct {
	attachments *Attachments
	registry    *twin.Registry
	engine      *Engine
	interval    time.Duration

	mu      sync.Mutex
	polling map[string]bool
	started bool

	done      chan struct{}
	wg        sync.WaitGroup
	stopOnce  sync.Once
	ctx       context.Context
	ctxCancel context.CancelFunc

	logger   Logger
	loggerMu sync.RWMutex

	onPoll   func(deviceID string, duration time.Duration, err error)
	onPollMu sync.RWMutex

	cycles atomic.Uint64
	polls  atomic.Uint64
	misses atomic.Uint64
}

// PollerStats holds poller counters.
type PollerStats struct {
	// Cycles is the number of ticks fired.
	Cycles uint64

	// Polls is the number of state probes issued.
	Polls uint64

	// Misses is the number of polls that timed out, failed to parse, or
	// whose sync failed.
	Misses uint64
}

// NewPoller creates a poller. Call Start to begin polling.
func NewPoller(opts PollerOptions) (*Poller, error) {
	if opts.Attachments == nil {
		return nil, fmt.Errorf("attachments are required")
	}
	if opts.Registry == nil {
		return nil, fmt.Errorf("twin registry is required")
	}
	if opts.Engine == nil {
		return nil, fmt.Errorf("engine is required")
	}

	interval := opts.Interval
	if interval <= 0 {
		interval = defaultPollInterval
	}

	logger := opts.Logger
	if logger == nil {
		logger = noopLogger{}
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Poller{
		attachments: opts.Attachments,
		registry:    opts.Registry,
		engine:      opts.Engine,
		interval:    interval,
		polling:     make(map[string]bool),
		done:        make(chan struct{}),
		ctx:         ctx,
		ctxCancel:   cancel,
		logger:      logger,
	}, nil
}

// SetLogger sets the logger for poller operations.
func (p *Poller) SetLogger(logger Logger) {
	p.loggerMu.Lock()
	defer p.loggerMu.Unlock()
	if logger != nil {
		p.logger = logger
	}
}

func (p *Poller) log() Logger {
	p.loggerMu.RLock()
	defer p.loggerMu.RUnlock()
	return p.logger
}

// SetOnPoll sets a callback invoked after every poll with the round-trip
// duration and outcome. A nil error means the probe and sync both
// succeeded. The callback runs on the polling goroutine, so it must not
// block.
func (p *Poller) SetOnPoll(callback func(deviceID string, duration time.Duration, err error)) {
	p.onPollMu.Lock()
	defer p.onPollMu.Unlock()
	p.onPoll = callback
}

func (p *Poller) notifyPoll(deviceID string, duration time.Duration, err error) {
	p.onPollMu.RLock()
	callback := p.onPoll
	p.onPollMu.RUnlock()
	if callback != nil {
		callback(deviceID, duration, err)
	}
}

// Start begins the poll loop. Returns an error if already started.
func (p *Poller) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return fmt.Errorf("poller already started")
	}
	p.started = true

	p.wg.Add(1)
	go p.run()

	p.log().Info("poller started", "interval", p.interval)
	return nil
}

// Stop halts the tick loop, cancels in-flight polls and waits for them
// to finish. Idempotent.
func (p *Poller) Stop() {
	p.stopOnce.Do(func() {
		close(p.done)
		p.ctxCancel()
	})
	p.wg.Wait()
}

func (p *Poller) run() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.done:
			return
		case <-ticker.C:
			p.cycle()
		}
	}
}

// cycle fans one poll across every eligible device.
func (p *Poller) cycle() {
	p.cycles.Add(1)

	for _, deviceID := range p.attachments.DeviceIDs() {
		tw, err := p.registry.Get(deviceID)
		if err != nil {
			continue // twin removed; attachment cleanup is the caller's job
		}
		if !tw.Connected || tw.Simulation.Simulated {
			continue
		}
		if !p.beginPoll(deviceID) {
			continue // previous poll for this device still running
		}

		dp, ok := p.attachments.Probe(deviceID)
		if !ok {
			p.endPoll(deviceID)
			continue
		}

		p.wg.Add(1)
		go func(id string, dp DeviceProbe) {
			defer p.wg.Done()
			defer p.endPoll(id)
			p.poll(id, dp)
		}(deviceID, dp)
	}
}

// poll runs one state probe and hands the snapshot to the engine.
// Failures are misses: logged at debug, never surfaced.
func (p *Poller) poll(deviceID string, dp DeviceProbe) {
	p.polls.Add(1)
	start := time.Now()

	state, err := dp.PollState(p.ctx)
	if err != nil {
		p.misses.Add(1)
		p.log().Debug("missed poll", "device_id", deviceID, "error", err)
		p.notifyPoll(deviceID, time.Since(start), err)
		return
	}

	_, err = p.engine.SyncDeviceState(p.ctx, deviceID, state)
	if err != nil {
		p.misses.Add(1)
		p.log().Debug("poll sync failed", "device_id", deviceID, "error", err)
	} else {
		// A clean poll with zero deltas is still a successful sync; keep
		// LastSync meaning "last verified consistent with hardware".
		_ = p.registry.Touch(deviceID, time.Now())
	}
	p.notifyPoll(deviceID, time.Since(start), err)
}

func (p *Poller) beginPoll(deviceID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.polling[deviceID] {
		return false
	}
	p.polling[deviceID] = true
	return true
}

func (p *Poller) endPoll(deviceID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.polling, deviceID)
}

// Stats returns current poller counters.
func (p *Poller) Stats() PollerStats {
	return PollerStats{
		Cycles: p.cycles.Load(),
		Polls:  p.polls.Load(),
		Misses: p.misses.Load(),
	}
}
