package reconcile

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/twincore/internal/bus"
	"github.com/nerrad567/twincore/internal/probe"
	"github.com/nerrad567/twincore/internal/timeline"
	"github.com/nerrad567/twincore/internal/twin"
)

// defaultThrottleWindow is the per-device sync throttle when the
// options leave it unset.
const defaultThrottleWindow = 75 * time.Millisecond

// Logger interface for dependency injection.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is used when no logger is provided.
type noopLogger struct{}

func (noopLogger) Debug(msg string, args ...any) {}
func (noopLogger) Info(msg string, args ...any)  {}
func (noopLogger) Warn(msg string, args ...any)  {}
func (noopLogger) Error(msg string, args ...any) {}

// Options holds the engine's dependencies.
type Options struct {
	// Registry is the twin registry the engine merges into. Required.
	Registry *twin.Registry

	// Bus receives one event per applied change. Required.
	Bus *bus.Bus

	// Timeline records applied changes while a debug session is active.
	// Optional; nil disables recording.
	Timeline *timeline.Recorder

	// ThrottleWindow is the minimum spacing between two merges for the
	// same device. Zero means the 75ms default.
	ThrottleWindow time.Duration

	// Logger is an optional structured logger.
	Logger Logger
}

// pendingSync is one in-flight sync pass. Late callers for the same
// device await done and adopt the outcome.
type pendingSync struct {
	done    chan struct{}
	applied int
	err     error
}

// Engine merges observed device state into twins.
//
// Each device's syncs are serialised against themselves only: a second
// SyncDeviceState for a device with one already in flight awaits the
// pending pass and adopts its result instead of merging again. Merges
// for the same device are additionally spaced by the throttle window.
//
// Thread Safety: all methods are safe for concurrent use.
type Engine struct {
	registry *twin.Registry
	bus      *bus.Bus
	timeline *timeline.Recorder
	window   time.Duration

	mu       sync.Mutex
	inflight map[string]*pendingSync
	lastSync map[string]time.Time
	closed   bool
	done     chan struct{}
	stopOnce sync.Once

	logger   Logger
	loggerMu sync.RWMutex

	syncs          atomic.Uint64
	coalesced      atomic.Uint64
	throttled      atomic.Uint64
	changesApplied atomic.Uint64
}

// Stats holds engine counters.
type Stats struct {
	// Syncs is the number of completed sync passes.
	Syncs uint64

	// Coalesced is the number of calls that adopted a pending pass.
	Coalesced uint64

	// Throttled is the number of passes that waited out the window.
	Throttled uint64

	// ChangesApplied is the total number of fields merged into twins.
	ChangesApplied uint64
}

// NewEngine creates a reconciliation engine.
func NewEngine(opts Options) (*Engine, error) {
	if opts.Registry == nil {
		return nil, fmt.Errorf("twin registry is required")
	}
	if opts.Bus == nil {
		return nil, fmt.Errorf("event bus is required")
	}

	window := opts.ThrottleWindow
	if window <= 0 {
		window = defaultThrottleWindow
	}

	logger := opts.Logger
	if logger == nil {
		logger = noopLogger{}
	}

	return &Engine{
		registry: opts.Registry,
		bus:      opts.Bus,
		timeline: opts.Timeline,
		window:   window,
		inflight: make(map[string]*pendingSync),
		lastSync: make(map[string]time.Time),
		done:     make(chan struct{}),
		logger:   logger,
	}, nil
}

// SetLogger sets the logger for engine operations.
func (e *Engine) SetLogger(logger Logger) {
	e.loggerMu.Lock()
	defer e.loggerMu.Unlock()
	if logger != nil {
		e.logger = logger
	}
}

func (e *Engine) log() Logger {
	e.loggerMu.RLock()
	defer e.loggerMu.RUnlock()
	return e.logger
}

// SyncDeviceState merges one observed snapshot into the device's twin
// and returns the number of fields applied.
//
// If a sync for this device is already in flight the call coalesces:
// it awaits the pending pass and returns that pass's outcome without
// merging its own delta. Otherwise, if the device synced less than the
// throttle window ago, the call waits out the remainder first. Unknown
// device ids fail with twin.ErrTwinNotFound.
func (e *Engine) SyncDeviceState(ctx context.Context, deviceID string, delta probe.DeviceState) (int, error) {
	if !e.registry.Has(deviceID) {
		return 0, fmt.Errorf("%w: %s", twin.ErrTwinNotFound, deviceID)
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return 0, ErrEngineClosed
	}
	if p, ok := e.inflight[deviceID]; ok {
		e.mu.Unlock()
		e.coalesced.Add(1)
		select {
		case <-p.done:
			return p.applied, p.err
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-e.done:
			return 0, ErrEngineClosed
		}
	}
	p := &pendingSync{done: make(chan struct{})}
	e.inflight[deviceID] = p
	last := e.lastSync[deviceID]
	e.mu.Unlock()

	p.applied, p.err = e.runSync(ctx, deviceID, last, delta)

	e.mu.Lock()
	// ClearDevice may have removed (or replaced) the marker meanwhile.
	if e.inflight[deviceID] == p {
		delete(e.inflight, deviceID)
	}
	if p.err == nil {
		e.lastSync[deviceID] = time.Now()
	}
	e.mu.Unlock()
	close(p.done)

	return p.applied, p.err
}

// runSync waits out the throttle window remainder, then merges.
func (e *Engine) runSync(ctx context.Context, deviceID string, last time.Time, delta probe.DeviceState) (int, error) {
	if !last.IsZero() {
		if remaining := e.window - time.Since(last); remaining > 0 {
			e.throttled.Add(1)
			timer := time.NewTimer(remaining)
			defer timer.Stop()
			select {
			case <-timer.C:
			case <-ctx.Done():
				return 0, ctx.Err()
			case <-e.done:
				return 0, ErrEngineClosed
			}
		}
	}
	return e.merge(deviceID, delta)
}

// merge applies the delta field-by-field in deterministic order: pins
// ascending, then sensors by id. Events are collected under the twin's
// write lock and emitted after it is released, so listeners may read
// the registry freely.
func (e *Engine) merge(deviceID string, delta probe.DeviceState) (int, error) {
	var events []bus.Event

	err := e.registry.Mutate(deviceID, func(t *twin.Twin) error {
		now := time.Now()

		pinNumbers := make([]int, 0, len(delta.Pins))
		readings := make(map[int]probe.PinReading, len(delta.Pins))
		for key, reading := range delta.Pins {
			n, convErr := strconv.Atoi(key)
			if convErr != nil {
				continue // not a pin number; devices also echo named entries
			}
			pinNumbers = append(pinNumbers, n)
			readings[n] = reading
		}
		sort.Ints(pinNumbers)

		for _, n := range pinNumbers {
			state, ok := t.Pins[n]
			if !ok {
				continue // template does not declare this pin
			}
			events = append(events, applyPinReading(deviceID, state, readings[n], now)...)
		}

		sensorIDs := make([]string, 0, len(delta.Sensors))
		for id := range delta.Sensors {
			sensorIDs = append(sensorIDs, id)
		}
		sort.Strings(sensorIDs)

		for _, id := range sensorIDs {
			sensor, ok := t.Sensors[id]
			if !ok {
				continue
			}
			if ev, applied := applySensorReading(deviceID, sensor, delta.Sensors[id], now); applied {
				events = append(events, ev)
			}
		}

		if len(events) > 0 {
			t.LastSync = now
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	e.syncs.Add(1)

	for _, ev := range events {
		e.bus.Emit(ev)
	}
	recordToTimeline(e.timeline, events)

	if len(events) > 0 {
		e.changesApplied.Add(uint64(len(events)))
		e.log().Debug("device state merged", "device_id", deviceID, "changes", len(events))
	}

	return len(events), nil
}

// applyPinReading merges one pin's observed reading into its state and
// returns one event per mutated field.
func applyPinReading(deviceID string, state *twin.PinState, reading probe.PinReading, now time.Time) []bus.Event {
	switch state.Type {
	case twin.PinDigital:
		return applyDigitalReading(deviceID, state, reading, now)
	case twin.PinAnalog:
		return applyAnalogReading(deviceID, state, reading, now)
	case twin.PinPWM:
		return applyPWMReading(deviceID, state, reading, now)
	default:
		return nil
	}
}

// applyDigitalReading applies mode first, then value, each on exact
// inequality.
func applyDigitalReading(deviceID string, state *twin.PinState, reading probe.PinReading, now time.Time) []bus.Event {
	var events []bus.Event

	if reading.Mode != "" {
		mode := twin.PinMode(reading.Mode)
		if (mode == twin.ModeInput || mode == twin.ModeOutput) && state.Digital.Mode != mode {
			prev := state.Digital.Mode
			state.Digital.Mode = mode
			state.LastChanged = now
			events = append(events, bus.NewPinChanged(deviceID, bus.SourcePhysical, bus.PinChange{
				Pin: state.Pin, Field: "mode", Previous: string(prev), Current: string(mode),
			}))
		}
	}

	if value, ok := digitalValue(reading.Value); ok && state.Digital.Value != value {
		prev := state.Digital.Value
		state.Digital.Value = value
		state.LastChanged = now
		events = append(events, bus.NewPinChanged(deviceID, bus.SourcePhysical, bus.PinChange{
			Pin: state.Pin, Field: "value", Previous: prev, Current: value,
		}))
	}

	return events
}

// applyAnalogReading applies the value only when it moved by more than
// one unit, filtering ADC jitter.
func applyAnalogReading(deviceID string, state *twin.PinState, reading probe.PinReading, now time.Time) []bus.Event {
	value, ok := numericValue(reading.Value)
	if !ok {
		return nil
	}
	next := int(math.Round(value))
	if absInt(next-state.Analog.Value) <= 1 {
		return nil
	}

	prev := state.Analog.Value
	state.Analog.Value = next
	state.LastChanged = now
	return []bus.Event{bus.NewPinChanged(deviceID, bus.SourcePhysical, bus.PinChange{
		Pin: state.Pin, Field: "value", Previous: prev, Current: next,
	})}
}

// applyPWMReading applies the observed duty cycle on exact inequality.
func applyPWMReading(deviceID string, state *twin.PinState, reading probe.PinReading, now time.Time) []bus.Event {
	value, ok := numericValue(reading.Value)
	if !ok {
		return nil
	}
	if state.PWM.DutyCycle == value {
		return nil
	}

	prev := state.PWM.DutyCycle
	state.PWM.DutyCycle = value
	state.PWM.Active = value > 0
	state.LastChanged = now
	return []bus.Event{bus.NewPinChanged(deviceID, bus.SourcePhysical, bus.PinChange{
		Pin: state.Pin, Field: "duty_cycle", Previous: prev, Current: value,
	})}
}

// applySensorReading applies a reading that moved by more than the
// sensor's declared accuracy.
func applySensorReading(deviceID string, sensor *twin.SensorState, value float64, now time.Time) (bus.Event, bool) {
	if math.Abs(value-sensor.Value) <= sensor.Accuracy {
		return bus.Event{}, false
	}

	prev := sensor.Value
	sensor.Value = value
	sensor.LastReading = now
	sensor.Active = true
	return bus.NewSensorChanged(deviceID, bus.SourcePhysical, bus.SensorChange{
		SensorID: sensor.ID, Previous: prev, Current: value,
	}), true
}

// recordToTimeline mirrors applied changes into the timeline. The
// recorder gates on its own debug-session flag; a nil recorder disables
// recording entirely.
func recordToTimeline(rec *timeline.Recorder, events []bus.Event) {
	if rec == nil {
		return
	}
	for _, ev := range events {
		switch {
		case ev.Payload.Pin != nil:
			rec.RecordPin(ev.Payload.Pin.Pin, ev.Payload.Pin.Previous, ev.Payload.Pin.Current)
		case ev.Payload.Sensor != nil:
			rec.RecordSensor(ev.Payload.Sensor.SensorID, ev.Payload.Sensor.Previous, ev.Payload.Sensor.Current)
		case ev.Payload.Actuator != nil:
			rec.RecordActuator(ev.Payload.Actuator.ActuatorID, ev.Payload.Actuator.Previous, ev.Payload.Actuator.Current)
		}
	}
}

// ClearDevice drops the device's throttle history and pending-sync
// marker. Called when a device disconnects; a pass already running
// completes but no longer blocks new syncs.
func (e *Engine) ClearDevice(deviceID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.lastSync, deviceID)
	delete(e.inflight, deviceID)
}

// Stats returns current engine counters.
func (e *Engine) Stats() Stats {
	return Stats{
		Syncs:          e.syncs.Load(),
		Coalesced:      e.coalesced.Load(),
		Throttled:      e.throttled.Load(),
		ChangesApplied: e.changesApplied.Load(),
	}
}

// Close aborts waiting syncs and rejects new ones. Idempotent.
func (e *Engine) Close() {
	e.stopOnce.Do(func() {
		e.mu.Lock()
		e.closed = true
		e.mu.Unlock()
		close(e.done)
	})
}

// digitalValue coerces an observed value into a digital level. Devices
// report JSON booleans, but some firmwares serialise levels as 0/1.
func digitalValue(v any) (bool, bool) {
	switch value := v.(type) {
	case bool:
		return value, true
	case float64:
		return value != 0, true
	case int:
		return value != 0, true
	default:
		return false, false
	}
}

// numericValue coerces an observed value into a float64.
func numericValue(v any) (float64, bool) {
	switch value := v.(type) {
	case float64:
		return value, true
	case int:
		return float64(value), true
	default:
		return 0, false
	}
}

func absInt(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
