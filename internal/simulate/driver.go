package simulate

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/twincore/internal/twin"
)

// relaxationRate is the per-tick pull toward the baseline when
// physical-law emulation is on. Small enough that a disturbed reading
// takes dozens of ticks to settle, like a real thermal mass would.
const relaxationRate = 0.05

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

// Writer commits simulated readings. *reconcile.Validator satisfies it;
// routing through the validator keeps virtual-write semantics and
// events identical for simulated and real traffic.
type Writer interface {
	UpdateSensorValue(ctx context.Context, deviceID, sensorID string, value float64) error
}

// Options holds the driver's dependencies.
type Options struct {
	// Registry supplies twin snapshots and simulation settings. Required.
	Registry *twin.Registry

	// Writer receives one write per sensor per tick. Required.
	Writer Writer

	// Logger is an optional structured logger.
	Logger Logger
}

// Driver animates simulated twins: one goroutine per driven twin ticks
// at the twin's update interval and writes noisy sensor readings
// through the Writer.
//
// A driven twin that is removed from the registry, or whose simulation
// flag is switched off, stops itself on its next tick. Stopping is
// otherwise explicit via StopTwin or Close.
//
// Thread Safety: all methods are safe for concurrent use.
type Driver struct {
	registry *twin.Registry
	writer   Writer

	mu      sync.Mutex
	running map[string]chan struct{}
	closed  bool

	ctx       context.Context
	ctxCancel context.CancelFunc
	wg        sync.WaitGroup

	logger   Logger
	loggerMu sync.RWMutex

	// noise yields values in [-1, 1); swappable for tests.
	noise func() float64

	ticks    atomic.Uint64
	writes   atomic.Uint64
	rejected atomic.Uint64
}

// Stats holds driver counters.
type Stats struct {
	// Ticks is the number of simulation ticks across all driven twins.
	Ticks uint64

	// Writes is the number of committed sensor writes.
	Writes uint64

	// Rejected is the number of writes the validator refused.
	Rejected uint64
}

// New creates a simulation driver. Call StartTwin (or StartAll) to
// begin driving.
func New(opts Options) (*Driver, error) {
	if opts.Registry == nil {
		return nil, fmt.Errorf("twin registry is required")
	}
	if opts.Writer == nil {
		return nil, fmt.Errorf("writer is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = noopLogger{}
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Driver{
		registry:  opts.Registry,
		writer:    opts.Writer,
		running:   make(map[string]chan struct{}),
		ctx:       ctx,
		ctxCancel: cancel,
		logger:    logger,
		noise:     func() float64 { return rand.Float64()*2 - 1 },
	}, nil
}

// SetLogger sets the logger for driver operations.
func (d *Driver) SetLogger(logger Logger) {
	d.loggerMu.Lock()
	defer d.loggerMu.Unlock()
	if logger != nil {
		d.logger = logger
	}
}

func (d *Driver) log() Logger {
	d.loggerMu.RLock()
	defer d.loggerMu.RUnlock()
	return d.logger
}

// StartTwin begins driving a simulated twin at its configured update
// interval. Starting an already driven twin is a no-op. Fails with
// twin.ErrTwinNotFound for unknown devices and ErrNotSimulated for
// physical ones.
func (d *Driver) StartTwin(deviceID string) error {
	tw, err := d.registry.Get(deviceID)
	if err != nil {
		return err
	}
	if !tw.Simulation.Simulated {
		return fmt.Errorf("%w: %s", ErrNotSimulated, deviceID)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrDriverClosed
	}
	if _, ok := d.running[deviceID]; ok {
		return nil
	}

	stop := make(chan struct{})
	d.running[deviceID] = stop
	d.wg.Add(1)
	go d.drive(deviceID, tw.Simulation.UpdateInterval(), stop)

	d.log().Info("simulation started",
		"device_id", deviceID,
		"interval", tw.Simulation.UpdateInterval(),
		"noise_level", tw.Simulation.NoiseLevel,
		"emulate_physics", tw.Simulation.EmulatePhysics,
	)
	return nil
}

// StartAll starts every simulated twin in the registry and returns how
// many it started.
func (d *Driver) StartAll() int {
	started := 0
	for _, tw := range d.registry.List() {
		if !tw.Simulation.Simulated {
			continue
		}
		if err := d.StartTwin(tw.DeviceID); err == nil {
			started++
		}
	}
	return started
}

// StopTwin stops driving a twin. Unknown or undriven ids are a no-op.
func (d *Driver) StopTwin(deviceID string) {
	d.mu.Lock()
	stop, ok := d.running[deviceID]
	if ok {
		delete(d.running, deviceID)
	}
	d.mu.Unlock()
	if ok {
		close(stop)
	}
}

// Running returns the driven device ids, sorted.
func (d *Driver) Running() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	ids := make([]string, 0, len(d.running))
	for id := range d.running {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// drive is one twin's tick loop.
func (d *Driver) drive(deviceID string, interval time.Duration, stop chan struct{}) {
	defer d.wg.Done()
	defer d.forget(deviceID, stop)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			if !d.tick(deviceID) {
				d.log().Debug("simulation self-stopped", "device_id", deviceID)
				return
			}
		}
	}
}

// forget clears the twin's running entry unless StopTwin already
// replaced it.
func (d *Driver) forget(deviceID string, stop chan struct{}) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running[deviceID] == stop {
		delete(d.running, deviceID)
	}
}

// tick writes one noisy reading per sensor. Returns false when the twin
// is gone or no longer simulated, which ends the loop.
func (d *Driver) tick(deviceID string) bool {
	tw, err := d.registry.Get(deviceID)
	if err != nil || !tw.Simulation.Simulated {
		return false
	}
	d.ticks.Add(1)

	ids := make([]string, 0, len(tw.Sensors))
	for id := range tw.Sensors {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		next := nextReading(tw.Sensors[id], tw.Simulation, d.noise)
		if err := d.writer.UpdateSensorValue(d.ctx, deviceID, id, next); err != nil {
			d.rejected.Add(1)
			d.log().Warn("simulated reading rejected",
				"device_id", deviceID, "sensor_id", id, "error", err)
			continue
		}
		d.writes.Add(1)
	}
	return true
}

// nextReading computes a sensor's next simulated value: optional
// relaxation toward the baseline, then configured noise, clamped into
// the declared range.
func nextReading(sensor *twin.SensorState, settings twin.SimulationSettings, noise func() float64) float64 {
	value := sensor.Value

	if settings.EmulatePhysics {
		value += (baseline(sensor) - value) * relaxationRate
	}

	span := sensor.Max - sensor.Min
	if span <= 0 {
		span = math.Max(math.Abs(value), 1)
	}
	value += noise() * settings.NoiseLevel * span

	if sensor.Max > sensor.Min {
		value = math.Min(math.Max(value, sensor.Min), sensor.Max)
	}
	return value
}

// baseline is the resting point readings relax toward: the declared
// range midpoint, or the current value when no range is declared.
func baseline(sensor *twin.SensorState) float64 {
	if sensor.Max > sensor.Min {
		return (sensor.Min + sensor.Max) / 2
	}
	return sensor.Value
}

// Stats returns current driver counters.
func (d *Driver) Stats() Stats {
	return Stats{
		Ticks:    d.ticks.Load(),
		Writes:   d.writes.Load(),
		Rejected: d.rejected.Load(),
	}
}

// Close stops every driven twin and waits for their loops to exit.
// Idempotent.
func (d *Driver) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		d.wg.Wait()
		return
	}
	d.closed = true
	running := d.running
	d.running = make(map[string]chan struct{})
	d.mu.Unlock()

	d.ctxCancel()
	for _, stop := range running {
		close(stop)
	}
	d.wg.Wait()
}
