package reconcile

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/twincore/internal/board"
	"github.com/nerrad567/twincore/internal/bus"
	"github.com/nerrad567/twincore/internal/timeline"
	"github.com/nerrad567/twincore/internal/twin"
)

// ValidatorOptions holds the validator's dependencies.
type ValidatorOptions struct {
	// Registry is the twin registry commits are applied to. Required.
	Registry *twin.Registry

	// Bus receives one event per committed change. Required.
	Bus *bus.Bus

	// Attachments resolves device ids to their live probe. Required;
	// a device without an attachment cannot round-trip and fails
	// validation.
	Attachments *Attachments

	// Timeline records committed changes while a debug session is
	// active. Optional; nil disables recording.
	Timeline *timeline.Recorder

	// Logger is an optional structured logger.
	Logger Logger
}

// Validator gates virtual writes behind the hardware.
//
// A write to a physical twin is sent to the device as a one-shot
// write-and-read-back script; the twin commits only when the device
// confirms the exact requested value. The hardware is authoritative: a
// timeout, a GPIO_ERROR or a read-back mismatch rejects the write and
// leaves the twin untouched. Simulated twins skip the round-trip and
// commit immediately.
//
// Thread Safety: all methods are safe for concurrent use.
type Validator struct {
	registry    *twin.Registry
	bus         *bus.Bus
	attachments *Attachments
	timeline    *timeline.Recorder

	logger   Logger
	loggerMu sync.RWMutex

	accepted  atomic.Uint64
	rejected  atomic.Uint64
	simulated atomic.Uint64
}

// ValidatorStats holds validator counters.
type ValidatorStats struct {
	// Accepted is the number of committed writes, round-tripped or not.
	Accepted uint64

	// Rejected is the number of writes refused before or after the
	// round-trip.
	Rejected uint64

	// Simulated is the subset of accepted writes that committed without
	// channel traffic.
	Simulated uint64
}

// NewValidator creates a virtual write validator.
func NewValidator(opts ValidatorOptions) (*Validator, error) {
	if opts.Registry == nil {
		return nil, fmt.Errorf("twin registry is required")
	}
	if opts.Bus == nil {
		return nil, fmt.Errorf("event bus is required")
	}
	if opts.Attachments == nil {
		return nil, fmt.Errorf("attachment table is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = noopLogger{}
	}

	return &Validator{
		registry:    opts.Registry,
		bus:         opts.Bus,
		attachments: opts.Attachments,
		timeline:    opts.Timeline,
		logger:      logger,
	}, nil
}

// SetLogger sets the logger for validator operations.
func (v *Validator) SetLogger(logger Logger) {
	v.loggerMu.Lock()
	defer v.loggerMu.Unlock()
	if logger != nil {
		v.logger = logger
	}
}

func (v *Validator) log() Logger {
	v.loggerMu.RLock()
	defer v.loggerMu.RUnlock()
	return v.logger
}

// gpioWrite is one normalised pin mutation ready to round-trip and
// commit. Exactly one of the value fields is meaningful, selected by the
// pin's variant; hasValue is false for a mode-only change.
type gpioWrite struct {
	pin      int
	variant  twin.PinType
	hasValue bool
	digital  bool
	analog   int
	duty     float64
	mode     twin.PinMode
}

// wireValue returns the value literal sent to the device, nil for a
// mode-only change.
func (w gpioWrite) wireValue() any {
	if !w.hasValue {
		return nil
	}
	switch w.variant {
	case twin.PinDigital:
		return w.digital
	case twin.PinAnalog:
		return w.analog
	case twin.PinPWM:
		return w.duty
	default:
		return nil
	}
}

// UpdateGPIOState requests a virtual pin mutation. Value mutates the
// pin's variant value (bool for digital, count for analog, duty cycle
// for PWM); a nil value with a non-empty mode is a mode-only change.
//
// Physical twins round-trip through the device and commit only on an
// exact read-back match; failures return ErrValidationFailed with the
// twin unchanged. Simulated twins commit immediately. Unknown devices
// fail with twin.ErrTwinNotFound, writes that do not fit the pin's
// variant with ErrInvalidValue.
func (v *Validator) UpdateGPIOState(ctx context.Context, deviceID string, pin int, value any, mode string) error {
	snapshot, err := v.registry.Get(deviceID)
	if err != nil {
		return err
	}

	state, ok := snapshot.Pins[pin]
	if !ok {
		v.rejected.Add(1)
		return fmt.Errorf("%w: pin %d not declared by board %s", ErrValidationFailed, pin, snapshot.BoardID)
	}

	write, err := normaliseWrite(state, value, mode)
	if err != nil {
		v.rejected.Add(1)
		return err
	}

	if snapshot.Simulation.Simulated {
		if err := v.commitGPIO(deviceID, write); err != nil {
			return err
		}
		v.simulated.Add(1)
		v.log().Debug("virtual write committed without round-trip",
			"device_id", deviceID, "pin", pin)
		return nil
	}

	probe, attached := v.attachments.Probe(deviceID)
	if !attached {
		v.rejected.Add(1)
		return fmt.Errorf("%w: device %s has no attached channel", ErrValidationFailed, deviceID)
	}

	confirmed, err := probe.WriteGPIO(ctx, pin, write.wireValue(), string(write.mode))
	if err != nil {
		v.rejected.Add(1)
		v.log().Warn("virtual write not confirmed",
			"device_id", deviceID, "pin", pin, "error", err)
		return fmt.Errorf("%w: %v", ErrValidationFailed, err)
	}

	if !confirmMatches(write, confirmed) {
		v.rejected.Add(1)
		v.log().Warn("virtual write read-back mismatch",
			"device_id", deviceID, "pin", pin,
			"requested", write.wireValue(), "confirmed", confirmed)
		return fmt.Errorf("%w: device read back %v", ErrValidationFailed, confirmed)
	}

	return v.commitGPIO(deviceID, write)
}

// normaliseWrite validates a requested mutation against the pin's
// variant and capability set and returns the normalised write.
func normaliseWrite(state *twin.PinState, value any, mode string) (gpioWrite, error) {
	write := gpioWrite{pin: state.Pin, variant: state.Type}

	if value == nil && mode == "" {
		return gpioWrite{}, fmt.Errorf("%w: no mutation requested for pin %d", ErrInvalidValue, state.Pin)
	}
	if state.Reserved {
		return gpioWrite{}, fmt.Errorf("%w: pin %d is reserved", ErrValidationFailed, state.Pin)
	}

	if mode != "" {
		if state.Type != twin.PinDigital {
			return gpioWrite{}, fmt.Errorf("%w: mode %q on non-digital pin %d", ErrInvalidValue, mode, state.Pin)
		}
		switch m := twin.PinMode(mode); m {
		case twin.ModeInput, twin.ModeOutput:
			write.mode = m
		default:
			return gpioWrite{}, fmt.Errorf("%w: unknown pin mode %q", ErrInvalidValue, mode)
		}
	}

	if value != nil {
		switch state.Type {
		case twin.PinDigital:
			level, ok := digitalValue(value)
			if !ok {
				return gpioWrite{}, fmt.Errorf("%w: %T for digital pin %d", ErrInvalidValue, value, state.Pin)
			}
			write.hasValue = true
			write.digital = level

		case twin.PinAnalog:
			number, ok := numericValue(value)
			if !ok {
				return gpioWrite{}, fmt.Errorf("%w: %T for analog pin %d", ErrInvalidValue, value, state.Pin)
			}
			count := int(math.Round(number))
			if res := state.Analog.Resolution; res > 0 {
				if limit := (1 << res) - 1; count < 0 || count > limit {
					return gpioWrite{}, fmt.Errorf("%w: count %d outside 0..%d for pin %d", ErrInvalidValue, count, limit, state.Pin)
				}
			}
			write.hasValue = true
			write.analog = count

		case twin.PinPWM:
			duty, ok := numericValue(value)
			if !ok {
				return gpioWrite{}, fmt.Errorf("%w: %T for pwm pin %d", ErrInvalidValue, value, state.Pin)
			}
			if duty < 0 || duty > 1 {
				return gpioWrite{}, fmt.Errorf("%w: duty cycle %v outside 0..1 for pin %d", ErrInvalidValue, duty, state.Pin)
			}
			write.hasValue = true
			write.duty = duty

		default:
			return gpioWrite{}, fmt.Errorf("%w: pin %d has no writable variant", ErrInvalidValue, state.Pin)
		}
	}

	if err := checkWriteCapability(state, write); err != nil {
		return gpioWrite{}, err
	}
	return write, nil
}

// checkWriteCapability enforces the pin's declared capability set.
func checkWriteCapability(state *twin.PinState, write gpioWrite) error {
	requires := func(c board.PinCapability) error {
		if !state.HasCapability(c) {
			return fmt.Errorf("%w: pin %d lacks %s capability", ErrValidationFailed, state.Pin, c)
		}
		return nil
	}

	if write.hasValue {
		switch write.variant {
		case twin.PinDigital:
			if err := requires(board.CapDigitalWrite); err != nil {
				return err
			}
		case twin.PinAnalog:
			if err := requires(board.CapAnalogWrite); err != nil {
				return err
			}
		case twin.PinPWM:
			if err := requires(board.CapPWM); err != nil {
				return err
			}
		}
	}

	switch write.mode {
	case twin.ModeOutput:
		return requires(board.CapDigitalWrite)
	case twin.ModeInput:
		return requires(board.CapDigitalRead)
	}
	return nil
}

// confirmMatches reports whether the device's read-back carries the
// exact requested value. For a mode-only change the device echoes the
// active mode instead of a level.
func confirmMatches(write gpioWrite, confirmed any) bool {
	if !write.hasValue {
		echo, ok := confirmed.(string)
		return ok && twin.PinMode(echo) == write.mode
	}

	switch write.variant {
	case twin.PinDigital:
		level, ok := digitalValue(confirmed)
		return ok && level == write.digital
	case twin.PinAnalog:
		number, ok := numericValue(confirmed)
		return ok && int(math.Round(number)) == write.analog
	case twin.PinPWM:
		duty, ok := numericValue(confirmed)
		return ok && duty == write.duty
	default:
		return false
	}
}

// commitGPIO applies a confirmed write to the twin and emits one
// virtual-sourced event per mutated field. A write confirming the value
// the twin already holds commits cleanly with zero events.
func (v *Validator) commitGPIO(deviceID string, write gpioWrite) error {
	var events []bus.Event

	err := v.registry.Mutate(deviceID, func(t *twin.Twin) error {
		state, ok := t.Pins[write.pin]
		if !ok {
			return fmt.Errorf("%w: pin %d not declared by board %s", ErrValidationFailed, write.pin, t.BoardID)
		}
		now := time.Now()

		if write.mode != "" && state.Digital != nil && state.Digital.Mode != write.mode {
			prev := state.Digital.Mode
			state.Digital.Mode = write.mode
			state.LastChanged = now
			events = append(events, bus.NewPinChanged(deviceID, bus.SourceVirtual, bus.PinChange{
				Pin: write.pin, Field: "mode", Previous: string(prev), Current: string(write.mode),
			}))
		}

		if !write.hasValue {
			return nil
		}

		switch write.variant {
		case twin.PinDigital:
			if state.Digital.Value != write.digital {
				prev := state.Digital.Value
				state.Digital.Value = write.digital
				state.LastChanged = now
				events = append(events, bus.NewPinChanged(deviceID, bus.SourceVirtual, bus.PinChange{
					Pin: write.pin, Field: "value", Previous: prev, Current: write.digital,
				}))
			}
		case twin.PinAnalog:
			if state.Analog.Value != write.analog {
				prev := state.Analog.Value
				state.Analog.Value = write.analog
				state.LastChanged = now
				events = append(events, bus.NewPinChanged(deviceID, bus.SourceVirtual, bus.PinChange{
					Pin: write.pin, Field: "value", Previous: prev, Current: write.analog,
				}))
			}
		case twin.PinPWM:
			if state.PWM.DutyCycle != write.duty {
				prev := state.PWM.DutyCycle
				state.PWM.DutyCycle = write.duty
				state.PWM.Active = write.duty > 0
				state.LastChanged = now
				events = append(events, bus.NewPinChanged(deviceID, bus.SourceVirtual, bus.PinChange{
					Pin: write.pin, Field: "duty_cycle", Previous: prev, Current: write.duty,
				}))
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	v.accepted.Add(1)
	for _, ev := range events {
		v.bus.Emit(ev)
	}
	recordToTimeline(v.timeline, events)

	if len(events) > 0 {
		v.log().Debug("virtual write committed",
			"device_id", deviceID, "pin", write.pin, "changes", len(events))
	}
	return nil
}

// UpdateSensorValue overrides a sensor reading on a simulated twin.
//
// Sensor values originate from hardware, so an override is only
// meaningful in simulation; physical twins reject it with
// ErrValidationFailed and no channel traffic. Overrides bypass the
// significance filter: the requested value commits exactly, even inside
// the sensor's declared accuracy.
func (v *Validator) UpdateSensorValue(ctx context.Context, deviceID, sensorID string, value float64) error {
	_ = ctx // no channel traffic; kept for interface symmetry with GPIO writes

	snapshot, err := v.registry.Get(deviceID)
	if err != nil {
		return err
	}

	sensor, ok := snapshot.Sensors[sensorID]
	if !ok {
		v.rejected.Add(1)
		return fmt.Errorf("%w: sensor %s not declared by board %s", ErrValidationFailed, sensorID, snapshot.BoardID)
	}
	if !snapshot.Simulation.Simulated {
		v.rejected.Add(1)
		return fmt.Errorf("%w: sensor %s is hardware-backed; overrides need a simulated twin", ErrValidationFailed, sensorID)
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		v.rejected.Add(1)
		return fmt.Errorf("%w: sensor %s reading must be finite", ErrInvalidValue, sensorID)
	}
	if sensor.Min < sensor.Max && (value < sensor.Min || value > sensor.Max) {
		v.log().Debug("sensor override outside declared range",
			"device_id", deviceID, "sensor_id", sensorID,
			"value", value, "min", sensor.Min, "max", sensor.Max)
	}

	var events []bus.Event
	err = v.registry.Mutate(deviceID, func(t *twin.Twin) error {
		s, ok := t.Sensors[sensorID]
		if !ok {
			return fmt.Errorf("%w: sensor %s not declared by board %s", ErrValidationFailed, sensorID, t.BoardID)
		}
		now := time.Now()
		if s.Value != value {
			prev := s.Value
			s.Value = value
			s.LastReading = now
			s.Active = true
			events = append(events, bus.NewSensorChanged(deviceID, bus.SourceVirtual, bus.SensorChange{
				SensorID: sensorID, Previous: prev, Current: value,
			}))
		} else {
			s.LastReading = now
			s.Active = true
		}
		return nil
	})
	if err != nil {
		return err
	}

	v.accepted.Add(1)
	v.simulated.Add(1)
	for _, ev := range events {
		v.bus.Emit(ev)
	}
	recordToTimeline(v.timeline, events)
	return nil
}

// Stats returns current validator counters.
func (v *Validator) Stats() ValidatorStats {
	return ValidatorStats{
		Accepted:  v.accepted.Load(),
		Rejected:  v.rejected.Load(),
		Simulated: v.simulated.Load(),
	}
}
