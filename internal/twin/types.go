package twin

import (
	"time"

	"github.com/nerrad567/twincore/internal/board"
)

// Twin is the in-memory mirror of one connected (or simulated) device.
//
// Every key in Pins, Buses, Sensors and Actuators exists in the template
// the twin was materialised from; state never outgrows its template. Twin
// state is mutated only by the sync engine (physical source) and the
// write validator (virtual source, after confirmation) — everyone else
// works on copies.
type Twin struct {
	// DeviceID identifies the connected device instance.
	DeviceID string `json:"device_id"`

	// BoardID names the template this twin was built from.
	BoardID string `json:"board_id"`

	// DisplayName is the human-readable device name.
	DisplayName string `json:"display_name,omitempty"`

	// Connected reports whether the physical channel is attached. Always
	// false for purely simulated twins.
	Connected bool `json:"connected"`

	// LastSync is when the twin was last verified consistent with the
	// device: stamped by applied merges and by clean no-change polls.
	LastSync time.Time `json:"last_sync"`

	// Pins maps physical pin number to pin state.
	Pins map[int]*PinState `json:"pins"`

	// Buses maps bus id to bus state.
	Buses map[string]*BusState `json:"buses,omitempty"`

	// Sensors maps component id to sensor state.
	Sensors map[string]*SensorState `json:"sensors,omitempty"`

	// Actuators maps component id to actuator state.
	Actuators map[string]*ActuatorState `json:"actuators,omitempty"`

	// Board carries board-level feature state.
	Board BoardFeatureState `json:"board"`

	// Simulation holds the twin's simulation settings.
	Simulation SimulationSettings `json:"simulation"`
}

// PinType selects which variant a pin state currently carries.
type PinType string

// Pin state variants.
const (
	PinDigital PinType = "digital"
	PinAnalog  PinType = "analog"
	PinPWM     PinType = "pwm"
)

// PinMode is a digital pin's direction.
type PinMode string

// Digital pin modes.
const (
	ModeInput  PinMode = "input"
	ModeOutput PinMode = "output"
)

// PullMode is a digital input's pull resistor configuration.
type PullMode string

// Pull configurations.
const (
	PullNone PullMode = "none"
	PullUp   PullMode = "up"
	PullDown PullMode = "down"
)

// DriveMode is a digital output's drive configuration.
type DriveMode string

// Drive configurations.
const (
	DrivePushPull  DriveMode = "push_pull"
	DriveOpenDrain DriveMode = "open_drain"
)

// PinState is one physical pin's live state.
//
// The shared fields come from the template; Type selects exactly one of
// the Digital/Analog/PWM variants, which is the only one non-nil. A pin
// that supports several electrical roles still has one state: hardware
// pins are in one mode at a time.
type PinState struct {
	Pin          int                   `json:"pin"`
	Name         string                `json:"name"`
	Aliases      []string              `json:"aliases,omitempty"`
	Capabilities []board.PinCapability `json:"capabilities"`

	// Reserved pins appear in the twin but reject virtual writes.
	Reserved bool `json:"reserved,omitempty"`

	// Voltage is the pin's operating voltage in volts.
	Voltage float64 `json:"voltage,omitempty"`

	// LastChanged is when this pin's state last mutated.
	LastChanged time.Time `json:"last_changed"`

	// Type selects the active variant.
	Type PinType `json:"type"`

	Digital *DigitalPinState `json:"digital,omitempty"`
	Analog  *AnalogPinState  `json:"analog,omitempty"`
	PWM     *PWMPinState     `json:"pwm,omitempty"`
}

// DigitalPinState is the digital variant.
type DigitalPinState struct {
	Mode  PinMode   `json:"mode"`
	Value bool      `json:"value"`
	Pull  PullMode  `json:"pull,omitempty"`
	Drive DriveMode `json:"drive,omitempty"`
}

// AnalogPinState is the analog variant. Values are raw ADC/DAC counts.
type AnalogPinState struct {
	Value            int     `json:"value"`
	Resolution       int     `json:"resolution"`
	ReferenceVoltage float64 `json:"reference_voltage,omitempty"`
}

// PWMPinState is the PWM variant.
type PWMPinState struct {
	// DutyCycle is the fraction of the period the output is high (0..1).
	DutyCycle   float64 `json:"duty_cycle"`
	FrequencyHz int     `json:"frequency_hz"`
	Active      bool    `json:"active"`
}

// HasCapability reports whether the pin supports an operation.
func (p *PinState) HasCapability(c board.PinCapability) bool {
	for _, have := range p.Capabilities {
		if have == c {
			return true
		}
	}
	return false
}

// BusKind classifies a bus state entry.
type BusKind string

// Bus kinds.
const (
	BusI2C  BusKind = "i2c"
	BusSPI  BusKind = "spi"
	BusUART BusKind = "uart"
)

// BusState is one bus's live state.
type BusState struct {
	ID   string  `json:"id"`
	Kind BusKind `json:"kind"`

	// Active reports whether user code currently holds the bus.
	Active bool `json:"active"`

	// FrequencyHz is the configured clock (i2c/spi) or baud rate (uart).
	FrequencyHz int `json:"frequency_hz,omitempty"`

	// Devices lists addresses seen on the bus (i2c scan results).
	Devices []int `json:"devices,omitempty"`
}

// SensorState is one built-in sensor's live state. Type-specific payload
// beyond the base reading travels in Extra.
type SensorState struct {
	ID       string           `json:"id"`
	Name     string           `json:"name,omitempty"`
	Type     board.SensorType `json:"type"`
	Unit     string           `json:"unit,omitempty"`
	Min      float64          `json:"min,omitempty"`
	Max      float64          `json:"max,omitempty"`
	Accuracy float64          `json:"accuracy,omitempty"`

	Active      bool      `json:"active"`
	Value       float64   `json:"value"`
	LastReading time.Time `json:"last_reading"`

	Extra map[string]any `json:"extra,omitempty"`
}

// ActuatorState is one built-in actuator's live state.
type ActuatorState struct {
	ID   string             `json:"id"`
	Name string             `json:"name,omitempty"`
	Type board.ActuatorType `json:"type"`
	Pin  int                `json:"pin"`

	Active     bool      `json:"active"`
	On         bool      `json:"on"`
	Level      float64   `json:"level,omitempty"`
	LastUpdate time.Time `json:"last_update"`

	Extra map[string]any `json:"extra,omitempty"`
}

// BoardFeatureState carries board-level state outside the pin map.
type BoardFeatureState struct {
	Buttons            map[string]bool `json:"buttons,omitempty"`
	SupplyVoltage      float64         `json:"supply_voltage,omitempty"`
	FreeMemoryBytes    int64           `json:"free_memory_bytes,omitempty"`
	FilesystemReadOnly bool            `json:"filesystem_read_only,omitempty"`
}

// Simulation defaults.
const (
	// DefaultUpdateIntervalMs is how often a simulated twin's driver ticks.
	DefaultUpdateIntervalMs = 100

	// DefaultNoiseLevel is the default simulated sensor noise (1%).
	DefaultNoiseLevel = 0.01
)

// SimulationSettings configures a twin's simulated behaviour.
type SimulationSettings struct {
	// Simulated short-circuits physical validation: writes commit
	// immediately and the poller skips this twin.
	Simulated bool `json:"simulated"`

	// UpdateIntervalMs is the simulation driver's tick interval.
	UpdateIntervalMs int `json:"update_interval_ms"`

	// NoiseLevel is the relative noise applied to simulated sensor
	// readings (0.01 = 1%).
	NoiseLevel float64 `json:"noise_level"`

	// EmulatePhysics relaxes simulated readings toward their baseline
	// instead of letting noise walk them away.
	EmulatePhysics bool `json:"emulate_physics"`
}

// DefaultSimulationSettings returns the factory defaults: a non-simulated
// twin with a 100 ms update interval and 1% noise.
func DefaultSimulationSettings() SimulationSettings {
	return SimulationSettings{
		Simulated:        false,
		UpdateIntervalMs: DefaultUpdateIntervalMs,
		NoiseLevel:       DefaultNoiseLevel,
	}
}

// UpdateInterval returns the tick interval as a duration.
func (s SimulationSettings) UpdateInterval() time.Duration {
	ms := s.UpdateIntervalMs
	if ms <= 0 {
		ms = DefaultUpdateIntervalMs
	}
	return time.Duration(ms) * time.Millisecond
}

// DeepCopy creates a completely independent copy of the twin.
func (t *Twin) DeepCopy() *Twin {
	if t == nil {
		return nil
	}

	clone := *t

	if t.Pins != nil {
		clone.Pins = make(map[int]*PinState, len(t.Pins))
		for n, p := range t.Pins {
			clone.Pins[n] = p.deepCopy()
		}
	}

	if t.Buses != nil {
		clone.Buses = make(map[string]*BusState, len(t.Buses))
		for id, b := range t.Buses {
			cb := *b
			cb.Devices = append([]int(nil), b.Devices...)
			clone.Buses[id] = &cb
		}
	}

	if t.Sensors != nil {
		clone.Sensors = make(map[string]*SensorState, len(t.Sensors))
		for id, s := range t.Sensors {
			cs := *s
			cs.Extra = copyExtra(s.Extra)
			clone.Sensors[id] = &cs
		}
	}

	if t.Actuators != nil {
		clone.Actuators = make(map[string]*ActuatorState, len(t.Actuators))
		for id, a := range t.Actuators {
			ca := *a
			ca.Extra = copyExtra(a.Extra)
			clone.Actuators[id] = &ca
		}
	}

	if t.Board.Buttons != nil {
		buttons := make(map[string]bool, len(t.Board.Buttons))
		for k, v := range t.Board.Buttons {
			buttons[k] = v
		}
		clone.Board.Buttons = buttons
	}

	return &clone
}

func (p *PinState) deepCopy() *PinState {
	cp := *p
	cp.Aliases = append([]string(nil), p.Aliases...)
	cp.Capabilities = append([]board.PinCapability(nil), p.Capabilities...)
	if p.Digital != nil {
		d := *p.Digital
		cp.Digital = &d
	}
	if p.Analog != nil {
		a := *p.Analog
		cp.Analog = &a
	}
	if p.PWM != nil {
		w := *p.PWM
		cp.PWM = &w
	}
	return &cp
}

func copyExtra(extra map[string]any) map[string]any {
	if extra == nil {
		return nil
	}
	out := make(map[string]any, len(extra))
	for k, v := range extra {
		out[k] = v
	}
	return out
}
