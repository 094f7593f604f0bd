package bus

import (
	"time"

	"github.com/google/uuid"
)

// Kind classifies what part of a twin an event describes.
type Kind string

// Event kinds.
const (
	KindPinChanged      Kind = "pin_changed"
	KindSensorChanged   Kind = "sensor_changed"
	KindActuatorChanged Kind = "actuator_changed"
	KindConfigChanged   Kind = "config_changed"
)

// Source identifies what caused a state change.
type Source string

// Event sources.
const (
	// SourcePhysical marks changes observed on the hardware by a poll.
	SourcePhysical Source = "physical"

	// SourceVirtual marks confirmed virtual writes (validator-committed).
	SourceVirtual Source = "virtual"

	// SourceUser marks configuration changes made through the API.
	SourceUser Source = "user"
)

// Event is one immutable state-sync notification. Events are created
// through the New* constructors and never mutated after Emit.
type Event struct {
	// ID uniquely identifies this event instance.
	ID string `json:"id"`

	// Kind selects which payload variant is populated.
	Kind Kind `json:"kind"`

	// DeviceID names the twin this event belongs to.
	DeviceID string `json:"device_id"`

	// Source tags what caused the change.
	Source Source `json:"source"`

	// Timestamp is when the change was applied to the twin.
	Timestamp time.Time `json:"timestamp"`

	// Payload carries the kind-specific detail.
	Payload Payload `json:"payload"`
}

// Payload carries exactly one kind-specific variant, selected by the
// event's Kind.
type Payload struct {
	Pin      *PinChange      `json:"pin,omitempty"`
	Sensor   *SensorChange   `json:"sensor,omitempty"`
	Actuator *ActuatorChange `json:"actuator,omitempty"`
	Config   *ConfigChange   `json:"config,omitempty"`
}

// PinChange describes one mutated pin field. Field names which part of
// the pin state changed ("value", "mode", "duty_cycle"); Previous and
// Current carry that field's values (bool for a digital value, count
// for analog, string for mode, float for duty cycle).
type PinChange struct {
	Pin      int    `json:"pin"`
	Field    string `json:"field"`
	Previous any    `json:"previous"`
	Current  any    `json:"current"`
}

// SensorChange describes one mutated sensor reading.
type SensorChange struct {
	SensorID string  `json:"sensor_id"`
	Previous float64 `json:"previous"`
	Current  float64 `json:"current"`
}

// ActuatorChange describes one mutated actuator field.
type ActuatorChange struct {
	ActuatorID string `json:"actuator_id"`
	Field      string `json:"field"`
	Previous   any    `json:"previous"`
	Current    any    `json:"current"`
}

// ConfigChange describes one mutated twin setting (display name,
// simulation parameters, connectivity).
type ConfigChange struct {
	Field    string `json:"field"`
	Previous any    `json:"previous"`
	Current  any    `json:"current"`
}

// NewPinChanged builds a pin-changed event stamped now.
func NewPinChanged(deviceID string, source Source, change PinChange) Event {
	return Event{
		ID:        uuid.NewString(),
		Kind:      KindPinChanged,
		DeviceID:  deviceID,
		Source:    source,
		Timestamp: time.Now(),
		Payload:   Payload{Pin: &change},
	}
}

// NewSensorChanged builds a sensor-changed event stamped now.
func NewSensorChanged(deviceID string, source Source, change SensorChange) Event {
	return Event{
		ID:        uuid.NewString(),
		Kind:      KindSensorChanged,
		DeviceID:  deviceID,
		Source:    source,
		Timestamp: time.Now(),
		Payload:   Payload{Sensor: &change},
	}
}

// NewActuatorChanged builds an actuator-changed event stamped now.
func NewActuatorChanged(deviceID string, source Source, change ActuatorChange) Event {
	return Event{
		ID:        uuid.NewString(),
		Kind:      KindActuatorChanged,
		DeviceID:  deviceID,
		Source:    source,
		Timestamp: time.Now(),
		Payload:   Payload{Actuator: &change},
	}
}

// NewConfigChanged builds a config-changed event stamped now.
func NewConfigChanged(deviceID string, source Source, change ConfigChange) Event {
	return Event{
		ID:        uuid.NewString(),
		Kind:      KindConfigChanged,
		DeviceID:  deviceID,
		Source:    source,
		Timestamp: time.Now(),
		Payload:   Payload{Config: &change},
	}
}
