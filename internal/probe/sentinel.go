package probe

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Sentinel identifies a recognised response line prefix on the channel.
// Everything the device prints that does not start with one of these is
// ignored (user program output, tracebacks, REPL echo).
type Sentinel string

// Recognised sentinels.
const (
	SentinelDeviceState        Sentinel = "DEVICE_STATE"
	SentinelBoardAttrs         Sentinel = "BOARD_ATTRS"
	SentinelPinCapabilities    Sentinel = "PIN_CAPABILITIES"
	SentinelBusDetection       Sentinel = "BUS_DETECTION"
	SentinelComponentDetection Sentinel = "COMPONENT_DETECTION"
	SentinelGPIOConfirm        Sentinel = "GPIO_CONFIRM"
	SentinelGPIOError          Sentinel = "GPIO_ERROR"
)

// AllSentinels returns all recognised sentinels.
func AllSentinels() []Sentinel {
	return []Sentinel{
		SentinelDeviceState,
		SentinelBoardAttrs,
		SentinelPinCapabilities,
		SentinelBusDetection,
		SentinelComponentDetection,
		SentinelGPIOConfirm,
		SentinelGPIOError,
	}
}

// validSentinels is built once at init for O(1) recognition.
var validSentinels map[Sentinel]bool

func init() {
	validSentinels = make(map[Sentinel]bool)
	for _, s := range AllSentinels() {
		validSentinels[s] = true
	}
}

// ParseLine splits a channel line into sentinel and payload.
//
// The payload is everything after the first colon, unmodified. Returns
// ok=false for lines that carry no recognised sentinel; those are not
// errors, just noise on the channel.
func ParseLine(text string) (Sentinel, string, bool) {
	prefix, payload, found := strings.Cut(text, ":")
	if !found {
		return "", "", false
	}

	s := Sentinel(prefix)
	if !validSentinels[s] {
		return "", "", false
	}

	return s, payload, true
}

// DeviceState is the payload of a DEVICE_STATE line: one snapshot of the
// hardware's pins and sensors, timestamped by the device's own clock.
type DeviceState struct {
	// Pins maps pin number (as a string, the device serialises dict keys)
	// to the pin's observed state.
	Pins map[string]PinReading `json:"pins"`

	// Sensors maps sensor id to its latest reading.
	Sensors map[string]float64 `json:"sensors"`

	// Timestamp is the device's monotonic clock in milliseconds.
	Timestamp int64 `json:"timestamp"`
}

// PinReading is one pin's entry in a device-state snapshot.
type PinReading struct {
	// Value is the observed value: bool for digital pins, number for
	// analog and PWM pins.
	Value any `json:"value"`

	// Mode is the pin's direction ("input" or "output"), when reported.
	Mode string `json:"mode,omitempty"`
}

// DecodeDeviceState parses a DEVICE_STATE payload.
func DecodeDeviceState(payload string) (DeviceState, error) {
	var state DeviceState
	if err := json.Unmarshal([]byte(payload), &state); err != nil {
		return DeviceState{}, fmt.Errorf("%w: device state: %w", ErrParseFailed, err)
	}
	return state, nil
}

// DecodeBoardAttrs parses a BOARD_ATTRS payload: the board module's
// public attribute names (pin names plus aliases such as LED, SDA, SCL).
func DecodeBoardAttrs(payload string) ([]string, error) {
	var attrs []string
	if err := json.Unmarshal([]byte(payload), &attrs); err != nil {
		return nil, fmt.Errorf("%w: board attrs: %w", ErrParseFailed, err)
	}
	return attrs, nil
}

// PinProbe is one pin's entry in a PIN_CAPABILITIES payload.
type PinProbe struct {
	// Pin is the pin number.
	Pin int `json:"pin"`

	// Capabilities lists the operations the probe verified on this pin.
	Capabilities []string `json:"caps"`

	// Voltage is the pin's operating voltage, when the board reports it.
	Voltage float64 `json:"voltage,omitempty"`
}

// DecodePinCapabilities parses a PIN_CAPABILITIES payload: a map from
// pin name to probed capabilities.
func DecodePinCapabilities(payload string) (map[string]PinProbe, error) {
	var caps map[string]PinProbe
	if err := json.Unmarshal([]byte(payload), &caps); err != nil {
		return nil, fmt.Errorf("%w: pin capabilities: %w", ErrParseFailed, err)
	}
	return caps, nil
}

// BusDetection is the payload of a BUS_DETECTION line. Absent buses are
// nil; the device only reports what it could actually construct.
type BusDetection struct {
	I2C  *I2CDetection  `json:"i2c,omitempty"`
	SPI  *SPIDetection  `json:"spi,omitempty"`
	UART *UARTDetection `json:"uart,omitempty"`
}

// I2CDetection reports a working I2C bus and any devices found on it.
type I2CDetection struct {
	SCL int `json:"scl"`
	SDA int `json:"sda"`

	// Devices lists the 7-bit addresses that acknowledged a scan.
	Devices []int `json:"devices,omitempty"`
}

// SPIDetection reports a working SPI bus.
type SPIDetection struct {
	SCK  int `json:"sck"`
	MOSI int `json:"mosi"`
	MISO int `json:"miso"`
}

// UARTDetection reports a working UART.
type UARTDetection struct {
	TX int `json:"tx"`
	RX int `json:"rx"`
}

// DecodeBusDetection parses a BUS_DETECTION payload.
func DecodeBusDetection(payload string) (BusDetection, error) {
	var buses BusDetection
	if err := json.Unmarshal([]byte(payload), &buses); err != nil {
		return BusDetection{}, fmt.Errorf("%w: bus detection: %w", ErrParseFailed, err)
	}
	return buses, nil
}

// ComponentDetection is the payload of a COMPONENT_DETECTION line:
// built-in sensors and actuators the device recognised by name pattern.
type ComponentDetection struct {
	Sensors   []DetectedSensor   `json:"sensors,omitempty"`
	Actuators []DetectedActuator `json:"actuators,omitempty"`
}

// DetectedSensor is one sensor found during component detection.
type DetectedSensor struct {
	ID       string  `json:"id"`
	Name     string  `json:"name,omitempty"`
	Type     string  `json:"type"`
	Unit     string  `json:"unit,omitempty"`
	Min      float64 `json:"min,omitempty"`
	Max      float64 `json:"max,omitempty"`
	Accuracy float64 `json:"accuracy,omitempty"`
	Pin      *int    `json:"pin,omitempty"`
}

// DetectedActuator is one actuator found during component detection.
type DetectedActuator struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
	Type string `json:"type"`
	Pin  int    `json:"pin"`
}

// DecodeComponentDetection parses a COMPONENT_DETECTION payload.
func DecodeComponentDetection(payload string) (ComponentDetection, error) {
	var components ComponentDetection
	if err := json.Unmarshal([]byte(payload), &components); err != nil {
		return ComponentDetection{}, fmt.Errorf("%w: component detection: %w", ErrParseFailed, err)
	}
	return components, nil
}

// DecodeGPIOConfirm parses a GPIO_CONFIRM payload into the read-back
// value. The device prints the value as JSON, so booleans and numbers
// come back typed ("true" → bool, "512" → float64).
func DecodeGPIOConfirm(payload string) (any, error) {
	var value any
	if err := json.Unmarshal([]byte(strings.TrimSpace(payload)), &value); err != nil {
		return nil, fmt.Errorf("%w: gpio confirm: %w", ErrParseFailed, err)
	}
	return value, nil
}
