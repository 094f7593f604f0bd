package board

import "time"

// Template describes the hardware contract for one board model: its pins,
// buses and built-in components. Templates are immutable once registered;
// twins are materialised from them and never outgrow them.
type Template struct {
	// BoardID uniquely identifies the board model (e.g. "pico-w", "generic").
	BoardID string `json:"board_id"`

	// DisplayName is the human-readable board name.
	DisplayName string `json:"display_name,omitempty"`

	// Pins lists every pin the board exposes, across all electrical roles.
	Pins []PinDefinition `json:"pins"`

	// Buses lists the board's communication buses.
	Buses BusDefinitions `json:"buses,omitempty"`

	// Sensors lists built-in sensors (temperature, light, etc.).
	Sensors []SensorDefinition `json:"sensors,omitempty"`

	// Actuators lists built-in actuators (LED, buzzer, etc.).
	Actuators []ActuatorDefinition `json:"actuators,omitempty"`

	// SupportedModules names the firmware modules the board provides
	// (e.g. "digitalio", "busio"). An empty list is legal but suspicious,
	// so registration flags it as a warning.
	SupportedModules []string `json:"supported_modules,omitempty"`
}

// PinDefinition describes a single pin within one electrical role.
// The same pin number may appear once per role (a pin that is digital 5
// and analog 5 is two definitions).
type PinDefinition struct {
	Number       int             `json:"number"`
	Name         string          `json:"name"`
	Aliases      []string        `json:"aliases,omitempty"`
	Role         PinRole         `json:"role"`
	Capabilities []PinCapability `json:"capabilities"`

	// Reserved marks pins claimed by the board itself (flash, debug, bus
	// lines). Reserved pins appear in twins but reject virtual writes.
	Reserved bool `json:"reserved,omitempty"`

	// Voltage is the pin's operating voltage in volts (typically 3.3 or 5).
	Voltage float64 `json:"voltage,omitempty"`
}

// BusDefinitions groups the board's communication buses by kind.
type BusDefinitions struct {
	I2C  []I2CBusDefinition  `json:"i2c,omitempty"`
	SPI  []SPIBusDefinition  `json:"spi,omitempty"`
	UART []UARTBusDefinition `json:"uart,omitempty"`
}

// I2CBusDefinition describes one I2C bus. SCL and SDA must differ.
type I2CBusDefinition struct {
	ID           string `json:"id"`
	SCLPin       int    `json:"scl_pin"`
	SDAPin       int    `json:"sda_pin"`
	MinFrequency int    `json:"min_frequency,omitempty"`
	MaxFrequency int    `json:"max_frequency,omitempty"`
}

// SPIBusDefinition describes one SPI bus. SCK, MOSI and MISO must be
// pairwise distinct.
type SPIBusDefinition struct {
	ID           string `json:"id"`
	SCKPin       int    `json:"sck_pin"`
	MOSIPin      int    `json:"mosi_pin"`
	MISOPin      int    `json:"miso_pin"`
	MaxFrequency int    `json:"max_frequency,omitempty"`
}

// UARTBusDefinition describes one UART. TX and RX must differ.
type UARTBusDefinition struct {
	ID      string `json:"id"`
	TXPin   int    `json:"tx_pin"`
	RXPin   int    `json:"rx_pin"`
	MaxBaud int    `json:"max_baud,omitempty"`
}

// SensorDefinition describes a built-in sensor.
type SensorDefinition struct {
	ID       string     `json:"id"`
	Name     string     `json:"name,omitempty"`
	Type     SensorType `json:"type"`
	Unit     string     `json:"unit,omitempty"`
	Min      float64    `json:"min,omitempty"`
	Max      float64    `json:"max,omitempty"`
	Accuracy float64    `json:"accuracy,omitempty"`

	// Pin is set when the sensor occupies a specific pin; nil for sensors
	// wired internally (die temperature, supply voltage).
	Pin *int `json:"pin,omitempty"`
}

// ActuatorDefinition describes a built-in actuator.
type ActuatorDefinition struct {
	ID   string       `json:"id"`
	Name string       `json:"name,omitempty"`
	Type ActuatorType `json:"type"`
	Pin  int          `json:"pin"`
}

// PinRole is the electrical role a pin definition belongs to.
type PinRole string

// Pin roles.
const (
	RoleDigital PinRole = "digital"
	RoleAnalog  PinRole = "analog"
	RolePWM     PinRole = "pwm"
)

// AllPinRoles returns all valid pin roles.
func AllPinRoles() []PinRole {
	return []PinRole{RoleDigital, RoleAnalog, RolePWM}
}

// PinCapability describes an operation a pin supports. Capability checks
// gate every twin mutation.
type PinCapability string

// Pin capabilities.
const (
	CapDigitalRead  PinCapability = "digital_read"
	CapDigitalWrite PinCapability = "digital_write"
	CapAnalogRead   PinCapability = "analog_read"
	CapAnalogWrite  PinCapability = "analog_write"
	CapPWM          PinCapability = "pwm"
	CapTouch        PinCapability = "touch"
	CapI2C          PinCapability = "i2c"
	CapSPI          PinCapability = "spi"
	CapUART         PinCapability = "uart"
)

// AllPinCapabilities returns all valid pin capabilities.
func AllPinCapabilities() []PinCapability {
	return []PinCapability{
		CapDigitalRead, CapDigitalWrite,
		CapAnalogRead, CapAnalogWrite,
		CapPWM, CapTouch,
		CapI2C, CapSPI, CapUART,
	}
}

// SensorType classifies built-in sensors.
type SensorType string

// Sensor types.
const (
	SensorTemperature  SensorType = "temperature"
	SensorHumidity     SensorType = "humidity"
	SensorLight        SensorType = "light"
	SensorAcceleration SensorType = "acceleration"
	SensorVoltage      SensorType = "voltage"
	SensorTouch        SensorType = "touch"
)

// AllSensorTypes returns all valid sensor types.
func AllSensorTypes() []SensorType {
	return []SensorType{
		SensorTemperature, SensorHumidity, SensorLight,
		SensorAcceleration, SensorVoltage, SensorTouch,
	}
}

// ActuatorType classifies built-in actuators.
type ActuatorType string

// Actuator types.
const (
	ActuatorLED      ActuatorType = "led"
	ActuatorNeoPixel ActuatorType = "neopixel"
	ActuatorServo    ActuatorType = "servo"
	ActuatorBuzzer   ActuatorType = "buzzer"
	ActuatorRelay    ActuatorType = "relay"
)

// AllActuatorTypes returns all valid actuator types.
func AllActuatorTypes() []ActuatorType {
	return []ActuatorType{
		ActuatorLED, ActuatorNeoPixel, ActuatorServo,
		ActuatorBuzzer, ActuatorRelay,
	}
}

// DeepCopy creates a completely independent copy of the template.
// The store hands out copies so callers can never mutate registered
// templates behind its back.
func (t *Template) DeepCopy() *Template {
	if t == nil {
		return nil
	}

	clone := &Template{
		BoardID:     t.BoardID,
		DisplayName: t.DisplayName,
	}

	if t.Pins != nil {
		clone.Pins = make([]PinDefinition, len(t.Pins))
		for i, p := range t.Pins {
			cp := p
			if p.Aliases != nil {
				cp.Aliases = append([]string(nil), p.Aliases...)
			}
			if p.Capabilities != nil {
				cp.Capabilities = append([]PinCapability(nil), p.Capabilities...)
			}
			clone.Pins[i] = cp
		}
	}

	clone.Buses.I2C = append([]I2CBusDefinition(nil), t.Buses.I2C...)
	clone.Buses.SPI = append([]SPIBusDefinition(nil), t.Buses.SPI...)
	clone.Buses.UART = append([]UARTBusDefinition(nil), t.Buses.UART...)

	if t.Sensors != nil {
		clone.Sensors = make([]SensorDefinition, len(t.Sensors))
		for i, s := range t.Sensors {
			cs := s
			if s.Pin != nil {
				pin := *s.Pin
				cs.Pin = &pin
			}
			clone.Sensors[i] = cs
		}
	}

	clone.Actuators = append([]ActuatorDefinition(nil), t.Actuators...)
	clone.SupportedModules = append([]string(nil), t.SupportedModules...)

	return clone
}

// Pin returns the pin definition for the given role and number.
func (t *Template) Pin(role PinRole, number int) (*PinDefinition, bool) {
	for i := range t.Pins {
		if t.Pins[i].Role == role && t.Pins[i].Number == number {
			return &t.Pins[i], true
		}
	}
	return nil, false
}

// FindPin locates a pin by name or alias, across all roles.
func (t *Template) FindPin(name string) (*PinDefinition, bool) {
	for i := range t.Pins {
		if t.Pins[i].Name == name {
			return &t.Pins[i], true
		}
		for _, alias := range t.Pins[i].Aliases {
			if alias == name {
				return &t.Pins[i], true
			}
		}
	}
	return nil, false
}

// PinsByRole returns the template's pin definitions for one role,
// in declaration order.
func (t *Template) PinsByRole(role PinRole) []PinDefinition {
	var pins []PinDefinition
	for _, p := range t.Pins {
		if p.Role == role {
			pins = append(pins, p)
		}
	}
	return pins
}

// BusCount returns the total number of buses across all kinds.
func (t *Template) BusCount() int {
	return len(t.Buses.I2C) + len(t.Buses.SPI) + len(t.Buses.UART)
}

// ComponentCount returns the total number of built-in components.
func (t *Template) ComponentCount() int {
	return len(t.Sensors) + len(t.Actuators)
}

// Summary condenses the template into the shape pushed to editor
// collaborators: pin names and capability lists only.
type Summary struct {
	BoardID     string       `json:"board_id"`
	DisplayName string       `json:"display_name,omitempty"`
	Pins        []PinSummary `json:"pins"`
}

// PinSummary is one pin's entry in a board summary.
type PinSummary struct {
	Name         string          `json:"name"`
	Aliases      []string        `json:"aliases,omitempty"`
	Capabilities []PinCapability `json:"capabilities"`
}

// Summarise builds the collaborator-facing summary of this template.
func (t *Template) Summarise() Summary {
	s := Summary{
		BoardID:     t.BoardID,
		DisplayName: t.DisplayName,
		Pins:        make([]PinSummary, 0, len(t.Pins)),
	}
	for _, p := range t.Pins {
		s.Pins = append(s.Pins, PinSummary{
			Name:         p.Name,
			Aliases:      append([]string(nil), p.Aliases...),
			Capabilities: append([]PinCapability(nil), p.Capabilities...),
		})
	}
	return s
}

// CacheEntry is one persisted generated template. Entries older than the
// configured TTL are regenerated on next request.
type CacheEntry struct {
	BoardID     string    `json:"board_id"`
	Template    *Template `json:"template"`
	GeneratedAt time.Time `json:"generated_at"`
	Version     int       `json:"version"`
}

// Stale reports whether the entry has outlived the given TTL.
func (e *CacheEntry) Stale(ttl time.Duration) bool {
	return time.Since(e.GeneratedAt) > ttl
}
