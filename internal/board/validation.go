package board

import (
	"fmt"
	"strings"
)

// Valid value sets, built once at package initialisation for O(1) lookup.
var (
	validPinRoles      map[PinRole]bool
	validCapabilities  map[PinCapability]bool
	validSensorTypes   map[SensorType]bool
	validActuatorTypes map[ActuatorType]bool
)

func init() {
	validPinRoles = make(map[PinRole]bool)
	for _, r := range AllPinRoles() {
		validPinRoles[r] = true
	}

	validCapabilities = make(map[PinCapability]bool)
	for _, c := range AllPinCapabilities() {
		validCapabilities[c] = true
	}

	validSensorTypes = make(map[SensorType]bool)
	for _, s := range AllSensorTypes() {
		validSensorTypes[s] = true
	}

	validActuatorTypes = make(map[ActuatorType]bool)
	for _, a := range AllActuatorTypes() {
		validActuatorTypes[a] = true
	}
}

// ValidationError aggregates every violation found in one template so a
// caller can fix them all in a single pass. It unwraps to ErrInvalidTemplate.
type ValidationError struct {
	BoardID    string
	Violations []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%v %q: %s", ErrInvalidTemplate, e.BoardID, strings.Join(e.Violations, "; "))
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidTemplate
}

// ValidateTemplate checks a template against the structural invariants and
// returns all violations at once, plus non-fatal warnings.
//
// Violations (template rejected):
//   - missing board id
//   - no pins at all
//   - duplicate pin number within one electrical role
//   - unknown pin role, empty pin name, empty capability set
//   - I2C bus with SCL == SDA
//   - SPI bus whose SCK/MOSI/MISO are not pairwise distinct
//   - UART with TX == RX
//   - duplicate bus or component ids
//   - sensor range with min > max
//
// Warnings (template accepted):
//   - empty supported-module list
//   - component placed on a pin the template does not define
//   - unknown sensor/actuator type (tolerated so generated templates can
//     carry types this engine predates)
func ValidateTemplate(t *Template) ([]string, error) {
	var violations []string
	var warnings []string

	if t == nil {
		return nil, &ValidationError{Violations: []string{"template is nil"}}
	}

	if t.BoardID == "" {
		violations = append(violations, "board id is required")
	}

	if len(t.Pins) == 0 {
		violations = append(violations, "template defines no pins")
	}

	// Pin uniqueness is per electrical role: digital 5 and analog 5 may
	// coexist, two digital 5s may not.
	seen := make(map[PinRole]map[int]bool)
	pinNumbers := make(map[int]bool)
	for i, p := range t.Pins {
		if p.Name == "" {
			violations = append(violations, fmt.Sprintf("pin at index %d has no name", i))
		}
		if !validPinRoles[p.Role] {
			violations = append(violations, fmt.Sprintf("pin %q has unknown role %q", p.Name, p.Role))
			continue
		}
		if seen[p.Role] == nil {
			seen[p.Role] = make(map[int]bool)
		}
		if seen[p.Role][p.Number] {
			violations = append(violations,
				fmt.Sprintf("duplicate %s pin number %d", p.Role, p.Number))
		}
		seen[p.Role][p.Number] = true
		pinNumbers[p.Number] = true

		if len(p.Capabilities) == 0 {
			violations = append(violations, fmt.Sprintf("pin %q has no capabilities", p.Name))
		}
		for _, c := range p.Capabilities {
			if !validCapabilities[c] {
				violations = append(violations,
					fmt.Sprintf("pin %q has unknown capability %q", p.Name, c))
			}
		}
	}

	violations = append(violations, validateBuses(&t.Buses)...)

	componentIDs := make(map[string]bool)
	for _, s := range t.Sensors {
		if s.ID == "" {
			violations = append(violations, "sensor with empty id")
			continue
		}
		if componentIDs[s.ID] {
			violations = append(violations, fmt.Sprintf("duplicate component id %q", s.ID))
		}
		componentIDs[s.ID] = true

		if s.Min > s.Max && (s.Min != 0 || s.Max != 0) {
			violations = append(violations,
				fmt.Sprintf("sensor %q has min %v greater than max %v", s.ID, s.Min, s.Max))
		}
		if !validSensorTypes[s.Type] {
			warnings = append(warnings, fmt.Sprintf("sensor %q has unrecognised type %q", s.ID, s.Type))
		}
		if s.Pin != nil && !pinNumbers[*s.Pin] {
			warnings = append(warnings,
				fmt.Sprintf("sensor %q references undefined pin %d", s.ID, *s.Pin))
		}
	}

	for _, a := range t.Actuators {
		if a.ID == "" {
			violations = append(violations, "actuator with empty id")
			continue
		}
		if componentIDs[a.ID] {
			violations = append(violations, fmt.Sprintf("duplicate component id %q", a.ID))
		}
		componentIDs[a.ID] = true

		if !validActuatorTypes[a.Type] {
			warnings = append(warnings, fmt.Sprintf("actuator %q has unrecognised type %q", a.ID, a.Type))
		}
		if !pinNumbers[a.Pin] {
			warnings = append(warnings,
				fmt.Sprintf("actuator %q references undefined pin %d", a.ID, a.Pin))
		}
	}

	if len(t.SupportedModules) == 0 {
		warnings = append(warnings, "template declares no supported modules")
	}

	if len(violations) > 0 {
		return warnings, &ValidationError{BoardID: t.BoardID, Violations: violations}
	}

	return warnings, nil
}

// validateBuses checks bus pin distinctness and id uniqueness.
func validateBuses(b *BusDefinitions) []string {
	var violations []string

	busIDs := make(map[string]bool)
	checkID := func(id, kind string) {
		if id == "" {
			violations = append(violations, fmt.Sprintf("%s bus with empty id", kind))
			return
		}
		if busIDs[id] {
			violations = append(violations, fmt.Sprintf("duplicate bus id %q", id))
		}
		busIDs[id] = true
	}

	for _, bus := range b.I2C {
		checkID(bus.ID, "i2c")
		if bus.SCLPin == bus.SDAPin {
			violations = append(violations,
				fmt.Sprintf("i2c bus %q has SCL and SDA on the same pin %d", bus.ID, bus.SCLPin))
		}
		if bus.MinFrequency > bus.MaxFrequency && bus.MaxFrequency != 0 {
			violations = append(violations,
				fmt.Sprintf("i2c bus %q has min frequency above max", bus.ID))
		}
	}

	for _, bus := range b.SPI {
		checkID(bus.ID, "spi")
		if bus.SCKPin == bus.MOSIPin || bus.SCKPin == bus.MISOPin || bus.MOSIPin == bus.MISOPin {
			violations = append(violations,
				fmt.Sprintf("spi bus %q pins SCK/MOSI/MISO are not pairwise distinct", bus.ID))
		}
	}

	for _, bus := range b.UART {
		checkID(bus.ID, "uart")
		if bus.TXPin == bus.RXPin {
			violations = append(violations,
				fmt.Sprintf("uart %q has TX and RX on the same pin %d", bus.ID, bus.TXPin))
		}
	}

	return violations
}
