package twin

import "errors"

// Domain errors for the twin package.
var (
	// ErrTwinNotFound is returned when an operation names a device id
	// with no registered twin.
	ErrTwinNotFound = errors.New("twin: device not registered")

	// ErrTemplateUnavailable is returned when twin creation cannot obtain
	// a template for the requested board.
	ErrTemplateUnavailable = errors.New("twin: no template could be obtained")

	// ErrPinNotFound is returned when a pin number is not part of the
	// twin's template.
	ErrPinNotFound = errors.New("twin: pin not defined for this device")

	// ErrSensorNotFound is returned when a sensor id is not part of the
	// twin's template.
	ErrSensorNotFound = errors.New("twin: sensor not defined for this device")

	// ErrActuatorNotFound is returned when an actuator id is not part of
	// the twin's template.
	ErrActuatorNotFound = errors.New("twin: actuator not defined for this device")

	// ErrCapabilityMissing is returned when a write targets a pin that
	// lacks the required capability.
	ErrCapabilityMissing = errors.New("twin: pin lacks required capability")

	// ErrPinReserved is returned when a write targets a pin the board
	// keeps for itself.
	ErrPinReserved = errors.New("twin: pin reserved by the board")
)
