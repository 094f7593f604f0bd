package gateway

import "errors"

// Domain errors for the gateway package.
var (
	// ErrUnsafeDeviceID is returned when a device id cannot be embedded
	// in an MQTT topic (empty, or contains '/', '+' or '#').
	ErrUnsafeDeviceID = errors.New("gateway: device id not usable in a topic")
)
