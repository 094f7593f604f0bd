package probe

import "errors"

// Domain errors for the probe package.
var (
	// ErrIntrospectionFailed is returned when template generation cannot
	// proceed because the required board-attribute probe failed.
	ErrIntrospectionFailed = errors.New("probe: introspection failed")

	// ErrProbeTimeout is returned when no matching sentinel line arrives
	// within the probe's timeout.
	ErrProbeTimeout = errors.New("probe: no response within timeout")

	// ErrParseFailed is returned when a recognised sentinel line carries
	// a malformed payload. It fails that probe only.
	ErrParseFailed = errors.New("probe: malformed payload")

	// ErrWriteRejected is returned when the device answers a GPIO write
	// with an error sentinel instead of a confirmation.
	ErrWriteRejected = errors.New("probe: gpio write rejected")

	// ErrProberClosed is returned when an operation is attempted on a
	// closed prober.
	ErrProberClosed = errors.New("probe: prober closed")
)
