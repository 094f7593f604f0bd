package reconcile

import "errors"

// Domain errors for the reconcile package.
var (
	// ErrValidationFailed is returned when a virtual write is rejected:
	// the device did not confirm the exact requested value in time,
	// answered GPIO_ERROR, no channel is attached, or the write is only
	// meaningful in simulation. The twin is unchanged; callers may retry.
	ErrValidationFailed = errors.New("reconcile: virtual write not confirmed")

	// ErrEngineClosed is returned for syncs issued after Close.
	ErrEngineClosed = errors.New("reconcile: engine closed")

	// ErrInvalidValue is returned when a write's value type does not fit
	// the target pin's variant (e.g. a string for a digital pin).
	ErrInvalidValue = errors.New("reconcile: value does not fit pin variant")
)
