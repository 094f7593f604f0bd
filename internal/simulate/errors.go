package simulate

import "errors"

// Domain errors for the simulate package.
var (
	// ErrNotSimulated is returned when StartTwin targets a twin whose
	// simulation flag is off. Physical twins are driven by hardware.
	ErrNotSimulated = errors.New("simulate: twin is not simulated")

	// ErrDriverClosed is returned for starts issued after Close.
	ErrDriverClosed = errors.New("simulate: driver closed")
)
