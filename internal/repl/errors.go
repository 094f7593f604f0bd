package repl

import "errors"

// Domain errors for the channel client package.
var (
	// ErrNotConnected is returned when an operation requires a connection
	// but the client is not connected to the channel endpoint.
	ErrNotConnected = errors.New("repl: not connected to channel")

	// ErrConnectionFailed is returned when connecting to the channel fails.
	ErrConnectionFailed = errors.New("repl: connection to channel failed")

	// ErrExecuteFailed is returned when writing a script to the channel fails.
	ErrExecuteFailed = errors.New("repl: script execute failed")

	// ErrLineTooLong is returned when an incoming line overflows the read
	// buffer. The stream framing can no longer be trusted, so the client
	// drops the connection and reconnects.
	ErrLineTooLong = errors.New("repl: line exceeds read buffer")

	// ErrClosed is returned when an operation is attempted on a closed client.
	ErrClosed = errors.New("repl: client closed")
)
