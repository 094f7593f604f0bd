// Package probe speaks the sentinel protocol to a live device and turns
// what it learns into board templates.
//
// # Wire Protocol
//
// Requests are scripts executed on the device; responses are lines
// prefixed with a recognised sentinel:
//
//	DEVICE_STATE:<json>         one pins+sensors snapshot
//	BOARD_ATTRS:<json array>    board module attribute names
//	PIN_CAPABILITIES:<json map> pin name → probed capabilities
//	BUS_DETECTION:<json>        working buses and scan results
//	COMPONENT_DETECTION:<json>  built-in sensors and actuators
//	GPIO_CONFIRM:<value>        read-back after a write probe
//	GPIO_ERROR:<message>        write probe failure
//
// Lines without a recognised sentinel are noise (program output, REPL
// echo, tracebacks) and are ignored. A malformed payload after a
// recognised sentinel fails that probe only.
//
// # Prober
//
// Prober pairs requests with responses over one device's channel. The
// fast state poll and the GPIO write round-trip are bounded at 200ms;
// one-time introspection probes get 10s each. A response arriving after
// its request gave up is discarded.
//
// The recurring probes call device-side helper functions. The prober
// deploys these before the first request and redeploys them after the
// channel reconnects, since a reconnect means a fresh interpreter. A
// probe that times out is followed by an interrupt so a still-running
// script cannot wedge the interpreter.
//
// # Generator
//
// Generator resolves templates: explicitly registered templates first,
// then fresh cache entries, then live introspection. Of the probe
// sequence only the board-attribute dump is required; capability, bus
// and component probes degrade into warnings when they fail, yielding a
// partial but usable template.
//
// # Thread Safety
//
// Prober is safe for concurrent use. Callers serialise probes per
// sentinel kind; the sync engine's per-device in-flight marker provides
// this for polls and writes.
package probe
