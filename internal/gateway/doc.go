// Package gateway exposes the twin engine over MQTT.
//
// This package bridges the in-process event bus to an external MQTT
// broker so that dashboards, automations, and other consumers can
// observe twins and request writes without linking against the engine.
//
// # Architecture
//
// The gateway sits between the event bus and the broker:
//
//	┌─────────────────┐          ┌─────────────────┐
//	│   Twin Engine   │   bus    │   MQTT Gateway  │   MQTT
//	│   (in-process)  │◄────────►│   (this pkg)    │◄────────► Broker
//	└─────────────────┘          └─────────────────┘
//
// # Key Responsibilities
//
//   - Forward twin change events to per-device event topics
//   - Maintain retained board summaries so late subscribers see layout
//   - Accept virtual GPIO and sensor commands and acknowledge each one
//   - Publish periodic gateway status (retained)
//
// # Topics
//
//	twincore/twin/<device>/event     twin change events (not retained)
//	twincore/twin/<device>/board     board summary (retained)
//	twincore/command/<device>/gpio   inbound virtual GPIO writes
//	twincore/command/<device>/sensor inbound sensor overrides
//	twincore/ack/<device>            per-command acknowledgements
//	twincore/system/gateway          gateway status (retained)
//
// # Write Semantics
//
// Inbound commands are applied through the write validator, so the
// physical-first rule holds across the broker boundary: a command for a
// hardware-backed twin is only acknowledged as accepted once the device
// confirmed the write. Rejections carry a stable error code
// (UNKNOWN_TWIN, INVALID_VALUE, VALIDATION_FAILED, INVALID_PAYLOAD,
// GATEWAY_ERROR) alongside the human-readable message.
//
// Event forwarding is lossy under pressure: bus delivery is synchronous
// on the emitter's goroutine, so events queue into a fixed buffer and a
// full buffer drops (counted in Stats). Commands and board summaries
// are never dropped this way.
//
// # Thread Safety
//
// All exported types are safe for concurrent use from multiple goroutines.
package gateway
