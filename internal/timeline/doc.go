// Package timeline records hardware state transitions while a debug
// session is active, for replay in debugging and teaching interfaces.
//
// The recorder is append-only and execution-scoped: each entry's
// timestamp is milliseconds since the start of the session that
// recorded it. Entries survive session stops and twin re-creation —
// only an explicit Clear discards history. Recording outside an active
// session is a silent no-op, so the sync path can call Record*
// unconditionally.
//
// Retrieval is by pin number, sensor id or actuator id, or the full
// log. The recorder never feeds back into reconciliation or validation
// decisions.
package timeline
