// Package bus carries state-sync events from the engine and validator
// to whoever wants them: the timeline, the MQTT forwarder, the
// WebSocket hub, the telemetry sink.
//
// Delivery is synchronous and in registration order — an Emit returns
// once every listener has run. That keeps event ordering within one
// device exactly the order its mutations were applied, at the price of
// listeners needing to be quick. A panic in one listener is recovered
// and logged; the rest still receive the event.
//
// Events are immutable once emitted. The Kind field selects exactly one
// payload variant (pin, sensor, actuator or config change), and the
// Source tag records whether the change was observed on hardware
// (physical), committed by a confirmed virtual write (virtual), or made
// through the API (user).
//
// # Usage
//
//	b := bus.New()
//	b.SetLogger(log)
//
//	unsubscribe := b.Subscribe("timeline", func(e bus.Event) {
//	    // runs on the emitter's goroutine
//	})
//	defer unsubscribe()
//
//	b.Emit(bus.NewPinChanged("dev-01", bus.SourcePhysical, bus.PinChange{
//	    Pin: 2, Field: "value", Previous: false, Current: true,
//	}))
package bus
