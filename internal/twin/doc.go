// Package twin holds the live device twins: in-memory mirrors of each
// connected (or simulated) device's pin, bus, sensor and actuator state.
//
// A twin is materialised from a board template and never outgrows it —
// every pin number, bus id and component id in the twin exists in the
// template. Where a template describes one physical pin in several
// electrical roles, the twin keeps a single entry whose active variant
// follows the strongest role (digital over analog over pwm) and whose
// losing names survive as aliases.
//
// # Key Types
//
//   - Twin: Complete mirrored state for one device id
//   - PinState: One pin with exactly one active variant (Digital/Analog/PWM)
//   - BusState / SensorState / ActuatorState: Bus and component state
//   - SimulationSettings: Simulated-mode flag plus tick interval and noise
//   - Registry: The live twins, keyed by device id
//
// # Mutation Discipline
//
// Reads (Get, List) hand out deep copies; callers can never reach the
// live state. All mutation funnels through Registry.Mutate, which runs
// the caller's function against the live twin under the write lock. The
// sync engine (physical source) and the write validator (virtual source)
// are the only intended writers.
//
// # Usage
//
//	registry := twin.NewRegistry()
//	registry.SetLogger(log)
//
//	tw, err := registry.CreateTwin(ctx, "pico-w", "dev-01", twin.CreateOptions{
//	    Simulation: &twin.SimulationSettings{Simulated: true},
//	}, generator)
//	if err != nil {
//	    return err
//	}
//
//	err = registry.Mutate("dev-01", func(t *twin.Twin) error {
//	    t.Pins[13].Digital.Value = true
//	    t.Pins[13].LastChanged = time.Now()
//	    return nil
//	})
//
// # Thread Safety
//
// Registry is safe for concurrent use. Twin values returned from reads
// are isolated copies and may be mutated freely by the caller.
package twin
