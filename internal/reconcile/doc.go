// Package reconcile keeps twins consistent with their hardware: the
// poller observes devices, the engine merges observed state into twins,
// and the validator gates virtual writes behind the device.
//
// The direction of trust is fixed. Physical state flows in through
// DEVICE_STATE snapshots and always wins: the engine applies whatever
// the device reported, change by change, and emits one physical-sourced
// event per mutated field. Virtual writes flow the other way and must
// prove themselves first — the validator round-trips each write through
// the device and commits the twin only when the read-back carries the
// exact requested value. A twin therefore never claims a pin level the
// hardware did not confirm holding.
//
// # Components
//
//   - Poller: fixed-tick fan-out of fast state probes across attached devices
//   - Engine: throttled, significance-filtered merge of snapshots into twins
//   - Validator: write-and-read-back confirmation for virtual mutations
//   - Attachments: the device id → live probe table shared by all three
//
// # Merge Discipline
//
// Each device's merges are serialised against themselves only: a second
// sync for a device with one in flight awaits the pending pass and
// adopts its outcome. Consecutive merges for one device are spaced by
// the throttle window (75ms default). Insignificant movement is
// dropped — digital fields merge on exact inequality, analog values
// only when they move by more than one count, sensor readings only
// beyond their declared accuracy — so a steady device produces zero
// events no matter how often it is polled.
//
// Simulated twins opt out of the hardware path entirely: the poller
// skips them and the validator commits their writes immediately.
//
// # Usage
//
//	attachments := reconcile.NewAttachments()
//	engine, err := reconcile.NewEngine(reconcile.Options{
//	    Registry: registry,
//	    Bus:      events,
//	    Timeline: recorder,
//	})
//	if err != nil {
//	    return err
//	}
//	defer engine.Close()
//
//	validator, err := reconcile.NewValidator(reconcile.ValidatorOptions{
//	    Registry:    registry,
//	    Bus:         events,
//	    Attachments: attachments,
//	})
//	if err != nil {
//	    return err
//	}
//
//	poller, err := reconcile.NewPoller(reconcile.PollerOptions{
//	    Attachments: attachments,
//	    Registry:    registry,
//	    Engine:      engine,
//	})
//	if err != nil {
//	    return err
//	}
//	if err := poller.Start(); err != nil {
//	    return err
//	}
//	defer poller.Stop()
//
// # Thread Safety
//
// All exported types are safe for concurrent use.
package reconcile
