// Package simulate animates simulated twins so the rest of the system
// sees live-looking traffic without hardware attached.
//
// Each driven twin gets its own tick loop at the twin's configured
// update interval. Every tick perturbs each sensor reading by the
// twin's noise level (relative to the sensor's declared range) and,
// when physical-law emulation is on, relaxes the reading toward the
// range midpoint first, so disturbances decay instead of random-walking
// away.
//
// Readings are committed through the Writer — in practice the virtual
// write validator — rather than poked into the registry, so simulated
// traffic produces exactly the events, timeline entries and listener
// notifications real traffic would.
//
// # Usage
//
//	driver, err := simulate.New(simulate.Options{
//	    Registry: registry,
//	    Writer:   validator,
//	})
//	if err != nil {
//	    return err
//	}
//	defer driver.Close()
//
//	driver.StartAll() // adopt existing simulated twins
//
//	if err := driver.StartTwin("sim-01"); err != nil {
//	    return err
//	}
package simulate
