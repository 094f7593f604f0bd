// Package board provides the Template Store for Twincore.
//
// A board template is the immutable hardware contract for one board model:
// which pins exist (and in which electrical roles), which communication
// buses connect them, and which sensors and actuators ship on the board.
// Device twins are materialised from templates and can never reference
// hardware the template does not declare.
//
// # Key Types
//
//   - Template: The full hardware description, keyed by board id
//   - PinDefinition: One pin in one electrical role (digital, analog, pwm)
//   - I2CBusDefinition / SPIBusDefinition / UARTBusDefinition: Bus wiring
//   - SensorDefinition / ActuatorDefinition: Built-in components
//   - Store: In-memory, write-once registry of validated templates
//   - CacheRepository / SQLiteCache: Persisted generated templates (TTL-based)
//
// # Template Sources
//
// Templates come from three places, in lookup order:
//
//  1. The Store — built-in templates (GenericTemplate) and JSON documents
//     loaded from the configured templates directory at startup.
//  2. The cache — templates generated by live introspection on a previous
//     run, persisted in SQLite and reused while fresh.
//  3. The generator (internal/probe) — live introspection of an attached
//     device, whose result is validated and written to the cache.
//
// # Validation
//
// Register rejects a template with a *ValidationError listing every
// violation at once: duplicate pin numbers within a role, I2C buses with
// SCL on the SDA pin, SPI buses without three distinct pins, duplicate
// component ids. Warnings (an empty supported-module list, components on
// undefined pins) are reported but do not block registration.
//
// # Usage
//
//	store := board.NewStore()
//	store.SetLogger(log)
//
//	if _, err := store.Register(board.GenericTemplate()); err != nil {
//	    return err
//	}
//
//	tpl, err := store.Get("generic")
//	if errors.Is(err, board.ErrTemplateNotFound) {
//	    // fall back to introspection
//	}
//
// # Thread Safety
//
// The Store is safe for concurrent use; templates it returns are deep
// copies, so callers may mutate them freely. SQLiteCache relies on the
// database package's single-writer connection pool.
package board
