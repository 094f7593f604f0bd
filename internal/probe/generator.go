package probe

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/nerrad567/twincore/internal/board"
)

// defaultCacheTTL is how long a generated template stays fresh.
const defaultCacheTTL = 7 * 24 * time.Hour

// Bus defaults applied to detected buses. Detection proves the bus works;
// it cannot measure its speed limits, so generated definitions carry the
// conservative figures this class of firmware guarantees.
const (
	defaultI2CMinFrequency = 100_000
	defaultI2CMaxFrequency = 400_000
	defaultSPIMaxFrequency = 8_000_000
	defaultUARTMaxBaud     = 115_200
)

// ProbeSource is what the generator needs from a prober. Mockable in tests.
type ProbeSource interface {
	BoardAttrs(ctx context.Context) ([]string, error)
	PinCapabilities(ctx context.Context) (map[string]PinProbe, error)
	DetectBuses(ctx context.Context) (BusDetection, error)
	DetectComponents(ctx context.Context) (ComponentDetection, error)
}

// Ensure Prober implements ProbeSource.
var _ ProbeSource = (*Prober)(nil)

// GeneratorConfig holds the generator's collaborators. Store and Cache
// are optional; a generator without them always probes live.
type GeneratorConfig struct {
	// Store holds explicitly registered templates. Registered templates
	// always win over generation.
	Store *board.Store

	// Cache persists generated templates between runs.
	Cache board.CacheRepository

	// CacheTTL is how long a cached template stays fresh. Default: 7 days.
	CacheTTL time.Duration

	// Logger for generation warnings.
	Logger Logger
}

// Generator builds board templates by introspecting a live device.
//
// Resolution order: registered template, fresh cache entry, live
// generation. Generation runs a fixed probe sequence; only the
// board-attribute probe is required. The capability, bus and component
// probes may fail individually; their findings are simply omitted and
// the failure recorded as a warning.
type Generator struct {
	source ProbeSource
	store  *board.Store
	cache  board.CacheRepository
	ttl    time.Duration
	logger Logger
}

// NewGenerator creates a template generator probing the given source.
func NewGenerator(source ProbeSource, cfg GeneratorConfig) *Generator {
	ttl := cfg.CacheTTL
	if ttl == 0 {
		ttl = defaultCacheTTL
	}
	return &Generator{
		source: source,
		store:  cfg.Store,
		cache:  cfg.Cache,
		ttl:    ttl,
		logger: cfg.Logger,
	}
}

// Template resolves the template for a board id.
//
// Registered templates win; otherwise a fresh cache entry is served;
// otherwise the device is introspected. A stale cache entry is only used
// as a last resort when regeneration fails, hardware being better
// described by old data than by nothing.
func (g *Generator) Template(ctx context.Context, boardID string) (*board.Template, error) {
	if g.store != nil {
		tpl, err := g.store.Get(boardID)
		if err == nil {
			return tpl, nil
		}
		if !errors.Is(err, board.ErrTemplateNotFound) {
			return nil, err
		}
	}

	var stale *board.CacheEntry
	if g.cache != nil {
		entry, err := g.cache.Get(ctx, boardID)
		switch {
		case err == nil && !entry.Stale(g.ttl):
			return entry.Template, nil
		case err == nil:
			stale = entry
		case !errors.Is(err, board.ErrCacheMiss):
			g.logWarn("template cache read failed", "board_id", boardID, "error", err)
		}
	}

	tpl, warnings, err := g.Generate(ctx, boardID)
	if err != nil {
		if stale != nil {
			g.logWarn("regeneration failed, serving stale cached template",
				"board_id", boardID, "generated_at", stale.GeneratedAt, "error", err)
			return stale.Template, nil
		}
		return nil, err
	}

	for _, w := range warnings {
		g.logWarn("template generation warning", "board_id", boardID, "warning", w)
	}

	return tpl, nil
}

// Generate introspects the device and synthesises a template.
//
// The board-attribute probe is required; its failure aborts generation
// with ErrIntrospectionFailed. Every other probe failure degrades into a
// warning and an omission. The synthesised template is validated and, if
// a cache is configured, persisted.
func (g *Generator) Generate(ctx context.Context, boardID string) (*board.Template, []string, error) {
	attrs, err := g.source.BoardAttrs(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: board attribute probe: %w", ErrIntrospectionFailed, err)
	}

	var warnings []string

	caps, err := g.source.PinCapabilities(ctx)
	if err != nil {
		warnings = append(warnings, fmt.Sprintf("pin capability probe failed: %v", err))
		caps = nil
	}

	buses, err := g.source.DetectBuses(ctx)
	if err != nil {
		warnings = append(warnings, fmt.Sprintf("bus detection failed: %v", err))
		buses = BusDetection{}
	}

	components, err := g.source.DetectComponents(ctx)
	if err != nil {
		warnings = append(warnings, fmt.Sprintf("component detection failed: %v", err))
		components = ComponentDetection{}
	}

	tpl, synthWarnings := synthesise(boardID, attrs, caps, buses, components)
	warnings = append(warnings, synthWarnings...)

	validationWarnings, err := board.ValidateTemplate(tpl)
	if err != nil {
		return nil, nil, fmt.Errorf("generated template invalid: %w", err)
	}
	warnings = append(warnings, validationWarnings...)

	if g.cache != nil {
		entry := &board.CacheEntry{
			BoardID:     boardID,
			Template:    tpl,
			GeneratedAt: time.Now().UTC(),
			Version:     1,
		}
		if err := g.cache.Put(ctx, entry); err != nil {
			// Persisting is best-effort; the template itself is sound.
			g.logWarn("persisting generated template failed", "board_id", boardID, "error", err)
		}
	}

	return tpl, warnings, nil
}

// pinGroup accumulates every name and capability observed for one
// physical pin number before pin definitions are cut per role.
type pinGroup struct {
	names   []string
	caps    map[board.PinCapability]bool
	voltage float64
}

// synthesise turns probe findings into a template.
//
// With capability data, each probed pin becomes one definition per
// electrical role it supports; names sharing a pin number merge, the
// numbered name (D13) staying canonical and the rest (LED) becoming
// aliases. Without capability data, pin names alone seed a digital or
// analog definition each; named aliases cannot be placed and are skipped.
func synthesise(boardID string, attrs []string, caps map[string]PinProbe, buses BusDetection, components ComponentDetection) (*board.Template, []string) {
	var warnings []string

	tpl := &board.Template{
		BoardID:     boardID,
		DisplayName: boardID,
	}

	if len(caps) > 0 {
		tpl.Pins, warnings = pinsFromCapabilities(caps)
	} else {
		tpl.Pins = pinsFromAttrs(attrs)
	}

	if buses.I2C != nil {
		tpl.Buses.I2C = append(tpl.Buses.I2C, board.I2CBusDefinition{
			ID:           "i2c0",
			SCLPin:       buses.I2C.SCL,
			SDAPin:       buses.I2C.SDA,
			MinFrequency: defaultI2CMinFrequency,
			MaxFrequency: defaultI2CMaxFrequency,
		})
	}
	if buses.SPI != nil {
		tpl.Buses.SPI = append(tpl.Buses.SPI, board.SPIBusDefinition{
			ID:           "spi0",
			SCKPin:       buses.SPI.SCK,
			MOSIPin:      buses.SPI.MOSI,
			MISOPin:      buses.SPI.MISO,
			MaxFrequency: defaultSPIMaxFrequency,
		})
	}
	if buses.UART != nil {
		tpl.Buses.UART = append(tpl.Buses.UART, board.UARTBusDefinition{
			ID:      "uart0",
			TXPin:   buses.UART.TX,
			RXPin:   buses.UART.RX,
			MaxBaud: defaultUARTMaxBaud,
		})
	}

	for _, s := range components.Sensors {
		sensorType := board.SensorType(s.Type)
		if !validSensorType(sensorType) {
			warnings = append(warnings, fmt.Sprintf("sensor %s: unknown type %q, skipped", s.ID, s.Type))
			continue
		}
		def := board.SensorDefinition{
			ID:       s.ID,
			Name:     s.Name,
			Type:     sensorType,
			Unit:     s.Unit,
			Min:      s.Min,
			Max:      s.Max,
			Accuracy: s.Accuracy,
		}
		if s.Pin != nil {
			pin := *s.Pin
			def.Pin = &pin
		}
		tpl.Sensors = append(tpl.Sensors, def)
	}

	for _, a := range components.Actuators {
		actuatorType := board.ActuatorType(a.Type)
		if !validActuatorType(actuatorType) {
			warnings = append(warnings, fmt.Sprintf("actuator %s: unknown type %q, skipped", a.ID, a.Type))
			continue
		}
		tpl.Actuators = append(tpl.Actuators, board.ActuatorDefinition{
			ID:   a.ID,
			Name: a.Name,
			Type: actuatorType,
			Pin:  a.Pin,
		})
	}

	tpl.SupportedModules = supportedModules(tpl)

	return tpl, warnings
}

// pinsFromCapabilities cuts pin definitions from probed capabilities.
func pinsFromCapabilities(caps map[string]PinProbe) ([]board.PinDefinition, []string) {
	var warnings []string

	groups := make(map[int]*pinGroup)
	for _, name := range sortedKeys(caps) {
		probed := caps[name]
		group := groups[probed.Pin]
		if group == nil {
			group = &pinGroup{caps: make(map[board.PinCapability]bool)}
			groups[probed.Pin] = group
		}
		group.names = append(group.names, name)
		if probed.Voltage > group.voltage {
			group.voltage = probed.Voltage
		}
		for _, c := range probed.Capabilities {
			capability := board.PinCapability(c)
			if !validCapability(capability) {
				warnings = append(warnings, fmt.Sprintf("pin %s: unknown capability %q, skipped", name, c))
				continue
			}
			group.caps[capability] = true
		}
	}

	numbers := make([]int, 0, len(groups))
	for n := range groups {
		numbers = append(numbers, n)
	}
	sort.Ints(numbers)

	var pins []board.PinDefinition
	for _, n := range numbers {
		group := groups[n]
		name, aliases := canonicalName(group.names)

		if digital := roleCapabilities(group.caps, board.RoleDigital); len(digital) > 0 {
			pins = append(pins, board.PinDefinition{
				Number:       n,
				Name:         name,
				Aliases:      aliases,
				Role:         board.RoleDigital,
				Capabilities: digital,
				Voltage:      group.voltage,
			})
		}
		if analog := roleCapabilities(group.caps, board.RoleAnalog); len(analog) > 0 {
			pins = append(pins, board.PinDefinition{
				Number:       n,
				Name:         name,
				Aliases:      aliases,
				Role:         board.RoleAnalog,
				Capabilities: analog,
				Voltage:      group.voltage,
			})
		}
	}

	return pins, warnings
}

// roleCapabilities selects the capabilities belonging to one electrical
// role. Bus and PWM capabilities ride on the digital definition.
func roleCapabilities(caps map[board.PinCapability]bool, role board.PinRole) []board.PinCapability {
	var want []board.PinCapability
	switch role {
	case board.RoleDigital:
		want = []board.PinCapability{
			board.CapDigitalRead, board.CapDigitalWrite,
			board.CapPWM, board.CapTouch,
			board.CapI2C, board.CapSPI, board.CapUART,
		}
	case board.RoleAnalog:
		want = []board.PinCapability{board.CapAnalogRead, board.CapAnalogWrite}
	default:
		return nil
	}

	var out []board.PinCapability
	for _, c := range want {
		if caps[c] {
			out = append(out, c)
		}
	}
	return out
}

// pinsFromAttrs is the degraded path when the capability probe failed:
// numbered pin names still identify pins, everything else is unplaceable.
func pinsFromAttrs(attrs []string) []board.PinDefinition {
	sorted := append([]string(nil), attrs...)
	sort.Strings(sorted)

	var pins []board.PinDefinition
	seen := make(map[string]bool)
	for _, attr := range sorted {
		if !isNumberedPinName(attr) || seen[attr] {
			continue
		}
		seen[attr] = true

		number, _ := parsePinNumber(attr)
		switch attr[0] {
		case 'D':
			pins = append(pins, board.PinDefinition{
				Number: number,
				Name:   attr,
				Role:   board.RoleDigital,
				Capabilities: []board.PinCapability{
					board.CapDigitalRead, board.CapDigitalWrite,
				},
			})
		case 'A':
			pins = append(pins, board.PinDefinition{
				Number:       number,
				Name:         attr,
				Role:         board.RoleAnalog,
				Capabilities: []board.PinCapability{board.CapAnalogRead},
			})
		}
	}

	sort.Slice(pins, func(i, j int) bool {
		if pins[i].Role != pins[j].Role {
			return pins[i].Role < pins[j].Role
		}
		return pins[i].Number < pins[j].Number
	})

	return pins
}

// canonicalName picks the numbered name as canonical and demotes the
// rest to aliases.
func canonicalName(names []string) (string, []string) {
	sorted := append([]string(nil), names...)
	sort.Strings(sorted)

	canonical := ""
	for _, n := range sorted {
		if isNumberedPinName(n) {
			canonical = n
			break
		}
	}
	if canonical == "" {
		canonical = sorted[0]
	}

	var aliases []string
	for _, n := range sorted {
		if n != canonical {
			aliases = append(aliases, n)
		}
	}
	return canonical, aliases
}

// isNumberedPinName reports whether the name is a plain numbered pin
// (D13, A0) rather than a functional alias (LED, SDA).
func isNumberedPinName(name string) bool {
	if len(name) < 2 || (name[0] != 'D' && name[0] != 'A') {
		return false
	}
	for _, ch := range name[1:] {
		if ch < '0' || ch > '9' {
			return false
		}
	}
	return true
}

// parsePinNumber extracts the numeric suffix of a pin name.
func parsePinNumber(name string) (int, bool) {
	start := len(name)
	for start > 0 && name[start-1] >= '0' && name[start-1] <= '9' {
		start--
	}
	if start == len(name) {
		return 0, false
	}
	n, err := strconv.Atoi(name[start:])
	if err != nil {
		return 0, false
	}
	return n, true
}

// supportedModules derives the firmware modules a template needs from
// what was actually found on the board.
func supportedModules(tpl *board.Template) []string {
	modules := []string{"digitalio"}

	if len(tpl.PinsByRole(board.RoleAnalog)) > 0 {
		modules = append(modules, "analogio")
	}
	if tpl.BusCount() > 0 {
		modules = append(modules, "busio")
	}
	for _, p := range tpl.Pins {
		if hasCapability(p.Capabilities, board.CapPWM) {
			modules = append(modules, "pwmio")
			break
		}
	}

	return modules
}

func hasCapability(caps []board.PinCapability, want board.PinCapability) bool {
	for _, c := range caps {
		if c == want {
			return true
		}
	}
	return false
}

func validCapability(c board.PinCapability) bool {
	for _, v := range board.AllPinCapabilities() {
		if c == v {
			return true
		}
	}
	return false
}

func validSensorType(t board.SensorType) bool {
	for _, v := range board.AllSensorTypes() {
		if t == v {
			return true
		}
	}
	return false
}

func validActuatorType(t board.ActuatorType) bool {
	for _, v := range board.AllActuatorTypes() {
		if t == v {
			return true
		}
	}
	return false
}

func sortedKeys(m map[string]PinProbe) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// logWarn logs a warning if logger is set.
func (g *Generator) logWarn(msg string, keysAndValues ...any) {
	if g.logger != nil {
		g.logger.Warn(msg, keysAndValues...)
	}
}
