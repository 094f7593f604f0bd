package twin

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/nerrad567/twincore/internal/board"
)

// Logger interface for dependency injection.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is used when no logger is provided.
type noopLogger struct{}

func (noopLogger) Debug(msg string, args ...any) {}
func (noopLogger) Info(msg string, args ...any)  {}
func (noopLogger) Warn(msg string, args ...any)  {}
func (noopLogger) Error(msg string, args ...any) {}

// TemplateSource resolves a board id to a template. The probe layer's
// generator satisfies this: store hit, fresh cache hit, or a live
// introspection run, in that order.
type TemplateSource interface {
	Template(ctx context.Context, boardID string) (*board.Template, error)
}

// CreateOptions carries the optional parts of a twin creation request.
type CreateOptions struct {
	// DisplayName overrides the template's display name when non-empty.
	DisplayName string

	// Simulation selects simulated mode and its parameters. Nil means
	// the defaults: physical device, 100ms update interval, 1% noise.
	Simulation *SimulationSettings

	// InitialPins seeds pin values by pin number before the first sync.
	// Digital pins take a bool, analog pins an int. Numbers that do not
	// exist in the template are skipped.
	InitialPins map[int]any

	// InitialSensors seeds sensor readings by sensor id. Ids that do
	// not exist in the template are skipped.
	InitialSensors map[string]float64
}

// Registry holds the live twins, keyed by device id.
//
// Reads hand out deep copies so callers can never mutate shared state.
// All mutation goes through Mutate, which runs the caller's function
// against the live twin under the write lock.
type Registry struct {
	mu    sync.RWMutex
	twins map[string]*Twin

	logger   Logger
	loggerMu sync.RWMutex
}

// NewRegistry creates an empty twin registry.
func NewRegistry() *Registry {
	return &Registry{
		twins:  make(map[string]*Twin),
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for registry operations.
func (r *Registry) SetLogger(logger Logger) {
	r.loggerMu.Lock()
	defer r.loggerMu.Unlock()
	if logger != nil {
		r.logger = logger
	}
}

func (r *Registry) log() Logger {
	r.loggerMu.RLock()
	defer r.loggerMu.RUnlock()
	return r.logger
}

// CreateTwin builds a twin for deviceID from the template the source
// resolves for boardID, seeds it from opts, and registers it.
//
// Registering a device id that already has a twin replaces the old
// twin entirely. The returned twin is a deep copy.
func (r *Registry) CreateTwin(ctx context.Context, boardID, deviceID string, opts CreateOptions, source TemplateSource) (*Twin, error) {
	tpl, err := source.Template(ctx, boardID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTemplateUnavailable, err)
	}

	t := newTwinFromTemplate(tpl, deviceID)

	if opts.DisplayName != "" {
		t.DisplayName = opts.DisplayName
	}
	if opts.Simulation != nil {
		t.Simulation = *opts.Simulation
		if t.Simulation.UpdateIntervalMs <= 0 {
			t.Simulation.UpdateIntervalMs = DefaultUpdateIntervalMs
		}
	}
	r.seedInitialState(t, opts)

	r.mu.Lock()
	if _, exists := r.twins[deviceID]; exists {
		r.log().Info("replacing existing twin", "device_id", deviceID, "board_id", boardID)
	}
	r.twins[deviceID] = t
	r.mu.Unlock()

	r.log().Debug("twin created",
		"device_id", deviceID,
		"board_id", boardID,
		"pins", len(t.Pins),
		"simulated", t.Simulation.Simulated)

	return t.DeepCopy(), nil
}

// seedInitialState applies the caller's initial pin and sensor values.
// Keys that do not exist in the template are skipped so the twin never
// grows state its template does not describe.
func (r *Registry) seedInitialState(t *Twin, opts CreateOptions) {
	for pin, value := range opts.InitialPins {
		state, ok := t.Pins[pin]
		if !ok {
			r.log().Warn("initial state for unknown pin skipped", "device_id", t.DeviceID, "pin", pin)
			continue
		}
		if !applyInitialPinValue(state, value) {
			r.log().Warn("initial pin value has wrong type, skipped",
				"device_id", t.DeviceID, "pin", pin, "value", value)
		}
	}
	for id, value := range opts.InitialSensors {
		sensor, ok := t.Sensors[id]
		if !ok {
			r.log().Warn("initial state for unknown sensor skipped", "device_id", t.DeviceID, "sensor", id)
			continue
		}
		sensor.Value = value
	}
}

// applyInitialPinValue writes a seed value into the pin's active
// variant. Digital pins accept bool, analog pins int or float64.
func applyInitialPinValue(state *PinState, value any) bool {
	switch state.Type {
	case PinDigital:
		v, ok := value.(bool)
		if !ok {
			return false
		}
		state.Digital.Value = v
	case PinAnalog:
		switch v := value.(type) {
		case int:
			state.Analog.Value = v
		case float64:
			state.Analog.Value = int(v)
		default:
			return false
		}
	case PinPWM:
		v, ok := value.(float64)
		if !ok {
			return false
		}
		state.PWM.DutyCycle = v
	default:
		return false
	}
	return true
}

// Get returns a deep copy of the twin for deviceID.
func (r *Registry) Get(deviceID string) (*Twin, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.twins[deviceID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTwinNotFound, deviceID)
	}
	return t.DeepCopy(), nil
}

// Has reports whether a twin is registered for deviceID.
func (r *Registry) Has(deviceID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.twins[deviceID]
	return ok
}

// List returns deep copies of all twins, sorted by device id.
func (r *Registry) List() []*Twin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Twin, 0, len(r.twins))
	for _, t := range r.twins {
		out = append(out, t.DeepCopy())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DeviceID < out[j].DeviceID })
	return out
}

// Count returns the number of registered twins.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.twins)
}

// Remove deletes the twin for deviceID.
func (r *Registry) Remove(deviceID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.twins[deviceID]; !ok {
		return fmt.Errorf("%w: %s", ErrTwinNotFound, deviceID)
	}
	delete(r.twins, deviceID)
	return nil
}

// Mutate runs fn against the live twin for deviceID under the write
// lock. This is the only mutation path; the sync engine and the write
// validator use it so every state change is serialised per registry.
//
// fn must not retain the twin beyond the call.
func (r *Registry) Mutate(deviceID string, fn func(*Twin) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.twins[deviceID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTwinNotFound, deviceID)
	}
	return fn(t)
}

// SetConnected flips the twin's connectivity flag.
func (r *Registry) SetConnected(deviceID string, connected bool) error {
	return r.Mutate(deviceID, func(t *Twin) error {
		t.Connected = connected
		return nil
	})
}

// newTwinFromTemplate builds the initial twin state from a template.
//
// Templates describe pins per electrical role, so one physical pin can
// appear as both a digital and an analog definition. The twin keeps a
// single entry per pin number: definitions are merged, the variant
// follows the strongest role (digital over analog over pwm), and the
// losing definition's name survives as an alias.
func newTwinFromTemplate(tpl *board.Template, deviceID string) *Twin {
	t := &Twin{
		DeviceID:    deviceID,
		BoardID:     tpl.BoardID,
		DisplayName: tpl.DisplayName,
		Connected:   false,
		Pins:        make(map[int]*PinState),
		Buses:       make(map[string]*BusState),
		Sensors:     make(map[string]*SensorState),
		Actuators:   make(map[string]*ActuatorState),
		Board: BoardFeatureState{
			Buttons: make(map[string]bool),
		},
		Simulation: DefaultSimulationSettings(),
	}

	for i := range tpl.Pins {
		def := &tpl.Pins[i]
		existing, ok := t.Pins[def.Number]
		if !ok {
			t.Pins[def.Number] = pinStateFromDefinition(def)
			continue
		}
		mergePinDefinition(existing, def)
	}

	// Buses start unconfigured: frequency and device lists are filled in
	// once user code opens the bus and a sync observes it.
	for _, def := range tpl.Buses.I2C {
		t.Buses[def.ID] = &BusState{ID: def.ID, Kind: BusI2C}
	}
	for _, def := range tpl.Buses.SPI {
		t.Buses[def.ID] = &BusState{ID: def.ID, Kind: BusSPI}
	}
	for _, def := range tpl.Buses.UART {
		t.Buses[def.ID] = &BusState{ID: def.ID, Kind: BusUART}
	}

	for i := range tpl.Sensors {
		def := &tpl.Sensors[i]
		t.Sensors[def.ID] = &SensorState{
			ID:       def.ID,
			Name:     def.Name,
			Type:     def.Type,
			Unit:     def.Unit,
			Min:      def.Min,
			Max:      def.Max,
			Accuracy: def.Accuracy,
			Active:   true,
			Value:    initialSensorValue(def),
		}
	}

	for i := range tpl.Actuators {
		def := &tpl.Actuators[i]
		t.Actuators[def.ID] = &ActuatorState{
			ID:   def.ID,
			Name: def.Name,
			Type: def.Type,
			Pin:  def.Pin,
		}
	}

	return t
}

// initialSensorValue picks the pre-sync reading: the middle of the
// sensor's declared range.
func initialSensorValue(def *board.SensorDefinition) float64 {
	if def.Max > def.Min {
		return (def.Min + def.Max) / 2
	}
	return 0
}

// rolePrecedence orders pin roles for variant selection when a pin
// number carries several definitions.
func rolePrecedence(role board.PinRole) int {
	switch role {
	case board.RoleDigital:
		return 3
	case board.RoleAnalog:
		return 2
	case board.RolePWM:
		return 1
	default:
		return 0
	}
}

func pinStateFromDefinition(def *board.PinDefinition) *PinState {
	s := &PinState{
		Pin:          def.Number,
		Name:         def.Name,
		Aliases:      append([]string(nil), def.Aliases...),
		Capabilities: append([]board.PinCapability(nil), def.Capabilities...),
		Reserved:     def.Reserved,
		Voltage:      def.Voltage,
	}
	applyPinVariant(s, def.Role)
	return s
}

// applyPinVariant sets the variant fields for the given role, clearing
// the others. Exactly one variant pointer is non-nil afterwards.
func applyPinVariant(s *PinState, role board.PinRole) {
	s.Digital, s.Analog, s.PWM = nil, nil, nil
	switch role {
	case board.RoleAnalog:
		s.Type = PinAnalog
		ref := s.Voltage
		if ref <= 0 {
			ref = 3.3
		}
		s.Analog = &AnalogPinState{
			Resolution:       16,
			ReferenceVoltage: ref,
		}
	case board.RolePWM:
		s.Type = PinPWM
		s.PWM = &PWMPinState{}
	default:
		s.Type = PinDigital
		s.Digital = &DigitalPinState{
			Mode:  ModeInput,
			Pull:  PullNone,
			Drive: DrivePushPull,
		}
	}
}

// mergePinDefinition folds another role's definition for the same pin
// number into an existing state.
func mergePinDefinition(s *PinState, def *board.PinDefinition) {
	current := currentRole(s)
	if rolePrecedence(def.Role) > rolePrecedence(current) {
		// The new role wins the variant; the old name becomes an alias.
		if s.Name != def.Name {
			s.Aliases = append(s.Aliases, s.Name)
			s.Name = def.Name
		}
		applyPinVariant(s, def.Role)
	} else if def.Name != s.Name {
		s.Aliases = append(s.Aliases, def.Name)
	}

	for _, alias := range def.Aliases {
		if alias != s.Name && !containsString(s.Aliases, alias) {
			s.Aliases = append(s.Aliases, alias)
		}
	}
	for _, c := range def.Capabilities {
		if !s.HasCapability(c) {
			s.Capabilities = append(s.Capabilities, c)
		}
	}
	if def.Reserved {
		s.Reserved = true
	}
	if s.Voltage == 0 {
		s.Voltage = def.Voltage
	}
}

func currentRole(s *PinState) board.PinRole {
	switch s.Type {
	case PinAnalog:
		return board.RoleAnalog
	case PinPWM:
		return board.RolePWM
	default:
		return board.RoleDigital
	}
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// Touch updates the twin's last-sync timestamp.
func (r *Registry) Touch(deviceID string, at time.Time) error {
	return r.Mutate(deviceID, func(t *Twin) error {
		t.LastSync = at
		return nil
	})
}
