package probe

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/twincore/internal/board"
)

// mockSource implements ProbeSource with canned findings.
type mockSource struct {
	mu    sync.Mutex
	calls int

	attrs    []string
	attrsErr error

	caps    map[string]PinProbe
	capsErr error

	buses    BusDetection
	busesErr error

	components    ComponentDetection
	componentsErr error
}

func (m *mockSource) BoardAttrs(_ context.Context) ([]string, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	return m.attrs, m.attrsErr
}

func (m *mockSource) PinCapabilities(_ context.Context) (map[string]PinProbe, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	return m.caps, m.capsErr
}

func (m *mockSource) DetectBuses(_ context.Context) (BusDetection, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	return m.buses, m.busesErr
}

func (m *mockSource) DetectComponents(_ context.Context) (ComponentDetection, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	return m.components, m.componentsErr
}

func (m *mockSource) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// fakeCache is an in-memory board.CacheRepository.
type fakeCache struct {
	mu      sync.Mutex
	entries map[string]*board.CacheEntry
	puts    int
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: make(map[string]*board.CacheEntry)}
}

func (c *fakeCache) Get(_ context.Context, boardID string) (*board.CacheEntry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[boardID]
	if !ok {
		return nil, board.ErrCacheMiss
	}
	return entry, nil
}

func (c *fakeCache) Put(_ context.Context, entry *board.CacheEntry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[entry.BoardID] = entry
	c.puts++
	return nil
}

func (c *fakeCache) Delete(_ context.Context, boardID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, boardID)
	return nil
}

func (c *fakeCache) ListBoardIDs(_ context.Context) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var ids []string
	for id := range c.entries {
		ids = append(ids, id)
	}
	return ids, nil
}

func (c *fakeCache) Clear(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*board.CacheEntry)
	return nil
}

func fullProbeSource() *mockSource {
	return &mockSource{
		attrs: []string{"D13", "A0", "LED", "SDA", "SCL"},
		caps: map[string]PinProbe{
			"D13": {Pin: 13, Capabilities: []string{"digital_read", "digital_write", "pwm"}, Voltage: 3.3},
			"LED": {Pin: 13, Capabilities: []string{"digital_read", "digital_write"}},
			"A0":  {Pin: 26, Capabilities: []string{"analog_read"}},
		},
		buses: BusDetection{
			I2C: &I2CDetection{SCL: 5, SDA: 4, Devices: []int{0x3C}},
		},
		components: ComponentDetection{
			Sensors: []DetectedSensor{
				{ID: "cpu_temp", Name: "CPU temperature", Type: "temperature", Unit: "C", Min: -40, Max: 85, Accuracy: 0.5},
			},
			Actuators: []DetectedActuator{
				{ID: "led0", Name: "Onboard LED", Type: "led", Pin: 13},
			},
		},
	}
}

func TestGenerateFullProbe(t *testing.T) {
	source := fullProbeSource()
	gen := NewGenerator(source, GeneratorConfig{})

	tpl, warnings, err := gen.Generate(context.Background(), "pico-test")
	if err != nil {
		t.Fatalf("Generate() error: %v", err)
	}

	if tpl.BoardID != "pico-test" {
		t.Errorf("BoardID = %q, want pico-test", tpl.BoardID)
	}

	// D13 and LED share pin 13: one digital definition, LED demoted to alias.
	digital := tpl.PinsByRole(board.RoleDigital)
	if len(digital) != 1 {
		t.Fatalf("digital pins = %d, want 1", len(digital))
	}
	if digital[0].Name != "D13" {
		t.Errorf("canonical name = %q, want D13", digital[0].Name)
	}
	if len(digital[0].Aliases) != 1 || digital[0].Aliases[0] != "LED" {
		t.Errorf("aliases = %v, want [LED]", digital[0].Aliases)
	}
	if digital[0].Voltage != 3.3 {
		t.Errorf("voltage = %v, want 3.3", digital[0].Voltage)
	}
	if !hasCapability(digital[0].Capabilities, board.CapPWM) {
		t.Error("pwm capability lost in merge")
	}

	analog := tpl.PinsByRole(board.RoleAnalog)
	if len(analog) != 1 || analog[0].Number != 26 {
		t.Fatalf("analog pins = %+v, want one at 26", analog)
	}

	if len(tpl.Buses.I2C) != 1 {
		t.Fatalf("i2c buses = %d, want 1", len(tpl.Buses.I2C))
	}
	i2c := tpl.Buses.I2C[0]
	if i2c.SCLPin != 5 || i2c.SDAPin != 4 {
		t.Errorf("i2c = %d/%d, want 5/4", i2c.SCLPin, i2c.SDAPin)
	}
	if i2c.MinFrequency != defaultI2CMinFrequency || i2c.MaxFrequency != defaultI2CMaxFrequency {
		t.Errorf("i2c frequency = %d..%d, want defaults", i2c.MinFrequency, i2c.MaxFrequency)
	}

	if len(tpl.Sensors) != 1 || tpl.Sensors[0].Type != board.SensorTemperature {
		t.Errorf("sensors = %+v, want one temperature", tpl.Sensors)
	}
	if len(tpl.Actuators) != 1 || tpl.Actuators[0].Type != board.ActuatorLED {
		t.Errorf("actuators = %+v, want one led", tpl.Actuators)
	}

	wantModules := map[string]bool{"digitalio": true, "analogio": true, "busio": true, "pwmio": true}
	for _, m := range tpl.SupportedModules {
		delete(wantModules, m)
	}
	if len(wantModules) != 0 {
		t.Errorf("SupportedModules = %v, missing %v", tpl.SupportedModules, wantModules)
	}

	if len(warnings) != 0 {
		t.Errorf("warnings = %v, want none", warnings)
	}
}

func TestGenerateBoardAttrsRequired(t *testing.T) {
	source := fullProbeSource()
	source.attrsErr = ErrProbeTimeout

	gen := NewGenerator(source, GeneratorConfig{})

	_, _, err := gen.Generate(context.Background(), "pico-test")
	if !errors.Is(err, ErrIntrospectionFailed) {
		t.Errorf("Generate() = %v, want ErrIntrospectionFailed", err)
	}
}

func TestGeneratePartialProbes(t *testing.T) {
	// Only the board-attribute probe succeeds: the template is partial
	// (numbered pins only, no buses, no components) but usable.
	source := &mockSource{
		attrs:         []string{"D0", "D1", "A0", "LED"},
		capsErr:       ErrProbeTimeout,
		busesErr:      ErrProbeTimeout,
		componentsErr: ErrProbeTimeout,
	}

	gen := NewGenerator(source, GeneratorConfig{})

	tpl, warnings, err := gen.Generate(context.Background(), "mystery-board")
	if err != nil {
		t.Fatalf("Generate() error: %v", err)
	}

	digital := tpl.PinsByRole(board.RoleDigital)
	if len(digital) != 2 {
		t.Errorf("digital pins = %d, want 2 (D0, D1)", len(digital))
	}
	analog := tpl.PinsByRole(board.RoleAnalog)
	if len(analog) != 1 {
		t.Errorf("analog pins = %d, want 1 (A0)", len(analog))
	}
	// LED cannot be placed without capability data.
	if _, found := tpl.FindPin("LED"); found {
		t.Error("LED should be unplaceable without the capability probe")
	}

	if tpl.BusCount() != 0 {
		t.Errorf("BusCount() = %d, want 0", tpl.BusCount())
	}
	if tpl.ComponentCount() != 0 {
		t.Errorf("ComponentCount() = %d, want 0", tpl.ComponentCount())
	}

	if len(warnings) < 3 {
		t.Fatalf("warnings = %v, want one per failed probe", warnings)
	}
	joined := strings.Join(warnings, "\n")
	for _, fragment := range []string{"pin capability", "bus detection", "component detection"} {
		if !strings.Contains(joined, fragment) {
			t.Errorf("warnings missing %q: %v", fragment, warnings)
		}
	}
}

func TestGeneratePersistsToCache(t *testing.T) {
	source := fullProbeSource()
	cache := newFakeCache()

	gen := NewGenerator(source, GeneratorConfig{Cache: cache})

	if _, _, err := gen.Generate(context.Background(), "pico-test"); err != nil {
		t.Fatalf("Generate() error: %v", err)
	}

	entry, err := cache.Get(context.Background(), "pico-test")
	if err != nil {
		t.Fatalf("cache.Get() error: %v", err)
	}
	if entry.Template == nil || entry.Template.BoardID != "pico-test" {
		t.Errorf("cached template = %+v", entry.Template)
	}
	if entry.Version != 1 {
		t.Errorf("Version = %d, want 1", entry.Version)
	}
}

func TestTemplateStoreWins(t *testing.T) {
	store := board.NewStore()
	if _, err := store.Register(board.GenericTemplate()); err != nil {
		t.Fatalf("Register() error: %v", err)
	}

	source := fullProbeSource()
	gen := NewGenerator(source, GeneratorConfig{Store: store})

	tpl, err := gen.Template(context.Background(), board.GenericBoardID)
	if err != nil {
		t.Fatalf("Template() error: %v", err)
	}
	if tpl.BoardID != board.GenericBoardID {
		t.Errorf("BoardID = %q, want %q", tpl.BoardID, board.GenericBoardID)
	}
	if source.callCount() != 0 {
		t.Errorf("probe calls = %d, want 0 (registered template wins)", source.callCount())
	}
}

func TestTemplateFreshCacheHit(t *testing.T) {
	cache := newFakeCache()
	cache.entries["pico-test"] = &board.CacheEntry{
		BoardID:     "pico-test",
		Template:    &board.Template{BoardID: "pico-test", DisplayName: "cached"},
		GeneratedAt: time.Now().Add(-time.Hour),
		Version:     1,
	}

	source := fullProbeSource()
	gen := NewGenerator(source, GeneratorConfig{Cache: cache})

	tpl, err := gen.Template(context.Background(), "pico-test")
	if err != nil {
		t.Fatalf("Template() error: %v", err)
	}
	if tpl.DisplayName != "cached" {
		t.Errorf("DisplayName = %q, want cached (fresh cache entry must win)", tpl.DisplayName)
	}
	if source.callCount() != 0 {
		t.Errorf("probe calls = %d, want 0", source.callCount())
	}
}

func TestTemplateStaleCacheRegenerates(t *testing.T) {
	cache := newFakeCache()
	cache.entries["pico-test"] = &board.CacheEntry{
		BoardID:     "pico-test",
		Template:    &board.Template{BoardID: "pico-test", DisplayName: "stale"},
		GeneratedAt: time.Now().Add(-8 * 24 * time.Hour),
		Version:     1,
	}

	source := fullProbeSource()
	gen := NewGenerator(source, GeneratorConfig{Cache: cache})

	tpl, err := gen.Template(context.Background(), "pico-test")
	if err != nil {
		t.Fatalf("Template() error: %v", err)
	}
	if tpl.DisplayName == "stale" {
		t.Error("stale entry served despite working probes")
	}
	if source.callCount() == 0 {
		t.Error("stale entry must trigger regeneration")
	}

	entry, err := cache.Get(context.Background(), "pico-test")
	if err != nil {
		t.Fatalf("cache.Get() error: %v", err)
	}
	if entry.Template.DisplayName == "stale" {
		t.Error("regenerated template not persisted")
	}
}

func TestTemplateStaleFallbackWhenRegenerationFails(t *testing.T) {
	cache := newFakeCache()
	cache.entries["pico-test"] = &board.CacheEntry{
		BoardID:     "pico-test",
		Template:    &board.Template{BoardID: "pico-test", DisplayName: "stale"},
		GeneratedAt: time.Now().Add(-8 * 24 * time.Hour),
		Version:     1,
	}

	source := fullProbeSource()
	source.attrsErr = ErrProbeTimeout

	gen := NewGenerator(source, GeneratorConfig{Cache: cache})

	tpl, err := gen.Template(context.Background(), "pico-test")
	if err != nil {
		t.Fatalf("Template() error: %v (stale entry should have been served)", err)
	}
	if tpl.DisplayName != "stale" {
		t.Errorf("DisplayName = %q, want stale fallback", tpl.DisplayName)
	}
}

func TestTemplateGenerationFailureWithoutFallback(t *testing.T) {
	source := fullProbeSource()
	source.attrsErr = ErrProbeTimeout

	gen := NewGenerator(source, GeneratorConfig{})

	_, err := gen.Template(context.Background(), "pico-test")
	if !errors.Is(err, ErrIntrospectionFailed) {
		t.Errorf("Template() = %v, want ErrIntrospectionFailed", err)
	}
}
