package simulate

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/twincore/internal/board"
	"github.com/nerrad567/twincore/internal/bus"
	"github.com/nerrad567/twincore/internal/reconcile"
	"github.com/nerrad567/twincore/internal/twin"
)

// stubSource resolves exactly one template.
type stubSource struct {
	tpl *board.Template
}

func (s *stubSource) Template(_ context.Context, boardID string) (*board.Template, error) {
	if s.tpl == nil || s.tpl.BoardID != boardID {
		return nil, board.ErrTemplateNotFound
	}
	return s.tpl.DeepCopy(), nil
}

func testTemplate() *board.Template {
	return &board.Template{
		BoardID:     "test-board",
		DisplayName: "Test Board",
		Pins: []board.PinDefinition{
			{Number: 2, Name: "D2", Role: board.RoleDigital,
				Capabilities: []board.PinCapability{board.CapDigitalRead, board.CapDigitalWrite}},
		},
		Sensors: []board.SensorDefinition{
			{ID: "temp0", Type: board.SensorTemperature, Unit: "celsius",
				Min: -40, Max: 85, Accuracy: 0.5},
		},
		SupportedModules: []string{"digitalio"},
	}
}

// mustTwin registers a twin; interval and simulation flag are per-test.
func mustTwin(t *testing.T, r *twin.Registry, deviceID string, settings *twin.SimulationSettings) {
	t.Helper()
	_, err := r.CreateTwin(context.Background(), "test-board", deviceID,
		twin.CreateOptions{Simulation: settings}, &stubSource{tpl: testTemplate()})
	if err != nil {
		t.Fatalf("CreateTwin(%s) error = %v", deviceID, err)
	}
}

func fastSimulation() *twin.SimulationSettings {
	return &twin.SimulationSettings{
		Simulated:        true,
		UpdateIntervalMs: 5,
		NoiseLevel:       0.01,
	}
}

// recordingWriter captures writes without committing them.
type recordingWriter struct {
	mu     sync.Mutex
	values []float64
	err    error
}

func (w *recordingWriter) UpdateSensorValue(_ context.Context, _, _ string, value float64) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.values = append(w.values, value)
	return nil
}

func (w *recordingWriter) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.values)
}

func (w *recordingWriter) first() float64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.values) == 0 {
		return 0
	}
	return w.values[0]
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal(msg)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

// newDriverRig wires a registry and driver over a recording writer.
func newDriverRig(t *testing.T) (*Driver, *twin.Registry, *recordingWriter) {
	t.Helper()
	registry := twin.NewRegistry()
	writer := &recordingWriter{}

	driver, err := New(Options{Registry: registry, Writer: writer})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(driver.Close)
	return driver, registry, writer
}

func TestNew_RequiresDependencies(t *testing.T) {
	if _, err := New(Options{Writer: &recordingWriter{}}); err == nil {
		t.Error("New() without registry succeeded, want error")
	}
	if _, err := New(Options{Registry: twin.NewRegistry()}); err == nil {
		t.Error("New() without writer succeeded, want error")
	}
}

func TestDriver_DrivesSensorWrites(t *testing.T) {
	driver, registry, writer := newDriverRig(t)
	mustTwin(t, registry, "sim-01", fastSimulation())

	if err := driver.StartTwin("sim-01"); err != nil {
		t.Fatalf("StartTwin() error = %v", err)
	}

	waitFor(t, 2*time.Second, func() bool {
		return writer.count() >= 3
	}, "driver never produced sensor writes")

	if got := driver.Stats().Writes; got < 3 {
		t.Errorf("Stats().Writes = %d, want >= 3", got)
	}
}

func TestDriver_NoiseIsRangeRelative(t *testing.T) {
	driver, registry, writer := newDriverRig(t)
	mustTwin(t, registry, "sim-01", fastSimulation())

	// Pin the noise source to its positive extreme: each tick moves the
	// reading by exactly NoiseLevel × range span.
	driver.noise = func() float64 { return 1 }

	if err := driver.StartTwin("sim-01"); err != nil {
		t.Fatalf("StartTwin() error = %v", err)
	}
	waitFor(t, 2*time.Second, func() bool {
		return writer.count() >= 1
	}, "driver never wrote")

	// temp0 starts at the -40..85 midpoint 22.5; span 125 × 1% = 1.25.
	if got, want := writer.first(), 23.75; got != want {
		t.Errorf("first simulated reading = %v, want %v", got, want)
	}
}

func TestDriver_RelaxationPullsTowardBaseline(t *testing.T) {
	registry := twin.NewRegistry()
	events := bus.New()
	mustTwin(t, registry, "sim-01", &twin.SimulationSettings{
		Simulated:        true,
		UpdateIntervalMs: 5,
		NoiseLevel:       0, // isolate the relaxation term
		EmulatePhysics:   true,
	})

	// Route through the real validator so each committed reading feeds
	// the next tick.
	validator, err := reconcile.NewValidator(reconcile.ValidatorOptions{
		Registry:    registry,
		Bus:         events,
		Attachments: reconcile.NewAttachments(),
	})
	if err != nil {
		t.Fatalf("NewValidator() error = %v", err)
	}

	driver, err := New(Options{Registry: registry, Writer: validator})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(driver.Close)

	// Disturb the reading far above the 22.5 baseline.
	if err := validator.UpdateSensorValue(context.Background(), "sim-01", "temp0", 80); err != nil {
		t.Fatalf("UpdateSensorValue() error = %v", err)
	}

	if err := driver.StartTwin("sim-01"); err != nil {
		t.Fatalf("StartTwin() error = %v", err)
	}

	waitFor(t, 5*time.Second, func() bool {
		tw, err := registry.Get("sim-01")
		return err == nil && tw.Sensors["temp0"].Value < 50
	}, "reading never relaxed toward the baseline")

	tw, _ := registry.Get("sim-01")
	if got := tw.Sensors["temp0"].Value; got < 22.5 {
		t.Errorf("reading overshot the baseline: %v", got)
	}
}

func TestDriver_StartTwinValidation(t *testing.T) {
	driver, registry, _ := newDriverRig(t)
	mustTwin(t, registry, "phys-01", nil)

	if err := driver.StartTwin("ghost"); !errors.Is(err, twin.ErrTwinNotFound) {
		t.Errorf("unknown device error = %v, want ErrTwinNotFound", err)
	}
	if err := driver.StartTwin("phys-01"); !errors.Is(err, ErrNotSimulated) {
		t.Errorf("physical twin error = %v, want ErrNotSimulated", err)
	}
}

func TestDriver_StartTwinIdempotent(t *testing.T) {
	driver, registry, _ := newDriverRig(t)
	mustTwin(t, registry, "sim-01", fastSimulation())

	if err := driver.StartTwin("sim-01"); err != nil {
		t.Fatalf("first StartTwin() error = %v", err)
	}
	if err := driver.StartTwin("sim-01"); err != nil {
		t.Fatalf("second StartTwin() error = %v", err)
	}
	if got := driver.Running(); len(got) != 1 || got[0] != "sim-01" {
		t.Errorf("Running() = %v, want [sim-01]", got)
	}
}

func TestDriver_StartAll(t *testing.T) {
	driver, registry, _ := newDriverRig(t)
	mustTwin(t, registry, "sim-01", fastSimulation())
	mustTwin(t, registry, "sim-02", fastSimulation())
	mustTwin(t, registry, "phys-01", nil)

	if got := driver.StartAll(); got != 2 {
		t.Errorf("StartAll() = %d, want 2", got)
	}
	if got := driver.Running(); len(got) != 2 {
		t.Errorf("Running() = %v, want two driven twins", got)
	}
}

func TestDriver_StopTwin(t *testing.T) {
	driver, registry, writer := newDriverRig(t)
	mustTwin(t, registry, "sim-01", fastSimulation())

	if err := driver.StartTwin("sim-01"); err != nil {
		t.Fatalf("StartTwin() error = %v", err)
	}
	waitFor(t, 2*time.Second, func() bool {
		return writer.count() >= 1
	}, "driver never wrote")

	driver.StopTwin("sim-01")
	waitFor(t, 2*time.Second, func() bool {
		return len(driver.Running()) == 0
	}, "StopTwin never removed the twin")

	settled := writer.count()
	time.Sleep(30 * time.Millisecond)
	if got := writer.count(); got > settled+1 {
		t.Errorf("writes continued after stop: %d new", got-settled)
	}

	driver.StopTwin("sim-01") // no-op
	driver.StopTwin("ghost")  // no-op
}

func TestDriver_SelfStopsWhenTwinRemoved(t *testing.T) {
	driver, registry, _ := newDriverRig(t)
	mustTwin(t, registry, "sim-01", fastSimulation())

	if err := driver.StartTwin("sim-01"); err != nil {
		t.Fatalf("StartTwin() error = %v", err)
	}
	if err := registry.Remove("sim-01"); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}

	waitFor(t, 2*time.Second, func() bool {
		return len(driver.Running()) == 0
	}, "driver kept driving a removed twin")
}

func TestDriver_RejectedWritesCounted(t *testing.T) {
	driver, registry, writer := newDriverRig(t)
	mustTwin(t, registry, "sim-01", fastSimulation())
	writer.err = errors.New("writer unavailable")

	if err := driver.StartTwin("sim-01"); err != nil {
		t.Fatalf("StartTwin() error = %v", err)
	}

	waitFor(t, 2*time.Second, func() bool {
		return driver.Stats().Rejected >= 2
	}, "rejected writes were not counted")

	// Rejection does not stop the loop.
	if got := driver.Running(); len(got) != 1 {
		t.Errorf("Running() = %v, want the twin still driven", got)
	}
}

func TestDriver_Close(t *testing.T) {
	driver, registry, _ := newDriverRig(t)
	mustTwin(t, registry, "sim-01", fastSimulation())

	if err := driver.StartTwin("sim-01"); err != nil {
		t.Fatalf("StartTwin() error = %v", err)
	}

	driver.Close()
	driver.Close() // idempotent

	if got := driver.Running(); len(got) != 0 {
		t.Errorf("Running() = %v after Close, want empty", got)
	}
	if err := driver.StartTwin("sim-01"); !errors.Is(err, ErrDriverClosed) {
		t.Errorf("StartTwin() after Close error = %v, want ErrDriverClosed", err)
	}
}
