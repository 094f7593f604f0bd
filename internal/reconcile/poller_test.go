package reconcile

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/twincore/internal/bus"
	"github.com/nerrad567/twincore/internal/probe"
	"github.com/nerrad567/twincore/internal/twin"
)

// fakeProbe is a scriptable DeviceProbe.
type fakeProbe struct {
	mu      sync.Mutex
	pollFn  func(ctx context.Context) (probe.DeviceState, error)
	writeFn func(ctx context.Context, pin int, value any, mode string) (any, error)
	polls   int
	writes  int
}

func (f *fakeProbe) PollState(ctx context.Context) (probe.DeviceState, error) {
	f.mu.Lock()
	f.polls++
	fn := f.pollFn
	f.mu.Unlock()
	if fn == nil {
		return probe.DeviceState{}, nil
	}
	return fn(ctx)
}

func (f *fakeProbe) WriteGPIO(ctx context.Context, pin int, value any, mode string) (any, error) {
	f.mu.Lock()
	f.writes++
	fn := f.writeFn
	f.mu.Unlock()
	if fn == nil {
		return nil, errors.New("unexpected GPIO write")
	}
	return fn(ctx, pin, value, mode)
}

func (f *fakeProbe) pollCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.polls
}

func (f *fakeProbe) writeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.writes
}

// waitFor polls cond until it holds or the deadline passes.
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

// newPollerRig wires registry, engine, attachments and a poller with a
// fast tick. The twin is physical; connectedness is per-test.
func newPollerRig(t *testing.T) (*Poller, *Attachments, *twin.Registry, *Engine) {
	t.Helper()
	registry := twin.NewRegistry()
	events := bus.New()
	mustTwin(t, registry, "dev-01", false)

	engine, err := NewEngine(Options{Registry: registry, Bus: events, ThrottleWindow: time.Millisecond})
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}
	t.Cleanup(engine.Close)

	attachments := NewAttachments()
	poller, err := NewPoller(PollerOptions{
		Attachments: attachments,
		Registry:    registry,
		Engine:      engine,
		Interval:    5 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewPoller() error = %v", err)
	}
	t.Cleanup(poller.Stop)
	return poller, attachments, registry, engine
}

func TestNewPoller_RequiresDependencies(t *testing.T) {
	registry := twin.NewRegistry()
	events := bus.New()
	engine, err := NewEngine(Options{Registry: registry, Bus: events})
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}
	defer engine.Close()

	cases := []struct {
		name string
		opts PollerOptions
	}{
		{"missing attachments", PollerOptions{Registry: registry, Engine: engine}},
		{"missing registry", PollerOptions{Attachments: NewAttachments(), Engine: engine}},
		{"missing engine", PollerOptions{Attachments: NewAttachments(), Registry: registry}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewPoller(tc.opts); err == nil {
				t.Error("NewPoller() succeeded, want error")
			}
		})
	}
}

func TestPoller_PollsConnectedTwin(t *testing.T) {
	poller, attachments, registry, _ := newPollerRig(t)

	fake := &fakeProbe{pollFn: func(context.Context) (probe.DeviceState, error) {
		return probe.DeviceState{
			Pins: map[string]probe.PinReading{"2": {Value: true, Mode: "output"}},
		}, nil
	}}
	attachments.Attach("dev-01", fake)
	if err := registry.SetConnected("dev-01", true); err != nil {
		t.Fatalf("SetConnected() error = %v", err)
	}

	if err := poller.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	waitFor(t, 2*time.Second, func() bool {
		tw, err := registry.Get("dev-01")
		return err == nil && tw.Pins[2].Digital.Value
	}, "observed state never reached the twin")

	if fake.pollCount() == 0 {
		t.Error("probe was never polled")
	}
}

func TestPoller_NoChangePollRefreshesLastSync(t *testing.T) {
	poller, attachments, registry, _ := newPollerRig(t)

	// Empty snapshot: nothing to merge, so only the poller's own stamp
	// can move LastSync.
	fake := &fakeProbe{pollFn: func(context.Context) (probe.DeviceState, error) {
		return probe.DeviceState{}, nil
	}}
	attachments.Attach("dev-01", fake)
	if err := registry.SetConnected("dev-01", true); err != nil {
		t.Fatalf("SetConnected() error = %v", err)
	}

	if err := poller.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	waitFor(t, 2*time.Second, func() bool {
		tw, err := registry.Get("dev-01")
		return err == nil && !tw.LastSync.IsZero()
	}, "LastSync never stamped by a clean no-change poll")
}

func TestPoller_StartTwice(t *testing.T) {
	poller, _, _, _ := newPollerRig(t)

	if err := poller.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := poller.Start(); err == nil {
		t.Error("second Start() succeeded, want error")
	}
}

func TestPoller_SkipsSimulatedTwin(t *testing.T) {
	poller, attachments, registry, _ := newPollerRig(t)
	mustTwin(t, registry, "sim-01", true)
	if err := registry.SetConnected("sim-01", true); err != nil {
		t.Fatalf("SetConnected() error = %v", err)
	}

	fake := &fakeProbe{}
	attachments.Attach("sim-01", fake)

	if err := poller.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	waitFor(t, 2*time.Second, func() bool {
		return poller.Stats().Cycles >= 3
	}, "poller never ticked")

	if got := fake.pollCount(); got != 0 {
		t.Errorf("simulated twin polled %d times, want 0", got)
	}
}

func TestPoller_SkipsDisconnectedTwin(t *testing.T) {
	poller, attachments, _, _ := newPollerRig(t)

	// dev-01 exists but was never marked connected.
	fake := &fakeProbe{}
	attachments.Attach("dev-01", fake)

	if err := poller.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	waitFor(t, 2*time.Second, func() bool {
		return poller.Stats().Cycles >= 3
	}, "poller never ticked")

	if got := fake.pollCount(); got != 0 {
		t.Errorf("disconnected twin polled %d times, want 0", got)
	}
}

func TestPoller_MissedPollIsSilent(t *testing.T) {
	poller, attachments, registry, _ := newPollerRig(t)

	fake := &fakeProbe{pollFn: func(context.Context) (probe.DeviceState, error) {
		return probe.DeviceState{}, errors.New("serial noise")
	}}
	attachments.Attach("dev-01", fake)
	if err := registry.SetConnected("dev-01", true); err != nil {
		t.Fatalf("SetConnected() error = %v", err)
	}

	if err := poller.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	// Misses accumulate; the loop keeps running and keeps trying.
	waitFor(t, 2*time.Second, func() bool {
		return poller.Stats().Misses >= 2
	}, "missed polls were not recorded")

	tw, err := registry.Get("dev-01")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if tw.Pins[2].Digital.Value {
		t.Error("failed polls mutated the twin")
	}
}

func TestPoller_OnePollInFlightPerDevice(t *testing.T) {
	poller, attachments, registry, _ := newPollerRig(t)

	release := make(chan struct{})
	fake := &fakeProbe{pollFn: func(ctx context.Context) (probe.DeviceState, error) {
		select {
		case <-release:
		case <-ctx.Done():
		}
		return probe.DeviceState{}, nil
	}}
	attachments.Attach("dev-01", fake)
	if err := registry.SetConnected("dev-01", true); err != nil {
		t.Fatalf("SetConnected() error = %v", err)
	}

	if err := poller.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	// Many ticks pass while the first poll blocks; no second poll starts.
	waitFor(t, 2*time.Second, func() bool {
		return poller.Stats().Cycles >= 5
	}, "poller never ticked")

	if got := fake.pollCount(); got != 1 {
		t.Errorf("in-flight device polled %d times, want 1", got)
	}
	close(release)

	waitFor(t, 2*time.Second, func() bool {
		return fake.pollCount() >= 2
	}, "poll never resumed after the in-flight one finished")
}

func TestPoller_DetachStopsPolling(t *testing.T) {
	poller, attachments, registry, _ := newPollerRig(t)

	fake := &fakeProbe{}
	attachments.Attach("dev-01", fake)
	if err := registry.SetConnected("dev-01", true); err != nil {
		t.Fatalf("SetConnected() error = %v", err)
	}

	if err := poller.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitFor(t, 2*time.Second, func() bool {
		return fake.pollCount() >= 1
	}, "device was never polled")

	attachments.Detach("dev-01")
	settled := fake.pollCount()
	cyclesAtDetach := poller.Stats().Cycles
	waitFor(t, 2*time.Second, func() bool {
		return poller.Stats().Cycles >= cyclesAtDetach+3
	}, "poller never ticked after detach")

	// A poll already started may still land; nothing new after that.
	if got := fake.pollCount(); got > settled+1 {
		t.Errorf("detached device polled %d times after detach", got-settled)
	}
}

func TestPoller_OnPollCallback(t *testing.T) {
	poller, attachments, registry, _ := newPollerRig(t)

	fake := &fakeProbe{pollFn: func(context.Context) (probe.DeviceState, error) {
		return probe.DeviceState{}, nil
	}}
	attachments.Attach("dev-01", fake)
	if err := registry.SetConnected("dev-01", true); err != nil {
		t.Fatalf("SetConnected() error = %v", err)
	}

	type pollResult struct {
		deviceID string
		duration time.Duration
		err      error
	}
	var mu sync.Mutex
	var results []pollResult
	poller.SetOnPoll(func(deviceID string, duration time.Duration, err error) {
		mu.Lock()
		results = append(results, pollResult{deviceID, duration, err})
		mu.Unlock()
	})

	if err := poller.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	waitFor(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(results) >= 1
	}, "poll callback never fired")

	mu.Lock()
	first := results[0]
	mu.Unlock()
	if first.deviceID != "dev-01" {
		t.Errorf("callback deviceID = %q, want %q", first.deviceID, "dev-01")
	}
	if first.duration < 0 {
		t.Errorf("callback duration = %v, want >= 0", first.duration)
	}
	if first.err != nil {
		t.Errorf("callback err = %v, want nil", first.err)
	}
}

func TestPoller_OnPollCallbackReportsMisses(t *testing.T) {
	poller, attachments, registry, _ := newPollerRig(t)

	fake := &fakeProbe{pollFn: func(context.Context) (probe.DeviceState, error) {
		return probe.DeviceState{}, errors.New("serial noise")
	}}
	attachments.Attach("dev-01", fake)
	if err := registry.SetConnected("dev-01", true); err != nil {
		t.Fatalf("SetConnected() error = %v", err)
	}

	var mu sync.Mutex
	var lastErr error
	var fired bool
	poller.SetOnPoll(func(_ string, _ time.Duration, err error) {
		mu.Lock()
		lastErr = err
		fired = true
		mu.Unlock()
	})

	if err := poller.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	waitFor(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return fired
	}, "poll callback never fired")

	mu.Lock()
	defer mu.Unlock()
	if lastErr == nil {
		t.Error("callback err = nil for a missed poll, want non-nil")
	}
}

func TestPoller_StopIsIdempotent(t *testing.T) {
	poller, _, _, _ := newPollerRig(t)
	if err := poller.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	poller.Stop()
	poller.Stop()
}
