package process

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

// waitFor polls cond until it holds or the timeout expires.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestNewManager_Defaults(t *testing.T) {
	cfg := Config{
		Name:   "test-proc",
		Binary: "/usr/bin/test",
		Args:   []string{"--flag"},
	}

	m := NewManager(cfg)

	if m.config.Name != "test-proc" {
		t.Errorf("Name = %q, want %q", m.config.Name, "test-proc")
	}
	if m.config.Binary != "/usr/bin/test" {
		t.Errorf("Binary = %q, want %q", m.config.Binary, "/usr/bin/test")
	}
	if m.config.RestartDelay != 5*time.Second {
		t.Errorf("RestartDelay = %v, want %v", m.config.RestartDelay, 5*time.Second)
	}
	if m.config.MaxRestartDelay != 5*time.Minute {
		t.Errorf("MaxRestartDelay = %v, want %v", m.config.MaxRestartDelay, 5*time.Minute)
	}
	if m.config.StableThreshold != 2*time.Minute {
		t.Errorf("StableThreshold = %v, want %v", m.config.StableThreshold, 2*time.Minute)
	}
	if m.config.GracefulTimeout != 10*time.Second {
		t.Errorf("GracefulTimeout = %v, want %v", m.config.GracefulTimeout, 10*time.Second)
	}
}

func TestNewManager_CustomConfig(t *testing.T) {
	cfg := Config{
		Name:               "custom",
		Binary:             "/opt/bin/daemon",
		Args:               []string{"-v", "--port=8080"},
		RestartDelay:       10 * time.Second,
		MaxRestartDelay:    10 * time.Minute,
		StableThreshold:    5 * time.Minute,
		GracefulTimeout:    30 * time.Second,
		MaxRestartAttempts: 20,
	}

	m := NewManager(cfg)

	if m.config.RestartDelay != 10*time.Second {
		t.Errorf("RestartDelay = %v, want %v", m.config.RestartDelay, 10*time.Second)
	}
	if m.config.MaxRestartDelay != 10*time.Minute {
		t.Errorf("MaxRestartDelay = %v, want %v", m.config.MaxRestartDelay, 10*time.Minute)
	}
	if m.config.MaxRestartAttempts != 20 {
		t.Errorf("MaxRestartAttempts = %d, want 20", m.config.MaxRestartAttempts)
	}
}

func TestDefaultConfig_Function(t *testing.T) {
	cfg := DefaultConfig("proxy", "/usr/sbin/ser2net", []string{"-n"})

	if cfg.Name != "proxy" {
		t.Errorf("Name = %q, want %q", cfg.Name, "proxy")
	}
	if cfg.Binary != "/usr/sbin/ser2net" {
		t.Errorf("Binary = %q, want %q", cfg.Binary, "/usr/sbin/ser2net")
	}
	if len(cfg.Args) != 1 || cfg.Args[0] != "-n" {
		t.Errorf("Args = %v, want [-n]", cfg.Args)
	}
	if !cfg.RestartOnFailure {
		t.Error("RestartOnFailure = false, want true")
	}
	if cfg.MaxRestartAttempts != 10 {
		t.Errorf("MaxRestartAttempts = %d, want 10", cfg.MaxRestartAttempts)
	}
}

func TestManager_InitialState(t *testing.T) {
	m := NewManager(Config{
		Name:   "test",
		Binary: "/bin/true",
	})

	if m.Status() != StatusStopped {
		t.Errorf("initial Status() = %q, want %q", m.Status(), StatusStopped)
	}
	if m.IsRunning() {
		t.Error("IsRunning() = true, want false")
	}
	if m.PID() != 0 {
		t.Errorf("PID() = %d, want 0", m.PID())
	}
	if m.RestartCount() != 0 {
		t.Errorf("RestartCount() = %d, want 0", m.RestartCount())
	}
	if m.Uptime() != 0 {
		t.Errorf("Uptime() = %v, want 0", m.Uptime())
	}
	if m.LastError() != nil {
		t.Errorf("LastError() = %v, want nil", m.LastError())
	}
}

func TestManager_Stats(t *testing.T) {
	m := NewManager(Config{
		Name:   "stats-test",
		Binary: "/bin/echo",
	})

	stats := m.Stats()
	if stats.Name != "stats-test" {
		t.Errorf("Stats.Name = %q, want %q", stats.Name, "stats-test")
	}
	if stats.Status != StatusStopped {
		t.Errorf("Stats.Status = %q, want %q", stats.Status, StatusStopped)
	}
	if stats.PID != 0 {
		t.Errorf("Stats.PID = %d, want 0", stats.PID)
	}
	if stats.RestartCount != 0 {
		t.Errorf("Stats.RestartCount = %d, want 0", stats.RestartCount)
	}
	if stats.LastError != "" {
		t.Errorf("Stats.LastError = %q, want empty", stats.LastError)
	}
}

func TestManager_StopWhenNotRunning(t *testing.T) {
	m := NewManager(Config{
		Name:   "test",
		Binary: "/bin/true",
	})

	// Stopping a non-running process should be a no-op
	if err := m.Stop(); err != nil {
		t.Errorf("Stop() on stopped process error = %v, want nil", err)
	}
}

func TestManager_StartAlreadyRunning(t *testing.T) {
	m := NewManager(Config{
		Name:   "test",
		Binary: "/bin/sleep",
		Args:   []string{"10"},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := m.Start(ctx); err != nil {
		t.Fatalf("first Start() error: %v", err)
	}
	defer m.Stop()

	// Starting again should fail
	err := m.Start(ctx)
	if err == nil {
		t.Error("second Start() expected error, got nil")
	}
}

func TestManager_StartAndStop(t *testing.T) {
	m := NewManager(Config{
		Name:            "test-sleep",
		Binary:          "/bin/sleep",
		Args:            []string{"60"},
		GracefulTimeout: 2 * time.Second,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	if !m.IsRunning() {
		t.Error("IsRunning() = false after Start()")
	}
	if m.PID() == 0 {
		t.Error("PID() = 0 after Start()")
	}
	if m.Status() != StatusRunning {
		t.Errorf("Status() = %q, want %q", m.Status(), StatusRunning)
	}

	if err := m.Stop(); err != nil {
		t.Fatalf("Stop() error: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool { return !m.IsRunning() },
		"process still running after Stop()")
}

func TestManager_StartWithInvalidBinary(t *testing.T) {
	m := NewManager(Config{
		Name:   "bad-binary",
		Binary: "/nonexistent/binary",
	})

	ctx := context.Background()
	err := m.Start(ctx)
	if err == nil {
		t.Fatal("Start() with invalid binary expected error, got nil")
	}

	if m.Status() != StatusFailed {
		t.Errorf("Status() = %q, want %q", m.Status(), StatusFailed)
	}
}

func TestManager_SetLogger(t *testing.T) {
	m := NewManager(Config{
		Name:   "test",
		Binary: "/bin/true",
	})

	// Should not panic
	m.SetLogger(noopLogger{})
}

func TestCalculateBackoffDelay(t *testing.T) {
	m := NewManager(Config{
		Name:            "test",
		Binary:          "/bin/true",
		RestartDelay:    1 * time.Second,
		MaxRestartDelay: 30 * time.Second,
	})

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 1 * time.Second},  // First attempt: base delay
		{2, 2 * time.Second},  // 2nd: 1s * 2
		{3, 4 * time.Second},  // 3rd: 1s * 4
		{4, 8 * time.Second},  // 4th: 1s * 8
		{5, 16 * time.Second}, // 5th: 1s * 16
		{6, 30 * time.Second}, // 6th: capped at max
		{7, 30 * time.Second}, // 7th: stays at max
	}

	for _, tt := range tests {
		got := m.calculateBackoffDelay(tt.attempt)
		if got != tt.want {
			t.Errorf("calculateBackoffDelay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestManager_OnStartCallback(t *testing.T) {
	var started atomic.Bool
	m := NewManager(Config{
		Name:   "callback-test",
		Binary: "/bin/sleep",
		Args:   []string{"60"},
		OnStart: func() {
			started.Store(true)
		},
		GracefulTimeout: 2 * time.Second,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer m.Stop()

	if !started.Load() {
		t.Error("OnStart callback was not called")
	}
}

func TestManager_RestartsOnCrash(t *testing.T) {
	var restarts atomic.Int32
	m := NewManager(Config{
		Name:               "crash-loop",
		Binary:             "/bin/false",
		RestartOnFailure:   true,
		RestartDelay:       10 * time.Millisecond,
		MaxRestartDelay:    20 * time.Millisecond,
		MaxRestartAttempts: 2,
		OnRestart: func(int) {
			restarts.Add(1)
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	// Two restart attempts, then the third crash exceeds the limit.
	waitFor(t, 5*time.Second, func() bool { return m.RestartCount() >= 3 },
		"restart attempts never exhausted")
	waitFor(t, 2*time.Second, func() bool { return m.Status() == StatusFailed },
		"status never settled on failed")

	if got := restarts.Load(); got != 2 {
		t.Errorf("OnRestart calls = %d, want 2", got)
	}
	if m.LastError() == nil {
		t.Error("LastError() = nil after crash loop")
	}
}

func TestManager_NoRestartWhenDisabled(t *testing.T) {
	var stopped atomic.Int32
	m := NewManager(Config{
		Name:             "one-shot",
		Binary:           "/bin/false",
		RestartOnFailure: false,
		OnStop: func(error) {
			stopped.Add(1)
		},
	})

	ctx := context.Background()
	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool { return m.Status() == StatusFailed },
		"status never reached failed")

	// Give a would-be restart time to (not) happen.
	time.Sleep(100 * time.Millisecond)
	if m.RestartCount() != 0 {
		t.Errorf("RestartCount() = %d, want 0 with restart disabled", m.RestartCount())
	}
	if stopped.Load() != 1 {
		t.Errorf("OnStop calls = %d, want 1", stopped.Load())
	}
}

func TestManager_StableRunResetsBackoff(t *testing.T) {
	// Each run survives past the stability threshold, so the restart
	// counter starts over on every crash and never reaches the limit.
	m := NewManager(Config{
		Name:               "stable-proc",
		Binary:             "/bin/sleep",
		Args:               []string{"0.2"},
		RestartOnFailure:   true,
		RestartDelay:       10 * time.Millisecond,
		MaxRestartDelay:    20 * time.Millisecond,
		StableThreshold:    50 * time.Millisecond,
		MaxRestartAttempts: 2,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer m.Stop()

	// Across several run/exit cycles the counter must keep resetting.
	time.Sleep(700 * time.Millisecond)
	if got := m.RestartCount(); got > 1 {
		t.Errorf("RestartCount() = %d, want at most 1 after stable runs", got)
	}
	waitFor(t, 2*time.Second, m.IsRunning,
		"supervision gave up despite stable runs")
}

func TestManager_HealthCheck(t *testing.T) {
	m := NewManager(Config{
		Name:   "hc",
		Binary: "/nonexistent/binary",
	})

	if err := m.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() before start = %v, want nil", err)
	}

	if err := m.Start(context.Background()); err == nil {
		t.Fatal("Start() with invalid binary expected error")
	}

	if err := m.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck() = nil after failed start, want error")
	}
}
