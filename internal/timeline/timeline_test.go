package timeline

import (
	"testing"
	"time"
)

// fixedClock returns a clock that advances by step on every call.
func fixedClock(start time.Time, step time.Duration) func() time.Time {
	current := start
	return func() time.Time {
		t := current
		current = current.Add(step)
		return t
	}
}

func TestRecorder_InactiveDropsEntries(t *testing.T) {
	r := NewRecorder()

	r.RecordPin(2, false, true)
	r.RecordSensor("temp0", 20.0, 21.0)

	if r.Len() != 0 {
		t.Errorf("Len() = %d without a session, want 0", r.Len())
	}
	if r.Active() {
		t.Error("Active() = true for a fresh recorder")
	}
}

func TestRecorder_RecordsRelativeTimestamps(t *testing.T) {
	r := NewRecorder()
	start := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	// First call stamps the session start; each record is 50ms later.
	r.now = fixedClock(start, 50*time.Millisecond)

	r.Start()
	r.RecordPin(2, false, true)
	r.RecordPin(2, true, false)

	entries := r.All()
	if len(entries) != 2 {
		t.Fatalf("len(All()) = %d, want 2", len(entries))
	}
	if entries[0].TimestampMs != 50 {
		t.Errorf("first TimestampMs = %d, want 50", entries[0].TimestampMs)
	}
	if entries[1].TimestampMs != 100 {
		t.Errorf("second TimestampMs = %d, want 100", entries[1].TimestampMs)
	}
	if entries[0].Type != EntryPin || entries[0].Target != "2" {
		t.Errorf("entry = %+v, want pin entry for target 2", entries[0])
	}
	if entries[0].PreviousValue != false || entries[0].NewValue != true {
		t.Errorf("entry values = %v -> %v, want false -> true",
			entries[0].PreviousValue, entries[0].NewValue)
	}
}

func TestRecorder_StopHaltsRecordingKeepsEntries(t *testing.T) {
	r := NewRecorder()
	r.Start()
	r.RecordSensor("temp0", 20.0, 21.0)
	r.Stop()
	r.RecordSensor("temp0", 21.0, 22.0)

	if r.Active() {
		t.Error("Active() = true after Stop")
	}
	if r.Len() != 1 {
		t.Errorf("Len() = %d after Stop, want 1 (recorded before Stop)", r.Len())
	}
}

func TestRecorder_FilteredRetrieval(t *testing.T) {
	r := NewRecorder()
	r.Start()

	r.RecordPin(2, false, true)
	r.RecordPin(13, false, true)
	r.RecordPin(2, true, false)
	r.RecordSensor("temp0", 20.0, 25.0)
	r.RecordActuator("led0", false, true)

	if got := r.ByPin(2); len(got) != 2 {
		t.Errorf("len(ByPin(2)) = %d, want 2", len(got))
	}
	if got := r.ByPin(13); len(got) != 1 {
		t.Errorf("len(ByPin(13)) = %d, want 1", len(got))
	}
	if got := r.ByPin(99); len(got) != 0 {
		t.Errorf("len(ByPin(99)) = %d, want 0", len(got))
	}
	if got := r.BySensor("temp0"); len(got) != 1 {
		t.Errorf("len(BySensor(temp0)) = %d, want 1", len(got))
	}
	if got := r.ByActuator("led0"); len(got) != 1 {
		t.Errorf("len(ByActuator(led0)) = %d, want 1", len(got))
	}

	// A sensor whose id collides with a pin target must not leak into
	// the pin filter.
	r.RecordSensor("2", 0, 1)
	if got := r.ByPin(2); len(got) != 2 {
		t.Errorf("len(ByPin(2)) = %d after sensor \"2\", want 2", len(got))
	}
}

func TestRecorder_EntriesSurviveRestart(t *testing.T) {
	r := NewRecorder()

	r.Start()
	r.RecordPin(2, false, true)
	r.Stop()

	// A new session appends; it does not reset history.
	r.Start()
	r.RecordPin(2, true, false)

	if r.Len() != 2 {
		t.Errorf("Len() = %d across two sessions, want 2", r.Len())
	}
}

func TestRecorder_Clear(t *testing.T) {
	r := NewRecorder()
	r.Start()
	r.RecordPin(2, false, true)

	r.Clear()

	if r.Len() != 0 {
		t.Errorf("Len() = %d after Clear, want 0", r.Len())
	}
	if !r.Active() {
		t.Error("Clear ended the session, want it still active")
	}

	// Recording continues against the same session start.
	r.RecordPin(2, true, false)
	if r.Len() != 1 {
		t.Errorf("Len() = %d after post-Clear record, want 1", r.Len())
	}
}

func TestRecorder_AllReturnsCopy(t *testing.T) {
	r := NewRecorder()
	r.Start()
	r.RecordPin(2, false, true)

	entries := r.All()
	entries[0].Target = "mutated"

	if r.All()[0].Target != "2" {
		t.Error("mutating All()'s result reached the recorder")
	}
}
