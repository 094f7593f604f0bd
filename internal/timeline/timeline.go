package timeline

import (
	"strconv"
	"sync"
	"time"
)

// EntryType classifies what a timeline entry records.
type EntryType string

// Entry types.
const (
	EntryPin      EntryType = "pin"
	EntrySensor   EntryType = "sensor"
	EntryActuator EntryType = "actuator"
)

// Entry is one recorded state transition. TimestampMs is relative to
// the start of the debug session that recorded it.
type Entry struct {
	Type          EntryType `json:"type"`
	Target        string    `json:"target"`
	PreviousValue any       `json:"previous_value"`
	NewValue      any       `json:"new_value"`
	TimestampMs   int64     `json:"timestamp_ms"`
}

// Recorder is the append-only hardware event timeline.
//
// Recording is gated on an active debug session: Record calls outside a
// session are dropped. Entries accumulate across sessions and twin
// re-creations; only Clear discards them. The recorder is purely
// observational — nothing in the sync path reads it back.
type Recorder struct {
	mu      sync.RWMutex
	entries []Entry
	start   time.Time
	active  bool

	// now is swappable for tests.
	now func() time.Time
}

// NewRecorder creates an empty, inactive recorder.
func NewRecorder() *Recorder {
	return &Recorder{now: time.Now}
}

// Start begins a debug session: recording becomes active and subsequent
// entry timestamps are measured from this moment. Existing entries are
// kept — their timestamps remain relative to the session that recorded
// them. Starting while already active rebases the clock.
func (r *Recorder) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.start = r.now()
	r.active = true
}

// Stop ends the debug session. Entries recorded so far are kept.
func (r *Recorder) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active = false
}

// Active reports whether a debug session is running.
func (r *Recorder) Active() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.active
}

// Session returns the current session start and whether it is active.
// The start time is meaningful only while a session is or was running.
func (r *Recorder) Session() (start time.Time, active bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.start, r.active
}

// RecordPin appends a pin transition when a session is active.
func (r *Recorder) RecordPin(pin int, previous, current any) {
	r.record(EntryPin, strconv.Itoa(pin), previous, current)
}

// RecordSensor appends a sensor transition when a session is active.
func (r *Recorder) RecordSensor(sensorID string, previous, current float64) {
	r.record(EntrySensor, sensorID, previous, current)
}

// RecordActuator appends an actuator transition when a session is active.
func (r *Recorder) RecordActuator(actuatorID string, previous, current any) {
	r.record(EntryActuator, actuatorID, previous, current)
}

func (r *Recorder) record(typ EntryType, target string, previous, current any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.active {
		return
	}
	r.entries = append(r.entries, Entry{
		Type:          typ,
		Target:        target,
		PreviousValue: previous,
		NewValue:      current,
		TimestampMs:   r.now().Sub(r.start).Milliseconds(),
	})
}

// All returns a copy of every recorded entry, oldest first.
func (r *Recorder) All() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out
}

// ByPin returns the recorded transitions for one pin number.
func (r *Recorder) ByPin(pin int) []Entry {
	return r.filter(EntryPin, strconv.Itoa(pin))
}

// BySensor returns the recorded transitions for one sensor id.
func (r *Recorder) BySensor(sensorID string) []Entry {
	return r.filter(EntrySensor, sensorID)
}

// ByActuator returns the recorded transitions for one actuator id.
func (r *Recorder) ByActuator(actuatorID string) []Entry {
	return r.filter(EntryActuator, actuatorID)
}

func (r *Recorder) filter(typ EntryType, target string) []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Entry
	for _, e := range r.entries {
		if e.Type == typ && e.Target == target {
			out = append(out, e)
		}
	}
	return out
}

// Len returns the number of recorded entries.
func (r *Recorder) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Clear discards every recorded entry. The session state (active flag,
// start time) is untouched.
func (r *Recorder) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = nil
}
