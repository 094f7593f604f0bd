package reconcile

import (
	"context"
	"sort"
	"sync"

	"github.com/nerrad567/twincore/internal/probe"
)

// DeviceProbe is the per-device probe surface the sync engine uses: the
// fast state poll and the GPIO write round-trip. *probe.Prober satisfies
// it; tests substitute fakes.
type DeviceProbe interface {
	PollState(ctx context.Context) (probe.DeviceState, error)
	WriteGPIO(ctx context.Context, pin int, value any, mode string) (any, error)
}

// Attachments maps device ids to their live probe. One entry exists per
// physically attached device; simulated twins never appear here.
//
// Detaching a device removes it from the poll rotation immediately and
// makes subsequent virtual writes fail validation (no channel to
// round-trip through).
type Attachments struct {
	mu     sync.RWMutex
	probes map[string]DeviceProbe
}

// NewAttachments creates an empty attachment table.
func NewAttachments() *Attachments {
	return &Attachments{probes: make(map[string]DeviceProbe)}
}

// Attach binds a probe to a device id, replacing any previous binding.
func (a *Attachments) Attach(deviceID string, p DeviceProbe) {
	if p == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.probes[deviceID] = p
}

// Detach removes the device's probe binding.
func (a *Attachments) Detach(deviceID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.probes, deviceID)
}

// Probe returns the device's probe, if attached.
func (a *Attachments) Probe(deviceID string) (DeviceProbe, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	p, ok := a.probes[deviceID]
	return p, ok
}

// DeviceIDs returns the attached device ids, sorted.
func (a *Attachments) DeviceIDs() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	ids := make([]string, 0, len(a.probes))
	for id := range a.probes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Count returns the number of attached devices.
func (a *Attachments) Count() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.probes)
}
