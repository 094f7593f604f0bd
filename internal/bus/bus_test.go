package bus

import (
	"sync"
	"testing"
)

func TestBus_EmitDeliversInRegistrationOrder(t *testing.T) {
	b := New()

	var order []string
	b.Subscribe("first", func(Event) { order = append(order, "first") })
	b.Subscribe("second", func(Event) { order = append(order, "second") })
	b.Subscribe("third", func(Event) { order = append(order, "third") })

	b.Emit(NewPinChanged("dev-01", SourcePhysical, PinChange{Pin: 2}))

	want := []string{"first", "second", "third"}
	if len(order) != len(want) {
		t.Fatalf("delivered to %d listeners, want %d", len(order), len(want))
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("delivery[%d] = %q, want %q", i, order[i], want[i])
		}
	}
}

func TestBus_Unsubscribe(t *testing.T) {
	b := New()

	var calls int
	unsubscribe := b.Subscribe("counter", func(Event) { calls++ })

	b.Emit(NewPinChanged("dev-01", SourcePhysical, PinChange{Pin: 2}))
	unsubscribe()
	b.Emit(NewPinChanged("dev-01", SourcePhysical, PinChange{Pin: 2}))

	if calls != 1 {
		t.Errorf("listener called %d times, want 1", calls)
	}
	if b.SubscriberCount() != 0 {
		t.Errorf("SubscriberCount() = %d after unsubscribe, want 0", b.SubscriberCount())
	}

	// Unsubscribing twice must be harmless.
	unsubscribe()
}

func TestBus_PanicInOneListenerDoesNotStopDelivery(t *testing.T) {
	b := New()

	var reached bool
	b.Subscribe("broken", func(Event) { panic("listener bug") })
	b.Subscribe("after", func(Event) { reached = true })

	b.Emit(NewSensorChanged("dev-01", SourcePhysical, SensorChange{SensorID: "temp0"}))

	if !reached {
		t.Error("listener after the panicking one was not invoked")
	}
}

func TestBus_NilHandlerIgnored(t *testing.T) {
	b := New()

	unsubscribe := b.Subscribe("nil", nil)
	if b.SubscriberCount() != 0 {
		t.Errorf("SubscriberCount() = %d for nil handler, want 0", b.SubscriberCount())
	}
	unsubscribe()

	// Emitting with no listeners must not block or panic.
	b.Emit(NewConfigChanged("dev-01", SourceUser, ConfigChange{Field: "display_name"}))
}

func TestBus_EventCarriesIdentity(t *testing.T) {
	b := New()

	var got Event
	b.Subscribe("capture", func(e Event) { got = e })

	b.Emit(NewPinChanged("dev-01", SourceVirtual, PinChange{
		Pin: 13, Field: "value", Previous: false, Current: true,
	}))

	if got.ID == "" {
		t.Error("event ID is empty")
	}
	if got.Kind != KindPinChanged {
		t.Errorf("Kind = %q, want %q", got.Kind, KindPinChanged)
	}
	if got.DeviceID != "dev-01" {
		t.Errorf("DeviceID = %q, want %q", got.DeviceID, "dev-01")
	}
	if got.Source != SourceVirtual {
		t.Errorf("Source = %q, want %q", got.Source, SourceVirtual)
	}
	if got.Timestamp.IsZero() {
		t.Error("Timestamp is zero")
	}
	if got.Payload.Pin == nil {
		t.Fatal("pin payload missing")
	}
	if got.Payload.Sensor != nil || got.Payload.Actuator != nil || got.Payload.Config != nil {
		t.Error("more than one payload variant populated")
	}
	if got.Payload.Pin.Pin != 13 || got.Payload.Pin.Field != "value" {
		t.Errorf("pin payload = %+v, want pin 13 field value", got.Payload.Pin)
	}

	second := NewPinChanged("dev-01", SourceVirtual, PinChange{Pin: 13})
	if second.ID == got.ID {
		t.Error("two events share an ID")
	}
}

func TestBus_ConcurrentEmitAndSubscribe(t *testing.T) {
	b := New()

	var mu sync.Mutex
	seen := 0
	b.Subscribe("counter", func(Event) {
		mu.Lock()
		seen++
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			b.Emit(NewPinChanged("dev-01", SourcePhysical, PinChange{Pin: 2}))
		}()
		go func() {
			defer wg.Done()
			unsub := b.Subscribe("transient", func(Event) {})
			unsub()
		}()
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if seen != 8 {
		t.Errorf("listener saw %d events, want 8", seen)
	}
	if got := b.Emitted(); got != 8 {
		t.Errorf("Emitted() = %d, want 8", got)
	}
}
