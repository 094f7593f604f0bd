package board

import (
	"errors"
	"testing"
)

func TestStore_RegisterAndGet(t *testing.T) {
	store := NewStore()

	if _, err := store.Register(minimalTemplate()); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	tpl, err := store.Get("test-board")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if tpl.BoardID != "test-board" {
		t.Errorf("BoardID = %q, want %q", tpl.BoardID, "test-board")
	}
	if len(tpl.Pins) != 3 {
		t.Errorf("len(Pins) = %d, want 3", len(tpl.Pins))
	}
}

func TestStore_GetNotFound(t *testing.T) {
	store := NewStore()

	_, err := store.Get("missing")
	if !errors.Is(err, ErrTemplateNotFound) {
		t.Errorf("expected ErrTemplateNotFound, got %v", err)
	}
}

func TestStore_RegisterDuplicate(t *testing.T) {
	store := NewStore()

	if _, err := store.Register(minimalTemplate()); err != nil {
		t.Fatalf("first Register() error = %v", err)
	}

	_, err := store.Register(minimalTemplate())
	if !errors.Is(err, ErrTemplateExists) {
		t.Errorf("expected ErrTemplateExists, got %v", err)
	}

	if store.Count() != 1 {
		t.Errorf("Count() = %d, want 1", store.Count())
	}
}

func TestStore_InvalidTemplateLeavesStoreUnchanged(t *testing.T) {
	store := NewStore()

	bad := minimalTemplate()
	bad.Pins = append(bad.Pins, PinDefinition{
		Number: 0, Name: "dup", Role: RoleDigital,
		Capabilities: []PinCapability{CapDigitalRead},
	})

	_, err := store.Register(bad)
	if !errors.Is(err, ErrInvalidTemplate) {
		t.Fatalf("expected ErrInvalidTemplate, got %v", err)
	}

	if store.Count() != 0 {
		t.Errorf("Count() = %d after failed registration, want 0", store.Count())
	}
	if store.Has("test-board") {
		t.Error("Has() = true after failed registration, want false")
	}
}

func TestStore_ReturnsIsolatedCopies(t *testing.T) {
	store := NewStore()

	original := minimalTemplate()
	if _, err := store.Register(original); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	// Mutating the registered source must not reach the store
	original.Pins[0].Name = "mutated-source"

	// Mutating a fetched copy must not reach the store either
	first, err := store.Get("test-board")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	first.Pins[0].Name = "mutated-copy"
	first.Pins[0].Capabilities[0] = CapTouch

	second, err := store.Get("test-board")
	if err != nil {
		t.Fatalf("second Get() error = %v", err)
	}
	if second.Pins[0].Name != "D0" {
		t.Errorf("stored pin name = %q, want %q", second.Pins[0].Name, "D0")
	}
	if second.Pins[0].Capabilities[0] != CapDigitalRead {
		t.Errorf("stored capability = %q, want %q", second.Pins[0].Capabilities[0], CapDigitalRead)
	}
}

func TestStore_ListSorted(t *testing.T) {
	store := NewStore()

	for _, id := range []string{"zeta", "alpha", "mid"} {
		tpl := minimalTemplate()
		tpl.BoardID = id
		if _, err := store.Register(tpl); err != nil {
			t.Fatalf("Register(%s) error = %v", id, err)
		}
	}

	list := store.List()
	if len(list) != 3 {
		t.Fatalf("len(List()) = %d, want 3", len(list))
	}
	want := []string{"alpha", "mid", "zeta"}
	for i, tpl := range list {
		if tpl.BoardID != want[i] {
			t.Errorf("List()[%d] = %q, want %q", i, tpl.BoardID, want[i])
		}
	}
}
