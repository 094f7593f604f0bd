package board

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func writeTemplateFile(t *testing.T, dir, name string, tpl *Template) {
	t.Helper()
	data, err := json.Marshal(tpl)
	if err != nil {
		t.Fatalf("marshal template: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, name), data, 0600); err != nil {
		t.Fatalf("write template file: %v", err)
	}
}

func TestLoadDirectory(t *testing.T) {
	dir := t.TempDir()

	good := minimalTemplate()
	good.BoardID = "file-board"
	writeTemplateFile(t, dir, "file-board.json", good)

	// Invalid template: duplicate digital pin
	bad := minimalTemplate()
	bad.BoardID = "broken-board"
	bad.Pins = append(bad.Pins, PinDefinition{
		Number: 0, Name: "dup", Role: RoleDigital,
		Capabilities: []PinCapability{CapDigitalRead},
	})
	writeTemplateFile(t, dir, "broken-board.json", bad)

	// Not JSON at all
	if err := os.WriteFile(filepath.Join(dir, "garbage.json"), []byte("{nope"), 0600); err != nil {
		t.Fatalf("write garbage file: %v", err)
	}

	// Non-JSON extension is ignored silently
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("readme"), 0600); err != nil {
		t.Fatalf("write notes file: %v", err)
	}

	store := NewStore()
	result, err := LoadDirectory(dir, store, nil)
	if err != nil {
		t.Fatalf("LoadDirectory() error = %v", err)
	}

	if len(result.Registered) != 1 || result.Registered[0] != "file-board" {
		t.Errorf("Registered = %v, want [file-board]", result.Registered)
	}
	if len(result.Skipped) != 2 {
		t.Errorf("Skipped = %v, want 2 entries", result.Skipped)
	}
	if !store.Has("file-board") {
		t.Error("file-board not registered")
	}
	if store.Has("broken-board") {
		t.Error("broken-board should have been rejected")
	}
}

func TestLoadDirectory_MissingDirIsEmpty(t *testing.T) {
	store := NewStore()
	result, err := LoadDirectory(filepath.Join(t.TempDir(), "absent"), store, nil)
	if err != nil {
		t.Fatalf("LoadDirectory() error = %v", err)
	}
	if len(result.Registered) != 0 || len(result.Skipped) != 0 {
		t.Errorf("expected empty result, got %+v", result)
	}
}

func TestLoadDirectory_WarningsSurface(t *testing.T) {
	dir := t.TempDir()

	tpl := minimalTemplate()
	tpl.BoardID = "warny"
	tpl.SupportedModules = nil
	writeTemplateFile(t, dir, "warny.json", tpl)

	store := NewStore()
	result, err := LoadDirectory(dir, store, nil)
	if err != nil {
		t.Fatalf("LoadDirectory() error = %v", err)
	}
	if len(result.Warnings) != 1 {
		t.Errorf("Warnings = %v, want one entry", result.Warnings)
	}
	if !store.Has("warny") {
		t.Error("template with warnings should still register")
	}
}
