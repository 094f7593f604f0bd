package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/twincore/internal/board"
)

// fakeCache is an in-memory CacheRepository for exercising the cache
// endpoints without a database.
type fakeCache struct {
	mu      sync.Mutex
	entries map[string]*board.CacheEntry
}

func newFakeCache(boardIDs ...string) *fakeCache {
	c := &fakeCache{entries: make(map[string]*board.CacheEntry)}
	for _, id := range boardIDs {
		c.entries[id] = &board.CacheEntry{
			BoardID:     id,
			Template:    &board.Template{BoardID: id},
			GeneratedAt: time.Now(),
			Version:     1,
		}
	}
	return c
}

func (c *fakeCache) Get(_ context.Context, boardID string) (*board.CacheEntry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[boardID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", board.ErrCacheMiss, boardID)
	}
	return entry, nil
}

func (c *fakeCache) Put(_ context.Context, entry *board.CacheEntry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[entry.BoardID] = entry
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
	ids := make([]string, 0, len(c.entries))
	for id := range c.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (c *fakeCache) Clear(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*board.CacheEntry)
	return nil
}

func (c *fakeCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// ─── Template Endpoint Tests ────────────────────────────────────────

func TestListTemplates(t *testing.T) {
	srv := testServer(t)
	router := srv.buildRouter()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/templates", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	resp := decodeBody(t, w)
	if int(resp["count"].(float64)) != 1 {
		t.Errorf("count = %v, want 1", resp["count"])
	}
}

func TestGetTemplate(t *testing.T) {
	srv := testServer(t)
	router := srv.buildRouter()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/templates/test-board", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var tpl board.Template
	if err := json.Unmarshal(w.Body.Bytes(), &tpl); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if tpl.BoardID != "test-board" {
		t.Errorf("board_id = %q, want test-board", tpl.BoardID)
	}
	if len(tpl.Pins) != 4 {
		t.Errorf("pins = %d, want 4", len(tpl.Pins))
	}
}

func TestGetTemplate_NotFound(t *testing.T) {
	srv := testServer(t)
	router := srv.buildRouter()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/templates/no-such-board", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestRegisterTemplate(t *testing.T) {
	srv := testServer(t)
	router := srv.buildRouter()

	body := `{
		"board_id": "pico-2040",
		"display_name": "Raspberry Pi Pico",
		"pins": [
			{"number": 0, "name": "GP0", "role": "digital", "capabilities": ["digital_read", "digital_write"]},
			{"number": 25, "name": "LED", "role": "digital", "capabilities": ["digital_write"]}
		]
	}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/templates", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d; body: %s", w.Code, http.StatusCreated, w.Body.String())
	}

	resp := decodeBody(t, w)
	if resp["board_id"] != "pico-2040" {
		t.Errorf("board_id = %v, want pico-2040", resp["board_id"])
	}

	// The template is immediately resolvable.
	req = httptest.NewRequest(http.MethodGet, "/api/v1/templates/pico-2040", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("get after register status = %d, want %d", w.Code, http.StatusOK)
	}
}

func TestRegisterTemplate_Duplicate(t *testing.T) {
	srv := testServer(t)
	router := srv.buildRouter()

	body := `{
		"board_id": "test-board",
		"pins": [{"number": 0, "name": "GP0", "role": "digital", "capabilities": ["digital_read"]}]
	}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/templates", strings.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusConflict {
		t.Fatalf("status = %d, want %d; body: %s", w.Code, http.StatusConflict, w.Body.String())
	}

	resp := decodeBody(t, w)
	if resp["code"] != ErrCodeConflict {
		t.Errorf("code = %v, want %q", resp["code"], ErrCodeConflict)
	}
}

func TestRegisterTemplate_Invalid(t *testing.T) {
	srv := testServer(t)
	router := srv.buildRouter()

	// Two digital pins sharing a number.
	body := `{
		"board_id": "broken-board",
		"pins": [
			{"number": 0, "name": "GP0", "role": "digital", "capabilities": ["digital_read"]},
			{"number": 0, "name": "GP0-again", "role": "digital", "capabilities": ["digital_read"]}
		]
	}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/templates", strings.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want %d; body: %s", w.Code, http.StatusUnprocessableEntity, w.Body.String())
	}

	resp := decodeBody(t, w)
	if msg, _ := resp["message"].(string); !strings.Contains(msg, "duplicate") {
		t.Errorf("message = %q, want the duplicate pin named", msg)
	}
}

func TestRegisterTemplate_BadJSON(t *testing.T) {
	srv := testServer(t)
	router := srv.buildRouter()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/templates", strings.NewReader("{broken"))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

// ─── Template Cache Endpoint Tests ──────────────────────────────────

func TestCache_NotConfigured(t *testing.T) {
	srv := testServer(t)
	router := srv.buildRouter()

	for _, tc := range []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/api/v1/templates/cache"},
		{http.MethodDelete, "/api/v1/templates/cache"},
		{http.MethodDelete, "/api/v1/templates/cache/test-board"},
	} {
		req := httptest.NewRequest(tc.method, tc.path, nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		if w.Code != http.StatusServiceUnavailable {
			t.Errorf("%s %s: status = %d, want %d", tc.method, tc.path, w.Code, http.StatusServiceUnavailable)
		}
	}
}

func TestListCache(t *testing.T) {
	srv := testServer(t)
	srv.cache = newFakeCache("board-a", "board-b")
	router := srv.buildRouter()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/templates/cache", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body: %s", w.Code, http.StatusOK, w.Body.String())
	}

	resp := decodeBody(t, w)
	if int(resp["count"].(float64)) != 2 {
		t.Errorf("count = %v, want 2", resp["count"])
	}
}

func TestClearCache(t *testing.T) {
	srv := testServer(t)
	cache := newFakeCache("board-a", "board-b")
	srv.cache = cache
	router := srv.buildRouter()

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/templates/cache", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusNoContent)
	}
	if cache.len() != 0 {
		t.Errorf("cache entries = %d, want 0 after clear", cache.len())
	}
}

func TestDeleteCacheEntry(t *testing.T) {
	srv := testServer(t)
	cache := newFakeCache("board-a", "board-b")
	srv.cache = cache
	router := srv.buildRouter()

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/templates/cache/board-a", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusNoContent)
	}
	if cache.len() != 1 {
		t.Errorf("cache entries = %d, want 1 after single delete", cache.len())
	}

	// Deleting a missing entry still succeeds; the end state is the same.
	req = httptest.NewRequest(http.MethodDelete, "/api/v1/templates/cache/board-a", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("repeat delete status = %d, want %d", w.Code, http.StatusNoContent)
	}
}
