package board

import (
	"fmt"
	"sort"
	"sync"
)

// Logger is the minimal logging interface the board package needs.
// Satisfied by *logging.Logger; a no-op implementation is used when unset.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger discards all log output.
type noopLogger struct{}

func (noopLogger) Debug(msg string, args ...any) {}
func (noopLogger) Info(msg string, args ...any)  {}
func (noopLogger) Warn(msg string, args ...any)  {}
func (noopLogger) Error(msg string, args ...any) {}

// Store holds registered board templates, keyed by board id.
//
// Registration is write-once: a template accepted for a board id can never
// be replaced or mutated. Regenerated templates live in the cache instead,
// which is free to overwrite its entries.
//
// Thread safety: all methods are safe for concurrent use.
type Store struct {
	mu        sync.RWMutex
	templates map[string]*Template
	logger    Logger
}

// NewStore creates an empty template store.
func NewStore() *Store {
	return &Store{
		templates: make(map[string]*Template),
		logger:    noopLogger{},
	}
}

// SetLogger attaches a logger. Passing nil restores the no-op logger.
func (s *Store) SetLogger(l Logger) {
	if l == nil {
		s.logger = noopLogger{}
		return
	}
	s.logger = l
}

// Register validates a template and stores it under its board id.
//
// Validation failures are reported all at once via *ValidationError
// (errors.Is(err, ErrInvalidTemplate)); the store is left untouched.
// Returns any non-fatal validation warnings.
func (s *Store) Register(t *Template) ([]string, error) {
	warnings, err := ValidateTemplate(t)
	if err != nil {
		return warnings, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.templates[t.BoardID]; exists {
		return warnings, fmt.Errorf("%w: %s", ErrTemplateExists, t.BoardID)
	}

	// Store a private copy so later caller mutations cannot reach it.
	s.templates[t.BoardID] = t.DeepCopy()

	for _, w := range warnings {
		s.logger.Warn("template warning", "board_id", t.BoardID, "warning", w)
	}
	s.logger.Info("template registered",
		"board_id", t.BoardID,
		"pins", len(t.Pins),
		"buses", t.BusCount(),
		"components", t.ComponentCount(),
	)

	return warnings, nil
}

// Get returns a copy of the template for the given board id.
func (s *Store) Get(boardID string) (*Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.templates[boardID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTemplateNotFound, boardID)
	}
	return t.DeepCopy(), nil
}

// Has reports whether a template is registered for the board id.
func (s *Store) Has(boardID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.templates[boardID]
	return ok
}

// List returns copies of all registered templates, sorted by board id.
func (s *Store) List() []*Template {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := make([]*Template, 0, len(s.templates))
	for _, t := range s.templates {
		list = append(list, t.DeepCopy())
	}
	sort.Slice(list, func(i, j int) bool { return list[i].BoardID < list[j].BoardID })
	return list
}

// Count returns the number of registered templates.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.templates)
}
