package board

import "errors"

// Common errors returned by the board package.
//
// These are returned wrapped with additional context, so use errors.Is to
// check for them:
//
//	tpl, err := store.Get(boardID)
//	if errors.Is(err, board.ErrTemplateNotFound) {
//	    // board has no registered template; try the generator
//	}
var (
	// ErrTemplateNotFound is returned when a board id has no registered template.
	ErrTemplateNotFound = errors.New("board: template not found")

	// ErrTemplateExists is returned when registering a board id that already
	// has a template. Registered templates are immutable.
	ErrTemplateExists = errors.New("board: template already registered")

	// ErrInvalidTemplate is returned when template validation fails.
	// The concrete error is a *ValidationError listing every violation.
	ErrInvalidTemplate = errors.New("board: invalid template")

	// ErrCacheMiss is returned when the template cache has no entry for a board id.
	ErrCacheMiss = errors.New("board: cache miss")
)
