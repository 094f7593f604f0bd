package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/twincore/internal/board"
)

// handleListTemplates returns all registered templates.
func (s *Server) handleListTemplates(w http.ResponseWriter, _ *http.Request) {
	templates := s.templates.List()
	writeJSON(w, http.StatusOK, map[string]any{"templates": templates, "count": len(templates)})
}

// handleGetTemplate returns a single template by board id.
func (s *Server) handleGetTemplate(w http.ResponseWriter, r *http.Request) {
	boardID := chi.URLParam(r, "boardID")

	tpl, err := s.templates.Get(boardID)
	if err != nil {
		if errors.Is(err, board.ErrTemplateNotFound) {
			writeNotFound(w, "template not found")
			return
		}
		writeInternalError(w, "failed to get template")
		return
	}

	writeJSON(w, http.StatusOK, tpl)
}

// handleRegisterTemplate validates and registers a template document.
//
// Validation failures return 422 with every violation listed; a board id
// that is already registered returns 409 — templates are immutable once
// accepted.
func (s *Server) handleRegisterTemplate(w http.ResponseWriter, r *http.Request) {
	var tpl board.Template
	if err := json.NewDecoder(r.Body).Decode(&tpl); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	warnings, err := s.templates.Register(&tpl)
	if err != nil {
		switch {
		case errors.Is(err, board.ErrTemplateExists):
			writeConflict(w, "template already registered")
		case errors.Is(err, board.ErrInvalidTemplate):
			writeValidationError(w, err.Error())
		default:
			writeInternalError(w, "failed to register template")
		}
		return
	}

	s.logger.Info("template registered", "board_id", tpl.BoardID, "warnings", len(warnings))

	writeJSON(w, http.StatusCreated, map[string]any{
		"board_id": tpl.BoardID,
		"warnings": warnings,
	})
}

// handleListCache enumerates the board ids with cached generated templates.
func (s *Server) handleListCache(w http.ResponseWriter, r *http.Request) {
	if s.cache == nil {
		writeServiceUnavailable(w, "template cache not configured")
		return
	}

	ids, err := s.cache.ListBoardIDs(r.Context())
	if err != nil {
		writeInternalError(w, "failed to list template cache")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"board_ids": ids, "count": len(ids)})
}

// handleClearCache removes every cached generated template. Cleared boards
// are re-introspected on next use.
func (s *Server) handleClearCache(w http.ResponseWriter, r *http.Request) {
	if s.cache == nil {
		writeServiceUnavailable(w, "template cache not configured")
		return
	}

	if err := s.cache.Clear(r.Context()); err != nil {
		writeInternalError(w, "failed to clear template cache")
		return
	}

	s.logger.Info("template cache cleared")
	w.WriteHeader(http.StatusNoContent)
}

// handleDeleteCacheEntry removes one board's cached template.
// Deleting a missing entry succeeds; the end state is the same.
func (s *Server) handleDeleteCacheEntry(w http.ResponseWriter, r *http.Request) {
	if s.cache == nil {
		writeServiceUnavailable(w, "template cache not configured")
		return
	}

	boardID := chi.URLParam(r, "boardID")
	if err := s.cache.Delete(r.Context(), boardID); err != nil {
		writeInternalError(w, "failed to delete cache entry")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
