package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		// Health check (no auth required)
		r.Get("/health", s.handleHealth)

		// Auth endpoints (no auth required)
		r.Post("/auth/login", s.handleLogin)

		// Engine statistics (no auth required for basic monitoring)
		r.Get("/stats", s.handleStats)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			// WS ticket requires authentication - caller must hold a token to request a ticket
			r.Post("/auth/ws-ticket", s.handleWSTicket)

			// Twin endpoints
			r.Route("/twins", func(r chi.Router) {
				r.Get("/", s.handleListTwins)
				r.Post("/", s.handleCreateTwin)

				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", s.handleGetTwin)
					r.Delete("/", s.handleDeleteTwin)
					r.Put("/gpio/{pin}", s.handleWriteGPIO)
					r.Put("/sensors/{sensorID}", s.handleWriteSensor)
				})
			})

			// Template endpoints
			r.Route("/templates", func(r chi.Router) {
				r.Get("/", s.handleListTemplates)
				r.Post("/", s.handleRegisterTemplate)

				// Static /cache routes take priority over /{boardID}
				r.Get("/cache", s.handleListCache)
				r.Delete("/cache", s.handleClearCache)
				r.Delete("/cache/{boardID}", s.handleDeleteCacheEntry)

				r.Get("/{boardID}", s.handleGetTemplate)
			})

			// Timeline endpoints
			r.Route("/timeline", func(r chi.Router) {
				r.Get("/", s.handleGetTimeline)
				r.Delete("/", s.handleClearTimeline)
				r.Get("/session", s.handleGetSession)
				r.Post("/session/start", s.handleStartSession)
				r.Post("/session/stop", s.handleStopSession)
			})
		})

		// WebSocket upgrade. Browsers cannot set an Authorization header
		// on the upgrade request, so auth is the single-use ticket minted
		// via the protected /auth/ws-ticket endpoint.
		r.Get("/ws", s.handleWebSocket)
	})

	return r
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
	})
}
