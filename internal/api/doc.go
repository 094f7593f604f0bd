// Package api implements the HTTP REST API and WebSocket server for TwinCore.
//
// This package provides:
//   - REST endpoints for twin lifecycle, virtual writes, templates and the
//     hardware timeline
//   - WebSocket hub for real-time twin event broadcasts
//   - JWT authentication (access-key login) with ticket-based WebSocket auth
//   - Middleware stack (request ID, logging, recovery, CORS)
//   - TLS support for production deployments
//
// # Architecture
//
// The API server is a read/write surface over the twin engine. Reads come
// straight from the twin registry (deep copies, never live state). Virtual
// writes go through the write validator, so the physical-first rule holds
// over HTTP exactly as it does everywhere else: a GPIO write to a physical
// twin returns only after the device confirmed it. Twin events reach
// WebSocket clients through a bus subscription feeding the hub.
//
// # Security
//
// Authentication exchanges a shared access key for an HS256 JWT at
// /auth/login; the bearer middleware validates tokens on protected routes.
// When no JWT secret is configured the API runs open — intended for bench
// use on a trusted network. WebSocket connections always use single-use
// tickets to keep tokens out of URLs.
//
// # Graceful Degradation
//
// The server operates without a template cache, simulation driver or board
// notifier — the affected endpoints degrade (503 for cache operations,
// undriven simulated twins, no retained summaries) rather than failing to
// start.
package api
