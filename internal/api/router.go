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
		// Health check
		r.Get("/health", s.handleHealth)

		// Fleet statistics and operation trail
		r.Get("/fleet/stats", s.handleFleetStats)
		r.Get("/audit", s.handleListAuditLogs)

		// Device-facing endpoints: heartbeat poll and the live channel.
		// Devices authenticate in the request body (heartbeat) or hello
		// frame (channel), not via admin auth.
		r.Post("/heartbeat", s.handleHeartbeat)
		r.Get("/channel", s.handleChannel)

		// Pairing claim is called by an unpaired device holding a code
		r.Post("/pairing/claim", s.handleClaimPairing)

		// Device endpoints
		r.Route("/devices", func(r chi.Router) {
			r.Get("/", s.handleListDevices)
			r.Post("/", s.handleRegisterDevice)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetDevice)
				r.Patch("/", s.handleUpdateDevice)
				r.Delete("/", s.handleDeleteDevice)
				r.Get("/settings", s.handleEffectiveSettings)
				r.Put("/settings", s.handleSetDeviceSettings)
				r.Post("/rotate-secret", s.handleRotateSecret)
				r.Post("/pairing", s.handleGeneratePairingCode)
				r.Post("/commands", s.handleDispatchCommand)
				r.Post("/commands/await", s.handleDispatchAwait)
			})
		})

		// Group endpoints
		r.Route("/groups", func(r chi.Router) {
			r.Get("/", s.handleListGroups)
			r.Post("/", s.handleCreateGroup)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetGroup)
				r.Patch("/", s.handlePatchGroup)
				r.Delete("/", s.handleDeleteGroup)
				r.Get("/devices", s.handleListGroupDevices)
				r.Put("/devices", s.handleAddGroupDevices)
				r.Delete("/devices", s.handleRemoveGroupDevices)
				r.Post("/commands", s.handleGroupCommand)
			})
		})

		// Broadcast to every connected device
		r.Post("/commands/broadcast", s.handleBroadcastCommand)
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

// handleFleetStats returns live fleet statistics.
func (s *Server) handleFleetStats(w http.ResponseWriter, _ *http.Request) {
	stats := map[string]any{
		"devices":       s.devices.Count(),
		"connected":     s.registry.ConnectedCount(),
		"pending_waits": s.registry.PendingWaits(),
	}
	if s.queue != nil {
		stats["dropped_commands"] = s.queue.DroppedTotal()
	}
	if s.limiter != nil {
		stats["rate_limit_violations"] = s.limiter.Snapshot()
	}

	writeJSON(w, http.StatusOK, stats)
}
