package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/marqueehq/marquee-core/internal/device"
	"github.com/marqueehq/marquee-core/internal/fleet"
)

// handleHeartbeat processes a device heartbeat poll.
//
// The device authenticates with its ID and secret in the body; the response
// carries its effective settings and any commands queued while it was
// offline. Unknown device and wrong secret are reported identically so the
// endpoint cannot be used to probe for valid device IDs.
func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	var req fleet.HeartbeatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.DeviceID == "" || req.Secret == "" {
		writeBadRequest(w, "deviceId and secret are required")
		return
	}

	resp, err := s.heartbeat.Handle(r.Context(), req)
	if err != nil {
		if errors.Is(err, device.ErrUnknownDevice) || errors.Is(err, device.ErrInvalidCredentials) {
			writeUnauthorized(w, "invalid device credentials")
			return
		}
		writeInternalError(w, "failed to process heartbeat")
		return
	}

	writeJSON(w, http.StatusOK, resp)
}
