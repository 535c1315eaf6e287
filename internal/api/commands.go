package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/marqueehq/marquee-core/internal/audit"
	"github.com/marqueehq/marquee-core/internal/device"
	"github.com/marqueehq/marquee-core/internal/fleet"
)

// commandRequest is the body for command dispatch endpoints.
type commandRequest struct {
	Type      string         `json:"type"`
	Payload   map[string]any `json:"payload,omitempty"`
	TimeoutMs int            `json:"timeout_ms,omitempty"`
}

func decodeCommandRequest(w http.ResponseWriter, r *http.Request) (*commandRequest, bool) {
	var req commandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return nil, false
	}
	if req.Type == "" {
		writeBadRequest(w, "type field is required")
		return nil, false
	}
	return &req, true
}

// handleDispatchCommand sends a command to a device, queueing it if the
// device is offline. The response reports which path the command took.
func (s *Server) handleDispatchCommand(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if _, err := s.devices.Get(r.Context(), id); err != nil {
		if errors.Is(err, device.ErrDeviceNotFound) {
			writeNotFound(w, "device not found")
			return
		}
		writeInternalError(w, "failed to get device")
		return
	}

	req, ok := decodeCommandRequest(w, r)
	if !ok {
		return
	}

	cmd := fleet.NewCommand(req.Type, req.Payload)
	result := s.dispatcher.Dispatch(id, cmd)
	s.auditLog(audit.ActionCommand, "command", cmd.ID, map[string]any{
		"device_id": id,
		"type":      cmd.Type,
		"outcome":   result.Outcome,
	})

	switch result.Outcome {
	case fleet.OutcomeSent:
		writeJSON(w, http.StatusOK, map[string]any{
			"command_id": cmd.ID,
			"outcome":    result.Outcome,
		})
	case fleet.OutcomeQueued:
		writeJSON(w, http.StatusAccepted, map[string]any{
			"command_id": cmd.ID,
			"outcome":    result.Outcome,
		})
	default:
		writeInternalError(w, "failed to deliver command")
	}
}

// handleDispatchAwait sends a command and blocks until the device
// acknowledges it or the (clamped) timeout elapses.
func (s *Server) handleDispatchAwait(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if _, err := s.devices.Get(r.Context(), id); err != nil {
		if errors.Is(err, device.ErrDeviceNotFound) {
			writeNotFound(w, "device not found")
			return
		}
		writeInternalError(w, "failed to get device")
		return
	}

	req, ok := decodeCommandRequest(w, r)
	if !ok {
		return
	}

	cmd := fleet.NewCommand(req.Type, req.Payload)
	timeout := time.Duration(req.TimeoutMs) * time.Millisecond

	ack, err := s.dispatcher.DispatchAwait(r.Context(), id, cmd, timeout)
	if err != nil {
		switch {
		case errors.Is(err, fleet.ErrDeviceNotConnected):
			// Command was queued for later delivery but cannot be awaited
			writeJSON(w, http.StatusAccepted, map[string]any{
				"command_id": cmd.ID,
				"outcome":    fleet.OutcomeQueued,
			})
		case errors.Is(err, fleet.ErrAckTimeout):
			writeError(w, http.StatusGatewayTimeout, "ack_timeout", "device did not acknowledge in time")
		case errors.Is(err, fleet.ErrDeviceDisconnected):
			writeError(w, http.StatusBadGateway, "device_disconnected", "device disconnected before acknowledging")
		default:
			writeInternalError(w, "failed to deliver command")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"command_id": cmd.ID,
		"ack":        ack,
	})
}

// handleGroupCommand dispatches a command to every member of a group.
// Offline members get the command queued.
func (s *Server) handleGroupCommand(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if _, err := s.groups.GetByID(r.Context(), id); err != nil {
		if errors.Is(err, device.ErrGroupNotFound) {
			writeNotFound(w, "group not found")
			return
		}
		writeInternalError(w, "failed to get group")
		return
	}

	req, ok := decodeCommandRequest(w, r)
	if !ok {
		return
	}

	memberIDs, err := s.groups.GetMemberIDs(r.Context(), id)
	if err != nil {
		writeInternalError(w, "failed to list group members")
		return
	}

	cmd := fleet.NewCommand(req.Type, req.Payload)
	result := s.dispatcher.DispatchMany(memberIDs, cmd)
	s.auditLog(audit.ActionCommand, "command", cmd.ID, map[string]any{
		"group_id": id,
		"type":     cmd.Type,
		"sent":     result.Sent,
		"queued":   result.Queued,
		"failed":   result.Failed,
	})

	writeJSON(w, http.StatusOK, map[string]any{
		"command_id": cmd.ID,
		"sent":       result.Sent,
		"queued":     result.Queued,
		"failed":     result.Failed,
		"results":    result.Results,
	})
}

// handleBroadcastCommand dispatches a command to every registered device.
// Connected devices receive it immediately; the rest get it queued.
func (s *Server) handleBroadcastCommand(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeCommandRequest(w, r)
	if !ok {
		return
	}

	devices, err := s.devices.List(r.Context())
	if err != nil {
		writeInternalError(w, "failed to list devices")
		return
	}

	ids := make([]string, 0, len(devices))
	for i := range devices {
		ids = append(ids, devices[i].ID)
	}

	cmd := fleet.NewCommand(req.Type, req.Payload)
	result := s.dispatcher.DispatchMany(ids, cmd)
	s.auditLog(audit.ActionCommand, "command", cmd.ID, map[string]any{
		"broadcast": true,
		"type":      cmd.Type,
		"sent":      result.Sent,
		"queued":    result.Queued,
		"failed":    result.Failed,
	})

	writeJSON(w, http.StatusOK, map[string]any{
		"command_id": cmd.ID,
		"sent":       result.Sent,
		"queued":     result.Queued,
		"failed":     result.Failed,
		"results":    result.Results,
	})
}
