package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/marqueehq/marquee-core/internal/audit"
	"github.com/marqueehq/marquee-core/internal/device"
)

// handleListGroups returns all groups in settings precedence order.
func (s *Server) handleListGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := s.groups.List(r.Context())
	if err != nil {
		writeInternalError(w, "failed to list groups")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"groups": groups, "count": len(groups)})
}

// createGroupRequest is the body for group creation.
type createGroupRequest struct {
	Name        string          `json:"name"`
	Description *string         `json:"description,omitempty"`
	Settings    device.Settings `json:"settings,omitempty"`
	SortOrder   int64           `json:"sort_order,omitempty"`
}

// handleCreateGroup creates a new group. Sort order is clamped, not rejected.
func (s *Server) handleCreateGroup(w http.ResponseWriter, r *http.Request) {
	var req createGroupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Name == "" {
		writeBadRequest(w, "name is required")
		return
	}

	group := &device.Group{
		ID:          device.GenerateID(),
		Name:        req.Name,
		Description: req.Description,
		Settings:    req.Settings,
		SortOrder:   device.ClampSortOrder(req.SortOrder),
	}

	if err := s.groups.Create(r.Context(), group); err != nil {
		if errors.Is(err, device.ErrGroupExists) {
			writeConflict(w, "group already exists")
			return
		}
		writeInternalError(w, "failed to create group")
		return
	}

	s.auditLog(audit.ActionGroupCreate, "group", group.ID, map[string]any{
		"name": group.Name,
	})
	writeJSON(w, http.StatusCreated, group)
}

// handleGetGroup returns a single group by ID.
func (s *Server) handleGetGroup(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	group, err := s.groups.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, device.ErrGroupNotFound) {
			writeNotFound(w, "group not found")
			return
		}
		writeInternalError(w, "failed to get group")
		return
	}

	writeJSON(w, http.StatusOK, group)
}

// handlePatchGroup partially updates a group. Absent fields are unchanged;
// an out-of-range sort order is clamped into bounds.
func (s *Server) handlePatchGroup(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var patch device.GroupPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	group, err := s.groups.Patch(r.Context(), id, patch)
	if err != nil {
		if errors.Is(err, device.ErrGroupNotFound) {
			writeNotFound(w, "group not found")
			return
		}
		writeInternalError(w, "failed to update group")
		return
	}

	writeJSON(w, http.StatusOK, group)
}

// handleDeleteGroup removes a group. Membership rows cascade; member devices
// are untouched.
func (s *Server) handleDeleteGroup(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := s.groups.Delete(r.Context(), id); err != nil {
		if errors.Is(err, device.ErrGroupNotFound) {
			writeNotFound(w, "group not found")
			return
		}
		writeInternalError(w, "failed to delete group")
		return
	}

	s.auditLog(audit.ActionGroupDelete, "group", id, nil)
	w.WriteHeader(http.StatusNoContent)
}

// handleListGroupDevices returns the IDs of the group's member devices.
func (s *Server) handleListGroupDevices(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if _, err := s.groups.GetByID(r.Context(), id); err != nil {
		if errors.Is(err, device.ErrGroupNotFound) {
			writeNotFound(w, "group not found")
			return
		}
		writeInternalError(w, "failed to get group")
		return
	}

	memberIDs, err := s.groups.GetMemberIDs(r.Context(), id)
	if err != nil {
		writeInternalError(w, "failed to list group members")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"device_ids": memberIDs, "count": len(memberIDs)})
}

// groupMembersRequest is the body for membership changes.
type groupMembersRequest struct {
	DeviceIDs []string `json:"device_ids"`
}

// handleAddGroupDevices adds devices to a group. Adding an existing member
// is a no-op.
func (s *Server) handleAddGroupDevices(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req groupMembersRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if len(req.DeviceIDs) == 0 {
		writeBadRequest(w, "device_ids is required")
		return
	}

	if err := s.groups.AddDevices(r.Context(), id, req.DeviceIDs); err != nil {
		if errors.Is(err, device.ErrGroupNotFound) {
			writeNotFound(w, "group not found")
			return
		}
		writeInternalError(w, "failed to add devices to group")
		return
	}

	s.auditLog(audit.ActionGroupMembers, "group", id, map[string]any{
		"added": req.DeviceIDs,
	})
	writeJSON(w, http.StatusOK, map[string]any{"added": req.DeviceIDs})
}

// handleRemoveGroupDevices removes devices from a group.
func (s *Server) handleRemoveGroupDevices(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req groupMembersRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if len(req.DeviceIDs) == 0 {
		writeBadRequest(w, "device_ids is required")
		return
	}

	if err := s.groups.RemoveDevices(r.Context(), id, req.DeviceIDs); err != nil {
		if errors.Is(err, device.ErrGroupNotFound) {
			writeNotFound(w, "group not found")
			return
		}
		writeInternalError(w, "failed to remove devices from group")
		return
	}

	s.auditLog(audit.ActionGroupMembers, "group", id, map[string]any{
		"removed": req.DeviceIDs,
	})
	writeJSON(w, http.StatusOK, map[string]any{"removed": req.DeviceIDs})
}
