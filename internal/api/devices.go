package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/marqueehq/marquee-core/internal/audit"
	"github.com/marqueehq/marquee-core/internal/device"
)

// handleListDevices returns all registered devices ordered by name.
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := s.devices.List(r.Context())
	if err != nil {
		writeInternalError(w, "failed to list devices")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"devices": devices, "count": len(devices)})
}

// registerDeviceRequest is the body for device registration.
type registerDeviceRequest struct {
	InstallID  string `json:"install_id"`
	HardwareID string `json:"hardware_id"`
	Name       string `json:"name"`
}

// handleRegisterDevice registers a device by install/hardware fingerprint.
//
// Registration is idempotent: a device re-registering with a known
// fingerprint gets its existing identity back without a new secret.
func (s *Server) handleRegisterDevice(w http.ResponseWriter, r *http.Request) {
	var req registerDeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.InstallID == "" || req.HardwareID == "" {
		writeBadRequest(w, "install_id and hardware_id are required")
		return
	}

	result, err := s.devices.Register(r.Context(), device.RegisterRequest{
		InstallID:  req.InstallID,
		HardwareID: req.HardwareID,
		Name:       req.Name,
	})
	if err != nil {
		writeInternalError(w, "failed to register device")
		return
	}

	status := http.StatusOK
	if result.Created {
		status = http.StatusCreated
		s.auditLog(audit.ActionRegister, "device", result.Device.ID, map[string]any{
			"install_id":  req.InstallID,
			"hardware_id": req.HardwareID,
		})
	}
	resp := map[string]any{
		"device":  result.Device,
		"created": result.Created,
	}
	if result.Created {
		// The raw secret is shown exactly once
		resp["secret"] = result.Secret
	}
	writeJSON(w, status, resp)
}

// handleGetDevice returns a single device by ID.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	dev, err := s.devices.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, device.ErrDeviceNotFound) {
			writeNotFound(w, "device not found")
			return
		}
		writeInternalError(w, "failed to get device")
		return
	}

	writeJSON(w, http.StatusOK, dev)
}

// handleUpdateDevice partially updates a device's name and location.
func (s *Server) handleUpdateDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	existing, err := s.devices.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, device.ErrDeviceNotFound) {
			writeNotFound(w, "device not found")
			return
		}
		writeInternalError(w, "failed to get device")
		return
	}

	// Decode partial update onto the existing device
	if err := json.NewDecoder(r.Body).Decode(existing); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	existing.ID = id // Ensure ID cannot be changed

	if err := s.devices.Update(r.Context(), existing); err != nil {
		if errors.Is(err, device.ErrDeviceNotFound) {
			writeNotFound(w, "device not found")
			return
		}
		writeInternalError(w, "failed to update device")
		return
	}

	writeJSON(w, http.StatusOK, existing)
}

// handleDeleteDevice removes a device by ID.
func (s *Server) handleDeleteDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := s.devices.Delete(r.Context(), id); err != nil {
		if errors.Is(err, device.ErrDeviceNotFound) {
			writeNotFound(w, "device not found")
			return
		}
		writeInternalError(w, "failed to delete device")
		return
	}

	s.auditLog(audit.ActionDelete, "device", id, nil)
	w.WriteHeader(http.StatusNoContent)
}

// handleEffectiveSettings returns the device's resolved settings: global
// defaults, then group layers in precedence order, then device overrides.
func (s *Server) handleEffectiveSettings(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	settings, err := s.resolver.EffectiveSettings(r.Context(), id)
	if err != nil {
		if errors.Is(err, device.ErrDeviceNotFound) {
			writeNotFound(w, "device not found")
			return
		}
		writeInternalError(w, "failed to resolve settings")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"device_id": id,
		"settings":  settings,
	})
}

// handleSetDeviceSettings replaces the device's own settings overrides.
func (s *Server) handleSetDeviceSettings(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var settings device.Settings
	if err := json.NewDecoder(r.Body).Decode(&settings); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	if err := s.devices.UpdateSettings(r.Context(), id, settings); err != nil {
		if errors.Is(err, device.ErrDeviceNotFound) {
			writeNotFound(w, "device not found")
			return
		}
		writeInternalError(w, "failed to update settings")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"device_id": id,
		"settings":  settings,
	})
}

// handleRotateSecret mints a new secret for the device, invalidating the old
// one. The raw secret appears in the response exactly once.
func (s *Server) handleRotateSecret(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	secret, err := s.devices.RotateSecret(r.Context(), id)
	if err != nil {
		if errors.Is(err, device.ErrDeviceNotFound) {
			writeNotFound(w, "device not found")
			return
		}
		writeInternalError(w, "failed to rotate secret")
		return
	}

	s.auditLog(audit.ActionRotateSecret, "device", id, nil)
	writeJSON(w, http.StatusOK, map[string]any{
		"device_id": id,
		"secret":    secret,
	})
}
