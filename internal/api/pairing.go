package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/marqueehq/marquee-core/internal/audit"
	"github.com/marqueehq/marquee-core/internal/device"
)

// generatePairingRequest is the body for pairing code issuance.
type generatePairingRequest struct {
	TTLMs int `json:"ttl_ms,omitempty"`
}

// handleGeneratePairingCode issues a short-lived pairing code for a device.
//
// The response carries the human-readable code and the raw claim token.
// Neither is recoverable afterwards; only hashes are stored.
func (s *Server) handleGeneratePairingCode(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req generatePairingRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeBadRequest(w, "invalid JSON body")
			return
		}
	}
	if req.TTLMs < 0 {
		writeBadRequest(w, "ttl_ms must not be negative")
		return
	}

	issued, err := s.pairing.GenerateCode(r.Context(), id, time.Duration(req.TTLMs)*time.Millisecond)
	if err != nil {
		if errors.Is(err, device.ErrDeviceNotFound) {
			writeNotFound(w, "device not found")
			return
		}
		writeInternalError(w, "failed to generate pairing code")
		return
	}

	s.auditLog(audit.ActionPairingIssue, "device", id, map[string]any{
		"expires_at": issued.ExpiresAt,
	})
	writeJSON(w, http.StatusCreated, issued)
}

// claimPairingRequest is the body for a pairing claim.
type claimPairingRequest struct {
	Code     string  `json:"code"`
	Token    string  `json:"token"`
	Name     string  `json:"name,omitempty"`
	Location *string `json:"location,omitempty"`
}

// handleClaimPairing consumes a pairing code and binds the device.
//
// A wrong token is reported identically to an unknown code, so callers
// cannot probe for valid codes. Success rotates the device secret; the
// response is the only place the new secret ever appears.
func (s *Server) handleClaimPairing(w http.ResponseWriter, r *http.Request) {
	var req claimPairingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Code == "" || req.Token == "" {
		writeBadRequest(w, "code and token are required")
		return
	}

	result, err := s.pairing.Claim(r.Context(), device.ClaimRequest{
		Code:     req.Code,
		Token:    req.Token,
		Name:     req.Name,
		Location: req.Location,
	})
	if err != nil {
		switch {
		case errors.Is(err, device.ErrPairingNotFound):
			writeNotFound(w, "pairing code not found")
		case errors.Is(err, device.ErrPairingExpired):
			writeError(w, http.StatusGone, ErrCodeGone, "pairing code expired")
		case errors.Is(err, device.ErrPairingConsumed):
			writeConflict(w, "pairing code already claimed")
		default:
			writeInternalError(w, "failed to claim pairing code")
		}
		return
	}

	s.auditLog(audit.ActionPairingClaim, "device", result.Device.ID, map[string]any{
		"name": result.Device.Name,
	})
	writeJSON(w, http.StatusOK, result)
}
