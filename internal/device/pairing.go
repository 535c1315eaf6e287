package device

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Pairing-code issuance constants.
const (
	// codeCollisionRetries is how many times issuance retries on a
	// (vanishingly rare) short-code collision.
	codeCollisionRetries = 3
)

// IssuedPairing is the result of generating a pairing code.
// The raw token appears here exactly once; only its hash is stored.
type IssuedPairing struct {
	Code      string    `json:"code"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// ClaimRequest is the input to PairingService.Claim.
// Name and Location are optional overrides applied to the device on success.
type ClaimRequest struct {
	Code     string
	Token    string
	Name     string
	Location *string
}

// ClaimResult is the outcome of a successful pairing claim.
// NewSecret replaces whatever credential the device held before.
type ClaimResult struct {
	Device    *Device `json:"device"`
	NewSecret string  `json:"new_secret"`
}

// PairingService issues and claims single-use pairing codes.
//
// A claim is the human-mediated half of device onboarding: it binds the
// pre-registered device to a chosen name/location and rotates its secret.
// Claim single-use is enforced by the repository's compare-and-swap consume,
// so two racing claims can never both succeed.
type PairingService struct {
	codes      PairingRepository
	devices    *Store
	codeLength int
	defaultTTL time.Duration
	logger     Logger
}

// NewPairingService creates a pairing service.
// codeLength is the pairing-code length in characters; defaultTTL applies
// when issuance does not specify one.
func NewPairingService(codes PairingRepository, devices *Store, codeLength int, defaultTTL time.Duration) *PairingService {
	return &PairingService{
		codes:      codes,
		devices:    devices,
		codeLength: codeLength,
		defaultTTL: defaultTTL,
		logger:     noopLogger{},
	}
}

// SetLogger sets the logger for the service.
func (p *PairingService) SetLogger(logger Logger) {
	p.logger = logger
}

// GenerateCode issues a new pairing code for the device.
//
// ttl <= 0 uses the configured default. Both the short code and the
// high-entropy token are required at claim time, so guessing the code from
// a screen photo is not enough to hijack the pairing.
func (p *PairingService) GenerateCode(ctx context.Context, deviceID string, ttl time.Duration) (*IssuedPairing, error) {
	// Issuing a code for a device that doesn't exist is a caller bug
	if _, err := p.devices.Get(ctx, deviceID); err != nil {
		return nil, err
	}

	if ttl <= 0 {
		ttl = p.defaultTTL
	}

	token, err := GenerateToken()
	if err != nil {
		return nil, err
	}

	expiresAt := time.Now().UTC().Add(ttl)

	var lastErr error
	for attempt := 0; attempt < codeCollisionRetries; attempt++ {
		code, err := GenerateCode(p.codeLength)
		if err != nil {
			return nil, err
		}

		err = p.codes.Create(ctx, &PairingCode{
			Code:      code,
			TokenHash: HashToken(token),
			DeviceID:  deviceID,
			ExpiresAt: expiresAt,
		})
		if err == nil {
			p.logger.Info("pairing code issued", "device_id", deviceID, "expires_at", expiresAt)
			return &IssuedPairing{Code: code, Token: token, ExpiresAt: expiresAt}, nil
		}
		lastErr = err
	}

	return nil, fmt.Errorf("issuing pairing code: %w", lastErr)
}

// Claim consumes a pairing code and completes the pairing.
//
// On success the code is marked consumed, the device secret is rotated
// (old credentials are invalid immediately), and the optional name/location
// are applied. Failures:
//   - ErrPairingNotFound: unknown code or wrong token (indistinguishable)
//   - ErrPairingExpired: code past its TTL
//   - ErrPairingConsumed: code already claimed
func (p *PairingService) Claim(ctx context.Context, req ClaimRequest) (*ClaimResult, error) {
	pc, err := p.codes.GetByCode(ctx, req.Code)
	if err != nil {
		return nil, err
	}

	if !TokensEqual(req.Token, pc.TokenHash) {
		return nil, ErrPairingNotFound
	}

	now := time.Now().UTC()
	if !now.Before(pc.ExpiresAt) {
		return nil, ErrPairingExpired
	}
	if pc.ConsumedAt != nil {
		return nil, ErrPairingConsumed
	}

	// CAS consume: of two racing claims, exactly one passes this point
	if err := p.codes.Consume(ctx, pc.Code, now); err != nil {
		return nil, err
	}

	newSecret, err := p.devices.RotateSecret(ctx, pc.DeviceID)
	if err != nil {
		return nil, fmt.Errorf("rotating secret for claim: %w", err)
	}

	device, err := p.devices.Get(ctx, pc.DeviceID)
	if err != nil {
		return nil, err
	}

	if req.Name != "" || req.Location != nil {
		if req.Name != "" {
			device.Name = req.Name
		}
		if req.Location != nil {
			device.Location = req.Location
		}
		if err := p.devices.Update(ctx, device); err != nil {
			return nil, fmt.Errorf("applying pairing details: %w", err)
		}
	}

	p.logger.Info("pairing claimed", "device_id", device.ID, "name", device.Name)
	return &ClaimResult{Device: device, NewSecret: newSecret}, nil
}

// PurgeExpired deletes codes past their expiry. Intended to be run
// periodically; consumed codes are kept until they expire so a late second
// claim still reports ErrPairingConsumed rather than ErrPairingNotFound.
func (p *PairingService) PurgeExpired(ctx context.Context) (int64, error) {
	deleted, err := p.codes.DeleteExpired(ctx, time.Now().UTC())
	if err != nil {
		return 0, err
	}
	if deleted > 0 {
		p.logger.Debug("expired pairing codes purged", "count", deleted)
	}
	return deleted, nil
}

// IsPairingError reports whether err is one of the pairing failure modes
// callers surface to the admin layer.
func IsPairingError(err error) bool {
	return errors.Is(err, ErrPairingNotFound) ||
		errors.Is(err, ErrPairingExpired) ||
		errors.Is(err, ErrPairingConsumed)
}
