package device

import (
	"time"

	"github.com/google/uuid"
)

// Settings is a free-form settings map. Keys are setting names; values are
// whatever the admin layer pushed (strings, numbers, booleans, nested maps).
type Settings map[string]any

// Device represents a registered display device.
//
// The ID is immutable for the life of the device. The secret hash is
// rotatable: pairing claims replace it, immediately invalidating every
// credential issued before the rotation.
type Device struct {
	// ID is the unique device identifier (UUID). Never changes.
	ID string `json:"id"`

	// Name is the human-readable device name (set at pairing time).
	Name string `json:"name"`

	// Location is an optional free-form placement description.
	Location *string `json:"location,omitempty"`

	// SecretHash is the Argon2id PHC hash of the device secret.
	// The raw secret is never stored.
	SecretHash string `json:"-"`

	// InstallID and HardwareID form the registration fingerprint.
	// Re-registering with the same pair returns the same device.
	InstallID  string `json:"install_id"`
	HardwareID string `json:"hardware_id"`

	// Settings holds device-level setting overrides. These take precedence
	// over group settings and global defaults.
	Settings Settings `json:"settings"`

	// LastSeenAt is the time of the most recent authenticated heartbeat.
	LastSeenAt *time.Time `json:"last_seen_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PairingCode is a single-use, time-limited code binding a device to a
// human-chosen name and location.
//
// Both the short code and the high-entropy token are required at claim time;
// the token is stored hashed. Claim is an atomic check-then-consume.
type PairingCode struct {
	// Code is the short human-enterable code (primary key).
	Code string `json:"code"`

	// TokenHash is the SHA-256 hex digest of the claim token.
	TokenHash string `json:"-"`

	// DeviceID is the device this code pairs.
	DeviceID string `json:"device_id"`

	// ExpiresAt is the absolute expiry time.
	ExpiresAt time.Time `json:"expires_at"`

	// ConsumedAt is set when the code is claimed. A non-nil value means
	// any further claim fails with ErrPairingConsumed.
	ConsumedAt *time.Time `json:"consumed_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// GenerateID generates a new unique device identifier.
func GenerateID() string {
	return uuid.New().String()
}

// DeepCopy creates a deep copy of the device.
// This prevents cache corruption when callers modify returned devices.
func (d *Device) DeepCopy() *Device {
	if d == nil {
		return nil
	}

	c := *d

	if d.Location != nil {
		loc := *d.Location
		c.Location = &loc
	}
	if d.LastSeenAt != nil {
		t := *d.LastSeenAt
		c.LastSeenAt = &t
	}
	c.Settings = deepCopyMap(d.Settings)

	return &c
}

// deepCopyMap creates a deep copy of a settings map.
// Nested maps and slices are copied recursively; scalars are copied by value.
func deepCopyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	c := make(map[string]any, len(m))
	for k, v := range m {
		c[k] = deepCopyValue(v)
	}
	return c
}

// deepCopyValue copies a single settings value.
func deepCopyValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return deepCopyMap(val)
	case []any:
		c := make([]any, len(val))
		for i, item := range val {
			c[i] = deepCopyValue(item)
		}
		return c
	default:
		return v
	}
}
