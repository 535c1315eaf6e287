package device

import "errors"

// Device store errors.
var (
	// ErrDeviceNotFound is returned when a device does not exist.
	ErrDeviceNotFound = errors.New("device: device not found")

	// ErrDeviceExists is returned when creating a device with a duplicate ID
	// or fingerprint.
	ErrDeviceExists = errors.New("device: device already exists")

	// ErrUnknownDevice is returned when a heartbeat names a device ID that
	// is not registered. Callers presenting credentials should treat this
	// the same as ErrInvalidCredentials to avoid leaking which IDs exist.
	ErrUnknownDevice = errors.New("device: unknown device")

	// ErrInvalidCredentials is returned when a presented secret does not
	// match the stored hash.
	ErrInvalidCredentials = errors.New("device: invalid credentials")
)

// Pairing errors.
var (
	// ErrPairingNotFound is returned when a pairing code does not exist or
	// its token does not match. The two cases are deliberately
	// indistinguishable to the caller.
	ErrPairingNotFound = errors.New("device: pairing code not found")

	// ErrPairingExpired is returned when a pairing code is past its TTL.
	ErrPairingExpired = errors.New("device: pairing code expired")

	// ErrPairingConsumed is returned when a pairing code has already been
	// claimed. A stale code never silently succeeds.
	ErrPairingConsumed = errors.New("device: pairing code already consumed")
)
