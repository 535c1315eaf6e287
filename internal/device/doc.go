// Package device manages the persistent identity and credential lifecycle
// of display devices in the fleet.
//
// It provides:
//   - Device registration, idempotent by (install_id, hardware_id) fingerprint
//   - Argon2id secret hashing and constant-time heartbeat verification
//   - Single-use pairing codes with atomic claim and secret rotation
//   - Groups with device membership and layered settings inheritance
//
// The Store wraps a Repository with an in-memory cache for fast credential
// checks on the heartbeat path. All Store methods are thread-safe.
package device
