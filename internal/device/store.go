package device

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Logger defines the logging interface used by the Store.
// This allows different logging implementations to be used.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// RegisterRequest is the input to Store.Register.
type RegisterRequest struct {
	InstallID  string
	HardwareID string
	Name       string
}

// RegisterResult is the outcome of a registration.
//
// Secret is only populated when Created is true: re-registering an existing
// fingerprint returns the existing identity without minting new credentials.
type RegisterResult struct {
	Device  *Device
	Secret  string
	Created bool
}

// Store provides device management with caching and thread safety.
// It wraps a Repository and adds an in-memory cache for fast lookups on the
// heartbeat and credential-check paths.
//
// The cache is populated on startup via RefreshCache() and kept in sync
// by cache-invalidating CRUD operations.
//
// All public methods are thread-safe.
type Store struct {
	repo    Repository
	cache   map[string]*Device // Cached devices by ID
	cacheMu sync.RWMutex       // Protects cache
	logger  Logger

	// dummyHash is a valid Argon2id hash of a random throwaway secret.
	// Credential checks against unknown device IDs are run against this
	// hash so the work factor is identical either way.
	dummyHash string
}

// NewStore creates a new device store.
// The repository is used for persistence; the store adds caching.
func NewStore(repo Repository) (*Store, error) {
	throwaway, err := GenerateSecret()
	if err != nil {
		return nil, fmt.Errorf("generating dummy secret: %w", err)
	}
	dummyHash, err := HashSecret(throwaway)
	if err != nil {
		return nil, fmt.Errorf("hashing dummy secret: %w", err)
	}

	return &Store{
		repo:      repo,
		cache:     make(map[string]*Device),
		logger:    noopLogger{},
		dummyHash: dummyHash,
	}, nil
}

// SetLogger sets the logger for the store.
func (s *Store) SetLogger(logger Logger) {
	s.logger = logger
}

// RefreshCache reloads all devices from the repository into the cache.
// This should be called on application startup.
func (s *Store) RefreshCache(ctx context.Context) error {
	devices, err := s.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("loading devices: %w", err)
	}

	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()

	// Clear and rebuild cache with deep copies
	s.cache = make(map[string]*Device, len(devices))
	for i := range devices {
		d := devices[i]
		s.cache[d.ID] = d.DeepCopy()
	}

	s.logger.Info("device cache refreshed", "count", len(devices))
	return nil
}

// Get retrieves a device by ID.
// Returns ErrDeviceNotFound if the device does not exist.
// The returned device is a deep copy; callers can safely modify it.
func (s *Store) Get(ctx context.Context, id string) (*Device, error) {
	s.cacheMu.RLock()
	cached, ok := s.cache[id]
	s.cacheMu.RUnlock()

	if ok {
		return cached.DeepCopy(), nil
	}

	// Fall back to repository (might be a new device not yet cached)
	device, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	s.cacheMu.Lock()
	s.cache[id] = device.DeepCopy()
	s.cacheMu.Unlock()

	return device, nil
}

// List retrieves all devices.
// The returned devices are deep copies; callers can safely modify them.
func (s *Store) List(ctx context.Context) ([]Device, error) {
	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()

	if len(s.cache) > 0 {
		devices := make([]Device, 0, len(s.cache))
		for _, d := range s.cache {
			devices = append(devices, *d.DeepCopy())
		}
		return devices, nil
	}

	return s.repo.List(ctx)
}

// Register registers a device, idempotent by (install_id, hardware_id).
//
// A fingerprint already on record returns the existing identity unchanged;
// the device keeps the secret it was originally issued. A new fingerprint
// allocates a fresh ID and secret. The raw secret is returned exactly once,
// here, and only its hash is stored.
func (s *Store) Register(ctx context.Context, req RegisterRequest) (*RegisterResult, error) {
	if req.InstallID == "" || req.HardwareID == "" {
		return nil, fmt.Errorf("device: install and hardware IDs are required")
	}

	// Fast path: fingerprint already registered
	existing, err := s.repo.GetByFingerprint(ctx, req.InstallID, req.HardwareID)
	if err == nil {
		return &RegisterResult{Device: existing, Created: false}, nil
	}
	if !errors.Is(err, ErrDeviceNotFound) {
		return nil, err
	}

	secret, err := GenerateSecret()
	if err != nil {
		return nil, err
	}
	secretHash, err := HashSecret(secret)
	if err != nil {
		return nil, err
	}

	name := req.Name
	if name == "" {
		name = "Unnamed Device"
	}

	device := &Device{
		ID:         GenerateID(),
		Name:       name,
		SecretHash: secretHash,
		InstallID:  req.InstallID,
		HardwareID: req.HardwareID,
		Settings:   Settings{},
	}

	if err := s.repo.Create(ctx, device); err != nil {
		if errors.Is(err, ErrDeviceExists) {
			// Lost a race with a concurrent registration of the same
			// fingerprint; the winner's identity is the device's identity.
			existing, err := s.repo.GetByFingerprint(ctx, req.InstallID, req.HardwareID)
			if err != nil {
				return nil, err
			}
			return &RegisterResult{Device: existing, Created: false}, nil
		}
		return nil, err
	}

	s.cacheMu.Lock()
	s.cache[device.ID] = device.DeepCopy()
	s.cacheMu.Unlock()

	s.logger.Info("device registered", "id", device.ID, "name", device.Name)
	return &RegisterResult{Device: device, Secret: secret, Created: true}, nil
}

// VerifyCredentials checks a device's presented secret.
//
// The check takes the same amount of work whether the device exists or not:
// unknown IDs are verified against a throwaway hash before returning
// ErrUnknownDevice. A wrong secret returns ErrInvalidCredentials.
// On success the returned device is a deep copy.
func (s *Store) VerifyCredentials(ctx context.Context, deviceID, secret string) (*Device, error) {
	device, err := s.Get(ctx, deviceID)
	if err != nil {
		if errors.Is(err, ErrDeviceNotFound) {
			// Burn the same work as a real verification
			_, _ = VerifySecret(secret, s.dummyHash) //nolint:errcheck // result deliberately discarded
			return nil, ErrUnknownDevice
		}
		return nil, err
	}

	ok, err := VerifySecret(secret, device.SecretHash)
	if err != nil {
		return nil, fmt.Errorf("verifying credentials: %w", err)
	}
	if !ok {
		return nil, ErrInvalidCredentials
	}

	return device, nil
}

// Update modifies an existing device and refreshes the cache.
func (s *Store) Update(ctx context.Context, device *Device) error {
	if err := s.repo.Update(ctx, device); err != nil {
		return err
	}

	s.cacheMu.Lock()
	s.cache[device.ID] = device.DeepCopy()
	s.cacheMu.Unlock()

	s.logger.Info("device updated", "id", device.ID, "name", device.Name)
	return nil
}

// Delete removes a device.
func (s *Store) Delete(ctx context.Context, id string) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}

	s.cacheMu.Lock()
	delete(s.cache, id)
	s.cacheMu.Unlock()

	s.logger.Info("device deleted", "id", id)
	return nil
}

// RotateSecret mints a new secret for the device, replacing the stored hash.
// Every previously issued credential is invalid the moment this returns.
// The new raw secret is returned to the caller for delivery to the device.
func (s *Store) RotateSecret(ctx context.Context, id string) (string, error) {
	secret, err := GenerateSecret()
	if err != nil {
		return "", err
	}
	secretHash, err := HashSecret(secret)
	if err != nil {
		return "", err
	}

	if err := s.repo.RotateSecret(ctx, id, secretHash); err != nil {
		return "", err
	}

	// Update cache using deep copy to prevent race conditions
	s.cacheMu.Lock()
	if cached, ok := s.cache[id]; ok {
		updated := cached.DeepCopy()
		updated.SecretHash = secretHash
		s.cache[id] = updated
	}
	s.cacheMu.Unlock()

	s.logger.Info("device secret rotated", "id", id)
	return secret, nil
}

// TouchLastSeen records an authenticated heartbeat.
func (s *Store) TouchLastSeen(ctx context.Context, id string) error {
	now := time.Now().UTC()
	if err := s.repo.UpdateLastSeen(ctx, id, now); err != nil {
		return err
	}

	s.cacheMu.Lock()
	if cached, ok := s.cache[id]; ok {
		updated := cached.DeepCopy()
		updated.LastSeenAt = &now
		s.cache[id] = updated
	}
	s.cacheMu.Unlock()

	s.logger.Debug("device last seen updated", "id", id)
	return nil
}

// UpdateSettings replaces the device-level settings override map.
func (s *Store) UpdateSettings(ctx context.Context, id string, settings Settings) error {
	if err := s.repo.UpdateSettings(ctx, id, settings); err != nil {
		return err
	}

	s.cacheMu.Lock()
	if cached, ok := s.cache[id]; ok {
		updated := cached.DeepCopy()
		updated.Settings = deepCopyMap(settings)
		updated.UpdatedAt = time.Now().UTC()
		s.cache[id] = updated
	}
	s.cacheMu.Unlock()

	s.logger.Info("device settings updated", "id", id)
	return nil
}

// Count returns the number of cached devices.
func (s *Store) Count() int {
	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()
	return len(s.cache)
}
