package device

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Repository defines the interface for device persistence operations.
// This abstraction allows for different implementations (SQLite, mock, etc.)
// and enables unit testing without database dependencies.
type Repository interface {
	// GetByID retrieves a device by its unique identifier.
	// Returns ErrDeviceNotFound if the device does not exist.
	GetByID(ctx context.Context, id string) (*Device, error)

	// GetByFingerprint retrieves a device by its (install_id, hardware_id)
	// registration fingerprint.
	// Returns ErrDeviceNotFound if no device matches.
	GetByFingerprint(ctx context.Context, installID, hardwareID string) (*Device, error)

	// List retrieves all devices.
	List(ctx context.Context) ([]Device, error)

	// Create inserts a new device.
	// Returns ErrDeviceExists if the ID or fingerprint is already taken.
	Create(ctx context.Context, device *Device) error

	// Update modifies an existing device.
	// Returns ErrDeviceNotFound if the device does not exist.
	Update(ctx context.Context, device *Device) error

	// Delete removes a device by ID.
	// Returns ErrDeviceNotFound if the device does not exist.
	Delete(ctx context.Context, id string) error

	// RotateSecret replaces the device's secret hash.
	// Every credential issued before the rotation becomes invalid.
	RotateSecret(ctx context.Context, id, newSecretHash string) error

	// UpdateLastSeen records the time of an authenticated heartbeat.
	// This is optimised for the hot heartbeat path.
	UpdateLastSeen(ctx context.Context, id string, seenAt time.Time) error

	// UpdateSettings replaces the device-level settings override map.
	UpdateSettings(ctx context.Context, id string, settings Settings) error
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
// The db parameter should be an open SQLite connection.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const deviceColumns = `id, name, location, secret_hash, install_id, hardware_id,
		settings, last_seen_at, created_at, updated_at`

// GetByID retrieves a device by its unique identifier.
func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*Device, error) {
	query := `SELECT ` + deviceColumns + ` FROM devices WHERE id = ?`

	row := r.db.QueryRowContext(ctx, query, id)
	device, err := scanDeviceRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDeviceNotFound
		}
		return nil, fmt.Errorf("querying device by id: %w", err)
	}
	return device, nil
}

// GetByFingerprint retrieves a device by its registration fingerprint.
func (r *SQLiteRepository) GetByFingerprint(ctx context.Context, installID, hardwareID string) (*Device, error) {
	query := `SELECT ` + deviceColumns + ` FROM devices WHERE install_id = ? AND hardware_id = ?`

	row := r.db.QueryRowContext(ctx, query, installID, hardwareID)
	device, err := scanDeviceRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDeviceNotFound
		}
		return nil, fmt.Errorf("querying device by fingerprint: %w", err)
	}
	return device, nil
}

// List retrieves all devices.
func (r *SQLiteRepository) List(ctx context.Context) ([]Device, error) {
	query := `SELECT ` + deviceColumns + ` FROM devices ORDER BY name, id`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying devices: %w", err)
	}
	defer rows.Close()

	var devices []Device
	for rows.Next() {
		device, err := scanDeviceRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning device: %w", err)
		}
		devices = append(devices, *device)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating devices: %w", err)
	}

	return devices, nil
}

// Create inserts a new device.
func (r *SQLiteRepository) Create(ctx context.Context, device *Device) error {
	settingsJSON, err := marshalSettings(device.Settings)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	if device.CreatedAt.IsZero() {
		device.CreatedAt = now
	}
	device.UpdatedAt = now

	query := `
		INSERT INTO devices (
			id, name, location, secret_hash, install_id, hardware_id,
			settings, last_seen_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = r.db.ExecContext(ctx, query,
		device.ID,
		device.Name,
		nullableString(device.Location),
		device.SecretHash,
		device.InstallID,
		device.HardwareID,
		settingsJSON,
		nullableTime(device.LastSeenAt),
		device.CreatedAt.Format(time.RFC3339),
		device.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrDeviceExists
		}
		return fmt.Errorf("inserting device: %w", err)
	}

	return nil
}

// Update modifies an existing device.
func (r *SQLiteRepository) Update(ctx context.Context, device *Device) error {
	settingsJSON, err := marshalSettings(device.Settings)
	if err != nil {
		return err
	}

	device.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE devices SET
			name = ?, location = ?, secret_hash = ?,
			install_id = ?, hardware_id = ?, settings = ?,
			last_seen_at = ?, updated_at = ?
		WHERE id = ?`

	result, err := r.db.ExecContext(ctx, query,
		device.Name,
		nullableString(device.Location),
		device.SecretHash,
		device.InstallID,
		device.HardwareID,
		settingsJSON,
		nullableTime(device.LastSeenAt),
		device.UpdatedAt.Format(time.RFC3339),
		device.ID,
	)
	if err != nil {
		return fmt.Errorf("updating device: %w", err)
	}

	return requireRowsAffected(result, ErrDeviceNotFound)
}

// Delete removes a device by ID.
func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM devices WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting device: %w", err)
	}

	return requireRowsAffected(result, ErrDeviceNotFound)
}

// RotateSecret replaces the device's secret hash.
func (r *SQLiteRepository) RotateSecret(ctx context.Context, id, newSecretHash string) error {
	now := time.Now().UTC()
	query := `UPDATE devices SET secret_hash = ?, updated_at = ? WHERE id = ?`

	result, err := r.db.ExecContext(ctx, query,
		newSecretHash,
		now.Format(time.RFC3339),
		id,
	)
	if err != nil {
		return fmt.Errorf("rotating device secret: %w", err)
	}

	return requireRowsAffected(result, ErrDeviceNotFound)
}

// UpdateLastSeen records the time of an authenticated heartbeat.
// Deliberately leaves updated_at untouched so heartbeat churn doesn't mask
// real configuration changes.
func (r *SQLiteRepository) UpdateLastSeen(ctx context.Context, id string, seenAt time.Time) error {
	query := `UPDATE devices SET last_seen_at = ? WHERE id = ?`

	result, err := r.db.ExecContext(ctx, query,
		seenAt.UTC().Format(time.RFC3339),
		id,
	)
	if err != nil {
		return fmt.Errorf("updating device last seen: %w", err)
	}

	return requireRowsAffected(result, ErrDeviceNotFound)
}

// UpdateSettings replaces the device-level settings override map.
func (r *SQLiteRepository) UpdateSettings(ctx context.Context, id string, settings Settings) error {
	settingsJSON, err := marshalSettings(settings)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	query := `UPDATE devices SET settings = ?, updated_at = ? WHERE id = ?`

	result, err := r.db.ExecContext(ctx, query,
		settingsJSON,
		now.Format(time.RFC3339),
		id,
	)
	if err != nil {
		return fmt.Errorf("updating device settings: %w", err)
	}

	return requireRowsAffected(result, ErrDeviceNotFound)
}

// rowScanner is an interface that sql.Row and sql.Rows both implement.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanDeviceRow scans a row or rows result into a Device.
func scanDeviceRow(scanner rowScanner) (*Device, error) {
	var d Device
	var location, lastSeenAt sql.NullString
	var settingsJSON string
	var createdAt, updatedAt string

	err := scanner.Scan(
		&d.ID,
		&d.Name,
		&location,
		&d.SecretHash,
		&d.InstallID,
		&d.HardwareID,
		&settingsJSON,
		&lastSeenAt,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	if location.Valid {
		d.Location = &location.String
	}
	if lastSeenAt.Valid {
		t, err := time.Parse(time.RFC3339, lastSeenAt.String)
		if err == nil {
			d.LastSeenAt = &t
		}
	}

	var parseErr error
	d.CreatedAt, parseErr = time.Parse(time.RFC3339, createdAt)
	if parseErr != nil {
		return nil, fmt.Errorf("parsing created_at: %w", parseErr)
	}
	d.UpdatedAt, parseErr = time.Parse(time.RFC3339, updatedAt)
	if parseErr != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", parseErr)
	}

	if err := json.Unmarshal([]byte(settingsJSON), &d.Settings); err != nil {
		return nil, fmt.Errorf("unmarshalling settings: %w", err)
	}

	return &d, nil
}

// marshalSettings serialises a settings map for storage, defaulting to "{}".
func marshalSettings(s Settings) (string, error) {
	if s == nil {
		return "{}", nil
	}
	data, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("marshalling settings: %w", err)
	}
	return string(data), nil
}

// requireRowsAffected returns notFound if the statement touched no rows.
func requireRowsAffected(result sql.Result, notFound error) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return notFound
	}
	return nil
}

// nullableString returns a sql.NullString for optional string pointers.
func nullableString(s *string) sql.NullString {
	if s == nil || *s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

// nullableTime returns a sql.NullString for optional time pointers (as RFC3339 strings).
func nullableTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339), Valid: true}
}

// isUniqueConstraintError checks if an error is a SQLite unique constraint violation.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "unique constraint")
}
