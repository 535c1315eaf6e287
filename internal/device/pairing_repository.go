package device

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// PairingRepository defines the interface for pairing-code persistence.
type PairingRepository interface {
	// Create inserts a new pairing code.
	Create(ctx context.Context, code *PairingCode) error

	// GetByCode retrieves a pairing code.
	// Returns ErrPairingNotFound if no such code exists.
	GetByCode(ctx context.Context, code string) (*PairingCode, error)

	// Consume atomically marks a code consumed. The update only succeeds
	// if the code is still unconsumed (compare-and-swap on consumed_at),
	// so exactly one of two racing claims wins.
	// Returns ErrPairingConsumed if the code was already consumed and
	// ErrPairingNotFound if it does not exist.
	Consume(ctx context.Context, code string, consumedAt time.Time) error

	// DeleteExpired removes codes whose expiry is before the given time.
	// Returns the number of codes removed.
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// SQLitePairingRepository implements PairingRepository using SQLite.
type SQLitePairingRepository struct {
	db *sql.DB
}

// NewSQLitePairingRepository creates a new SQLite-backed pairing repository.
func NewSQLitePairingRepository(db *sql.DB) *SQLitePairingRepository {
	return &SQLitePairingRepository{db: db}
}

// Create inserts a new pairing code.
func (r *SQLitePairingRepository) Create(ctx context.Context, code *PairingCode) error {
	if code.CreatedAt.IsZero() {
		code.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO pairing_codes (code, token_hash, device_id, expires_at, consumed_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		code.Code,
		code.TokenHash,
		code.DeviceID,
		code.ExpiresAt.UTC().Format(time.RFC3339),
		nullableTime(code.ConsumedAt),
		code.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("pairing code collision: %w", err)
		}
		return fmt.Errorf("inserting pairing code: %w", err)
	}

	return nil
}

// GetByCode retrieves a pairing code.
func (r *SQLitePairingRepository) GetByCode(ctx context.Context, code string) (*PairingCode, error) {
	query := `
		SELECT code, token_hash, device_id, expires_at, consumed_at, created_at
		FROM pairing_codes
		WHERE code = ?`

	var pc PairingCode
	var expiresAt, createdAt string
	var consumedAt sql.NullString

	err := r.db.QueryRowContext(ctx, query, code).Scan(
		&pc.Code,
		&pc.TokenHash,
		&pc.DeviceID,
		&expiresAt,
		&consumedAt,
		&createdAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrPairingNotFound
		}
		return nil, fmt.Errorf("querying pairing code: %w", err)
	}

	pc.ExpiresAt, err = time.Parse(time.RFC3339, expiresAt)
	if err != nil {
		return nil, fmt.Errorf("parsing expires_at: %w", err)
	}
	pc.CreatedAt, err = time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if consumedAt.Valid {
		t, err := time.Parse(time.RFC3339, consumedAt.String)
		if err != nil {
			return nil, fmt.Errorf("parsing consumed_at: %w", err)
		}
		pc.ConsumedAt = &t
	}

	return &pc, nil
}

// Consume atomically marks a code consumed.
func (r *SQLitePairingRepository) Consume(ctx context.Context, code string, consumedAt time.Time) error {
	query := `
		UPDATE pairing_codes
		SET consumed_at = ?
		WHERE code = ? AND consumed_at IS NULL`

	result, err := r.db.ExecContext(ctx, query,
		consumedAt.UTC().Format(time.RFC3339),
		code,
	)
	if err != nil {
		return fmt.Errorf("consuming pairing code: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		// Distinguish "already consumed" from "never existed"
		var count int
		if err := r.db.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM pairing_codes WHERE code = ?", code,
		).Scan(&count); err != nil {
			return fmt.Errorf("checking pairing code exists: %w", err)
		}
		if count == 0 {
			return ErrPairingNotFound
		}
		return ErrPairingConsumed
	}

	return nil
}

// DeleteExpired removes codes whose expiry is before the given time.
func (r *SQLitePairingRepository) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		"DELETE FROM pairing_codes WHERE expires_at < ?",
		before.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return 0, fmt.Errorf("deleting expired pairing codes: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}
	return deleted, nil
}
