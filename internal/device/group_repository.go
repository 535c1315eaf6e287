package device

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// GroupRepository defines the interface for group persistence operations.
type GroupRepository interface {
	// Create inserts a new group.
	// Returns ErrGroupExists if the ID is already taken.
	Create(ctx context.Context, group *Group) error

	// GetByID retrieves a group by ID.
	// Returns ErrGroupNotFound if the group does not exist.
	GetByID(ctx context.Context, id string) (*Group, error)

	// List retrieves all groups ordered by sort order, then name.
	List(ctx context.Context) ([]Group, error)

	// Patch applies a partial update. Sort order is clamped into
	// [MinSortOrder, MaxSortOrder] before being stored.
	// Returns the updated group, or ErrGroupNotFound.
	Patch(ctx context.Context, id string, patch GroupPatch) (*Group, error)

	// Delete removes a group and its memberships.
	// Returns ErrGroupNotFound if the group does not exist.
	Delete(ctx context.Context, id string) error

	// AddDevices adds devices to a group. Adding an existing member is a
	// no-op; the whole batch is applied atomically.
	AddDevices(ctx context.Context, groupID string, deviceIDs []string) error

	// RemoveDevices removes devices from a group. Removing a non-member
	// is a no-op; the whole batch is applied atomically.
	RemoveDevices(ctx context.Context, groupID string, deviceIDs []string) error

	// GetMemberIDs returns the device IDs belonging to a group.
	GetMemberIDs(ctx context.Context, groupID string) ([]string, error)

	// GetGroupsForDevice returns the groups a device belongs to, ordered
	// by sort order, then name. This ordering is the settings merge order.
	GetGroupsForDevice(ctx context.Context, deviceID string) ([]Group, error)
}

// SQLiteGroupRepository implements GroupRepository using SQLite.
type SQLiteGroupRepository struct {
	db *sql.DB
}

// NewSQLiteGroupRepository creates a new SQLite-backed group repository.
func NewSQLiteGroupRepository(db *sql.DB) *SQLiteGroupRepository {
	return &SQLiteGroupRepository{db: db}
}

const groupColumns = `id, name, description, settings, sort_order, created_at, updated_at`

// Create inserts a new group.
func (r *SQLiteGroupRepository) Create(ctx context.Context, group *Group) error {
	if group.ID == "" {
		group.ID = GenerateID()
	}
	group.SortOrder = ClampSortOrder(group.SortOrder)

	settingsJSON, err := marshalSettings(group.Settings)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	if group.CreatedAt.IsZero() {
		group.CreatedAt = now
	}
	group.UpdatedAt = now

	query := `
		INSERT INTO groups (id, name, description, settings, sort_order, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`

	_, err = r.db.ExecContext(ctx, query,
		group.ID,
		group.Name,
		nullableString(group.Description),
		settingsJSON,
		group.SortOrder,
		group.CreatedAt.Format(time.RFC3339),
		group.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrGroupExists
		}
		return fmt.Errorf("inserting group: %w", err)
	}

	return nil
}

// GetByID retrieves a group by ID.
func (r *SQLiteGroupRepository) GetByID(ctx context.Context, id string) (*Group, error) {
	query := `SELECT ` + groupColumns + ` FROM groups WHERE id = ?`

	row := r.db.QueryRowContext(ctx, query, id)
	group, err := scanGroupRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrGroupNotFound
		}
		return nil, fmt.Errorf("querying group by id: %w", err)
	}
	return group, nil
}

// List retrieves all groups ordered by sort order, then name.
func (r *SQLiteGroupRepository) List(ctx context.Context) ([]Group, error) {
	query := `SELECT ` + groupColumns + ` FROM groups ORDER BY sort_order, name, id`

	return r.queryGroups(ctx, query)
}

// Patch applies a partial update to a group.
func (r *SQLiteGroupRepository) Patch(ctx context.Context, id string, patch GroupPatch) (*Group, error) {
	group, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if patch.Name != nil {
		group.Name = *patch.Name
	}
	if patch.Description != nil {
		group.Description = patch.Description
	}
	if patch.Settings != nil {
		group.Settings = *patch.Settings
	}
	if patch.SortOrder != nil {
		group.SortOrder = ClampSortOrder(*patch.SortOrder)
	}

	settingsJSON, err := marshalSettings(group.Settings)
	if err != nil {
		return nil, err
	}

	group.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE groups SET
			name = ?, description = ?, settings = ?, sort_order = ?, updated_at = ?
		WHERE id = ?`

	result, err := r.db.ExecContext(ctx, query,
		group.Name,
		nullableString(group.Description),
		settingsJSON,
		group.SortOrder,
		group.UpdatedAt.Format(time.RFC3339),
		group.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("updating group: %w", err)
	}

	if err := requireRowsAffected(result, ErrGroupNotFound); err != nil {
		return nil, err
	}
	return group, nil
}

// Delete removes a group. Memberships go with it via ON DELETE CASCADE.
func (r *SQLiteGroupRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM groups WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting group: %w", err)
	}

	return requireRowsAffected(result, ErrGroupNotFound)
}

// AddDevices adds devices to a group atomically.
func (r *SQLiteGroupRepository) AddDevices(ctx context.Context, groupID string, deviceIDs []string) error {
	if len(deviceIDs) == 0 {
		return nil
	}

	if _, err := r.GetByID(ctx, groupID); err != nil {
		return err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // Rollback is no-op after commit

	now := time.Now().UTC().Format(time.RFC3339)
	for _, deviceID := range deviceIDs {
		_, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO group_members (group_id, device_id, added_at) VALUES (?, ?, ?)`,
			groupID, deviceID, now,
		)
		if err != nil {
			return fmt.Errorf("adding device %s to group: %w", deviceID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing membership changes: %w", err)
	}
	return nil
}

// RemoveDevices removes devices from a group atomically.
func (r *SQLiteGroupRepository) RemoveDevices(ctx context.Context, groupID string, deviceIDs []string) error {
	if len(deviceIDs) == 0 {
		return nil
	}

	if _, err := r.GetByID(ctx, groupID); err != nil {
		return err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // Rollback is no-op after commit

	for _, deviceID := range deviceIDs {
		_, err := tx.ExecContext(ctx,
			`DELETE FROM group_members WHERE group_id = ? AND device_id = ?`,
			groupID, deviceID,
		)
		if err != nil {
			return fmt.Errorf("removing device %s from group: %w", deviceID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing membership changes: %w", err)
	}
	return nil
}

// GetMemberIDs returns the device IDs belonging to a group.
func (r *SQLiteGroupRepository) GetMemberIDs(ctx context.Context, groupID string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT device_id FROM group_members WHERE group_id = ? ORDER BY device_id`,
		groupID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying group members: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning member id: %w", err)
		}
		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating group members: %w", err)
	}
	return ids, nil
}

// GetGroupsForDevice returns the groups a device belongs to in merge order.
func (r *SQLiteGroupRepository) GetGroupsForDevice(ctx context.Context, deviceID string) ([]Group, error) {
	query := `
		SELECT g.id, g.name, g.description, g.settings, g.sort_order, g.created_at, g.updated_at
		FROM groups g
		INNER JOIN group_members m ON m.group_id = g.id
		WHERE m.device_id = ?
		ORDER BY g.sort_order, g.name, g.id`

	return r.queryGroups(ctx, query, deviceID)
}

// queryGroups executes a query and returns a slice of groups.
func (r *SQLiteGroupRepository) queryGroups(ctx context.Context, query string, args ...any) ([]Group, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying groups: %w", err)
	}
	defer rows.Close()

	var groups []Group
	for rows.Next() {
		group, err := scanGroupRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning group: %w", err)
		}
		groups = append(groups, *group)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating groups: %w", err)
	}
	return groups, nil
}

// scanGroupRow scans a row or rows result into a Group.
func scanGroupRow(scanner rowScanner) (*Group, error) {
	var g Group
	var description sql.NullString
	var settingsJSON string
	var createdAt, updatedAt string

	err := scanner.Scan(
		&g.ID,
		&g.Name,
		&description,
		&settingsJSON,
		&g.SortOrder,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	if description.Valid {
		g.Description = &description.String
	}

	var parseErr error
	g.CreatedAt, parseErr = time.Parse(time.RFC3339, createdAt)
	if parseErr != nil {
		return nil, fmt.Errorf("parsing created_at: %w", parseErr)
	}
	g.UpdatedAt, parseErr = time.Parse(time.RFC3339, updatedAt)
	if parseErr != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", parseErr)
	}

	if err := json.Unmarshal([]byte(settingsJSON), &g.Settings); err != nil {
		return nil, fmt.Errorf("unmarshalling settings: %w", err)
	}

	return &g, nil
}
