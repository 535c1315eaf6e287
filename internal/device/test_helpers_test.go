package device

import (
	"context"
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

// testDB creates an in-memory SQLite database with the fleet schema.
func testDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:?_foreign_keys=on")
	if err != nil {
		t.Fatalf("opening test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	schema := `
		CREATE TABLE devices (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			location TEXT,
			secret_hash TEXT NOT NULL,
			install_id TEXT NOT NULL,
			hardware_id TEXT NOT NULL,
			settings TEXT NOT NULL DEFAULT '{}',
			last_seen_at TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			UNIQUE (install_id, hardware_id)
		);

		CREATE TABLE pairing_codes (
			code TEXT PRIMARY KEY,
			token_hash TEXT NOT NULL,
			device_id TEXT NOT NULL,
			expires_at TEXT NOT NULL,
			consumed_at TEXT,
			created_at TEXT NOT NULL,
			FOREIGN KEY (device_id) REFERENCES devices(id) ON DELETE CASCADE
		);

		CREATE TABLE groups (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			description TEXT,
			settings TEXT NOT NULL DEFAULT '{}',
			sort_order INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);

		CREATE TABLE group_members (
			group_id TEXT NOT NULL,
			device_id TEXT NOT NULL,
			added_at TEXT NOT NULL,
			PRIMARY KEY (group_id, device_id),
			FOREIGN KEY (group_id) REFERENCES groups(id) ON DELETE CASCADE,
			FOREIGN KEY (device_id) REFERENCES devices(id) ON DELETE CASCADE
		);`

	if _, err := db.Exec(schema); err != nil {
		t.Fatalf("creating test schema: %v", err)
	}

	return db
}

// createTestDevice inserts a device with a known secret and returns it.
func createTestDevice(t *testing.T, repo Repository, name, installID, hardwareID string) *Device {
	t.Helper()

	hash, err := HashSecret("test-secret")
	if err != nil {
		t.Fatalf("hashing test secret: %v", err)
	}

	d := &Device{
		ID:         GenerateID(),
		Name:       name,
		SecretHash: hash,
		InstallID:  installID,
		HardwareID: hardwareID,
		Settings:   Settings{},
	}
	if err := repo.Create(context.Background(), d); err != nil {
		t.Fatalf("creating test device: %v", err)
	}
	return d
}
