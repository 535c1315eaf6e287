package device

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRepositoryCreateAndGet(t *testing.T) {
	db := testDB(t)
	repo := NewSQLiteRepository(db)
	ctx := context.Background()

	created := createTestDevice(t, repo, "Lobby Display", "install-1", "hw-1")

	got, err := repo.GetByID(ctx, created.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Name != "Lobby Display" {
		t.Errorf("name = %q, want %q", got.Name, "Lobby Display")
	}
	if got.InstallID != "install-1" || got.HardwareID != "hw-1" {
		t.Errorf("fingerprint = (%q, %q), want (install-1, hw-1)", got.InstallID, got.HardwareID)
	}
	if got.LastSeenAt != nil {
		t.Error("new device should have no last-seen timestamp")
	}
}

func TestRepositoryGetByIDNotFound(t *testing.T) {
	db := testDB(t)
	repo := NewSQLiteRepository(db)

	_, err := repo.GetByID(context.Background(), "nonexistent")
	if !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("expected ErrDeviceNotFound, got %v", err)
	}
}

func TestRepositoryGetByFingerprint(t *testing.T) {
	db := testDB(t)
	repo := NewSQLiteRepository(db)
	ctx := context.Background()

	created := createTestDevice(t, repo, "Lobby Display", "install-1", "hw-1")

	got, err := repo.GetByFingerprint(ctx, "install-1", "hw-1")
	if err != nil {
		t.Fatalf("GetByFingerprint: %v", err)
	}
	if got.ID != created.ID {
		t.Errorf("fingerprint lookup returned %q, want %q", got.ID, created.ID)
	}

	_, err = repo.GetByFingerprint(ctx, "install-1", "hw-other")
	if !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("expected ErrDeviceNotFound for unknown fingerprint, got %v", err)
	}
}

func TestRepositoryDuplicateFingerprint(t *testing.T) {
	db := testDB(t)
	repo := NewSQLiteRepository(db)
	ctx := context.Background()

	createTestDevice(t, repo, "First", "install-1", "hw-1")

	dup := &Device{
		ID:         GenerateID(),
		Name:       "Second",
		SecretHash: "hash",
		InstallID:  "install-1",
		HardwareID: "hw-1",
	}
	err := repo.Create(ctx, dup)
	if !errors.Is(err, ErrDeviceExists) {
		t.Errorf("expected ErrDeviceExists for duplicate fingerprint, got %v", err)
	}
}

func TestRepositoryRotateSecret(t *testing.T) {
	db := testDB(t)
	repo := NewSQLiteRepository(db)
	ctx := context.Background()

	created := createTestDevice(t, repo, "Display", "i", "h")
	oldHash := created.SecretHash

	newHash, err := HashSecret("new-secret")
	if err != nil {
		t.Fatalf("HashSecret: %v", err)
	}
	if err := repo.RotateSecret(ctx, created.ID, newHash); err != nil {
		t.Fatalf("RotateSecret: %v", err)
	}

	got, err := repo.GetByID(ctx, created.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.SecretHash == oldHash {
		t.Error("secret hash unchanged after rotation")
	}
	if got.SecretHash != newHash {
		t.Error("stored hash does not match rotated hash")
	}

	err = repo.RotateSecret(ctx, "nonexistent", newHash)
	if !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("expected ErrDeviceNotFound, got %v", err)
	}
}

func TestRepositoryUpdateLastSeen(t *testing.T) {
	db := testDB(t)
	repo := NewSQLiteRepository(db)
	ctx := context.Background()

	created := createTestDevice(t, repo, "Display", "i", "h")

	seenAt := time.Date(2026, 8, 24, 10, 30, 0, 0, time.UTC)
	if err := repo.UpdateLastSeen(ctx, created.ID, seenAt); err != nil {
		t.Fatalf("UpdateLastSeen: %v", err)
	}

	got, err := repo.GetByID(ctx, created.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.LastSeenAt == nil || !got.LastSeenAt.Equal(seenAt) {
		t.Errorf("last seen = %v, want %v", got.LastSeenAt, seenAt)
	}
}

func TestRepositoryUpdateSettings(t *testing.T) {
	db := testDB(t)
	repo := NewSQLiteRepository(db)
	ctx := context.Background()

	created := createTestDevice(t, repo, "Display", "i", "h")

	settings := Settings{"brightness": float64(80), "theme": "dark"}
	if err := repo.UpdateSettings(ctx, created.ID, settings); err != nil {
		t.Fatalf("UpdateSettings: %v", err)
	}

	got, err := repo.GetByID(ctx, created.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Settings["theme"] != "dark" {
		t.Errorf("settings theme = %v, want dark", got.Settings["theme"])
	}
	if got.Settings["brightness"] != float64(80) {
		t.Errorf("settings brightness = %v, want 80", got.Settings["brightness"])
	}
}

func TestRepositoryDelete(t *testing.T) {
	db := testDB(t)
	repo := NewSQLiteRepository(db)
	ctx := context.Background()

	created := createTestDevice(t, repo, "Display", "i", "h")

	if err := repo.Delete(ctx, created.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	_, err := repo.GetByID(ctx, created.ID)
	if !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("expected ErrDeviceNotFound after delete, got %v", err)
	}

	if err := repo.Delete(ctx, created.ID); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("expected ErrDeviceNotFound for double delete, got %v", err)
	}
}

func TestRepositoryList(t *testing.T) {
	db := testDB(t)
	repo := NewSQLiteRepository(db)
	ctx := context.Background()

	createTestDevice(t, repo, "Bravo", "i1", "h1")
	createTestDevice(t, repo, "Alpha", "i2", "h2")

	devices, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(devices) != 2 {
		t.Fatalf("expected 2 devices, got %d", len(devices))
	}
	if devices[0].Name != "Alpha" || devices[1].Name != "Bravo" {
		t.Errorf("devices not ordered by name: %q, %q", devices[0].Name, devices[1].Name)
	}
}
