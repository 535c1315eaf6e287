package fleet

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/marqueehq/marquee-core/internal/device"
)

// heartbeatFixture wires a real device store over in-memory SQLite.
type heartbeatFixture struct {
	handler *HeartbeatHandler
	store   *device.Store
	queue   *Queue
	reg     *device.RegisterResult
}

func newHeartbeatFixture(t *testing.T, defaults device.Settings) *heartbeatFixture {
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
			PRIMARY KEY (group_id, device_id)
		);`
	if _, err := db.Exec(schema); err != nil {
		t.Fatalf("creating test schema: %v", err)
	}

	repo := device.NewSQLiteRepository(db)
	store, err := device.NewStore(repo)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	groupRepo := device.NewSQLiteGroupRepository(db)
	resolver := device.NewSettingsResolver(store, groupRepo, defaults)

	reg, err := store.Register(context.Background(), device.RegisterRequest{
		InstallID:  "install-1",
		HardwareID: "hw-1",
		Name:       "Lobby Display",
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	queue := NewQueue(50, DropOldest)
	return &heartbeatFixture{
		handler: NewHeartbeatHandler(store, resolver, queue),
		store:   store,
		queue:   queue,
		reg:     reg,
	}
}

func TestHeartbeatHappyPath(t *testing.T) {
	f := newHeartbeatFixture(t, device.Settings{"brightness": float64(50)})
	ctx := context.Background()

	queued := NewCommand("display.reload", nil)
	f.queue.Enqueue(f.reg.Device.ID, queued)

	resp, err := f.handler.Handle(ctx, HeartbeatRequest{
		DeviceID: f.reg.Device.ID,
		Secret:   f.reg.Secret,
	})
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}

	if resp.Settings["brightness"] != float64(50) {
		t.Errorf("settings brightness = %v, want 50", resp.Settings["brightness"])
	}
	if len(resp.Commands) != 1 || resp.Commands[0].ID != queued.ID {
		t.Errorf("drained commands = %v, want the queued command", resp.Commands)
	}

	// Queue was drained, not peeked
	second, err := f.handler.Handle(ctx, HeartbeatRequest{
		DeviceID: f.reg.Device.ID,
		Secret:   f.reg.Secret,
	})
	if err != nil {
		t.Fatalf("second Handle: %v", err)
	}
	if len(second.Commands) != 0 {
		t.Errorf("second heartbeat drained %d commands, want 0", len(second.Commands))
	}

	// Last seen was recorded
	d, err := f.store.Get(ctx, f.reg.Device.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if d.LastSeenAt == nil {
		t.Error("heartbeat did not record last seen")
	}
}

func TestHeartbeatWrongSecret(t *testing.T) {
	f := newHeartbeatFixture(t, nil)

	_, err := f.handler.Handle(context.Background(), HeartbeatRequest{
		DeviceID: f.reg.Device.ID,
		Secret:   "wrong-secret",
	})
	if !errors.Is(err, device.ErrInvalidCredentials) {
		t.Errorf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestHeartbeatUnknownDevice(t *testing.T) {
	f := newHeartbeatFixture(t, nil)

	_, err := f.handler.Handle(context.Background(), HeartbeatRequest{
		DeviceID: device.GenerateID(),
		Secret:   f.reg.Secret,
	})
	if !errors.Is(err, device.ErrUnknownDevice) {
		t.Errorf("expected ErrUnknownDevice, got %v", err)
	}
}

// recordedHeartbeat captures Recorder calls.
type recordedHeartbeat struct {
	deviceID string
	at       time.Time
	state    map[string]any
}

type fakeRecorder struct {
	recorded []recordedHeartbeat
}

func (r *fakeRecorder) RecordHeartbeat(deviceID string, at time.Time, state map[string]any) {
	r.recorded = append(r.recorded, recordedHeartbeat{deviceID: deviceID, at: at, state: state})
}

func TestHeartbeatRecordsTelemetry(t *testing.T) {
	f := newHeartbeatFixture(t, nil)
	recorder := &fakeRecorder{}
	f.handler.SetRecorder(recorder)

	state := map[string]any{"uptime": float64(3600)}
	_, err := f.handler.Handle(context.Background(), HeartbeatRequest{
		DeviceID: f.reg.Device.ID,
		Secret:   f.reg.Secret,
		State:    state,
	})
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}

	if len(recorder.recorded) != 1 {
		t.Fatalf("recorded %d heartbeats, want 1", len(recorder.recorded))
	}
	if recorder.recorded[0].deviceID != f.reg.Device.ID {
		t.Errorf("recorded device = %q", recorder.recorded[0].deviceID)
	}
	if recorder.recorded[0].state["uptime"] != float64(3600) {
		t.Errorf("recorded state = %v", recorder.recorded[0].state)
	}
}
