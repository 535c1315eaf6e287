package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/marqueehq/marquee-core/internal/device"
	"github.com/marqueehq/marquee-core/internal/fleet"
	"github.com/marqueehq/marquee-core/internal/infrastructure/config"
	"github.com/marqueehq/marquee-core/internal/infrastructure/logging"
	"github.com/marqueehq/marquee-core/internal/protocol"
)

// testServer creates a Server backed by a full in-memory stack: SQLite
// stores, a live registry, queue, and dispatcher.
func testServer(t *testing.T) (*Server, *device.Store) {
	t.Helper()

	db := setupTestDB(t)
	repo := device.NewSQLiteRepository(db)
	store, err := device.NewStore(repo)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	if err := store.RefreshCache(context.Background()); err != nil {
		t.Fatalf("RefreshCache: %v", err)
	}

	pairingRepo := device.NewSQLitePairingRepository(db)
	pairing := device.NewPairingService(pairingRepo, store, 6, 15*time.Minute)

	groupRepo := device.NewSQLiteGroupRepository(db)
	resolver := device.NewSettingsResolver(store, groupRepo, device.Settings{"brightness": float64(80)})

	queue := fleet.NewQueue(50, fleet.DropOldest)
	registry := fleet.NewRegistry(fleet.AckWaitConfig{
		Min:     50 * time.Millisecond,
		Max:     time.Second,
		Default: 200 * time.Millisecond,
	})
	dispatcher := fleet.NewDispatcher(registry, queue)
	heartbeat := fleet.NewHeartbeatHandler(store, resolver, queue)

	log := logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"}, "test")

	srv, err := New(Deps{
		Config: config.APIConfig{
			Host: "127.0.0.1",
			Port: 0,
			Timeouts: config.APITimeoutConfig{
				Read:  5,
				Write: 5,
				Idle:  5,
			},
		},
		Channel: config.ChannelConfig{
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
			HelloTimeout:   5,
		},
		RateLimit: config.RateLimitConfig{
			WindowMs:      1000,
			MaxMessages:   20,
			MaxViolations: 10,
		},
		Logger:     log,
		Devices:    store,
		Pairing:    pairing,
		Groups:     groupRepo,
		Resolver:   resolver,
		Registry:   registry,
		Dispatcher: dispatcher,
		Queue:      queue,
		Heartbeat:  heartbeat,
		Limiter:    protocol.NewRateLimiter(time.Second, 20),
		Version:    "test",
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	return srv, store
}

// setupTestDB creates an in-memory SQLite database with the fleet schema.
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:?_foreign_keys=on")
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
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

	if _, execErr := db.Exec(schema); execErr != nil {
		t.Fatalf("failed to create test schema: %v", execErr)
	}

	return db
}

// registerTestDevice registers a device through the API and returns its ID
// and one-time secret.
func registerTestDevice(t *testing.T, router http.Handler, installID string) (string, string) {
	t.Helper()

	body := fmt.Sprintf(`{"install_id": %q, "hardware_id": "hw-1", "name": "Lobby Sign"}`, installID)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/devices", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("register status = %d, want %d; body: %s", w.Code, http.StatusCreated, w.Body.String())
	}

	var resp struct {
		Device struct {
			ID string `json:"id"`
		} `json:"device"`
		Secret string `json:"secret"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal register response: %v", err)
	}
	if resp.Device.ID == "" || resp.Secret == "" {
		t.Fatalf("register response missing id/secret: %s", w.Body.String())
	}
	return resp.Device.ID, resp.Secret
}

// ─── Health & Middleware ───────────────────────────────────────────

func TestHealth(t *testing.T) {
	srv, _ := testServer(t)
	router := srv.buildRouter()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("health status = %d, want %d", w.Code, http.StatusOK)
	}

	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if resp["status"] != "ok" {
		t.Errorf("status = %v, want ok", resp["status"])
	}
	if resp["version"] != "test" {
		t.Errorf("version = %v, want test", resp["version"])
	}
}

func TestRequestID_Generated(t *testing.T) {
	srv, _ := testServer(t)
	router := srv.buildRouter()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID header to be set")
	}
}

func TestRequestID_PreservesClient(t *testing.T) {
	srv, _ := testServer(t)
	router := srv.buildRouter()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("X-Request-ID", "client-123")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if got := w.Header().Get("X-Request-ID"); got != "client-123" {
		t.Errorf("X-Request-ID = %q, want %q", got, "client-123")
	}
}

func TestNotFound(t *testing.T) {
	srv, _ := testServer(t)
	router := srv.buildRouter()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/nonexistent", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("unknown route status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

// ─── Device Registration ───────────────────────────────────────────

func TestRegisterDevice_Idempotent(t *testing.T) {
	srv, _ := testServer(t)
	router := srv.buildRouter()

	id, secret := registerTestDevice(t, router, "install-1")
	if secret == "" {
		t.Fatal("expected one-time secret on first registration")
	}

	// Same fingerprint again: existing identity, no new secret
	body := `{"install_id": "install-1", "hardware_id": "hw-1", "name": "Lobby Sign"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/devices", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("re-register status = %d, want %d; body: %s", w.Code, http.StatusOK, w.Body.String())
	}

	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp["created"] != false {
		t.Errorf("created = %v, want false", resp["created"])
	}
	if _, ok := resp["secret"]; ok {
		t.Error("re-registration must not return a secret")
	}
	dev, ok := resp["device"].(map[string]any)
	if !ok || dev["id"] != id {
		t.Errorf("device id = %v, want %v", dev["id"], id)
	}
}

func TestRegisterDevice_MissingFields(t *testing.T) {
	srv, _ := testServer(t)
	router := srv.buildRouter()

	body := `{"install_id": "install-1"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/devices", strings.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestGetDevice_NotFound(t *testing.T) {
	srv, _ := testServer(t)
	router := srv.buildRouter()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/devices/nonexistent-id", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestRotateSecret_InvalidatesOld(t *testing.T) {
	srv, _ := testServer(t)
	router := srv.buildRouter()

	id, oldSecret := registerTestDevice(t, router, "install-rotate")

	req := httptest.NewRequest(http.MethodPost, "/api/v1/devices/"+id+"/rotate-secret", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("rotate status = %d, want %d; body: %s", w.Code, http.StatusOK, w.Body.String())
	}

	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	newSecret, _ := resp["secret"].(string)
	if newSecret == "" || newSecret == oldSecret {
		t.Fatalf("expected a fresh secret, got %q", newSecret)
	}

	// Heartbeat with the old secret must now be rejected
	hb := fmt.Sprintf(`{"deviceId": %q, "secret": %q}`, id, oldSecret)
	req = httptest.NewRequest(http.MethodPost, "/api/v1/heartbeat", strings.NewReader(hb))
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("heartbeat with old secret status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

// ─── Heartbeat ─────────────────────────────────────────────────────

func TestHeartbeat_ReturnsSettingsAndQueuedCommands(t *testing.T) {
	srv, _ := testServer(t)
	router := srv.buildRouter()

	id, secret := registerTestDevice(t, router, "install-hb")

	// Queue a command while the device is offline
	cmdBody := `{"type": "display.reload"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/devices/"+id+"/commands", strings.NewReader(cmdBody))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusAccepted {
		t.Fatalf("dispatch status = %d, want %d (queued); body: %s", w.Code, http.StatusAccepted, w.Body.String())
	}

	// The next heartbeat drains it
	hb := fmt.Sprintf(`{"deviceId": %q, "secret": %q}`, id, secret)
	req = httptest.NewRequest(http.MethodPost, "/api/v1/heartbeat", strings.NewReader(hb))
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("heartbeat status = %d, want %d; body: %s", w.Code, http.StatusOK, w.Body.String())
	}

	var resp fleet.HeartbeatResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Settings["brightness"] != float64(80) {
		t.Errorf("settings.brightness = %v, want 80", resp.Settings["brightness"])
	}
	if len(resp.Commands) != 1 || resp.Commands[0].Type != "display.reload" {
		t.Fatalf("queued commands = %+v, want one display.reload", resp.Commands)
	}

	// A second heartbeat sees an empty queue
	req = httptest.NewRequest(http.MethodPost, "/api/v1/heartbeat", strings.NewReader(hb))
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal second heartbeat: %v", err)
	}
	if len(resp.Commands) != 0 {
		t.Errorf("second drain returned %d commands, want 0", len(resp.Commands))
	}
}

func TestHeartbeat_UnknownAndWrongSecretIdentical(t *testing.T) {
	srv, _ := testServer(t)
	router := srv.buildRouter()

	id, _ := registerTestDevice(t, router, "install-auth")

	bodies := []string{
		`{"deviceId": "no-such-device", "secret": "whatever-secret"}`,
		fmt.Sprintf(`{"deviceId": %q, "secret": "wrong-secret"}`, id),
	}

	var responses []string
	for _, body := range bodies {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/heartbeat", strings.NewReader(body))
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		if w.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
		}
		responses = append(responses, w.Body.String())
	}

	if responses[0] != responses[1] {
		t.Errorf("unknown device and wrong secret responses differ:\n%s\n%s", responses[0], responses[1])
	}
}

// ─── Pairing ───────────────────────────────────────────────────────

func TestPairingFlow(t *testing.T) {
	srv, _ := testServer(t)
	router := srv.buildRouter()

	id, _ := registerTestDevice(t, router, "install-pair")

	// Issue a code
	req := httptest.NewRequest(http.MethodPost, "/api/v1/devices/"+id+"/pairing", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("issue status = %d, want %d; body: %s", w.Code, http.StatusCreated, w.Body.String())
	}

	var issued device.IssuedPairing
	if err := json.Unmarshal(w.Body.Bytes(), &issued); err != nil {
		t.Fatalf("unmarshal issued: %v", err)
	}
	if issued.Code == "" || issued.Token == "" {
		t.Fatalf("issued pairing missing code/token: %+v", issued)
	}

	// Claim it
	claim := fmt.Sprintf(`{"code": %q, "token": %q, "name": "Front Window"}`, issued.Code, issued.Token)
	req = httptest.NewRequest(http.MethodPost, "/api/v1/pairing/claim", strings.NewReader(claim))
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("claim status = %d, want %d; body: %s", w.Code, http.StatusOK, w.Body.String())
	}

	var result device.ClaimResult
	if err := json.Unmarshal(w.Body.Bytes(), &result); err != nil {
		t.Fatalf("unmarshal claim: %v", err)
	}
	if result.Device.ID != id {
		t.Errorf("claimed device = %q, want %q", result.Device.ID, id)
	}
	if result.Device.Name != "Front Window" {
		t.Errorf("name = %q, want %q", result.Device.Name, "Front Window")
	}
	if result.NewSecret == "" {
		t.Error("claim must return the rotated secret")
	}

	// Second claim fails: the code is single-use
	req = httptest.NewRequest(http.MethodPost, "/api/v1/pairing/claim", strings.NewReader(claim))
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusConflict {
		t.Errorf("second claim status = %d, want %d", w.Code, http.StatusConflict)
	}
}

func TestClaimPairing_WrongToken(t *testing.T) {
	srv, _ := testServer(t)
	router := srv.buildRouter()

	id, _ := registerTestDevice(t, router, "install-token")

	req := httptest.NewRequest(http.MethodPost, "/api/v1/devices/"+id+"/pairing", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	var issued device.IssuedPairing
	if err := json.Unmarshal(w.Body.Bytes(), &issued); err != nil {
		t.Fatalf("unmarshal issued: %v", err)
	}

	// Wrong token reads like an unknown code, never a near-miss
	claim := fmt.Sprintf(`{"code": %q, "token": "deadbeef"}`, issued.Code)
	req = httptest.NewRequest(http.MethodPost, "/api/v1/pairing/claim", strings.NewReader(claim))
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("wrong token status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

// ─── Groups & Settings ─────────────────────────────────────────────

func TestGroupLifecycleAndEffectiveSettings(t *testing.T) {
	srv, _ := testServer(t)
	router := srv.buildRouter()

	deviceID, _ := registerTestDevice(t, router, "install-group")

	// Create a group with its own settings layer
	body := `{"name": "Window Displays", "settings": {"orientation": "portrait"}}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/groups", strings.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("create group status = %d, want %d; body: %s", w.Code, http.StatusCreated, w.Body.String())
	}

	var group device.Group
	if err := json.Unmarshal(w.Body.Bytes(), &group); err != nil {
		t.Fatalf("unmarshal group: %v", err)
	}
	if group.ID == "" {
		t.Fatal("expected group ID to be generated")
	}

	// Add the device
	members := fmt.Sprintf(`{"device_ids": [%q]}`, deviceID)
	req = httptest.NewRequest(http.MethodPut, "/api/v1/groups/"+group.ID+"/devices", strings.NewReader(members))
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("add members status = %d, want %d; body: %s", w.Code, http.StatusOK, w.Body.String())
	}

	// Device override beats the group layer
	req = httptest.NewRequest(http.MethodPut, "/api/v1/devices/"+deviceID+"/settings",
		strings.NewReader(`{"brightness": 40}`))
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("set device settings status = %d, want %d", w.Code, http.StatusOK)
	}

	// Effective settings: global defaults < group < device
	req = httptest.NewRequest(http.MethodGet, "/api/v1/devices/"+deviceID+"/settings", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("effective settings status = %d, want %d; body: %s", w.Code, http.StatusOK, w.Body.String())
	}

	var resp struct {
		Settings map[string]any `json:"settings"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal settings: %v", err)
	}
	if resp.Settings["orientation"] != "portrait" {
		t.Errorf("orientation = %v, want portrait (group layer)", resp.Settings["orientation"])
	}
	if resp.Settings["brightness"] != float64(40) {
		t.Errorf("brightness = %v, want 40 (device override)", resp.Settings["brightness"])
	}

	// Delete the group; the device survives
	req = httptest.NewRequest(http.MethodDelete, "/api/v1/groups/"+group.ID, nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("delete group status = %d, want %d", w.Code, http.StatusNoContent)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/devices/"+deviceID, nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("device after group delete status = %d, want %d", w.Code, http.StatusOK)
	}
}

func TestCreateGroup_MissingName(t *testing.T) {
	srv, _ := testServer(t)
	router := srv.buildRouter()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/groups", strings.NewReader(`{}`))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

// ─── Commands ──────────────────────────────────────────────────────

func TestDispatchCommand_DeviceNotFound(t *testing.T) {
	srv, _ := testServer(t)
	router := srv.buildRouter()

	body := `{"type": "display.reload"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/devices/nonexistent/commands", strings.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestDispatchAwait_OfflineDeviceQueues(t *testing.T) {
	srv, _ := testServer(t)
	router := srv.buildRouter()

	id, _ := registerTestDevice(t, router, "install-await")

	body := `{"type": "display.reload", "timeout_ms": 100}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/devices/"+id+"/commands/await", strings.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want %d; body: %s", w.Code, http.StatusAccepted, w.Body.String())
	}

	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp["outcome"] != string(fleet.OutcomeQueued) {
		t.Errorf("outcome = %v, want %v", resp["outcome"], fleet.OutcomeQueued)
	}
}

func TestBroadcastCommand(t *testing.T) {
	srv, _ := testServer(t)
	router := srv.buildRouter()

	registerTestDevice(t, router, "install-bc-1")
	registerTestDevice(t, router, "install-bc-2")

	body := `{"type": "display.refresh"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/commands/broadcast", strings.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body: %s", w.Code, http.StatusOK, w.Body.String())
	}

	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	// Both devices are offline, so both commands queue
	if int(resp["queued"].(float64)) != 2 {
		t.Errorf("queued = %v, want 2", resp["queued"])
	}
	if int(resp["sent"].(float64)) != 0 {
		t.Errorf("sent = %v, want 0", resp["sent"])
	}
}

// ─── Channel Queue Drain ───────────────────────────────────────────

// flakyTransport accepts sendLimit sends, then fails every write.
type flakyTransport struct {
	sendLimit int
	sent      [][]byte
}

func (f *flakyTransport) Send(data []byte) error {
	if len(f.sent) >= f.sendLimit {
		return errors.New("connection reset")
	}
	f.sent = append(f.sent, data)
	return nil
}

func (f *flakyTransport) Close() error { return nil }

func TestDeliverQueued_SendsAllWhenHealthy(t *testing.T) {
	srv, _ := testServer(t)

	srv.queue.Enqueue("dev-1", fleet.NewCommand("display.one", nil))
	srv.queue.Enqueue("dev-1", fleet.NewCommand("display.two", nil))

	transport := &flakyTransport{sendLimit: 10}
	srv.deliverQueued("dev-1", transport)

	if len(transport.sent) != 2 {
		t.Errorf("sent %d commands, want 2", len(transport.sent))
	}
	if got := len(srv.queue.Drain("dev-1")); got != 0 {
		t.Errorf("queue still holds %d commands after drain, want 0", got)
	}
}

func TestDeliverQueued_RequeuesRemainderOnSendFailure(t *testing.T) {
	srv, _ := testServer(t)

	first := fleet.NewCommand("display.one", nil)
	second := fleet.NewCommand("display.two", nil)
	third := fleet.NewCommand("display.three", nil)
	srv.queue.Enqueue("dev-1", first)
	srv.queue.Enqueue("dev-1", second)
	srv.queue.Enqueue("dev-1", third)

	// The connection dies after the first command goes out
	transport := &flakyTransport{sendLimit: 1}
	srv.deliverQueued("dev-1", transport)

	if len(transport.sent) != 1 {
		t.Fatalf("sent %d commands, want 1", len(transport.sent))
	}

	// The failing command and everything behind it survive, in order
	remaining := srv.queue.Drain("dev-1")
	if len(remaining) != 2 {
		t.Fatalf("requeued %d commands, want 2", len(remaining))
	}
	if remaining[0].ID != second.ID || remaining[1].ID != third.ID {
		t.Errorf("requeued order = [%s %s], want [%s %s]",
			remaining[0].Type, remaining[1].Type, second.Type, third.Type)
	}
}

// ─── Fleet Stats ───────────────────────────────────────────────────

func TestFleetStats(t *testing.T) {
	srv, _ := testServer(t)
	router := srv.buildRouter()

	registerTestDevice(t, router, "install-stats")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/fleet/stats", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if int(resp["devices"].(float64)) != 1 {
		t.Errorf("devices = %v, want 1", resp["devices"])
	}
	if int(resp["connected"].(float64)) != 0 {
		t.Errorf("connected = %v, want 0", resp["connected"])
	}
}
