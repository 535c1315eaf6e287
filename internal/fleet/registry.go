package fleet

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/marqueehq/marquee-core/internal/protocol"
)

// Logger defines the logging interface used by the fleet components.
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

// Transport is a live bidirectional channel to one device.
// Implementations must tolerate Close being called more than once.
type Transport interface {
	// Send writes one frame to the device.
	Send(data []byte) error

	// Close tears the channel down.
	Close() error
}

// Notifier receives fleet presence events. Implementations must not block;
// the registry calls these while holding no locks but on hot paths.
type Notifier interface {
	DeviceOnline(deviceID string)
	DeviceOffline(deviceID string)
}

// AckWaitConfig bounds the SendAwait timeout.
// Requested timeouts are clamped into [Min, Max]; zero requests the Default.
type AckWaitConfig struct {
	Min     time.Duration
	Max     time.Duration
	Default time.Duration
}

// connection is one device's live channel.
type connection struct {
	deviceID    string
	transport   Transport
	connectedAt time.Time
}

// waiterKey identifies one outstanding ack wait.
type waiterKey struct {
	deviceID  string
	commandID string
}

// ackOutcome is what a waiter receives: an ack, or the reason there
// won't be one.
type ackOutcome struct {
	ack *protocol.AckFrame
	err error
}

// Registry is the in-memory map of device ID to live transport, plus the
// correlation table for outstanding ack waits.
//
// Invariant: at most one active connection per device ID. Registering a
// new connection closes and replaces the old one. All methods are safe
// for concurrent use.
type Registry struct {
	mu       sync.Mutex
	conns    map[string]*connection
	waiters  map[waiterKey]chan ackOutcome
	ackWait  AckWaitConfig
	logger   Logger
	notifier Notifier
}

// NewRegistry creates a connection registry.
func NewRegistry(ackWait AckWaitConfig) *Registry {
	return &Registry{
		conns:   make(map[string]*connection),
		waiters: make(map[waiterKey]chan ackOutcome),
		ackWait: ackWait,
		logger:  noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// SetNotifier sets the presence event sink (e.g. an MQTT publisher).
func (r *Registry) SetNotifier(n Notifier) {
	r.notifier = n
}

// Add registers a live transport for the device, closing and replacing
// any prior connection for the same ID. Outstanding ack waiters survive
// a replacement: the same device is still on the other end and can ack
// over the new connection.
func (r *Registry) Add(deviceID string, transport Transport) {
	r.mu.Lock()
	old := r.conns[deviceID]
	r.conns[deviceID] = &connection{
		deviceID:    deviceID,
		transport:   transport,
		connectedAt: time.Now().UTC(),
	}
	r.mu.Unlock()

	if old != nil {
		// Closed outside the lock; the old read pump will observe the
		// close and exit, and its Remove call will no-op.
		old.transport.Close() //nolint:errcheck // Best effort close of evicted connection
		r.logger.Info("connection replaced", "device_id", deviceID)
	} else {
		r.logger.Info("connection added", "device_id", deviceID)
		if r.notifier != nil {
			r.notifier.DeviceOnline(deviceID)
		}
	}
}

// Remove deregisters the device's connection, but only if transport is
// still the current one. A read pump exiting after its connection was
// evicted by a newer one must not tear down the newer connection.
// Removal rejects every outstanding ack waiter for the device with
// ErrDeviceDisconnected. Idempotent.
//
// The return reports whether this call removed the connection; a stale
// or repeated call returns false so the caller can skip per-device
// cleanup that belongs to the newer connection.
func (r *Registry) Remove(deviceID string, transport Transport) bool {
	r.mu.Lock()
	current, ok := r.conns[deviceID]
	if !ok || current.transport != transport {
		r.mu.Unlock()
		return false
	}
	delete(r.conns, deviceID)

	// Collect the device's waiters while still holding the lock
	var rejected []chan ackOutcome
	for key, ch := range r.waiters {
		if key.deviceID == deviceID {
			delete(r.waiters, key)
			rejected = append(rejected, ch)
		}
	}
	r.mu.Unlock()

	for _, ch := range rejected {
		ch <- ackOutcome{err: ErrDeviceDisconnected}
	}

	current.transport.Close() //nolint:errcheck // Transport may already be closed
	r.logger.Info("connection removed", "device_id", deviceID, "rejected_waits", len(rejected))

	if r.notifier != nil {
		r.notifier.DeviceOffline(deviceID)
	}
	return true
}

// IsConnected reports whether the device has a live transport.
func (r *Registry) IsConnected(deviceID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.conns[deviceID]
	return ok
}

// ConnectedCount returns the number of live connections.
func (r *Registry) ConnectedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}

// ConnectedIDs returns the IDs of all connected devices.
func (r *Registry) ConnectedIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]string, 0, len(r.conns))
	for id := range r.conns {
		ids = append(ids, id)
	}
	return ids
}

// Send delivers a command fire-and-forget.
// Returns ErrDeviceNotConnected if the device has no live transport.
func (r *Registry) Send(deviceID string, cmd Command) error {
	r.mu.Lock()
	conn, ok := r.conns[deviceID]
	r.mu.Unlock()

	if !ok {
		return ErrDeviceNotConnected
	}

	data, err := cmd.Marshal()
	if err != nil {
		return err
	}

	if err := conn.transport.Send(data); err != nil {
		return fmt.Errorf("sending command %s: %w", cmd.ID, err)
	}

	r.logger.Debug("command sent", "device_id", deviceID, "command_id", cmd.ID, "type", cmd.Type)
	return nil
}

// SendAwait delivers a command and suspends until the device acks it.
//
// The command's ID is the correlation ID; a waiter is registered under
// (deviceID, commandID) before the send so an instant ack cannot slip
// past. The wait ends on the first of: a matching ack, the clamped
// timeout (ErrAckTimeout), device disconnect (ErrDeviceDisconnected),
// or ctx cancellation.
func (r *Registry) SendAwait(ctx context.Context, deviceID string, cmd Command, timeout time.Duration) (*protocol.AckFrame, error) {
	timeout = r.clampTimeout(timeout)

	key := waiterKey{deviceID: deviceID, commandID: cmd.ID}
	// Buffered so a resolver never blocks on a caller that already gave up
	ch := make(chan ackOutcome, 1)

	r.mu.Lock()
	if _, ok := r.conns[deviceID]; !ok {
		r.mu.Unlock()
		return nil, ErrDeviceNotConnected
	}
	r.waiters[key] = ch
	r.mu.Unlock()

	if err := r.Send(deviceID, cmd); err != nil {
		r.dropWaiter(key)
		return nil, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case outcome := <-ch:
		if outcome.err != nil {
			return nil, outcome.err
		}
		return outcome.ack, nil
	case <-timer.C:
		r.dropWaiter(key)
		r.logger.Warn("ack timeout", "device_id", deviceID, "command_id", cmd.ID, "timeout", timeout)
		return nil, ErrAckTimeout
	case <-ctx.Done():
		r.dropWaiter(key)
		return nil, ctx.Err()
	}
}

// HandleAck resolves the waiter matching the ack's correlation ID.
// Unmatched or stale acks are dropped silently; a device re-acking a
// command whose wait already timed out is normal, not an error.
func (r *Registry) HandleAck(deviceID string, ack *protocol.AckFrame) {
	key := waiterKey{deviceID: deviceID, commandID: ack.ID}

	r.mu.Lock()
	ch, ok := r.waiters[key]
	if ok {
		delete(r.waiters, key)
	}
	r.mu.Unlock()

	if !ok {
		r.logger.Debug("stale ack dropped", "device_id", deviceID, "command_id", ack.ID)
		return
	}

	ch <- ackOutcome{ack: ack}
}

// BroadcastResult aggregates a fan-out send.
type BroadcastResult struct {
	Sent   int `json:"sent"`
	Failed int `json:"failed"`
}

// Broadcast fire-and-forget sends to each device. One device's failure
// never aborts the batch.
func (r *Registry) Broadcast(deviceIDs []string, cmd Command) BroadcastResult {
	var result BroadcastResult
	for _, id := range deviceIDs {
		if err := r.Send(id, cmd); err != nil {
			result.Failed++
			continue
		}
		result.Sent++
	}
	return result
}

// PendingWaits returns the number of outstanding ack waiters.
func (r *Registry) PendingWaits() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.waiters)
}

// dropWaiter removes a waiter if it is still registered.
func (r *Registry) dropWaiter(key waiterKey) {
	r.mu.Lock()
	delete(r.waiters, key)
	r.mu.Unlock()
}

// clampTimeout sanitises a requested ack wait into the configured bounds.
// Zero or negative requests the default; a degenerate zero-wait would race
// every ack.
func (r *Registry) clampTimeout(timeout time.Duration) time.Duration {
	if timeout <= 0 {
		return r.ackWait.Default
	}
	if timeout < r.ackWait.Min {
		return r.ackWait.Min
	}
	if timeout > r.ackWait.Max {
		return r.ackWait.Max
	}
	return timeout
}
