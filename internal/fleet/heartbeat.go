package fleet

import (
	"context"
	"time"

	"github.com/marqueehq/marquee-core/internal/device"
)

// HeartbeatRequest is a device check-in.
// State is opaque device-reported status, recorded for telemetry only.
type HeartbeatRequest struct {
	DeviceID   string         `json:"deviceId"`
	Secret     string         `json:"secret"`
	InstallID  string         `json:"installId"`
	HardwareID string         `json:"hardwareId"`
	State      map[string]any `json:"state,omitempty"`
}

// HeartbeatResponse carries everything a device needs from a check-in:
// its effective settings and the commands that accumulated while it was
// away.
type HeartbeatResponse struct {
	Settings device.Settings `json:"settings"`
	Commands []Command       `json:"queuedCommands"`
}

// Recorder receives heartbeat telemetry. Implementations must not block;
// a nil Recorder disables telemetry.
type Recorder interface {
	RecordHeartbeat(deviceID string, at time.Time, state map[string]any)
}

// HeartbeatHandler authenticates device check-ins, resolves their merged
// settings, and drains their offline command queue.
type HeartbeatHandler struct {
	devices  *device.Store
	resolver *device.SettingsResolver
	queue    *Queue
	recorder Recorder
	logger   Logger
}

// NewHeartbeatHandler creates a heartbeat handler.
func NewHeartbeatHandler(devices *device.Store, resolver *device.SettingsResolver, queue *Queue) *HeartbeatHandler {
	return &HeartbeatHandler{
		devices:  devices,
		resolver: resolver,
		queue:    queue,
		logger:   noopLogger{},
	}
}

// SetLogger sets the logger for the handler.
func (h *HeartbeatHandler) SetLogger(logger Logger) {
	h.logger = logger
}

// SetRecorder sets the telemetry sink (e.g. an InfluxDB writer).
func (h *HeartbeatHandler) SetRecorder(r Recorder) {
	h.recorder = r
}

// Handle processes one heartbeat.
//
// The credential check fails with device.ErrUnknownDevice or
// device.ErrInvalidCredentials; callers should present both identically
// so a heartbeat probe can't distinguish a wrong secret from a wrong ID.
// On success the device's last-seen timestamp is updated, its merged
// settings are resolved, and its queue is drained — the drain is atomic,
// so concurrent heartbeats never split or duplicate a queue.
func (h *HeartbeatHandler) Handle(ctx context.Context, req HeartbeatRequest) (*HeartbeatResponse, error) {
	d, err := h.devices.VerifyCredentials(ctx, req.DeviceID, req.Secret)
	if err != nil {
		return nil, err
	}

	if err := h.devices.TouchLastSeen(ctx, d.ID); err != nil {
		// Last-seen is bookkeeping; the heartbeat still succeeds
		h.logger.Warn("updating last seen failed", "device_id", d.ID, "error", err)
	}

	settings, err := h.resolver.EffectiveSettings(ctx, d.ID)
	if err != nil {
		return nil, err
	}

	commands := h.queue.Drain(d.ID)

	if h.recorder != nil {
		h.recorder.RecordHeartbeat(d.ID, time.Now().UTC(), req.State)
	}

	h.logger.Debug("heartbeat handled",
		"device_id", d.ID,
		"drained_commands", len(commands),
	)

	return &HeartbeatResponse{
		Settings: settings,
		Commands: commands,
	}, nil
}
