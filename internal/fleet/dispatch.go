package fleet

import (
	"context"
	"errors"
	"time"

	"github.com/marqueehq/marquee-core/internal/protocol"
)

// Outcome is what happened to one dispatched command.
type Outcome string

// Dispatch outcomes.
const (
	// OutcomeSent means the command went down a live connection.
	OutcomeSent Outcome = "sent"

	// OutcomeQueued means the device was offline; the command waits in
	// its queue for the next heartbeat or reconnect drain.
	OutcomeQueued Outcome = "queued"

	// OutcomeFailed means a live transport existed but the write failed.
	OutcomeFailed Outcome = "failed"
)

// DispatchResult reports the outcome for one device.
type DispatchResult struct {
	DeviceID string  `json:"device_id"`
	Outcome  Outcome `json:"outcome"`
	Err      error   `json:"-"`
}

// BatchResult aggregates a multi-device dispatch.
// A single device's failure never aborts the batch.
type BatchResult struct {
	Sent    int              `json:"sent"`
	Queued  int              `json:"queued"`
	Failed  int              `json:"failed"`
	Results []DispatchResult `json:"results,omitempty"`
}

// Dispatcher routes commands to their device: straight down the live
// connection when one exists, into the offline queue otherwise.
type Dispatcher struct {
	registry *Registry
	queue    *Queue
	logger   Logger
}

// NewDispatcher creates a dispatcher over the given registry and queue.
func NewDispatcher(registry *Registry, queue *Queue) *Dispatcher {
	return &Dispatcher{
		registry: registry,
		queue:    queue,
		logger:   noopLogger{},
	}
}

// SetLogger sets the logger for the dispatcher.
func (d *Dispatcher) SetLogger(logger Logger) {
	d.logger = logger
}

// Dispatch delivers a command to one device, queueing it if the device
// is offline.
func (d *Dispatcher) Dispatch(deviceID string, cmd Command) DispatchResult {
	err := d.registry.Send(deviceID, cmd)
	switch {
	case err == nil:
		return DispatchResult{DeviceID: deviceID, Outcome: OutcomeSent}
	case errors.Is(err, ErrDeviceNotConnected):
		d.queue.Enqueue(deviceID, cmd)
		return DispatchResult{DeviceID: deviceID, Outcome: OutcomeQueued}
	default:
		d.logger.Warn("dispatch failed", "device_id", deviceID, "command_id", cmd.ID, "error", err)
		return DispatchResult{DeviceID: deviceID, Outcome: OutcomeFailed, Err: err}
	}
}

// DispatchAwait delivers a command to a connected device and waits for
// its ack. An offline device gets the command queued instead, reported
// via ErrDeviceNotConnected; the caller decides whether queued-for-later
// satisfies its request.
func (d *Dispatcher) DispatchAwait(ctx context.Context, deviceID string, cmd Command, timeout time.Duration) (*protocol.AckFrame, error) {
	ack, err := d.registry.SendAwait(ctx, deviceID, cmd, timeout)
	if err != nil {
		if errors.Is(err, ErrDeviceNotConnected) {
			d.queue.Enqueue(deviceID, cmd)
		}
		return nil, err
	}
	return ack, nil
}

// DispatchMany fans a command out to several devices, aggregating
// per-device outcomes. Offline devices get the command queued.
func (d *Dispatcher) DispatchMany(deviceIDs []string, cmd Command) BatchResult {
	batch := BatchResult{Results: make([]DispatchResult, 0, len(deviceIDs))}

	for _, id := range deviceIDs {
		result := d.Dispatch(id, cmd)
		batch.Results = append(batch.Results, result)

		switch result.Outcome {
		case OutcomeSent:
			batch.Sent++
		case OutcomeQueued:
			batch.Queued++
		case OutcomeFailed:
			batch.Failed++
		}
	}

	d.logger.Info("batch dispatched",
		"command_id", cmd.ID,
		"type", cmd.Type,
		"sent", batch.Sent,
		"queued", batch.Queued,
		"failed", batch.Failed,
	)
	return batch
}
