package fleet

import "errors"

// Registry errors.
var (
	// ErrDeviceNotConnected is returned when a send targets a device with
	// no live transport.
	ErrDeviceNotConnected = errors.New("fleet: device not connected")

	// ErrDeviceDisconnected is returned to an ack waiter whose device
	// dropped its connection mid-wait.
	ErrDeviceDisconnected = errors.New("fleet: device disconnected during wait")

	// ErrAckTimeout is returned when a device does not acknowledge a
	// command within the wait window.
	ErrAckTimeout = errors.New("fleet: ack timeout")
)
