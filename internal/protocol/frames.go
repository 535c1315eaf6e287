package protocol

// Kind is the frame discriminator carried in every inbound message.
type Kind string

// Frame kinds.
const (
	KindHello Kind = "hello"
	KindAck   Kind = "ack"
	KindPing  Kind = "ping"
)

// AckStatus is the outcome a device reports for a delivered command.
type AckStatus string

// Ack statuses.
const (
	AckOK    AckStatus = "ok"
	AckError AckStatus = "error"
)

// HelloFrame authenticates a device on a freshly opened channel.
// It must be the first frame a device sends.
type HelloFrame struct {
	Kind     Kind   `json:"kind"`
	DeviceID string `json:"deviceId"`
	Secret   string `json:"secret"`
}

// AckFrame acknowledges a previously delivered command, correlated by ID.
// Error is only meaningful (and only permitted) when Status is AckError.
type AckFrame struct {
	Kind   Kind           `json:"kind"`
	ID     string         `json:"id"`
	Status AckStatus      `json:"status"`
	Info   map[string]any `json:"info,omitempty"`
	Error  string         `json:"error,omitempty"`
}

// PingFrame is a liveness signal. Timestamp, if present, is the device's
// clock in milliseconds since the epoch.
type PingFrame struct {
	Kind      Kind   `json:"kind"`
	Timestamp *int64 `json:"timestamp,omitempty"`
}

// Frame is the discriminated result of validating an inbound message.
// Exactly one of Hello, Ack, Ping is non-nil, matching Kind.
type Frame struct {
	Kind  Kind
	Hello *HelloFrame
	Ack   *AckFrame
	Ping  *PingFrame
}
