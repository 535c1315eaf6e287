package influxdb

import "time"

// HeartbeatRecorder adapts the client to the fleet heartbeat recorder
// contract. Writes are batched and non-blocking, so recording never slows
// the heartbeat path.
type HeartbeatRecorder struct {
	client *Client
}

// NewHeartbeatRecorder creates a recorder backed by the given client.
func NewHeartbeatRecorder(client *Client) *HeartbeatRecorder {
	return &HeartbeatRecorder{client: client}
}

// RecordHeartbeat writes the heartbeat and its reported state to InfluxDB.
func (r *HeartbeatRecorder) RecordHeartbeat(deviceID string, at time.Time, state map[string]any) {
	r.client.WriteHeartbeat(deviceID, at, state)
}
