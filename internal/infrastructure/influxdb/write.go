package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WriteDeviceMetric writes a single device measurement to InfluxDB.
//
// This is the primary method for recording device telemetry data.
// The write is non-blocking; data is batched and sent asynchronously.
//
// Example:
//
//	client.WriteDeviceMetric("9f3c...", "uptime_seconds", 3600)
//	client.WriteDeviceMetric("9f3c...", "temperature_c", 41.5)
func (c *Client) WriteDeviceMetric(deviceID string, measurement string, value float64) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"device_metrics",
		map[string]string{
			"device_id":   deviceID,
			"measurement": measurement,
		},
		map[string]interface{}{
			"value": value,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteHeartbeat writes a device heartbeat with its reported state fields.
//
// Numeric state values become point fields; non-numeric values are skipped
// (tags stay low-cardinality, and InfluxDB fields want scalars). A heartbeat
// with no numeric state still records a count field so presence gaps show
// up in dashboards.
func (c *Client) WriteHeartbeat(deviceID string, at time.Time, state map[string]any) {
	if !c.IsConnected() {
		return
	}

	fields := map[string]interface{}{
		"count": int64(1),
	}
	for key, value := range state {
		switch v := value.(type) {
		case float64:
			fields[key] = v
		case int:
			fields[key] = int64(v)
		case int64:
			fields[key] = v
		case bool:
			fields[key] = v
		}
	}

	point := write.NewPoint(
		"heartbeat",
		map[string]string{
			"device_id": deviceID,
		},
		fields,
		at,
	)

	c.writeAPI.WritePoint(point)
}

// WriteRateLimitViolation records a channel rate-limit rejection for a device.
//
// Used to spot misbehaving or compromised devices flooding the channel.
func (c *Client) WriteRateLimitViolation(deviceID string, total int64) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"rate_limit",
		map[string]string{
			"device_id": deviceID,
		},
		map[string]interface{}{
			"violations": total,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WritePoint writes a custom point with full control over tags and fields.
//
// Use this for custom measurements that don't fit the helper methods.
//
// Example:
//
//	client.WritePoint("fleet_stats",
//	    map[string]string{"host": "core-01"},
//	    map[string]interface{}{"connected": 42, "queued_commands": 7})
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, time.Now())
	c.writeAPI.WritePoint(point)
}

// WritePointWithTime writes a custom point with a specific timestamp.
//
// Use this when the timestamp is not "now" (e.g., delayed data).
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]interface{}, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, timestamp)
	c.writeAPI.WritePoint(point)
}
