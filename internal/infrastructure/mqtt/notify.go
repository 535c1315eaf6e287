package mqtt

import (
	"fmt"
	"time"
)

// FleetNotifier publishes device presence changes to the MQTT broker.
//
// It satisfies the connection registry's notifier contract: callbacks must
// not block the caller, so publishes happen on a fresh goroutine. Presence
// messages are retained so dashboards joining late see current state.
type FleetNotifier struct {
	client *Client
}

// NewFleetNotifier creates a notifier backed by the given client.
func NewFleetNotifier(client *Client) *FleetNotifier {
	return &FleetNotifier{client: client}
}

// DeviceOnline publishes a retained online presence message for the device.
func (n *FleetNotifier) DeviceOnline(deviceID string) {
	go n.publishPresence(deviceID, "online")
}

// DeviceOffline publishes a retained offline presence message for the device.
func (n *FleetNotifier) DeviceOffline(deviceID string) {
	go n.publishPresence(deviceID, "offline")
}

func (n *FleetNotifier) publishPresence(deviceID, status string) {
	topic := Topics{}.DeviceStatus(deviceID)
	payload := fmt.Sprintf(
		`{"device_id":"%s","status":"%s","timestamp":"%s"}`,
		deviceID,
		status,
		time.Now().UTC().Format(time.RFC3339),
	)

	if err := n.client.Publish(topic, []byte(payload), byte(n.client.cfg.QoS), true); err != nil {
		if logger := n.client.getLogger(); logger != nil {
			logger.Warn("device presence publish failed",
				"device_id", deviceID,
				"status", status,
				"error", err,
			)
		}
	}
}
