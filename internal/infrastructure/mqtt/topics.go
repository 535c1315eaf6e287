package mqtt

import "fmt"

// Topic prefixes for the Marquee MQTT hierarchy.
const (
	// TopicPrefixFleet is the base for fleet event topics.
	TopicPrefixFleet = "marquee/fleet"

	// TopicPrefixSystem is the base for system topics.
	TopicPrefixSystem = "marquee/system"
)

// Topics provides builders for Marquee MQTT topics.
// Using these helpers ensures consistent topic naming across the codebase.
type Topics struct{}

// DeviceStatus returns the presence topic for a device.
// Published retained, so late subscribers see the current state.
//
// Example: marquee/fleet/device/9f3c.../status
func (Topics) DeviceStatus(deviceID string) string {
	return fmt.Sprintf("%s/device/%s/status", TopicPrefixFleet, deviceID)
}

// FleetEvent returns the topic for fleet lifecycle events.
//
// Example: marquee/fleet/event/device_paired
func (Topics) FleetEvent(eventType string) string {
	return fmt.Sprintf("%s/event/%s", TopicPrefixFleet, eventType)
}

// SystemStatus returns the core service status topic. Also used as the
// LWT topic so a crash flips the retained status to offline.
//
// Example: marquee/system/status
func (Topics) SystemStatus() string {
	return fmt.Sprintf("%s/status", TopicPrefixSystem)
}

// AllDeviceStatuses returns a pattern matching every device status topic.
//
// Pattern: marquee/fleet/device/+/status
func (Topics) AllDeviceStatuses() string {
	return fmt.Sprintf("%s/device/+/status", TopicPrefixFleet)
}

// AllFleetEvents returns a pattern matching every fleet event topic.
//
// Pattern: marquee/fleet/event/+
func (Topics) AllFleetEvents() string {
	return fmt.Sprintf("%s/event/+", TopicPrefixFleet)
}
