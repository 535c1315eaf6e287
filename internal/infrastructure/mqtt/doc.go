// Package mqtt publishes fleet presence and system status events to an
// MQTT broker.
//
// The broker is an optional collaborator: when disabled in config the rest
// of the system runs without it. Connection management, reconnection with
// backoff, and Last Will and Testament for crash detection are handled here.
package mqtt
