// Package fleet implements the live side of device operation: the
// connection registry with its correlated acknowledgment protocol, the
// per-device offline command queue, command dispatch, and heartbeat
// handling.
//
// The registry holds at most one active connection per device. Sending
// with SendAwait suspends the caller until the device acks the command,
// the wait times out, or the device disconnects; a disconnect rejects
// every outstanding waiter for that device immediately so no timer is
// left to leak.
package fleet
