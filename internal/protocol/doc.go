// Package protocol defines the device channel wire frames and the inbound
// validation and rate-limiting applied at the protocol boundary.
//
// Three frame kinds exist: hello (authentication), ack (command
// acknowledgment), and ping (liveness). Validation enforces a byte-size
// ceiling before parsing, strips unknown fields, and never panics; a bad
// frame is a value-level failure, not a crash.
package protocol
