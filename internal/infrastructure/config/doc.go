// Package config loads and validates Marquee Core configuration.
//
// Configuration is read from a YAML file, merged over built-in defaults,
// and finally overridden by MARQUEE_* environment variables. Every
// operational bound the core depends on (ack wait clamping, queue depth,
// pairing TTL, rate-limit window and cap) is a named setting here rather
// than a constant in the code that uses it.
package config
