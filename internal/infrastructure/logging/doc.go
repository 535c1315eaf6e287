// Package logging provides structured logging for Marquee Core.
//
// It wraps log/slog with service-wide default attributes and
// config-driven level, format, and output selection.
package logging
