package protocol

import "errors"

// Validation errors. All are value-level failures: the validator reports
// them, it never panics.
var (
	// ErrFrameTooLarge is returned when a frame exceeds the size ceiling.
	// The frame is rejected before any parsing happens.
	ErrFrameTooLarge = errors.New("protocol: frame exceeds size limit")

	// ErrMalformedFrame is returned when a frame is not valid JSON or its
	// fields have the wrong types.
	ErrMalformedFrame = errors.New("protocol: malformed frame")

	// ErrUnknownKind is returned when the kind discriminator is missing
	// or names no known frame kind.
	ErrUnknownKind = errors.New("protocol: unknown frame kind")

	// ErrInvalidFrame is returned when a structurally sound frame fails
	// its kind-specific schema.
	ErrInvalidFrame = errors.New("protocol: invalid frame")
)
