package protocol

import (
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/google/uuid"
)

// Secret length bounds for hello frames.
const (
	// MinSecretLength is the shortest secret a hello frame may carry.
	MinSecretLength = 16

	// MaxSecretLength is the longest secret a hello frame may carry.
	MaxSecretLength = 128
)

// ackIDPattern constrains ack correlation IDs: URL-safe, bounded length.
var ackIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// Validate parses and schema-checks an inbound frame.
//
// Oversized frames are rejected before parsing. Unknown fields are
// stripped (decoding into typed structs discards them). The returned
// error is always one of the package's validation sentinels, wrapped
// with detail; Validate never panics.
func Validate(data []byte, maxSize int) (*Frame, error) {
	if maxSize > 0 && len(data) > maxSize {
		return nil, fmt.Errorf("%w: %d bytes (limit %d)", ErrFrameTooLarge, len(data), maxSize)
	}

	var probe struct {
		Kind Kind `json:"kind"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	switch probe.Kind {
	case KindHello:
		return validateHello(data)
	case KindAck:
		return validateAck(data)
	case KindPing:
		return validatePing(data)
	case "":
		return nil, fmt.Errorf("%w: missing kind", ErrUnknownKind)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, probe.Kind)
	}
}

// validateHello checks a hello frame: UUID-shaped device ID, secret
// within length bounds.
func validateHello(data []byte) (*Frame, error) {
	var hello HelloFrame
	if err := json.Unmarshal(data, &hello); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	if _, err := uuid.Parse(hello.DeviceID); err != nil {
		return nil, fmt.Errorf("%w: hello deviceId is not a UUID", ErrInvalidFrame)
	}
	if len(hello.Secret) < MinSecretLength || len(hello.Secret) > MaxSecretLength {
		return nil, fmt.Errorf("%w: hello secret length %d outside [%d, %d]",
			ErrInvalidFrame, len(hello.Secret), MinSecretLength, MaxSecretLength)
	}

	return &Frame{Kind: KindHello, Hello: &hello}, nil
}

// validateAck checks an ack frame: pattern-constrained correlation ID,
// status in {ok, error}, error text only alongside an error status.
func validateAck(data []byte) (*Frame, error) {
	var ack AckFrame
	if err := json.Unmarshal(data, &ack); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	if !ackIDPattern.MatchString(ack.ID) {
		return nil, fmt.Errorf("%w: ack id %q fails pattern", ErrInvalidFrame, ack.ID)
	}
	switch ack.Status {
	case AckOK, AckError:
	default:
		return nil, fmt.Errorf("%w: ack status %q not in {ok, error}", ErrInvalidFrame, ack.Status)
	}
	if ack.Status == AckOK && ack.Error != "" {
		return nil, fmt.Errorf("%w: ack carries error text with ok status", ErrInvalidFrame)
	}

	return &Frame{Kind: KindAck, Ack: &ack}, nil
}

// validatePing checks a ping frame: timestamp, if present, must be a
// positive integer. A fractional timestamp fails the int64 decode and is
// reported as malformed.
func validatePing(data []byte) (*Frame, error) {
	var ping PingFrame
	if err := json.Unmarshal(data, &ping); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	if ping.Timestamp != nil && *ping.Timestamp <= 0 {
		return nil, fmt.Errorf("%w: ping timestamp must be positive", ErrInvalidFrame)
	}

	return &Frame{Kind: KindPing, Ping: &ping}, nil
}
