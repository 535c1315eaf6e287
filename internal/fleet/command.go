package fleet

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Command is an operator-issued instruction for a device.
//
// The ID doubles as the ack correlation ID: a device acknowledging a
// command echoes it back in the ack frame. Type is a namespaced string
// like "display.reload" or "playback.pause"; Payload is opaque to the
// core and passed through to the device untouched.
type Command struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Payload   map[string]any `json:"payload,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
}

// NewCommand creates a command with a fresh ID and creation timestamp.
func NewCommand(cmdType string, payload map[string]any) Command {
	return Command{
		ID:        uuid.New().String(),
		Type:      cmdType,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	}
}

// commandFrame is the wire shape of a command pushed down the channel.
type commandFrame struct {
	Kind    string         `json:"kind"`
	ID      string         `json:"id"`
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload,omitempty"`
}

// Marshal serialises the command for transmission.
func (c Command) Marshal() ([]byte, error) {
	data, err := json.Marshal(commandFrame{
		Kind:    "command",
		ID:      c.ID,
		Type:    c.Type,
		Payload: c.Payload,
	})
	if err != nil {
		return nil, fmt.Errorf("marshalling command: %w", err)
	}
	return data, nil
}
