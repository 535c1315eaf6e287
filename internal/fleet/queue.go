package fleet

import (
	"sync"
	"sync/atomic"
)

// OverflowPolicy decides which end of a full queue gives way.
type OverflowPolicy string

// Overflow policies.
const (
	// DropOldest discards the oldest queued command to make room.
	// Latest instruction wins: the device acts on fresher intent.
	DropOldest OverflowPolicy = "drop_oldest"

	// DropNewest discards the incoming command when the queue is full.
	DropNewest OverflowPolicy = "drop_newest"
)

// Queue holds pending commands for offline or unreachable devices,
// one bounded FIFO per device.
//
// Drain is an atomic read-and-clear: two concurrent heartbeats can never
// both receive the same command, and none is lost between them.
// All methods are safe for concurrent use.
type Queue struct {
	mu           sync.Mutex
	pending      map[string][]Command
	maxPerDevice int
	policy       OverflowPolicy
	dropped      atomic.Int64
	logger       Logger
}

// NewQueue creates a command queue with the given per-device bound and
// overflow policy.
func NewQueue(maxPerDevice int, policy OverflowPolicy) *Queue {
	if policy != DropNewest {
		policy = DropOldest
	}
	return &Queue{
		pending:      make(map[string][]Command),
		maxPerDevice: maxPerDevice,
		policy:       policy,
		logger:       noopLogger{},
	}
}

// SetLogger sets the logger for the queue.
func (q *Queue) SetLogger(logger Logger) {
	q.logger = logger
}

// Enqueue appends a command to the device's FIFO.
// On overflow, the configured policy picks the casualty; the returned
// bool reports whether anything was dropped. Overflow is non-fatal.
func (q *Queue) Enqueue(deviceID string, cmd Command) bool {
	q.mu.Lock()

	queue := q.pending[deviceID]
	var droppedCmd *Command

	if q.maxPerDevice > 0 && len(queue) >= q.maxPerDevice {
		switch q.policy {
		case DropNewest:
			droppedCmd = &cmd
		default: // DropOldest
			oldest := queue[0]
			droppedCmd = &oldest
			q.pending[deviceID] = append(queue[1:], cmd)
		}
	} else {
		q.pending[deviceID] = append(queue, cmd)
	}

	q.mu.Unlock()

	if droppedCmd != nil {
		q.dropped.Add(1)
		q.logger.Warn("command queue overflow",
			"device_id", deviceID,
			"dropped_command_id", droppedCmd.ID,
			"policy", string(q.policy),
		)
		return true
	}
	return false
}

// Drain atomically removes and returns the device's entire queue in FIFO
// order. A device with nothing pending gets an empty slice.
func (q *Queue) Drain(deviceID string) []Command {
	q.mu.Lock()
	queue := q.pending[deviceID]
	delete(q.pending, deviceID)
	q.mu.Unlock()

	if queue == nil {
		return []Command{}
	}
	return queue
}

// Len returns the number of commands pending for a device.
func (q *Queue) Len(deviceID string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending[deviceID])
}

// DroppedTotal returns the total number of commands lost to overflow.
func (q *Queue) DroppedTotal() int64 {
	return q.dropped.Load()
}
