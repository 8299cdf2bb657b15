// Package events implements the bounded, drop-when-full event delivery the
// facade uses to publish engine activity to a consumer-supplied sink without
// ever blocking the engine loop on a slow listener.
//
// The shape is the teacher's session push channel generalized from a single
// 16-entry channel serving one message kind to a 128-entry channel serving
// the six kinds the facade publishes.
package events

import "fmt"

// Kind enumerates the event types the facade may publish.
type Kind string

const (
	ProgressChanged      Kind = "ProgressChanged"
	StageChanged         Kind = "StageChanged"
	DeviceConnected      Kind = "DeviceConnected"
	DeviceDisconnected   Kind = "DeviceDisconnected"
	PartitionTableLoaded Kind = "PartitionTableLoaded"
	ErrorOccurred        Kind = "ErrorOccurred"
	EventBackpressure    Kind = "EventBackpressure"
)

// Event is the envelope delivered on a Bus. Fields beyond Kind are
// populated according to Kind; callers type-switch on Kind before reading
// the rest.
type Event struct {
	Kind Kind

	// ProgressChanged
	Done, Total int64
	Stage       string // human label for the thing in progress, e.g. "program boot"

	// DeviceConnected / DeviceDisconnected
	DeviceID string

	// PartitionTableLoaded
	PartitionCount int

	// ErrorOccurred
	ErrKind       string
	Message       string
	Recoverable   bool
}

func (e Event) String() string {
	switch e.Kind {
	case ProgressChanged:
		return fmt.Sprintf("%s: %s %d/%d", e.Kind, e.Stage, e.Done, e.Total)
	case StageChanged:
		return fmt.Sprintf("%s: %s", e.Kind, e.Stage)
	case DeviceConnected, DeviceDisconnected:
		return fmt.Sprintf("%s: %s", e.Kind, e.DeviceID)
	case ErrorOccurred:
		return fmt.Sprintf("%s: %s: %s", e.Kind, e.ErrKind, e.Message)
	default:
		return string(e.Kind)
	}
}

// QueueDepth is the bound spec'd for per-stream event delivery.
const QueueDepth = 128

// Bus is a single-producer, multi-consumer-by-drain event stream. Publish
// never blocks: when the internal buffer is full the event is dropped and
// an EventBackpressure event is substituted in its place (itself subject to
// the same drop rule, so backpressure never cascades).
type Bus struct {
	ch chan Event
}

// NewBus allocates a Bus with the spec'd 128-entry bound.
func NewBus() *Bus {
	return &Bus{ch: make(chan Event, QueueDepth)}
}

// Publish delivers ev without blocking. If the queue is full, ev is dropped
// and replaced by a single EventBackpressure marker (also best-effort).
func (b *Bus) Publish(ev Event) {
	select {
	case b.ch <- ev:
	default:
		select {
		case b.ch <- Event{Kind: EventBackpressure}:
		default:
		}
	}
}

// Events returns the receive side for a consumer to range over. The bus has
// exactly one consumer side; fan-out across multiple listeners is the
// caller's responsibility.
func (b *Bus) Events() <-chan Event { return b.ch }

// Close releases the channel. Callers must stop publishing before Close.
func (b *Bus) Close() { close(b.ch) }
