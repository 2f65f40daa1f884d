// Package provenance emits append-only audit events to an external sink.
//
// Emission is fire-and-forget: a missing, slow or failing sink never
// affects correctness of the emitting component. Events are explicit
// tagged records with documented fields, not opaque blobs.
package provenance

import (
	"context"
	"log/slog"
	"time"

	"github.com/hupe1980/atomgo/core"
)

// EventType tags a provenance event record.
type EventType uint8

const (
	// EventAtomCreated records the interning of a brand-new atom.
	EventAtomCreated EventType = iota + 1
	// EventCompositionLinked records a parent/component structural link.
	EventCompositionLinked
	// EventActionExecuted records a completed autonomy action.
	EventActionExecuted
)

// String returns a string representation of the EventType.
func (t EventType) String() string {
	switch t {
	case EventAtomCreated:
		return "AtomCreated"
	case EventCompositionLinked:
		return "CompositionLinked"
	case EventActionExecuted:
		return "ActionExecuted"
	default:
		return "Unknown"
	}
}

// Event is a single append-only audit record.
type Event struct {
	// Type tags the record.
	Type EventType
	// Time is the emission timestamp.
	Time time.Time
	// AtomID is set for AtomCreated and CompositionLinked (parent).
	AtomID core.AtomID
	// ComponentID is set for CompositionLinked.
	ComponentID core.AtomID
	// ContentHash is set for AtomCreated.
	ContentHash core.ContentHash
	// ActionID is set for ActionExecuted.
	ActionID string
	// Detail carries a short human-readable summary.
	Detail string
}

// Sink receives provenance events. Implementations must be safe for
// concurrent use and must not block the caller for long; the core treats
// every Emit as best-effort.
type Sink interface {
	Emit(event Event)
}

// NopSink discards all events.
type NopSink struct{}

// Emit implements Sink.
func (NopSink) Emit(Event) {}

// ChannelSink forwards events into a buffered channel, dropping events
// when the channel is full rather than blocking the emitter.
type ChannelSink struct {
	ch chan Event
}

// NewChannelSink creates a ChannelSink with the given buffer size.
func NewChannelSink(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = 256
	}
	return &ChannelSink{ch: make(chan Event, buffer)}
}

// Emit implements Sink. Events are dropped if the buffer is full.
func (s *ChannelSink) Emit(event Event) {
	select {
	case s.ch <- event:
	default:
	}
}

// Events returns the receive side of the sink.
func (s *ChannelSink) Events() <-chan Event {
	return s.ch
}

// SlogSink logs every event through a structured logger.
type SlogSink struct {
	logger *slog.Logger
}

// NewSlogSink creates a sink that logs events at debug level.
func NewSlogSink(logger *slog.Logger) *SlogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogSink{logger: logger}
}

// Emit implements Sink.
func (s *SlogSink) Emit(event Event) {
	s.logger.LogAttrs(context.Background(), slog.LevelDebug, "provenance event",
		slog.String("type", event.Type.String()),
		slog.Uint64("atom_id", uint64(event.AtomID)),
		slog.Uint64("component_id", uint64(event.ComponentID)),
		slog.String("action_id", event.ActionID),
		slog.String("detail", event.Detail),
	)
}
