package engine

import (
	"context"
	"time"
)

// EventType names an engine lifecycle event.
type EventType string

const (
	EventSectorUpdated     EventType = "sector.updated"
	EventSectorDeleted     EventType = "sector.deleted"
	EventAgentUpdated      EventType = "agent.updated"
	EventDiscussionOpened  EventType = "discussion.opened"
	EventDiscussionDecided EventType = "discussion.decided"
	EventItemScored        EventType = "item.scored"
	EventItemExecuted      EventType = "item.executed"
	EventExecutionFailed   EventType = "execution.failed"
	EventTickCompleted     EventType = "tick.completed"
)

// Event is one engine notification. Payload must be JSON-serializable;
// sinks forward it verbatim.
type Event struct {
	Type      EventType   `json:"type"`
	SectorID  string      `json:"sectorId,omitempty"`
	Payload   interface{} `json:"payload,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// EventSink receives engine events. Publishing is fire-and-forget: sinks
// must not block the engine and errors are theirs to log.
type EventSink interface {
	Publish(ctx context.Context, event Event)
}

// NopSink discards events.
type NopSink struct{}

func (NopSink) Publish(context.Context, Event) {}

// MultiSink fans one event out to several sinks in order.
type MultiSink []EventSink

func (m MultiSink) Publish(ctx context.Context, event Event) {
	for _, sink := range m {
		if sink != nil {
			sink.Publish(ctx, event)
		}
	}
}

func newEvent(t EventType, sectorID string, payload interface{}) Event {
	return Event{Type: t, SectorID: sectorID, Payload: payload, Timestamp: time.Now().UTC()}
}
