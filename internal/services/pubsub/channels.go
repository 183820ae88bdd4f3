// Package pubsub provides typed Redis pub/sub streaming for engine
// events.
//
// Channel naming convention: engine:{entity}:{sectorID}
// Examples: engine:discussion:sector-1, engine:execution:sector-1
package pubsub

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ayushsreejith06/MAX-sub002/internal/engine"
)

const (
	DomainEngine = "engine"
)

const (
	EntitySector     = "sector"
	EntityAgent      = "agent"
	EntityDiscussion = "discussion"
	EntityExecution  = "execution"
	EntityTick       = "tick"
)

const (
	ChannelAll            = DomainEngine + ":*"
	ChannelAllSectors     = DomainEngine + ":" + EntitySector + ":*"
	ChannelAllAgents      = DomainEngine + ":" + EntityAgent + ":*"
	ChannelAllDiscussions = DomainEngine + ":" + EntityDiscussion + ":*"
	ChannelAllExecutions  = DomainEngine + ":" + EntityExecution + ":*"
	ChannelAllTicks       = DomainEngine + ":" + EntityTick + ":*"
)

func SectorChannel(sectorID string) string {
	return fmt.Sprintf("%s:%s:%s", DomainEngine, EntitySector, sectorID)
}

func AgentChannel(sectorID string) string {
	return fmt.Sprintf("%s:%s:%s", DomainEngine, EntityAgent, sectorID)
}

func DiscussionChannel(sectorID string) string {
	return fmt.Sprintf("%s:%s:%s", DomainEngine, EntityDiscussion, sectorID)
}

func ExecutionChannel(sectorID string) string {
	return fmt.Sprintf("%s:%s:%s", DomainEngine, EntityExecution, sectorID)
}

func TickChannel(sectorID string) string {
	return fmt.Sprintf("%s:%s:%s", DomainEngine, EntityTick, sectorID)
}

// ChannelFor maps an engine event type to the channel it is published
// on. Types this package does not know land on the sector channel so
// subscribers never lose events across version skew.
func ChannelFor(eventType engine.EventType, sectorID string) string {
	switch eventType {
	case engine.EventSectorUpdated, engine.EventSectorDeleted:
		return SectorChannel(sectorID)
	case engine.EventAgentUpdated:
		return AgentChannel(sectorID)
	case engine.EventDiscussionOpened, engine.EventDiscussionDecided, engine.EventItemScored:
		return DiscussionChannel(sectorID)
	case engine.EventItemExecuted, engine.EventExecutionFailed:
		return ExecutionChannel(sectorID)
	case engine.EventTickCompleted:
		return TickChannel(sectorID)
	default:
		return SectorChannel(sectorID)
	}
}

// ParseChannel extracts entity and sector ID from a channel name.
// Channel format is engine:{entity}:{sectorID}.
func ParseChannel(channel string) (entity, sectorID string, err error) {
	parts := strings.SplitN(channel, ":", 3)
	if len(parts) != 3 || parts[0] != DomainEngine {
		return "", "", fmt.Errorf("invalid channel format: %s", channel)
	}
	switch parts[1] {
	case EntitySector, EntityAgent, EntityDiscussion, EntityExecution, EntityTick:
	default:
		return "", "", fmt.Errorf("unknown channel entity: %s", parts[1])
	}
	if parts[2] == "" {
		return "", "", fmt.Errorf("channel %s has no sector ID", channel)
	}
	return parts[1], parts[2], nil
}

// Envelope is the wire format for every published message. Data carries
// the event payload as raw JSON; subscribers decode it into the model
// type the event type implies.
type Envelope struct {
	Type      string          `json:"type"`
	Channel   string          `json:"channel"`
	SectorID  string          `json:"sector_id,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}
