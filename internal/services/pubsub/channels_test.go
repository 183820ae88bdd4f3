package pubsub

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ayushsreejith06/MAX-sub002/internal/engine"
)

func TestChannelBuilders(t *testing.T) {
	assert.Equal(t, "engine:sector:sector-1", SectorChannel("sector-1"))
	assert.Equal(t, "engine:agent:sector-1", AgentChannel("sector-1"))
	assert.Equal(t, "engine:discussion:sector-1", DiscussionChannel("sector-1"))
	assert.Equal(t, "engine:execution:sector-1", ExecutionChannel("sector-1"))
	assert.Equal(t, "engine:tick:sector-1", TickChannel("sector-1"))
}

func TestChannelConstants(t *testing.T) {
	assert.Equal(t, "engine:*", ChannelAll)
	assert.Equal(t, "engine:sector:*", ChannelAllSectors)
	assert.Equal(t, "engine:agent:*", ChannelAllAgents)
	assert.Equal(t, "engine:discussion:*", ChannelAllDiscussions)
	assert.Equal(t, "engine:execution:*", ChannelAllExecutions)
	assert.Equal(t, "engine:tick:*", ChannelAllTicks)
}

func TestChannelFor(t *testing.T) {
	tests := []struct {
		name      string
		eventType engine.EventType
		want      string
	}{
		{"sector updated", engine.EventSectorUpdated, "engine:sector:s1"},
		{"sector deleted", engine.EventSectorDeleted, "engine:sector:s1"},
		{"agent updated", engine.EventAgentUpdated, "engine:agent:s1"},
		{"discussion opened", engine.EventDiscussionOpened, "engine:discussion:s1"},
		{"discussion decided", engine.EventDiscussionDecided, "engine:discussion:s1"},
		{"item scored", engine.EventItemScored, "engine:discussion:s1"},
		{"item executed", engine.EventItemExecuted, "engine:execution:s1"},
		{"execution failed", engine.EventExecutionFailed, "engine:execution:s1"},
		{"tick completed", engine.EventTickCompleted, "engine:tick:s1"},
		{"unknown type falls back to sector", engine.EventType("mystery"), "engine:sector:s1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ChannelFor(tt.eventType, "s1"))
		})
	}
}

func TestParseChannel(t *testing.T) {
	entity, sectorID, err := ParseChannel("engine:discussion:sector-1")
	require.NoError(t, err)
	assert.Equal(t, EntityDiscussion, entity)
	assert.Equal(t, "sector-1", sectorID)

	entity, sectorID, err = ParseChannel("engine:tick:b2c3d4")
	require.NoError(t, err)
	assert.Equal(t, EntityTick, entity)
	assert.Equal(t, "b2c3d4", sectorID)
}

func TestParseChannelRejectsMalformed(t *testing.T) {
	tests := []struct {
		name    string
		channel string
	}{
		{"empty string", ""},
		{"single segment", "engine"},
		{"two segments", "engine:sector"},
		{"wrong domain", "market:ticker:binance"},
		{"unknown entity", "engine:ticker:sector-1"},
		{"missing sector id", "engine:sector:"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := ParseChannel(tt.channel)
			assert.Error(t, err)
		})
	}
}
