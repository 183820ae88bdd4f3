package pubsub

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ayushsreejith06/MAX-sub002/internal/engine"
)

func setupTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestPublisher_Publish(t *testing.T) {
	client := setupTestRedis(t)
	pub := NewPublisher(client, zap.NewNop())

	ctx := context.Background()
	sub := client.Subscribe(ctx, "engine:discussion:sector-1")
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	env := Envelope{
		Type:     string(engine.EventDiscussionOpened),
		SectorID: "sector-1",
		Data:     []byte(`{"id":"d-1"}`),
	}
	err = pub.Publish(ctx, "engine:discussion:sector-1", env)
	require.NoError(t, err)

	msg, err := sub.ReceiveMessage(ctx)
	require.NoError(t, err)

	var received Envelope
	err = json.Unmarshal([]byte(msg.Payload), &received)
	require.NoError(t, err)

	assert.Equal(t, string(engine.EventDiscussionOpened), received.Type)
	assert.Equal(t, "sector-1", received.SectorID)
	assert.Equal(t, "engine:discussion:sector-1", received.Channel)
	assert.False(t, received.Timestamp.IsZero())
}

func TestPublisher_PublishEmptyChannel(t *testing.T) {
	client := setupTestRedis(t)
	pub := NewPublisher(client, zap.NewNop())

	err := pub.Publish(context.Background(), "", Envelope{})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "channel cannot be empty")
}

func TestPublisher_PublishEvent(t *testing.T) {
	client := setupTestRedis(t)
	pub := NewPublisher(client, zap.NewNop())

	ctx := context.Background()
	sub := client.Subscribe(ctx, ExecutionChannel("sector-1"))
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	ts := time.Date(2026, 1, 15, 10, 30, 0, 0, time.UTC)
	err = pub.PublishEvent(ctx, engine.Event{
		Type:      engine.EventItemExecuted,
		SectorID:  "sector-1",
		Payload:   map[string]interface{}{"symbol": "TECH", "amount": 200},
		Timestamp: ts,
	})
	require.NoError(t, err)

	msg, err := sub.ReceiveMessage(ctx)
	require.NoError(t, err)

	var env Envelope
	require.NoError(t, json.Unmarshal([]byte(msg.Payload), &env))
	assert.Equal(t, string(engine.EventItemExecuted), env.Type)
	assert.Equal(t, "sector-1", env.SectorID)
	assert.Equal(t, ExecutionChannel("sector-1"), env.Channel)
	assert.True(t, env.Timestamp.Equal(ts))

	var payload struct {
		Symbol string  `json:"symbol"`
		Amount float64 `json:"amount"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &payload))
	assert.Equal(t, "TECH", payload.Symbol)
	assert.Equal(t, float64(200), payload.Amount)
}

func TestPublisher_PublishEventNilPayload(t *testing.T) {
	client := setupTestRedis(t)
	pub := NewPublisher(client, zap.NewNop())

	ctx := context.Background()
	sub := client.Subscribe(ctx, SectorChannel("sector-2"))
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	err = pub.PublishEvent(ctx, engine.Event{
		Type:     engine.EventSectorDeleted,
		SectorID: "sector-2",
	})
	require.NoError(t, err)

	msg, err := sub.ReceiveMessage(ctx)
	require.NoError(t, err)

	var env Envelope
	require.NoError(t, json.Unmarshal([]byte(msg.Payload), &env))
	assert.Equal(t, string(engine.EventSectorDeleted), env.Type)
	assert.Empty(t, env.Data)
	assert.False(t, env.Timestamp.IsZero())
}

func TestPublisher_Stats(t *testing.T) {
	client := setupTestRedis(t)
	pub := NewPublisher(client, zap.NewNop())

	stats := pub.Stats()
	assert.Equal(t, int64(0), stats.Published)
	assert.Equal(t, int64(0), stats.Errors)

	ctx := context.Background()
	_ = pub.Publish(ctx, SectorChannel("s1"), Envelope{Type: "sector.updated"})
	_ = pub.Publish(ctx, TickChannel("s1"), Envelope{Type: "tick.completed"})

	stats = pub.Stats()
	assert.Equal(t, int64(2), stats.Published)
}

func TestSink_PublishSwallowsErrors(t *testing.T) {
	client := setupTestRedis(t)
	pub := NewPublisher(client, zap.NewNop())
	sink := NewSink(pub, zap.NewNop())

	ctx := context.Background()
	sub := client.Subscribe(ctx, TickChannel("sector-1"))
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	sink.Publish(ctx, engine.Event{
		Type:      engine.EventTickCompleted,
		SectorID:  "sector-1",
		Payload:   map[string]string{"status": "ok"},
		Timestamp: time.Now().UTC(),
	})

	msg, err := sub.ReceiveMessage(ctx)
	require.NoError(t, err)
	var env Envelope
	require.NoError(t, json.Unmarshal([]byte(msg.Payload), &env))
	assert.Equal(t, string(engine.EventTickCompleted), env.Type)

	// A dead connection must not panic or propagate an error.
	require.NoError(t, client.Close())
	sink.Publish(context.Background(), engine.Event{
		Type:     engine.EventTickCompleted,
		SectorID: "sector-1",
	})
	assert.Equal(t, int64(1), pub.Stats().Errors)
}

func TestSubscriber_HandleByChannel(t *testing.T) {
	client := setupTestRedis(t)

	pub := NewPublisher(client, zap.NewNop())
	sub := NewSubscriber(client, zap.NewNop())
	defer sub.Close()

	var mu sync.Mutex
	var received Envelope
	var wg sync.WaitGroup
	wg.Add(1)

	channel := DiscussionChannel("sector-1")
	sub.Handle(channel, func(_ context.Context, env Envelope) error {
		mu.Lock()
		received = env
		mu.Unlock()
		wg.Done()
		return nil
	})

	ctx := context.Background()
	err := sub.Subscribe(ctx, channel)
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)

	err = pub.PublishEvent(ctx, engine.Event{
		Type:      engine.EventDiscussionOpened,
		SectorID:  "sector-1",
		Payload:   map[string]string{"id": "d-1"},
		Timestamp: time.Now().UTC(),
	})
	require.NoError(t, err)

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for message")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, string(engine.EventDiscussionOpened), received.Type)
	assert.Equal(t, "sector-1", received.SectorID)
}

func TestSubscriber_HandleByType(t *testing.T) {
	client := setupTestRedis(t)

	pub := NewPublisher(client, zap.NewNop())
	sub := NewSubscriber(client, zap.NewNop())
	defer sub.Close()

	var mu sync.Mutex
	var received Envelope
	var wg sync.WaitGroup
	wg.Add(1)

	sub.HandleType(engine.EventItemExecuted, func(_ context.Context, env Envelope) error {
		mu.Lock()
		received = env
		mu.Unlock()
		wg.Done()
		return nil
	})

	ctx := context.Background()
	err := sub.Subscribe(ctx, ExecutionChannel("sector-9"))
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)

	err = pub.PublishEvent(ctx, engine.Event{
		Type:      engine.EventItemExecuted,
		SectorID:  "sector-9",
		Payload:   map[string]string{"symbol": "ALT"},
		Timestamp: time.Now().UTC(),
	})
	require.NoError(t, err)

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for message")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, string(engine.EventItemExecuted), received.Type)
}

func TestSubscriber_CatchAllOverPattern(t *testing.T) {
	client := setupTestRedis(t)

	pub := NewPublisher(client, zap.NewNop())
	sub := NewSubscriber(client, zap.NewNop())
	defer sub.Close()

	results := make(chan Envelope, 5)
	sub.HandleAll(func(_ context.Context, env Envelope) error {
		results <- env
		return nil
	})

	ctx := context.Background()
	err := sub.PSubscribe(ctx, ChannelAll)
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)

	require.NoError(t, pub.PublishEvent(ctx, engine.Event{
		Type:      engine.EventSectorUpdated,
		SectorID:  "sector-1",
		Timestamp: time.Now().UTC(),
	}))
	require.NoError(t, pub.PublishEvent(ctx, engine.Event{
		Type:      engine.EventTickCompleted,
		SectorID:  "sector-2",
		Timestamp: time.Now().UTC(),
	}))

	received := make(map[string]Envelope)
	timeout := time.After(3 * time.Second)
	for i := 0; i < 2; i++ {
		select {
		case env := <-results:
			received[env.Type] = env
		case <-timeout:
			t.Fatalf("timed out after receiving %d of 2 messages", i)
		}
	}

	assert.Contains(t, received, string(engine.EventSectorUpdated))
	assert.Contains(t, received, string(engine.EventTickCompleted))
	assert.Equal(t, "sector-2", received[string(engine.EventTickCompleted)].SectorID)
}

func TestSubscriber_Close(t *testing.T) {
	client := setupTestRedis(t)

	sub := NewSubscriber(client, zap.NewNop())

	ctx := context.Background()
	err := sub.Subscribe(ctx, DiscussionChannel("sector-1"))
	require.NoError(t, err)

	stats := sub.Stats()
	assert.Equal(t, 1, stats.Subscriptions)

	err = sub.Close()
	require.NoError(t, err)

	stats = sub.Stats()
	assert.Equal(t, 0, stats.Subscriptions)
}

func TestSubscriber_SubscribeEmptyChannels(t *testing.T) {
	client := setupTestRedis(t)

	sub := NewSubscriber(client, zap.NewNop())
	defer sub.Close()

	err := sub.Subscribe(context.Background())
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "at least one channel required")
}

func TestSubscriber_PSubscribeEmptyPatterns(t *testing.T) {
	client := setupTestRedis(t)

	sub := NewSubscriber(client, zap.NewNop())
	defer sub.Close()

	err := sub.PSubscribe(context.Background())
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "at least one pattern required")
}

func TestSubscriber_Stats(t *testing.T) {
	client := setupTestRedis(t)

	sub := NewSubscriber(client, zap.NewNop())

	stats := sub.Stats()
	assert.Equal(t, int64(0), stats.Received)
	assert.Equal(t, int64(0), stats.Errors)
	assert.Equal(t, 0, stats.Subscriptions)

	ctx := context.Background()
	err := sub.Subscribe(ctx, SectorChannel("s1"))
	require.NoError(t, err)
	err = sub.Subscribe(ctx, SectorChannel("s2"))
	require.NoError(t, err)

	stats = sub.Stats()
	assert.Equal(t, 2, stats.Subscriptions)

	sub.Close()
}

func TestEndToEnd_EventRoundTrip(t *testing.T) {
	client := setupTestRedis(t)

	pub := NewPublisher(client, zap.NewNop())
	sub := NewSubscriber(client, zap.NewNop())
	defer sub.Close()

	results := make(chan Envelope, 5)

	sub.Handle(DiscussionChannel("sector-1"), func(_ context.Context, env Envelope) error {
		results <- env
		return nil
	})
	sub.Handle(ExecutionChannel("sector-1"), func(_ context.Context, env Envelope) error {
		results <- env
		return nil
	})

	ctx := context.Background()
	err := sub.Subscribe(ctx, DiscussionChannel("sector-1"), ExecutionChannel("sector-1"))
	require.NoError(t, err)
	time.Sleep(50 * time.Millisecond)

	require.NoError(t, pub.PublishEvent(ctx, engine.Event{
		Type:      engine.EventDiscussionDecided,
		SectorID:  "sector-1",
		Payload:   map[string]string{"id": "d-1", "phase": "execution"},
		Timestamp: time.Now().UTC(),
	}))
	require.NoError(t, pub.PublishEvent(ctx, engine.Event{
		Type:      engine.EventItemExecuted,
		SectorID:  "sector-1",
		Payload:   map[string]interface{}{"symbol": "TECH", "price": 100.2},
		Timestamp: time.Now().UTC(),
	}))

	received := make(map[string]Envelope)
	timeout := time.After(3 * time.Second)
	for i := 0; i < 2; i++ {
		select {
		case env := <-results:
			received[env.Type] = env
		case <-timeout:
			t.Fatalf("timed out after receiving %d of 2 messages", i)
		}
	}

	assert.Contains(t, received, string(engine.EventDiscussionDecided))
	assert.Contains(t, received, string(engine.EventItemExecuted))

	var fill struct {
		Symbol string  `json:"symbol"`
		Price  float64 `json:"price"`
	}
	require.NoError(t, json.Unmarshal(received[string(engine.EventItemExecuted)].Data, &fill))
	assert.Equal(t, "TECH", fill.Symbol)
	assert.InDelta(t, 100.2, fill.Price, 1e-9)

	assert.Equal(t, int64(2), pub.Stats().Published)
	assert.Equal(t, int64(2), sub.Stats().Received)
}
