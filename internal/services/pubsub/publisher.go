package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ayushsreejith06/MAX-sub002/internal/engine"
)

type Publisher struct {
	client    *redis.Client
	logger    *zap.Logger
	published atomic.Int64
	errors    atomic.Int64
}

func NewPublisher(client *redis.Client, logger *zap.Logger) *Publisher {
	return &Publisher{
		client: client,
		logger: logger,
	}
}

func (p *Publisher) Publish(ctx context.Context, channel string, envelope Envelope) error {
	if channel == "" {
		return fmt.Errorf("pubsub: channel cannot be empty")
	}

	envelope.Channel = channel
	if envelope.Timestamp.IsZero() {
		envelope.Timestamp = time.Now().UTC()
	}

	data, err := json.Marshal(envelope)
	if err != nil {
		p.errors.Add(1)
		return fmt.Errorf("pubsub: marshal envelope: %w", err)
	}

	if err := p.client.Publish(ctx, channel, data).Err(); err != nil {
		p.errors.Add(1)
		p.logger.Error("pubsub: publish failed",
			zap.String("channel", channel),
			zap.Error(err),
		)
		return fmt.Errorf("pubsub: publish to %s: %w", channel, err)
	}

	p.published.Add(1)
	return nil
}

// PublishEvent routes one engine event to its channel. The payload is
// marshaled into the envelope's Data field.
func (p *Publisher) PublishEvent(ctx context.Context, event engine.Event) error {
	var data json.RawMessage
	if event.Payload != nil {
		raw, err := json.Marshal(event.Payload)
		if err != nil {
			p.errors.Add(1)
			return fmt.Errorf("pubsub: marshal %s payload: %w", event.Type, err)
		}
		data = raw
	}
	return p.Publish(ctx, ChannelFor(event.Type, event.SectorID), Envelope{
		Type:      string(event.Type),
		SectorID:  event.SectorID,
		Data:      data,
		Timestamp: event.Timestamp,
	})
}

type PublisherStats struct {
	Published int64 `json:"published"`
	Errors    int64 `json:"errors"`
}

func (p *Publisher) Stats() PublisherStats {
	return PublisherStats{
		Published: p.published.Load(),
		Errors:    p.errors.Load(),
	}
}

// Sink adapts a Publisher to the engine's fire-and-forget event sink.
// Publish failures are counted on the publisher and logged; they never
// reach the engine.
type Sink struct {
	publisher *Publisher
	logger    *zap.Logger
}

var _ engine.EventSink = (*Sink)(nil)

func NewSink(publisher *Publisher, logger *zap.Logger) *Sink {
	return &Sink{publisher: publisher, logger: logger}
}

func (s *Sink) Publish(ctx context.Context, event engine.Event) {
	if err := s.publisher.PublishEvent(ctx, event); err != nil {
		s.logger.Warn("pubsub: event dropped",
			zap.String("type", string(event.Type)),
			zap.String("sector_id", event.SectorID),
			zap.Error(err),
		)
	}
}
