// Package registry mirrors decision summaries to an external registry
// endpoint. Deliveries are fire-and-forget from the engine's point of
// view: summaries are queued (durably when Redis is available) and a
// background dispatcher drains them over HTTP.
package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/ayushsreejith06/MAX-sub002/internal/engine"
	"github.com/ayushsreejith06/MAX-sub002/internal/services/jobqueue"
	"github.com/ayushsreejith06/MAX-sub002/internal/services/workerpool"
)

const jobTypeDecision = "decision-summary"

// Summary is the wire format mirrored for each decided discussion and
// executed item.
type Summary struct {
	Event     string          `json:"event"`
	SectorID  string          `json:"sector_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// Config defines the mirror target and pacing.
type Config struct {
	Endpoint string
	APIKey   string
	Timeout  time.Duration
	Interval time.Duration
}

// Mirror implements engine.EventSink for decision events. With a queue
// attached, summaries survive restarts and failed deliveries retry with
// backoff; without one they dispatch straight to the worker pool.
type Mirror struct {
	cfg    Config
	queue  *jobqueue.Queue
	pool   *workerpool.Pool
	client *http.Client
	logger *zap.Logger

	queued    atomic.Int64
	delivered atomic.Int64
	failed    atomic.Int64

	mu      sync.Mutex
	started bool
	stop    chan struct{}
	done    chan struct{}
}

var _ engine.EventSink = (*Mirror)(nil)

// New creates a mirror. queue may be nil when Redis is not configured.
func New(cfg Config, queue *jobqueue.Queue, logger *zap.Logger) *Mirror {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 2 * time.Second
	}

	return &Mirror{
		cfg:    cfg,
		queue:  queue,
		pool:   workerpool.New(workerpool.Config{Workers: 2, QueueSize: 32, DropOnFull: true}),
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

// Start launches the worker pool and, when a queue is attached, the
// drain loop.
func (m *Mirror) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started {
		return fmt.Errorf("registry: mirror already running")
	}
	if err := m.pool.Start(); err != nil {
		return fmt.Errorf("registry: start pool: %w", err)
	}

	m.stop = make(chan struct{})
	m.done = make(chan struct{})
	if m.queue != nil {
		go m.drainLoop()
	} else {
		close(m.done)
	}

	m.started = true
	return nil
}

// Stop halts the drain loop and waits for in-flight deliveries.
func (m *Mirror) Stop() {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return
	}
	m.started = false
	m.mu.Unlock()

	close(m.stop)
	<-m.done
	_ = m.pool.Stop()
}

// Publish queues one engine event for mirroring. Only decision events
// are mirrored; everything else is ignored. Errors are logged, never
// returned.
func (m *Mirror) Publish(ctx context.Context, event engine.Event) {
	switch event.Type {
	case engine.EventDiscussionDecided, engine.EventItemExecuted:
	default:
		return
	}

	summary, err := newSummary(event)
	if err != nil {
		m.logger.Warn("registry: drop unencodable event",
			zap.String("type", string(event.Type)),
			zap.Error(err),
		)
		return
	}

	if m.queue != nil {
		if _, err := m.queue.Enqueue(ctx, jobTypeDecision, summary); err != nil {
			m.logger.Warn("registry: enqueue failed", zap.Error(err))
			return
		}
		m.queued.Add(1)
		return
	}

	m.queued.Add(1)
	if err := m.pool.Submit(workerpool.Task{
		ID: string(event.Type),
		Execute: func(ctx context.Context) error {
			if err := m.deliver(ctx, summary); err != nil {
				m.logger.Warn("registry: delivery failed", zap.Error(err))
				return err
			}
			return nil
		},
	}); err != nil {
		m.logger.Warn("registry: dispatch dropped", zap.Error(err))
	}
}

func (m *Mirror) drainLoop() {
	defer close(m.done)

	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.drainOnce()
		}
	}
}

func (m *Mirror) drainOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.Timeout)
	defer cancel()

	for {
		job, err := m.queue.Dequeue(ctx)
		if err != nil {
			m.logger.Warn("registry: dequeue failed", zap.Error(err))
			return
		}
		if job == nil {
			return
		}

		var summary Summary
		if err := json.Unmarshal(job.Payload, &summary); err != nil {
			m.logger.Warn("registry: drop malformed job",
				zap.String("job_id", job.ID),
				zap.Error(err),
			)
			continue
		}

		claimed := *job
		if err := m.pool.Submit(workerpool.Task{
			ID: claimed.ID,
			Execute: func(ctx context.Context) error {
				if err := m.deliver(ctx, summary); err != nil {
					m.logger.Warn("registry: delivery failed",
						zap.String("job_id", claimed.ID),
						zap.Int("attempt", claimed.Attempts),
						zap.Error(err),
					)
					m.requeue(&claimed, err)
					return err
				}
				return nil
			},
		}); err != nil {
			// Pool is saturated; return the job and let the next
			// sweep pick it up.
			m.requeue(&claimed, err)
			return
		}
	}
}

func (m *Mirror) requeue(job *jobqueue.Job, cause error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.queue.Fail(ctx, job, cause); err != nil {
		m.logger.Error("registry: requeue failed",
			zap.String("job_id", job.ID),
			zap.Error(err),
		)
	}
}

func (m *Mirror) deliver(ctx context.Context, summary Summary) error {
	body, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("registry: marshal summary: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, m.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("registry: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if m.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+m.cfg.APIKey)
	}

	resp, err := m.client.Do(req)
	if err != nil {
		m.failed.Add(1)
		return fmt.Errorf("registry: post summary: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		m.failed.Add(1)
		return fmt.Errorf("registry: endpoint returned %d", resp.StatusCode)
	}

	m.delivered.Add(1)
	return nil
}

func newSummary(event engine.Event) (Summary, error) {
	var payload json.RawMessage
	if event.Payload != nil {
		raw, err := json.Marshal(event.Payload)
		if err != nil {
			return Summary{}, err
		}
		payload = raw
	}
	ts := event.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	return Summary{
		Event:     string(event.Type),
		SectorID:  event.SectorID,
		Payload:   payload,
		Timestamp: ts,
	}, nil
}

// Stats reports mirror counters for the status endpoint.
type Stats struct {
	Queued    int64            `json:"queued"`
	Delivered int64            `json:"delivered"`
	Failed    int64            `json:"failed"`
	Pool      workerpool.Stats `json:"pool"`
}

func (m *Mirror) Stats() Stats {
	return Stats{
		Queued:    m.queued.Load(),
		Delivered: m.delivered.Load(),
		Failed:    m.failed.Load(),
		Pool:      m.pool.Stats(),
	}
}
