// Package jobqueue provides the Redis-backed delivery queue behind the
// registry mirror. Jobs drain FIFO; failed jobs are rescheduled with
// exponential backoff until their attempts run out, then land in a
// dead-letter list for inspection and manual replay.
package jobqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Queue manages delivery jobs across three Redis keys: a ready list,
// a scheduled sorted set keyed by due time, and a dead-letter list.
type Queue struct {
	client      *redis.Client
	namespace   string
	ready       string
	scheduled   string
	dead        string
	maxAttempts int
	backoff     time.Duration
}

// Job is one pending delivery.
type Job struct {
	ID          string          `json:"id"`
	Type        string          `json:"type"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Attempts    int             `json:"attempts"`
	MaxAttempts int             `json:"max_attempts"`
	CreatedAt   time.Time       `json:"created_at"`
	NotBefore   *time.Time      `json:"not_before,omitempty"`
}

// DeadJob wraps a job that exhausted its attempts.
type DeadJob struct {
	Job      Job       `json:"job"`
	Error    string    `json:"error"`
	FailedAt time.Time `json:"failed_at"`
}

// Config defines queue configuration.
type Config struct {
	Namespace   string
	MaxAttempts int
	Backoff     time.Duration
}

// New creates a delivery queue over the given Redis client.
func New(client *redis.Client, cfg Config) *Queue {
	ns := cfg.Namespace
	if ns == "" {
		ns = "mirror"
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	backoff := cfg.Backoff
	if backoff <= 0 {
		backoff = 5 * time.Second
	}

	return &Queue{
		client:      client,
		namespace:   ns,
		ready:       ns + ":ready",
		scheduled:   ns + ":scheduled",
		dead:        ns + ":dead",
		maxAttempts: maxAttempts,
		backoff:     backoff,
	}
}

// Enqueue adds a job for immediate delivery.
func (q *Queue) Enqueue(ctx context.Context, jobType string, payload interface{}) (*Job, error) {
	return q.enqueue(ctx, jobType, payload, nil)
}

// EnqueueAt adds a job that becomes due at the given time.
func (q *Queue) EnqueueAt(ctx context.Context, jobType string, payload interface{}, at time.Time) (*Job, error) {
	return q.enqueue(ctx, jobType, payload, &at)
}

func (q *Queue) enqueue(ctx context.Context, jobType string, payload interface{}, at *time.Time) (*Job, error) {
	if q.client == nil {
		return nil, fmt.Errorf("jobqueue: redis client is nil")
	}
	if jobType == "" {
		return nil, fmt.Errorf("jobqueue: job type required")
	}

	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("jobqueue: marshal payload: %w", err)
		}
		raw = data
	}

	job := Job{
		ID:          uuid.NewString(),
		Type:        jobType,
		Payload:     raw,
		MaxAttempts: q.maxAttempts,
		CreatedAt:   time.Now().UTC(),
	}
	if at != nil {
		due := at.UTC()
		job.NotBefore = &due
	}

	data, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("jobqueue: marshal job: %w", err)
	}

	if job.NotBefore != nil {
		score := float64(job.NotBefore.UnixMilli())
		if err := q.client.ZAdd(ctx, q.scheduled, redis.Z{Score: score, Member: data}).Err(); err != nil {
			return nil, fmt.Errorf("jobqueue: schedule job: %w", err)
		}
	} else {
		if err := q.client.LPush(ctx, q.ready, data).Err(); err != nil {
			return nil, fmt.Errorf("jobqueue: enqueue job: %w", err)
		}
	}

	return &job, nil
}

// Dequeue promotes due scheduled jobs and pops the oldest ready job.
// Returns nil without error when the queue is empty.
func (q *Queue) Dequeue(ctx context.Context) (*Job, error) {
	if q.client == nil {
		return nil, fmt.Errorf("jobqueue: redis client is nil")
	}

	if err := q.promoteDue(ctx); err != nil {
		return nil, err
	}

	result, err := q.client.RPop(ctx, q.ready).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("jobqueue: dequeue: %w", err)
	}

	var job Job
	if err := json.Unmarshal([]byte(result), &job); err != nil {
		return nil, fmt.Errorf("jobqueue: unmarshal job: %w", err)
	}

	job.Attempts++
	return &job, nil
}

func (q *Queue) promoteDue(ctx context.Context) error {
	due, err := q.client.ZRangeByScore(ctx, q.scheduled, &redis.ZRangeBy{
		Min: "0",
		Max: strconv.FormatInt(time.Now().UnixMilli(), 10),
	}).Result()
	if err != nil {
		return fmt.Errorf("jobqueue: read scheduled: %w", err)
	}

	for _, item := range due {
		if err := q.client.LPush(ctx, q.ready, item).Err(); err != nil {
			continue
		}
		if err := q.client.ZRem(ctx, q.scheduled, item).Err(); err != nil {
			continue
		}
	}

	return nil
}

// Fail reschedules the job with exponential backoff, or dead-letters it
// once its attempts are spent.
func (q *Queue) Fail(ctx context.Context, job *Job, cause error) error {
	if q.client == nil {
		return fmt.Errorf("jobqueue: redis client is nil")
	}

	if job.Attempts < job.MaxAttempts {
		attempt := job.Attempts
		if attempt < 1 {
			attempt = 1
		}
		delay := q.backoff * time.Duration(1<<(attempt-1))
		due := time.Now().Add(delay).UTC()
		job.NotBefore = &due

		data, err := json.Marshal(job)
		if err != nil {
			return fmt.Errorf("jobqueue: marshal job for retry: %w", err)
		}
		score := float64(due.UnixMilli())
		if err := q.client.ZAdd(ctx, q.scheduled, redis.Z{Score: score, Member: data}).Err(); err != nil {
			return fmt.Errorf("jobqueue: reschedule job: %w", err)
		}
		return nil
	}

	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	data, err := json.Marshal(DeadJob{Job: *job, Error: msg, FailedAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("jobqueue: marshal dead letter: %w", err)
	}
	if err := q.client.LPush(ctx, q.dead, data).Err(); err != nil {
		return fmt.Errorf("jobqueue: dead-letter job: %w", err)
	}
	return nil
}

// Depths reports the number of jobs in each queue section.
type Depths struct {
	Ready     int64 `json:"ready"`
	Scheduled int64 `json:"scheduled"`
	Dead      int64 `json:"dead"`
}

func (q *Queue) Depths(ctx context.Context) (Depths, error) {
	var d Depths
	var err error
	if d.Ready, err = q.client.LLen(ctx, q.ready).Result(); err != nil {
		return d, fmt.Errorf("jobqueue: ready depth: %w", err)
	}
	if d.Scheduled, err = q.client.ZCard(ctx, q.scheduled).Result(); err != nil {
		return d, fmt.Errorf("jobqueue: scheduled depth: %w", err)
	}
	if d.Dead, err = q.client.LLen(ctx, q.dead).Result(); err != nil {
		return d, fmt.Errorf("jobqueue: dead depth: %w", err)
	}
	return d, nil
}

// PeekDead returns dead-lettered jobs without removing them.
func (q *Queue) PeekDead(ctx context.Context, count int64) ([]DeadJob, error) {
	items, err := q.client.LRange(ctx, q.dead, 0, count-1).Result()
	if err != nil {
		return nil, fmt.Errorf("jobqueue: peek dead letters: %w", err)
	}

	out := make([]DeadJob, 0, len(items))
	for _, item := range items {
		var dead DeadJob
		if err := json.Unmarshal([]byte(item), &dead); err != nil {
			continue
		}
		out = append(out, dead)
	}
	return out, nil
}

// RequeueDead moves one dead-lettered job back to the ready list with
// its attempts reset.
func (q *Queue) RequeueDead(ctx context.Context, index int64) error {
	item, err := q.client.LIndex(ctx, q.dead, index).Result()
	if err != nil {
		return fmt.Errorf("jobqueue: read dead letter: %w", err)
	}

	var dead DeadJob
	if err := json.Unmarshal([]byte(item), &dead); err != nil {
		return fmt.Errorf("jobqueue: unmarshal dead letter: %w", err)
	}

	job := dead.Job
	job.Attempts = 0
	job.NotBefore = nil

	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("jobqueue: marshal job: %w", err)
	}
	if err := q.client.LPush(ctx, q.ready, data).Err(); err != nil {
		return fmt.Errorf("jobqueue: requeue job: %w", err)
	}
	if err := q.client.LRem(ctx, q.dead, 1, item).Err(); err != nil {
		return fmt.Errorf("jobqueue: remove dead letter: %w", err)
	}
	return nil
}

// ClearDead removes every dead-lettered job.
func (q *Queue) ClearDead(ctx context.Context) error {
	return q.client.Del(ctx, q.dead).Err()
}
