// Package scheduler runs the engine's periodic maintenance jobs on cron
// schedules. Schedules use the six-field cron format with a leading
// seconds field, e.g. "0 */5 * * * *" for every five minutes.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Job is one unit of scheduled maintenance work. Run receives the
// scheduler's context, which is canceled on Stop.
type Job interface {
	Run(ctx context.Context) error
	Name() string
}

// Scheduler manages background maintenance jobs.
type Scheduler struct {
	cron   *cron.Cron
	logger *zap.Logger
	ctx    context.Context
	cancel context.CancelFunc

	mu   sync.Mutex
	jobs []string

	runs     atomic.Int64
	failures atomic.Int64
}

func New(logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:   cron.New(cron.WithSeconds()),
		logger: logger.With(zap.String("component", "scheduler")),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Register adds a job on the given cron schedule.
func (s *Scheduler) Register(schedule string, job Job) error {
	if job == nil {
		return fmt.Errorf("scheduler: nil job")
	}
	if _, err := s.cron.AddFunc(schedule, func() { s.invoke(job) }); err != nil {
		return fmt.Errorf("scheduler: register %s: %w", job.Name(), err)
	}
	s.mu.Lock()
	s.jobs = append(s.jobs, job.Name())
	s.mu.Unlock()
	s.logger.Info("job registered",
		zap.String("job", job.Name()),
		zap.String("schedule", schedule))
	return nil
}

func (s *Scheduler) invoke(job Job) {
	start := time.Now()
	if err := job.Run(s.ctx); err != nil {
		s.failures.Add(1)
		s.logger.Error("job failed",
			zap.String("job", job.Name()),
			zap.Error(err))
		return
	}
	s.runs.Add(1)
	s.logger.Debug("job completed",
		zap.String("job", job.Name()),
		zap.Duration("took", time.Since(start)))
}

// Start begins running registered jobs on their schedules.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.mu.Lock()
	jobs := append([]string(nil), s.jobs...)
	s.mu.Unlock()
	s.logger.Info("scheduler started", zap.Strings("jobs", jobs))
}

// Stop cancels the job context and waits for in-flight runs to return.
func (s *Scheduler) Stop() {
	s.cancel()
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("scheduler stopped")
}

// RunNow executes a job immediately, outside its schedule.
func (s *Scheduler) RunNow(ctx context.Context, job Job) error {
	s.logger.Info("running job now", zap.String("job", job.Name()))
	if err := job.Run(ctx); err != nil {
		s.failures.Add(1)
		return err
	}
	s.runs.Add(1)
	return nil
}

// Stats is a snapshot of scheduler activity for the status endpoint.
type Stats struct {
	Jobs     []string `json:"jobs"`
	Runs     int64    `json:"runs"`
	Failures int64    `json:"failures"`
}

func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	jobs := append([]string(nil), s.jobs...)
	s.mu.Unlock()
	return Stats{
		Jobs:     jobs,
		Runs:     s.runs.Load(),
		Failures: s.failures.Load(),
	}
}
