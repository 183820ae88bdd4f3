package engine

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ayushsreejith06/MAX-sub002/internal/apperrors"
	"github.com/ayushsreejith06/MAX-sub002/internal/config"
	"github.com/ayushsreejith06/MAX-sub002/internal/logging"
	"github.com/ayushsreejith06/MAX-sub002/internal/models"
	"github.com/ayushsreejith06/MAX-sub002/internal/storage"
)

const (
	// WatchdogStallPrefix starts every close reason the stall sweep
	// writes; the discussion's phase at close time is appended.
	WatchdogStallPrefix = "watchdog_force_close_stalled_"

	WatchdogReasonPending = "watchdog_timeout_pending"
	WatchdogReasonRevise  = "watchdog_timeout_revise"
)

// Watchdog is the independent task that unsticks discussions the tickers
// stopped moving: stalled discussions are force-closed, and individual
// items that overstayed PENDING or REVISE_REQUIRED are rejected. It
// takes the same per-discussion mutex as the tickers, so sweeps never
// interleave with a round step.
type Watchdog struct {
	repos   *storage.Repos
	machine *StateMachine
	locks   *KeyedMutex
	logger  *logging.StandardLogger
	metrics *Metrics
	cfg     config.EngineConfig
	now     func() time.Time

	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
}

func NewWatchdog(repos *storage.Repos, machine *StateMachine, locks *KeyedMutex,
	logger *logging.StandardLogger, metrics *Metrics, cfg config.EngineConfig) *Watchdog {

	return &Watchdog{
		repos:   repos,
		machine: machine,
		locks:   locks,
		logger:  logger.WithComponent("watchdog"),
		metrics: metrics,
		cfg:     cfg,
		now:     func() time.Time { return time.Now().UTC() },
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

func (w *Watchdog) Start(ctx context.Context) {
	go w.run(ctx)
}

func (w *Watchdog) run(ctx context.Context) {
	defer close(w.doneCh)
	ticker := time.NewTicker(w.cfg.WatchdogPeriod)
	defer ticker.Stop()

	w.logger.Info("watchdog started",
		zap.Duration("period", w.cfg.WatchdogPeriod),
		zap.Duration("stall_timeout", w.cfg.StallTimeout))
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			if err := w.Sweep(ctx); err != nil {
				w.logger.WithError(err).Warn("watchdog sweep failed")
			}
		}
	}
}

func (w *Watchdog) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	<-w.doneCh
}

// Sweep inspects every open discussion once. Exported so tests and the
// orchestrator can run a sweep without the timer.
func (w *Watchdog) Sweep(ctx context.Context) error {
	open, err := w.repos.Discussions.List(ctx, storage.DiscussionFilter{Status: models.DiscussionInProgress})
	if err != nil {
		return err
	}
	now := w.now()
	for i := range open {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		w.inspect(ctx, &open[i], now)
	}
	return nil
}

func (w *Watchdog) inspect(ctx context.Context, stale *models.Discussion, now time.Time) {
	unlock := w.locks.Lock(stale.ID)
	defer unlock()

	// Re-read under the lock; the ticker may have moved or closed it
	// since the sweep listed it.
	d, err := w.repos.Discussions.Get(ctx, stale.ID)
	if err != nil || !d.Open() {
		return
	}

	// A discussion can outlive its sector when the delete cascade's
	// force-close failed. Repair the orphan before the stall check so it
	// never closes under a stall reason.
	if _, err := w.repos.Sectors.Get(ctx, d.SectorID); apperrors.KindOf(err) == apperrors.KindNotFound {
		if err := w.machine.ForceClose(ctx, d.ID, CloseReasonSectorDeleted); err != nil {
			w.logger.WithError(err).Warn("orphan close failed",
				zap.String("discussion_id", d.ID))
			return
		}
		w.metrics.IncWatchdogForcedClose()
		w.logger.Warn("orphaned discussion closed",
			zap.String("discussion_id", d.ID),
			zap.String("sector_id", d.SectorID),
			zap.String("close_reason", CloseReasonSectorDeleted))
		return
	}

	if now.Sub(d.LastChecklistItemAt) > w.cfg.StallTimeout {
		reason := WatchdogStallPrefix + string(d.Phase)
		if err := w.machine.ForceClose(ctx, d.ID, reason); err != nil {
			w.logger.WithError(err).Warn("force close failed",
				zap.String("discussion_id", d.ID))
			return
		}
		w.metrics.IncWatchdogForcedClose()
		w.logger.Warn("discussion force closed",
			zap.String("discussion_id", d.ID),
			zap.String("sector_id", d.SectorID),
			zap.String("close_reason", reason),
			zap.Duration("stalled_for", now.Sub(d.LastChecklistItemAt)))
		return
	}

	timedOut, err := w.machine.TimeoutItems(ctx, d.ID,
		now.Add(-w.cfg.ItemPendingTimeout), now.Add(-w.cfg.ItemReviseTimeout))
	if err != nil {
		w.logger.WithError(err).Warn("item timeout pass failed",
			zap.String("discussion_id", d.ID))
		return
	}
	if timedOut > 0 {
		for n := 0; n < timedOut; n++ {
			w.metrics.IncWatchdogItemTimeout()
		}
		w.logger.Warn("checklist items timed out",
			zap.String("discussion_id", d.ID),
			zap.Int("items", timedOut))
	}
}
