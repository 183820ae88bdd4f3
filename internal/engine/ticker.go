package engine

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ayushsreejith06/MAX-sub002/internal/apperrors"
	"github.com/ayushsreejith06/MAX-sub002/internal/logging"
	"github.com/ayushsreejith06/MAX-sub002/internal/models"
)

// SectorTicker is the cooperative per-sector control loop. Each firing
// runs one full tick (market refresh, confidence update, discussion
// progression, execution drain) through the orchestrator; within a
// sector all of that is serialized, across sectors loops run in
// parallel.
type SectorTicker struct {
	sectorID string
	period   time.Duration
	orch     *Orchestrator
	logger   *logging.StandardLogger

	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
}

func newSectorTicker(sectorID string, o *Orchestrator) *SectorTicker {
	return &SectorTicker{
		sectorID: sectorID,
		period:   o.cfg.Engine.TickPeriod,
		orch:     o,
		logger:   o.root.WithComponent("ticker").WithSector(sectorID),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

func (t *SectorTicker) Start(ctx context.Context) {
	go t.run(ctx)
}

func (t *SectorTicker) run(ctx context.Context) {
	defer close(t.doneCh)
	ticker := time.NewTicker(t.period)
	defer ticker.Stop()

	t.logger.Info("sector ticker started", zap.Duration("period", t.period))
	for {
		select {
		case <-ctx.Done():
			t.logger.Info("sector ticker stopped", zap.String("reason", "shutdown"))
			return
		case <-t.stopCh:
			t.logger.Info("sector ticker stopped", zap.String("reason", "stop"))
			return
		case <-ticker.C:
			if _, err := t.orch.tickSector(ctx, t.sectorID); err != nil {
				if apperrors.KindOf(err) == apperrors.KindNotFound {
					// Sector deleted out from under the loop; the delete
					// cascade drops the registry entry, this just exits.
					t.logger.Warn("sector gone, ticker exiting")
					return
				}
				t.orch.metrics.IncTickError()
				t.logger.WithError(err).Warn("tick failed")
			}
		}
	}
}

// Stop signals the loop and waits for any in-flight tick to finish, so
// execution drains complete before shutdown proceeds.
func (t *SectorTicker) Stop() {
	t.stopOnce.Do(func() { close(t.stopCh) })
	<-t.doneCh
}

// TickResult is what a single tick observed and did. The confidence-tick
// endpoint returns it directly.
type TickResult struct {
	Sector          *models.Sector     `json:"sector"`
	Agents          []models.Agent     `json:"agents"`
	DiscussionReady bool               `json:"discussionReady"`
	Discussion      *models.Discussion `json:"discussion,omitempty"`
	Executed        int                `json:"executed"`
}
