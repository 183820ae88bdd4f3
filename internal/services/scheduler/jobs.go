package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"

	"github.com/ayushsreejith06/MAX-sub002/internal/models"
	"github.com/ayushsreejith06/MAX-sub002/internal/storage"
)

// CompactionJob prunes the execution-log ring: entries older than the
// retention window go, and the ring cap is re-enforced in case it was
// lowered since the logs were written.
type CompactionJob struct {
	repos     *storage.Repos
	retention time.Duration
	logger    *zap.Logger
}

func NewCompactionJob(repos *storage.Repos, retention time.Duration, logger *zap.Logger) *CompactionJob {
	return &CompactionJob{repos: repos, retention: retention, logger: logger}
}

func (j *CompactionJob) Name() string { return "execution-log-compaction" }

func (j *CompactionJob) Run(ctx context.Context) error {
	var cutoff time.Time
	if j.retention > 0 {
		cutoff = time.Now().UTC().Add(-j.retention)
	}
	removed, err := j.repos.Executions.Compact(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("compact execution logs: %w", err)
	}
	if removed > 0 {
		j.logger.Info("execution logs compacted", zap.Int("removed", removed))
	}
	return nil
}

// CooldownSweepJob clears expired cooldown stamps from sector records.
// Reads already treat a past CooldownUntil as inactive; the sweep keeps
// persisted state from showing stale cooldowns.
type CooldownSweepJob struct {
	repos  *storage.Repos
	logger *zap.Logger
}

func NewCooldownSweepJob(repos *storage.Repos, logger *zap.Logger) *CooldownSweepJob {
	return &CooldownSweepJob{repos: repos, logger: logger}
}

func (j *CooldownSweepJob) Name() string { return "cooldown-sweep" }

func (j *CooldownSweepJob) Run(ctx context.Context) error {
	now := time.Now().UTC()

	sectors, err := j.repos.Sectors.List(ctx)
	if err != nil {
		return fmt.Errorf("list sectors: %w", err)
	}
	due := 0
	for i := range sectors {
		if expiredCooldown(&sectors[i], now) {
			due++
		}
	}
	if due == 0 {
		return nil
	}

	cleared := 0
	err = j.repos.Sectors.Update(ctx, func(sectors []models.Sector) ([]models.Sector, error) {
		cleared = 0
		for i := range sectors {
			if expiredCooldown(&sectors[i], now) {
				sectors[i].CooldownUntil = time.Time{}
				cleared++
			}
		}
		return sectors, nil
	})
	if err != nil {
		return fmt.Errorf("clear cooldowns: %w", err)
	}
	if cleared > 0 {
		j.logger.Debug("expired cooldowns cleared", zap.Int("sectors", cleared))
	}
	return nil
}

func expiredCooldown(s *models.Sector, now time.Time) bool {
	return !s.CooldownUntil.IsZero() && !now.Before(s.CooldownUntil)
}

// RollupJob recomputes each sector's performance aggregates from the
// retained execution logs. Recomputing from scratch keeps the rollup
// idempotent across restarts and overlapping runs.
type RollupJob struct {
	repos  *storage.Repos
	logger *zap.Logger
}

func NewRollupJob(repos *storage.Repos, logger *zap.Logger) *RollupJob {
	return &RollupJob{repos: repos, logger: logger}
}

func (j *RollupJob) Name() string { return "performance-rollup" }

func (j *RollupJob) Run(ctx context.Context) error {
	sectors, err := j.repos.Sectors.List(ctx)
	if err != nil {
		return fmt.Errorf("list sectors: %w", err)
	}
	now := time.Now().UTC()
	for _, sector := range sectors {
		logs, err := j.repos.Executions.List(ctx, sector.ID, 0)
		if err != nil {
			return fmt.Errorf("list executions for %s: %w", sector.ID, err)
		}
		perf := rollupPerformance(sector.CurrentPrice, logs, now)
		err = j.repos.Sectors.UpdateOne(ctx, sector.ID, func(s *models.Sector) error {
			s.Performance = perf
			return nil
		})
		if err != nil {
			return fmt.Errorf("store rollup for %s: %w", sector.ID, err)
		}
		j.logger.Debug("performance rolled up",
			zap.String("sector_id", sector.ID),
			zap.Int("trades", perf.TradeCount),
			zap.Float64("win_rate", perf.WinRate))
	}
	return nil
}

// rollupPerformance aggregates executed buys and sells, marking each to
// the sector's current price to decide wins.
func rollupPerformance(mark float64, logs []models.ExecutionLog, now time.Time) models.SectorPerformance {
	perf := models.SectorPerformance{
		TotalVolume: decimal.Zero,
		LastRollup:  now,
	}
	var amounts []float64
	for _, l := range logs {
		if l.Status != models.ExecutionCompleted {
			continue
		}
		if l.Action != models.ActionBuy && l.Action != models.ActionSell {
			continue
		}
		perf.TradeCount++
		perf.TotalVolume = perf.TotalVolume.Add(l.Amount)
		amounts = append(amounts, l.Amount.InexactFloat64())
		if tradeWon(l, mark) {
			perf.WinCount++
		}
	}
	if perf.TradeCount > 0 {
		perf.WinRate = float64(perf.WinCount) / float64(perf.TradeCount)
	}
	if len(amounts) > 0 {
		perf.MeanTrade = stat.Mean(amounts, nil)
	}
	if len(amounts) > 1 {
		perf.TradeStdDev = stat.StdDev(amounts, nil)
	}
	return perf
}

// tradeWon marks a trade to the current price: a buy below the mark or a
// sell above it won.
func tradeWon(l models.ExecutionLog, mark float64) bool {
	if mark <= 0 || l.PriceAfter <= 0 {
		return false
	}
	switch l.Action {
	case models.ActionBuy:
		return mark > l.PriceAfter
	case models.ActionSell:
		return mark < l.PriceAfter
	}
	return false
}
