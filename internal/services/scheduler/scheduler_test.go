package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ayushsreejith06/MAX-sub002/internal/models"
	"github.com/ayushsreejith06/MAX-sub002/internal/storage"
)

type stubJob struct {
	name string
	fn   func(ctx context.Context) error

	mu   sync.Mutex
	runs int
}

func (j *stubJob) Name() string { return j.name }

func (j *stubJob) Run(ctx context.Context) error {
	j.mu.Lock()
	j.runs++
	j.mu.Unlock()
	if j.fn != nil {
		return j.fn(ctx)
	}
	return nil
}

func (j *stubJob) count() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.runs
}

func TestSchedulerRunsJobOnSchedule(t *testing.T) {
	s := New(zap.NewNop())
	job := &stubJob{name: "tick"}

	require.NoError(t, s.Register("* * * * * *", job))
	s.Start()
	defer s.Stop()

	assert.Eventually(t, func() bool {
		return job.count() >= 1
	}, 2500*time.Millisecond, 50*time.Millisecond)

	stats := s.Stats()
	assert.Equal(t, []string{"tick"}, stats.Jobs)
	assert.GreaterOrEqual(t, stats.Runs, int64(1))
}

func TestSchedulerRejectsBadSchedule(t *testing.T) {
	s := New(zap.NewNop())

	err := s.Register("not a schedule", &stubJob{name: "broken"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken")

	assert.Error(t, s.Register("* * * * * *", nil))
}

func TestSchedulerRunNowCountsOutcomes(t *testing.T) {
	s := New(zap.NewNop())
	ctx := context.Background()

	ok := &stubJob{name: "ok"}
	require.NoError(t, s.RunNow(ctx, ok))
	assert.Equal(t, 1, ok.count())

	failing := &stubJob{name: "failing", fn: func(context.Context) error {
		return assert.AnError
	}}
	assert.Error(t, s.RunNow(ctx, failing))

	stats := s.Stats()
	assert.Equal(t, int64(1), stats.Runs)
	assert.Equal(t, int64(1), stats.Failures)
}

func TestSchedulerStopCancelsJobContext(t *testing.T) {
	s := New(zap.NewNop())

	var once sync.Once
	started := make(chan struct{})
	job := &stubJob{name: "blocking", fn: func(ctx context.Context) error {
		once.Do(func() { close(started) })
		<-ctx.Done()
		return ctx.Err()
	}}

	require.NoError(t, s.Register("* * * * * *", job))
	s.Start()

	select {
	case <-started:
	case <-time.After(3 * time.Second):
		t.Fatal("job never started")
	}

	stopped := make(chan struct{})
	go func() {
		s.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(3 * time.Second):
		t.Fatal("Stop did not release the blocked job")
	}
}

func TestCompactionJobPrunesOldLogs(t *testing.T) {
	repos := storage.NewRepos(storage.NewMemoryStore(), 100)
	ctx := context.Background()

	now := time.Now().UTC()
	require.NoError(t, repos.Executions.Append(ctx,
		models.ExecutionLog{ID: "stale", Timestamp: now.Add(-48 * time.Hour)},
		models.ExecutionLog{ID: "fresh", Timestamp: now},
	))

	job := NewCompactionJob(repos, 24*time.Hour, zap.NewNop())
	assert.Equal(t, "execution-log-compaction", job.Name())
	require.NoError(t, job.Run(ctx))

	logs, err := repos.Executions.List(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "fresh", logs[0].ID)

	// Zero retention disables the age check.
	keepAll := NewCompactionJob(repos, 0, zap.NewNop())
	require.NoError(t, keepAll.Run(ctx))
	logs, err = repos.Executions.List(ctx, "", 0)
	require.NoError(t, err)
	assert.Len(t, logs, 1)
}

func TestCooldownSweepClearsExpired(t *testing.T) {
	repos := storage.NewRepos(storage.NewMemoryStore(), 100)
	ctx := context.Background()

	now := time.Now().UTC()
	require.NoError(t, repos.Sectors.Update(ctx, func(s []models.Sector) ([]models.Sector, error) {
		return append(s,
			models.Sector{ID: "sec_tech", CooldownUntil: now.Add(-time.Minute)},
			models.Sector{ID: "sec_energy", CooldownUntil: now.Add(time.Hour)},
			models.Sector{ID: "sec_health"},
		), nil
	}))

	job := NewCooldownSweepJob(repos, zap.NewNop())
	assert.Equal(t, "cooldown-sweep", job.Name())
	require.NoError(t, job.Run(ctx))

	tech, err := repos.Sectors.Get(ctx, "sec_tech")
	require.NoError(t, err)
	assert.True(t, tech.CooldownUntil.IsZero())

	energy, err := repos.Sectors.Get(ctx, "sec_energy")
	require.NoError(t, err)
	assert.False(t, energy.CooldownUntil.IsZero())

	// Nothing due: a second sweep is a no-op.
	require.NoError(t, job.Run(ctx))
}

func TestRollupJobComputesPerformance(t *testing.T) {
	repos := storage.NewRepos(storage.NewMemoryStore(), 100)
	ctx := context.Background()

	require.NoError(t, repos.Sectors.Update(ctx, func(s []models.Sector) ([]models.Sector, error) {
		return append(s, models.Sector{ID: "sec_tech", CurrentPrice: 110}), nil
	}))

	now := time.Now().UTC()
	require.NoError(t, repos.Executions.Append(ctx,
		models.ExecutionLog{
			ID: "e1", SectorID: "sec_tech", Action: models.ActionBuy,
			Amount: decimal.NewFromInt(100), PriceAfter: 100,
			Status: models.ExecutionCompleted, Timestamp: now,
		},
		models.ExecutionLog{
			ID: "e2", SectorID: "sec_tech", Action: models.ActionSell,
			Amount: decimal.NewFromInt(50), PriceAfter: 120,
			Status: models.ExecutionCompleted, Timestamp: now,
		},
		models.ExecutionLog{
			ID: "e3", SectorID: "sec_tech", Action: models.ActionBuy,
			Amount: decimal.NewFromInt(200), PriceAfter: 115,
			Status: models.ExecutionCompleted, Timestamp: now,
		},
		models.ExecutionLog{
			ID: "e4", SectorID: "sec_tech", Action: models.ActionBuy,
			Amount: decimal.NewFromInt(75), PriceAfter: 100,
			Status: models.ExecutionFailed, Reason: "insufficient_balance", Timestamp: now,
		},
		models.ExecutionLog{
			ID: "e5", SectorID: "sec_tech", Action: models.ActionHold,
			Amount: decimal.Zero, Status: models.ExecutionCompleted, Timestamp: now,
		},
	))

	job := NewRollupJob(repos, zap.NewNop())
	assert.Equal(t, "performance-rollup", job.Name())
	require.NoError(t, job.Run(ctx))

	sector, err := repos.Sectors.Get(ctx, "sec_tech")
	require.NoError(t, err)
	perf := sector.Performance

	assert.Equal(t, 3, perf.TradeCount)
	assert.Equal(t, 2, perf.WinCount)
	assert.InDelta(t, 2.0/3.0, perf.WinRate, 1e-9)
	assert.True(t, perf.TotalVolume.Equal(decimal.NewFromInt(350)), "got %s", perf.TotalVolume)
	assert.InDelta(t, 116.667, perf.MeanTrade, 0.001)
	assert.InDelta(t, 76.376, perf.TradeStdDev, 0.001)
	assert.WithinDuration(t, time.Now(), perf.LastRollup, time.Minute)
}

func TestRollupJobEmptySector(t *testing.T) {
	repos := storage.NewRepos(storage.NewMemoryStore(), 100)
	ctx := context.Background()

	require.NoError(t, repos.Sectors.Update(ctx, func(s []models.Sector) ([]models.Sector, error) {
		return append(s, models.Sector{ID: "sec_quiet", CurrentPrice: 50}), nil
	}))

	job := NewRollupJob(repos, zap.NewNop())
	require.NoError(t, job.Run(ctx))

	sector, err := repos.Sectors.Get(ctx, "sec_quiet")
	require.NoError(t, err)
	assert.Zero(t, sector.Performance.TradeCount)
	assert.Zero(t, sector.Performance.WinRate)
	assert.False(t, sector.Performance.LastRollup.IsZero())
}

func TestTradeWon(t *testing.T) {
	buy := models.ExecutionLog{Action: models.ActionBuy, PriceAfter: 100}
	sell := models.ExecutionLog{Action: models.ActionSell, PriceAfter: 100}

	assert.True(t, tradeWon(buy, 110), "buy below the mark wins")
	assert.False(t, tradeWon(buy, 90))
	assert.True(t, tradeWon(sell, 90), "sell above the mark wins")
	assert.False(t, tradeWon(sell, 110))
	assert.False(t, tradeWon(buy, 0), "no mark, no win")
	assert.False(t, tradeWon(models.ExecutionLog{Action: models.ActionHold, PriceAfter: 100}, 110))
}
