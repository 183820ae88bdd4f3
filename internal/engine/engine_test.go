package engine

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/ayushsreejith06/MAX-sub002/internal/config"
	"github.com/ayushsreejith06/MAX-sub002/internal/logging"
	"github.com/ayushsreejith06/MAX-sub002/internal/models"
	"github.com/ayushsreejith06/MAX-sub002/internal/storage"
)

// Shared fixtures for the engine tests. Every test gets its own memory
// store; sector and agent builders mirror the shapes the API creates.

func testLogger() *logging.StandardLogger {
	return logging.NewStandardLogger("error", "test")
}

func testEngineConfig() config.EngineConfig {
	return config.EngineConfig{
		MaxSectors:          6,
		MaxAgentsPerSector:  12,
		MaxTotalAgents:      100,
		ConfidenceGate:      65,
		ApprovalThreshold:   65,
		MaxRounds:           2,
		MaxRevisions:        2,
		RevisionsEnabled:    true,
		TickPeriod:          10 * time.Millisecond,
		DrainBatch:          3,
		WatchdogPeriod:      10 * time.Millisecond,
		StallTimeout:        30 * time.Second,
		ItemPendingTimeout:  5 * time.Minute,
		ItemReviseTimeout:   10 * time.Minute,
		DiscussionCooldown:  time.Minute,
		ExecutionLogsRing:   100,
		DepositAdjustsPrice: true,
		PriceFloor:          0.0001,
		ManagerMemoryLimit:  5,
		ScoringWeights: config.ScoringWeights{
			WorkerConfidence: 0.30,
			ExpectedImpact:   0.25,
			RiskLevel:        0.25,
			Alignment:        0.20,
		},
	}
}

func newTestRepos(t *testing.T) *storage.Repos {
	t.Helper()
	return storage.NewRepos(storage.NewMemoryStore(), 100)
}

func newTestMachine(repos *storage.Repos, oracle ProposalOracle, cfg config.EngineConfig) *StateMachine {
	scorer := NewScorer(cfg.ScoringWeights, cfg.ApprovalThreshold, cfg.MaxRevisions, cfg.RevisionsEnabled)
	return NewStateMachine(repos, oracle, scorer, testLogger(), NewMetrics(), nil, cfg)
}

func testSector() models.Sector {
	now := time.Now().UTC()
	return models.Sector{
		ID:             "sector-1",
		Name:           "Tech",
		Symbol:         "TECH",
		Mode:           models.ModeSimulation,
		CurrentPrice:   100,
		InitialPrice:   100,
		Volatility:     0.01,
		RiskScore:      30,
		AllowedSymbols: []string{"TECH"},
		Balance:        decimal.NewFromInt(1000),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func seedSector(t *testing.T, repos *storage.Repos, s models.Sector) {
	t.Helper()
	require.NoError(t, repos.Sectors.Update(context.Background(),
		func(sectors []models.Sector) ([]models.Sector, error) {
			return append(sectors, s), nil
		}))
}

func seedAgents(t *testing.T, repos *storage.Repos, agents ...models.Agent) {
	t.Helper()
	require.NoError(t, repos.Agents.Update(context.Background(),
		func(existing []models.Agent) ([]models.Agent, error) {
			return append(existing, agents...), nil
		}))
}

func seedDiscussion(t *testing.T, repos *storage.Repos, d models.Discussion) {
	t.Helper()
	require.NoError(t, repos.Discussions.Update(context.Background(),
		func(discussions []models.Discussion) ([]models.Discussion, error) {
			return append(discussions, d), nil
		}))
}

func getDiscussion(t *testing.T, repos *storage.Repos, id string) *models.Discussion {
	t.Helper()
	d, err := repos.Discussions.Get(context.Background(), id)
	require.NoError(t, err)
	return d
}

func getSector(t *testing.T, repos *storage.Repos, id string) *models.Sector {
	t.Helper()
	s, err := repos.Sectors.Get(context.Background(), id)
	require.NoError(t, err)
	return s
}

func getAgent(t *testing.T, repos *storage.Repos, id string) *models.Agent {
	t.Helper()
	a, err := repos.Agents.Get(context.Background(), id)
	require.NoError(t, err)
	return a
}

func manager(id string) models.Agent {
	return models.Agent{
		ID:          id,
		SectorID:    "sector-1",
		Name:        "Tech manager",
		Role:        models.RoleManager,
		Personality: models.DefaultPersonality(models.RoleManager),
		Confidence:  70,
		Morale:      50,
		Status:      models.AgentIdle,
	}
}

func worker(id string, confidence float64) models.Agent {
	return models.Agent{
		ID:          id,
		SectorID:    "sector-1",
		Name:        id,
		Role:        models.RoleTrader,
		Personality: models.DefaultPersonality(models.RoleTrader),
		Confidence:  confidence,
		Morale:      50,
		Status:      models.AgentIdle,
	}
}

// scriptedOracle replays one fixed turn per agent and counts calls.
type scriptedOracle struct {
	turns map[string]Turn
	errs  map[string]error
	calls int
}

func (o *scriptedOracle) Propose(_ context.Context, agent *models.Agent, _ *models.Sector,
	_ []models.Message, _ *RevisionContext) (Turn, error) {

	o.calls++
	if err := o.errs[agent.ID]; err != nil {
		return Turn{}, err
	}
	if turn, ok := o.turns[agent.ID]; ok {
		return turn, nil
	}
	return Turn{Reasoning: "observing", Confidence: 0.5}, nil
}

func buyTurn(symbol string, amount int64, confidence float64) Turn {
	return Turn{
		Reasoning: "momentum looks strong",
		Proposal: &models.Proposal{
			Action:     models.ActionBuy,
			Symbol:     symbol,
			Amount:     decimal.NewFromInt(amount),
			Confidence: confidence,
		},
		Confidence: confidence / 100,
	}
}

func sellTurn(symbol string, amount int64, confidence float64) Turn {
	return Turn{
		Reasoning: "taking profits",
		Proposal: &models.Proposal{
			Action:     models.ActionSell,
			Symbol:     symbol,
			Amount:     decimal.NewFromInt(amount),
			Confidence: confidence,
		},
		Confidence: confidence / 100,
	}
}

// candlesRamp builds a close-to-close ramp so trend-sensitive code sees
// a deterministic signal.
func candlesRamp(prices ...float64) []models.Candle {
	now := time.Now().UTC()
	out := make([]models.Candle, len(prices))
	for i, p := range prices {
		open := p
		if i > 0 {
			open = prices[i-1]
		}
		out[i] = models.Candle{
			Open:      open,
			Close:     p,
			High:      p,
			Low:       open,
			Volume:    1000,
			Timestamp: now.Add(time.Duration(i-len(prices)) * time.Second),
		}
	}
	return out
}
