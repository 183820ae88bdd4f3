package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/ayushsreejith06/MAX-sub002/internal/apperrors"
	"github.com/ayushsreejith06/MAX-sub002/internal/market"
	"github.com/ayushsreejith06/MAX-sub002/internal/models"
)

// Turn is one oracle response for one agent in one round. Observation
// turns carry no proposal and never seed checklist items.
type Turn struct {
	Reasoning  string
	Proposal   *models.Proposal
	Confidence float64 // in [0, 1]
}

// RevisionContext carries the agent's rejected items so a revising
// oracle can see what to fix.
type RevisionContext struct {
	Items []models.ChecklistItem
}

// ProposalOracle produces deliberation turns. Implementations must
// return an observation turn with confidence = agent.Confidence/100 for
// agents below the gate.
type ProposalOracle interface {
	Propose(ctx context.Context, agent *models.Agent, sector *models.Sector,
		prior []models.Message, revision *RevisionContext) (Turn, error)
}

// FallbackOracle derives proposals deterministically from sector signals
// so the engine runs without a language model. RSI and trend decide the
// action; personality and confidence size the position.
type FallbackOracle struct {
	gate float64
}

var _ ProposalOracle = (*FallbackOracle)(nil)

func NewFallbackOracle(gate float64) *FallbackOracle {
	return &FallbackOracle{gate: gate}
}

func (o *FallbackOracle) Propose(_ context.Context, agent *models.Agent, sector *models.Sector,
	_ []models.Message, _ *RevisionContext) (Turn, error) {

	if agent.Confidence < o.gate {
		return Turn{
			Reasoning:  fmt.Sprintf("observing %s: confidence %.1f below gate", sector.Symbol, agent.Confidence),
			Confidence: clamp(agent.Confidence/100, 0, 1),
		}, nil
	}

	rsi := market.LastRsi(sector.Candles, 14)
	trendPct := market.TrendPercent(sector.Candles, 5)
	action := o.pickAction(agent, sector, rsi, trendPct)

	alloc := o.allocation(agent)
	confidence := clamp(agent.Confidence/100+signalBoost(action, rsi, trendPct), 0, 1)

	proposal := &models.Proposal{
		Action:     action,
		Symbol:     sector.Symbol,
		Confidence: confidence * 100,
	}
	switch action {
	case models.ActionBuy:
		proposal.Amount = sector.Balance.Mul(decimal.NewFromFloat(alloc / 100)).Round(2)
	case models.ActionSell:
		proposal.Amount = sector.Holding(sector.Symbol).Mul(decimal.NewFromFloat(alloc / 100)).Round(2)
	case models.ActionRebalance:
		proposal.Amount = sector.TotalValue().Mul(decimal.NewFromFloat(alloc / 100)).Round(2)
	}

	// A sized action that cannot be funded degrades to HOLD.
	if action != models.ActionHold && !proposal.Amount.IsPositive() {
		proposal.Action = models.ActionHold
		proposal.Amount = decimal.Zero
	}

	reasoning := fmt.Sprintf("%s %s: rsi=%.1f trend=%.2f%% risk_tolerance=%.2f",
		proposal.Action, sector.Symbol, rsi, trendPct, agent.Personality.RiskTolerance)

	return Turn{Reasoning: reasoning, Proposal: proposal, Confidence: confidence}, nil
}

func (o *FallbackOracle) pickAction(agent *models.Agent, sector *models.Sector, rsi, trendPct float64) models.Action {
	bullish := rsi < 35 || trendPct > 1
	bearish := rsi > 65 || trendPct < -1

	switch {
	case agent.Role == models.RoleRisk:
		// Risk officers never initiate buys.
		if bearish && sector.Holding(sector.Symbol).IsPositive() {
			return models.ActionSell
		}
		return models.ActionHold
	case bullish && agent.Personality.RiskTolerance >= 0.4:
		return models.ActionBuy
	case bearish && sector.Holding(sector.Symbol).IsPositive():
		return models.ActionSell
	case agent.Personality.DecisionStyle == models.StyleAggressive && trendPct >= 0:
		return models.ActionBuy
	case sector.Position.IsPositive() && agent.Role == models.RoleAdvisor:
		return models.ActionRebalance
	default:
		return models.ActionHold
	}
}

// allocation is the percent of funds the agent is willing to commit.
func (o *FallbackOracle) allocation(agent *models.Agent) float64 {
	base := 15.0
	switch agent.Personality.DecisionStyle {
	case models.StyleAggressive:
		base = 25
	case models.StyleConservative:
		base = 8
	}
	return base * (0.5 + agent.Confidence/200)
}

func signalBoost(action models.Action, rsi, trendPct float64) float64 {
	switch action {
	case models.ActionBuy:
		if rsi < 30 {
			return 0.1
		}
	case models.ActionSell:
		if rsi > 70 {
			return 0.1
		}
	case models.ActionHold:
		if trendPct > -0.5 && trendPct < 0.5 {
			return 0.05
		}
	}
	return 0
}

// RemoteOracle calls an external proposal service over HTTP. Calls are
// rate limited and carry the request timeout; failures surface as
// OracleFailure for the caller to degrade on.
type RemoteOracle struct {
	endpoint string
	gate     float64
	client   *http.Client
	limiter  *rate.Limiter
}

var _ ProposalOracle = (*RemoteOracle)(nil)

func NewRemoteOracle(endpoint string, gate float64, timeout time.Duration, perSecond float64, burst int) *RemoteOracle {
	if perSecond <= 0 {
		perSecond = 5
	}
	if burst < 1 {
		burst = 1
	}
	return &RemoteOracle{
		endpoint: endpoint,
		gate:     gate,
		client:   &http.Client{Timeout: timeout},
		limiter:  rate.NewLimiter(rate.Limit(perSecond), burst),
	}
}

type oracleRequest struct {
	Agent    oracleAgent            `json:"agent"`
	Sector   oracleSector           `json:"sector"`
	Prior    []models.Message       `json:"priorMessages,omitempty"`
	Revision []models.ChecklistItem `json:"rejectedItems,omitempty"`
}

type oracleAgent struct {
	ID          string             `json:"id"`
	Name        string             `json:"name"`
	Role        models.AgentRole   `json:"role"`
	Confidence  float64            `json:"confidence"`
	Personality models.Personality `json:"personality"`
}

type oracleSector struct {
	ID             string   `json:"id"`
	Symbol         string   `json:"symbol"`
	CurrentPrice   float64  `json:"currentPrice"`
	ChangePercent  float64  `json:"changePercent"`
	Volatility     float64  `json:"volatility"`
	TrendFactor    float64  `json:"trendFactor"`
	Balance        string   `json:"balance"`
	AllowedSymbols []string `json:"allowedSymbols"`
}

type oracleResponse struct {
	Reasoning  string  `json:"reasoning"`
	Action     string  `json:"action,omitempty"`
	Symbol     string  `json:"symbol,omitempty"`
	Amount     string  `json:"amount,omitempty"`
	Confidence float64 `json:"confidence"`
}

func (o *RemoteOracle) Propose(ctx context.Context, agent *models.Agent, sector *models.Sector,
	prior []models.Message, revision *RevisionContext) (Turn, error) {

	if err := o.limiter.Wait(ctx); err != nil {
		return Turn{}, apperrors.OracleFailure("oracle rate limiter", err)
	}

	reqBody := oracleRequest{
		Agent: oracleAgent{
			ID:          agent.ID,
			Name:        agent.Name,
			Role:        agent.Role,
			Confidence:  agent.Confidence,
			Personality: agent.Personality,
		},
		Sector: oracleSector{
			ID:             sector.ID,
			Symbol:         sector.Symbol,
			CurrentPrice:   sector.CurrentPrice,
			ChangePercent:  sector.ChangePercent,
			Volatility:     sector.Volatility,
			TrendFactor:    sector.TrendFactor,
			Balance:        sector.Balance.String(),
			AllowedSymbols: sector.AllowedSymbols,
		},
		Prior: prior,
	}
	if revision != nil {
		reqBody.Revision = revision.Items
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return Turn{}, apperrors.OracleFailure("encode oracle request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.endpoint, bytes.NewReader(payload))
	if err != nil {
		return Turn{}, apperrors.OracleFailure("build oracle request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return Turn{}, apperrors.OracleFailure("oracle request", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Turn{}, apperrors.OracleFailure("read oracle response", err)
	}
	if resp.StatusCode != http.StatusOK {
		return Turn{}, apperrors.OracleFailure(
			fmt.Sprintf("oracle status %d: %s", resp.StatusCode, truncate(string(body), 200)), nil)
	}

	var out oracleResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return Turn{}, apperrors.OracleFailure("decode oracle response", err)
	}

	turn := Turn{
		Reasoning:  out.Reasoning,
		Confidence: clamp(out.Confidence, 0, 1),
	}

	// Below-gate agents observe regardless of what the service returned.
	if agent.Confidence < o.gate || out.Action == "" {
		if agent.Confidence < o.gate {
			turn.Confidence = clamp(agent.Confidence/100, 0, 1)
		}
		return turn, nil
	}

	action, ok := models.ParseAction(out.Action)
	if !ok {
		return Turn{}, apperrors.OracleFailure(fmt.Sprintf("oracle returned unknown action %q", out.Action), nil)
	}
	amount, err := decimal.NewFromString(out.Amount)
	if err != nil && action != models.ActionHold {
		return Turn{}, apperrors.OracleFailure(fmt.Sprintf("oracle returned bad amount %q", out.Amount), err)
	}
	turn.Proposal = &models.Proposal{
		Action:     action,
		Symbol:     out.Symbol,
		Amount:     amount,
		Confidence: turn.Confidence * 100,
	}
	return turn, nil
}

// DegradingOracle tries the primary oracle and falls back to the
// deterministic one on OracleFailure. The fallback's failure, if any,
// is returned as-is.
type DegradingOracle struct {
	Primary   ProposalOracle
	Fallback  ProposalOracle
	OnDegrade func(err error)
}

var _ ProposalOracle = (*DegradingOracle)(nil)

func (o *DegradingOracle) Propose(ctx context.Context, agent *models.Agent, sector *models.Sector,
	prior []models.Message, revision *RevisionContext) (Turn, error) {

	turn, err := o.Primary.Propose(ctx, agent, sector, prior, revision)
	if err == nil {
		return turn, nil
	}
	if ctx.Err() != nil {
		// Cancellation is not a degradable failure.
		return Turn{}, apperrors.Shutdown("oracle call cancelled")
	}
	if o.OnDegrade != nil {
		o.OnDegrade(err)
	}
	return o.Fallback.Propose(ctx, agent, sector, prior, revision)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
