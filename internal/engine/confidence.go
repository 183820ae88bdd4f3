package engine

import (
	"math"
	"time"

	"github.com/ayushsreejith06/MAX-sub002/internal/models"
)

// Smoothing factor: new confidence keeps 70% of the previous value.
const confidenceSmoothing = 0.7

// High-volatility cutoff for the personality interaction term.
const highVolatility = 0.03

// ConfidenceEngine derives agent confidence from sector market signals,
// the agent's personality and track record, and operator-defined rules.
// The computation is deterministic given (agent, sector, rules).
type ConfidenceEngine struct {
	gate float64
}

func NewConfidenceEngine(gate float64) *ConfidenceEngine {
	return &ConfidenceEngine{gate: gate}
}

func (e *ConfidenceEngine) Gate() float64 { return e.gate }

// Compute returns the smoothed confidence for one agent: 70% previous
// value, 30% raw signal, clamped to [-100, 100].
func (e *ConfidenceEngine) Compute(agent *models.Agent, sector *models.Sector, rules []models.Rule) float64 {
	raw := e.raw(agent, sector, rules)
	next := agent.Confidence*confidenceSmoothing + raw*(1-confidenceSmoothing)
	return clamp(next, -100, 100)
}

func (e *ConfidenceEngine) raw(agent *models.Agent, sector *models.Sector, rules []models.Rule) float64 {
	score := agent.Role.BaseConfidence()
	score += marketInfluence(sector)
	score += performanceInfluence(agent.Performance)
	score += personalityInfluence(agent.Personality, sector.Volatility)
	score += (float64(agent.Morale) - 50) * 0.4
	score += rulesInfluence(sector, rules)
	return score
}

func marketInfluence(s *models.Sector) float64 {
	score := 2 * s.ChangePercent
	score += clamp(math.Log10(s.Volume+1)*2, 0, 10)
	score -= 500 * s.Volatility
	score += (50 - float64(s.RiskScore)) * 0.4
	score += 5 * s.RecentCandleChange(5)
	return score
}

func performanceInfluence(p models.AgentPerformance) float64 {
	score := (p.WinRate - 0.5) * 60
	score += clamp(p.PnL.InexactFloat64()/1000, -20, 20)
	score += math.Min(5, math.Log10(float64(p.TotalTrades)+1))
	return score
}

// personalityInfluence maps disposition onto a bounded nudge. Tolerance
// contributes linearly up to +/-10; style adds a fixed +/-5. Above the
// high-volatility cutoff, tolerant agents lean in (+5) while averse ones
// back off sharply (-10).
func personalityInfluence(p models.Personality, volatility float64) float64 {
	score := (p.RiskTolerance - 0.5) * 20
	switch p.DecisionStyle {
	case models.StyleAggressive:
		score += 5
	case models.StyleConservative:
		score -= 5
	}
	if volatility > highVolatility {
		if p.RiskTolerance >= 0.5 {
			score += 5
		} else {
			score -= 10
		}
	}
	return score
}

// rulesInfluence applies operator-defined deltas for each enabled rule
// whose field comparison matches the sector's current signals.
func rulesInfluence(s *models.Sector, rules []models.Rule) float64 {
	var total float64
	for _, rule := range rules {
		if rule.Matches(ruleFieldValue(s, rule.Field)) {
			total += rule.Delta
		}
	}
	return total
}

func ruleFieldValue(s *models.Sector, field string) float64 {
	switch field {
	case models.RuleFieldChangePercent:
		return s.ChangePercent
	case models.RuleFieldVolatility:
		return s.Volatility
	case models.RuleFieldVolume:
		return s.Volume
	case models.RuleFieldRiskScore:
		return float64(s.RiskScore)
	case models.RuleFieldPrice:
		return s.CurrentPrice
	case models.RuleFieldTrendFactor:
		return s.TrendFactor
	default:
		return math.NaN()
	}
}

// ManagerConfidence is the average confidence of the non-manager roster.
// The manager does not gate discussions; its confidence only reports.
func ManagerConfidence(agents []models.Agent) float64 {
	var sum float64
	var n int
	for _, a := range agents {
		if a.Role.IsManager() {
			continue
		}
		sum += a.Confidence
		n++
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// ReadyForDiscussion reports whether the sector can open a discussion
// now: at least one non-manager, every non-manager at or above the gate,
// no cooldown, positive balance, and validated symbols. The caller is
// responsible for the no-open-discussion check, which must happen under
// the storage write that creates the new discussion.
func (e *ConfidenceEngine) ReadyForDiscussion(sector *models.Sector, agents []models.Agent, now time.Time) bool {
	if sector.InCooldown(now) {
		return false
	}
	if !sector.Balance.IsPositive() {
		return false
	}
	if len(sector.AllowedSymbols) == 0 {
		return false
	}
	var workers int
	for _, a := range agents {
		if a.Role.IsManager() {
			continue
		}
		workers++
		if a.Confidence < e.gate {
			return false
		}
	}
	return workers > 0
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
