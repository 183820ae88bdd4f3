package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// AgentRole determines an agent's base confidence and whether it can
// trigger or score discussions. Managers score; everyone else proposes.
type AgentRole string

const (
	RoleManager    AgentRole = "manager"
	RoleResearcher AgentRole = "researcher"
	RoleAnalyst    AgentRole = "analyst"
	RoleTrader     AgentRole = "trader"
	RoleExecution  AgentRole = "execution"
	RoleRisk       AgentRole = "risk"
	RoleAdvisor    AgentRole = "advisor"
	RoleGeneral    AgentRole = "general"
)

// BaseConfidence is the role's contribution to the raw confidence score.
func (r AgentRole) BaseConfidence() float64 {
	switch r {
	case RoleManager:
		return 20
	case RoleResearcher, RoleAnalyst:
		return 30
	case RoleTrader:
		return 15
	case RoleExecution:
		return 10
	case RoleRisk:
		return 5
	case RoleAdvisor:
		return 25
	case RoleGeneral:
		return 10
	default:
		return 0
	}
}

func (r AgentRole) Valid() bool {
	switch r {
	case RoleManager, RoleResearcher, RoleAnalyst, RoleTrader,
		RoleExecution, RoleRisk, RoleAdvisor, RoleGeneral:
		return true
	}
	return false
}

func (r AgentRole) IsManager() bool { return r == RoleManager }

// ParseRole normalizes user input into an AgentRole.
func ParseRole(s string) (AgentRole, bool) {
	r := AgentRole(s)
	if r.Valid() {
		return r, true
	}
	return "", false
}

// DecisionStyle shapes how an agent's personality nudges its confidence.
type DecisionStyle string

const (
	StyleAggressive   DecisionStyle = "aggressive"
	StyleBalanced     DecisionStyle = "balanced"
	StyleConservative DecisionStyle = "conservative"
)

func (d DecisionStyle) Valid() bool {
	switch d {
	case StyleAggressive, StyleBalanced, StyleConservative:
		return true
	}
	return false
}

// Personality is the fixed disposition assigned when the agent is
// created. RiskTolerance is in [0, 1] with 0.5 neutral.
type Personality struct {
	RiskTolerance float64       `json:"riskTolerance"`
	DecisionStyle DecisionStyle `json:"decisionStyle"`
}

// DefaultPersonality returns the disposition a role starts with.
func DefaultPersonality(role AgentRole) Personality {
	switch role {
	case RoleTrader:
		return Personality{RiskTolerance: 0.7, DecisionStyle: StyleAggressive}
	case RoleRisk:
		return Personality{RiskTolerance: 0.2, DecisionStyle: StyleConservative}
	case RoleResearcher, RoleAnalyst:
		return Personality{RiskTolerance: 0.5, DecisionStyle: StyleBalanced}
	case RoleAdvisor:
		return Personality{RiskTolerance: 0.4, DecisionStyle: StyleConservative}
	case RoleExecution:
		return Personality{RiskTolerance: 0.6, DecisionStyle: StyleBalanced}
	default:
		return Personality{RiskTolerance: 0.5, DecisionStyle: StyleBalanced}
	}
}

// AgentStatus marks whether the agent is currently deliberating.
type AgentStatus string

const (
	AgentIdle   AgentStatus = "idle"
	AgentActive AgentStatus = "active"
)

// AgentPerformance tracks realized outcomes attributed to the agent.
type AgentPerformance struct {
	PnL         decimal.Decimal `json:"pnl"`
	WinRate     float64         `json:"winRate"`
	TotalTrades int             `json:"totalTrades"`
}

// Agent is a member of a sector roster. Confidence is the smoothed signal
// in [-100, 100]; Rewards accumulate from decided discussions.
type Agent struct {
	ID          string           `json:"id"`
	SectorID    string           `json:"sectorId"`
	Name        string           `json:"name"`
	Role        AgentRole        `json:"role"`
	Personality Personality      `json:"personality"`
	Confidence  float64          `json:"confidence"`
	Morale      int              `json:"morale"`
	Performance AgentPerformance `json:"performance"`
	Status      AgentStatus      `json:"status"`
	Rewards     int              `json:"rewards"`
	CreatedAt   time.Time        `json:"createdAt"`
	UpdatedAt   time.Time        `json:"updatedAt"`
}
