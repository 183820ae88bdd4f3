package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type ExecutionStatus string

const (
	ExecutionCompleted ExecutionStatus = "executed"
	ExecutionFailed    ExecutionStatus = "failed"
)

// ExecutionLog is the audit record for one executed (or failed) checklist
// item. Impact is the realized price move as a percent of the previous
// price. The executionLogs collection is a ring capped by configuration;
// it is the source of truth for what actually ran.
type ExecutionLog struct {
	ID            string          `json:"id"`
	SectorID      string          `json:"sectorId"`
	DiscussionID  string          `json:"discussionId,omitempty"`
	ItemID        string          `json:"itemId,omitempty"`
	AgentID       string          `json:"agentId,omitempty"`
	ManagerID     string          `json:"managerId,omitempty"`
	Action        Action          `json:"action"`
	Symbol        string          `json:"symbol,omitempty"`
	Amount        decimal.Decimal `json:"amount"`
	Impact        float64         `json:"impact"`
	PriceBefore   float64         `json:"priceBefore"`
	PriceAfter    float64         `json:"priceAfter"`
	BalanceAfter  decimal.Decimal `json:"balanceAfter"`
	PositionAfter decimal.Decimal `json:"positionAfter"`
	Status        ExecutionStatus `json:"status"`
	Reason        string          `json:"reason,omitempty"`
	Timestamp     time.Time       `json:"timestamp"`
}
