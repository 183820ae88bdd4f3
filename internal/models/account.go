package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Account is the single user-level cash ledger. Sector deposits debit it,
// withdrawals and sector deletion credit it.
type Account struct {
	Balance   decimal.Decimal `json:"balance"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// RuleOp is a comparison operator in a confidence rule.
type RuleOp string

const (
	RuleOpGT RuleOp = "gt"
	RuleOpGE RuleOp = "ge"
	RuleOpLT RuleOp = "lt"
	RuleOpLE RuleOp = "le"
)

func (op RuleOp) Valid() bool {
	switch op {
	case RuleOpGT, RuleOpGE, RuleOpLT, RuleOpLE:
		return true
	}
	return false
}

// Sector fields a rule may reference.
const (
	RuleFieldChangePercent = "changePercent"
	RuleFieldVolatility    = "volatility"
	RuleFieldVolume        = "volume"
	RuleFieldRiskScore     = "riskScore"
	RuleFieldPrice         = "currentPrice"
	RuleFieldTrendFactor   = "trendFactor"
)

// Rule is one custom confidence adjustment: when `Field Op Value` holds
// for the sector's market snapshot, Delta is added to the raw confidence
// score before smoothing. Rules live in the simulationRules collection
// and can be seeded from a YAML file.
type Rule struct {
	ID      string  `json:"id" yaml:"id"`
	Field   string  `json:"field" yaml:"field"`
	Op      RuleOp  `json:"op" yaml:"op"`
	Value   float64 `json:"value" yaml:"value"`
	Delta   float64 `json:"delta" yaml:"delta"`
	Enabled bool    `json:"enabled" yaml:"enabled"`
}

// Matches evaluates the rule against a snapshot field value.
func (r Rule) Matches(fieldValue float64) bool {
	if !r.Enabled {
		return false
	}
	switch r.Op {
	case RuleOpGT:
		return fieldValue > r.Value
	case RuleOpGE:
		return fieldValue >= r.Value
	case RuleOpLT:
		return fieldValue < r.Value
	case RuleOpLE:
		return fieldValue <= r.Value
	default:
		return false
	}
}
