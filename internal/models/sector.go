// Package models holds the persisted domain entities and their enum
// vocabulary. All JSON field names are the wire and storage names; the
// storage layer round-trips these structs verbatim.
package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Action is a portfolio action proposed by an agent and executed against
// sector state.
type Action string

const (
	ActionBuy       Action = "BUY"
	ActionSell      Action = "SELL"
	ActionHold      Action = "HOLD"
	ActionRebalance Action = "REBALANCE"
)

// PriceImpact returns the immediate relative price move applied when the
// action is executed.
func (a Action) PriceImpact() float64 {
	switch a {
	case ActionBuy:
		return 0.002
	case ActionSell:
		return -0.002
	case ActionHold:
		return 0.0001
	case ActionRebalance:
		return 0.0005
	default:
		return 0
	}
}

func (a Action) Valid() bool {
	switch a {
	case ActionBuy, ActionSell, ActionHold, ActionRebalance:
		return true
	}
	return false
}

// ParseAction normalizes user input into an Action.
func ParseAction(s string) (Action, bool) {
	a := Action(s)
	if a.Valid() {
		return a, true
	}
	return "", false
}

// SectorMode selects whether executed actions move the synthetic price.
// In realtime mode portfolio deltas still apply but the price tracks the
// market feed instead of the impact model.
type SectorMode string

const (
	ModeSimulation SectorMode = "simulation"
	ModeRealtime   SectorMode = "realtime"
)

func (m SectorMode) Valid() bool {
	return m == ModeSimulation || m == ModeRealtime
}

// ParseMode normalizes user input into a SectorMode.
func ParseMode(s string) (SectorMode, bool) {
	m := SectorMode(s)
	if m.Valid() {
		return m, true
	}
	return "", false
}

// Candle is one aggregated price bar kept on the sector record so that
// confidence math stays deterministic given (agent, sector).
type Candle struct {
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
	Timestamp time.Time `json:"timestamp"`
}

// ChangePercent is the close-over-open move of the bar, in percent.
func (c Candle) ChangePercent() float64 {
	if c.Open == 0 {
		return 0
	}
	return (c.Close - c.Open) / c.Open * 100
}

// SectorPerformance aggregates execution outcomes for rollup reporting.
type SectorPerformance struct {
	TradeCount  int             `json:"tradeCount"`
	WinCount    int             `json:"winCount"`
	WinRate     float64         `json:"winRate"`
	TotalVolume decimal.Decimal `json:"totalVolume"`
	MeanTrade   float64         `json:"meanTrade"`
	TradeStdDev float64         `json:"tradeStdDev"`
	LastRollup  time.Time       `json:"lastRollup"`
}

// MemoryEntry is one note in the sector manager's bounded memory. Content
// is ciphertext when Encrypted is set.
type MemoryEntry struct {
	Content   string    `json:"content"`
	Encrypted bool      `json:"encrypted"`
	Timestamp time.Time `json:"timestamp"`
}

// Sector is an isolated market domain: one synthetic price process, one
// portfolio, one agent roster, at most one open discussion. Position is
// the invested notional at cost; Holdings breaks it down per symbol.
type Sector struct {
	ID              string                     `json:"id"`
	Name            string                     `json:"name"`
	Symbol          string                     `json:"symbol"`
	Mode            SectorMode                 `json:"mode"`
	CurrentPrice    float64                    `json:"currentPrice"`
	InitialPrice    float64                    `json:"initialPrice"`
	Change          float64                    `json:"change"`
	ChangePercent   float64                    `json:"changePercent"`
	Volume          float64                    `json:"volume"`
	TrendFactor     float64                    `json:"trendFactor"`
	Volatility      float64                    `json:"volatility"`
	RiskScore       int                        `json:"riskScore"`
	AllowedSymbols  []string                   `json:"allowedSymbols"`
	Balance         decimal.Decimal            `json:"balance"`
	Position        decimal.Decimal            `json:"position"`
	Holdings        map[string]decimal.Decimal `json:"holdings,omitempty"`
	RealizedPnL     decimal.Decimal            `json:"realizedPnL"`
	DiscussionIDs   []string                   `json:"discussionIds,omitempty"`
	CooldownUntil   time.Time                  `json:"cooldownUntil"`
	Candles         []Candle                   `json:"candles,omitempty"`
	Performance     SectorPerformance          `json:"performance"`
	ManagerMemory   []MemoryEntry              `json:"managerMemory,omitempty"`
	LastPriceUpdate time.Time                  `json:"lastPriceUpdate"`
	CreatedAt       time.Time                  `json:"createdAt"`
	UpdatedAt       time.Time                  `json:"updatedAt"`
}

// InCooldown reports whether the sector is still cooling down after a
// decided discussion.
func (s *Sector) InCooldown(now time.Time) bool {
	return now.Before(s.CooldownUntil)
}

// SymbolAllowed reports whether sym may appear on a checklist item for
// this sector. Comparison is exact; symbols are normalized on write.
func (s *Sector) SymbolAllowed(sym string) bool {
	for _, allowed := range s.AllowedSymbols {
		if allowed == sym {
			return true
		}
	}
	return false
}

// TotalValue is free balance plus invested notional at cost.
func (s *Sector) TotalValue() decimal.Decimal {
	return s.Balance.Add(s.Position)
}

// Holding returns the invested notional for sym, zero when absent.
func (s *Sector) Holding(sym string) decimal.Decimal {
	if s.Holdings == nil {
		return decimal.Zero
	}
	return s.Holdings[sym]
}

// SetHolding records the invested notional for sym, dropping zero entries
// so the holdings map stays sparse.
func (s *Sector) SetHolding(sym string, amount decimal.Decimal) {
	if amount.IsZero() {
		delete(s.Holdings, sym)
		return
	}
	if s.Holdings == nil {
		s.Holdings = make(map[string]decimal.Decimal)
	}
	s.Holdings[sym] = amount
}

// RecentCandleChange averages the percent change of the newest n candles.
// Sectors with no candle history report zero.
func (s *Sector) RecentCandleChange(n int) float64 {
	if n <= 0 || len(s.Candles) == 0 {
		return 0
	}
	start := len(s.Candles) - n
	if start < 0 {
		start = 0
	}
	window := s.Candles[start:]
	sum := 0.0
	for _, c := range window {
		sum += c.ChangePercent()
	}
	return sum / float64(len(window))
}

// AppendCandle pushes a bar onto the sector window, evicting the oldest
// once limit is exceeded.
func (s *Sector) AppendCandle(c Candle, limit int) {
	s.Candles = append(s.Candles, c)
	if limit > 0 && len(s.Candles) > limit {
		s.Candles = s.Candles[len(s.Candles)-limit:]
	}
}
