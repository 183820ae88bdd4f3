package engine

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ayushsreejith06/MAX-sub002/internal/models"
)

// Synthesizer collapses a discussion's final round into executable
// checklist items. Proposals for the same action and symbol consolidate:
// amounts sum, confidences average, and the source becomes "consensus"
// when more than one agent contributed.
type Synthesizer struct {
	now func() time.Time
}

func NewSynthesizer() *Synthesizer {
	return &Synthesizer{now: func() time.Time { return time.Now().UTC() }}
}

type proposalGroup struct {
	action     models.Action
	symbol     string
	amount     decimal.Decimal
	confidence float64
	agentIDs   []string
	reasonings []string
	order      int
}

// Synthesize builds the initial checklist from the final round. Items
// violating the symbol whitelist are dropped; BUY amounts are capped so
// the whole set stays fundable from the available balance. HOLD items
// carry zero amount; any other zero-amount item is dropped.
func (s *Synthesizer) Synthesize(d *models.Discussion, sector *models.Sector, finalRound int) []models.ChecklistItem {
	groups := make(map[string]*proposalGroup)
	for _, msg := range d.MessagesInRound(finalRound) {
		if msg.Observation() {
			continue
		}
		p := msg.Proposal
		symbol := p.Symbol
		if symbol == "" {
			symbol = sector.Symbol
		}
		if !sector.SymbolAllowed(symbol) {
			continue
		}

		key := string(p.Action) + "|" + symbol
		g, ok := groups[key]
		if !ok {
			g = &proposalGroup{action: p.Action, symbol: symbol, order: len(groups)}
			groups[key] = g
		}
		g.amount = g.amount.Add(p.Amount)
		g.confidence += p.Confidence
		g.agentIDs = append(g.agentIDs, msg.AgentID)
		if msg.Reasoning != "" {
			g.reasonings = append(g.reasonings, msg.Reasoning)
		}
	}

	ordered := make([]*proposalGroup, 0, len(groups))
	for _, g := range groups {
		ordered = append(ordered, g)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].order < ordered[j].order })

	now := s.now()
	available := sector.Balance
	total := sector.TotalValue()

	items := make([]models.ChecklistItem, 0, len(ordered))
	for _, g := range ordered {
		amount := g.amount
		if g.action == models.ActionHold {
			amount = decimal.Zero
		}
		if g.action == models.ActionBuy {
			if amount.GreaterThan(available) {
				amount = available
			}
			available = available.Sub(amount)
		}
		if g.action != models.ActionHold && !amount.IsPositive() {
			continue
		}

		source := models.ConsensusSource
		if len(uniqueIDs(g.agentIDs)) == 1 {
			source = g.agentIDs[0]
		}

		reasoning := strings.Join(g.reasonings, "; ")
		if reasoning == "" {
			reasoning = fmt.Sprintf("%s %s per round %d consensus", g.action, g.symbol, finalRound)
		}
		reasoning += s.earlierInsights(d, g.agentIDs, finalRound)

		items = append(items, models.ChecklistItem{
			ID:                uuid.NewString(),
			AgentID:           source,
			Round:             finalRound,
			Action:            g.action,
			Symbol:            g.symbol,
			Amount:            amount,
			AllocationPercent: allocationPercent(amount, total),
			Confidence:        clamp(g.confidence/float64(len(g.agentIDs)), 0, 100),
			Reasoning:         reasoning,
			Status:            models.ItemPending,
			CreatedAt:         now,
			UpdatedAt:         now,
		})
	}
	return items
}

// earlierInsights appends contributing agents' earlier-round reasoning
// under a visible marker so the manager sees the full deliberation.
func (s *Synthesizer) earlierInsights(d *models.Discussion, agentIDs []string, finalRound int) string {
	contributors := make(map[string]bool, len(agentIDs))
	for _, id := range agentIDs {
		contributors[id] = true
	}

	var b strings.Builder
	for _, msg := range d.Messages {
		if msg.Round >= finalRound || !contributors[msg.AgentID] || msg.Reasoning == "" {
			continue
		}
		fmt.Fprintf(&b, " [round %d] %s", msg.Round, msg.Reasoning)
	}
	return b.String()
}

func allocationPercent(amount, total decimal.Decimal) float64 {
	if !total.IsPositive() {
		return 0
	}
	pct, _ := amount.Div(total).Mul(decimal.NewFromInt(100)).Float64()
	return clamp(pct, 0, 100)
}

func uniqueIDs(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := ids[:0:0]
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}
