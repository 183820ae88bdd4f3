package engine

import (
	"fmt"
	"math"
	"time"

	"github.com/ayushsreejith06/MAX-sub002/internal/config"
	"github.com/ayushsreejith06/MAX-sub002/internal/market"
	"github.com/ayushsreejith06/MAX-sub002/internal/models"
)

// Soft rejection reasons the scorer emits. Revision halves the amount
// only for risk-driven rejections.
const (
	ReasonRiskTooHigh         = "risk_too_high"
	ReasonLowConfidence       = "low_confidence"
	ReasonWeakImpact          = "weak_impact"
	ReasonTrendMisaligned     = "trend_misaligned"
	ReasonScoreBelowThreshold = "score_below_threshold"
)

// The revise band extends this far below the approval threshold.
const reviseBand = 10

// Position size, in percent of total value, the impact rubric treats as
// ideal. Larger positions score down for slippage, smaller for futility.
const idealAllocation = 20.0

// Scorer is the manager's decision function over checklist items. The
// rubric is a weighted sum of worker confidence, expected impact,
// inverted risk, and trend alignment; the weights are configuration.
type Scorer struct {
	weights          config.ScoringWeights
	threshold        float64
	maxRevisions     int
	revisionsEnabled bool
	now              func() time.Time
}

func NewScorer(weights config.ScoringWeights, threshold float64, maxRevisions int, revisionsEnabled bool) *Scorer {
	return &Scorer{
		weights:          weights,
		threshold:        threshold,
		maxRevisions:     maxRevisions,
		revisionsEnabled: revisionsEnabled,
		now:              func() time.Time { return time.Now().UTC() },
	}
}

// Evaluate scores one item in its sector context and returns the
// manager's decision with the full rubric record.
func (s *Scorer) Evaluate(item *models.ChecklistItem, sector *models.Sector) (models.ItemStatus, models.ScoreRecord) {
	now := s.now()

	// Symbol violations are hard policy failures, not scoring outcomes.
	if item.Action != models.ActionHold && !sector.SymbolAllowed(item.Symbol) {
		return models.ItemRejected, models.ScoreRecord{
			ApprovalThreshold: s.threshold,
			Reason:            models.ReasonSymbolNotAllowed,
			Timestamp:         now,
		}
	}

	breakdown := s.breakdown(item, sector)
	score := s.weights.WorkerConfidence*breakdown.WorkerConfidence +
		s.weights.ExpectedImpact*breakdown.ExpectedImpact +
		s.weights.RiskLevel*(100-breakdown.RiskLevel) +
		s.weights.Alignment*breakdown.Alignment

	record := models.ScoreRecord{
		Score:             score,
		ApprovalThreshold: s.threshold,
		Breakdown:         breakdown,
		Timestamp:         now,
	}

	if score >= s.threshold {
		return models.ItemApproved, record
	}

	record.Reason = s.weakestComponent(breakdown)
	record.RequiredImprovements = improvements(record.Reason)

	if score >= s.threshold-reviseBand &&
		item.RevisionCount < s.maxRevisions &&
		s.revisionsEnabled {
		return models.ItemReviseRequired, record
	}
	return models.ItemRejected, record
}

func (s *Scorer) breakdown(item *models.ChecklistItem, sector *models.Sector) models.ScoreBreakdown {
	return models.ScoreBreakdown{
		WorkerConfidence: clamp(item.Confidence, 0, 100),
		ExpectedImpact:   expectedImpact(item),
		RiskLevel:        riskLevel(item, sector),
		Alignment:        alignment(item.Action, trendPercent(sector)),
	}
}

// expectedImpact rewards positions sized near the ideal allocation.
// HOLD moves nothing and scores a flat 30.
func expectedImpact(item *models.ChecklistItem) float64 {
	if item.Action == models.ActionHold {
		return 30
	}
	return clamp(100-2*math.Abs(item.AllocationPercent-idealAllocation), 0, 100)
}

// riskLevel combines the sector's standing risk with the exposure this
// item adds. Allocation dominates so that halving an oversized position
// visibly improves the score.
func riskLevel(item *models.ChecklistItem, sector *models.Sector) float64 {
	if item.Action == models.ActionHold {
		return clamp(0.2*float64(sector.RiskScore)+100*sector.Volatility, 0, 100)
	}
	return clamp(0.3*float64(sector.RiskScore)+250*sector.Volatility+0.9*item.AllocationPercent, 0, 100)
}

// trendPercent prefers the candle window; sectors without history fall
// back to the last tick's change.
func trendPercent(sector *models.Sector) float64 {
	if tp := market.TrendPercent(sector.Candles, 5); tp != 0 || len(sector.Candles) >= 5 {
		return tp
	}
	return sector.ChangePercent
}

// alignment scores how the action sits against the trend: BUY wants a
// rising trend, SELL a falling one, HOLD a flat one. Misaligned actions
// decay linearly with the trend's magnitude.
func alignment(action models.Action, tp float64) float64 {
	abs := math.Abs(tp)
	switch action {
	case models.ActionBuy:
		if tp > 0 {
			return clamp(90+2*tp, 0, 100)
		}
		return clamp(60-10*abs, 0, 100)
	case models.ActionSell:
		if tp < 0 {
			return clamp(90+2*abs, 0, 100)
		}
		return clamp(60-10*abs, 0, 100)
	case models.ActionHold:
		if abs < 0.5 {
			return 95
		}
		return clamp(80-10*abs, 0, 100)
	case models.ActionRebalance:
		return 70
	default:
		return 0
	}
}

// weakestComponent names the rubric term that dragged the score down.
func (s *Scorer) weakestComponent(b models.ScoreBreakdown) string {
	reason := ReasonScoreBelowThreshold
	lowest := math.Inf(1)
	for _, c := range []struct {
		value  float64
		reason string
	}{
		{b.WorkerConfidence, ReasonLowConfidence},
		{b.ExpectedImpact, ReasonWeakImpact},
		{100 - b.RiskLevel, ReasonRiskTooHigh},
		{b.Alignment, ReasonTrendMisaligned},
	} {
		if c.value < lowest {
			lowest = c.value
			reason = c.reason
		}
	}
	return reason
}

func improvements(reason string) []string {
	switch reason {
	case ReasonRiskTooHigh:
		return []string{"reduce position size", "wait for volatility to settle"}
	case ReasonLowConfidence:
		return []string{"gather stronger supporting signals"}
	case ReasonWeakImpact:
		return []string{fmt.Sprintf("size the position closer to %.0f%% of total value", idealAllocation)}
	case ReasonTrendMisaligned:
		return []string{"align the action with the prevailing trend"}
	default:
		return []string{"strengthen the overall case"}
	}
}
