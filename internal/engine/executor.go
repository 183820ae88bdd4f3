package engine

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ayushsreejith06/MAX-sub002/internal/apperrors"
	"github.com/ayushsreejith06/MAX-sub002/internal/logging"
	"github.com/ayushsreejith06/MAX-sub002/internal/models"
	"github.com/ayushsreejith06/MAX-sub002/internal/storage"
)

// Executor drains approved checklist items FIFO, applies the portfolio
// operation and price update atomically on the sector record, and writes
// the audit trail. Failures reject the offending item and keep draining.
type Executor struct {
	repos   *storage.Repos
	sm      *StateMachine
	prices  *PriceModel
	logger  *logging.StandardLogger
	metrics *Metrics
	events  EventSink
	now     func() time.Time
}

func NewExecutor(repos *storage.Repos, sm *StateMachine, prices *PriceModel,
	logger *logging.StandardLogger, metrics *Metrics, events EventSink) *Executor {

	if events == nil {
		events = NopSink{}
	}
	return &Executor{
		repos:   repos,
		sm:      sm,
		prices:  prices,
		logger:  logger.WithComponent("executor"),
		metrics: metrics,
		events:  events,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Drain executes up to batch approved items of the discussion, oldest
// first. It returns the refreshed discussion and the number of items
// that executed successfully. A cancelled context stops between items;
// the in-flight item always completes.
func (e *Executor) Drain(ctx context.Context, d *models.Discussion, batch int) (*models.Discussion, int, error) {
	if batch < 1 {
		return d, 0, nil
	}

	var ids []string
	for _, item := range d.ItemsInStatus(models.ItemApproved) {
		ids = append(ids, item.ID)
		if len(ids) >= batch {
			break
		}
	}

	executed := 0
	for _, id := range ids {
		if ctx.Err() != nil {
			return d, executed, apperrors.Shutdown("execution drain interrupted")
		}
		item := d.ItemByID(id)
		if item == nil || item.Status != models.ItemApproved {
			continue
		}
		refreshed, ok, err := e.executeItem(ctx, d, *item)
		if err != nil {
			return d, executed, err
		}
		d = refreshed
		if ok {
			executed++
		}
	}
	return d, executed, nil
}

// executeItem runs one item end to end: re-validate and mutate the
// sector, append the execution log, apply rewards, then flip the item to
// EXECUTED. Validation failures reject the item post-hoc and report
// ok=false; only storage faults surface as errors.
func (e *Executor) executeItem(ctx context.Context, d *models.Discussion, item models.ChecklistItem) (*models.Discussion, bool, error) {
	now := e.now()
	var (
		priceBefore, priceAfter float64
		balanceAfter            decimal.Decimal
		positionAfter           decimal.Decimal
	)

	mutErr := e.repos.Sectors.UpdateOne(ctx, d.SectorID, func(s *models.Sector) error {
		if item.Action != models.ActionHold && !s.SymbolAllowed(item.Symbol) {
			return apperrors.Invariant("%s: %s not in sector %s allowed symbols",
				models.ReasonSymbolNotAllowed, item.Symbol, s.ID)
		}
		priceBefore = s.CurrentPrice
		if err := ApplyAction(s, &item); err != nil {
			return err
		}
		if s.Mode == models.ModeSimulation {
			next := e.prices.NewPrice(s.CurrentPrice, item.Action.PriceImpact(), s.TrendFactor, s.Volatility)
			s.CurrentPrice = next
			s.Change = next - s.InitialPrice
			if s.InitialPrice > 0 {
				s.ChangePercent = s.Change / s.InitialPrice * 100
			}
			s.LastPriceUpdate = now
		}
		priceAfter = s.CurrentPrice
		balanceAfter = s.Balance
		positionAfter = s.Position
		return nil
	})

	if mutErr != nil {
		switch apperrors.KindOf(mutErr) {
		case apperrors.KindValidation, apperrors.KindInvariantViolation, apperrors.KindNotFound:
			return e.failItem(ctx, d, item, mutErr)
		default:
			// Storage faults abort the drain; the item stays APPROVED
			// and the next tick retries it.
			return d, false, mutErr
		}
	}

	impact := 0.0
	if priceBefore > 0 {
		impact = (priceAfter - priceBefore) / priceBefore * 100
	}
	logEntry := models.ExecutionLog{
		ID:            uuid.NewString(),
		SectorID:      d.SectorID,
		DiscussionID:  d.ID,
		ItemID:        item.ID,
		AgentID:       item.AgentID,
		ManagerID:     d.ManagerID,
		Action:        item.Action,
		Symbol:        item.Symbol,
		Amount:        item.Amount,
		Impact:        impact,
		PriceBefore:   priceBefore,
		PriceAfter:    priceAfter,
		BalanceAfter:  balanceAfter,
		PositionAfter: positionAfter,
		Status:        models.ExecutionCompleted,
		Timestamp:     now,
	}
	if err := e.repos.Executions.Append(ctx, logEntry); err != nil {
		return d, false, err
	}

	if err := e.applyRewards(ctx, d, &item); err != nil {
		e.logger.WithError(err).Warn("apply rewards",
			zap.String("discussion_id", d.ID), zap.String("item_id", item.ID))
	}

	refreshed, err := e.sm.MarkExecuted(ctx, d.ID, item.ID)
	if err != nil {
		return d, false, err
	}

	e.metrics.IncItemExecuted()
	e.events.Publish(ctx, newEvent(EventItemExecuted, d.SectorID, logEntry))
	e.logger.Info("item executed",
		zap.String("discussion_id", d.ID),
		zap.String("item_id", item.ID),
		zap.String("action", string(item.Action)),
		zap.String("symbol", item.Symbol),
		zap.String("amount", item.Amount.String()),
		zap.Float64("impact_pct", impact))
	return refreshed, true, nil
}

// failItem rejects an item that failed execution-time validation and
// records the failure in the log ring.
func (e *Executor) failItem(ctx context.Context, d *models.Discussion, item models.ChecklistItem, cause error) (*models.Discussion, bool, error) {
	reason := executionFailureReason(cause)
	logEntry := models.ExecutionLog{
		ID:           uuid.NewString(),
		SectorID:     d.SectorID,
		DiscussionID: d.ID,
		ItemID:       item.ID,
		AgentID:      item.AgentID,
		ManagerID:    d.ManagerID,
		Action:       item.Action,
		Symbol:       item.Symbol,
		Amount:       item.Amount,
		Status:       models.ExecutionFailed,
		Reason:       reason,
		Timestamp:    e.now(),
	}
	if err := e.repos.Executions.Append(ctx, logEntry); err != nil {
		return d, false, err
	}

	refreshed, err := e.sm.MarkExecutionFailed(ctx, d.ID, item.ID, reason)
	if err != nil {
		return d, false, err
	}

	e.metrics.IncExecutionFailure()
	e.events.Publish(ctx, newEvent(EventExecutionFailed, d.SectorID, logEntry))
	e.logger.WithError(cause).Warn("item execution failed",
		zap.String("discussion_id", d.ID),
		zap.String("item_id", item.ID),
		zap.String("reason", reason))
	return refreshed, false, nil
}

// applyRewards credits the agents behind an executed item. Proposers of
// the matching action earn +2, same-symbol dissenters lose 1, and the
// manager earns +1. Rewards live on the agents collection; the write is
// deliberately separate from the execution log append.
func (e *Executor) applyRewards(ctx context.Context, d *models.Discussion, item *models.ChecklistItem) error {
	deltas := make(map[string]int)
	for _, m := range d.MessagesInRound(item.Round) {
		if m.Observation() {
			continue
		}
		symbol := m.Proposal.Symbol
		if symbol == "" {
			symbol = item.Symbol
		}
		if symbol != item.Symbol {
			continue
		}
		if m.Proposal.Action == item.Action {
			deltas[m.AgentID] += 1
		} else {
			deltas[m.AgentID] -= 1
		}
	}
	if item.AgentID != models.ConsensusSource {
		deltas[item.AgentID] = 2
	} else {
		// Consensus items promote every supporter to co-proposer.
		for id, delta := range deltas {
			if delta > 0 {
				deltas[id] = 2
			}
		}
	}
	deltas[d.ManagerID] += 1

	return e.repos.Agents.Update(ctx, func(agents []models.Agent) ([]models.Agent, error) {
		now := e.now()
		for i := range agents {
			delta, ok := deltas[agents[i].ID]
			if !ok {
				continue
			}
			agents[i].Rewards += delta
			agents[i].UpdatedAt = now
		}
		return agents, nil
	})
}

// executionFailureReason maps a portfolio or validation error to the
// short reason stored on the rejected item.
func executionFailureReason(err error) string {
	msg := err.Error()
	if i := strings.Index(msg, ": "); i >= 0 {
		msg = msg[i+2:]
	}
	for _, token := range []string{
		models.ReasonInsufficientBalance,
		"insufficient_position",
		models.ReasonSymbolNotAllowed,
		models.ReasonPolicyViolation,
		models.ReasonRiskLimitBreached,
	} {
		if strings.HasPrefix(msg, token) {
			return token
		}
	}
	return "execution_failed"
}
