package engine

import (
	"github.com/shopspring/decimal"

	"github.com/ayushsreejith06/MAX-sub002/internal/apperrors"
	"github.com/ayushsreejith06/MAX-sub002/internal/models"
)

// Portfolio operations mutate sector balance, position, and per-symbol
// holdings in place. Every operation preserves balance >= 0 and
// position >= 0; callers persist the sector atomically afterwards.

// ApplyBuy moves amount from free balance into the symbol's holding.
func ApplyBuy(s *models.Sector, symbol string, amount decimal.Decimal) error {
	if amount.IsNegative() || amount.IsZero() {
		return apperrors.Validation("buy amount must be positive, got %s", amount)
	}
	if amount.GreaterThan(s.Balance) {
		return apperrors.Invariant("%s: buy %s exceeds balance %s",
			models.ReasonInsufficientBalance, amount, s.Balance)
	}
	s.Balance = s.Balance.Sub(amount)
	s.Position = s.Position.Add(amount)
	s.SetHolding(symbol, s.Holding(symbol).Add(amount))
	return nil
}

// ApplySell moves amount out of the symbol's holding back to balance.
func ApplySell(s *models.Sector, symbol string, amount decimal.Decimal) error {
	if amount.IsNegative() || amount.IsZero() {
		return apperrors.Validation("sell amount must be positive, got %s", amount)
	}
	held := s.Holding(symbol)
	if amount.GreaterThan(held) || amount.GreaterThan(s.Position) {
		return apperrors.Invariant("insufficient_position: sell %s exceeds holding %s",
			amount, held)
	}
	s.Position = s.Position.Sub(amount)
	s.Balance = s.Balance.Add(amount)
	s.SetHolding(symbol, held.Sub(amount))
	return nil
}

// ApplyHold is a no-op on portfolio state.
func ApplyHold(*models.Sector) error { return nil }

// ApplyRebalance moves the symbol's holding toward target, a fraction of
// total value in [0, 1]. Leftover stays in balance. Calling it twice with
// the same target is a no-op the second time.
func ApplyRebalance(s *models.Sector, symbol string, target float64) error {
	if target < 0 || target > 1 {
		return apperrors.Validation("rebalance target %v outside [0,1]", target)
	}
	total := s.TotalValue()
	desired := total.Mul(decimal.NewFromFloat(target)).Round(8)
	current := s.Holding(symbol)

	delta := desired.Sub(current)
	if delta.IsZero() {
		return nil
	}
	if delta.IsPositive() {
		// Fund the increase from balance, capped at what is free.
		if delta.GreaterThan(s.Balance) {
			delta = s.Balance
		}
		if delta.IsZero() {
			return nil
		}
		s.Balance = s.Balance.Sub(delta)
		s.Position = s.Position.Add(delta)
		s.SetHolding(symbol, current.Add(delta))
		return nil
	}

	release := delta.Neg()
	if release.GreaterThan(current) {
		release = current
	}
	s.Position = s.Position.Sub(release)
	s.Balance = s.Balance.Add(release)
	s.SetHolding(symbol, current.Sub(release))
	return nil
}

// ApplyAction dispatches to the portfolio operation for the item's
// action type.
func ApplyAction(s *models.Sector, item *models.ChecklistItem) error {
	switch item.Action {
	case models.ActionBuy:
		return ApplyBuy(s, item.Symbol, item.Amount)
	case models.ActionSell:
		return ApplySell(s, item.Symbol, item.Amount)
	case models.ActionHold:
		return ApplyHold(s)
	case models.ActionRebalance:
		return ApplyRebalance(s, item.Symbol, item.AllocationPercent/100)
	default:
		return apperrors.Validation("unknown action %q", item.Action)
	}
}
