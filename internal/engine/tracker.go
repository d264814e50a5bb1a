package engine

import (
	"context"

	"mt5-backtest/pkg/types"
)

// Tracker runs the per-tick maintenance pass. For every open position it
// refreshes the current price and running profit, triggers SL/TP closes
// (SL wins when both trigger on the same tick), then replaces the account's
// open-profit total and checks account health.
//
// Tracker is idempotent within one tick: the profit total is a replacement,
// not a delta, and a position closed by the first pass is gone for the second.
func (e *Engine) Tracker(ctx context.Context) (stop bool, reason string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.cursor.Time()
	var total float64

	for _, ticket := range e.positions.OpenTickets() {
		pos, ok := e.positions.Get(ticket)
		if !ok {
			continue
		}
		tick, err := e.store.PriceAt(pos.Symbol, now)
		if err != nil {
			e.logger.Error("tracker: no price", "ticket", ticket, "symbol", pos.Symbol, "error", err)
			continue
		}

		profit, err := e.OrderCalcProfit(ctx, pos.Type, pos.Symbol, pos.Volume, pos.PriceOpen, closePrice(pos.Type, tick))
		if err != nil {
			e.logger.Error("tracker: profit calc", "ticket", ticket, "error", err)
			continue
		}

		e.positions.Update(ticket, func(p *types.TradePosition) {
			p.PriceCurrent = closePrice(p.Type, tick)
			p.Profit = profit
			p.TimeUpdate = now
		})

		if dealReason, hit := stopHit(pos, tick); hit {
			e.closeLocked(ctx, ticket, dealReason)
			continue
		}
		total += profit
	}

	e.ledger.Update(&total, 0, 0)

	if burned, why := e.ledger.Check(); burned {
		e.logger.Warn("account burned out", "reason", why, "time", now)
		return true, why
	}
	return false, ""
}

// stopHit evaluates SL/TP trigger conditions against the tick. BUY positions
// trigger on bid, SELL positions on ask. SL wins a same-tick tie.
func stopHit(pos types.TradePosition, tick types.Tick) (types.DealReason, bool) {
	if pos.Type == types.OrderTypeBuy {
		if pos.SL > 0 && tick.Bid <= pos.SL {
			return types.DealReasonSL, true
		}
		if pos.TP > 0 && tick.Bid >= pos.TP {
			return types.DealReasonTP, true
		}
	} else {
		if pos.SL > 0 && tick.Ask >= pos.SL {
			return types.DealReasonSL, true
		}
		if pos.TP > 0 && tick.Ask <= pos.TP {
			return types.DealReasonTP, true
		}
	}
	return 0, false
}

// CloseAllOpen closes every remaining open position with the given reason.
// Returns the number of positions closed.
func (e *Engine) CloseAllOpen(ctx context.Context, reason types.DealReason) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closeAllLocked(ctx, reason)
}

func (e *Engine) closeAllLocked(ctx context.Context, reason types.DealReason) int {
	var closed int
	for _, ticket := range e.positions.OpenTickets() {
		if e.closeLocked(ctx, ticket, reason) {
			closed++
		}
	}
	if closed > 0 {
		var zero float64
		e.ledger.Update(&zero, 0, 0)
	}
	return closed
}

// WrapUp finalizes the session. When configured it closes remaining open
// positions; either way it logs the session result. The caller persists the
// final snapshot and report afterwards.
func (e *Engine) WrapUp(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closeOnExit {
		if n := e.closeAllLocked(ctx, types.DealReasonClient); n > 0 {
			e.logger.Info("open positions closed at wrap-up", "count", n)
		}
	}

	acc := e.ledger.Info()
	e.logger.Info("session wrapped up",
		"balance", acc.Balance,
		"equity", acc.Equity,
		"open_positions", e.positions.Total(),
		"deals", e.deals.Len())
}
