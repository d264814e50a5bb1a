package engine

import (
	"context"

	"mt5-backtest/pkg/types"
)

// OrderCheck validates a trade request without side effects. The first
// failing check decides the retcode; when all pass the result carries the
// account projected after the hypothetical trade and RetcodeDone.
func (e *Engine) OrderCheck(ctx context.Context, req types.TradeRequest) types.OrderCheckResult {
	return e.orderCheck(ctx, req)
}

func (e *Engine) orderCheck(ctx context.Context, req types.TradeRequest) types.OrderCheckResult {
	result := types.OrderCheckResult{Request: req}
	acc := e.ledger.Info()
	result.Balance = acc.Balance
	result.Equity = acc.Equity
	result.Profit = acc.Profit
	result.Margin = acc.Margin
	result.MarginFree = acc.MarginFree
	result.MarginLevel = acc.MarginLevel

	if req.Action != types.TradeActionDeal {
		result.Retcode = types.RetcodeInvalid
		result.Comment = "unsupported action"
		return result
	}

	info, ok := e.store.SymbolInfo(req.Symbol)
	if !ok || !info.Visible {
		result.Retcode = types.RetcodeInvalid
		result.Comment = "unknown or hidden symbol"
		return result
	}

	if req.Volume < info.VolumeMin || req.Volume > info.VolumeMax ||
		!volumeStepValid(req.Volume, info.VolumeStep) {
		result.Retcode = types.RetcodeInvalidVolume
		result.Comment = "volume outside instrument limits"
		return result
	}

	tick, err := e.store.PriceAt(req.Symbol, e.cursor.Time())
	if err != nil {
		result.Retcode = types.RetcodeError
		result.Comment = err.Error()
		return result
	}
	if req.Price != 0 {
		dev := float64(req.Deviation) * info.Point
		if req.Price < tick.Bid-dev || req.Price > tick.Ask+dev {
			result.Retcode = types.RetcodeInvalidPrice
			result.Comment = "price outside allowed deviation"
			return result
		}
	}

	if rc, ok := tradeModeAllows(info.TradeMode, req.Type); !ok {
		result.Retcode = rc
		result.Comment = "direction not permitted"
		return result
	}

	margin, err := e.OrderCalcMargin(ctx, req.Type, req.Symbol, req.Volume, fillPrice(req.Type, tick))
	if err != nil {
		result.Retcode = types.RetcodeError
		result.Comment = err.Error()
		return result
	}
	if margin > acc.MarginFree {
		result.Retcode = types.RetcodeNoMoney
		result.Comment = "not enough free margin"
		return result
	}

	result.Retcode = types.RetcodeDone
	result.Margin = acc.Margin + margin
	result.MarginFree = acc.Equity - result.Margin
	if result.Margin > 0 {
		result.MarginLevel = acc.Equity / result.Margin * 100
	}
	return result
}

// tradeModeAllows maps an instrument's trade mode restriction onto a request
// direction, returning the rejecting retcode when the direction is barred.
func tradeModeAllows(mode types.SymbolTradeMode, dir types.OrderType) (types.Retcode, bool) {
	switch mode {
	case types.SymbolTradeFull:
		return 0, true
	case types.SymbolTradeDisabled:
		return types.RetcodeTradeDisabled, false
	case types.SymbolTradeLongOnly:
		if dir == types.OrderTypeBuy {
			return 0, true
		}
		return types.RetcodeLongOnly, false
	case types.SymbolTradeShortOnly:
		if dir == types.OrderTypeSell {
			return 0, true
		}
		return types.RetcodeShortOnly, false
	case types.SymbolTradeCloseOnly:
		return types.RetcodeCloseOnly, false
	default:
		return types.RetcodeTradeDisabled, false
	}
}

// fillPrice is the execution price for opening in the given direction:
// ask for BUY, bid for SELL.
func fillPrice(dir types.OrderType, tick types.Tick) float64 {
	if dir == types.OrderTypeBuy {
		return tick.Ask
	}
	return tick.Bid
}

// closePrice is the execution price for closing a position of the given
// direction: bid for BUY, ask for SELL.
func closePrice(dir types.OrderType, tick types.Tick) float64 {
	if dir == types.OrderTypeBuy {
		return tick.Bid
	}
	return tick.Ask
}

// OrderSend executes a market order. A failed check returns the check's
// retcode with no side effects; success mints the order/deal/position ticket
// triple, records history and reserves margin, all under the engine lock.
func (e *Engine) OrderSend(ctx context.Context, req types.TradeRequest) types.OrderSendResult {
	e.mu.Lock()
	defer e.mu.Unlock()

	result := types.OrderSendResult{Request: req, Volume: req.Volume}

	chk := e.orderCheck(ctx, req)
	if chk.Retcode != types.RetcodeDone {
		result.Retcode = chk.Retcode
		result.Comment = chk.Comment
		return result
	}

	now := e.cursor.Time()
	tick, err := e.store.PriceAt(req.Symbol, now)
	if err != nil {
		result.Retcode = types.RetcodeError
		result.Comment = err.Error()
		return result
	}
	price := fillPrice(req.Type, tick)

	margin, err := e.OrderCalcMargin(ctx, req.Type, req.Symbol, req.Volume, price)
	if err != nil {
		result.Retcode = types.RetcodeError
		result.Comment = err.Error()
		return result
	}

	tickets := e.mintTickets(3)
	orderTicket, dealTicket, posTicket := tickets[0], tickets[1], tickets[2]

	e.orders.Set(orderTicket, types.TradeOrder{
		Ticket:        orderTicket,
		Symbol:        req.Symbol,
		Action:        types.TradeActionDeal,
		Type:          req.Type,
		State:         types.OrderStateFilled,
		Price:         price,
		SL:            req.SL,
		TP:            req.TP,
		TimeSetup:     now,
		TimeDone:      now,
		VolumeInitial: req.Volume,
		PositionID:    posTicket,
		Magic:         req.Magic,
		Comment:       req.Comment,
	})
	e.deals.Set(dealTicket, types.TradeDeal{
		Ticket:     dealTicket,
		Order:      orderTicket,
		PositionID: posTicket,
		Symbol:     req.Symbol,
		Type:       req.Type,
		Entry:      types.DealEntryIn,
		Volume:     req.Volume,
		Price:      price,
		Time:       now,
		TimeMsc:    tick.TimeMsc,
		Magic:      req.Magic,
		Reason:     types.DealReasonClient,
	})
	e.positions.Open(types.TradePosition{
		Ticket:       posTicket,
		Symbol:       req.Symbol,
		Type:         req.Type,
		Volume:       req.Volume,
		PriceOpen:    price,
		SL:           req.SL,
		TP:           req.TP,
		PriceCurrent: price,
		Time:         now,
		TimeMsc:      tick.TimeMsc,
		TimeUpdate:   now,
		Magic:        req.Magic,
		Comment:      req.Comment,
		Identifier:   posTicket,
		Reason:       types.DealReasonClient,
	}, margin)

	e.ledger.Update(nil, margin, 0)

	e.logger.Info("order filled",
		"ticket", orderTicket,
		"position", posTicket,
		"symbol", req.Symbol,
		"type", req.Type.String(),
		"volume", req.Volume,
		"price", price)

	result.Retcode = types.RetcodeDone
	result.Order = orderTicket
	result.Deal = dealTicket
	result.Position = posTicket
	result.Price = price
	result.Bid = tick.Bid
	result.Ask = tick.Ask
	return result
}

// ClosePosition closes an open position at the current tick. Returns false
// when the ticket is unknown or already closed.
func (e *Engine) ClosePosition(ctx context.Context, ticket int64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closeLocked(ctx, ticket, types.DealReasonClient)
}

// closeLocked performs the close bookkeeping. Caller holds e.mu.
func (e *Engine) closeLocked(ctx context.Context, ticket int64, reason types.DealReason) bool {
	pos, ok := e.positions.Get(ticket)
	if !ok || !e.positions.IsOpen(ticket) {
		return false
	}

	now := e.cursor.Time()
	tick, err := e.store.PriceAt(pos.Symbol, now)
	if err != nil {
		e.logger.Error("close failed", "ticket", ticket, "error", err)
		return false
	}
	price := closePrice(pos.Type, tick)

	profit, err := e.OrderCalcProfit(ctx, pos.Type, pos.Symbol, pos.Volume, pos.PriceOpen, price)
	if err != nil {
		e.logger.Error("close failed", "ticket", ticket, "error", err)
		return false
	}
	realized := roundMoney(profit + pos.Swap)

	tickets := e.mintTickets(2)
	orderTicket, dealTicket := tickets[0], tickets[1]

	e.orders.Set(orderTicket, types.TradeOrder{
		Ticket:        orderTicket,
		Symbol:        pos.Symbol,
		Action:        types.TradeActionDeal,
		Type:          pos.Type.Opposite(),
		State:         types.OrderStateFilled,
		Price:         price,
		TimeSetup:     now,
		TimeDone:      now,
		VolumeInitial: pos.Volume,
		PositionID:    ticket,
		Magic:         pos.Magic,
	})
	deal := types.TradeDeal{
		Ticket:     dealTicket,
		Order:      orderTicket,
		PositionID: ticket,
		Symbol:     pos.Symbol,
		Type:       pos.Type.Opposite(),
		Entry:      types.DealEntryOut,
		Volume:     pos.Volume,
		Price:      price,
		Profit:     realized,
		Swap:       pos.Swap,
		Time:       now,
		TimeMsc:    tick.TimeMsc,
		Magic:      pos.Magic,
		Reason:     reason,
	}
	e.deals.Set(dealTicket, deal)

	e.positions.Update(ticket, func(p *types.TradePosition) {
		p.PriceCurrent = price
		p.Profit = realized
		p.TimeUpdate = now
	})

	margin, _ := e.positions.MarginOf(ticket)
	e.positions.Close(ticket)
	e.ledger.Update(nil, -margin, realized)

	if e.onClose != nil {
		e.onClose(deal)
	}

	e.logger.Info("position closed",
		"ticket", ticket,
		"symbol", pos.Symbol,
		"price", price,
		"profit", realized,
		"reason", reason.String())
	return true
}

// ModifyStops updates a position's SL/TP after validating the levels against
// the instrument's minimal stop distance. Returns false on bad input.
func (e *Engine) ModifyStops(ctx context.Context, ticket int64, sl, tp float64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	pos, ok := e.positions.Get(ticket)
	if !ok || !e.positions.IsOpen(ticket) {
		return false
	}
	info, ok := e.store.SymbolInfo(pos.Symbol)
	if !ok {
		return false
	}
	now := e.cursor.Time()
	tick, err := e.store.PriceAt(pos.Symbol, now)
	if err != nil {
		return false
	}

	dist := float64(info.TradeStopsLevel) * info.Point
	if pos.Type == types.OrderTypeBuy {
		if sl > 0 && sl > tick.Bid-dist {
			return false
		}
		if tp > 0 && tp < tick.Bid+dist {
			return false
		}
	} else {
		if sl > 0 && sl < tick.Ask+dist {
			return false
		}
		if tp > 0 && tp > tick.Ask-dist {
			return false
		}
	}

	e.positions.Update(ticket, func(p *types.TradePosition) {
		p.SL = sl
		p.TP = tp
		p.TimeUpdate = now
	})

	orderTicket := e.mintTickets(1)[0]
	e.orders.Set(orderTicket, types.TradeOrder{
		Ticket:        orderTicket,
		Symbol:        pos.Symbol,
		Action:        types.TradeActionSLTP,
		Type:          pos.Type,
		State:         types.OrderStateFilled,
		SL:            sl,
		TP:            tp,
		TimeSetup:     now,
		TimeDone:      now,
		VolumeInitial: pos.Volume,
		PositionID:    ticket,
		Magic:         pos.Magic,
	})
	return true
}
