package trade

import "mt5-backtest/pkg/types"

// Orders is the historical order manager: one record per order send, close
// and stop modification.
type Orders struct {
	*Manager[types.TradeOrder]
}

// NewOrders creates an empty historical orders manager.
func NewOrders() *Orders {
	return &Orders{Manager: NewManager[types.TradeOrder]()}
}

// Range returns orders whose setup time falls in [from, to].
func (o *Orders) Range(from, to int64) []types.TradeOrder {
	var out []types.TradeOrder
	for _, ord := range o.Values() {
		if ord.TimeSetup >= from && ord.TimeSetup <= to {
			out = append(out, ord)
		}
	}
	return out
}

// TotalRange counts orders whose setup time falls in [from, to].
func (o *Orders) TotalRange(from, to int64) int {
	return len(o.Range(from, to))
}

// ByPosition returns the orders attached to one position.
func (o *Orders) ByPosition(positionID int64) []types.TradeOrder {
	var out []types.TradeOrder
	for _, ord := range o.Values() {
		if ord.PositionID == positionID {
			out = append(out, ord)
		}
	}
	return out
}

// Filter selects orders by ticket, symbol or group pattern; ticket wins.
func (o *Orders) Filter(ticket int64, symbol, group string) []types.TradeOrder {
	if ticket != 0 {
		if ord, ok := o.Get(ticket); ok {
			return []types.TradeOrder{ord}
		}
		return nil
	}
	var out []types.TradeOrder
	for _, ord := range o.Values() {
		if symbol != "" && ord.Symbol != symbol {
			continue
		}
		if group != "" && !matchGroup(group, ord.Symbol) {
			continue
		}
		out = append(out, ord)
	}
	return out
}

// Deals is the historical deal manager: one IN deal per open, one OUT deal
// per close.
type Deals struct {
	*Manager[types.TradeDeal]
}

// NewDeals creates an empty historical deals manager.
func NewDeals() *Deals {
	return &Deals{Manager: NewManager[types.TradeDeal]()}
}

// Range returns deals whose time falls in [from, to].
func (d *Deals) Range(from, to int64) []types.TradeDeal {
	var out []types.TradeDeal
	for _, deal := range d.Values() {
		if deal.Time >= from && deal.Time <= to {
			out = append(out, deal)
		}
	}
	return out
}

// TotalRange counts deals whose time falls in [from, to].
func (d *Deals) TotalRange(from, to int64) int {
	return len(d.Range(from, to))
}

// ByPosition returns the deals attached to one position.
func (d *Deals) ByPosition(positionID int64) []types.TradeDeal {
	var out []types.TradeDeal
	for _, deal := range d.Values() {
		if deal.PositionID == positionID {
			out = append(out, deal)
		}
	}
	return out
}

// Filter selects deals by ticket, symbol or group pattern; ticket wins.
func (d *Deals) Filter(ticket int64, symbol, group string) []types.TradeDeal {
	if ticket != 0 {
		if deal, ok := d.Get(ticket); ok {
			return []types.TradeDeal{deal}
		}
		return nil
	}
	var out []types.TradeDeal
	for _, deal := range d.Values() {
		if symbol != "" && deal.Symbol != symbol {
			continue
		}
		if group != "" && !matchGroup(group, deal.Symbol) {
			continue
		}
		out = append(out, deal)
	}
	return out
}
