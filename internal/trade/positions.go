package trade

import (
	"path"
	"sort"

	"mt5-backtest/pkg/types"
)

// Positions tracks every position of the session plus which ones are still
// open and how much margin each open one reserves.
//
// Invariant: a ticket is in the open set iff it has a margin map entry.
// Closing removes a position from both but keeps its record, so history
// can be reconstructed after the fact.
type Positions struct {
	*Manager[types.TradePosition]
	open    []int64 // open tickets, insertion order
	margins map[int64]float64
}

// NewPositions creates an empty positions manager.
func NewPositions() *Positions {
	return &Positions{
		Manager: NewManager[types.TradePosition](),
		margins: make(map[int64]float64),
	}
}

// Open records a new open position reserving the given margin.
func (p *Positions) Open(pos types.TradePosition, margin float64) {
	p.Set(pos.Ticket, pos)
	p.open = append(p.open, pos.Ticket)
	p.margins[pos.Ticket] = margin
}

// Close removes the ticket from the open set and releases its margin map
// entry. The position record itself remains. Returns false if the ticket
// was not open.
func (p *Positions) Close(ticket int64) bool {
	if _, ok := p.margins[ticket]; !ok {
		return false
	}
	delete(p.margins, ticket)
	for i, t := range p.open {
		if t == ticket {
			p.open = append(p.open[:i], p.open[i+1:]...)
			break
		}
	}
	return true
}

// IsOpen reports whether the ticket is currently open.
func (p *Positions) IsOpen(ticket int64) bool {
	_, ok := p.margins[ticket]
	return ok
}

// OpenTickets returns the open tickets in insertion order.
func (p *Positions) OpenTickets() []int64 {
	return append([]int64(nil), p.open...)
}

// OpenPositions returns the live position records in insertion order.
func (p *Positions) OpenPositions() []types.TradePosition {
	out := make([]types.TradePosition, 0, len(p.open))
	for _, ticket := range p.open {
		if pos, ok := p.Get(ticket); ok {
			out = append(out, pos)
		}
	}
	return out
}

// Total returns the number of open positions.
func (p *Positions) Total() int {
	return len(p.open)
}

// Margin returns the sum of all reserved margins.
func (p *Positions) Margin() float64 {
	var total float64
	for _, m := range p.margins {
		total += m
	}
	return total
}

// MarginOf returns the margin reserved by one open position.
func (p *Positions) MarginOf(ticket int64) (float64, bool) {
	m, ok := p.margins[ticket]
	return m, ok
}

// Margins returns a copy of the margin map (snapshots).
func (p *Positions) Margins() map[int64]float64 {
	out := make(map[int64]float64, len(p.margins))
	for k, v := range p.margins {
		out[k] = v
	}
	return out
}

// Filter selects open positions by ticket, symbol or group pattern.
// A ticket filter wins over the others.
func (p *Positions) Filter(ticket int64, symbol, group string) []types.TradePosition {
	if ticket != 0 {
		if pos, ok := p.Get(ticket); ok && p.IsOpen(ticket) {
			return []types.TradePosition{pos}
		}
		return nil
	}

	var out []types.TradePosition
	for _, pos := range p.OpenPositions() {
		if symbol != "" && pos.Symbol != symbol {
			continue
		}
		if group != "" && !matchGroup(group, pos.Symbol) {
			continue
		}
		out = append(out, pos)
	}
	return out
}

// Restore rebuilds the manager from snapshot maps. Tickets are minted
// ascending, so sorted insertion recovers the original record order lost
// by the JSON maps; the open-set order comes from the open slice as saved.
func (p *Positions) Restore(records map[int64]types.TradePosition, open []int64, margins map[int64]float64) {
	tickets := make([]int64, 0, len(records))
	for ticket := range records {
		tickets = append(tickets, ticket)
	}
	sort.Slice(tickets, func(i, j int) bool { return tickets[i] < tickets[j] })
	for _, ticket := range tickets {
		p.Set(ticket, records[ticket])
	}
	p.open = append([]int64(nil), open...)
	p.margins = make(map[int64]float64, len(margins))
	for k, v := range margins {
		p.margins[k] = v
	}
}

// matchGroup matches a symbol against a '*' wildcard pattern.
// A malformed pattern matches nothing.
func matchGroup(pattern, symbol string) bool {
	ok, err := path.Match(pattern, symbol)
	return err == nil && ok
}
