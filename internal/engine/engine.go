// Package engine implements the simulated broker.
//
// The engine exposes a broker-shaped interface so that strategy code written
// against a live terminal runs unchanged: read-only queries (symbols, ticks,
// rates, account, history), state-mutating operations (OrderCheck, OrderSend,
// ClosePosition, ModifyStops) and per-tick maintenance (Tracker, WrapUp).
//
// Mutations are serialized by the engine mutex. The control loop guarantees
// that Tracker runs only after every strategy has checkpointed, so within one
// virtual tick each strategy observes its own writes and Tracker observes
// all of them.
package engine

import (
	"log/slog"
	"sort"
	"sync"

	"mt5-backtest/internal/bridge"
	"mt5-backtest/internal/data"
	"mt5-backtest/internal/ledger"
	"mt5-backtest/internal/trade"
	"mt5-backtest/pkg/types"
)

const terminalBuild = 4150

// Engine is the simulated broker for one session.
type Engine struct {
	mu sync.Mutex

	name   string
	store  *data.Store
	cursor *data.Cursor
	ledger *ledger.Ledger

	positions *trade.Positions
	orders    *trade.Orders
	deals     *trade.Deals

	terminal    bridge.Terminal
	useTerminal bool
	closeOnExit bool

	nextTicket int64
	onClose    func(types.TradeDeal)
	logger     *slog.Logger
}

// Options tunes optional engine behavior.
type Options struct {
	// Terminal, when set together with UseTerminal, delegates margin and
	// profit calculation to a live terminal gateway.
	Terminal    bridge.Terminal
	UseTerminal bool
	// CloseOpenPositionsOnExit makes WrapUp close remaining positions.
	CloseOpenPositionsOnExit bool
}

// New creates an engine over loaded market data with a freshly seeded ledger.
func New(name string, store *data.Store, cursor *data.Cursor, led *ledger.Ledger, opts Options, logger *slog.Logger) *Engine {
	return &Engine{
		name:        name,
		store:       store,
		cursor:      cursor,
		ledger:      led,
		positions:   trade.NewPositions(),
		orders:      trade.NewOrders(),
		deals:       trade.NewDeals(),
		terminal:    opts.Terminal,
		useTerminal: opts.UseTerminal,
		closeOnExit: opts.CloseOpenPositionsOnExit,
		nextTicket:  1,
		logger:      logger.With("component", "engine"),
	}
}

// Name returns the session name.
func (e *Engine) Name() string {
	return e.name
}

// OnClose installs a hook observing the OUT deal of every position close,
// whatever triggered it. Must be set before the session runs. The hook is
// called under the engine lock and must not call back into the engine.
func (e *Engine) OnClose(hook func(types.TradeDeal)) {
	e.onClose = hook
}

// mintTickets returns n consecutive fresh tickets. Caller holds e.mu.
func (e *Engine) mintTickets(n int) []int64 {
	out := make([]int64, n)
	for i := range out {
		out[i] = e.nextTicket
		e.nextTicket++
	}
	return out
}

// ————————————————————————————————————————————————————————————————————————
// Read-only queries
// ————————————————————————————————————————————————————————————————————————

// TerminalInfo reports the static metadata a live terminal would.
func (e *Engine) TerminalInfo() types.TerminalInfo {
	return types.TerminalInfo{
		Connected:    true,
		TradeAllowed: true,
		Name:         "backtester",
		Company:      e.name,
		Language:     "en",
		Build:        terminalBuild,
		MaxBars:      len(e.store.Span()),
	}
}

// Version reports the simulated terminal version triple.
func (e *Engine) Version() types.Version {
	return types.Version{Version: "5.0", Build: terminalBuild, ReleaseDate: "2024-01-01"}
}

// Symbols returns the catalog entries of the session.
func (e *Engine) Symbols() []types.SymbolInfo {
	catalog := e.store.Symbols()
	out := make([]types.SymbolInfo, 0, len(catalog))
	for _, info := range catalog {
		out = append(out, info)
	}
	return out
}

// SymbolsTotal returns the catalog size.
func (e *Engine) SymbolsTotal() int {
	return len(e.store.Symbols())
}

// SymbolInfo looks up one catalog entry.
func (e *Engine) SymbolInfo(symbol string) (types.SymbolInfo, bool) {
	return e.store.SymbolInfo(symbol)
}

// SymbolInfoTick resolves the symbol's price row at the current virtual time.
func (e *Engine) SymbolInfoTick(symbol string) (types.Tick, error) {
	return e.store.PriceAt(symbol, e.cursor.Time())
}

// AccountInfo returns the current account snapshot.
func (e *Engine) AccountInfo() types.AccountInfo {
	return e.ledger.Info()
}

// CurrentTime returns the virtual clock reading.
func (e *Engine) CurrentTime() int64 {
	return e.cursor.Time()
}

// CopyRatesRange returns bars with open time in [from, to].
func (e *Engine) CopyRatesRange(symbol string, tf types.Timeframe, from, to int64) ([]types.Rate, error) {
	bars, err := e.store.Rates(symbol, tf)
	if err != nil {
		return nil, err
	}
	var out []types.Rate
	for _, bar := range bars {
		if bar.Time >= from && bar.Time <= to {
			out = append(out, bar)
		}
	}
	return out, nil
}

// CopyRatesFrom returns up to count bars ending at the last bar whose open
// time is at or before from, ascending.
func (e *Engine) CopyRatesFrom(symbol string, tf types.Timeframe, from int64, count int) ([]types.Rate, error) {
	bars, err := e.store.Rates(symbol, tf)
	if err != nil {
		return nil, err
	}
	last := lastAtOrBefore(bars, from)
	if last < 0 || count <= 0 {
		return nil, nil
	}
	lo := last - count + 1
	if lo < 0 {
		lo = 0
	}
	return append([]types.Rate(nil), bars[lo:last+1]...), nil
}

// CopyRatesFromPos returns up to count bars counting start bars back from the
// latest bar at the current virtual time, ascending. start=0 is the current bar.
func (e *Engine) CopyRatesFromPos(symbol string, tf types.Timeframe, start, count int) ([]types.Rate, error) {
	bars, err := e.store.Rates(symbol, tf)
	if err != nil {
		return nil, err
	}
	last := lastAtOrBefore(bars, e.cursor.Time())
	hi := last - start
	if hi < 0 || count <= 0 {
		return nil, nil
	}
	lo := hi - count + 1
	if lo < 0 {
		lo = 0
	}
	return append([]types.Rate(nil), bars[lo:hi+1]...), nil
}

func lastAtOrBefore(bars []types.Rate, t int64) int {
	last := -1
	for i, bar := range bars {
		if bar.Time > t {
			break
		}
		last = i
	}
	return last
}

// CopyTicksFrom returns up to count raw ticks at or after from, ascending.
func (e *Engine) CopyTicksFrom(symbol string, from int64, count int) ([]types.Tick, error) {
	if count <= 0 {
		return nil, nil
	}
	ticks, err := e.store.Ticks(symbol)
	if err != nil {
		return nil, err
	}
	var out []types.Tick
	for _, tick := range ticks {
		if tick.Time < from {
			continue
		}
		out = append(out, tick)
		if len(out) == count {
			break
		}
	}
	return out, nil
}

// CopyTicksRange returns raw ticks with time in [from, to].
func (e *Engine) CopyTicksRange(symbol string, from, to int64) ([]types.Tick, error) {
	ticks, err := e.store.Ticks(symbol)
	if err != nil {
		return nil, err
	}
	var out []types.Tick
	for _, tick := range ticks {
		if tick.Time >= from && tick.Time <= to {
			out = append(out, tick)
		}
	}
	return out, nil
}

// Orders returns the active (pending) orders. Market orders fill on send, so
// a backtest session never has any.
func (e *Engine) Orders() []types.TradeOrder {
	return nil
}

// OrdersTotal returns the active order count, always zero in a backtest.
func (e *Engine) OrdersTotal() int {
	return 0
}

// Positions returns open positions matching the filter; zero values select all.
func (e *Engine) Positions(ticket int64, symbol, group string) []types.TradePosition {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.positions.Filter(ticket, symbol, group)
}

// PositionsTotal returns the number of open positions.
func (e *Engine) PositionsTotal() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.positions.Total()
}

// HistoryOrders returns historical orders with setup time in [from, to].
func (e *Engine) HistoryOrders(from, to int64) []types.TradeOrder {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.orders.Range(from, to)
}

// HistoryOrdersTotal counts historical orders with setup time in [from, to].
func (e *Engine) HistoryOrdersTotal(from, to int64) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.orders.TotalRange(from, to)
}

// HistoryDeals returns historical deals with time in [from, to].
func (e *Engine) HistoryDeals(from, to int64) []types.TradeDeal {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.deals.Range(from, to)
}

// HistoryDealsTotal counts historical deals with time in [from, to].
func (e *Engine) HistoryDealsTotal(from, to int64) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.deals.TotalRange(from, to)
}

// ————————————————————————————————————————————————————————————————————————
// Snapshot state
// ————————————————————————————————————————————————————————————————————————

// State is the mutable engine state captured in a snapshot: everything a
// resumed session needs beyond the (reloadable) market data.
type State struct {
	Account       types.AccountInfo             `json:"account"`
	Orders        map[int64]types.TradeOrder    `json:"orders"`
	Deals         map[int64]types.TradeDeal     `json:"deals"`
	Positions     map[int64]types.TradePosition `json:"positions"`
	OpenPositions []int64                       `json:"open_positions"`
	Margins       map[int64]float64             `json:"margins"`
	NextTicket    int64                         `json:"next_ticket"`
	CursorIndex   int                           `json:"cursor_index"`
	CursorTime    int64                         `json:"cursor_time"`
}

// ExportState captures the engine's mutable state.
func (e *Engine) ExportState() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return State{
		Account:       e.ledger.Info(),
		Orders:        e.orders.ToMap(),
		Deals:         e.deals.ToMap(),
		Positions:     e.positions.ToMap(),
		OpenPositions: e.positions.OpenTickets(),
		Margins:       e.positions.Margins(),
		NextTicket:    e.nextTicket,
		CursorIndex:   e.cursor.Index(),
		CursorTime:    e.cursor.Time(),
	}
}

// RestoreState rebuilds the engine's mutable state from a snapshot and moves
// the cursor back to the saved index.
func (e *Engine) RestoreState(s State) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.cursor.SetIndex(s.CursorIndex); err != nil {
		return err
	}
	e.ledger.Restore(s.Account)

	e.positions = trade.NewPositions()
	e.positions.Restore(s.Positions, s.OpenPositions, s.Margins)

	// Tickets are minted ascending, so sorted insertion recovers the
	// original iteration order lost by the JSON maps.
	e.orders = trade.NewOrders()
	for _, ticket := range sortedTickets(s.Orders) {
		e.orders.Set(ticket, s.Orders[ticket])
	}
	e.deals = trade.NewDeals()
	for _, ticket := range sortedTickets(s.Deals) {
		e.deals.Set(ticket, s.Deals[ticket])
	}
	e.nextTicket = s.NextTicket

	e.logger.Info("state restored",
		"cursor_index", s.CursorIndex,
		"open_positions", len(s.OpenPositions),
		"balance", s.Account.Balance)
	return nil
}

func sortedTickets[T any](m map[int64]T) []int64 {
	out := make([]int64, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
