package strategy

import (
	"context"
	"fmt"
	"log/slog"

	"mt5-backtest/internal/control"
	"mt5-backtest/pkg/types"
)

// CrossParams configures a moving-average cross strategy for one symbol.
//
//   - Fast/SlowPeriod: window lengths in ticks for the two averages.
//   - StopPoints: stop loss distance from entry, in points. Also drives sizing.
//   - TakePoints: take profit distance in points (0 = none).
//   - TrailPoints: trail the stop this far behind price (0 = off).
//   - Deviation: accepted slippage in points on order send.
type CrossParams struct {
	Symbol      string
	FastPeriod  int
	SlowPeriod  int
	StopPoints  int
	TakePoints  int
	TrailPoints int
	Deviation   int
	Magic       int64
}

// Cross trades moving-average crossovers: it goes long when the fast average
// crosses above the slow one, short on the opposite cross, and closes any
// open position before reversing. One position at a time per instance.
type Cross struct {
	params CrossParams
	sizer  *Sizer
	logger *slog.Logger

	fast *rollingMean
	slow *rollingMean

	havePrev bool
	prevDiff float64

	ticket int64 // open position, 0 = flat
	dir    types.OrderType
}

// NewCross creates a cross strategy instance.
func NewCross(params CrossParams, sizer *Sizer, logger *slog.Logger) *Cross {
	if params.FastPeriod <= 0 {
		params.FastPeriod = 5
	}
	if params.SlowPeriod <= params.FastPeriod {
		params.SlowPeriod = params.FastPeriod * 4
	}
	return &Cross{
		params: params,
		sizer:  sizer,
		fast:   newRollingMean(params.FastPeriod),
		slow:   newRollingMean(params.SlowPeriod),
		logger: logger.With(
			"component", "ma-cross",
			"symbol", params.Symbol,
		),
	}
}

// Name identifies the strategy in session logs.
func (c *Cross) Name() string {
	return "ma-cross-" + c.params.Symbol
}

// Run is the main loop: act on the current tick, then checkpoint for the
// next one. Returns when the session ends.
func (c *Cross) Run(ctx context.Context, sess *control.Session) error {
	eng := sess.Engine()
	info, ok := eng.SymbolInfo(c.params.Symbol)
	if !ok {
		return fmt.Errorf("unknown symbol %q", c.params.Symbol)
	}

	c.logger.Info("strategy started",
		"fast", c.params.FastPeriod,
		"slow", c.params.SlowPeriod,
		"stop_points", c.params.StopPoints,
	)

	for {
		c.step(ctx, eng, info)
		if err := sess.Wait(ctx); err != nil {
			return err
		}
	}
}

// broker is the slice of the engine surface the strategy trades through.
type broker interface {
	SymbolInfoTick(symbol string) (types.Tick, error)
	AccountInfo() types.AccountInfo
	Positions(ticket int64, symbol, group string) []types.TradePosition
	PositionsTotal() int
	OrderSend(ctx context.Context, req types.TradeRequest) types.OrderSendResult
	ClosePosition(ctx context.Context, ticket int64) bool
	ModifyStops(ctx context.Context, ticket int64, sl, tp float64) bool
}

func (c *Cross) step(ctx context.Context, eng broker, info types.SymbolInfo) {
	tick, err := eng.SymbolInfoTick(c.params.Symbol)
	if err != nil {
		// No quote at this second, skip the tick.
		return
	}

	mid := (tick.Bid + tick.Ask) / 2
	c.fast.Add(mid)
	c.slow.Add(mid)

	// The tracker may have stopped us out between checkpoints.
	if c.ticket != 0 && len(eng.Positions(c.ticket, "", "")) == 0 {
		c.logger.Info("position closed externally", "ticket", c.ticket)
		c.ticket = 0
	}

	if c.ticket != 0 && c.params.TrailPoints > 0 {
		c.trail(ctx, eng, info, tick)
	}

	if !c.slow.Full() {
		return
	}

	diff := c.fast.Mean() - c.slow.Mean()
	prev, had := c.prevDiff, c.havePrev
	c.prevDiff, c.havePrev = diff, true
	if !had {
		return
	}

	switch {
	case prev <= 0 && diff > 0:
		c.enter(ctx, eng, info, tick, types.OrderTypeBuy)
	case prev >= 0 && diff < 0:
		c.enter(ctx, eng, info, tick, types.OrderTypeSell)
	}
}

func (c *Cross) enter(ctx context.Context, eng broker, info types.SymbolInfo, tick types.Tick, dir types.OrderType) {
	if c.ticket != 0 {
		if c.dir == dir {
			return
		}
		if eng.ClosePosition(ctx, c.ticket) {
			c.logger.Info("reversed out", "ticket", c.ticket)
		}
		c.ticket = 0
	}

	if !c.sizer.Allowed(eng.PositionsTotal()) {
		c.logger.Debug("position limit reached, skipping entry")
		return
	}

	price := tick.Ask
	if dir == types.OrderTypeSell {
		price = tick.Bid
	}

	stopDist := float64(c.params.StopPoints) * info.Point
	takeDist := float64(c.params.TakePoints) * info.Point
	var sl, tp float64
	if dir == types.OrderTypeBuy {
		sl = price - stopDist
		if c.params.TakePoints > 0 {
			tp = price + takeDist
		}
	} else {
		sl = price + stopDist
		if c.params.TakePoints > 0 {
			tp = price - takeDist
		}
	}

	req := types.TradeRequest{
		Action:    types.TradeActionDeal,
		Symbol:    c.params.Symbol,
		Volume:    c.sizer.Volume(eng.AccountInfo(), info, c.params.StopPoints),
		Type:      dir,
		Price:     price,
		SL:        sl,
		TP:        tp,
		Deviation: c.params.Deviation,
		Magic:     c.params.Magic,
		Comment:   c.Name(),
	}

	res := eng.OrderSend(ctx, req)
	if res.Retcode != types.RetcodeDone {
		c.logger.Warn("entry rejected",
			"retcode", res.Retcode,
			"comment", res.Comment,
			"volume", req.Volume,
		)
		return
	}

	c.ticket = res.Position
	c.dir = dir
	c.logger.Info("entered",
		"ticket", res.Position,
		"type", dir,
		"price", res.Price,
		"volume", res.Volume,
		"sl", sl,
		"tp", tp,
	)
}

// trail ratchets the stop behind price. The stop only ever tightens.
func (c *Cross) trail(ctx context.Context, eng broker, info types.SymbolInfo, tick types.Tick) {
	positions := eng.Positions(c.ticket, "", "")
	if len(positions) == 0 {
		return
	}
	pos := positions[0]

	dist := float64(c.params.TrailPoints) * info.Point
	var newSL float64
	if pos.Type == types.OrderTypeBuy {
		newSL = tick.Bid - dist
		if newSL <= pos.SL {
			return
		}
	} else {
		newSL = tick.Ask + dist
		if pos.SL != 0 && newSL >= pos.SL {
			return
		}
	}

	if eng.ModifyStops(ctx, c.ticket, newSL, pos.TP) {
		c.logger.Debug("trailed stop", "ticket", c.ticket, "sl", newSL)
	}
}

// rollingMean is a fixed-window running average over the last period values.
type rollingMean struct {
	buf []float64
	idx int
	n   int
	sum float64
}

func newRollingMean(period int) *rollingMean {
	return &rollingMean{buf: make([]float64, period)}
}

func (r *rollingMean) Add(v float64) {
	r.sum += v - r.buf[r.idx]
	r.buf[r.idx] = v
	r.idx = (r.idx + 1) % len(r.buf)
	if r.n < len(r.buf) {
		r.n++
	}
}

func (r *rollingMean) Full() bool {
	return r.n == len(r.buf)
}

func (r *rollingMean) Mean() float64 {
	if r.n == 0 {
		return 0
	}
	return r.sum / float64(r.n)
}
