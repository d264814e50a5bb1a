package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"mt5-backtest/internal/data"
	"mt5-backtest/internal/engine"
	"mt5-backtest/pkg/types"
)

// Strategy is one trading strategy run against the engine. Run should loop
// over virtual ticks, consulting the session's engine and checkpointing with
// Wait once per intended tick, until Wait returns an error.
type Strategy interface {
	Name() string
	Run(ctx context.Context, s *Session) error
}

// Session is the per-strategy handle: engine access plus the barrier
// checkpoint and virtual-time sleep.
type Session struct {
	engine  *engine.Engine
	barrier *Barrier
}

// Engine returns the broker interface.
func (s *Session) Engine() *engine.Engine {
	return s.engine
}

// Wait checkpoints the strategy for the current tick and blocks until the
// controller releases the next one.
func (s *Session) Wait(ctx context.Context) error {
	return s.barrier.Wait(ctx)
}

// Sleep suspends the strategy for secs of virtual time by looping on barrier
// checkpoints until the clock has advanced that far.
func (s *Session) Sleep(ctx context.Context, secs int64) error {
	target := s.engine.CurrentTime() + secs
	for s.engine.CurrentTime() < target {
		if err := s.Wait(ctx); err != nil {
			return err
		}
	}
	return nil
}

// TickHook observes each advanced tick, for progress reporting.
type TickHook func(virtualTime int64, account types.AccountInfo)

// BurnOutHook observes a session ending on account exhaustion.
type BurnOutHook func(virtualTime int64, reason string)

// Controller owns the session lifecycle: it lock-steps N strategy goroutines
// with the engine through the barrier, runs the tracker once per tick,
// advances the cursor and handles the shutdown paths.
type Controller struct {
	engine  *engine.Engine
	cursor  *data.Cursor
	barrier *Barrier
	logger  *slog.Logger

	strategies []Strategy
	stopFlag   atomic.Bool
	cancel     context.CancelFunc
	wg         sync.WaitGroup

	onTick    TickHook
	onBurnOut BurnOutHook
}

// NewController creates a controller for one engine session.
func NewController(e *engine.Engine, cursor *data.Cursor, logger *slog.Logger) *Controller {
	return &Controller{
		engine:  e,
		cursor:  cursor,
		barrier: NewBarrier(),
		logger:  logger.With("component", "controller"),
	}
}

// Register adds a strategy. Must be called before Run.
func (c *Controller) Register(s Strategy) {
	c.strategies = append(c.strategies, s)
}

// OnTick installs a hook observing every advanced tick. Must be set before Run.
func (c *Controller) OnTick(hook TickHook) {
	c.onTick = hook
}

// OnBurnOut installs a hook fired when the tracker stops the session on
// account exhaustion. Must be set before Run.
func (c *Controller) OnBurnOut(hook BurnOutHook) {
	c.onBurnOut = hook
}

// StopBacktesting requests a cooperative stop: the current iteration
// completes, then the loop exits and WrapUp runs.
func (c *Controller) StopBacktesting() {
	c.stopFlag.Store(true)
	c.logger.Info("stop requested")
}

// Abort breaks the barrier immediately. Waiting strategies receive
// ErrBrokenBarrier and all strategy tasks are cancelled.
func (c *Controller) Abort() {
	c.barrier.Abort()
	if c.cancel != nil {
		c.cancel()
	}
	c.logger.Warn("session aborted")
}

// Run executes the session: it launches the strategy goroutines, fixes the
// barrier party count, then drives the tick loop until the range is
// exhausted, a stop is requested, the account burns out or the barrier
// breaks. WrapUp always runs before Run returns.
func (c *Controller) Run(ctx context.Context) error {
	if len(c.strategies) == 0 {
		return fmt.Errorf("no strategies registered")
	}

	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	defer cancel()

	// The party count is fixed only after every strategy is registered.
	c.barrier.SetParties(len(c.strategies))

	for _, s := range c.strategies {
		c.wg.Add(1)
		go func(s Strategy) {
			defer c.wg.Done()
			session := &Session{engine: c.engine, barrier: c.barrier}
			err := s.Run(ctx, session)
			switch {
			case err == nil:
				c.logger.Info("strategy finished", "strategy", s.Name())
			case errors.Is(err, ErrBrokenBarrier) || errors.Is(err, context.Canceled):
				c.logger.Info("strategy cancelled", "strategy", s.Name())
			default:
				c.logger.Error("strategy failed", "strategy", s.Name(), "error", err)
			}
			// A finished strategy no longer checkpoints; shrink the
			// barrier so the others are not stuck.
			c.barrier.Deregister()
		}(s)
	}

	c.logger.Info("session started",
		"strategies", len(c.strategies),
		"start", c.cursor.Time(),
		"step", c.cursor.Step())

	err := c.loop(ctx)

	// Free any strategies still parked at the barrier, then wait for them.
	c.barrier.Abort()
	cancel()
	c.wg.Wait()

	c.engine.WrapUp(context.WithoutCancel(ctx))
	return err
}

func (c *Controller) loop(ctx context.Context) error {
	for {
		if err := c.barrier.AwaitFull(ctx); err != nil {
			if errors.Is(err, ErrBrokenBarrier) {
				return nil
			}
			return err
		}
		if c.barrier.Parties() == 0 {
			c.logger.Info("all strategies finished")
			return nil
		}

		if stop, reason := c.engine.Tracker(ctx); stop {
			c.logger.Warn("session stopped by engine", "reason", reason)
			if c.onBurnOut != nil {
				c.onBurnOut(c.cursor.Time(), reason)
			}
			return nil
		}
		if c.stopFlag.Load() {
			return nil
		}
		if !c.cursor.Next() {
			c.logger.Info("end of range reached", "time", c.cursor.Time())
			return nil
		}

		if c.onTick != nil {
			c.onTick(c.cursor.Time(), c.engine.AccountInfo())
		}
		c.barrier.Release()
	}
}
