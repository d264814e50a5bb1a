package control

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"mt5-backtest/internal/data"
	"mt5-backtest/internal/engine"
	"mt5-backtest/internal/ledger"
	"mt5-backtest/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testSymbol() types.SymbolInfo {
	return types.SymbolInfo{
		Name:              "EURUSD",
		Visible:           true,
		Digits:            5,
		Point:             0.00001,
		TradeCalcMode:     types.CalcModeForex,
		TradeMode:         types.SymbolTradeFull,
		TradeContractSize: 100_000,
		TradeTickValue:    1,
		TradeTickSize:     0.00001,
		VolumeMin:         0.01,
		VolumeMax:         100,
		VolumeStep:        0.01,
		CurrencyBase:      "EUR",
		CurrencyProfit:    "USD",
	}
}

// newSession builds an engine plus controller over a 10-second span with a
// gently rising EURUSD price.
func newSession(t *testing.T, balance float64) (*engine.Engine, *data.Cursor, *Controller) {
	t.Helper()
	ticks := []types.Tick{
		{Time: 1000, Bid: 1.1000, Ask: 1.1002},
		{Time: 1005, Bid: 1.1050, Ask: 1.1052},
	}
	store, err := data.NewStore(
		map[string]types.SymbolInfo{"EURUSD": testSymbol()},
		map[string][]types.Tick{"EURUSD": ticks},
		nil, 1000, 1010, 0)
	if err != nil {
		t.Fatalf("build store: %v", err)
	}
	cursor := data.NewCursor(store.Range(), 1)
	led := ledger.New(types.AccountInfo{
		Balance: balance, Leverage: 100, Currency: "USD", MarginSoSo: 20,
	}, testLogger())
	e := engine.New("test", store, cursor, led, engine.Options{CloseOpenPositionsOnExit: true}, testLogger())
	return e, cursor, NewController(e, cursor, testLogger())
}

type funcStrategy struct {
	name string
	run  func(ctx context.Context, s *Session) error
}

func (f *funcStrategy) Name() string { return f.name }

func (f *funcStrategy) Run(ctx context.Context, s *Session) error {
	return f.run(ctx, s)
}

// loopUntilBroken checkpoints forever; every strategy test ends by barrier
// abort or release exhaustion.
func loopUntilBroken(onTick func(s *Session)) func(ctx context.Context, s *Session) error {
	return func(ctx context.Context, s *Session) error {
		for {
			if onTick != nil {
				onTick(s)
			}
			if err := s.Wait(ctx); err != nil {
				return nil
			}
		}
	}
}

func TestRunToEndOfRange(t *testing.T) {
	t.Parallel()
	_, cursor, c := newSession(t, 10_000)

	var observed []int64
	c.Register(&funcStrategy{name: "observer", run: loopUntilBroken(func(s *Session) {
		observed = append(observed, s.Engine().CurrentTime())
	})})

	if err := c.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	// Span is [1000, 1010): ten observations, strictly monotonic.
	if len(observed) != 10 {
		t.Fatalf("observed %d ticks, want 10", len(observed))
	}
	for i := 1; i < len(observed); i++ {
		if observed[i] <= observed[i-1] {
			t.Fatalf("virtual time not monotonic: %v", observed)
		}
	}
	if cursor.Time() != 1009 {
		t.Errorf("final time = %d, want 1009", cursor.Time())
	}
}

func TestTwoStrategiesSameSymbol(t *testing.T) {
	t.Parallel()
	e, _, c := newSession(t, 10_000)

	var marginAfterOpen float64
	c.OnTick(func(virtualTime int64, acc types.AccountInfo) {
		if virtualTime == 1001 {
			marginAfterOpen = acc.Margin
		}
	})

	open := func(dir types.OrderType) func(s *Session) {
		sent := false
		return func(s *Session) {
			if sent {
				return
			}
			sent = true
			res := s.Engine().OrderSend(context.Background(), types.TradeRequest{
				Action: types.TradeActionDeal,
				Symbol: "EURUSD",
				Volume: 0.1,
				Type:   dir,
			})
			if res.Retcode != types.RetcodeDone {
				t.Errorf("OrderSend(%v) = %v", dir, res.Retcode)
			}
		}
	}
	c.Register(&funcStrategy{name: "buyer", run: loopUntilBroken(open(types.OrderTypeBuy))})
	c.Register(&funcStrategy{name: "seller", run: loopUntilBroken(open(types.OrderTypeSell))})

	if err := c.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	// Both opens landed in tick 1000; margin is the sum of both.
	want := 110.02 + 110.00
	if marginAfterOpen < want-1e-6 || marginAfterOpen > want+1e-6 {
		t.Errorf("margin after t0 = %v, want %v", marginAfterOpen, want)
	}

	// Wrap-up closed both; two IN and two OUT deals.
	deals := e.HistoryDeals(0, 2000)
	var in, out int
	for _, d := range deals {
		switch d.Entry {
		case types.DealEntryIn:
			in++
		case types.DealEntryOut:
			out++
		}
	}
	if in != 2 || out != 2 {
		t.Errorf("deals in/out = %d/%d, want 2/2", in, out)
	}
}

func TestStopBacktestingIsCooperative(t *testing.T) {
	t.Parallel()
	_, cursor, c := newSession(t, 10_000)

	ticks := 0
	c.Register(&funcStrategy{name: "counter", run: loopUntilBroken(func(s *Session) {
		ticks++
		if ticks == 3 {
			c.StopBacktesting()
		}
	})})

	if err := c.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if ticks != 3 {
		t.Errorf("strategy ran %d ticks, want 3", ticks)
	}
	if cursor.Time() == 1009 {
		t.Error("session should have stopped before the end of the range")
	}
}

func TestAbortDuringWait(t *testing.T) {
	t.Parallel()
	e, _, c := newSession(t, 10_000)

	released := make(chan error, 2)
	waiter := func(ctx context.Context, s *Session) error {
		for {
			if err := s.Wait(ctx); err != nil {
				released <- err
				return nil
			}
		}
	}
	c.Register(&funcStrategy{name: "a", run: waiter})
	c.Register(&funcStrategy{name: "b", run: waiter})
	// The third strategy never reaches Wait; it blocks until cancelled.
	c.Register(&funcStrategy{name: "stuck", run: func(ctx context.Context, s *Session) error {
		<-ctx.Done()
		return ctx.Err()
	}})

	runDone := make(chan error, 1)
	go func() { runDone <- c.Run(context.Background()) }()

	time.Sleep(20 * time.Millisecond)
	trackerTimeBefore := e.CurrentTime()
	c.Abort()

	for i := 0; i < 2; i++ {
		select {
		case err := <-released:
			if !errors.Is(err, ErrBrokenBarrier) {
				t.Errorf("waiter released with %v, want ErrBrokenBarrier", err)
			}
		case <-time.After(time.Second):
			t.Fatal("waiter not released after Abort")
		}
	}

	select {
	case <-runDone:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after Abort")
	}

	// The barrier never filled, so the clock never advanced.
	if e.CurrentTime() != trackerTimeBefore {
		t.Errorf("clock advanced after abort: %d -> %d", trackerTimeBefore, e.CurrentTime())
	}
}

func TestSleepVirtualTime(t *testing.T) {
	t.Parallel()
	_, _, c := newSession(t, 10_000)

	var woke int64
	c.Register(&funcStrategy{name: "sleeper", run: func(ctx context.Context, s *Session) error {
		if err := s.Sleep(ctx, 3); err != nil {
			return nil
		}
		woke = s.Engine().CurrentTime()
		for {
			if err := s.Wait(ctx); err != nil {
				return nil
			}
		}
	}})

	if err := c.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if woke != 1003 {
		t.Errorf("woke at %d, want 1003", woke)
	}
}

func TestStrategyFinishEndsSession(t *testing.T) {
	t.Parallel()
	_, _, c := newSession(t, 10_000)

	ran := 0
	c.Register(&funcStrategy{name: "brief", run: func(ctx context.Context, s *Session) error {
		for i := 0; i < 2; i++ {
			ran++
			if err := s.Wait(ctx); err != nil {
				return nil
			}
		}
		return nil
	}})

	done := make(chan error, 1)
	go func() { done <- c.Run(context.Background()) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("controller did not notice the finished strategy")
	}
	if ran != 2 {
		t.Errorf("strategy iterations = %d, want 2", ran)
	}
}

func TestRunWithoutStrategiesFails(t *testing.T) {
	t.Parallel()
	_, _, c := newSession(t, 10_000)
	if err := c.Run(context.Background()); err == nil {
		t.Fatal("Run with no strategies should fail")
	}
}

func TestBurnOutHookFires(t *testing.T) {
	t.Parallel()
	// Price crash at 1005 drops the margin level below the 20% stop-out.
	ticks := []types.Tick{
		{Time: 1000, Bid: 1.1000, Ask: 1.1002},
		{Time: 1005, Bid: 1.0890, Ask: 1.0892},
	}
	store, err := data.NewStore(
		map[string]types.SymbolInfo{"EURUSD": testSymbol()},
		map[string][]types.Tick{"EURUSD": ticks},
		nil, 1000, 1010, 0)
	if err != nil {
		t.Fatalf("build store: %v", err)
	}
	cursor := data.NewCursor(store.Range(), 1)
	led := ledger.New(types.AccountInfo{
		Balance: 1000, Leverage: 100, Currency: "USD", MarginSoSo: 20,
	}, testLogger())
	e := engine.New("test", store, cursor, led, engine.Options{}, testLogger())
	c := NewController(e, cursor, testLogger())

	var hookTime int64
	var hookReason string
	c.OnBurnOut(func(virtualTime int64, reason string) {
		hookTime, hookReason = virtualTime, reason
	})

	c.Register(&funcStrategy{name: "buyer", run: func(ctx context.Context, s *Session) error {
		res := s.Engine().OrderSend(ctx, types.TradeRequest{
			Action: types.TradeActionDeal,
			Symbol: "EURUSD",
			Volume: 0.8,
			Type:   types.OrderTypeBuy,
		})
		if res.Retcode != types.RetcodeDone {
			t.Errorf("OrderSend retcode = %v", res.Retcode)
		}
		for {
			if err := s.Wait(ctx); err != nil {
				return nil
			}
		}
	}})

	if err := c.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if hookTime != 1005 {
		t.Errorf("burn-out time = %d, want 1005", hookTime)
	}
	if hookReason == "" {
		t.Error("burn-out reason is empty")
	}
}
