package snapshot

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

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

// testTicks drifts the price up one point per second over [1000, 1110).
func testTicks() []types.Tick {
	var out []types.Tick
	for i := int64(0); i < 110; i++ {
		out = append(out, types.Tick{
			Time: 1000 + i,
			Bid:  1.1000 + float64(i)*0.00001,
			Ask:  1.1002 + float64(i)*0.00001,
		})
	}
	return out
}

func newTestEngine(t *testing.T) (*engine.Engine, *data.Store, *data.Cursor) {
	t.Helper()
	store, err := data.NewStore(
		map[string]types.SymbolInfo{"EURUSD": testSymbol()},
		map[string][]types.Tick{"EURUSD": testTicks()},
		nil, 1000, 1110, 0)
	if err != nil {
		t.Fatalf("build store: %v", err)
	}
	cursor := data.NewCursor(store.Range(), 1)
	led := ledger.New(types.AccountInfo{
		Balance: 10_000, Leverage: 100, Currency: "USD", MarginSoSo: 20,
	}, testLogger())
	e := engine.New("snaptest", store, cursor, led, engine.Options{}, testLogger())
	return e, store, cursor
}

// runTicks advances n ticks, running the tracker at each new time.
func runTicks(t *testing.T, e *engine.Engine, cursor *data.Cursor, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		if !cursor.Next() {
			t.Fatalf("range exhausted at tick %d", i)
		}
		if stop, reason := e.Tracker(context.Background()); stop {
			t.Fatalf("unexpected burn-out: %s", reason)
		}
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	t.Parallel()
	e, dstore, cursor := newTestEngine(t)
	ctx := context.Background()

	e.OrderSend(ctx, types.TradeRequest{
		Action: types.TradeActionDeal, Symbol: "EURUSD",
		Volume: 0.1, Type: types.OrderTypeBuy,
	})
	runTicks(t, e, cursor, 5)

	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.Save(Capture(e, dstore)); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := s.Load("snaptest")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded == nil {
		t.Fatal("Load returned nil for existing snapshot")
	}

	if loaded.CursorIndex != cursor.Index() || loaded.CursorTime != cursor.Time() {
		t.Errorf("cursor = (%d, %d), want (%d, %d)",
			loaded.CursorIndex, loaded.CursorTime, cursor.Index(), cursor.Time())
	}
	if loaded.Account != e.AccountInfo() {
		t.Errorf("account mismatch: %+v vs %+v", loaded.Account, e.AccountInfo())
	}
	if len(loaded.OpenPositions) != 1 {
		t.Errorf("open positions = %d, want 1", len(loaded.OpenPositions))
	}
	if len(loaded.Margins) != 1 {
		t.Errorf("margins = %d, want 1", len(loaded.Margins))
	}
	if len(loaded.Ticks["EURUSD"]) != 110 {
		t.Errorf("snapshot ticks = %d, want 110", len(loaded.Ticks["EURUSD"]))
	}
	if !loaded.FullyLoaded {
		t.Error("snapshot should be marked fully loaded")
	}
}

func TestLoadMissingSnapshot(t *testing.T) {
	t.Parallel()
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	snap, err := s.Load("nothing")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if snap != nil {
		t.Errorf("Load of missing snapshot = %+v, want nil", snap)
	}
}

func TestSaveLeavesNoTempFile(t *testing.T) {
	t.Parallel()
	e, dstore, _ := newTestEngine(t)
	dir := t.TempDir()
	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.Save(Capture(e, dstore)); err != nil {
		t.Fatalf("Save: %v", err)
	}

	if _, err := os.Stat(filepath.Join(dir, "snap_snaptest.json.tmp")); !os.IsNotExist(err) {
		t.Error("temp file left behind after save")
	}
	if _, err := os.Stat(filepath.Join(dir, "snap_snaptest.json")); err != nil {
		t.Errorf("snapshot file missing: %v", err)
	}
}

// TestResumeMatchesUninterruptedRun runs 100 ticks with an open position,
// snapshots, resumes into a fresh engine and runs 10 more; the result must
// match a single 110-tick run.
func TestResumeMatchesUninterruptedRun(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	req := types.TradeRequest{
		Action: types.TradeActionDeal, Symbol: "EURUSD",
		Volume: 0.1, Type: types.OrderTypeBuy,
	}

	// Interrupted run: 100 ticks, snapshot, resume, 9 more ticks to the
	// end of the range.
	first, dstore, firstCursor := newTestEngine(t)
	first.OrderSend(ctx, req)
	runTicks(t, first, firstCursor, 100)

	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.Save(Capture(first, dstore)); err != nil {
		t.Fatalf("Save: %v", err)
	}
	snap, err := s.Load("snaptest")
	if err != nil || snap == nil {
		t.Fatalf("Load: %v", err)
	}

	resumed, _, resumedCursor := newTestEngine(t)
	if err := resumed.RestoreState(snap.State); err != nil {
		t.Fatalf("RestoreState: %v", err)
	}
	if resumedCursor.Index() != 100 {
		t.Fatalf("resumed cursor index = %d, want 100", resumedCursor.Index())
	}
	runTicks(t, resumed, resumedCursor, 9)

	// Uninterrupted run: 109 ticks straight.
	full, _, fullCursor := newTestEngine(t)
	full.OrderSend(ctx, req)
	runTicks(t, full, fullCursor, 109)

	if resumed.AccountInfo() != full.AccountInfo() {
		t.Errorf("account diverged:\nresumed %+v\nfull    %+v",
			resumed.AccountInfo(), full.AccountInfo())
	}
	if resumed.PositionsTotal() != full.PositionsTotal() {
		t.Errorf("open positions diverged: %d vs %d",
			resumed.PositionsTotal(), full.PositionsTotal())
	}
	if resumedCursor.Time() != fullCursor.Time() {
		t.Errorf("clock diverged: %d vs %d", resumedCursor.Time(), fullCursor.Time())
	}
}

func TestBuildReport(t *testing.T) {
	t.Parallel()
	e, _, cursor := newTestEngine(t)
	ctx := context.Background()

	res := e.OrderSend(ctx, types.TradeRequest{
		Action: types.TradeActionDeal, Symbol: "EURUSD",
		Volume: 0.1, Type: types.OrderTypeBuy,
	})
	runTicks(t, e, cursor, 10)
	e.ClosePosition(ctx, res.Position)

	rep := BuildReport(e)
	if rep.Summary.ClosedTrades != 1 || rep.Summary.Wins != 1 {
		t.Errorf("summary = %+v, want 1 closed, 1 win", rep.Summary)
	}
	if rep.Summary.NetProfit <= 0 {
		t.Errorf("net profit = %v, want > 0 on a rising price", rep.Summary.NetProfit)
	}
	if len(rep.Deals) != 2 {
		t.Errorf("report deals = %d, want 2", len(rep.Deals))
	}

	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.SaveReport(rep); err != nil {
		t.Fatalf("SaveReport: %v", err)
	}
}
