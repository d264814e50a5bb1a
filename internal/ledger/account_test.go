package ledger

import (
	"errors"
	"log/slog"
	"math"
	"os"
	"testing"

	"mt5-backtest/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testLedger(balance float64) *Ledger {
	return New(types.AccountInfo{
		Login:      101,
		Balance:    balance,
		Leverage:   100,
		Currency:   "USD",
		MarginSoSo: 20,
	}, testLogger())
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestInvariantsAfterUpdate(t *testing.T) {
	t.Parallel()
	l := testLedger(10_000)

	profit := 48.0
	l.Update(&profit, 110.02, 0)

	acc := l.Info()
	if !almostEqual(acc.Equity, acc.Balance+acc.Profit) {
		t.Errorf("equity invariant broken: %v != %v + %v", acc.Equity, acc.Balance, acc.Profit)
	}
	if !almostEqual(acc.MarginFree, acc.Equity-acc.Margin) {
		t.Errorf("margin free invariant broken")
	}
	wantLevel := acc.Equity / acc.Margin * 100
	if !almostEqual(acc.MarginLevel, wantLevel) {
		t.Errorf("margin level = %v, want %v", acc.MarginLevel, wantLevel)
	}
}

func TestMarginLevelZeroWithoutMargin(t *testing.T) {
	t.Parallel()
	l := testLedger(10_000)
	if got := l.Info().MarginLevel; got != 0 {
		t.Errorf("MarginLevel with zero margin = %v, want 0", got)
	}
}

func TestProfitIsReplacementNotDelta(t *testing.T) {
	t.Parallel()
	l := testLedger(10_000)

	profit := 25.0
	l.Update(&profit, 0, 0)
	l.Update(&profit, 0, 0) // same total again must not double-count

	if got := l.Info().Profit; !almostEqual(got, 25.0) {
		t.Errorf("Profit = %v, want 25 after repeated updates", got)
	}
	if got := l.Info().Equity; !almostEqual(got, 10_025) {
		t.Errorf("Equity = %v, want 10025", got)
	}
}

func TestDepositWithdraw(t *testing.T) {
	t.Parallel()
	l := testLedger(1000)

	l.Deposit(500)
	if got := l.Info().Balance; !almostEqual(got, 1500) {
		t.Errorf("Balance after deposit = %v", got)
	}

	if err := l.Withdraw(1500); err != nil {
		t.Fatalf("withdraw full balance: %v", err)
	}
	if got := l.Info().Balance; got != 0 {
		t.Errorf("Balance after full withdraw = %v, want 0", got)
	}

	if err := l.Withdraw(0.01); !errors.Is(err, ErrInsufficientBalance) {
		t.Errorf("over-withdraw = %v, want ErrInsufficientBalance", err)
	}
}

func TestCheckBurnOut(t *testing.T) {
	t.Parallel()

	l := testLedger(1000)
	if burned, _ := l.Check(); burned {
		t.Fatal("fresh account reported burned out")
	}

	// Drive equity to zero via open-position loss
	loss := -1000.0
	l.Update(&loss, 0, 0)
	if burned, reason := l.Check(); !burned || reason != "equity exhausted" {
		t.Errorf("Check = (%v, %q), want equity burn-out", burned, reason)
	}

	// Margin level below stop out
	l2 := testLedger(1000)
	loss2 := -900.0
	l2.Update(&loss2, 600, 0) // equity 100, margin 600 → level ~16.7% < 20%
	if burned, reason := l2.Check(); !burned || reason != "margin level below stop out" {
		t.Errorf("Check = (%v, %q), want stop-out burn-out", burned, reason)
	}
}

func TestRestore(t *testing.T) {
	t.Parallel()
	l := testLedger(1000)
	l.Restore(types.AccountInfo{Balance: 5000, Profit: 10, Margin: 100, MarginSoSo: 20})

	acc := l.Info()
	if !almostEqual(acc.Equity, 5010) || !almostEqual(acc.MarginFree, 4910) {
		t.Errorf("restored derived fields wrong: %+v", acc)
	}
}
