// Package ledger owns the simulated account state: balance, equity, margin
// and their derived values.
//
// All mutation funnels through Update, which holds the account mutex and
// recomputes the derived fields so the invariants
//
//	equity      = balance + profit
//	margin_free = equity − margin
//	margin_level = equity / margin × 100   (0 when margin == 0)
//
// hold after every change. The engine's composite operations (order send,
// position close) read account state first and then apply one Update, so
// the public surface never needs to re-enter the lock.
package ledger

import (
	"errors"
	"log/slog"
	"sync"

	"mt5-backtest/pkg/types"
)

// ErrInsufficientBalance is returned by Withdraw when the amount exceeds
// the current balance.
var ErrInsufficientBalance = errors.New("insufficient balance")

// Ledger is the thread-safe account state machine.
type Ledger struct {
	mu     sync.Mutex
	acc    types.AccountInfo
	logger *slog.Logger
}

// New seeds a ledger. Balance becomes the opening equity; margin starts at
// zero.
func New(acc types.AccountInfo, logger *slog.Logger) *Ledger {
	acc.Equity = acc.Balance + acc.Profit
	acc.MarginFree = acc.Equity - acc.Margin
	if acc.Margin > 0 {
		acc.MarginLevel = acc.Equity / acc.Margin * 100
	} else {
		acc.MarginLevel = 0
	}
	return &Ledger{acc: acc, logger: logger.With("component", "ledger")}
}

// Info returns a copy of the current account state.
func (l *Ledger) Info() types.AccountInfo {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.acc
}

// Update applies one atomic account change.
//
//   - gainDelta is added to the balance (realized profit, deposits).
//   - marginDelta is added to the reserved margin.
//   - profit, when non-nil, replaces the open-position profit total
//     (the tracker passes the recomputed running total, not a delta).
//
// Derived fields are recomputed before the lock is released.
func (l *Ledger) Update(profit *float64, marginDelta, gainDelta float64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.acc.Balance += gainDelta
	l.acc.Margin += marginDelta
	if profit != nil {
		l.acc.Profit = *profit
	}
	l.recomputeLocked()
}

func (l *Ledger) recomputeLocked() {
	l.acc.Equity = l.acc.Balance + l.acc.Profit
	l.acc.MarginFree = l.acc.Equity - l.acc.Margin
	if l.acc.Margin > 0 {
		l.acc.MarginLevel = l.acc.Equity / l.acc.Margin * 100
	} else {
		l.acc.MarginLevel = 0
	}
}

// Deposit adds funds to the balance.
func (l *Ledger) Deposit(amount float64) {
	l.Update(nil, 0, amount)
}

// Withdraw removes funds from the balance. Withdrawing exactly the balance
// succeeds and leaves it at zero.
func (l *Ledger) Withdraw(amount float64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if amount > l.acc.Balance {
		return ErrInsufficientBalance
	}
	l.acc.Balance -= amount
	l.recomputeLocked()
	return nil
}

// Check evaluates account health. It reports burn-out when equity has hit
// zero or the margin level has fallen below the stop-out percentage while
// margin is in use.
func (l *Ledger) Check() (burnedOut bool, reason string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.acc.Equity <= 0 {
		return true, "equity exhausted"
	}
	if l.acc.Margin > 0 && l.acc.MarginLevel < l.acc.MarginSoSo {
		return true, "margin level below stop out"
	}
	return false, ""
}

// Restore replaces the whole account state (snapshot resume).
func (l *Ledger) Restore(acc types.AccountInfo) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.acc = acc
	l.recomputeLocked()
}
