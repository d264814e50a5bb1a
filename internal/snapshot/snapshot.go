// Package snapshot persists session state and the final result report as
// JSON files.
//
// Writes use atomic file replacement (write to .tmp, then rename) so a crash
// mid-save never leaves a corrupt snapshot. A saved session can be resumed
// by restoring the embedded engine state into a freshly loaded engine.
package snapshot

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"mt5-backtest/internal/data"
	"mt5-backtest/internal/engine"
	"mt5-backtest/pkg/types"
)

// BackTestData is the full session snapshot: static market data plus the
// engine's mutable state at the captured cursor position.
type BackTestData struct {
	Name     string                                      `json:"name"`
	Terminal types.TerminalInfo                          `json:"terminal"`
	Version  types.Version                               `json:"version"`
	Symbols  map[string]types.SymbolInfo                 `json:"symbols"`
	Ticks    map[string][]types.Tick                     `json:"ticks"`
	Rates    map[string]map[types.Timeframe][]types.Rate `json:"rates"`
	Span     []int64                                     `json:"span"`
	Range    []int64                                     `json:"range"`

	engine.State

	FullyLoaded bool `json:"fully_loaded"`
}

// Capture builds a snapshot of the running session.
func Capture(e *engine.Engine, d *data.Store) *BackTestData {
	return &BackTestData{
		Name:        e.Name(),
		Terminal:    e.TerminalInfo(),
		Version:     e.Version(),
		Symbols:     d.Symbols(),
		Ticks:       d.TicksMap(),
		Rates:       d.RatesMap(),
		Span:        d.Span(),
		Range:       d.Range(),
		State:       e.ExportState(),
		FullyLoaded: true,
	}
}

// Summary aggregates the closed trades of a session.
type Summary struct {
	NetProfit    float64 `json:"net_profit"`
	ClosedTrades int     `json:"closed_trades"`
	Wins         int     `json:"wins"`
	Losses       int     `json:"losses"`
}

// Report is the JSON result emitted at wrap-up.
type Report struct {
	Name    string             `json:"name"`
	Account types.AccountInfo  `json:"account"`
	Orders  []types.TradeOrder `json:"orders"`
	Deals   []types.TradeDeal  `json:"deals"`
	Summary Summary            `json:"summary"`
}

// BuildReport derives the result report from the engine's history.
func BuildReport(e *engine.Engine) *Report {
	state := e.ExportState()
	deals := e.HistoryDeals(0, 1<<62)
	orders := e.HistoryOrders(0, 1<<62)

	var sum Summary
	for _, deal := range deals {
		if deal.Entry != types.DealEntryOut {
			continue
		}
		sum.ClosedTrades++
		sum.NetProfit += deal.Profit
		if deal.Profit >= 0 {
			sum.Wins++
		} else {
			sum.Losses++
		}
	}

	return &Report{
		Name:    e.Name(),
		Account: state.Account,
		Orders:  orders,
		Deals:   deals,
		Summary: sum,
	}
}

// Store persists snapshots and reports in a directory. All file operations
// are mutex-protected.
type Store struct {
	dir string
	mu  sync.Mutex
}

// Open creates a snapshot store backed by the given directory.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create snapshot dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Save atomically persists the session snapshot as snap_<name>.json.
func (s *Store) Save(snap *BackTestData) error {
	return s.write("snap_"+snap.Name+".json", snap)
}

// Load restores the snapshot for a session name. Returns nil, nil when no
// snapshot exists (fresh session).
func (s *Store) Load(name string) (*BackTestData, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := os.ReadFile(filepath.Join(s.dir, "snap_"+name+".json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read snapshot: %w", err)
	}

	var snap BackTestData
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return &snap, nil
}

// SaveReport atomically persists the result report as report_<name>.json.
func (s *Store) SaveReport(rep *Report) error {
	return s.write("report_"+rep.Name+".json", rep)
}

func (s *Store) write(name string, v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", name, err)
	}

	path := filepath.Join(s.dir, name)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return os.Rename(tmp, path)
}
