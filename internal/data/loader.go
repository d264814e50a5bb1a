package data

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"mt5-backtest/pkg/types"
)

// Fetcher pulls market history from a live terminal. Implemented by the
// bridge gateway; defined here so the loader does not depend on transport.
type Fetcher interface {
	SymbolInfo(ctx context.Context, symbol string) (types.SymbolInfo, error)
	CopyTicksRange(ctx context.Context, symbol string, from, to int64) ([]types.Tick, error)
	CopyRatesRange(ctx context.Context, symbol string, tf types.Timeframe, from, to int64) ([]types.Rate, error)
}

// History is the raw material a Store is built from.
type History struct {
	Symbols map[string]types.SymbolInfo
	Ticks   map[string][]types.Tick
	Rates   map[string]map[types.Timeframe][]types.Rate
}

// LoadDir reads pre-exported history from a directory:
//
//	symbols.json               catalog, symbol name → SymbolInfo
//	ticks_<SYMBOL>.json        raw ticks per symbol
//	rates_<SYMBOL>_<TF>.json   OHLCV bars per symbol and timeframe (optional)
//
// Only the requested symbols are loaded; a missing tick file is an error,
// missing rate files are not.
func LoadDir(dir string, symbols []string) (*History, error) {
	var catalog map[string]types.SymbolInfo
	if err := readJSON(filepath.Join(dir, "symbols.json"), &catalog); err != nil {
		return nil, fmt.Errorf("load catalog: %w", err)
	}

	h := &History{
		Symbols: make(map[string]types.SymbolInfo, len(symbols)),
		Ticks:   make(map[string][]types.Tick, len(symbols)),
		Rates:   make(map[string]map[types.Timeframe][]types.Rate),
	}

	for _, name := range symbols {
		info, ok := catalog[name]
		if !ok {
			return nil, fmt.Errorf("%w: %s not in catalog", ErrDataMissing, name)
		}
		h.Symbols[name] = info

		var ticks []types.Tick
		if err := readJSON(filepath.Join(dir, "ticks_"+name+".json"), &ticks); err != nil {
			return nil, fmt.Errorf("load ticks %s: %w", name, err)
		}
		h.Ticks[name] = ticks

		for _, tf := range types.Timeframes() {
			path := filepath.Join(dir, fmt.Sprintf("rates_%s_%s.json", name, tf))
			if _, err := os.Stat(path); err != nil {
				continue
			}
			var bars []types.Rate
			if err := readJSON(path, &bars); err != nil {
				return nil, fmt.Errorf("load rates %s %s: %w", name, tf, err)
			}
			if h.Rates[name] == nil {
				h.Rates[name] = make(map[types.Timeframe][]types.Rate)
			}
			h.Rates[name][tf] = bars
		}
	}

	return h, nil
}

// Preload pulls history for the requested symbols through a terminal
// fetcher. Rate frames are pulled for the given timeframes only.
func Preload(
	ctx context.Context,
	fetcher Fetcher,
	symbols []string,
	timeframes []types.Timeframe,
	from, to int64,
	logger *slog.Logger,
) (*History, error) {
	h := &History{
		Symbols: make(map[string]types.SymbolInfo, len(symbols)),
		Ticks:   make(map[string][]types.Tick, len(symbols)),
		Rates:   make(map[string]map[types.Timeframe][]types.Rate),
	}

	for _, name := range symbols {
		info, err := fetcher.SymbolInfo(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("preload symbol %s: %w", name, err)
		}
		h.Symbols[name] = info

		ticks, err := fetcher.CopyTicksRange(ctx, name, from, to)
		if err != nil {
			return nil, fmt.Errorf("preload ticks %s: %w", name, err)
		}
		if len(ticks) == 0 {
			return nil, fmt.Errorf("%w: no ticks for %s in [%d, %d)", ErrDataMissing, name, from, to)
		}
		h.Ticks[name] = ticks
		logger.Info("ticks preloaded", "symbol", name, "count", len(ticks))

		for _, tf := range timeframes {
			bars, err := fetcher.CopyRatesRange(ctx, name, tf, from, to)
			if err != nil {
				return nil, fmt.Errorf("preload rates %s %s: %w", name, tf, err)
			}
			if len(bars) == 0 {
				continue
			}
			if h.Rates[name] == nil {
				h.Rates[name] = make(map[types.Timeframe][]types.Rate)
			}
			h.Rates[name][tf] = bars
			logger.Info("rates preloaded", "symbol", name, "timeframe", tf, "count", len(bars))
		}
	}

	return h, nil
}

func readJSON(path string, v any) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, v)
}
