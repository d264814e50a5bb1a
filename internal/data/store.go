// Package data holds the loaded market history for a session and the cursor
// that iterates over it.
//
// The Store keeps three views per symbol:
//   - raw ticks, exactly as supplied, ascending by time
//   - prices, the raw ticks reindexed to every second of the test span with
//     gaps closed by nearest-neighbor fill, so a price lookup for any
//     (symbol, span second) always succeeds
//   - rate frames, OHLCV bars keyed by timeframe
//
// All views are read-only after construction and safe to share between
// strategy goroutines without locking.
package data

import (
	"errors"
	"fmt"
	"sort"

	"mt5-backtest/pkg/types"
)

var (
	// ErrDataMissing marks a symbol with no ticks inside the test span.
	ErrDataMissing = errors.New("data missing")
	// ErrRatesMissing marks a (symbol, timeframe) pair with no rate frame.
	ErrRatesMissing = errors.New("rates missing")
	// ErrNoTick marks a price lookup for an unknown symbol or a time
	// outside the span.
	ErrNoTick = errors.New("no tick")
)

// Store holds the symbol catalog and all market history for one session.
type Store struct {
	symbols map[string]types.SymbolInfo
	ticks   map[string][]types.Tick // raw, ascending by time
	prices  map[string][]types.Tick // one row per span second
	rates   map[string]map[types.Timeframe][]types.Rate

	span []int64 // every second in [start, end)
	rng  []int64 // iterated sub-window of span
}

// NewStore builds the session store. The span covers every second of
// [start, end); the iterated range is clipped to stopTime when nonzero.
// Every symbol in the catalog must have at least one tick inside the span.
func NewStore(
	symbols map[string]types.SymbolInfo,
	ticks map[string][]types.Tick,
	rates map[string]map[types.Timeframe][]types.Rate,
	start, end, stopTime int64,
) (*Store, error) {
	if end <= start {
		return nil, fmt.Errorf("invalid span [%d, %d)", start, end)
	}

	span := make([]int64, 0, end-start)
	for t := start; t < end; t++ {
		span = append(span, t)
	}

	rngEnd := end
	if stopTime != 0 && stopTime < end {
		rngEnd = stopTime
	}
	rng := span[:rngEnd-start]

	s := &Store{
		symbols: symbols,
		ticks:   make(map[string][]types.Tick, len(symbols)),
		prices:  make(map[string][]types.Tick, len(symbols)),
		rates:   make(map[string]map[types.Timeframe][]types.Rate, len(rates)),
		span:    span,
		rng:     rng,
	}

	for name := range symbols {
		raw := append([]types.Tick(nil), ticks[name]...)
		sort.Slice(raw, func(i, j int) bool { return raw[i].Time < raw[j].Time })

		inSpan := trimToSpan(raw, start, end)
		if len(inSpan) == 0 {
			return nil, fmt.Errorf("%w: symbol %s has no ticks in span", ErrDataMissing, name)
		}
		s.ticks[name] = inSpan
		s.prices[name] = reindex(inSpan, span)
	}

	for name, frames := range rates {
		if _, ok := symbols[name]; !ok {
			continue
		}
		byTF := make(map[types.Timeframe][]types.Rate, len(frames))
		for tf, bars := range frames {
			sorted := append([]types.Rate(nil), bars...)
			sort.Slice(sorted, func(i, j int) bool { return sorted[i].Time < sorted[j].Time })
			byTF[tf] = sorted
		}
		s.rates[name] = byTF
	}

	return s, nil
}

// trimToSpan drops ticks outside [start, end). Ticks are already sorted.
func trimToSpan(ticks []types.Tick, start, end int64) []types.Tick {
	lo := sort.Search(len(ticks), func(i int) bool { return ticks[i].Time >= start })
	hi := sort.Search(len(ticks), func(i int) bool { return ticks[i].Time >= end })
	return ticks[lo:hi]
}

// reindex produces one row per span second. Each second takes the nearest
// raw tick at or before it; seconds before the first tick take the first
// tick (nearest neighbor in the other direction). The row's Time is rewritten
// to the span second; TimeMsc keeps the original tick time.
func reindex(ticks []types.Tick, span []int64) []types.Tick {
	out := make([]types.Tick, len(span))
	j := 0
	for i, sec := range span {
		for j+1 < len(ticks) && ticks[j+1].Time <= sec {
			j++
		}
		row := ticks[j]
		if row.TimeMsc == 0 {
			row.TimeMsc = row.Time * 1000
		}
		row.Time = sec
		out[i] = row
	}
	return out
}

// Symbols returns the symbol catalog.
func (s *Store) Symbols() map[string]types.SymbolInfo {
	return s.symbols
}

// SymbolInfo looks up one catalog entry.
func (s *Store) SymbolInfo(name string) (types.SymbolInfo, bool) {
	info, ok := s.symbols[name]
	return info, ok
}

// Ticks returns the raw tick frame for a symbol.
func (s *Store) Ticks(symbol string) ([]types.Tick, error) {
	ticks, ok := s.ticks[symbol]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDataMissing, symbol)
	}
	return ticks, nil
}

// Prices returns the reindexed per-second price frame for a symbol.
func (s *Store) Prices(symbol string) ([]types.Tick, error) {
	prices, ok := s.prices[symbol]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDataMissing, symbol)
	}
	return prices, nil
}

// PriceAt resolves the reindexed price row for (symbol, t). After a
// successful load this cannot fail for any span second and catalog symbol.
func (s *Store) PriceAt(symbol string, t int64) (types.Tick, error) {
	prices, ok := s.prices[symbol]
	if !ok {
		return types.Tick{}, fmt.Errorf("%w: unknown symbol %s", ErrNoTick, symbol)
	}
	idx := t - s.span[0]
	if idx < 0 || idx >= int64(len(prices)) {
		return types.Tick{}, fmt.Errorf("%w: %s at %d outside span", ErrNoTick, symbol, t)
	}
	return prices[idx], nil
}

// Rates returns the rate frame for (symbol, timeframe).
func (s *Store) Rates(symbol string, tf types.Timeframe) ([]types.Rate, error) {
	frames, ok := s.rates[symbol]
	if !ok {
		return nil, fmt.Errorf("%w: %s %s", ErrRatesMissing, symbol, tf)
	}
	bars, ok := frames[tf]
	if !ok {
		return nil, fmt.Errorf("%w: %s %s", ErrRatesMissing, symbol, tf)
	}
	return bars, nil
}

// RatesMap returns all loaded rate frames (snapshot serialization).
func (s *Store) RatesMap() map[string]map[types.Timeframe][]types.Rate {
	return s.rates
}

// TicksMap returns all raw tick frames (snapshot serialization).
func (s *Store) TicksMap() map[string][]types.Tick {
	return s.ticks
}

// Span returns every second of the test span.
func (s *Store) Span() []int64 {
	return s.span
}

// Range returns the iterated sub-window of the span.
func (s *Store) Range() []int64 {
	return s.rng
}
