// Package bridge talks to a live terminal gateway over REST.
//
// The gateway serves two optional duties:
//   - data preloading: pull symbol metadata, ticks and rate frames for the
//     session window instead of reading pre-exported files
//   - delegated calculation: ask the terminal for margin and profit numbers
//     instead of computing them locally (backtest.use_terminal)
//
// Every request goes through a token-bucket throttle and is retried on 5xx.
package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"

	"mt5-backtest/internal/config"
	"mt5-backtest/pkg/types"
)

// Terminal is the calculation surface the engine delegates to when
// use_terminal is set. The Gateway implements it against a live terminal;
// tests implement it in-process.
type Terminal interface {
	OrderCalcMargin(ctx context.Context, orderType types.OrderType, symbol string, volume, price float64) (float64, error)
	OrderCalcProfit(ctx context.Context, orderType types.OrderType, symbol string, volume, priceOpen, priceClose float64) (float64, error)
}

// Gateway is the REST client for a terminal gateway. It implements both
// Terminal and the data loader's Fetcher interface.
type Gateway struct {
	http   *resty.Client
	rl     *TokenBucket
	logger *slog.Logger
}

// NewGateway creates a gateway client with retry and throttling.
func NewGateway(cfg config.BridgeConfig, logger *slog.Logger) *Gateway {
	httpClient := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.RetryCount).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		}).
		SetHeader("Content-Type", "application/json")

	return &Gateway{
		http:   httpClient,
		rl:     NewTokenBucket(cfg.CallsPerSec, cfg.CallsPerSec),
		logger: logger.With("component", "bridge"),
	}
}

// SymbolInfo fetches instrument metadata for one symbol.
func (g *Gateway) SymbolInfo(ctx context.Context, symbol string) (types.SymbolInfo, error) {
	var result types.SymbolInfo
	if err := g.rl.Wait(ctx); err != nil {
		return result, err
	}

	resp, err := g.http.R().
		SetContext(ctx).
		SetQueryParam("symbol", symbol).
		SetResult(&result).
		Get("/symbol_info")
	if err != nil {
		return result, fmt.Errorf("symbol info: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return result, fmt.Errorf("symbol info: status %d: %s", resp.StatusCode(), resp.String())
	}
	return result, nil
}

// CopyTicksRange fetches raw ticks for [from, to).
func (g *Gateway) CopyTicksRange(ctx context.Context, symbol string, from, to int64) ([]types.Tick, error) {
	if err := g.rl.Wait(ctx); err != nil {
		return nil, err
	}

	var result []types.Tick
	resp, err := g.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"symbol": symbol,
			"from":   strconv.FormatInt(from, 10),
			"to":     strconv.FormatInt(to, 10),
		}).
		SetResult(&result).
		Get("/copy_ticks_range")
	if err != nil {
		return nil, fmt.Errorf("copy ticks range: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("copy ticks range: status %d: %s", resp.StatusCode(), resp.String())
	}
	return result, nil
}

// CopyRatesRange fetches OHLCV bars for one timeframe over [from, to).
func (g *Gateway) CopyRatesRange(ctx context.Context, symbol string, tf types.Timeframe, from, to int64) ([]types.Rate, error) {
	if err := g.rl.Wait(ctx); err != nil {
		return nil, err
	}

	var result []types.Rate
	resp, err := g.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"symbol":    symbol,
			"timeframe": string(tf),
			"from":      strconv.FormatInt(from, 10),
			"to":        strconv.FormatInt(to, 10),
		}).
		SetResult(&result).
		Get("/copy_rates_range")
	if err != nil {
		return nil, fmt.Errorf("copy rates range: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("copy rates range: status %d: %s", resp.StatusCode(), resp.String())
	}
	return result, nil
}

type calcRequest struct {
	Action     int     `json:"action"`
	Symbol     string  `json:"symbol"`
	Volume     float64 `json:"volume"`
	PriceOpen  float64 `json:"price_open"`
	PriceClose float64 `json:"price_close,omitempty"`
}

type calcResponse struct {
	Value float64 `json:"value"`
}

// OrderCalcMargin asks the terminal for the margin a hypothetical order
// would reserve, in account currency.
func (g *Gateway) OrderCalcMargin(ctx context.Context, orderType types.OrderType, symbol string, volume, price float64) (float64, error) {
	if err := g.rl.Wait(ctx); err != nil {
		return 0, err
	}

	var result calcResponse
	resp, err := g.http.R().
		SetContext(ctx).
		SetBody(calcRequest{
			Action:    int(orderType),
			Symbol:    symbol,
			Volume:    volume,
			PriceOpen: price,
		}).
		SetResult(&result).
		Post("/order_calc_margin")
	if err != nil {
		return 0, fmt.Errorf("order calc margin: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return 0, fmt.Errorf("order calc margin: status %d: %s", resp.StatusCode(), resp.String())
	}
	return result.Value, nil
}

// OrderCalcProfit asks the terminal for the profit of a hypothetical
// open/close pair, in account currency.
func (g *Gateway) OrderCalcProfit(ctx context.Context, orderType types.OrderType, symbol string, volume, priceOpen, priceClose float64) (float64, error) {
	if err := g.rl.Wait(ctx); err != nil {
		return 0, err
	}

	var result calcResponse
	resp, err := g.http.R().
		SetContext(ctx).
		SetBody(calcRequest{
			Action:     int(orderType),
			Symbol:     symbol,
			Volume:     volume,
			PriceOpen:  priceOpen,
			PriceClose: priceClose,
		}).
		SetResult(&result).
		Post("/order_calc_profit")
	if err != nil {
		return 0, fmt.Errorf("order calc profit: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return 0, fmt.Errorf("order calc profit: status %d: %s", resp.StatusCode(), resp.String())
	}
	return result.Value, nil
}
