package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"mt5-backtest/pkg/types"
)

// ErrCurrencyCrossUnavailable is returned when a margin or profit amount is
// denominated in a currency with no loaded cross pair to the account currency.
var ErrCurrencyCrossUnavailable = errors.New("currency cross unavailable")

// OrderCalcMargin returns the margin a hypothetical order would reserve, in
// account currency. When delegated calculation is configured the call is
// forwarded to the terminal gateway; otherwise it is computed locally from
// the instrument's calc mode.
func (e *Engine) OrderCalcMargin(ctx context.Context, orderType types.OrderType, symbol string, volume, price float64) (float64, error) {
	if e.useTerminal && e.terminal != nil {
		return e.terminal.OrderCalcMargin(ctx, orderType, symbol, volume, price)
	}

	info, ok := e.store.SymbolInfo(symbol)
	if !ok {
		return 0, fmt.Errorf("calc margin: unknown symbol %s", symbol)
	}

	notional := volume * info.TradeContractSize * price
	leverage := float64(e.ledger.Info().Leverage)

	switch info.TradeCalcMode {
	case types.CalcModeForex:
		return e.toAccountCurrency(notional/leverage, info.CurrencyProfit)
	case types.CalcModeForexNoLeverage:
		return e.toAccountCurrency(notional, info.CurrencyProfit)
	case types.CalcModeFutures:
		// Tick value is quoted in account currency, so no conversion.
		if info.TradeTickSize <= 0 {
			return 0, fmt.Errorf("calc margin: %s has no tick size", symbol)
		}
		return volume * price / info.TradeTickSize * info.TradeTickValue, nil
	case types.CalcModeCFD:
		return e.toAccountCurrency(notional, info.CurrencyProfit)
	case types.CalcModeCFDIndex:
		if info.TradeTickSize <= 0 {
			return 0, fmt.Errorf("calc margin: %s has no tick size", symbol)
		}
		return e.toAccountCurrency(notional*info.TradeTickValue/info.TradeTickSize, info.CurrencyProfit)
	case types.CalcModeCFDLeverage:
		return e.toAccountCurrency(notional/leverage, info.CurrencyProfit)
	default:
		return 0, fmt.Errorf("calc margin: unsupported calc mode %d for %s", info.TradeCalcMode, symbol)
	}
}

// OrderCalcProfit returns the profit of a hypothetical open/close pair, in
// account currency. Positive diff means the trade direction was right.
func (e *Engine) OrderCalcProfit(ctx context.Context, orderType types.OrderType, symbol string, volume, priceOpen, priceClose float64) (float64, error) {
	if e.useTerminal && e.terminal != nil {
		return e.terminal.OrderCalcProfit(ctx, orderType, symbol, volume, priceOpen, priceClose)
	}

	info, ok := e.store.SymbolInfo(symbol)
	if !ok {
		return 0, fmt.Errorf("calc profit: unknown symbol %s", symbol)
	}

	diff := priceClose - priceOpen
	if orderType == types.OrderTypeSell {
		diff = priceOpen - priceClose
	}

	switch info.TradeCalcMode {
	case types.CalcModeForex, types.CalcModeForexNoLeverage:
		return e.toAccountCurrency(diff*info.TradeContractSize*volume, info.CurrencyProfit)
	default:
		if info.TradeTickSize <= 0 {
			return 0, fmt.Errorf("calc profit: %s has no tick size", symbol)
		}
		return diff / info.TradeTickSize * info.TradeTickValue * volume, nil
	}
}

// toAccountCurrency converts an amount denominated in currency into the
// account currency using the latest tick of the cross pair. Direct pairs use
// the bid (selling the profit currency), inverted pairs the ask.
func (e *Engine) toAccountCurrency(amount float64, currency string) (float64, error) {
	account := e.ledger.Info().Currency
	if currency == account || currency == "" {
		return amount, nil
	}

	now := e.cursor.Time()
	for name, info := range e.store.Symbols() {
		if info.CurrencyBase == currency && info.CurrencyProfit == account {
			tick, err := e.store.PriceAt(name, now)
			if err != nil {
				return 0, err
			}
			return amount * tick.Bid, nil
		}
		if info.CurrencyBase == account && info.CurrencyProfit == currency {
			tick, err := e.store.PriceAt(name, now)
			if err != nil {
				return 0, err
			}
			if tick.Ask == 0 {
				return 0, fmt.Errorf("%w: %s/%s has zero ask", ErrCurrencyCrossUnavailable, account, currency)
			}
			return amount / tick.Ask, nil
		}
	}
	return 0, fmt.Errorf("%w: %s to %s", ErrCurrencyCrossUnavailable, currency, account)
}

// volumeStepValid reports whether volume is a whole multiple of step.
// Decimal arithmetic sidesteps the float drift of repeated 0.01 steps.
func volumeStepValid(volume, step float64) bool {
	if step <= 0 {
		return true
	}
	return decimal.NewFromFloat(volume).Mod(decimal.NewFromFloat(step)).IsZero()
}

// roundMoney rounds an account-currency amount to cents.
func roundMoney(x float64) float64 {
	v, _ := decimal.NewFromFloat(x).Round(2).Float64()
	return v
}
