// Package strategy ships the built-in demo strategies that drive a backtest
// session end to end, plus the risk-based position sizer they share.
package strategy

import (
	"log/slog"

	"github.com/shopspring/decimal"

	"mt5-backtest/pkg/types"
)

// Limits bounds what the sizer will hand out.
//
//   - RiskPct: percent of current equity risked per trade. A stop StopPoints
//     away from entry should lose roughly this much when hit.
//   - MaxOpenPositions: new entries are refused at this count (0 = unlimited).
//   - MaxVolume: hard cap in lots on a single entry (0 = symbol maximum).
type Limits struct {
	RiskPct          float64
	MaxOpenPositions int
	MaxVolume        float64
}

// Sizer converts a risk budget into a lot size for one entry.
type Sizer struct {
	limits Limits
	logger *slog.Logger
}

// NewSizer creates a sizer.
func NewSizer(limits Limits, logger *slog.Logger) *Sizer {
	return &Sizer{
		limits: limits,
		logger: logger.With("component", "sizer"),
	}
}

// Allowed reports whether another position may be opened.
func (s *Sizer) Allowed(openPositions int) bool {
	if s.limits.MaxOpenPositions <= 0 {
		return true
	}
	return openPositions < s.limits.MaxOpenPositions
}

// Volume returns the lot size for an entry whose stop sits stopPoints away.
// The size is chosen so the stop loses about RiskPct percent of equity,
// floored to the symbol volume step and clamped to [VolumeMin, cap] where
// cap is the lower of VolumeMax and MaxVolume.
func (s *Sizer) Volume(acc types.AccountInfo, info types.SymbolInfo, stopPoints int) float64 {
	if stopPoints <= 0 || info.TradeTickSize <= 0 || info.TradeTickValue <= 0 {
		return info.VolumeMin
	}

	riskAmount := acc.Equity * s.limits.RiskPct / 100
	lossPerLot := float64(stopPoints) * info.Point / info.TradeTickSize * info.TradeTickValue
	if lossPerLot <= 0 || riskAmount <= 0 {
		return info.VolumeMin
	}

	maxLots := info.VolumeMax
	if s.limits.MaxVolume > 0 && s.limits.MaxVolume < maxLots {
		maxLots = s.limits.MaxVolume
	}

	lots := floorToStep(riskAmount/lossPerLot, info.VolumeStep)
	if lots > maxLots {
		lots = floorToStep(maxLots, info.VolumeStep)
	}
	if lots < info.VolumeMin {
		lots = info.VolumeMin
	}

	s.logger.Debug("sized entry",
		"symbol", info.Name,
		"equity", acc.Equity,
		"stop_points", stopPoints,
		"lots", lots,
	)
	return lots
}

// floorToStep snaps v down onto the step grid. Decimal arithmetic avoids the
// float drift that makes 0.30/0.01 land just under 30.
func floorToStep(v, step float64) float64 {
	if step <= 0 {
		return v
	}
	steps := decimal.NewFromFloat(v).Div(decimal.NewFromFloat(step)).Floor()
	out, _ := steps.Mul(decimal.NewFromFloat(step)).Float64()
	return out
}
