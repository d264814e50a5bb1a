// MT5 Backtest — a deterministic discrete-event backtester for algorithmic
// trading strategies against an MT5-style simulated broker.
//
// Architecture:
//
//	main.go              — entry point: loads config, wires the session, waits for SIGINT/SIGTERM
//	data/                — market history store, per-second price reindex, virtual clock cursor
//	ledger/              — account ledger: balance, equity, margin, stop-out check
//	trade/               — position, order and deal bookkeeping
//	engine/              — the simulated broker: queries, order pipeline, margin/profit math, tracker
//	control/             — cyclic barrier lock-stepping N strategy goroutines with the clock
//	strategy/            — built-in moving-average demo strategy plus risk-based sizing
//	bridge/              — REST gateway to a live terminal for preloading data and delegated calc
//	snapshot/            — session snapshot and result report persistence (resume support)
//	api/                 — optional HTTP/WebSocket progress monitor
//
// The virtual clock walks every second of [start, end); strategies run as
// goroutines released once per tick through a barrier, so a session replays
// identically however fast the host machine is.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"mt5-backtest/internal/api"
	"mt5-backtest/internal/bridge"
	"mt5-backtest/internal/config"
	"mt5-backtest/internal/control"
	"mt5-backtest/internal/data"
	"mt5-backtest/internal/engine"
	"mt5-backtest/internal/ledger"
	"mt5-backtest/internal/snapshot"
	"mt5-backtest/internal/strategy"
	"mt5-backtest/pkg/types"
)

func main() {
	cfgPath := "configs/config.yaml"
	if p := os.Getenv("BT_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", cfgPath)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Logging.Level)}
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)

	if err := run(cfg, logger); err != nil {
		logger.Error("backtest failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx := context.Background()

	snapStore, err := snapshot.Open(cfg.Snapshot.Dir)
	if err != nil {
		return fmt.Errorf("open snapshot store: %w", err)
	}

	var snap *snapshot.BackTestData
	if !cfg.Backtest.Restart {
		snap, err = snapStore.Load(cfg.Name)
		if err != nil {
			return fmt.Errorf("load snapshot: %w", err)
		}
		if snap == nil {
			logger.Info("no snapshot to resume, starting fresh", "name", cfg.Name)
		}
	}

	hist, gateway, err := loadHistory(ctx, cfg, snap, logger)
	if err != nil {
		return err
	}

	store, err := data.NewStore(hist.Symbols, hist.Ticks, hist.Rates,
		cfg.Backtest.Start, cfg.Backtest.End, cfg.Backtest.StopTime)
	if err != nil {
		return fmt.Errorf("build store: %w", err)
	}
	cursor := data.NewCursor(store.Range(), cfg.Backtest.Speed)

	led := ledger.New(types.AccountInfo{
		Login:        cfg.Account.Login,
		Leverage:     cfg.Account.Leverage,
		Balance:      cfg.Account.Balance,
		Currency:     cfg.Account.Currency,
		MarginSoCall: cfg.Account.MarginSoCall,
		MarginSoSo:   cfg.Account.MarginSoSo,
	}, logger)

	engOpts := engine.Options{
		UseTerminal:              cfg.Backtest.UseTerminal,
		CloseOpenPositionsOnExit: cfg.Backtest.CloseOpenPositionsOnExit,
	}
	if cfg.Backtest.UseTerminal {
		if gateway == nil {
			gateway = bridge.NewGateway(cfg.Bridge, logger)
		}
		engOpts.Terminal = gateway
	}
	eng := engine.New(cfg.Name, store, cursor, led, engOpts, logger)

	if snap != nil {
		if err := eng.RestoreState(snap.State); err != nil {
			return fmt.Errorf("restore snapshot: %w", err)
		}
		logger.Info("resumed from snapshot",
			"name", cfg.Name,
			"cursor_time", cursor.Time(),
			"balance", led.Info().Balance,
		)
	}

	ctrl := control.NewController(eng, cursor, logger)

	if cfg.Strategy.Enabled {
		symbol := cfg.Strategy.Symbol
		if symbol == "" {
			symbol = cfg.Data.Symbols[0]
		}
		sizer := strategy.NewSizer(strategy.Limits{
			RiskPct:          cfg.Strategy.RiskPct,
			MaxOpenPositions: cfg.Strategy.MaxOpenPositions,
		}, logger)
		ctrl.Register(strategy.NewCross(strategy.CrossParams{
			Symbol:      symbol,
			FastPeriod:  cfg.Strategy.FastPeriod,
			SlowPeriod:  cfg.Strategy.SlowPeriod,
			StopPoints:  cfg.Strategy.StopPoints,
			TakePoints:  cfg.Strategy.TakePoints,
			TrailPoints: cfg.Strategy.TrailPoints,
			Deviation:   cfg.Strategy.Deviation,
			Magic:       cfg.Strategy.Magic,
		}, sizer, logger))
	}

	var apiServer *api.Server
	if cfg.Monitor.Enabled {
		provider := &monitorProvider{engine: eng, cursor: cursor, total: len(store.Range())}
		apiServer = api.NewServer(cfg.Monitor, provider, logger)
		go func() {
			if err := apiServer.Start(); err != nil {
				logger.Error("monitor server failed", "error", err)
			}
		}()
		logger.Info("monitor started", "url", fmt.Sprintf("http://localhost:%d", cfg.Monitor.Port))

		ctrl.OnTick(func(virtualTime int64, acc types.AccountInfo) {
			apiServer.PublishTick(api.TickEvent{
				Time:          virtualTime,
				Balance:       acc.Balance,
				Equity:        acc.Equity,
				Profit:        acc.Profit,
				Margin:        acc.Margin,
				MarginLevel:   acc.MarginLevel,
				OpenPositions: eng.PositionsTotal(),
				Progress:      provider.progress(),
			})
		})
		eng.OnClose(func(deal types.TradeDeal) {
			apiServer.PublishClose(api.CloseEvent{
				Ticket: deal.PositionID,
				Symbol: deal.Symbol,
				Profit: deal.Profit,
				Reason: deal.Reason.String(),
			})
		})
		ctrl.OnBurnOut(func(virtualTime int64, reason string) {
			apiServer.PublishBurnOut(api.BurnOutEvent{Time: virtualTime, Reason: reason})
		})
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig.String())
		ctrl.StopBacktesting()
	}()

	logger.Info("backtest starting",
		"name", cfg.Name,
		"range", fmt.Sprintf("[%d, %d)", cfg.Backtest.Start, cfg.Backtest.End),
		"speed", cfg.Backtest.Speed,
		"symbols", cfg.Data.Symbols,
		"balance", cfg.Account.Balance,
	)

	runErr := ctrl.Run(ctx)

	if err := snapStore.Save(snapshot.Capture(eng, store)); err != nil {
		logger.Error("failed to save snapshot", "error", err)
	}
	rep := snapshot.BuildReport(eng)
	if err := snapStore.SaveReport(rep); err != nil {
		logger.Error("failed to save report", "error", err)
	}

	logger.Info("backtest finished",
		"net_profit", rep.Summary.NetProfit,
		"closed_trades", rep.Summary.ClosedTrades,
		"wins", rep.Summary.Wins,
		"losses", rep.Summary.Losses,
		"balance", led.Info().Balance,
	)

	if apiServer != nil {
		if err := apiServer.Stop(); err != nil {
			logger.Error("failed to stop monitor", "error", err)
		}
	}

	return runErr
}

// loadHistory picks the market data source: a resumable snapshot, the
// terminal bridge, or pre-exported files. Returns the gateway when one was
// built so delegated calculation can reuse it.
func loadHistory(ctx context.Context, cfg *config.Config, snap *snapshot.BackTestData, logger *slog.Logger) (*data.History, *bridge.Gateway, error) {
	if snap != nil && snap.FullyLoaded {
		return &data.History{
			Symbols: snap.Symbols,
			Ticks:   snap.Ticks,
			Rates:   snap.Rates,
		}, nil, nil
	}

	if cfg.Backtest.Preload {
		gateway := bridge.NewGateway(cfg.Bridge, logger)
		frames := []types.Timeframe{types.M1, types.M5, types.M15, types.H1, types.D1}
		hist, err := data.Preload(ctx, gateway, cfg.Data.Symbols, frames,
			cfg.Backtest.Start, cfg.Backtest.End, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("preload history: %w", err)
		}
		return hist, gateway, nil
	}

	hist, err := data.LoadDir(cfg.Data.Dir, cfg.Data.Symbols)
	if err != nil {
		return nil, nil, fmt.Errorf("load history: %w", err)
	}
	return hist, nil, nil
}

// monitorProvider feeds the api server from the running session.
type monitorProvider struct {
	engine *engine.Engine
	cursor *data.Cursor
	total  int
}

func (p *monitorProvider) MonitorSnapshot() api.Snapshot {
	return api.Snapshot{
		Name:          p.engine.Name(),
		Time:          p.engine.CurrentTime(),
		Progress:      p.progress(),
		Account:       p.engine.AccountInfo(),
		OpenPositions: p.engine.Positions(0, "", ""),
	}
}

func (p *monitorProvider) progress() float64 {
	if p.total == 0 {
		return 0
	}
	return float64(p.cursor.Index()+1) / float64(p.total)
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
