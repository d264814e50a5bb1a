package api

import (
	"time"

	"mt5-backtest/pkg/types"
)

// Event wraps every message sent to monitor clients.
type Event struct {
	Type      string    `json:"type"` // "snapshot", "tick", "close", "burnout"
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
}

// TickEvent reports the account after one advanced virtual tick.
type TickEvent struct {
	Time          int64   `json:"time"` // virtual time, unix seconds
	Balance       float64 `json:"balance"`
	Equity        float64 `json:"equity"`
	Profit        float64 `json:"profit"`
	Margin        float64 `json:"margin"`
	MarginLevel   float64 `json:"margin_level"`
	OpenPositions int     `json:"open_positions"`
	Progress      float64 `json:"progress"` // fraction of the range consumed
}

// CloseEvent reports one closed position.
type CloseEvent struct {
	Ticket int64   `json:"ticket"`
	Symbol string  `json:"symbol"`
	Profit float64 `json:"profit"`
	Reason string  `json:"reason"` // CLIENT, EXPERT, SL, TP, SO
}

// BurnOutEvent reports session termination by account exhaustion.
type BurnOutEvent struct {
	Time   int64  `json:"time"`
	Reason string `json:"reason"`
}

// Snapshot is the monitor's one-shot view of the running session.
type Snapshot struct {
	Name          string                `json:"name"`
	Time          int64                 `json:"time"`
	Progress      float64               `json:"progress"`
	Account       types.AccountInfo     `json:"account"`
	OpenPositions []types.TradePosition `json:"open_positions"`
}

// SnapshotProvider supplies the monitor snapshot. Implemented by the session
// wiring, which holds both the engine and the cursor.
type SnapshotProvider interface {
	MonitorSnapshot() Snapshot
}
