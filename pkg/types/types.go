// Package types defines shared data structures used across all packages.
//
// This package is the common vocabulary for the backtester — ticks, OHLC
// rates, instrument and account metadata, trade requests and the records
// they produce, plus the broker retcode taxonomy. It has no dependencies
// on internal packages, so it can be imported by any layer.
package types

// ————————————————————————————————————————————————————————————————————————
// Core enums
// ————————————————————————————————————————————————————————————————————————

// OrderType is the direction of a market order: BUY or SELL.
type OrderType int

const (
	OrderTypeBuy  OrderType = 0
	OrderTypeSell OrderType = 1
)

// Opposite returns the closing direction for this order type.
func (t OrderType) Opposite() OrderType {
	if t == OrderTypeBuy {
		return OrderTypeSell
	}
	return OrderTypeBuy
}

func (t OrderType) String() string {
	if t == OrderTypeBuy {
		return "BUY"
	}
	return "SELL"
}

// TradeAction identifies the kind of trade request. Only market deals and
// SL/TP modification are supported; pending orders are out of scope.
type TradeAction int

const (
	TradeActionDeal TradeAction = 1 // immediate market execution
	TradeActionSLTP TradeAction = 6 // modify stop loss / take profit
)

// DealEntry marks which side of a position lifecycle a deal belongs to.
type DealEntry int

const (
	DealEntryIn    DealEntry = 0 // position opened
	DealEntryOut   DealEntry = 1 // position closed
	DealEntryInOut DealEntry = 2 // reversal
	DealEntryOutBy DealEntry = 3 // closed by an opposite position
)

// DealReason records why a deal was executed.
type DealReason int

const (
	DealReasonClient DealReason = 0 // manual request from the strategy
	DealReasonExpert DealReason = 3 // automated request
	DealReasonSL     DealReason = 4 // stop loss triggered
	DealReasonTP     DealReason = 5 // take profit triggered
	DealReasonSO     DealReason = 6 // stop out (margin call)
)

func (r DealReason) String() string {
	switch r {
	case DealReasonSL:
		return "SL"
	case DealReasonTP:
		return "TP"
	case DealReasonSO:
		return "SO"
	case DealReasonExpert:
		return "EXPERT"
	default:
		return "CLIENT"
	}
}

// OrderState is the lifecycle state of an order record. In a backtest every
// accepted market order fills immediately, so the only states ever recorded
// are Filled and Rejected.
type OrderState int

const (
	OrderStateStarted  OrderState = 0
	OrderStatePlaced   OrderState = 1
	OrderStateCanceled OrderState = 2
	OrderStatePartial  OrderState = 3
	OrderStateFilled   OrderState = 4
	OrderStateRejected OrderState = 5
)

// CalcMode selects the margin/profit formula for an instrument.
type CalcMode int

const (
	CalcModeForex           CalcMode = 0
	CalcModeFutures         CalcMode = 1
	CalcModeCFD             CalcMode = 2
	CalcModeCFDIndex        CalcMode = 3
	CalcModeCFDLeverage     CalcMode = 4
	CalcModeForexNoLeverage CalcMode = 5
)

// SymbolTradeMode restricts which order directions an instrument accepts.
type SymbolTradeMode int

const (
	SymbolTradeDisabled  SymbolTradeMode = 0
	SymbolTradeLongOnly  SymbolTradeMode = 1
	SymbolTradeShortOnly SymbolTradeMode = 2
	SymbolTradeCloseOnly SymbolTradeMode = 3
	SymbolTradeFull      SymbolTradeMode = 4
)

// ————————————————————————————————————————————————————————————————————————
// Timeframes
// ————————————————————————————————————————————————————————————————————————

// Timeframe is a canonical bar duration. The set is closed: unknown values
// are rejected at the API boundary by ParseTimeframe rather than derived
// from strings at call time.
type Timeframe string

const (
	M1  Timeframe = "M1"
	M2  Timeframe = "M2"
	M3  Timeframe = "M3"
	M4  Timeframe = "M4"
	M5  Timeframe = "M5"
	M6  Timeframe = "M6"
	M10 Timeframe = "M10"
	M15 Timeframe = "M15"
	M20 Timeframe = "M20"
	M30 Timeframe = "M30"
	H1  Timeframe = "H1"
	H2  Timeframe = "H2"
	H3  Timeframe = "H3"
	H4  Timeframe = "H4"
	H6  Timeframe = "H6"
	H8  Timeframe = "H8"
	D1  Timeframe = "D1"
	W1  Timeframe = "W1"
	MN1 Timeframe = "MN1"
)

var timeframeSeconds = map[Timeframe]int64{
	M1: 60, M2: 120, M3: 180, M4: 240, M5: 300, M6: 360,
	M10: 600, M15: 900, M20: 1200, M30: 1800,
	H1: 3600, H2: 7200, H3: 10800, H4: 14400, H6: 21600, H8: 28800,
	D1: 86400, W1: 604800, MN1: 2592000,
}

// Seconds returns the canonical duration of the timeframe in seconds,
// or 0 for an unknown timeframe.
func (tf Timeframe) Seconds() int64 {
	return timeframeSeconds[tf]
}

// Valid reports whether tf is one of the canonical timeframes.
func (tf Timeframe) Valid() bool {
	_, ok := timeframeSeconds[tf]
	return ok
}

// ParseTimeframe resolves a string to a canonical Timeframe.
func ParseTimeframe(s string) (Timeframe, bool) {
	tf := Timeframe(s)
	return tf, tf.Valid()
}

// Timeframes returns the full set of canonical timeframes.
func Timeframes() []Timeframe {
	return []Timeframe{
		M1, M2, M3, M4, M5, M6, M10, M15, M20, M30,
		H1, H2, H3, H4, H6, H8, D1, W1, MN1,
	}
}

// ————————————————————————————————————————————————————————————————————————
// Retcodes
// ————————————————————————————————————————————————————————————————————————

// Retcode is the structured result code of a broker-shaped operation.
// Strategies consume retcodes; the engine never surfaces validation
// failures as errors.
type Retcode int

const (
	RetcodeRequote            Retcode = 10004
	RetcodeReject             Retcode = 10006
	RetcodeCancel             Retcode = 10007
	RetcodePlaced             Retcode = 10008
	RetcodeDone               Retcode = 10009
	RetcodeDonePartial        Retcode = 10010
	RetcodeError              Retcode = 10011
	RetcodeTimeout            Retcode = 10012
	RetcodeInvalid            Retcode = 10013
	RetcodeInvalidVolume      Retcode = 10014
	RetcodeInvalidPrice       Retcode = 10015
	RetcodeInvalidStops       Retcode = 10016
	RetcodeTradeDisabled      Retcode = 10017
	RetcodeMarketClosed       Retcode = 10018
	RetcodeNoMoney            Retcode = 10019
	RetcodePriceChanged       Retcode = 10020
	RetcodePriceOff           Retcode = 10021
	RetcodeInvalidExpiration  Retcode = 10022
	RetcodeOrderChanged       Retcode = 10023
	RetcodeNoChanges          Retcode = 10025
	RetcodeLocked             Retcode = 10028
	RetcodeFrozen             Retcode = 10029
	RetcodeInvalidFill        Retcode = 10030
	RetcodeLimitOrders        Retcode = 10033
	RetcodeLimitVolume        Retcode = 10034
	RetcodeInvalidOrder       Retcode = 10035
	RetcodePositionClosed     Retcode = 10036
	RetcodeInvalidCloseVolume Retcode = 10038
	RetcodeLimitPositions     Retcode = 10040
	RetcodeLongOnly           Retcode = 10042
	RetcodeShortOnly          Retcode = 10043
	RetcodeCloseOnly          Retcode = 10044
)

var retcodeNames = map[Retcode]string{
	RetcodeRequote:            "REQUOTE",
	RetcodeReject:             "REJECT",
	RetcodeCancel:             "CANCEL",
	RetcodePlaced:             "PLACED",
	RetcodeDone:               "DONE",
	RetcodeDonePartial:        "DONE_PARTIAL",
	RetcodeError:              "ERROR",
	RetcodeTimeout:            "TIMEOUT",
	RetcodeInvalid:            "INVALID",
	RetcodeInvalidVolume:      "INVALID_VOLUME",
	RetcodeInvalidPrice:       "INVALID_PRICE",
	RetcodeInvalidStops:       "INVALID_STOPS",
	RetcodeTradeDisabled:      "TRADE_DISABLED",
	RetcodeMarketClosed:       "MARKET_CLOSED",
	RetcodeNoMoney:            "NO_MONEY",
	RetcodePriceChanged:       "PRICE_CHANGED",
	RetcodePriceOff:           "PRICE_OFF",
	RetcodeInvalidExpiration:  "INVALID_EXPIRATION",
	RetcodeOrderChanged:       "ORDER_CHANGED",
	RetcodeNoChanges:          "NO_CHANGES",
	RetcodeLocked:             "LOCKED",
	RetcodeFrozen:             "FROZEN",
	RetcodeInvalidFill:        "INVALID_FILL",
	RetcodeLimitOrders:        "LIMIT_ORDERS",
	RetcodeLimitVolume:        "LIMIT_VOLUME",
	RetcodeInvalidOrder:       "INVALID_ORDER",
	RetcodePositionClosed:     "POSITION_CLOSED",
	RetcodeInvalidCloseVolume: "INVALID_CLOSE_VOLUME",
	RetcodeLimitPositions:     "LIMIT_POSITIONS",
	RetcodeLongOnly:           "LONG_ONLY",
	RetcodeShortOnly:          "SHORT_ONLY",
	RetcodeCloseOnly:          "CLOSE_ONLY",
}

func (rc Retcode) String() string {
	if name, ok := retcodeNames[rc]; ok {
		return name
	}
	return "UNKNOWN"
}

// ————————————————————————————————————————————————————————————————————————
// Market data
// ————————————————————————————————————————————————————————————————————————

// Tick is a single price update for a symbol at a specific second.
type Tick struct {
	Time    int64   `json:"time"` // seconds since epoch
	Bid     float64 `json:"bid"`
	Ask     float64 `json:"ask"`
	Last    float64 `json:"last"`
	Volume  uint64  `json:"volume"`
	TimeMsc int64   `json:"time_msc"` // original tick time in milliseconds
	Flags   uint32  `json:"flags"`
}

// Spread returns ask − bid.
func (t Tick) Spread() float64 {
	return t.Ask - t.Bid
}

// Rate is one OHLCV bar of a rate frame.
type Rate struct {
	Time       int64   `json:"time"` // bar open time, seconds since epoch
	Open       float64 `json:"open"`
	High       float64 `json:"high"`
	Low        float64 `json:"low"`
	Close      float64 `json:"close"`
	TickVolume uint64  `json:"tick_volume"`
	Spread     int     `json:"spread"`
	RealVolume uint64  `json:"real_volume"`
}

// SymbolInfo is the static instrument metadata of a catalog entry.
type SymbolInfo struct {
	Name              string          `json:"name"`
	Description       string          `json:"description"`
	Visible           bool            `json:"visible"`
	Digits            int             `json:"digits"`
	Point             float64         `json:"point"` // minimum price increment
	Spread            int             `json:"spread"`
	TradeCalcMode     CalcMode        `json:"trade_calc_mode"`
	TradeMode         SymbolTradeMode `json:"trade_mode"`
	TradeStopsLevel   int             `json:"trade_stops_level"` // min SL/TP distance in points
	TradeContractSize float64         `json:"trade_contract_size"`
	TradeTickValue    float64         `json:"trade_tick_value"`
	TradeTickSize     float64         `json:"trade_tick_size"`
	VolumeMin         float64         `json:"volume_min"`
	VolumeMax         float64         `json:"volume_max"`
	VolumeStep        float64         `json:"volume_step"`
	CurrencyBase      string          `json:"currency_base"`
	CurrencyProfit    string          `json:"currency_profit"`
	CurrencyMargin    string          `json:"currency_margin"`
}

// ————————————————————————————————————————————————————————————————————————
// Account and terminal
// ————————————————————————————————————————————————————————————————————————

// AccountInfo is a snapshot of the simulated account ledger.
//
// Invariants maintained by the ledger:
//
//	Equity      = Balance + Profit
//	MarginFree  = Equity − Margin
//	MarginLevel = Equity / Margin × 100   (0 when Margin == 0)
type AccountInfo struct {
	Login        int64   `json:"login"`
	TradeMode    int     `json:"trade_mode"` // 0 = demo
	Leverage     int64   `json:"leverage"`
	LimitOrders  int     `json:"limit_orders"`
	MarginSoCall float64 `json:"margin_so_call"` // margin call level, percent
	MarginSoSo   float64 `json:"margin_so_so"`   // stop out level, percent
	Balance      float64 `json:"balance"`
	Credit       float64 `json:"credit"`
	Profit       float64 `json:"profit"`
	Equity       float64 `json:"equity"`
	Margin       float64 `json:"margin"`
	MarginFree   float64 `json:"margin_free"`
	MarginLevel  float64 `json:"margin_level"`
	Currency     string  `json:"currency"`
	Server       string  `json:"server"`
	Name         string  `json:"name"`
}

// TerminalInfo mirrors the static terminal metadata a live terminal reports.
type TerminalInfo struct {
	Connected      bool   `json:"connected"`
	TradeAllowed   bool   `json:"trade_allowed"`
	Name           string `json:"name"`
	Company        string `json:"company"`
	Language       string `json:"language"`
	Path           string `json:"path"`
	Build          int    `json:"build"`
	MaxBars        int    `json:"maxbars"`
	CommunityScore float64
}

// Version is the terminal version triple (build version, build, release date).
type Version struct {
	Version     string `json:"version"`
	Build       int    `json:"build"`
	ReleaseDate string `json:"release_date"`
}

// ————————————————————————————————————————————————————————————————————————
// Trade requests and results
// ————————————————————————————————————————————————————————————————————————

// TradeRequest is the strategy-facing order request. Price is the requested
// execution price; Deviation is the accepted slippage from it in points.
type TradeRequest struct {
	Action    TradeAction `json:"action"`
	Symbol    string      `json:"symbol"`
	Volume    float64     `json:"volume"` // lots
	Type      OrderType   `json:"type"`
	Price     float64     `json:"price"`
	SL        float64     `json:"sl"` // 0 = no stop loss
	TP        float64     `json:"tp"` // 0 = no take profit
	Deviation int         `json:"deviation"`
	Magic     int64       `json:"magic"`
	Comment   string      `json:"comment"`
	Position  int64       `json:"position"` // ticket being closed/modified, 0 for new
}

// OrderCheckResult is the projection returned by an order check: the account
// state as it would be after the hypothetical trade, plus the retcode of the
// first failing validation (RetcodeDone when all pass).
type OrderCheckResult struct {
	Retcode     Retcode      `json:"retcode"`
	Balance     float64      `json:"balance"`
	Equity      float64      `json:"equity"`
	Profit      float64      `json:"profit"`
	Margin      float64      `json:"margin"`
	MarginFree  float64      `json:"margin_free"`
	MarginLevel float64      `json:"margin_level"`
	Comment     string       `json:"comment"`
	Request     TradeRequest `json:"request"`
}

// OrderSendResult reports the outcome of an order send. On success Order,
// Deal and Position carry the minted tickets and Price the fill price.
type OrderSendResult struct {
	Retcode  Retcode      `json:"retcode"`
	Deal     int64        `json:"deal"`
	Order    int64        `json:"order"`
	Position int64        `json:"position"`
	Volume   float64      `json:"volume"`
	Price    float64      `json:"price"`
	Bid      float64      `json:"bid"`
	Ask      float64      `json:"ask"`
	Comment  string       `json:"comment"`
	Request  TradeRequest `json:"request"`
}

// ————————————————————————————————————————————————————————————————————————
// Trade records
// ————————————————————————————————————————————————————————————————————————

// TradePosition is an open net exposure. Owned by the positions manager
// while open; the record survives closing so history can be reconstructed.
type TradePosition struct {
	Ticket       int64      `json:"ticket"`
	Symbol       string     `json:"symbol"`
	Type         OrderType  `json:"type"`
	Volume       float64    `json:"volume"`
	PriceOpen    float64    `json:"price_open"`
	SL           float64    `json:"sl"`
	TP           float64    `json:"tp"`
	PriceCurrent float64    `json:"price_current"`
	Profit       float64    `json:"profit"`
	Swap         float64    `json:"swap"`
	Time         int64      `json:"time"` // open time, seconds
	TimeMsc      int64      `json:"time_msc"`
	TimeUpdate   int64      `json:"time_update"`
	Magic        int64      `json:"magic"`
	Comment      string     `json:"comment"`
	Identifier   int64      `json:"identifier"`
	Reason       DealReason `json:"reason"`
}

// TradeOrder is the request-side historical record: one per order send,
// plus one per close and SL/TP modification.
type TradeOrder struct {
	Ticket        int64       `json:"ticket"`
	Symbol        string      `json:"symbol"`
	Action        TradeAction `json:"action"`
	Type          OrderType   `json:"type"`
	State         OrderState  `json:"state"`
	Price         float64     `json:"price"`
	SL            float64     `json:"sl"`
	TP            float64     `json:"tp"`
	TimeSetup     int64       `json:"time_setup"`
	TimeDone      int64       `json:"time_done"`
	VolumeInitial float64     `json:"volume_initial"`
	VolumeCurrent float64     `json:"volume_current"`
	PositionID    int64       `json:"position_id"`
	Magic         int64       `json:"magic"`
	Comment       string      `json:"comment"`
}

// TradeDeal is the fill-side historical record. Opening a position writes
// one IN deal; closing it writes one OUT deal carrying the realized profit.
type TradeDeal struct {
	Ticket     int64      `json:"ticket"`
	Order      int64      `json:"order"`
	PositionID int64      `json:"position_id"`
	Symbol     string     `json:"symbol"`
	Type       OrderType  `json:"type"`
	Entry      DealEntry  `json:"entry"`
	Volume     float64    `json:"volume"`
	Price      float64    `json:"price"`
	Profit     float64    `json:"profit"`
	Commission float64    `json:"commission"`
	Swap       float64    `json:"swap"`
	Time       int64      `json:"time"`
	TimeMsc    int64      `json:"time_msc"`
	Magic      int64      `json:"magic"`
	Reason     DealReason `json:"reason"`
}
