package domain

import "time"

type PositionStatus string

const (
	StatusFlat PositionStatus = "FLAT"
	StatusLong PositionStatus = "LONG"
)

// StateSchemaVersion tags persisted PositionState records. Readers must
// tolerate unknown fields so newer writers stay forward-readable.
const StateSchemaVersion = 1

// PositionState is the single durable position record. Exactly one
// instance exists per running system; it is mutated only by the
// position engine and owned by the state store.
type PositionState struct {
	Version          int            `json:"version"`
	Status           PositionStatus `json:"status"`
	EntryPrice       float64        `json:"entry_price"`
	Quantity         float64        `json:"quantity"`
	TakeProfitPrice  float64        `json:"take_profit_price"`
	StopLossPrice    float64        `json:"stop_loss_price"`
	EntryFee         float64        `json:"entry_fee"`
	RealizedPnL      float64        `json:"realized_pnl"`
	ConsecutiveLoss  int            `json:"consecutive_losses"`
	LastSignalBarTS  time.Time      `json:"last_signal_bar_ts"`
	EntryTime        time.Time      `json:"entry_ts"`
	LastUpdated      time.Time      `json:"last_updated"`
	LastDailySummary string         `json:"last_daily_summary_date,omitempty"`
}

// NewPositionState returns the default flat state used on first run.
func NewPositionState() *PositionState {
	return &PositionState{Version: StateSchemaVersion, Status: StatusFlat}
}

// ClearToFlat resets all entry fields after a position is closed.
func (s *PositionState) ClearToFlat() {
	s.Status = StatusFlat
	s.EntryPrice = 0
	s.Quantity = 0
	s.TakeProfitPrice = 0
	s.StopLossPrice = 0
	s.EntryFee = 0
	s.EntryTime = time.Time{}
}

// BumpStreak updates the consecutive-loss counter from a trade outcome.
func (s *PositionState) BumpStreak(pnl float64) {
	if pnl < 0 {
		s.ConsecutiveLoss++
	} else {
		s.ConsecutiveLoss = 0
	}
}

type ExitReason string

const (
	ExitTakeProfit  ExitReason = "TAKE_PROFIT"
	ExitStopLoss    ExitReason = "STOP_LOSS"
	ExitForcedClose ExitReason = "FORCED_CLOSE"
)

// TradeRecord is one closed round trip, appended to the trade log.
type TradeRecord struct {
	Symbol     string     `json:"symbol"`
	EntryTime  time.Time  `json:"entry_ts"`
	ExitTime   time.Time  `json:"exit_ts"`
	EntryPrice float64    `json:"entry_price"`
	ExitPrice  float64    `json:"exit_price"`
	Quantity   float64    `json:"quantity"`
	Reason     ExitReason `json:"reason"`
	EntryFee   float64    `json:"entry_fee"`
	ExitFee    float64    `json:"exit_fee"`
	Notional   float64    `json:"notional"`
	PnL        float64    `json:"pnl"`
}

// TradeLogEntry is one append-only row per executed fill.
type TradeLogEntry struct {
	Timestamp  time.Time `json:"ts"`
	Mode       OrderMode `json:"mode"`
	Symbol     string    `json:"symbol"`
	Side       Side      `json:"side"`
	Quantity   float64   `json:"quantity"`
	Price      float64   `json:"price"`
	Notional   float64   `json:"notional"`
	Fee        float64   `json:"fee"`
	TakeProfit float64   `json:"tp,omitempty"`
	StopLoss   float64   `json:"sl,omitempty"`
	OrderID    string    `json:"order_id"`
}

// DailyMetrics is the per-date aggregate written after each cycle.
type DailyMetrics struct {
	Date        string  `json:"date"`
	Trades      int     `json:"trades"`
	Wins        int     `json:"win"`
	Losses      int     `json:"loss"`
	WinRate     float64 `json:"win_rate"`
	PnLDay      float64 `json:"pnl_day"`
	PnLCum      float64 `json:"pnl_cum"`
	MaxDrawdown float64 `json:"max_dd"`
}
