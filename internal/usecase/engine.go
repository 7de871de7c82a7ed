package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/vitos/crypto_gc_bot/internal/domain"
)

// EngineParams configures the position lifecycle.
type EngineParams struct {
	Signal           domain.SignalParams
	RSI              *domain.RSIFilter
	TakeProfitPct    float64
	StopLossPct      float64
	NotionalAmount   float64
	NotionalFraction *float64
	InitialCapital   float64
}

const (
	DefaultTakeProfitPct = 0.02
	DefaultStopLossPct   = 0.03
)

func (p EngineParams) Validate() error {
	if err := p.Signal.Validate(); err != nil {
		return err
	}
	if p.RSI != nil {
		if err := p.RSI.Validate(); err != nil {
			return err
		}
	}
	if p.TakeProfitPct <= 0 || p.StopLossPct <= 0 {
		return fmt.Errorf("%w: take-profit and stop-loss pct must be positive", domain.ErrInvalidParameters)
	}
	if p.NotionalFraction != nil {
		if *p.NotionalFraction <= 0 || *p.NotionalFraction > 1 {
			return fmt.Errorf("%w: notional fraction must be in (0, 1]", domain.ErrInvalidParameters)
		}
		if p.InitialCapital <= 0 {
			return fmt.Errorf("%w: fractional sizing requires positive initial capital", domain.ErrInvalidParameters)
		}
	} else if p.NotionalAmount <= 0 {
		return fmt.Errorf("%w: notional amount must be positive", domain.ErrInvalidParameters)
	}
	return nil
}

// SignalResult reports what the detector saw this bar. RSI is only set
// when the entry filter is enabled; RSIBlocked marks a fresh cross the
// filter rejected.
type SignalResult struct {
	BarTime    time.Time `json:"bar_ts"`
	IsCross    bool      `json:"is_cross"`
	Suppressed bool      `json:"suppressed"`
	Price      float64   `json:"price"`
	ShortSMA   float64   `json:"sma_short"`
	LongSMA    float64   `json:"sma_long"`
	RSI        *float64  `json:"rsi,omitempty"`
	RSIBlocked bool      `json:"rsi_blocked,omitempty"`
}

// OrderResult reports an opened position.
type OrderResult struct {
	Fill       domain.Fill `json:"fill"`
	Notional   float64     `json:"notional"`
	TakeProfit float64     `json:"tp"`
	StopLoss   float64     `json:"sl"`
}

// CloseResult reports a closed position.
type CloseResult struct {
	Reason domain.ExitReason  `json:"reason"`
	Fill   domain.Fill        `json:"fill"`
	Record domain.TradeRecord `json:"record"`
}

// StateMeta is the post-step snapshot returned to the caller.
type StateMeta struct {
	Status          domain.PositionStatus `json:"status"`
	RealizedPnL     float64               `json:"pnl_cum"`
	ConsecutiveLoss int                   `json:"consecutive_losses"`
	LastSignalBarTS time.Time             `json:"last_signal_bar_ts"`
}

// StepResult aggregates everything a single bar evaluation produced.
// Order and Close are nil when no transition happened.
type StepResult struct {
	Signal SignalResult `json:"signal"`
	Order  *OrderResult `json:"order,omitempty"`
	Close  *CloseResult `json:"close,omitempty"`
	State  StateMeta    `json:"state"`
}

// PositionEngine drives the Flat/Long state machine. It owns every
// mutation of PositionState; persistence goes through the injected
// store so live runs and backtests share identical transition logic.
type PositionEngine struct {
	params   EngineParams
	executor *OrderExecutor
	store    domain.StateStore
	symbol   string
}

func NewPositionEngine(params EngineParams, executor *OrderExecutor, store domain.StateStore, symbol string) (*PositionEngine, error) {
	if params.TakeProfitPct == 0 {
		params.TakeProfitPct = DefaultTakeProfitPct
	}
	if params.StopLossPct == 0 {
		params.StopLossPct = DefaultStopLossPct
	}
	if params.RSI != nil && params.RSI.Period == 0 {
		filter := *params.RSI
		filter.Period = domain.DefaultRSIPeriod
		params.RSI = &filter
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if executor == nil || store == nil {
		return nil, fmt.Errorf("%w: executor and store are required", domain.ErrInvalidParameters)
	}
	return &PositionEngine{params: params, executor: executor, store: store, symbol: symbol}, nil
}

// Step evaluates one bar: detect a cross, open when flat and the cross
// is fresh, otherwise check the exit thresholds while long. The caller
// must hold the state lock. A failed execution returns the error with
// the state untouched; re-running the same bar is safe.
func (e *PositionEngine) Step(ctx context.Context, state *domain.PositionState, bars []domain.Candle, forceClose bool) (*StepResult, error) {
	signal, err := ComputeSignal(bars, e.params.Signal)
	if err != nil {
		return nil, err
	}

	// A bar may trigger at most one entry across restarts and retries.
	suppressed := signal.IsCross && signal.BarTime.Equal(state.LastSignalBarTS)

	// The RSI filter vetoes the entry but never re-arms the cross: a
	// rejected bar is spent, the same cross is not retried later.
	rsiPass := true
	var rsiValue *float64
	if e.params.RSI != nil {
		v := ComputeRSI(bars, e.params.RSI.Period)
		rsiValue = &v
		rsiPass = e.params.RSI.Allows(v)
	}

	result := &StepResult{
		Signal: SignalResult{
			BarTime:    signal.BarTime,
			IsCross:    signal.IsCross,
			Suppressed: suppressed,
			Price:      signal.Price,
			ShortSMA:   signal.ShortSMA,
			LongSMA:    signal.LongSMA,
			RSI:        rsiValue,
			RSIBlocked: signal.IsCross && !suppressed && !rsiPass,
		},
	}

	opened := false
	if state.Status == domain.StatusFlat && signal.IsCross && !suppressed && rsiPass {
		order, err := e.open(ctx, state, signal)
		if err != nil {
			return nil, err
		}
		result.Order = order
		opened = order != nil
	} else {
		closeRes, err := e.CloseIfReached(ctx, state, signal.Price, signal.BarTime, false)
		if err != nil {
			return nil, err
		}
		result.Close = closeRes
	}

	// Forced closes settle the book at the end of a replay. A position
	// opened on this very bar stays open; it never saw a later price.
	if forceClose && !opened && state.Status == domain.StatusLong {
		closeRes, err := e.CloseIfReached(ctx, state, signal.Price, signal.BarTime, true)
		if err != nil {
			return nil, err
		}
		result.Close = closeRes
	}

	state.LastSignalBarTS = signal.BarTime
	state.LastUpdated = signal.BarTime
	if err := e.store.Save(state); err != nil {
		return nil, err
	}

	result.State = StateMeta{
		Status:          state.Status,
		RealizedPnL:     state.RealizedPnL,
		ConsecutiveLoss: state.ConsecutiveLoss,
		LastSignalBarTS: state.LastSignalBarTS,
	}
	return result, nil
}

// open sizes and executes an entry, then records it on the state.
// Returns nil without error when sizing produces nothing to buy.
func (e *PositionEngine) open(ctx context.Context, state *domain.PositionState, signal domain.Signal) (*OrderResult, error) {
	notional := e.effectiveNotional(state)
	if notional <= 0 {
		return nil, nil
	}

	fill, err := e.executor.Execute(ctx, domain.OrderIntent{
		Side:           domain.SideBuy,
		Notional:       notional,
		ReferencePrice: signal.Price,
		Timestamp:      signal.BarTime,
	})
	if err != nil {
		return nil, err
	}

	tp := fill.Price * (1.0 + e.params.TakeProfitPct)
	sl := fill.Price * (1.0 - e.params.StopLossPct)

	state.Status = domain.StatusLong
	state.EntryPrice = fill.Price
	state.Quantity = fill.Quantity
	state.TakeProfitPrice = tp
	state.StopLossPrice = sl
	state.EntryFee = fill.Fee
	state.EntryTime = fill.Timestamp

	return &OrderResult{Fill: *fill, Notional: notional, TakeProfit: tp, StopLoss: sl}, nil
}

// CloseIfReached exits the position when price has reached the
// take-profit or stop-loss threshold, or unconditionally when force is
// set. Flat state is a no-op returning (nil, nil), never an error.
func (e *PositionEngine) CloseIfReached(ctx context.Context, state *domain.PositionState, price float64, ts time.Time, force bool) (*CloseResult, error) {
	if state.Status != domain.StatusLong {
		return nil, nil
	}

	var reason domain.ExitReason
	switch {
	case state.TakeProfitPrice > 0 && price >= state.TakeProfitPrice:
		reason = domain.ExitTakeProfit
	case state.StopLossPrice > 0 && price <= state.StopLossPrice:
		reason = domain.ExitStopLoss
	case force:
		reason = domain.ExitForcedClose
	default:
		return nil, nil
	}

	fill, err := e.executor.Execute(ctx, domain.OrderIntent{
		Side:           domain.SideSell,
		Quantity:       state.Quantity,
		ReferencePrice: price,
		Timestamp:      ts,
	})
	if err != nil {
		return nil, err
	}

	pnl := (fill.Price-state.EntryPrice)*fill.Quantity - state.EntryFee - fill.Fee

	record := domain.TradeRecord{
		Symbol:     e.symbol,
		EntryTime:  state.EntryTime,
		ExitTime:   fill.Timestamp,
		EntryPrice: state.EntryPrice,
		ExitPrice:  fill.Price,
		Quantity:   fill.Quantity,
		Reason:     reason,
		EntryFee:   state.EntryFee,
		ExitFee:    fill.Fee,
		Notional:   state.EntryPrice * state.Quantity,
		PnL:        pnl,
	}

	state.RealizedPnL += pnl
	state.BumpStreak(pnl)
	state.ClearToFlat()

	return &CloseResult{Reason: reason, Fill: *fill, Record: record}, nil
}

// ClosePersisted runs an exit check against a live price and persists
// the transition. Used by the intra-hour safety monitor between bars.
func (e *PositionEngine) ClosePersisted(ctx context.Context, state *domain.PositionState, price float64, ts time.Time) (*CloseResult, error) {
	closeRes, err := e.CloseIfReached(ctx, state, price, ts, false)
	if err != nil || closeRes == nil {
		return closeRes, err
	}
	state.LastUpdated = ts
	if err := e.store.Save(state); err != nil {
		return nil, err
	}
	return closeRes, nil
}

// effectiveNotional sizes the next entry. With fractional sizing the
// position scales with realized equity rather than a static amount.
func (e *PositionEngine) effectiveNotional(state *domain.PositionState) float64 {
	if e.params.NotionalFraction == nil {
		return e.params.NotionalAmount
	}
	capital := e.params.InitialCapital + state.RealizedPnL
	notional := capital * (*e.params.NotionalFraction)
	if notional < 0 {
		return 0
	}
	return notional
}
