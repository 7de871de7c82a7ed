package usecase_test

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/vitos/crypto_gc_bot/internal/domain"
	"github.com/vitos/crypto_gc_bot/internal/usecase"
)

var testSignalParams = domain.SignalParams{ShortWindow: 2, LongWindow: 3, Epsilon: 1e-12}

// crossBars ends on a fresh upward cross at close 115.
func crossBars() []domain.Candle {
	return barsFromCloses(110, 108, 106, 104, 105, 115)
}

func newEngine(t *testing.T, params usecase.EngineParams, executor *usecase.OrderExecutor) (*usecase.PositionEngine, *usecase.MemoryStateStore) {
	t.Helper()
	store := usecase.NewMemoryStateStore()
	engine, err := usecase.NewPositionEngine(params, executor, store, "BTCUSDT")
	if err != nil {
		t.Fatal(err)
	}
	return engine, store
}

func TestStep_OpensOnFreshCross(t *testing.T) {
	executor := paperExecutor(t, 5, 10)
	engine, store := newEngine(t, usecase.EngineParams{
		Signal:         testSignalParams,
		NotionalAmount: 5000,
	}, executor)

	state, _ := store.Load()
	res, err := engine.Step(context.Background(), state, crossBars(), false)
	if err != nil {
		t.Fatal(err)
	}

	if !res.Signal.IsCross || res.Signal.Suppressed {
		t.Fatalf("expected a fresh cross, got %+v", res.Signal)
	}
	if res.Order == nil {
		t.Fatal("expected an entry order")
	}

	// Entry slips up from the bar close: 115 * 1.0005.
	wantPrice := 115 * 1.0005
	if math.Abs(res.Order.Fill.Price-wantPrice) > 1e-9 {
		t.Fatalf("entry price: want %v, got %v", wantPrice, res.Order.Fill.Price)
	}
	wantTP := wantPrice * (1 + usecase.DefaultTakeProfitPct)
	wantSL := wantPrice * (1 - usecase.DefaultStopLossPct)
	if math.Abs(res.Order.TakeProfit-wantTP) > 1e-9 || math.Abs(res.Order.StopLoss-wantSL) > 1e-9 {
		t.Fatalf("thresholds: want tp=%v sl=%v, got tp=%v sl=%v", wantTP, wantSL, res.Order.TakeProfit, res.Order.StopLoss)
	}

	saved, _ := store.Load()
	if saved.Status != domain.StatusLong {
		t.Fatalf("state must be LONG after entry, got %s", saved.Status)
	}
	if saved.EntryFee != res.Order.Fill.Fee {
		t.Fatal("entry fee must be recorded for net PnL at close")
	}
	if !saved.LastSignalBarTS.Equal(res.Signal.BarTime) {
		t.Fatal("last signal bar must advance to the evaluated bar")
	}
}

func TestStep_DuplicateCrossSuppressed(t *testing.T) {
	executor := paperExecutor(t, 0, 0)
	engine, store := newEngine(t, usecase.EngineParams{
		Signal:         testSignalParams,
		NotionalAmount: 5000,
	}, executor)

	bars := crossBars()
	state, _ := store.Load()
	if _, err := engine.Step(context.Background(), state, bars, false); err != nil {
		t.Fatal(err)
	}

	// Same bar re-evaluated, e.g. after a crash and restart. The close
	// branch runs instead of a second entry; at close 115 neither
	// threshold is hit, so nothing happens.
	state, _ = store.Load()
	res, err := engine.Step(context.Background(), state, bars, false)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Signal.Suppressed {
		t.Fatal("same-bar cross must be suppressed")
	}
	if res.Order != nil || res.Close != nil {
		t.Fatalf("suppressed bar must not transition: %+v", res)
	}
	if res.State.Status != domain.StatusLong {
		t.Fatalf("position must stay LONG, got %s", res.State.Status)
	}
}

func TestStep_ClosesOnTakeProfit(t *testing.T) {
	executor := paperExecutor(t, 0, 10)
	engine, store := newEngine(t, usecase.EngineParams{
		Signal:         testSignalParams,
		NotionalAmount: 5000,
	}, executor)

	bars := crossBars()
	state, _ := store.Load()
	if _, err := engine.Step(context.Background(), state, bars, false); err != nil {
		t.Fatal(err)
	}
	// Entry 115, TP 117.3. Next bar closes above it.
	next := domain.Candle{Time: bars[len(bars)-1].Time.Add(time.Hour), Open: 118, High: 118, Low: 118, Close: 118, Volume: 1}
	bars = append(bars, next)

	state, _ = store.Load()
	res, err := engine.Step(context.Background(), state, bars, false)
	if err != nil {
		t.Fatal(err)
	}
	if res.Close == nil {
		t.Fatal("expected a take-profit close")
	}
	if res.Close.Reason != domain.ExitTakeProfit {
		t.Fatalf("reason: want TAKE_PROFIT, got %s", res.Close.Reason)
	}

	// Net PnL subtracts both fees.
	qty := 5000.0 / 115.0
	entryFee := 5000.0 * 0.001
	exitFee := 118.0 * qty * 0.001
	wantPnL := (118.0-115.0)*qty - entryFee - exitFee
	if math.Abs(res.Close.Record.PnL-wantPnL) > 1e-9 {
		t.Fatalf("pnl: want %v, got %v", wantPnL, res.Close.Record.PnL)
	}

	saved, _ := store.Load()
	if saved.Status != domain.StatusFlat {
		t.Fatalf("state must be FLAT after close, got %s", saved.Status)
	}
	if math.Abs(saved.RealizedPnL-wantPnL) > 1e-9 {
		t.Fatalf("realized pnl: want %v, got %v", wantPnL, saved.RealizedPnL)
	}
	if saved.ConsecutiveLoss != 0 {
		t.Fatal("a winning close must reset the loss streak")
	}
	if saved.EntryPrice != 0 || saved.Quantity != 0 || saved.TakeProfitPrice != 0 {
		t.Fatalf("position fields must be cleared, got %+v", saved)
	}
}

func TestStep_ClosesOnStopLoss(t *testing.T) {
	executor := paperExecutor(t, 0, 0)
	engine, store := newEngine(t, usecase.EngineParams{
		Signal:         testSignalParams,
		NotionalAmount: 5000,
	}, executor)

	bars := crossBars()
	state, _ := store.Load()
	if _, err := engine.Step(context.Background(), state, bars, false); err != nil {
		t.Fatal(err)
	}
	// Entry 115, SL 111.55. Next bar closes below it.
	next := domain.Candle{Time: bars[len(bars)-1].Time.Add(time.Hour), Open: 110, High: 110, Low: 110, Close: 110, Volume: 1}
	bars = append(bars, next)

	state, _ = store.Load()
	res, err := engine.Step(context.Background(), state, bars, false)
	if err != nil {
		t.Fatal(err)
	}
	if res.Close == nil || res.Close.Reason != domain.ExitStopLoss {
		t.Fatalf("expected a stop-loss close, got %+v", res.Close)
	}
	if res.Close.Record.PnL >= 0 {
		t.Fatalf("stop loss must realize a loss, got %v", res.Close.Record.PnL)
	}

	saved, _ := store.Load()
	if saved.ConsecutiveLoss != 1 {
		t.Fatalf("loss streak: want 1, got %d", saved.ConsecutiveLoss)
	}
}

func TestStep_FailedExecutionLeavesStateUntouched(t *testing.T) {
	boom := errors.New("exchange down")
	ex := &MockExchange{
		Constraints: domain.MarketConstraints{QtyStep: 0.001},
		OrderErrs:   []error{boom, boom},
	}
	executor, err := usecase.NewOrderExecutor(usecase.ExecutorConfig{
		Mode:         domain.ModeReal,
		Symbol:       "BTCUSDT",
		MaxRetries:   2,
		RetryBackoff: time.Millisecond,
	}, ex)
	if err != nil {
		t.Fatal(err)
	}
	engine, store := newEngine(t, usecase.EngineParams{
		Signal:         testSignalParams,
		NotionalAmount: 5000,
	}, executor)

	state, _ := store.Load()
	_, err = engine.Step(context.Background(), state, crossBars(), false)
	if !errors.Is(err, domain.ErrExecutionFailed) {
		t.Fatalf("expected ErrExecutionFailed, got %v", err)
	}

	// Nothing persisted: the next cycle may retry the same bar.
	saved, _ := store.Load()
	if saved.Status != domain.StatusFlat {
		t.Fatalf("state must remain FLAT, got %s", saved.Status)
	}
	if !saved.LastSignalBarTS.IsZero() {
		t.Fatal("last signal bar must not advance on a failed execution")
	}
}

func TestStep_ForceCloseSettlesOpenPosition(t *testing.T) {
	executor := paperExecutor(t, 0, 0)
	engine, store := newEngine(t, usecase.EngineParams{
		Signal:         testSignalParams,
		NotionalAmount: 5000,
	}, executor)

	bars := crossBars()
	state, _ := store.Load()
	if _, err := engine.Step(context.Background(), state, bars, false); err != nil {
		t.Fatal(err)
	}
	// A later bar between the thresholds: only a forced close exits.
	next := domain.Candle{Time: bars[len(bars)-1].Time.Add(time.Hour), Open: 116, High: 116, Low: 116, Close: 116, Volume: 1}
	bars = append(bars, next)

	state, _ = store.Load()
	res, err := engine.Step(context.Background(), state, bars, true)
	if err != nil {
		t.Fatal(err)
	}
	if res.Close == nil || res.Close.Reason != domain.ExitForcedClose {
		t.Fatalf("expected a forced close, got %+v", res.Close)
	}
}

func TestStep_ForceCloseSkipsSameBarEntry(t *testing.T) {
	executor := paperExecutor(t, 0, 0)
	engine, store := newEngine(t, usecase.EngineParams{
		Signal:         testSignalParams,
		NotionalAmount: 5000,
	}, executor)

	// The cross lands on the final bar of a replay. The position opens
	// there and never sees a later price, so it stays open.
	state, _ := store.Load()
	res, err := engine.Step(context.Background(), state, crossBars(), true)
	if err != nil {
		t.Fatal(err)
	}
	if res.Order == nil {
		t.Fatal("expected an entry on the final bar")
	}
	if res.Close != nil {
		t.Fatal("a position opened on the final bar must not be force-closed")
	}
	if res.State.Status != domain.StatusLong {
		t.Fatalf("state: want LONG, got %s", res.State.Status)
	}
}

func TestCloseIfReached_FlatIsNoop(t *testing.T) {
	executor := paperExecutor(t, 0, 0)
	engine, _ := newEngine(t, usecase.EngineParams{
		Signal:         testSignalParams,
		NotionalAmount: 5000,
	}, executor)

	res, err := engine.CloseIfReached(context.Background(), domain.NewPositionState(), 100, time.Now().UTC(), true)
	if err != nil {
		t.Fatalf("flat close check must not error, got %v", err)
	}
	if res != nil {
		t.Fatalf("flat close check must return nil, got %+v", res)
	}
}

func TestEffectiveNotional_FractionalSizing(t *testing.T) {
	executor := paperExecutor(t, 0, 0)
	frac := 0.5
	engine, store := newEngine(t, usecase.EngineParams{
		Signal:           testSignalParams,
		NotionalFraction: &frac,
		InitialCapital:   10000,
	}, executor)

	state, _ := store.Load()
	res, err := engine.Step(context.Background(), state, crossBars(), false)
	if err != nil {
		t.Fatal(err)
	}
	if res.Order == nil {
		t.Fatal("expected an entry")
	}
	// (10000 + 0) * 0.5 at price 115.
	if math.Abs(res.Order.Notional-5000) > 1e-9 {
		t.Fatalf("notional: want 5000, got %v", res.Order.Notional)
	}
	wantQty := 5000.0 / 115.0
	if math.Abs(res.Order.Fill.Quantity-wantQty) > 1e-9 {
		t.Fatalf("quantity: want %v, got %v", wantQty, res.Order.Fill.Quantity)
	}
}

func TestNewPositionEngine_RejectsBadSizing(t *testing.T) {
	executor := paperExecutor(t, 0, 0)
	store := usecase.NewMemoryStateStore()

	badFrac := 1.5
	cases := []usecase.EngineParams{
		{Signal: testSignalParams, NotionalAmount: 0},
		{Signal: testSignalParams, NotionalAmount: -100},
		{Signal: testSignalParams, NotionalFraction: &badFrac, InitialCapital: 1000},
	}
	for _, params := range cases {
		if _, err := usecase.NewPositionEngine(params, executor, store, "BTCUSDT"); !errors.Is(err, domain.ErrInvalidParameters) {
			t.Errorf("params %+v: expected ErrInvalidParameters, got %v", params, err)
		}
	}
}

func TestStep_RSIFilterAllowsEntryInsideBand(t *testing.T) {
	executor := paperExecutor(t, 0, 0)
	min := 50.0
	engine, store := newEngine(t, usecase.EngineParams{
		Signal:         testSignalParams,
		RSI:            &domain.RSIFilter{Period: 3, Min: &min},
		NotionalAmount: 5000,
	}, executor)

	// crossBars carries a period-3 RSI of exactly 80 on the last bar.
	state, _ := store.Load()
	res, err := engine.Step(context.Background(), state, crossBars(), false)
	if err != nil {
		t.Fatal(err)
	}
	if res.Order == nil {
		t.Fatal("RSI above the min bound must not block the entry")
	}
	if res.Signal.RSI == nil || math.Abs(*res.Signal.RSI-80) > 1e-9 {
		t.Fatalf("reported RSI: want 80, got %+v", res.Signal.RSI)
	}
	if res.Signal.RSIBlocked {
		t.Fatal("an allowed entry must not be marked blocked")
	}
}

func TestStep_RSIFilterBlocksOverboughtEntry(t *testing.T) {
	executor := paperExecutor(t, 0, 0)
	max := 70.0
	engine, store := newEngine(t, usecase.EngineParams{
		Signal:         testSignalParams,
		RSI:            &domain.RSIFilter{Period: 3, Max: &max},
		NotionalAmount: 5000,
	}, executor)

	bars := crossBars()
	state, _ := store.Load()
	res, err := engine.Step(context.Background(), state, bars, false)
	if err != nil {
		t.Fatal(err)
	}
	if res.Order != nil {
		t.Fatal("RSI 80 above max 70 must veto the entry")
	}
	if !res.Signal.IsCross || !res.Signal.RSIBlocked {
		t.Fatalf("expected a blocked cross, got %+v", res.Signal)
	}
	if res.State.Status != domain.StatusFlat {
		t.Fatalf("state must stay FLAT, got %s", res.State.Status)
	}

	// The vetoed cross is spent: re-evaluating the same bar is a
	// suppressed duplicate, never a second chance at the entry.
	if !res.State.LastSignalBarTS.Equal(res.Signal.BarTime) {
		t.Fatal("last signal bar must advance past a vetoed cross")
	}
	state, _ = store.Load()
	res, err = engine.Step(context.Background(), state, bars, false)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Signal.Suppressed || res.Order != nil {
		t.Fatalf("vetoed cross must not be retried: %+v", res)
	}
}

func TestNewPositionEngine_RejectsBadRSIFilter(t *testing.T) {
	executor := paperExecutor(t, 0, 0)
	store := usecase.NewMemoryStateStore()

	low, high := 60.0, 40.0
	outOfRange := 150.0
	cases := []*domain.RSIFilter{
		{Period: 1},
		{Period: 14, Min: &low, Max: &high},
		{Period: 14, Min: &outOfRange},
	}
	for _, filter := range cases {
		params := usecase.EngineParams{Signal: testSignalParams, RSI: filter, NotionalAmount: 5000}
		if _, err := usecase.NewPositionEngine(params, executor, store, "BTCUSDT"); !errors.Is(err, domain.ErrInvalidParameters) {
			t.Errorf("filter %+v: expected ErrInvalidParameters, got %v", filter, err)
		}
	}
}
