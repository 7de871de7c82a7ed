package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/vitos/crypto_gc_bot/internal/domain"
	"go.uber.org/zap"
)

// TradingService orchestrates one live cycle: lock, load state, fetch
// candles, run the position engine, record fills. The whole
// read-modify-write of the position state happens under the store lock;
// the on-disk state is the only shared mutable resource in the live
// path.
type TradingService struct {
	engine    *PositionEngine
	store     domain.StateStore
	candles   *CandleService
	tradeRepo domain.TradeRepository
	symbol    string
	mode      domain.OrderMode
	lookback  int
	logger    *zap.Logger
}

func NewTradingService(
	engine *PositionEngine,
	store domain.StateStore,
	candles *CandleService,
	tradeRepo domain.TradeRepository,
	symbol string,
	mode domain.OrderMode,
	lookback int,
	logger *zap.Logger,
) (*TradingService, error) {
	if engine == nil || store == nil || candles == nil {
		return nil, fmt.Errorf("%w: engine, store and candle service are required", domain.ErrInvalidParameters)
	}
	if symbol == "" {
		return nil, fmt.Errorf("%w: symbol is required", domain.ErrInvalidParameters)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if lookback < 1 {
		lookback = 200
	}
	return &TradingService{
		engine:    engine,
		store:     store,
		candles:   candles,
		tradeRepo: tradeRepo,
		symbol:    symbol,
		mode:      mode,
		lookback:  lookback,
		logger:    logger,
	}, nil
}

// RunCycle executes a single bar evaluation against the latest
// confirmed candles. Intended to run once per hour; safe to re-run for
// the same bar thanks to duplicate-signal suppression.
func (s *TradingService) RunCycle(ctx context.Context) (*StepResult, error) {
	if err := s.store.AcquireLock(); err != nil {
		return nil, err
	}
	defer s.store.ReleaseLock()

	state, err := s.store.Load()
	if err != nil {
		return nil, err
	}

	bars, err := s.candles.FetchLatest(ctx, s.symbol, s.lookback)
	if err != nil {
		return nil, err
	}

	res, err := s.engine.Step(ctx, state, bars, false)
	if err != nil {
		return nil, err
	}

	s.recordStep(ctx, res)
	return res, nil
}

// CheckSafety evaluates exit thresholds against a streamed price
// between bars. No signal detection here, only TP/SL protection.
func (s *TradingService) CheckSafety(ctx context.Context, price float64) (*CloseResult, error) {
	if err := s.store.AcquireLock(); err != nil {
		return nil, err
	}
	defer s.store.ReleaseLock()

	state, err := s.store.Load()
	if err != nil {
		return nil, err
	}
	if state.Status != domain.StatusLong {
		return nil, nil
	}

	closeRes, err := s.engine.ClosePersisted(ctx, state, price, time.Now().UTC())
	if err != nil || closeRes == nil {
		return closeRes, err
	}
	s.recordClose(ctx, closeRes)
	return closeRes, nil
}

// recordStep appends trade-log rows for whatever the step executed.
// Logging failures never undo a completed transition.
func (s *TradingService) recordStep(ctx context.Context, res *StepResult) {
	if s.tradeRepo == nil {
		return
	}
	if res.Order != nil {
		entry := &domain.TradeLogEntry{
			Timestamp:  res.Order.Fill.Timestamp,
			Mode:       s.mode,
			Symbol:     s.symbol,
			Side:       domain.SideBuy,
			Quantity:   res.Order.Fill.Quantity,
			Price:      res.Order.Fill.Price,
			Notional:   res.Order.Fill.Notional,
			Fee:        res.Order.Fill.Fee,
			TakeProfit: res.Order.TakeProfit,
			StopLoss:   res.Order.StopLoss,
			OrderID:    res.Order.Fill.OrderID,
		}
		if err := s.tradeRepo.SaveTradeLog(ctx, entry); err != nil {
			s.logger.Warn("saving entry trade log", zap.Error(err))
		}
	}
	if res.Close != nil {
		s.recordClose(ctx, res.Close)
	}
}

func (s *TradingService) recordClose(ctx context.Context, closeRes *CloseResult) {
	if s.tradeRepo == nil {
		return
	}
	entry := &domain.TradeLogEntry{
		Timestamp: closeRes.Fill.Timestamp,
		Mode:      s.mode,
		Symbol:    s.symbol,
		Side:      domain.SideSell,
		Quantity:  closeRes.Fill.Quantity,
		Price:     closeRes.Fill.Price,
		Notional:  closeRes.Fill.Notional,
		Fee:       closeRes.Fill.Fee,
		OrderID:   closeRes.Fill.OrderID,
	}
	if err := s.tradeRepo.SaveTradeLog(ctx, entry); err != nil {
		s.logger.Warn("saving close trade log", zap.Error(err))
	}
	if err := s.tradeRepo.SavePositionHistory(ctx, &closeRes.Record); err != nil {
		s.logger.Warn("saving position history", zap.Error(err))
	}
}
