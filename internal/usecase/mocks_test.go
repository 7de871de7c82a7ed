package usecase_test

import (
	"context"
	"fmt"

	"github.com/vitos/crypto_gc_bot/internal/domain"
)

// MockExchange
type MockExchange struct {
	Price       float64
	Candles     []domain.Candle
	CandlesErr  error
	Constraints domain.MarketConstraints

	OrderFill    *domain.ExchangeFill
	OrderErrs    []error // consumed per call, nil entry means success
	PlacedOrders []placedOrder

	CandleCalls int
}

type placedOrder struct {
	Symbol string
	Side   domain.Side
	Qty    float64
}

func (m *MockExchange) GetCurrentPrice(ctx context.Context, symbol string) (float64, error) {
	return m.Price, nil
}

func (m *MockExchange) GetCandles(ctx context.Context, symbol, interval string, limit int) ([]domain.Candle, error) {
	m.CandleCalls++
	if m.CandlesErr != nil {
		return nil, m.CandlesErr
	}
	return m.Candles, nil
}

func (m *MockExchange) GetMarketConstraints(ctx context.Context, symbol string) (domain.MarketConstraints, error) {
	return m.Constraints, nil
}

func (m *MockExchange) PlaceMarketOrder(ctx context.Context, symbol string, side domain.Side, qty float64) (*domain.ExchangeFill, error) {
	call := len(m.PlacedOrders)
	m.PlacedOrders = append(m.PlacedOrders, placedOrder{Symbol: symbol, Side: side, Qty: qty})
	if call < len(m.OrderErrs) && m.OrderErrs[call] != nil {
		return nil, m.OrderErrs[call]
	}
	if m.OrderFill == nil {
		return nil, fmt.Errorf("no fill configured")
	}
	fill := *m.OrderFill
	fill.FilledQty = qty
	return &fill, nil
}

func (m *MockExchange) OnTradeUpdate(callback func(symbol string, side string, size float64, price float64)) {
}

func (m *MockExchange) Subscribe(symbols []string) error { return nil }

// MockTradeRepo records everything handed to it.
type MockTradeRepo struct {
	TradeLog []*domain.TradeLogEntry
	History  []*domain.TradeRecord
	Metrics  []*domain.DailyMetrics
	SaveErr  error
}

func (m *MockTradeRepo) SaveTradeLog(ctx context.Context, entry *domain.TradeLogEntry) error {
	if m.SaveErr != nil {
		return m.SaveErr
	}
	m.TradeLog = append(m.TradeLog, entry)
	return nil
}

func (m *MockTradeRepo) ListTradeLog(ctx context.Context, symbol string, limit int) ([]*domain.TradeLogEntry, error) {
	return m.TradeLog, nil
}

func (m *MockTradeRepo) SavePositionHistory(ctx context.Context, record *domain.TradeRecord) error {
	if m.SaveErr != nil {
		return m.SaveErr
	}
	m.History = append(m.History, record)
	return nil
}

func (m *MockTradeRepo) ListPositionHistory(ctx context.Context, limit int) ([]*domain.TradeRecord, error) {
	return m.History, nil
}

func (m *MockTradeRepo) SaveDailyMetrics(ctx context.Context, metrics *domain.DailyMetrics) error {
	m.Metrics = append(m.Metrics, metrics)
	return nil
}

// MockCandleRepo
type MockCandleRepo struct {
	Saved   map[string][]domain.Candle
	SaveErr error
}

func (m *MockCandleRepo) SaveCandles(ctx context.Context, symbol string, candles []domain.Candle) error {
	if m.SaveErr != nil {
		return m.SaveErr
	}
	if m.Saved == nil {
		m.Saved = make(map[string][]domain.Candle)
	}
	m.Saved[symbol] = candles
	return nil
}

func (m *MockCandleRepo) GetCandles(ctx context.Context, symbol string, limit int) ([]domain.Candle, error) {
	return m.Saved[symbol], nil
}
