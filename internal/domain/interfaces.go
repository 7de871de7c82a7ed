package domain

import "context"

// Exchange defines the interface for interacting with a crypto exchange.
type Exchange interface {
	GetCurrentPrice(ctx context.Context, symbol string) (float64, error)
	GetCandles(ctx context.Context, symbol, interval string, limit int) ([]Candle, error)
	GetMarketConstraints(ctx context.Context, symbol string) (MarketConstraints, error)
	PlaceMarketOrder(ctx context.Context, symbol string, side Side, qty float64) (*ExchangeFill, error)

	// Streaming price feed for the intra-hour safety monitor.
	OnTradeUpdate(callback func(symbol string, side string, size float64, price float64))
	Subscribe(symbols []string) error
}

// StateStore owns the durable PositionState. Callers hold the exclusive
// lock around every load/modify/save cycle.
type StateStore interface {
	AcquireLock() error
	ReleaseLock()
	Load() (*PositionState, error)
	Save(state *PositionState) error
}

// CandleRepository defines storage operations for the candle cache.
type CandleRepository interface {
	SaveCandles(ctx context.Context, symbol string, candles []Candle) error
	GetCandles(ctx context.Context, symbol string, limit int) ([]Candle, error)
}

// TradeRepository defines storage operations for trades and metrics.
type TradeRepository interface {
	SaveTradeLog(ctx context.Context, entry *TradeLogEntry) error
	ListTradeLog(ctx context.Context, symbol string, limit int) ([]*TradeLogEntry, error)

	SavePositionHistory(ctx context.Context, record *TradeRecord) error
	ListPositionHistory(ctx context.Context, limit int) ([]*TradeRecord, error)

	SaveDailyMetrics(ctx context.Context, metrics *DailyMetrics) error
}
