package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/vitos/crypto_gc_bot/internal/domain"
)

// ExecutorConfig describes how order intents become fills.
type ExecutorConfig struct {
	Mode         domain.OrderMode
	Symbol       string
	SlippageBps  float64
	FeeBps       float64
	MaxRetries   int
	RetryBackoff time.Duration
}

func (c ExecutorConfig) Validate() error {
	if !c.Mode.Valid() {
		return fmt.Errorf("%w: order mode must be %q or %q", domain.ErrInvalidParameters, domain.ModePaper, domain.ModeReal)
	}
	if c.Symbol == "" {
		return fmt.Errorf("%w: symbol is required", domain.ErrInvalidParameters)
	}
	if c.SlippageBps < 0 || c.FeeBps < 0 {
		return fmt.Errorf("%w: slippage and fee bps must be >= 0", domain.ErrInvalidParameters)
	}
	return nil
}

// OrderExecutor converts order intents into fills, either simulated
// (paper) or submitted to the exchange as market orders (real).
type OrderExecutor struct {
	cfg         ExecutorConfig
	exchange    domain.Exchange
	constraints *domain.MarketConstraints
}

// NewOrderExecutor builds an executor. exchange may be nil in paper mode.
func NewOrderExecutor(cfg ExecutorConfig, exchange domain.Exchange) (*OrderExecutor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Mode == domain.ModeReal && exchange == nil {
		return nil, fmt.Errorf("%w: real mode requires an exchange", domain.ErrInvalidParameters)
	}
	if cfg.MaxRetries < 1 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = time.Second
	}
	return &OrderExecutor{cfg: cfg, exchange: exchange}, nil
}

func (e *OrderExecutor) Mode() domain.OrderMode { return e.cfg.Mode }

// Execute fills the intent. Paper fills are deterministic given the
// intent and config; real fills move capital on the exchange.
func (e *OrderExecutor) Execute(ctx context.Context, intent domain.OrderIntent) (*domain.Fill, error) {
	if intent.ReferencePrice <= 0 {
		return nil, fmt.Errorf("%w: reference price must be positive", domain.ErrInvalidParameters)
	}
	if e.cfg.Mode == domain.ModePaper {
		return e.executePaper(intent)
	}
	return e.executeReal(ctx, intent)
}

// executePaper applies slippage against the trader: buys fill above the
// reference price, sells below it.
func (e *OrderExecutor) executePaper(intent domain.OrderIntent) (*domain.Fill, error) {
	slip := e.cfg.SlippageBps / 10000.0
	feeRate := e.cfg.FeeBps / 10000.0

	var price, qty float64
	switch intent.Side {
	case domain.SideBuy:
		price = intent.ReferencePrice * (1.0 + slip)
		qty = intent.Notional / price
	case domain.SideSell:
		price = intent.ReferencePrice * (1.0 - slip)
		qty = intent.Quantity
	default:
		return nil, fmt.Errorf("%w: invalid side %q", domain.ErrInvalidParameters, intent.Side)
	}

	notional := price * qty
	ts := intent.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	return &domain.Fill{
		OrderID:   "PAPER-" + uuid.NewString(),
		Mode:      domain.FillSimulated,
		Side:      intent.Side,
		Price:     price,
		Quantity:  qty,
		Notional:  notional,
		Fee:       notional * feeRate,
		Timestamp: ts,
	}, nil
}

func (e *OrderExecutor) executeReal(ctx context.Context, intent domain.OrderIntent) (*domain.Fill, error) {
	constraints, err := e.marketConstraints(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: fetching market constraints: %v", domain.ErrExecutionFailed, err)
	}

	qty := intent.Quantity
	if intent.Side == domain.SideBuy {
		qty = intent.Notional / intent.ReferencePrice
	}
	// Truncate, never round up: committing more capital than sized for
	// is worse than skipping a sliver of the order.
	adjQty := constraints.FitQuantity(qty)
	if adjQty <= 0 {
		return nil, fmt.Errorf("%w: size %.10f below exchange minimum", domain.ErrExecutionFailed, qty)
	}

	var ef *domain.ExchangeFill
	var lastErr error
	for attempt := 0; attempt < e.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := e.cfg.RetryBackoff * time.Duration(1<<(attempt-1))
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("%w: %v", domain.ErrExecutionFailed, ctx.Err())
			case <-time.After(backoff):
			}
		}
		ef, lastErr = e.exchange.PlaceMarketOrder(ctx, e.cfg.Symbol, intent.Side, adjQty)
		if lastErr == nil {
			break
		}
	}
	if lastErr != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrExecutionFailed, lastErr)
	}
	if ef.FilledQty <= 0 || ef.AvgPrice <= 0 {
		return nil, fmt.Errorf("%w: exchange reported empty fill", domain.ErrExecutionFailed)
	}

	notional := ef.AvgPrice * ef.FilledQty
	fee := ef.Fee
	if fee == 0 {
		fee = notional * (e.cfg.FeeBps / 10000.0)
	}
	return &domain.Fill{
		OrderID:   ef.OrderID,
		Mode:      domain.FillLive,
		Side:      intent.Side,
		Price:     ef.AvgPrice,
		Quantity:  ef.FilledQty,
		Notional:  notional,
		Fee:       fee,
		Timestamp: time.Now().UTC(),
	}, nil
}

func (e *OrderExecutor) marketConstraints(ctx context.Context) (domain.MarketConstraints, error) {
	if e.constraints != nil {
		return *e.constraints, nil
	}
	c, err := e.exchange.GetMarketConstraints(ctx, e.cfg.Symbol)
	if err != nil {
		return domain.MarketConstraints{}, err
	}
	e.constraints = &c
	return c, nil
}
