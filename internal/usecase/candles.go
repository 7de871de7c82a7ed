package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/vitos/crypto_gc_bot/internal/domain"
)

// CandleServiceConfig controls history acquisition.
type CandleServiceConfig struct {
	Interval     string
	Period       time.Duration
	MaxRetries   int
	RetryBackoff time.Duration
	Now          func() time.Time // clock override, defaults to UTC wall time
}

// CandleService acquires confirmed hourly candles from the exchange and
// mirrors them into the candle cache for backtests and the status API.
type CandleService struct {
	exchange domain.Exchange
	repo     domain.CandleRepository
	cfg      CandleServiceConfig
	now      func() time.Time
}

// NewCandleService builds the service. repo may be nil when caching is
// not wanted.
func NewCandleService(exchange domain.Exchange, repo domain.CandleRepository, cfg CandleServiceConfig) *CandleService {
	if cfg.Interval == "" {
		cfg.Interval = "60"
	}
	if cfg.Period <= 0 {
		cfg.Period = time.Hour
	}
	if cfg.MaxRetries < 1 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = time.Second
	}
	now := cfg.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &CandleService{exchange: exchange, repo: repo, cfg: cfg, now: now}
}

// FetchLatest returns the most recent limit confirmed bars, oldest
// first. Bars past the last full period boundary are still forming and
// get dropped; duplicates resolve last write wins.
func (s *CandleService) FetchLatest(ctx context.Context, symbol string, limit int) ([]domain.Candle, error) {
	var candles []domain.Candle
	var lastErr error
	for attempt := 0; attempt < s.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := s.cfg.RetryBackoff * time.Duration(1<<(attempt-1))
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}
		candles, lastErr = s.exchange.GetCandles(ctx, symbol, s.cfg.Interval, limit+5)
		if lastErr == nil {
			break
		}
	}
	if lastErr != nil {
		return nil, fmt.Errorf("fetching candles for %s: %w", symbol, lastErr)
	}

	cutoff := s.now().Truncate(s.cfg.Period)
	confirmed := candles[:0]
	for _, c := range candles {
		if !c.Time.After(cutoff) {
			confirmed = append(confirmed, c)
		}
	}
	confirmed = domain.NormalizeCandles(confirmed)
	if err := checkGaps(confirmed, s.cfg.Period); err != nil {
		return nil, err
	}
	if len(confirmed) > limit {
		confirmed = confirmed[len(confirmed)-limit:]
	}
	if len(confirmed) == 0 {
		return nil, fmt.Errorf("%w: no confirmed bars for %s", domain.ErrInsufficientHistory, symbol)
	}

	if s.repo != nil {
		if err := s.repo.SaveCandles(ctx, symbol, confirmed); err != nil {
			return nil, fmt.Errorf("caching candles for %s: %w", symbol, err)
		}
	}
	return confirmed, nil
}

// LoadCached returns bars from the cache, oldest first.
func (s *CandleService) LoadCached(ctx context.Context, symbol string, limit int) ([]domain.Candle, error) {
	if s.repo == nil {
		return nil, fmt.Errorf("no candle cache configured")
	}
	candles, err := s.repo.GetCandles(ctx, symbol, limit)
	if err != nil {
		return nil, err
	}
	return domain.NormalizeCandles(candles), nil
}

func checkGaps(candles []domain.Candle, period time.Duration) error {
	for i := 1; i < len(candles); i++ {
		if diff := candles[i].Time.Sub(candles[i-1].Time); diff != period {
			return fmt.Errorf("candle gap: %s to %s (want step %s)",
				candles[i-1].Time.Format(time.RFC3339), candles[i].Time.Format(time.RFC3339), period)
		}
	}
	return nil
}
