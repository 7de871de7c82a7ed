package usecase

import (
	"context"

	"github.com/vitos/crypto_gc_bot/internal/domain"
)

// MetricsService aggregates closed trades into per-date summaries.
type MetricsService struct {
	tradeRepo domain.TradeRepository
}

func NewMetricsService(tradeRepo domain.TradeRepository) *MetricsService {
	return &MetricsService{tradeRepo: tradeRepo}
}

// BuildDailySummary computes the aggregate for one UTC date
// (YYYY-MM-DD) from the closed-trade history.
func BuildDailySummary(records []*domain.TradeRecord, date string, pnlCum float64) *domain.DailyMetrics {
	m := &domain.DailyMetrics{Date: date, PnLCum: pnlCum}

	var dayCurve []EquityPoint
	running := 0.0
	for _, r := range records {
		if r.ExitTime.UTC().Format("2006-01-02") != date {
			continue
		}
		m.Trades++
		if r.PnL >= 0 {
			m.Wins++
		} else {
			m.Losses++
		}
		m.PnLDay += r.PnL
		running += r.PnL
		dayCurve = append(dayCurve, EquityPoint{Time: r.ExitTime, Equity: running})
	}
	if m.Trades > 0 {
		m.WinRate = float64(m.Wins) / float64(m.Trades) * 100.0
	}
	m.MaxDrawdown = maxDrawdown(dayCurve)
	return m
}

// WriteDaily recomputes and upserts today's row. Idempotent per date:
// re-running a cycle replaces the row instead of appending a duplicate.
func (s *MetricsService) WriteDaily(ctx context.Context, date string, pnlCum float64) (*domain.DailyMetrics, error) {
	records, err := s.tradeRepo.ListPositionHistory(ctx, 0)
	if err != nil {
		return nil, err
	}
	m := BuildDailySummary(records, date, pnlCum)
	if err := s.tradeRepo.SaveDailyMetrics(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}
