package usecase_test

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/vitos/crypto_gc_bot/internal/domain"
	"github.com/vitos/crypto_gc_bot/internal/usecase"
)

func TestBuildDailySummary(t *testing.T) {
	day := time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)
	records := []*domain.TradeRecord{
		{ExitTime: day.Add(-2 * time.Hour), PnL: 500}, // previous day, excluded
		{ExitTime: day.Add(1 * time.Hour), PnL: 30},
		{ExitTime: day.Add(5 * time.Hour), PnL: -50},
		{ExitTime: day.Add(9 * time.Hour), PnL: 10},
	}

	m := usecase.BuildDailySummary(records, "2025-06-02", 490)
	if m.Trades != 3 {
		t.Fatalf("trades: want 3, got %d", m.Trades)
	}
	if m.Wins != 2 || m.Losses != 1 {
		t.Fatalf("wins/losses: want 2/1, got %d/%d", m.Wins, m.Losses)
	}
	if math.Abs(m.PnLDay-(-10)) > 1e-9 {
		t.Fatalf("day pnl: want -10, got %v", m.PnLDay)
	}
	if m.PnLCum != 490 {
		t.Fatalf("cumulative pnl: want 490, got %v", m.PnLCum)
	}
	// Day curve 30 -> -20 -> -10: peak 30, trough -20.
	if math.Abs(m.MaxDrawdown-50) > 1e-9 {
		t.Fatalf("max drawdown: want 50, got %v", m.MaxDrawdown)
	}
	wantRate := 2.0 / 3.0 * 100.0
	if math.Abs(m.WinRate-wantRate) > 1e-9 {
		t.Fatalf("win rate: want %v, got %v", wantRate, m.WinRate)
	}
}

func TestBuildDailySummary_EmptyDay(t *testing.T) {
	m := usecase.BuildDailySummary(nil, "2025-06-02", 123)
	if m.Trades != 0 || m.WinRate != 0 || m.PnLDay != 0 {
		t.Fatalf("empty day must be all zeros, got %+v", m)
	}
	if m.PnLCum != 123 {
		t.Fatalf("cumulative pnl carries through, got %v", m.PnLCum)
	}
}

func TestWriteDaily_Upserts(t *testing.T) {
	day := time.Date(2025, 6, 2, 3, 0, 0, 0, time.UTC)
	repo := &MockTradeRepo{
		History: []*domain.TradeRecord{{ExitTime: day, PnL: 25}},
	}
	svc := usecase.NewMetricsService(repo)

	m, err := svc.WriteDaily(context.Background(), "2025-06-02", 25)
	if err != nil {
		t.Fatal(err)
	}
	if m.Trades != 1 || m.PnLDay != 25 {
		t.Fatalf("unexpected summary: %+v", m)
	}
	if len(repo.Metrics) != 1 {
		t.Fatalf("want 1 saved row, got %d", len(repo.Metrics))
	}

	// Re-running the same date recomputes and saves again; the
	// repository keys on date so the row is replaced, not duplicated.
	if _, err := svc.WriteDaily(context.Background(), "2025-06-02", 25); err != nil {
		t.Fatal(err)
	}
	if repo.Metrics[len(repo.Metrics)-1].Date != "2025-06-02" {
		t.Fatal("rewrite must target the same date")
	}
}
