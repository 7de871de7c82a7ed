package usecase

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/vitos/crypto_gc_bot/internal/domain"
)

// BacktestConfig configures a historical replay. SharpeFactor scales
// the Sharpe ratio for annualization, e.g. sqrt(8760) for hourly bars;
// zero falls back to sqrt of the number of closed trades.
type BacktestConfig struct {
	Engine          EngineParams
	Execution       ExecutorConfig
	ForceCloseAtEnd bool
	SharpeFactor    float64
}

// EquityPoint is one step of the realized-PnL curve.
type EquityPoint struct {
	Time   time.Time `json:"ts"`
	Equity float64   `json:"equity"`
}

// BacktestSummary aggregates the performance of a replay.
type BacktestSummary struct {
	Trades         int     `json:"trades"`
	Wins           int     `json:"win"`
	Losses         int     `json:"loss"`
	WinRate        float64 `json:"win_rate"`
	TotalPnL       float64 `json:"pnl_total"`
	PnLPerTrade    float64 `json:"pnl_per_trade"`
	InitialCapital float64 `json:"capital_initial"`
	FinalCapital   float64 `json:"capital_final"`
	TotalReturnPct float64 `json:"total_return_pct"`
	MaxDrawdown    float64 `json:"max_drawdown"`
	MaxDrawdownPct float64 `json:"max_drawdown_pct"`
	SharpeRatio    float64 `json:"sharpe_ratio"`
}

// BacktestResult is the full output of one replay.
type BacktestResult struct {
	Trades      []domain.TradeRecord `json:"trades"`
	EquityCurve []EquityPoint        `json:"equity_curve"`
	Summary     BacktestSummary      `json:"summary"`
}

// BacktestEngine replays a historical series through the position
// engine one bar at a time. Execution is always simulated; decisions
// are identical to the live paper path given the same bars and
// parameters, which is what makes replay results trustworthy.
type BacktestEngine struct {
	symbol string
}

func NewBacktestEngine(symbol string) *BacktestEngine {
	return &BacktestEngine{symbol: symbol}
}

func (b *BacktestEngine) Run(ctx context.Context, bars []domain.Candle, cfg BacktestConfig) (*BacktestResult, error) {
	if len(bars) == 0 {
		return nil, fmt.Errorf("%w: empty candle series", domain.ErrInsufficientHistory)
	}
	bars = domain.NormalizeCandles(bars)

	cfg.Execution.Mode = domain.ModePaper
	if cfg.Execution.Symbol == "" {
		cfg.Execution.Symbol = b.symbol
	}
	executor, err := NewOrderExecutor(cfg.Execution, nil)
	if err != nil {
		return nil, err
	}

	store := NewMemoryStateStore()
	engine, err := NewPositionEngine(cfg.Engine, executor, store, b.symbol)
	if err != nil {
		return nil, err
	}

	state := domain.NewPositionState()
	var trades []domain.TradeRecord
	var curve []EquityPoint

	for i := range bars {
		last := cfg.ForceCloseAtEnd && i == len(bars)-1
		res, err := engine.Step(ctx, state, bars[:i+1], last)
		if errors.Is(err, domain.ErrInsufficientHistory) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if res.Close != nil {
			trades = append(trades, res.Close.Record)
			curve = append(curve, EquityPoint{Time: res.Close.Record.ExitTime, Equity: state.RealizedPnL})
		}
	}

	return &BacktestResult{
		Trades:      trades,
		EquityCurve: curve,
		Summary:     Summarize(trades, curve, cfg.Engine.InitialCapital, cfg.SharpeFactor),
	}, nil
}

// Summarize aggregates closed trades into the headline statistics.
// sharpeFactor scales the Sharpe ratio; zero means sqrt(trade count).
func Summarize(trades []domain.TradeRecord, curve []EquityPoint, initialCapital, sharpeFactor float64) BacktestSummary {
	s := BacktestSummary{Trades: len(trades), InitialCapital: initialCapital}

	var returns []float64
	for _, t := range trades {
		if t.PnL >= 0 {
			s.Wins++
		} else {
			s.Losses++
		}
		s.TotalPnL += t.PnL
		if t.Notional > 0 {
			returns = append(returns, t.PnL/t.Notional)
		}
	}
	if s.Trades > 0 {
		s.WinRate = float64(s.Wins) / float64(s.Trades) * 100.0
		s.PnLPerTrade = s.TotalPnL / float64(s.Trades)
	}

	s.MaxDrawdown = maxDrawdown(curve)
	s.FinalCapital = initialCapital + s.TotalPnL
	if initialCapital > 0 {
		s.TotalReturnPct = s.TotalPnL / initialCapital * 100.0
		s.MaxDrawdownPct = s.MaxDrawdown / initialCapital * 100.0
	}
	s.SharpeRatio = sharpeRatio(returns, sharpeFactor)
	return s
}

// maxDrawdown is the largest peak-to-trough decline of the equity curve.
func maxDrawdown(curve []EquityPoint) float64 {
	peak := math.Inf(-1)
	maxDD := 0.0
	for _, p := range curve {
		if p.Equity > peak {
			peak = p.Equity
		}
		if dd := peak - p.Equity; dd > maxDD {
			maxDD = dd
		}
	}
	return maxDD
}

// sharpeRatio computes mean/stddev of per-trade returns scaled by the
// given factor, defaulting to sqrt(n). Undefined below two trades;
// reported as zero.
func sharpeRatio(returns []float64, factor float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	if factor <= 0 {
		factor = math.Sqrt(float64(len(returns)))
	}
	mean := 0.0
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	variance := 0.0
	for _, r := range returns {
		variance += (r - mean) * (r - mean)
	}
	variance /= float64(len(returns) - 1)
	std := math.Sqrt(variance)
	if std == 0 {
		return 0
	}
	return mean / std * factor
}
