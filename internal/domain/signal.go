package domain

import (
	"fmt"
	"time"
)

// SignalParams configures golden-cross detection.
type SignalParams struct {
	ShortWindow int     `yaml:"short_window"`
	LongWindow  int     `yaml:"long_window"`
	Epsilon     float64 `yaml:"epsilon"`
}

// DefaultSignalParams mirrors the production strategy defaults for
// hourly bars.
func DefaultSignalParams() SignalParams {
	return SignalParams{ShortWindow: 30, LongWindow: 60, Epsilon: 1e-12}
}

func (p SignalParams) Validate() error {
	if p.ShortWindow < 1 || p.LongWindow < 1 {
		return fmt.Errorf("%w: SMA windows must be >= 1 (short=%d long=%d)", ErrInvalidParameters, p.ShortWindow, p.LongWindow)
	}
	if p.ShortWindow >= p.LongWindow {
		return fmt.Errorf("%w: short window %d must be < long window %d", ErrInvalidParameters, p.ShortWindow, p.LongWindow)
	}
	if p.Epsilon < 0 {
		return fmt.Errorf("%w: epsilon must be >= 0", ErrInvalidParameters)
	}
	return nil
}

// DefaultRSIPeriod is the Wilder RSI lookback used when the entry
// filter is enabled without an explicit period.
const DefaultRSIPeriod = 14

// RSIFilter gates entries on the RSI of the latest bar. A nil bound is
// not checked, so {Min: 50, Max: nil} only rejects weak momentum.
type RSIFilter struct {
	Period int      `yaml:"period"`
	Min    *float64 `yaml:"min"`
	Max    *float64 `yaml:"max"`
}

func (f RSIFilter) Validate() error {
	if f.Period < 2 {
		return fmt.Errorf("%w: rsi period must be >= 2, got %d", ErrInvalidParameters, f.Period)
	}
	if f.Min != nil && (*f.Min < 0 || *f.Min > 100) {
		return fmt.Errorf("%w: rsi min must be in [0, 100]", ErrInvalidParameters)
	}
	if f.Max != nil && (*f.Max < 0 || *f.Max > 100) {
		return fmt.Errorf("%w: rsi max must be in [0, 100]", ErrInvalidParameters)
	}
	if f.Min != nil && f.Max != nil && *f.Min > *f.Max {
		return fmt.Errorf("%w: rsi min %v must be <= max %v", ErrInvalidParameters, *f.Min, *f.Max)
	}
	return nil
}

// Allows reports whether the RSI value sits inside the configured band.
func (f RSIFilter) Allows(value float64) bool {
	if f.Min != nil && value < *f.Min {
		return false
	}
	if f.Max != nil && value > *f.Max {
		return false
	}
	return true
}

// Signal is the outcome of evaluating the latest bar of a series.
// Derived data, never persisted.
type Signal struct {
	BarTime      time.Time
	IsCross      bool
	Price        float64
	ShortSMA     float64
	LongSMA      float64
	PrevShortSMA float64
	PrevLongSMA  float64
}
