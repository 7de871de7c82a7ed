package usecase

import (
	"fmt"

	"github.com/vitos/crypto_gc_bot/internal/domain"
)

// ComputeSignal evaluates the latest bar of a time-ordered series for a
// golden cross: the short SMA crossing above the long SMA between the
// previous bar and the latest one. Long-entry signal only; downward
// crosses are ignored. Pure function, no side effects.
func ComputeSignal(bars []domain.Candle, params domain.SignalParams) (domain.Signal, error) {
	if err := params.Validate(); err != nil {
		return domain.Signal{}, err
	}
	// The previous bar needs a full long window of its own.
	if len(bars) < params.LongWindow+1 {
		return domain.Signal{}, fmt.Errorf("%w: have %d bars, need %d", domain.ErrInsufficientHistory, len(bars), params.LongWindow+1)
	}

	last := len(bars) - 1
	shortSMA := trailingSMA(bars, last, params.ShortWindow)
	longSMA := trailingSMA(bars, last, params.LongWindow)
	prevShortSMA := trailingSMA(bars, last-1, params.ShortWindow)
	prevLongSMA := trailingSMA(bars, last-1, params.LongWindow)

	// Symmetric epsilon band absorbs float jitter when the SMAs sit on
	// top of each other; a cross must clear the band on the latest bar
	// and not have cleared it on the previous one.
	eps := params.Epsilon
	crossed := prevShortSMA <= prevLongSMA+eps && shortSMA > longSMA+eps

	return domain.Signal{
		BarTime:      bars[last].Time,
		IsCross:      crossed,
		Price:        bars[last].Close,
		ShortSMA:     shortSMA,
		LongSMA:      longSMA,
		PrevShortSMA: prevShortSMA,
		PrevLongSMA:  prevLongSMA,
	}, nil
}

// ComputeRSI returns the Wilder RSI of the last bar, smoothing gains
// and losses with an exponentially weighted average (alpha = 1/period)
// seeded from the first delta. Returns 0 when the series carries fewer
// than period deltas or never lost, treating an undefined RSI as the
// weakest possible reading so a min-bound filter rejects it.
func ComputeRSI(bars []domain.Candle, period int) float64 {
	if period < 1 || len(bars) < period+1 {
		return 0
	}
	alpha := 1.0 / float64(period)
	var avgGain, avgLoss float64
	for i := 1; i < len(bars); i++ {
		delta := bars[i].Close - bars[i-1].Close
		gain, loss := 0.0, 0.0
		if delta > 0 {
			gain = delta
		} else {
			loss = -delta
		}
		if i == 1 {
			avgGain, avgLoss = gain, loss
			continue
		}
		avgGain = (1-alpha)*avgGain + alpha*gain
		avgLoss = (1-alpha)*avgLoss + alpha*loss
	}
	if avgLoss == 0 {
		return 0
	}
	rs := avgGain / avgLoss
	return 100.0 - 100.0/(1.0+rs)
}

// trailingSMA averages the close of the window bars ending at index end.
func trailingSMA(bars []domain.Candle, end, window int) float64 {
	sum := 0.0
	for i := end - window + 1; i <= end; i++ {
		sum += bars[i].Close
	}
	return sum / float64(window)
}
