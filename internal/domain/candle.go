package domain

import (
	"sort"
	"time"
)

// Candle is one OHLCV bar. Time is the UTC close time of the bar,
// aligned to the bar period.
type Candle struct {
	Time   time.Time `json:"time"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// NormalizeCandles sorts bars by time and drops duplicate timestamps,
// keeping the last occurrence for each timestamp.
func NormalizeCandles(candles []Candle) []Candle {
	if len(candles) == 0 {
		return candles
	}
	sort.SliceStable(candles, func(i, j int) bool {
		return candles[i].Time.Before(candles[j].Time)
	})
	out := candles[:0]
	for _, c := range candles {
		if len(out) > 0 && out[len(out)-1].Time.Equal(c.Time) {
			out[len(out)-1] = c
			continue
		}
		out = append(out, c)
	}
	return out
}
