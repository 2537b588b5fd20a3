package indicators

import (
	"math"

	"fractalTrader/internal/domain"
)

// HeikinAshi converts raw candles into Heikin-Ashi candles.
// Each open is the midpoint of the previous synthetic open/close (the first uses the raw open),
// each close is the mean of the raw OHLC, and high/low include the synthetic open/close.
func HeikinAshi(candles []domain.Candle) []domain.Candle {
	out := make([]domain.Candle, len(candles))
	for i, c := range candles {
		haClose := (c.Open + c.High + c.Low + c.Close) / 4
		haOpen := c.Open
		if i > 0 {
			haOpen = (out[i-1].Open + out[i-1].Close) / 2
		}
		out[i] = domain.Candle{
			Time:      c.Time,
			CloseTime: c.CloseTime,
			Open:      haOpen,
			High:      math.Max(c.High, math.Max(haOpen, haClose)),
			Low:       math.Min(c.Low, math.Min(haOpen, haClose)),
			Close:     haClose,
			Volume:    c.Volume,
		}
	}
	return out
}
