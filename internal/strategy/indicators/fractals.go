package indicators

import (
	"time"

	"fractalTrader/internal/domain"
)

// Fractal is a 5-candle local extreme.
type Fractal struct {
	Index int       `json:"index"`
	Price float64   `json:"price"`
	Time  time.Time `json:"time"`
}

// Fractals finds buy fractals (local lows) and sell fractals (local highs).
// The center of a 5-candle window must beat both neighbours on each side.
// The Williams variant allows ties with the inner neighbours; the outer ones stay strict.
// The first and last two candles are never eligible.
func Fractals(candles []domain.Candle, williams bool) (buy, sell []Fractal) {
	for i := 2; i+2 < len(candles); i++ {
		c := candles[i]
		if isLow(candles, i, williams) {
			buy = append(buy, Fractal{Index: i, Price: c.Low, Time: c.Time})
		}
		if isHigh(candles, i, williams) {
			sell = append(sell, Fractal{Index: i, Price: c.High, Time: c.Time})
		}
	}
	return buy, sell
}

func isLow(c []domain.Candle, i int, williams bool) bool {
	low := c[i].Low
	outer := low < c[i-2].Low && low < c[i+2].Low
	if williams {
		return outer && low <= c[i-1].Low && low <= c[i+1].Low
	}
	return outer && low < c[i-1].Low && low < c[i+1].Low
}

func isHigh(c []domain.Candle, i int, williams bool) bool {
	high := c[i].High
	outer := high > c[i-2].High && high > c[i+2].High
	if williams {
		return outer && high >= c[i-1].High && high >= c[i+1].High
	}
	return outer && high > c[i-1].High && high > c[i+1].High
}

// FractalAt returns the fractal at index, if any.
func FractalAt(fractals []Fractal, index int) (Fractal, bool) {
	for i := len(fractals) - 1; i >= 0; i-- {
		if fractals[i].Index == index {
			return fractals[i], true
		}
		if fractals[i].Index < index {
			break
		}
	}
	return Fractal{}, false
}
