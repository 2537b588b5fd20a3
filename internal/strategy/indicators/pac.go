package indicators

import (
	"math"

	"fractalTrader/internal/domain"
)

// PACChannel returns the rolling max(high) and min(low) over the trailing period candles.
// Before a full window is available all candles seen so far are used.
func PACChannel(candles []domain.Candle, period int) (upper, lower []float64) {
	if period <= 0 {
		return nil, nil
	}
	upper = make([]float64, len(candles))
	lower = make([]float64, len(candles))
	for i := range candles {
		start := i - period + 1
		if start < 0 {
			start = 0
		}
		hi, lo := math.Inf(-1), math.Inf(1)
		for _, c := range candles[start : i+1] {
			hi = math.Max(hi, c.High)
			lo = math.Min(lo, c.Low)
		}
		upper[i], lower[i] = hi, lo
	}
	return upper, lower
}
