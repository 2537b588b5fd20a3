package indicators

import (
	"fmt"
	"math"

	"fractalTrader/internal/domain"
)

// ATR computes the Average True Range of the candles using Wilder's smoothing.
func ATR(candles []domain.Candle, period int) (float64, error) {
	if period <= 0 || len(candles) < period+1 {
		return 0, fmt.Errorf("not enough data points for ATR calculation: need %d, got %d", period+1, len(candles))
	}

	trueRanges := make([]float64, len(candles))

	// First TR is just the high-low range
	trueRanges[0] = candles[0].High - candles[0].Low

	for i := 1; i < len(candles); i++ {
		high := candles[i].High
		low := candles[i].Low
		prevClose := candles[i-1].Close

		// True Range is the greatest of high-low and the gaps to the previous close
		tr1 := high - low
		tr2 := math.Abs(high - prevClose)
		tr3 := math.Abs(low - prevClose)

		trueRanges[i] = math.Max(tr1, math.Max(tr2, tr3))
	}

	// First ATR is simple average of first 'period' true ranges
	atr := 0.0
	for i := 0; i < period; i++ {
		atr += trueRanges[i]
	}
	atr /= float64(period)

	for i := period; i < len(candles); i++ {
		atr = (atr*float64(period-1) + trueRanges[i]) / float64(period)
	}

	return atr, nil
}
