package indicators

import "fmt"

// RSI computes the Relative Strength Index of a close series using Wilder's smoothing.
func RSI(closes []float64, period int) (float64, error) {
	if period <= 0 || len(closes) <= period {
		return 0, fmt.Errorf("not enough data (%d) to calculate RSI for period %d", len(closes), period)
	}

	changes := make([]float64, 0, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		changes = append(changes, closes[i]-closes[i-1])
	}

	var avgGain, avgLoss float64
	for i := 0; i < period; i++ {
		if changes[i] > 0 {
			avgGain += changes[i]
		} else {
			avgLoss -= changes[i]
		}
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)

	p := float64(period)
	for i := period; i < len(changes); i++ {
		if changes[i] > 0 {
			avgGain = (avgGain*(p-1) + changes[i]) / p
			avgLoss = (avgLoss * (p - 1)) / p
		} else {
			avgGain = (avgGain * (p - 1)) / p
			avgLoss = (avgLoss*(p-1) - changes[i]) / p
		}
	}

	if avgLoss == 0 {
		if avgGain == 0 {
			return 50, nil // Neutral if no change
		}
		return 100, nil
	}

	rs := avgGain / avgLoss
	return 100 - (100 / (1 + rs)), nil
}
