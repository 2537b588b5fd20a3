package indicators

// SMA returns the simple moving average series of values.
// Output[j] averages values[j : j+period]; the result has len(values)-period+1 entries.
func SMA(values []float64, period int) []float64 {
	if period <= 0 || len(values) < period {
		return nil
	}
	out := make([]float64, 0, len(values)-period+1)
	total := 0.0
	for i, v := range values {
		total += v
		if i >= period {
			total -= values[i-period]
		}
		if i >= period-1 {
			out = append(out, total/float64(period))
		}
	}
	return out
}

// EMA returns the exponential moving average series of values.
// The first output is the simple average of the first period values, after which
// the multiplier 2/(period+1) is applied recursively. Output[j] corresponds to
// values[j+period-1]; callers must tolerate the shorter length.
func EMA(values []float64, period int) []float64 {
	if period <= 0 || len(values) < period {
		return nil
	}
	multiplier := 2.0 / float64(period+1)

	seed := 0.0
	for _, v := range values[:period] {
		seed += v
	}
	seed /= float64(period)

	out := make([]float64, 0, len(values)-period+1)
	out = append(out, seed)
	prev := seed
	for _, v := range values[period:] {
		prev = (v-prev)*multiplier + prev
		out = append(out, prev)
	}
	return out
}

// Align left-pads a shortened series with NaN so that it lines up with an input of length n.
func Align(series []float64, n int) []float64 {
	out := make([]float64, n)
	pad := n - len(series)
	for i := 0; i < n; i++ {
		if i < pad {
			out[i] = nan
		} else {
			out[i] = series[i-pad]
		}
	}
	return out
}
