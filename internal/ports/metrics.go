package ports

// MetricsRecorder receives runtime measurements.
type MetricsRecorder interface {
	SetBalance(balance float64)
	SetProfit(total, pct float64)
	SetOpenPositions(n int)
	IncSignal(symbol string, signalType string, rejected bool)
	IncOrder(op string, ok bool)
	IncTick(task string, ok bool)
}

// NopMetrics discards all measurements.
type NopMetrics struct{}

func (NopMetrics) SetBalance(float64)             {}
func (NopMetrics) SetProfit(float64, float64)     {}
func (NopMetrics) SetOpenPositions(int)           {}
func (NopMetrics) IncSignal(string, string, bool) {}
func (NopMetrics) IncOrder(string, bool)          {}
func (NopMetrics) IncTick(string, bool)           {}
