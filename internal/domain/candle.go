package domain

import "time"

// Candle represents a single candlestick data point.
type Candle struct {
	Time      time.Time // Start time of the interval
	CloseTime time.Time // End time of the interval
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
}
