package indicators

import (
	"math"
	"time"

	"fractalTrader/internal/domain"
)

var nan = math.NaN()

// Settings selects the periods and variants used by Compute.
type Settings struct {
	EMAFast          int
	EMAMedium        int
	EMASlow          int
	TrendEMA         int
	PACLength        int
	WilliamsFractals bool
	UseHeikinAshi    bool
}

// IndicatorSet is the full derived view of one instrument's candle window.
// EMA series are aligned with Candles and hold NaN until seeded.
// A set is built whole by Compute and never mutated afterwards.
type IndicatorSet struct {
	Symbol       string
	Candles      []domain.Candle // Working series: Heikin-Ashi or raw
	LastClose    float64         // Raw close of the newest candle
	EMAFast      []float64
	EMAMedium    []float64
	EMASlow      []float64
	EMATrend     []float64
	BuyFractals  []Fractal
	SellFractals []Fractal
	PACUpper     []float64
	PACLower     []float64
	ComputedAt   time.Time
}

// Len returns the number of candles in the working series.
func (s IndicatorSet) Len() int {
	return len(s.Candles)
}

// Valid reports whether v is a seeded indicator value.
func Valid(v float64) bool {
	return !math.IsNaN(v)
}

// Compute builds an IndicatorSet from raw candles. The input is not modified.
func Compute(symbol string, raw []domain.Candle, s Settings, now time.Time) IndicatorSet {
	set := IndicatorSet{Symbol: symbol, ComputedAt: now}
	if len(raw) == 0 {
		return set
	}
	set.LastClose = raw[len(raw)-1].Close

	series := make([]domain.Candle, len(raw))
	copy(series, raw)
	if s.UseHeikinAshi {
		series = HeikinAshi(series)
	}
	set.Candles = series

	closes := make([]float64, len(series))
	for i, c := range series {
		closes[i] = c.Close
	}
	n := len(series)
	set.EMAFast = Align(EMA(closes, s.EMAFast), n)
	set.EMAMedium = Align(EMA(closes, s.EMAMedium), n)
	set.EMASlow = Align(EMA(closes, s.EMASlow), n)
	set.EMATrend = Align(EMA(closes, s.TrendEMA), n)

	set.BuyFractals, set.SellFractals = Fractals(series, s.WilliamsFractals)
	set.PACUpper, set.PACLower = PACChannel(series, s.PACLength)
	return set
}
