package config

import (
	"strings"
	"time"
)

// Patch is a partial configuration update. Nil fields are left unchanged.
// It is also the persisted form of the runtime-tunable settings.
type Patch struct {
	TradingPairs   []string `json:"tradingPairs,omitempty"`
	MaxInstruments *int     `json:"maxInstruments,omitempty"`

	EMAFast          *int  `json:"emaFast,omitempty"`
	EMAMedium        *int  `json:"emaMedium,omitempty"`
	EMASlow          *int  `json:"emaSlow,omitempty"`
	TrendEMA         *int  `json:"trendEma,omitempty"`
	PACLength        *int  `json:"pacLength,omitempty"`
	FractalLookback  *int  `json:"fractalLookback,omitempty"`
	WilliamsFractals *bool `json:"williamsFractals,omitempty"`
	UseHeikinAshi    *bool `json:"useHeikinAshi,omitempty"`

	PositionSizePercent     *float64 `json:"positionSizePercent,omitempty"`
	Leverage                *int     `json:"leverage,omitempty"`
	TakeProfitPercent       *float64 `json:"takeProfitPercent,omitempty"`
	StopLossPercent         *float64 `json:"stopLossPercent,omitempty"`
	MaxTradeDurationMinutes *int     `json:"maxTradeDurationMinutes,omitempty"`
	TrailingActivation      *float64 `json:"trailingActivation,omitempty"`
	TrailingCallbackPercent *float64 `json:"trailingCallbackPercent,omitempty"`
	MaxOpenPositions        *int     `json:"maxOpenPositions,omitempty"`
	MinSignalStrength       *float64 `json:"minSignalStrength,omitempty"`
	AllowShort              *bool    `json:"allowShort,omitempty"`

	ReinvestmentPercent *float64 `json:"reinvestmentPercent,omitempty"`
	WithdrawalThreshold *float64 `json:"withdrawalThreshold,omitempty"`
	WithdrawalPercent   *float64 `json:"withdrawalPercent,omitempty"`
}

// Apply returns a new snapshot with the patch applied. The receiver is not modified.
func (c Config) Apply(p Patch) Config {
	next := c
	next.TradingPairs = append([]string(nil), c.TradingPairs...)
	next.KafkaBrokers = append([]string(nil), c.KafkaBrokers...)

	if p.TradingPairs != nil {
		next.TradingPairs = ParseSymbols(strings.Join(p.TradingPairs, ","))
	}
	setInt(&next.MaxInstruments, p.MaxInstruments)

	setInt(&next.EMAFast, p.EMAFast)
	setInt(&next.EMAMedium, p.EMAMedium)
	setInt(&next.EMASlow, p.EMASlow)
	setInt(&next.TrendEMA, p.TrendEMA)
	setInt(&next.PACLength, p.PACLength)
	setInt(&next.FractalLookback, p.FractalLookback)
	setBool(&next.WilliamsFractals, p.WilliamsFractals)
	setBool(&next.UseHeikinAshi, p.UseHeikinAshi)

	setFloat(&next.PositionSizePercent, p.PositionSizePercent)
	setInt(&next.Leverage, p.Leverage)
	setFloat(&next.TakeProfitPercent, p.TakeProfitPercent)
	setFloat(&next.StopLossPercent, p.StopLossPercent)
	if p.MaxTradeDurationMinutes != nil {
		next.MaxTradeDuration = time.Duration(*p.MaxTradeDurationMinutes) * time.Minute
	}
	setFloat(&next.TrailingActivation, p.TrailingActivation)
	setFloat(&next.TrailingCallbackPercent, p.TrailingCallbackPercent)
	setInt(&next.MaxOpenPositions, p.MaxOpenPositions)
	setFloat(&next.MinSignalStrength, p.MinSignalStrength)
	setBool(&next.AllowShort, p.AllowShort)

	setFloat(&next.ReinvestmentPercent, p.ReinvestmentPercent)
	setFloat(&next.WithdrawalThreshold, p.WithdrawalThreshold)
	setFloat(&next.WithdrawalPercent, p.WithdrawalPercent)
	return next
}

// Tunables returns the runtime-tunable part of the snapshot as a full patch.
func (c Config) Tunables() Patch {
	minutes := int(c.MaxTradeDuration / time.Minute)
	return Patch{
		TradingPairs:            append([]string(nil), c.TradingPairs...),
		MaxInstruments:          &c.MaxInstruments,
		EMAFast:                 &c.EMAFast,
		EMAMedium:               &c.EMAMedium,
		EMASlow:                 &c.EMASlow,
		TrendEMA:                &c.TrendEMA,
		PACLength:               &c.PACLength,
		FractalLookback:         &c.FractalLookback,
		WilliamsFractals:        &c.WilliamsFractals,
		UseHeikinAshi:           &c.UseHeikinAshi,
		PositionSizePercent:     &c.PositionSizePercent,
		Leverage:                &c.Leverage,
		TakeProfitPercent:       &c.TakeProfitPercent,
		StopLossPercent:         &c.StopLossPercent,
		MaxTradeDurationMinutes: &minutes,
		TrailingActivation:      &c.TrailingActivation,
		TrailingCallbackPercent: &c.TrailingCallbackPercent,
		MaxOpenPositions:        &c.MaxOpenPositions,
		MinSignalStrength:       &c.MinSignalStrength,
		AllowShort:              &c.AllowShort,
		ReinvestmentPercent:     &c.ReinvestmentPercent,
		WithdrawalThreshold:     &c.WithdrawalThreshold,
		WithdrawalPercent:       &c.WithdrawalPercent,
	}
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}

func setFloat(dst *float64, v *float64) {
	if v != nil {
		*dst = *v
	}
}

func setBool(dst *bool, v *bool) {
	if v != nil {
		*dst = *v
	}
}
