package strategy

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fractalTrader/internal/domain"
	"fractalTrader/internal/ports"
	"fractalTrader/internal/strategy/indicators"
)

// mockLogger implements ports.Logger for testing
type mockLogger struct {
	mu        sync.Mutex
	debugMsgs []string
	infoMsgs  []string
	errorMsgs []string
}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.debugMsgs = append(m.debugMsgs, msg)
}

func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.infoMsgs = append(m.infoMsgs, msg)
}

func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{}) {}

func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errorMsgs = append(m.errorMsgs, msg)
}

var baseTime = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

// fractalSet builds a 53-candle set with one fractal at index 50 and the trend EMA
// ending at prevEMA then lastEMA. The newest close is 102.
func fractalSet(symbol string, buy bool, prevEMA, lastEMA float64) indicators.IndicatorSet {
	const n = 53
	set := indicators.IndicatorSet{Symbol: symbol, LastClose: 102}
	for i := 0; i < n; i++ {
		set.Candles = append(set.Candles, domain.Candle{Time: baseTime.Add(time.Duration(i) * time.Minute), Open: 100, High: 105, Low: 95, Close: 100})
		set.EMATrend = append(set.EMATrend, 100)
		set.PACUpper = append(set.PACUpper, 105)
		set.PACLower = append(set.PACLower, 95)
	}
	set.Candles[n-1].Close = 102
	set.EMATrend[n-2] = prevEMA
	set.EMATrend[n-1] = lastEMA

	f := indicators.Fractal{Index: 50, Price: 95, Time: set.Candles[50].Time}
	if buy {
		set.BuyFractals = []indicators.Fractal{f}
	} else {
		set.SellFractals = []indicators.Fractal{f}
	}
	return set
}

func newStrategy(t *testing.T, allowShort bool) *Strategy {
	t.Helper()
	s, err := New(Config{FractalLookback: 2, AllowShort: allowShort, SignalLogSize: 10}, &mockLogger{})
	require.NoError(t, err)
	return s
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		logger  ports.Logger
		wantErr bool
	}{
		{name: "valid config", cfg: Config{FractalLookback: 2, SignalLogSize: 5}, logger: &mockLogger{}},
		{name: "nil logger", cfg: Config{FractalLookback: 2, SignalLogSize: 5}, wantErr: true},
		{name: "lookback too small", cfg: Config{FractalLookback: 1, SignalLogSize: 5}, logger: &mockLogger{}, wantErr: true},
		{name: "no log capacity", cfg: Config{FractalLookback: 2}, logger: &mockLogger{}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cfg, tt.logger)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestEvaluate_ConfirmedBuy(t *testing.T) {
	s := newStrategy(t, true)

	sig := s.Evaluate(context.Background(), fractalSet("BTCUSDT", true, 100, 101), domain.Flat)

	require.NotNil(t, sig)
	assert.Equal(t, domain.SignalBuy, sig.Type)
	assert.Equal(t, "BTCUSDT", sig.Symbol)
	assert.Equal(t, 102.0, sig.Price)
	assert.Contains(t, sig.Reason, "confirmed")
	assert.False(t, sig.Reverse)
	assert.InDelta(t, 10.0, sig.Strength, 1e-9) // |102-101| / (105-95)

	logged := s.RecentSignals(0)
	require.Len(t, logged, 1)
	assert.False(t, logged[0].Rejected)
}

func TestEvaluate_FallingTrendRejects(t *testing.T) {
	s := newStrategy(t, true)

	sig := s.Evaluate(context.Background(), fractalSet("BTCUSDT", true, 100, 99), domain.Flat)

	assert.Nil(t, sig)
	logged := s.RecentSignals(0)
	require.Len(t, logged, 1)
	assert.True(t, logged[0].Rejected)
	assert.Equal(t, RejectedTrendReason, logged[0].Reason)
}

func TestEvaluate_SignalsFractalOnce(t *testing.T) {
	s := newStrategy(t, true)
	set := fractalSet("BTCUSDT", true, 100, 101)

	first := s.Evaluate(context.Background(), set, domain.Flat)
	second := s.Evaluate(context.Background(), set, domain.Flat)

	assert.NotNil(t, first)
	assert.Nil(t, second)
	assert.Len(t, s.RecentSignals(0), 1)
}

func TestEvaluate_RejectionLoggedOnceThenConfirmed(t *testing.T) {
	s := newStrategy(t, true)

	assert.Nil(t, s.Evaluate(context.Background(), fractalSet("BTCUSDT", true, 100, 99), domain.Flat))
	assert.Nil(t, s.Evaluate(context.Background(), fractalSet("BTCUSDT", true, 100, 99), domain.Flat))
	require.Len(t, s.RecentSignals(0), 1)

	sig := s.Evaluate(context.Background(), fractalSet("BTCUSDT", true, 100, 101), domain.Flat)
	require.NotNil(t, sig)
	assert.Equal(t, domain.SignalBuy, sig.Type)

	logged := s.RecentSignals(0)
	require.Len(t, logged, 2)
	assert.False(t, logged[0].Rejected) // Most recent first
	assert.True(t, logged[1].Rejected)
}

func TestEvaluate_PositionAware(t *testing.T) {
	tests := []struct {
		name        string
		allowShort  bool
		buy         bool
		prev, last  float64
		open        domain.PositionSide
		wantType    domain.SignalType
		wantReverse bool
		wantNil     bool
		wantReason  string
	}{
		{name: "buy while short reverses", allowShort: true, buy: true, prev: 100, last: 101, open: domain.Short, wantType: domain.SignalCloseShort, wantReverse: true},
		{name: "sell while long reverses", allowShort: true, prev: 104, last: 103, open: domain.Long, wantType: domain.SignalCloseLong, wantReverse: true},
		{name: "sell while long without shorting only exits", prev: 104, last: 103, open: domain.Long, wantType: domain.SignalCloseLong},
		{name: "sell when flat opens short", allowShort: true, prev: 104, last: 103, wantType: domain.SignalSell},
		{name: "sell when flat without shorting is rejected", prev: 104, last: 103, wantNil: true, wantReason: RejectedShortReason},
		{name: "buy while long is ignored", allowShort: true, buy: true, prev: 100, last: 101, open: domain.Long, wantNil: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStrategy(t, tt.allowShort)
			set := fractalSet("ETHUSDT", tt.buy, tt.prev, tt.last)
			if !tt.buy {
				set.Candles[len(set.Candles)-1].Close = 102 // Below the falling EMA
			}

			sig := s.Evaluate(context.Background(), set, tt.open)

			if tt.wantNil {
				assert.Nil(t, sig)
				if tt.wantReason != "" {
					logged := s.RecentSignals(1)
					require.Len(t, logged, 1)
					assert.Equal(t, tt.wantReason, logged[0].Reason)
				}
				return
			}
			require.NotNil(t, sig)
			assert.Equal(t, tt.wantType, sig.Type)
			assert.Equal(t, tt.wantReverse, sig.Reverse)
			assert.Contains(t, sig.Reason, "confirmed")
		})
	}
}

func TestEvaluate_ShortSeries(t *testing.T) {
	s := newStrategy(t, true)
	set := fractalSet("BTCUSDT", true, 100, 101)
	set.Candles = set.Candles[:4]
	assert.Nil(t, s.Evaluate(context.Background(), set, domain.Flat))
	assert.Nil(t, s.Evaluate(context.Background(), indicators.IndicatorSet{Symbol: "BTCUSDT"}, domain.Flat))
}

func TestSignalLog_BoundedMostRecentFirst(t *testing.T) {
	s, err := New(Config{FractalLookback: 2, AllowShort: true, SignalLogSize: 3}, &mockLogger{})
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		set := fractalSet("BTCUSDT", true, 100, 101)
		shift := time.Duration(i) * time.Hour
		set.BuyFractals[0].Time = set.BuyFractals[0].Time.Add(shift)
		require.NotNil(t, s.Evaluate(context.Background(), set, domain.Flat))
	}

	logged := s.RecentSignals(0)
	require.Len(t, logged, 3)
	assert.Equal(t, baseTime.Add(50*time.Minute+4*time.Hour), logged[0].FractalTime)
	assert.Equal(t, baseTime.Add(50*time.Minute+2*time.Hour), logged[2].FractalTime)
	assert.Len(t, s.RecentSignals(2), 2)
}

func TestRestore_MarksFractalsHandled(t *testing.T) {
	s := newStrategy(t, true)
	set := fractalSet("BTCUSDT", true, 100, 101)
	s.Restore([]domain.Signal{{Symbol: "BTCUSDT", Type: domain.SignalBuy, FractalTime: set.BuyFractals[0].Time}})

	assert.Nil(t, s.Evaluate(context.Background(), set, domain.Flat))
	assert.Len(t, s.RecentSignals(0), 1)
}
