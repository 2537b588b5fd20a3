package telegram

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tele "gopkg.in/telebot.v3"

	"fractalTrader/internal/domain"
	"fractalTrader/internal/ports"
)

type mockLogger struct{}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

type recordingSender struct {
	to   []tele.Recipient
	text []string
	err  error
}

func (s *recordingSender) Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.to = append(s.to, to)
	s.text = append(s.text, what.(string))
	return &tele.Message{}, nil
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{Token: "t", ChatID: 1})
	assert.Error(t, err)
	_, err = New(Config{ChatID: 1, Logger: &mockLogger{}})
	assert.ErrorIs(t, err, ports.ErrConfigurationError)
}

func TestFormatEvent(t *testing.T) {
	pos := domain.Position{
		ID:         "1",
		Symbol:     "ETHUSDT",
		Side:       domain.Short,
		EntryPrice: 2000,
		Quantity:   0.5,
		Margin:     200,
		Leverage:   5,
		Protection: domain.Protection{StopLoss: 2040},
	}

	opened := formatEvent(domain.LifecycleEvent{Type: domain.EventOpened, Position: pos})
	assert.Contains(t, opened, "OPENED SHORT ETHUSDT x5")
	assert.Contains(t, opened, "TP: -  SL: 2040.0000")

	trade := domain.NewTradeRecord(&pos, 1900, time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC), domain.CloseReasonSignal)
	trade.Duration = 90 * time.Minute
	closed := formatEvent(domain.LifecycleEvent{Type: domain.EventClosed, Position: pos, Trade: &trade})
	assert.Contains(t, closed, "CLOSED SHORT ETHUSDT (SIGNAL)")
	assert.Contains(t, closed, "PnL: +50.00 (+25.00%)")
	assert.Contains(t, closed, "Held: 1h30m0s")

	pos.Protection.TrailingActive = true
	updated := formatEvent(domain.LifecycleEvent{Type: domain.EventProtectionUpdated, Position: pos})
	assert.Contains(t, updated, "Trailing: true")
}

func TestNotifier_Publish(t *testing.T) {
	s := &recordingSender{}
	n := &Notifier{sender: s, chat: tele.ChatID(42), logger: &mockLogger{}}

	require.NoError(t, n.Publish(context.Background(), domain.LifecycleEvent{Type: domain.EventOpened, Position: domain.Position{Symbol: "BTCUSDT", Side: domain.Long}}))
	require.Len(t, s.text, 1)
	assert.Equal(t, tele.ChatID(42), s.to[0])
	assert.Contains(t, s.text[0], "BTCUSDT")

	s.err = errors.New("Bad Gateway")
	err := n.Publish(context.Background(), domain.LifecycleEvent{Type: domain.EventClosed})
	assert.ErrorIs(t, err, ports.ErrConnectionFailed)
	assert.NoError(t, n.Close())
}
