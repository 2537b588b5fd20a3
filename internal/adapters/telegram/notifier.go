package telegram

import (
	"context"
	"fmt"
	"strings"
	"time"

	tele "gopkg.in/telebot.v3"

	"fractalTrader/internal/domain"
	"fractalTrader/internal/ports"
)

// sender is the part of *tele.Bot used to deliver messages.
type sender interface {
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
}

// Notifier sends lifecycle events to one Telegram chat and answers /status
// from that chat.
type Notifier struct {
	bot    *tele.Bot
	sender sender
	chat   tele.ChatID
	logger ports.Logger
}

// Config holds configuration for the Telegram notifier.
type Config struct {
	Token  string
	ChatID int64
	Logger ports.Logger
}

// New connects to the Bot API. The chat id is also the only chat allowed to issue commands.
func New(cfg Config) (*Notifier, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for Telegram notifier")
	}
	if cfg.Token == "" || cfg.ChatID == 0 {
		return nil, fmt.Errorf("telegram notifier: %w: token and chat id are required", ports.ErrConfigurationError)
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: 10 * time.Second},
	})
	if err != nil {
		return nil, fmt.Errorf("telegram notifier: %w: %w", ports.ErrConnectionFailed, err)
	}
	cfg.Logger.Info(context.Background(), "Telegram notifier connected", map[string]interface{}{"bot": b.Me.Username})
	return &Notifier{bot: b, sender: b, chat: tele.ChatID(cfg.ChatID), logger: cfg.Logger}, nil
}

// Listen answers /status with the text returned by status until Close is called.
func (n *Notifier) Listen(status func() string) {
	n.bot.Use(func(next tele.HandlerFunc) tele.HandlerFunc {
		return func(c tele.Context) error {
			if c.Chat() == nil || c.Chat().ID != int64(n.chat) {
				return c.Send("Unauthorized")
			}
			return next(c)
		}
	})
	n.bot.Handle("/status", func(c tele.Context) error {
		return c.Send(status())
	})
	go n.bot.Start()
}

// Publish sends a short description of the event.
func (n *Notifier) Publish(ctx context.Context, event domain.LifecycleEvent) error {
	op := "Publish"
	if _, err := n.sender.Send(n.chat, formatEvent(event)); err != nil {
		return fmt.Errorf("%s failed: %w: %w", op, ports.ErrConnectionFailed, err)
	}
	return nil
}

// Close stops the update poller.
func (n *Notifier) Close() error {
	if n.bot != nil {
		n.bot.Stop()
	}
	return nil
}

func formatEvent(e domain.LifecycleEvent) string {
	p := e.Position
	var sb strings.Builder
	switch e.Type {
	case domain.EventOpened:
		fmt.Fprintf(&sb, "OPENED %s %s x%d\n", p.Side, p.Symbol, p.Leverage)
		fmt.Fprintf(&sb, "Entry: %.4f  Qty: %g  Margin: %.2f\n", p.EntryPrice, p.Quantity, p.Margin)
		fmt.Fprintf(&sb, "TP: %s  SL: %s", priceOrDash(p.Protection.TakeProfit), priceOrDash(p.Protection.StopLoss))
	case domain.EventClosed:
		if e.Trade == nil {
			fmt.Fprintf(&sb, "CLOSED %s %s", p.Side, p.Symbol)
			break
		}
		t := e.Trade
		fmt.Fprintf(&sb, "CLOSED %s %s (%s)\n", t.Side, t.Symbol, t.CloseReason)
		fmt.Fprintf(&sb, "%.4f -> %.4f\n", t.EntryPrice, t.ExitPrice)
		fmt.Fprintf(&sb, "PnL: %+.2f (%+.2f%%)  Held: %s", t.PNL, t.PnlPct, t.Duration.Round(time.Second))
	case domain.EventProtectionUpdated:
		fmt.Fprintf(&sb, "PROTECTION %s %s\n", p.Side, p.Symbol)
		fmt.Fprintf(&sb, "TP: %s  SL: %s  Trailing: %t", priceOrDash(p.Protection.TakeProfit), priceOrDash(p.Protection.StopLoss), p.Protection.TrailingActive)
	default:
		fmt.Fprintf(&sb, "%s %s", e.Type, p.Symbol)
	}
	return sb.String()
}

func priceOrDash(v float64) string {
	if v <= 0 {
		return "-"
	}
	return fmt.Sprintf("%.4f", v)
}
