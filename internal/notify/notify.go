// Package notify pushes engine events to an operator webhook (Slack,
// Discord, or anything that accepts a JSON POST). Delivery is fire-and-
// forget: a slow or dead webhook must never stall the decision loop, so
// each send runs in its own goroutine behind a rate limiter.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"elastic-dca/pkg/types"
)

// Notifier sends webhook alerts. A nil *Notifier is a no-op, so callers
// never branch on whether notifications are configured.
type Notifier struct {
	client  *resty.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

// New builds a notifier for the given webhook URL. Returns nil when the URL
// is empty.
func New(webhookURL string, timeout time.Duration, perMinute int, logger *slog.Logger) *Notifier {
	if webhookURL == "" {
		return nil
	}
	client := resty.New().
		SetBaseURL(webhookURL).
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond)

	return &Notifier{
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), perMinute),
		logger:  logger.With("component", "notify"),
	}
}

type message struct {
	Event string         `json:"event"`
	Text  string         `json:"text"`
	Data  map[string]any `json:"data,omitempty"`
}

// RowFilled announces a grid row whose alert flag is set.
func (n *Notifier) RowFilled(side types.Side, sessionID string, index int, volume, price decimal.Decimal) {
	n.send(message{
		Event: "row_filled",
		Text:  fmt.Sprintf("%s row %d filled: %s lots @ %s", side, index, volume, price),
		Data: map[string]any{
			"side": side, "session_id": sessionID, "index": index,
			"volume": volume.String(), "price": price.String(),
		},
	})
}

// HedgeTriggered announces a loss threshold breach and the injected counter.
func (n *Notifier) HedgeTriggered(side types.Side, sessionID string, loss, counterLots decimal.Decimal) {
	n.send(message{
		Event: "hedge_triggered",
		Text:  fmt.Sprintf("%s hedge triggered at %s loss, countering with %s lots", side, loss, counterLots),
		Data: map[string]any{
			"side": side, "session_id": sessionID,
			"loss": loss.String(), "counter_lots": counterLots.String(),
		},
	})
}

// TakeProfit announces a basket close on target.
func (n *Notifier) TakeProfit(side types.Side, sessionID string, profit decimal.Decimal) {
	n.send(message{
		Event: "take_profit",
		Text:  fmt.Sprintf("%s basket closing at %s profit", side, profit),
		Data:  map[string]any{"side": side, "session_id": sessionID, "profit": profit.String()},
	})
}

// IdentityConflict announces a latched identity fault. This one bypasses the
// limiter's burst accounting concerns by being rare; it still goes through
// send so ordering stays sane.
func (n *Notifier) IdentityConflict(detail string) {
	n.send(message{
		Event: "identity_conflict",
		Text:  "engine halted: " + detail,
		Data:  map[string]any{"detail": detail},
	})
}

func (n *Notifier) send(msg message) {
	if n == nil {
		return
	}
	if !n.limiter.Allow() {
		n.logger.Warn("notification dropped by rate limit", "event", msg.Event)
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		resp, err := n.client.R().
			SetContext(ctx).
			SetHeader("Content-Type", "application/json").
			SetBody(msg).
			Post("")
		if err != nil {
			n.logger.Warn("webhook send failed", "event", msg.Event, "error", err)
			return
		}
		if resp.IsError() {
			n.logger.Warn("webhook rejected", "event", msg.Event, "status", resp.StatusCode())
		}
	}()
}
