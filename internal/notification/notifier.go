// Package notification delivers trade alerts to external channels
// (webhooks, Telegram) or the log.
package notification

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"kdjtrader/internal/indicator"
	"kdjtrader/internal/model"
	"kdjtrader/internal/strategy"
)

// AlertLevel represents the severity of an alert.
type AlertLevel string

const (
	AlertInfo     AlertLevel = "INFO"
	AlertWarning  AlertLevel = "WARNING"
	AlertCritical AlertLevel = "CRITICAL"
)

// Alert represents a notification to be sent.
type Alert struct {
	Level   AlertLevel `json:"level"`
	Title   string     `json:"title"`
	Message string     `json:"message"`
	Symbol  string     `json:"symbol,omitempty"`
	TS      time.Time  `json:"ts"` // event time (bar time for trade alerts)
}

// Notifier is the interface for all notification backends.
type Notifier interface {
	// Send delivers an alert. Returns error if delivery fails.
	Send(ctx context.Context, alert Alert) error
}

// LogNotifier logs alerts.
type LogNotifier struct{}

// NewLogNotifier creates a log-based notifier.
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

func (n *LogNotifier) Send(_ context.Context, alert Alert) error {
	log.Printf("[notify] [%s] %s: %s", alert.Level, alert.Title, alert.Message)
	return nil
}

// Multi sends every alert to all notifiers and joins their errors.
type Multi []Notifier

func (m Multi) Send(ctx context.Context, alert Alert) error {
	var errs []error
	for _, n := range m {
		if err := n.Send(ctx, alert); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// TradeAlerter turns fills and cancellations into alerts: one INFO alert
// per fill, one WARNING per cancel. Delivery errors are logged, never
// returned to the run. It has the method set of a backtest observer.
type TradeAlerter struct {
	ctx      context.Context
	notifier Notifier
	sent     int
}

// NewTradeAlerter creates an alerter sending through n. ctx bounds delivery.
func NewTradeAlerter(ctx context.Context, n Notifier) *TradeAlerter {
	return &TradeAlerter{ctx: ctx, notifier: n}
}

// Sent returns the number of alerts delivered.
func (a *TradeAlerter) Sent() int { return a.sent }

func (a *TradeAlerter) OnBar(model.Bar, []indicator.Value, float64) {}

func (a *TradeAlerter) OnSignal(strategy.Signal) {}

func (a *TradeAlerter) OnFill(_ *model.Order, f model.Fill) {
	verb := "BUY"
	if f.Side == model.SideClose {
		verb = "SELL"
	}
	a.send(Alert{
		Level:   AlertInfo,
		Title:   fmt.Sprintf("%s %s EXECUTED", f.Symbol, verb),
		Message: fmt.Sprintf("Size: %d, Price: %.2f, Value: %.2f, Comm: %.2f", f.Size, f.Price, f.Value, f.Commission),
		Symbol:  f.Symbol,
		TS:      f.FilledAt,
	})
}

func (a *TradeAlerter) OnCancel(o *model.Order) {
	a.send(Alert{
		Level:   AlertWarning,
		Title:   fmt.Sprintf("%s %s CANCELLED", o.Symbol, o.Side),
		Message: fmt.Sprintf("Order %s (size %d): %s", o.ID, o.Size, o.Reason),
		Symbol:  o.Symbol,
		TS:      o.SubmittedAt,
	})
}

func (a *TradeAlerter) send(alert Alert) {
	if err := a.notifier.Send(a.ctx, alert); err != nil {
		log.Printf("[notify] delivery failed for %q: %v", alert.Title, err)
		return
	}
	a.sent++
}
