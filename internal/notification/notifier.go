// Package notification delivers signal and trade alerts to external
// channels (Telegram, webhooks) and to the log.
package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"novatrading/internal/model"
)

// AlertLevel represents the severity of an alert.
type AlertLevel string

const (
	AlertInfo     AlertLevel = "INFO"
	AlertWarning  AlertLevel = "WARNING"
	AlertCritical AlertLevel = "CRITICAL"
)

// Alert is one notification to deliver.
type Alert struct {
	Level   AlertLevel `json:"level"`
	Title   string     `json:"title"`
	Message string     `json:"message"`
}

// Notifier is the interface all delivery backends satisfy.
type Notifier interface {
	// Send delivers an alert. Returns an error if delivery fails.
	Send(ctx context.Context, alert Alert) error
}

// LogNotifier logs alerts; the development and fallback backend.
type LogNotifier struct{}

// NewLogNotifier creates a log-based notifier.
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

func (n *LogNotifier) Send(ctx context.Context, alert Alert) error {
	log.Printf("[notify] [%s] %s: %s", alert.Level, alert.Title, alert.Message)
	return nil
}

// SignalAlert formats a detected signal for delivery.
func SignalAlert(sig *model.SignalRecord) Alert {
	arrow := "▲"
	if sig.Type == model.SignalSell {
		arrow = "▼"
	}
	return Alert{
		Level: AlertInfo,
		Title: fmt.Sprintf("%s %s %s @ %s", arrow, sig.Type, sig.Symbol, sig.Timeframe),
		Message: fmt.Sprintf("Entry %.2f | SL %.2f | TP %.2f / %.2f / %.2f | ATR %.2f | MTFA %s",
			sig.Entry, sig.SL, sig.TP1, sig.TP2, sig.TP3, sig.ATR, sig.MTFA),
	}
}

// TradeAlert formats a realized trade for delivery. Stop-outs are warnings.
func TradeAlert(trade *model.ClosedTrade) Alert {
	level := AlertInfo
	if trade.Reason == model.CloseSLHit {
		level = AlertWarning
	}
	return Alert{
		Level: level,
		Title: fmt.Sprintf("%s %s closed (%s)", trade.Side, trade.Symbol, trade.Reason),
		Message: fmt.Sprintf("Qty %.2f | Entry %.2f -> Exit %.2f | P&L %+.2f",
			trade.Qty, trade.EntryPrice, trade.ExitPrice, trade.RealizedPnL),
	}
}

// Dispatcher consumes core events and fans formatted alerts out to every
// configured backend.
type Dispatcher struct {
	notifiers []Notifier
}

// NewDispatcher creates a dispatcher over the given backends.
func NewDispatcher(notifiers ...Notifier) *Dispatcher {
	return &Dispatcher{notifiers: notifiers}
}

// Run drains eventCh until ctx is cancelled or the channel closes. Delivery
// failures are logged and skipped; alerting never stalls the pipeline.
func (d *Dispatcher) Run(ctx context.Context, eventCh <-chan model.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-eventCh:
			if !ok {
				return
			}
			d.dispatch(ctx, ev)
		}
	}
}

func (d *Dispatcher) dispatch(ctx context.Context, ev model.Event) {
	alert, ok := alertFromEvent(ev)
	if !ok {
		return
	}
	for _, n := range d.notifiers {
		if err := n.Send(ctx, alert); err != nil {
			log.Printf("[notify] send %q: %v", alert.Title, err)
		}
	}
}

func alertFromEvent(ev model.Event) (Alert, bool) {
	switch ev.Kind {
	case model.EventSignal:
		var sig model.SignalRecord
		if err := json.Unmarshal(ev.Payload, &sig); err != nil {
			return Alert{}, false
		}
		return SignalAlert(&sig), true

	case model.EventTrade:
		var trade model.ClosedTrade
		if err := json.Unmarshal(ev.Payload, &trade); err == nil && trade.Reason != "" {
			return TradeAlert(&trade), true
		}
		// Fills carry no close reason; report them as plain info.
		var exec model.ExecutionRecord
		if err := json.Unmarshal(ev.Payload, &exec); err != nil || exec.OrderID == "" {
			return Alert{}, false
		}
		return Alert{
			Level:   AlertInfo,
			Title:   fmt.Sprintf("%s %s filled", exec.Side, exec.Symbol),
			Message: fmt.Sprintf("Qty %.2f @ %.2f (order %s)", exec.Qty, exec.Price, exec.OrderID),
		}, true

	case model.EventError:
		return Alert{
			Level:   AlertCritical,
			Title:   "Pipeline error" + symbolSuffix(ev.Symbol),
			Message: string(ev.Payload),
		}, true
	}
	return Alert{}, false
}

func symbolSuffix(symbol string) string {
	if symbol == "" {
		return ""
	}
	return " (" + symbol + ")"
}
