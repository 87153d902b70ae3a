package notification

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"novatrading/internal/model"
)

func sampleSignal() *model.SignalRecord {
	return &model.SignalRecord{
		ID: 1, Symbol: "SBIN", Timeframe: "15m",
		TS:    time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC),
		Type:  model.SignalBuy,
		Entry: 100, SL: 95, TP1: 102, TP2: 104, TP3: 106,
		ATR: 2, MTFA: model.MTFAConfirmed, Status: model.StatusNew,
	}
}

func TestSignalAlertFormatting(t *testing.T) {
	alert := SignalAlert(sampleSignal())
	if alert.Level != AlertInfo {
		t.Errorf("level: got %s", alert.Level)
	}
	if !strings.Contains(alert.Title, "BUY SBIN") {
		t.Errorf("title missing direction/symbol: %q", alert.Title)
	}
	for _, want := range []string{"100.00", "95.00", "102.00", "CONFIRMED"} {
		if !strings.Contains(alert.Message, want) {
			t.Errorf("message missing %q: %q", want, alert.Message)
		}
	}
}

func TestTradeAlertLevels(t *testing.T) {
	trade := &model.ClosedTrade{
		Symbol: "SBIN", Side: model.SignalBuy, Qty: 50,
		EntryPrice: 100, ExitPrice: 95, RealizedPnL: -250,
		Reason: model.CloseSLHit,
	}
	if got := TradeAlert(trade); got.Level != AlertWarning {
		t.Errorf("stop-out should be a warning, got %s", got.Level)
	}

	trade.Reason = model.CloseTPHit
	trade.ExitPrice, trade.RealizedPnL = 106, 300
	if got := TradeAlert(trade); got.Level != AlertInfo {
		t.Errorf("target hit should be info, got %s", got.Level)
	}
}

// recordingNotifier captures sent alerts.
type recordingNotifier struct {
	mu     sync.Mutex
	alerts []Alert
}

func (r *recordingNotifier) Send(_ context.Context, alert Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, alert)
	return nil
}

func TestDispatcherRoutesEvents(t *testing.T) {
	rec := &recordingNotifier{}
	d := NewDispatcher(rec)

	ch := make(chan model.Event, 4)
	ch <- model.NewSignalEvent(sampleSignal())
	ch <- model.NewTradeEvent("SBIN", model.ClosedTrade{
		OrderID: "PAPER-2", Symbol: "SBIN", Side: model.SignalBuy, Qty: 50,
		EntryPrice: 100, ExitPrice: 95, RealizedPnL: -250, Reason: model.CloseSLHit,
	})
	ch <- model.NewErrorEvent("SBIN", io.ErrUnexpectedEOF)
	close(ch)

	d.Run(context.Background(), ch)

	if len(rec.alerts) != 3 {
		t.Fatalf("expected 3 alerts, got %d", len(rec.alerts))
	}
	if rec.alerts[0].Level != AlertInfo || rec.alerts[1].Level != AlertWarning || rec.alerts[2].Level != AlertCritical {
		t.Errorf("levels wrong: %+v", rec.alerts)
	}
}

func TestTelegramNotifier_Send(t *testing.T) {
	var gotPath string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	n := NewTelegramNotifier("TOKEN", "42")
	n.apiBase = srv.URL

	err := n.Send(context.Background(), Alert{Level: AlertInfo, Title: "BUY SBIN", Message: "Entry 100"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if gotPath != "/botTOKEN/sendMessage" {
		t.Errorf("path: %s", gotPath)
	}
	if gotBody["chat_id"] != "42" || gotBody["parse_mode"] != "MarkdownV2" {
		t.Errorf("body: %+v", gotBody)
	}
}

func TestTelegramNotifier_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"ok":false,"description":"chat not found"}`))
	}))
	defer srv.Close()

	n := NewTelegramNotifier("TOKEN", "42")
	n.apiBase = srv.URL

	err := n.Send(context.Background(), Alert{Title: "x"})
	if err == nil || !strings.Contains(err.Error(), "chat not found") {
		t.Fatalf("expected api error, got %v", err)
	}
}

func TestWebhookNotifier_Send(t *testing.T) {
	var payload struct {
		Alert
		TS string `json:"ts"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&payload)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL)
	if err := n.Send(context.Background(), Alert{Level: AlertWarning, Title: "t", Message: "m"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if payload.Level != AlertWarning || payload.TS == "" {
		t.Errorf("payload: %+v", payload)
	}
}

func TestWebhookNotifier_BadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL)
	if err := n.Send(context.Background(), Alert{Title: "t"}); err == nil {
		t.Fatal("expected error on 502")
	}
}

func TestEscapeMarkdown(t *testing.T) {
	got := escapeMarkdown("P&L -250.50 (SL_HIT)")
	want := `P&L \-250\.50 \(SL\_HIT\)`
	if got != want {
		t.Errorf("escape: got %q, want %q", got, want)
	}
}
