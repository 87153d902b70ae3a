package ledger

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"testing"
	"time"

	"novatrading/internal/model"
)

var ctx = context.Background()

func buySignal(symbol string, entry, sl, tp1, tp2, tp3 float64) *model.SignalRecord {
	return &model.SignalRecord{
		ID:     1,
		Symbol: symbol,
		TS:     time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC),
		Type:   model.SignalBuy,
		Entry:  entry,
		SL:     sl,
		TP1:    tp1,
		TP2:    tp2,
		TP3:    tp3,
		Status: model.StatusNew,
	}
}

func sellSignal(symbol string, entry, sl, tp1, tp2, tp3 float64) *model.SignalRecord {
	sig := buySignal(symbol, entry, sl, tp1, tp2, tp3)
	sig.Type = model.SignalSell
	return sig
}

func bar(symbol string, low, high float64) model.Bar {
	return model.Bar{
		Symbol:    symbol,
		Timeframe: "15m",
		TS:        time.Date(2024, 1, 1, 10, 15, 0, 0, time.UTC),
		Open:      (low + high) / 2,
		High:      high,
		Low:       low,
		Close:     (low + high) / 2,
		Volume:    1000,
	}
}

func assertCash(t *testing.T, l *Ledger, want float64) {
	t.Helper()
	if math.Abs(l.Cash()-want) > 1e-9 {
		t.Errorf("cash: got %.2f, want %.2f", l.Cash(), want)
	}
}

// ────────────────────────────────────────────────────────────
// Open / close bookkeeping
// ────────────────────────────────────────────────────────────

func TestOpenThenStopOut(t *testing.T) {
	// cash 10000, BUY 50 @ 100 → cash 5000; SL hit at 95 → cash 9750, -250.
	l := New(10000, 16)

	sig := buySignal("SBIN", 100, 95, 102, 104, 106)
	exec, err := l.OpenPosition(ctx, sig, 50)
	if err != nil {
		t.Fatalf("OpenPosition: %v", err)
	}
	assertCash(t, l, 5000)
	if sig.Status != model.StatusActive {
		t.Errorf("signal status: got %s, want ACTIVE", sig.Status)
	}
	if exec.Price != 100 || exec.Qty != 50 {
		t.Errorf("unexpected fill: %+v", exec)
	}

	trade, err := l.ProcessBar(ctx, "SBIN", bar("SBIN", 94, 98))
	if err != nil {
		t.Fatalf("ProcessBar: %v", err)
	}
	if trade == nil || trade.Reason != model.CloseSLHit {
		t.Fatalf("expected SL_HIT close, got %+v", trade)
	}
	assertCash(t, l, 9750)
	if math.Abs(trade.RealizedPnL-(-250)) > 1e-9 {
		t.Errorf("realized pnl: got %.2f, want -250", trade.RealizedPnL)
	}
	if l.Position("SBIN") != nil {
		t.Error("position not removed after close")
	}
}

func TestShortSidePnL(t *testing.T) {
	// SELL 10 @ 200, target hit at 195 → pnl = (195-200)*10*(-1) = +50.
	l := New(10000, 16)

	sig := sellSignal("TCS", 200, 205, 195, 190, 185)
	if _, err := l.OpenPosition(ctx, sig, 10); err != nil {
		t.Fatalf("OpenPosition: %v", err)
	}
	assertCash(t, l, 8000)

	trade, err := l.ProcessBar(ctx, "TCS", bar("TCS", 194, 198))
	if err != nil {
		t.Fatalf("ProcessBar: %v", err)
	}
	if trade == nil || trade.Reason != model.CloseTPHit {
		t.Fatalf("expected TP_HIT, got %+v", trade)
	}
	if math.Abs(trade.RealizedPnL-50) > 1e-9 {
		t.Errorf("short pnl: got %.2f, want 50", trade.RealizedPnL)
	}
	assertCash(t, l, 10050)
}

func TestSLPrecedenceOverTP(t *testing.T) {
	// Bar straddles both SL and TP1: the stop wins.
	l := New(10000, 16)

	sig := buySignal("SBIN", 100, 95, 102, 104, 106)
	if _, err := l.OpenPosition(ctx, sig, 10); err != nil {
		t.Fatalf("OpenPosition: %v", err)
	}

	trade, err := l.ProcessBar(ctx, "SBIN", bar("SBIN", 94, 107))
	if err != nil {
		t.Fatalf("ProcessBar: %v", err)
	}
	if trade == nil || trade.Reason != model.CloseSLHit {
		t.Fatalf("expected SL_HIT when both straddled, got %+v", trade)
	}
	if trade.ExitPrice != 95 {
		t.Errorf("exit at SL price: got %.2f, want 95", trade.ExitPrice)
	}
}

func TestFarthestTargetWins(t *testing.T) {
	l := New(10000, 16)

	sig := buySignal("SBIN", 100, 95, 102, 104, 106)
	if _, err := l.OpenPosition(ctx, sig, 10); err != nil {
		t.Fatalf("OpenPosition: %v", err)
	}

	// Bar reaches TP2 but not TP3, without touching SL.
	trade, err := l.ProcessBar(ctx, "SBIN", bar("SBIN", 101, 105))
	if err != nil {
		t.Fatalf("ProcessBar: %v", err)
	}
	if trade == nil || trade.ExitPrice != 104 {
		t.Fatalf("expected exit at TP2=104, got %+v", trade)
	}
}

func TestProcessBar_NoTouchNoClose(t *testing.T) {
	l := New(10000, 16)

	sig := buySignal("SBIN", 100, 95, 102, 104, 106)
	if _, err := l.OpenPosition(ctx, sig, 10); err != nil {
		t.Fatalf("OpenPosition: %v", err)
	}

	trade, err := l.ProcessBar(ctx, "SBIN", bar("SBIN", 98, 101))
	if err != nil {
		t.Fatalf("ProcessBar: %v", err)
	}
	if trade != nil {
		t.Fatalf("expected no close, got %+v", trade)
	}
	if l.Position("SBIN") == nil {
		t.Error("position should remain open")
	}

	// Flat instrument: no-op, no error.
	trade, err = l.ProcessBar(ctx, "INFY", bar("INFY", 10, 20))
	if err != nil || trade != nil {
		t.Errorf("flat instrument: got %+v, %v", trade, err)
	}
}

func TestManualClose(t *testing.T) {
	l := New(10000, 16)

	sig := buySignal("SBIN", 100, 95, 102, 104, 106)
	if _, err := l.OpenPosition(ctx, sig, 10); err != nil {
		t.Fatalf("OpenPosition: %v", err)
	}

	trade, err := l.ClosePosition(ctx, "SBIN", 101, model.CloseManual)
	if err != nil {
		t.Fatalf("ClosePosition: %v", err)
	}
	if trade.Reason != model.CloseManual {
		t.Errorf("reason: got %s, want MANUAL", trade.Reason)
	}
	assertCash(t, l, 10010)

	if _, err := l.ClosePosition(ctx, "SBIN", 101, model.CloseManual); !errors.Is(err, ErrNoOpenPosition) {
		t.Errorf("expected ErrNoOpenPosition, got %v", err)
	}
}

// ────────────────────────────────────────────────────────────
// Preconditions
// ────────────────────────────────────────────────────────────

func TestOpenPosition_Preconditions(t *testing.T) {
	l := New(1000, 16)

	if _, err := l.OpenPosition(ctx, buySignal("SBIN", 100, 95, 102, 104, 106), 50); !errors.Is(err, ErrInsufficientFunds) {
		t.Errorf("expected ErrInsufficientFunds, got %v", err)
	}
	assertCash(t, l, 1000) // no partial state change

	if _, err := l.OpenPosition(ctx, buySignal("SBIN", 100, 95, 102, 104, 106), 5); err != nil {
		t.Fatalf("OpenPosition: %v", err)
	}
	if _, err := l.OpenPosition(ctx, buySignal("SBIN", 101, 96, 103, 105, 107), 1); !errors.Is(err, ErrDuplicatePosition) {
		t.Errorf("expected ErrDuplicatePosition, got %v", err)
	}

	hold := buySignal("INFY", 100, 95, 102, 104, 106)
	hold.Type = model.SignalHold
	if _, err := l.OpenPosition(ctx, hold, 1); !errors.Is(err, ErrNotTradable) {
		t.Errorf("expected ErrNotTradable, got %v", err)
	}

	if _, err := l.OpenPosition(ctx, buySignal("INFY", 100, 95, 102, 104, 106), 0); !errors.Is(err, ErrInvalidQuantity) {
		t.Errorf("expected ErrInvalidQuantity, got %v", err)
	}
}

// ────────────────────────────────────────────────────────────
// Reset / snapshot
// ────────────────────────────────────────────────────────────

func TestResetClearsEverything(t *testing.T) {
	l := New(10000, 16)
	if _, err := l.OpenPosition(ctx, buySignal("SBIN", 100, 95, 102, 104, 106), 10); err != nil {
		t.Fatalf("OpenPosition: %v", err)
	}
	if _, err := l.ProcessBar(ctx, "SBIN", bar("SBIN", 94, 96)); err != nil {
		t.Fatalf("ProcessBar: %v", err)
	}

	l.Reset(20000)
	assertCash(t, l, 20000)
	if l.RealizedPnL() != 0 {
		t.Errorf("realized pnl after reset: %.2f", l.RealizedPnL())
	}
	if len(l.ClosedTrades()) != 0 {
		t.Error("trade log not cleared")
	}
	if l.Position("SBIN") != nil {
		t.Error("positions not cleared")
	}
}

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	l := New(10000, 16)
	if _, err := l.OpenPosition(ctx, buySignal("SBIN", 100, 95, 102, 104, 106), 10); err != nil {
		t.Fatalf("OpenPosition: %v", err)
	}

	snap := l.Snapshot()

	restored := New(0, 16)
	restored.Restore(snap)
	assertCash(t, restored, l.Cash())
	pos := restored.Position("SBIN")
	if pos == nil || pos.EntryPrice != 100 || pos.Qty != 10 {
		t.Fatalf("position not restored: %+v", pos)
	}
}

// ────────────────────────────────────────────────────────────
// Cash conservation under random operation sequences
// ────────────────────────────────────────────────────────────

// After any sequence of open/process/close calls:
// cash + sum(open notional at entry) == starting balance + realized P&L.
func TestCashConservation_RandomOps(t *testing.T) {
	const starting = 100000.0
	l := New(starting, 1024)
	rng := rand.New(rand.NewSource(42))
	symbols := []string{"SBIN", "TCS", "INFY", "RELIANCE"}

	check := func(step int) {
		t.Helper()
		snap := l.Snapshot()
		openNotional := 0.0
		for _, pos := range snap.Positions {
			openNotional += pos.Qty * pos.EntryPrice
		}
		lhs := snap.Cash + openNotional
		rhs := starting + snap.RealizedPnL
		if math.Abs(lhs-rhs) > 1e-6 {
			t.Fatalf("step %d: conservation violated: cash+notional=%.4f, starting+realized=%.4f", step, lhs, rhs)
		}
	}

	for i := 0; i < 600; i++ {
		sym := symbols[rng.Intn(len(symbols))]
		switch rng.Intn(3) {
		case 0: // open
			entry := 50 + rng.Float64()*200
			width := 1 + rng.Float64()*10
			var sig *model.SignalRecord
			if rng.Intn(2) == 0 {
				sig = buySignal(sym, entry, entry-width, entry+width, entry+2*width, entry+3*width)
			} else {
				sig = sellSignal(sym, entry, entry+width, entry-width, entry-2*width, entry-3*width)
			}
			qty := float64(1 + rng.Intn(20))
			_, err := l.OpenPosition(ctx, sig, qty)
			if err != nil && !errors.Is(err, ErrInsufficientFunds) && !errors.Is(err, ErrDuplicatePosition) {
				t.Fatalf("step %d: unexpected open error: %v", i, err)
			}
		case 1: // process a random bar
			mid := 50 + rng.Float64()*250
			span := rng.Float64() * 30
			if _, err := l.ProcessBar(ctx, sym, bar(sym, mid-span, mid+span)); err != nil {
				t.Fatalf("step %d: ProcessBar: %v", i, err)
			}
		case 2: // manual close
			px := 50 + rng.Float64()*250
			_, err := l.ClosePosition(ctx, sym, px, model.CloseManual)
			if err != nil && !errors.Is(err, ErrNoOpenPosition) {
				t.Fatalf("step %d: unexpected close error: %v", i, err)
			}
		}
		check(i)
	}
}

// ────────────────────────────────────────────────────────────
// Event emission
// ────────────────────────────────────────────────────────────

func TestEmitsTradeEvents(t *testing.T) {
	l := New(10000, 16)
	if _, err := l.OpenPosition(ctx, buySignal("SBIN", 100, 95, 102, 104, 106), 10); err != nil {
		t.Fatalf("OpenPosition: %v", err)
	}
	if _, err := l.ProcessBar(ctx, "SBIN", bar("SBIN", 94, 96)); err != nil {
		t.Fatalf("ProcessBar: %v", err)
	}

	for i := 0; i < 2; i++ {
		select {
		case ev := <-l.Events():
			if ev.Kind != model.EventTrade {
				t.Errorf("event %d: kind %s, want TRADE", i, ev.Kind)
			}
			if ev.Symbol != "SBIN" {
				t.Errorf("event %d: symbol %s", i, ev.Symbol)
			}
		default:
			t.Fatalf("expected 2 trade events, got %d", i)
		}
	}
}
