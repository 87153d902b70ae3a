package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"novatrading/internal/model"
)

// fakePublisher fails while down, records deliveries otherwise.
type fakePublisher struct {
	mu        sync.Mutex
	down      bool
	delivered []model.Event
}

func (f *fakePublisher) Publish(_ context.Context, ev model.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return errors.New("sink down")
	}
	f.delivered = append(f.delivered, ev)
	return nil
}

func (f *fakePublisher) Close() error { return nil }

func (f *fakePublisher) setDown(down bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.down = down
}

func (f *fakePublisher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.delivered)
}

func tradeEvent(symbol string) model.Event {
	return model.NewTradeEvent(symbol, map[string]string{"order_id": "PAPER-1"})
}

// ────────────────────────────────────────────────────────────
// Circuit breaker
// ────────────────────────────────────────────────────────────

func TestCircuitBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	cb := NewCircuitBreaker(3, 100*time.Millisecond)
	if cb.State() != BreakerClosed {
		t.Fatalf("new breaker should start closed, got %v", cb.State())
	}

	errFail := errors.New("fail")
	for i := 0; i < 3; i++ {
		if err := cb.Do(func() error { return errFail }); err != errFail {
			t.Fatalf("call %d: expected errFail, got %v", i, err)
		}
	}
	if cb.State() != BreakerOpen {
		t.Fatalf("expected open after 3 failures, got %v", cb.State())
	}

	// Open breaker rejects without executing.
	called := false
	err := cb.Do(func() error { called = true; return nil })
	if err != ErrCircuitOpen {
		t.Errorf("expected ErrCircuitOpen, got %v", err)
	}
	if called {
		t.Error("open breaker must not execute the call")
	}
}

func TestCircuitBreaker_ProbeRecovery(t *testing.T) {
	cb := NewCircuitBreaker(2, 30*time.Millisecond)
	errFail := errors.New("fail")

	for i := 0; i < 2; i++ {
		cb.Do(func() error { return errFail })
	}
	if cb.State() != BreakerOpen {
		t.Fatal("breaker should be open")
	}

	time.Sleep(40 * time.Millisecond)

	// Probe succeeds → closed.
	if err := cb.Do(func() error { return nil }); err != nil {
		t.Fatalf("probe: %v", err)
	}
	if cb.State() != BreakerClosed {
		t.Errorf("expected closed after successful probe, got %v", cb.State())
	}
}

func TestCircuitBreaker_FailedProbeReopens(t *testing.T) {
	cb := NewCircuitBreaker(2, 30*time.Millisecond)
	errFail := errors.New("fail")

	for i := 0; i < 2; i++ {
		cb.Do(func() error { return errFail })
	}
	time.Sleep(40 * time.Millisecond)
	cb.Do(func() error { return errFail })

	if cb.State() != BreakerOpen {
		t.Errorf("expected open after failed probe, got %v", cb.State())
	}
}

func TestCircuitBreaker_SuccessResetsCounter(t *testing.T) {
	cb := NewCircuitBreaker(3, 100*time.Millisecond)
	errFail := errors.New("fail")

	cb.Do(func() error { return errFail })
	cb.Do(func() error { return errFail })
	cb.Do(func() error { return nil })
	cb.Do(func() error { return errFail })
	cb.Do(func() error { return errFail })

	if cb.State() != BreakerClosed {
		t.Errorf("counter should reset on success, got %v", cb.State())
	}
}

// ────────────────────────────────────────────────────────────
// Buffered publisher
// ────────────────────────────────────────────────────────────

func TestBufferedPublisher_BuffersWhileOpenAndFlushesOnRecovery(t *testing.T) {
	sink := &fakePublisher{}
	cb := NewCircuitBreaker(1, 20*time.Millisecond)
	bp := NewBufferedPublisher(sink, cb, 100)
	ctx := context.Background()

	if err := bp.Publish(ctx, tradeEvent("SBIN")); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if sink.count() != 1 {
		t.Fatalf("expected direct delivery, got %d", sink.count())
	}

	// Trip the breaker, then publish while open: events must buffer, not fail.
	sink.setDown(true)
	if err := bp.Publish(ctx, tradeEvent("TCS")); err == nil {
		t.Fatal("expected the tripping call to surface its error")
	}
	if err := bp.Publish(ctx, tradeEvent("INFY")); err != nil {
		t.Fatalf("open-circuit publish should buffer, got %v", err)
	}
	if bp.Buffered() != 1 {
		t.Fatalf("expected 1 buffered event, got %d", bp.Buffered())
	}

	// Recover; the next publish probes, succeeds, and the close transition
	// flushes the backlog.
	sink.setDown(false)
	time.Sleep(30 * time.Millisecond)
	if err := bp.Publish(ctx, tradeEvent("RELIANCE")); err != nil {
		t.Fatalf("publish after recovery: %v", err)
	}

	deadline := time.After(time.Second)
	for bp.Buffered() > 0 {
		select {
		case <-deadline:
			t.Fatalf("buffer never drained, %d left", bp.Buffered())
		default:
			time.Sleep(5 * time.Millisecond)
		}
	}
	// SBIN + RELIANCE direct, INFY flushed. TCS was the tripping failure.
	if sink.count() != 3 {
		t.Errorf("expected 3 delivered events, got %d", sink.count())
	}
}

func TestBufferedPublisher_DropsOldestWhenFull(t *testing.T) {
	sink := &fakePublisher{down: true}
	cb := NewCircuitBreaker(1, time.Hour)
	bp := NewBufferedPublisher(sink, cb, 2)
	ctx := context.Background()

	bp.Publish(ctx, tradeEvent("TRIP")) // trips the breaker
	bp.Publish(ctx, tradeEvent("A"))
	bp.Publish(ctx, tradeEvent("B"))
	bp.Publish(ctx, tradeEvent("C")) // evicts A

	if bp.Buffered() != 2 {
		t.Fatalf("expected buffer capped at 2, got %d", bp.Buffered())
	}
}

// ────────────────────────────────────────────────────────────
// Pump
// ────────────────────────────────────────────────────────────

func TestPumpDrainsChannel(t *testing.T) {
	sink := &fakePublisher{}
	ch := make(chan model.Event, 4)
	ch <- tradeEvent("SBIN")
	ch <- tradeEvent("TCS")
	close(ch)

	Pump(context.Background(), sink, ch)

	if sink.count() != 2 {
		t.Fatalf("expected 2 events pumped, got %d", sink.count())
	}
}
