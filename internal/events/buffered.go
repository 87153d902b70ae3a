package events

import (
	"context"
	"log"
	"sync"

	"novatrading/internal/model"
)

// BufferedPublisher wraps a Publisher with a circuit breaker. While the
// breaker is open, events are held in a bounded local buffer instead of
// being lost, and replayed when the sink recovers. The oldest buffered
// events are dropped once the buffer is full.
type BufferedPublisher struct {
	inner Publisher
	cb    *CircuitBreaker

	mu     sync.Mutex
	buffer []model.Event
	maxBuf int

	// Optional metric hooks.
	OnBuffer func()
	OnFlush  func(count int)
}

// NewBufferedPublisher wraps inner with the given breaker. A flush of the
// buffered backlog is scheduled whenever the breaker closes.
func NewBufferedPublisher(inner Publisher, cb *CircuitBreaker, maxBufferSize int) *BufferedPublisher {
	if maxBufferSize <= 0 {
		maxBufferSize = 10000
	}
	bp := &BufferedPublisher{
		inner:  inner,
		cb:     cb,
		buffer: make([]model.Event, 0, 256),
		maxBuf: maxBufferSize,
	}

	prev := cb.OnStateChange
	cb.OnStateChange = func(from, to BreakerState) {
		if prev != nil {
			prev(from, to)
		}
		log.Printf("[events] circuit breaker %s -> %s", from, to)
		if to == BreakerClosed {
			go bp.flush()
		}
	}
	return bp
}

// Publish delivers through the breaker; an open circuit buffers the event
// instead of failing the caller.
func (bp *BufferedPublisher) Publish(ctx context.Context, ev model.Event) error {
	err := bp.cb.Do(func() error {
		return bp.inner.Publish(ctx, ev)
	})
	if err == ErrCircuitOpen {
		bp.hold(ev)
		return nil
	}
	return err
}

// Buffered returns the number of events currently held.
func (bp *BufferedPublisher) Buffered() int {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	return len(bp.buffer)
}

// Close flushes the backlog and closes the inner publisher.
func (bp *BufferedPublisher) Close() error {
	bp.flush()
	return bp.inner.Close()
}

func (bp *BufferedPublisher) hold(ev model.Event) {
	bp.mu.Lock()
	if len(bp.buffer) >= bp.maxBuf {
		copy(bp.buffer, bp.buffer[1:])
		bp.buffer = bp.buffer[:len(bp.buffer)-1]
	}
	bp.buffer = append(bp.buffer, ev)
	n := len(bp.buffer)
	bp.mu.Unlock()

	if bp.OnBuffer != nil {
		bp.OnBuffer()
	}
	log.Printf("[events] buffered %s event for %s (%d pending)", ev.Kind, ev.Symbol, n)
}

// flush replays the backlog in order. Events that fail again go back to the
// front of the buffer.
func (bp *BufferedPublisher) flush() {
	bp.mu.Lock()
	pending := bp.buffer
	bp.buffer = make([]model.Event, 0, 256)
	bp.mu.Unlock()

	if len(pending) == 0 {
		return
	}

	ctx := context.Background()
	sent := 0
	for i, ev := range pending {
		err := bp.cb.Do(func() error {
			return bp.inner.Publish(ctx, ev)
		})
		if err != nil {
			// Sink is down again, requeue the remainder.
			bp.mu.Lock()
			bp.buffer = append(pending[i:], bp.buffer...)
			bp.mu.Unlock()
			break
		}
		sent++
	}

	if bp.OnFlush != nil {
		bp.OnFlush(sent)
	}
	log.Printf("[events] flushed %d/%d buffered events", sent, len(pending))
}
