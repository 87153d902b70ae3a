// Package events carries structured SIGNAL/TRADE/ERROR events from the core
// to whatever delivers them: the log, Redis Streams, or both.
package events

import (
	"context"
	"log"

	"novatrading/internal/model"
)

// Publisher delivers one event. Implementations must be safe for concurrent
// use.
type Publisher interface {
	Publish(ctx context.Context, ev model.Event) error
	Close() error
}

// LogPublisher writes events to the process log. It is the zero-dependency
// fallback when no Redis is configured.
type LogPublisher struct{}

func (LogPublisher) Publish(_ context.Context, ev model.Event) error {
	log.Printf("[events] %s %s %s", ev.Kind, ev.Symbol, ev.Payload)
	return nil
}

func (LogPublisher) Close() error { return nil }

// Multi fans one event out to several publishers. Publish returns the first
// error but still attempts every sink.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, ev model.Event) error {
	var firstErr error
	for _, p := range m {
		if err := p.Publish(ctx, ev); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (m Multi) Close() error {
	var firstErr error
	for _, p := range m {
		if err := p.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Pump drains eventCh into the publisher until ctx is cancelled or the
// channel is closed. Publish failures are logged, never fatal: event
// delivery must not take the pipeline down.
func Pump(ctx context.Context, pub Publisher, eventCh <-chan model.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-eventCh:
			if !ok {
				return
			}
			if err := pub.Publish(ctx, ev); err != nil {
				log.Printf("[events] publish %s for %s: %v", ev.Kind, ev.Symbol, err)
			}
		}
	}
}
