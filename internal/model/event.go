package model

import (
	"encoding/json"
	"time"
)

// EventKind classifies structured events emitted by the core.
type EventKind string

const (
	EventSignal EventKind = "SIGNAL" // signal detected
	EventTrade  EventKind = "TRADE"  // execution state change
	EventError  EventKind = "ERROR"  // detected failure
)

// Event is the structured payload handed to the excluded notification
// collaborator. Delivery is external; the core only emits.
type Event struct {
	Kind    EventKind       `json:"kind"`
	TS      time.Time       `json:"ts"`
	Symbol  string          `json:"symbol,omitempty"`
	Payload json.RawMessage `json:"payload"`
}

// JSON returns the JSON-encoded event.
func (e *Event) JSON() []byte {
	data, _ := json.Marshal(e)
	return data
}

// NewSignalEvent wraps a signal record in a SIGNAL event.
func NewSignalEvent(sig *SignalRecord) Event {
	return Event{Kind: EventSignal, TS: time.Now().UTC(), Symbol: sig.Symbol, Payload: sig.JSON()}
}

// NewTradeEvent wraps an execution or close payload in a TRADE event.
func NewTradeEvent(symbol string, payload any) Event {
	data, _ := json.Marshal(payload)
	return Event{Kind: EventTrade, TS: time.Now().UTC(), Symbol: symbol, Payload: data}
}

// NewErrorEvent wraps a failure in an ERROR event. Errors are never silently
// swallowed — every failure produces a recorded event.
func NewErrorEvent(symbol string, err error) Event {
	data, _ := json.Marshal(map[string]string{"error": err.Error()})
	return Event{Kind: EventError, TS: time.Now().UTC(), Symbol: symbol, Payload: data}
}
