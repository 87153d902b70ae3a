package model

import (
	"encoding/json"
	"time"
)

// SignalType is the direction of a strategy signal.
type SignalType string

const (
	SignalBuy  SignalType = "BUY"
	SignalSell SignalType = "SELL"
	SignalHold SignalType = "HOLD"
)

// SignalStatus tracks a signal through its lifecycle. Price fields are fixed
// at detection time; only the status is mutated afterwards, and only by the
// paper-trading ledger as later bars resolve the trade.
type SignalStatus string

const (
	StatusNew       SignalStatus = "NEW"
	StatusActive    SignalStatus = "ACTIVE"
	StatusTriggered SignalStatus = "TRIGGERED"
	StatusCancelled SignalStatus = "CANCELLED"
	StatusSLHit     SignalStatus = "SL_HIT"
	StatusTPHit     SignalStatus = "TP_HIT"
	StatusExpired   SignalStatus = "EXPIRED"
)

// MTFAResult is the outcome of the optional multi-timeframe confirmation.
// It annotates confidence only — it never blocks signal emission.
type MTFAResult string

const (
	MTFAUnknown   MTFAResult = "UNKNOWN"   // no higher-TF data for the signal window
	MTFAConfirmed MTFAResult = "CONFIRMED" // higher-TF trend agrees with the signal
	MTFARejected  MTFAResult = "REJECTED"  // higher-TF trend disagrees
)

// SignalRecord is a discrete trading signal emitted by the NovaV2 detector.
type SignalRecord struct {
	ID        int64        `json:"id"`
	Symbol    string       `json:"symbol"`
	Timeframe string       `json:"timeframe"`
	TS        time.Time    `json:"ts"` // bar on which the signal was detected
	Type      SignalType   `json:"signal_type"`
	Entry     float64      `json:"entry_price"`
	SL        float64      `json:"sl_price"`
	TP1       float64      `json:"tp1"`
	TP2       float64      `json:"tp2"`
	TP3       float64      `json:"tp3"`
	ATR       float64      `json:"atr_value"` // band ATR value at the signal bar
	MTFA      MTFAResult   `json:"mtfa"`
	Status    SignalStatus `json:"status"`
}

// Directional reports whether the signal is tradable (BUY or SELL).
// HOLD signals exist for logging continuity only.
func (s *SignalRecord) Directional() bool {
	return s.Type == SignalBuy || s.Type == SignalSell
}

// JSON returns the JSON-encoded signal record.
func (s *SignalRecord) JSON() []byte {
	data, _ := json.Marshal(s)
	return data
}
