package model

import (
	"encoding/json"
	"time"
)

// CloseReason explains why a position was closed.
type CloseReason string

const (
	CloseSLHit  CloseReason = "SL_HIT"
	CloseTPHit  CloseReason = "TP_HIT"
	CloseManual CloseReason = "MANUAL"
)

// ExecutionRecord is a simulated order fill produced by the paper ledger.
type ExecutionRecord struct {
	OrderID  string     `json:"order_id"`
	SignalID int64      `json:"signal_id"`
	Symbol   string     `json:"symbol"`
	Side     SignalType `json:"side"` // BUY or SELL
	Qty      float64    `json:"qty"`
	Price    float64    `json:"price"`
	FilledAt time.Time  `json:"filled_at"`
}

// ClosedTrade is one realized round trip in the paper account's trade log.
type ClosedTrade struct {
	OrderID     string      `json:"order_id"`
	SignalID    int64       `json:"signal_id"`
	Symbol      string      `json:"symbol"`
	Side        SignalType  `json:"side"`
	Qty         float64     `json:"qty"`
	EntryPrice  float64     `json:"entry_price"`
	ExitPrice   float64     `json:"exit_price"`
	RealizedPnL float64     `json:"realized_pnl"`
	Reason      CloseReason `json:"reason"`
	ClosedAt    time.Time   `json:"closed_at"`
}

// OpenPosition describes one open position in the paper account.
// At most one open position exists per symbol — no averaging or pyramiding.
type OpenPosition struct {
	Symbol     string     `json:"symbol"`
	Side       SignalType `json:"side"`
	Qty        float64    `json:"qty"`
	EntryPrice float64    `json:"entry_price"`
	SL         float64    `json:"sl"`
	TP1        float64    `json:"tp1"`
	TP2        float64    `json:"tp2"`
	TP3        float64    `json:"tp3"`
	SignalID   int64      `json:"signal_id"`
	OpenedAt   time.Time  `json:"opened_at"`
}

// DirectionSign returns +1 for long positions, -1 for short.
func (p *OpenPosition) DirectionSign() float64 {
	if p.Side == SignalSell {
		return -1
	}
	return 1
}

// UnrealizedPnL computes the position's paper P&L at the given price.
func (p *OpenPosition) UnrealizedPnL(price float64) float64 {
	return (price - p.EntryPrice) * p.Qty * p.DirectionSign()
}

// AccountSnapshot is a point-in-time view of the paper account, persisted so
// a session can survive restarts.
type AccountSnapshot struct {
	TakenAt         time.Time      `json:"taken_at"`
	StartingBalance float64        `json:"starting_balance"`
	Cash            float64        `json:"cash"`
	RealizedPnL     float64        `json:"realized_pnl"`
	Positions       []OpenPosition `json:"positions"`
}

// JSON returns the JSON-encoded snapshot.
func (a *AccountSnapshot) JSON() []byte {
	data, _ := json.Marshal(a)
	return data
}
