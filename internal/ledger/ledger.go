// Package ledger simulates order execution against detected signals.
//
// It owns the paper account: cash, one open position per instrument, and the
// realized trade log. Fills are simulated at signal entry prices; later bars
// resolve open positions against their stop-loss and take-profit levels.
// No real brokerage is involved.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"novatrading/internal/model"
)

var (
	// ErrInsufficientFunds means the order notional exceeds available cash.
	ErrInsufficientFunds = errors.New("ledger: insufficient funds")

	// ErrDuplicatePosition means the instrument already has an open position.
	// One position per instrument — no averaging or pyramiding.
	ErrDuplicatePosition = errors.New("ledger: position already open for instrument")

	// ErrNoOpenPosition means a close was requested for a flat instrument.
	ErrNoOpenPosition = errors.New("ledger: no open position for instrument")

	// ErrNotTradable means the signal is not a directional BUY/SELL.
	ErrNotTradable = errors.New("ledger: signal is not tradable")

	// ErrInvalidQuantity means a zero or negative quantity was requested.
	ErrInvalidQuantity = errors.New("ledger: quantity must be positive")
)

// Ledger is the paper-trading account. All mutating operations serialize
// under a single mutex: cash is the one field every instrument shares.
// Precondition checks happen before any state is written, so a failed
// operation leaves the account untouched.
type Ledger struct {
	mu sync.RWMutex

	startingBalance float64
	cash            float64
	realizedPnL     float64
	positions       map[string]*model.OpenPosition
	closed          []model.ClosedTrade
	orderSeq        int64

	// Optional persistence; nil stores are skipped.
	signals model.SignalStore
	execs   model.ExecutionStore

	eventCh chan model.Event
}

// New creates a paper ledger with the given starting balance.
func New(startingBalance float64, eventBufferSize int) *Ledger {
	if eventBufferSize <= 0 {
		eventBufferSize = 64
	}
	return &Ledger{
		startingBalance: startingBalance,
		cash:            startingBalance,
		positions:       make(map[string]*model.OpenPosition),
		closed:          make([]model.ClosedTrade, 0, 256),
		eventCh:         make(chan model.Event, eventBufferSize),
	}
}

// AttachPersistence wires signal status updates and execution journaling.
// Either store may be nil; the ledger then keeps state in memory only.
func (l *Ledger) AttachPersistence(signals model.SignalStore, execs model.ExecutionStore) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.signals = signals
	l.execs = execs
}

// Events returns the channel of TRADE events emitted on every execution
// state change. Events are dropped when the buffer is full.
func (l *Ledger) Events() <-chan model.Event {
	return l.eventCh
}

// OpenPosition simulates a fill against a directional signal. It debits the
// order notional from cash, records the position with its SL/TP levels, and
// transitions the signal to ACTIVE.
func (l *Ledger) OpenPosition(ctx context.Context, sig *model.SignalRecord, qty float64) (model.ExecutionRecord, error) {
	if !sig.Directional() {
		return model.ExecutionRecord{}, ErrNotTradable
	}
	if qty <= 0 {
		return model.ExecutionRecord{}, ErrInvalidQuantity
	}

	l.mu.Lock()
	notional := qty * sig.Entry
	if notional > l.cash {
		l.mu.Unlock()
		return model.ExecutionRecord{}, fmt.Errorf("%w: need %.2f, have %.2f", ErrInsufficientFunds, notional, l.cash)
	}
	if _, open := l.positions[sig.Symbol]; open {
		l.mu.Unlock()
		return model.ExecutionRecord{}, fmt.Errorf("%w: %s", ErrDuplicatePosition, sig.Symbol)
	}

	l.cash -= notional
	l.orderSeq++
	now := time.Now().UTC()
	exec := model.ExecutionRecord{
		OrderID:  fmt.Sprintf("PAPER-%d", l.orderSeq),
		SignalID: sig.ID,
		Symbol:   sig.Symbol,
		Side:     sig.Type,
		Qty:      qty,
		Price:    sig.Entry,
		FilledAt: now,
	}
	l.positions[sig.Symbol] = &model.OpenPosition{
		Symbol:     sig.Symbol,
		Side:       sig.Type,
		Qty:        qty,
		EntryPrice: sig.Entry,
		SL:         sig.SL,
		TP1:        sig.TP1,
		TP2:        sig.TP2,
		TP3:        sig.TP3,
		SignalID:   sig.ID,
		OpenedAt:   now,
	}
	l.mu.Unlock()

	sig.Status = model.StatusActive
	l.persistExecution(ctx, exec)
	l.updateSignalStatus(ctx, sig.ID, model.StatusActive)

	log.Printf("[ledger] open %s %s qty=%.2f entry=%.2f sl=%.2f order=%s",
		sig.Type, sig.Symbol, qty, sig.Entry, sig.SL, exec.OrderID)
	l.emit(model.NewTradeEvent(sig.Symbol, exec))
	return exec, nil
}

// ProcessBar resolves the instrument's open position against one price bar.
// The stop-loss check takes precedence over take-profit when both levels are
// straddled intrabar: real intrabar ordering is unknown, so the conservative
// fill is assumed. Returns the resulting closed trade, or nil when the bar
// touches nothing.
func (l *Ledger) ProcessBar(ctx context.Context, symbol string, bar model.Bar) (*model.ClosedTrade, error) {
	l.mu.Lock()
	pos, open := l.positions[symbol]
	if !open {
		l.mu.Unlock()
		return nil, nil
	}

	touched := func(level float64) bool {
		return bar.Low <= level && level <= bar.High
	}

	var exitPrice float64
	var reason model.CloseReason
	var status model.SignalStatus
	switch {
	case touched(pos.SL):
		exitPrice, reason, status = pos.SL, model.CloseSLHit, model.StatusSLHit
	// Farthest touched target wins; on a wide bar the position books the
	// best level the range actually reached.
	case touched(pos.TP3):
		exitPrice, reason, status = pos.TP3, model.CloseTPHit, model.StatusTPHit
	case touched(pos.TP2):
		exitPrice, reason, status = pos.TP2, model.CloseTPHit, model.StatusTPHit
	case touched(pos.TP1):
		exitPrice, reason, status = pos.TP1, model.CloseTPHit, model.StatusTPHit
	default:
		l.mu.Unlock()
		return nil, nil
	}

	trade := l.closeLocked(pos, exitPrice, reason, bar.TS)
	l.mu.Unlock()

	l.updateSignalStatus(ctx, trade.SignalID, status)
	l.persistClosedTrade(ctx, trade)

	log.Printf("[ledger] %s %s exit=%.2f pnl=%.2f", reason, symbol, exitPrice, trade.RealizedPnL)
	l.emit(model.NewTradeEvent(symbol, trade))
	return &trade, nil
}

// ClosePosition is the manual close path; same bookkeeping as an SL/TP hit
// but at the caller's price.
func (l *Ledger) ClosePosition(ctx context.Context, symbol string, price float64, reason model.CloseReason) (*model.ClosedTrade, error) {
	if reason == "" {
		reason = model.CloseManual
	}

	l.mu.Lock()
	pos, open := l.positions[symbol]
	if !open {
		l.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrNoOpenPosition, symbol)
	}
	trade := l.closeLocked(pos, price, reason, time.Now().UTC())
	l.mu.Unlock()

	status := model.StatusCancelled
	switch reason {
	case model.CloseSLHit:
		status = model.StatusSLHit
	case model.CloseTPHit:
		status = model.StatusTPHit
	}
	l.updateSignalStatus(ctx, trade.SignalID, status)
	l.persistClosedTrade(ctx, trade)

	log.Printf("[ledger] close %s exit=%.2f pnl=%.2f reason=%s", symbol, price, trade.RealizedPnL, reason)
	l.emit(model.NewTradeEvent(symbol, trade))
	return &trade, nil
}

// closeLocked removes the position, credits cash at the exit price, and
// appends the realized trade. Caller holds the mutex.
func (l *Ledger) closeLocked(pos *model.OpenPosition, exitPrice float64, reason model.CloseReason, closedAt time.Time) model.ClosedTrade {
	realized := (exitPrice - pos.EntryPrice) * pos.Qty * pos.DirectionSign()

	// The open debited qty*entry; the close returns that notional plus the
	// realized P&L, so cash conservation holds for longs and shorts alike.
	l.cash += pos.Qty*pos.EntryPrice + realized
	l.realizedPnL += realized
	delete(l.positions, pos.Symbol)

	l.orderSeq++
	trade := model.ClosedTrade{
		OrderID:     fmt.Sprintf("PAPER-%d", l.orderSeq),
		SignalID:    pos.SignalID,
		Symbol:      pos.Symbol,
		Side:        pos.Side,
		Qty:         pos.Qty,
		EntryPrice:  pos.EntryPrice,
		ExitPrice:   exitPrice,
		RealizedPnL: realized,
		Reason:      reason,
		ClosedAt:    closedAt,
	}
	l.closed = append(l.closed, trade)
	return trade
}

// Reset clears all positions and the trade log and restores cash to the
// given balance. Explicit user action only, never automatic.
func (l *Ledger) Reset(startingBalance float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.startingBalance = startingBalance
	l.cash = startingBalance
	l.realizedPnL = 0
	l.positions = make(map[string]*model.OpenPosition)
	l.closed = l.closed[:0]
	log.Printf("[ledger] reset balance=%.2f", startingBalance)
}

// Cash returns the current free cash balance.
func (l *Ledger) Cash() float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cash
}

// RealizedPnL returns the total realized P&L since the last reset.
func (l *Ledger) RealizedPnL() float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.realizedPnL
}

// Position returns the open position for a symbol, or nil when flat.
func (l *Ledger) Position(symbol string) *model.OpenPosition {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if pos, ok := l.positions[symbol]; ok {
		cp := *pos
		return &cp
	}
	return nil
}

// ClosedTrades returns a copy of the realized trade log, oldest first.
func (l *Ledger) ClosedTrades() []model.ClosedTrade {
	l.mu.RLock()
	defer l.mu.RUnlock()
	cp := make([]model.ClosedTrade, len(l.closed))
	copy(cp, l.closed)
	return cp
}

// UnrealizedPnL computes open P&L from the latest prices, keyed by symbol.
// Positions without a price contribute zero.
func (l *Ledger) UnrealizedPnL(prices map[string]float64) float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var total float64
	for sym, pos := range l.positions {
		if px, ok := prices[sym]; ok {
			total += pos.UnrealizedPnL(px)
		}
	}
	return total
}

// Snapshot returns a point-in-time view of the account for persistence.
func (l *Ledger) Snapshot() model.AccountSnapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	positions := make([]model.OpenPosition, 0, len(l.positions))
	for _, pos := range l.positions {
		positions = append(positions, *pos)
	}
	return model.AccountSnapshot{
		TakenAt:         time.Now().UTC(),
		StartingBalance: l.startingBalance,
		Cash:            l.cash,
		RealizedPnL:     l.realizedPnL,
		Positions:       positions,
	}
}

// Restore loads account state from a persisted snapshot, replacing the
// current in-memory state.
func (l *Ledger) Restore(snap model.AccountSnapshot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.startingBalance = snap.StartingBalance
	l.cash = snap.Cash
	l.realizedPnL = snap.RealizedPnL
	l.positions = make(map[string]*model.OpenPosition, len(snap.Positions))
	for i := range snap.Positions {
		pos := snap.Positions[i]
		l.positions[pos.Symbol] = &pos
	}
}

func (l *Ledger) emit(ev model.Event) {
	select {
	case l.eventCh <- ev:
	default:
		log.Printf("[ledger] event buffer full, dropping %s event for %s", ev.Kind, ev.Symbol)
	}
}

func (l *Ledger) persistExecution(ctx context.Context, exec model.ExecutionRecord) {
	if l.execs == nil {
		return
	}
	if err := l.execs.SaveExecution(ctx, exec); err != nil {
		log.Printf("[ledger] persist execution %s: %v", exec.OrderID, err)
		l.emit(model.NewErrorEvent(exec.Symbol, err))
	}
}

func (l *Ledger) persistClosedTrade(ctx context.Context, trade model.ClosedTrade) {
	if l.execs == nil {
		return
	}
	if err := l.execs.SaveClosedTrade(ctx, trade); err != nil {
		log.Printf("[ledger] persist closed trade %s: %v", trade.OrderID, err)
		l.emit(model.NewErrorEvent(trade.Symbol, err))
	}
}

func (l *Ledger) updateSignalStatus(ctx context.Context, id int64, status model.SignalStatus) {
	if l.signals == nil || id == 0 {
		return
	}
	if err := l.signals.UpdateSignalStatus(ctx, id, status); err != nil {
		log.Printf("[ledger] update signal %d status %s: %v", id, status, err)
		l.emit(model.NewErrorEvent("", err))
	}
}
