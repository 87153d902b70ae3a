package model

import "context"

// ── Repository Port Interfaces ──
// The core reads and writes through these narrow interfaces; concrete
// adapters (SQLite today) satisfy them. Computation stages never touch
// storage directly — only the cmd wiring does.

// CandleStore persists and reads bar series. Heikin-Ashi bars are stored
// under a separate flag so raw and derived series never collide on their
// (symbol, timeframe, ts) key.
type CandleStore interface {
	// SaveBars upserts a batch of bars for one series.
	SaveBars(ctx context.Context, bars []Bar, heikinAshi bool) error

	// Bars returns up to limit bars ordered by TS ascending (limit <= 0 = all).
	Bars(ctx context.Context, symbol, timeframe string, limit int, heikinAshi bool) ([]Bar, error)
}

// SignalStore persists signal records and their status transitions.
type SignalStore interface {
	// SaveSignal inserts a new signal and assigns its ID.
	SaveSignal(ctx context.Context, sig *SignalRecord) error

	// UpdateSignalStatus transitions a signal's lifecycle status.
	UpdateSignalStatus(ctx context.Context, id int64, status SignalStatus) error

	// Signals returns the most recent signals for a symbol, newest first.
	Signals(ctx context.Context, symbol string, limit int) ([]SignalRecord, error)

	// LastDirectional returns the most recent non-HOLD signal for a symbol,
	// or nil when none exists. Used to resume detector continuity across
	// restarts.
	LastDirectional(ctx context.Context, symbol string) (*SignalRecord, error)
}

// ExecutionStore persists simulated fills and closed trades for audit.
type ExecutionStore interface {
	SaveExecution(ctx context.Context, exec ExecutionRecord) error
	SaveClosedTrade(ctx context.Context, trade ClosedTrade) error

	// ClosedTrades returns the last N closed trades, newest first.
	ClosedTrades(ctx context.Context, limit int) ([]ClosedTrade, error)
}

// ParamStore persists strategy parameter sets as name-keyed typed values.
type ParamStore interface {
	SaveParams(ctx context.Context, strategy string, p StrategyParams) error

	// Params returns the stored parameter set for a strategy, or the
	// defaults when nothing has been saved yet.
	Params(ctx context.Context, strategy string) (StrategyParams, error)
}

// InstrumentStore persists the instrument registry.
type InstrumentStore interface {
	AddInstrument(ctx context.Context, inst Instrument) (int64, error)
	Instruments(ctx context.Context, favoritesOnly bool) ([]Instrument, error)
}

// AccountStore persists paper-account snapshots.
type AccountStore interface {
	SaveAccountSnapshot(ctx context.Context, snap AccountSnapshot) error

	// LatestAccountSnapshot returns the most recent snapshot, or nil when
	// the account has never been persisted.
	LatestAccountSnapshot(ctx context.Context) (*AccountSnapshot, error)
}

// Repository aggregates every port. The SQLite adapter satisfies all of
// them with a single handle.
type Repository interface {
	CandleStore
	SignalStore
	ExecutionStore
	ParamStore
	InstrumentStore
	AccountStore
	Close() error
}
