// Package sqlite is the repository adapter backing every persistence port:
// instruments, candles, signals, executions, strategy parameters, and paper
// account snapshots share one WAL-mode database handle.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"time"

	"novatrading/internal/model"

	_ "github.com/mattn/go-sqlite3"
)

// Repository implements model.Repository on a single SQLite database.
type Repository struct {
	db *sql.DB

	// OnCommit is an optional metrics hook observed with the duration of
	// each batched candle commit.
	OnCommit func(time.Duration)
}

var _ model.Repository = (*Repository)(nil)

// New opens the database, enables WAL mode, and creates the schema.
func New(dbPath string) (*Repository, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}

	// Single-writer: SQLite serializes writes anyway.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	log.Printf("[sqlite] opened database at %s", dbPath)
	return &Repository{db: db}, nil
}

// DB returns the underlying sql.DB for health checks.
func (r *Repository) DB() *sql.DB { return r.db }

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS instruments (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			symbol     TEXT    NOT NULL UNIQUE,
			name       TEXT,
			exchange   TEXT,
			asset_type TEXT,
			favorite   INTEGER NOT NULL DEFAULT 0
		);

		CREATE TABLE IF NOT EXISTS candles (
			symbol      TEXT    NOT NULL,
			timeframe   TEXT    NOT NULL,
			heikin_ashi INTEGER NOT NULL,
			ts          INTEGER NOT NULL,
			open        REAL    NOT NULL,
			high        REAL    NOT NULL,
			low         REAL    NOT NULL,
			close       REAL    NOT NULL,
			volume      INTEGER,
			PRIMARY KEY (symbol, timeframe, heikin_ashi, ts)
		);

		CREATE TABLE IF NOT EXISTS signals (
			id        INTEGER PRIMARY KEY AUTOINCREMENT,
			symbol    TEXT    NOT NULL,
			timeframe TEXT    NOT NULL,
			ts        INTEGER NOT NULL,
			type      TEXT    NOT NULL,
			entry     REAL    NOT NULL,
			sl        REAL    NOT NULL,
			tp1       REAL    NOT NULL,
			tp2       REAL    NOT NULL,
			tp3       REAL    NOT NULL,
			atr       REAL    NOT NULL,
			mtfa      TEXT    NOT NULL,
			status    TEXT    NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_signals_symbol_ts ON signals (symbol, ts DESC);

		CREATE TABLE IF NOT EXISTS executions (
			order_id  TEXT    PRIMARY KEY,
			signal_id INTEGER NOT NULL,
			symbol    TEXT    NOT NULL,
			side      TEXT    NOT NULL,
			qty       REAL    NOT NULL,
			price     REAL    NOT NULL,
			filled_at INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS closed_trades (
			order_id     TEXT    PRIMARY KEY,
			signal_id    INTEGER NOT NULL,
			symbol       TEXT    NOT NULL,
			side         TEXT    NOT NULL,
			qty          REAL    NOT NULL,
			entry_price  REAL    NOT NULL,
			exit_price   REAL    NOT NULL,
			realized_pnl REAL    NOT NULL,
			reason       TEXT    NOT NULL,
			closed_at    INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS strategy_params (
			strategy TEXT NOT NULL,
			name     TEXT NOT NULL,
			value    TEXT NOT NULL,
			PRIMARY KEY (strategy, name)
		);

		CREATE TABLE IF NOT EXISTS account_snapshots (
			id               INTEGER PRIMARY KEY AUTOINCREMENT,
			taken_at         INTEGER NOT NULL,
			starting_balance REAL    NOT NULL,
			cash             REAL    NOT NULL,
			realized_pnl     REAL    NOT NULL,
			positions        TEXT    NOT NULL
		);
	`)
	return err
}

// ────────────────────────────────────────────────────────────
// CandleStore
// ────────────────────────────────────────────────────────────

// SaveBars upserts a batch of bars in a single transaction. Raw and
// Heikin-Ashi series live in the same table under a flag so they never
// collide on the (symbol, timeframe, ts) key.
func (r *Repository) SaveBars(ctx context.Context, bars []model.Bar, heikinAshi bool) error {
	if len(bars) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite begin: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO candles (symbol, timeframe, heikin_ashi, ts, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("sqlite prepare candles: %w", err)
	}
	defer stmt.Close()

	ha := boolToInt(heikinAshi)
	for _, b := range bars {
		if _, err := stmt.ExecContext(ctx, b.Symbol, b.Timeframe, ha, b.TS.Unix(), b.Open, b.High, b.Low, b.Close, b.Volume); err != nil {
			tx.Rollback()
			return fmt.Errorf("sqlite insert candle %s@%d: %w", b.Symbol, b.TS.Unix(), err)
		}
	}
	return tx.Commit()
}

// Bars returns up to limit bars for one series, ordered by timestamp
// ascending for correct replay order. limit <= 0 returns all.
func (r *Repository) Bars(ctx context.Context, symbol, timeframe string, limit int, heikinAshi bool) ([]model.Bar, error) {
	query := `
		SELECT symbol, timeframe, ts, open, high, low, close, volume FROM candles
		WHERE symbol = ? AND timeframe = ? AND heikin_ashi = ?
		ORDER BY ts ASC
	`
	args := []any{symbol, timeframe, boolToInt(heikinAshi)}
	if limit > 0 {
		// Last N bars, returned oldest first.
		query = `
			SELECT symbol, timeframe, ts, open, high, low, close, volume FROM (
				SELECT symbol, timeframe, ts, open, high, low, close, volume FROM candles
				WHERE symbol = ? AND timeframe = ? AND heikin_ashi = ?
				ORDER BY ts DESC LIMIT ?
			) ORDER BY ts ASC
		`
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite query candles: %w", err)
	}
	defer rows.Close()

	var bars []model.Bar
	for rows.Next() {
		var b model.Bar
		var tsUnix int64
		if err := rows.Scan(&b.Symbol, &b.Timeframe, &tsUnix, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume); err != nil {
			return nil, fmt.Errorf("sqlite scan candle: %w", err)
		}
		b.TS = time.Unix(tsUnix, 0).UTC()
		bars = append(bars, b)
	}
	return bars, rows.Err()
}

// ────────────────────────────────────────────────────────────
// SignalStore
// ────────────────────────────────────────────────────────────

const signalCols = `id, symbol, timeframe, ts, type, entry, sl, tp1, tp2, tp3, atr, mtfa, status`

// SaveSignal inserts a new signal and assigns its ID.
func (r *Repository) SaveSignal(ctx context.Context, sig *model.SignalRecord) error {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO signals (symbol, timeframe, ts, type, entry, sl, tp1, tp2, tp3, atr, mtfa, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, sig.Symbol, sig.Timeframe, sig.TS.Unix(), string(sig.Type),
		sig.Entry, sig.SL, sig.TP1, sig.TP2, sig.TP3, sig.ATR,
		string(sig.MTFA), string(sig.Status))
	if err != nil {
		return fmt.Errorf("sqlite insert signal: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("sqlite signal id: %w", err)
	}
	sig.ID = id
	return nil
}

// UpdateSignalStatus transitions a signal's lifecycle status. Price fields
// are never mutated after creation.
func (r *Repository) UpdateSignalStatus(ctx context.Context, id int64, status model.SignalStatus) error {
	res, err := r.db.ExecContext(ctx, `UPDATE signals SET status = ? WHERE id = ?`, string(status), id)
	if err != nil {
		return fmt.Errorf("sqlite update signal status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("sqlite update signal status: no signal with id %d", id)
	}
	return nil
}

// Signals returns the most recent signals for a symbol, newest first.
func (r *Repository) Signals(ctx context.Context, symbol string, limit int) ([]model.SignalRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+signalCols+` FROM signals
		WHERE symbol = ? ORDER BY ts DESC LIMIT ?
	`, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite query signals: %w", err)
	}
	defer rows.Close()

	var sigs []model.SignalRecord
	for rows.Next() {
		sig, err := scanSignal(rows)
		if err != nil {
			return nil, err
		}
		sigs = append(sigs, sig)
	}
	return sigs, rows.Err()
}

// LastDirectional returns the most recent non-HOLD signal for a symbol, or
// nil when none exists.
func (r *Repository) LastDirectional(ctx context.Context, symbol string) (*model.SignalRecord, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+signalCols+` FROM signals
		WHERE symbol = ? AND type != ? ORDER BY ts DESC LIMIT 1
	`, symbol, string(model.SignalHold))

	sig, err := scanSignal(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &sig, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSignal(row rowScanner) (model.SignalRecord, error) {
	var sig model.SignalRecord
	var tsUnix int64
	var typ, mtfa, status string
	err := row.Scan(&sig.ID, &sig.Symbol, &sig.Timeframe, &tsUnix, &typ,
		&sig.Entry, &sig.SL, &sig.TP1, &sig.TP2, &sig.TP3, &sig.ATR, &mtfa, &status)
	if err == sql.ErrNoRows {
		return sig, err
	}
	if err != nil {
		return sig, fmt.Errorf("sqlite scan signal: %w", err)
	}
	sig.TS = time.Unix(tsUnix, 0).UTC()
	sig.Type = model.SignalType(typ)
	sig.MTFA = model.MTFAResult(mtfa)
	sig.Status = model.SignalStatus(status)
	return sig, nil
}

// ────────────────────────────────────────────────────────────
// ExecutionStore
// ────────────────────────────────────────────────────────────

func (r *Repository) SaveExecution(ctx context.Context, exec model.ExecutionRecord) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO executions (order_id, signal_id, symbol, side, qty, price, filled_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, exec.OrderID, exec.SignalID, exec.Symbol, string(exec.Side), exec.Qty, exec.Price, exec.FilledAt.Unix())
	if err != nil {
		return fmt.Errorf("sqlite insert execution: %w", err)
	}
	return nil
}

func (r *Repository) SaveClosedTrade(ctx context.Context, trade model.ClosedTrade) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO closed_trades (order_id, signal_id, symbol, side, qty, entry_price, exit_price, realized_pnl, reason, closed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, trade.OrderID, trade.SignalID, trade.Symbol, string(trade.Side), trade.Qty,
		trade.EntryPrice, trade.ExitPrice, trade.RealizedPnL, string(trade.Reason), trade.ClosedAt.Unix())
	if err != nil {
		return fmt.Errorf("sqlite insert closed trade: %w", err)
	}
	return nil
}

// ClosedTrades returns the last N closed trades, newest first.
func (r *Repository) ClosedTrades(ctx context.Context, limit int) ([]model.ClosedTrade, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT order_id, signal_id, symbol, side, qty, entry_price, exit_price, realized_pnl, reason, closed_at
		FROM closed_trades ORDER BY closed_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite query closed trades: %w", err)
	}
	defer rows.Close()

	var trades []model.ClosedTrade
	for rows.Next() {
		var tr model.ClosedTrade
		var side, reason string
		var closedUnix int64
		if err := rows.Scan(&tr.OrderID, &tr.SignalID, &tr.Symbol, &side, &tr.Qty,
			&tr.EntryPrice, &tr.ExitPrice, &tr.RealizedPnL, &reason, &closedUnix); err != nil {
			return nil, fmt.Errorf("sqlite scan closed trade: %w", err)
		}
		tr.Side = model.SignalType(side)
		tr.Reason = model.CloseReason(reason)
		tr.ClosedAt = time.Unix(closedUnix, 0).UTC()
		trades = append(trades, tr)
	}
	return trades, rows.Err()
}

// ────────────────────────────────────────────────────────────
// ParamStore
// ────────────────────────────────────────────────────────────

// SaveParams persists one parameter set as name-keyed typed values.
func (r *Repository) SaveParams(ctx context.Context, strategy string, p model.StrategyParams) error {
	if err := p.Validate(); err != nil {
		return err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite begin: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO strategy_params (strategy, name, value) VALUES (?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("sqlite prepare params: %w", err)
	}
	defer stmt.Close()

	values := map[string]string{
		"trend_length":   strconv.Itoa(p.TrendLength),
		"atr_period":     strconv.Itoa(p.ATRPeriod),
		"atr_sma_period": strconv.Itoa(p.ATRSMAPeriod),
		"atr_multiplier": strconv.FormatFloat(p.ATRMultiplier, 'f', -1, 64),
		"target_offset":  strconv.Itoa(p.TargetOffset),
		"primary_tf":     p.PrimaryTF,
		"secondary_tf":   p.SecondaryTF,
	}
	for name, value := range values {
		if _, err := stmt.ExecContext(ctx, strategy, name, value); err != nil {
			tx.Rollback()
			return fmt.Errorf("sqlite insert param %s: %w", name, err)
		}
	}
	return tx.Commit()
}

// Params returns the stored parameter set for a strategy. Missing names fall
// back to the defaults, so a partially saved set still loads.
func (r *Repository) Params(ctx context.Context, strategy string) (model.StrategyParams, error) {
	p := model.DefaultParams()

	rows, err := r.db.QueryContext(ctx, `
		SELECT name, value FROM strategy_params WHERE strategy = ?
	`, strategy)
	if err != nil {
		return p, fmt.Errorf("sqlite query params: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var name, value string
		if err := rows.Scan(&name, &value); err != nil {
			return p, fmt.Errorf("sqlite scan param: %w", err)
		}
		switch name {
		case "trend_length":
			p.TrendLength, err = strconv.Atoi(value)
		case "atr_period":
			p.ATRPeriod, err = strconv.Atoi(value)
		case "atr_sma_period":
			p.ATRSMAPeriod, err = strconv.Atoi(value)
		case "atr_multiplier":
			p.ATRMultiplier, err = strconv.ParseFloat(value, 64)
		case "target_offset":
			p.TargetOffset, err = strconv.Atoi(value)
		case "primary_tf":
			p.PrimaryTF = value
		case "secondary_tf":
			p.SecondaryTF = value
		}
		if err != nil {
			return p, fmt.Errorf("sqlite param %s=%q: %w", name, value, err)
		}
	}
	if err := rows.Err(); err != nil {
		return p, err
	}
	return p, p.Validate()
}

// ────────────────────────────────────────────────────────────
// InstrumentStore
// ────────────────────────────────────────────────────────────

func (r *Repository) AddInstrument(ctx context.Context, inst model.Instrument) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO instruments (symbol, name, exchange, asset_type, favorite)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(symbol) DO UPDATE SET
			name = excluded.name, exchange = excluded.exchange,
			asset_type = excluded.asset_type, favorite = excluded.favorite
	`, inst.Symbol, inst.Name, inst.Exchange, inst.AssetType, boolToInt(inst.Favorite))
	if err != nil {
		return 0, fmt.Errorf("sqlite upsert instrument: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("sqlite instrument id: %w", err)
	}
	return id, nil
}

func (r *Repository) Instruments(ctx context.Context, favoritesOnly bool) ([]model.Instrument, error) {
	query := `SELECT id, symbol, name, exchange, asset_type, favorite FROM instruments ORDER BY symbol`
	if favoritesOnly {
		query = `SELECT id, symbol, name, exchange, asset_type, favorite FROM instruments WHERE favorite = 1 ORDER BY symbol`
	}
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("sqlite query instruments: %w", err)
	}
	defer rows.Close()

	var insts []model.Instrument
	for rows.Next() {
		var inst model.Instrument
		var fav int
		if err := rows.Scan(&inst.ID, &inst.Symbol, &inst.Name, &inst.Exchange, &inst.AssetType, &fav); err != nil {
			return nil, fmt.Errorf("sqlite scan instrument: %w", err)
		}
		inst.Favorite = fav != 0
		insts = append(insts, inst)
	}
	return insts, rows.Err()
}

// ────────────────────────────────────────────────────────────
// AccountStore
// ────────────────────────────────────────────────────────────

func (r *Repository) SaveAccountSnapshot(ctx context.Context, snap model.AccountSnapshot) error {
	positions, err := json.Marshal(snap.Positions)
	if err != nil {
		return fmt.Errorf("marshal positions: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO account_snapshots (taken_at, starting_balance, cash, realized_pnl, positions)
		VALUES (?, ?, ?, ?, ?)
	`, snap.TakenAt.Unix(), snap.StartingBalance, snap.Cash, snap.RealizedPnL, string(positions))
	if err != nil {
		return fmt.Errorf("sqlite insert snapshot: %w", err)
	}

	// Keep the last 10 snapshots.
	_, err = r.db.ExecContext(ctx, `
		DELETE FROM account_snapshots WHERE id NOT IN
		(SELECT id FROM account_snapshots ORDER BY id DESC LIMIT 10)
	`)
	if err != nil {
		log.Printf("[sqlite] prune snapshots warning: %v", err)
	}
	return nil
}

func (r *Repository) LatestAccountSnapshot(ctx context.Context) (*model.AccountSnapshot, error) {
	var snap model.AccountSnapshot
	var takenUnix int64
	var positions string
	err := r.db.QueryRowContext(ctx, `
		SELECT taken_at, starting_balance, cash, realized_pnl, positions
		FROM account_snapshots ORDER BY id DESC LIMIT 1
	`).Scan(&takenUnix, &snap.StartingBalance, &snap.Cash, &snap.RealizedPnL, &positions)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite read snapshot: %w", err)
	}
	snap.TakenAt = time.Unix(takenUnix, 0).UTC()
	if err := json.Unmarshal([]byte(positions), &snap.Positions); err != nil {
		return nil, fmt.Errorf("unmarshal positions: %w", err)
	}
	return &snap, nil
}

// Close closes the database.
func (r *Repository) Close() error {
	return r.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
