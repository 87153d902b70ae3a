package strategy

import (
	"context"
	"fmt"
	"time"

	"novatrading/internal/model"
)

// DirectionState is the single piece of per-instrument state the detector
// carries between bars: the direction of the last emitted tradable signal.
// It is reconstructable from persistence, so a restart never loses
// state-machine continuity.
type DirectionState struct {
	Symbol        string           `json:"symbol"`
	LastDirection model.SignalType `json:"last_direction"` // BUY, SELL, or "" when unknown
	LastSignalTS  time.Time        `json:"last_signal_ts"`
}

// RestoreDirection rebuilds the direction state from the most recent
// non-HOLD signal persisted for the symbol. A symbol with no signal history
// starts flat.
func RestoreDirection(ctx context.Context, store model.SignalStore, symbol string) (DirectionState, error) {
	state := DirectionState{Symbol: symbol}

	last, err := store.LastDirectional(ctx, symbol)
	if err != nil {
		return state, fmt.Errorf("strategy: restore direction for %s: %w", symbol, err)
	}
	if last != nil {
		state.LastDirection = last.Type
		state.LastSignalTS = last.TS
	}
	return state, nil
}
