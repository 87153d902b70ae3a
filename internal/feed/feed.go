// Package feed supplies normalized bar sequences to the pipeline: a SQLite
// replay source for backtests and scans, and a websocket stream client for
// live sessions.
package feed

import (
	"context"

	"novatrading/internal/model"
)

// BarSource pushes bars into out in timestamp order until the source is
// exhausted or ctx is cancelled. Implementations must not close out; the
// caller owns the channel.
type BarSource interface {
	Run(ctx context.Context, out chan<- model.Bar) error
}
