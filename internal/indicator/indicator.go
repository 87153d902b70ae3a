// Package indicator computes the NovaV2 trend and volatility bands over a
// Heikin-Ashi bar series.
//
// Every frame value at bar n depends only on bars <= n (no lookahead), and
// recomputation over an extended history is idempotent: the smoothers are
// plain accumulators fed by a left-to-right scan, never shared mutable state.
package indicator

import (
	"time"

	"novatrading/internal/model"
)

// Smoother is a streaming scalar smoother: feed values in order, read the
// current smoothed value once enough history has accumulated.
type Smoother interface {
	// Update feeds the next value in the series.
	Update(v float64)

	// Value returns the current smoothed value. Before Ready it returns a
	// partial estimate over the values seen so far.
	Value() float64

	// Ready reports whether a full period of history has accumulated.
	Ready() bool
}

// Frame holds the per-bar computed indicator values. Frames before
// sufficient warm-up history carry Defined=false — never zero-garbage —
// so downstream detection can skip them without guessing.
type Frame struct {
	TS      time.Time `json:"ts"`
	Trend   float64   `json:"trend"`   // EMA of HA close
	TR      float64   `json:"tr"`      // true range of this bar
	ATR     float64   `json:"atr"`     // Wilder-smoothed TR
	ATRSMA  float64   `json:"atr_sma"` // SMA of ATR, drives band width
	Upper   float64   `json:"upper"`   // trend + atr_sma*multiplier
	Lower   float64   `json:"lower"`   // trend - atr_sma*multiplier
	Defined bool      `json:"defined"`
}

// Engine computes indicator frames for one parameter set. An Engine is
// stateless between Compute calls; it is safe to reuse across series.
type Engine struct {
	params model.StrategyParams
}

// NewEngine creates an indicator engine after validating the parameters.
func NewEngine(params model.StrategyParams) (*Engine, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return &Engine{params: params}, nil
}

// Params returns the engine's parameter set.
func (e *Engine) Params() model.StrategyParams {
	return e.params
}

// Compute produces one frame per input bar. When fewer bars than the warm-up
// requirement are supplied, the leading frames are simply marked undefined —
// no error, so callers can keep feeding history as it arrives.
//
// The first fully defined frame sits at index
// max(trendLength, atrPeriod, atrSMAPeriod) - 1: the ATR's SMA runs over a
// partial window while the ATR history is still shorter than its period.
func (e *Engine) Compute(haBars []model.HeikinAshiBar) []Frame {
	frames := make([]Frame, len(haBars))
	if len(haBars) == 0 {
		return frames
	}

	trend := NewEMA(e.params.TrendLength)
	atr := NewATR(e.params.ATRPeriod)
	atrSMA := NewSMA(e.params.ATRSMAPeriod)
	warmup := e.params.Warmup()

	prevClose := haBars[0].Close
	for i, b := range haBars {
		tr := trueRange(b.High, b.Low, prevClose, i == 0)
		prevClose = b.Close

		trend.Update(b.Close)
		atr.Update(tr)
		if atr.Ready() {
			atrSMA.Update(atr.Value())
		}

		f := Frame{TS: b.TS, TR: tr}
		if i >= warmup-1 && trend.Ready() && atr.Ready() {
			width := atrSMA.Value() * e.params.ATRMultiplier
			f.Trend = trend.Value()
			f.ATR = atr.Value()
			f.ATRSMA = atrSMA.Value()
			f.Upper = f.Trend + width
			f.Lower = f.Trend - width
			f.Defined = true
		}
		frames[i] = f
	}
	return frames
}

// trueRange computes max(high-low, |high-prevClose|, |low-prevClose|).
// The first bar has no previous close, so its TR is the plain range.
func trueRange(high, low, prevClose float64, first bool) float64 {
	tr := high - low
	if first {
		return tr
	}
	if d := abs(high - prevClose); d > tr {
		tr = d
	}
	if d := abs(low - prevClose); d > tr {
		tr = d
	}
	return tr
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
