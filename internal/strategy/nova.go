// Package strategy implements the NovaV2 signal detector: an edge-triggered
// state machine over Heikin-Ashi closes crossing the indicator trend line,
// with optional higher-timeframe confirmation (MTFA).
package strategy

import (
	"errors"
	"fmt"
	"time"

	"novatrading/internal/indicator"
	"novatrading/internal/model"
)

// ErrInsufficientIndicatorData is returned when detection is requested on a
// frame still marked undefined. This is a caller bug (frames must be
// pre-filtered past warm-up), so it is surfaced, never retried.
var ErrInsufficientIndicatorData = errors.New("strategy: detect called on undefined indicator frame")

// StrategyName identifies the NovaV2 parameter set in the repository.
const StrategyName = "NovaV2"

// Detector evaluates the NovaV2 crossing rules. It carries no per-series
// state — direction continuity is threaded explicitly through
// DirectionState so detection stays a pure function of its inputs.
type Detector struct {
	params   model.StrategyParams
	emitHold bool // emit HOLD records for non-crossing bars (logging continuity)
}

// NewDetector creates a NovaV2 detector after validating the parameters.
func NewDetector(params model.StrategyParams, emitHold bool) (*Detector, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return &Detector{params: params, emitHold: emitHold}, nil
}

// Detect runs the state machine over an aligned frame/bar series and returns
// the signals in bar order plus the final direction state.
//
// frames and haBars must be the same length and timestamp-aligned, and every
// frame must already be defined (callers slice off the warm-up prefix).
// mtfaFrames is an optional higher-timeframe series used only to annotate
// confidence; pass nil when no higher-timeframe data is available.
func (d *Detector) Detect(
	frames []indicator.Frame,
	haBars []model.HeikinAshiBar,
	mtfaFrames []indicator.Frame,
	state DirectionState,
) ([]model.SignalRecord, DirectionState, error) {
	if len(frames) != len(haBars) {
		return nil, state, fmt.Errorf("strategy: %d frames for %d bars", len(frames), len(haBars))
	}
	for i := range frames {
		if !frames[i].Defined {
			return nil, state, ErrInsufficientIndicatorData
		}
		if !frames[i].TS.Equal(haBars[i].TS) {
			return nil, state, fmt.Errorf("strategy: frame/bar timestamp mismatch at index %d", i)
		}
	}

	var signals []model.SignalRecord
	for i := 1; i < len(frames); i++ {
		sig := d.step(frames[i-1], frames[i], haBars[i-1].Close, &haBars[i], mtfaFrames, &state)
		if sig != nil {
			signals = append(signals, *sig)
		}
	}
	return signals, state, nil
}

// Step evaluates a single bar transition: the previous defined frame/close
// against the current one. Returns nil when nothing is emitted. Used by the
// streaming engine; Detect is a fold of Step over the series.
func (d *Detector) Step(
	prev, cur indicator.Frame,
	prevClose float64,
	bar *model.HeikinAshiBar,
	mtfaFrames []indicator.Frame,
	state *DirectionState,
) (*model.SignalRecord, error) {
	if !prev.Defined || !cur.Defined {
		return nil, ErrInsufficientIndicatorData
	}
	return d.step(prev, cur, prevClose, bar, mtfaFrames, state), nil
}

func (d *Detector) step(
	prev, cur indicator.Frame,
	prevClose float64,
	bar *model.HeikinAshiBar,
	mtfaFrames []indicator.Frame,
	state *DirectionState,
) *model.SignalRecord {
	crossedUp := prevClose <= prev.Trend && bar.Close > cur.Trend
	crossedDown := prevClose >= prev.Trend && bar.Close < cur.Trend

	var dir model.SignalType
	switch {
	case crossedUp:
		dir = model.SignalBuy
	case crossedDown:
		dir = model.SignalSell
	default:
		if d.emitHold {
			return &model.SignalRecord{
				Symbol:    bar.Symbol,
				Timeframe: bar.Timeframe,
				TS:        bar.TS,
				Type:      model.SignalHold,
				Entry:     bar.Close,
				MTFA:      model.MTFAUnknown,
				Status:    model.StatusNew,
			}
		}
		return nil
	}

	// Edge-triggered: a repeat cross in the held direction does not re-emit.
	if state.LastDirection == dir {
		return nil
	}
	state.LastDirection = dir
	state.LastSignalTS = bar.TS

	sig := d.buildSignal(cur, bar, dir)
	sig.MTFA = confirmMTFA(mtfaFrames, bar.TS, dir)
	return sig
}

// buildSignal fixes entry/SL/TP at the signal bar. These price fields are
// never mutated afterwards.
func (d *Detector) buildSignal(f indicator.Frame, bar *model.HeikinAshiBar, dir model.SignalType) *model.SignalRecord {
	entry := bar.Close
	atrValue := f.ATRSMA * d.params.ATRMultiplier

	sign := 1.0
	sl := f.Lower
	if dir == model.SignalSell {
		sign = -1.0
		sl = f.Upper
	}

	// Target i sits i*(1+offset) ATR multiples beyond entry.
	step := float64(1 + d.params.TargetOffset)
	return &model.SignalRecord{
		Symbol:    bar.Symbol,
		Timeframe: bar.Timeframe,
		TS:        bar.TS,
		Type:      dir,
		Entry:     entry,
		SL:        sl,
		TP1:       entry + sign*atrValue*1*step,
		TP2:       entry + sign*atrValue*2*step,
		TP3:       entry + sign*atrValue*3*step,
		ATR:       atrValue,
		Status:    model.StatusNew,
	}
}

// confirmMTFA annotates the signal against the higher-timeframe trend: the
// nearest defined frame at or before the signal timestamp, with the trend
// direction read from its slope. Annotation only — never blocks emission.
func confirmMTFA(mtfaFrames []indicator.Frame, ts time.Time, dir model.SignalType) model.MTFAResult {
	j := -1
	for i := range mtfaFrames {
		if mtfaFrames[i].TS.After(ts) {
			break
		}
		j = i
	}
	if j < 1 || !mtfaFrames[j].Defined || !mtfaFrames[j-1].Defined {
		return model.MTFAUnknown
	}

	slope := mtfaFrames[j].Trend - mtfaFrames[j-1].Trend
	if slope == 0 {
		return model.MTFAUnknown
	}
	up := slope > 0
	if (up && dir == model.SignalBuy) || (!up && dir == model.SignalSell) {
		return model.MTFAConfirmed
	}
	return model.MTFARejected
}
