package strategy

import (
	"context"
	"fmt"
	"log"
	"time"

	"novatrading/internal/heikinashi"
	"novatrading/internal/indicator"
	"novatrading/internal/model"
)

// Engine drives the NovaV2 pipeline over live bars: it accumulates history
// per instrument, re-runs the Heikin-Ashi transform and indicator scan on
// each completed bar (both are idempotent left folds), and evaluates the
// detector on the newest frame pair only, so every signal is emitted exactly
// once. Designed for single-goroutine usage — bar intake is serialized
// through Run.
type Engine struct {
	detector  *Detector
	indEngine *indicator.Engine
	params    model.StrategyParams

	// Per-symbol series; keys are bare symbols since each engine instance
	// owns exactly one primary timeframe.
	bars       map[string][]model.Bar
	higherBars map[string][]model.Bar
	states     map[string]DirectionState

	signalCh chan model.SignalRecord

	// Optional metrics hooks.
	OnCompute func(time.Duration)
	OnStale   func()
}

// NewEngine creates a strategy engine. resume carries direction states
// reconstructed from persistence; symbols without one start flat.
func NewEngine(params model.StrategyParams, emitHold bool, resume []DirectionState, signalBufferSize int) (*Engine, error) {
	det, err := NewDetector(params, emitHold)
	if err != nil {
		return nil, err
	}
	ind, err := indicator.NewEngine(params)
	if err != nil {
		return nil, err
	}

	states := make(map[string]DirectionState, len(resume))
	for _, st := range resume {
		states[st.Symbol] = st
	}

	return &Engine{
		detector:   det,
		indEngine:  ind,
		params:     params,
		bars:       make(map[string][]model.Bar),
		higherBars: make(map[string][]model.Bar),
		states:     states,
		signalCh:   make(chan model.SignalRecord, signalBufferSize),
	}, nil
}

// Signals returns the channel of signals emitted by the engine.
func (e *Engine) Signals() <-chan model.SignalRecord {
	return e.signalCh
}

// State returns the current direction state for a symbol.
func (e *Engine) State(symbol string) DirectionState {
	if st, ok := e.states[symbol]; ok {
		return st
	}
	return DirectionState{Symbol: symbol}
}

// OnHigherBar feeds a completed higher-timeframe bar used for MTFA
// annotation. Higher-TF data is optional; signals emitted without it carry
// MTFA=UNKNOWN.
func (e *Engine) OnHigherBar(bar model.Bar) {
	e.higherBars[bar.Symbol] = append(e.higherBars[bar.Symbol], bar)
}

// OnBar feeds a completed primary-timeframe bar and returns the signal it
// produced, if any. HOLD records are returned but never alter direction
// state.
func (e *Engine) OnBar(bar model.Bar) (*model.SignalRecord, error) {
	if prev := e.bars[bar.Symbol]; len(prev) > 0 && !bar.TS.After(prev[len(prev)-1].TS) {
		if e.OnStale != nil {
			e.OnStale()
		}
		return nil, fmt.Errorf("stale bar %s at %s", bar.Symbol, bar.TS.Format(time.RFC3339))
	}
	if e.OnCompute != nil {
		start := time.Now()
		defer func() { e.OnCompute(time.Since(start)) }()
	}

	hist := append(e.bars[bar.Symbol], bar)
	e.bars[bar.Symbol] = hist

	haBars, err := heikinashi.Transform(hist)
	if err != nil {
		return nil, err
	}
	frames := e.indEngine.Compute(haBars)

	n := len(frames)
	if n < 2 || !frames[n-1].Defined || !frames[n-2].Defined {
		return nil, nil // still warming up
	}

	state := e.State(bar.Symbol)
	sig, err := e.detector.Step(
		frames[n-2], frames[n-1],
		haBars[n-2].Close, &haBars[n-1],
		e.higherFrames(bar.Symbol),
		&state,
	)
	if err != nil {
		return nil, err
	}
	e.states[bar.Symbol] = state
	return sig, nil
}

// higherFrames computes the MTFA frame series for a symbol, or nil when no
// higher-timeframe bars have been fed.
func (e *Engine) higherFrames(symbol string) []indicator.Frame {
	hb := e.higherBars[symbol]
	if len(hb) == 0 {
		return nil
	}
	ha, err := heikinashi.Transform(hb)
	if err != nil {
		log.Printf("[strategy] %s: higher-TF transform failed: %v", symbol, err)
		return nil
	}
	return e.indEngine.Compute(ha)
}

// Run consumes completed bars and emits signals. Bars on the secondary
// timeframe feed the MTFA series; bars on any other timeframe are ignored.
// Blocks until ctx is cancelled or barCh is closed.
func (e *Engine) Run(ctx context.Context, barCh <-chan model.Bar) {
	for {
		select {
		case <-ctx.Done():
			return
		case bar, ok := <-barCh:
			if !ok {
				return
			}
			if bar.Timeframe == e.params.SecondaryTF {
				e.OnHigherBar(bar)
				continue
			}
			if bar.Timeframe != e.params.PrimaryTF {
				continue
			}
			sig, err := e.OnBar(bar)
			if err != nil {
				log.Printf("[strategy] %s: %v", bar.Symbol, err)
				continue
			}
			if sig == nil {
				continue
			}
			select {
			case e.signalCh <- *sig:
			default:
				log.Printf("[strategy] signal channel full, dropping %s %s", sig.Type, sig.Symbol)
			}
		}
	}
}
