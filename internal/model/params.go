package model

import "fmt"

// StrategyParams holds the NovaV2 parameter set. Parameters live in the
// repository as name-keyed typed values so they can be tuned without a
// redeploy; this struct is the in-memory view.
type StrategyParams struct {
	TrendLength   int     `json:"length"`         // EMA length for the trend line
	ATRPeriod     int     `json:"atr_period"`     // Wilder ATR period
	ATRSMAPeriod  int     `json:"atr_sma_period"` // SMA period applied over the ATR
	ATRMultiplier float64 `json:"atr_multiplier"` // band width multiplier
	TargetOffset  int     `json:"target_offset"`  // extra ATR multiples added per target
	PrimaryTF     string  `json:"primary_timeframe"`
	SecondaryTF   string  `json:"secondary_timeframe"` // higher TF for MTFA, "" = disabled
}

// DefaultParams returns the NovaV2 defaults.
func DefaultParams() StrategyParams {
	return StrategyParams{
		TrendLength:   6,
		ATRPeriod:     50,
		ATRSMAPeriod:  50,
		ATRMultiplier: 0.8,
		TargetOffset:  0,
		PrimaryTF:     "15m",
		SecondaryTF:   "1h",
	}
}

// Validate checks that the parameter set is usable.
func (p StrategyParams) Validate() error {
	if p.TrendLength <= 0 {
		return fmt.Errorf("params: length must be positive, got %d", p.TrendLength)
	}
	if p.ATRPeriod <= 0 {
		return fmt.Errorf("params: atr_period must be positive, got %d", p.ATRPeriod)
	}
	if p.ATRSMAPeriod <= 0 {
		return fmt.Errorf("params: atr_sma_period must be positive, got %d", p.ATRSMAPeriod)
	}
	if p.ATRMultiplier <= 0 {
		return fmt.Errorf("params: atr_multiplier must be positive, got %f", p.ATRMultiplier)
	}
	if p.TargetOffset < 0 {
		return fmt.Errorf("params: target_offset must be non-negative, got %d", p.TargetOffset)
	}
	return nil
}

// Warmup returns the number of bars required before the first fully
// defined indicator frame.
func (p StrategyParams) Warmup() int {
	w := p.TrendLength
	if p.ATRPeriod > w {
		w = p.ATRPeriod
	}
	if p.ATRSMAPeriod > w {
		w = p.ATRSMAPeriod
	}
	return w
}
