// Package heikinashi converts standard OHLC bar series into Heikin-Ashi
// series. The transformation is a strict left fold carrying the previous
// HA open/close, so it is implemented as an explicit scan over the input —
// never as mutation of shared state.
package heikinashi

import (
	"errors"
	"math"

	"novatrading/internal/model"
)

// ErrInsufficientData is returned when a transform is requested on an empty
// bar sequence. Recoverable: the caller waits for more data.
var ErrInsufficientData = errors.New("heikinashi: no bars to transform")

// Transform converts a timestamp-ascending bar series into Heikin-Ashi bars.
// Output has the same length and timestamp alignment as the input.
//
//	ha_close = (open + high + low + close) / 4
//	ha_open  = (prev_ha_open + prev_ha_close) / 2, seed = (open + close) / 2
//	ha_high  = max(high, ha_open, ha_close)
//	ha_low   = min(low, ha_open, ha_close)
//
// Pure and restartable: re-running over any prefix yields identical values
// for the overlapping range.
func Transform(bars []model.Bar) ([]model.HeikinAshiBar, error) {
	if len(bars) == 0 {
		return nil, ErrInsufficientData
	}
	if err := model.ValidateSeries(bars); err != nil {
		return nil, err
	}

	out := make([]model.HeikinAshiBar, len(bars))
	prevOpen := (bars[0].Open + bars[0].Close) / 2
	prevClose := (bars[0].Open + bars[0].High + bars[0].Low + bars[0].Close) / 4

	for i, b := range bars {
		haClose := (b.Open + b.High + b.Low + b.Close) / 4
		haOpen := prevOpen
		if i > 0 {
			haOpen = (prevOpen + prevClose) / 2
		}
		out[i] = model.HeikinAshiBar{
			Symbol:    b.Symbol,
			Timeframe: b.Timeframe,
			TS:        b.TS,
			Open:      haOpen,
			High:      math.Max(b.High, math.Max(haOpen, haClose)),
			Low:       math.Min(b.Low, math.Min(haOpen, haClose)),
			Close:     haClose,
			Volume:    b.Volume,
		}
		prevOpen, prevClose = haOpen, haClose
	}
	return out, nil
}

// Extend continues a series from the last already-transformed HA bar instead
// of re-folding the full history. Feeding the prior output's last bar as seed
// produces results identical to a full Transform over the combined range.
func Extend(seed model.HeikinAshiBar, bars []model.Bar) ([]model.HeikinAshiBar, error) {
	if len(bars) == 0 {
		return nil, ErrInsufficientData
	}
	if err := model.ValidateSeries(bars); err != nil {
		return nil, err
	}
	if !bars[0].TS.After(seed.TS) {
		return nil, &model.DataIntegrityError{
			Symbol: bars[0].Symbol,
			Index:  0,
			TS:     bars[0].TS,
			Reason: "bar does not follow seed timestamp",
		}
	}

	out := make([]model.HeikinAshiBar, len(bars))
	prevOpen, prevClose := seed.Open, seed.Close

	for i, b := range bars {
		haClose := (b.Open + b.High + b.Low + b.Close) / 4
		haOpen := (prevOpen + prevClose) / 2
		out[i] = model.HeikinAshiBar{
			Symbol:    b.Symbol,
			Timeframe: b.Timeframe,
			TS:        b.TS,
			Open:      haOpen,
			High:      math.Max(b.High, math.Max(haOpen, haClose)),
			Low:       math.Min(b.Low, math.Min(haOpen, haClose)),
			Close:     haClose,
			Volume:    b.Volume,
		}
		prevOpen, prevClose = haOpen, haClose
	}
	return out, nil
}
