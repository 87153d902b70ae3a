// Package model defines the domain types shared across the NovaV2 pipeline:
// OHLC bars, Heikin-Ashi bars, signal records, execution records, and the
// repository port interfaces that decouple the core from concrete storage.
package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// Bar represents a single OHLC candle for one instrument and timeframe.
// Bars in a series are ordered by TS ascending with no duplicate timestamps.
type Bar struct {
	Symbol    string    `json:"symbol"`
	Timeframe string    `json:"timeframe"` // e.g. "15m", "1h"
	TS        time.Time `json:"ts"`        // bar open time (UTC)
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    int64     `json:"volume"`
}

// Key returns a unique key for this bar's series: "symbol:timeframe".
func (b *Bar) Key() string {
	return b.Symbol + ":" + b.Timeframe
}

// JSON returns the JSON-encoded bar (ignoring errors for hot-path usage).
func (b *Bar) JSON() []byte {
	data, _ := json.Marshal(b)
	return data
}

// HeikinAshiBar is a Bar whose OHLC values have been run through the
// Heikin-Ashi recurrence. Timestamp and volume carry over from the raw bar.
//
// The recurrence is a strict left fold: bar n depends on bar n-1's HA output
// and bar n's raw OHLC, so a HeikinAshiBar is never re-derivable from a single
// raw bar in isolation.
type HeikinAshiBar struct {
	Symbol    string    `json:"symbol"`
	Timeframe string    `json:"timeframe"`
	TS        time.Time `json:"ts"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    int64     `json:"volume"`
}

// Key returns "symbol:timeframe".
func (b *HeikinAshiBar) Key() string {
	return b.Symbol + ":" + b.Timeframe
}

// DataIntegrityError reports a non-monotonic or duplicate timestamp in an
// input bar sequence. Indicator math is sequential, so the entire batch is
// rejected rather than silently skipping the offending bar — a skip would
// corrupt every downstream value.
type DataIntegrityError struct {
	Symbol string
	Index  int // index of the offending bar
	TS     time.Time
	Reason string
}

func (e *DataIntegrityError) Error() string {
	return fmt.Sprintf("data integrity: %s bar %d (ts=%s): %s",
		e.Symbol, e.Index, e.TS.Format(time.RFC3339), e.Reason)
}

// ValidateSeries checks that bars are strictly ascending by timestamp.
// Returns a *DataIntegrityError describing the first violation found.
func ValidateSeries(bars []Bar) error {
	for i := 1; i < len(bars); i++ {
		if !bars[i].TS.After(bars[i-1].TS) {
			reason := "non-monotonic timestamp"
			if bars[i].TS.Equal(bars[i-1].TS) {
				reason = "duplicate timestamp"
			}
			return &DataIntegrityError{
				Symbol: bars[i].Symbol,
				Index:  i,
				TS:     bars[i].TS,
				Reason: reason,
			}
		}
	}
	return nil
}
