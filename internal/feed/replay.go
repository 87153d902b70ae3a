package feed

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"novatrading/internal/model"
)

// ReplaySource reads stored candles and replays them at a configurable
// speed multiplier. Bars for multiple symbols are merged into one stream
// ordered by timestamp, the way a live feed would interleave them.
type ReplaySource struct {
	store      model.CandleStore
	symbols    []string
	timeframes []string
	speed      float64 // 1.0 = real-time, 10.0 = 10x, 0 = as fast as possible
	after      time.Time
}

// NewReplaySource creates a replay over the stored raw candles of the given
// symbols. Bars at or before `after` are skipped (zero time = all).
func NewReplaySource(store model.CandleStore, symbols, timeframes []string, speed float64, after time.Time) *ReplaySource {
	return &ReplaySource{
		store:      store,
		symbols:    symbols,
		timeframes: timeframes,
		speed:      speed,
		after:      after,
	}
}

// Run implements BarSource.
func (r *ReplaySource) Run(ctx context.Context, out chan<- model.Bar) error {
	var all []model.Bar
	for _, sym := range r.symbols {
		for _, tf := range r.timeframes {
			bars, err := r.store.Bars(ctx, sym, tf, 0, false)
			if err != nil {
				return fmt.Errorf("replay load %s %s: %w", sym, tf, err)
			}
			for _, b := range bars {
				if !r.after.IsZero() && !b.TS.After(r.after) {
					continue
				}
				all = append(all, b)
			}
		}
	}

	if len(all) == 0 {
		log.Printf("[replay] no candles found for %v %v", r.symbols, r.timeframes)
		return nil
	}

	// Interleave symbols and timeframes by time; ties keep load order stable.
	sort.SliceStable(all, func(i, j int) bool { return all[i].TS.Before(all[j].TS) })

	log.Printf("[replay] loaded %d bars across %d symbols, speed=%.1fx", len(all), len(r.symbols), r.speed)

	var prevTS time.Time
	emitted := 0
	for _, b := range all {
		if r.speed > 0 && !prevTS.IsZero() {
			gap := b.TS.Sub(prevTS)
			if gap > 0 {
				scaled := time.Duration(float64(gap) / r.speed)
				// Cap the sleep so overnight gaps replay quickly.
				if scaled > 5*time.Second {
					scaled = 5 * time.Second
				}
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(scaled):
				}
			}
		}
		prevTS = b.TS

		select {
		case <-ctx.Done():
			log.Printf("[replay] cancelled after %d bars", emitted)
			return ctx.Err()
		case out <- b:
			emitted++
		}
	}

	log.Printf("[replay] completed: %d bars replayed", emitted)
	return nil
}
