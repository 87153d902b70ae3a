package sqlite

import (
	"context"
	"log"
	"time"

	"novatrading/internal/model"
)

const (
	defaultBatchSize  = 100
	defaultFlushDelay = 200 * time.Millisecond
)

// RunBarWriter reads bars from barCh and persists them in batched
// transactions. Flushes every defaultBatchSize bars OR every
// defaultFlushDelay, whichever comes first. Blocks until ctx is cancelled
// or barCh is closed; the pending batch is flushed on exit.
func (r *Repository) RunBarWriter(ctx context.Context, barCh <-chan model.Bar, heikinAshi bool) {
	batch := make([]model.Bar, 0, defaultBatchSize)
	timer := time.NewTimer(defaultFlushDelay)
	defer timer.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		start := time.Now()
		if err := r.SaveBars(context.Background(), batch, heikinAshi); err != nil {
			log.Printf("[sqlite] batch insert error: %v", err)
		} else {
			log.Printf("[sqlite] committed %d bars in %v", len(batch), time.Since(start))
		}
		if r.OnCommit != nil {
			r.OnCommit(time.Since(start))
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return

		case bar, ok := <-barCh:
			if !ok {
				flush()
				return
			}
			batch = append(batch, bar)
			if len(batch) >= defaultBatchSize {
				flush()
				timer.Reset(defaultFlushDelay)
			}

		case <-timer.C:
			flush()
			timer.Reset(defaultFlushDelay)
		}
	}
}
