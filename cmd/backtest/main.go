// cmd/backtest replays stored candles from SQLite through the NovaV2
// pipeline and the paper ledger, then prints a run summary.
//
// Usage:
//
//	go run ./cmd/backtest --db=data/nova.db --symbols=SBIN,TCS --speed=0 --balance=100000
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"novatrading/internal/feed"
	"novatrading/internal/ledger"
	"novatrading/internal/model"
	sqlitestore "novatrading/internal/store/sqlite"
	"novatrading/internal/strategy"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)

	dbPath := flag.String("db", "data/nova.db", "Path to SQLite database")
	symbolsStr := flag.String("symbols", "SBIN", "Comma-separated symbols to replay")
	speed := flag.Float64("speed", 0, "Playback speed multiplier (0=max, 1=realtime, 100=100x)")
	fromTS := flag.Int64("from", 0, "Unix timestamp to start replay from (0=all)")
	balance := flag.Float64("balance", 100000, "Paper account starting balance")
	qty := flag.Float64("qty", 1, "Quantity per paper order")
	flag.Parse()

	symbols := parseSymbols(*symbolsStr)
	if len(symbols) == 0 {
		log.Fatal("[backtest] no valid symbols specified")
	}

	repo, err := sqlitestore.New(*dbPath)
	if err != nil {
		log.Fatalf("[backtest] sqlite open failed: %v", err)
	}
	defer repo.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	params, err := repo.Params(ctx, strategy.StrategyName)
	if err != nil {
		log.Fatalf("[backtest] load params: %v", err)
	}
	log.Printf("[backtest] params: trend=%d atr=%d atr_sma=%d mult=%.2f offset=%d tf=%s/%s",
		params.TrendLength, params.ATRPeriod, params.ATRSMAPeriod,
		params.ATRMultiplier, params.TargetOffset, params.PrimaryTF, params.SecondaryTF)

	engine, err := strategy.NewEngine(params, false, nil, 1024)
	if err != nil {
		log.Fatalf("[backtest] engine init failed: %v", err)
	}

	led := ledger.New(*balance, 1024)
	led.AttachPersistence(repo, repo)
	go drainEvents(ctx, led.Events())

	var after time.Time
	if *fromTS > 0 {
		after = time.Unix(*fromTS, 0).UTC()
	}
	timeframes := []string{params.PrimaryTF}
	if params.SecondaryTF != "" {
		timeframes = append(timeframes, params.SecondaryTF)
	}
	replay := feed.NewReplaySource(repo, symbols, timeframes, *speed, after)

	barCh := make(chan model.Bar, 10000)
	go func() {
		if err := replay.Run(ctx, barCh); err != nil && ctx.Err() == nil {
			log.Printf("[backtest] replay error: %v", err)
		}
		close(barCh)
	}()

	bars := 0
	signals := 0
	skipped := 0
	for bar := range barCh {
		bars++

		if bar.Timeframe == params.SecondaryTF && params.SecondaryTF != params.PrimaryTF {
			engine.OnHigherBar(bar)
			continue
		}
		if bar.Timeframe != params.PrimaryTF {
			continue
		}

		// Resolve positions opened on earlier bars before detecting on this one.
		if _, err := led.ProcessBar(ctx, bar.Symbol, bar); err != nil {
			log.Printf("[backtest] ledger %s: %v", bar.Symbol, err)
		}

		sig, err := engine.OnBar(bar)
		if err != nil {
			log.Printf("[backtest] detect %s: %v", bar.Symbol, err)
			continue
		}
		if sig == nil || !sig.Directional() {
			continue
		}
		signals++
		if err := repo.SaveSignal(ctx, sig); err != nil {
			log.Printf("[backtest] persist signal: %v", err)
		}
		if _, err := led.OpenPosition(ctx, sig, *qty); err != nil {
			skipped++
			log.Printf("[backtest] open %s %s @%.2f: %v", sig.Type, sig.Symbol, sig.Entry, err)
		}
	}

	printSummary(led, symbols, bars, signals, skipped, *balance)
}

func drainEvents(ctx context.Context, eventCh <-chan model.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-eventCh:
			if !ok {
				return
			}
		}
	}
}

func printSummary(led *ledger.Ledger, symbols []string, bars, signals, skipped int, balance float64) {
	trades := led.ClosedTrades()
	wins := 0
	byReason := map[model.CloseReason]int{}
	for _, tr := range trades {
		byReason[tr.Reason]++
		if tr.RealizedPnL > 0 {
			wins++
		}
	}
	winRate := 0.0
	if len(trades) > 0 {
		winRate = float64(wins) / float64(len(trades)) * 100
	}
	open := len(led.Snapshot().Positions)

	fmt.Println()
	fmt.Println("╔══════════════════════════════════════╗")
	fmt.Println("║         BACKTEST COMPLETE            ║")
	fmt.Println("╠══════════════════════════════════════╣")
	fmt.Printf("║  Symbols:          %-17s ║\n", strings.Join(symbols, ","))
	fmt.Printf("║  Bars replayed:    %-17d ║\n", bars)
	fmt.Printf("║  Signals:          %-17d ║\n", signals)
	fmt.Printf("║  Orders skipped:   %-17d ║\n", skipped)
	fmt.Printf("║  Trades closed:    %-17d ║\n", len(trades))
	fmt.Printf("║    SL hits:        %-17d ║\n", byReason[model.CloseSLHit])
	fmt.Printf("║    TP hits:        %-17d ║\n", byReason[model.CloseTPHit])
	fmt.Printf("║  Win rate:         %-16.1f%% ║\n", winRate)
	fmt.Printf("║  Still open:       %-17d ║\n", open)
	fmt.Printf("║  Starting balance: %-17.2f ║\n", balance)
	fmt.Printf("║  Final cash:       %-17.2f ║\n", led.Cash())
	fmt.Printf("║  Realized P&L:     %-17.2f ║\n", led.RealizedPnL())
	fmt.Println("╚══════════════════════════════════════╝")
}

func parseSymbols(s string) []string {
	var syms []string
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(strings.ToUpper(p))
		if p != "" {
			syms = append(syms, p)
		}
	}
	return syms
}
