// cmd/scan runs a one-shot NovaV2 scan over candles already stored in
// SQLite and prints the signals it finds. With --save the signals are also
// persisted to the signals table.
//
// Usage:
//
//	go run ./cmd/scan --db=data/nova.db --symbols=SBIN,TCS --save
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"strings"

	"novatrading/internal/heikinashi"
	"novatrading/internal/indicator"
	"novatrading/internal/model"
	sqlitestore "novatrading/internal/store/sqlite"
	"novatrading/internal/strategy"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	dbPath := flag.String("db", "data/nova.db", "Path to SQLite database")
	symbolsStr := flag.String("symbols", "", "Comma-separated symbols (default: all favorites)")
	save := flag.Bool("save", false, "Persist detected signals")
	resume := flag.Bool("resume", false, "Seed direction state from the last persisted signal")
	flag.Parse()

	repo, err := sqlitestore.New(*dbPath)
	if err != nil {
		log.Fatalf("[scan] sqlite open failed: %v", err)
	}
	defer repo.Close()

	ctx := context.Background()

	params, err := repo.Params(ctx, strategy.StrategyName)
	if err != nil {
		log.Fatalf("[scan] load params: %v", err)
	}
	detector, err := strategy.NewDetector(params, false)
	if err != nil {
		log.Fatalf("[scan] detector init failed: %v", err)
	}
	indEngine, err := indicator.NewEngine(params)
	if err != nil {
		log.Fatalf("[scan] indicator init failed: %v", err)
	}

	symbols := parseSymbols(*symbolsStr)
	if len(symbols) == 0 {
		insts, err := repo.Instruments(ctx, true)
		if err != nil {
			log.Fatalf("[scan] list instruments: %v", err)
		}
		for _, inst := range insts {
			symbols = append(symbols, inst.Symbol)
		}
	}
	if len(symbols) == 0 {
		log.Fatal("[scan] nothing to scan: no symbols given and no favorites stored")
	}

	total := 0
	for _, sym := range symbols {
		sigs, err := scanSymbol(ctx, repo, detector, indEngine, params, sym, *resume)
		if err != nil {
			log.Printf("[scan] %s: %v", sym, err)
			continue
		}
		for _, sig := range sigs {
			fmt.Printf("%s  %-6s %-4s entry=%.2f sl=%.2f tp=%.2f/%.2f/%.2f atr=%.2f mtfa=%s\n",
				sig.TS.Format("2006-01-02 15:04"), sig.Symbol, sig.Type,
				sig.Entry, sig.SL, sig.TP1, sig.TP2, sig.TP3, sig.ATR, sig.MTFA)
			if *save {
				if err := repo.SaveSignal(ctx, &sig); err != nil {
					log.Printf("[scan] persist signal: %v", err)
				}
			}
		}
		total += len(sigs)
	}
	fmt.Printf("\n%d signals across %d symbols\n", total, len(symbols))
}

func scanSymbol(
	ctx context.Context,
	repo *sqlitestore.Repository,
	detector *strategy.Detector,
	indEngine *indicator.Engine,
	params model.StrategyParams,
	symbol string,
	resume bool,
) ([]model.SignalRecord, error) {
	bars, err := repo.Bars(ctx, symbol, params.PrimaryTF, 0, false)
	if err != nil {
		return nil, err
	}
	if len(bars) < params.Warmup()+1 {
		return nil, fmt.Errorf("only %d bars stored, need %d to warm up", len(bars), params.Warmup()+1)
	}

	haBars, err := heikinashi.Transform(bars)
	if err != nil {
		return nil, err
	}
	frames := indEngine.Compute(haBars)

	first := -1
	for i := range frames {
		if frames[i].Defined {
			first = i
			break
		}
	}
	if first < 0 || first+1 >= len(frames) {
		return nil, fmt.Errorf("indicator never warmed up over %d bars", len(bars))
	}

	mtfaFrames, err := higherFrames(ctx, repo, indEngine, params, symbol)
	if err != nil {
		log.Printf("[scan] %s: higher-TF data unavailable: %v", symbol, err)
	}

	var state strategy.DirectionState
	if resume {
		state, err = strategy.RestoreDirection(ctx, repo, symbol)
		if err != nil {
			return nil, err
		}
	} else {
		state = strategy.DirectionState{Symbol: symbol}
	}

	sigs, _, err := detector.Detect(frames[first:], haBars[first:], mtfaFrames, state)
	return sigs, err
}

// higherFrames computes the MTFA series for a symbol, nil when the secondary
// timeframe is disabled or has no stored candles.
func higherFrames(
	ctx context.Context,
	repo *sqlitestore.Repository,
	indEngine *indicator.Engine,
	params model.StrategyParams,
	symbol string,
) ([]indicator.Frame, error) {
	if params.SecondaryTF == "" {
		return nil, nil
	}
	bars, err := repo.Bars(ctx, symbol, params.SecondaryTF, 0, false)
	if err != nil || len(bars) == 0 {
		return nil, err
	}
	ha, err := heikinashi.Transform(bars)
	if err != nil {
		return nil, err
	}
	return indEngine.Compute(ha), nil
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
