// cmd/novad is the live paper-trading service: it logs into the broker,
// streams completed bars over websocket, runs the NovaV2 pipeline on them,
// executes signals against the paper ledger and fans events out to Redis,
// Telegram and the webhook.
package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"novatrading/config"
	"novatrading/internal/events"
	"novatrading/internal/feed"
	"novatrading/internal/ledger"
	"novatrading/internal/logger"
	"novatrading/internal/markethours"
	"novatrading/internal/metrics"
	"novatrading/internal/model"
	"novatrading/internal/notification"
	sqlitestore "novatrading/internal/store/sqlite"
	"novatrading/internal/strategy"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	logger.Init("novad", slog.LevelInfo)
	log.Println("[novad] starting...")

	cfg := config.Load()
	cfg.RequireBroker()
	symbols := cfg.ParseSymbols()
	if len(symbols) == 0 {
		log.Fatal("[novad] no symbols configured")
	}
	log.Printf("[novad] symbols: %v", symbols)
	log.Printf("[novad] %s", markethours.StatusString(time.Now()))

	// ---- Metrics & health ----
	prom := metrics.New(prometheus.DefaultRegisterer)
	health := metrics.NewHealthStatus()
	health.SetSymbols(symbols)
	metricsSrv := metrics.NewServer(cfg.MetricsAddr, health)
	metricsSrv.Start()

	// ---- Context & signals ----
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// ---- SQLite repository ----
	os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0o755)
	repo, err := sqlitestore.New(cfg.SQLitePath)
	if err != nil {
		log.Fatalf("[novad] sqlite init failed: %v", err)
	}
	defer repo.Close()
	health.CheckSQLite(ctx, repo.DB())

	for _, sym := range symbols {
		if _, err := repo.AddInstrument(ctx, model.Instrument{Symbol: sym, AssetType: "EQUITY"}); err != nil {
			log.Printf("[novad] instrument register %s: %v", sym, err)
		}
	}

	// ---- Strategy params (DB-persisted, env TFs win for this session) ----
	params, err := repo.Params(ctx, strategy.StrategyName)
	if err != nil {
		log.Fatalf("[novad] load params: %v", err)
	}
	params.PrimaryTF = cfg.PrimaryTF
	params.SecondaryTF = cfg.SecondaryTF
	if err := repo.SaveParams(ctx, strategy.StrategyName, params); err != nil {
		log.Printf("[novad] persist params: %v", err)
	}
	log.Printf("[novad] params: trend=%d atr=%d atr_sma=%d mult=%.2f offset=%d tf=%s/%s",
		params.TrendLength, params.ATRPeriod, params.ATRSMAPeriod,
		params.ATRMultiplier, params.TargetOffset, params.PrimaryTF, params.SecondaryTF)

	// ---- Event publishers (Redis behind a circuit breaker) ----
	publisher := events.Publisher(events.LogPublisher{})
	redisPub, err := events.NewRedisPublisher(events.RedisConfig{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	if err != nil {
		log.Printf("[novad] WARNING: redis init failed: %v (continuing without redis)", err)
	} else {
		cb := events.NewCircuitBreaker(5, 30*time.Second)
		cb.OnStateChange = func(_, to events.BreakerState) {
			prom.EventBreakerState.Set(float64(to))
			if to == events.BreakerOpen {
				prom.EventBreakerTrips.Inc()
			}
		}
		buffered := events.NewBufferedPublisher(redisPub, cb, 1000)
		buffered.OnBuffer = func() { prom.EventsBufferedTotal.Inc() }
		publisher = events.Multi{events.LogPublisher{}, buffered}
		health.CheckRedis(ctx, redisPub.Client())
		health.StartLivenessChecker(ctx, redisPub.Client(), repo.DB(), 10*time.Second)
	}
	if redisPub == nil {
		health.StartLivenessChecker(ctx, nil, repo.DB(), 10*time.Second)
	}
	defer publisher.Close()

	// ---- Notifiers ----
	notifiers := []notification.Notifier{notification.NewLogNotifier()}
	if cfg.TelegramBotToken != "" && cfg.TelegramChatID != "" {
		notifiers = append(notifiers, notification.NewTelegramNotifier(cfg.TelegramBotToken, cfg.TelegramChatID))
		log.Println("[novad] telegram alerts enabled")
	}
	if cfg.WebhookURL != "" {
		notifiers = append(notifiers, notification.NewWebhookNotifier(cfg.WebhookURL))
		log.Println("[novad] webhook alerts enabled")
	}
	dispatcher := notification.NewDispatcher(notifiers...)

	// Central event tee: every event goes to the bus and to the alert path.
	pubCh := make(chan model.Event, 256)
	alertCh := make(chan model.Event, 256)
	go events.Pump(ctx, publisher, pubCh)
	go dispatcher.Run(ctx, alertCh)
	emit := func(ev model.Event) {
		prom.EventsPublished.WithLabelValues(string(ev.Kind)).Inc()
		select {
		case pubCh <- ev:
		default:
		}
		select {
		case alertCh <- ev:
		default:
		}
	}

	// ---- Paper ledger (restore last session if snapshotted) ----
	led := ledger.New(cfg.StartingBalance, 256)
	led.AttachPersistence(repo, repo)
	if snap, err := repo.LatestAccountSnapshot(ctx); err != nil {
		log.Printf("[novad] load account snapshot: %v", err)
	} else if snap != nil {
		led.Restore(*snap)
		log.Printf("[novad] account restored: cash=%.2f positions=%d", snap.Cash, len(snap.Positions))
	}
	prom.CashBalance.Set(led.Cash())

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-led.Events():
				if !ok {
					return
				}
				emit(ev)
			}
		}
	}()

	// ---- Strategy engine, resumed from persisted signals ----
	var resume []strategy.DirectionState
	for _, sym := range symbols {
		st, err := strategy.RestoreDirection(ctx, repo, sym)
		if err != nil {
			log.Printf("[novad] restore direction %s: %v", sym, err)
			continue
		}
		resume = append(resume, st)
	}
	engine, err := strategy.NewEngine(params, false, resume, 256)
	if err != nil {
		log.Fatalf("[novad] engine init failed: %v", err)
	}
	engine.OnCompute = func(d time.Duration) { prom.ComputeDur.Observe(d.Seconds()) }
	engine.OnStale = func() { prom.StaleBars.Inc() }
	repo.OnCommit = func(d time.Duration) { prom.SQLiteCommitDur.Observe(d.Seconds()) }

	// ---- Broker session & live feed ----
	sess, err := feed.Login(ctx, feed.SessionConfig{
		APIKey:     cfg.BrokerAPIKey,
		ClientCode: cfg.BrokerClientCode,
		Password:   cfg.BrokerPassword,
		TOTPSecret: cfg.BrokerTOTPSecret,
	})
	if err != nil {
		log.Fatalf("[novad] broker login failed: %v", err)
	}
	defer sess.Logout(context.Background())

	rawBarCh := make(chan model.Bar, 5000)
	streamTFs := []string{params.PrimaryTF}
	if params.SecondaryTF != "" {
		streamTFs = append(streamTFs, params.SecondaryTF)
	}
	for _, tf := range streamTFs {
		src, err := feed.NewStreamSource(feed.StreamConfig{
			URL:       cfg.StreamURL,
			Session:   sess,
			Symbols:   symbols,
			Timeframe: tf,
		})
		if err != nil {
			log.Fatalf("[novad] stream init (%s) failed: %v", tf, err)
		}
		src.OnReconnect = func() { prom.FeedReconnects.Inc() }
		go func(tf string) {
			if err := src.Run(ctx, rawBarCh); err != nil && ctx.Err() == nil {
				log.Printf("[novad] %s stream stopped: %v", tf, err)
				health.SetFeedConnected(false)
			}
		}(tf)
	}
	health.SetFeedConnected(true)

	// ---- Fan out bars: SQLite writer, strategy engine, ledger ----
	fanout := feed.NewFanOut(5000)
	fanout.OnDrop = func(int) { prom.BarsDropped.Inc() }
	sqliteCh := fanout.Subscribe()
	strategyCh := fanout.Subscribe()
	ledgerCh := fanout.Subscribe()
	go fanout.Run(ctx, rawBarCh)

	go repo.RunBarWriter(ctx, sqliteCh, false)
	go engine.Run(ctx, strategyCh)

	// Ledger path: resolve open positions against every primary bar.
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case bar, ok := <-ledgerCh:
				if !ok {
					return
				}
				prom.BarsTotal.WithLabelValues(bar.Symbol, bar.Timeframe).Inc()
				health.SetLastBarTime(bar.TS)
				if bar.Timeframe != params.PrimaryTF {
					continue
				}
				trade, err := led.ProcessBar(ctx, bar.Symbol, bar)
				if err != nil {
					log.Printf("[novad] ledger %s: %v", bar.Symbol, err)
					continue
				}
				if trade != nil {
					prom.TradesTotal.WithLabelValues(string(trade.Reason)).Inc()
				}
				prom.CashBalance.Set(led.Cash())
				prom.RealizedPnL.Set(led.RealizedPnL())
				prom.OpenPositions.Set(float64(len(led.Snapshot().Positions)))
			}
		}
	}()

	// Signal path: persist, publish, open a paper position.
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case sig, ok := <-engine.Signals():
				if !ok {
					return
				}
				sigCtx := logger.WithTraceID(ctx, logger.GenerateTraceID(sig.Symbol, sig.TS))
				if err := repo.SaveSignal(sigCtx, &sig); err != nil {
					log.Printf("[novad] persist signal: %v", err)
				}
				prom.SignalsTotal.WithLabelValues(string(sig.Type)).Inc()
				prom.MTFAResults.WithLabelValues(string(sig.MTFA)).Inc()
				emit(model.NewSignalEvent(&sig))
				slog.Info("signal detected", append([]any{
					"symbol", sig.Symbol,
					"type", string(sig.Type),
					"entry", sig.Entry,
					"sl", sig.SL,
					"mtfa", string(sig.MTFA),
				}, logger.LogWithTrace(sigCtx)...)...)

				if !sig.Directional() {
					continue
				}
				if !markethours.IsMarketOpen(sig.TS) {
					log.Printf("[novad] %s %s outside trading hours, not traded", sig.Type, sig.Symbol)
					continue
				}
				if _, err := led.OpenPosition(sigCtx, &sig, cfg.OrderQty); err != nil {
					log.Printf("[novad] open %s %s: %v", sig.Type, sig.Symbol, err)
				}
			}
		}
	}()

	// Periodic account snapshots so a restart resumes mid-session.
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := repo.SaveAccountSnapshot(ctx, led.Snapshot()); err != nil {
					log.Printf("[novad] snapshot: %v", err)
				}
			}
		}
	}()

	log.Println("[novad] pipeline running")
	<-sigCh
	log.Println("[novad] shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := repo.SaveAccountSnapshot(shutdownCtx, led.Snapshot()); err != nil {
		log.Printf("[novad] final snapshot: %v", err)
	}
	metricsSrv.Stop(shutdownCtx)
	log.Println("[novad] bye")
}
