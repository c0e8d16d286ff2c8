package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"fvg-enginev1/config"
	"fvg-enginev1/internal/bus"
	"fvg-enginev1/internal/engine"
	"fvg-enginev1/internal/feed"
	"fvg-enginev1/internal/logger"
	"fvg-enginev1/internal/metrics"
	"fvg-enginev1/internal/model"
	"fvg-enginev1/internal/notification"
	"fvg-enginev1/internal/ringbuf"
	"fvg-enginev1/internal/stats"
	redisstore "fvg-enginev1/internal/store/redis"
	sqlitestore "fvg-enginev1/internal/store/sqlite"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	slg := logger.Init("fvgengine", slog.LevelInfo)

	// ---- Load config ----
	cfg := config.Load()
	symbols := cfg.ParseSymbols()
	enabledTFs := cfg.ParseTFs()
	if len(symbols) == 0 || len(enabledTFs) == 0 {
		log.Fatalf("[fvgengine] no symbols or TFs configured")
	}
	slg.Info("starting", "symbols", symbols, "tfs", enabledTFs, "window", cfg.WindowSize)

	// Split TFs into natively streamed vs locally aggregated.
	var nativeTFs, localTFs []int
	for _, tf := range enabledTFs {
		if feed.Interval(tf) != "" {
			nativeTFs = append(nativeTFs, tf)
		} else {
			localTFs = append(localTFs, tf)
		}
	}
	if len(localTFs) > 0 {
		log.Printf("[fvgengine] TFs %v have no native stream, aggregating from trades", localTFs)
	}

	// ---- Pipeline channels ----
	tickCh := make(chan feed.Tick, 10000)
	candleCh := make(chan model.Candle, 5000)
	eventCh := make(chan model.GapEvent, 5000)

	// ---- Metrics & health ----
	prom := metrics.NewMetrics()
	health := metrics.NewHealthStatus()
	health.SetEnabledTFs(enabledTFs)
	metricsSrv := metrics.NewServer(cfg.MetricsAddr, health)
	metricsSrv.Start()

	// ---- Graceful shutdown context ----
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// ---- SQLite writer (off hot path) ----
	os.MkdirAll("data", 0o755)
	sqlWriter, err := sqlitestore.New(sqlitestore.WriterConfig{DBPath: cfg.SQLitePath})
	if err != nil {
		log.Fatalf("[fvgengine] sqlite init failed: %v", err)
	}
	defer sqlWriter.Close()
	log.Println("[fvgengine] sqlite writer ready")

	// ---- Redis writer ----
	redisWriter, err := redisstore.New(redisstore.WriterConfig{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	if err != nil {
		log.Printf("[fvgengine] WARNING: redis init failed: %v (continuing without redis)", err)
		redisWriter = nil
	} else {
		redisWriter.OnWriteError = func() { prom.RedisWriteErrors.Inc() }
		redisWriter.Breaker().OnStateChange = func(from, to redisstore.State) {
			log.Printf("[fvgengine] redis breaker %s -> %s", from, to)
			prom.RedisBreakerState.Set(float64(to))
			if to == redisstore.StateOpen {
				prom.RedisBreakerTrips.Inc()
			}
		}
		log.Println("[fvgengine] redis writer ready")
	}

	// ---- Periodic liveness checks ----
	if redisWriter != nil {
		health.StartLivenessChecker(ctx, redisWriter.Client(), sqlWriter.DB(), 10*time.Second)
	} else {
		health.StartLivenessChecker(ctx, nil, sqlWriter.DB(), 10*time.Second)
	}

	// ---- Engine ----
	eng := engine.New(cfg.WindowSize, eventCh)
	eng.OnOutOfOrder = func(kind string) { prom.OutOfOrderTotal.WithLabelValues(kind).Inc() }
	eng.OnDuplicateGap = func() { prom.DuplicateGapTotal.Inc() }
	eng.OnCandleDur = func(d time.Duration) { prom.CandleProcessDur.Observe(d.Seconds()) }
	eng.OnObservationDur = func(d time.Duration) { prom.ObsProcessDur.Observe(d.Seconds()) }

	// ---- Backfill windows over REST ----
	backfiller := feed.NewBackfiller(cfg.BinanceREST)
	for _, sym := range symbols {
		for _, tf := range nativeTFs {
			candles, err := backfiller.Klines(ctx, sym, tf, cfg.BackfillLimit)
			if err != nil {
				log.Printf("[fvgengine] backfill %s %ds failed: %v (starting cold)", sym, tf, err)
				continue
			}
			for _, c := range candles {
				if err := eng.IngestCandle(c); err != nil {
					log.Printf("[fvgengine] backfill candle rejected: %v", err)
				}
			}
			_, active := eng.Registry().Counts(sym, tf)
			slg.Info("backfill done", "symbol", sym, "tf", tf, "candles", len(candles), "active_gaps", active)
		}
	}

	// ---- Event fan-out: Redis, SQLite, alerting, metrics ----
	fanout := bus.New(5000)
	fanout.OnDrop = func(subscriberIdx int) {
		prom.FanoutDropsTotal.WithLabelValues(strconv.Itoa(subscriberIdx)).Inc()
	}

	sqliteEvCh := fanout.Subscribe()
	alertEvCh := fanout.Subscribe()
	metricsEvCh := fanout.Subscribe()
	var redisEvCh <-chan model.GapEvent
	if redisWriter != nil {
		redisEvCh = fanout.Subscribe()
	}

	go fanout.Run(ctx, eventCh)
	go sqlWriter.Run(ctx, sqliteEvCh)
	if redisWriter != nil {
		go redisWriter.Run(ctx, redisEvCh)
	}

	// Lifecycle counters from the event stream.
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-metricsEvCh:
				if !ok {
					return
				}
				switch ev.Type {
				case model.EventGapDetected:
					prom.GapsDetectedTotal.WithLabelValues(string(ev.Gap.Direction)).Inc()
				case model.EventGapPartialMitig:
					prom.MitigationsTotal.WithLabelValues("partial").Inc()
				case model.EventGapFullMitig:
					prom.MitigationsTotal.WithLabelValues("full").Inc()
				}
			}
		}
	}()

	// ---- Alerting ----
	notifiers := []notification.Notifier{notification.NewLogNotifier()}
	if cfg.TelegramBotToken != "" && cfg.TelegramChatID != "" {
		notifiers = append(notifiers, notification.NewTelegramNotifier(cfg.TelegramBotToken, cfg.TelegramChatID))
	}
	if cfg.AlertWebhookURL != "" {
		notifiers = append(notifiers, notification.NewWebhookNotifier(cfg.AlertWebhookURL))
	}
	alerter := notification.NewAlerter(notifiers...)
	go alerter.Run(ctx, alertEvCh)

	// ---- Candle ingest (HOT PATH) ----
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case c, ok := <-candleCh:
				if !ok {
					return
				}
				prom.CandlesTotal.Inc()
				health.SetLastCandleTime(c.CloseTS)
				if err := eng.IngestCandle(c); err != nil {
					log.Printf("[fvgengine] candle %s ts=%v rejected: %v", c.Key(), c.TS, err)
				}
			}
		}
	}()

	// ---- Tick path: producer side pushes into the SPSC ring ----
	ring := ringbuf.New(16384)
	aggTickCh := make(chan feed.Tick, 10000)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case t, ok := <-tickCh:
				if !ok {
					return
				}
				prom.TicksTotal.Inc()
				for _, tf := range enabledTFs {
					ring.Push(model.TickObservation(t.Symbol, tf, t.Price, t.TS))
				}
				if len(localTFs) > 0 {
					select {
					case aggTickCh <- t:
					default:
						prom.DroppedTicks.Inc()
					}
				}
			}
		}
	}()

	// ---- Tick path: consumer side drains the ring into the engine ----
	go func() {
		for {
			if ctx.Err() != nil {
				return
			}
			o, ok := ring.Pop()
			if !ok {
				time.Sleep(time.Millisecond)
				continue
			}
			if err := eng.IngestObservation(o); err != nil && err != model.ErrOutOfOrder {
				log.Printf("[fvgengine] observation %s rejected: %v", o.Key(), err)
			}
		}
	}()

	// ---- Local TF aggregation for non-native TFs ----
	if len(localTFs) > 0 {
		aggregator := feed.NewAggregator(localTFs)
		aggregator.OnDroppedTick = func() { prom.DroppedTicks.Inc() }
		go aggregator.Run(ctx, aggTickCh, candleCh)
	}

	// ---- Live feed ----
	ingest := feed.NewIngest(feed.Config{
		WSBaseURL:       cfg.BinanceWSURL,
		Symbols:         symbols,
		TFs:             nativeTFs,
		SubscribeTrades: true,
	})
	ingest.OnReconnect = func() {
		prom.WSReconnects.Inc()
		health.SetWSConnected(false)
	}
	ingest.OnParseError = func() { prom.ParseErrors.Inc() }
	ingest.OnDroppedTick = func() { prom.DroppedTicks.Inc() }
	go func() {
		health.SetWSConnected(true)
		ingest.Run(ctx, candleCh, tickCh)
	}()

	// ---- Periodic exports: stats, snapshots, gauges ----
	go func() {
		statsTicker := time.NewTicker(time.Duration(cfg.StatsInterval) * time.Second)
		satTicker := time.NewTicker(5 * time.Second)
		defer statsTicker.Stop()
		defer satTicker.Stop()

		var lastOverflow uint64
		for {
			select {
			case <-ctx.Done():
				return

			case <-satTicker.C:
				for i, s := range fanout.ChannelStats() {
					if s.Cap > 0 {
						pct := float64(s.Len) / float64(s.Cap) * 100
						prom.ChannelSaturationPct.WithLabelValues("fanout_" + strconv.Itoa(i)).Set(pct)
					}
				}
				if cur := ring.Overflow(); cur > lastOverflow {
					prom.RingBufOverflow.Add(float64(cur - lastOverflow))
					lastOverflow = cur
				}

			case <-statsTicker.C:
				for _, sym := range symbols {
					for _, tf := range enabledTFs {
						_, active := eng.Registry().Counts(sym, tf)
						prom.ActiveGaps.WithLabelValues(sym, strconv.Itoa(tf)).Set(float64(active))

						if redisWriter == nil {
							continue
						}
						res := eng.Stats(sym, tf, stats.Filter{})
						if err := redisWriter.PublishStats(ctx, sym, tf, res); err != nil {
							log.Printf("[fvgengine] stats publish: %v", err)
						}
						if err := redisWriter.ExportSnapshot(ctx, sym, tf, eng.Snapshot(sym, tf)); err != nil {
							log.Printf("[fvgengine] snapshot export: %v", err)
						}
					}
				}
			}
		}
	}()

	slg.Info("pipeline ready",
		"native_tfs", nativeTFs,
		"local_tfs", localTFs,
		"metrics_addr", cfg.MetricsAddr,
	)

	// ---- Wait for shutdown signal ----
	<-sigCh
	slg.Info("shutdown signal received")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	metricsSrv.Stop(shutdownCtx)

	if redisWriter != nil {
		redisWriter.Close()
	}

	slg.Info("shutdown complete")
}
