// Command supervisor is the primary single-process entrypoint: it wires
// every component (C1-C9) in dependency order, starts them, and handles
// graceful shutdown and SIGHUP-triggered alert-index reload.
//
// Grounded on the teacher's cmd/mdengine/main.go wiring shape (config
// load -> stores -> pipeline stages -> signal handling -> reverse-order
// shutdown).
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cryptoalertd/config"
	"cryptoalertd/internal/alertindex"
	"cryptoalertd/internal/backoff"
	"cryptoalertd/internal/candlefetcher"
	"cryptoalertd/internal/evaluator"
	"cryptoalertd/internal/gateway"
	"cryptoalertd/internal/logger"
	"cryptoalertd/internal/marketdata/exchange"
	"cryptoalertd/internal/metrics"
	"cryptoalertd/internal/model"
	"cryptoalertd/internal/notification"
	"cryptoalertd/internal/pricecache"
	redisstore "cryptoalertd/internal/store/redis"
	"cryptoalertd/internal/store/sqlite"
	"cryptoalertd/internal/syncbridge"
	"cryptoalertd/internal/trigger"
)

func main() {
	cfg := config.Load()

	level := slog.LevelInfo
	if cfg.LogLevel == "debug" {
		level = slog.LevelDebug
	}
	log := logger.Init("cryptoalertd", level)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := metrics.NewMetrics()
	health := metrics.NewHealthStatus()

	// C6/C8 durable store.
	store, err := sqlite.New(sqlite.Config{DBPath: cfg.SQLitePath}, log)
	if err != nil {
		log.Error("supervisor: open sqlite store failed", "err", err)
		os.Exit(1)
	}
	defer store.Close()

	// C2/C7/C8 shared pub/sub.
	rdb := redisstore.New(redisstore.Config{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}, log)
	defer rdb.Close()
	if err := rdb.Ping(ctx); err != nil {
		log.Warn("supervisor: redis ping failed at startup, continuing until circuit breaker trips", "err", err)
	}

	breaker := redisstore.NewCircuitBreaker(5, 10*time.Second)
	breaker.OnStateChange = func(from, to redisstore.State) {
		log.Warn("supervisor: redis circuit breaker transitioned", "from", from.String(), "to", to.String())
	}
	triggerStore := redisstore.NewBufferedTriggerWriter(store, breaker, log)
	defer triggerStore.Close()

	// C4 Alert Index. Cold-start rebuilt by the sync bridge's first Run call.
	index := alertindex.New(store, log)

	// C8 Alert Sync Bridge.
	bridge := syncbridge.New(index, rdb, log)

	// C3 Candle Fetcher.
	fetcher := candlefetcher.New(candlefetcher.Config{
		KlinesBaseURL:  cfg.KlinesBaseURL,
		RequestTimeout: cfg.CandleTimeout,
	}, log)

	// C6 Trigger Recorder.
	recorder := trigger.New(triggerStore, store, rdb, m, log)

	// C5 Condition Evaluator.
	engine := evaluator.New(evaluator.EngineConfig{
		Workers:                 cfg.EvaluatorWorkers,
		QueueSize:               cfg.EvaluatorQueueSize,
		FailClosedOnCandleError: cfg.FailClosedOnCandleError,
	}, index, fetcher, recorder, m, log)

	// C2 Price Cache: every accepted tick is mirrored to Redis (for the
	// gateway and any other subscriber) and fed in-process straight into
	// the evaluator, so a local evaluation never pays the round trip
	// through the shared pub/sub.
	cache := pricecache.New(rdb, log, func(tick model.PriceTick) {
		engine.Submit(tick)
	})

	// 24h-volume side channel (§4.5 Gate A): refreshed via REST at most
	// every 5s per symbol when the exchange's own tick omits volume.
	volRefresh := pricecache.NewVolumeSideChannel(cache, 5*time.Second, fetcher.Fetch24hVolume, log)

	// C1 Exchange Stream Client.
	client := exchange.New(exchange.Config{
		Endpoints:         cfg.ExchangeEndpoints,
		MaxStreamsPerConn: cfg.MaxStreamsPerConn,
		Backoff:           backoff.Default(),
		HeartbeatIdle:     cfg.ExchangeHeartbeatIdle,
		PongGrace:         cfg.ExchangePongGrace,
		DialTimeout:       cfg.ExchangeDialTimeout,
	}, log)
	client.OnTick = func(tick model.PriceTick) {
		m.PriceUpdatesReceived.Inc()
		health.SetExchangeWSConnected(true)
		health.SetLastTickTime(time.UnixMilli(tick.EventTimeMs))
		cache.Put(ctx, tick)
		if !tick.HasVolume {
			volRefresh.MaybeRefresh(ctx, tick.Symbol)
		}
	}
	client.OnReconnect = func(shardIdx int) {
		m.WSReconnectsTotal.Inc()
	}
	client.OnMalformed = func(raw []byte, err error) {
		log.Warn("supervisor: malformed exchange frame", "err", err)
	}

	// Notification channels: email goes over SMTP when an SMTP host is
	// configured and is only logged otherwise; chat is always logged
	// (no Telegram notifier is wired); the operational webhook is added
	// when a webhook URL is configured.
	var emailNotifier notification.Notifier
	if cfg.SMTPHost != "" {
		emailNotifier = notification.NewEmailNotifier(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUsername, cfg.SMTPPassword, cfg.SMTPFrom, "")
	} else {
		emailNotifier = notification.NewLogNotifier()
	}
	chatNotifier := notification.NewLogNotifier()
	dispatcher := notification.NewDispatcher(emailNotifier, chatNotifier, m, log)
	if cfg.WebhookURL != "" {
		dispatcher = dispatcher.WithWebhook(notification.NewWebhookNotifier(cfg.WebhookURL))
	}
	notifySub := notification.NewSubscriber(rdb, index, dispatcher, log)

	// C7 Dispatch Fabric.
	hub := gateway.NewHub(log, 500)
	gw := gateway.NewServer(hub, log)

	// C9 metrics/health HTTP server.
	metricsSrv := metrics.NewServer(cfg.MetricsAddr, health)
	metricsSrv.Start()

	health.StartLivenessChecker(ctx, rdb.Raw(), store.Raw(), 10*time.Second)

	gwHTTPSrv := &http.Server{Addr: cfg.GatewayAddr, Handler: gw.Mux()}
	go func() {
		log.Info("supervisor: gateway listening", "addr", cfg.GatewayAddr)
		if err := gwHTTPSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("supervisor: gateway server error", "err", err)
		}
	}()

	go func() {
		if err := bridge.Run(ctx); err != nil {
			log.Error("supervisor: sync bridge stopped", "err", err)
		}
	}()
	go engine.Run(ctx)
	go notifySub.Run(ctx)
	go gw.Run(ctx, rdb)
	client.Subscribe(ctx, cfg.ExchangeSymbols)

	go reloadOnSighup(ctx, bridge, log)
	go reportQueueDepth(ctx, m, engine, cache)

	<-ctx.Done()
	log.Info("supervisor: shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client.Close()
	gwHTTPSrv.Shutdown(shutdownCtx)
	metricsSrv.Stop(shutdownCtx)

	log.Info("supervisor: shutdown complete")
}

// reloadOnSighup re-scans the durable alert store on SIGHUP (§6.6)
// without dropping in-flight evaluator workers.
func reloadOnSighup(ctx context.Context, bridge *syncbridge.Bridge, log *slog.Logger) {
	sighup := make(chan os.Signal, 1)
	signal.Notify(sighup, syscall.SIGHUP)
	defer signal.Stop(sighup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-sighup:
			log.Info("supervisor: SIGHUP received, reloading alert index")
			if err := bridge.Reload(ctx); err != nil {
				log.Error("supervisor: reload failed, keeping previous index", "err", err)
			}
		}
	}
}

// reportQueueDepth periodically mirrors the evaluator's per-worker queue
// depth and the price cache's symbol count into the queue_depth/cache_size
// gauges named in §4.9.
func reportQueueDepth(ctx context.Context, m *metrics.Metrics, engine *evaluator.Engine, cache *pricecache.Cache) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			total := 0
			for _, d := range engine.QueueDepth() {
				total += d
			}
			m.QueueDepth.WithLabelValues("evaluator").Set(float64(total))
			m.CacheSize.Set(float64(cache.Size()))
		}
	}
}
