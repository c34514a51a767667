// Command gateway runs the Dispatch Fabric (C7) alone: the WebSocket hub
// that fans the shared prices/alerts topics out to browser clients,
// split out from the supervisor so it can scale independently of the
// evaluation pipeline.
//
// Grounded on the teacher's cmd/api_gateway/main.go split-binary shape.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"cryptoalertd/config"
	"cryptoalertd/internal/gateway"
	"cryptoalertd/internal/logger"
	redisstore "cryptoalertd/internal/store/redis"
)

func main() {
	cfg := config.Load()

	level := slog.LevelInfo
	if cfg.LogLevel == "debug" {
		level = slog.LevelDebug
	}
	log := logger.Init("cryptoalertd-gateway", level)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rdb := redisstore.New(redisstore.Config{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}, log)
	defer rdb.Close()
	if err := rdb.Ping(ctx); err != nil {
		log.Warn("gateway: redis ping failed at startup", "err", err)
	}

	hub := gateway.NewHub(log, 500)
	srv := gateway.NewServer(hub, log)

	httpSrv := &http.Server{Addr: cfg.GatewayAddr, Handler: srv.Mux()}
	go func() {
		log.Info("gateway: listening", "addr", cfg.GatewayAddr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("gateway: server error", "err", err)
		}
	}()

	go srv.Run(ctx, rdb)

	<-ctx.Done()
	log.Info("gateway: shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	httpSrv.Shutdown(shutdownCtx)

	log.Info("gateway: shutdown complete")
}
